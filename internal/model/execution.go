package model

import (
	"encoding/json"
	"time"
)

// Language is the declared language of a submission.
type Language string

const (
	JavaScript Language = "javascript"
	Python     Language = "python"
)

// ExecutionRequest is what a caller submits. It lives for one request only.
type ExecutionRequest struct {
	Language Language `json:"language"`
	Source   string   `json:"source"`
}

// UnmarshalJSON accepts the older {"language","code"} body as well as {"language","source"}.
// When both are present, source wins.
func (r *ExecutionRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		Language Language `json:"language"`
		Source   string   `json:"source"`
		Code     string   `json:"code"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Language = raw.Language
	r.Source = raw.Source
	if r.Source == "" {
		r.Source = raw.Code
	}
	return nil
}

// ExecutionResult is the aggregate returned for every run, whichever pathway handled it.
//
// When Failed is true, Events may stop short at the point of failure, but they are
// always returned: partial progress is what lets a user see where things went wrong.
type ExecutionResult struct {
	Events     []TraceEvent `json:"events"`
	Output     string       `json:"output,omitempty"`
	Failed     bool         `json:"failed"`
	Message    string       `json:"message,omitempty"`
	DurationMs int64        `json:"durationMs"`
}

// Execution is the journal summary of one run. It deliberately carries no source
// text and no events, only what operators need to see how the service is used.
type Execution struct {
	ID          string    `json:"id"`
	RequestID   string    `json:"requestId,omitempty"`
	Language    Language  `json:"language"`
	Failed      bool      `json:"failed"`
	Message     string    `json:"message,omitempty"`
	EventCount  int       `json:"eventCount"`
	SourceBytes int       `json:"sourceBytes"`
	DurationMs  int64     `json:"durationMs"`
	CreatedAt   time.Time `json:"createdAt"`
}
