// Package model defines the data structures shared by both execution pathways.
//
// The JavaScript runner and the Python tracer bridge speak very different native
// dialects, but both are normalized into the same TraceEvent / ExecutionResult shape
// here, so callers (HTTP, websocket, CLI, MCP) never need to special-case by language.
package model

import (
	"encoding/json"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// EventKind identifies what a TraceEvent records.
type EventKind string

const (
	// KindStep is recorded every time an observation point is reached.
	KindStep EventKind = "step"
	// KindLog is recorded for every call to the program's output function.
	KindLog EventKind = "log"
	// KindError is recorded once, when the run ends with an exception or a timeout.
	KindError EventKind = "error"
)

// Locals is an insertion-ordered snapshot of variable names to JSON-encoded values.
//
// Order matters to the visualizer: variables appear in the order they were first bound,
// so an ordered map is used instead of a plain Go map (whose iteration order is random).
type Locals = orderedmap.OrderedMap[string, json.RawMessage]

// NewLocals returns an empty snapshot.
func NewLocals() *Locals {
	return orderedmap.New[string, json.RawMessage]()
}

// TraceEvent is one entry of an execution trace, in runtime order.
//
// Which fields are present depends on Kind:
//   - step:  Line, Locals (+ Function/Phase/Stack/Return from the Python tracer)
//   - log:   Value
//   - error: Line (when known), Message
type TraceEvent struct {
	Kind    EventKind `json:"kind"`
	Line    int       `json:"line,omitempty"`
	Locals  *Locals   `json:"locals,omitempty"`
	Value   string    `json:"value,omitempty"`
	Message string    `json:"message,omitempty"`

	Function string   `json:"function,omitempty"`
	Phase    string   `json:"phase,omitempty"`
	Stack    []string `json:"stack,omitempty"`
	Return   string   `json:"return,omitempty"`
}

// StepEvent builds a step event for line with the given snapshot.
func StepEvent(line int, locals *Locals) TraceEvent {
	return TraceEvent{Kind: KindStep, Line: line, Locals: locals}
}

// LogEvent builds a log event carrying one line of program output.
func LogEvent(value string) TraceEvent {
	return TraceEvent{Kind: KindLog, Value: value}
}

// MarshalJSON keeps value on log events even when the output line is empty.
func (e TraceEvent) MarshalJSON() ([]byte, error) {
	type plain TraceEvent
	if e.Kind != KindLog {
		return json.Marshal(plain(e))
	}
	return json.Marshal(struct {
		plain
		Value string `json:"value"`
	}{plain(e), e.Value})
}

// ErrorEvent builds the terminal error event. line may be 0 when unknown.
func ErrorEvent(line int, message string) TraceEvent {
	return TraceEvent{Kind: KindError, Line: line, Message: message}
}

// LastLine returns the line of the most recent event that carries one, or 0.
func LastLine(events []TraceEvent) int {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Line > 0 {
			return events[i].Line
		}
	}
	return 0
}

// CountKind returns how many events of kind k are in events.
func CountKind(events []TraceEvent, k EventKind) int {
	n := 0
	for _, e := range events {
		if e.Kind == k {
			n++
		}
	}
	return n
}
