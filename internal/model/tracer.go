package model

// Tracer status values reported by the Python helper.
const (
	TracerStatusOK    = "ok"
	TracerStatusError = "error"
)

// TracerOutput is the single JSON document the Python tracing helper prints to stdout.
type TracerOutput struct {
	Status string        `json:"status"`
	Traces []TracerEntry `json:"traces"`
	Stdout string        `json:"stdout"`
	Error  string        `json:"error,omitempty"`
}

// TracerEntry is one raw trace record from the helper.
// Event is one of "call", "line" or "return".
type TracerEntry struct {
	Event  string   `json:"event"`
	Line   int      `json:"line"`
	Func   string   `json:"func,omitempty"`
	Stack  []string `json:"stack,omitempty"`
	Locals *Locals  `json:"locals,omitempty"`
	Return string   `json:"return,omitempty"`
}

// ToEvent normalizes a helper record into a step event.
func (e TracerEntry) ToEvent() TraceEvent {
	ev := StepEvent(e.Line, e.Locals)
	ev.Phase = e.Event
	ev.Function = e.Func
	ev.Stack = e.Stack
	ev.Return = e.Return
	if ev.Locals == nil && e.Event != "return" {
		ev.Locals = NewLocals()
	}
	return ev
}

// Events converts all helper records, preserving their order.
func (o *TracerOutput) Events() []TraceEvent {
	events := make([]TraceEvent, 0, len(o.Traces)+1)
	for _, t := range o.Traces {
		events = append(events, t.ToEvent())
	}
	return events
}
