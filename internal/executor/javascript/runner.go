// Package javascript is the in-process execution pathway: submitted source is
// instrumented, then run in a fresh goja runtime whose only namespace for user
// bindings is a Go-backed Sandbox.
package javascript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/sakif/codetrace/internal/executor"
	"github.com/sakif/codetrace/internal/model"
)

// scriptName is the file name the instrumented program is compiled under.
const scriptName = "main.js"

// Config controls the JavaScript pathway.
type Config struct {
	// Timeout is the wall-clock budget for one run.
	Timeout time.Duration
	// MaxEvents caps the number of trace events a run may produce.
	MaxEvents int
	// MaxCallStack caps the interpreter call depth.
	MaxCallStack int
}

// DefaultConfig returns the limits used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Timeout:      time.Second,
		MaxEvents:    10000,
		MaxCallStack: 1024,
	}
}

var errEventLimit = errors.New("event limit exceeded")

// Runner implements executor.Executor for JavaScript.
type Runner struct {
	config Config
	logger *slog.Logger
}

var _ executor.Executor = (*Runner)(nil)

// NewRunner creates a Runner. Zero fields in cfg fall back to DefaultConfig.
func NewRunner(cfg Config, logger *slog.Logger) *Runner {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = def.MaxEvents
	}
	if cfg.MaxCallStack <= 0 {
		cfg.MaxCallStack = def.MaxCallStack
	}
	return &Runner{config: cfg, logger: logger}
}

// run holds the state of a single execution. Nothing in it outlives Execute.
type run struct {
	rt      *goja.Runtime
	sandbox *Sandbox
	events  []model.TraceEvent
	max     int
	observe executor.Observer
}

func (r *run) append(ev model.TraceEvent) {
	if len(r.events) >= r.max {
		r.rt.Interrupt(errEventLimit)
		return
	}
	r.events = append(r.events, ev)
	if r.observe != nil {
		r.observe(ev)
	}
}

// Execute instruments req.Source and runs it.
//
// A ParseError is returned before any runtime exists. Everything that goes wrong
// after that (exceptions, timeout, cancellation, event limit) ends up as a trailing
// error event in a failed result.
func (r *Runner) Execute(ctx context.Context, req model.ExecutionRequest) (*model.ExecutionResult, error) {
	prog, err := Instrument(req.Source)
	if err != nil {
		return nil, err
	}

	compiled, err := goja.Compile(scriptName, prog.Source, false)
	if err != nil {
		// Instrument already parsed the same text; reaching this is a bug in the rewrite.
		return nil, fmt.Errorf("javascript: compiling instrumented source: %w", err)
	}

	start := time.Now()
	st := r.newRun(prog, executor.ObserverFrom(ctx))

	timer := time.AfterFunc(r.config.Timeout, func() {
		st.rt.Interrupt(errTimeout(r.config.Timeout))
	})
	defer timer.Stop()

	stop := context.AfterFunc(ctx, func() {
		st.rt.Interrupt(ctx.Err())
	})
	defer stop()

	_, runErr := st.rt.RunProgram(compiled)

	result := &model.ExecutionResult{DurationMs: time.Since(start).Milliseconds()}
	if runErr != nil {
		msg, line := describe(runErr)
		if line == 0 {
			line = model.LastLine(st.events)
		}
		// The error event is appended directly: it must survive the event cap.
		ev := model.ErrorEvent(line, msg)
		st.events = append(st.events, ev)
		if st.observe != nil {
			st.observe(ev)
		}
		result.Failed = true
		result.Message = msg
		r.logger.Debug("javascript run failed",
			slog.String("message", msg),
			slog.Int("events", len(st.events)),
		)
	}
	result.Events = st.events
	if result.Events == nil {
		result.Events = []model.TraceEvent{}
	}
	return result, nil
}

func (r *Runner) newRun(prog *Instrumented, obs executor.Observer) *run {
	st := &run{
		rt:      goja.New(),
		sandbox: NewSandbox(prog.Bindings),
		max:     r.config.MaxEvents,
		observe: obs,
	}
	st.rt.SetMaxCallStackSize(r.config.MaxCallStack)

	logFn := func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = formatLogArg(arg)
		}
		st.append(model.LogEvent(strings.Join(parts, " ")))
		return goja.Undefined()
	}

	console := st.rt.NewObject()
	_ = console.Set("log", logFn)

	_ = st.rt.Set(SandboxName, st.rt.NewDynamicObject(st.sandbox))
	_ = st.rt.Set("console", console)
	_ = st.rt.Set("log", logFn)
	_ = st.rt.Set(TraceFunc, func(call goja.FunctionCall) goja.Value {
		st.append(model.StepEvent(int(call.Argument(0).ToInteger()), st.sandbox.Snapshot()))
		return goja.Undefined()
	})
	return st
}

// scriptFrame matches a stack frame in the submitted program, e.g.
// "at f (main.js:3:9(12))" or "at main.js:1:1(0)".
var scriptFrame = regexp.MustCompile(regexp.QuoteMeta(scriptName) + `:(\d+):\d+\(`)

// stackLine returns the line of the innermost program frame in a goja stack
// trace, skipping native frames, or 0 when there is none.
func stackLine(stack string) int {
	m := scriptFrame.FindStringSubmatch(stack)
	if m == nil {
		return 0
	}
	line, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return line
}

type timeoutError struct {
	after time.Duration
}

func errTimeout(d time.Duration) error { return &timeoutError{after: d} }

func (e *timeoutError) Error() string {
	return fmt.Sprintf("Script execution timed out after %s", e.after)
}

// describe turns a goja failure into the message shown to users and, when the
// runtime knows it, the source line where it happened.
func describe(err error) (string, int) {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		switch v := interrupted.Value().(type) {
		case *timeoutError:
			return v.Error(), 0
		case error:
			if errors.Is(v, context.Canceled) {
				return "Script execution cancelled", 0
			}
			if errors.Is(v, context.DeadlineExceeded) {
				return "Script execution timed out", 0
			}
			return v.Error(), 0
		}
		return fmt.Sprint(interrupted.Value()), 0
	}

	var exc *goja.Exception
	if errors.As(err, &exc) {
		line := stackLine(exc.String())
		if v := exc.Value(); v != nil {
			return v.String(), line
		}
		return exc.Error(), line
	}
	return err.Error(), 0
}
