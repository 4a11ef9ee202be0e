// Package executor defines the contract every execution pathway implements.
package executor

import (
	"context"

	"github.com/sakif/codetrace/internal/model"
)

// Executor runs one submission and returns its trace.
//
// Failures inside the user's program (exceptions, timeouts) and infrastructure failures
// after the run has started are folded into a result with Failed set. A non-nil error
// means nothing was run: the source could not be parsed or the pathway is misconfigured.
type Executor interface {
	Execute(ctx context.Context, req model.ExecutionRequest) (*model.ExecutionResult, error)
}

// Observer receives events as they are appended, in order. Implementations must
// not block for long: they run on the execution's own goroutine.
type Observer func(model.TraceEvent)

type observerKey struct{}

// WithObserver returns a context that carries obs to the pathway handling the request.
func WithObserver(ctx context.Context, obs Observer) context.Context {
	return context.WithValue(ctx, observerKey{}, obs)
}

// ObserverFrom returns the Observer stored in ctx, or nil.
func ObserverFrom(ctx context.Context) Observer {
	obs, _ := ctx.Value(observerKey{}).(Observer)
	return obs
}
