package python

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// Job is one invocation of the tracing helper.
type Job struct {
	// Interpreter is the resolved interpreter path. Empty for backends that bring their own.
	Interpreter string
	// Helper is the path of the tracing helper on the host.
	Helper string
	// File is the materialized source file on the host.
	File string
	// Source is the same program text, for backends that cannot see the host filesystem.
	Source []byte
}

// Output is what the helper process produced.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner starts the helper and waits for it. It must stop when ctx is done and
// report that through a non-nil error.
type Runner interface {
	Run(ctx context.Context, job Job) (*Output, error)
}

// LocalRunner runs `<interpreter> <helper> <file>` as a child process.
type LocalRunner struct{}

var _ Runner = LocalRunner{}

func (LocalRunner) Run(ctx context.Context, job Job) (*Output, error) {
	if job.Interpreter == "" {
		return nil, errors.New("python: no interpreter for local runner")
	}

	cmd := exec.CommandContext(ctx, job.Interpreter, job.Helper, job.File)
	// Once the context kills the interpreter, do not wait forever on
	// grandchildren still holding stdout open.
	cmd.WaitDelay = 500 * time.Millisecond

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := &Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		return out, fmt.Errorf("python: starting interpreter: %w", err)
	}
	return out, nil
}
