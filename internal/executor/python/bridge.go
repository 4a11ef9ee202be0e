// Package python is the out-of-process execution pathway. Source is written to a
// uniquely named file in a scratch directory and run by an external interpreter
// under a line-tracing helper; the helper's JSON report is normalized into the
// shared event model.
package python

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/codetrace/internal/apperror"
	"github.com/sakif/codetrace/internal/executor"
	"github.com/sakif/codetrace/internal/metrics"
	"github.com/sakif/codetrace/internal/model"
)

// HelperSource is the tracing helper shipped with the binary.
//
//go:embed tracer.py
var HelperSource []byte

const helperFileName = "codetrace_tracer.py"

// Config controls the Python pathway.
type Config struct {
	// Timeout bounds one helper invocation, interpreter start-up included.
	Timeout time.Duration
	// ScratchDir holds per-request source files. Created if missing.
	ScratchDir string
	// HelperPath points at an external helper. Empty means the embedded one,
	// written once into ScratchDir.
	HelperPath string
}

// DefaultConfig returns the defaults used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Timeout:    5 * time.Second,
		ScratchDir: "temp",
	}
}

// Bridge implements executor.Executor for Python.
type Bridge struct {
	config   Config
	runner   Runner
	resolver *Resolver
	logger   *slog.Logger

	helperOnce sync.Once
	helperPath string
	helperErr  error
}

var _ executor.Executor = (*Bridge)(nil)

// New creates a Bridge. resolver may be nil for runners that supply their own
// interpreter (the Docker backend).
func New(cfg Config, runner Runner, resolver *Resolver, logger *slog.Logger) *Bridge {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = def.ScratchDir
	}
	if runner == nil {
		runner = LocalRunner{}
	}
	return &Bridge{
		config:   cfg,
		runner:   runner,
		resolver: resolver,
		logger:   logger,
	}
}

// Execute runs req.Source under the tracing helper.
//
// A missing interpreter is returned as an apperror.ErrConfig error before anything
// touches the filesystem. Every later failure is folded into a failed result.
func (b *Bridge) Execute(ctx context.Context, req model.ExecutionRequest) (*model.ExecutionResult, error) {
	var interpreter string
	if b.resolver != nil {
		var err error
		interpreter, err = b.resolver.Resolve(ctx)
		if err != nil {
			return nil, err
		}
	}

	start := time.Now()
	result := b.execute(ctx, interpreter, req.Source)
	result.DurationMs = time.Since(start).Milliseconds()
	if result.Events == nil {
		result.Events = []model.TraceEvent{}
	}
	if obs := executor.ObserverFrom(ctx); obs != nil {
		for _, ev := range result.Events {
			obs(ev)
		}
	}
	return result, nil
}

func (b *Bridge) execute(ctx context.Context, interpreter, source string) *model.ExecutionResult {
	if err := os.MkdirAll(b.config.ScratchDir, 0o755); err != nil {
		return b.infraFailure("could not prepare scratch directory", err)
	}

	helper, err := b.helper()
	if err != nil {
		return b.infraFailure("could not prepare python tracer", err)
	}

	file, err := b.writeSource(source)
	if err != nil {
		return b.infraFailure("could not write source file", err)
	}
	defer b.remove(file)

	runCtx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	out, err := b.runner.Run(runCtx, Job{
		Interpreter: interpreter,
		Helper:      helper,
		File:        file,
		Source:      []byte(source),
	})
	switch {
	case ctx.Err() != nil:
		return failure(apperror.ExecutionFailed("Python execution cancelled"))
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return failure(apperror.ExecutionFailed(
			fmt.Sprintf("Python execution timed out after %s", b.config.Timeout)))
	case err != nil:
		return b.infraFailure("failed to run python tracer", err)
	case out.ExitCode != 0:
		b.logger.Warn("python tracer exited abnormally",
			slog.Int("exit_code", out.ExitCode),
			slog.String("stderr", firstLine(out.Stderr)),
		)
		return failure(apperror.InfrastructureFailed(
			fmt.Sprintf("python tracer exited with code %d", out.ExitCode), nil))
	}

	var doc model.TracerOutput
	if err := json.Unmarshal(bytes.TrimSpace(out.Stdout), &doc); err != nil {
		return b.infraFailure("could not parse python tracer output", err)
	}

	switch doc.Status {
	case model.TracerStatusOK:
		return &model.ExecutionResult{Events: doc.Events(), Output: doc.Stdout}
	case model.TracerStatusError:
		events := doc.Events()
		events = append(events, model.ErrorEvent(model.LastLine(events), doc.Error))
		return &model.ExecutionResult{
			Events:  events,
			Output:  doc.Stdout,
			Failed:  true,
			Message: doc.Error,
		}
	default:
		return b.infraFailure("could not parse python tracer output",
			fmt.Errorf("unknown status %q", doc.Status))
	}
}

// helper returns the path of the tracing helper, materializing the embedded
// copy on first use.
func (b *Bridge) helper() (string, error) {
	if b.config.HelperPath != "" {
		return b.config.HelperPath, nil
	}
	b.helperOnce.Do(func() {
		path := filepath.Join(b.config.ScratchDir, helperFileName)
		tmp := path + "." + uuid.NewString()
		if err := os.WriteFile(tmp, HelperSource, 0o644); err != nil {
			b.helperErr = fmt.Errorf("python: writing helper: %w", err)
			return
		}
		if err := os.Rename(tmp, path); err != nil {
			os.Remove(tmp)
			b.helperErr = fmt.Errorf("python: installing helper: %w", err)
			return
		}
		b.helperPath = path
	})
	return b.helperPath, b.helperErr
}

// writeSource creates <scratch>/<uuid>.py. O_EXCL makes a name collision an
// error instead of a silent overwrite of another request's file.
func (b *Bridge) writeSource(source string) (string, error) {
	path := filepath.Join(b.config.ScratchDir, uuid.NewString()+".py")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("python: creating %s: %w", path, err)
	}
	if _, err := f.WriteString(source); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("python: writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("python: closing %s: %w", path, err)
	}
	return path, nil
}

func (b *Bridge) remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		metrics.TempFileCleanupFailures.Inc()
		b.logger.Error("failed to remove temp source file",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

func (b *Bridge) infraFailure(msg string, cause error) *model.ExecutionResult {
	b.logger.Error(msg, slog.String("error", cause.Error()))
	return failure(apperror.InfrastructureFailed(msg, cause))
}

// failure folds an execution or infrastructure error into a result. No events:
// nothing the helper produced can be trusted.
func failure(err *apperror.AppError) *model.ExecutionResult {
	return &model.ExecutionResult{
		Events:  []model.TraceEvent{},
		Failed:  true,
		Message: err.Message,
	}
}

func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
