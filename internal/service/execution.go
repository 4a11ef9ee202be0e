// Package service contains the business layer that sits between the transport
// surfaces (HTTP, websocket, CLI, MCP) and the execution pathways.
//
// The handler decodes, the service validates and routes, the pathway runs:
//
//	Handler → ExecutionService → Registry → executor.Executor
//
// ExecutionService takes its collaborators as interfaces so tests can pass
// in-memory fakes for both the pathways and the journal.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/codetrace/internal/apperror"
	"github.com/sakif/codetrace/internal/metrics"
	"github.com/sakif/codetrace/internal/model"
	"github.com/sakif/codetrace/internal/repository"
)

const (
	DefaultMaxSourceBytes = 100000
	DefaultListLimit      = 20
	MaxListLimit          = 100
)

// ExecutionService validates requests, dispatches them by language and keeps
// the run journal.
type ExecutionService struct {
	registry       *Registry
	journal        repository.ExecutionRepository // nil disables the journal
	maxSourceBytes int
	logger         *slog.Logger
}

// NewExecutionService wires a service. journal may be nil (the CLI runs without one).
func NewExecutionService(registry *Registry, journal repository.ExecutionRepository, maxSourceBytes int, logger *slog.Logger) *ExecutionService {
	if maxSourceBytes <= 0 {
		maxSourceBytes = DefaultMaxSourceBytes
	}
	return &ExecutionService{
		registry:       registry,
		journal:        journal,
		maxSourceBytes: maxSourceBytes,
		logger:         logger,
	}
}

// Execute runs one request through its pathway.
//
// Validation, parse and configuration problems come back as errors with a nil
// result, except a parse error from the JS instrumenter, which is returned
// alongside a failed result holding the single error event so callers can
// point at the line. Runtime failures come back as a result with Failed set.
func (s *ExecutionService) Execute(ctx context.Context, req model.ExecutionRequest) (*model.ExecutionResult, error) {
	var missing []string
	if strings.TrimSpace(string(req.Language)) == "" {
		missing = append(missing, "language")
	}
	if strings.TrimSpace(req.Source) == "" {
		missing = append(missing, "source")
	}
	if len(missing) > 0 {
		verb := "is"
		if len(missing) > 1 {
			verb = "are"
		}
		return nil, apperror.ValidationFailed(missing[0],
			fmt.Sprintf("%s %s required", strings.Join(missing, ", "), verb))
	}

	lang, exec, err := s.registry.Get(string(req.Language))
	if err != nil {
		metrics.ExecutionsTotal.WithLabelValues("unknown", "rejected").Inc()
		return nil, err
	}
	if len(req.Source) > s.maxSourceBytes {
		metrics.ExecutionsTotal.WithLabelValues(string(lang), "rejected").Inc()
		return nil, apperror.ValidationFailed("source",
			fmt.Sprintf("source must be %d bytes or less", s.maxSourceBytes))
	}
	req.Language = lang

	s.logger.Debug("execution started",
		slog.String("language", string(lang)),
		slog.Int("source_bytes", len(req.Source)),
	)

	start := time.Now()
	result, err := exec.Execute(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		var ae *apperror.AppError
		if errors.Is(err, apperror.ErrParse) && errors.As(err, &ae) {
			result = &model.ExecutionResult{
				Events:  []model.TraceEvent{model.ErrorEvent(ae.Line, ae.Message)},
				Failed:  true,
				Message: ae.Message,
			}
		}
		metrics.ExecutionsTotal.WithLabelValues(string(lang), "rejected").Inc()
		s.logger.Info("execution rejected",
			slog.String("language", string(lang)),
			slog.String("error", err.Error()),
		)
		return result, err
	}

	if result.DurationMs == 0 {
		result.DurationMs = elapsed.Milliseconds()
	}
	if result.Events == nil {
		result.Events = []model.TraceEvent{}
	}

	status := "ok"
	if result.Failed {
		status = "failed"
	}
	metrics.ExecutionsTotal.WithLabelValues(string(lang), status).Inc()
	metrics.ExecutionDuration.WithLabelValues(string(lang)).Observe(float64(result.DurationMs))
	metrics.TraceEvents.WithLabelValues(string(lang)).Observe(float64(len(result.Events)))

	s.logger.Info("execution finished",
		slog.String("language", string(lang)),
		slog.Int64("duration_ms", result.DurationMs),
		slog.Int("events", len(result.Events)),
		slog.Bool("failed", result.Failed),
	)

	s.record(ctx, lang, req, result)
	return result, nil
}

// record writes the journal entry. A journal failure never fails the run.
func (s *ExecutionService) record(ctx context.Context, lang model.Language, req model.ExecutionRequest, result *model.ExecutionResult) {
	if s.journal == nil {
		return
	}
	entry := &model.Execution{
		RequestID:   chimw.GetReqID(ctx),
		Language:    lang,
		Failed:      result.Failed,
		Message:     result.Message,
		EventCount:  len(result.Events),
		SourceBytes: len(req.Source),
		DurationMs:  result.DurationMs,
	}
	// Record even when the client has already gone away.
	if err := s.journal.Create(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Error("failed to record execution",
			slog.String("language", string(lang)),
			slog.String("error", err.Error()),
		)
	}
}

// ListExecutions returns journal entries newest first. lang may be empty or an alias.
func (s *ExecutionService) ListExecutions(ctx context.Context, lang string, limit, offset int) ([]model.Execution, error) {
	if s.journal == nil {
		return []model.Execution{}, nil
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	opts := repository.ListOptions{Limit: limit, Offset: offset}
	if lang = strings.TrimSpace(lang); lang != "" {
		resolved, _, err := s.registry.Get(lang)
		if err != nil {
			return nil, err
		}
		opts.Language = resolved
	}

	execs, err := s.journal.List(ctx, opts)
	if err != nil {
		s.logger.Error("failed to list executions", slog.String("error", err.Error()))
		return nil, fmt.Errorf("listing executions: %w", err)
	}
	return execs, nil
}

// GetExecution returns one journal entry or an apperror.ErrNotFound error.
func (s *ExecutionService) GetExecution(ctx context.Context, id string) (*model.Execution, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "execution ID is required")
	}
	if s.journal == nil {
		return nil, apperror.NotFound("execution", id)
	}
	return s.journal.GetByID(ctx, id)
}

// Languages lists what the registry can run.
func (s *ExecutionService) Languages() []model.Language {
	return s.registry.List()
}
