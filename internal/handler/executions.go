package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/codetrace/internal/apperror"
	"github.com/sakif/codetrace/internal/model"
)

// Journal is the read side of the execution service.
type Journal interface {
	ListExecutions(ctx context.Context, lang string, limit, offset int) ([]model.Execution, error)
	GetExecution(ctx context.Context, id string) (*model.Execution, error)
	Languages() []model.Language
}

// ExecutionsHandler serves the run journal and the language list.
type ExecutionsHandler struct {
	journal Journal
	logger  *slog.Logger
}

func NewExecutionsHandler(journal Journal, logger *slog.Logger) *ExecutionsHandler {
	return &ExecutionsHandler{journal: journal, logger: logger}
}

// List handles GET /api/executions?limit=&offset=&language=
func (h *ExecutionsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := queryInt(q.Get("limit"), "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(q.Get("offset"), "offset")
	if err != nil {
		writeError(w, err)
		return
	}

	execs, err := h.journal.ListExecutions(r.Context(), q.Get("language"), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, execs)
}

// Get handles GET /api/executions/{id}
func (h *ExecutionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	exec, err := h.journal.GetExecution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// Languages handles GET /api/languages
func (h *ExecutionsHandler) Languages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]model.Language{
		"languages": h.journal.Languages(),
	})
}

// queryInt parses an optional integer query parameter; empty means 0.
func queryInt(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperror.ValidationFailed(name, name+" must be an integer")
	}
	return n, nil
}
