package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/codetrace/internal/apperror"
	"github.com/sakif/codetrace/internal/executor"
	"github.com/sakif/codetrace/internal/model"
)

// maxBodyBytes bounds a request body before it is decoded. The service applies
// the real source size limit.
const maxBodyBytes = 1 << 20

// ExecuteHandler handles code execution requests.
type ExecuteHandler struct {
	exec   executor.Executor
	logger *slog.Logger
}

// NewExecuteHandler creates a new ExecuteHandler. exec is normally the
// dispatching service, which itself satisfies executor.Executor.
func NewExecuteHandler(exec executor.Executor, logger *slog.Logger) *ExecuteHandler {
	return &ExecuteHandler{
		exec:   exec,
		logger: logger,
	}
}

// HandleExecute runs {language, source} and writes the trace.
//
//	200 result, failed:false
//	500 result, failed:true
//	400 result with one error event, for source that does not parse
//	400/500 {"error","message"} for everything else
func (h *ExecuteHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req model.ExecutionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.logger.Warn("invalid execution request body", slog.String("error", err.Error()))
		writeError(w, apperror.ValidationFailed("body", "request body must be a JSON object"))
		return
	}

	result, err := h.exec.Execute(r.Context(), req)
	if err != nil {
		if errors.Is(err, apperror.ErrParse) && result != nil {
			writeJSON(w, http.StatusBadRequest, result)
			return
		}
		if status, _ := classify(err); status >= http.StatusInternalServerError {
			h.logger.Error("code execution failed", slog.String("error", err.Error()))
		}
		writeError(w, err)
		return
	}

	writeResult(w, result)
}
