package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/codetrace/internal/apperror"
	"github.com/sakif/codetrace/internal/executor"
	"github.com/sakif/codetrace/internal/handler"
	"github.com/sakif/codetrace/internal/model"
)

// MockExecutor implements a fast, mock executor for handler testing without running code.
type MockExecutor struct {
	CapturedReq model.ExecutionRequest
	Emit        []model.TraceEvent // replayed to the observer, if any
	ReturnRes   *model.ExecutionResult
	ReturnErr   error
}

func (m *MockExecutor) Execute(ctx context.Context, req model.ExecutionRequest) (*model.ExecutionResult, error) {
	m.CapturedReq = req
	if obs := executor.ObserverFrom(ctx); obs != nil {
		for _, ev := range m.Emit {
			obs(ev)
		}
	}
	return m.ReturnRes, m.ReturnErr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func postExecute(t *testing.T, h *handler.ExecuteHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/execute", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.HandleExecute(rr, req)
	return rr
}

func decodeResult(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	return body
}

func TestExecuteHandler_HandleExecute(t *testing.T) {
	logger := testLogger()

	t.Run("successful run", func(t *testing.T) {
		locals := model.NewLocals()
		locals.Set("a", json.RawMessage(`1`))
		mockExec := &MockExecutor{
			ReturnRes: &model.ExecutionResult{
				Events: []model.TraceEvent{
					model.StepEvent(1, locals),
					model.LogEvent("1"),
				},
				DurationMs: 3,
			},
		}
		h := handler.NewExecuteHandler(mockExec, logger)

		rr := postExecute(t, h, `{"language":"javascript","source":"let a = 1;\nconsole.log(a);"}`)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
		body := decodeResult(t, rr)
		assert.Equal(t, false, body["failed"])
		events := body["events"].([]any)
		require.Len(t, events, 2)
		assert.Equal(t, "step", events[0].(map[string]any)["kind"])
		assert.Equal(t, "log", events[1].(map[string]any)["kind"])

		assert.Equal(t, model.JavaScript, mockExec.CapturedReq.Language)
		assert.Equal(t, "let a = 1;\nconsole.log(a);", mockExec.CapturedReq.Source)
	})

	t.Run("legacy code field", func(t *testing.T) {
		mockExec := &MockExecutor{ReturnRes: &model.ExecutionResult{Events: []model.TraceEvent{}}}
		h := handler.NewExecuteHandler(mockExec, logger)

		rr := postExecute(t, h, `{"language":"python","code":"x = 1"}`)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "x = 1", mockExec.CapturedReq.Source)
	})

	t.Run("failed run is a 500 with the partial trace", func(t *testing.T) {
		mockExec := &MockExecutor{
			ReturnRes: &model.ExecutionResult{
				Events: []model.TraceEvent{
					model.StepEvent(1, nil),
					model.ErrorEvent(2, "name 'x' is not defined"),
				},
				Failed:  true,
				Message: "name 'x' is not defined",
			},
		}
		h := handler.NewExecuteHandler(mockExec, logger)

		rr := postExecute(t, h, `{"language":"python","source":"a = 1\nprint(x)"}`)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		body := decodeResult(t, rr)
		assert.Equal(t, true, body["failed"])
		assert.Equal(t, "name 'x' is not defined", body["message"])
		events := body["events"].([]any)
		require.Len(t, events, 2)
		last := events[1].(map[string]any)
		assert.Equal(t, "error", last["kind"])
		assert.EqualValues(t, 2, last["line"])
	})

	t.Run("timeout is a 500 result", func(t *testing.T) {
		mockExec := &MockExecutor{
			ReturnRes: &model.ExecutionResult{
				Events:  []model.TraceEvent{model.ErrorEvent(1, "Script execution timed out after 1s")},
				Failed:  true,
				Message: "Script execution timed out after 1s",
			},
		}
		h := handler.NewExecuteHandler(mockExec, logger)

		rr := postExecute(t, h, `{"language":"javascript","source":"while (true) {}"}`)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		body := decodeResult(t, rr)
		assert.Equal(t, "Script execution timed out after 1s", body["message"])
	})

	t.Run("parse error is a 400 with the error event", func(t *testing.T) {
		mockExec := &MockExecutor{
			ReturnRes: &model.ExecutionResult{
				Events:  []model.TraceEvent{model.ErrorEvent(2, "Unexpected token ;")},
				Failed:  true,
				Message: "Unexpected token ;",
			},
			ReturnErr: apperror.ParseFailed(2, "Unexpected token ;"),
		}
		h := handler.NewExecuteHandler(mockExec, logger)

		rr := postExecute(t, h, `{"language":"javascript","source":"a = 1;\nb = ;"}`)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		body := decodeResult(t, rr)
		assert.Equal(t, true, body["failed"])
		events := body["events"].([]any)
		require.Len(t, events, 1)
		assert.Equal(t, "error", events[0].(map[string]any)["kind"])
	})

	t.Run("invalid request body", func(t *testing.T) {
		mockExec := &MockExecutor{}
		h := handler.NewExecuteHandler(mockExec, logger)

		rr := postExecute(t, h, `{"invalid_json":`)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		var errBody handler.ErrorResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&errBody))
		assert.Equal(t, "validation_error", errBody.Error)
	})

	errorCases := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
		wantMsg    string
	}{
		{
			name:       "missing fields",
			err:        apperror.ValidationFailed("language", "language, source are required"),
			wantStatus: http.StatusBadRequest,
			wantType:   "validation_error",
			wantMsg:    "language, source are required",
		},
		{
			name:       "unsupported language",
			err:        apperror.ValidationFailed("language", "unsupported language: ruby"),
			wantStatus: http.StatusBadRequest,
			wantType:   "validation_error",
			wantMsg:    "unsupported language: ruby",
		},
		{
			name:       "no interpreter",
			err:        apperror.ConfigMissing("Python executable not found on the server."),
			wantStatus: http.StatusInternalServerError,
			wantType:   "config_error",
			wantMsg:    "Python executable not found on the server.",
		},
		{
			name:       "unknown error hides details",
			err:        io.ErrUnexpectedEOF,
			wantStatus: http.StatusInternalServerError,
			wantType:   "internal_error",
			wantMsg:    "An internal error occurred",
		},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			h := handler.NewExecuteHandler(&MockExecutor{ReturnErr: tc.err}, logger)

			rr := postExecute(t, h, `{"language":"ruby","source":"puts 1"}`)

			assert.Equal(t, tc.wantStatus, rr.Code)
			var errBody handler.ErrorResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&errBody))
			assert.Equal(t, tc.wantType, errBody.Error)
			assert.Equal(t, tc.wantMsg, errBody.Message)
		})
	}
}

// mockJournal implements handler.Journal.
type mockJournal struct {
	execs   []model.Execution
	err     error
	gotLang string
	gotLim  int
	gotOff  int
}

func (m *mockJournal) ListExecutions(_ context.Context, lang string, limit, offset int) ([]model.Execution, error) {
	m.gotLang, m.gotLim, m.gotOff = lang, limit, offset
	return m.execs, m.err
}

func (m *mockJournal) GetExecution(_ context.Context, id string) (*model.Execution, error) {
	for _, e := range m.execs {
		if e.ID == id {
			return &e, nil
		}
	}
	return nil, apperror.NotFound("execution", id)
}

func (m *mockJournal) Languages() []model.Language {
	return []model.Language{model.JavaScript, model.Python}
}

func newJournalRouter(j handler.Journal) http.Handler {
	h := handler.NewExecutionsHandler(j, testLogger())
	r := chi.NewRouter()
	r.Get("/api/languages", h.Languages)
	r.Get("/api/executions", h.List)
	r.Get("/api/executions/{id}", h.Get)
	return r
}

func TestExecutionsHandler(t *testing.T) {
	j := &mockJournal{execs: []model.Execution{
		{ID: "e1", Language: model.Python, Failed: true, Message: "boom", EventCount: 2},
	}}
	router := newJournalRouter(j)

	t.Run("list passes query through", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/executions?limit=5&offset=10&language=py", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "py", j.gotLang)
		assert.Equal(t, 5, j.gotLim)
		assert.Equal(t, 10, j.gotOff)

		var got []model.Execution
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
		require.Len(t, got, 1)
		assert.Equal(t, "e1", got[0].ID)
	})

	t.Run("bad limit", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/executions?limit=ten", nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("get one", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/executions/e1", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		var got model.Execution
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
		assert.Equal(t, "boom", got.Message)
	})

	t.Run("get missing", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/executions/nope", nil))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("languages", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/languages", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"languages":["javascript","python"]}`, rr.Body.String())
	})
}
