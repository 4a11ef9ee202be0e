package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/codetrace/internal/executor/javascript"
	"github.com/sakif/codetrace/internal/middleware"
	"github.com/sakif/codetrace/internal/model"
	"github.com/sakif/codetrace/internal/service"
)

func newTestServer(t *testing.T, rl middleware.RateLimitConfig) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := service.NewRegistry()
	reg.Register(model.JavaScript, javascript.NewRunner(javascript.DefaultConfig(), logger), "js")

	s, err := New(Config{DBPath: ":memory:", RateLimit: rl}, logger, reg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func generousLimits() middleware.RateLimitConfig {
	return middleware.RateLimitConfig{RPS: 1000, Burst: 1000, PerIPRPS: 1000, PerIPBurst: 1000}
}

func post(t *testing.T, ts *httptest.Server, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/execute", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestServer_ExecuteJavaScript(t *testing.T) {
	ts := newTestServer(t, generousLimits())

	resp, body := post(t, ts, `{"language":"javascript","source":"let a = 1;\nlet b = a + 2;\nconsole.log(b);"}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"), "request id is returned to the client")
	assert.Equal(t, false, body["failed"])

	events := body["events"].([]any)
	require.Len(t, events, 3)
	kinds := []string{}
	for _, e := range events {
		kinds = append(kinds, e.(map[string]any)["kind"].(string))
	}
	assert.Equal(t, []string{"step", "step", "log"}, kinds)
	assert.Equal(t, "3", events[2].(map[string]any)["value"])
}

func TestServer_ExecuteErrors(t *testing.T) {
	ts := newTestServer(t, generousLimits())

	t.Run("unsupported language", func(t *testing.T) {
		resp, body := post(t, ts, `{"language":"ruby","source":"puts 1"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "unsupported language: ruby", body["message"])
	})

	t.Run("parse error", func(t *testing.T) {
		resp, body := post(t, ts, `{"language":"js","source":"a = 1;\nb = ;"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, true, body["failed"])
		events := body["events"].([]any)
		require.Len(t, events, 1)
		assert.EqualValues(t, 2, events[0].(map[string]any)["line"])
	})

	t.Run("runtime error", func(t *testing.T) {
		resp, body := post(t, ts, `{"language":"js","source":"a = 1;\nnope();"}`)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, true, body["failed"])
	})
}

func TestServer_JournalAndLanguages(t *testing.T) {
	ts := newTestServer(t, generousLimits())
	post(t, ts, `{"language":"js","source":"x = 1;"}`)

	resp, err := http.Get(ts.URL + "/api/executions")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var execs []model.Execution
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&execs))
	require.Len(t, execs, 1)
	assert.Equal(t, model.JavaScript, execs[0].Language)
	assert.NotEmpty(t, execs[0].RequestID)

	one, err := http.Get(ts.URL + "/api/executions/" + execs[0].ID)
	require.NoError(t, err)
	one.Body.Close()
	assert.Equal(t, http.StatusOK, one.StatusCode)

	langs, err := http.Get(ts.URL + "/api/languages")
	require.NoError(t, err)
	defer langs.Body.Close()
	raw, _ := io.ReadAll(langs.Body)
	assert.JSONEq(t, `{"languages":["javascript"]}`, string(raw))
}

func TestServer_RateLimited(t *testing.T) {
	ts := newTestServer(t, middleware.RateLimitConfig{RPS: 1000, Burst: 1000, PerIPRPS: 0.001, PerIPBurst: 1})

	first, _ := post(t, ts, `{"language":"js","source":"x = 1;"}`)
	assert.Equal(t, http.StatusOK, first.StatusCode)

	second, body := post(t, ts, `{"language":"js","source":"x = 1;"}`)
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	assert.Equal(t, "rate_limited", body["error"])

	// Read-only routes are not limited.
	resp, err := http.Get(ts.URL + "/api/languages")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, generousLimits())
	post(t, ts, `{"language":"js","source":"x = 1;"}`)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(raw), "codetrace_executions_total")
}
