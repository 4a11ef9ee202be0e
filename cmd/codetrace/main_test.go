package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/sakif/codetrace/internal/apperror"
	"github.com/sakif/codetrace/internal/model"
)

func sampleResult() *model.ExecutionResult {
	locals := model.NewLocals()
	locals.Set("b", json.RawMessage(`2`))
	locals.Set("a", json.RawMessage(`"1"`))
	return &model.ExecutionResult{
		Events: []model.TraceEvent{
			model.StepEvent(1, locals),
			model.LogEvent("3"),
		},
		DurationMs: 4,
	}
}

func TestWriteResult_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeResult(&buf, sampleResult(), "json"))

	var decoded model.ExecutionResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Len(t, decoded.Events, 2)
}

func TestWriteResult_YAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeResult(&buf, sampleResult(), "yaml"))

	out := buf.String()
	assert.NotContains(t, out, "{", "flow style leaked into the output")
	assert.Contains(t, out, "kind: step")
	assert.Contains(t, out, "durationMs: 4")
	assert.Contains(t, out, `value: "3"`, "numeric-looking strings stay strings")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("b: 2")), bytes.Index(buf.Bytes(), []byte(`a: "1"`)),
		"locals keep insertion order")

	var back map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, false, back["failed"])
}

func TestLanguageFromPath(t *testing.T) {
	assert.Equal(t, "javascript", languageFromPath("examples/loop.js"))
	assert.Equal(t, "javascript", languageFromPath("a.MJS"))
	assert.Equal(t, "python", languageFromPath("/tmp/x.py"))
	assert.Equal(t, "", languageFromPath("-"))
	assert.Equal(t, "", languageFromPath("notes.txt"))
}

type stubExecutor struct {
	result *model.ExecutionResult
	err    error
	got    model.ExecutionRequest
}

func (s *stubExecutor) Execute(_ context.Context, req model.ExecutionRequest) (*model.ExecutionResult, error) {
	s.got = req
	return s.result, s.err
}

func callTool(t *testing.T, exec *stubExecutor, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Name = traceToolName
	req.Params.Arguments = args
	res, err := traceHandler(exec)(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	return res
}

func toolText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestTraceHandler(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		exec := &stubExecutor{result: sampleResult()}
		res := callTool(t, exec, map[string]any{"language": "js", "source": "a = 1"})

		assert.False(t, res.IsError)
		assert.Equal(t, model.Language("js"), exec.got.Language)
		assert.Contains(t, toolText(t, res), `"kind":"step"`)
	})

	t.Run("failed run", func(t *testing.T) {
		exec := &stubExecutor{result: &model.ExecutionResult{
			Events:  []model.TraceEvent{model.ErrorEvent(1, "boom")},
			Failed:  true,
			Message: "boom",
		}}
		res := callTool(t, exec, map[string]any{"language": "py", "source": "raise Exception('boom')"})

		assert.True(t, res.IsError)
		assert.Contains(t, toolText(t, res), `"message":"boom"`)
	})

	t.Run("validation error", func(t *testing.T) {
		exec := &stubExecutor{err: apperror.ValidationFailed("language", "unsupported language: ruby")}
		res := callTool(t, exec, map[string]any{"language": "ruby", "source": "puts 1"})

		assert.True(t, res.IsError)
		assert.Equal(t, "error: unsupported language: ruby", toolText(t, res))
	})

	t.Run("bad arguments", func(t *testing.T) {
		var req mcp.CallToolRequest
		req.Params.Arguments = "nope"
		res, err := traceHandler(&stubExecutor{})(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, res.IsError)
	})
}

func TestTraceTool(t *testing.T) {
	tool := traceTool([]model.Language{model.JavaScript, model.Python})
	assert.Equal(t, traceToolName, tool.Name)
	assert.Contains(t, tool.Description, "javascript, python")
	assert.Equal(t, []string{"language", "source"}, tool.InputSchema.Required)
}
