package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/sakif/codetrace/internal/executor"
	"github.com/sakif/codetrace/internal/model"
	"github.com/sakif/codetrace/internal/service"
)

const traceToolName = "trace_code"

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the trace_code tool over MCP (stdio)",
	Long: `Start a Model Context Protocol server on stdin/stdout exposing one tool,
trace_code, which runs a program and returns its execution trace as JSON.

Logs go to stderr so they never mix with protocol traffic.`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(os.Stderr)
	if err != nil {
		return err
	}
	registry, cleanup := buildRegistry(cfg, logger)
	defer cleanup()

	svc := service.NewExecutionService(registry, nil, cfg.Limits.MaxSourceBytes, logger)

	s := mcpserver.NewMCPServer("codetrace", "0.1.0")
	s.AddTool(traceTool(svc.Languages()), traceHandler(svc))

	if err := mcpserver.ServeStdio(s); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

func traceTool(langs []model.Language) mcp.Tool {
	names := make([]string, len(langs))
	for i, l := range langs {
		names[i] = string(l)
	}
	return mcp.Tool{
		Name: traceToolName,
		Description: fmt.Sprintf("Run a short program and return its line-by-line execution trace "+
			"(steps with local variables, output, and the error that ended it). Supported languages: %s.",
			strings.Join(names, ", ")),
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"language": map[string]any{
					"type":        "string",
					"description": "Programming language (" + strings.Join(names, ", ") + ")",
				},
				"source": map[string]any{
					"type":        "string",
					"description": "Program source code",
				},
			},
			Required: []string{"language", "source"},
		},
	}
}

// traceHandler adapts the execution service to an MCP tool call. Every outcome,
// including validation problems, is reported as tool content, never as a
// protocol error.
func traceHandler(exec executor.Executor) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		if args == nil {
			return errResult("error: invalid arguments"), nil
		}
		language, _ := args["language"].(string)
		source, _ := args["source"].(string)

		result, err := exec.Execute(ctx, model.ExecutionRequest{
			Language: model.Language(language),
			Source:   source,
		})
		if result == nil {
			return errResult("error: " + errorText(err)), nil
		}

		data, mErr := json.Marshal(result)
		if mErr != nil {
			return errResult("error: encoding result: " + mErr.Error()), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(data)}},
			IsError: result.Failed,
		}, nil
	}
}

func errorText(err error) string {
	if err == nil {
		return "no result"
	}
	return err.Error()
}

func errResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: true,
	}
}
