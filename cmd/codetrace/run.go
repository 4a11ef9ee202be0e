package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sakif/codetrace/internal/model"
	"github.com/sakif/codetrace/internal/service"
)

var (
	langFlag   string
	outputFlag string
)

var runCmd = &cobra.Command{
	Use:   "run [file|-]",
	Short: "Trace a program from a file or stdin",
	Long: `Run one program through its pathway and print the execution result.

The language is taken from --lang, or guessed from the file extension (.js, .py).
The exit status is 1 when the program failed.

Examples:
  codetrace run examples/loop.js
  echo 'x = 1' | codetrace run --lang py -
  codetrace run --output yaml script.py`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&langFlag, "lang", "l", "", "Language: javascript|js|python|py")
	runCmd.Flags().StringVarP(&outputFlag, "output", "o", "json", "Output format: json|yaml")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	if outputFlag != "json" && outputFlag != "yaml" {
		return fmt.Errorf("unknown output format %q", outputFlag)
	}

	path := "-"
	if len(args) == 1 {
		path = args[0]
	}
	source, err := readSource(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}

	lang := langFlag
	if lang == "" {
		lang = languageFromPath(path)
	}

	cfg, logger, err := setup(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	registry, cleanup := buildRegistry(cfg, logger)
	defer cleanup()

	svc := service.NewExecutionService(registry, nil, cfg.Limits.MaxSourceBytes, logger)
	result, runErr := svc.Execute(cmd.Context(), model.ExecutionRequest{
		Language: model.Language(lang),
		Source:   source,
	})
	if result == nil {
		return runErr
	}

	if err := writeResult(cmd.OutOrStdout(), result, outputFlag); err != nil {
		return err
	}
	if result.Failed {
		return errSilent
	}
	return nil
}

func readSource(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading source: %w", err)
	}
	return string(data), nil
}

func languageFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js", ".mjs":
		return string(model.JavaScript)
	case ".py":
		return string(model.Python)
	}
	return ""
}

// writeResult prints result as indented JSON or as YAML. YAML goes through the
// JSON encoding first so field names, omitempty and locals order match the API.
func writeResult(w io.Writer, result *model.ExecutionResult, format string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	if format == "json" {
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("converting result to yaml: %w", err)
	}
	blockStyle(&doc)
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encoding yaml: %w", err)
	}
	return enc.Close()
}

// blockStyle clears the flow and quoting styles that parsing JSON leaves on
// every node, so the encoder picks plain block YAML and quotes only when needed.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
