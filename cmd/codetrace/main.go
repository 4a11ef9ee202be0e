// Command codetrace runs submitted JavaScript or Python and returns a
// line-by-line execution trace, over HTTP, from the command line or as an MCP
// tool.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFlag string

// errSilent ends the process with a non-zero status after the command has
// already reported the failure itself.
var errSilent = errors.New("silent failure")

var rootCmd = &cobra.Command{
	Use:   "codetrace",
	Short: "codetrace - instrumented code execution service",
	Long: `codetrace executes small JavaScript and Python programs and records every
step: the line reached, the variables in scope, program output and the error
that ended the run, if any.

JavaScript runs in an embedded interpreter. Python runs under a tracing helper
in an external interpreter, on the host or in a Docker container.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to a config file (default: ./codetrace.yaml or $HOME/.codetrace/codetrace.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errSilent) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
