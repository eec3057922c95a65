// Package cli implements the vai-agents command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the command tree. Output goes to the command's
// configured writers so tests can capture it.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "vai-agents",
		Short:         "Voice agent orchestration gateway and tooling",
		Long:          "Runs the realtime voice agent gateway, validates scenario files, chats with a running gateway and verifies event logs.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(),
		newScenariosCmd(),
		newChatCmd(),
		newEventsCmd(),
	)
	return root
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "vai-agents: %v\n", err)
		return 1
	}
	return 0
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
