package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vango-go/vai-agents/pkg/eventlog"
)

func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Work with recorded session event logs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "verify FILE...",
		Short: "Check the hash chain of JSONL event logs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			var bad int
			for _, path := range args {
				res := eventlog.VerifyJSONL(path)
				if res.Valid {
					fmt.Fprintf(out, "ok   %s (%d events)\n", path, res.Lines)
					continue
				}
				bad++
				if res.ErrorLine > 0 {
					fmt.Fprintf(out, "FAIL %s line %d: %s\n", path, res.ErrorLine, res.Error)
				} else {
					fmt.Fprintf(out, "FAIL %s: %s\n", path, res.Error)
				}
			}
			if bad > 0 {
				return errors.New("event log verification failed")
			}
			return nil
		},
	})
	return cmd
}
