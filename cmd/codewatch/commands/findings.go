package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewFindingsCommand builds `codewatch findings` and its subcommands.
func NewFindingsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "findings",
		Short: "Triage findings on a completed audit",
	}

	cmd.AddCommand(newFindingsSetStatusCommand())

	return cmd
}

type setFindingStatusBody struct {
	Status string `json:"status"`
}

func newFindingsSetStatusCommand() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "set-status <findingId>",
		Short: "Set a finding's triage status (owner only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := "/findings/" + args[0] + "/status"
			if err := client().do("PATCH", path, setFindingStatusBody{Status: status}, nil); err != nil {
				return err
			}

			fmt.Fprintf(os.Stdout, "finding %s set to %s\n", args[0], status)

			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "one of: open, fixed, false_positive, accepted, wont_fix (required)")
	_ = cmd.MarkFlagRequired("status")

	return cmd
}
