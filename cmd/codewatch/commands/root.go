// Package commands implements codewatch's cobra command tree: serve plus a
// thin HTTP client for audit and finding operations.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	serverURL   string
	requesterID string
	login       string
	token       string
	hasOrgScope bool
)

// NewRootCommand builds the codewatch root command and wires every
// subcommand onto it.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "codewatch",
		Short: "CodeWatch security audit service",
		Long: `CodeWatch clones a project's repositories, plans and runs an
LLM-driven security audit, and serves the resulting findings over HTTP.

Commands:
  serve     Run the HTTP API
  audit     Start and inspect audits
  findings  Triage findings on a completed audit`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8088", "codewatch API base URL")
	root.PersistentFlags().StringVar(&requesterID, "requester", "", "caller id sent as X-Audit-Requester")
	root.PersistentFlags().StringVar(&login, "login", "", "caller GitHub login sent as X-Audit-Login")
	root.PersistentFlags().StringVar(&token, "token", "", "caller GitHub token sent as X-Audit-Token")
	root.PersistentFlags().BoolVar(&hasOrgScope, "org-scope", false, "caller token carries read:org scope")

	root.AddCommand(NewServeCommand())
	root.AddCommand(NewAuditCommand())
	root.AddCommand(NewFindingsCommand())

	return root
}

func client() *apiClient {
	return newAPIClient(serverURL, requesterID, login, token, hasOrgScope)
}
