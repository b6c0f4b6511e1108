package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// NewAuditCommand builds `codewatch audit` and its subcommands.
func NewAuditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Start and inspect audits",
	}

	cmd.AddCommand(newAuditStartCommand())
	cmd.AddCommand(newAuditStatusCommand())
	cmd.AddCommand(newAuditReportCommand())
	cmd.AddCommand(newAuditPublishCommand())
	cmd.AddCommand(newAuditUnpublishCommand())
	cmd.AddCommand(newAuditNotifyOwnerCommand())

	return cmd
}

type startAuditBody struct {
	ProjectID    string   `json:"projectId"`
	Level        string   `json:"level"`
	APIKey       string   `json:"apiKey"`
	BaseAuditID  string   `json:"baseAuditId,omitempty"`
	ComponentIDs []string `json:"componentIds,omitempty"`
}

type startAuditResult struct {
	AuditID string `json:"auditId"`
}

func newAuditStartCommand() *cobra.Command {
	var (
		projectID, level, apiKey, baseAuditID string
		componentIDs                          []string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a new audit",
		RunE: func(_ *cobra.Command, _ []string) error {
			var result startAuditResult

			body := startAuditBody{
				ProjectID:    projectID,
				Level:        level,
				APIKey:       apiKey,
				BaseAuditID:  baseAuditID,
				ComponentIDs: componentIDs,
			}

			if err := client().do("POST", "/audit/start", body, &result); err != nil {
				return err
			}

			fmt.Fprintf(os.Stdout, "started audit %s\n", result.AuditID)

			return nil
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "", "project id (required)")
	cmd.Flags().StringVar(&level, "level", "thorough", "audit level: full, thorough, or opportunistic")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Anthropic API key (required)")
	cmd.Flags().StringVar(&baseAuditID, "base-audit", "", "base audit id for an incremental audit")
	cmd.Flags().StringSliceVar(&componentIDs, "component", nil, "restrict the audit to these component ids")

	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("api-key")

	return cmd
}

type auditStatusResult struct {
	ID             string         `json:"id"`
	ProjectID      string         `json:"projectId"`
	Status         string         `json:"status"`
	TotalFiles     int            `json:"totalFiles"`
	FilesToAnalyze int            `json:"filesToAnalyze"`
	FilesAnalyzed  int            `json:"filesAnalyzed"`
	MaxSeverity    string         `json:"maxSeverity"`
	ErrorMessage   string         `json:"errorMessage"`
	Progress       map[string]any `json:"progress"`
}

func newAuditStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <auditId>",
		Short: "Show an audit's status and progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			var result auditStatusResult
			if err := client().do("GET", "/audit/"+args[0], nil, &result); err != nil {
				return err
			}

			tbl := table.NewWriter()
			tbl.SetOutputMirror(os.Stdout)
			tbl.SetStyle(table.StyleLight)
			tbl.AppendHeader(table.Row{"field", "value"})
			tbl.AppendRow(table.Row{"id", result.ID})
			tbl.AppendRow(table.Row{"project", result.ProjectID})
			tbl.AppendRow(table.Row{"status", colorizeStatus(result.Status)})
			tbl.AppendRow(table.Row{"files", fmt.Sprintf("%s/%s analyzed (%s total)",
				humanize.Comma(int64(result.FilesAnalyzed)), humanize.Comma(int64(result.FilesToAnalyze)), humanize.Comma(int64(result.TotalFiles)))})
			tbl.AppendRow(table.Row{"max severity", colorizeSeverity(result.MaxSeverity)})

			if result.ErrorMessage != "" {
				tbl.AppendRow(table.Row{"error", result.ErrorMessage})
			}

			tbl.Render()

			return nil
		},
	}
}

type auditReportResult struct {
	AuditID            string          `json:"auditId"`
	Tier               string          `json:"tier"`
	MaxSeverity        string          `json:"maxSeverity"`
	Findings           []findingResult `json:"findings"`
	SeverityCounts     map[string]int  `json:"severityCounts"`
	RedactedSeverities []string        `json:"redactedSeverities"`
	ReportSummary      *reportSummary  `json:"reportSummary"`
}

type reportSummary struct {
	ExecutiveSummary      string `json:"executiveSummary"`
	SecurityPosture       string `json:"securityPosture"`
	ResponsibleDisclosure string `json:"responsibleDisclosure"`
}

type findingResult struct {
	ID       string `json:"id"`
	FilePath string `json:"filePath"`
	Severity string `json:"severity"`
	Title    string `json:"title"`
	Status   string `json:"status"`
}

func newAuditReportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "report <auditId>",
		Short: "Show an audit's tier-filtered report",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			var result auditReportResult
			if err := client().do("GET", "/audit/"+args[0]+"/report", nil, &result); err != nil {
				return err
			}

			fmt.Fprintf(os.Stdout, "tier: %s  max severity: %s\n", result.Tier, colorizeSeverity(result.MaxSeverity))

			if result.ReportSummary != nil && result.ReportSummary.ExecutiveSummary != "" {
				fmt.Fprintf(os.Stdout, "\n%s\n\n", result.ReportSummary.ExecutiveSummary)
			}

			if len(result.SeverityCounts) > 0 {
				fmt.Fprintln(os.Stdout, "severity counts:")

				for sev, count := range result.SeverityCounts {
					fmt.Fprintf(os.Stdout, "  %s: %d\n", colorizeSeverity(sev), count)
				}
			}

			if len(result.Findings) == 0 {
				return nil
			}

			tbl := table.NewWriter()
			tbl.SetOutputMirror(os.Stdout)
			tbl.SetStyle(table.StyleLight)
			tbl.AppendHeader(table.Row{"severity", "file", "title", "status"})

			for _, f := range result.Findings {
				tbl.AppendRow(table.Row{colorizeSeverity(f.Severity), f.FilePath, f.Title, f.Status})
			}

			tbl.Render()

			return nil
		},
	}
}

func newAuditPublishCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "publish <auditId>",
		Short: "Force an audit fully public",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return simplePost("/audit/" + args[0] + "/publish")
		},
	}
}

func newAuditUnpublishCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unpublish <auditId>",
		Short: "Revoke an audit's public access",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return simplePost("/audit/" + args[0] + "/unpublish")
		},
	}
}

func newAuditNotifyOwnerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "notify-owner <auditId>",
		Short: "Start the responsible-disclosure timer on a completed audit",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return simplePost("/audit/" + args[0] + "/notify-owner")
		},
	}
}

func simplePost(path string) error {
	var result map[string]any
	if err := client().do("POST", path, nil, &result); err != nil {
		return err
	}

	fmt.Fprintln(os.Stdout, "ok")

	return nil
}

func colorizeSeverity(sev string) string {
	switch strings.ToLower(sev) {
	case "critical":
		return color.New(color.FgRed, color.Bold).Sprint(sev)
	case "high":
		return color.New(color.FgRed).Sprint(sev)
	case "medium":
		return color.New(color.FgYellow).Sprint(sev)
	case "low":
		return color.New(color.FgCyan).Sprint(sev)
	case "informational":
		return color.New(color.FgBlue).Sprint(sev)
	default:
		return sev
	}
}

func colorizeStatus(status string) string {
	switch status {
	case "completed":
		return color.New(color.FgGreen).Sprint(status)
	case "completed_with_warnings":
		return color.New(color.FgYellow).Sprint(status)
	case "failed":
		return color.New(color.FgRed).Sprint(status)
	default:
		return color.New(color.FgCyan).Sprint(status)
	}
}
