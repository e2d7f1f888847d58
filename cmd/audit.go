package cmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/docrelay/internal/audit"
	"github.com/conneroisu/docrelay/internal/config"
	"github.com/conneroisu/docrelay/internal/intake"
)

var (
	auditRecent int
	auditFormat string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Summarise documents recorded in the audit ledger",
	Long: `Print outcome counts from the audit ledger configured with audit.db_path
and, with --recent, the newest entries. File names are shown as the hash
stored in the ledger.

Examples:
  docrelay audit
  docrelay audit --recent 20
  docrelay audit --format json`,
	RunE: runAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.Flags().IntVarP(&auditRecent, "recent", "n", 0, "Also list the N newest entries")
	addFormatFlag(auditCmd.Flags(), &auditFormat, formatText, formatJSON)
}

type auditReport struct {
	Counts map[intake.Status]int `json:"counts"`
	Recent []audit.Entry         `json:"recent,omitempty"`
}

func runAudit(cmd *cobra.Command, args []string) error {
	if err := readConfigFile(cmd); err != nil {
		return err
	}
	// the ledger needs only its path, not a deliverable configuration
	cfg, _, err := config.Inspect(viper.GetViper(), nil)
	if err != nil {
		return err
	}
	if cfg.Audit.DBPath == "" {
		return fmt.Errorf("audit.db_path is not configured")
	}

	ledger, err := audit.Open(cfg.Audit.DBPath, nil)
	if err != nil {
		return err
	}
	defer ledger.Close()

	ctx := cmd.Context()
	var report auditReport
	if report.Counts, err = ledger.Summary(ctx); err != nil {
		return err
	}
	if auditRecent > 0 {
		if report.Recent, err = ledger.Recent(ctx, auditRecent); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if auditFormat == formatJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	statuses := make([]string, 0, len(report.Counts))
	total := 0
	for s, n := range report.Counts {
		statuses = append(statuses, string(s))
		total += n
	}
	sort.Strings(statuses)

	fmt.Fprintf(out, "%s documents recorded\n", humanize.Comma(int64(total)))
	for _, s := range statuses {
		fmt.Fprintf(out, "  %-9s %s\n", s, humanize.Comma(int64(report.Counts[intake.Status(s)])))
	}

	if len(report.Recent) > 0 {
		fmt.Fprintln(out)
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "WHEN\tFILE\tTEMPLATE\tSTATUS\tREASON\tDURATION")
		for _, e := range report.Recent {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				humanize.Time(e.FinishedAt), e.FileHash, e.Template, e.Status, e.Reason, e.Duration)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}
