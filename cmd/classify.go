package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conneroisu/docrelay/internal/classify"
	"github.com/conneroisu/docrelay/internal/sidecar"
)

var (
	classifyFormat string
	classifyCC     bool
)

var classifyCmd = &cobra.Command{
	Use:   "classify FILE...",
	Short: "Show how filenames would be routed, without sending anything",
	Long: `Classify each filename against the configured templates and print the
template, recipients and subject a notification would use.

With --cc, existing files are also looked up for a companion XML file and
the CC address it yields is printed.

Examples:
  docrelay classify WIRE_123456_20250529.pdf
  docrelay classify --cc /srv/scans/inbox/*.pdf
  docrelay classify --format json DC_LIMIT_42.pdf`,
	Args: cobra.MinimumNArgs(1),
	RunE: runClassify,
}

func init() {
	rootCmd.AddCommand(classifyCmd)

	addFormatFlag(classifyCmd.Flags(), &classifyFormat, formatText, formatJSON)
	classifyCmd.Flags().BoolVar(&classifyCC, "cc", false, "Resolve the CC address from companion XML files")
}

type classifyResult struct {
	File       string   `json:"file"`
	Result     string   `json:"result"`
	Template   string   `json:"template,omitempty"`
	Recipients []string `json:"recipients,omitempty"`
	Subject    string   `json:"subject,omitempty"`
	Candidates []string `json:"candidates,omitempty"`
	CC         string   `json:"cc,omitempty"`
}

func runClassify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	matcher := classify.NewMatcher(cfg.CompiledTemplates())
	extractor := sidecar.NewExtractor(cfg.Mail.Domain, nil)

	results := make([]classifyResult, 0, len(args))
	for _, arg := range args {
		c := matcher.Classify(filepath.Base(arg))
		r := classifyResult{File: arg, Result: c.Kind.String(), Candidates: c.Candidates}
		if c.Kind == classify.Matched {
			r.Template = c.Template.Name
			r.Recipients = c.Template.Recipients
			r.Subject = c.Template.Subject(c.Groups)
		}
		if classifyCC {
			if _, err := os.Stat(arg); err == nil {
				if cc, ok := extractor.ResolveNotificationCC(arg); ok {
					r.CC = cc
				}
			}
		}
		results = append(results, r)
	}

	out := cmd.OutOrStdout()
	if classifyFormat == formatJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	for _, r := range results {
		switch r.Result {
		case classify.Matched.String():
			fmt.Fprintf(out, "%s\n  template:   %s\n  recipients: %s\n  subject:    %s\n",
				r.File, r.Template, strings.Join(r.Recipients, ", "), r.Subject)
			if r.CC != "" {
				fmt.Fprintf(out, "  cc:         %s\n", r.CC)
			}
		case classify.Ambiguous.String():
			fmt.Fprintf(out, "%s\n  ambiguous:  %s\n", r.File, strings.Join(r.Candidates, ", "))
		default:
			fmt.Fprintf(out, "%s\n  no template matches\n", r.File)
		}
	}
	return nil
}
