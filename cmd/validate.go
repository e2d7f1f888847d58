package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/docrelay/internal/config"
	"github.com/conneroisu/docrelay/internal/service"
)

var (
	validateFormat    string
	validateCheckDirs bool
	validateStrict    bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Load the configuration from every source and report errors and warnings.

This command checks for:
- Required directories, addresses and SMTP settings
- Template patterns that fail to compile or overlap
- Subject formats that do not match their pattern
- With --check-dirs, that the watch directory is readable and the staging
  directory can be created and written

Examples:
  docrelay validate
  docrelay validate --check-dirs
  docrelay validate --strict --format json`,
	RunE: runValidateCommand,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	addFormatFlag(validateCmd.Flags(), &validateFormat, formatText, formatJSON)
	validateCmd.Flags().BoolVar(&validateCheckDirs, "check-dirs", false, "Also check the watch and staging directories")
	validateCmd.Flags().BoolVar(&validateStrict, "strict", false, "Treat warnings as errors")
}

type validationReport struct {
	Valid     bool                `json:"valid"`
	Errors    []validationProblem `json:"errors,omitempty"`
	Warnings  []string            `json:"warnings,omitempty"`
	Templates []string            `json:"templates,omitempty"`
}

type validationProblem struct {
	Field       string   `json:"field"`
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions,omitempty"`
}

func runValidateCommand(cmd *cobra.Command, args []string) error {
	if err := readConfigFile(cmd); err != nil {
		return err
	}

	cfg, result, err := config.Inspect(viper.GetViper(), nil)
	if err != nil {
		return err
	}

	report := validationReport{Valid: !result.HasErrors(), Warnings: result.Warnings}
	for _, e := range result.Errors.Errors {
		report.Errors = append(report.Errors, validationProblem{
			Field:       e.Field(),
			Message:     e.Error(),
			Suggestions: e.Suggestions(),
		})
	}
	for _, t := range cfg.CompiledTemplates() {
		report.Templates = append(report.Templates, t.Name)
	}

	if report.Valid && validateCheckDirs {
		if err := service.ValidateDirs(cfg.Watch.Dir, cfg.Staging.Dir); err != nil {
			report.Valid = false
			report.Errors = append(report.Errors, validationProblem{Field: "directories", Message: err.Error()})
		}
	}
	if validateStrict && len(report.Warnings) > 0 {
		report.Valid = false
	}

	out := cmd.OutOrStdout()
	if validateFormat == formatJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		if result.HasErrors() || result.HasWarnings() {
			fmt.Fprint(out, result.String())
		}
		for _, p := range report.Errors {
			if p.Field == "directories" {
				fmt.Fprintf(out, "Directory check failed: %s\n", p.Message)
			}
		}
		if report.Valid {
			fmt.Fprintf(out, "✅ Configuration is valid (%d templates)\n", len(report.Templates))
		}
	}

	if !report.Valid {
		return fmt.Errorf("configuration is invalid")
	}
	return nil
}
