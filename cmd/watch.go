package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"run", "w"},
	Short:   "Watch the configured directory and email new PDFs",
	Long: `Run the service: watch the configured directory for new PDF files,
classify each one by filename, add the submitter from the companion XML file
on CC and email the document to the template's recipients.

Stops cleanly on SIGINT or SIGTERM, letting in-flight documents finish.

Examples:
  docrelay watch
  docrelay watch --config /etc/docrelay/docrelay.yml
  DOCRELAY_WATCH_DIR=/srv/scans docrelay watch --log-level debug`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, closeLog, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer closeLog()

	a, err := newApp(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build service: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return a.Run(ctx)
}
