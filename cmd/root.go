// Package cmd provides the docrelay command-line interface.
//
// Configuration System:
//
//	Values resolve with this precedence, highest first:
//	1. Command-line flags (--log-level)
//	2. DOCRELAY_<SECTION>_<KEY> environment variables
//	3. The configuration file (--config, DOCRELAY_CONFIG_FILE or ./docrelay.yml)
//	4. Environment names of the replaced service (PDF_WATCH_DIRECTORY, ...)
//	5. Built-in defaults
//
// Environment Variables:
//
//	DOCRELAY_CONFIG_FILE: Path to the configuration file
//	DOCRELAY_WATCH_DIR: Directory to watch for PDFs
//	DOCRELAY_SMTP_HOST: Outbound relay
//	And every other key following the DOCRELAY_<SECTION>_<KEY> pattern
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/docrelay/internal/config"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "docrelay",
	Short: "Watch a directory for PDFs and email them to their recipients",
	Long: `docrelay watches a directory for newly created PDF files, classifies
each one against configured filename templates and emails it, with the
submitter from the companion XML file on CC.

Quick Start:
  docrelay validate               Check the configuration
  docrelay classify WIRE_1_a.pdf  Show how a filename would be routed
  docrelay watch                  Run the service
  docrelay audit                  Summarise processed documents`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./docrelay.yml, can also use DOCRELAY_CONFIG_FILE)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "log level (debug, info, warn, error)")
	AddFlagValidation(rootCmd.PersistentFlags(), "log-level", ValidateOneOf("", "debug", "info", "warn", "warning", "error"))
}

// initConfig points viper at the config file and enables environment
// overrides. A missing default file is not an error; a named one is
// reported by the command that loads it.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("DOCRELAY_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/docrelay")
		viper.SetConfigType("yaml")
		viper.SetConfigName("docrelay")
	}

	config.ConfigureEnv(viper.GetViper())
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// readConfigFile reads the config file. Only the default search may come
// up empty; a file named by flag or environment must exist.
func readConfigFile(cmd *cobra.Command) error {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		named := cfgFile != "" || os.Getenv("DOCRELAY_CONFIG_FILE") != ""
		if named || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		return nil
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "Using config file:", viper.ConfigFileUsed())
	return nil
}

// loadConfig reads the config file when there is one and returns the
// validated configuration.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := readConfigFile(cmd); err != nil {
		return nil, err
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	for _, w := range cfg.Warnings() {
		fmt.Fprintln(cmd.ErrOrStderr(), "Warning:", w)
	}
	return cfg, nil
}
