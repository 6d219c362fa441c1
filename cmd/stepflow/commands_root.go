package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sourceplane/stepflow/internal/loader"
	"github.com/sourceplane/stepflow/internal/logger"
)

var (
	configFile string
	envFile    string
	logLevel   string
	logFormat  string

	cfg *loader.Config
	log *slog.Logger

	// status receives the □/✓ progress lines
	status io.Writer = os.Stdout
)

var rootCmd = &cobra.Command{
	Use:           "stepflow",
	Short:         "Plan executor: declarative HTTP steps → execution report",
	Long:          "stepflow runs planner-produced plans of HTTP steps with dependencies, fallbacks and variable extraction, and reports on every step",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = loader.LoadConfig(configFile, envFile)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			cfg.Log.Level = logLevel
		}
		if cmd.Flags().Changed("log-format") {
			cfg.Log.Format = logFormat
		}

		log, err = logger.New(logger.Config{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
			File:   cfg.Log.File,
		})
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Env file loaded before STEPFLOW_* variables are read")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text, json")

	registerRunCommand(rootCmd)
	registerValidateCommand(rootCmd)
	registerViewCommand(rootCmd)
	registerServeCommand(rootCmd)
	registerHistoryCommand(rootCmd)
}
