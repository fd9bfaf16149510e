// Command mind runs the MIND services, processing methods and ETL jobs.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mind/pkg/config"
	"mind/pkg/logging"
)

var (
	appConfigPath string
	logLevel      string
	logFile       string

	cfg    *config.Set
	app    config.App
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "mind",
	Short:         "MIND imaging data pipeline",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.NewSet()
		app = config.DefaultApp()
		if appConfigPath != "" {
			if err := cfg.Load(config.AppConfig, appConfigPath, ""); err != nil {
				return err
			}
			var err error
			if app, err = cfg.App(); err != nil {
				return err
			}
		} else if dir := os.Getenv("MIND_GPFS_DIR"); dir != "" {
			app.DataDir = dir
		}

		logCfg := app.Log
		if logLevel != "" {
			logCfg.Level = logLevel
		}
		if logFile != "" {
			logCfg.File = logFile
		}
		logCfg.Service = cmd.Name()
		var err error
		logger, err = logging.New(logCfg)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&appConfigPath, "app-config", "", "path to the application config (APP_CFG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write JSON logs to this file")

	rootCmd.AddCommand(serviceCommands()...)
	rootCmd.AddCommand(methodCommands()...)
	rootCmd.AddCommand(etlCommands()...)
	rootCmd.AddCommand(slideSummaryCmd)
}

// requireAppConfig fails commands that cannot run on defaults alone.
func requireAppConfig() error {
	if appConfigPath == "" {
		return errors.New("--app-config is required")
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
