// Package commands provides the eventline CLI commands.
package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/coachpo/eventline/config"
	"github.com/coachpo/eventline/internal/observability"
)

// Version is set at build time.
var Version = "0.1.0"

const defaultConfigPath = "config/app.yaml"

// Global flags
var (
	configPath string
	logLevel   string
	prettyLogs bool
)

var rootCmd = &cobra.Command{
	Use:   "eventline",
	Short: "Validated event channel over websockets",
	Long: `eventline exchanges named, schema-checked events over a websocket.

Run 'eventline serve' to start the chat server, and 'eventline chat' to join it.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", fmt.Sprintf("Path to application configuration file (default: %s)", defaultConfigPath))
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error); overrides the config file")
	rootCmd.PersistentFlags().BoolVar(&prettyLogs, "pretty", false, "Human readable console logs")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return defaultConfigPath
}

// loadApp resolves the application config and installs the process logger.
func loadApp(ctx context.Context) (config.AppConfig, observability.Logger, error) {
	cfg, fromFile, err := config.LoadOrDefault(ctx, resolveConfigPath(configPath))
	if err != nil {
		return config.AppConfig{}, nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if prettyLogs {
		cfg.Logging.Pretty = true
	}

	logger := newLogger(cfg.Logging)
	observability.SetLogger(logger)
	if !fromFile {
		logger.Info("configuration file not found, using defaults")
	}
	logger.Info("configuration initialised",
		observability.F("env", cfg.Environment),
		observability.F("address", cfg.Channel.Address))
	return cfg, logger, nil
}

func newLogger(cfg config.LoggingConfig) *observability.ZerologLogger {
	logCfg := observability.DefaultLogConfig()
	logCfg.Level = observability.ParseLevel(cfg.Level)
	logCfg.Pretty = cfg.Pretty
	logCfg.Output = os.Stderr
	return observability.NewZerologLogger(logCfg)
}
