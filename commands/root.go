package commands

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Version and BuildTime are overridden at link time.
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

// NewRootCommand builds the speccorpus CLI root.
func NewRootCommand() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "speccorpus",
		Short: "Specification-corpus orchestrator",
		Long: `Speccorpus coordinates the production and maintenance of a library of
single-topic behavioral documents extracted from a source codebase.

It enforces topic uniqueness, propagates staleness through shared-behavior
references, bounds concurrent investigations, and publishes validated
documents atomically.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		newRunCommand(&configPath, &logLevel),
		newTopicsCommand(&configPath, &logLevel),
		newStatusCommand(&configPath, &logLevel),
		newPublishCommand(&configPath, &logLevel),
		newRetireCommand(&configPath, &logLevel),
		newWatchCommand(&configPath, &logLevel),
		newVersionCommand(),
	)

	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("speccorpus version %s (build: %s)\n", Version, BuildTime)
		},
	}
}

// newLogger builds the process logger at the requested level.
func newLogger(logLevel string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
