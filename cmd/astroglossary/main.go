// Package main provides the astroglossary binary: the gallery server, the markdown importer, and
// a command line client that keeps working while the server is unreachable.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hypergopher/astroglossary/config"
)

var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

const appName = "astroglossary"

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	envFile    string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Astronomy image gallery",
		Long: `AstroGlossary is a gallery of astronomy images.

It provides:
- a JSON/HTTP gallery server backed by memory, bbolt, SQLite or PostgreSQL
- an importer for markdown posts with YAML or TOML frontmatter
- a client that caches posts locally and queues changes while offline`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&a.envFile, "env-file", "", "Dotenv file (default .env)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
				return nil
			},
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
			},
		},
		serveCmd(a),
		importCmd(a),
	)
	cmd.AddCommand(clientCmds(a)...)

	return cmd
}

func (a *app) load() error {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: a.configPath, EnvFile: a.envFile})
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := cfg.LogLevel
	if a.logLevel != "" {
		level = a.logLevel
	}
	a.logger = newLogger(level)
	slog.SetDefault(a.logger)
	return nil
}

func newLogger(level string) *slog.Logger {
	l := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
