// Package commands implements the trawler command line interface:
// series and target setup, the scheduling daemon, queue workers and
// status reporting.
package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/c360studio/trawler/config"
)

const appName = "trawler"

// Version is stamped at build time.
var Version = "0.1.0"

// root carries the state shared by every subcommand: the persistent
// flags, the configuration resolved from them and the logger.
type root struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
}

// NewRoot builds the trawler command tree.
func NewRoot() *cobra.Command {
	r := &root{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Multi stage crawl orchestration",
		Long: `Trawler schedules multi stage crawls over large target sets.

A series describes the stages of a crawl. The daemon paces the series'
targets into the dispatch queues, workers execute the stages against
the Play Store and every harvested document is stored with its full
change history.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return r.initialize()
		},
	}

	cmd.PersistentFlags().StringVarP(&r.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&r.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		newSetupTargetsCommand(r),
		newSetupSeriesCommand(r),
		newShowStageSchemaCommand(),
		newDaemonCommand(r),
		newWorkerCommand(r),
		newStatusCommand(r),
		newSpoolCommand(r),
	)

	// Version command
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s\n", appName, Version)
		},
	})

	return cmd
}

// initialize configures logging and resolves the configuration. An
// explicit --config file is loaded over the defaults; otherwise the
// loader discovers user and project config files.
func (r *root) initialize() error {
	level := slog.LevelInfo
	switch strings.ToLower(r.logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	r.logger = logger

	if r.configPath != "" {
		cfg, err := config.LoadFromFile(r.configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		r.cfg = cfg
		return nil
	}

	cfg, err := config.NewLoader(logger).Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	r.cfg = cfg
	return nil
}
