package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dt-pm-tools/jira-sync/internal/config"
	"github.com/dt-pm-tools/jira-sync/internal/jira"
	"github.com/dt-pm-tools/jira-sync/internal/linear"
	"github.com/dt-pm-tools/jira-sync/internal/logging"
	"github.com/dt-pm-tools/jira-sync/internal/markdown"
	"github.com/dt-pm-tools/jira-sync/internal/tracker"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	logFile   string
	appConfig config.Config
	version   = "0.1.0"
)

var rootCmd = &cobra.Command{
	Use:     "jira-sync",
	Short:   "Linear <-> JIRA bidirectional sync",
	Long:    `Keeps one Linear team and one JIRA project in step: issues, projects/epics, comments, relations and workflow state. Each invocation is one checkpointed pass; schedule it with cron or a systemd timer.`,
	Version: version,

	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.jira-sync.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides log.level)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json (overrides log.format)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to this file, rotated by size (overrides log.file)")
}

// loadConfig loads and validates configuration. Commands that need tracker access call this.
func loadConfig() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w\nRun 'jira-sync config' to set up credentials", err)
	}
	appConfig = cfg
	return nil
}

// newLogger builds the logger from config and flags.
func newLogger() (*slog.Logger, io.Closer, error) {
	opts := logging.Options{
		Level:      appConfig.Log.Level,
		Format:     appConfig.Log.Format,
		File:       appConfig.Log.File,
		MaxSizeMB:  appConfig.Log.MaxSizeMB,
		MaxBackups: appConfig.Log.MaxBackups,
	}
	if logLevel != "" {
		opts.Level = logLevel
	}
	if logFormat != "" {
		opts.Format = logFormat
	}
	if logFile != "" {
		opts.File = logFile
	}
	return logging.New(opts)
}

// newTrackers connects to both trackers as configured.
func newTrackers(states *tracker.StateMap) (*linear.Tracker, *jira.Tracker, error) {
	loc, err := time.LoadLocation(appConfig.Jira.TimeZone)
	if err != nil {
		return nil, nil, fmt.Errorf("jira.timezone: %w", err)
	}
	a := linear.NewTracker(linear.NewClient(appConfig.Linear), appConfig.Linear.Team, states)
	b := jira.NewTracker(jira.NewClient(appConfig.Jira), markdown.Converter{}, jira.TrackerOptions{
		Project:  appConfig.Jira.Project,
		Location: loc,
	})
	return a, b, nil
}
