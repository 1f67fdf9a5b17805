package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dt-pm-tools/jira-sync/internal/checkpoint"
	"github.com/dt-pm-tools/jira-sync/internal/engine"
)

var runForce bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one sync pass",
	Long: `Runs one pass: JIRA changes are pulled into Linear, Linear changes are
pushed to JIRA, then Linear relations are mirrored as JIRA issue links.

The checkpoint only advances when every entity synced. On failure the next
run retries the same window. Exit status is 1 when any entity failed.

A run refuses to start while another holds the lock in the state directory,
or while an attempt marker younger than sync.stale_attempt exists. Use
--force to treat any leftover marker as a crashed run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		log, closer, err := newLogger()
		if err != nil {
			return err
		}
		defer closer.Close()

		states, err := appConfig.StateMap()
		if err != nil {
			return err
		}

		store, err := checkpoint.Open(appConfig.Sync.StateDir)
		if err != nil {
			return err
		}
		unlock, err := store.Lock()
		if err != nil {
			return err
		}
		defer unlock()

		a, b, err := newTrackers(states)
		if err != nil {
			return err
		}

		opts := engine.Options{
			Concurrency:      appConfig.Sync.Concurrency,
			StaleAttempt:     appConfig.Sync.StaleAttempt,
			AutomationEmails: appConfig.Sync.AutomationEmails,
			RelationTypes:    appConfig.Sync.RelationTypes,
		}
		if runForce {
			opts.StaleAttempt = 0
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		res, err := engine.New(a, b, store, states, log, opts).Run(ctx)
		if res != nil {
			fmt.Fprintf(os.Stderr, "run %s: %d entities, committed %s (advanced: %t)\n",
				res.RunID, total(res.Outcomes), res.Committed.Format("2006-01-02 15:04:05Z07:00"), res.Advanced)
		}

		var runErr *engine.RunError
		if errors.As(err, &runErr) {
			for _, f := range runErr.Failures {
				fmt.Fprintf(os.Stderr, "  failed: %s %s %s: %v\n", f.Phase, f.Kind, f.Key, f.Err)
			}
		}
		return err
	},
}

func total(outcomes map[string]int) int {
	n := 0
	for _, c := range outcomes {
		n += c
	}
	return n
}

func init() {
	runCmd.Flags().BoolVar(&runForce, "force", false, "treat any leftover attempt marker as a crashed run")
	rootCmd.AddCommand(runCmd)
}
