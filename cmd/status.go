package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dt-pm-tools/jira-sync/internal/checkpoint"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the sync checkpoint",
	Long:  `Prints the committed checkpoint and, if a run is in progress or crashed, the instant its attempt started.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		store, err := checkpoint.Open(appConfig.Sync.StateDir)
		if err != nil {
			return err
		}

		committed, err := store.LoadCommitted()
		if err != nil {
			return err
		}
		attempt, pending, err := store.LoadAttemptIfCrashed()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "State directory: %s\n", store.Dir())
		if committed.IsZero() {
			fmt.Fprintln(out, "Committed:       never (next run syncs everything)")
		} else {
			fmt.Fprintf(out, "Committed:       %s (%s ago)\n", committed.Format(time.RFC3339), time.Since(committed).Round(time.Second))
		}
		if pending {
			state := "in progress"
			if time.Since(attempt) >= appConfig.Sync.StaleAttempt {
				state = "stale, next run resumes it"
			}
			fmt.Fprintf(out, "Attempt:         %s (%s)\n", attempt.Format(time.RFC3339), state)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
