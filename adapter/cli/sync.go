package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	schedulingDomain "github.com/meridianbh/cadence/internal/scheduling/domain"
)

var (
	syncClinician string
	syncDays      int
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass for a clinician",
	Long: `Fetch external events for the clinician's active connections, compare
them against local appointments and record any conflicts found.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil || app.Sync == nil {
			return fmt.Errorf("app not initialized")
		}
		clinicianID, err := uuid.Parse(syncClinician)
		if err != nil {
			return fmt.Errorf("invalid clinician ID: %w", err)
		}

		now := time.Now().UTC().Truncate(time.Hour)
		window := schedulingDomain.TimeRange{Start: now, End: now.AddDate(0, 0, syncDays)}
		report, err := app.Sync.SyncWindow(cmd.Context(), clinicianID, window)
		if err != nil {
			return err
		}

		fmt.Printf("external events: %d\n", report.ExternalEvents)
		fmt.Printf("new conflicts:   %d\n", len(report.NewConflicts))
		for _, conflict := range report.NewConflicts {
			fmt.Printf("  %s  %s\n", conflict.ID(), conflict.Kind())
		}
		if len(report.FetchErrors) > 0 {
			fmt.Printf("fetch errors:    %d\n", len(report.FetchErrors))
			for _, fetchErr := range report.FetchErrors {
				fmt.Printf("  %s (%s): %v\n", fetchErr.ConnectionID, fetchErr.Provider, fetchErr.Err)
			}
		}
		return nil
	},
}

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List open sync conflicts for a clinician",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil || app.Sync == nil {
			return fmt.Errorf("app not initialized")
		}
		clinicianID, err := uuid.Parse(syncClinician)
		if err != nil {
			return fmt.Errorf("invalid clinician ID: %w", err)
		}

		conflicts, err := app.Sync.OpenConflicts(cmd.Context(), clinicianID)
		if err != nil {
			return err
		}
		if len(conflicts) == 0 {
			fmt.Println("no open conflicts")
			return nil
		}
		for _, conflict := range conflicts {
			fmt.Printf("%s  %-13s detected %s\n",
				conflict.ID(), conflict.Kind(), conflict.CreatedAt().Format(time.RFC3339))
		}
		return nil
	},
}

var resolveStrategy string

var resolveCmd = &cobra.Command{
	Use:   "resolve <conflict-id>",
	Short: "Resolve a sync conflict",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil || app.Sync == nil {
			return fmt.Errorf("app not initialized")
		}
		conflictID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid conflict ID: %w", err)
		}

		conflict, err := app.Sync.Resolve(cmd.Context(), conflictID, schedulingDomain.ResolutionStrategy(resolveStrategy))
		if err != nil {
			return err
		}
		fmt.Printf("resolved %s with %s\n", conflict.ID(), resolveStrategy)
		return nil
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncClinician, "clinician", "", "clinician ID (required)")
	syncCmd.Flags().IntVar(&syncDays, "days", 14, "look-ahead window in days")
	_ = syncCmd.MarkFlagRequired("clinician")

	conflictsCmd.Flags().StringVar(&syncClinician, "clinician", "", "clinician ID (required)")
	_ = conflictsCmd.MarkFlagRequired("clinician")

	resolveCmd.Flags().StringVar(&resolveStrategy, "strategy", "local_wins", "resolution strategy (local_wins, external_wins, manual, newest_wins)")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(conflictsCmd)
	rootCmd.AddCommand(resolveCmd)
}
