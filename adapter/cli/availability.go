package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	availabilityDomain "github.com/meridianbh/cadence/internal/availability/domain"
)

var (
	slotClinician string
	slotWeekday   string
	slotNumber    int
	slotStart     string
	slotEnd       string
	slotTimezone  string
	slotDays      int
)

var availabilityCmd = &cobra.Command{
	Use:   "availability",
	Short: "Manage recurring availability slots",
}

var availabilityAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a weekly availability slot",
	Long: `Add a weekly recurring availability slot. Times are wall-clock in the
slot's timezone, so a 09:00 slot stays 09:00 local across DST changes.

Example:
  cadence availability add --clinician <id> --weekday monday --slot 1 \
    --start 09:00 --end 10:00 --tz America/New_York`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil {
			return fmt.Errorf("app not initialized")
		}
		clinicianID, err := uuid.Parse(slotClinician)
		if err != nil {
			return fmt.Errorf("invalid clinician ID: %w", err)
		}
		weekday, err := parseWeekday(slotWeekday)
		if err != nil {
			return err
		}
		startMinute, err := parseWallClock(slotStart)
		if err != nil {
			return fmt.Errorf("invalid start time: %w", err)
		}
		endMinute, err := parseWallClock(slotEnd)
		if err != nil {
			return fmt.Errorf("invalid end time: %w", err)
		}

		slot, err := availabilityDomain.NewSlot(clinicianID, weekday, slotNumber, startMinute, endMinute, slotTimezone)
		if err != nil {
			return err
		}
		if err := app.Slots.Save(cmd.Context(), slot); err != nil {
			return err
		}
		fmt.Printf("created slot %s (%s %s-%s, %s)\n",
			slot.ID(), weekday, slotStart, slotEnd, slotTimezone)
		return nil
	},
}

var availabilityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a clinician's availability slots",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil {
			return fmt.Errorf("app not initialized")
		}
		clinicianID, err := uuid.Parse(slotClinician)
		if err != nil {
			return fmt.Errorf("invalid clinician ID: %w", err)
		}

		slots, err := app.Slots.FindByClinician(cmd.Context(), clinicianID)
		if err != nil {
			return err
		}
		if len(slots) == 0 {
			fmt.Println("no slots")
			return nil
		}
		for _, slot := range slots {
			line := fmt.Sprintf("%s  %-9s #%d %s-%s %-20s %s",
				slot.ID(), slot.Weekday(), slot.SlotNumber(),
				formatWallClock(slot.StartMinute()), formatWallClock(slot.EndMinute()),
				slot.Timezone(), slot.SyncStatus())
			if slot.LastError() != "" {
				line += " (" + slot.LastError() + ")"
			}
			fmt.Println(line)
		}
		return nil
	},
}

var availabilityExpandCmd = &cobra.Command{
	Use:   "expand",
	Short: "Show concrete openings for the coming days",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil {
			return fmt.Errorf("app not initialized")
		}
		clinicianID, err := uuid.Parse(slotClinician)
		if err != nil {
			return fmt.Errorf("invalid clinician ID: %w", err)
		}

		slots, err := app.Slots.FindByClinician(cmd.Context(), clinicianID)
		if err != nil {
			return err
		}
		from := time.Now().UTC()
		to := from.AddDate(0, 0, slotDays)
		count := 0
		for _, slot := range slots {
			occurrences, err := slot.Expand(from, to)
			if err != nil {
				return fmt.Errorf("expand slot %s: %w", slot.ID(), err)
			}
			for _, occ := range occurrences {
				fmt.Printf("%s  %s - %s\n", slot.ID(),
					occ.Start.Format(time.RFC3339), occ.End.Format(time.RFC3339))
				count++
			}
		}
		if count == 0 {
			fmt.Println("no openings")
		}
		return nil
	},
}

var availabilityRetryCmd = &cobra.Command{
	Use:   "retry <slot-id>",
	Short: "Retry a failed slot push",
	Args:  cobra.ExactArgs(1),
	RunE:  slotMutation(func(app *App) slotOp { return app.Reconciler.Retry }),
}

var availabilityResolveCmd = &cobra.Command{
	Use:   "resolve <slot-id>",
	Short: "Resolve a conflicted slot after manual review",
	Args:  cobra.ExactArgs(1),
	RunE:  slotMutation(func(app *App) slotOp { return app.Reconciler.ResolveConflict }),
}

var availabilityRemoveCmd = &cobra.Command{
	Use:   "remove <slot-id>",
	Short: "Remove an availability slot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil {
			return fmt.Errorf("app not initialized")
		}
		slotID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid slot ID: %w", err)
		}
		if err := app.Slots.Delete(cmd.Context(), slotID); err != nil {
			return err
		}
		fmt.Printf("removed slot %s\n", slotID)
		return nil
	},
}

type slotOp func(ctx context.Context, slotID uuid.UUID) error

func slotMutation(pick func(app *App) slotOp) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil || app.Reconciler == nil {
			return fmt.Errorf("app not initialized")
		}
		slotID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid slot ID: %w", err)
		}
		if err := pick(app)(cmd.Context(), slotID); err != nil {
			return err
		}
		fmt.Printf("slot %s is pending again\n", slotID)
		return nil
	}
}

func parseWeekday(name string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), name) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("invalid weekday %q", name)
}

func parseWallClock(value string) (int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func formatWallClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

func init() {
	availabilityAddCmd.Flags().StringVar(&slotClinician, "clinician", "", "clinician ID (required)")
	availabilityAddCmd.Flags().StringVar(&slotWeekday, "weekday", "", "weekday name (required)")
	availabilityAddCmd.Flags().IntVar(&slotNumber, "slot", 1, "slot number (1-3)")
	availabilityAddCmd.Flags().StringVar(&slotStart, "start", "", "start time HH:MM (required)")
	availabilityAddCmd.Flags().StringVar(&slotEnd, "end", "", "end time HH:MM (required)")
	availabilityAddCmd.Flags().StringVar(&slotTimezone, "tz", "America/New_York", "IANA timezone")
	_ = availabilityAddCmd.MarkFlagRequired("clinician")
	_ = availabilityAddCmd.MarkFlagRequired("weekday")
	_ = availabilityAddCmd.MarkFlagRequired("start")
	_ = availabilityAddCmd.MarkFlagRequired("end")

	availabilityListCmd.Flags().StringVar(&slotClinician, "clinician", "", "clinician ID (required)")
	_ = availabilityListCmd.MarkFlagRequired("clinician")

	availabilityExpandCmd.Flags().StringVar(&slotClinician, "clinician", "", "clinician ID (required)")
	availabilityExpandCmd.Flags().IntVar(&slotDays, "days", 14, "days ahead to expand")
	_ = availabilityExpandCmd.MarkFlagRequired("clinician")

	availabilityCmd.AddCommand(availabilityAddCmd)
	availabilityCmd.AddCommand(availabilityListCmd)
	availabilityCmd.AddCommand(availabilityExpandCmd)
	availabilityCmd.AddCommand(availabilityRetryCmd)
	availabilityCmd.AddCommand(availabilityResolveCmd)
	availabilityCmd.AddCommand(availabilityRemoveCmd)
	rootCmd.AddCommand(availabilityCmd)
}
