package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	schedulingApp "github.com/meridianbh/cadence/internal/scheduling/application"
	schedulingDomain "github.com/meridianbh/cadence/internal/scheduling/domain"
)

var (
	bookClinician string
	bookClient    string
	bookStart     string
	bookDuration  time.Duration
	bookTimezone  string
	bookType      string
	bookNotes     string
	bookOverride  bool
	blockReason   string
)

var bookCmd = &cobra.Command{
	Use:   "book",
	Short: "Book an appointment",
	Long: `Book an appointment on a clinician's calendar. The start time is
wall-clock in the given timezone.

Example:
  cadence book --clinician <id> --start "2026-09-03 10:00" --duration 50m \
    --tz America/New_York --type session`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil || app.Booking == nil {
			return fmt.Errorf("app not initialized")
		}
		clinicianID, err := uuid.Parse(bookClinician)
		if err != nil {
			return fmt.Errorf("invalid clinician ID: %w", err)
		}

		r, err := parseRange(bookStart, bookDuration, bookTimezone)
		if err != nil {
			return err
		}

		req := schedulingApp.BookingRequest{
			ClinicianID: clinicianID,
			Range:       r,
			Timezone:    bookTimezone,
			Type:        schedulingDomain.AppointmentType(bookType),
			Notes:       bookNotes,
			Override:    bookOverride,
		}
		if bookClient != "" {
			clientID, err := uuid.Parse(bookClient)
			if err != nil {
				return fmt.Errorf("invalid client ID: %w", err)
			}
			req.ClientID = &clientID
		}

		appt, err := app.Booking.Book(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Printf("booked %s (%s to %s)\n",
			appt.ID(),
			appt.TimeRange().Start.Format(time.RFC3339),
			appt.TimeRange().End.Format(time.RFC3339))
		return nil
	},
}

var blockCmd = &cobra.Command{
	Use:   "block",
	Short: "Block time on a clinician's calendar",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil || app.Booking == nil {
			return fmt.Errorf("app not initialized")
		}
		clinicianID, err := uuid.Parse(bookClinician)
		if err != nil {
			return fmt.Errorf("invalid clinician ID: %w", err)
		}

		r, err := parseRange(bookStart, bookDuration, bookTimezone)
		if err != nil {
			return err
		}

		appt, err := app.Booking.BlockTime(cmd.Context(), clinicianID, r, bookTimezone, blockReason)
		if err != nil {
			return err
		}
		fmt.Printf("blocked %s (%s to %s)\n",
			appt.ID(),
			appt.TimeRange().Start.Format(time.RFC3339),
			appt.TimeRange().End.Format(time.RFC3339))
		return nil
	},
}

func parseRange(start string, duration time.Duration, tz string) (schedulingDomain.TimeRange, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return schedulingDomain.TimeRange{}, fmt.Errorf("invalid timezone: %w", err)
	}
	startAt, err := time.ParseInLocation("2006-01-02 15:04", start, loc)
	if err != nil {
		return schedulingDomain.TimeRange{}, fmt.Errorf("invalid start time (want \"YYYY-MM-DD HH:MM\"): %w", err)
	}
	return schedulingDomain.NewTimeRange(startAt, startAt.Add(duration))
}

func init() {
	for _, cmd := range []*cobra.Command{bookCmd, blockCmd} {
		cmd.Flags().StringVar(&bookClinician, "clinician", "", "clinician ID (required)")
		cmd.Flags().StringVar(&bookStart, "start", "", "start time \"YYYY-MM-DD HH:MM\" (required)")
		cmd.Flags().DurationVar(&bookDuration, "duration", 50*time.Minute, "duration")
		cmd.Flags().StringVar(&bookTimezone, "tz", "America/New_York", "IANA timezone")
		_ = cmd.MarkFlagRequired("clinician")
		_ = cmd.MarkFlagRequired("start")
	}

	bookCmd.Flags().StringVar(&bookClient, "client", "", "client ID")
	bookCmd.Flags().StringVar(&bookType, "type", "session", "appointment type (session, intake, group)")
	bookCmd.Flags().StringVar(&bookNotes, "notes", "", "appointment notes")
	bookCmd.Flags().BoolVar(&bookOverride, "override", false, "skip conflict avoidance")

	blockCmd.Flags().StringVar(&blockReason, "reason", "Blocked", "block description")

	rootCmd.AddCommand(bookCmd)
	rootCmd.AddCommand(blockCmd)
}
