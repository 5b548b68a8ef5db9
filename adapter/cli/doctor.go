package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	availabilityDomain "github.com/meridianbh/cadence/internal/availability/domain"
	connDomain "github.com/meridianbh/cadence/internal/connections/domain"
	schedulingDomain "github.com/meridianbh/cadence/internal/scheduling/domain"
	sharedDomain "github.com/meridianbh/cadence/internal/shared/domain"
)

var (
	doctorClinician string
	doctorDays      int
)

type doctorRow struct {
	status string // pass, warn, fail
	check  string
	detail string
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check a clinician's calendar data for integrity problems",
	Long: `Scans a clinician's appointments, connections, conflicts and availability
slots for problems that need attention: appointments linked to missing or
deactivated connections, inverted time ranges, conflicts referencing deleted
appointments, and slots stuck in failed or conflict status.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil {
			return fmt.Errorf("app not initialized")
		}
		clinicianID, err := uuid.Parse(doctorClinician)
		if err != nil {
			return fmt.Errorf("invalid clinician ID: %w", err)
		}

		rows, err := runDoctorChecks(cmd.Context(), app, clinicianID, doctorDays)
		if err != nil {
			return err
		}

		failed := false
		for _, row := range rows {
			fmt.Printf("%-4s %-28s %s\n", row.status, row.check, row.detail)
			if row.status == "fail" {
				failed = true
			}
		}
		if failed {
			return fmt.Errorf("integrity problems found")
		}
		return nil
	},
}

func runDoctorChecks(ctx context.Context, app *App, clinicianID uuid.UUID, days int) ([]doctorRow, error) {
	var rows []doctorRow

	now := time.Now().UTC()
	window, err := schedulingDomain.NewTimeRange(now.AddDate(0, 0, -days), now.AddDate(0, 0, days))
	if err != nil {
		return nil, err
	}

	appts, err := app.Appointments.FindByClinicianRange(ctx, clinicianID, window)
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}

	inverted := 0
	for _, appt := range appts {
		if err := appt.TimeRange().Validate(); err != nil {
			inverted++
		}
	}
	rows = append(rows, countRow("appointment ranges", inverted, "inverted", "fail"))

	// External links must point at a live connection. Connections are looked
	// up once each; most appointments share a handful of connections.
	connState := map[uuid.UUID]string{}
	dangling := 0
	inactive := 0
	for _, appt := range appts {
		ref := appt.ExternalRef()
		if ref == nil {
			continue
		}
		state, seen := connState[ref.ConnectionID]
		if !seen {
			state = lookupConnectionState(ctx, app.Connections, ref.ConnectionID)
			connState[ref.ConnectionID] = state
		}
		switch state {
		case "missing":
			dangling++
		case "inactive":
			inactive++
		}
	}
	rows = append(rows, countRow("external links", dangling, "dangling", "fail"))
	rows = append(rows, countRow("linked connections", inactive, "deactivated", "warn"))

	conflicts, err := app.Conflicts.FindUnresolved(ctx, clinicianID)
	if err != nil {
		return nil, fmt.Errorf("load conflicts: %w", err)
	}
	orphaned := 0
	for _, conflict := range conflicts {
		apptID := conflict.Local().AppointmentID
		if apptID == nil {
			continue
		}
		if _, err := app.Appointments.FindByID(ctx, *apptID); errors.Is(err, sharedDomain.ErrNotFound) {
			orphaned++
		}
	}
	rows = append(rows, countRow("open conflicts", orphaned, "orphaned", "warn"))

	slots, err := app.Slots.FindByClinician(ctx, clinicianID)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	stuck := 0
	for _, slot := range slots {
		switch slot.SyncStatus() {
		case availabilityDomain.SyncFailed, availabilityDomain.SyncConflict:
			stuck++
		}
	}
	rows = append(rows, countRow("availability slots", stuck, "need attention", "warn"))

	return rows, nil
}

func lookupConnectionState(ctx context.Context, conns connDomain.ConnectionRepository, id uuid.UUID) string {
	conn, err := conns.FindByID(ctx, id)
	if err != nil {
		return "missing"
	}
	if !conn.Active() {
		return "inactive"
	}
	return "active"
}

func countRow(check string, count int, label, severity string) doctorRow {
	if count == 0 {
		return doctorRow{status: "pass", check: check, detail: "ok"}
	}
	return doctorRow{status: severity, check: check, detail: fmt.Sprintf("%d %s", count, label)}
}

func init() {
	doctorCmd.Flags().StringVar(&doctorClinician, "clinician", "", "clinician ID (required)")
	doctorCmd.Flags().IntVar(&doctorDays, "days", 90, "days around today to scan")
	_ = doctorCmd.MarkFlagRequired("clinician")
	rootCmd.AddCommand(doctorCmd)
}
