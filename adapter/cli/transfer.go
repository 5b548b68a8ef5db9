package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/meridianbh/cadence/internal/interchange"
	schedulingDomain "github.com/meridianbh/cadence/internal/scheduling/domain"
)

var (
	transferClinician  string
	transferOutput     string
	transferFormat     string
	transferDays       int
	transferClientInfo bool
	transferNotes      bool
	transferCancelled  bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export appointments to a file",
	Long: `Export a clinician's appointments to ICS, CSV or JSON. The format is
inferred from the output file extension unless --format is given.

Examples:
  cadence export --clinician <id> -o schedule.ics
  cadence export --clinician <id> -o schedule.csv --days 30
  cadence export --clinician <id> -o schedule.json --notes --client-info`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil || app.Transfer == nil {
			return fmt.Errorf("app not initialized")
		}
		clinicianID, err := uuid.Parse(transferClinician)
		if err != nil {
			return fmt.Errorf("invalid clinician ID: %w", err)
		}

		now := time.Now().UTC()
		window := schedulingDomain.TimeRange{Start: now.AddDate(0, 0, -transferDays), End: now.AddDate(0, 0, transferDays)}
		appts, err := app.Appointments.FindByClinicianRange(cmd.Context(), clinicianID, window)
		if err != nil {
			return err
		}
		if len(appts) == 0 {
			fmt.Fprintln(os.Stderr, "no appointments in the window")
			return nil
		}

		f, err := os.Create(transferOutput)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()

		opts := interchange.ExportOptions{
			Format:            interchange.Format(transferFormat),
			DateRange:         &window,
			IncludeClientInfo: transferClientInfo,
			IncludeNotes:      transferNotes,
			IncludeCancelled:  transferCancelled,
		}
		result, err := app.Transfer.Export(f, transferOutput, appts, opts)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "exported %d events to %s\n", result.EventCount, transferOutput)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import appointments from a file",
	Long: `Import appointments from an ICS, CSV or JSON file. Every imported
appointment is assigned to the given clinician. Malformed records are
skipped and reported; they never abort the import.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil || app.Transfer == nil {
			return fmt.Errorf("app not initialized")
		}
		clinicianID, err := uuid.Parse(transferClinician)
		if err != nil {
			return fmt.Errorf("invalid clinician ID: %w", err)
		}

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open file: %w", err)
		}
		defer f.Close()

		opts := interchange.ImportOptions{
			Format:      interchange.Format(transferFormat),
			ClinicianID: clinicianID,
		}
		result, err := app.Transfer.Import(f, args[0], opts)
		if err != nil {
			return err
		}

		for _, appt := range result.Appointments {
			if err := app.Appointments.Save(cmd.Context(), appt); err != nil {
				return fmt.Errorf("save appointment %s: %w", appt.ID(), err)
			}
		}

		fmt.Printf("imported %d of %d events (%d skipped)\n",
			result.ImportedEvents, result.TotalEvents, result.SkippedEvents)
		for _, recErr := range result.Errors {
			fmt.Fprintf(os.Stderr, "  record %d: %s\n", recErr.Index, recErr.Reason)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&transferClinician, "clinician", "", "clinician ID (required)")
	exportCmd.Flags().StringVarP(&transferOutput, "output", "o", "", "output file (required)")
	exportCmd.Flags().StringVarP(&transferFormat, "format", "f", "", "format override (ics, csv, json)")
	exportCmd.Flags().IntVar(&transferDays, "days", 90, "window size in days, both directions")
	exportCmd.Flags().BoolVar(&transferClientInfo, "client-info", false, "include client identifiers")
	exportCmd.Flags().BoolVar(&transferNotes, "notes", false, "include session notes")
	exportCmd.Flags().BoolVar(&transferCancelled, "cancelled", false, "include cancelled appointments")
	_ = exportCmd.MarkFlagRequired("clinician")
	_ = exportCmd.MarkFlagRequired("output")

	importCmd.Flags().StringVar(&transferClinician, "clinician", "", "clinician ID (required)")
	importCmd.Flags().StringVarP(&transferFormat, "format", "f", "", "format override (ics, csv, json)")
	_ = importCmd.MarkFlagRequired("clinician")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
