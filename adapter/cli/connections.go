package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	connDomain "github.com/meridianbh/cadence/internal/connections/domain"
)

var (
	connOwner        string
	connReason       string
	connProvider     string
	connDisplayName  string
	connAccessToken  string
	connRefreshToken string
	connExpiry       string
)

var connectionsCmd = &cobra.Command{
	Use:   "connections",
	Short: "Manage external calendar connections",
}

var connectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a clinician's calendar connections",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil {
			return fmt.Errorf("app not initialized")
		}
		ownerID, err := uuid.Parse(connOwner)
		if err != nil {
			return fmt.Errorf("invalid owner ID: %w", err)
		}

		conns, err := app.Connections.FindByOwner(cmd.Context(), ownerID)
		if err != nil {
			return err
		}
		if len(conns) == 0 {
			fmt.Println("no connections")
			return nil
		}
		for _, conn := range conns {
			state := "active"
			if !conn.Active() {
				state = "inactive"
			}
			lastSync := "never"
			if !conn.LastSyncAt().IsZero() {
				lastSync = conn.LastSyncAt().Format(time.RFC3339)
			}
			fmt.Printf("%s  %-8s %-8s %-24s last sync %s\n",
				conn.ID(), conn.Provider(), state, conn.DisplayName(), lastSync)
		}
		return nil
	},
}

var connectionsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Link an external calendar account",
	Long: `Link an external calendar account using tokens obtained out of band
(an OAuth consent flow for Google, or an app password for CalDAV).
Tokens are encrypted before they are stored.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil {
			return fmt.Errorf("app not initialized")
		}
		ownerID, err := uuid.Parse(connOwner)
		if err != nil {
			return fmt.Errorf("invalid owner ID: %w", err)
		}

		expiry := time.Now().UTC()
		if connExpiry != "" {
			expiry, err = time.Parse(time.RFC3339, connExpiry)
			if err != nil {
				return fmt.Errorf("invalid expiry (want RFC3339): %w", err)
			}
		}

		access, err := app.Encrypter.Encrypt([]byte(connAccessToken))
		if err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		var refresh []byte
		if connRefreshToken != "" {
			refresh, err = app.Encrypter.Encrypt([]byte(connRefreshToken))
			if err != nil {
				return fmt.Errorf("encrypt refresh token: %w", err)
			}
		}

		conn, err := connDomain.NewConnection(
			ownerID,
			connDomain.Provider(connProvider),
			connDisplayName,
			access,
			refresh,
			"Bearer",
			expiry,
		)
		if err != nil {
			return err
		}
		if err := app.Connections.Save(cmd.Context(), conn); err != nil {
			return err
		}
		fmt.Printf("linked %s (%s) as %s\n", conn.DisplayName(), conn.Provider(), conn.ID())
		return nil
	},
}

var connectionsDeactivateCmd = &cobra.Command{
	Use:   "deactivate <connection-id>",
	Short: "Deactivate a calendar connection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil {
			return fmt.Errorf("app not initialized")
		}
		connID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid connection ID: %w", err)
		}

		conn, err := app.Connections.FindByID(cmd.Context(), connID)
		if err != nil {
			return err
		}
		conn.Deactivate(connReason)
		if err := app.Connections.Save(cmd.Context(), conn); err != nil {
			return err
		}
		fmt.Printf("deactivated %s\n", conn.ID())
		return nil
	},
}

func init() {
	connectionsListCmd.Flags().StringVar(&connOwner, "owner", "", "clinician ID (required)")
	_ = connectionsListCmd.MarkFlagRequired("owner")

	connectionsAddCmd.Flags().StringVar(&connOwner, "owner", "", "clinician ID (required)")
	connectionsAddCmd.Flags().StringVar(&connProvider, "provider", "google", "calendar provider (google, caldav)")
	connectionsAddCmd.Flags().StringVar(&connDisplayName, "name", "", "display name for the account (required)")
	connectionsAddCmd.Flags().StringVar(&connAccessToken, "access-token", "", "access token (required)")
	connectionsAddCmd.Flags().StringVar(&connRefreshToken, "refresh-token", "", "refresh token")
	connectionsAddCmd.Flags().StringVar(&connExpiry, "expiry", "", "token expiry, RFC3339 (default: now, forcing refresh on first use)")
	_ = connectionsAddCmd.MarkFlagRequired("owner")
	_ = connectionsAddCmd.MarkFlagRequired("name")
	_ = connectionsAddCmd.MarkFlagRequired("access-token")

	connectionsDeactivateCmd.Flags().StringVar(&connReason, "reason", "deactivated by user", "deactivation reason")

	connectionsCmd.AddCommand(connectionsListCmd)
	connectionsCmd.AddCommand(connectionsAddCmd)
	connectionsCmd.AddCommand(connectionsDeactivateCmd)
	rootCmd.AddCommand(connectionsCmd)
}
