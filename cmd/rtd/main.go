package main

import (
	"cmp"
	"os"

	"github.com/alfredjeanlab/realtime/internal/client"
	"github.com/alfredjeanlab/realtime/internal/ui"
	"github.com/spf13/cobra"
)

var (
	serverURL  string
	authToken  string
	tenantID   string
	userID     string
	jsonOutput bool
	noColor    bool

	rtClient *client.HTTPClient
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var rootCmd = &cobra.Command{
	Use:   "rtd <command>",
	Short: "Real-time event delivery server and client",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor || !ui.ShouldUseColor(os.Stdout) {
			ui.ForceNoColor()
		}
		rtClient = client.NewHTTPClient(serverURL, authToken, client.Identity{
			TenantID: tenantID,
			UserID:   userID,
		})
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if rtClient != nil {
			rtClient.Close()
		}
	},
	SilenceUsage: true,
}

func init() {
	r := activeRemote()
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", envOr("REALTIME_URL", cmp.Or(r.URL, "http://localhost:8080")), "server base URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", envOr("REALTIME_TOKEN", r.Token), "bearer token")
	rootCmd.PersistentFlags().StringVar(&tenantID, "tenant", envOr("REALTIME_TENANT_ID", r.TenantID), "tenant ID (UUID)")
	rootCmd.PersistentFlags().StringVar(&userID, "user", envOr("REALTIME_USER_ID", r.UserID), "user ID (UUID)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "streams", Title: "Streams:"},
		&cobra.Group{ID: "alerts", Title: "Alerts:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false

	// Streams
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(connectionsCmd)

	// Alerts
	rootCmd.AddCommand(alertsCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(remoteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
