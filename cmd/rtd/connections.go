package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/realtime/internal/ui"
	"github.com/spf13/cobra"
)

var connectionsCmd = &cobra.Command{
	Use:     "connections",
	Aliases: []string{"conns"},
	Short:   "List the tenant's open streams",
	GroupID: "streams",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conns, err := rtClient.Connections(context.Background())
		if err != nil {
			return fmt.Errorf("listing connections: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), conns)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CONNECTION\tUSER\tCONNECTED\tLAST HEARTBEAT\tLAST EVENT")
		now := time.Now()
		for _, c := range conns {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				c.ID,
				c.UserID,
				c.ConnectedAt.Local().Format("2006-01-02 15:04:05"),
				ui.RenderMuted(now.Sub(c.LastHeartbeatAt).Round(time.Second).String()+" ago"),
				truncate(c.LastEventID, 40),
			)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d connection(s)\n", len(conns))
		return nil
	},
}
