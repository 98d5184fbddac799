package main

import (
	"context"
	"fmt"
	"slices"

	"github.com/alfredjeanlab/realtime/internal/ui"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the health of the realtime service",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := rtClient.Health(context.Background())
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			if err := printJSON(out, report); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(out, "Health: %s\n", ui.RenderStatus(report.Status))
			names := make([]string, 0, len(report.Components))
			for name := range report.Components {
				names = append(names, name)
			}
			slices.Sort(names)
			for _, name := range names {
				fmt.Fprintf(out, "  %-10s %s\n", name, ui.RenderStatus(report.Components[name]))
			}
			fmt.Fprintf(out, "Connections: %d\n", report.ActiveConnections)
			fmt.Fprintf(out, "Published:   %d\n", report.EventsPublished)
			fmt.Fprintf(out, "Delivered:   %d\n", report.EventsDelivered)
			fmt.Fprintf(out, "Avg latency: %.1fms\n", report.AverageLatencyMS)
			if report.SequenceDegraded {
				fmt.Fprintln(out, ui.RenderWarn("Sequencer running on local fallback"))
			}
		}

		if report.Status != "healthy" {
			return fmt.Errorf("unhealthy: %s", report.Status)
		}
		return nil
	},
}
