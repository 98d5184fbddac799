package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/realtime/internal/ui"
	"github.com/spf13/cobra"
)

var alertsCmd = &cobra.Command{
	Use:     "alerts",
	Short:   "List fired alerts and manage alert rules",
	GroupID: "alerts",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")

		var from time.Time
		if since > 0 {
			from = time.Now().Add(-since)
		}
		recs, err := rtClient.Alerts(context.Background(), from, limit)
		if err != nil {
			return fmt.Errorf("listing alerts: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), recs)
		}
		if len(recs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no alerts")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tSEVERITY\tTYPE\tCHANNELS\tMESSAGE")
		for _, r := range recs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				ui.RenderStatus(string(r.Alert.Severity)),
				r.Alert.Type,
				strings.Join(r.Channels, ","),
				truncate(r.Alert.Message, 60),
			)
		}
		return w.Flush()
	},
}

var alertsRulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List alert rules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rules, err := rtClient.Rules(context.Background())
		if err != nil {
			return fmt.Errorf("listing rules: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), rules)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RULE\tENABLED\tCOOLDOWN\tCHANNELS\tLAST FIRED")
		for _, r := range rules {
			enabled := ui.RenderStatus("ok")
			if !r.Enabled {
				enabled = ui.RenderMuted("off")
			}
			last := "-"
			if !r.LastFired.IsZero() {
				last = r.LastFired.Local().Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Name, enabled, r.Cooldown, strings.Join(r.Channels, ","), last)
		}
		return w.Flush()
	},
}

func setRuleCmd(enable bool) *cobra.Command {
	verb := "disable"
	if enable {
		verb = "enable"
	}
	return &cobra.Command{
		Use:   verb + " <rule>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " an alert rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rtClient.SetRuleEnabled(context.Background(), args[0], enable); err != nil {
				return fmt.Errorf("%s rule %s: %w", verb, args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rule %s %sd\n", args[0], verb)
			return nil
		},
	}
}

var alertsTestCmd = &cobra.Command{
	Use:   "test <channel>",
	Short: "Send a test alert through one channel (log, email, slack, webhook)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := rtClient.TestChannel(context.Background(), args[0]); err != nil {
			return fmt.Errorf("testing channel %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "test alert sent via %s\n", args[0])
		return nil
	},
}

func init() {
	alertsCmd.Flags().Duration("since", 24*time.Hour, "only alerts newer than this (0 = all)")
	alertsCmd.Flags().Int("limit", 50, "maximum number of alerts")

	alertsCmd.AddCommand(alertsRulesCmd)
	alertsCmd.AddCommand(setRuleCmd(true))
	alertsCmd.AddCommand(setRuleCmd(false))
	alertsCmd.AddCommand(alertsTestCmd)
}
