package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alfredjeanlab/realtime/internal/client"
	"github.com/spf13/cobra"
)

var publishCmd = &cobra.Command{
	Use:   "publish <event-type>",
	Short: "Publish an event to the tenant's streams",
	Example: `  rtd publish application_status_changed --app 42 --set old_status=applied --set new_status=interview
  rtd publish system_alert --data '{"message":"maintenance at 22:00"}'`,
	GroupID: "streams",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appID, _ := cmd.Flags().GetString("app")
		raw, _ := cmd.Flags().GetString("data")
		sets, _ := cmd.Flags().GetStringArray("set")

		data, err := buildPayload(raw, sets)
		if err != nil {
			return err
		}

		resp, err := rtClient.Publish(context.Background(), &client.PublishRequest{
			EventType:     args[0],
			Data:          data,
			ApplicationID: appID,
		})
		if err != nil {
			return fmt.Errorf("publishing event: %w", err)
		}

		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), resp)
		}
		scope := "global"
		if resp.ApplicationID != "" {
			scope = "app/" + resp.ApplicationID
		}
		fmt.Fprintf(cmd.OutOrStdout(), "published %s to tenant %s (%s)\n", resp.EventType, resp.TenantID, scope)
		return nil
	},
}

// buildPayload merges a JSON object with key=value overrides.
func buildPayload(raw string, sets []string) (map[string]any, error) {
	data := map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return nil, fmt.Errorf("--data must be a JSON object: %w", err)
		}
	}
	for _, kv := range sets {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("--set %q: expected key=value", kv)
		}
		data[k] = v
	}
	return data, nil
}

func init() {
	publishCmd.Flags().String("app", "", "application ID to scope the event to")
	publishCmd.Flags().String("data", "", "event payload as a JSON object")
	publishCmd.Flags().StringArray("set", nil, "payload field as key=value (repeatable)")
}
