package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"time"

	"github.com/alfredjeanlab/realtime/internal/client"
	"github.com/alfredjeanlab/realtime/internal/ui"
	"github.com/spf13/cobra"
)

// errTailDone ends a follow once --count events have been printed.
var errTailDone = errors.New("tail: count reached")

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Stream the tenant's events, reconnecting with the last seen event ID",
	Long: `Opens the SSE stream for --tenant/--user and prints every event as it
arrives. Dropped connections are reopened with the last seen event ID so the
server replays what was missed; sequence gaps that survive replay are
reported as warnings.`,
	GroupID: "streams",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		lastEventID, _ := cmd.Flags().GetString("last-event-id")
		heartbeats, _ := cmd.Flags().GetBool("heartbeats")
		count, _ := cmd.Flags().GetInt("count")
		verbose, _ := cmd.Flags().GetBool("verbose")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

		out := cmd.OutOrStdout()
		printed := 0
		err := rtClient.Follow(ctx, client.FollowConfig{
			LastEventID: lastEventID,
			Logger:      logger,
		}, func(d client.Delivery) error {
			if d.Message.IsControl() && !heartbeats && d.Message.Type == client.TypeHeartbeat {
				return nil
			}
			if jsonOutput {
				fmt.Fprintln(out, strings.TrimSpace(string(d.Frame.Data)))
			} else {
				printDelivery(out, d)
			}
			if !d.Message.IsControl() {
				printed++
				if count > 0 && printed >= count {
					return errTailDone
				}
			}
			return nil
		})
		if errors.Is(err, errTailDone) || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

// printDelivery renders one frame as a single human-readable line.
func printDelivery(w io.Writer, d client.Delivery) {
	m := d.Message
	ts := time.UnixMilli(m.Timestamp).Format("15:04:05.000")

	switch m.Type {
	case client.TypeConnected:
		fmt.Fprintf(w, "%s %s %s\n", ts, ui.RenderStatus("ok"), ui.RenderMuted("connected as "+m.ConnectionID))
		return
	case client.TypeHeartbeat:
		fmt.Fprintf(w, "%s %s\n", ts, ui.RenderMuted("heartbeat"))
		return
	}

	if d.Gap > 0 {
		fmt.Fprintf(w, "%s %s\n", ts, ui.RenderWarn(fmt.Sprintf("gap: %d event(s) missed in %s", d.Gap, scopeLabel(m))))
	}
	fmt.Fprintf(w, "%s %s %s #%d %s\n",
		ts,
		ui.RenderAccent(m.Type),
		scopeLabel(m),
		m.Sequence,
		formatData(m.Data),
	)
	if d.Frame.ID != "" {
		fmt.Fprintf(w, "    %s\n", ui.RenderMuted("id: "+d.Frame.ID))
	}
}

func scopeLabel(m client.Message) string {
	if m.ApplicationID == nil || *m.ApplicationID == "" {
		return "global"
	}
	return "app/" + *m.ApplicationID
}

// formatData renders a payload as sorted key=value pairs.
func formatData(data map[string]any) string {
	if len(data) == 0 {
		return ""
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, data[k]))
	}
	return strings.Join(parts, " ")
}

func init() {
	tailCmd.Flags().String("last-event-id", "", "resume after this event ID")
	tailCmd.Flags().Bool("heartbeats", false, "print heartbeat frames")
	tailCmd.Flags().IntP("count", "n", 0, "exit after this many events (0 = follow forever)")
	tailCmd.Flags().BoolP("verbose", "v", false, "log reconnects and stream errors")
}
