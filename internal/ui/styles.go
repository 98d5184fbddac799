// Package ui styles the terminal output of the rtd client commands.
package ui

import "fmt"

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent = 74  // blue
	colorMuted  = 245 // medium gray
	colorOK     = 114 // green
	colorWarn   = 214 // orange
	colorError  = 203 // red
)

var noColor bool

func render(color int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", color, s)
}

// RenderAccent returns s in the accent (blue) color. Event names use it.
func RenderAccent(s string) string { return render(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color. Heartbeats and IDs use it.
func RenderMuted(s string) string { return render(colorMuted, s) }

// RenderWarn returns s in the warning (orange) color.
func RenderWarn(s string) string { return render(colorWarn, s) }

// RenderStatus colors a health status or alert severity.
func RenderStatus(s string) string {
	switch s {
	case "healthy", "ok", "info", "SERVING":
		return render(colorOK, s)
	case "degraded", "warning":
		return render(colorWarn, s)
	default:
		return render(colorError, s)
	}
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
