package main

import (
	"fmt"
	"os"
	"time"

	"github.com/huangxiaoye/reservation/internal/rsvp"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

// printReservation renders one reservation as a single aligned line:
//
//	#12 pending  ocean-view-room-713  2022-12-25T22:00:00Z → 2022-12-28T19:00:00Z  (tyr) note
func printReservation(r rsvp.Reservation) {
	line := fmt.Sprintf("%s %-9s %-24s %s → %s  (%s)",
		colorize(colorBold, fmt.Sprintf("#%d", r.ID)),
		r.Status,
		r.ResourceID,
		r.Window.Start.Format(time.RFC3339),
		r.Window.End.Format(time.RFC3339),
		r.UserID,
	)
	if r.Note != "" {
		line += " " + r.Note
	}
	fmt.Println(line)
}
