package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

var rootCmd = &cobra.Command{
	Use:   "hrmon",
	Short: "Bluetooth LE heart rate monitor client",
	Long: `Connects to the first nearby Bluetooth LE heart rate monitor and streams its readings:

- Heart rate, battery level and body sensor location
- Manufacturer and model strings from the Device Information service
- Output to the console, a WebSocket feed, a serial-style PTY and Lua hooks

Use "hrmon decode" to decode captured characteristic payloads offline.`,
	Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// main() prints errors itself
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(uuidsCmd)

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/hrmon/config.yaml)")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
