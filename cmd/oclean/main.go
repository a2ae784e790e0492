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

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "oclean",
	Short: "Oclean toothbrush BLE poller",
	Long: `Poll Oclean smart toothbrushes over Bluetooth Low Energy:

- Discover nearby brushes
- Read battery, last session score, duration, pressure and brushed areas
- Page through the brushing history and publish new sessions once
- Track brush head usage and reset it after a head change
- Run as a daemon with poll windows and a post-brush cooldown`,
	Version: formatVersion(version),
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
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("oclean {{.Version}} (commit %s, built %s)\n", commit, date))

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(resetBrushHeadCmd)
	rootCmd.AddCommand(forgetCmd)

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/oclean/config.yaml when present)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("state-dir", "", "Directory for per-device state files")
	rootCmd.PersistentFlags().String("transport", "", "BLE backend (goble, tinygo)")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
