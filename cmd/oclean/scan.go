package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/oclean/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover nearby Oclean brushes",
	Long: `Scan for Bluetooth Low Energy advertisements and list the Oclean brushes
in range with their address, name and signal strength.

Use --all to list every advertising device.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration  time.Duration
	scanFormat    string
	scanAllowList []string
	scanBlockList []string
	scanAll       bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show devices with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these addresses")
	scanCmd.Flags().BoolVarP(&scanAll, "all", "a", false, "Show every BLE device, not only Oclean brushes")
}

func runScan(cmd *cobra.Command, _ []string) error {
	if err := validateFormat(scanFormat); err != nil {
		return err
	}
	if scanDuration <= 0 {
		return fmt.Errorf("invalid duration %s: must be positive", scanDuration)
	}
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	opts := scanner.DefaultScanOptions()
	opts.Duration = scanDuration
	opts.OcleanOnly = !scanAll
	opts.AllowList = scanAllowList
	opts.BlockList = scanBlockList

	var progress scanner.ProgressCallback
	if scanFormat == "table" {
		printer := NewProgressPrinter("Scanning for brushes", "Scanning", scanDuration, "Processing results")
		printer.Start()
		defer printer.Stop()
		progress = printer.Callback()
	}

	devices, err := scanner.NewScanner(a.backend, a.logger).Scan(ctx, opts, progress)
	if err != nil {
		return err
	}

	if scanFormat == "json" {
		if devices == nil {
			devices = []scanner.Device{}
		}
		return writeJSON(cmd.OutOrStdout(), devices)
	}
	renderDevices(cmd.OutOrStdout(), devices)
	return nil
}

func renderDevices(w io.Writer, devices []scanner.Device) {
	if len(devices) == 0 {
		fmt.Fprintln(w, "No devices found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Address\tName\tRSSI\tOclean\tConnectable")
	fmt.Fprintln(tw, "-------\t----\t----\t------\t-----------")
	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", d.Address, name, d.RSSI, yesNo(d.Oclean), yesNo(d.Connectable))
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\nFound %d device(s)\n", len(devices))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
