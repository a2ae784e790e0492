package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/oclean/inspector"
	"github.com/srg/oclean/pkg/connection"
)

var infoCmd = &cobra.Command{
	Use:   "info [address]",
	Short: "Show identity, battery and protocol family of a brush",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInfo,
}

var infoFormat string

func init() {
	infoCmd.Flags().StringVarP(&infoFormat, "format", "f", "table", "Output format (table, json)")
}

func runInfo(cmd *cobra.Command, args []string) error {
	if err := validateFormat(infoFormat); err != nil {
		return err
	}
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	address, err := a.resolveAddress(args)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	var progress inspector.ProgressCallback
	if infoFormat == "table" {
		printer := NewProgressPrinter("Inspecting "+address, "Connecting", 0, "Processing results", "Failed")
		printer.Start()
		defer printer.Stop()
		progress = printer.Callback()
	}

	info, err := inspector.InspectDevice(ctx, a.backend, address,
		&inspector.InspectOptions{ConnectTimeout: a.cfg.ConnectTimeout}, a.logger, progress,
		func(link connection.Link) (*inspector.DeviceInfo, error) {
			return inspector.ReadDeviceInfo(link, a.logger)
		})
	if err != nil {
		return err
	}

	if infoFormat == "json" {
		return writeJSON(cmd.OutOrStdout(), info)
	}
	renderInfo(cmd.OutOrStdout(), info)
	return nil
}

func renderInfo(w io.Writer, info *inspector.DeviceInfo) {
	headColor.Fprintln(w, info.Address)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Model\t%s\n", orDash(info.ModelID))
	fmt.Fprintf(tw, "Hardware\t%s\n", orDash(info.HWRevision))
	fmt.Fprintf(tw, "Firmware\t%s\n", orDash(info.SWVersion))
	if info.Battery != nil {
		fmt.Fprintf(tw, "Battery\t%d%%\n", *info.Battery)
	} else {
		fmt.Fprintf(tw, "Battery\t-\n")
	}
	fmt.Fprintf(tw, "Family\t%s\n", info.Family)
	_ = tw.Flush()

	fmt.Fprintln(w, "\nCharacteristics:")
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, c := range info.Characteristics {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", c.Name, c.UUID, yesNo(c.Present))
	}
	_ = tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
