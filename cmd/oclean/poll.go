package main

import (
	"time"

	"github.com/spf13/cobra"
)

// pollCmd runs one gated poll cycle
var pollCmd = &cobra.Command{
	Use:   "poll [address]",
	Short: "Poll a brush once",
	Long: `Connect to a brush, read its status and the history recorded since the
last poll, then print the resulting snapshot and any new sessions.

Poll windows and the post-brush cooldown of the configured device apply.
When the brush is out of range the last known values are shown as stale.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPoll,
}

var pollFormat string

func init() {
	pollCmd.Flags().StringVarP(&pollFormat, "format", "f", "", "Output format (table, json); defaults to output_format from the config")
}

func runPoll(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	format := pollFormat
	if format == "" {
		format = a.cfg.OutputFormat
	}
	if err := validateFormat(format); err != nil {
		return err
	}
	address, err := a.resolveAddress(args)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	p := a.newPoller(address)
	res, err := p.Poll(ctx)
	if err != nil {
		return err
	}
	return renderPoll(cmd.OutOrStdout(), format, p.Device(), res, time.Local)
}
