package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resetBrushHeadCmd = &cobra.Command{
	Use:   "reset-brush-head [address]",
	Short: "Reset the brush head usage counter after a head change",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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

		if err := a.newPoller(address).ResetBrushHead(ctx); err != nil {
			return fmt.Errorf("failed to reset brush head: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Brush head counter of %s reset\n", address)
		return nil
	},
}
