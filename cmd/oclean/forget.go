package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/oclean/internal/store"
)

var forgetCmd = &cobra.Command{
	Use:   "forget [address]",
	Short: "Delete the stored history watermark and brush head counter of a brush",
	Long: `Remove the persisted state of a brush. The next poll treats every session
the brush still holds as new and restarts the software brush head counter.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runForget,
}

func runForget(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}
	stateDir, err := cfg.ResolvedStateDir()
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	a := &app{cfg: cfg, logger: logger, stateDir: stateDir}
	address, err := a.resolveAddress(args)
	if err != nil {
		return err
	}

	fp := store.NewFilePersister(stateDir, logger)
	if err := fp.Delete(address); err != nil {
		return fmt.Errorf("failed to delete state of %s: %w", address, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Forgot %s (%s)\n", address, fp.Path(address))
	return nil
}
