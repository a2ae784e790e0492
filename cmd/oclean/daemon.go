package main

import (
	"context"
	"errors"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/oclean/internal/groutine"
	"github.com/srg/oclean/internal/poller"
	"github.com/srg/oclean/internal/protocol"
	"github.com/srg/oclean/internal/schedule"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Poll every configured brush on its interval",
	Long: `Run one poll loop per configured device until interrupted.

Each device is polled immediately and then every poll_interval seconds,
subject to its poll windows and post-brush cooldown. New sessions are
logged and, when statistics_file is set, appended to it as JSON lines.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

// pollerRegistry indexes running pollers by normalized address.
type pollerRegistry = hashmap.Map[string, *poller.Poller]

func runDaemon(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	if len(a.cfg.Devices) == 0 {
		return ErrNoDevice
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	registry, group, err := startPollers(ctx, a)
	if err != nil {
		return err
	}
	a.logger.WithField("devices", registry.Len()).Info("Daemon started")

	<-ctx.Done()
	a.logger.Info("Shutting down")
	group.Wait()
	logFinalSnapshots(registry, a.logger)
	return nil
}

// startPollers launches a loop per device. The registry is filled before any
// loop starts.
func startPollers(ctx context.Context, a *app) (*pollerRegistry, *groutine.Group, error) {
	registry := hashmap.New[string, *poller.Poller]()
	intervals := make(map[string]time.Duration, len(a.cfg.Devices))
	for _, d := range a.cfg.Devices {
		address, err := protocol.NormalizeAddress(d.Address)
		if err != nil {
			return nil, nil, err
		}
		p := a.newPoller(address)
		registry.Set(address, p)
		intervals[address] = d.Interval()
		a.logger.WithFields(logrus.Fields{
			"device":   address,
			"interval": d.Interval(),
			"windows":  schedule.FormatWindows(p.Device().Windows),
			"cooldown": p.Device().Cooldown,
		}).Info("Device scheduled")
	}

	group := &groutine.Group{}
	registry.Range(func(address string, p *poller.Poller) bool {
		interval := intervals[address]
		group.Go(ctx, "poll-"+protocol.MACSlug(address), func(ctx context.Context) {
			runPollLoop(ctx, p, interval, a.logger)
		})
		return true
	})
	return registry, group, nil
}

// runPollLoop polls p immediately and then every interval until ctx is done.
func runPollLoop(ctx context.Context, p *poller.Poller, interval time.Duration, logger *logrus.Logger) {
	log := logger.WithFields(logrus.Fields{
		"device":    p.Device().Address,
		"goroutine": groutine.GetName(ctx),
	})
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res, err := p.Poll(ctx)
		switch {
		case errors.Is(err, context.Canceled):
			return
		case err != nil:
			log.WithError(err).Warn("Poll failed")
		case res.Skipped():
			log.WithField("decision", res.Decision.String()).Debug("Poll skipped")
		case res.Snapshot.Stale:
			log.Info("Device unreachable, snapshot marked stale")
		default:
			log.WithField("new_sessions", len(res.NewSessions)).Info("Poll finished")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func logFinalSnapshots(registry *pollerRegistry, logger *logrus.Logger) {
	registry.Range(func(address string, p *poller.Poller) bool {
		snap := p.Snapshot()
		logger.WithFields(logrus.Fields{
			"device":   address,
			"ready":    snap.Ready(),
			"stale":    snap.Stale,
			"snapshot": snap.Fields.String(),
		}).Info("Final device state")
		return true
	})
}
