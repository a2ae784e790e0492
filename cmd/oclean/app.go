package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/oclean/internal/poller"
	"github.com/srg/oclean/internal/protocol"
	"github.com/srg/oclean/internal/store"
	"github.com/srg/oclean/internal/telemetry"
	"github.com/srg/oclean/pkg/config"
	"github.com/srg/oclean/pkg/connection"
)

// backend is a BLE stack able to both scan and connect.
type backend interface {
	connection.Transport
	connection.Scanner
}

// newBackend opens the configured BLE stack. Tests replace it.
var newBackend = func(cfg *config.Config, logger *logrus.Logger) (backend, error) {
	switch cfg.Transport {
	case config.TransportTinyGo:
		return connection.NewTinyGo(logger, protocol.ServiceUUID, protocol.BatteryServiceUUID, protocol.DISServiceUUID), nil
	default:
		if err := connection.Init(); err != nil {
			return nil, err
		}
		return connection.NewGoBLE(logger), nil
	}
}

// app carries what every command needs.
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	stateDir string
	backend  backend
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "oclean", "config.yaml")
}

// loadConfig reads --config, else the default file when present, else the
// built-in defaults. Global flags override file values.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg := config.DefaultConfig()
	if path == "" {
		if p := defaultConfigPath(); p != "" {
			if _, err := os.Stat(p); err == nil {
				path = p
			}
		}
	}
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	if v, _ := cmd.Flags().GetString("state-dir"); v != "" {
		cfg.StateDir = v
	}
	if v, _ := cmd.Flags().GetString("transport"); v != "" {
		cfg.Transport = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newApp loads configuration and opens the BLE backend.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}
	stateDir, err := cfg.ResolvedStateDir()
	if err != nil {
		return nil, err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	b, err := newBackend(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open BLE backend %q: %w", cfg.Transport, err)
	}
	return &app{cfg: cfg, logger: logger, stateDir: stateDir, backend: b}, nil
}

// resolveAddress picks the command argument, or the only configured device.
func (a *app) resolveAddress(args []string) (string, error) {
	if len(args) > 0 {
		return protocol.NormalizeAddress(args[0])
	}
	switch len(a.cfg.Devices) {
	case 0:
		return "", ErrNoDevice
	case 1:
		return protocol.NormalizeAddress(a.cfg.Devices[0].Address)
	}
	return "", errors.New("several devices are configured; pass an address")
}

func (a *app) sink() telemetry.Sink {
	sinks := telemetry.MultiSink{telemetry.NewLogSink(a.logger)}
	if a.cfg.StatisticsFile != "" {
		sinks = append(sinks, telemetry.NewJSONLinesSink(a.cfg.StatisticsFile))
	}
	return sinks
}

// pollTiming overrides poller timing. Zero fields take the defaults.
var pollTiming poller.Timing

func (a *app) pollerOptions() *poller.Options {
	opts := &poller.Options{Timing: pollTiming}
	opts.ConnectTimeout = a.cfg.ConnectTimeout
	return opts
}

// newPoller builds a poller for address backed by the state directory.
func (a *app) newPoller(address string) *poller.Poller {
	dev := a.cfg.Device(address).PollerDevice(a.logger)
	dev.Address = address
	return poller.New(dev, a.backend, store.NewFilePersister(a.stateDir, a.logger), a.sink(), a.pollerOptions(), a.logger)
}
