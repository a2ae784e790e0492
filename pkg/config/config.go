package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/oclean/internal/poller"
	"github.com/srg/oclean/internal/schedule"
	"gopkg.in/yaml.v3"
)

const (
	TransportGoBLE  = "goble"
	TransportTinyGo = "tinygo"

	DefaultPollInterval = 300
	MinPollInterval     = 60
)

// Config holds application configuration
type Config struct {
	LogLevel       string         `yaml:"log_level" default:"info"`
	LogFile        string         `yaml:"log_file"`
	StateDir       string         `yaml:"state_dir" default:"~/.local/state/oclean"`
	Transport      string         `yaml:"transport" default:"goble"`
	ConnectTimeout time.Duration  `yaml:"connect_timeout" default:"10s"`
	StatisticsFile string         `yaml:"statistics_file"`
	OutputFormat   string         `yaml:"output_format" default:"table"` // table, json
	Devices        []DeviceConfig `yaml:"devices"`
}

// DeviceConfig describes one brush.
type DeviceConfig struct {
	Address           string  `yaml:"address"`
	Name              string  `yaml:"name"`
	PollInterval      int     `yaml:"poll_interval" default:"300"` // seconds
	PollWindows       string  `yaml:"poll_windows"`
	PostBrushCooldown float64 `yaml:"post_brush_cooldown"` // hours, 0 disables
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML config file. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	defaults.SetDefaults(c)
	for i := range c.Devices {
		defaults.SetDefaults(&c.Devices[i])
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	switch c.Transport {
	case TransportGoBLE, TransportTinyGo:
	default:
		return fmt.Errorf("transport: unsupported value %q (want %s or %s)", c.Transport, TransportGoBLE, TransportTinyGo)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive")
	}
	switch c.OutputFormat {
	case "table", "json":
	default:
		return fmt.Errorf("output_format: unsupported value %q", c.OutputFormat)
	}

	seen := make(map[string]bool)
	for i, d := range c.Devices {
		if strings.TrimSpace(d.Address) == "" {
			return fmt.Errorf("devices[%d]: address is required", i)
		}
		key := strings.ToUpper(d.Address)
		if seen[key] {
			return fmt.Errorf("devices[%d]: duplicate address %s", i, d.Address)
		}
		seen[key] = true
		if d.PollInterval < MinPollInterval {
			return fmt.Errorf("devices[%d]: poll_interval %ds is below the minimum of %ds", i, d.PollInterval, MinPollInterval)
		}
		if d.PostBrushCooldown < 0 {
			return fmt.Errorf("devices[%d]: post_brush_cooldown must not be negative", i)
		}
	}
	return nil
}

// Device returns the configuration of address, or a default entry when the
// address is not configured.
func (c *Config) Device(address string) DeviceConfig {
	for _, d := range c.Devices {
		if strings.EqualFold(d.Address, address) {
			return d
		}
	}
	d := DeviceConfig{Address: address}
	defaults.SetDefaults(&d)
	return d
}

// ResolvedStateDir expands a leading "~" to the home directory.
func (c *Config) ResolvedStateDir() (string, error) {
	return expandHome(c.StateDir)
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// Interval returns the poll interval.
func (d DeviceConfig) Interval() time.Duration {
	return time.Duration(d.PollInterval) * time.Second
}

// PollerDevice converts the entry into a poller device. Invalid poll windows
// are logged and skipped.
func (d DeviceConfig) PollerDevice(logger *logrus.Logger) poller.Device {
	return poller.Device{
		Address:  d.Address,
		Name:     d.Name,
		Windows:  schedule.ParseWindows(d.PollWindows, logger),
		Cooldown: time.Duration(d.PostBrushCooldown * float64(time.Hour)),
	}
}

// NewLogger creates a configured logger instance. A configured log file
// receives the output instead of stderr.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	if c.LogFile != "" {
		path, err := expandHome(c.LogFile)
		if err != nil {
			return nil, err
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logger.SetOutput(f)
	}

	return logger, nil
}
