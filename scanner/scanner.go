package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/oclean/internal/protocol"
	"github.com/srg/oclean/internal/ringchan"
	"github.com/srg/oclean/pkg/connection"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

// NamePrefix identifies Oclean brushes that do not advertise the service UUID.
const NamePrefix = "oclean"

// Device is one discovered peripheral.
type Device struct {
	Address     string    `json:"address"`
	Name        string    `json:"name,omitempty"`
	RSSI        int       `json:"rssi"`
	Services    []string  `json:"services,omitempty"`
	Connectable bool      `json:"connectable"`
	Oclean      bool      `json:"oclean"`
	LastSeen    time.Time `json:"last_seen"`
}

type DeviceEvent struct {
	Type   DeviceEventType
	Device Device
}

// Scanner handles BLE device discovery
type Scanner struct {
	source  connection.Scanner
	devices *hashmap.Map[string, *entry]
	events  *ringchan.RingChannel[DeviceEvent]
	logger  *logrus.Logger
}

type entry struct {
	mu  sync.Mutex
	dev Device
}

func (e *entry) get() Device {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dev
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration        time.Duration
	DuplicateFilter bool
	OcleanOnly      bool
	AllowList       []string
	BlockList       []string
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		DuplicateFilter: true,
		OcleanOnly:      true,
	}
}

// NewScanner creates a scanner over source
func NewScanner(source connection.Scanner, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}

	return &Scanner{
		source: source,
		events: ringchan.New[DeviceEvent](100),
		logger: logger,
	}
}

// IsOclean reports whether an advertisement belongs to an Oclean brush: it
// either advertises the Oclean service or carries an "Oclean" name.
func IsOclean(adv connection.Advertisement) bool {
	want := connection.NormalizeUUID(protocol.ServiceUUID)
	for _, s := range adv.Services {
		if connection.NormalizeUUID(s) == want {
			return true
		}
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(adv.Name)), NamePrefix)
}

// Scan performs BLE discovery with provided options. The result is sorted by
// descending signal strength.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) ([]Device, error) {
	s.devices = hashmap.New[string, *entry]()

	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {}
	}

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")
	progressCallback("Scanning")

	scanCtx := ctx
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	err := s.source.Scan(scanCtx, !opts.DuplicateFilter, func(adv connection.Advertisement) {
		s.handleAdvertisement(adv, opts)
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")
	progressCallback("Processing results")

	return s.deviceList(), nil
}

// handleAdvertisement updates existing or adds a new device
func (s *Scanner) handleAdvertisement(adv connection.Advertisement, opts *ScanOptions) {
	e, existing := s.devices.Get(adv.Address)
	if !existing {
		if !shouldIncludeDevice(adv, opts) {
			return
		}
		e, existing = s.devices.GetOrInsert(adv.Address, &entry{})
	}

	e.mu.Lock()
	e.dev.Address = adv.Address
	if adv.Name != "" {
		e.dev.Name = adv.Name
	}
	e.dev.RSSI = adv.RSSI
	e.dev.Connectable = e.dev.Connectable || adv.Connectable
	e.dev.Services = mergeServices(e.dev.Services, adv.Services)
	e.dev.Oclean = e.dev.Oclean || IsOclean(adv)
	e.dev.LastSeen = time.Now()
	dev := e.dev
	e.mu.Unlock()

	event := DeviceEvent{Device: dev}
	if existing {
		event.Type = EventUpdated
	} else {
		s.logger.WithFields(logrus.Fields{
			"device":  dev.Name,
			"address": dev.Address,
			"rssi":    dev.RSSI,
		}).Info("Discovered new device")
		event.Type = EventNew
	}

	s.events.ForceSend(event)
}

// shouldIncludeDevice applies the allow, block and Oclean filters
func shouldIncludeDevice(adv connection.Advertisement, opts *ScanOptions) bool {
	addr := strings.ToUpper(adv.Address)

	for _, blocked := range opts.BlockList {
		if addr == strings.ToUpper(blocked) {
			return false
		}
	}

	if len(opts.AllowList) > 0 {
		allowed := false
		for _, a := range opts.AllowList {
			if addr == strings.ToUpper(a) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if opts.OcleanOnly && !IsOclean(adv) {
		return false
	}
	return true
}

func mergeServices(have, add []string) []string {
	for _, a := range add {
		found := false
		for _, h := range have {
			if h == a {
				found = true
				break
			}
		}
		if !found {
			have = append(have, a)
		}
	}
	return have
}

func (s *Scanner) deviceList() []Device {
	devs := make([]Device, 0, s.devices.Len())
	s.devices.Range(func(_ string, e *entry) bool {
		devs = append(devs, e.get())
		return true
	})
	sort.Slice(devs, func(i, j int) bool {
		if devs[i].RSSI != devs[j].RSSI {
			return devs[i].RSSI > devs[j].RSSI
		}
		return devs[i].Address < devs[j].Address
	})
	return devs
}

// Events return a read-only channel of device events
func (s *Scanner) Events() <-chan DeviceEvent {
	return s.events.C()
}
