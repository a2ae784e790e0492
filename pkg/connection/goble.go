package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
)

var (
	initOnce sync.Once
	initErr  error
)

// Init creates the process-wide go-ble device and installs it as the
// default. It is safe to call any number of times; only the first call
// touches the adapter.
func Init() error {
	initOnce.Do(func() {
		dev, err := DeviceFactory()
		if err != nil {
			initErr = NormalizeError(fmt.Errorf("failed to create BLE device: %w", err))
			return
		}
		ble.SetDefaultDevice(dev)
	})
	return initErr
}

// GoBLE is the go-ble backed Transport and Scanner.
type GoBLE struct {
	logger *logrus.Logger
}

// NewGoBLE creates the go-ble transport
func NewGoBLE(logger *logrus.Logger) *GoBLE {
	if logger == nil {
		logger = logrus.New()
	}
	return &GoBLE{logger: logger}
}

// Connect dials the device and discovers its GATT profile.
func (t *GoBLE) Connect(ctx context.Context, opts *ConnectOptions) (Link, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := Init(); err != nil {
		return nil, err
	}

	t.logger.WithFields(logrus.Fields{
		"address": opts.Address,
		"timeout": opts.ConnectTimeout,
	}).Info("Connecting to BLE device...")

	connCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	client, err := ble.Dial(connCtx, ble.NewAddr(opts.Address))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", opts.Address, NormalizeError(err))
	}

	t.logger.WithField("address", opts.Address).Debug("Discovering services and characteristics...")
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			t.logger.WithError(cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	link := newGoBLELink(opts.Address, client, profile, t.logger)
	t.logger.WithFields(logrus.Fields{
		"address":         opts.Address,
		"services":        len(profile.Services),
		"characteristics": len(link.chars),
	}).Info("BLE device connected successfully")
	return link, nil
}

// Scan reports advertisements from the default device until ctx is done.
func (t *GoBLE) Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error {
	if err := Init(); err != nil {
		return err
	}
	err := ble.Scan(ctx, allowDup, func(a ble.Advertisement) {
		handler(fromBLEAdvertisement(a))
	}, nil)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return NormalizeError(err)
	}
	return nil
}

func fromBLEAdvertisement(a ble.Advertisement) Advertisement {
	services := make([]string, len(a.Services()))
	for i, u := range a.Services() {
		services[i] = NormalizeUUID(u.String())
	}
	return Advertisement{
		Address:     a.Addr().String(),
		Name:        a.LocalName(),
		RSSI:        a.RSSI(),
		Services:    services,
		Connectable: a.Connectable(),
	}
}

// goBLELink is a connected go-ble client with its characteristics indexed
// by normalized UUID.
type goBLELink struct {
	address string
	client  ble.Client
	chars   map[string]*ble.Characteristic
	logger  *logrus.Logger

	writeMutex sync.Mutex
	connMutex  sync.RWMutex
	connected  bool
}

func newGoBLELink(address string, client ble.Client, profile *ble.Profile, logger *logrus.Logger) *goBLELink {
	l := &goBLELink{
		address:   address,
		client:    client,
		chars:     make(map[string]*ble.Characteristic),
		logger:    logger,
		connected: true,
	}
	for _, svc := range profile.Services {
		for _, c := range svc.Characteristics {
			uuid := NormalizeUUID(c.UUID.String())
			l.chars[uuid] = c
			logger.WithFields(logrus.Fields{
				"service_uuid": NormalizeUUID(svc.UUID.String()),
				"char_uuid":    uuid,
			}).Debug("Found characteristic UUID")
		}
	}
	return l
}

func (l *goBLELink) Address() string {
	return l.address
}

func (l *goBLELink) HasCharacteristic(uuid string) bool {
	_, ok := l.chars[NormalizeUUID(uuid)]
	return ok
}

func (l *goBLELink) characteristic(uuid string) (*ble.Characteristic, error) {
	l.connMutex.RLock()
	connected := l.connected
	l.connMutex.RUnlock()
	if !connected {
		return nil, ErrNotConnected
	}

	c, ok := l.chars[NormalizeUUID(uuid)]
	if !ok {
		return nil, &NotFoundError{Resource: "characteristic", UUIDs: []string{uuid}}
	}
	return c, nil
}

func (l *goBLELink) Write(uuid string, data []byte, withResponse bool) error {
	c, err := l.characteristic(uuid)
	if err != nil {
		return err
	}

	l.writeMutex.Lock()
	defer l.writeMutex.Unlock()

	if err := l.client.WriteCharacteristic(c, data, !withResponse); err != nil {
		return fmt.Errorf("failed to write to characteristic %s: %w", uuid, NormalizeError(err))
	}
	l.logger.WithFields(logrus.Fields{
		"uuid":  uuid,
		"bytes": len(data),
	}).Debug("Wrote to characteristic")
	return nil
}

func (l *goBLELink) Read(uuid string) ([]byte, error) {
	c, err := l.characteristic(uuid)
	if err != nil {
		return nil, err
	}
	data, err := l.client.ReadCharacteristic(c)
	if err != nil {
		return nil, fmt.Errorf("failed to read characteristic %s: %w", uuid, NormalizeError(err))
	}
	return data, nil
}

func (l *goBLELink) Subscribe(uuid string, handler NotificationHandler) error {
	c, err := l.characteristic(uuid)
	if err != nil {
		return err
	}
	if c.Property&(ble.CharNotify|ble.CharIndicate) == 0 {
		return fmt.Errorf("characteristic %s does not support notifications", uuid)
	}

	indicate := c.Property&ble.CharNotify == 0
	err = l.client.Subscribe(c, indicate, func(data []byte) {
		l.logger.WithFields(logrus.Fields{
			"uuid": uuid,
			"hex":  fmt.Sprintf("%x", data),
		}).Debug("Received notification")
		handler(uuid, data)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", uuid, NormalizeError(err))
	}
	return nil
}

// Disconnect cancels the connection. A second call is a no-op.
func (l *goBLELink) Disconnect() error {
	l.connMutex.Lock()
	if !l.connected {
		l.connMutex.Unlock()
		l.logger.Debug("Disconnect called but already disconnected")
		return nil
	}
	l.connected = false
	l.connMutex.Unlock()

	if err := l.client.CancelConnection(); err != nil {
		l.logger.WithError(err).Warn("BLE device disconnected with errors")
		return NormalizeError(err)
	}
	l.logger.WithField("address", l.address).Info("BLE device disconnected successfully")
	return nil
}
