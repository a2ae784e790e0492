package connection

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"
)

// TinyGo is the tinygo bluetooth backed Transport and Scanner. On Linux it
// talks to BlueZ over D-Bus, so it works without raw HCI access.
type TinyGo struct {
	adapter *bluetooth.Adapter
	logger  *logrus.Logger

	// KnownServices are matched against advertisements during Scan, since
	// the adapter only answers membership queries.
	KnownServices []string

	enableOnce sync.Once
	enableErr  error
}

// NewTinyGo creates a transport on the default adapter.
func NewTinyGo(logger *logrus.Logger, knownServices ...string) *TinyGo {
	if logger == nil {
		logger = logrus.New()
	}
	return &TinyGo{
		adapter:       bluetooth.DefaultAdapter,
		logger:        logger,
		KnownServices: knownServices,
	}
}

func (t *TinyGo) enable() error {
	t.enableOnce.Do(func() {
		if err := t.adapter.Enable(); err != nil {
			t.enableErr = NormalizeError(fmt.Errorf("failed to enable adapter: %w", err))
		}
	})
	return t.enableErr
}

type dialResult[D any] struct {
	device D
	err    error
}

// awaitDial waits for a connect running in the background. When ctx ends
// first the dial keeps going, and a device it yields later is handed to
// release so the adapter does not stay connected.
func awaitDial[D any](ctx context.Context, ch <-chan dialResult[D], release func(D)) (D, error) {
	select {
	case res := <-ch:
		return res.device, res.err
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.err == nil {
				release(res.device)
			}
		}()
		var zero D
		return zero, ctx.Err()
	}
}

// Connect dials the device and discovers all services and characteristics.
func (t *TinyGo) Connect(ctx context.Context, opts *ConnectOptions) (Link, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := t.enable(); err != nil {
		return nil, err
	}

	var addr bluetooth.Address
	addr.Set(opts.Address)

	t.logger.WithFields(logrus.Fields{
		"address": opts.Address,
		"timeout": opts.ConnectTimeout,
	}).Info("Connecting to BLE device...")

	ch := make(chan dialResult[bluetooth.Device], 1)
	go func() {
		device, err := t.adapter.Connect(addr, bluetooth.ConnectionParams{
			ConnectionTimeout: bluetooth.NewDuration(opts.ConnectTimeout),
		})
		ch <- dialResult[bluetooth.Device]{device, err}
	}()

	device, err := awaitDial(ctx, ch, func(d bluetooth.Device) {
		t.logger.WithField("address", opts.Address).Debug("Releasing connection established after cancellation")
		_ = d.Disconnect()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", opts.Address, NormalizeError(err))
	}

	services, err := device.DiscoverServices(nil)
	if err != nil {
		_ = device.Disconnect()
		return nil, fmt.Errorf("failed to discover services: %w", NormalizeError(err))
	}

	link := &tinyGoLink{
		address: opts.Address,
		device:  device,
		chars:   make(map[string]bluetooth.DeviceCharacteristic),
		logger:  t.logger,
	}
	for _, svc := range services {
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			t.logger.WithError(err).WithField("service_uuid", svc.UUID().String()).Debug("Failed to discover characteristics")
			continue
		}
		for _, c := range chars {
			link.chars[NormalizeUUID(c.UUID().String())] = c
		}
	}

	t.logger.WithFields(logrus.Fields{
		"address":         opts.Address,
		"services":        len(services),
		"characteristics": len(link.chars),
	}).Info("BLE device connected successfully")
	return link, nil
}

// Scan reports advertisements until ctx is done.
func (t *TinyGo) Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error {
	if err := t.enable(); err != nil {
		return err
	}

	known := make([]bluetooth.UUID, 0, len(t.KnownServices))
	for _, s := range t.KnownServices {
		u, err := bluetooth.ParseUUID(ExpandUUID(s))
		if err != nil {
			return fmt.Errorf("invalid service UUID %q: %w", s, err)
		}
		known = append(known, u)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			t.adapter.StopScan()
		case <-done:
		}
	}()

	var mu sync.Mutex
	seen := make(map[string]bool)
	err := t.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		addr := result.Address.String()
		if !allowDup {
			mu.Lock()
			dup := seen[addr]
			seen[addr] = true
			mu.Unlock()
			if dup {
				return
			}
		}

		adv := Advertisement{
			Address:     addr,
			Name:        result.LocalName(),
			RSSI:        int(result.RSSI),
			Connectable: true,
		}
		for i, u := range known {
			if result.HasServiceUUID(u) {
				adv.Services = append(adv.Services, NormalizeUUID(t.KnownServices[i]))
			}
		}
		handler(adv)
	})
	if err != nil && ctx.Err() == nil {
		return NormalizeError(fmt.Errorf("scan failed: %w", err))
	}
	return nil
}

type tinyGoLink struct {
	address string
	device  bluetooth.Device
	chars   map[string]bluetooth.DeviceCharacteristic
	logger  *logrus.Logger

	mu     sync.Mutex
	closed bool
}

func (l *tinyGoLink) Address() string {
	return l.address
}

func (l *tinyGoLink) HasCharacteristic(uuid string) bool {
	_, ok := l.chars[NormalizeUUID(uuid)]
	return ok
}

func (l *tinyGoLink) characteristic(uuid string) (bluetooth.DeviceCharacteristic, error) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return bluetooth.DeviceCharacteristic{}, ErrNotConnected
	}

	c, ok := l.chars[NormalizeUUID(uuid)]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, &NotFoundError{Resource: "characteristic", UUIDs: []string{uuid}}
	}
	return c, nil
}

func (l *tinyGoLink) Write(uuid string, data []byte, withResponse bool) error {
	c, err := l.characteristic(uuid)
	if err != nil {
		return err
	}

	if withResponse {
		_, err = c.Write(data)
	} else {
		_, err = c.WriteWithoutResponse(data)
	}
	if err != nil {
		return fmt.Errorf("failed to write to characteristic %s: %w", uuid, NormalizeError(err))
	}
	return nil
}

func (l *tinyGoLink) Read(uuid string) ([]byte, error) {
	c, err := l.characteristic(uuid)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 512)
	n, err := c.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to read characteristic %s: %w", uuid, NormalizeError(err))
	}
	return buf[:n], nil
}

func (l *tinyGoLink) Subscribe(uuid string, handler NotificationHandler) error {
	c, err := l.characteristic(uuid)
	if err != nil {
		return err
	}

	err = c.EnableNotifications(func(buf []byte) {
		data := append([]byte(nil), buf...)
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

func (l *tinyGoLink) Disconnect() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	if err := l.device.Disconnect(); err != nil {
		l.logger.WithError(err).Warn("BLE device disconnected with errors")
		return NormalizeError(err)
	}
	l.logger.WithField("address", l.address).Info("BLE device disconnected successfully")
	return nil
}
