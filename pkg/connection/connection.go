// Package connection provides GATT transports for talking to Oclean brushes.
//
// Two backends are available: go-ble (HCI on Linux, CoreBluetooth on macOS)
// and tinygo bluetooth (BlueZ over D-Bus on Linux, CoreBluetooth on macOS).
// Both are exposed through the Transport and Link interfaces.
package connection

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultConnectTimeout bounds a single connection attempt.
const DefaultConnectTimeout = 10 * time.Second

// NotificationHandler receives raw notification bytes of one characteristic.
type NotificationHandler func(uuid string, data []byte)

// Link is an open GATT connection. Characteristic UUIDs are accepted in any
// common notation (16-bit short form, dashed or undashed 128-bit).
type Link interface {
	Address() string
	HasCharacteristic(uuid string) bool
	Write(uuid string, data []byte, withResponse bool) error
	Read(uuid string) ([]byte, error)
	Subscribe(uuid string, handler NotificationHandler) error
	Disconnect() error
}

// Transport opens links to devices.
type Transport interface {
	Connect(ctx context.Context, opts *ConnectOptions) (Link, error)
}

// Advertisement is a transport-neutral scan result.
type Advertisement struct {
	Address     string
	Name        string
	RSSI        int
	Services    []string
	Connectable bool
}

// Scanner reports advertisements until ctx is done.
type Scanner interface {
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
}

// ConnectOptions configures a connection attempt.
type ConnectOptions struct {
	Address        string
	ConnectTimeout time.Duration
}

// DefaultConnectOptions returns options with the default timeout.
func DefaultConnectOptions(address string) *ConnectOptions {
	return &ConnectOptions{
		Address:        address,
		ConnectTimeout: DefaultConnectTimeout,
	}
}

func (o *ConnectOptions) validate() error {
	if o == nil || strings.TrimSpace(o.Address) == "" {
		return fmt.Errorf("device address is empty")
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	return nil
}

const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID to lowercase without dashes or a 0x prefix.
// 128-bit UUIDs on the Bluetooth SIG base collapse to their 16-bit form.
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	u = strings.TrimPrefix(u, "0x")
	u = strings.ReplaceAll(u, "-", "")
	if len(u) == 32 && strings.HasPrefix(u, "0000") && strings.HasSuffix(u, sigBaseSuffix) {
		return u[4:8]
	}
	return u
}

// ExpandUUID returns the dashed 128-bit form of a UUID.
func ExpandUUID(uuid string) string {
	u := NormalizeUUID(uuid)
	if len(u) == 4 {
		u = "0000" + u + sigBaseSuffix
	}
	if len(u) != 32 {
		return uuid
	}
	return u[0:8] + "-" + u[8:12] + "-" + u[12:16] + "-" + u[16:20] + "-" + u[20:]
}
