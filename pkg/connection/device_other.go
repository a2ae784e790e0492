//go:build !darwin && !linux

package connection

import (
	"fmt"
	"runtime"

	"github.com/go-ble/ble"
)

// DeviceFactory reports that go-ble has no backend on this platform.
var DeviceFactory = func() (ble.Device, error) {
	return nil, fmt.Errorf("go-ble on %s: %w", runtime.GOOS, ErrUnsupported)
}
