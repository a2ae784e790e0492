package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/oclean/internal/poller"
	"github.com/srg/oclean/internal/store"
	"github.com/srg/oclean/pkg/connection"
)

// ErrNoDevice is returned when a command needs an address and none was given
// or configured.
var ErrNoDevice = errors.New("no device address given and none configured")

// FormatUserError turns internal errors into one readable line.
func FormatUserError(err error) string {
	var nf *connection.NotFoundError
	switch {
	case connection.IsConnectionState(err, connection.BluetoothOff):
		return "Bluetooth is off or unavailable on this host"
	case errors.Is(err, connection.ErrUnsupported):
		return "this platform has no BLE backend; try --transport tinygo"
	case errors.Is(err, poller.ErrNotReady), errors.Is(err, poller.ErrDeviceUnreachable):
		return fmt.Sprintf("%v (is the brush awake and in range?)", err)
	case errors.Is(err, store.ErrVersionMismatch):
		return fmt.Sprintf("state file written by another version: %v", err)
	case errors.As(err, &nf):
		return fmt.Sprintf("device does not expose the expected %s: %v", nf.Resource, err)
	case errors.Is(err, context.DeadlineExceeded):
		return "operation timed out"
	}
	return err.Error()
}
