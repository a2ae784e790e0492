package protocol

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	macPattern  = regexp.MustCompile(`^[0-9A-F]{2}(:[0-9A-F]{2}){5}$`)
	uuidPattern = regexp.MustCompile(`^[0-9A-F]{8}-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{12}$`)
)

// NormalizeAddress upper-cases a device address and checks its shape. A MAC
// (Linux) and a CoreBluetooth peripheral UUID (macOS) are both accepted.
func NormalizeAddress(address string) (string, error) {
	a := strings.ToUpper(strings.TrimSpace(address))
	if macPattern.MatchString(a) || uuidPattern.MatchString(a) {
		return a, nil
	}
	return "", fmt.Errorf("invalid device address %q", address)
}

// MACSlug turns a device address into the form used in file names and
// statistic ids: lowercase with ':' replaced by '_'.
func MACSlug(address string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(address)), ":", "_")
}
