package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDeviceDateTime(t *testing.T) {
	tests := []struct {
		name  string
		bytes [6]byte
		valid bool
	}{
		{"MinYear accepted", [6]byte{MinYear - 2000, 6, 1, 0, 0, 0}, true},
		{"below MinYear rejected", [6]byte{MinYear - 2000 - 1, 1, 1, 0, 0, 0}, false},
		{"year 2000 rejected", [6]byte{0, 1, 1, 0, 0, 0}, false},
		{"leap day in leap year", [6]byte{24, 2, 29, 12, 0, 0}, true},
		{"leap day in common year", [6]byte{25, 2, 29, 12, 0, 0}, false},
		{"month 13", [6]byte{26, 13, 1, 0, 0, 0}, false},
		{"month 0", [6]byte{26, 0, 1, 0, 0, 0}, false},
		{"day 0", [6]byte{26, 1, 0, 0, 0, 0}, false},
		{"day 31 in April", [6]byte{26, 4, 31, 0, 0, 0}, false},
		{"hour 24", [6]byte{26, 1, 1, 24, 0, 0}, false},
		{"minute 60", [6]byte{26, 1, 1, 0, 60, 0}, false},
		{"second 60", [6]byte{26, 1, 1, 0, 0, 60}, false},
		{"end of day", [6]byte{26, 12, 31, 23, 59, 59}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.bytes
			_, err := NewDeviceDateTime(b[0], b[1], b[2], b[3], b[4], b[5])
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrImplausibleDate), "error MUST wrap ErrImplausibleDate, got %v", err)
			}
		})
	}
}

func TestDeviceDateTime_Conversions(t *testing.T) {
	d, err := NewDeviceDateTime(26, 2, 21, 10, 0, 0)
	require.NoError(t, err)

	t.Run("explicit offset subtracts quarter hours", func(t *testing.T) {
		assert.Equal(t, time.Date(2026, 2, 21, 10, 0, 0, 0, time.UTC).Unix(), d.UnixWithOffset(0))
		assert.Equal(t, time.Date(2026, 2, 21, 8, 0, 0, 0, time.UTC).Unix(), d.UnixWithOffset(8))
		assert.Equal(t, time.Date(2026, 2, 21, 15, 30, 0, 0, time.UTC).Unix(), d.UnixWithOffset(-22))
	})

	t.Run("implicit offset uses the given zone", func(t *testing.T) {
		tokyo := time.FixedZone("JST", 9*3600)
		assert.Equal(t, time.Date(2026, 2, 21, 1, 0, 0, 0, time.UTC).Unix(), d.UnixIn(tokyo))
	})

	t.Run("nil zone means host zone", func(t *testing.T) {
		assert.Equal(t, time.Date(2026, 2, 21, 10, 0, 0, 0, time.Local).Unix(), d.UnixIn(nil))
	})

	assert.Equal(t, "2026-02-21 10:00:00", d.String())
}

func TestDeviceDateFromBytes_Short(t *testing.T) {
	_, err := DeviceDateFromBytes([]byte{26, 1, 1})
	assert.ErrorIs(t, err, ErrImplausibleDate)
}

func TestSchemeName(t *testing.T) {
	name, ok := SchemeName(76)
	assert.True(t, ok)
	assert.Equal(t, "Strong Whitening", name)

	_, ok = SchemeName(0)
	assert.False(t, ok, "ids shared across families MUST stay unresolved")

	_, ok = SchemeName(231)
	assert.False(t, ok)
}
