package protocol

import (
	"errors"
	"fmt"
	"time"
)

// MinYear is the earliest plausible session year for any Oclean device.
const MinYear = 2015

// ErrImplausibleDate is returned for dates before MinYear or dates that do not
// exist on the calendar.
var ErrImplausibleDate = errors.New("implausible device date")

// DeviceDateTime is a wall-clock date as reported by the device, without zone.
type DeviceDateTime struct {
	Year   int
	Month  time.Month
	Day    int
	Hour   int
	Minute int
	Second int
}

// NewDeviceDateTime builds a device date from a year-2000-encoded byte and the
// remaining calendar fields. Out-of-range fields are rejected, never normalised.
func NewDeviceDateTime(yearOffset, month, day, hour, minute, second byte) (DeviceDateTime, error) {
	d := DeviceDateTime{
		Year:   2000 + int(yearOffset),
		Month:  time.Month(month),
		Day:    int(day),
		Hour:   int(hour),
		Minute: int(minute),
		Second: int(second),
	}
	if d.Year < MinYear {
		return DeviceDateTime{}, fmt.Errorf("%w: year %d (byte=%#02x)", ErrImplausibleDate, d.Year, yearOffset)
	}

	// time.Date normalises overflow, so a round trip detects impossible dates.
	t := d.in(time.UTC)
	if t.Year() != d.Year || t.Month() != d.Month || t.Day() != d.Day ||
		t.Hour() != d.Hour || t.Minute() != d.Minute || t.Second() != d.Second {
		return DeviceDateTime{}, fmt.Errorf("%w: %s", ErrImplausibleDate, d)
	}
	return d, nil
}

// DeviceDateFromBytes reads six consecutive date bytes.
func DeviceDateFromBytes(b []byte) (DeviceDateTime, error) {
	if len(b) < 6 {
		return DeviceDateTime{}, fmt.Errorf("%w: need 6 bytes, got %d", ErrImplausibleDate, len(b))
	}
	return NewDeviceDateTime(b[0], b[1], b[2], b[3], b[4], b[5])
}

func (d DeviceDateTime) in(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, d.Hour, d.Minute, d.Second, 0, loc)
}

// UnixWithOffset converts using an explicit offset in signed quarter hours:
// UTC = local - quarters*15min.
func (d DeviceDateTime) UnixWithOffset(quarters int8) int64 {
	return d.in(time.UTC).Add(-time.Duration(quarters) * 15 * time.Minute).Unix()
}

// UnixIn interprets the wall clock in loc. A nil loc means the host zone.
//
// Type 1 devices carry no offset; the host zone is assumed to match the
// zone the device was set to.
func (d DeviceDateTime) UnixIn(loc *time.Location) int64 {
	if loc == nil {
		loc = time.Local
	}
	return d.in(loc).Unix()
}

func (d DeviceDateTime) String() string {
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d", d.Year, int(d.Month), d.Day, d.Hour, d.Minute, d.Second)
}
