// Package schedule decides whether a poll cycle may contact the device.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/oclean/internal/protocol"
)

// TimeOfDay is an offset from local midnight, in seconds.
type TimeOfDay int

// NewTimeOfDay builds a TimeOfDay from clock components.
func NewTimeOfDay(hour, minute, second int) TimeOfDay {
	return TimeOfDay(hour*3600 + minute*60 + second)
}

// ClockOf returns the local time-of-day of t.
func ClockOf(t time.Time) TimeOfDay {
	h, m, s := t.Clock()
	return NewTimeOfDay(h, m, s)
}

func (d TimeOfDay) String() string {
	h, m, s := int(d)/3600, int(d)%3600/60, int(d)%60
	if s != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", h, m)
}

// ParseTimeOfDay accepts HH:MM or HH:MM:SS.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}

	limits := []int{23, 59, 59}
	vals := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > limits[i] {
			return 0, fmt.Errorf("invalid time of day %q", s)
		}
		vals[i] = n
	}
	return NewTimeOfDay(vals[0], vals[1], vals[2]), nil
}

// Window is a daily time-of-day range. Start after End means the window
// wraps past midnight.
type Window struct {
	Start TimeOfDay
	End   TimeOfDay
}

// Overnight reports whether the window wraps past midnight.
func (w Window) Overnight() bool {
	return w.Start > w.End
}

// Contains reports whether the clock reading lies inside the window, bounds included.
func (w Window) Contains(now TimeOfDay) bool {
	if w.Overnight() {
		return now >= w.Start || now <= w.End
	}
	return now >= w.Start && now <= w.End
}

func (w Window) String() string {
	return w.Start.String() + "-" + w.End.String()
}

// ParseWindows parses "HH:MM-HH:MM[, ...]". Malformed entries and entries
// with equal bounds are skipped with a warning; at most MaxPollWindows are kept.
func ParseWindows(spec string, logger *logrus.Logger) []Window {
	if logger == nil {
		logger = logrus.New()
	}

	var windows []Window
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		w, err := parseWindow(entry)
		if err != nil {
			logger.WithError(err).WithField("entry", entry).Warn("Ignoring poll window")
			continue
		}
		if len(windows) == protocol.MaxPollWindows {
			logger.WithField("entry", entry).Warn("Ignoring poll window beyond the limit")
			continue
		}
		windows = append(windows, w)
	}
	return windows
}

func parseWindow(entry string) (Window, error) {
	bounds := strings.Split(entry, "-")
	if len(bounds) != 2 {
		return Window{}, fmt.Errorf("expected START-END")
	}
	start, err := ParseTimeOfDay(bounds[0])
	if err != nil {
		return Window{}, err
	}
	end, err := ParseTimeOfDay(bounds[1])
	if err != nil {
		return Window{}, err
	}
	if start == end {
		return Window{}, fmt.Errorf("window start equals end")
	}
	return Window{Start: start, End: end}, nil
}

// FormatWindows renders windows back into their configuration form.
func FormatWindows(windows []Window) string {
	parts := make([]string, len(windows))
	for i, w := range windows {
		parts[i] = w.String()
	}
	return strings.Join(parts, ", ")
}
