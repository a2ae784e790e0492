package schedule

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestParseWindows(t *testing.T) {
	tests := []struct {
		name string
		spec string
		want string
	}{
		{"empty", "", ""},
		{"single", "07:00-07:45", "07:00-07:45"},
		{"whitespace tolerated", "  07:00 - 07:45 ,21:30-22:00  ", "07:00-07:45, 21:30-22:00"},
		{"seconds accepted", "07:00:30-07:45", "07:00:30-07:45"},
		{"overnight", "22:00-06:00", "22:00-06:00"},
		{"equal bounds discarded", "08:00-08:00, 09:00-10:00", "09:00-10:00"},
		{"invalid entries skipped", "25:00-26:00, abc, 07:00, 09:00-10:00", "09:00-10:00"},
		{"only first three kept", "01:00-02:00, 03:00-04:00, 05:00-06:00, 07:00-08:00", "01:00-02:00, 03:00-04:00, 05:00-06:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseWindows(tt.spec, quietLogger())
			assert.Equal(t, tt.want, FormatWindows(got))
		})
	}
}

func TestWindow_Contains(t *testing.T) {
	day := Window{Start: NewTimeOfDay(7, 0, 0), End: NewTimeOfDay(7, 45, 0)}
	night := Window{Start: NewTimeOfDay(22, 0, 0), End: NewTimeOfDay(6, 0, 0)}

	tests := []struct {
		name   string
		w      Window
		clock  TimeOfDay
		inside bool
	}{
		{"day start inclusive", day, NewTimeOfDay(7, 0, 0), true},
		{"day end inclusive", day, NewTimeOfDay(7, 45, 0), true},
		{"day before", day, NewTimeOfDay(6, 59, 59), false},
		{"day after", day, NewTimeOfDay(7, 45, 1), false},
		{"night late evening", night, NewTimeOfDay(23, 0, 0), true},
		{"night early morning", night, NewTimeOfDay(5, 0, 0), true},
		{"night midday", night, NewTimeOfDay(12, 0, 0), false},
		{"night bounds", night, NewTimeOfDay(6, 0, 0), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.inside, tt.w.Contains(tt.clock))
		})
	}
}

func TestGate_Evaluate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)

	t.Run("no windows never skips", func(t *testing.T) {
		d := NewGate(nil).Evaluate(now, 0)
		assert.False(t, d.Skip)
		assert.Equal(t, "poll", d.String())
	})

	t.Run("cooldown wins over windows", func(t *testing.T) {
		g := NewGate(ParseWindows("11:00-13:00", quietLogger()))
		d := g.Evaluate(now, now.Add(90*time.Minute).Unix())

		require.True(t, d.Skip)
		assert.Equal(t, SkipCooldown, d.Reason)
		assert.Equal(t, 90*time.Minute, d.Remaining)
	})

	t.Run("expired cooldown is ignored", func(t *testing.T) {
		d := NewGate(nil).Evaluate(now, now.Add(-time.Minute).Unix())
		assert.False(t, d.Skip)
	})

	t.Run("outside every window", func(t *testing.T) {
		g := NewGate(ParseWindows("07:00-07:45, 21:30-22:00", quietLogger()))
		d := g.Evaluate(now, 0)

		require.True(t, d.Skip)
		assert.Equal(t, SkipOutsideWindows, d.Reason)
		assert.Zero(t, d.Remaining)
		assert.Equal(t, "skip (outside poll windows)", d.String())
	})

	t.Run("inside one window", func(t *testing.T) {
		g := NewGate(ParseWindows("07:00-07:45, 11:30-12:30", quietLogger()))
		assert.False(t, g.Evaluate(now, 0).Skip)
	})
}

func TestParseTimeOfDay(t *testing.T) {
	d, err := ParseTimeOfDay("21:30")
	require.NoError(t, err)
	assert.Equal(t, NewTimeOfDay(21, 30, 0), d)

	for _, bad := range []string{"", "24:00", "12:60", "12:00:60", "1:2:3:4", "x:00"} {
		_, err := ParseTimeOfDay(bad)
		assert.Error(t, err, "%q MUST be rejected", bad)
	}
}
