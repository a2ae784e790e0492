package schedule

import (
	"fmt"
	"time"
)

// SkipReason explains why a cycle was not allowed to connect.
type SkipReason int

const (
	NotSkipped SkipReason = iota
	SkipCooldown
	SkipOutsideWindows
)

func (r SkipReason) String() string {
	switch r {
	case SkipCooldown:
		return "cooldown"
	case SkipOutsideWindows:
		return "outside poll windows"
	default:
		return "none"
	}
}

// Decision is the outcome of a gate evaluation.
type Decision struct {
	Skip      bool
	Reason    SkipReason
	Remaining time.Duration // cooldown left; zero unless Reason == SkipCooldown
}

func (d Decision) String() string {
	if !d.Skip {
		return "poll"
	}
	if d.Reason == SkipCooldown {
		return fmt.Sprintf("skip (%s, %s remaining)", d.Reason, d.Remaining.Round(time.Second))
	}
	return fmt.Sprintf("skip (%s)", d.Reason)
}

// Gate holds the time-of-day windows of one device.
type Gate struct {
	Windows []Window
}

// NewGate creates a gate. An empty window list never skips on time of day.
func NewGate(windows []Window) *Gate {
	return &Gate{Windows: windows}
}

// Evaluate checks the cooldown first, then the windows. cooldownUntil is unix
// seconds; zero disables the cooldown check.
func (g *Gate) Evaluate(now time.Time, cooldownUntil int64) Decision {
	if cooldownUntil > 0 {
		until := time.Unix(cooldownUntil, 0)
		if now.Before(until) {
			return Decision{Skip: true, Reason: SkipCooldown, Remaining: until.Sub(now)}
		}
	}

	if len(g.Windows) == 0 {
		return Decision{}
	}

	clock := ClockOf(now)
	for _, w := range g.Windows {
		if w.Contains(clock) {
			return Decision{}
		}
	}
	return Decision{Skip: true, Reason: SkipOutsideWindows}
}
