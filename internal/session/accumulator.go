package session

import (
	"sort"
	"sync"

	"github.com/srg/oclean/internal/protocol"
)

// lateKeys arrive on channels that lag the session-creating push and carry
// no timestamp of their own.
var lateKeys = []string{
	protocol.KeyLastScore,
	protocol.KeyLastAreas,
	protocol.KeyLastPressure,
}

// Accumulator collects the fragments of a single poll cycle. Notifications
// arrive on the transport goroutine, so all methods are safe for concurrent use.
type Accumulator struct {
	mu           sync.Mutex
	collected    protocol.Fragment
	sessions     []Session
	seen         map[int64]int
	uncorrelated protocol.Fragment
	finished     bool
}

// NewAccumulator creates an empty cycle accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		collected:    protocol.Fragment{},
		seen:         make(map[int64]int),
		uncorrelated: protocol.Fragment{},
	}
}

// Add merges one fragment and reports whether it introduced a new session.
//
// A fragment older than the collected last_brush_time loses its time and
// duration before the overlay, so a stale push never replaces fresher values.
// The session itself is built from the unstripped fragment.
func (a *Accumulator) Add(f protocol.Fragment) bool {
	if f.Empty() {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	ts, hasTime := f.Time()

	overlay := f.Clone()
	if cur, ok := a.collected.Time(); ok && hasTime && ts < cur {
		delete(overlay, protocol.KeyLastTime)
		delete(overlay, protocol.KeyLastDuration)
	}
	a.collected.Merge(overlay)

	if !hasTime {
		for _, k := range lateKeys {
			if v, ok := f[k]; ok {
				a.uncorrelated[k] = v
			}
		}
		return false
	}

	if idx, ok := a.seen[ts]; ok {
		// Same session reported twice: fill gaps, never rewrite.
		existing := a.sessions[idx].Fields
		for k, v := range f.Clone() {
			if _, present := existing[k]; !present {
				existing[k] = v
			}
		}
		return false
	}

	a.seen[ts] = len(a.sessions)
	a.sessions = append(a.sessions, newSession(ts, f))
	return true
}

// Finish attaches uncorrelated late fields to the newest session, filling
// only the fields it lacks, and returns the cycle's sessions in arrival order.
// Calling Finish more than once has no further effect.
func (a *Accumulator) Finish() []Session {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.finished && len(a.sessions) > 0 && !a.uncorrelated.Empty() {
		newest := 0
		for i, s := range a.sessions {
			if s.Time > a.sessions[newest].Time {
				newest = i
			}
		}
		target := a.sessions[newest].Fields
		for k, v := range a.uncorrelated.Clone() {
			if _, present := target[k]; !present {
				target[k] = v
			}
		}
	}
	a.finished = true
	return a.sessionsLocked()
}

// Sessions returns a copy of the sessions seen so far, in arrival order.
func (a *Accumulator) Sessions() []Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionsLocked()
}

func (a *Accumulator) sessionsLocked() []Session {
	out := make([]Session, len(a.sessions))
	for i, s := range a.sessions {
		out[i] = Session{Time: s.Time, Fields: s.Fields.Clone()}
	}
	return out
}

// Collected returns a copy of the merged field map.
func (a *Accumulator) Collected() protocol.Fragment {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.collected.Clone()
}

// Set stores a field read outside the notification stream (battery, DIS).
func (a *Accumulator) Set(key string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.collected[key] = value
}

// Oldest returns the smallest session timestamp seen this cycle.
func (a *Accumulator) Oldest() (int64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.sessions) == 0 {
		return 0, false
	}
	oldest := a.sessions[0].Time
	for _, s := range a.sessions[1:] {
		if s.Time < oldest {
			oldest = s.Time
		}
	}
	return oldest, true
}

// Len returns the number of distinct sessions.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

// SortByTime orders sessions oldest first.
func SortByTime(sessions []Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].Time < sessions[j].Time
	})
}
