package reconcile

import (
	"time"

	"github.com/srg/oclean/internal/protocol"
	"github.com/srg/oclean/internal/session"
)

// State holds the counters that survive restarts.
type State struct {
	LastSessionTS  int64 `json:"last_session_ts"`
	BrushHeadCount int   `json:"brush_head_count"`
	BrushHeadHW    bool  `json:"brush_head_hw"`
	CooldownUntil  int64 `json:"cooldown_until"`
}

// Input is everything a finished cycle contributes.
type Input struct {
	Collected protocol.Fragment
	Sessions  []session.Session
	// Watermark is State.LastSessionTS as captured when the cycle started.
	Watermark int64
	Now       time.Time
	Cooldown  time.Duration
}

// Result is the reconciled outcome of a cycle.
type Result struct {
	Snapshot    Snapshot
	State       State
	NewSessions []session.Session // oldest first
	Changed     bool              // durable state differs from the input state
}

// Reconcile merges a cycle into the previous snapshot and state.
//
// Every snapshot key absent from the cycle keeps its previous value. A
// device-reported head usage latches BrushHeadHW; until then BrushHeadCount
// counts new sessions and is published as brush_head_usage.
func Reconcile(prev Snapshot, state State, in Input) Result {
	next := state

	fields := protocol.Fragment{}
	for _, k := range protocol.SnapshotKeys {
		if v, ok := prev.Fields[k]; ok {
			fields[k] = v
		}
	}

	cycle := protocol.Fragment{}
	for _, k := range protocol.SnapshotKeys {
		if v, ok := in.Collected[k]; ok {
			cycle[k] = v
		}
	}
	cycle = cycle.Clone()

	if _, ok := cycle[protocol.KeyBrushHeadUsage]; ok {
		next.BrushHeadHW = true
	}
	fields.Merge(cycle)

	var fresh []session.Session
	for _, s := range in.Sessions {
		if s.Time > in.Watermark {
			fresh = append(fresh, s)
		}
	}
	session.SortByTime(fresh)

	if !next.BrushHeadHW {
		next.BrushHeadCount += len(fresh)
		fields[protocol.KeyBrushHeadUsage] = next.BrushHeadCount
	}

	if len(fresh) > 0 {
		if newest := fresh[len(fresh)-1].Time; newest > next.LastSessionTS {
			next.LastSessionTS = newest
		}
		if in.Cooldown > 0 {
			if until := in.Now.Add(in.Cooldown).Unix(); until > next.CooldownUntil {
				next.CooldownUntil = until
			}
		}
	}

	return Result{
		Snapshot: Snapshot{
			Fields:    fields,
			UpdatedAt: in.Now,
		},
		State:       next,
		NewSessions: fresh,
		Changed:     next != state,
	}
}

// MarkStale returns prev flagged as served after a failed cycle.
func MarkStale(prev Snapshot) Snapshot {
	out := prev.Clone()
	out.Stale = true
	return out
}
