// Package reconcile folds one poll cycle into the per-device snapshot and
// durable counters.
package reconcile

import (
	"encoding/json"
	"time"

	"github.com/srg/oclean/internal/protocol"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Snapshot is the externally visible device state.
type Snapshot struct {
	Fields    protocol.Fragment
	Stale     bool
	UpdatedAt time.Time
}

// Ready reports whether at least one successful cycle produced data.
func (s Snapshot) Ready() bool {
	return !s.UpdatedAt.IsZero()
}

// Clone returns a copy that shares no maps with s.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Fields = s.Fields.Clone()
	if out.Fields == nil {
		out.Fields = protocol.Fragment{}
	}
	return out
}

// SchemeName resolves last_brush_pnum to a programme name.
func (s Snapshot) SchemeName() (string, bool) {
	pnum, ok := s.Fields.Int(protocol.KeyLastPnum)
	if !ok {
		return "", false
	}
	return protocol.SchemeName(pnum)
}

// Ordered returns the snapshot fields in canonical key order.
func (s Snapshot) Ordered() *orderedmap.OrderedMap[string, any] {
	om := orderedmap.New[string, any]()
	for _, k := range protocol.SnapshotKeys {
		if v, ok := s.Fields[k]; ok {
			om.Set(k, v)
		}
	}
	if name, ok := s.SchemeName(); ok {
		om.Set("last_brush_scheme_name", name)
	}
	om.Set("stale", s.Stale)
	if s.Ready() {
		om.Set("updated_at", s.UpdatedAt.UTC().Format(time.RFC3339))
	}
	return om
}

// MarshalJSON emits fields in canonical order.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Ordered())
}
