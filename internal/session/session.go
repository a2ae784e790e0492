// Package session merges the fragments of one poll cycle into brushing sessions.
package session

import (
	"encoding/json"

	"github.com/srg/oclean/internal/protocol"
)

// Session is one completed brushing event, keyed by Time (unix seconds).
type Session struct {
	Time   int64
	Fields protocol.Fragment
}

func newSession(ts int64, f protocol.Fragment) Session {
	fields := f.Clone()
	fields[protocol.KeyLastTime] = ts
	return Session{Time: ts, Fields: fields}
}

func (s Session) Duration() (int, bool) {
	return s.Fields.Int(protocol.KeyLastDuration)
}

func (s Session) Score() (int, bool) {
	return s.Fields.Int(protocol.KeyLastScore)
}

func (s Session) Pressure() (float64, bool) {
	return protocol.AsFloat(s.Fields[protocol.KeyLastPressure])
}

func (s Session) Areas() (map[string]int, bool) {
	return s.Fields.Areas()
}

func (s Session) Pnum() (int, bool) {
	return s.Fields.Int(protocol.KeyLastPnum)
}

func (s Session) SchemeType() (int, bool) {
	return s.Fields.Int(protocol.KeyLastSchemeType)
}

// Value returns a metric value by canonical key.
func (s Session) Value(key string) (float64, bool) {
	return protocol.AsFloat(s.Fields[key])
}

// MarshalJSON emits the fields under their canonical keys.
func (s Session) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any(s.Fields))
}
