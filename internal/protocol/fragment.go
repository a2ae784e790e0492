package protocol

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Fragment maps canonical field names to decoded values.
//
// Value types: int for counters, scores and scheme ids; int64 for
// last_brush_time; float64 for the simple-layout pressure; string for DIS
// identity; map[string]int for zone pressures. A decoder returns either a
// complete fragment or an empty one.
type Fragment map[string]any

// Empty reports whether the fragment carries no fields.
func (f Fragment) Empty() bool {
	return len(f) == 0
}

// Time returns last_brush_time when present.
func (f Fragment) Time() (int64, bool) {
	v, ok := f[KeyLastTime]
	if !ok {
		return 0, false
	}
	ts, ok := v.(int64)
	return ts, ok
}

// Int returns an integer field when present.
func (f Fragment) Int(key string) (int, bool) {
	v, ok := f[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	}
	return 0, false
}

// Areas returns the zone pressure map when present.
func (f Fragment) Areas() (map[string]int, bool) {
	v, ok := f[KeyLastAreas].(map[string]int)
	return v, ok
}

// Clone returns a copy that shares nothing mutable with f.
func (f Fragment) Clone() Fragment {
	if f == nil {
		return nil
	}
	out := make(Fragment, len(f))
	for k, v := range f {
		if areas, ok := v.(map[string]int); ok {
			cp := make(map[string]int, len(areas))
			for zone, p := range areas {
				cp[zone] = p
			}
			v = cp
		}
		out[k] = v
	}
	return out
}

// Merge overlays src onto f field by field.
func (f Fragment) Merge(src Fragment) {
	for k, v := range src.Clone() {
		f[k] = v
	}
}

// String renders the fragment with sorted keys, for logs and the capture printer.
func (f Fragment) String() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s=%v", k, f[k])
	}
	sb.WriteByte('}')
	return sb.String()
}

// AsFloat converts a numeric fragment value to float64.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// areaStats maps eight zone bytes to named pressures and their rounded mean.
func areaStats(zones []byte) (map[string]int, int, int) {
	areas := make(map[string]int, len(ToothAreaNames))
	sum, cleaned := 0, 0
	for i, name := range ToothAreaNames {
		areas[name] = int(zones[i])
		sum += int(zones[i])
		if zones[i] > 0 {
			cleaned++
		}
	}
	avg := int(math.RoundToEven(float64(sum) / float64(len(ToothAreaNames))))
	return areas, cleaned, avg
}

func clampScore(v byte) int {
	if v > 100 {
		return 100
	}
	return int(v)
}
