package protocol

import (
	"bytes"
	"encoding/json"
	"strconv"
	"unicode/utf8"
)

type jsonKey struct {
	field      string
	candidates []string
	isTime     bool
}

// jsonKeys lists accepted spellings per field; the first present one wins.
var jsonKeys = []jsonKey{
	{KeyLastScore, []string{"score", "brushScore", "brush_score", "totalScore"}, false},
	{KeyLastDuration, []string{"duration", "brushDuration", "brush_duration", "time"}, false},
	{KeyLastPressure, []string{"pressure", "avgPressure", "avg_pressure"}, false},
	{KeyLastTime, []string{"timestamp", "endTime", "end_time", "brushTime"}, true},
}

// decodeJSON maps a JSON object notification to a Fragment. ok is false when
// the payload is not a UTF-8 JSON object.
func decodeJSON(data []byte) (Fragment, bool) {
	if !utf8.Valid(data) {
		return nil, false
	}
	text := bytes.TrimSpace(data)
	if len(text) == 0 || text[0] != '{' {
		return nil, false
	}

	dec := json.NewDecoder(bytes.NewReader(text))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || dec.More() {
		return nil, false
	}

	out := Fragment{}
	for _, k := range jsonKeys {
		for _, name := range k.candidates {
			raw, present := obj[name]
			if !present {
				continue
			}
			if n, ok := jsonNumber(raw); ok {
				if k.isTime {
					out[k.field] = int64(n)
				} else {
					out[k.field] = int(n)
				}
			}
			break
		}
	}
	return out, true
}

// jsonNumber accepts JSON numbers and numeric strings; fractions truncate.
func jsonNumber(v any) (float64, bool) {
	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = t
	default:
		return 0, false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return float64(i), true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
