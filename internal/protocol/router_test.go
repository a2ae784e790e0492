package protocol

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter() (*Router, *UnknownSink) {
	c := newTestCodec()
	sink := NewUnknownSink(256)
	return NewRouter(DefaultRegistry(c), sink, c.logger), sink
}

func TestRouter_Dispatch(t *testing.T) {
	r, _ := newTestRouter()

	tests := []struct {
		name string
		raw  string
		want Fragment
	}{
		{"state", "0303020e4b550000", Fragment{KeyBattery: 85}},
		{"score push", "00005f00ffffffffffffff1a0215101a23e7001e", Fragment{KeyLastScore: 95}},
		{"device info ack", "0202", Fragment{}},
		{"guidance never persisted", "0340010203040500", Fragment{}},
		{"extended echo", "0314aabbcc", Fragment{}},
		{"session meta", "5a00ffffffffffffff1a02180018134c00960096", Fragment{
			KeyLastTime:     time.Date(2026, 2, 24, 0, 24, 19, 0, time.UTC).Unix(),
			KeyLastDuration: 150,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Route(mustHex(t, tt.raw)))
		})
	}
}

func TestRouter_ShortInput(t *testing.T) {
	r, sink := newTestRouter()

	assert.NotPanics(t, func() {
		assert.Empty(t, r.Route(nil))
		assert.Empty(t, r.Route([]byte{0x03}))
	})
	assert.Zero(t, sink.Len(), "short input MUST NOT reach the unknown sink")
}

func TestRouter_TagOnlyPayloads(t *testing.T) {
	r, _ := newTestRouter()

	// GOAL: Every registered decoder tolerates an empty payload
	for _, tag := range DefaultRegistry(newTestCodec()).Tags() {
		t.Run(tag.String(), func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.Empty(t, r.Route(tag[:]))
			})
		})
	}
}

func TestRouter_JSONFallback(t *testing.T) {
	r, sink := newTestRouter()

	t.Run("first candidate wins", func(t *testing.T) {
		got := r.Route([]byte(`{"brushScore": 80, "score": 90, "brushDuration": 120, "avg_pressure": 3.7, "endTime": 1700000000}`))
		assert.Equal(t, Fragment{
			KeyLastScore:    90,
			KeyLastDuration: 120,
			KeyLastPressure: 3,
			KeyLastTime:     int64(1700000000),
		}, got)
	})

	t.Run("numeric strings accepted", func(t *testing.T) {
		got := r.Route([]byte(` {"totalScore": "77", "timestamp": "1700000001"} `))
		assert.Equal(t, Fragment{KeyLastScore: 77, KeyLastTime: int64(1700000001)}, got)
	})

	t.Run("non numeric value skipped", func(t *testing.T) {
		got := r.Route([]byte(`{"score": "great", "duration": 60}`))
		assert.Equal(t, Fragment{KeyLastDuration: 60}, got)
	})

	t.Run("unmatched object is empty", func(t *testing.T) {
		assert.Empty(t, r.Route([]byte(`{"foo": 1}`)))
	})

	assert.Zero(t, sink.Len(), "JSON objects MUST NOT be recorded as unknown")
}

func TestRouter_UnknownRecorded(t *testing.T) {
	r, sink := newTestRouter()

	assert.Empty(t, r.Route([]byte{0xAB, 0xCD, 0x01}))
	assert.Empty(t, r.Route([]byte(`[1, 2, 3]`)), "JSON arrays are not objects")
	assert.Empty(t, r.Route([]byte{0xFF, 0xFE, 0xFD}), "invalid UTF-8 MUST be unknown")

	lines := sink.Drain()
	require.Len(t, lines, 3)
	assert.True(t, strings.HasSuffix(lines[0], " abcd01"))
	assert.True(t, strings.HasSuffix(lines[2], " fffefd"))
	assert.Empty(t, sink.Drain(), "Drain MUST clear the sink")
}

func TestRegistry_Register(t *testing.T) {
	c := newTestCodec()
	reg := DefaultRegistry(c)
	r := NewRouter(reg, nil, c.logger)

	custom := Tag{0x77, 0x01}
	assert.Empty(t, r.Route([]byte{0x77, 0x01, 0x05}))

	reg.Register(custom, DecoderFunc(func(p []byte) Fragment {
		return Fragment{KeyBattery: int(p[0])}
	}))
	assert.Equal(t, Fragment{KeyBattery: 5}, r.Route([]byte{0x77, 0x01, 0x05}))

	t.Run("decoder panic is contained", func(t *testing.T) {
		assert.Empty(t, r.Route([]byte{0x77, 0x01}))
	})
}

func TestParseTag(t *testing.T) {
	tag, err := ParseTag("0308")
	require.NoError(t, err)
	assert.Equal(t, TagInfo, tag)
	assert.Equal(t, "0308", tag.String())

	tag, err = ParseTag("5a00")
	require.NoError(t, err)
	assert.Equal(t, "5A00", tag.String())

	for _, bad := range []string{"", "03", "030800", "zz00"} {
		_, err := ParseTag(bad)
		assert.Error(t, err, "tag %q MUST be rejected", bad)
	}
}

func TestUnknownSink_DropsOldest(t *testing.T) {
	sink := NewUnknownSink(64)
	sink.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	// each line is 20 + 1 + 6 + 1 = 28 bytes; two fit in 64
	sink.Record([]byte{0x01, 0x01, 0x01})
	sink.Record([]byte{0x02, 0x02, 0x02})
	sink.Record([]byte{0x03, 0x03, 0x03})

	lines := sink.Drain()
	require.Len(t, lines, 2)
	assert.Equal(t, "2026-01-01T00:00:00Z 020202", lines[0])
	assert.Equal(t, "2026-01-01T00:00:00Z 030303", lines[1])
}

func TestUnknownSink_OversizedLineIgnored(t *testing.T) {
	sink := NewUnknownSink(16)
	sink.Record(make([]byte, 32))
	assert.Zero(t, sink.Len())
}
