//go:build test

package testutils

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// recorder captures Errorf calls in place of a testing.T.
type recorder struct {
	msgs []string
}

func (r *recorder) Errorf(format string, args ...interface{}) {
	r.msgs = append(r.msgs, fmt.Sprintf(format, args...))
}

func TestJSONAsserter_Diff(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		actual   string
		expected string
		match    bool
	}{
		{"identical", nil, `{"a":1}`, `{"a":1}`, true},
		{"different value", nil, `{"a":1}`, `{"a":2}`, false},
		{"extra keys ignored by default", nil, `{"a":1,"b":2}`, `{"a":1}`, true},
		{"extra keys reported", []Option{WithIgnoreExtraKeys(false)}, `{"a":1,"b":2}`, `{"a":1}`, false},
		{"presence placeholder", nil, `{"a":1,"t":"2026-03-01"}`, `{"a":1,"t":"<<PRESENCE>>"}`, true},
		{"presence requires key", nil, `{"a":1}`, `{"a":1,"t":"<<PRESENCE>>"}`, false},
		{"placeholder disabled", []Option{WithAllowPresencePlaceholder(false)}, `{"t":1}`, `{"t":"<<PRESENCE>>"}`, false},
		{"ignored nested field", []Option{WithIgnoredFields("last_seen")}, `{"d":{"x":1,"last_seen":5}}`, `{"d":{"x":1,"last_seen":6}}`, true},
		{"root arrays", nil, `[{"a":1},{"a":2}]`, `[{"a":1},{"a":2}]`, true},
		{"array order matters", nil, `[1,2]`, `[2,1]`, false},
		{"array order ignored", []Option{WithIgnoreArrayOrder(true)}, `{"v":[1,2]}`, `{"v":[2,1]}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ja := NewJSONAsserter(t).WithOptions(tt.opts...)
			diff := ja.diff(tt.actual, tt.expected)
			if tt.match {
				assert.Empty(t, diff, "documents MUST match")
			} else {
				assert.NotEmpty(t, diff, "documents MUST differ")
			}
		})
	}
}

func TestJSONAsserter_InvalidInput(t *testing.T) {
	ja := NewJSONAsserter(t)
	assert.Contains(t, ja.diff(`{`, `{}`), "invalid actual JSON")
	assert.Contains(t, ja.diff(`{}`, `{`), "invalid expected JSON")
}

func TestTextAsserter(t *testing.T) {
	t.Run("trailing whitespace and outer blank lines are ignored", func(t *testing.T) {
		r := &recorder{}
		NewTextAsserter(r).Assert("\nline one  \nline two\n\n", "line one\nline two")
		assert.Empty(t, r.msgs)
	})

	t.Run("difference produces a unified diff", func(t *testing.T) {
		r := &recorder{}
		NewTextAsserter(r).Assert("battery: 80", "battery: 85")
		assert.Len(t, r.msgs, 1)
		assert.Contains(t, r.msgs[0], "-battery: 85")
		assert.Contains(t, r.msgs[0], "+battery: 80")
	})

	t.Run("empty lines can be ignored", func(t *testing.T) {
		r := &recorder{}
		NewTextAsserter(r).WithOptions(WithIgnoreEmptyLines(true)).Assert("a\n\nb", "a\nb")
		assert.Empty(t, r.msgs)
	})

	t.Run("colors wrap changed lines", func(t *testing.T) {
		r := &recorder{}
		NewTextAsserter(r).WithOptions(WithEnableColors(true)).Assert("x", "y")
		assert.Len(t, r.msgs, 1)
		assert.True(t, strings.Contains(r.msgs[0], "\x1b["), "colored diff MUST contain ANSI escapes")
	})
}

func TestAdvertisementBuilder(t *testing.T) {
	adv := CreateMockAdvertisementFromJSON(`{"name":"Oclean X","address":"%s","rssi":-40,"services":["180F"]}`, "AA:BB").Build()

	assert.Equal(t, "Oclean X", adv.Name)
	assert.Equal(t, "AA:BB", adv.Address)
	assert.Equal(t, -40, adv.RSSI)
	assert.Equal(t, []string{"180f"}, adv.Services, "service UUIDs MUST be normalized")
	assert.True(t, adv.Connectable, "advertisements MUST default to connectable")
}
