package protocol

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Tag is the 2-byte notification type marker.
type Tag [2]byte

func (t Tag) String() string {
	return strings.ToUpper(hex.EncodeToString(t[:]))
}

// ParseTag parses a 4-digit hex tag such as "0308".
func ParseTag(s string) (Tag, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil || len(b) != 2 {
		return Tag{}, fmt.Errorf("invalid tag %q: want 4 hex digits", s)
	}
	return Tag{b[0], b[1]}, nil
}

// Registry maps tags to decoders. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	decoders map[Tag]Decoder
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[Tag]Decoder)}
}

// DefaultRegistry registers every known layout of c.
func DefaultRegistry(c *Codec) *Registry {
	r := NewRegistry()
	r.Register(TagState, DecoderFunc(c.DecodeState))
	r.Register(TagInfo, DecoderFunc(c.DecodeInfo))
	r.Register(TagInfoT1, DecoderFunc(c.DecodeInfoT1))
	r.Register(TagDeviceInfo, DecoderFunc(c.DecodeDeviceInfoAck))
	r.Register(TagGuidance, DecoderFunc(c.DecodeGuidance))
	r.Register(TagScoreT1, DecoderFunc(c.DecodeScoreT1))
	r.Register(TagSessionMeta, DecoderFunc(c.DecodeSessionMeta))
	r.Register(TagBrushAreas, DecoderFunc(c.DecodeBrushAreas))
	r.Register(TagExtendedT1, DecoderFunc(c.DecodeExtendedT1))
	return r
}

// Register adds or replaces the decoder for tag.
func (r *Registry) Register(tag Tag, d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[tag] = d
}

// Lookup returns the decoder for tag.
func (r *Registry) Lookup(tag Tag) (Decoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.decoders[tag]
	return d, ok
}

// Tags returns the registered tags.
func (r *Registry) Tags() []Tag {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]Tag, 0, len(r.decoders))
	for t := range r.decoders {
		tags = append(tags, t)
	}
	return tags
}

// Router dispatches raw notifications to decoders. It holds no per-cycle
// state and may be shared by concurrent cycles.
type Router struct {
	registry *Registry
	unknown  *UnknownSink
	logger   *logrus.Logger
}

// NewRouter creates a router. A nil unknown sink disables forensic capture.
func NewRouter(registry *Registry, unknown *UnknownSink, logger *logrus.Logger) *Router {
	if logger == nil {
		logger = logrus.New()
	}
	logger.WithField("tags", registry.Tags()).Debug("Notification router ready")
	return &Router{
		registry: registry,
		unknown:  unknown,
		logger:   logger,
	}
}

// Route decodes one notification. Anything unrecognised yields an empty fragment.
func (r *Router) Route(data []byte) (out Fragment) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.WithFields(logrus.Fields{
				"raw":   hex.EncodeToString(data),
				"panic": rec,
			}).Warn("Decoder panicked, notification dropped")
			out = Fragment{}
		}
	}()

	if len(data) < 2 {
		r.logger.WithField("raw", hex.EncodeToString(data)).Debug("Notification too short")
		return Fragment{}
	}

	tag := Tag{data[0], data[1]}
	if d, ok := r.registry.Lookup(tag); ok {
		out = d.Decode(data[2:])
		if out == nil {
			out = Fragment{}
		}
		return out
	}

	if f, ok := decodeJSON(data); ok {
		r.logger.WithField("fields", f.String()).Debug("JSON notification mapped")
		return f
	}

	r.logger.WithFields(logrus.Fields{
		"tag": tag.String(),
		"raw": hex.EncodeToString(data),
	}).Debug("Unknown notification type")
	if r.unknown != nil {
		r.unknown.Record(data)
	}
	return Fragment{}
}
