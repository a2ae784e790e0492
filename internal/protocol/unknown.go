package protocol

import (
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/smallnest/ringbuffer"
)

// DefaultUnknownCapacity is the forensic buffer size in bytes.
const DefaultUnknownCapacity = 16 * 1024

// UnknownSink keeps the most recent unrecognised notifications as hex lines in
// a bounded byte ring. When full, the oldest lines are discarded.
type UnknownSink struct {
	mu  sync.Mutex
	buf *ringbuffer.RingBuffer
	now func() time.Time
}

// NewUnknownSink creates a sink holding up to capacity bytes.
func NewUnknownSink(capacity int) *UnknownSink {
	if capacity <= 0 {
		capacity = DefaultUnknownCapacity
	}
	return &UnknownSink{
		buf: ringbuffer.New(capacity),
		now: time.Now,
	}
}

// Record appends one notification.
func (s *UnknownSink) Record(data []byte) {
	line := s.now().UTC().Format(time.RFC3339) + " " + hex.EncodeToString(data) + "\n"

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(line) > s.buf.Capacity() {
		return
	}
	for s.buf.Free() < len(line) {
		if !s.dropOldestLine() {
			return
		}
	}
	_, _ = s.buf.Write([]byte(line))
}

// dropOldestLine discards bytes up to and including the first newline.
func (s *UnknownSink) dropOldestLine() bool {
	for {
		b, err := s.buf.ReadByte()
		if err != nil {
			return false
		}
		if b == '\n' {
			return true
		}
	}
}

// Drain returns and clears the buffered lines, oldest first.
func (s *UnknownSink) Drain() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sb strings.Builder
	chunk := make([]byte, 512)
	for !s.buf.IsEmpty() {
		n, err := s.buf.TryRead(chunk)
		sb.Write(chunk[:n])
		if err != nil {
			break
		}
	}

	text := strings.TrimRight(sb.String(), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// Len returns the number of buffered bytes.
func (s *UnknownSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Length()
}
