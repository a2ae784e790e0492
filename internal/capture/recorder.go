// Package capture buffers raw notifications between the BLE callback and a
// slower printer.
package capture

import (
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/srg/oclean/internal/protocol"
)

// MaxBufferSize guards against accidental misconfiguration.
const MaxBufferSize uint32 = 1024 * 1024

// Record is one captured notification.
type Record struct {
	At       time.Time         `json:"at"`
	UUID     string            `json:"uuid"`
	Raw      []byte            `json:"-"`
	Hex      string            `json:"raw"`
	Fragment protocol.Fragment `json:"fragment,omitempty"`
}

// Recorder is safe for concurrent producers and consumers. When the printer
// falls behind, the oldest records are overwritten.
type Recorder struct {
	buffer      mpmc.RichOverlappedRingBuffer[Record]
	now         func() time.Time
	recorded    atomic.Int64
	overwritten atomic.Int64
	errors      atomic.Int64
}

// NewRecorder creates a recorder holding up to size records.
func NewRecorder(size uint32) (*Recorder, error) {
	if size == 0 {
		return nil, fmt.Errorf("buffer size must be > 0")
	}
	if size > MaxBufferSize {
		return nil, fmt.Errorf("buffer size %d exceeds maximum %d", size, MaxBufferSize)
	}
	return &Recorder{
		buffer: mpmc.NewOverlappedRingBuffer[Record](size),
		now:    time.Now,
	}, nil
}

// Observe records one notification. Its signature matches poller.NotifyHook.
func (r *Recorder) Observe(uuid string, data []byte, f protocol.Fragment) {
	raw := append([]byte(nil), data...)
	rec := Record{
		At:       r.now(),
		UUID:     uuid,
		Raw:      raw,
		Hex:      hex.EncodeToString(raw),
		Fragment: f.Clone(),
	}
	overwrites, err := r.buffer.EnqueueM(rec)
	if err != nil {
		r.errors.Add(1)
		return
	}
	r.overwritten.Add(int64(overwrites))
	r.recorded.Add(1)
}

// Drain hands every buffered record to fn, oldest first, and returns how
// many were delivered.
func (r *Recorder) Drain(fn func(Record)) int {
	n := 0
	for !r.buffer.IsEmpty() {
		rec, err := r.buffer.Dequeue()
		if err != nil {
			break
		}
		fn(rec)
		n++
	}
	return n
}

// Stats returns the number of recorded, overwritten and failed records.
func (r *Recorder) Stats() (recorded, overwritten, failed int64) {
	return r.recorded.Load(), r.overwritten.Load(), r.errors.Load()
}

// String renders a record as one console line.
func (rec Record) String() string {
	line := fmt.Sprintf("%s %s %s", rec.At.Format("15:04:05.000"), shortUUID(rec.UUID), rec.Hex)
	if !rec.Fragment.Empty() {
		line += " " + rec.Fragment.String()
	}
	return line
}

var channelNames = map[string]string{
	protocol.ReadNotifyUUID:   "read_notify",
	protocol.ReceiveBrushUUID: "receive_brush",
	protocol.ChangeInfoUUID:   "change_info",
	protocol.SendBrushCmdUUID: "send_brush_cmd",
}

func shortUUID(uuid string) string {
	if name, ok := channelNames[uuid]; ok {
		return name
	}
	return uuid
}
