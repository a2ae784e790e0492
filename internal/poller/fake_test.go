package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/srg/oclean/internal/protocol"
	"github.com/srg/oclean/internal/reconcile"
	"github.com/srg/oclean/pkg/connection"
)

// fakeLink is a scripted Oclean brush. Running-data queries push the
// configured pages as notifications on the read-notify channel.
type fakeLink struct {
	mu       sync.Mutex
	address  string
	chars    map[string][]byte
	handlers map[string]connection.NotificationHandler
	writes   []write
	reads    []string
	pages    [][]byte
	page     int
	closed   bool
	writeErr map[string]error
}

type write struct {
	uuid string
	data []byte
}

func newFakeLink(address string, pages ...[]byte) *fakeLink {
	return &fakeLink{
		address: address,
		chars: map[string][]byte{
			protocol.DISModelUUID:    []byte("Oclean X\x00"),
			protocol.DISHWRevUUID:    []byte("1.0"),
			protocol.DISSWRevUUID:    []byte(" 1.0.3 "),
			protocol.BatteryCharUUID: {85},
		},
		handlers: map[string]connection.NotificationHandler{},
		pages:    pages,
		writeErr: map[string]error{},
	}
}

func (l *fakeLink) Address() string { return l.address }

func (l *fakeLink) HasCharacteristic(uuid string) bool {
	switch uuid {
	case protocol.ReadNotifyUUID, protocol.WriteUUID:
		return true
	}
	_, ok := l.chars[uuid]
	return ok
}

func (l *fakeLink) Write(uuid string, data []byte, _ bool) error {
	l.mu.Lock()
	l.writes = append(l.writes, write{uuid: uuid, data: append([]byte(nil), data...)})
	if err, ok := l.writeErr[string(data[:2])]; ok {
		l.mu.Unlock()
		return err
	}

	var push []byte
	if uuid == protocol.WriteUUID {
		switch string(data) {
		case string(protocol.CmdQueryStatus):
			push = []byte{0x03, 0x03, 0x02, 0x0e, 0x4b, 0x50}
		case string(protocol.CmdQueryRunningData):
			l.page = 0
			push = l.nextPage()
		case string(protocol.CmdQueryRunningNext):
			push = l.nextPage()
		}
	}
	h := l.handlers[protocol.ReadNotifyUUID]
	l.mu.Unlock()

	if push != nil && h != nil {
		h(protocol.ReadNotifyUUID, push)
	}
	return nil
}

// nextPage must be called with mu held.
func (l *fakeLink) nextPage() []byte {
	if l.page >= len(l.pages) {
		return nil
	}
	p := l.pages[l.page]
	l.page++
	return p
}

func (l *fakeLink) Read(uuid string) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reads = append(l.reads, uuid)
	v, ok := l.chars[uuid]
	if !ok {
		return nil, &connection.NotFoundError{Resource: "characteristic", UUIDs: []string{uuid}}
	}
	return v, nil
}

func (l *fakeLink) Subscribe(uuid string, handler connection.NotificationHandler) error {
	if !l.HasCharacteristic(uuid) {
		return &connection.NotFoundError{Resource: "characteristic", UUIDs: []string{uuid}}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[uuid] = handler
	return nil
}

func (l *fakeLink) Disconnect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeLink) commands(uuid string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, w := range l.writes {
		if w.uuid == uuid {
			out = append(out, string(w.data[:2]))
		}
	}
	return out
}

func (l *fakeLink) count(uuid string, cmd []byte) int {
	n := 0
	for _, c := range l.commands(uuid) {
		if c == string(cmd) {
			n++
		}
	}
	return n
}

func (l *fakeLink) readCount(uuid string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, r := range l.reads {
		if r == uuid {
			n++
		}
	}
	return n
}

// fakeTransport hands out the same link, or fails while err is set.
type fakeTransport struct {
	mu       sync.Mutex
	link     *fakeLink
	err      error
	attempts int
}

func (t *fakeTransport) Connect(_ context.Context, opts *connection.ConnectOptions) (connection.Link, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts++
	if t.err != nil {
		return nil, t.err
	}
	if opts.Address != t.link.address {
		return nil, errors.New("unexpected address")
	}
	return t.link, nil
}

func (t *fakeTransport) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
	t.attempts = 0
}

func (t *fakeTransport) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// memStore is an in-memory Persister.
type memStore struct {
	mu    sync.Mutex
	state map[string]reconcile.State
	saves int
	err   error
}

func newMemStore() *memStore {
	return &memStore{state: map[string]reconcile.State{}}
}

func (s *memStore) Load(address string) (reconcile.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return reconcile.State{}, s.err
	}
	return s.state[address], nil
}

func (s *memStore) Save(address string, state reconcile.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.state[address] = state
	return nil
}

func (s *memStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// extendedPage builds a tagged 0308 extended running-data notification.
func extendedPage(at time.Time, score, pnum byte) []byte {
	at = at.UTC()
	p := make([]byte, 34)
	p[0], p[1] = 0x03, 0x08
	r := p[2:]
	r[0], r[1] = 0x00, 0x20
	r[2] = byte(at.Year() - 2000)
	r[3], r[4] = byte(at.Month()), byte(at.Day())
	r[5], r[6], r[7] = byte(at.Hour()), byte(at.Minute()), byte(at.Second())
	r[8] = pnum
	r[9], r[10] = 0x00, 0x78
	for i := 20; i < 28; i++ {
		r[i] = 10
	}
	r[28] = score
	return p
}

// fastOptions keeps every wait short; go-defaults never overrides non-zero values.
func fastOptions(now time.Time) *Options {
	return &Options{
		Timing: Timing{
			ConnectTimeout:   time.Second,
			ConnectAttempts:  3,
			RetryDelay:       time.Millisecond,
			SettleDelay:      time.Millisecond,
			NotificationWait: 200 * time.Millisecond,
			PageWait:         50 * time.Millisecond,
			MaxPages:         50,
			DISRefresh:       24 * time.Hour,
		},
		Location: time.UTC,
		Now:      func() time.Time { return now },
	}
}
