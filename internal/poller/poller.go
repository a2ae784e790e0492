// Package poller runs gated poll cycles against one Oclean device and keeps
// its reconciled snapshot.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/oclean/internal/protocol"
	"github.com/srg/oclean/internal/reconcile"
	"github.com/srg/oclean/internal/schedule"
	"github.com/srg/oclean/internal/session"
	"github.com/srg/oclean/internal/telemetry"
	"github.com/srg/oclean/pkg/connection"
)

var (
	// ErrNotReady is returned when a cycle failed and no earlier snapshot exists.
	ErrNotReady = errors.New("device data not available yet")
	// ErrDeviceUnreachable wraps connection failures.
	ErrDeviceUnreachable = errors.New("device unreachable")
)

// Persister loads and saves the durable counters of a device.
type Persister interface {
	Load(address string) (reconcile.State, error)
	Save(address string, state reconcile.State) error
}

// Result is the outcome of Poll.
type Result struct {
	Snapshot    reconcile.Snapshot
	NewSessions []session.Session
	Decision    schedule.Decision
}

// Skipped reports whether the gate prevented a connection.
func (r Result) Skipped() bool {
	return r.Decision.Skip
}

// Poller owns one device. Calls are serialized: at most one cycle is in
// flight per device.
type Poller struct {
	device    Device
	transport connection.Transport
	store     Persister
	sink      telemetry.Sink
	router    *protocol.Router
	unknown   *protocol.UnknownSink
	gate      *schedule.Gate
	opts      *Options
	logger    *logrus.Logger
	hook      NotifyHook

	mu        sync.Mutex
	snapshot  reconcile.Snapshot
	state     reconcile.State
	loaded    bool
	disReadAt time.Time
}

// New creates a poller. store and sink may be nil.
func New(device Device, transport connection.Transport, store Persister, sink telemetry.Sink, opts *Options, logger *logrus.Logger) *Poller {
	if logger == nil {
		logger = logrus.New()
	}
	opts = opts.withDefaults()

	codec := protocol.NewCodec(logger, opts.Location)
	unknown := protocol.NewUnknownSink(protocol.DefaultUnknownCapacity)

	return &Poller{
		device:    device,
		transport: transport,
		store:     store,
		sink:      sink,
		router:    protocol.NewRouter(protocol.DefaultRegistry(codec), unknown, logger),
		unknown:   unknown,
		gate:      schedule.NewGate(device.Windows),
		opts:      opts,
		logger:    logger,
		snapshot:  reconcile.Snapshot{Fields: protocol.Fragment{}},
	}
}

// SetNotifyHook installs an observer for raw notifications.
func (p *Poller) SetNotifyHook(hook NotifyHook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hook = hook
}

// Device returns the configured device.
func (p *Poller) Device() Device {
	return p.device
}

// Snapshot returns a copy of the current snapshot.
func (p *Poller) Snapshot() reconcile.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot.Clone()
}

// State returns the durable counters.
func (p *Poller) State() reconcile.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Unknown returns notifications no decoder recognized, oldest first, and
// clears them.
func (p *Poller) Unknown() []string {
	return p.unknown.Drain()
}

func (p *Poller) log() *logrus.Entry {
	return p.logger.WithField("address", p.device.Address)
}

// loadState reads durable state once per poller lifetime. Must hold mu.
func (p *Poller) loadState() {
	if p.loaded {
		return
	}
	p.loaded = true
	if p.store == nil {
		return
	}

	state, err := p.store.Load(p.device.Address)
	if err != nil {
		p.log().WithError(err).Warn("Failed to load device state, starting fresh")
		return
	}
	p.state = state
	p.log().WithFields(logrus.Fields{
		"last_session_ts":  state.LastSessionTS,
		"brush_head_count": state.BrushHeadCount,
		"brush_head_hw":    state.BrushHeadHW,
	}).Debug("Device state loaded")
}

func (p *Poller) saveState() {
	if p.store == nil {
		return
	}
	if err := p.store.Save(p.device.Address, p.state); err != nil {
		p.log().WithError(err).Warn("Failed to save device state")
	}
}

func (p *Poller) connect(ctx context.Context) (connection.Link, error) {
	opts := &connection.ConnectOptions{
		Address:        p.device.Address,
		ConnectTimeout: p.opts.ConnectTimeout,
	}

	var lastErr error
	for attempt := 1; attempt <= p.opts.ConnectAttempts; attempt++ {
		link, err := p.transport.Connect(ctx, opts)
		if err == nil {
			return link, nil
		}
		lastErr = err
		p.log().WithError(err).WithField("attempt", attempt).Debug("Connection attempt failed")

		if attempt < p.opts.ConnectAttempts {
			if err := sleep(ctx, p.opts.RetryDelay); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("%w: %w", ErrDeviceUnreachable, lastErr)
}

func (p *Poller) disconnect(link connection.Link) {
	if err := link.Disconnect(); err != nil {
		p.log().WithError(err).Debug("Disconnect failed")
	}
}

// Poll runs one gated cycle. A skipped cycle returns the existing snapshot
// without connecting. A failed connection returns the previous snapshot
// marked stale, or ErrNotReady when there is none.
func (p *Poller) Poll(ctx context.Context) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.loadState()
	now := p.opts.Now()

	decision := p.gate.Evaluate(now.In(p.opts.Location), p.state.CooldownUntil)
	if decision.Skip {
		p.log().WithField("decision", decision.String()).Info("Poll skipped")
		return Result{Snapshot: p.snapshot.Clone(), Decision: decision}, nil
	}

	link, err := p.connect(ctx)
	if err != nil {
		return p.failed(err)
	}

	watermark := p.state.LastSessionTS
	acc := session.NewAccumulator()
	err = p.exchange(ctx, link, acc, watermark, now)
	if err != nil {
		return p.failed(err)
	}

	res := reconcile.Reconcile(p.snapshot, p.state, reconcile.Input{
		Collected: acc.Collected(),
		Sessions:  acc.Finish(),
		Watermark: watermark,
		Now:       p.opts.Now(),
		Cooldown:  p.device.Cooldown,
	})
	p.snapshot = res.Snapshot
	p.state = res.State
	if res.Changed {
		p.saveState()
	}

	p.log().WithFields(logrus.Fields{
		"new_sessions": len(res.NewSessions),
		"snapshot":     p.snapshot.Fields.String(),
	}).Debug("Poll complete")

	if p.sink != nil {
		report := telemetry.Report{
			Device:      telemetry.Device{Address: p.device.Address, Name: p.device.Name},
			Snapshot:    p.snapshot.Clone(),
			NewSessions: res.NewSessions,
		}
		if err := p.sink.Publish(ctx, report); err != nil {
			p.log().WithError(err).Warn("Failed to publish report")
		}
	}

	return Result{Snapshot: p.snapshot.Clone(), NewSessions: res.NewSessions, Decision: decision}, nil
}

// exchange runs the command sequence; the link is released on every path.
func (p *Poller) exchange(ctx context.Context, link connection.Link, acc *session.Accumulator, watermark int64, now time.Time) error {
	defer p.disconnect(link)

	readIdentity := !identityFresh(p.disReadAt, now, p.opts.DISRefresh)
	c := &cycle{
		link:         link,
		router:       p.router,
		acc:          acc,
		sig:          newSignal(),
		opts:         p.opts,
		logger:       p.logger,
		watermark:    watermark,
		hook:         p.hook,
		identity:     p.snapshot.Fields,
		readIdentity: readIdentity,
	}
	if err := c.run(ctx); err != nil {
		return err
	}
	if c.identityRead {
		p.disReadAt = now
	}
	return nil
}

// failed applies stale-on-failure. Must hold mu.
func (p *Poller) failed(err error) (Result, error) {
	if errors.Is(err, context.Canceled) {
		return Result{}, err
	}
	p.log().WithError(err).Warn("Poll failed")
	if !p.snapshot.Ready() {
		return Result{}, fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	p.snapshot = reconcile.MarkStale(p.snapshot)
	return Result{Snapshot: p.snapshot.Clone()}, nil
}

// ResetBrushHead sends the clear-brush-head command and zeroes the software
// counter. The counter is reset only after the device accepted the command.
func (p *Poller) ResetBrushHead(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.loadState()

	link, err := p.connect(ctx)
	if err != nil {
		return err
	}
	err = func() error {
		defer p.disconnect(link)
		if err := sleep(ctx, p.opts.SettleDelay); err != nil {
			return err
		}
		if err := link.Write(protocol.WriteUUID, protocol.CmdClearBrushHead, true); err != nil {
			return fmt.Errorf("failed to send brush head reset: %w", err)
		}
		return nil
	}()
	if err != nil {
		return err
	}

	p.log().Info("Brush head counter reset sent")
	p.state.BrushHeadCount = 0
	if !p.state.BrushHeadHW && p.snapshot.Ready() {
		p.snapshot.Fields[protocol.KeyBrushHeadUsage] = 0
	}
	p.saveState()
	return nil
}
