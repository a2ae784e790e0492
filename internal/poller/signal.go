package poller

import (
	"context"
	"time"
)

// signal is a reusable one-slot event: Set never blocks, Wait consumes it.
type signal struct {
	ch chan struct{}
}

func newSignal() *signal {
	return &signal{ch: make(chan struct{}, 1)}
}

func (s *signal) Set() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

func (s *signal) Clear() {
	select {
	case <-s.ch:
	default:
	}
}

// Wait reports whether the signal fired within timeout. Cancellation of ctx
// counts as a timeout.
func (s *signal) Wait(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil || d <= 0 {
		return err
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
