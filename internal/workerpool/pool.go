// Package workerpool bounds concurrent CPU-bound work. The control plane
// uses it to cap simultaneous thumbnail JPEG encodes, so a burst of preview
// requests from a GUI shell cannot saturate every core while a recording's
// own encoder is running.
package workerpool

import (
	"context"

	"github.com/scopecast/service/internal/logging"
)

var log = logging.L("workerpool")

// Pool is a slot semaphore: Do runs work on the calling goroutine, but at
// most size calls execute at once. Running on the caller keeps results and
// panics on the goroutine that wants them; the pool only meters
// concurrency.
type Pool struct {
	slots chan struct{}
}

// New creates a pool that admits at most size concurrent calls.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	log.Info("worker pool started", "slots", size)
	return &Pool{slots: make(chan struct{}, size)}
}

// Do runs fn once a slot is free, on the calling goroutine. If ctx expires
// before a slot opens, fn never runs and the context's error is returned.
func (p *Pool) Do(ctx context.Context, fn func()) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		log.Warn("worker pool admission timed out", "error", ctx.Err())
		return ctx.Err()
	}
	defer func() { <-p.slots }()

	fn()
	return nil
}

// TryDo runs fn immediately if a slot is free, returning false without
// running it otherwise. For callers that would rather skip work than wait.
func (p *Pool) TryDo(fn func()) bool {
	select {
	case p.slots <- struct{}{}:
	default:
		return false
	}
	defer func() { <-p.slots }()

	fn()
	return true
}

// InUse reports how many slots are currently held.
func (p *Pool) InUse() int {
	return len(p.slots)
}
