// File: internal/dispatch/loop.go

// Package dispatch provides the single logical task queue the client runs on.
// Identity changes, snapshot deliveries, mutation completions and user
// actions all interleave through one Loop, so state transitions observe a
// deterministic order without per-component locking gymnastics.
package dispatch

import (
	"context"
	"sync"
)

type Loop struct {
	tasks     chan func()
	done      chan struct{}
	closeOnce sync.Once
}

func NewLoop(buffer int) *Loop {
	if buffer <= 0 {
		buffer = 256
	}
	return &Loop{
		tasks: make(chan func(), buffer),
		done:  make(chan struct{}),
	}
}

// Run drains the queue until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case fn := <-l.tasks:
			fn()
		}
	}
}

// Post enqueues fn for execution on the loop. Posting after Stop is a no-op.
func (l *Loop) Post(fn func()) {
	select {
	case <-l.done:
	case l.tasks <- fn:
	}
}

// Sync posts a barrier and waits until every task queued before it has run.
// Used by tests and shutdown paths that need the queue drained.
func (l *Loop) Sync() {
	ran := make(chan struct{})
	select {
	case <-l.done:
		return
	case l.tasks <- func() { close(ran) }:
	}
	select {
	case <-l.done:
	case <-ran:
	}
}

// Stop is idempotent.
func (l *Loop) Stop() {
	l.closeOnce.Do(func() { close(l.done) })
}
