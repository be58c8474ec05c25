// Copyright (C) 2024 The Reactors Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package ingress implements the physical-action ingress path: the
// only non-deterministic boundary of the scheduler. It is a
// multi-producer, single-consumer channel; the scheduler is the sole
// consumer, draining it from its main loop's parking step.
package ingress

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/reactor-rt/reactors/internal/action"
	"github.com/reactor-rt/reactors/internal/tag"
)

// ErrClosed is returned to a producer that sends after the ingress
// channel has been closed (on scheduler shutdown).
var ErrClosed = errors.New("ingress: channel closed")

// Message is one physical-action delivery from a producer.
type Message struct {
	Action       action.ID
	Payload      any
	DelayHint    tag.Duration
	PreStamped   *tag.Tag // non-nil on the Replayer path: bypasses clock-based tag synthesis
}

// Ingress is the bounded MPSC channel producers push into. A full
// channel blocks the producer — dropping samples silently would
// corrupt determinism under record/replay, so backpressure here is
// always "block", never "drop".
type Ingress struct {
	ch        chan Message
	closeOnce sync.Once
	closed    chan struct{}
}

// New allocates an Ingress with the given channel capacity.
func New(capacity int) *Ingress {
	return &Ingress{
		ch:     make(chan Message, capacity),
		closed: make(chan struct{}),
	}
}

// Send delivers msg, blocking if the channel is full. It returns
// ErrClosed if the ingress has been closed, or ctx.Err() if ctx is
// cancelled first.
func (g *Ingress) Send(ctx context.Context, msg Message) error {
	select {
	case <-g.closed:
		return ErrClosed
	default:
	}
	select {
	case g.ch <- msg:
		return nil
	case <-g.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close unblocks every pending and future producer with ErrClosed. It
// is safe to call more than once.
func (g *Ingress) Close() {
	g.closeOnce.Do(func() { close(g.closed) })
}

// Messages returns the consumer-side channel. Only the scheduler
// thread should receive from it.
func (g *Ingress) Messages() <-chan Message { return g.ch }

// Done reports when the ingress has been closed.
func (g *Ingress) Done() <-chan struct{} { return g.closed }

// Clock reads the physical wall clock as an Instant offset from
// program start.
type Clock interface {
	Now() tag.Instant
}

// MonotonicClock is the default Clock: wall time elapsed since it was
// constructed, using time.Since so it tracks the monotonic reading
// Go's runtime attaches to time.Time.
type MonotonicClock struct {
	start time.Time
}

// NewMonotonicClock starts a clock whose zero instant is now.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{start: time.Now()}
}

// Now returns elapsed time since the clock was constructed.
func (c *MonotonicClock) Now() tag.Instant {
	return tag.Instant(time.Since(c.start))
}
