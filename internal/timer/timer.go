// Copyright (C) 2024 The Reactors Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package timer computes the logical-time firings of the scheduler's
// timers, including the catch-up policy applied when the scheduler
// resumes after a stall (spec.md §9's second open question).
package timer

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/reactor-rt/reactors/internal/tag"
)

// ID is the dense integer handle for a timer, assigned by the builder.
type ID uint32

// CatchupPolicy decides what happens to timer firings missed while the
// scheduler was stalled (a long wall-clock-sync sleep, a parked
// keepalive wait, or process suspension).
type CatchupPolicy int

const (
	// CatchupNone skips every missed firing; only the next natural
	// firing after resume is scheduled. This is the default.
	CatchupNone CatchupPolicy = iota
	// CatchupFireOnce coalesces every missed firing into a single
	// firing at the most recent missed offset.
	CatchupFireOnce
	// CatchupFireAll replays every missed firing, oldest first, as
	// distinct tags before resuming live ticking.
	CatchupFireAll
)

// Schedule is anything that can report its next firing strictly after
// a given logical offset. Both Periodic and Cron implement it.
type Schedule interface {
	NextFiring(after tag.Duration) (tag.Duration, bool)
}

// Periodic is the scheduling spec's literal timer shape: an initial
// offset and a period. Period <= 0 means a one-shot timer.
type Periodic struct {
	ID     ID
	Offset tag.Duration
	Period tag.Duration
}

// NextFiring returns the smallest firing offset strictly greater than
// after, or false if the timer is one-shot and has already fired.
func (t Periodic) NextFiring(after tag.Duration) (tag.Duration, bool) {
	if t.Period <= 0 {
		if t.Offset > after {
			return t.Offset, true
		}
		return 0, false
	}
	if after < t.Offset {
		return t.Offset, true
	}
	elapsed := after - t.Offset
	n := elapsed/t.Period + 1
	return t.Offset + n*t.Period, true
}

// Cron wraps a robfig/cron schedule, translating its wall-clock
// firings into logical-time offsets measured from the scheduler's
// program-start instant. Useful for timers authored as cron
// expressions rather than a bare offset+period pair.
type Cron struct {
	ID       ID
	Schedule cron.Schedule
	Start    time.Time
}

// NewCron parses a standard five-field cron expression.
func NewCron(id ID, expr string, start time.Time) (*Cron, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, err
	}
	return &Cron{ID: id, Schedule: sched, Start: start}, nil
}

// NextFiring implements Schedule by converting to/from wall-clock time
// around the cron library's Next computation.
func (c *Cron) NextFiring(after tag.Duration) (tag.Duration, bool) {
	afterTime := c.Start.Add(time.Duration(after))
	next := c.Schedule.Next(afterTime)
	if next.IsZero() {
		return 0, false
	}
	return tag.Duration(next.Sub(c.Start)), true
}

// PendingFirings walks sched from just after `from` up to and
// including `upTo`, then filters the missed firings according to
// policy. It is used when the scheduler resumes after a stall spanning
// (from, upTo].
func PendingFirings(sched Schedule, from, upTo tag.Duration, policy CatchupPolicy) []tag.Duration {
	var all []tag.Duration
	cur := from
	for {
		next, ok := sched.NextFiring(cur)
		if !ok || next > upTo {
			break
		}
		all = append(all, next)
		cur = next
	}
	if len(all) == 0 {
		return nil
	}
	switch policy {
	case CatchupFireAll:
		return all
	case CatchupFireOnce:
		return all[len(all)-1:]
	default:
		return nil
	}
}
