// Copyright (C) 2024 The Reactors Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package tag implements arithmetic on the logical-time tags that order
// every event the scheduler processes.
package tag

import "fmt"

// Duration is a signed count of nanoseconds, used both for delays and
// for the offset component of a Tag.
type Duration int64

// Instant is a Duration interpreted as an offset from program start.
type Instant = Duration

// Zero is the duration of length zero.
const Zero Duration = 0

// Tag totally orders events in logical time: first by Offset, then by
// Microstep. Two tags are equal iff both fields match.
type Tag struct {
	Offset    Duration
	Microstep uint32
}

// Origin is the first tag the scheduler ever processes.
var Origin = Tag{Offset: 0, Microstep: 0}

// New builds a Tag from an offset and microstep.
func New(offset Duration, microstep uint32) Tag {
	return Tag{Offset: offset, Microstep: microstep}
}

// Compare returns -1, 0, or 1 as a is less than, equal to, or greater
// than b, ordering lexicographically by (Offset, Microstep).
func Compare(a, b Tag) int {
	switch {
	case a.Offset < b.Offset:
		return -1
	case a.Offset > b.Offset:
		return 1
	case a.Microstep < b.Microstep:
		return -1
	case a.Microstep > b.Microstep:
		return 1
	default:
		return 0
	}
}

// Less reports whether a strictly precedes b.
func Less(a, b Tag) bool { return Compare(a, b) < 0 }

// After adds d to t's offset, resetting the microstep to zero. This is
// the "tag + delay" rule from the scheduling spec: a delayed schedule
// always lands on microstep 0 of its target offset.
func (t Tag) After(d Duration) Tag {
	return Tag{Offset: t.Offset + d, Microstep: 0}
}

// SameInstantNext returns the same offset at the next microstep, used
// for zero-delay logical actions that must be ordered strictly after t
// but at the same physical instant.
func (t Tag) SameInstantNext() Tag {
	return Tag{Offset: t.Offset, Microstep: t.Microstep + 1}
}

// String renders a Tag as "(offset,microstep)" for logs and traces.
func (t Tag) String() string {
	return fmt.Sprintf("(%d,%d)", t.Offset, t.Microstep)
}
