// Copyright (C) 2024 The Reactors Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package queue implements the tag-ordered min-priority queue of
// pending events that feeds the scheduler's main loop.
package queue

import (
	"container/heap"

	"github.com/reactor-rt/reactors/internal/action"
	"github.com/reactor-rt/reactors/internal/tag"
)

// Entry is one pending event: an action due to fire at Tag carrying
// Value, which the scheduler hands to the action's ActionStore on
// drain.
type Entry struct {
	Tag    tag.Tag
	Action action.ID
	Value  any

	seq uint64 // insertion order, breaks ties stably
}

// entryHeap is a container/heap min-heap keyed by (Tag, seq), so ties
// on Tag fall back to arrival order — stable under concurrent
// physical-ingress insertions per the spec's tie-break rule.
type entryHeap []Entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if c := tag.Compare(h[i].Tag, h[j].Tag); c != 0 {
		return c < 0
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(Entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	last := old[n-1]
	*h = old[:n-1]
	return last
}

// EventQueue is the scheduler's single min-heap of pending events.
type EventQueue struct {
	h       entryHeap
	nextSeq uint64
}

// New returns an empty EventQueue.
func New() *EventQueue {
	q := &EventQueue{}
	heap.Init(&q.h)
	return q
}

// Push inserts an event at tg for action id carrying value.
func (q *EventQueue) Push(tg tag.Tag, id action.ID, value any) {
	heap.Push(&q.h, Entry{Tag: tg, Action: id, Value: value, seq: q.nextSeq})
	q.nextSeq++
}

// Peek returns the earliest pending entry without removing it.
func (q *EventQueue) Peek() (Entry, bool) {
	if len(q.h) == 0 {
		return Entry{}, false
	}
	return q.h[0], true
}

// NextTag returns the tag of the earliest pending entry, if any.
func (q *EventQueue) NextTag() (tag.Tag, bool) {
	e, ok := q.Peek()
	if !ok {
		return tag.Tag{}, false
	}
	return e.Tag, true
}

// Pop removes and returns the earliest pending entry.
func (q *EventQueue) Pop() (Entry, bool) {
	if len(q.h) == 0 {
		return Entry{}, false
	}
	return heap.Pop(&q.h).(Entry), true
}

// DrainAt removes and returns every entry whose Tag equals exactly tg.
// This is the scheduler's per-tag drain step: all entries at the
// popped tag move into their ActionStores in one batch, regardless of
// how many distinct actions or physical arrivals share the tag.
func (q *EventQueue) DrainAt(tg tag.Tag) []Entry {
	var drained []Entry
	for len(q.h) > 0 && q.h[0].Tag == tg {
		drained = append(drained, heap.Pop(&q.h).(Entry))
	}
	return drained
}

// Len reports the number of pending entries.
func (q *EventQueue) Len() int { return len(q.h) }

// Empty reports whether the queue has no pending entries.
func (q *EventQueue) Empty() bool { return len(q.h) == 0 }
