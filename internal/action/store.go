// Copyright (C) 2024 The Reactors Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package action implements the per-action keyed store: an
// offset-bucketed map with a microstep sub-index, prunable as the
// logical clock advances.
package action

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/reactor-rt/reactors/internal/tag"
)

// Kind distinguishes logical actions (schedulable only from reactions)
// from physical actions (schedulable from outside the scheduler).
type Kind int

const (
	Logical Kind = iota
	Physical
)

// ID is the dense integer handle for an action, assigned by the
// builder.
type ID uint32

// bucket holds every payload scheduled at one offset, indexed densely
// by microstep. A dense slice beats a nested tree here: microsteps at
// a given offset are small and near-contiguous in practice, and a
// slice avoids per-push tree rebalancing on the scheduler's hot path.
type bucket[T any] struct {
	nextMicrostep uint32
	entries       []*T
}

func (b *bucket[T]) set(microstep uint32, v T) {
	idx := int(microstep)
	for len(b.entries) <= idx {
		b.entries = append(b.entries, nil)
	}
	val := v
	b.entries[idx] = &val
	if microstep+1 > b.nextMicrostep {
		b.nextMicrostep = microstep + 1
	}
}

func (b *bucket[T]) get(microstep uint32) (T, bool) {
	idx := int(microstep)
	var zero T
	if idx < 0 || idx >= len(b.entries) || b.entries[idx] == nil {
		return zero, false
	}
	return *b.entries[idx], true
}

// dropBelow removes every microstep strictly less than min, reporting
// whether the bucket is now empty.
func (b *bucket[T]) dropBelow(min uint32) bool {
	if int(min) >= len(b.entries) {
		b.entries = nil
		return true
	}
	for i := 0; i < int(min); i++ {
		b.entries[i] = nil
	}
	for _, e := range b.entries {
		if e != nil {
			return false
		}
	}
	return true
}

// Store is the ActionStore: keyed by Duration offset, prunable as the
// current tag advances. The scheduler thread is the sole owner; no
// internal locking is needed (§5 of the scheduling spec).
type Store[T any] struct {
	buckets map[tag.Duration]*bucket[T]
	// prunedOffsets is a bounded diagnostic trail of recently pruned
	// offsets. It is only written, never read back by this module, so
	// correctness never depends on it.
	prunedOffsets *lru.Cache[tag.Duration, int]
}

// New builds an empty ActionStore. historySize bounds the diagnostic
// pruned-offset trail; 0 disables it.
func New[T any](historySize int) *Store[T] {
	s := &Store[T]{buckets: make(map[tag.Duration]*bucket[T])}
	if historySize > 0 {
		c, err := lru.New[tag.Duration, int](historySize)
		if err == nil {
			s.prunedOffsets = c
		}
	}
	return s
}

// Push places v at exactly tg, overwriting any prior value at that
// tag, and raises the bucket's next-microstep counter to at least
// tg.Microstep+1.
func (s *Store[T]) Push(tg tag.Tag, v T) {
	b, ok := s.buckets[tg.Offset]
	if !ok {
		b = &bucket[T]{}
		s.buckets[tg.Offset] = b
	}
	b.set(tg.Microstep, v)
}

// NextMicrostepForOffset returns max(bucket.nextMicrostep, min) for the
// bucket at offset, or min if no bucket exists there yet.
func (s *Store[T]) NextMicrostepForOffset(offset tag.Duration, min uint32) uint32 {
	b, ok := s.buckets[offset]
	if !ok {
		return min
	}
	if b.nextMicrostep > min {
		return b.nextMicrostep
	}
	return min
}

// GetCurrent prunes everything older than tg and then returns the
// payload at exactly tg, if any.
func (s *Store[T]) GetCurrent(tg tag.Tag) (T, bool) {
	s.ClearOlderThan(tg)
	b, ok := s.buckets[tg.Offset]
	if !ok {
		var zero T
		return zero, false
	}
	return b.get(tg.Microstep)
}

// ClearOlderThan drops every bucket whose offset is strictly less than
// t.Offset, and within the bucket at t.Offset drops every microstep
// strictly less than t.Microstep. An emptied bucket is removed
// entirely, which also erases its nextMicrostep counter — this is the
// invariant that bounds memory in long runs.
func (s *Store[T]) ClearOlderThan(t tag.Tag) {
	for offset, b := range s.buckets {
		switch {
		case offset < t.Offset:
			delete(s.buckets, offset)
			s.recordPrune(offset)
		case offset == t.Offset:
			if b.dropBelow(t.Microstep) {
				delete(s.buckets, offset)
				s.recordPrune(offset)
			}
		}
	}
}

func (s *Store[T]) recordPrune(offset tag.Duration) {
	if s.prunedOffsets == nil {
		return
	}
	n, _ := s.prunedOffsets.Get(offset)
	s.prunedOffsets.Add(offset, n+1)
}

// Len reports the number of distinct offsets currently held, for
// diagnostics and tests.
func (s *Store[T]) Len() int { return len(s.buckets) }

// ErasedStore is the type-erased facet of Store[T] the scheduler
// drives: it does not know each action's concrete payload type, so it
// operates on every store through this interface instead.
type ErasedStore interface {
	PushAny(tg tag.Tag, v any)
	GetCurrentAny(tg tag.Tag) (any, bool)
	ClearOlderThan(t tag.Tag)
	NextMicrostepForOffset(offset tag.Duration, min uint32) uint32
}

// PushAny type-asserts v to T and pushes it. It panics if the builder
// wired a mismatched payload type to this action, which would be a
// construction error the builder should have caught.
func (s *Store[T]) PushAny(tg tag.Tag, v any) { s.Push(tg, v.(T)) }

// GetCurrentAny is GetCurrent with its result boxed back into any.
func (s *Store[T]) GetCurrentAny(tg tag.Tag) (any, bool) { return s.GetCurrent(tg) }
