// Copyright (C) 2024 The Reactors Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package port implements the port value store: one typed cell per
// port, plus the contiguous-array "views" that reactions use to read
// and write them without allocating on the hot path.
package port

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/samber/lo"
)

// ID is the dense integer handle for a port, assigned by the builder.
type ID uint32

// ErrDoubleWrite is returned when a reaction attempts to set a port
// that already has a value for the current tag. It is runtime-fatal
// per the scheduling spec: the scheduler that observes it must
// terminate, not retry.
var ErrDoubleWrite = errors.New("port: double write in same tag")

// Decl declares a port's static type, supplied once by the builder.
type Decl struct {
	ID   ID
	Type reflect.Type
}

// Store holds one value cell per port. A port has a value only at the
// current tag; Store.ClearTag empties every cell written during that
// tag without touching cells that were never set, so steady-state tag
// cleanup costs proportional to what was actually written, not to the
// total port count.
type Store struct {
	types   []reflect.Type
	values  []any
	present []bool
	dirty   []ID // reused slice of ports set this tag; truncated, never freed
}

// NewStore allocates a Store sized for the declared ports. Port ids
// must be dense and start at 0, as produced by the builder.
func NewStore(decls []Decl) *Store {
	n := 0
	for _, d := range decls {
		if int(d.ID)+1 > n {
			n = int(d.ID) + 1
		}
	}
	s := &Store{
		types:   make([]reflect.Type, n),
		values:  make([]any, n),
		present: make([]bool, n),
	}
	for _, d := range decls {
		s.types[d.ID] = d.Type
	}
	return s
}

// Set writes v to port id for the current tag. It reports
// ErrDoubleWrite if the port already holds a value this tag.
func (s *Store) Set(id ID, v any) error {
	if s.present[id] {
		return ErrDoubleWrite
	}
	s.values[id] = v
	s.present[id] = true
	s.dirty = append(s.dirty, id)
	return nil
}

// Get returns the port's value for the current tag, if any writer
// produced one.
func (s *Store) Get(id ID) (any, bool) {
	if !s.present[id] {
		return nil, false
	}
	return s.values[id], true
}

// ClearTag empties every port cell written during the current tag,
// preparing the store for the next tag.
func (s *Store) ClearTag() {
	for _, id := range s.dirty {
		s.present[id] = false
		s.values[id] = nil
	}
	s.dirty = s.dirty[:0]
}

// Dirty returns every port id written so far during the current tag.
// The scheduler uses it between levels to discover which downstream
// reactions just became triggerable; the returned slice aliases
// internal state and is only valid until the next Set or ClearTag.
func (s *Store) Dirty() []ID { return s.dirty }

// View is a typed, contiguous window into a sub-range of the port
// table — a "port bank" in the scheduling spec's terms. It is built
// once at startup; Get/Set never allocate and never re-check types
// after construction.
type View[T any] struct {
	store *Store
	ids   []ID
}

// NewView validates, once, that every id in ids was declared with type
// T, then returns a reusable view over them.
func NewView[T any](store *Store, ids []ID) (*View[T], error) {
	want := reflect.TypeOf((*T)(nil)).Elem()
	mismatched := lo.Filter(ids, func(id ID, _ int) bool { return store.types[id] != want })
	if len(mismatched) > 0 {
		return nil, fmt.Errorf("ports %v: declared type does not match view type %v", mismatched, want)
	}
	return &View[T]{store: store, ids: ids}, nil
}

// Len reports the number of ports in the bank.
func (v *View[T]) Len() int { return len(v.ids) }

// Get reads the port at bank position i for the current tag.
func (v *View[T]) Get(i int) (T, bool) {
	raw, ok := v.store.Get(v.ids[i])
	if !ok {
		var zero T
		return zero, false
	}
	return raw.(T), true
}

// Set writes value to the port at bank position i for the current
// tag, reporting ErrDoubleWrite if already set.
func (v *View[T]) Set(i int, value T) error {
	return v.store.Set(v.ids[i], value)
}
