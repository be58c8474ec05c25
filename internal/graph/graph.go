// Copyright (C) 2024 The Reactors Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package graph implements the static reaction dependency graph: a DAG
// of reactions with builder-assigned levels and precomputed trigger
// sets. The scheduler consumes level numbers as-is; this package never
// re-derives them.
package graph

import (
	"fmt"
	"sort"

	"github.com/samber/lo"

	"github.com/reactor-rt/reactors/internal/action"
	"github.com/reactor-rt/reactors/internal/port"
)

// ReactionID is the dense integer handle for a reaction, assigned by
// the builder.
type ReactionID uint32

// TriggerKind distinguishes the three kinds of trigger a reaction can
// react to.
type TriggerKind uint8

const (
	TriggerKindPort TriggerKind = iota
	TriggerKindAction
	TriggerKindTimer
)

// TriggerID names one trigger: a port, an action, or a timer, each in
// its own dense id space. It is comparable and usable as a map key.
type TriggerID struct {
	Kind  TriggerKind
	Index uint32
}

// PortTrigger builds the TriggerID for a port.
func PortTrigger(id port.ID) TriggerID { return TriggerID{Kind: TriggerKindPort, Index: uint32(id)} }

// ActionTrigger builds the TriggerID for an action.
func ActionTrigger(id action.ID) TriggerID {
	return TriggerID{Kind: TriggerKindAction, Index: uint32(id)}
}

// TimerTrigger builds the TriggerID for a timer.
func TimerTrigger(index uint32) TriggerID { return TriggerID{Kind: TriggerKindTimer, Index: index} }

// Reaction is the immutable, builder-produced description of one
// reaction node: its level and its trigger/use/effect sets. The
// reaction body itself lives in package reaction, which references a
// Reaction by ID.
type Reaction struct {
	ID            ReactionID
	Name          string // the owning reactor's name, for logs and metric labels; may be empty
	Level         uint32
	Triggers      []TriggerID
	Uses          []port.ID
	EffectPorts   []port.ID
	EffectActions []action.ID
}

// Graph is the frozen, startup-built ReactionGraph.
type Graph struct {
	reactions    []*Reaction    // indexed by ReactionID
	levels       [][]ReactionID // grouped by level, ascending
	triggerIndex map[TriggerID][]ReactionID

	marked []bool // reusable bitset, sized to len(reactions)
	batch  []ReactionID
}

// New builds a Graph from the builder's flattened reaction table.
// Reaction.ID must be dense and start at 0. New does not re-validate
// that triggers/effects respect level ordering — that is the
// builder's job (§4.4 of the scheduling spec); it only indexes what it
// is given.
func New(reactions []*Reaction) (*Graph, error) {
	n := 0
	for _, r := range reactions {
		if int(r.ID)+1 > n {
			n = int(r.ID) + 1
		}
	}
	byID := make([]*Reaction, n)
	for _, r := range reactions {
		if byID[r.ID] != nil {
			return nil, fmt.Errorf("graph: duplicate reaction id %d", r.ID)
		}
		byID[r.ID] = r
	}
	for i, r := range byID {
		if r == nil {
			return nil, fmt.Errorf("graph: missing reaction id %d", i)
		}
	}

	maxLevel := uint32(0)
	for _, r := range byID {
		if r.Level > maxLevel {
			maxLevel = r.Level
		}
	}
	levels := make([][]ReactionID, maxLevel+1)
	for _, r := range byID {
		levels[r.Level] = append(levels[r.Level], r.ID)
	}
	for _, ids := range levels {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}

	triggerIndex := make(map[TriggerID][]ReactionID)
	for _, r := range byID {
		for _, trg := range r.Triggers {
			triggerIndex[trg] = append(triggerIndex[trg], r.ID)
		}
	}

	return &Graph{
		reactions:    byID,
		levels:       levels,
		triggerIndex: triggerIndex,
		marked:       make([]bool, n),
	}, nil
}

// Reaction returns the reaction metadata for id.
func (g *Graph) Reaction(id ReactionID) *Reaction { return g.reactions[id] }

// NumLevels reports how many levels the graph spans.
func (g *Graph) NumLevels() int { return len(g.levels) }

// Triggers returns every trigger id the graph indexes, in no
// particular order. It exists for build-time diagnostics and startup
// logging (e.g. reporting an unreferenced port/action/timer) and is
// never called from the scheduler's hot path.
func (g *Graph) Triggers() []TriggerID { return lo.Keys(g.triggerIndex) }

// ResetMarks clears the reusable trigger bitset, reused across tags to
// avoid a per-tag allocation. Callers that drive the graph level by
// level (to let ports written at level L trigger reactions at a
// higher level within the same tag) call this once per tag, then
// MarkTriggers and BatchAtLevel incrementally.
func (g *Graph) ResetMarks() {
	for i := range g.marked {
		g.marked[i] = false
	}
}

// MarkTriggers marks every reaction reachable from the given triggers,
// without clearing marks set by a previous call — callers accumulate
// marks across a tag's levels as ports are written.
func (g *Graph) MarkTriggers(present []TriggerID) {
	for _, t := range present {
		for _, rid := range g.triggerIndex[t] {
			g.marked[rid] = true
		}
	}
}

// BatchAtLevel returns the currently marked reactions at level,
// reusing the same backing array as TriggeredBatches. The result is
// only valid until the next call to BatchAtLevel or TriggeredBatches.
func (g *Graph) BatchAtLevel(level uint32) []ReactionID {
	g.batch = g.batch[:0]
	if int(level) >= len(g.levels) {
		return g.batch
	}
	for _, rid := range g.levels[level] {
		if g.marked[rid] {
			g.batch = append(g.batch, rid)
		}
	}
	return g.batch
}

// TriggeredBatches computes, without allocating a new bitset, the
// level-ordered batches of reactions triggered by the given present
// triggers. Each returned batch belongs to one level in ascending
// order; levels with no triggered reaction are omitted. The returned
// slices are only valid until the next call to TriggeredBatches (the
// backing array is reused across tags to avoid per-tag allocation).
func (g *Graph) TriggeredBatches(present []TriggerID, emit func(level uint32, batch []ReactionID)) {
	for i := range g.marked {
		g.marked[i] = false
	}
	for _, t := range present {
		for _, rid := range g.triggerIndex[t] {
			g.marked[rid] = true
		}
	}
	for level, ids := range g.levels {
		g.batch = g.batch[:0]
		for _, rid := range ids {
			if g.marked[rid] {
				g.batch = append(g.batch, rid)
			}
		}
		if len(g.batch) > 0 {
			emit(uint32(level), g.batch)
		}
	}
}
