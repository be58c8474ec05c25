// Copyright (C) 2024 The Reactors Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reactor-rt/reactors/internal/port"
)

func TestGraph_TriggeredBatchesOrderedByLevel(t *testing.T) {
	t.Parallel()

	pTrig := PortTrigger(port.ID(0))
	g, err := New([]*Reaction{
		{ID: 0, Level: 0, Triggers: []TriggerID{TimerTrigger(0)}},
		{ID: 1, Level: 1, Triggers: []TriggerID{pTrig}},
		{ID: 2, Level: 1, Triggers: []TriggerID{pTrig}},
		{ID: 3, Level: 2, Triggers: []TriggerID{ActionTrigger(0)}},
	})
	require.NoError(t, err)

	var levels []uint32
	var batches [][]ReactionID
	g.TriggeredBatches([]TriggerID{TimerTrigger(0), pTrig}, func(level uint32, batch []ReactionID) {
		levels = append(levels, level)
		cp := append([]ReactionID(nil), batch...)
		batches = append(batches, cp)
	})

	assert.Equal(t, []uint32{0, 1}, levels)
	assert.Equal(t, []ReactionID{0}, batches[0])
	assert.Equal(t, []ReactionID{1, 2}, batches[1])
}

func TestGraph_UntriggeredLevelsOmitted(t *testing.T) {
	t.Parallel()

	g, err := New([]*Reaction{
		{ID: 0, Level: 0, Triggers: []TriggerID{TimerTrigger(1)}},
		{ID: 1, Level: 1, Triggers: []TriggerID{TimerTrigger(2)}},
	})
	require.NoError(t, err)

	var calls int
	g.TriggeredBatches([]TriggerID{TimerTrigger(2)}, func(level uint32, batch []ReactionID) {
		calls++
		assert.Equal(t, uint32(1), level)
	})
	assert.Equal(t, 1, calls)
}

func TestGraph_ReusesBitsetAcrossCalls(t *testing.T) {
	t.Parallel()

	g, err := New([]*Reaction{
		{ID: 0, Level: 0, Triggers: []TriggerID{TimerTrigger(0)}},
		{ID: 1, Level: 0, Triggers: []TriggerID{TimerTrigger(1)}},
	})
	require.NoError(t, err)

	var first []ReactionID
	g.TriggeredBatches([]TriggerID{TimerTrigger(0)}, func(_ uint32, batch []ReactionID) {
		first = append(first, batch...)
	})
	assert.Equal(t, []ReactionID{0}, first)

	var second []ReactionID
	g.TriggeredBatches([]TriggerID{TimerTrigger(1)}, func(_ uint32, batch []ReactionID) {
		second = append(second, batch...)
	})
	assert.Equal(t, []ReactionID{1}, second, "stale marks from the previous call must not leak")
}

func TestGraph_IncrementalMarkingAcrossLevels(t *testing.T) {
	t.Parallel()

	// A level-0 producer's effect port triggers a level-1 consumer: the
	// consumer only becomes markable after the producer's level runs.
	outPort := PortTrigger(port.ID(0))
	g, err := New([]*Reaction{
		{ID: 0, Level: 0, Triggers: []TriggerID{TimerTrigger(0)}, EffectPorts: []port.ID{0}},
		{ID: 1, Level: 1, Triggers: []TriggerID{outPort}},
	})
	require.NoError(t, err)

	g.ResetMarks()
	g.MarkTriggers([]TriggerID{TimerTrigger(0)})

	assert.Equal(t, []ReactionID{0}, g.BatchAtLevel(0))
	assert.Empty(t, g.BatchAtLevel(1), "consumer not yet markable before the producer's port write")

	g.MarkTriggers([]TriggerID{outPort})
	assert.Equal(t, []ReactionID{1}, g.BatchAtLevel(1))
}

func TestGraph_ResetMarksClearsPriorAccumulation(t *testing.T) {
	t.Parallel()

	g, err := New([]*Reaction{
		{ID: 0, Level: 0, Triggers: []TriggerID{TimerTrigger(0)}},
	})
	require.NoError(t, err)

	g.MarkTriggers([]TriggerID{TimerTrigger(0)})
	assert.Equal(t, []ReactionID{0}, g.BatchAtLevel(0))

	g.ResetMarks()
	assert.Empty(t, g.BatchAtLevel(0))
}

func TestGraph_TriggersListsEveryIndexedTrigger(t *testing.T) {
	t.Parallel()

	g, err := New([]*Reaction{
		{ID: 0, Level: 0, Triggers: []TriggerID{TimerTrigger(0), PortTrigger(1)}},
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []TriggerID{TimerTrigger(0), PortTrigger(1)}, g.Triggers())
}

func TestGraph_RejectsDuplicateOrMissingReactionIDs(t *testing.T) {
	t.Parallel()

	_, err := New([]*Reaction{
		{ID: 0, Level: 0},
		{ID: 0, Level: 0},
	})
	assert.Error(t, err)

	_, err = New([]*Reaction{
		{ID: 1, Level: 0},
	})
	assert.Error(t, err, "id 0 missing from a dense 0..n table")
}
