// Copyright (C) 2024 The Reactors Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package schedcore

import (
	"context"
	"encoding/gob"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reactor-rt/reactors/internal/action"
	"github.com/reactor-rt/reactors/internal/config"
	"github.com/reactor-rt/reactors/internal/graph"
	"github.com/reactor-rt/reactors/internal/ingress"
	"github.com/reactor-rt/reactors/internal/port"
	"github.com/reactor-rt/reactors/internal/reaction"
	"github.com/reactor-rt/reactors/internal/record"
	"github.com/reactor-rt/reactors/internal/tag"
	"github.com/reactor-rt/reactors/internal/timer"
)

func init() {
	gob.Register(0)
}

func ms(n int) tag.Duration { return tag.Duration(n) * tag.Duration(time.Millisecond) }

func TestScheduler_HelloOnce(t *testing.T) {
	t.Parallel()

	var ranAt []tag.Tag
	program := reaction.Program{
		0: func(ctx *reaction.Context) error {
			ranAt = append(ranAt, ctx.Tag())
			ctx.ScheduleShutdown(nil)
			return nil
		},
	}
	g, err := graph.New([]*graph.Reaction{
		{ID: 0, Name: "hello", Level: 0, Triggers: []graph.TriggerID{graph.TimerTrigger(0)}},
	})
	require.NoError(t, err)

	timers := []*TimerBinding{{Index: 0, Schedule: timer.Periodic{Offset: 0, Period: 0}}}
	sched := New(g, program, port.NewStore(nil), nil, timers, WithConfig(config.Config{FastForward: true}))

	require.NoError(t, sched.Run(context.Background()))

	require.Len(t, ranAt, 1)
	assert.Equal(t, tag.New(0, 0), ranAt[0])
	assert.Equal(t, Stopped, sched.Snapshot().State)
}

func TestScheduler_GainPipeline(t *testing.T) {
	t.Parallel()

	ports := port.NewStore([]port.Decl{
		{ID: 0, Type: reflect.TypeOf(0)},
		{ID: 1, Type: reflect.TypeOf(0)},
	})

	g, err := graph.New([]*graph.Reaction{
		{ID: 0, Name: "Source", Level: 0, Triggers: []graph.TriggerID{graph.TimerTrigger(0)}, EffectPorts: []port.ID{0}},
		{ID: 1, Name: "Scale", Level: 1, Triggers: []graph.TriggerID{graph.PortTrigger(0)}, EffectPorts: []port.ID{1}},
		{ID: 2, Name: "Sink", Level: 2, Triggers: []graph.TriggerID{graph.PortTrigger(1)}},
	})
	require.NoError(t, err)

	var sinkTags []tag.Tag
	var sinkValues []int
	program := reaction.Program{
		0: func(ctx *reaction.Context) error { return ctx.SetPortValue(0, 1) },
		1: func(ctx *reaction.Context) error {
			v, ok := ctx.GetPortValue(0)
			require.True(t, ok)
			return ctx.SetPortValue(1, v.(int)*3)
		},
		2: func(ctx *reaction.Context) error {
			v, ok := ctx.GetPortValue(1)
			require.True(t, ok)
			sinkTags = append(sinkTags, ctx.Tag())
			sinkValues = append(sinkValues, v.(int))
			return nil
		},
	}

	timers := []*TimerBinding{{Index: 0, Schedule: timer.Periodic{Offset: 0, Period: ms(100)}}}
	timeout := ms(350)
	sched := New(g, program, ports, nil, timers,
		WithConfig(config.Config{FastForward: true, Timeout: &timeout}))

	require.NoError(t, sched.Run(context.Background()))

	wantOffsets := []tag.Duration{ms(0), ms(100), ms(200), ms(300)}
	require.Len(t, sinkTags, len(wantOffsets))
	for i, tg := range sinkTags {
		assert.Equal(t, wantOffsets[i], tg.Offset)
		assert.Equal(t, uint32(0), tg.Microstep)
		assert.Equal(t, 3, sinkValues[i])
	}
}

func TestScheduler_MicrostepCascade(t *testing.T) {
	t.Parallel()

	var observed []struct {
		tag   tag.Tag
		value int
	}

	program := reaction.Program{
		0: func(ctx *reaction.Context) error {
			_, err := ctx.ScheduleLogicalAction(0, 0, 7)
			return err
		},
		1: func(ctx *reaction.Context) error {
			v, ok := ctx.GetActionValue(0)
			require.True(t, ok)
			observed = append(observed, struct {
				tag   tag.Tag
				value int
			}{ctx.Tag(), v.(int)})
			ctx.ScheduleShutdown(nil)
			return nil
		},
	}

	g, err := graph.New([]*graph.Reaction{
		{ID: 0, Name: "A", Level: 0, Triggers: []graph.TriggerID{graph.TimerTrigger(0)}, EffectActions: []action.ID{0}},
		{ID: 1, Name: "B", Level: 0, Triggers: []graph.TriggerID{graph.ActionTrigger(0)}},
	})
	require.NoError(t, err)

	actions := []*ActionBinding{{ID: 0, Kind: action.Logical, Store: action.New[int](0)}}
	timers := []*TimerBinding{{Index: 0, Schedule: timer.Periodic{Offset: 0, Period: 0}}}

	sched := New(g, program, port.NewStore(nil), actions, timers, WithConfig(config.Config{FastForward: true}))
	require.NoError(t, sched.Run(context.Background()))

	require.Len(t, observed, 1)
	assert.Equal(t, tag.New(0, 1), observed[0].tag)
	assert.Equal(t, 7, observed[0].value)
}

func TestScheduler_ConnectionWithDelay(t *testing.T) {
	t.Parallel()

	var sinkOffsets []tag.Duration
	program := reaction.Program{
		0: func(ctx *reaction.Context) error {
			_, err := ctx.ScheduleLogicalAction(0, ms(10), 1)
			return err
		},
		1: func(ctx *reaction.Context) error {
			sinkOffsets = append(sinkOffsets, ctx.Tag().Offset)
			return nil
		},
	}

	g, err := graph.New([]*graph.Reaction{
		{ID: 0, Name: "Source", Level: 0, Triggers: []graph.TriggerID{graph.TimerTrigger(0)}, EffectActions: []action.ID{0}},
		{ID: 1, Name: "Sink", Level: 0, Triggers: []graph.TriggerID{graph.ActionTrigger(0)}},
	})
	require.NoError(t, err)

	actions := []*ActionBinding{{ID: 0, Kind: action.Logical, Store: action.New[int](0)}}
	timers := []*TimerBinding{{Index: 0, Schedule: timer.Periodic{Offset: 0, Period: ms(100)}}}
	timeout := ms(250)

	sched := New(g, program, port.NewStore(nil), actions, timers,
		WithConfig(config.Config{FastForward: true, Timeout: &timeout}))
	require.NoError(t, sched.Run(context.Background()))

	assert.Equal(t, []tag.Duration{ms(10), ms(110), ms(210)}, sinkOffsets)
}

type fixedClock struct{ at tag.Instant }

func (c fixedClock) Now() tag.Instant { return c.at }

func TestScheduler_PhysicalActionRecordAndReplay(t *testing.T) {
	t.Parallel()

	recPath := filepath.Join(t.TempDir(), "session.rec")
	actionsMeta := []record.ActionMeta{{ID: 0, Name: "act", TypeHash: record.TypeHash(0)}}
	rec, err := record.NewRecorder(recPath, actionsMeta)
	require.NoError(t, err)

	var recordedTag tag.Tag
	var recordedValue int
	recordProgram := reaction.Program{
		0: func(ctx *reaction.Context) error {
			recordedTag = ctx.Tag()
			v, ok := ctx.GetActionValue(0)
			require.True(t, ok)
			recordedValue = v.(int)
			ctx.ScheduleShutdown(nil)
			return nil
		},
	}
	recordGraph, err := graph.New([]*graph.Reaction{
		{ID: 0, Name: "Sink", Level: 0, Triggers: []graph.TriggerID{graph.ActionTrigger(0)}},
	})
	require.NoError(t, err)

	recordActions := []*ActionBinding{{ID: 0, Kind: action.Physical, Store: action.New[int](0)}}
	ing := ingress.New(1)
	clock := fixedClock{at: ms(53)}

	recordSched := New(recordGraph, recordProgram, port.NewStore(nil), recordActions, nil,
		WithIngress(ing), WithClock(clock), WithRecorder(rec), WithConfig(config.Config{}))

	errCh := make(chan error, 1)
	go func() { errCh <- recordSched.Run(context.Background()) }()

	require.NoError(t, ing.Send(context.Background(), ingress.Message{Action: 0, Payload: 42}))

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("recording scheduler never stopped")
	}
	require.NoError(t, rec.Close())

	assert.Equal(t, tag.New(ms(53), 0), recordedTag)
	assert.Equal(t, 42, recordedValue)

	rep, err := record.NewReplayer(recPath, map[action.ID]uint64{0: record.TypeHash(0)})
	require.NoError(t, err)
	defer rep.Close()

	var replayedTag tag.Tag
	var replayedValue int
	replayProgram := reaction.Program{
		0: func(ctx *reaction.Context) error {
			replayedTag = ctx.Tag()
			v, ok := ctx.GetActionValue(0)
			require.True(t, ok)
			replayedValue = v.(int)
			ctx.ScheduleShutdown(nil)
			return nil
		},
	}
	replayGraph, err := graph.New([]*graph.Reaction{
		{ID: 0, Name: "Sink", Level: 0, Triggers: []graph.TriggerID{graph.ActionTrigger(0)}},
	})
	require.NoError(t, err)
	replayActions := []*ActionBinding{{ID: 0, Kind: action.Physical, Store: action.New[int](0)}}

	replaySched := New(replayGraph, replayProgram, port.NewStore(nil), replayActions, nil,
		WithReplayer(rep), WithConfig(config.Config{FastForward: true}))
	require.NoError(t, replaySched.Run(context.Background()))

	assert.Equal(t, recordedTag, replayedTag)
	assert.Equal(t, recordedValue, replayedValue)
}

// sequenceClock returns each reading in order, then repeats the last
// one forever, letting a test script an exact clock history including
// a backward jump.
type sequenceClock struct {
	readings []tag.Instant
	i        int
}

func (c *sequenceClock) Now() tag.Instant {
	v := c.readings[c.i]
	if c.i < len(c.readings)-1 {
		c.i++
	}
	return v
}

func TestScheduler_PhysicalClockRegressionIsFatal(t *testing.T) {
	t.Parallel()

	program := reaction.Program{
		0: func(ctx *reaction.Context) error { return nil },
	}
	g, err := graph.New([]*graph.Reaction{
		{ID: 0, Name: "Sink", Level: 0, Triggers: []graph.TriggerID{graph.ActionTrigger(0)}},
	})
	require.NoError(t, err)
	actions := []*ActionBinding{{ID: 0, Kind: action.Physical, Store: action.New[int](0)}}

	ing := ingress.New(2)
	require.NoError(t, ing.Send(context.Background(), ingress.Message{Action: 0, Payload: 1}))
	require.NoError(t, ing.Send(context.Background(), ingress.Message{Action: 0, Payload: 2}))

	clock := &sequenceClock{readings: []tag.Instant{ms(10), ms(20), ms(5)}}
	sched := New(g, program, port.NewStore(nil), actions, nil,
		WithIngress(ing), WithClock(clock), WithConfig(config.Config{}))

	err = sched.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "regressed")
	assert.Equal(t, Stopped, sched.Snapshot().State)
}

// countingClock returns a strictly increasing reading on every call,
// one millisecond later each time, so a test can tell how many times
// the scheduler actually read the clock.
type countingClock struct{ n int64 }

func (c *countingClock) Now() tag.Instant {
	c.n++
	return tag.Instant(c.n) * tag.Instant(time.Millisecond)
}

func TestScheduler_PhysicalCatchupLazyBatchesSimultaneousArrivals(t *testing.T) {
	t.Parallel()

	var offsets []tag.Duration
	program := reaction.Program{
		0: func(ctx *reaction.Context) error {
			offsets = append(offsets, ctx.Tag().Offset)
			if len(offsets) == 3 {
				ctx.ScheduleShutdown(nil)
			}
			return nil
		},
	}
	g, err := graph.New([]*graph.Reaction{
		{ID: 0, Name: "Sink", Level: 0, Triggers: []graph.TriggerID{graph.ActionTrigger(0)}},
	})
	require.NoError(t, err)
	actions := []*ActionBinding{{ID: 0, Kind: action.Physical, Store: action.New[int](0)}}

	ing := ingress.New(3)
	require.NoError(t, ing.Send(context.Background(), ingress.Message{Action: 0, Payload: 1}))
	require.NoError(t, ing.Send(context.Background(), ingress.Message{Action: 0, Payload: 2}))
	require.NoError(t, ing.Send(context.Background(), ingress.Message{Action: 0, Payload: 3}))

	sched := New(g, program, port.NewStore(nil), actions, nil,
		WithIngress(ing), WithClock(&countingClock{}),
		WithConfig(config.Config{PhysicalCatchup: config.PhysicalCatchupLazy}))

	errCh := make(chan error, 1)
	go func() { errCh <- sched.Run(context.Background()) }()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler never stopped")
	}

	require.Len(t, offsets, 3)
	assert.Equal(t, offsets[0], offsets[1])
	assert.Equal(t, offsets[0], offsets[2])
}

func TestScheduler_PhysicalCatchupEagerReadsClockPerArrival(t *testing.T) {
	t.Parallel()

	var offsets []tag.Duration
	program := reaction.Program{
		0: func(ctx *reaction.Context) error {
			offsets = append(offsets, ctx.Tag().Offset)
			if len(offsets) == 2 {
				ctx.ScheduleShutdown(nil)
			}
			return nil
		},
	}
	g, err := graph.New([]*graph.Reaction{
		{ID: 0, Name: "Sink", Level: 0, Triggers: []graph.TriggerID{graph.ActionTrigger(0)}},
	})
	require.NoError(t, err)
	actions := []*ActionBinding{{ID: 0, Kind: action.Physical, Store: action.New[int](0)}}

	ing := ingress.New(2)
	require.NoError(t, ing.Send(context.Background(), ingress.Message{Action: 0, Payload: 1}))
	require.NoError(t, ing.Send(context.Background(), ingress.Message{Action: 0, Payload: 2}))

	sched := New(g, program, port.NewStore(nil), actions, nil,
		WithIngress(ing), WithClock(&countingClock{}),
		WithConfig(config.Config{PhysicalCatchup: config.PhysicalCatchupEager}))

	errCh := make(chan error, 1)
	go func() { errCh <- sched.Run(context.Background()) }()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler never stopped")
	}

	require.Len(t, offsets, 2)
	assert.NotEqual(t, offsets[0], offsets[1])
}

func TestScheduler_NoLevelRunsBeforeItsPredecessorFinishes(t *testing.T) {
	t.Parallel()

	ports := port.NewStore([]port.Decl{
		{ID: 0, Type: reflect.TypeOf(0)},
		{ID: 1, Type: reflect.TypeOf(0)},
	})

	var order []string
	program := reaction.Program{
		0: func(ctx *reaction.Context) error {
			order = append(order, "producer")
			return ctx.SetPortValue(0, 1)
		},
		1: func(ctx *reaction.Context) error {
			order = append(order, "consumer")
			_, ok := ctx.GetPortValue(0)
			assert.True(t, ok, "consumer must observe the producer's write from the same tag")
			return ctx.SetPortValue(1, 2)
		},
	}
	g, err := graph.New([]*graph.Reaction{
		{ID: 0, Name: "producer", Level: 0, Triggers: []graph.TriggerID{graph.TimerTrigger(0)}, EffectPorts: []port.ID{0}},
		{ID: 1, Name: "consumer", Level: 1, Triggers: []graph.TriggerID{graph.PortTrigger(0)}, EffectPorts: []port.ID{1}},
	})
	require.NoError(t, err)

	timers := []*TimerBinding{{Index: 0, Schedule: timer.Periodic{Offset: 0, Period: 0}}}
	sched := New(g, program, ports, nil, timers, WithConfig(config.Config{FastForward: true}))
	require.NoError(t, sched.Run(context.Background()))

	assert.Equal(t, []string{"producer", "consumer"}, order)
}

func TestScheduler_TagsStrictlyMonotonic(t *testing.T) {
	t.Parallel()

	var seen []tag.Tag
	program := reaction.Program{
		0: func(ctx *reaction.Context) error {
			seen = append(seen, ctx.Tag())
			return nil
		},
	}
	g, err := graph.New([]*graph.Reaction{
		{ID: 0, Name: "ticker", Level: 0, Triggers: []graph.TriggerID{graph.TimerTrigger(0)}},
	})
	require.NoError(t, err)

	timers := []*TimerBinding{{Index: 0, Schedule: timer.Periodic{Offset: 0, Period: ms(10)}}}
	timeout := ms(55)
	sched := New(g, program, port.NewStore(nil), nil, timers,
		WithConfig(config.Config{FastForward: true, Timeout: &timeout}))
	require.NoError(t, sched.Run(context.Background()))

	require.Len(t, seen, 6)
	for i := 1; i < len(seen); i++ {
		assert.True(t, tag.Less(seen[i-1], seen[i]), "tag %d (%s) must strictly precede tag %d (%s)", i-1, seen[i-1], i, seen[i])
	}
}
