// Copyright (C) 2024 The Reactors Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package reaction

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reactor-rt/reactors/internal/action"
	"github.com/reactor-rt/reactors/internal/graph"
	"github.com/reactor-rt/reactors/internal/port"
	"github.com/reactor-rt/reactors/internal/tag"
)

func testPorts() *port.Store {
	return port.NewStore(nil)
}

type fakeBackend struct {
	now             tag.Instant
	scheduledAt     tag.Tag
	scheduledValue  any
	shutdownAt      tag.Tag
	shutdownCalled  bool
	actionStoreVals map[action.ID]any
}

func (f *fakeBackend) Now() tag.Instant { return f.now }

func (f *fakeBackend) ScheduleLogical(from tag.Tag, id action.ID, delay tag.Duration, value any) (tag.Tag, error) {
	tg := from.After(delay)
	f.scheduledAt = tg
	f.scheduledValue = value
	return tg, nil
}

func (f *fakeBackend) SchedulePhysical(from tag.Tag, id action.ID, delay tag.Duration, value any) (tag.Tag, error) {
	return f.ScheduleLogical(from, id, delay, value)
}

func (f *fakeBackend) GetActionValue(id action.ID, _ tag.Tag) (any, bool) {
	v, ok := f.actionStoreVals[id]
	return v, ok
}

func (f *fakeBackend) RequestShutdown(at tag.Tag) {
	f.shutdownCalled = true
	f.shutdownAt = at
}

func TestContext_TagAndElapsedTime(t *testing.T) {
	t.Parallel()

	be := &fakeBackend{now: 999}
	ctx := NewContext(tag.New(100, 2), nil, testPorts(), be)

	assert.Equal(t, tag.New(100, 2), ctx.Tag())
	assert.Equal(t, tag.Duration(100), ctx.ElapsedLogicalTime())
	assert.Equal(t, tag.Instant(999), ctx.PhysicalTime())
}

func TestContext_IsPresent(t *testing.T) {
	t.Parallel()

	trig := graph.PortTrigger(0)
	present := map[graph.TriggerID]struct{}{trig: {}}
	ctx := NewContext(tag.New(0, 0), present, testPorts(), &fakeBackend{})

	assert.True(t, ctx.IsPresent(trig))
	assert.False(t, ctx.IsPresent(graph.PortTrigger(1)))
}

func TestContext_ScheduleLogicalActionDelegatesToBackend(t *testing.T) {
	t.Parallel()

	be := &fakeBackend{}
	ctx := NewContext(tag.New(50, 0), nil, testPorts(), be)

	got, err := ctx.ScheduleLogicalAction(3, 10, "payload")
	require.NoError(t, err)
	assert.Equal(t, tag.New(60, 0), got)
	assert.Equal(t, tag.New(60, 0), be.scheduledAt)
	assert.Equal(t, "payload", be.scheduledValue)
}

func TestContext_GetActionValue(t *testing.T) {
	t.Parallel()

	be := &fakeBackend{actionStoreVals: map[action.ID]any{5: 7}}
	ctx := NewContext(tag.New(0, 0), nil, testPorts(), be)

	v, ok := ctx.GetActionValue(5)
	require.True(t, ok)
	assert.Equal(t, 7, v)

	_, ok = ctx.GetActionValue(6)
	assert.False(t, ok)
}

func TestContext_ScheduleShutdown(t *testing.T) {
	t.Parallel()

	be := &fakeBackend{}
	ctx := NewContext(tag.New(10, 0), nil, testPorts(), be)

	ctx.ScheduleShutdown(nil)
	assert.True(t, be.shutdownCalled)
	assert.Equal(t, tag.New(10, 0), be.shutdownAt)

	be2 := &fakeBackend{}
	ctx2 := NewContext(tag.New(10, 0), nil, testPorts(), be2)
	d := tag.Duration(5)
	ctx2.ScheduleShutdown(&d)
	assert.Equal(t, tag.New(15, 0), be2.shutdownAt)
}

func TestContext_PortValueRoundTrip(t *testing.T) {
	t.Parallel()

	ports := port.NewStore([]port.Decl{{ID: 0, Type: reflect.TypeOf(0)}})
	ctx := NewContext(tag.New(0, 0), nil, ports, &fakeBackend{})

	_, ok := ctx.GetPortValue(0)
	assert.False(t, ok)

	require.NoError(t, ctx.SetPortValue(0, 7))
	v, ok := ctx.GetPortValue(0)
	require.True(t, ok)
	assert.Equal(t, 7, v)
}

func TestContext_SetPortValueReportsDoubleWrite(t *testing.T) {
	t.Parallel()

	ports := port.NewStore([]port.Decl{{ID: 0, Type: reflect.TypeOf(0)}})
	ctx := NewContext(tag.New(0, 0), nil, ports, &fakeBackend{})

	require.NoError(t, ctx.SetPortValue(0, 1))
	assert.ErrorIs(t, ctx.SetPortValue(0, 2), port.ErrDoubleWrite)
}
