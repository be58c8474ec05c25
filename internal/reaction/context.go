// Copyright (C) 2024 The Reactors Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package reaction defines the per-triggering Context API surface
// exposed to reaction bodies, and the Body type the scheduler invokes.
//
// A reaction's State and Refs (its typed port/action views) are bound
// by the builder at construction time via closure, rather than passed
// as generic parameters on every call — Go has no generic methods, and
// the builder already knows each reaction's concrete types when it
// assembles the runtime, so capturing them in the closure keeps the
// hot path allocation-free.
package reaction

import (
	"github.com/reactor-rt/reactors/internal/action"
	"github.com/reactor-rt/reactors/internal/graph"
	"github.com/reactor-rt/reactors/internal/port"
	"github.com/reactor-rt/reactors/internal/tag"
)

// Backend is the narrow slice of scheduler functionality a Context
// needs. The scheduler implements it; Context depends only on this
// interface, so package reaction never imports package schedcore.
type Backend interface {
	// Now returns the scheduler's current physical-clock reading.
	Now() tag.Instant
	// ScheduleLogical enqueues a logical action scheduled from a
	// reaction running at tag from, per §4.2's tag-assignment rule.
	ScheduleLogical(from tag.Tag, id action.ID, delay tag.Duration, value any) (tag.Tag, error)
	// SchedulePhysical enqueues a physical action scheduled from a
	// reaction, applying min-delay enforcement.
	SchedulePhysical(from tag.Tag, id action.ID, delay tag.Duration, value any) (tag.Tag, error)
	// GetActionValue reads an action's store at the current tag.
	GetActionValue(id action.ID, current tag.Tag) (any, bool)
	// RequestShutdown asks the scheduler to enter Stopping at the
	// given tag.
	RequestShutdown(at tag.Tag)
}

// Context is the per-reaction API surface, scoped to one triggering.
// A fresh Context is built for each reaction invocation and must not
// be retained past it.
type Context struct {
	tg      tag.Tag
	present map[graph.TriggerID]struct{}
	ports   *port.Store
	backend Backend
}

// NewContext builds a Context for one reaction triggering at tg, with
// present holding every trigger that fired this tag.
func NewContext(tg tag.Tag, present map[graph.TriggerID]struct{}, ports *port.Store, backend Backend) *Context {
	return &Context{tg: tg, present: present, ports: ports, backend: backend}
}

// Tag returns the tag this reaction is running at.
func (c *Context) Tag() tag.Tag { return c.tg }

// ElapsedLogicalTime returns the logical offset since program start.
func (c *Context) ElapsedLogicalTime() tag.Duration { return c.tg.Offset }

// PhysicalTime returns the scheduler's current wall-clock reading.
func (c *Context) PhysicalTime() tag.Instant { return c.backend.Now() }

// IsPresent reports whether trigger fired at the current tag.
func (c *Context) IsPresent(trigger graph.TriggerID) bool {
	_, ok := c.present[trigger]
	return ok
}

// ScheduleLogicalAction schedules a logical action per §4.2.
func (c *Context) ScheduleLogicalAction(id action.ID, delay tag.Duration, value any) (tag.Tag, error) {
	return c.backend.ScheduleLogical(c.tg, id, delay, value)
}

// SchedulePhysicalAction schedules a physical action from within a
// reaction, with min-delay enforcement applied by the backend.
func (c *Context) SchedulePhysicalAction(id action.ID, delay tag.Duration, value any) (tag.Tag, error) {
	return c.backend.SchedulePhysical(c.tg, id, delay, value)
}

// GetActionValue reads action id's ActionStore at the current tag.
func (c *Context) GetActionValue(id action.ID) (any, bool) {
	return c.backend.GetActionValue(id, c.tg)
}

// GetPortValue reads port id's value for the current tag. This is the
// untyped escape hatch mirroring GetActionValue; a reaction built with
// a generated port.View gets typed access instead and does not need
// this method.
func (c *Context) GetPortValue(id port.ID) (any, bool) {
	return c.ports.Get(id)
}

// SetPortValue writes v to port id for the current tag. It returns
// port.ErrDoubleWrite, runtime-fatal per the scheduler's error policy,
// if the port already holds a value this tag.
func (c *Context) SetPortValue(id port.ID, v any) error {
	return c.ports.Set(id, v)
}

// ScheduleShutdown requests an orderly stop at the current tag plus an
// optional delay. A nil delay requests shutdown at the current tag.
func (c *Context) ScheduleShutdown(delay *tag.Duration) {
	at := c.tg
	if delay != nil {
		at = c.tg.After(*delay)
	}
	c.backend.RequestShutdown(at)
}

// Body is a reaction's executable behavior. The builder closes over
// the reaction's own State and Refs (its pre-built port/action views)
// when it constructs the Body, so the scheduler's call site stays
// uniform across every reaction.
type Body func(ctx *Context) error

// Program maps every reaction id to its Body, as delivered by the
// builder.
type Program map[graph.ReactionID]Body
