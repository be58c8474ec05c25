// Copyright (C) 2024 The Reactors Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"reflect"

	"github.com/reactor-rt/reactors/internal/graph"
	"github.com/reactor-rt/reactors/internal/logger"
	"github.com/reactor-rt/reactors/internal/port"
	"github.com/reactor-rt/reactors/internal/reaction"
	"github.com/reactor-rt/reactors/internal/schedcore"
	"github.com/reactor-rt/reactors/internal/tag"
	"github.com/reactor-rt/reactors/internal/timer"
)

// oneSecond is one second expressed in the tag package's nanosecond Duration.
const oneSecond tag.Duration = 1_000_000_000

// demoProgram is a one-reactor pipeline that ticks once a second and
// logs the tick count: just enough of a real reactor program for run
// and replay to have something to execute. A linked application
// replaces this with its own builder output and otherwise reuses
// everything else in this package unchanged.
func demoProgram(log logger.Logger) (*graph.Graph, reaction.Program, *port.Store, []*schedcore.ActionBinding, []*schedcore.TimerBinding) {
	ports := port.NewStore([]port.Decl{{ID: 0, Type: reflect.TypeOf(0)}})

	count := 0
	program := reaction.Program{
		0: func(ctx *reaction.Context) error {
			count++
			log.Infof("tick %d at %s", count, ctx.Tag())
			return ctx.SetPortValue(0, count)
		},
	}

	g, err := graph.New([]*graph.Reaction{
		{ID: 0, Name: "ticker", Level: 0, Triggers: []graph.TriggerID{graph.TimerTrigger(0)}, EffectPorts: []port.ID{0}},
	})
	if err != nil {
		panic(err)
	}

	timers := []*schedcore.TimerBinding{
		{Index: 0, Schedule: timer.Periodic{Offset: 0, Period: oneSecond}, Catchup: timer.CatchupFireOnce},
	}

	return g, program, ports, nil, timers
}
