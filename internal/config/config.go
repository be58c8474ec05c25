// Copyright (C) 2024 The Reactors Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package config binds the scheduler's runtime knobs from a config
// file, environment variables and command-line flags via viper, the
// same layering the CLI commands use for their own flags.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/reactor-rt/reactors/internal/tag"
	"github.com/reactor-rt/reactors/internal/timer"
)

// Config collects every knob that changes the scheduler's runtime
// behavior without changing the program's reactor graph.
type Config struct {
	// FastForward runs the scheduler without syncing to wall-clock
	// time between logical tags; physical actions are still honored
	// but never throttle the advance of logical time.
	FastForward bool
	// Timeout stops the scheduler before it runs any tag whose offset
	// has reached this value. Nil means run until shutdown is requested or the event
	// queue empties with no live physical ingress.
	Timeout *tag.Duration
	// Keepalive keeps the scheduler parked at the tail of logical
	// time instead of stopping when the event queue empties, so a
	// program with only physical actions keeps accepting them.
	Keepalive bool
	// Workers bounds how many reactions at the same level may run
	// concurrently. Zero or one runs them serially.
	Workers int
	// RecordPath, if non-empty, records every physical ingress event
	// to this path for later replay.
	RecordPath string
	// ReplayPath, if non-empty, replays physical ingress events from
	// this recording instead of reading from live producers.
	ReplayPath string
	// TimerCatchup is the missed-timer policy named by the
	// timer_catchup key. The scheduler does not read it: each
	// schedcore.TimerBinding carries its own Catchup policy.
	TimerCatchup timer.CatchupPolicy
	// PhysicalCatchup controls how physical ingress arrivals are
	// stamped: Eager (the default) reads the wall clock once per
	// arrival; Lazy stamps an arrival together with every message
	// already buffered on the ingress channel under one clock reading.
	PhysicalCatchup PhysicalCatchupPolicy
	// LogLevel "debug" enables debug-level logging; any other value,
	// including "warn" and "error", logs at info level.
	LogLevel string
	// LogFormat is "text" or "json".
	LogFormat string
}

// PhysicalCatchupPolicy selects how a live physical ingress arrival is
// admitted onto the event queue (spec.md §9 Open Question 1).
type PhysicalCatchupPolicy int

const (
	// PhysicalCatchupEager stamps a physical arrival the moment it is
	// observed, per the literal §4.2 formula. This is the default.
	PhysicalCatchupEager PhysicalCatchupPolicy = iota
	// PhysicalCatchupLazy stamps an arrival and every message already
	// buffered behind it on the ingress channel against a single
	// wall-clock read.
	PhysicalCatchupLazy
)

func (p PhysicalCatchupPolicy) String() string {
	if p == PhysicalCatchupLazy {
		return "lazy"
	}
	return "eager"
}

// Default returns the zero-value baseline: wall-clock synced, no
// timeout, serial reaction dispatch, catch-up disabled, info/text
// logging.
func Default() Config {
	return Config{
		TimerCatchup:    timer.CatchupNone,
		PhysicalCatchup: PhysicalCatchupEager,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// FromViper reads a Config out of v, applying Default for any key v
// has no value for.
func FromViper(v *viper.Viper) (Config, error) {
	c := Default()
	c.FastForward = v.GetBool("fast_forward")
	c.Keepalive = v.GetBool("keepalive")
	c.Workers = v.GetInt("workers")
	c.RecordPath = v.GetString("record")
	c.ReplayPath = v.GetString("replay")

	if v.IsSet("timeout") {
		if d := v.GetDuration("timeout"); d > 0 {
			td := tag.Duration(d)
			c.Timeout = &td
		}
	}

	if v.IsSet("log_level") {
		c.LogLevel = v.GetString("log_level")
	}
	if v.IsSet("log_format") {
		c.LogFormat = v.GetString("log_format")
	}

	switch v.GetString("timer_catchup") {
	case "", "none":
		c.TimerCatchup = timer.CatchupNone
	case "fire_once":
		c.TimerCatchup = timer.CatchupFireOnce
	case "fire_all":
		c.TimerCatchup = timer.CatchupFireAll
	default:
		return Config{}, fmt.Errorf("config: unknown timer_catchup policy %q", v.GetString("timer_catchup"))
	}

	switch v.GetString("physical_catchup") {
	case "", "eager":
		c.PhysicalCatchup = PhysicalCatchupEager
	case "lazy":
		c.PhysicalCatchup = PhysicalCatchupLazy
	default:
		return Config{}, fmt.Errorf("config: unknown physical_catchup policy %q", v.GetString("physical_catchup"))
	}

	return c, nil
}

// BindFlags registers the flags shared by the run and replay
// subcommands onto cmd, and binds them into v so FromViper picks up
// whichever of flag, environment, or config-file value wins.
func BindFlags(cmd *cobra.Command, v *viper.Viper) error {
	cmd.Flags().Bool("fast-forward", false, "advance logical time without syncing to wall-clock time")
	cmd.Flags().Duration("timeout", 0, "stop before running a tag at or past this logical time (0 disables)")
	cmd.Flags().Bool("keepalive", false, "keep running after the event queue empties")
	cmd.Flags().Int("workers", 0, "maximum reactions to run concurrently per level (0 or 1 = serial)")
	cmd.Flags().String("record", "", "record physical ingress events to this path")
	cmd.Flags().String("replay", "", "replay physical ingress events from this recording")
	cmd.Flags().String("timer-catchup", "none", "missed-timer policy name: none, fire_once, fire_all (timers use their own binding's policy)")
	cmd.Flags().String("physical-catchup", "eager", "physical ingress stamping policy: eager or lazy")
	cmd.Flags().String("log-level", "info", "debug enables debug logging; any other value logs at info")
	cmd.Flags().String("log-format", "text", "text or json")

	for flag, key := range map[string]string{
		"fast-forward":     "fast_forward",
		"timeout":          "timeout",
		"keepalive":        "keepalive",
		"workers":          "workers",
		"record":           "record",
		"replay":           "replay",
		"timer-catchup":    "timer_catchup",
		"physical-catchup": "physical_catchup",
		"log-level":        "log_level",
		"log-format":       "log_format",
	} {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("config: bind flag %s: %w", flag, err)
		}
	}
	return nil
}

// HasTimedOut reports whether offset has reached c's configured
// Timeout, if any.
func (c Config) HasTimedOut(offset tag.Duration) bool {
	return c.Timeout != nil && offset >= *c.Timeout
}

// WallClockWaitCap bounds how long the scheduler may sleep waiting
// for wall-clock time to catch up to a logical tag, so a misbehaving
// clock source or long future tag never parks the process forever
// with no way to observe a shutdown request.
const WallClockWaitCap = 10 * time.Minute
