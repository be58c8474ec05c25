// Copyright (C) 2024 The Reactors Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/reactor-rt/reactors/internal/action"
	"github.com/reactor-rt/reactors/internal/config"
	"github.com/reactor-rt/reactors/internal/record"
	"github.com/reactor-rt/reactors/internal/schedcore"
)

func newReplayCommand() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a recorded physical-ingress session deterministically",
		RunE: func(cmd *cobra.Command, args []string) error {
			return replayScheduler(cmd, v)
		},
	}
	if err := config.BindFlags(cmd, v); err != nil {
		panic(err)
	}
	return cmd
}

func replayScheduler(cmd *cobra.Command, v *viper.Viper) error {
	if err := loadViper(v); err != nil {
		return err
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}
	if cfg.ReplayPath == "" {
		return fmt.Errorf("reactorsctl: replay requires --replay <path>")
	}

	log := buildLogger(cfg)
	g, program, ports, actions, timers := demoProgram(log)

	currentTypes := make(map[action.ID]uint64, len(actions))
	for _, ab := range actions {
		currentTypes[ab.ID] = 0 // demoProgram declares no physical actions; real programs fill this in.
	}

	rep, err := record.NewReplayer(cfg.ReplayPath, currentTypes)
	if err != nil {
		return fmt.Errorf("reactorsctl: open replay file: %w", err)
	}
	defer rep.Close()

	cfg.FastForward = true
	sched := schedcore.New(g, program, ports, actions, timers,
		schedcore.WithConfig(cfg),
		schedcore.WithLogger(log),
		schedcore.WithReplayer(rep),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sched.Run(ctx); err != nil {
		log.Errorf("reactorsctl: replay: %v", err)
		return err
	}
	log.Infof("reactorsctl: replay finished at %s", sched.Snapshot().CurrentTag)
	return nil
}
