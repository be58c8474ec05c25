// Copyright (C) 2024 The Reactors Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/reactor-rt/reactors/internal/config"
	"github.com/reactor-rt/reactors/internal/logger"
	"github.com/reactor-rt/reactors/internal/record"
	"github.com/reactor-rt/reactors/internal/schedcore"
	"github.com/reactor-rt/reactors/internal/telemetry"
)

func newRunCommand() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a reactor program until shutdown is requested or it exits on its own",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduler(cmd, v)
		},
	}
	if err := config.BindFlags(cmd, v); err != nil {
		panic(err)
	}
	return cmd
}

func runScheduler(cmd *cobra.Command, v *viper.Viper) error {
	if err := loadViper(v); err != nil {
		return err
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}

	log := buildLogger(cfg)
	collector := telemetry.NewCollector("reactorsctl")
	collector.MustRegister(prometheus.DefaultRegisterer)

	g, program, ports, actions, timers := demoProgram(log)

	opts := []schedcore.Option{
		schedcore.WithConfig(cfg),
		schedcore.WithLogger(log),
		schedcore.WithCollector(collector),
	}

	var rec *record.Recorder
	if cfg.RecordPath != "" {
		rec, err = record.NewRecorder(cfg.RecordPath, nil)
		if err != nil {
			return fmt.Errorf("reactorsctl: open record file: %w", err)
		}
		defer rec.Close()
		opts = append(opts, schedcore.WithRecorder(rec))
	}

	sched := schedcore.New(g, program, ports, actions, timers, opts...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sched.Run(ctx); err != nil {
		log.Errorf("reactorsctl: run: %v", err)
		return err
	}
	log.Infof("reactorsctl: stopped cleanly at %s", sched.Snapshot().CurrentTag)
	return nil
}

func buildLogger(cfg config.Config) logger.Logger {
	var opts []logger.Option
	if cfg.LogLevel == "debug" {
		opts = append(opts, logger.WithDebug())
	}
	if cfg.LogFormat != "" {
		opts = append(opts, logger.WithFormat(cfg.LogFormat))
	}
	if quiet {
		opts = append(opts, logger.WithQuiet())
	}
	return logger.NewLogger(opts...)
}
