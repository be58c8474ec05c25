// Copyright (C) 2024 The Reactors Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Command reactorsctl is a thin cobra/viper wrapper around
// internal/schedcore. It is explicitly outside the scheduler core: it
// exists to run, record, and replay a reactor program from the
// command line, not to define one. The program this binary runs is
// the small demo pipeline in demo.go; a real deployment links its own
// graph/program tables against internal/schedcore directly and keeps
// only the flag/config/logging wiring shown here.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	version = "0.0.0-dev"
	cfgFile string
	quiet   bool
)

func main() {
	root := &cobra.Command{
		Use:   "reactorsctl",
		Short: "Run, record, and replay a reactors scheduler program",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML), overrides defaults and environment")
	root.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress console log output")

	root.AddCommand(newRunCommand())
	root.AddCommand(newReplayCommand())
	root.AddCommand(newVersionCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadViper populates v from the environment and, if --config was
// given, a YAML file, before config.FromViper reads it. Each command
// owns its own *viper.Viper (built alongside its flags in
// config.BindFlags) so binding "replay"'s flags can never shadow
// "run"'s, the way sharing one global Viper across commands would.
func loadViper(v *viper.Viper) error {
	v.SetEnvPrefix("reactors")
	v.AutomaticEnv()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reactorsctl: read config %s: %w", cfgFile, err)
		}
	}
	return nil
}
