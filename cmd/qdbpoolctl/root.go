// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/luyuncheng/questdb/journalconfig"
)

// newRootCommand wires the qdbpoolctl command tree, following the
// cmd/root.go pattern of binding every persistent flag through viper so
// the same options can come from a flag, an environment variable, or a
// config file.
func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	rc := &cobra.Command{
		Use:   "qdbpoolctl",
		Short: "qdbpoolctl administers a journal reader pool's on-disk database-home.",
		Long: `qdbpoolctl is an operational tool for exercising a reader pool's
lock/unlock/stat protocol against a database-home directory. Each invocation
builds its own in-process pool over the given directory — there is no
shared, long-running pool process to attach to (the pool is a library
component, not a server) — so lock/unlock round-trip within a single
invocation and stat reports what a fresh acquisition would see.`,
	}
	rc.PersistentFlags().StringP("config", "c", "", "TOML configuration file (see journalconfig.FileConfig).")
	rc.PersistentFlags().String("database-home", "", "directory under which every journal lives.")
	rc.PersistentFlags().Int("max-segments", 4, "maximum number of 32-slot segments per journal name.")

	rc.AddCommand(newLockCommand(stdout, stderr))
	rc.AddCommand(newUnlockCommand(stdout, stderr))
	rc.AddCommand(newStatCommand(stdout, stderr))

	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

// rootConfig resolves the persistent --config/--database-home/--max-segments
// flags (with config-file and environment overrides via viper, matching
// cmd/root.go's setAllConfig) into a journalconfig.Configuration and segment
// count.
func rootConfig(flags *pflag.FlagSet) (*journalconfig.Configuration, int, error) {
	v := viper.New()
	if err := v.BindPFlags(flags); err != nil {
		return nil, 0, err
	}
	v.SetEnvPrefix("QDBPOOLCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if c, _ := flags.GetString("config"); c != "" {
		v.SetConfigFile(c)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, 0, fmt.Errorf("reading configuration file %q: %w", c, err)
		}
		fc, err := journalconfig.Load(c)
		if err != nil {
			return nil, 0, err
		}
		maxSegments := fc.MaxSegments
		if maxSegments == 0 {
			maxSegments = v.GetInt("max-segments")
		}
		return journalconfig.NewFromFile(fc), maxSegments, nil
	}

	home := v.GetString("database-home")
	if home == "" {
		return nil, 0, fmt.Errorf("--database-home is required when --config is not set")
	}
	return journalconfig.New(home), v.GetInt("max-segments"), nil
}
