// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	qdb "github.com/luyuncheng/questdb"
)

// newStatCommand acquires name, prints its column list and row count, and
// releases it — a one-shot smoke test that a journal under database-home
// opens cleanly.
func newStatCommand(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stat <name>",
		Short: "Open a journal through the pool and print its column list and row count.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, maxSegments, err := rootConfig(cmd.Flags())
			if err != nil {
				return err
			}
			p := qdb.New(cfg, maxSegments)
			defer p.Close()

			h, err := p.Reader(args[0])
			if err != nil {
				return err
			}
			defer h.Close()

			fmt.Fprintf(stdout, "%s: %d rows, columns [%s]\n", h.Name(), h.RowCount(), strings.Join(h.Columns(), ", "))
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd
}
