// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	qdb "github.com/luyuncheng/questdb"
	qerrors "github.com/luyuncheng/questdb/errors"
)

// newLockCommand attempts Pool.Lock against a freshly built pool. Since
// qdbpoolctl has no long-running pool process to attach to, no journal has
// been acquired through that pool yet, so Lock finds no entry for the name
// and succeeds without draining anything; it does not coordinate with some
// other process's live pool — see Non-goals on cross-process coordination.
func newLockCommand(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock <name>",
		Short: "Attempt to administratively lock a journal name.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, maxSegments, err := rootConfig(cmd.Flags())
			if err != nil {
				return err
			}
			p := qdb.New(cfg, maxSegments)
			defer p.Close()

			owner := qdb.NewOwner()
			if err := p.Lock(args[0], owner); err != nil {
				if qerrors.Is(err, qdb.Retry) {
					return fmt.Errorf("%s: a borrower is holding a slot open, retry", args[0])
				}
				if qerrors.Is(err, qdb.Locked) {
					return fmt.Errorf("%s: already locked by another owner", args[0])
				}
				return err
			}
			fmt.Fprintf(stdout, "locked %s\n", args[0])
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd
}
