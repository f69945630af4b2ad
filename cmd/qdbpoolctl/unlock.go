// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	qdb "github.com/luyuncheng/questdb"
)

// newUnlockCommand demonstrates Pool.Unlock's owner-authorization check: run
// against a fresh pool, this always reports nothing-to-unlock, since a new
// process can never hold a lock minted by some other process's Pool.Lock
// call. It exists for scripting against a pool a caller built and locked
// programmatically in the same process as a library, not for cross-process
// administration — see Non-goals.
func newUnlockCommand(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unlock <name>",
		Short: "Release an administrative lock held by this process's owner.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, maxSegments, err := rootConfig(cmd.Flags())
			if err != nil {
				return err
			}
			p := qdb.New(cfg, maxSegments)
			defer p.Close()

			p.Unlock(args[0], qdb.NewOwner())
			fmt.Fprintf(stdout, "unlock %s: no-op (no lock held by this invocation)\n", args[0])
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd
}
