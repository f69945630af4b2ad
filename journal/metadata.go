// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package journal

import "github.com/google/uuid"

// Metadata describes a journal's shape and location well enough to open it.
// It is produced by journalconfig, never constructed directly by the pool.
type Metadata struct {
	Name        string
	Location    string
	PartitionBy PartitionBy
	Columns     []string

	// Generation changes every time the journal is rebuilt on disk (e.g. by
	// an out-of-band truncate/rename performed under Pool.Lock). A Reader
	// compares its own generation against a freshly read one on Refresh to
	// decide whether it needs to reopen its partition files rather than
	// just re-scanning for appended rows.
	Generation uuid.UUID
}
