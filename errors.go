// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package questdb

import "github.com/luyuncheng/questdb/errors"

// Error kinds surfaced by the pool. Callers should compare with
// errors.Is(err, questdb.NotFound) rather than == , since these are
// frequently wrapped with additional context on their way up.
const (
	// NotFound: the journal name had no on-disk presence when the entry
	// installing it first checked. Permanent for this name.
	NotFound errors.Code = "NOT_FOUND"

	// Locked: another Owner holds the name locked, either observed during
	// acquisition or found by Lock itself. Caller should retry after
	// backoff.
	Locked errors.Code = "LOCKED"

	// Retry: Lock found a slot held by a live borrower. The lock owner is
	// NOT released on this error — see Pool.Lock's doc comment.
	Retry errors.Code = "RETRY"

	// PoolFull: the chain has grown to maxSegments and every slot in every
	// entry is allocated.
	PoolFull errors.Code = "POOL_FULL"

	// PoolClosed: the pool has been closed. Terminal.
	PoolClosed errors.Code = "POOL_CLOSED"

	// OpenFailed: resolving the journal's metadata, the underlying
	// journal.Open call, or refreshing a cached reader failed. The slot
	// allocation is rolled back before this is returned.
	OpenFailed errors.Code = "OPEN_FAILED"
)

var (
	errNotFound   = errors.New(NotFound, "journal does not exist")
	errLocked     = errors.New(Locked, "journal is locked")
	errRetry      = errors.New(Retry, "lock held slots still borrowed, retry")
	errPoolFull   = errors.New(PoolFull, "pool has no free slots for this journal")
	errPoolClosed = errors.New(PoolClosed, "pool is closed")
)
