// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package questdb

import (
	"sync/atomic"
	"time"

	"github.com/luyuncheng/questdb/journal"
)

// entrySize is the fixed number of slots per segment. It is a hard
// constant, not a configuration knob: growing capacity means chaining more
// entries, never widening one.
const entrySize = 32

// unallocated is the sentinel Owner value meaning a slot has no borrower.
const unallocated Owner = -1

// unlocked is the sentinel Owner value meaning an entry has no lock holder.
const unlocked Owner = -1

// slot holds one cached reader plus the bookkeeping needed to hand it out
// and reclaim it. allocation is the synchronization point: a successful CAS
// from unallocated to a caller's Owner grants exclusive ownership until that
// same Owner CASes it back.
type slot struct {
	allocation  atomic.Int64
	releaseTime atomic.Int64
	reader      atomic.Pointer[journal.Reader]
}

// entry is one segment: a fixed bank of 32 slots plus the state needed to
// administratively lock a name and to grow the chain under contention. It is
// append-only once published — only slot contents, lockOwner and the
// nextStatus/next growth link mutate.
type entry struct {
	index int

	slots [entrySize]slot

	// nextStatus is the claim bit for growing the chain: exactly one
	// goroutine wins the CAS from false to true and becomes responsible
	// for allocating and publishing next.
	nextStatus atomic.Bool
	next       atomic.Pointer[entry]

	lockOwner atomic.Int64
}

// newEntry allocates a fresh, unpublished segment. Every slot starts
// unallocated with its release time stamped to "now" so a never-touched
// slot doesn't look infinitely stale to releaseAll — mirroring the source's
// Entry constructor, which fills releaseTimes with the current time rather
// than zero.
func newEntry(index int) *entry {
	e := &entry{index: index}
	now := time.Now().UnixMilli()
	for i := range e.slots {
		e.slots[i].allocation.Store(int64(unallocated))
		e.slots[i].releaseTime.Store(now)
	}
	e.lockOwner.Store(int64(unlocked))
	return e
}
