// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package questdb

import "github.com/luyuncheng/questdb/journal"

// Handle is a borrowed journal, exclusively owned by whoever received it
// from Pool.Reader until they call Close. It composes a journal.Reader with
// the slot it was handed out from rather than subclassing it — see the
// design notes on why the source's inheritance-based R type doesn't carry
// over.
type Handle struct {
	reader *journal.Reader
	name   string

	pool  *Pool
	entry *entry
	index int
	owner Owner

	// detached is set when this Handle was minted while the pool was
	// already (or concurrently becoming) closed: it was never published
	// into its slot's cache, so Close must free it directly instead of
	// going through the pool's release bookkeeping.
	detached bool
}

// Name returns the journal's on-disk name.
func (h *Handle) Name() string { return h.name }

// Columns returns the journal's column names.
func (h *Handle) Columns() []string { return h.reader.Columns() }

// RowCount returns the number of rows currently visible through this
// Handle's underlying reader.
func (h *Handle) RowCount() int64 { return h.reader.RowCount() }

// Symbol returns the interned string for id in column.
func (h *Handle) Symbol(column string, id uint32) (string, bool) {
	return h.reader.Symbol(column, id)
}

// Close returns this Handle to its pool. A pool-managed handle is never
// actually freed here — the underlying reader stays cached for the next
// acquisition — unless the pool is closed, the handle was never really
// captured by the pool to begin with (detached), or the caller has already
// released this handle once (defensive double-close).
func (h *Handle) Close() error {
	if h.detached || h.pool == nil {
		return h.reader.Close()
	}
	return h.pool.release(h)
}
