// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package questdb implements a thread-safe pool of journal readers. Opening
// a journal is expensive — it resolves metadata, mmaps column files, and
// builds per-column symbol indexes — so the pool caches opened readers and
// hands them out under a strict ownership discipline: a handed-out reader
// belongs to exactly one caller until it's returned, and returned readers
// stay resident for reuse instead of being closed.
//
// The pool is lock-free on the acquire/release hot path (CAS loops over a
// fixed-width slot array, chained into segments on contention) and never
// blocks except inside Close, which performs real file I/O.
package questdb

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luyuncheng/questdb/errors"
	"github.com/luyuncheng/questdb/journal"
	"github.com/luyuncheng/questdb/journalconfig"
	"github.com/luyuncheng/questdb/logger"
)

// Config is the pool's narrow view of journalconfig.Configuration: name
// resolution and existence checks, nothing about how a journal is laid out
// on disk once opened.
type Config interface {
	Exists(name string) journalconfig.Existence
	ReadMetadata(name string) (journal.Metadata, error)
	CreateMetadata(key journal.Key) (journal.Metadata, error)
	JournalBase() string
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithLogger overrides the pool's default no-op logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// Pool caches opened journal.Readers per journal name, across a bank of
// fixed-size Entry segments chained on contention, and hands them out under
// the acquire/release/lock/unlock/close protocol described in the package
// doc.
type Pool struct {
	cfg         Config
	maxSegments int
	logger      logger.Logger

	entries sync.Map // name string -> *entry
	closed  atomic.Bool
}

// New creates a Pool rooted at cfg with maxSegments segments of 32 slots
// each per journal name (so MaxEntries reports maxSegments*32).
func New(cfg Config, maxSegments int, opts ...Option) *Pool {
	p := &Pool{
		cfg:         cfg,
		maxSegments: maxSegments,
		logger:      logger.NopLogger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MaxEntries reports the total slot capacity per journal name.
func (p *Pool) MaxEntries() int {
	return p.maxSegments * entrySize
}

// Reader returns a Handle on name, opening a fresh journal.Reader on first
// acquisition of a slot and refreshing a cached one otherwise. Metadata is
// resolved via Config.ReadMetadata, matching the original's
// JournalConfiguration.readMetadata(name) entry point.
//
// Open question (preserved from the source): only the goroutine that wins
// the race to install name's first Entry checks existence on disk. A race
// loser for a name with no on-disk presence will still install successfully
// and will only fail later, with OpenFailed rather than NotFound, at the
// point it resolves metadata for the journal.
func (p *Pool) Reader(name string) (*Handle, error) {
	return p.acquire(name, func() (journal.Metadata, error) {
		return p.cfg.ReadMetadata(name)
	})
}

// ReaderByKey resolves key (the original's JournalKey chain) to a name and
// acquires it, resolving metadata via Config.CreateMetadata — the original's
// JournalConfiguration.createMetadata(key)/reader(JournalMetadata) entry
// point — rather than Reader's name-only ReadMetadata.
func (p *Pool) ReaderByKey(key journal.Key) (*Handle, error) {
	return p.acquire(key.ResolvedName(), func() (journal.Metadata, error) {
		return p.cfg.CreateMetadata(key)
	})
}

// acquire is the acquisition protocol shared by Reader and ReaderByKey: a
// lock-free scan for a free slot, CAS allocation, and a lazily resolved
// open-or-refresh against metadata from resolve.
func (p *Pool) acquire(name string, resolve func() (journal.Metadata, error)) (*Handle, error) {
	if p.closed.Load() {
		return nil, errPoolClosed
	}

	e, err := p.entryFor(name)
	if err != nil {
		return nil, err
	}

	if Owner(e.lockOwner.Load()) != unlocked {
		p.logger.Infof("journal %q is locked", name)
		return nil, errLocked
	}

	owner := NewOwner()
	for {
		for i := range e.slots {
			s := &e.slots[i]
			if !s.allocation.CompareAndSwap(int64(unallocated), int64(owner)) {
				continue
			}

			metadata, err := resolve()
			if err != nil {
				s.allocation.Store(int64(unallocated))
				return nil, errors.NewWrapping(err, OpenFailed, "resolving metadata")
			}

			r := s.reader.Load()
			if r == nil {
				opened, err := p.openMetadata(metadata)
				if err != nil {
					s.allocation.Store(int64(unallocated))
					return nil, err
				}
				if p.closed.Load() {
					// Pool closed while we were opening: don't publish
					// into the cache, hand back a detached handle that
					// frees itself directly on Close.
					s.allocation.Store(int64(unallocated))
					return &Handle{reader: opened, name: name, detached: true}, nil
				}
				s.reader.Store(opened)
				r = opened
			} else {
				if err := r.Refresh(metadata); err != nil {
					s.allocation.Store(int64(unallocated))
					return nil, errors.NewWrapping(err, OpenFailed, "refreshing cached reader")
				}
				if p.closed.Load() {
					s.reader.Store(nil)
					s.allocation.Store(int64(unallocated))
					return &Handle{reader: r, name: name, detached: true}, nil
				}
			}

			p.logger.Debugf("allocated reader %q at (%d,%d) to owner %d", name, e.index, i, owner)
			return &Handle{reader: r, name: name, pool: p, entry: e, index: i, owner: owner}, nil
		}

		next, err := p.grow(e)
		if err != nil {
			return nil, err
		}
		e = next
	}
}

// ReaderForClass is the single-argument JournalKey(Class) overload.
func (p *Pool) ReaderForClass(class string) (*Handle, error) {
	return p.ReaderByKey(journal.Key{Class: class})
}

// ReaderForClassName is the JournalKey(Class, name) overload.
func (p *Pool) ReaderForClassName(class, name string) (*Handle, error) {
	return p.ReaderByKey(journal.Key{Class: class, Name: name})
}

// ReaderForClassNameHint is the JournalKey(Class, name, recordHint)
// overload; PartitionBy is forced to journal.Default as in the source.
func (p *Pool) ReaderForClassNameHint(class, name string, recordHint int) (*Handle, error) {
	return p.ReaderByKey(journal.Key{Class: class, Name: name, PartitionBy: journal.Default, RecordHint: recordHint})
}

// openMetadata opens a fresh journal.Reader against already-resolved
// metadata, rolling the error up as OpenFailed.
func (p *Pool) openMetadata(metadata journal.Metadata) (*journal.Reader, error) {
	r, err := journal.Open(metadata)
	if err != nil {
		return nil, errors.NewWrapping(err, OpenFailed, "opening journal")
	}
	return r, nil
}

// entryFor returns name's head Entry, installing a fresh one via
// put-if-absent when name has never been acquired before. Only the
// installing goroutine checks on-disk existence.
func (p *Pool) entryFor(name string) (*entry, error) {
	if v, ok := p.entries.Load(name); ok {
		return v.(*entry), nil
	}

	fresh := newEntry(0)
	actual, loaded := p.entries.LoadOrStore(name, fresh)
	e := actual.(*entry)
	if !loaded {
		if p.cfg.Exists(name) != journalconfig.Exists {
			p.logger.Infof("journal %q does not exist", name)
			return e, errNotFound
		}
	}
	return e, nil
}

// grow advances past a full Entry, electing exactly one goroutine (the
// nextStatus CAS winner) to allocate and publish the successor.
func (p *Pool) grow(e *entry) (*entry, error) {
	if e.index >= p.maxSegments-1 {
		return nil, errPoolFull
	}

	if e.nextStatus.CompareAndSwap(false, true) {
		e.next.Store(newEntry(e.index + 1))
	}

	for {
		if next := e.next.Load(); next != nil {
			return next, nil
		}
		runtime.Gosched()
	}
}

// release implements the close-interceptor contract of §4.3: a Handle's
// Close calls this instead of freeing its reader outright.
func (p *Pool) release(h *Handle) error {
	s := &h.entry.slots[h.index]

	if Owner(s.allocation.Load()) != h.owner {
		p.logger.Errorf("owner mismatch releasing reader %q at (%d,%d)", h.name, h.entry.index, h.index)
		return h.reader.Close()
	}

	if p.closed.Load() {
		s.reader.Store(nil)
		return h.reader.Close()
	}

	s.releaseTime.Store(time.Now().UnixMilli())
	s.allocation.Store(int64(unallocated))
	p.logger.Debugf("released reader %q at (%d,%d) from owner %d", h.name, h.entry.index, h.index, h.owner)
	return nil
}

// Lock administratively excludes name so an out-of-band operation (rebuild,
// rename, truncate) can safely mutate its on-disk files. It never waits: a
// borrower might never return, so Lock either drains every slot immediately
// or fails Retry.
//
// Open question (preserved from the source): on Retry, lockOwner is left
// set to owner. An abandoned Lock attempt (a caller that gets Retry and
// never retries or Unlocks) deadlocks name until the pool is closed —
// Unlock's precondition (owner == lockOwner) means nobody else can clear it.
func (p *Pool) Lock(name string, owner Owner) error {
	v, ok := p.entries.Load(name)
	if !ok {
		return nil
	}
	e := v.(*entry)

	if !e.lockOwner.CompareAndSwap(int64(unlocked), int64(owner)) {
		if Owner(e.lockOwner.Load()) != owner {
			p.logger.Errorf("journal %q is already locked by %d", name, e.lockOwner.Load())
			return errLocked
		}
		// Re-entrant: the same owner locking twice succeeds both times.
	}

	for cur := e; cur != nil; cur = cur.next.Load() {
		for i := range cur.slots {
			s := &cur.slots[i]
			if s.allocation.CompareAndSwap(int64(unallocated), int64(owner)) {
				if r := s.reader.Load(); r != nil {
					if err := r.Close(); err != nil {
						p.logger.Errorf("closing reader for %q while locking: %v", name, err)
					}
					s.reader.Store(nil)
				}
			} else if s.reader.Load() != nil {
				return errRetry
			}
		}
	}
	return nil
}

// Unlock releases name's administrative lock if owner holds it; otherwise
// it's a no-op. The name's entire chain is dropped from the map so the next
// Reader call builds a fresh one — safe because a successful Lock already
// guaranteed no slot retained a live reader.
func (p *Pool) Unlock(name string, owner Owner) {
	v, ok := p.entries.Load(name)
	if !ok {
		return
	}
	e := v.(*entry)
	if Owner(e.lockOwner.Load()) == owner {
		p.entries.Delete(name)
	}
}

// Close idempotently shuts the pool down, closing every cached reader. It
// never blocks on a live borrower — returned handles are reclaimed as they
// come back, and any handle already in flight when Close runs is handed
// back detached (see Reader) so its own Close frees it directly.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.releaseAll(maxDeadline)
	return nil
}

// maxDeadline is the deadline releaseAll uses from Close: every slot's
// release time is necessarily before it.
const maxDeadline = int64(1) << 62

// releaseAll is the primitive a future TTL evictor would build on: it
// drains every slot across every name whose release time is before
// deadline. Close calls it with an unreachable deadline so it drains
// everything; a finite deadline would only be reached if TTL eviction were
// ever exposed on the public surface (it isn't — see Non-goals).
func (p *Pool) releaseAll(deadline int64) {
	owner := NewOwner()
	p.entries.Range(func(_, v interface{}) bool {
		for e := v.(*entry); e != nil; e = e.next.Load() {
			for i := range e.slots {
				s := &e.slots[i]
				if deadline <= s.releaseTime.Load() {
					continue
				}
				if s.reader.Load() == nil {
					continue
				}
				if !s.allocation.CompareAndSwap(int64(unallocated), int64(owner)) {
					continue
				}
				// Re-check the deadline now that we own the slot; at
				// deadline=+Inf this is always true, but it's the seam a
				// finite-deadline TTL evictor would need.
				if deadline > s.releaseTime.Load() {
					if r := s.reader.Load(); r != nil {
						if err := r.Close(); err != nil {
							p.logger.Errorf("closing reader during release-all: %v", err)
						}
					}
					s.reader.Store(nil)
				}
				s.allocation.Store(int64(unallocated))
			}
		}
		return true
	})
}

// CanClose implements journal.CloseInterceptor so a caller who manually
// wires a journal.Reader opened outside this pool to it (reader.SetCloseInterceptor(pool))
// gets the same defensive behavior the source describes for a foreign
// reader: this pool never installs itself as a raw reader's interceptor for
// its own cached readers (Handle.Close talks to the pool directly), so any
// reader reaching here is by definition not one this pool tracks.
func (p *Pool) CanClose(r *journal.Reader) bool {
	p.logger.Errorf("reader %q is not managed by this pool", r.Name())
	return true
}
