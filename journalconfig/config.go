// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package journalconfig resolves journal names to on-disk locations and
// validates their existence. It is the pool's "configuration" collaborator
// from §6 of the design: the pool never touches the filesystem except
// through this package and through journal.Open.
package journalconfig

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/luyuncheng/questdb/journal"
)

// Existence is the result of an Exists check.
type Existence int

const (
	Exists Existence = iota
	DoesNotExist
)

// FileConfig is the on-disk TOML shape loaded by Load. A journal not
// mentioned in Columns/PartitionBy still resolves — it just gets no typed
// columns and journal.None partitioning.
type FileConfig struct {
	DatabaseHome string              `toml:"database-home"`
	MaxSegments  int                 `toml:"max-segments"`
	Columns      map[string][]string `toml:"columns"`
	PartitionBy  map[string]string   `toml:"partition-by"`
}

// Load reads a TOML configuration file describing the database's journal
// root and per-journal schema hints.
func Load(path string) (*FileConfig, error) {
	var fc FileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return nil, err
	}
	return &fc, nil
}

// Configuration implements the pool's collaborator contract: Exists,
// ReadMetadata, CreateMetadata, JournalBase.
type Configuration struct {
	base    string
	columns map[string][]string
	partBy  map[string]journal.PartitionBy

	mu          sync.Mutex
	generations map[string]uuid.UUID
}

// New builds a Configuration rooted at databaseHome with no schema hints;
// journals default to no typed columns and journal.None partitioning.
func New(databaseHome string) *Configuration {
	return &Configuration{
		base:        databaseHome,
		columns:     map[string][]string{},
		partBy:      map[string]journal.PartitionBy{},
		generations: map[string]uuid.UUID{},
	}
}

// NewFromFile builds a Configuration from a FileConfig loaded via Load.
func NewFromFile(fc *FileConfig) *Configuration {
	c := New(fc.DatabaseHome)
	for name, cols := range fc.Columns {
		sorted := append([]string(nil), cols...)
		sort.Strings(sorted)
		c.columns[name] = sorted
	}
	for name, pb := range fc.PartitionBy {
		c.partBy[name] = parsePartitionBy(pb)
	}
	return c
}

func parsePartitionBy(s string) journal.PartitionBy {
	switch s {
	case "day":
		return journal.Day
	case "month":
		return journal.Month
	case "year":
		return journal.Year
	default:
		return journal.None
	}
}

// JournalBase returns the directory under which every journal lives.
func (c *Configuration) JournalBase() string { return c.base }

// Exists reports whether name has an on-disk presence. The pool calls it
// only from the goroutine that wins the race to install an Entry for name —
// see Pool.Reader's documented open question about race losers — and
// ReadMetadata calls it on every call.
func (c *Configuration) Exists(name string) Existence {
	fi, err := os.Stat(filepath.Join(c.base, name))
	if err != nil || !fi.IsDir() {
		return DoesNotExist
	}
	return Exists
}

// ReadMetadata resolves name into journal.Metadata ready to pass to
// journal.Open. It fails if name does not exist on disk.
func (c *Configuration) ReadMetadata(name string) (journal.Metadata, error) {
	if c.Exists(name) != Exists {
		return journal.Metadata{}, os.ErrNotExist
	}
	return journal.Metadata{
		Name:        name,
		Location:    c.base,
		PartitionBy: c.partBy[name],
		Columns:     c.columns[name],
		Generation:  c.generationFor(name),
	}, nil
}

// CreateMetadata resolves a journal.Key (the Class/Name/PartitionBy/Hint
// overload chain from the original JournalKey) into journal.Metadata.
func (c *Configuration) CreateMetadata(key journal.Key) (journal.Metadata, error) {
	return c.ReadMetadata(key.ResolvedName())
}

// BumpGeneration marks name as rebuilt on disk: the next ReadMetadata (and
// therefore the next Reader.Refresh that lands on a fresh Reader.Open, or a
// Refresh that compares generations) observes a new identity. A caller
// performing an out-of-band rebuild under Pool.Lock/Unlock should call this
// after the rebuild and before Unlock.
func (c *Configuration) BumpGeneration(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[name] = uuid.New()
}

func (c *Configuration) generationFor(name string) uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.generations[name]; ok {
		return g
	}
	g := uuid.New()
	c.generations[name] = g
	return g
}
