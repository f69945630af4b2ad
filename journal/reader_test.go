// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package journal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writePartition(t *testing.T, dir, file string, rows [][]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	var data []byte
	for _, row := range rows {
		for i, f := range row {
			if i > 0 {
				data = append(data, '|')
			}
			data = append(data, f...)
		}
		data = append(data, '\n')
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), data, 0o644))
}

func TestReaderOpenCountsRowsAndInternsSymbols(t *testing.T) {
	base := t.TempDir()
	writePartition(t, filepath.Join(base, "events"), "p0.partition", [][]string{
		{"click", "a"},
		{"view", "b"},
		{"click", "c"},
	})

	r, err := Open(Metadata{Name: "events", Location: base, Columns: []string{"kind", "user"}})
	require.NoError(t, err)
	defer r.Close()

	require.EqualValues(t, 3, r.RowCount())

	v, ok := r.Symbol("kind", 0)
	require.True(t, ok)
	require.Equal(t, "click", v)

	v, ok = r.Symbol("kind", 1)
	require.True(t, ok)
	require.Equal(t, "view", v)

	_, ok = r.Symbol("kind", 5)
	require.False(t, ok)

	_, ok = r.Symbol("nonexistent-column", 0)
	require.False(t, ok)
}

func TestReaderRefreshObservesAppendedRowsAndNewPartitions(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "events")
	meta := Metadata{Name: "events", Location: base, Columns: []string{"kind", "user"}}
	writePartition(t, dir, "p0.partition", [][]string{{"click", "a"}})

	r, err := Open(meta)
	require.NoError(t, err)
	defer r.Close()
	require.EqualValues(t, 1, r.RowCount())

	// Same generation: appending to the existing partition is picked up by
	// an incremental rescan.
	writePartition(t, dir, "p0.partition", [][]string{{"click", "a"}, {"view", "b"}})
	require.NoError(t, r.Refresh(meta))
	require.EqualValues(t, 2, r.RowCount())

	// A brand new partition file is also picked up without a generation
	// bump.
	writePartition(t, dir, "p1.partition", [][]string{{"view", "c"}})
	require.NoError(t, r.Refresh(meta))
	require.EqualValues(t, 3, r.RowCount())
}

func TestReaderRefreshOnChangedGenerationRelistsFromScratch(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "events")
	meta := Metadata{Name: "events", Location: base, Columns: []string{"kind", "user"}}
	writePartition(t, dir, "p0.partition", [][]string{{"click", "a"}})

	r, err := Open(meta)
	require.NoError(t, err)
	defer r.Close()
	require.EqualValues(t, 1, r.RowCount())

	// A rebuild: the old partition is replaced by a differently named one
	// under a new generation.
	require.NoError(t, os.Remove(filepath.Join(dir, "p0.partition")))
	writePartition(t, dir, "p0-rebuilt.partition", [][]string{{"click", "a"}, {"view", "b"}, {"view", "c"}})

	rebuilt := meta
	rebuilt.Generation = [16]byte{1}
	require.NoError(t, r.Refresh(rebuilt))
	require.EqualValues(t, 3, r.RowCount())
}

func TestReaderOpenMissingJournalFails(t *testing.T) {
	base := t.TempDir()
	_, err := Open(Metadata{Name: "nope", Location: base})
	require.Error(t, err)
}

func TestReaderCloseWithNoInterceptorFreesDirectly(t *testing.T) {
	base := t.TempDir()
	writePartition(t, filepath.Join(base, "j"), "p0.partition", [][]string{{"x"}})

	r, err := Open(Metadata{Name: "j", Location: base, Columns: []string{"c"}})
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.Nil(t, r.partitions)
	// Idempotent.
	require.NoError(t, r.Close())
}

type refusingInterceptor struct{ calls int }

func (r *refusingInterceptor) CanClose(*Reader) bool {
	r.calls++
	return false
}

func TestReaderCloseConsultsInterceptor(t *testing.T) {
	base := t.TempDir()
	writePartition(t, filepath.Join(base, "j"), "p0.partition", [][]string{{"x"}})

	r, err := Open(Metadata{Name: "j", Location: base, Columns: []string{"c"}})
	require.NoError(t, err)

	ci := &refusingInterceptor{}
	r.SetCloseInterceptor(ci)
	require.NoError(t, r.Close())
	require.Equal(t, 1, ci.calls)
	require.NotNil(t, r.partitions) // refused: still resident

	r.SetCloseInterceptor(nil)
	require.NoError(t, r.Close())
	require.Nil(t, r.partitions)
}

func TestColumnHashIsDeterministic(t *testing.T) {
	require.Equal(t, ColumnHash("kind"), ColumnHash("kind"))
	require.NotEqual(t, ColumnHash("kind"), ColumnHash("user"))
}

func TestKeyResolvedName(t *testing.T) {
	require.Equal(t, "foo", Key{Class: "foo"}.ResolvedName())
	require.Equal(t, "bar", Key{Class: "foo", Name: "bar"}.ResolvedName())
}
