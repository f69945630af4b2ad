// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package journalconfig_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luyuncheng/questdb/journal"
	"github.com/luyuncheng/questdb/journalconfig"
)

func TestConfigurationExists(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "events"), 0o755))

	c := journalconfig.New(base)
	require.Equal(t, journalconfig.Exists, c.Exists("events"))
	require.Equal(t, journalconfig.DoesNotExist, c.Exists("nope"))
}

func TestConfigurationReadMetadataFailsWhenMissing(t *testing.T) {
	c := journalconfig.New(t.TempDir())
	_, err := c.ReadMetadata("nope")
	require.Error(t, err)
}

func TestConfigurationReadMetadataStableGeneration(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "events"), 0o755))
	c := journalconfig.New(base)

	m1, err := c.ReadMetadata("events")
	require.NoError(t, err)
	m2, err := c.ReadMetadata("events")
	require.NoError(t, err)
	require.Equal(t, m1.Generation, m2.Generation)

	c.BumpGeneration("events")
	m3, err := c.ReadMetadata("events")
	require.NoError(t, err)
	require.NotEqual(t, m1.Generation, m3.Generation)
}

func TestNewFromFileAppliesColumnsAndPartitionBy(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "events"), 0o755))

	fc := &journalconfig.FileConfig{
		DatabaseHome: base,
		MaxSegments:  4,
		Columns:      map[string][]string{"events": {"user", "kind"}},
		PartitionBy:  map[string]string{"events": "day"},
	}
	c := journalconfig.NewFromFile(fc)
	require.Equal(t, base, c.JournalBase())

	m, err := c.ReadMetadata("events")
	require.NoError(t, err)
	require.Equal(t, []string{"kind", "user"}, m.Columns) // sorted on load
	require.Equal(t, journal.Day, m.PartitionBy)
}

func TestCreateMetadataResolvesKey(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "events"), 0o755))
	c := journalconfig.New(base)

	m, err := c.CreateMetadata(journal.Key{Class: "events"})
	require.NoError(t, err)
	require.Equal(t, "events", m.Name)
}
