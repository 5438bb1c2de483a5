package seriesmeta

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mattg23/vodnik/internal/block"
)

func writeRegistry(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "series.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadFileMissingReturnsEmptyStore(t *testing.T) {
	s, err := LoadFile(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.NoError(t, err)

	_, err = s.Descriptor(context.Background(), 1)
	require.Error(t, err)
}

func TestLoadFileParsesValidEntries(t *testing.T) {
	path := writeRegistry(t, `[
		{
			"id": 1,
			"name": "cpu.load",
			"storage_type": "f64",
			"sample_length": 1,
			"sample_resolution_ms": 1000,
			"block_length": 4,
			"block_resolution_ms": 1000,
			"labels": [{"Name": "host", "Value": "a"}]
		}
	]`)

	s, err := LoadFile(path)
	require.NoError(t, err)

	d, err := s.Descriptor(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, block.Float64, d.StorageType)
	require.Equal(t, uint64(1), d.SampleLength)
	require.Equal(t, block.TimeResolution(1000), d.SampleResolution)
	require.Len(t, d.Labels, 1)
	require.Equal(t, "host", d.Labels[0].Name)
}

func TestLoadFileRejectsUnknownStorageType(t *testing.T) {
	path := writeRegistry(t, `[{"id": 1, "storage_type": "f128", "sample_length": 1, "sample_resolution_ms": 1000, "block_length": 4, "block_resolution_ms": 1000}]`)

	_, err := LoadFile(path)
	require.Error(t, err)
}

func TestLoadFileRejectsInvalidDescriptor(t *testing.T) {
	path := writeRegistry(t, `[{"id": 1, "storage_type": "f64", "sample_length": 0, "sample_resolution_ms": 1000, "block_length": 4, "block_resolution_ms": 1000}]`)

	_, err := LoadFile(path)
	require.Error(t, err, "zero sample_length must fail Descriptor.Validate")
}

func TestPutRegistersDescriptorAtRuntime(t *testing.T) {
	s, err := LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	s.Put(&block.Descriptor{
		ID: 7, StorageType: block.Int32,
		SampleLength: 1, SampleResolution: block.Second,
		BlockLength: 4, BlockResolution: block.Second,
	})

	d, err := s.Descriptor(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, block.Int32, d.StorageType)
}
