package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mattg23/vodnik/internal/block"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "catalog.db") + "?mode=rwc"
	s, err := Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleBlock(t *testing.T) block.SizedBlock {
	t.Helper()
	sb := block.NewSizedBlock(block.Float64, 4)
	sb.WriteAtOffsets([]uint32{0, 2}, []block.Quality{0b11_0000_00, 0b11_0000_00}, []float64{1.0, 2.0})
	return sb
}

func TestUpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	blk := sampleBlock(t)

	require.NoError(t, s.Upsert(ctx, 1, 10, "data/01/1/10_abc.blk", &blk, 1000))

	entry, err := s.Get(ctx, 1, 10)
	require.NoError(t, err)
	require.Equal(t, "data/01/1/10_abc.blk", entry.ObjectKey)
	require.Equal(t, blk.F64.Stats.CountValid, entry.Block.F64.Stats.CountValid)
	require.Equal(t, blk.F64.Stats.Sum, entry.Block.F64.Stats.Sum)
}

func TestUpsertReplacesExistingRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	blk := sampleBlock(t)

	require.NoError(t, s.Upsert(ctx, 1, 10, "key-v1", &blk, 1000))
	require.NoError(t, s.Upsert(ctx, 1, 10, "key-v2", &blk, 2000))

	key, err := s.GetObjectKey(ctx, 1, 10)
	require.NoError(t, err)
	require.Equal(t, "key-v2", key)
}

func TestGetObjectKeyNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetObjectKey(context.Background(), 99, 1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListInRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	blk := sampleBlock(t)

	for _, bn := range []block.BlockNumber{1, 2, 3, 10} {
		require.NoError(t, s.Upsert(ctx, 5, bn, "k", &blk, 1000))
	}

	entries, err := s.ListInRange(ctx, 5, 1, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, block.BlockNumber(1), entries[0].BlockNumber)
	require.Equal(t, block.BlockNumber(3), entries[2].BlockNumber)
}
