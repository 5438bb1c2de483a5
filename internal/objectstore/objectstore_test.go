package objectstore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mattg23/vodnik/internal/block"
)

func TestWriteBlockReadBlockRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	blk := block.NewSizedBlock(block.Float32, 4)
	blk.WriteAtOffsets([]uint32{0, 1}, []block.Quality{0b11_0000_00, 0b11_0000_00}, []float32{1, 2})

	key, err := s.WriteBlock(42, 3, &blk)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(key, "data/42/42/3_"))

	got, err := s.ReadBlock(key)
	require.NoError(t, err)
	require.Equal(t, key, got.ObjectKey())
	require.Equal(t, blk.F32.Values, got.F32.Values)
}

func TestTwoWritesProduceDistinctKeys(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	blk := block.NewSizedBlock(block.Enum8, 2)
	k1, err := s.WriteBlock(1, 1, &blk)
	require.NoError(t, err)
	k2, err := s.WriteBlock(1, 1, &blk)
	require.NoError(t, err)
	require.NotEqual(t, k1, k2)
}

func TestReadMissingKey(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	_, err = s.Read("data/00/1/1_missing.blk")
	require.Error(t, err)
}
