package hotset

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mattg23/vodnik/internal/block"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testDescriptor() *block.Descriptor {
	return &block.Descriptor{
		ID:               1,
		StorageType:      block.Float64,
		SampleLength:     1,
		SampleResolution: block.Second,
		BlockLength:      4,
		BlockResolution:  block.Second,
	}
}

func TestWriteCreatesLiveBlockOnFirstUse(t *testing.T) {
	hs := New(4)
	desc := testDescriptor()

	res, err := hs.Write(desc, 0, 1, []uint32{0}, []block.Quality{0b11_0000_00}, []float64{1.0})
	require.NoError(t, err)
	require.Equal(t, block.BlockNumber(0), res.LiveBlock)
	require.Empty(t, res.FlushingKeys)
}

func TestWriteRotatesOnNewerBlock(t *testing.T) {
	hs := New(4)
	desc := testDescriptor()

	_, err := hs.Write(desc, 0, 1, []uint32{0}, []block.Quality{0b11_0000_00}, []float64{1.0})
	require.NoError(t, err)

	res, err := hs.Write(desc, 1, 2, []uint32{0}, []block.Quality{0b11_0000_00}, []float64{2.0})
	require.NoError(t, err)
	require.Equal(t, block.BlockNumber(1), res.LiveBlock)
	require.Equal(t, []block.BlockNumber{0}, res.FlushingKeys)

	flushed, ok := hs.TakeFlushingBlock(desc.ID, 0)
	require.True(t, ok)
	require.Equal(t, uint64(1), flushed.TxHigh)
}

func TestWriteToOlderBlockNeedsColdStore(t *testing.T) {
	hs := New(4)
	desc := testDescriptor()

	_, err := hs.Write(desc, 5, 1, []uint32{0}, []block.Quality{0b11_0000_00}, []float64{1.0})
	require.NoError(t, err)

	_, err = hs.Write(desc, 2, 2, []uint32{0}, []block.Quality{0b11_0000_00}, []float64{2.0})
	require.ErrorIs(t, err, ErrNeedsColdStore)
}

func TestWriteBusyUnderContention(t *testing.T) {
	hs := New(1)
	desc := testDescriptor()
	slot := hs.shardFor(desc.ID).slotFor(desc.ID)

	require.True(t, slot.mu.TryLock())
	defer slot.mu.Unlock()

	_, err := hs.Write(desc, 0, 1, []uint32{0}, []block.Quality{0b11_0000_00}, []float64{1.0})
	require.ErrorIs(t, err, ErrBusy)
}

func TestTakeAllBlocksDrainsEverySlot(t *testing.T) {
	hs := New(4)
	descA := testDescriptor()
	descB := testDescriptor()
	descB.ID = 2

	_, err := hs.Write(descA, 0, 1, []uint32{0}, []block.Quality{0b11_0000_00}, []float64{1.0})
	require.NoError(t, err)
	_, err = hs.Write(descB, 3, 1, []uint32{0}, []block.Quality{0b11_0000_00}, []float64{1.0})
	require.NoError(t, err)

	all := hs.TakeAllBlocks()
	require.Len(t, all, 2)

	seen := map[block.SeriesID]block.BlockNumber{}
	for _, fb := range all {
		seen[fb.SeriesID] = fb.BlockNumber
	}
	require.Equal(t, block.BlockNumber(0), seen[descA.ID])
	require.Equal(t, block.BlockNumber(3), seen[descB.ID])

	require.Empty(t, hs.TakeAllBlocks())
}

func TestConcurrentWritesToDifferentSeriesDoNotBlock(t *testing.T) {
	hs := New(8)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			desc := testDescriptor()
			desc.ID = block.SeriesID(i + 1)
			_, err := hs.Write(desc, 0, 1, []uint32{0}, []block.Quality{0b11_0000_00}, []float64{float64(i)})
			require.NoError(t, err)
		}()
	}
	wg.Wait()
}
