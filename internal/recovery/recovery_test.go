package recovery

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/mattg23/vodnik/internal/block"
	"github.com/mattg23/vodnik/internal/hotset"
	"github.com/mattg23/vodnik/internal/walog"
)

type fakeDescriptors struct{ desc *block.Descriptor }

func (f *fakeDescriptors) Descriptor(_ context.Context, id block.SeriesID) (*block.Descriptor, error) {
	return f.desc, nil
}

type replayCall struct {
	blockNum block.BlockNumber
	offsets  []uint32
}

type fakeReplayer struct {
	writes       []replayCall
	forceFlushed []hotset.FlushedBlock
}

func (f *fakeReplayer) ColdWriteReplay(_ context.Context, desc *block.Descriptor, blockNum block.BlockNumber, offsets []uint32, quals []block.Quality, vals any) error {
	f.writes = append(f.writes, replayCall{blockNum: blockNum, offsets: offsets})
	return nil
}

func (f *fakeReplayer) ForceFlush(_ context.Context, fb hotset.FlushedBlock) error {
	f.forceFlushed = append(f.forceFlushed, fb)
	return nil
}

func (f *fakeReplayer) RotateWAL() error { return nil }

func testDescriptor() *block.Descriptor {
	return &block.Descriptor{
		ID: 1, StorageType: block.Float64,
		SampleLength: 1, SampleResolution: block.Second,
		BlockLength: 4, BlockResolution: block.Second,
	}
}

func TestRecoveryReplaysUnflushedWrite(t *testing.T) {
	dir := t.TempDir()
	w, err := walog.Open(dir, 1<<20, walog.NewMetrics(prometheus.NewRegistry()))
	require.NoError(t, err)

	payload, err := walog.EncodeWrite(walog.WriteRecord{
		TxID: 1, SeriesID: 1, BlockNumber: 0,
		Timestamps: []uint64{0}, Quality: []block.Quality{0b11_0000_00},
		Values: []float64{1.0}, StorageType: block.Float64,
	})
	require.NoError(t, err)
	require.NoError(t, w.Append(payload))
	require.NoError(t, w.Close())

	descs := &fakeDescriptors{desc: testDescriptor()}
	replayer := &fakeReplayer{}
	hot := hotset.New(1)

	err = Run(context.Background(), dir, descs, replayer, hot, nil)
	require.NoError(t, err)
	require.Len(t, replayer.writes, 1)
	require.Equal(t, block.BlockNumber(0), replayer.writes[0].blockNum)

	files, err := walog.ListFiles(dir)
	require.NoError(t, err)
	require.Empty(t, files, "processed WAL files must be deleted")
}

func TestRecoveryElidesFlushedWrite(t *testing.T) {
	dir := t.TempDir()
	w, err := walog.Open(dir, 1<<20, walog.NewMetrics(prometheus.NewRegistry()))
	require.NoError(t, err)

	payload, err := walog.EncodeWrite(walog.WriteRecord{
		TxID: 1, SeriesID: 1, BlockNumber: 0,
		Timestamps: []uint64{0}, Quality: []block.Quality{0b11_0000_00},
		Values: []float64{1.0}, StorageType: block.Float64,
	})
	require.NoError(t, err)
	require.NoError(t, w.Append(payload))
	require.NoError(t, w.Append(walog.EncodeFlush(walog.FlushRecord{TxID: 1, SeriesID: 1, BlockNumber: 0})))
	require.NoError(t, w.Close())

	descs := &fakeDescriptors{desc: testDescriptor()}
	replayer := &fakeReplayer{}
	hot := hotset.New(1)

	err = Run(context.Background(), dir, descs, replayer, hot, nil)
	require.NoError(t, err)
	require.Empty(t, replayer.writes, "FLUSH must elide its matching WRITE")
}

func TestRecoveryReplaysInAscendingTxIDOrder(t *testing.T) {
	dir := t.TempDir()
	w, err := walog.Open(dir, 1<<20, walog.NewMetrics(prometheus.NewRegistry()))
	require.NoError(t, err)

	// Write the higher tx_id first so file order is the opposite of
	// tx_id order — replay must still apply ascending by tx_id.
	high, err := walog.EncodeWrite(walog.WriteRecord{
		TxID: 10, SeriesID: 1, BlockNumber: 0,
		Timestamps: []uint64{0}, Quality: []block.Quality{0b11_0000_00},
		Values: []float64{9.0}, StorageType: block.Float64,
	})
	require.NoError(t, err)
	low, err := walog.EncodeWrite(walog.WriteRecord{
		TxID: 3, SeriesID: 1, BlockNumber: 0,
		Timestamps: []uint64{1000}, Quality: []block.Quality{0b11_0000_00},
		Values: []float64{1.0}, StorageType: block.Float64,
	})
	require.NoError(t, err)
	require.NoError(t, w.Append(high))
	require.NoError(t, w.Append(low))
	require.NoError(t, w.Close())

	descs := &fakeDescriptors{desc: testDescriptor()}
	replayer := &fakeReplayer{}
	hot := hotset.New(1)

	err = Run(context.Background(), dir, descs, replayer, hot, nil)
	require.NoError(t, err)
	require.Len(t, replayer.writes, 2)
	require.Equal(t, []uint32{1}, replayer.writes[0].offsets, "tx_id 3 (lower) must replay first")
	require.Equal(t, []uint32{0}, replayer.writes[1].offsets, "tx_id 10 (higher) must replay last, so it wins at a contended offset")
}

func TestRecoveryForceFlushesHotEntries(t *testing.T) {
	dir := t.TempDir()
	descs := &fakeDescriptors{desc: testDescriptor()}
	replayer := &fakeReplayer{}
	hot := hotset.New(1)

	_, err := hot.Write(testDescriptor(), 0, 5, []uint32{0}, []block.Quality{0b11_0000_00}, []float64{1.0})
	require.NoError(t, err)

	err = Run(context.Background(), dir, descs, replayer, hot, nil)
	require.NoError(t, err)
	require.Len(t, replayer.forceFlushed, 1)
}
