package walog

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/mattg23/vodnik/internal/block"
)

func newTestWAL(t *testing.T, maxFileSize int64) (*WAL, string) {
	t.Helper()
	dir := t.TempDir()
	w, err := Open(dir, maxFileSize, NewMetrics(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w, dir
}

func TestAppendAndReadBack(t *testing.T) {
	w, dir := newTestWAL(t, 1<<20)

	rec := WriteRecord{
		TxID: 1, SeriesID: 7, BlockNumber: 3,
		Timestamps: []uint64{1000, 2000},
		Quality:    []block.Quality{0b11_0000_00, 0b11_0000_00},
		Values:     []float64{1.5, 2.5},
		StorageType: block.Float64,
	}
	payload, err := EncodeWrite(rec)
	require.NoError(t, err)
	require.NoError(t, w.Append(payload))
	require.NoError(t, w.Append(EncodeFlush(FlushRecord{TxID: 1, SeriesID: 7, BlockNumber: 3})))

	files, err := ListFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)

	frames, err := ReadAllFrames(files[0])
	require.NoError(t, err)
	require.Len(t, frames, 2)

	hdr, err := PeekHeader(frames[0])
	require.NoError(t, err)
	require.Equal(t, TagWrite, hdr.Tag)
	require.Equal(t, uint64(7), hdr.SeriesID)

	decoded, err := DecodeWrite(frames[0], block.Float64)
	require.NoError(t, err)
	require.Equal(t, rec.Timestamps, decoded.Timestamps)
	require.Equal(t, rec.Values, decoded.Values)

	flush, err := DecodeFlush(frames[1])
	require.NoError(t, err)
	require.Equal(t, uint64(1), flush.TxID)
}

func TestRotationOnSizeThreshold(t *testing.T) {
	w, dir := newTestWAL(t, 32)

	for i := 0; i < 5; i++ {
		payload := EncodeFlush(FlushRecord{TxID: uint64(i), SeriesID: 1, BlockNumber: 1})
		require.NoError(t, w.Append(payload))
	}

	files, err := ListFiles(dir)
	require.NoError(t, err)
	require.Greater(t, len(files), 1, "expected rotation to produce multiple files")
}

func TestFrameIteratorTruncatedTail(t *testing.T) {
	w, dir := newTestWAL(t, 1<<20)
	require.NoError(t, w.Append(EncodeFlush(FlushRecord{TxID: 1, SeriesID: 1, BlockNumber: 1})))
	require.NoError(t, w.Close())

	files, err := ListFiles(dir)
	require.NoError(t, err)
	path := files[0]

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-3], 0o644))

	it, err := OpenFrameIterator(path)
	require.NoError(t, err)
	defer it.Close()

	_, err = it.Next()
	require.ErrorIs(t, err, ErrUnexpectedEOF)

	_, err = it.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestFrameIteratorChecksumMismatch(t *testing.T) {
	w, dir := newTestWAL(t, 1<<20)
	require.NoError(t, w.Append(EncodeFlush(FlushRecord{TxID: 1, SeriesID: 1, BlockNumber: 1})))
	require.NoError(t, w.Close())

	files, err := ListFiles(dir)
	require.NoError(t, err)
	path := files[0]

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[frameHeaderBytes] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	it, err := OpenFrameIterator(path)
	require.NoError(t, err)
	defer it.Close()

	_, err = it.Next()
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestAppendRejectsEmptyAndOversizedPayloads(t *testing.T) {
	w, _ := newTestWAL(t, 1<<20)

	require.ErrorIs(t, w.Append(nil), ErrBufferTooSmall)
	require.ErrorIs(t, w.Append(make([]byte, maxFrameLen+1)), ErrFrameTooLarge)
}

func TestListFilesAscendingOrder(t *testing.T) {
	w, dir := newTestWAL(t, 16)
	for i := 0; i < 8; i++ {
		require.NoError(t, w.Append(EncodeFlush(FlushRecord{TxID: uint64(i), SeriesID: 1, BlockNumber: 1})))
	}
	files, err := ListFiles(dir)
	require.NoError(t, err)
	require.True(t, len(files) >= 2)
	for i, f := range files {
		require.Equal(t, filepath.Join(dir, filenameFor(i)), f)
	}
}

func filenameFor(i int) string {
	return filepath.Base((&WAL{dir: "", index: i}).currentPath())
}
