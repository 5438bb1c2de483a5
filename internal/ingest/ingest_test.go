package ingest

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/mattg23/vodnik/internal/block"
	"github.com/mattg23/vodnik/internal/catalog"
	"github.com/mattg23/vodnik/internal/hotset"
	"github.com/mattg23/vodnik/internal/objectstore"
	"github.com/mattg23/vodnik/internal/walog"
)

type fakeDescriptors struct {
	descs map[block.SeriesID]*block.Descriptor
}

func (f *fakeDescriptors) Descriptor(_ context.Context, id block.SeriesID) (*block.Descriptor, error) {
	d, ok := f.descs[id]
	if !ok {
		return nil, ErrSeriesNotFound
	}
	return d, nil
}

func newTestCoordinator(t *testing.T) (*Coordinator, *catalog.Store, *objectstore.Store, *walog.WAL, *hotset.HotSet) {
	t.Helper()
	dir := t.TempDir()

	w, err := walog.Open(filepath.Join(dir, "wal"), 1<<20, walog.NewMetrics(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	hs := hotset.New(4)

	cat, err := catalog.Open(context.Background(), "file:"+filepath.Join(dir, "catalog.db")+"?mode=rwc")
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	obj, err := objectstore.Open(filepath.Join(dir, "objects"))
	require.NoError(t, err)

	descs := &fakeDescriptors{descs: map[block.SeriesID]*block.Descriptor{
		1: {
			ID: 1, StorageType: block.Float64,
			SampleLength: 1, SampleResolution: block.Second,
			BlockLength: 4, BlockResolution: block.Second,
		},
	}}

	fixedNow := time.Unix(0, 0)
	c := New(descs, w, hs, cat, obj, 0, WithClock(func() time.Time { return fixedNow }))
	return c, cat, obj, w, hs
}

func TestIngestAppliesToHotSet(t *testing.T) {
	c, _, _, _, hs := newTestCoordinator(t)

	err := c.Ingest(context.Background(), Batch{
		SeriesID:   1,
		Timestamps: []uint64{0, 1000},
		Quality:    []block.Quality{0b11_0000_00, 0b11_0000_00},
		Values:     []float64{1.0, 2.0},
	})
	require.NoError(t, err)

	bn, ok := hs.LiveBlockNumber(1)
	require.True(t, ok)
	require.Equal(t, block.BlockNumber(0), bn)
}

func TestIngestRotationSchedulesFlush(t *testing.T) {
	c, cat, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, c.Ingest(ctx, Batch{
		SeriesID: 1, Timestamps: []uint64{0}, Quality: []block.Quality{0b11_0000_00}, Values: []float64{1.0},
	}))
	require.NoError(t, c.Ingest(ctx, Batch{
		SeriesID: 1, Timestamps: []uint64{4000}, Quality: []block.Quality{0b11_0000_00}, Values: []float64{2.0},
	}))
	require.NoError(t, c.Wait())

	entry, err := cat.Get(ctx, 1, 0)
	require.NoError(t, err)
	require.NotEmpty(t, entry.ObjectKey)
}

func TestIngestRejectsUnknownSeries(t *testing.T) {
	c, _, _, _, _ := newTestCoordinator(t)
	err := c.Ingest(context.Background(), Batch{
		SeriesID: 99, Timestamps: []uint64{0}, Quality: []block.Quality{0b11_0000_00}, Values: []float64{1.0},
	})
	require.ErrorIs(t, err, ErrSeriesNotFound)
}

func TestIngestRejectsDecreasingTimestamps(t *testing.T) {
	c, _, _, _, _ := newTestCoordinator(t)
	err := c.Ingest(context.Background(), Batch{
		SeriesID:   1,
		Timestamps: []uint64{1000, 500},
		Quality:    []block.Quality{0b11_0000_00, 0b11_0000_00},
		Values:     []float64{1.0, 2.0},
	})
	require.Error(t, err)
}

func TestColdPathBackfillsOlderBlock(t *testing.T) {
	c, cat, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, c.Ingest(ctx, Batch{
		SeriesID: 1, Timestamps: []uint64{8000}, Quality: []block.Quality{0b11_0000_00}, Values: []float64{9.0},
	}))
	require.NoError(t, c.Ingest(ctx, Batch{
		SeriesID: 1, Timestamps: []uint64{0}, Quality: []block.Quality{0b11_0000_00}, Values: []float64{1.0},
	}))

	entry, err := cat.Get(ctx, 1, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(1), entry.Block.F64.Stats.CountValid)
}

// TestColdPathSerializesConcurrentBackfills guards against collapsing
// concurrent cold-path writes to the same block into a single
// execution: each carries a distinct offset/value and must be applied
// in turn, not deduplicated away.
func TestColdPathSerializesConcurrentBackfills(t *testing.T) {
	c, cat, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, c.Ingest(ctx, Batch{
		SeriesID: 1, Timestamps: []uint64{8000}, Quality: []block.Quality{0b11_0000_00}, Values: []float64{9.0},
	}))

	var wg sync.WaitGroup
	for _, ts := range []uint64{0, 1000} {
		wg.Add(1)
		go func(ts uint64) {
			defer wg.Done()
			require.NoError(t, c.Ingest(ctx, Batch{
				SeriesID: 1, Timestamps: []uint64{ts}, Quality: []block.Quality{0b11_0000_00}, Values: []float64{1.0},
			}))
		}(ts)
	}
	wg.Wait()

	entry, err := cat.Get(ctx, 1, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(2), entry.Block.F64.Stats.CountValid, "both concurrent backfills must be applied, not deduplicated")
}
