// Package ingest implements the ingest coordinator (§4.7), the cold
// path for late/backfill writes (§4.8), and the per-block flush task
// (§4.9). Grounded on the original vodnik project's ingest.rs
// (batch_ingest, write_chunk's retry-on-Busy/NeedsColdStore split,
// flush_background) and persistence.rs (write_cold's read-modify-
// write), with the Go-side construction/recovery shape borrowed from
// Scarage1-FlashDB/internal/engine/engine.go.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/mattg23/vodnik/internal/block"
	"github.com/mattg23/vodnik/internal/catalog"
	"github.com/mattg23/vodnik/internal/hotset"
	"github.com/mattg23/vodnik/internal/objectstore"
	"github.com/mattg23/vodnik/internal/walog"
)

// MaxRetries bounds how many times a Busy write is retried before
// surfacing a transient failure (§4.7 step 3e, §5).
const MaxRetries = 3

// ErrUnavailable is returned when a write stays Busy past MaxRetries.
var ErrUnavailable = errors.New("ingest: series transiently unavailable, retry later")

// ErrSeriesNotFound mirrors a 404-equivalent from the series metadata
// catalog (§4.7 step 1); the catalog itself is out of scope here.
var ErrSeriesNotFound = errors.New("ingest: series not found")

// Descriptors resolves a series id to its descriptor. The series
// metadata catalog that backs this is out of scope for this core
// (§1) — callers supply whatever implementation fronts it.
type Descriptors interface {
	Descriptor(ctx context.Context, id block.SeriesID) (*block.Descriptor, error)
}

// Coordinator wires the WAL, hot set, block meta catalog, and object
// store into the write path described by §4.7–§4.9.
type Coordinator struct {
	descriptors Descriptors
	wal         *walog.WAL
	hot         *hotset.HotSet
	cat         *catalog.Store
	obj         *objectstore.Store
	logger      log.Logger
	metrics     *Metrics

	txID atomic.Uint64

	flushGroup *errgroup.Group
	coldLocks  *keyedMutex

	now func() time.Time
}

// Option configures a Coordinator at construction time.
type Option func(*Coordinator)

// WithLogger overrides the default nop logger.
func WithLogger(l log.Logger) Option { return func(c *Coordinator) { c.logger = l } }

// WithClock overrides time.Now, for deterministic tests.
func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *Metrics) Option { return func(c *Coordinator) { c.metrics = m } }

// WithMaxConcurrentFlushes bounds how many background flush tasks run
// at once.
func WithMaxConcurrentFlushes(n int) Option {
	return func(c *Coordinator) { c.flushGroup.SetLimit(n) }
}

// New builds a Coordinator. startTxID should be 0 on a fresh catalog,
// or one past the highest tx_id recovery observed, so tx_id remains
// process-wide monotonic across restarts (§3).
func New(descriptors Descriptors, wal *walog.WAL, hot *hotset.HotSet, cat *catalog.Store, obj *objectstore.Store, startTxID uint64, opts ...Option) *Coordinator {
	c := &Coordinator{
		descriptors: descriptors,
		wal:         wal,
		hot:         hot,
		cat:         cat,
		obj:         obj,
		logger:      log.NewNopLogger(),
		flushGroup:  &errgroup.Group{},
		coldLocks:   newKeyedMutex(),
		now:         time.Now,
	}
	c.txID.Store(startTxID)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) nextTxID() uint64 { return c.txID.Inc() }

// Wait blocks until every background flush task spawned so far has
// completed. Used at shutdown to drain in-flight flushes.
func (c *Coordinator) Wait() error { return c.flushGroup.Wait() }

// RotateWAL forces the underlying WAL onto a fresh file. Used by
// recovery so that new appends made during force-flush don't land in
// a file recovery is about to delete as fully processed.
func (c *Coordinator) RotateWAL() error { return c.wal.Rotate() }

// Ingest validates batch, partitions it by block boundary, and drives
// each partition through the WAL, hot set, and (when needed) cold
// path (§4.7).
//
// Each partition's WAL WRITE record is appended and fsynced before the
// hot-set write is attempted. If that write stays Busy past MaxRetries,
// Ingest returns ErrUnavailable, but the WRITE record is already
// durable and has no matching FLUSH, so recovery at the next startup
// replays it: a call that failed this way can still take effect later.
func (c *Coordinator) Ingest(ctx context.Context, b Batch) error {
	desc, err := c.descriptors.Descriptor(ctx, b.SeriesID)
	if err != nil {
		return fmt.Errorf("%w: series %d: %v", ErrSeriesNotFound, b.SeriesID, err)
	}

	if err := validate(desc, b); err != nil {
		return err
	}

	for _, part := range partitionByBlock(desc, b.Timestamps) {
		if err := c.ingestPartition(ctx, desc, b, part); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) ingestPartition(ctx context.Context, desc *block.Descriptor, b Batch, part partition) error {
	txID := c.nextTxID()
	offsets := offsetsFor(desc, b.Timestamps, part.blockNum, part.lo, part.hi)
	quals := b.Quality[part.lo:part.hi]
	vals := sliceValues(b.Values, part.lo, part.hi)
	ts := b.Timestamps[part.lo:part.hi]

	payload, err := walog.EncodeWrite(walog.WriteRecord{
		TxID: txID, SeriesID: uint64(b.SeriesID), BlockNumber: uint64(part.blockNum),
		Timestamps: ts, Quality: quals, Values: vals, StorageType: desc.StorageType,
	})
	if err != nil {
		return fmt.Errorf("ingest: failed to encode WRITE record: %w", err)
	}
	if err := c.wal.Append(payload); err != nil {
		return fmt.Errorf("ingest: WAL append failed: %w", err)
	}

	res, err := c.writeWithRetry(desc, part.blockNum, txID, offsets, quals, vals)
	if err == nil {
		for _, bn := range res.FlushingKeys {
			c.scheduleFlush(b.SeriesID, bn)
		}
		return nil
	}
	if errors.Is(err, hotset.ErrNeedsColdStore) {
		return c.coldWrite(ctx, desc, part.blockNum, offsets, quals, vals)
	}
	return err
}

func (c *Coordinator) writeWithRetry(desc *block.Descriptor, blockNum block.BlockNumber, txID uint64, offsets []uint32, quals []block.Quality, vals any) (hotset.WriteResult, error) {
	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		res, err := c.hot.Write(desc, blockNum, txID, offsets, quals, vals)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, hotset.ErrNeedsColdStore) {
			return hotset.WriteResult{}, err
		}
		lastErr = err
		if c.metrics != nil {
			c.metrics.HotSetBusy.Inc()
		}
		runtime.Gosched()
	}
	level.Warn(c.logger).Log("msg", "series write stayed busy past retry budget", "series_id", desc.ID, "retries", MaxRetries)
	return hotset.WriteResult{}, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *Coordinator) scheduleFlush(seriesID block.SeriesID, blockNum block.BlockNumber) {
	c.flushGroup.Go(func() error {
		c.flushOne(seriesID, blockNum)
		return nil
	})
}

// flushOne runs the per-(series, flushing_block) pipeline of §4.9. It
// never returns an error to its caller: failures are logged and the
// task returns. By then TakeFlushingBlock has already removed the block
// from the hot set and it is not put back, so no later rotation retries
// it; no FLUSH record is appended for it either, so its WAL WRITE
// records are replayed by recovery at the next startup.
func (c *Coordinator) flushOne(seriesID block.SeriesID, blockNum block.BlockNumber) {
	fb, ok := c.hot.TakeFlushingBlock(seriesID, blockNum)
	if !ok {
		return
	}

	key, err := c.obj.WriteBlock(seriesID, blockNum, &fb.Block)
	if err != nil {
		level.Error(c.logger).Log("msg", "flush: object write failed", "series_id", seriesID, "block", blockNum, "err", err)
		return
	}

	if err := c.cat.Upsert(context.Background(), seriesID, blockNum, key, &fb.Block, c.now().UnixMilli()); err != nil {
		level.Error(c.logger).Log("msg", "flush: catalog upsert failed", "series_id", seriesID, "block", blockNum, "err", err)
		return
	}

	flushPayload := walog.EncodeFlush(walog.FlushRecord{TxID: fb.TxHigh, SeriesID: uint64(seriesID), BlockNumber: uint64(blockNum)})
	if err := c.wal.Append(flushPayload); err != nil {
		level.Error(c.logger).Log("msg", "flush: WAL FLUSH append failed", "series_id", seriesID, "block", blockNum, "err", err)
		return
	}

	if c.metrics != nil {
		c.metrics.BlocksFlushed.Inc()
	}
}
