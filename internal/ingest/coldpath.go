package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattg23/vodnik/internal/block"
	"github.com/mattg23/vodnik/internal/catalog"
	"github.com/mattg23/vodnik/internal/hotset"
	"github.com/mattg23/vodnik/internal/walog"
)

// coldWrite implements §4.8: read-modify-write an already-flushed (or
// never-seen) block. Concurrent backfills targeting the same (series,
// block) are distinct read-modify-write operations, not duplicate
// calls, so they're serialized behind a per-key mutex rather than
// deduplicated — the original project's own TODO in persistence.rs
// calls out this race but a collapsing primitive would silently drop
// every write but the first.
func (c *Coordinator) coldWrite(ctx context.Context, desc *block.Descriptor, blockNum block.BlockNumber, offsets []uint32, quals []block.Quality, vals any) error {
	key := fmt.Sprintf("%d:%d", desc.ID, blockNum)
	unlock := c.coldLocks.Lock(key)
	defer unlock()

	blk, err := c.loadOrAllocate(ctx, desc, blockNum)
	if err != nil {
		return err
	}

	blk.WriteAtOffsets(offsets, quals, vals)

	newKey, err := c.obj.WriteBlock(desc.ID, blockNum, &blk)
	if err != nil {
		return fmt.Errorf("ingest: cold path object write failed: %w", err)
	}
	if err := c.cat.Upsert(ctx, desc.ID, blockNum, newKey, &blk, c.now().UnixMilli()); err != nil {
		return fmt.Errorf("ingest: cold path catalog upsert failed: %w", err)
	}
	if c.metrics != nil {
		c.metrics.ColdWrites.Inc()
	}
	return nil
}

func (c *Coordinator) loadOrAllocate(ctx context.Context, desc *block.Descriptor, blockNum block.BlockNumber) (block.SizedBlock, error) {
	objKey, err := c.cat.GetObjectKey(ctx, desc.ID, blockNum)
	if errors.Is(err, catalog.ErrNotFound) {
		return block.NewSizedBlock(desc.StorageType, desc.Capacity()), nil
	}
	if err != nil {
		return block.SizedBlock{}, fmt.Errorf("ingest: cold path catalog lookup failed: %w", err)
	}

	blk, err := c.obj.ReadBlock(objKey)
	if err != nil {
		return block.SizedBlock{}, fmt.Errorf("ingest: cold path object read failed: %w", err)
	}
	return blk, nil
}

// ForceFlush runs the flush pipeline for an already-taken hot block —
// used by recovery (§4.10 step 3), which has removed the entry from
// the hot set itself via hotset.TakeAllBlocks and so bypasses the
// normal TakeFlushingBlock lookup.
func (c *Coordinator) ForceFlush(ctx context.Context, fb hotset.FlushedBlock) error {
	key, err := c.obj.WriteBlock(fb.SeriesID, fb.BlockNumber, &fb.Block)
	if err != nil {
		return fmt.Errorf("ingest: force flush object write failed: %w", err)
	}
	if err := c.cat.Upsert(ctx, fb.SeriesID, fb.BlockNumber, key, &fb.Block, c.now().UnixMilli()); err != nil {
		return fmt.Errorf("ingest: force flush catalog upsert failed: %w", err)
	}
	flushPayload := walog.EncodeFlush(walog.FlushRecord{TxID: fb.TxHigh, SeriesID: uint64(fb.SeriesID), BlockNumber: uint64(fb.BlockNumber)})
	if err := c.wal.Append(flushPayload); err != nil {
		return fmt.Errorf("ingest: force flush WAL append failed: %w", err)
	}
	if c.metrics != nil {
		c.metrics.BlocksFlushed.Inc()
	}
	return nil
}

// ColdWriteReplay re-applies a recovered WRITE record through the
// cold path — the path §4.10 step 2 routes every surviving WAL WRITE
// through, since by the time recovery runs, "hot" has no meaning yet.
func (c *Coordinator) ColdWriteReplay(ctx context.Context, desc *block.Descriptor, blockNum block.BlockNumber, offsets []uint32, quals []block.Quality, vals any) error {
	return c.coldWrite(ctx, desc, blockNum, offsets, quals, vals)
}
