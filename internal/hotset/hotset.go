// Package hotset implements the concurrent per-series hot-block
// state: one live block plus a set of flushing blocks, with rotation
// and backfill routing (§4.4). The top-level map is sharded the way
// Scarage1-FlashDB/internal/timeseries/timeseries.go shards a Store,
// and per-series mutation is serialized by a try-lock per slot —
// Go's stdlib sync.Mutex.TryLock standing in for the original
// project's DashMap contention-returns-Busy semantics (vodnik-server/
// src/hot.rs).
package hotset

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/mattg23/vodnik/internal/block"
)

// ErrBusy is returned when a series' slot is already locked by
// another writer; the caller should retry (§4.4, §4.7 step 3e).
var ErrBusy = errors.New("hotset: series slot busy")

// ErrNeedsColdStore is returned when a write targets a block strictly
// older than the current live block — no longer hot (§4.4 step 3).
var ErrNeedsColdStore = errors.New("hotset: block no longer hot, route to cold store")

type hotBlock struct {
	txHigh uint64
	blk    block.SizedBlock
}

// FlushedBlock is one entry handed to the flush pipeline or the
// recovery force-flush pass.
type FlushedBlock struct {
	SeriesID    block.SeriesID
	BlockNumber block.BlockNumber
	TxHigh      uint64
	Block       block.SizedBlock
}

type seriesSlot struct {
	mu           sync.Mutex
	live         *hotBlock
	liveBlockNum *block.BlockNumber
	flushing     map[block.BlockNumber]*hotBlock
}

type shard struct {
	mu    sync.RWMutex
	slots map[block.SeriesID]*seriesSlot
}

// HotSet is the top-level concurrent map from series id to hot state.
type HotSet struct {
	shards []*shard
}

const defaultShardCount = 32

// New creates a HotSet with the given shard count (rounded up to a
// power of two is not required; any positive count works). 0 selects
// a sane default.
func New(shardCount int) *HotSet {
	if shardCount <= 0 {
		shardCount = defaultShardCount
	}
	hs := &HotSet{shards: make([]*shard, shardCount)}
	for i := range hs.shards {
		hs.shards[i] = &shard{slots: make(map[block.SeriesID]*seriesSlot)}
	}
	return hs
}

func (hs *HotSet) shardFor(id block.SeriesID) *shard {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(id))
	h := xxhash.Sum64(b[:])
	return hs.shards[h%uint64(len(hs.shards))]
}

func (sh *shard) slotFor(id block.SeriesID) *seriesSlot {
	sh.mu.RLock()
	s, ok := sh.slots[id]
	sh.mu.RUnlock()
	if ok {
		return s
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if s, ok = sh.slots[id]; ok {
		return s
	}
	s = &seriesSlot{flushing: make(map[block.BlockNumber]*hotBlock)}
	sh.slots[id] = s
	return s
}

// WriteResult reports what happened to a single-block-boundary write.
type WriteResult struct {
	LiveBlock    block.BlockNumber
	FlushingKeys []block.BlockNumber
}

// Write applies the write-at-offset algorithm of §4.4 to the slot for
// desc.ID, for the batch targeting blockNum at the given block-
// relative offsets. It returns ErrBusy if another writer holds the
// slot, or ErrNeedsColdStore if blockNum is strictly older than the
// current live block.
func (hs *HotSet) Write(
	desc *block.Descriptor, blockNum block.BlockNumber, txID uint64,
	offsets []uint32, quals []block.Quality, vals any,
) (WriteResult, error) {
	slot := hs.shardFor(desc.ID).slotFor(desc.ID)

	if !slot.mu.TryLock() {
		return WriteResult{}, ErrBusy
	}
	defer slot.mu.Unlock()

	var rotated []block.BlockNumber

	switch {
	case slot.liveBlockNum != nil && *slot.liveBlockNum < blockNum:
		oldNum := *slot.liveBlockNum
		slot.flushing[oldNum] = slot.live
		rotated = append(rotated, oldNum)

		fresh := block.NewSizedBlock(desc.StorageType, desc.Capacity())
		slot.live = &hotBlock{blk: fresh}
		slot.liveBlockNum = &blockNum

	case slot.liveBlockNum != nil && *slot.liveBlockNum > blockNum:
		return WriteResult{}, ErrNeedsColdStore

	case slot.live == nil:
		fresh := block.NewSizedBlock(desc.StorageType, desc.Capacity())
		slot.live = &hotBlock{blk: fresh}
		bn := blockNum
		slot.liveBlockNum = &bn
	}

	slot.live.blk.WriteAtOffsets(offsets, quals, vals)
	if txID > slot.live.txHigh {
		slot.live.txHigh = txID
	}

	return WriteResult{LiveBlock: *slot.liveBlockNum, FlushingKeys: rotated}, nil
}

// TakeFlushingBlock atomically removes and returns a flushing entry,
// if present (§4.4, used by the background flush task after a
// rotation schedules it).
func (hs *HotSet) TakeFlushingBlock(seriesID block.SeriesID, blockNum block.BlockNumber) (FlushedBlock, bool) {
	slot := hs.shardFor(seriesID).slotFor(seriesID)

	slot.mu.Lock()
	defer slot.mu.Unlock()

	hb, ok := slot.flushing[blockNum]
	if !ok {
		return FlushedBlock{}, false
	}
	delete(slot.flushing, blockNum)
	return FlushedBlock{SeriesID: seriesID, BlockNumber: blockNum, TxHigh: hb.txHigh, Block: hb.blk}, true
}

// TakeAllBlocks is the shutdown/recovery helper (§4.4): it forcibly
// rotates every series' live block into flushing, then drains and
// returns every flushing entry across every slot.
func (hs *HotSet) TakeAllBlocks() []FlushedBlock {
	var out []FlushedBlock

	for _, sh := range hs.shards {
		sh.mu.RLock()
		slots := make(map[block.SeriesID]*seriesSlot, len(sh.slots))
		for id, s := range sh.slots {
			slots[id] = s
		}
		sh.mu.RUnlock()

		for id, slot := range slots {
			slot.mu.Lock()
			if slot.live != nil && slot.liveBlockNum != nil {
				slot.flushing[*slot.liveBlockNum] = slot.live
				slot.live = nil
				slot.liveBlockNum = nil
			}
			for bn, hb := range slot.flushing {
				out = append(out, FlushedBlock{SeriesID: id, BlockNumber: bn, TxHigh: hb.txHigh, Block: hb.blk})
			}
			slot.flushing = make(map[block.BlockNumber]*hotBlock)
			slot.mu.Unlock()
		}
	}

	return out
}

// LiveBlockNumber reports the current live block for a series, if any.
func (hs *HotSet) LiveBlockNumber(seriesID block.SeriesID) (block.BlockNumber, bool) {
	slot := hs.shardFor(seriesID).slotFor(seriesID)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.liveBlockNum == nil {
		return 0, false
	}
	return *slot.liveBlockNum, true
}

func (r WriteResult) String() string {
	return fmt.Sprintf("live=%d flushing=%v", r.LiveBlock, r.FlushingKeys)
}
