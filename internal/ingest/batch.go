package ingest

import (
	"fmt"
	"reflect"

	"github.com/mattg23/vodnik/internal/block"
)

// Batch is a validated set of samples for a single series, as
// produced by the (out of scope) HTTP/JSON ingest surface (§4.7).
type Batch struct {
	SeriesID   block.SeriesID
	Timestamps []uint64
	Quality    []block.Quality
	Values     any // a slice of the type matching the series' storage type
}

// validate checks §4.7's input invariants: N > 0, timestamps
// non-decreasing, and the value variant matching desc.StorageType.
func validate(desc *block.Descriptor, b Batch) error {
	n := len(b.Timestamps)
	if n == 0 {
		return fmt.Errorf("ingest: empty batch")
	}
	if len(b.Quality) != n {
		return fmt.Errorf("ingest: timestamp/quality length mismatch (%d vs %d)", n, len(b.Quality))
	}

	rv := reflect.ValueOf(b.Values)
	if rv.Kind() != reflect.Slice || rv.Len() != n {
		return fmt.Errorf("ingest: values must be a slice of length %d matching storage type %s", n, desc.StorageType)
	}
	if !matchesStorageType(desc.StorageType, rv) {
		return fmt.Errorf("ingest: value type does not match series storage type %s", desc.StorageType)
	}

	for i := 1; i < n; i++ {
		if b.Timestamps[i] < b.Timestamps[i-1] {
			return fmt.Errorf("ingest: timestamps must be non-decreasing (index %d: %d < %d)", i, b.Timestamps[i], b.Timestamps[i-1])
		}
	}
	return nil
}

func matchesStorageType(t block.StorageType, rv reflect.Value) bool {
	elem := rv.Type().Elem().Kind()
	switch t {
	case block.Float32:
		return elem == reflect.Float32
	case block.Float64:
		return elem == reflect.Float64
	case block.Int32:
		return elem == reflect.Int32
	case block.Int64:
		return elem == reflect.Int64
	case block.UInt32:
		return elem == reflect.Uint32
	case block.UInt64:
		return elem == reflect.Uint64
	case block.Enum8:
		return elem == reflect.Uint8
	default:
		return false
	}
}

// partition splits [0, len(ts)) into maximal runs sharing the same
// block_number = floor(ts[i] / block_duration) (§4.7 step 2).
type partition struct {
	blockNum block.BlockNumber
	lo, hi   int // [lo, hi) into the original batch
}

func partitionByBlock(desc *block.Descriptor, ts []uint64) []partition {
	if len(ts) == 0 {
		return nil
	}
	var parts []partition
	start := 0
	cur := desc.BlockNumberFor(ts[0])
	for i := 1; i < len(ts); i++ {
		bn := desc.BlockNumberFor(ts[i])
		if bn != cur {
			parts = append(parts, partition{blockNum: cur, lo: start, hi: i})
			start = i
			cur = bn
		}
	}
	parts = append(parts, partition{blockNum: cur, lo: start, hi: len(ts)})
	return parts
}

// offsetsFor computes the in-block sample offset for each timestamp
// in [lo, hi).
func offsetsFor(desc *block.Descriptor, ts []uint64, blockNum block.BlockNumber, lo, hi int) []uint32 {
	offsets := make([]uint32, hi-lo)
	for i := lo; i < hi; i++ {
		offsets[i-lo] = desc.SampleOffset(ts[i], blockNum)
	}
	return offsets
}

// sliceValues returns vals[lo:hi] for whichever concrete slice type
// vals holds, preserving the element type for WriteAtOffsets/WAL
// encoding.
func sliceValues(vals any, lo, hi int) any {
	rv := reflect.ValueOf(vals)
	return rv.Slice(lo, hi).Interface()
}
