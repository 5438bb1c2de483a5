package block

import (
	"fmt"
	"math"
	"math/big"
)

// F32Block through U8Block are the seven concrete block variants. Each
// carries its typed statistics, a capacity-length value vector, and a
// parallel capacity-length quality vector. Values default to T's zero,
// qualities default to MissingQuality.
type F32Block struct {
	Stats    Stats[float32, float64]
	Values   []float32
	Quality  []Quality
}

type F64Block struct {
	Stats    Stats[float64, float64]
	Values   []float64
	Quality  []Quality
}

type I32Block struct {
	Stats    Stats[int32, int64]
	Values   []int32
	Quality  []Quality
}

type I64Block struct {
	Stats    Stats[int64, *big.Int]
	Values   []int64
	Quality  []Quality
}

type U32Block struct {
	Stats    Stats[uint32, uint64]
	Values   []uint32
	Quality  []Quality
}

type U64Block struct {
	Stats    Stats[uint64, *big.Int]
	Values   []uint64
	Quality  []Quality
}

type U8Block struct {
	Stats    Stats[uint8, uint64]
	Values   []uint8
	Quality  []Quality
}

// SizedBlock is a tagged union over the seven storage-typed block
// variants, mirroring the original Rust project's SizedBlock enum
// (vodnik-core/src/meta.rs). Exactly one of the typed fields is
// non-nil, selected by Tag.
type SizedBlock struct {
	Tag StorageType

	F32 *F32Block
	F64 *F64Block
	I32 *I32Block
	I64 *I64Block
	U32 *U32Block
	U64 *U64Block
	U8  *U8Block
}

// NewSizedBlock allocates a fresh block of the given storage type and
// capacity, values zeroed and qualities set to MissingQuality.
func NewSizedBlock(t StorageType, capacity uint64) SizedBlock {
	n := int(capacity)
	quals := make([]Quality, n)
	for i := range quals {
		quals[i] = MissingQuality
	}

	switch t {
	case Float32:
		return SizedBlock{Tag: t, F32: &F32Block{Values: make([]float32, n), Quality: append([]Quality(nil), quals...)}}
	case Float64:
		return SizedBlock{Tag: t, F64: &F64Block{Values: make([]float64, n), Quality: append([]Quality(nil), quals...)}}
	case Int32:
		return SizedBlock{Tag: t, I32: &I32Block{Values: make([]int32, n), Quality: append([]Quality(nil), quals...)}}
	case Int64:
		return SizedBlock{Tag: t, I64: &I64Block{Values: make([]int64, n), Quality: append([]Quality(nil), quals...)}}
	case UInt32:
		return SizedBlock{Tag: t, U32: &U32Block{Values: make([]uint32, n), Quality: append([]Quality(nil), quals...)}}
	case UInt64:
		return SizedBlock{Tag: t, U64: &U64Block{Values: make([]uint64, n), Quality: append([]Quality(nil), quals...)}}
	case Enum8:
		return SizedBlock{Tag: t, U8: &U8Block{Values: make([]uint8, n), Quality: append([]Quality(nil), quals...)}}
	default:
		panic(fmt.Sprintf("block: unknown storage type tag %d", t))
	}
}

// Capacity returns the number of sample slots in the block.
func (b *SizedBlock) Capacity() int {
	switch b.Tag {
	case Float32:
		return len(b.F32.Values)
	case Float64:
		return len(b.F64.Values)
	case Int32:
		return len(b.I32.Values)
	case Int64:
		return len(b.I64.Values)
	case UInt32:
		return len(b.U32.Values)
	case UInt64:
		return len(b.U64.Values)
	case Enum8:
		return len(b.U8.Values)
	default:
		panic(fmt.Sprintf("block: unknown storage type tag %d", b.Tag))
	}
}

// ObjectKey returns the persisted object key, or "" if the block has
// never been flushed.
func (b *SizedBlock) ObjectKey() string {
	switch b.Tag {
	case Float32:
		return b.F32.Stats.ObjectKey
	case Float64:
		return b.F64.Stats.ObjectKey
	case Int32:
		return b.I32.Stats.ObjectKey
	case Int64:
		return b.I64.Stats.ObjectKey
	case UInt32:
		return b.U32.Stats.ObjectKey
	case UInt64:
		return b.U64.Stats.ObjectKey
	case Enum8:
		return b.U8.Stats.ObjectKey
	default:
		panic(fmt.Sprintf("block: unknown storage type tag %d", b.Tag))
	}
}

// SetObjectKey stamps the object key onto the block's statistics; used
// by the object reader after a successful read (§4.1, §4.6).
func (b *SizedBlock) SetObjectKey(key string) {
	switch b.Tag {
	case Float32:
		b.F32.Stats.ObjectKey = key
	case Float64:
		b.F64.Stats.ObjectKey = key
	case Int32:
		b.I32.Stats.ObjectKey = key
	case Int64:
		b.I64.Stats.ObjectKey = key
	case UInt32:
		b.U32.Stats.ObjectKey = key
	case UInt64:
		b.U64.Stats.ObjectKey = key
	case Enum8:
		b.U8.Stats.ObjectKey = key
	default:
		panic(fmt.Sprintf("block: unknown storage type tag %d", b.Tag))
	}
}

// WriteAtOffsets applies vals/quals at the given block-relative offsets
// and recomputes statistics over the whole block (§4.4 steps 5-6,
// §4.8 step 2). vals must be a slice of the type matching b.Tag, or
// WriteAtOffsets panics — a storage-type mismatch reaching here is the
// fatal invariant violation described in spec.md §7, not a runtime error.
func (b *SizedBlock) WriteAtOffsets(offsets []uint32, quals []Quality, vals any) {
	switch b.Tag {
	case Float32:
		b.F32.Stats = applyAndRecompute(b.F32.Values, b.F32.Quality, offsets, quals, mustSlice[float32](vals),
			math.MaxFloat32, -math.MaxFloat32, float64(0), addFloat64[float32])
	case Float64:
		b.F64.Stats = applyAndRecompute(b.F64.Values, b.F64.Quality, offsets, quals, mustSlice[float64](vals),
			math.MaxFloat64, -math.MaxFloat64, float64(0), addFloat64[float64])
	case Int32:
		b.I32.Stats = applyAndRecompute(b.I32.Values, b.I32.Quality, offsets, quals, mustSlice[int32](vals),
			int32(math.MaxInt32), int32(math.MinInt32), int64(0), addInt64[int32])
	case Int64:
		b.I64.Stats = applyAndRecompute(b.I64.Values, b.I64.Quality, offsets, quals, mustSlice[int64](vals),
			int64(math.MaxInt64), int64(math.MinInt64), big.NewInt(0), addBigIntSigned[int64])
	case UInt32:
		b.U32.Stats = applyAndRecompute(b.U32.Values, b.U32.Quality, offsets, quals, mustSlice[uint32](vals),
			uint32(math.MaxUint32), uint32(0), uint64(0), addUint64[uint32])
	case UInt64:
		b.U64.Stats = applyAndRecompute(b.U64.Values, b.U64.Quality, offsets, quals, mustSlice[uint64](vals),
			uint64(math.MaxUint64), uint64(0), big.NewInt(0), addBigIntUnsigned[uint64])
	case Enum8:
		b.U8.Stats = applyAndRecompute(b.U8.Values, b.U8.Quality, offsets, quals, mustSlice[uint8](vals),
			uint8(math.MaxUint8), uint8(0), uint64(0), addUint64[uint8])
	default:
		panic(fmt.Sprintf("block: unknown storage type tag %d", b.Tag))
	}
}

func mustSlice[T any](v any) []T {
	s, ok := v.([]T)
	if !ok {
		panic(fmt.Sprintf("block: storage-type mismatch: expected values of type %T", s))
	}
	return s
}

// applyAndRecompute writes vals/quals into values/quality at the given
// block-relative offsets, then recomputes statistics over the whole
// (now-updated) block. Shared by every WriteAtOffsets case.
func applyAndRecompute[T Number, A any](
	values []T, quality []Quality,
	offsets []uint32, quals []Quality, vals []T,
	min0, max0 T, zero A, add func(A, T) A,
) Stats[T, A] {
	if len(offsets) != len(quals) || len(offsets) != len(vals) {
		panic("block: offsets/quality/values length mismatch")
	}
	for i, off := range offsets {
		if int(off) >= len(values) {
			panic(fmt.Sprintf("block: sample offset %d out of bounds (capacity %d)", off, len(values)))
		}
		values[off] = vals[i]
		quality[off] = quals[i]
	}
	return Recompute(values, quality, min0, max0, zero, add)
}
