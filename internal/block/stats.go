package block

import "math/big"

// Number is the closed set of sample value types a block can store.
type Number interface {
	~float32 | ~float64 | ~int32 | ~int64 | ~uint32 | ~uint64 | ~uint8
}

// Stats holds the per-block aggregates of §4.3, parameterized by the
// sample type T and its widened accumulator type A (f32/f64→float64,
// i32→int64, u32→uint64, i64→*big.Int, u64→*big.Int, enum8→uint64).
type Stats[T Number, A any] struct {
	CountNonMissing uint32
	CountValid      uint32

	Sum A
	Min T
	Max T

	Fst, Lst               T
	FstQ, LstQ             Quality
	FstOffset, LstOffset   uint32

	FstValid, LstValid               T
	FstValidQ, LstValidQ             Quality
	FstValidOffset, LstValidOffset   uint32

	QualAccOr  uint32
	QualAccAnd uint32

	// ObjectKey is populated only after persistence; the codec never
	// encodes it, the object reader repopulates it from the lookup key.
	ObjectKey string
}

// Recompute performs the "full recompute" algorithm of §4.3: resets
// all fields and scans vals/quals once. min0/max0 are T's sentinel
// max/min values (the type's widest range, so any real value replaces
// them); zero and add implement the widened accumulator for T.
func Recompute[T Number, A any](vals []T, quals []Quality, min0, max0 T, zero A, add func(A, T) A) Stats[T, A] {
	if len(vals) != len(quals) {
		panic("block: value/quality length mismatch")
	}

	s := Stats[T, A]{
		Sum:            zero,
		Min:            min0,
		Max:            max0,
		FstOffset:      ^uint32(0),
		LstOffset:      0,
		FstValidOffset: ^uint32(0),
		LstValidOffset: 0,
		QualAccOr:      0,
		QualAccAnd:     ^uint32(0),
	}

	for i, v := range vals {
		q := quals[i]
		idx := uint32(i)

		flag := qualFlag(q)
		s.QualAccOr |= flag
		s.QualAccAnd &= flag

		if q.IsMissing() {
			continue
		}

		s.CountNonMissing++
		if idx < s.FstOffset {
			s.FstOffset, s.Fst, s.FstQ = idx, v, q
		}
		if idx >= s.LstOffset {
			s.LstOffset, s.Lst, s.LstQ = idx, v, q
		}

		if q.IsValid() {
			s.CountValid++
			s.Sum = add(s.Sum, v)
			if v < s.Min {
				s.Min = v
			}
			if v > s.Max {
				s.Max = v
			}
			if idx < s.FstValidOffset {
				s.FstValidOffset, s.FstValid, s.FstValidQ = idx, v, q
			}
			if idx >= s.LstValidOffset {
				s.LstValidOffset, s.LstValid, s.LstValidQ = idx, v, q
			}
		}
	}

	if s.CountValid == 0 {
		var zeroT T
		s.Min, s.Max = zeroT, zeroT
	}

	return s
}

// --- widened-accumulator helpers, one per StorableNum mapping in §3 ---

func addFloat64[T ~float32 | ~float64](acc float64, v T) float64 { return acc + float64(v) }
func addInt64[T ~int32](acc int64, v T) int64                    { return acc + int64(v) }
func addUint64[T ~uint32 | ~uint8](acc uint64, v T) uint64        { return acc + uint64(v) }

func addBigIntSigned[T ~int64](acc *big.Int, v T) *big.Int {
	return new(big.Int).Add(acc, big.NewInt(int64(v)))
}

func addBigIntUnsigned[T ~uint64](acc *big.Int, v T) *big.Int {
	return new(big.Int).Add(acc, new(big.Int).SetUint64(uint64(v)))
}
