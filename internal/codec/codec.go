// Package codec implements the bit-exact wire encoding of a sized
// block (§4.1): a versioned little-endian header, the statistics
// record, the value array, and the quality array. object_key is never
// encoded; the reader repopulates it from the lookup key that was
// used to fetch the bytes.
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/big"

	"github.com/mattg23/vodnik/internal/block"
)

const (
	magic   uint16 = 0x766b // "vk"
	version uint8  = 1

	headerBytes = 2 + 1 + 1 + 4 // magic, version, tag, capacity
)

// ErrInvalidData is returned (wrapped) for any unknown tag, mismatched
// length, or truncated buffer encountered while decoding.
var ErrInvalidData = fmt.Errorf("codec: invalid data")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidData, fmt.Sprintf(format, args...))
}

// Encode serializes b to its wire form.
func Encode(b *block.SizedBlock) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(headerBytes + 64 + b.Capacity()*(b.Tag.SampleBytes()+1))

	var hdr [headerBytes]byte
	binary.LittleEndian.PutUint16(hdr[0:2], magic)
	hdr[2] = version
	hdr[3] = uint8(b.Tag)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(b.Capacity()))
	buf.Write(hdr[:])

	switch b.Tag {
	case block.Float32:
		encodeVariant(&buf, b.F32.Stats, b.F32.Values, b.F32.Quality, encodeFloat64Sum, putFloat32)
	case block.Float64:
		encodeVariant(&buf, b.F64.Stats, b.F64.Values, b.F64.Quality, encodeFloat64Sum, putFloat64)
	case block.Int32:
		encodeVariant(&buf, b.I32.Stats, b.I32.Values, b.I32.Quality, encodeInt64Sum, putInt32)
	case block.Int64:
		encodeVariant(&buf, b.I64.Stats, b.I64.Values, b.I64.Quality, encodeBigIntSum, putInt64)
	case block.UInt32:
		encodeVariant(&buf, b.U32.Stats, b.U32.Values, b.U32.Quality, encodeUint64Sum, putUint32)
	case block.UInt64:
		encodeVariant(&buf, b.U64.Stats, b.U64.Values, b.U64.Quality, encodeBigIntSum, putUint64)
	case block.Enum8:
		encodeVariant(&buf, b.U8.Stats, b.U8.Values, b.U8.Quality, encodeUint64Sum, putUint8)
	default:
		return nil, invalidf("unknown storage type tag %d", b.Tag)
	}

	return buf.Bytes(), nil
}

// Decode parses a wire-form buffer back into a SizedBlock. object_key
// is left empty; the caller fills it in from the lookup key.
func Decode(data []byte) (block.SizedBlock, error) {
	if len(data) < headerBytes {
		return block.SizedBlock{}, invalidf("truncated header: got %d bytes, want at least %d", len(data), headerBytes)
	}
	if got := binary.LittleEndian.Uint16(data[0:2]); got != magic {
		return block.SizedBlock{}, invalidf("bad magic %#04x", got)
	}
	if got := data[2]; got != version {
		return block.SizedBlock{}, invalidf("unsupported version %d", got)
	}
	tag := block.StorageType(data[3])
	if tag > block.Enum8 {
		return block.SizedBlock{}, invalidf("unknown storage type tag %d", tag)
	}
	capacity := binary.LittleEndian.Uint32(data[4:8])

	sb := block.NewSizedBlock(tag, uint64(capacity))
	r := bytes.NewReader(data[headerBytes:])

	var err error
	switch tag {
	case block.Float32:
		sb.F32.Stats, err = decodeVariant(r, sb.F32.Values, sb.F32.Quality, decodeFloat64Sum, getFloat32)
	case block.Float64:
		sb.F64.Stats, err = decodeVariant(r, sb.F64.Values, sb.F64.Quality, decodeFloat64Sum, getFloat64)
	case block.Int32:
		sb.I32.Stats, err = decodeVariant(r, sb.I32.Values, sb.I32.Quality, decodeInt64Sum, getInt32)
	case block.Int64:
		sb.I64.Stats, err = decodeVariant(r, sb.I64.Values, sb.I64.Quality, decodeBigIntSum, getInt64)
	case block.UInt32:
		sb.U32.Stats, err = decodeVariant(r, sb.U32.Values, sb.U32.Quality, decodeUint64Sum, getUint32)
	case block.UInt64:
		sb.U64.Stats, err = decodeVariant(r, sb.U64.Values, sb.U64.Quality, decodeBigIntSum, getUint64)
	case block.Enum8:
		sb.U8.Stats, err = decodeVariant(r, sb.U8.Values, sb.U8.Quality, decodeUint64Sum, getUint8)
	default:
		return block.SizedBlock{}, invalidf("unknown storage type tag %d", tag)
	}
	if err != nil {
		return block.SizedBlock{}, err
	}
	if r.Len() != 0 {
		return block.SizedBlock{}, invalidf("trailing %d bytes after block payload", r.Len())
	}
	return sb, nil
}

// --- fixed-layout statistics header, generic over T/A ---
//
// Layout: count_non_missing, count_valid (u32 each); min, max, fst,
// lst, fst_valid, lst_valid (T each, native width); fst_q, lst_q,
// fst_valid_q, lst_valid_q (u8 each); fst_offset, lst_offset,
// fst_valid_offset, lst_valid_offset (u32 each); qual_acc_or,
// qual_acc_and (u32 each); sum (length-prefixed opaque blob).

func encodeVariant[T block.Number, A any](
	buf *bytes.Buffer, s block.Stats[T, A], values []T, quality []block.Quality,
	encodeSum func(*bytes.Buffer, A), putT func(*bytes.Buffer, T),
) {
	var u32 [4]byte
	putU32 := func(v uint32) { binary.LittleEndian.PutUint32(u32[:], v); buf.Write(u32[:]) }

	putU32(s.CountNonMissing)
	putU32(s.CountValid)
	putT(buf, s.Min)
	putT(buf, s.Max)
	putT(buf, s.Fst)
	putT(buf, s.Lst)
	putT(buf, s.FstValid)
	putT(buf, s.LstValid)
	buf.WriteByte(byte(s.FstQ))
	buf.WriteByte(byte(s.LstQ))
	buf.WriteByte(byte(s.FstValidQ))
	buf.WriteByte(byte(s.LstValidQ))
	putU32(s.FstOffset)
	putU32(s.LstOffset)
	putU32(s.FstValidOffset)
	putU32(s.LstValidOffset)
	putU32(s.QualAccOr)
	putU32(s.QualAccAnd)
	encodeSum(buf, s.Sum)

	for _, v := range values {
		putT(buf, v)
	}
	for _, q := range quality {
		buf.WriteByte(byte(q))
	}
}

func decodeVariant[T block.Number, A any](
	r *bytes.Reader, values []T, quality []block.Quality,
	decodeSum func(*bytes.Reader) (A, error), getT func(*bytes.Reader) (T, error),
) (block.Stats[T, A], error) {
	var s block.Stats[T, A]

	readU32 := func(name string) (uint32, error) {
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, invalidf("truncated %s: %v", name, err)
		}
		return binary.LittleEndian.Uint32(b[:]), nil
	}
	readByte := func(name string) (byte, error) {
		b, err := r.ReadByte()
		if err != nil {
			return 0, invalidf("truncated %s: %v", name, err)
		}
		return b, nil
	}

	var err error
	if s.CountNonMissing, err = readU32("count_non_missing"); err != nil {
		return s, err
	}
	if s.CountValid, err = readU32("count_valid"); err != nil {
		return s, err
	}
	fields := []*T{&s.Min, &s.Max, &s.Fst, &s.Lst, &s.FstValid, &s.LstValid}
	for _, f := range fields {
		if *f, err = getT(r); err != nil {
			return s, invalidf("truncated value field: %v", err)
		}
	}
	qb, err := readByte("fst_q")
	if err != nil {
		return s, err
	}
	s.FstQ = block.Quality(qb)
	if qb, err = readByte("lst_q"); err != nil {
		return s, err
	}
	s.LstQ = block.Quality(qb)
	if qb, err = readByte("fst_valid_q"); err != nil {
		return s, err
	}
	s.FstValidQ = block.Quality(qb)
	if qb, err = readByte("lst_valid_q"); err != nil {
		return s, err
	}
	s.LstValidQ = block.Quality(qb)

	offs := []*uint32{&s.FstOffset, &s.LstOffset, &s.FstValidOffset, &s.LstValidOffset}
	for _, o := range offs {
		if *o, err = readU32("offset"); err != nil {
			return s, err
		}
	}
	if s.QualAccOr, err = readU32("qual_acc_or"); err != nil {
		return s, err
	}
	if s.QualAccAnd, err = readU32("qual_acc_and"); err != nil {
		return s, err
	}
	if s.Sum, err = decodeSum(r); err != nil {
		return s, err
	}

	for i := range values {
		if values[i], err = getT(r); err != nil {
			return s, invalidf("truncated value array at index %d: %v", i, err)
		}
	}
	for i := range quality {
		qb, err := readByte("quality array")
		if err != nil {
			return s, invalidf("truncated quality array at index %d: %v", i, err)
		}
		quality[i] = block.Quality(qb)
	}

	return s, nil
}

// --- sum accumulator encode/decode, length-prefixed opaque blob ---

func encodeFloat64Sum(buf *bytes.Buffer, sum float64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(sum))
	writeBlob(buf, b[:])
}

func decodeFloat64Sum(r *bytes.Reader) (float64, error) {
	b, err := readBlob(r, 8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

func encodeInt64Sum(buf *bytes.Buffer, sum int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(sum))
	writeBlob(buf, b[:])
}

func decodeInt64Sum(r *bytes.Reader) (int64, error) {
	b, err := readBlob(r, 8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

func encodeUint64Sum(buf *bytes.Buffer, sum uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], sum)
	writeBlob(buf, b[:])
}

func decodeUint64Sum(r *bytes.Reader) (uint64, error) {
	b, err := readBlob(r, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// encodeBigIntSum stores the 128-bit-widened sum as its minimal
// two's-complement-free big-endian magnitude plus a sign byte, so the
// blob length varies but is always self-describing via the outer
// length prefix.
func encodeBigIntSum(buf *bytes.Buffer, sum *big.Int) {
	if sum == nil {
		sum = new(big.Int)
	}
	sign := byte(0)
	if sum.Sign() < 0 {
		sign = 1
	}
	mag := sum.Bytes()
	blob := make([]byte, 1+len(mag))
	blob[0] = sign
	copy(blob[1:], mag)
	writeBlob(buf, blob)
}

func decodeBigIntSum(r *bytes.Reader) (*big.Int, error) {
	blob, err := readBlobAny(r)
	if err != nil {
		return nil, err
	}
	if len(blob) == 0 {
		return nil, invalidf("empty sum blob")
	}
	v := new(big.Int).SetBytes(blob[1:])
	if blob[0] == 1 {
		v.Neg(v)
	}
	return v, nil
}

func writeBlob(buf *bytes.Buffer, b []byte) {
	var lb [4]byte
	binary.LittleEndian.PutUint32(lb[:], uint32(len(b)))
	buf.Write(lb[:])
	buf.Write(b)
}

func readBlob(r *bytes.Reader, want int) ([]byte, error) {
	b, err := readBlobAny(r)
	if err != nil {
		return nil, err
	}
	if len(b) != want {
		return nil, invalidf("sum blob length %d, want %d", len(b), want)
	}
	return b, nil
}

func readBlobAny(r *bytes.Reader) ([]byte, error) {
	var lb [4]byte
	if _, err := io.ReadFull(r, lb[:]); err != nil {
		return nil, invalidf("truncated sum blob length: %v", err)
	}
	n := binary.LittleEndian.Uint32(lb[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, invalidf("truncated sum blob: %v", err)
	}
	return b, nil
}

