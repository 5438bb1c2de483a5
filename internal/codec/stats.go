package codec

import (
	"bytes"

	"github.com/mattg23/vodnik/internal/block"
)

// EncodeStats serializes just b's statistics record (no value or
// quality arrays) — the form the block meta catalog stores alongside
// its native numeric columns (§4.5).
func EncodeStats(b *block.SizedBlock) ([]byte, error) {
	var buf bytes.Buffer
	switch b.Tag {
	case block.Float32:
		encodeStatsOnly(&buf, b.F32.Stats, encodeFloat64Sum, putFloat32)
	case block.Float64:
		encodeStatsOnly(&buf, b.F64.Stats, encodeFloat64Sum, putFloat64)
	case block.Int32:
		encodeStatsOnly(&buf, b.I32.Stats, encodeInt64Sum, putInt32)
	case block.Int64:
		encodeStatsOnly(&buf, b.I64.Stats, encodeBigIntSum, putInt64)
	case block.UInt32:
		encodeStatsOnly(&buf, b.U32.Stats, encodeUint64Sum, putUint32)
	case block.UInt64:
		encodeStatsOnly(&buf, b.U64.Stats, encodeBigIntSum, putUint64)
	case block.Enum8:
		encodeStatsOnly(&buf, b.U8.Stats, encodeUint64Sum, putUint8)
	default:
		return nil, invalidf("unknown storage type tag %d", b.Tag)
	}
	return buf.Bytes(), nil
}

// DecodeStatsInto decodes a stats-only blob produced by EncodeStats
// into a fresh zero-capacity SizedBlock of the given tag (Values and
// Quality are left empty; only Stats is populated).
func DecodeStatsInto(tag block.StorageType, data []byte) (block.SizedBlock, error) {
	if tag > block.Enum8 {
		return block.SizedBlock{}, invalidf("unknown storage type tag %d", tag)
	}
	sb := block.NewSizedBlock(tag, 0)
	r := bytes.NewReader(data)

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
	return sb, nil
}

func encodeStatsOnly[T block.Number, A any](
	buf *bytes.Buffer, s block.Stats[T, A],
	encodeSum func(*bytes.Buffer, A), putT func(*bytes.Buffer, T),
) {
	encodeVariant(buf, s, nil, nil, encodeSum, putT)
}
