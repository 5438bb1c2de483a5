package walog

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/mattg23/vodnik/internal/block"
)

// RecordTag distinguishes the two WAL record variants (§3, §4.2).
type RecordTag uint8

const (
	TagWrite RecordTag = 1
	TagFlush RecordTag = 2
)

func (t RecordTag) String() string {
	switch t {
	case TagWrite:
		return "WRITE"
	case TagFlush:
		return "FLUSH"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// recordHeaderBytes is [tag:u8][tx_id:u64][series_id:u64][block_number:u64].
const recordHeaderBytes = 1 + 8 + 8 + 8

// Header is the cheap partial decode used by recovery to classify a
// frame's payload without materializing a WRITE record's value/quality
// arrays (§4.2 peek_header).
type Header struct {
	Tag         RecordTag
	TxID        uint64
	SeriesID    uint64
	BlockNumber uint64
}

// PeekHeader decodes just the common prefix of a record payload.
func PeekHeader(payload []byte) (Header, error) {
	if len(payload) < recordHeaderBytes {
		return Header{}, fmt.Errorf("walog: truncated record header: got %d bytes, want %d", len(payload), recordHeaderBytes)
	}
	return Header{
		Tag:         RecordTag(payload[0]),
		TxID:        binary.LittleEndian.Uint64(payload[1:9]),
		SeriesID:    binary.LittleEndian.Uint64(payload[9:17]),
		BlockNumber: binary.LittleEndian.Uint64(payload[17:25]),
	}, nil
}

// WriteRecord is the WAL representation of one ingest partition.
// StorageType governs how Values is interpreted; it is not itself
// part of the wire payload — the reader must already know the
// series' storage type (from the catalog) before calling DecodeWrite.
type WriteRecord struct {
	TxID        uint64
	SeriesID    uint64
	BlockNumber uint64
	Timestamps  []uint64
	Quality     []block.Quality
	Values      any // a []float32 / []float64 / []int32 / ... matching StorageType
	StorageType block.StorageType
}

// FlushRecord marks tx_id's (series, block) as durably persisted;
// recovery drops the matching WriteRecord when it sees this.
type FlushRecord struct {
	TxID        uint64
	SeriesID    uint64
	BlockNumber uint64
}

// EncodeWrite serializes a WRITE record payload (§4.2).
func EncodeWrite(r WriteRecord) ([]byte, error) {
	n := len(r.Timestamps)
	if len(r.Quality) != n {
		return nil, fmt.Errorf("walog: timestamp/quality length mismatch (%d vs %d)", n, len(r.Quality))
	}

	sampleBytes := r.StorageType.SampleBytes()
	out := make([]byte, recordHeaderBytes+4+n*8+n*sampleBytes+n)
	out[0] = byte(TagWrite)
	binary.LittleEndian.PutUint64(out[1:9], r.TxID)
	binary.LittleEndian.PutUint64(out[9:17], r.SeriesID)
	binary.LittleEndian.PutUint64(out[17:25], r.BlockNumber)
	binary.LittleEndian.PutUint32(out[25:29], uint32(n))

	off := recordHeaderBytes + 4
	for _, ts := range r.Timestamps {
		binary.LittleEndian.PutUint64(out[off:off+8], ts)
		off += 8
	}

	if err := putValues(out[off:off+n*sampleBytes], r.StorageType, r.Values, n); err != nil {
		return nil, err
	}
	off += n * sampleBytes

	for _, q := range r.Quality {
		out[off] = byte(q)
		off++
	}

	return out, nil
}

// DecodeWrite parses a WRITE payload. storageType must be the series'
// actual storage type (looked up from the catalog); WAL frames never
// encode it themselves.
func DecodeWrite(payload []byte, storageType block.StorageType) (WriteRecord, error) {
	hdr, err := PeekHeader(payload)
	if err != nil {
		return WriteRecord{}, err
	}
	if hdr.Tag != TagWrite {
		return WriteRecord{}, fmt.Errorf("walog: expected WRITE record, got %s", hdr.Tag)
	}
	if len(payload) < recordHeaderBytes+4 {
		return WriteRecord{}, fmt.Errorf("walog: truncated WRITE count field")
	}
	n := int(binary.LittleEndian.Uint32(payload[recordHeaderBytes : recordHeaderBytes+4]))

	off := recordHeaderBytes + 4
	tsEnd := off + n*8
	if tsEnd > len(payload) {
		return WriteRecord{}, fmt.Errorf("walog: truncated WRITE timestamp array")
	}
	ts := make([]uint64, n)
	for i := 0; i < n; i++ {
		ts[i] = binary.LittleEndian.Uint64(payload[off+i*8 : off+i*8+8])
	}
	off = tsEnd

	sampleBytes := storageType.SampleBytes()
	valsEnd := off + n*sampleBytes
	if valsEnd > len(payload) {
		return WriteRecord{}, fmt.Errorf("walog: truncated WRITE value array")
	}
	vals, err := getValues(payload[off:valsEnd], storageType, n)
	if err != nil {
		return WriteRecord{}, err
	}
	off = valsEnd

	qEnd := off + n
	if qEnd > len(payload) {
		return WriteRecord{}, fmt.Errorf("walog: truncated WRITE quality array")
	}
	quals := make([]block.Quality, n)
	for i := 0; i < n; i++ {
		quals[i] = block.Quality(payload[off+i])
	}

	return WriteRecord{
		TxID:        hdr.TxID,
		SeriesID:    hdr.SeriesID,
		BlockNumber: hdr.BlockNumber,
		Timestamps:  ts,
		Quality:     quals,
		Values:      vals,
		StorageType: storageType,
	}, nil
}

// EncodeFlush serializes a FLUSH record payload.
func EncodeFlush(r FlushRecord) []byte {
	out := make([]byte, recordHeaderBytes)
	out[0] = byte(TagFlush)
	binary.LittleEndian.PutUint64(out[1:9], r.TxID)
	binary.LittleEndian.PutUint64(out[9:17], r.SeriesID)
	binary.LittleEndian.PutUint64(out[17:25], r.BlockNumber)
	return out
}

// DecodeFlush parses a FLUSH payload.
func DecodeFlush(payload []byte) (FlushRecord, error) {
	hdr, err := PeekHeader(payload)
	if err != nil {
		return FlushRecord{}, err
	}
	if hdr.Tag != TagFlush {
		return FlushRecord{}, fmt.Errorf("walog: expected FLUSH record, got %s", hdr.Tag)
	}
	return FlushRecord{TxID: hdr.TxID, SeriesID: hdr.SeriesID, BlockNumber: hdr.BlockNumber}, nil
}

func putValues(dst []byte, t block.StorageType, vals any, n int) error {
	switch t {
	case block.Float32:
		vs, ok := vals.([]float32)
		if !ok || len(vs) != n {
			return fmt.Errorf("walog: values type/length mismatch for f32")
		}
		for i, v := range vs {
			binary.LittleEndian.PutUint32(dst[i*4:i*4+4], math.Float32bits(v))
		}
	case block.Float64:
		vs, ok := vals.([]float64)
		if !ok || len(vs) != n {
			return fmt.Errorf("walog: values type/length mismatch for f64")
		}
		for i, v := range vs {
			binary.LittleEndian.PutUint64(dst[i*8:i*8+8], math.Float64bits(v))
		}
	case block.Int32:
		vs, ok := vals.([]int32)
		if !ok || len(vs) != n {
			return fmt.Errorf("walog: values type/length mismatch for i32")
		}
		for i, v := range vs {
			binary.LittleEndian.PutUint32(dst[i*4:i*4+4], uint32(v))
		}
	case block.Int64:
		vs, ok := vals.([]int64)
		if !ok || len(vs) != n {
			return fmt.Errorf("walog: values type/length mismatch for i64")
		}
		for i, v := range vs {
			binary.LittleEndian.PutUint64(dst[i*8:i*8+8], uint64(v))
		}
	case block.UInt32:
		vs, ok := vals.([]uint32)
		if !ok || len(vs) != n {
			return fmt.Errorf("walog: values type/length mismatch for u32")
		}
		for i, v := range vs {
			binary.LittleEndian.PutUint32(dst[i*4:i*4+4], v)
		}
	case block.UInt64:
		vs, ok := vals.([]uint64)
		if !ok || len(vs) != n {
			return fmt.Errorf("walog: values type/length mismatch for u64")
		}
		for i, v := range vs {
			binary.LittleEndian.PutUint64(dst[i*8:i*8+8], v)
		}
	case block.Enum8:
		vs, ok := vals.([]uint8)
		if !ok || len(vs) != n {
			return fmt.Errorf("walog: values type/length mismatch for enum8")
		}
		copy(dst, vs)
	default:
		return fmt.Errorf("walog: unknown storage type tag %d", t)
	}
	return nil
}

func getValues(src []byte, t block.StorageType, n int) (any, error) {
	switch t {
	case block.Float32:
		vs := make([]float32, n)
		for i := range vs {
			vs[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4 : i*4+4]))
		}
		return vs, nil
	case block.Float64:
		vs := make([]float64, n)
		for i := range vs {
			vs[i] = math.Float64frombits(binary.LittleEndian.Uint64(src[i*8 : i*8+8]))
		}
		return vs, nil
	case block.Int32:
		vs := make([]int32, n)
		for i := range vs {
			vs[i] = int32(binary.LittleEndian.Uint32(src[i*4 : i*4+4]))
		}
		return vs, nil
	case block.Int64:
		vs := make([]int64, n)
		for i := range vs {
			vs[i] = int64(binary.LittleEndian.Uint64(src[i*8 : i*8+8]))
		}
		return vs, nil
	case block.UInt32:
		vs := make([]uint32, n)
		for i := range vs {
			vs[i] = binary.LittleEndian.Uint32(src[i*4 : i*4+4])
		}
		return vs, nil
	case block.UInt64:
		vs := make([]uint64, n)
		for i := range vs {
			vs[i] = binary.LittleEndian.Uint64(src[i*8 : i*8+8])
		}
		return vs, nil
	case block.Enum8:
		vs := make([]uint8, n)
		copy(vs, src)
		return vs, nil
	default:
		return nil, fmt.Errorf("walog: unknown storage type tag %d", t)
	}
}
