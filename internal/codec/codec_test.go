package codec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mattg23/vodnik/internal/block"
)

func writeSample[T any](sb *block.SizedBlock, offsets []uint32, quals []block.Quality, vals []T) {
	sb.WriteAtOffsets(offsets, quals, vals)
}

func TestEncodeDecodeRoundTrip_AllStorageTypes(t *testing.T) {
	cases := []struct {
		name string
		tag  block.StorageType
	}{
		{"f32", block.Float32},
		{"f64", block.Float64},
		{"i32", block.Int32},
		{"i64", block.Int64},
		{"u32", block.UInt32},
		{"u64", block.UInt64},
		{"enum8", block.Enum8},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sb := block.NewSizedBlock(tc.tag, 8)
			offsets := []uint32{0, 3, 7}
			goodQuals := []block.Quality{0b11_0000_00, 0b11_0000_00, 0b01_0000_00}

			switch tc.tag {
			case block.Float32:
				writeSample(&sb, offsets, goodQuals, []float32{1.5, 2.5, 3.5})
			case block.Float64:
				writeSample(&sb, offsets, goodQuals, []float64{1.5, 2.5, 3.5})
			case block.Int32:
				writeSample(&sb, offsets, goodQuals, []int32{-1, 2, -3})
			case block.Int64:
				writeSample(&sb, offsets, goodQuals, []int64{-1, 2, -3})
			case block.UInt32:
				writeSample(&sb, offsets, goodQuals, []uint32{1, 2, 3})
			case block.UInt64:
				writeSample(&sb, offsets, goodQuals, []uint64{1, 2, 3})
			case block.Enum8:
				writeSample(&sb, offsets, goodQuals, []uint8{1, 2, 3})
			}

			encoded, err := Encode(&sb)
			require.NoError(t, err)

			decoded, err := Decode(encoded)
			require.NoError(t, err)
			require.Equal(t, sb.Tag, decoded.Tag)
			require.Equal(t, sb.Capacity(), decoded.Capacity())

			// statistics are bit-identical except object_key (§4.3 invariant).
			switch tc.tag {
			case block.Float32:
				require.Equal(t, sb.F32.Stats, decoded.F32.Stats)
				require.Equal(t, sb.F32.Values, decoded.F32.Values)
			case block.Int64:
				require.Equal(t, sb.I64.Stats.Sum.String(), decoded.I64.Stats.Sum.String())
			}
		})
	}
}

func TestDecode_RejectsBadMagic(t *testing.T) {
	_, err := Decode([]byte{0, 0, 1, 0, 0, 0, 0, 0})
	require.ErrorIs(t, err, ErrInvalidData)
}

func TestDecode_RejectsTruncatedHeader(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrInvalidData)
}

func TestDecode_RejectsTruncatedBody(t *testing.T) {
	sb := block.NewSizedBlock(block.Float32, 4)
	encoded, err := Encode(&sb)
	require.NoError(t, err)

	_, err = Decode(encoded[:len(encoded)-1])
	require.ErrorIs(t, err, ErrInvalidData)
}
