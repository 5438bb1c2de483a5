package block

import "fmt"

// SeriesID identifies a series. The zero value is invalid; series ids
// are assigned by the (out of scope) series metadata catalog.
type SeriesID uint64

func (id SeriesID) String() string { return fmt.Sprintf("%d", uint64(id)) }

// BlockNumber identifies a fixed-duration block within a series:
// floor(timestamp_ms / block_duration_ms).
type BlockNumber uint64

// TimeResolution is the unit a sample or block length is expressed in.
type TimeResolution uint64

// Resolutions, in milliseconds.
const (
	Millisecond TimeResolution = 1
	Second      TimeResolution = 1000
	Minute      TimeResolution = 1000 * 60
	Hour        TimeResolution = 1000 * 60 * 60
)

// StorageType is the closed set of numeric types a series can store.
type StorageType uint8

const (
	Float32 StorageType = iota
	Float64
	Int32
	Int64
	UInt32
	UInt64
	Enum8
)

func (t StorageType) String() string {
	switch t {
	case Float32:
		return "f32"
	case Float64:
		return "f64"
	case Int32:
		return "i32"
	case Int64:
		return "i64"
	case UInt32:
		return "u32"
	case UInt64:
		return "u64"
	case Enum8:
		return "enum8"
	default:
		return "unknown"
	}
}

// SampleBytes returns the on-disk width of one value of this type.
func (t StorageType) SampleBytes() int {
	switch t {
	case Float32, Int32, UInt32:
		return 4
	case Float64, Int64, UInt64:
		return 8
	case Enum8:
		return 1
	default:
		panic(fmt.Sprintf("block: unknown storage type tag %d", t))
	}
}

// Label is a free-form series tag.
type Label struct {
	Name  string
	Value string
}

// Descriptor is the read-only series metadata the core needs to place
// samples into blocks. It is produced by the (out of scope) series
// metadata catalog.
type Descriptor struct {
	ID               SeriesID
	Name             string
	StorageType      StorageType
	SampleLength     uint64
	SampleResolution TimeResolution
	BlockLength      uint64
	BlockResolution  TimeResolution
	Labels           []Label
}

// SampleDurationMs returns sample_length * sample_resolution_ms.
func (d *Descriptor) SampleDurationMs() uint64 {
	return d.SampleLength * uint64(d.SampleResolution)
}

// BlockDurationMs returns block_length * block_resolution_ms.
func (d *Descriptor) BlockDurationMs() uint64 {
	return d.BlockLength * uint64(d.BlockResolution)
}

// Capacity returns the number of sample slots per block.
func (d *Descriptor) Capacity() uint64 {
	return d.BlockDurationMs() / d.SampleDurationMs()
}

// Validate checks the invariants from spec.md §3: both durations
// positive, block_duration > sample_duration, and an integral ratio.
func (d *Descriptor) Validate() error {
	sd, bd := d.SampleDurationMs(), d.BlockDurationMs()
	if sd == 0 || bd == 0 {
		return fmt.Errorf("block: sample and block duration must be positive (sample=%d, block=%d)", sd, bd)
	}
	if bd <= sd {
		return fmt.Errorf("block: block_duration (%dms) must exceed sample_duration (%dms)", bd, sd)
	}
	if bd%sd != 0 {
		return fmt.Errorf("block: block_duration (%dms) must be an integral multiple of sample_duration (%dms)", bd, sd)
	}
	return nil
}

// BlockNumberFor returns floor(timestampMs / block_duration_ms).
func (d *Descriptor) BlockNumberFor(timestampMs uint64) BlockNumber {
	return BlockNumber(timestampMs / d.BlockDurationMs())
}

// BlockStartMs returns the start timestamp of the given block.
func (d *Descriptor) BlockStartMs(b BlockNumber) uint64 {
	return uint64(b) * d.BlockDurationMs()
}

// SampleOffset returns the index within a block for a timestamp that
// falls inside it: floor((timestampMs - block_start_ms) / sample_duration_ms).
func (d *Descriptor) SampleOffset(timestampMs uint64, b BlockNumber) uint32 {
	delta := timestampMs - d.BlockStartMs(b)
	return uint32(delta / d.SampleDurationMs())
}

// durationBucket is one candidate (length, resolution) pair in the
// ladder DeriveBlockSize searches, ordered by increasing duration.
type durationBucket struct {
	length     uint64
	resolution TimeResolution
}

func (b durationBucket) ms() uint64 { return b.length * uint64(b.resolution) }

// durationBuckets is a fixed ladder of "nice" block durations,
// supplemented from the original Rust project's TimeDuration::BUCKETS
// table (vodnik-core/src/helpers.rs).
var durationBuckets = []durationBucket{
	{1, Second}, {5, Second}, {15, Second}, {30, Second},
	{1, Minute}, {5, Minute}, {15, Minute}, {30, Minute},
	{1, Hour}, {2, Hour}, {6, Hour}, {12, Hour}, {24, Hour},
	{36, Hour}, {48, Hour}, {72, Hour}, {144, Hour}, {288, Hour},
	{576, Hour}, {1152, Hour},
}

// minBlockLength is the minimum number of samples per block the
// derivation targets before rounding to a bucket.
const minBlockLength = 1024

// DeriveBlockSize picks a (block_length, block_resolution) pair for a
// series given its sample resolution and length, by targeting
// minBlockLength samples per block and then snapping up to the
// nearest bucket in durationBuckets. Supplemented from
// vodnik-core/src/helpers.rs's derive_block_size.
func DeriveBlockSize(sampleRes TimeResolution, sampleLen uint64) (blockLength uint64, blockResolution TimeResolution) {
	msPerSample := sampleLen * uint64(sampleRes)
	target := msPerSample * minBlockLength

	for _, b := range durationBuckets {
		if target <= b.ms() {
			return b.length, b.resolution
		}
	}
	last := durationBuckets[len(durationBuckets)-1]
	return target / uint64(last.resolution), last.resolution
}
