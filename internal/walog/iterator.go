package walog

import (
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

// FrameIterator streams frames from a single WAL file in order
// (§4.2 frame_iterator). It is used both by recovery (full scan) and
// by anything else that wants to inspect a closed file's contents.
type FrameIterator struct {
	f       *os.File
	stopped bool
}

// OpenFrameIterator opens path for a forward scan.
func OpenFrameIterator(path string) (*FrameIterator, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("walog: failed to open %s for scan: %w", path, err)
	}
	return &FrameIterator{f: f}, nil
}

// Next returns the next frame's payload. It returns io.EOF at a clean
// end of file. On a truncated tail it returns ErrUnexpectedEOF exactly
// once and then io.EOF on every subsequent call. A checksum mismatch
// is returned as ErrChecksumMismatch together with that frame's
// payload; the frame has been consumed, so the next call continues
// with the following frame.
func (it *FrameIterator) Next() ([]byte, error) {
	if it.stopped {
		return nil, io.EOF
	}

	var hdr [frameHeaderBytes]byte
	n, err := io.ReadFull(it.f, hdr[:])
	if err != nil {
		if err == io.EOF {
			it.stopped = true
			return nil, io.EOF
		}
		// Short read on the header itself is also a truncated tail.
		_ = n
		it.stopped = true
		return nil, ErrUnexpectedEOF
	}

	length := getU32(hdr[0:4])
	storedCRC := getU32(hdr[4:8])
	if length == 0 || length > maxFrameLen {
		it.stopped = true
		return nil, ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(it.f, payload); err != nil {
		it.stopped = true
		return nil, ErrUnexpectedEOF
	}

	if crc32.Checksum(payload, castagnoliTable) != storedCRC {
		return payload, ErrChecksumMismatch
	}
	return payload, nil
}

// Close releases the underlying file handle.
func (it *FrameIterator) Close() error {
	return it.f.Close()
}

// ReadAllFrames drains path into an in-memory slice of payloads,
// stopping (without error) at the first checksum mismatch or
// truncated tail — mirroring the teacher's ReadAll truncate-on-
// partial-tail behavior, but without mutating the file (recovery
// deletes processed files wholesale instead of truncating them).
func ReadAllFrames(path string) ([][]byte, error) {
	it, err := OpenFrameIterator(path)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var frames [][]byte
	for {
		payload, err := it.Next()
		if err == io.EOF {
			break
		}
		if err == ErrChecksumMismatch || err == ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return frames, err
		}
		frames = append(frames, payload)
	}
	return frames, nil
}
