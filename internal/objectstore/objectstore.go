// Package objectstore writes and reads immutable block objects under
// a deterministic key schema (§4.6). Grounded on the original vodnik
// project's persistence.rs (flush_block/read_block_from_storage
// against an opendal::Operator) and, for the directory-backed Go
// shape, on Scarage1-FlashDB/internal/snapshot/snapshot.go's
// directory-rooted Manager.
package objectstore

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/edsrzf/mmap-go"
	"github.com/oklog/ulid"

	"github.com/mattg23/vodnik/internal/block"
	"github.com/mattg23/vodnik/internal/codec"
)

// Store is a filesystem-backed object store rooted at dir. Objects
// are content-immutable once written; a new write always produces a
// new key (§4.6) and never mutates an existing file.
type Store struct {
	root string
}

// Open ensures root exists and returns a Store rooted there.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("objectstore: failed to create root %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

// NewKey builds the deterministic key schema
// data/{series_id mod 100}/{series_id}/{block_number}_{ulid}.blk.
func NewKey(seriesID block.SeriesID, blockNum block.BlockNumber) string {
	token := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader)
	return fmt.Sprintf("data/%02d/%d/%d_%s.blk", uint64(seriesID)%100, uint64(seriesID), uint64(blockNum), token.String())
}

// Write persists encoded under a freshly minted key and returns it.
func (s *Store) Write(seriesID block.SeriesID, blockNum block.BlockNumber, encoded []byte) (string, error) {
	key := NewKey(seriesID, blockNum)
	path := filepath.Join(s.root, key)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("objectstore: failed to create directory for %s: %w", key, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o644); err != nil {
		return "", fmt.Errorf("objectstore: failed to write %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("objectstore: failed to finalize %s: %w", key, err)
	}
	return key, nil
}

// Read fetches the bytes stored under key via a read-only memory
// mapping — objects are immutable once written, which is exactly the
// case mmap reads are safe and cheap for.
func (s *Store) Read(key string) ([]byte, error) {
	path := filepath.Join(s.root, key)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("objectstore: %s: %w", key, os.ErrNotExist)
		}
		return nil, fmt.Errorf("objectstore: failed to open %s: %w", key, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("objectstore: failed to stat %s: %w", key, err)
	}
	if info.Size() == 0 {
		return nil, nil
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("objectstore: failed to mmap %s: %w", key, err)
	}
	defer m.Unmap()

	out := make([]byte, len(m))
	copy(out, m)
	return out, nil
}

// WriteBlock encodes blk and writes it under a fresh key, returning
// the key (§4.6 writer).
func (s *Store) WriteBlock(seriesID block.SeriesID, blockNum block.BlockNumber, blk *block.SizedBlock) (string, error) {
	encoded, err := codec.Encode(blk)
	if err != nil {
		return "", fmt.Errorf("objectstore: failed to encode block: %w", err)
	}
	return s.Write(seriesID, blockNum, encoded)
}

// ReadBlock fetches and decodes the block stored under key, then
// stamps object_key onto the returned statistics (§4.6 reader).
func (s *Store) ReadBlock(key string) (block.SizedBlock, error) {
	data, err := s.Read(key)
	if err != nil {
		return block.SizedBlock{}, err
	}
	blk, err := codec.Decode(data)
	if err != nil {
		return block.SizedBlock{}, fmt.Errorf("objectstore: failed to decode %s: %w", key, err)
	}
	blk.SetObjectKey(key)
	return blk, nil
}

// Delete removes the object at key. Used only by operator-driven
// cleanup of superseded keys — the core itself never garbage-collects
// (§4.6).
func (s *Store) Delete(key string) error {
	path := filepath.Join(s.root, key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("objectstore: failed to delete %s: %w", key, err)
	}
	return nil
}
