// Package seriesmeta is a minimal stand-in for the series metadata
// CRUD catalog, which spec.md §1 explicitly treats as an out-of-scope
// collaborator: "an opaque key/record store keyed by series id". This
// package gives cmd/vodnikd something concrete to wire the ingest
// coordinator against; it is not the catalog itself.
package seriesmeta

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/mattg23/vodnik/internal/block"
)

// Store is a static, JSON-file-backed series descriptor registry.
// Loaded once at startup; there is no CRUD surface here by design.
type Store struct {
	mu    sync.RWMutex
	descs map[block.SeriesID]*block.Descriptor
}

// descriptorFile is the on-disk JSON shape; block/sample resolutions
// are given as millisecond counts to keep the file self-contained.
type descriptorFile struct {
	ID                 uint64        `json:"id"`
	Name               string        `json:"name"`
	StorageType        string        `json:"storage_type"`
	SampleLength       uint64        `json:"sample_length"`
	SampleResolutionMs uint64        `json:"sample_resolution_ms"`
	BlockLength        uint64        `json:"block_length"`
	BlockResolutionMs  uint64        `json:"block_resolution_ms"`
	Labels             []block.Label `json:"labels"`
}

// LoadFile reads a JSON array of descriptorFile entries from path.
func LoadFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Store{descs: map[block.SeriesID]*block.Descriptor{}}, nil
		}
		return nil, fmt.Errorf("seriesmeta: failed to read %s: %w", path, err)
	}

	var entries []descriptorFile
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("seriesmeta: failed to parse %s: %w", path, err)
	}

	descs := make(map[block.SeriesID]*block.Descriptor, len(entries))
	for _, e := range entries {
		st, err := parseStorageType(e.StorageType)
		if err != nil {
			return nil, fmt.Errorf("seriesmeta: series %d: %w", e.ID, err)
		}
		d := &block.Descriptor{
			ID:               block.SeriesID(e.ID),
			Name:             e.Name,
			StorageType:      st,
			SampleLength:     e.SampleLength,
			SampleResolution: block.TimeResolution(e.SampleResolutionMs),
			BlockLength:      e.BlockLength,
			BlockResolution:  block.TimeResolution(e.BlockResolutionMs),
			Labels:           e.Labels,
		}
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("seriesmeta: series %d: %w", e.ID, err)
		}
		descs[d.ID] = d
	}
	return &Store{descs: descs}, nil
}

// Descriptor implements ingest.Descriptors.
func (s *Store) Descriptor(_ context.Context, id block.SeriesID) (*block.Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.descs[id]
	if !ok {
		return nil, fmt.Errorf("seriesmeta: unknown series %d", id)
	}
	return d, nil
}

// Put registers or replaces a descriptor at runtime — used by tests
// and by any future admin surface; not exposed over the network here.
func (s *Store) Put(d *block.Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.descs[d.ID] = d
}

func parseStorageType(s string) (block.StorageType, error) {
	switch s {
	case "f32":
		return block.Float32, nil
	case "f64":
		return block.Float64, nil
	case "i32":
		return block.Int32, nil
	case "i64":
		return block.Int64, nil
	case "u32":
		return block.UInt32, nil
	case "u64":
		return block.UInt64, nil
	case "enum8":
		return block.Enum8, nil
	default:
		return 0, fmt.Errorf("unknown storage type %q", s)
	}
}
