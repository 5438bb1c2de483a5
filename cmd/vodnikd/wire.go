package main

import (
	"github.com/mattg23/vodnik/internal/block"
	"github.com/mattg23/vodnik/internal/ingest"
)

// wireBatch is the JSON shape accepted on the /ingest HTTP surface.
// Values are always decoded as float64: the full typed ingest surface
// (distinct encodings per storage type) is reached via the Ingest Go
// API directly, not over this minimal HTTP shim.
type wireBatch struct {
	SeriesID   uint64    `json:"series_id"`
	Timestamps []uint64  `json:"timestamps"`
	Quality    []uint8   `json:"quality"`
	Values     []float64 `json:"values"`
}

func (w wireBatch) toIngestBatch() ingest.Batch {
	quals := make([]block.Quality, len(w.Quality))
	for i, q := range w.Quality {
		quals[i] = block.Quality(q)
	}
	return ingest.Batch{
		SeriesID:   block.SeriesID(w.SeriesID),
		Timestamps: w.Timestamps,
		Quality:    quals,
		Values:     w.Values,
	}
}
