// Package catalog implements the block meta catalog (§4.5): a durable
// index from (series_id, block_number) to an object key plus a
// serialized copy of block statistics. Grounded on the original
// vodnik project's meta/block.rs (BlockMetaStore, upsert/get/
// get_object_key/list_in_range) and its sea_orm-over-sqlite:// DSN
// (vodnik-server/src/main.rs); realized here over database/sql with
// github.com/mattn/go-sqlite3, the direct Go analogue of that choice.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mattg23/vodnik/internal/block"
	"github.com/mattg23/vodnik/internal/codec"
)

// ErrNotFound is returned by Get/GetObjectKey when no row matches.
var ErrNotFound = errors.New("catalog: not found")

// Store is a sqlite-backed block meta catalog. One Store per process.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at dsn and
// ensures the schema exists. dsn is passed through to go-sqlite3
// verbatim, e.g. "file:/var/lib/vodnik/catalog.db?mode=rwc&_journal=WAL".
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to open %s: %w", dsn, err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver is not safe for concurrent writers

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS block_meta (
	series_id          INTEGER NOT NULL,
	block_number       INTEGER NOT NULL,
	storage_type       INTEGER NOT NULL,
	object_key         TEXT    NOT NULL,
	count_non_missing  INTEGER NOT NULL,
	count_valid        INTEGER NOT NULL,
	qual_acc_or        INTEGER NOT NULL,
	qual_acc_and       INTEGER NOT NULL,
	stats_blob         BLOB    NOT NULL,
	created_at_ms      INTEGER NOT NULL,
	PRIMARY KEY (series_id, block_number)
);
CREATE INDEX IF NOT EXISTS idx_block_meta_series_range
	ON block_meta (series_id, block_number);
`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("catalog: migration failed: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Entry is one (series, block) row as returned by Get/ListInRange.
type Entry struct {
	SeriesID    block.SeriesID
	BlockNumber block.BlockNumber
	ObjectKey   string
	Block       block.SizedBlock // Stats populated; Values/Quality empty
	CreatedAtMs int64
}

// Upsert writes the full statistics record plus object_key and
// createdAtMs, replacing any existing row for (series, block).
func (s *Store) Upsert(ctx context.Context, seriesID block.SeriesID, blockNum block.BlockNumber, objectKey string, blk *block.SizedBlock, createdAtMs int64) error {
	statsBlob, err := codec.EncodeStats(blk)
	if err != nil {
		return fmt.Errorf("catalog: failed to encode stats: %w", err)
	}

	const stmt = `
INSERT INTO block_meta (series_id, block_number, storage_type, object_key, count_non_missing, count_valid, qual_acc_or, qual_acc_and, stats_blob, created_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (series_id, block_number) DO UPDATE SET
	storage_type      = excluded.storage_type,
	object_key        = excluded.object_key,
	count_non_missing = excluded.count_non_missing,
	count_valid       = excluded.count_valid,
	qual_acc_or       = excluded.qual_acc_or,
	qual_acc_and      = excluded.qual_acc_and,
	stats_blob        = excluded.stats_blob,
	created_at_ms     = excluded.created_at_ms;
`
	countNonMissing, countValid, qualOr, qualAnd := statCounters(blk)
	_, err = s.db.ExecContext(ctx, stmt,
		uint64(seriesID), uint64(blockNum), uint8(blk.Tag), objectKey,
		countNonMissing, countValid, qualOr, qualAnd, statsBlob, createdAtMs,
	)
	if err != nil {
		return fmt.Errorf("catalog: upsert failed: %w", err)
	}
	return nil
}

// Get returns the full entry for (series, block), or ErrNotFound.
func (s *Store) Get(ctx context.Context, seriesID block.SeriesID, blockNum block.BlockNumber) (Entry, error) {
	const q = `
SELECT storage_type, object_key, stats_blob, created_at_ms
FROM block_meta WHERE series_id = ? AND block_number = ?;
`
	row := s.db.QueryRowContext(ctx, q, uint64(seriesID), uint64(blockNum))

	var storageType uint8
	var objectKey string
	var statsBlob []byte
	var createdAtMs int64
	if err := row.Scan(&storageType, &objectKey, &statsBlob, &createdAtMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("catalog: get failed: %w", err)
	}

	blk, err := codec.DecodeStatsInto(block.StorageType(storageType), statsBlob)
	if err != nil {
		return Entry{}, fmt.Errorf("catalog: corrupt stats blob for series=%d block=%d: %w", seriesID, blockNum, err)
	}
	blk.SetObjectKey(objectKey)

	return Entry{
		SeriesID:    seriesID,
		BlockNumber: blockNum,
		ObjectKey:   objectKey,
		Block:       blk,
		CreatedAtMs: createdAtMs,
	}, nil
}

// GetObjectKey returns just the object key for (series, block), or
// ErrNotFound — the cheap path used before an object read (§4.5).
func (s *Store) GetObjectKey(ctx context.Context, seriesID block.SeriesID, blockNum block.BlockNumber) (string, error) {
	const q = `SELECT object_key FROM block_meta WHERE series_id = ? AND block_number = ?;`
	var key string
	err := s.db.QueryRowContext(ctx, q, uint64(seriesID), uint64(blockNum)).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("catalog: get_object_key failed: %w", err)
	}
	return key, nil
}

// ListInRange returns every entry for seriesID with block_number in
// [from, to], ascending.
func (s *Store) ListInRange(ctx context.Context, seriesID block.SeriesID, from, to block.BlockNumber) ([]Entry, error) {
	const q = `
SELECT block_number, storage_type, object_key, stats_blob, created_at_ms
FROM block_meta
WHERE series_id = ? AND block_number BETWEEN ? AND ?
ORDER BY block_number ASC;
`
	rows, err := s.db.QueryContext(ctx, q, uint64(seriesID), uint64(from), uint64(to))
	if err != nil {
		return nil, fmt.Errorf("catalog: list_in_range failed: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var blockNum uint64
		var storageType uint8
		var objectKey string
		var statsBlob []byte
		var createdAtMs int64
		if err := rows.Scan(&blockNum, &storageType, &objectKey, &statsBlob, &createdAtMs); err != nil {
			return nil, fmt.Errorf("catalog: list_in_range scan failed: %w", err)
		}
		blk, err := codec.DecodeStatsInto(block.StorageType(storageType), statsBlob)
		if err != nil {
			return nil, fmt.Errorf("catalog: corrupt stats blob for series=%d block=%d: %w", seriesID, blockNum, err)
		}
		blk.SetObjectKey(objectKey)
		out = append(out, Entry{
			SeriesID:    seriesID,
			BlockNumber: block.BlockNumber(blockNum),
			ObjectKey:   objectKey,
			Block:       blk,
			CreatedAtMs: createdAtMs,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: list_in_range iteration failed: %w", err)
	}
	return out, nil
}

func statCounters(blk *block.SizedBlock) (countNonMissing, countValid uint32, qualOr, qualAnd uint32) {
	switch blk.Tag {
	case block.Float32:
		s := blk.F32.Stats
		return s.CountNonMissing, s.CountValid, s.QualAccOr, s.QualAccAnd
	case block.Float64:
		s := blk.F64.Stats
		return s.CountNonMissing, s.CountValid, s.QualAccOr, s.QualAccAnd
	case block.Int32:
		s := blk.I32.Stats
		return s.CountNonMissing, s.CountValid, s.QualAccOr, s.QualAccAnd
	case block.Int64:
		s := blk.I64.Stats
		return s.CountNonMissing, s.CountValid, s.QualAccOr, s.QualAccAnd
	case block.UInt32:
		s := blk.U32.Stats
		return s.CountNonMissing, s.CountValid, s.QualAccOr, s.QualAccAnd
	case block.UInt64:
		s := blk.U64.Stats
		return s.CountNonMissing, s.CountValid, s.QualAccOr, s.QualAccAnd
	case block.Enum8:
		s := blk.U8.Stats
		return s.CountNonMissing, s.CountValid, s.QualAccOr, s.QualAccAnd
	default:
		panic(fmt.Sprintf("catalog: unknown storage type tag %d", blk.Tag))
	}
}
