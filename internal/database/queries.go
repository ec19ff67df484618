package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/git-pkgs/embedserve/internal/asset"
)

var ErrHashMismatch = errors.New("stored content hash does not match content")

const upsertAssetSQLite = `
	INSERT INTO assets (path, content, content_hash, size, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(path) DO UPDATE SET
		content = excluded.content,
		content_hash = excluded.content_hash,
		size = excluded.size,
		updated_at = excluded.updated_at
`

const upsertAssetPostgres = `
	INSERT INTO assets (path, content, content_hash, size, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT(path) DO UPDATE SET
		content = EXCLUDED.content,
		content_hash = EXCLUDED.content_hash,
		size = EXCLUDED.size,
		updated_at = EXCLUDED.updated_at
`

func (db *DB) upsertAssetQuery() string {
	if db.dialect == DialectPostgres {
		return upsertAssetPostgres
	}
	return upsertAssetSQLite
}

// ImportSet writes the entries of set whose stored hash differs, in a single
// transaction. Rows already holding the entry's content are left untouched.
func (db *DB) ImportSet(set *asset.Set) (ImportResult, error) {
	var res ImportResult

	stored, err := db.ListAssets()
	if err != nil {
		return res, fmt.Errorf("listing stored assets: %w", err)
	}
	hashes := make(map[string]string, len(stored))
	for _, a := range stored {
		hashes[a.Path] = a.ContentHash
	}

	var changed []*asset.Entry
	for _, e := range set.Entries() {
		if hashes[e.Path] == e.ETag() {
			res.Unchanged++
			continue
		}
		changed = append(changed, e)
	}
	if len(changed) == 0 {
		return res, nil
	}

	if err := db.OptimizeForBulkWrites(); err != nil {
		return res, err
	}
	defer func() { _ = db.OptimizeForReads() }()

	tx, err := db.Beginx()
	if err != nil {
		return res, fmt.Errorf("beginning transaction: %w", err)
	}

	if err := insertEntries(tx, db.upsertAssetQuery(), changed); err != nil {
		_ = tx.Rollback()
		return res, err
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("committing import: %w", err)
	}
	res.Written = len(changed)
	return res, nil
}

func insertEntries(tx *sqlx.Tx, query string, entries []*asset.Entry) error {
	stmt, err := tx.Preparex(query)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now()
	for _, e := range entries {
		if _, err := stmt.Exec(e.Path, e.Bytes(), e.ETag(), e.Size(), now, now); err != nil {
			return fmt.Errorf("inserting %s: %w", e.Path, err)
		}
	}
	return nil
}

// ListAssets returns every asset without its content, ordered by path.
func (db *DB) ListAssets() ([]AssetInfo, error) {
	var assets []AssetInfo
	err := db.Select(&assets, `SELECT path, content_hash, size FROM assets ORDER BY path`)
	if err != nil {
		return nil, err
	}
	return assets, nil
}

// DeleteAsset removes the asset stored under path. Deleting a missing path is
// not an error.
func (db *DB) DeleteAsset(path string) error {
	_, err := db.Exec(db.Rebind(`DELETE FROM assets WHERE path = ?`), path)
	return err
}

// PruneAssets deletes every asset whose path is not in set.
func (db *DB) PruneAssets(set *asset.Set) (int, error) {
	stored, err := db.ListAssets()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, a := range stored {
		if _, ok := set.Get(a.Path); ok {
			continue
		}
		if err := db.DeleteAsset(a.Path); err != nil {
			return removed, fmt.Errorf("deleting %s: %w", a.Path, err)
		}
		removed++
	}
	return removed, nil
}

func (db *DB) GetAssetStats() (*AssetStats, error) {
	var stats AssetStats
	err := db.Get(&stats, `SELECT COUNT(*) AS count, COALESCE(SUM(size), 0) AS total_size FROM assets`)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// LoadSet reads every asset into a new set. The digest of each row is
// recomputed and compared with the stored hash.
func (db *DB) LoadSet(maxSize int64) (*asset.Set, error) {
	if maxSize > 0 {
		stats, err := db.GetAssetStats()
		if err != nil {
			return nil, fmt.Errorf("reading asset stats: %w", err)
		}
		if stats.TotalSize > maxSize {
			return nil, fmt.Errorf("%w: database holds %d bytes, limit %d", asset.ErrTooLarge, stats.TotalSize, maxSize)
		}
	}

	rows, err := db.Queryx(`SELECT path, content, content_hash FROM assets ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("querying assets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	b := asset.NewBuilder(maxSize)
	for rows.Next() {
		var path, hash string
		var content []byte
		if err := rows.Scan(&path, &content, &hash); err != nil {
			return nil, fmt.Errorf("scanning asset: %w", err)
		}

		key, err := asset.CleanPath(path)
		if err != nil {
			return nil, err
		}
		e := asset.NewEntry(key, content)
		if e.ETag() != hash {
			return nil, fmt.Errorf("%w: %s", ErrHashMismatch, path)
		}
		if err := b.AddEntry(e); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading assets: %w", err)
	}

	return b.Build(), nil
}
