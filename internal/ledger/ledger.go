// Package ledger tracks chunk-shipment and volume-run state in a local
// SQLite database, surviving process restarts so an interrupted run can
// resume without re-shipping chunks a prior invocation already committed.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"docrip/internal/ledger/migrations"
)

// Ledger wraps the local resume-state database.
type Ledger struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path, applying any
// pending migrations. path may be ":memory:" for a throwaway ledger (used
// by --dry-run and tests).
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply ledger migrations: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the underlying database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// ShippedChunk describes a chunk this ledger already recorded as committed
// to the remote target.
type ShippedChunk struct {
	Name    string
	Ordinal int
	Digest  string
	Length  int64
}

// RecordShipped upserts the shipment record for a chunk. Called only after
// the remote Put has succeeded, so a crash between Put and RecordShipped is
// resolved on the next run by the shipper's own Exists check against the
// remote target, not by this ledger.
func (l *Ledger) RecordShipped(ctx context.Context, archiveBase, name string, ordinal int, digest string, length int64) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO chunk_shipments (archive_base, name, ordinal, digest, length, shipped_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(archive_base, name) DO UPDATE SET
			ordinal = excluded.ordinal,
			digest = excluded.digest,
			length = excluded.length,
			shipped_at = excluded.shipped_at
	`, archiveBase, name, ordinal, digest, length, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record shipped chunk %s/%s: %w", archiveBase, name, err)
	}
	return nil
}

// IsShipped reports whether name under archiveBase was already recorded as
// shipped, and its recorded digest.
func (l *Ledger) IsShipped(ctx context.Context, archiveBase, name string) (bool, string, error) {
	var digest string
	err := l.db.QueryRowContext(ctx, `
		SELECT digest FROM chunk_shipments WHERE archive_base = ? AND name = ?
	`, archiveBase, name).Scan(&digest)
	if err == sql.ErrNoRows {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("query shipped chunk %s/%s: %w", archiveBase, name, err)
	}
	return true, digest, nil
}

// ShippedChunks returns every chunk recorded as shipped for archiveBase,
// ordered by ordinal, for resume-time comparison against a freshly written
// manifest.
func (l *Ledger) ShippedChunks(ctx context.Context, archiveBase string) ([]ShippedChunk, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT name, ordinal, digest, length FROM chunk_shipments
		WHERE archive_base = ? ORDER BY ordinal ASC
	`, archiveBase)
	if err != nil {
		return nil, fmt.Errorf("list shipped chunks for %s: %w", archiveBase, err)
	}
	defer rows.Close()

	var out []ShippedChunk
	for rows.Next() {
		var c ShippedChunk
		if err := rows.Scan(&c.Name, &c.Ordinal, &c.Digest, &c.Length); err != nil {
			return nil, fmt.Errorf("scan shipped chunk row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// StartVolumeRun records the start of processing for a volume, keyed by its
// archive base name.
func (l *Ledger) StartVolumeRun(ctx context.Context, archiveBase, devicePath string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO volume_runs (archive_base, device_path, status, started_at)
		VALUES (?, ?, 'running', ?)
		ON CONFLICT(archive_base) DO UPDATE SET
			device_path = excluded.device_path,
			status = 'running',
			started_at = excluded.started_at,
			finished_at = NULL
	`, archiveBase, devicePath, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("start volume run %s: %w", archiveBase, err)
	}
	return nil
}

// FinishVolumeRun records the terminal status for a previously started
// volume run.
func (l *Ledger) FinishVolumeRun(ctx context.Context, archiveBase, status string) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE volume_runs SET status = ?, finished_at = ? WHERE archive_base = ?
	`, status, time.Now().UTC(), archiveBase)
	if err != nil {
		return fmt.Errorf("finish volume run %s: %w", archiveBase, err)
	}
	return nil
}

// VolumeRunStatus returns the recorded status for archiveBase, or ("", nil)
// if no run has been recorded.
func (l *Ledger) VolumeRunStatus(ctx context.Context, archiveBase string) (string, error) {
	var status string
	err := l.db.QueryRowContext(ctx, `
		SELECT status FROM volume_runs WHERE archive_base = ?
	`, archiveBase).Scan(&status)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query volume run status %s: %w", archiveBase, err)
	}
	return status, nil
}
