// Package sqlite persists evidence snapshots in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
	"github.com/sudarshansudarshan/cal-sub001/internal/evidence"
	"github.com/sudarshansudarshan/cal-sub001/internal/metrics"
)

//go:embed schema.sql
var schema string

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 10000",
	"PRAGMA synchronous = NORMAL",
}

// EvidenceStore keeps at most capacity snapshots in the snapshots table. The
// AUTOINCREMENT key never reuses ids, so the eviction sequence survives Clear
// and restarts.
type EvidenceStore struct {
	db       *sql.DB
	capacity int
	quota    int64

	// serializes id assignment and eviction
	mu sync.Mutex
}

// Open opens (creating if needed) the database at path. quota <= 0 disables
// the byte quota.
func Open(path string, capacity int, quota int64) (*EvidenceStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create evidence directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open evidence database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply evidence schema: %w", err)
	}

	if capacity < 1 {
		capacity = evidence.DefaultCapacity
	}
	slog.Info("Evidence database opened", "path", path, "capacity", capacity, "quota_bytes", quota)
	return &EvidenceStore{db: db, capacity: capacity, quota: quota}, nil
}

func (s *EvidenceStore) Close() error {
	return s.db.Close()
}

func (s *EvidenceStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *EvidenceStore) Save(ctx context.Context, snap domain.Snapshot) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	size := evidence.Size(snap.Image, snap.Screenshot)
	if s.quota > 0 {
		var used int64
		row := tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(LENGTH(image) + LENGTH(screenshot)), 0) FROM snapshots`)
		if err := row.Scan(&used); err != nil {
			return 0, fmt.Errorf("failed to measure evidence size: %w", err)
		}
		if used+size > s.quota {
			return 0, fmt.Errorf("save %d bytes with %d of %d used: %w", size, used, s.quota, domain.ErrStorageQuotaExceeded)
		}
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (image, screenshot, anomaly_type, timestamp) VALUES (?, ?, ?, ?)`,
		snap.Image, snap.Screenshot, string(snap.AnomalyType), evidence.FormatTime(snap.Timestamp))
	if err != nil {
		return 0, mapError("failed to insert snapshot", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read snapshot id: %w", err)
	}

	evicted := false
	if victim := evidence.EvictionID(id, s.capacity); victim > 0 {
		res, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, victim)
		if err != nil {
			return 0, mapError("failed to evict snapshot", err)
		}
		n, _ := res.RowsAffected()
		evicted = n > 0
	}

	if err := tx.Commit(); err != nil {
		return 0, mapError("failed to commit snapshot", err)
	}
	if evicted {
		metrics.SnapshotsEvictedTotal.Inc()
	}
	return id, nil
}

func (s *EvidenceStore) GetAll(ctx context.Context) ([]domain.Snapshot, error) {
	return s.query(ctx, `SELECT id, image, screenshot, anomaly_type, timestamp FROM snapshots ORDER BY id`)
}

func (s *EvidenceStore) ListByType(ctx context.Context, anomalyType domain.AnomalyType) ([]domain.Snapshot, error) {
	return s.query(ctx, `SELECT id, image, screenshot, anomaly_type, timestamp FROM snapshots WHERE anomaly_type = ? ORDER BY id`, string(anomalyType))
}

// ListSince relies on the fixed-width UTC timestamp format sorting lexically.
func (s *EvidenceStore) ListSince(ctx context.Context, since time.Time) ([]domain.Snapshot, error) {
	return s.query(ctx, `SELECT id, image, screenshot, anomaly_type, timestamp FROM snapshots WHERE timestamp >= ? ORDER BY timestamp, id`, evidence.FormatTime(since))
}

func (s *EvidenceStore) DeleteByID(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete snapshot %d: %w", id, err)
	}
	return nil
}

func (s *EvidenceStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots`); err != nil {
		return fmt.Errorf("failed to clear snapshots: %w", err)
	}
	return nil
}

func (s *EvidenceStore) query(ctx context.Context, q string, args ...any) ([]domain.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snaps := []domain.Snapshot{}
	for rows.Next() {
		var (
			snap domain.Snapshot
			typ  string
			ts   string
		)
		if err := rows.Scan(&snap.ID, &snap.Image, &snap.Screenshot, &typ, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snap.AnomalyType = domain.AnomalyType(typ)
		if snap.Timestamp, err = evidence.ParseTime(ts); err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshots: %w", err)
	}
	return snaps, nil
}

// mapError turns a full disk or database size limit into ErrStorageQuotaExceeded.
func mapError(msg string, err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_FULL {
		return fmt.Errorf("%s: %w: %w", msg, domain.ErrStorageQuotaExceeded, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
