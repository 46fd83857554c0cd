// Package history keeps a local SQLite log of listening attempts and the
// tracks they discovered.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/audiolibrelab/disconium/internal/config"
	"github.com/audiolibrelab/disconium/internal/protocol"
	_ "modernc.org/sqlite"
)

const defaultLimit = 50

// Store wraps the SQLite history database. A disabled store accepts writes
// and returns empty reads.
type Store struct {
	db    *sql.DB
	cfg   config.HistoryConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the history store according to config and prunes
// expired rows.
func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*Store, error) {
	if !cfg.Enabled {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("History prune on start failed", "error", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS attempts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    state TEXT NOT NULL,
    outcome TEXT,
    code INTEGER,
    message TEXT,
    settled_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS discoveries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    title TEXT NOT NULL,
    artists TEXT,
    album TEXT,
    score REAL,
    source TEXT,
    links BLOB,
    detected_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_settled ON attempts(settled_at);
CREATE INDEX IF NOT EXISTS idx_discoveries_detected ON discoveries(detected_at);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init history schema: %w", err)
	}
	return nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Enabled reports whether writes are persisted.
func (s *Store) Enabled() bool {
	return s != nil && s.db != nil
}

// RecordAttempt stores one settled attempt.
func (s *Store) RecordAttempt(ctx context.Context, a protocol.AttemptSettled) error {
	if !s.Enabled() {
		return nil
	}
	if a.SettledAt.IsZero() {
		a.SettledAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts(session_id, state, outcome, code, message, settled_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		a.SessionID, a.State, a.Outcome, a.Code, a.Message, a.SettledAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// PublishDiscovery stores one matched track.
func (s *Store) PublishDiscovery(ctx context.Context, d protocol.Discovery) error {
	if !s.Enabled() {
		return nil
	}
	if d.DetectedAt.IsZero() {
		d.DetectedAt = s.clock()
	}
	links, err := json.Marshal(d.Links)
	if err != nil {
		return fmt.Errorf("encode links: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO discoveries(session_id, title, artists, album, score, source, links, detected_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		d.SessionID, d.Title, d.Artists, d.Album, d.Score, d.Source, links, d.DetectedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert discovery: %w", err)
	}
	return nil
}

// Discoveries returns up to limit tracks, newest first.
func (s *Store) Discoveries(ctx context.Context, limit int) ([]protocol.Discovery, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, title, artists, album, score, source, links, detected_at
		 FROM discoveries ORDER BY detected_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []protocol.Discovery
	for rows.Next() {
		var (
			d        protocol.Discovery
			links    []byte
			detected int64
		)
		if err := rows.Scan(&d.SessionID, &d.Title, &d.Artists, &d.Album, &d.Score, &d.Source, &links, &detected); err != nil {
			return nil, err
		}
		if len(links) > 0 {
			if err := json.Unmarshal(links, &d.Links); err != nil {
				s.log.Warn("Skipping undecodable links", "session", d.SessionID, "error", err)
			}
		}
		d.DetectedAt = time.UnixMilli(detected).UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

// Attempts returns up to limit settled attempts, newest first.
func (s *Store) Attempts(ctx context.Context, limit int) ([]protocol.AttemptSettled, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, state, outcome, code, message, settled_at
		 FROM attempts ORDER BY settled_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []protocol.AttemptSettled
	for rows.Next() {
		var (
			a       protocol.AttemptSettled
			settled int64
		)
		if err := rows.Scan(&a.SessionID, &a.State, &a.Outcome, &a.Code, &a.Message, &settled); err != nil {
			return nil, err
		}
		a.SettledAt = time.UnixMilli(settled).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// Prune deletes rows older than the retention window.
func (s *Store) Prune(ctx context.Context) (err error) {
	if !s.Enabled() || s.cfg.RetentionDays <= 0 {
		return nil
	}
	cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM attempts WHERE settled_at < ?`, cutoff); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM discoveries WHERE detected_at < ?`, cutoff); err != nil {
		return err
	}
	return tx.Commit()
}
