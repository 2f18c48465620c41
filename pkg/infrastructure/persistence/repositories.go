// Package persistence provides repository implementations for collection
// history. These are the infrastructure adapters for domain repository
// interfaces.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sipeed/msgcollector/pkg/domain"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("persistence: record not found")

// timeLayout is fixed-width so TEXT columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ---------------------------------------------------------------------------
// SQLite collection repository
// ---------------------------------------------------------------------------

// CollectionRepository is the SQLite-backed implementation of
// domain.CollectionRepository.
type CollectionRepository struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// OpenCollectionRepository opens (and migrates) the database at dbPath.
// ":memory:" gives a private in-memory database.
func OpenCollectionRepository(dbPath string) (*CollectionRepository, error) {
	dsn := ":memory:"
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create history db dir: %w", err)
		}
		dsn = dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// A second connection to ":memory:" would see an empty database.
	db.SetMaxOpenConns(1)

	r := &CollectionRepository{db: db, dbPath: dbPath}
	if err := r.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return r, nil
}

func (r *CollectionRepository) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS collections (
		id TEXT PRIMARY KEY,
		platform TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		trigger_id TEXT NOT NULL,
		preset TEXT DEFAULT '',
		reason TEXT NOT NULL,
		msg_limit INTEGER NOT NULL,
		timeout_ms INTEGER NOT NULL,
		message_ids TEXT DEFAULT '[]',
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_collections_channel ON collections(channel_id, finished_at);
	`
	_, err := r.db.Exec(schema)
	return err
}

// Save inserts or replaces a record.
func (r *CollectionRepository) Save(rec *domain.CollectionRecord) error {
	if rec.ID.IsZero() {
		return fmt.Errorf("collection record ID is required")
	}
	ids := rec.MessageIDs
	if ids == nil {
		ids = []string{}
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshal message ids: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err = r.db.Exec(`
		INSERT OR REPLACE INTO collections
			(id, platform, channel_id, trigger_id, preset, reason, msg_limit, timeout_ms, message_ids, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(rec.ID), string(rec.Platform), rec.ChannelID, rec.TriggerID, rec.Preset, rec.Reason,
		rec.Limit, rec.Timeout.Milliseconds(), string(idsJSON),
		rec.StartedAt.UTC().Format(timeLayout), rec.FinishedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("save collection %s: %w", rec.ID, err)
	}
	return nil
}

const selectColumns = `id, platform, channel_id, trigger_id, preset, reason, msg_limit, timeout_ms, message_ids, started_at, finished_at`

// FindByID retrieves a record by its identity.
func (r *CollectionRepository) FindByID(id domain.EntityID) (*domain.CollectionRecord, error) {
	row := r.db.QueryRow(`SELECT `+selectColumns+` FROM collections WHERE id = ?`, string(id))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("collection %s: %w", id, ErrNotFound)
	}
	return rec, err
}

// FindByChannel returns up to limit records for channelID, newest first.
// A limit <= 0 returns all of them.
func (r *CollectionRepository) FindByChannel(channelID string, limit int) ([]*domain.CollectionRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.Query(`SELECT `+selectColumns+` FROM collections
		WHERE channel_id = ? ORDER BY finished_at DESC LIMIT ?`, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("query collections: %w", err)
	}
	defer rows.Close()

	var out []*domain.CollectionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of stored records.
func (r *CollectionRepository) Count() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM collections`).Scan(&n)
	return n, err
}

// Health pings the database.
func (r *CollectionRepository) Health() error {
	if r.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return r.db.Ping()
}

// Close releases the database handle.
func (r *CollectionRepository) Close() error {
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (*domain.CollectionRecord, error) {
	var (
		rec                   domain.CollectionRecord
		id, platform, idsJSON string
		startedAt, finishedAt string
		timeoutMS             int64
	)
	err := s.Scan(&id, &platform, &rec.ChannelID, &rec.TriggerID, &rec.Preset, &rec.Reason,
		&rec.Limit, &timeoutMS, &idsJSON, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	rec.ID = domain.EntityID(id)
	rec.Platform = domain.ChannelType(platform)
	rec.Timeout = time.Duration(timeoutMS) * time.Millisecond
	if err := json.Unmarshal([]byte(idsJSON), &rec.MessageIDs); err != nil {
		return nil, fmt.Errorf("decode message ids of %s: %w", id, err)
	}
	if rec.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
		return nil, fmt.Errorf("decode started_at of %s: %w", id, err)
	}
	if rec.FinishedAt, err = time.Parse(timeLayout, finishedAt); err != nil {
		return nil, fmt.Errorf("decode finished_at of %s: %w", id, err)
	}
	return &rec, nil
}

// Verify interface compliance at compile time.
var _ domain.CollectionRepository = (*CollectionRepository)(nil)
