// Package sink mirrors campaign and task rows into a SQLite database for
// external querying and reporting. Writes are best-effort: a sink failure
// is logged and must never block orchestration.
package sink

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"conductor/internal/campaign"
	"conductor/internal/logging"
)

// Store is the write-only relational sink.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open initializes the sink database at path, creating the schema lazily.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create sink directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sink database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("failed to set sqlite journal_mode=WAL: %v", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("sink database ready at %s", path)
	return s, nil
}

func (s *Store) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS campaigns (
		campaign_id TEXT PRIMARY KEY,
		goal        TEXT NOT NULL,
		status      TEXT NOT NULL,
		version     INTEGER NOT NULL,
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS tasks (
		task_id        TEXT PRIMARY KEY,
		campaign_id    TEXT NOT NULL,
		title          TEXT NOT NULL,
		status         TEXT NOT NULL,
		area           TEXT,
		attempts       INTEGER NOT NULL DEFAULT 0,
		last_error     TEXT,
		result_summary TEXT,
		updated_at     INTEGER NOT NULL,
		FOREIGN KEY (campaign_id) REFERENCES campaigns(campaign_id)
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_campaign ON tasks(campaign_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create sink schema: %w", err)
	}
	return nil
}

// UpsertCampaign writes the campaign header row.
func (s *Store) UpsertCampaign(c *campaign.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO campaigns (campaign_id, goal, status, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(campaign_id) DO UPDATE SET
			status = excluded.status,
			version = excluded.version,
			updated_at = excluded.updated_at`,
		c.ID, c.Goal, string(c.Status), c.Version, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert campaign %s: %w", c.ID, err)
	}
	return nil
}

// UpsertTask writes one task row.
func (s *Store) UpsertTask(campaignID string, t *campaign.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO tasks (task_id, campaign_id, title, status, area, attempts, last_error, result_summary, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			status = excluded.status,
			attempts = excluded.attempts,
			last_error = excluded.last_error,
			result_summary = excluded.result_summary,
			updated_at = excluded.updated_at`,
		t.ID, campaignID, t.Title, string(t.Status), t.Area, t.Attempts,
		t.LastError, t.ResultSummary, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert task %s: %w", t.ID, err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
