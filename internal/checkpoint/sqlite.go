package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/strandlabs/strand/pkg/models"
)

// SQLiteStore persists checkpoints in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed creates) the database at path.
// An empty path uses an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: failed to open database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL UNIQUE,
			turn INTEGER NOT NULL,
			messages TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("checkpoint: failed to create table: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_checkpoints_task ON checkpoints(task_id)`)
	if err != nil {
		return fmt.Errorf("checkpoint: failed to create index: %w", err)
	}

	return nil
}

// Save upserts the checkpoint for taskID.
func (s *SQLiteStore) Save(ctx context.Context, taskID string, turn int, messages []*models.Message) error {
	payload, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("checkpoint: failed to encode messages: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, task_id, turn, messages)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			turn = excluded.turn,
			messages = excluded.messages,
			created_at = CURRENT_TIMESTAMP
	`, uuid.NewString(), taskID, turn, string(payload))
	if err != nil {
		return fmt.Errorf("checkpoint: failed to save: %w", err)
	}

	return nil
}

// Latest returns the stored snapshot for taskID.
func (s *SQLiteStore) Latest(ctx context.Context, taskID string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT turn, messages FROM checkpoints WHERE task_id = ?`, taskID)

	var turn int
	var payload string
	if err := row.Scan(&turn, &payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("checkpoint: failed to load: %w", err)
	}

	var messages []*models.Message
	if err := json.Unmarshal([]byte(payload), &messages); err != nil {
		return nil, fmt.Errorf("checkpoint: failed to decode messages: %w", err)
	}

	return &Snapshot{TaskID: taskID, Turn: turn, Messages: messages}, nil
}

// Delete removes the checkpoint for taskID. Deleting a missing checkpoint
// is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE task_id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("checkpoint: failed to delete: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
