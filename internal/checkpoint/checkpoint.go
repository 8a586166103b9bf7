// Package checkpoint persists conversation state at turn boundaries so an
// interrupted task can be resumed. Stores are written to by the engine on
// its checkpoint interval; persistence failures are surfaced to the caller
// and never terminate a task.
package checkpoint

import (
	"context"
	"errors"

	"github.com/strandlabs/strand/pkg/models"
)

// ErrNotFound is returned when a task has no stored checkpoint.
var ErrNotFound = errors.New("checkpoint: not found")

// Snapshot is one persisted checkpoint.
type Snapshot struct {
	TaskID   string            `json:"task_id"`
	Turn     int               `json:"turn"`
	Messages []*models.Message `json:"messages"`
}

// Store saves and restores turn snapshots. Save overwrites any earlier
// checkpoint for the same task; only the latest snapshot per task is kept.
type Store interface {
	Save(ctx context.Context, taskID string, turn int, messages []*models.Message) error
	Latest(ctx context.Context, taskID string) (*Snapshot, error)
	Delete(ctx context.Context, taskID string) error
	Close() error
}
