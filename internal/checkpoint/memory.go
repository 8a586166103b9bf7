package checkpoint

import (
	"context"
	"sync"

	"github.com/strandlabs/strand/pkg/models"
)

// MemoryStore keeps checkpoints in process memory. Useful for tests and for
// runs where persistence across restarts is not needed.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string]*Snapshot)}
}

// Save stores a copy of the message slice under taskID.
func (s *MemoryStore) Save(ctx context.Context, taskID string, turn int, messages []*models.Message) error {
	copied := make([]*models.Message, len(messages))
	copy(copied, messages)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[taskID] = &Snapshot{TaskID: taskID, Turn: turn, Messages: copied}
	return nil
}

// Latest returns the stored snapshot for taskID.
func (s *MemoryStore) Latest(ctx context.Context, taskID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	return snap, nil
}

// Delete removes the checkpoint for taskID.
func (s *MemoryStore) Delete(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, taskID)
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
