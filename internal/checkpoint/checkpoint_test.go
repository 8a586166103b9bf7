package checkpoint

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/strandlabs/strand/pkg/models"
)

func testMessages() []*models.Message {
	return []*models.Message{
		models.NewMessage(models.RoleUser, "fix the failing test"),
		models.NewMessage(models.RoleAssistant, "looking at the test output"),
	}
}

// storeUnderTest runs the same contract against every Store implementation.
func storeUnderTest(t *testing.T, name string, open func(t *testing.T) Store) {
	t.Run(name+"/save and load", func(t *testing.T) {
		store := open(t)
		defer store.Close()
		ctx := context.Background()

		if err := store.Save(ctx, "task-1", 5, testMessages()); err != nil {
			t.Fatalf("Save: %v", err)
		}

		snap, err := store.Latest(ctx, "task-1")
		if err != nil {
			t.Fatalf("Latest: %v", err)
		}
		if snap.Turn != 5 {
			t.Errorf("Turn = %d, want 5", snap.Turn)
		}
		if len(snap.Messages) != 2 {
			t.Fatalf("got %d messages, want 2", len(snap.Messages))
		}
		if snap.Messages[0].Content != "fix the failing test" {
			t.Errorf("message content = %q", snap.Messages[0].Content)
		}
	})

	t.Run(name+"/save overwrites", func(t *testing.T) {
		store := open(t)
		defer store.Close()
		ctx := context.Background()

		if err := store.Save(ctx, "task-1", 5, testMessages()); err != nil {
			t.Fatal(err)
		}
		if err := store.Save(ctx, "task-1", 10, testMessages()); err != nil {
			t.Fatal(err)
		}

		snap, err := store.Latest(ctx, "task-1")
		if err != nil {
			t.Fatal(err)
		}
		if snap.Turn != 10 {
			t.Errorf("Turn = %d, want 10 after overwrite", snap.Turn)
		}
	})

	t.Run(name+"/missing task", func(t *testing.T) {
		store := open(t)
		defer store.Close()

		_, err := store.Latest(context.Background(), "absent")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run(name+"/delete", func(t *testing.T) {
		store := open(t)
		defer store.Close()
		ctx := context.Background()

		if err := store.Save(ctx, "task-1", 3, testMessages()); err != nil {
			t.Fatal(err)
		}
		if err := store.Delete(ctx, "task-1"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := store.Latest(ctx, "task-1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound after delete", err)
		}

		// Deleting again is not an error.
		if err := store.Delete(ctx, "task-1"); err != nil {
			t.Errorf("Delete of absent task: %v", err)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	storeUnderTest(t, "memory", func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestSQLiteStore(t *testing.T) {
	storeUnderTest(t, "sqlite", func(t *testing.T) Store {
		store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "checkpoints.db"))
		if err != nil {
			t.Fatalf("NewSQLiteStore: %v", err)
		}
		return store
	})
}

func TestSQLiteStorePersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, "task-1", 7, testMessages()); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	snap, err := reopened.Latest(ctx, "task-1")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Turn != 7 {
		t.Errorf("Turn = %d, want 7 after reopen", snap.Turn)
	}
}
