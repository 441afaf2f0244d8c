package story

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kanbus/kanbus/internal/board"
	"github.com/kanbus/kanbus/internal/storage"
)

func setup(t *testing.T) (*board.Store, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "kanban.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := board.NewStore(db)
	b, err := store.EnsureBoard(context.Background(), "alice", "default")
	if err != nil {
		t.Fatalf("EnsureBoard: %v", err)
	}
	return store, b.ID
}

func writeStoryFiles(t *testing.T, state string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "story_state.json"), []byte(state), 0o644); err != nil {
		t.Fatalf("write story_state.json: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "story_links.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write story_links.json: %v", err)
	}
	return dir
}

func TestSyncMissingFiles(t *testing.T) {
	t.Parallel()
	store, boardID := setup(t)

	_, err := Sync(context.Background(), store, boardID, t.TempDir())
	if !errors.Is(err, ErrNoStoryFiles) {
		t.Fatalf("expected ErrNoStoryFiles, got %v", err)
	}
}

func TestSyncPhaseToColumn(t *testing.T) {
	t.Parallel()
	store, boardID := setup(t)

	dir := writeStoryFiles(t, `{
		"s-1": {"phase": "ideating"},
		"s-2": {"phase": "developing"},
		"s-3": {"phase": "validating"},
		"s-4": {"phase": "done"},
		"s-5": {"phase": "someday"}
	}`)

	created, err := Sync(context.Background(), store, boardID, dir)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if created != 5 {
		t.Fatalf("expected 5 cards created, got %d", created)
	}

	wantColumns := map[string]string{
		"s-1": "backlog",
		"s-2": "in_progress",
		"s-3": "current_sprint",
		"s-4": "done",
		"s-5": "backlog", // unknown phase falls back
	}
	cards, err := store.ListCards(context.Background(), boardID, "")
	if err != nil {
		t.Fatalf("ListCards: %v", err)
	}
	if len(cards) != 5 {
		t.Fatalf("expected 5 cards, got %d", len(cards))
	}
	for _, c := range cards {
		if c.ExternalType == nil || *c.ExternalType != "story" || c.ExternalID == nil {
			t.Fatalf("card missing story linkage: %+v", c)
		}
		if want := wantColumns[*c.ExternalID]; c.Column != want {
			t.Fatalf("story %s: column %q, want %q", *c.ExternalID, c.Column, want)
		}
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	t.Parallel()
	store, boardID := setup(t)

	dir := writeStoryFiles(t, `{"s-1": {"phase": "ideating"}}`)

	created, err := Sync(context.Background(), store, boardID, dir)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if created != 1 {
		t.Fatalf("first sync: expected 1 created, got %d", created)
	}

	created, err = Sync(context.Background(), store, boardID, dir)
	if err != nil {
		t.Fatalf("Sync again: %v", err)
	}
	if created != 0 {
		t.Fatalf("second sync must skip existing stories, got %d", created)
	}

	cards, err := store.ListCards(context.Background(), boardID, "")
	if err != nil {
		t.Fatalf("ListCards: %v", err)
	}
	if len(cards) != 1 {
		t.Fatalf("expected 1 card after re-sync, got %d", len(cards))
	}
}
