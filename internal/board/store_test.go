package board

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/kanbus/kanbus/internal/storage"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "kanban.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return NewStore(db)
}

func mustBoard(t *testing.T, s *Store) Board {
	t.Helper()
	b, err := s.EnsureBoard(context.Background(), "alice", "default")
	if err != nil {
		t.Fatalf("EnsureBoard: %v", err)
	}
	return b
}

func TestEnsureBoardIdempotent(t *testing.T) {
	t.Parallel()
	s := setupStore(t)

	b1, err := s.EnsureBoard(context.Background(), "alice", "work")
	if err != nil {
		t.Fatalf("EnsureBoard 1: %v", err)
	}
	b2, err := s.EnsureBoard(context.Background(), "alice", "work")
	if err != nil {
		t.Fatalf("EnsureBoard 2: %v", err)
	}
	if b1.ID != b2.ID {
		t.Fatalf("expected same board id, got %q and %q", b1.ID, b2.ID)
	}

	b3, err := s.EnsureBoard(context.Background(), "alice", "personal")
	if err != nil {
		t.Fatalf("EnsureBoard 3: %v", err)
	}
	if b3.ID == b1.ID {
		t.Fatalf("different board key must create a different board")
	}
}

func TestSeedDefaults(t *testing.T) {
	t.Parallel()
	s := setupStore(t)
	b := mustBoard(t, s)

	if err := s.SeedDefaults(context.Background(), b.ID); err != nil {
		t.Fatalf("SeedDefaults: %v", err)
	}
	// Second call is a no-op.
	if err := s.SeedDefaults(context.Background(), b.ID); err != nil {
		t.Fatalf("SeedDefaults again: %v", err)
	}

	cols, err := s.Columns(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("Columns: %v", err)
	}
	if len(cols) != len(DefaultColumns) {
		t.Fatalf("expected %d columns, got %d", len(DefaultColumns), len(cols))
	}
	for i, c := range cols {
		if c.Name != DefaultColumns[i] || c.Position != i || c.WipLimit != nil {
			t.Fatalf("unexpected column %d: %+v", i, c)
		}
	}
}

func TestAddColumnPositionsAreMonotonic(t *testing.T) {
	t.Parallel()
	s := setupStore(t)
	b := mustBoard(t, s)

	c1, err := s.AddColumn(context.Background(), b.ID, "todo", nil)
	if err != nil {
		t.Fatalf("AddColumn: %v", err)
	}
	wip := 3
	c2, err := s.AddColumn(context.Background(), b.ID, "doing", &wip)
	if err != nil {
		t.Fatalf("AddColumn: %v", err)
	}
	if c1.Position != 0 || c2.Position != 1 {
		t.Fatalf("unexpected positions: %d, %d", c1.Position, c2.Position)
	}
	if c2.WipLimit == nil || *c2.WipLimit != 3 {
		t.Fatalf("wip limit not stored: %+v", c2)
	}

	// Re-adding an existing name returns the original row.
	again, err := s.AddColumn(context.Background(), b.ID, "todo", nil)
	if err != nil {
		t.Fatalf("AddColumn existing: %v", err)
	}
	if again.ID != c1.ID {
		t.Fatalf("expected existing column, got new id %q", again.ID)
	}
}

func TestMoveCardToBlockedRequiresMetadata(t *testing.T) {
	t.Parallel()
	s := setupStore(t)
	b := mustBoard(t, s)

	card, err := s.AddCard(context.Background(), b.ID, NewCard{Title: "Fix bug", Column: "backlog"})
	if err != nil {
		t.Fatalf("AddCard: %v", err)
	}

	cases := []struct {
		by, reason string
	}{
		{"", ""},
		{"", "waiting on infra"},
		{"ops", ""},
		{"ops", "   "},
	}
	for _, tc := range cases {
		_, err := s.MoveCard(context.Background(), b.ID, card.ID, "blocked", tc.by, tc.reason)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("by=%q reason=%q: expected ValidationError, got %v", tc.by, tc.reason, err)
		}

		got, err := s.GetCard(context.Background(), card.ID)
		if err != nil {
			t.Fatalf("GetCard: %v", err)
		}
		if got.Column != "backlog" {
			t.Fatalf("failed move must leave the card in place, got column %q", got.Column)
		}
	}
}

func TestMoveCardBlockedFieldsAreAUnit(t *testing.T) {
	t.Parallel()
	s := setupStore(t)
	b := mustBoard(t, s)

	card, err := s.AddCard(context.Background(), b.ID, NewCard{Title: "Fix bug", Column: "backlog"})
	if err != nil {
		t.Fatalf("AddCard: %v", err)
	}

	res, err := s.MoveCard(context.Background(), b.ID, card.ID, "blocked", "ops", "waiting on infra")
	if err != nil {
		t.Fatalf("MoveCard to blocked: %v", err)
	}
	if res.From != "backlog" || res.To != "blocked" {
		t.Fatalf("unexpected move result: %+v", res)
	}

	got, err := s.GetCard(context.Background(), card.ID)
	if err != nil {
		t.Fatalf("GetCard: %v", err)
	}
	if got.BlockedBy == nil || got.BlockedReason == nil || got.BlockedSince == nil {
		t.Fatalf("all three blocked fields must be set, got %+v", got)
	}
	if *got.BlockedBy != "ops" || *got.BlockedReason != "waiting on infra" {
		t.Fatalf("unexpected blocked metadata: %+v", got)
	}

	// Moving anywhere else clears all three, with no blocked args passed.
	if _, err := s.MoveCard(context.Background(), b.ID, card.ID, "in_progress", "", ""); err != nil {
		t.Fatalf("MoveCard out of blocked: %v", err)
	}
	got, err = s.GetCard(context.Background(), card.ID)
	if err != nil {
		t.Fatalf("GetCard: %v", err)
	}
	if got.BlockedBy != nil || got.BlockedReason != nil || got.BlockedSince != nil {
		t.Fatalf("blocked fields must be cleared, got %+v", got)
	}
	if got.Column != "in_progress" {
		t.Fatalf("unexpected column %q", got.Column)
	}
}

func TestMoveCardCreatesTargetColumn(t *testing.T) {
	t.Parallel()
	s := setupStore(t)
	b := mustBoard(t, s)

	card, err := s.AddCard(context.Background(), b.ID, NewCard{Title: "Ship it", Column: "backlog"})
	if err != nil {
		t.Fatalf("AddCard: %v", err)
	}
	res, err := s.MoveCard(context.Background(), b.ID, card.ID, "review", "", "")
	if err != nil {
		t.Fatalf("MoveCard: %v", err)
	}
	if res.To != "review" {
		t.Fatalf("unexpected target: %+v", res)
	}

	col, err := s.ColumnByName(context.Background(), b.ID, "review")
	if err != nil || col == nil {
		t.Fatalf("target column not created: %v", err)
	}
}

func TestUpdateCardFieldFiltering(t *testing.T) {
	t.Parallel()
	s := setupStore(t)
	b := mustBoard(t, s)

	card, err := s.AddCard(context.Background(), b.ID, NewCard{Title: "Old", Column: "backlog"})
	if err != nil {
		t.Fatalf("AddCard: %v", err)
	}

	n, err := s.UpdateCard(context.Background(), b.ID, card.ID, map[string]any{
		"title":     "New",
		"priority":  "high",
		"column_id": "hax",
		"id":        "hax",
	})
	if err != nil {
		t.Fatalf("UpdateCard: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected updated=1, got %d", n)
	}

	got, err := s.GetCard(context.Background(), card.ID)
	if err != nil {
		t.Fatalf("GetCard: %v", err)
	}
	if got.Title != "New" || got.Priority != "high" {
		t.Fatalf("update not applied: %+v", got)
	}
	if got.ID != card.ID || got.Column != "backlog" {
		t.Fatalf("unknown keys must be dropped: %+v", got)
	}

	// No allowed keys at all is a no-op, not an error.
	n, err = s.UpdateCard(context.Background(), b.ID, card.ID, map[string]any{"column_id": "hax"})
	if err != nil {
		t.Fatalf("UpdateCard no-op: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected updated=0, got %d", n)
	}
}

func TestListCardsByColumn(t *testing.T) {
	t.Parallel()
	s := setupStore(t)
	b := mustBoard(t, s)

	for i := 0; i < 3; i++ {
		if _, err := s.AddCard(context.Background(), b.ID, NewCard{Title: fmt.Sprintf("card %d", i), Column: "backlog"}); err != nil {
			t.Fatalf("AddCard: %v", err)
		}
	}
	if _, err := s.AddCard(context.Background(), b.ID, NewCard{Title: "other", Column: "done"}); err != nil {
		t.Fatalf("AddCard: %v", err)
	}

	all, err := s.ListCards(context.Background(), b.ID, "")
	if err != nil {
		t.Fatalf("ListCards: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 cards, got %d", len(all))
	}

	backlog, err := s.ListCards(context.Background(), b.ID, "backlog")
	if err != nil {
		t.Fatalf("ListCards backlog: %v", err)
	}
	if len(backlog) != 3 {
		t.Fatalf("expected 3 backlog cards, got %d", len(backlog))
	}

	// Unknown column yields an empty list, not an error.
	none, err := s.ListCards(context.Background(), b.ID, "nope")
	if err != nil {
		t.Fatalf("ListCards unknown column: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no cards, got %d", len(none))
	}
}

func TestSearchCardsCapAndOrder(t *testing.T) {
	t.Parallel()
	s := setupStore(t)
	b := mustBoard(t, s)

	for i := 0; i < 55; i++ {
		if _, err := s.AddCard(context.Background(), b.ID, NewCard{
			Title:  fmt.Sprintf("needle %02d", i),
			Column: "backlog",
		}); err != nil {
			t.Fatalf("AddCard: %v", err)
		}
	}
	if _, err := s.AddCard(context.Background(), b.ID, NewCard{Title: "hay", Column: "backlog"}); err != nil {
		t.Fatalf("AddCard: %v", err)
	}

	matches, err := s.SearchCards(context.Background(), b.ID, "needle")
	if err != nil {
		t.Fatalf("SearchCards: %v", err)
	}
	if len(matches) != 50 {
		t.Fatalf("expected cap of 50 matches, got %d", len(matches))
	}
	// Most recent first.
	if matches[0].Title != "needle 54" {
		t.Fatalf("expected newest match first, got %q", matches[0].Title)
	}

	byDesc, err := s.SearchCards(context.Background(), b.ID, "hay")
	if err != nil {
		t.Fatalf("SearchCards: %v", err)
	}
	if len(byDesc) != 1 {
		t.Fatalf("expected 1 match, got %d", len(byDesc))
	}
}

func TestExternalLinkageIdempotency(t *testing.T) {
	t.Parallel()
	s := setupStore(t)
	b := mustBoard(t, s)

	if _, err := s.AddCard(context.Background(), b.ID, NewCard{
		Title: "Story 1", Column: "backlog", ExternalType: "story", ExternalID: "s-1",
	}); err != nil {
		t.Fatalf("AddCard: %v", err)
	}

	if _, err := s.AddCard(context.Background(), b.ID, NewCard{
		Title: "Story 1 again", Column: "backlog", ExternalType: "story", ExternalID: "s-1",
	}); err == nil {
		t.Fatalf("duplicate external linkage must be rejected")
	}

	// Cards without external linkage are unconstrained.
	for i := 0; i < 2; i++ {
		if _, err := s.AddCard(context.Background(), b.ID, NewCard{Title: "plain", Column: "backlog"}); err != nil {
			t.Fatalf("AddCard plain %d: %v", i, err)
		}
	}
}

// failingEmitter always errors, standing in for a broken event queue.
type failingEmitter struct{}

func (failingEmitter) Enqueue(ctx context.Context, boardID, event string, payload any) (string, error) {
	return "", fmt.Errorf("queue unavailable")
}

func TestMutationsSurviveEmitterFailure(t *testing.T) {
	t.Parallel()
	s := setupStore(t)
	b := mustBoard(t, s)
	s.SetEmitter(failingEmitter{})

	card, err := s.AddCard(context.Background(), b.ID, NewCard{Title: "Fix bug", Column: "backlog"})
	if err != nil {
		t.Fatalf("AddCard must succeed despite emitter failure: %v", err)
	}
	if _, err := s.MoveCard(context.Background(), b.ID, card.ID, "done", "", ""); err != nil {
		t.Fatalf("MoveCard must succeed despite emitter failure: %v", err)
	}

	got, err := s.GetCard(context.Background(), card.ID)
	if err != nil {
		t.Fatalf("GetCard: %v", err)
	}
	if got.Column != "done" {
		t.Fatalf("mutation lost: %+v", got)
	}
}
