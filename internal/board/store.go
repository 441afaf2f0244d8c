package board

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/kanbus/kanbus/internal/log"
	"github.com/kanbus/kanbus/internal/storage"
)

// DefaultColumns is the fixed sequence seeded onto an empty board, at
// positions 0..5, no WIP limit.
var DefaultColumns = []string{"backlog", "current_sprint", "in_progress", "blocked", "done", "archived"}

const searchLimit = 50

// Store owns boards, columns and cards, and is the sole producer of board
// domain events. Every operation re-reads state from the database; there is
// no cross-call caching.
type Store struct {
	db      *sql.DB
	emitter Emitter
	logger  *slog.Logger
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, logger: log.WithComponent("board")}
}

// SetEmitter attaches the event queue the store emits into. A nil emitter
// disables emission entirely.
func (s *Store) SetEmitter(e Emitter) { s.emitter = e }

// emit enqueues a domain event. Mutation correctness is never sacrificed
// for event delivery, so failures are logged and swallowed.
func (s *Store) emit(ctx context.Context, boardID, event string, payload any) {
	if s.emitter == nil {
		return
	}
	if _, err := s.emitter.Enqueue(ctx, boardID, event, payload); err != nil {
		s.logger.Warn("event emission failed", "board_id", boardID, "event", event, "error", err)
	}
}

// EnsureBoard returns the board for (ownerKey, boardKey), creating it on
// first reference. Idempotent by natural key, so safe to retry blindly.
func (s *Store) EnsureBoard(ctx context.Context, ownerKey, boardKey string) (Board, error) {
	if boardKey == "" {
		boardKey = "default"
	}

	var b Board
	err := s.db.QueryRowContext(ctx, `
SELECT id, owner_key, board_key, created_at FROM boards WHERE owner_key = ? AND board_key = ?;
`, ownerKey, boardKey).Scan(&b.ID, &b.OwnerKey, &b.BoardKey, &b.CreatedAt)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Board{}, fmt.Errorf("lookup board: %w", err)
	}

	b = Board{ID: uuid.NewString(), OwnerKey: ownerKey, BoardKey: boardKey, CreatedAt: storage.Now()}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO boards(id, owner_key, board_key, created_at) VALUES(?, ?, ?, ?)
ON CONFLICT(owner_key, board_key) DO NOTHING;
`, b.ID, b.OwnerKey, b.BoardKey, b.CreatedAt)
	if err != nil {
		return Board{}, fmt.Errorf("create board: %w", err)
	}

	// A concurrent creator may have won the conflict; re-read for the row
	// that actually exists.
	err = s.db.QueryRowContext(ctx, `
SELECT id, owner_key, board_key, created_at FROM boards WHERE owner_key = ? AND board_key = ?;
`, ownerKey, boardKey).Scan(&b.ID, &b.OwnerKey, &b.BoardKey, &b.CreatedAt)
	if err != nil {
		return Board{}, fmt.Errorf("reread board: %w", err)
	}
	return b, nil
}

// SeedDefaults creates the default column sequence on a board with zero
// columns. No-op otherwise.
func (s *Store) SeedDefaults(ctx context.Context, boardID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM columns WHERE board_id = ?;`, boardID).Scan(&count); err != nil {
		return fmt.Errorf("count columns: %w", err)
	}
	if count > 0 {
		return nil
	}

	for pos, name := range DefaultColumns {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO columns(id, board_id, name, wip_limit, position) VALUES(?, ?, ?, NULL, ?);
`, uuid.NewString(), boardID, name, pos); err != nil {
			return fmt.Errorf("seed column %q: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Columns lists a board's columns in position order.
func (s *Store) Columns(ctx context.Context, boardID string) ([]Column, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, wip_limit, position FROM columns WHERE board_id = ? ORDER BY position ASC;
`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			c   Column
			wip sql.NullInt64
		)
		if err := rows.Scan(&c.ID, &c.Name, &wip, &c.Position); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		if wip.Valid {
			v := int(wip.Int64)
			c.WipLimit = &v
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// ColumnByName returns the named column, or nil if the board has none.
func (s *Store) ColumnByName(ctx context.Context, boardID, name string) (*Column, error) {
	var (
		c   Column
		wip sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, name, wip_limit, position FROM columns WHERE board_id = ? AND name = ?;
`, boardID, name).Scan(&c.ID, &c.Name, &wip, &c.Position)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup column: %w", err)
	}
	if wip.Valid {
		v := int(wip.Int64)
		c.WipLimit = &v
	}
	return &c, nil
}

// AddColumn appends a column at the next ordinal position. Positions are
// monotonic and never recompacted. Emits column_created.
func (s *Store) AddColumn(ctx context.Context, boardID, name string, wipLimit *int) (Column, error) {
	if strings.TrimSpace(name) == "" {
		return Column{}, validationf("column name is empty")
	}

	var pos int
	if err := s.db.QueryRowContext(ctx, `
SELECT COALESCE(MAX(position), -1) + 1 FROM columns WHERE board_id = ?;
`, boardID).Scan(&pos); err != nil {
		return Column{}, fmt.Errorf("next column position: %w", err)
	}

	col := Column{ID: uuid.NewString(), Name: name, WipLimit: wipLimit, Position: pos}
	var wip any
	if wipLimit != nil {
		wip = *wipLimit
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO columns(id, board_id, name, wip_limit, position) VALUES(?, ?, ?, ?, ?)
ON CONFLICT(board_id, name) DO NOTHING;
`, col.ID, boardID, name, wip, pos)
	if err != nil {
		return Column{}, fmt.Errorf("insert column: %w", err)
	}

	// The name may already have existed; return the winning row either way.
	existing, err := s.ColumnByName(ctx, boardID, name)
	if err != nil {
		return Column{}, err
	}
	if existing == nil {
		return Column{}, fmt.Errorf("column %q missing after insert", name)
	}
	if existing.ID == col.ID {
		s.emit(ctx, boardID, EventColumnCreated, map[string]any{"column": *existing})
	}
	return *existing, nil
}

// EnsureColumn gets or creates the named column.
func (s *Store) EnsureColumn(ctx context.Context, boardID, name string) (Column, error) {
	col, err := s.ColumnByName(ctx, boardID, name)
	if err != nil {
		return Column{}, err
	}
	if col != nil {
		return *col, nil
	}
	return s.AddColumn(ctx, boardID, name, nil)
}

// AddCard creates the column if absent and inserts the card into it.
// Emits card_created.
func (s *Store) AddCard(ctx context.Context, boardID string, nc NewCard) (Card, error) {
	if strings.TrimSpace(nc.Title) == "" {
		return Card{}, validationf("card title is required")
	}
	if strings.TrimSpace(nc.Column) == "" {
		return Card{}, validationf("card column is required")
	}

	col, err := s.EnsureColumn(ctx, boardID, nc.Column)
	if err != nil {
		return Card{}, err
	}

	now := storage.Now()
	card := Card{
		ID:          uuid.NewString(),
		Title:       nc.Title,
		Description: nc.Description,
		Assignee:    nc.Assignee,
		Priority:    nc.Priority,
		Column:      col.Name,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if nc.ExternalType != "" {
		card.ExternalType = &nc.ExternalType
	}
	if nc.ExternalID != "" {
		card.ExternalID = &nc.ExternalID
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO cards(id, board_id, column_id, title, description, assignee, priority,
                  external_type, external_id, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, card.ID, boardID, col.ID, card.Title, card.Description, card.Assignee, card.Priority,
		card.ExternalType, card.ExternalID, now, now)
	if err != nil {
		return Card{}, fmt.Errorf("insert card: %w", err)
	}

	s.emit(ctx, boardID, EventCardCreated, card)
	return card, nil
}

// currentColumn resolves the name of the column a card sits in, or "" when
// the card does not exist.
func (s *Store) currentColumn(ctx context.Context, cardID string) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `
SELECT columns.name FROM cards JOIN columns ON cards.column_id = columns.id WHERE cards.id = ?;
`, cardID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("current card column: %w", err)
	}
	return name, nil
}

// MoveCard moves a card to the target column, creating the column if
// absent. Moving to the blocked column requires blockedBy and a non-blank
// blockedReason and stamps all three blocked fields; moving anywhere else
// clears all three unconditionally. Emits card_moved.
func (s *Store) MoveCard(ctx context.Context, boardID, cardID, targetColumn, blockedBy, blockedReason string) (MoveResult, error) {
	prev, err := s.currentColumn(ctx, cardID)
	if err != nil {
		return MoveResult{}, err
	}

	col, err := s.EnsureColumn(ctx, boardID, targetColumn)
	if err != nil {
		return MoveResult{}, err
	}

	now := storage.Now()
	if col.Name == BlockedColumn {
		if blockedBy == "" || strings.TrimSpace(blockedReason) == "" {
			return MoveResult{}, validationf("moving to %q requires blocked_by and blocked_reason", BlockedColumn)
		}
		if _, err := s.db.ExecContext(ctx, `
UPDATE cards SET column_id = ?, updated_at = ?, blocked_by = ?, blocked_reason = ?, blocked_since = ?
WHERE id = ?;
`, col.ID, now, blockedBy, blockedReason, now, cardID); err != nil {
			return MoveResult{}, fmt.Errorf("move card to blocked: %w", err)
		}
	} else {
		if _, err := s.db.ExecContext(ctx, `
UPDATE cards SET column_id = ?, updated_at = ?, blocked_by = NULL, blocked_reason = NULL, blocked_since = NULL
WHERE id = ?;
`, col.ID, now, cardID); err != nil {
			return MoveResult{}, fmt.Errorf("move card: %w", err)
		}
	}

	result := MoveResult{CardID: cardID, From: prev, To: col.Name}
	s.emit(ctx, boardID, EventCardMoved, result)
	return result, nil
}

// mutableCardFields are the only keys UpdateCard honors; everything else is
// silently dropped.
var mutableCardFields = []string{"title", "description", "assignee", "priority"}

// UpdateCard applies the allowed subset of fields to a card. An empty
// allowed set is a no-op returning 0, never an error. Emits card_updated
// when a write happens.
func (s *Store) UpdateCard(ctx context.Context, boardID, cardID string, fields map[string]any) (int, error) {
	sets := make([]string, 0, len(fields))
	vals := make([]any, 0, len(fields)+2)
	for _, k := range mutableCardFields {
		v, ok := fields[k]
		if !ok {
			continue
		}
		sets = append(sets, k+" = ?")
		vals = append(vals, v)
	}
	if len(sets) == 0 {
		return 0, nil
	}

	vals = append(vals, storage.Now(), cardID)
	query := "UPDATE cards SET " + strings.Join(sets, ", ") + ", updated_at = ? WHERE id = ?;"
	res, err := s.db.ExecContext(ctx, query, vals...)
	if err != nil {
		return 0, fmt.Errorf("update card: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update card rows: %w", err)
	}
	if n == 0 {
		return 0, nil
	}

	s.emit(ctx, boardID, EventCardUpdated, map[string]any{"id": cardID, "fields": fields})
	return int(n), nil
}

const cardSelect = `
SELECT cards.id, cards.title, cards.description, cards.assignee, cards.priority,
       columns.name, cards.external_type, cards.external_id,
       cards.blocked_by, cards.blocked_reason, cards.blocked_since,
       cards.created_at, cards.updated_at
FROM cards JOIN columns ON cards.column_id = columns.id`

// ListCards lists a board's cards oldest-first, optionally restricted to
// one column. An unknown column name yields an empty list.
func (s *Store) ListCards(ctx context.Context, boardID, column string) ([]Card, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if column != "" {
		col, cerr := s.ColumnByName(ctx, boardID, column)
		if cerr != nil {
			return nil, cerr
		}
		if col == nil {
			return nil, nil
		}
		rows, err = s.db.QueryContext(ctx, cardSelect+`
WHERE cards.board_id = ? AND cards.column_id = ?
ORDER BY cards.created_at ASC, cards.rowid ASC;`, boardID, col.ID)
	} else {
		rows, err = s.db.QueryContext(ctx, cardSelect+`
WHERE cards.board_id = ?
ORDER BY cards.created_at ASC, cards.rowid ASC;`, boardID)
	}
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	var cards []Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// GetCard returns a single card by id.
func (s *Store) GetCard(ctx context.Context, cardID string) (Card, error) {
	row := s.db.QueryRowContext(ctx, cardSelect+` WHERE cards.id = ?;`, cardID)
	c, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Card{}, ErrCardNotFound
	}
	return c, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(r rowScanner) (Card, error) {
	var c Card
	var desc, assignee, prio, extType, extID, blockedBy, blockedReason, blockedSince sql.NullString
	err := r.Scan(&c.ID, &c.Title, &desc, &assignee, &prio,
		&c.Column, &extType, &extID,
		&blockedBy, &blockedReason, &blockedSince,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Card{}, err
	}
	c.Description = desc.String
	c.Assignee = assignee.String
	c.Priority = prio.String
	if extType.Valid {
		c.ExternalType = &extType.String
	}
	if extID.Valid {
		c.ExternalID = &extID.String
	}
	if blockedBy.Valid {
		c.BlockedBy = &blockedBy.String
	}
	if blockedReason.Valid {
		c.BlockedReason = &blockedReason.String
	}
	if blockedSince.Valid {
		c.BlockedSince = &blockedSince.String
	}
	return c, nil
}

// SearchCards does a substring match over title and description,
// most-recent-first, capped at 50 results.
func (s *Store) SearchCards(ctx context.Context, boardID, query string) ([]CardMatch, error) {
	like := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx, `
SELECT id, title, description FROM cards
WHERE board_id = ? AND (title LIKE ? OR description LIKE ?)
ORDER BY created_at DESC, rowid DESC
LIMIT ?;
`, boardID, like, like, searchLimit)
	if err != nil {
		return nil, fmt.Errorf("search cards: %w", err)
	}
	defer rows.Close()

	var out []CardMatch
	for rows.Next() {
		var (
			m    CardMatch
			desc sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.Title, &desc); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		m.Description = desc.String
		out = append(out, m)
	}
	return out, rows.Err()
}
