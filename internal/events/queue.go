package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kanbus/kanbus/internal/storage"
)

// Queue is the durable, append-only record of domain events. It is the
// single source of work for the processor.
type Queue struct {
	db *sql.DB
}

func New(db *sql.DB) *Queue {
	return &Queue{db: db}
}

// Enqueue persists an event with status=queued before returning. The
// payload is marshaled once and stored verbatim for later redelivery.
func (q *Queue) Enqueue(ctx context.Context, boardID, event string, payload any) (string, error) {
	if boardID == "" {
		return "", fmt.Errorf("board id is empty")
	}
	if event == "" {
		return "", fmt.Errorf("event name is empty")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal event payload: %w", err)
	}

	id := uuid.NewString()
	now := storage.Now()
	_, err = q.db.ExecContext(ctx, `
INSERT INTO events(id, board_id, event, payload_json, status, retry_count, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, 0, ?, ?);
`, id, boardID, event, string(raw), StatusQueued, now, now)
	if err != nil {
		return "", fmt.Errorf("enqueue event: %w", err)
	}
	return id, nil
}

// List returns a board's events oldest-first, optionally filtered by
// status, capped at limit.
func (q *Queue) List(ctx context.Context, boardID string, status Status, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	var (
		rows *sql.Rows
		err  error
	)
	if status != "" {
		rows, err = q.db.QueryContext(ctx, `
SELECT id, board_id, event, payload_json, status, retry_count, last_error, created_at, updated_at
FROM events WHERE board_id = ? AND status = ?
ORDER BY created_at ASC, rowid ASC LIMIT ?;
`, boardID, status, limit)
	} else {
		rows, err = q.db.QueryContext(ctx, `
SELECT id, board_id, event, payload_json, status, retry_count, last_error, created_at, updated_at
FROM events WHERE board_id = ?
ORDER BY created_at ASC, rowid ASC LIMIT ?;
`, boardID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PendingBatch is the processor's snapshot read: up to limit queued events
// for the board, oldest-first. There is no claim step, so two concurrent
// drains can read the same batch (at-least-once delivery).
func (q *Queue) PendingBatch(ctx context.Context, boardID string, limit int) ([]Event, error) {
	return q.List(ctx, boardID, StatusQueued, limit)
}

// Get returns a single event by id.
func (q *Queue) Get(ctx context.Context, eventID string) (Event, error) {
	row := q.db.QueryRowContext(ctx, `
SELECT id, board_id, event, payload_json, status, retry_count, last_error, created_at, updated_at
FROM events WHERE id = ?;
`, eventID)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, ErrEventNotFound
	}
	return e, err
}

// Commit durably records an event's outcome. lastError may be nil.
func (q *Queue) Commit(ctx context.Context, eventID string, status Status, lastError *string) error {
	if !status.Valid() {
		return fmt.Errorf("invalid event status: %q", status)
	}
	_, err := q.db.ExecContext(ctx, `
UPDATE events SET status = ?, updated_at = ?, last_error = ? WHERE id = ?;
`, status, storage.Now(), lastError, eventID)
	if err != nil {
		return fmt.Errorf("commit event %s: %w", eventID, err)
	}
	return nil
}

// Retry unconditionally resets an event to queued and increments its retry
// count, regardless of current status. No cap, no backoff.
func (q *Queue) Retry(ctx context.Context, eventID string) error {
	res, err := q.db.ExecContext(ctx, `
UPDATE events SET status = ?, retry_count = retry_count + 1, updated_at = ? WHERE id = ?;
`, StatusQueued, storage.Now(), eventID)
	if err != nil {
		return fmt.Errorf("retry event %s: %w", eventID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrEventNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (Event, error) {
	var (
		e       Event
		payload string
		status  string
		lastErr sql.NullString
	)
	err := r.Scan(&e.ID, &e.BoardID, &e.Name, &payload, &status, &e.RetryCount, &lastErr, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return Event{}, err
	}
	e.Payload = json.RawMessage(payload)
	e.Status = Status(status)
	if lastErr.Valid {
		e.LastError = &lastErr.String
	}
	return e, nil
}
