package listener

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/kanbus/kanbus/internal/storage"
)

// Registry is the durable list of subscriptions for a board's events.
// Listeners are soft-deleted via the active flag, never hard-deleted.
type Registry struct {
	db *sql.DB
}

func NewRegistry(db *sql.DB) *Registry {
	return &Registry{db: db}
}

// Register stores a subscription. The event may be a concrete name or the
// wildcard. filter is optional and stored verbatim.
func (r *Registry) Register(ctx context.Context, boardID, event string, kind Kind, target string, filter json.RawMessage) (Listener, error) {
	if boardID == "" {
		return Listener{}, fmt.Errorf("board id is empty")
	}
	if event == "" {
		event = Wildcard
	}
	if _, err := ParseKind(string(kind)); err != nil {
		return Listener{}, err
	}
	if target == "" {
		return Listener{}, fmt.Errorf("listener target is empty")
	}
	if len(filter) == 0 {
		filter = json.RawMessage(`{}`)
	}

	now := storage.Now()
	l := Listener{
		ID:        uuid.NewString(),
		BoardID:   boardID,
		Event:     event,
		Kind:      kind,
		Target:    target,
		Filter:    filter,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO listeners(id, board_id, event, kind, target, filter_json, active, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, 1, ?, ?);
`, l.ID, l.BoardID, l.Event, string(l.Kind), l.Target, string(l.Filter), now, now)
	if err != nil {
		return Listener{}, fmt.Errorf("register listener: %w", err)
	}
	return l, nil
}

// List returns all of a board's listeners, active or not, in insertion
// order.
func (r *Registry) List(ctx context.Context, boardID string) ([]Listener, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, board_id, event, kind, target, filter_json, active, created_at, updated_at
FROM listeners WHERE board_id = ?
ORDER BY created_at ASC, rowid ASC;
`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list listeners: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

// Deactivate soft-deletes a listener. Already-enqueued events are not
// affected; they simply stop matching on the next drain.
func (r *Registry) Deactivate(ctx context.Context, listenerID string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE listeners SET active = 0, updated_at = ? WHERE id = ?;
`, storage.Now(), listenerID)
	if err != nil {
		return fmt.Errorf("deactivate listener %s: %w", listenerID, err)
	}
	return nil
}

// Matching returns the active listeners subscribed to eventName, either by
// exact name or via the wildcard, in insertion order. No priority.
func (r *Registry) Matching(ctx context.Context, boardID, eventName string) ([]Listener, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, board_id, event, kind, target, filter_json, active, created_at, updated_at
FROM listeners WHERE board_id = ? AND active = 1 AND (event = ? OR event = ?)
ORDER BY created_at ASC, rowid ASC;
`, boardID, eventName, Wildcard)
	if err != nil {
		return nil, fmt.Errorf("match listeners: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

func collect(rows *sql.Rows) ([]Listener, error) {
	var out []Listener
	for rows.Next() {
		var (
			l      Listener
			kind   string
			filter sql.NullString
			active int
		)
		if err := rows.Scan(&l.ID, &l.BoardID, &l.Event, &kind, &l.Target, &filter, &active, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan listener: %w", err)
		}
		l.Kind = Kind(kind)
		l.Active = active != 0
		if filter.Valid {
			l.Filter = json.RawMessage(filter.String)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
