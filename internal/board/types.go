package board

import (
	"context"
	"errors"
	"fmt"
)

// Board is the top-level namespace owning columns, cards, listeners and
// events, keyed by (owner, board) pair.
type Board struct {
	ID        string `json:"id"`
	OwnerKey  string `json:"owner_key"`
	BoardKey  string `json:"board_key"`
	CreatedAt string `json:"created_at"`
}

// Column is a named, ordered lane. Column membership doubles as a card's
// lifecycle state. WipLimit is advisory and never enforced.
type Column struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	WipLimit *int   `json:"wip_limit"`
	Position int    `json:"position"`
}

// Card belongs to exactly one board and one column at a time. The three
// blocked fields are a unit: all set, or all nil.
type Card struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Description   string  `json:"description,omitempty"`
	Assignee      string  `json:"assignee,omitempty"`
	Priority      string  `json:"priority,omitempty"`
	Column        string  `json:"column"`
	ExternalType  *string `json:"external_type,omitempty"`
	ExternalID    *string `json:"external_id,omitempty"`
	BlockedBy     *string `json:"blocked_by,omitempty"`
	BlockedReason *string `json:"blocked_reason,omitempty"`
	BlockedSince  *string `json:"blocked_since,omitempty"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

// NewCard carries the caller-supplied fields for card creation.
type NewCard struct {
	Title        string
	Column       string
	Description  string
	Assignee     string
	Priority     string
	ExternalType string
	ExternalID   string
}

// MoveResult reports a completed move. From is empty when the card had no
// prior column (unknown card id).
type MoveResult struct {
	CardID string `json:"id"`
	From   string `json:"from,omitempty"`
	To     string `json:"to"`
}

// CardMatch is a search projection.
type CardMatch struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Emitter accepts domain events for later delivery. The store treats
// emission as best-effort: an Enqueue error never fails the mutation that
// produced it.
type Emitter interface {
	Enqueue(ctx context.Context, boardID, event string, payload any) (string, error)
}

// Event names produced by the store.
const (
	EventColumnCreated = "column_created"
	EventCardCreated   = "card_created"
	EventCardMoved     = "card_moved"
	EventCardUpdated   = "card_updated"
)

// BlockedColumn is the column name whose transitions require blocked
// metadata.
const BlockedColumn = "blocked"

// ErrCardNotFound reports an unknown card id.
var ErrCardNotFound = errors.New("card not found")

// ValidationError reports caller-supplied input that violates a domain
// rule. The underlying state is left unmodified.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}
