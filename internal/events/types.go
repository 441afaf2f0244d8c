package events

import (
	"encoding/json"
	"errors"
)

// Status is an event's delivery lifecycle state. There is no persisted
// "processing" state: a drain commits straight from queued to a terminal
// status.
type Status string

const (
	StatusQueued Status = "queued"
	StatusDone   Status = "done"
	StatusFailed Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusDone, StatusFailed:
		return true
	}
	return false
}

// Event is an immutable record of something that happened, queued for
// delivery to listeners. Rows are never deleted; the table is the board's
// append-only history.
type Event struct {
	ID         string          `json:"id"`
	BoardID    string          `json:"board_id"`
	Name       string          `json:"event"`
	Payload    json.RawMessage `json:"payload"`
	Status     Status          `json:"status"`
	RetryCount int             `json:"retry_count"`
	LastError  *string         `json:"last_error,omitempty"`
	CreatedAt  string          `json:"created_at"`
	UpdatedAt  string          `json:"updated_at"`
}

var ErrEventNotFound = errors.New("event not found")
