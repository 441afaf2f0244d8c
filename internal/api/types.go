package api

import "encoding/json"

// EnsureBoardRequest creates (or fetches) a board and seeds default columns.
type EnsureBoardRequest struct {
	OwnerKey string `json:"owner_key"`
	BoardKey string `json:"board_key,omitempty"`
}

// AddColumnRequest appends a column to a board.
type AddColumnRequest struct {
	Name     string `json:"name"`
	WipLimit *int   `json:"wip_limit,omitempty"`
}

// AddCardRequest creates a card, creating its column if absent.
type AddCardRequest struct {
	Title        string `json:"title"`
	Column       string `json:"column"`
	Description  string `json:"description,omitempty"`
	Assignee     string `json:"assignee,omitempty"`
	Priority     string `json:"priority,omitempty"`
	ExternalType string `json:"external_type,omitempty"`
	ExternalID   string `json:"external_id,omitempty"`
}

// MoveCardRequest moves a card to a target column. Moving to "blocked"
// requires both blocked fields.
type MoveCardRequest struct {
	TargetColumn  string `json:"target_column"`
	BlockedBy     string `json:"blocked_by,omitempty"`
	BlockedReason string `json:"blocked_reason,omitempty"`
}

// UpdateCardRequest patches the mutable card fields; unknown keys are
// dropped by the store.
type UpdateCardRequest struct {
	Fields map[string]any `json:"fields"`
}

// RegisterListenerRequest subscribes a delivery target to an event name or
// the wildcard.
type RegisterListenerRequest struct {
	Event  string          `json:"event"`
	Kind   string          `json:"kind"`
	Target string          `json:"target"`
	Filter json.RawMessage `json:"filter,omitempty"`
}

// InjectEventRequest enqueues a test event.
type InjectEventRequest struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ProcessRequest triggers one queue drain.
type ProcessRequest struct {
	Execute   bool `json:"execute"`
	MaxEvents int  `json:"max_events,omitempty"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse reports liveness and queue depth.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}
