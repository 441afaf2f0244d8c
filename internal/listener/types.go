package listener

import (
	"encoding/json"
	"fmt"
)

// Kind is the closed set of delivery mechanisms. Adding a kind means
// touching every switch over it; the dispatcher treats anything else as a
// delivery failure, never a crash.
type Kind string

const (
	// KindCommand runs the target as a shell command line with the event
	// envelope on stdin.
	KindCommand Kind = "command"
	// KindHTTP posts the event envelope to the target URL.
	KindHTTP Kind = "http"
)

// ParseKind validates a raw kind string at the registration boundary.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindCommand:
		return KindCommand, nil
	case KindHTTP:
		return KindHTTP, nil
	}
	return "", fmt.Errorf("listener kind must be %q or %q, got %q", KindCommand, KindHTTP, s)
}

// Wildcard subscribes a listener to every event name on its board.
const Wildcard = "*"

// Listener is a durable subscription. Targets are not validated at
// registration; a malformed command or URL only fails at delivery time.
// Filter is persisted verbatim and not yet evaluated.
type Listener struct {
	ID        string          `json:"id"`
	BoardID   string          `json:"board_id"`
	Event     string          `json:"event"`
	Kind      Kind            `json:"kind"`
	Target    string          `json:"target"`
	Filter    json.RawMessage `json:"filter,omitempty"`
	Active    bool            `json:"active"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}
