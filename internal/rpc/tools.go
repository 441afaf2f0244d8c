package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/kanbus/kanbus/internal/board"
	"github.com/kanbus/kanbus/internal/events"
	"github.com/kanbus/kanbus/internal/listener"
	"github.com/kanbus/kanbus/internal/processor"
	"github.com/kanbus/kanbus/internal/story"
)

// Tools maps the wire tool set onto the core components. Every tool takes a
// user_key (and optional board_key) and operates on that board, creating it
// lazily on first reference.
type Tools struct {
	store     *board.Store
	queue     *events.Queue
	registry  *listener.Registry
	proc      *processor.Processor
	dbPath    string
	listLimit int
	maxEvents int
}

func NewTools(store *board.Store, queue *events.Queue, registry *listener.Registry, proc *processor.Processor, dbPath string) *Tools {
	return &Tools{
		store:     store,
		queue:     queue,
		registry:  registry,
		proc:      proc,
		dbPath:    dbPath,
		listLimit: 100,
		maxEvents: processor.DefaultMaxEvents,
	}
}

func objectSchema(required []string, props map[string]any) map[string]any {
	return map[string]any{"type": "object", "properties": props, "required": required}
}

func str() map[string]any   { return map[string]any{"type": "string"} }
func num() map[string]any   { return map[string]any{"type": "integer"} }
func boolT() map[string]any { return map[string]any{"type": "boolean"} }
func obj() map[string]any   { return map[string]any{"type": "object"} }

func boardProps(extra map[string]any) map[string]any {
	props := map[string]any{"user_key": str(), "board_key": str()}
	for k, v := range extra {
		props[k] = v
	}
	return props
}

// Schemas declares every tool exposed over the stdio protocol.
func Schemas() []ToolSchema {
	return []ToolSchema{
		{Name: "kanban_handshake", Description: "Ensure board for user and seed defaults",
			InputSchema: objectSchema([]string{"user_key"}, boardProps(map[string]any{"name": str()}))},
		{Name: "board_info", Description: "List columns and counts for board",
			InputSchema: objectSchema([]string{"user_key"}, boardProps(nil))},
		{Name: "add_column", Description: "Add a column",
			InputSchema: objectSchema([]string{"user_key", "name"}, boardProps(map[string]any{"name": str(), "wip_limit": num()}))},
		{Name: "add_card", Description: "Create a card",
			InputSchema: objectSchema([]string{"user_key", "title", "column"}, boardProps(map[string]any{
				"title": str(), "column": str(), "description": str(), "assignee": str(),
				"priority": str(), "external_type": str(), "external_id": str()}))},
		{Name: "move_card", Description: "Move card to column (moving to 'blocked' requires blocked_by and blocked_reason)",
			InputSchema: objectSchema([]string{"user_key", "card_id", "target_column"}, boardProps(map[string]any{
				"card_id": str(), "target_column": str(), "blocked_by": str(), "blocked_reason": str()}))},
		{Name: "update_card", Description: "Update card fields",
			InputSchema: objectSchema([]string{"user_key", "card_id", "fields"}, boardProps(map[string]any{
				"card_id": str(), "fields": obj()}))},
		{Name: "list_cards", Description: "List cards (optional column)",
			InputSchema: objectSchema([]string{"user_key"}, boardProps(map[string]any{"column": str()}))},
		{Name: "search_cards", Description: "Search cards by text",
			InputSchema: objectSchema([]string{"user_key", "query"}, boardProps(map[string]any{"query": str()}))},
		{Name: "sync_from_story", Description: "Optional file-based sync from story files",
			InputSchema: objectSchema([]string{"user_key"}, boardProps(nil))},
		{Name: "register_listener", Description: "Register event listener (command or http)",
			InputSchema: objectSchema([]string{"user_key", "event", "kind", "target"}, boardProps(map[string]any{
				"event": str(), "kind": str(), "target": str(), "filter": obj()}))},
		{Name: "list_listeners", Description: "List listeners for the board",
			InputSchema: objectSchema([]string{"user_key"}, boardProps(nil))},
		{Name: "remove_listener", Description: "Deactivate a listener by id",
			InputSchema: objectSchema([]string{"user_key", "listener_id"}, boardProps(map[string]any{"listener_id": str()}))},
		{Name: "list_events", Description: "List queued/failed/done events",
			InputSchema: objectSchema([]string{"user_key"}, boardProps(map[string]any{"status": str(), "limit": num()}))},
		{Name: "process_queue", Description: "Process queued events for board",
			InputSchema: objectSchema([]string{"user_key"}, boardProps(map[string]any{"execute": boolT(), "max_events": num()}))},
		{Name: "retry_event", Description: "Retry a failed event by id",
			InputSchema: objectSchema([]string{"user_key", "event_id"}, boardProps(map[string]any{"event_id": str()}))},
		{Name: "test_event", Description: "Enqueue a test event with payload",
			InputSchema: objectSchema([]string{"user_key", "event"}, boardProps(map[string]any{"event": str(), "payload": obj()}))},
	}
}

type toolArgs struct {
	UserKey       string          `json:"user_key"`
	BoardKey      string          `json:"board_key"`
	Name          string          `json:"name"`
	WipLimit      *int            `json:"wip_limit"`
	Title         string          `json:"title"`
	Column        string          `json:"column"`
	Description   string          `json:"description"`
	Assignee      string          `json:"assignee"`
	Priority      string          `json:"priority"`
	ExternalType  string          `json:"external_type"`
	ExternalID    string          `json:"external_id"`
	CardID        string          `json:"card_id"`
	TargetColumn  string          `json:"target_column"`
	BlockedBy     string          `json:"blocked_by"`
	BlockedReason string          `json:"blocked_reason"`
	Fields        map[string]any  `json:"fields"`
	Query         string          `json:"query"`
	Event         string          `json:"event"`
	Kind          string          `json:"kind"`
	Target        string          `json:"target"`
	Filter        json.RawMessage `json:"filter"`
	ListenerID    string          `json:"listener_id"`
	Status        string          `json:"status"`
	Limit         int             `json:"limit"`
	Execute       bool            `json:"execute"`
	MaxEvents     int             `json:"max_events"`
	EventID       string          `json:"event_id"`
	Payload       json.RawMessage `json:"payload"`
}

func (t *Tools) ensureBoard(ctx context.Context, a toolArgs) (board.Board, error) {
	return t.store.EnsureBoard(ctx, a.UserKey, a.BoardKey)
}

// Call runs one tool invocation and returns its wire result.
func (t *Tools) Call(ctx context.Context, name string, rawArgs json.RawMessage) (TextResult, error) {
	var a toolArgs
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &a); err != nil {
			return TextResult{}, fmt.Errorf("decode arguments: %w", err)
		}
	}

	switch name {
	case "kanban_handshake":
		b, err := t.ensureBoard(ctx, a)
		if err != nil {
			return TextResult{}, err
		}
		if err := t.store.SeedDefaults(ctx, b.ID); err != nil {
			return TextResult{}, err
		}
		return jsonResult(map[string]any{
			"db": t.dbPath, "board_id": b.ID, "user_key": b.OwnerKey, "board_key": b.BoardKey,
		})

	case "board_info":
		b, err := t.ensureBoard(ctx, a)
		if err != nil {
			return TextResult{}, err
		}
		cols, err := t.store.Columns(ctx, b.ID)
		if err != nil {
			return TextResult{}, err
		}
		info := make([]map[string]any, 0, len(cols))
		for _, c := range cols {
			cards, err := t.store.ListCards(ctx, b.ID, c.Name)
			if err != nil {
				return TextResult{}, err
			}
			info = append(info, map[string]any{"column": c.Name, "wip_limit": c.WipLimit, "count": len(cards)})
		}
		return jsonResult(info)

	case "add_column":
		b, err := t.ensureBoard(ctx, a)
		if err != nil {
			return TextResult{}, err
		}
		col, err := t.store.AddColumn(ctx, b.ID, a.Name, a.WipLimit)
		if err != nil {
			return TextResult{}, err
		}
		return jsonResult(col)

	case "add_card":
		b, err := t.ensureBoard(ctx, a)
		if err != nil {
			return TextResult{}, err
		}
		card, err := t.store.AddCard(ctx, b.ID, board.NewCard{
			Title:        a.Title,
			Column:       a.Column,
			Description:  a.Description,
			Assignee:     a.Assignee,
			Priority:     a.Priority,
			ExternalType: a.ExternalType,
			ExternalID:   a.ExternalID,
		})
		if err != nil {
			return TextResult{}, err
		}
		return jsonResult(map[string]any{"id": card.ID, "title": card.Title, "column": card.Column})

	case "move_card":
		b, err := t.ensureBoard(ctx, a)
		if err != nil {
			return TextResult{}, err
		}
		res, err := t.store.MoveCard(ctx, b.ID, a.CardID, a.TargetColumn, a.BlockedBy, a.BlockedReason)
		if err != nil {
			return TextResult{}, err
		}
		return jsonResult(res)

	case "update_card":
		b, err := t.ensureBoard(ctx, a)
		if err != nil {
			return TextResult{}, err
		}
		n, err := t.store.UpdateCard(ctx, b.ID, a.CardID, a.Fields)
		if err != nil {
			return TextResult{}, err
		}
		return jsonResult(map[string]int{"updated": n})

	case "list_cards":
		b, err := t.ensureBoard(ctx, a)
		if err != nil {
			return TextResult{}, err
		}
		cards, err := t.store.ListCards(ctx, b.ID, a.Column)
		if err != nil {
			return TextResult{}, err
		}
		return jsonResult(cards)

	case "search_cards":
		b, err := t.ensureBoard(ctx, a)
		if err != nil {
			return TextResult{}, err
		}
		matches, err := t.store.SearchCards(ctx, b.ID, a.Query)
		if err != nil {
			return TextResult{}, err
		}
		return jsonResult(matches)

	case "sync_from_story":
		if os.Getenv("KANBAN_SYNC_ENABLE") == "" {
			return textResult("sync disabled"), nil
		}
		b, err := t.ensureBoard(ctx, a)
		if err != nil {
			return TextResult{}, err
		}
		created, err := story.Sync(ctx, t.store, b.ID, ".local_context")
		if err != nil {
			return textResult(fmt.Sprintf("sync error: %v", err)), nil
		}
		return textResult(fmt.Sprintf("synced %d stories", created)), nil

	case "register_listener":
		b, err := t.ensureBoard(ctx, a)
		if err != nil {
			return TextResult{}, err
		}
		kind, err := listener.ParseKind(a.Kind)
		if err != nil {
			return TextResult{}, err
		}
		l, err := t.registry.Register(ctx, b.ID, a.Event, kind, a.Target, a.Filter)
		if err != nil {
			return TextResult{}, err
		}
		return jsonResult(map[string]any{"id": l.ID, "event": l.Event, "kind": l.Kind, "target": l.Target})

	case "list_listeners":
		b, err := t.ensureBoard(ctx, a)
		if err != nil {
			return TextResult{}, err
		}
		ls, err := t.registry.List(ctx, b.ID)
		if err != nil {
			return TextResult{}, err
		}
		return jsonResult(ls)

	case "remove_listener":
		if err := t.registry.Deactivate(ctx, a.ListenerID); err != nil {
			return TextResult{}, err
		}
		return jsonResult(map[string]int{"removed": 1})

	case "list_events":
		b, err := t.ensureBoard(ctx, a)
		if err != nil {
			return TextResult{}, err
		}
		limit := a.Limit
		if limit <= 0 {
			limit = t.listLimit
		}
		evs, err := t.queue.List(ctx, b.ID, events.Status(a.Status), limit)
		if err != nil {
			return TextResult{}, err
		}
		return jsonResult(evs)

	case "process_queue":
		b, err := t.ensureBoard(ctx, a)
		if err != nil {
			return TextResult{}, err
		}
		max := a.MaxEvents
		if max <= 0 {
			max = t.maxEvents
		}
		res, err := t.proc.ProcessQueue(ctx, b.ID, a.Execute, max)
		if err != nil {
			return TextResult{}, err
		}
		return jsonResult(res)

	case "retry_event":
		if err := t.queue.Retry(ctx, a.EventID); err != nil {
			return TextResult{}, err
		}
		return jsonResult(map[string]int{"queued": 1})

	case "test_event":
		b, err := t.ensureBoard(ctx, a)
		if err != nil {
			return TextResult{}, err
		}
		payload := a.Payload
		if len(payload) == 0 {
			payload = json.RawMessage(`{"hello":"world"}`)
		}
		eventName := a.Event
		if eventName == "" {
			eventName = "test"
		}
		id, err := t.queue.Enqueue(ctx, b.ID, eventName, payload)
		if err != nil {
			return TextResult{}, err
		}
		return jsonResult(map[string]string{"id": id, "event": eventName})
	}

	return TextResult{}, fmt.Errorf("unknown tool: %s", name)
}

func jsonResult(v any) (TextResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return TextResult{}, fmt.Errorf("encode tool result: %w", err)
	}
	return textResult(string(data)), nil
}
