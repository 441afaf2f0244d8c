// Package processor drains queued events on demand: it matches listeners,
// invokes deliveries, and commits each event's outcome before moving on.
package processor

import (
	"context"
	"log/slog"

	"github.com/kanbus/kanbus/internal/dispatch"
	"github.com/kanbus/kanbus/internal/events"
	"github.com/kanbus/kanbus/internal/listener"
	"github.com/kanbus/kanbus/internal/log"
)

// DefaultMaxEvents bounds a drain when the caller does not say otherwise.
const DefaultMaxEvents = 25

// Deliverer is the dispatch surface the processor needs. Satisfied by
// *dispatch.Dispatcher.
type Deliverer interface {
	Deliver(ctx context.Context, kind listener.Kind, target string, env dispatch.Envelope) dispatch.Result
}

// Matcher resolves the active listeners for an event name. Satisfied by
// *listener.Registry.
type Matcher interface {
	Matching(ctx context.Context, boardID, eventName string) ([]listener.Listener, error)
}

// Result counts a drain's outcome. Failed is the subset of Processed whose
// event ended in the failed status.
type Result struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// Processor pulls queued events and pushes them to their listeners. It
// holds no state between runs; every invocation re-reads the store.
type Processor struct {
	queue    *events.Queue
	registry Matcher
	disp     Deliverer
	logger   *slog.Logger
}

func New(q *events.Queue, reg Matcher, d Deliverer) *Processor {
	return &Processor{
		queue:    q,
		registry: reg,
		disp:     d,
		logger:   log.WithComponent("processor"),
	}
}

// ProcessQueue drains up to maxEvents queued events for the board.
//
// The batch is a single snapshot read with no claim step, so a concurrent
// drain may pick up the same events; delivery is at-least-once. When
// execute is false, or an event has no matching listeners, the event is
// marked done without any delivery (dry-run / no-subscriber-is-success).
// With execute true, listeners are invoked sequentially in registration
// order and the first failure marks the event failed with that listener's
// reason, skipping the rest. Each event's outcome is committed before the
// next event is touched.
func (p *Processor) ProcessQueue(ctx context.Context, boardID string, execute bool, maxEvents int) (Result, error) {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}

	batch, err := p.queue.PendingBatch(ctx, boardID, maxEvents)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, ev := range batch {
		status := events.StatusDone
		var lastError *string

		if execute {
			matched, err := p.registry.Matching(ctx, boardID, ev.Name)
			if err != nil {
				return res, err
			}
			for _, ln := range matched {
				out := p.disp.Deliver(ctx, ln.Kind, ln.Target, dispatch.Envelope{Event: ev.Name, Payload: ev.Payload})
				if !out.OK {
					status = events.StatusFailed
					reason := out.Info
					lastError = &reason
					res.Failed++
					p.logger.Warn("delivery failed",
						"event_id", ev.ID, "event", ev.Name,
						"listener_id", ln.ID, "kind", ln.Kind, "error", reason)
					break
				}
				p.logger.Debug("delivery succeeded",
					"event_id", ev.ID, "listener_id", ln.ID, "info", out.Info)
			}
		}

		if err := p.queue.Commit(ctx, ev.ID, status, lastError); err != nil {
			return res, err
		}
		res.Processed++
	}
	return res, nil
}
