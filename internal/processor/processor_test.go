package processor

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/kanbus/kanbus/internal/dispatch"
	"github.com/kanbus/kanbus/internal/events"
	"github.com/kanbus/kanbus/internal/listener"
	"github.com/kanbus/kanbus/internal/storage"
)

// fakeDispatcher records deliveries and fails targets listed in failures.
type fakeDispatcher struct {
	calls    []string
	failures map[string]string
}

func (f *fakeDispatcher) Deliver(ctx context.Context, kind listener.Kind, target string, env dispatch.Envelope) dispatch.Result {
	f.calls = append(f.calls, target)
	if reason, ok := f.failures[target]; ok {
		return dispatch.Result{OK: false, Info: reason}
	}
	return dispatch.Result{OK: true, Info: "ok"}
}

type fixture struct {
	queue    *events.Queue
	registry *listener.Registry
	disp     *fakeDispatcher
	proc     *Processor
}

func setup(t *testing.T) fixture {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "kanban.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	seedBoard(t, db, "b1")

	f := fixture{
		queue:    events.New(db),
		registry: listener.NewRegistry(db),
		disp:     &fakeDispatcher{failures: map[string]string{}},
	}
	f.proc = New(f.queue, f.registry, f.disp)
	return f
}

func seedBoard(t *testing.T, db *sql.DB, id string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO boards(id, owner_key, board_key, created_at) VALUES(?, ?, ?, ?);`,
		id, "tester", id, storage.Now())
	if err != nil {
		t.Fatalf("seed board %s: %v", id, err)
	}
}

func (f fixture) enqueue(t *testing.T, event string) string {
	t.Helper()
	id, err := f.queue.Enqueue(context.Background(), "b1", event, map[string]any{"n": len(f.disp.calls)})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return id
}

func (f fixture) status(t *testing.T, eventID string) events.Event {
	t.Helper()
	e, err := f.queue.Get(context.Background(), eventID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return e
}

func TestDryRunMarksDoneWithoutDelivery(t *testing.T) {
	t.Parallel()
	f := setup(t)

	if _, err := f.registry.Register(context.Background(), "b1", "*", listener.KindCommand, "hook", nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	id := f.enqueue(t, "card_created")

	res, err := f.proc.ProcessQueue(context.Background(), "b1", false, 0)
	if err != nil {
		t.Fatalf("ProcessQueue: %v", err)
	}
	if res.Processed != 1 || res.Failed != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(f.disp.calls) != 0 {
		t.Fatalf("dry run must not deliver, got %d calls", len(f.disp.calls))
	}
	if e := f.status(t, id); e.Status != events.StatusDone {
		t.Fatalf("dry-run event must be done, got %q", e.Status)
	}
}

func TestNoSubscriberIsSuccess(t *testing.T) {
	t.Parallel()
	f := setup(t)

	id := f.enqueue(t, "card_created")

	res, err := f.proc.ProcessQueue(context.Background(), "b1", true, 0)
	if err != nil {
		t.Fatalf("ProcessQueue: %v", err)
	}
	if res.Processed != 1 || res.Failed != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if e := f.status(t, id); e.Status != events.StatusDone {
		t.Fatalf("unmatched event must be done, got %q", e.Status)
	}
}

func TestFirstFailureStopsAndRecordsReason(t *testing.T) {
	t.Parallel()
	f := setup(t)

	// Three listeners in registration order; the second fails.
	for _, target := range []string{"hook-1", "hook-2", "hook-3"} {
		if _, err := f.registry.Register(context.Background(), "b1", "card_created", listener.KindCommand, target, nil); err != nil {
			t.Fatalf("Register %s: %v", target, err)
		}
	}
	f.disp.failures["hook-2"] = "exit 1"
	id := f.enqueue(t, "card_created")

	res, err := f.proc.ProcessQueue(context.Background(), "b1", true, 0)
	if err != nil {
		t.Fatalf("ProcessQueue: %v", err)
	}
	if res.Processed != 1 || res.Failed != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := fmt.Sprint(f.disp.calls); got != "[hook-1 hook-2]" {
		t.Fatalf("third listener must be skipped, calls: %s", got)
	}

	e := f.status(t, id)
	if e.Status != events.StatusFailed {
		t.Fatalf("expected failed, got %q", e.Status)
	}
	if e.LastError == nil || *e.LastError != "exit 1" {
		t.Fatalf("failure reason not recorded: %v", e.LastError)
	}
}

func TestBatchBoundAndOrder(t *testing.T) {
	t.Parallel()
	f := setup(t)

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, f.enqueue(t, "card_moved"))
	}

	res, err := f.proc.ProcessQueue(context.Background(), "b1", true, 2)
	if err != nil {
		t.Fatalf("ProcessQueue: %v", err)
	}
	if res.Processed != 2 {
		t.Fatalf("expected 2 processed, got %+v", res)
	}
	if e := f.status(t, ids[0]); e.Status != events.StatusDone {
		t.Fatalf("oldest event must be drained first, got %q", e.Status)
	}
	if e := f.status(t, ids[2]); e.Status != events.StatusQueued {
		t.Fatalf("third event must remain queued, got %q", e.Status)
	}

	// Second drain picks up the remainder.
	res, err = f.proc.ProcessQueue(context.Background(), "b1", true, 0)
	if err != nil {
		t.Fatalf("ProcessQueue: %v", err)
	}
	if res.Processed != 1 {
		t.Fatalf("expected 1 processed, got %+v", res)
	}
}

func TestFailedEventIsNotRedrained(t *testing.T) {
	t.Parallel()
	f := setup(t)

	if _, err := f.registry.Register(context.Background(), "b1", "*", listener.KindCommand, "hook", nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	f.disp.failures["hook"] = "boom"
	id := f.enqueue(t, "card_created")

	if _, err := f.proc.ProcessQueue(context.Background(), "b1", true, 0); err != nil {
		t.Fatalf("ProcessQueue: %v", err)
	}
	if e := f.status(t, id); e.Status != events.StatusFailed {
		t.Fatalf("expected failed, got %q", e.Status)
	}

	// Failed events stay failed until an explicit retry requeues them.
	res, err := f.proc.ProcessQueue(context.Background(), "b1", true, 0)
	if err != nil {
		t.Fatalf("ProcessQueue: %v", err)
	}
	if res.Processed != 0 {
		t.Fatalf("failed event must not be re-read, got %+v", res)
	}

	if err := f.queue.Retry(context.Background(), id); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	delete(f.disp.failures, "hook")
	res, err = f.proc.ProcessQueue(context.Background(), "b1", true, 0)
	if err != nil {
		t.Fatalf("ProcessQueue: %v", err)
	}
	if res.Processed != 1 || res.Failed != 0 {
		t.Fatalf("retried event must drain cleanly, got %+v", res)
	}
	if e := f.status(t, id); e.Status != events.StatusDone || e.RetryCount != 1 {
		t.Fatalf("unexpected final state: %+v", e)
	}
}
