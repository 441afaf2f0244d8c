// Package dispatch executes a single delivery attempt against one listener
// target.
//
// Delivery kinds:
//   - command: the target is run as a shell command line with the JSON
//     envelope on stdin; exit 0 is success.
//   - http: the envelope is POSTed to the target URL with a fixed 10s
//     timeout; any 2xx is success and the body is discarded.
//
// The dispatcher never propagates an error past its own boundary: every
// outcome, including spawn failures, timeouts and unknown kinds, is reduced
// to an (ok, info) result with info truncated to 500 characters.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"time"

	"github.com/kanbus/kanbus/internal/listener"
	"github.com/kanbus/kanbus/internal/log"
)

const (
	// maxInfoChars caps diagnostic output recorded on an event.
	maxInfoChars = 500

	// httpTimeout bounds a webhook delivery. Command execution has no
	// enforced timeout beyond what the invoking environment imposes.
	httpTimeout = 10 * time.Second
)

// Envelope is the JSON document delivered to every listener.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Result is the outcome of one delivery attempt. Info holds diagnostic
// output on success and the failure reason otherwise.
type Result struct {
	OK   bool
	Info string
}

// Dispatcher performs delivery attempts. It is stateless apart from its
// HTTP client and safe for concurrent use.
type Dispatcher struct {
	client *http.Client
	logger *slog.Logger
}

func New() *Dispatcher {
	return &Dispatcher{
		client: &http.Client{Timeout: httpTimeout},
		logger: log.WithComponent("dispatch"),
	}
}

// Deliver serializes the envelope and invokes the listener's target. The
// returned Result is the only signal; Deliver never returns an error.
func (d *Dispatcher) Deliver(ctx context.Context, kind listener.Kind, target string, env Envelope) Result {
	data, err := json.Marshal(env)
	if err != nil {
		return failure(fmt.Sprintf("marshal envelope: %v", err))
	}

	switch kind {
	case listener.KindCommand:
		return d.deliverCommand(ctx, target, data)
	case listener.KindHTTP:
		return d.deliverHTTP(ctx, target, data)
	default:
		return failure(fmt.Sprintf("unknown kind %q", kind))
	}
}

// deliverCommand runs target as a shell command line with the envelope on
// stdin, capturing stdout and stderr separately.
func (d *Dispatcher) deliverCommand(ctx context.Context, target string, data []byte) Result {
	cmd := exec.CommandContext(ctx, "sh", "-c", target)
	cmd.Stdin = bytes.NewReader(data)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	d.logger.Debug("running command listener", "target", target)
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			reason := stderr.String()
			if reason == "" {
				reason = stdout.String()
			}
			if reason == "" {
				reason = fmt.Sprintf("exit %d", exitErr.ExitCode())
			}
			return failure(reason)
		}
		// Spawn failure, ctx cancellation, etc.
		return failure(err.Error())
	}
	return Result{OK: true, Info: truncate(stdout.String())}
}

// deliverHTTP posts the envelope to target. The response body is drained
// and discarded; only the status class matters.
func (d *Dispatcher) deliverHTTP(ctx context.Context, target string, data []byte) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return failure(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	d.logger.Debug("posting http listener", "target", target)
	resp, err := d.client.Do(req)
	if err != nil {
		return failure(err.Error())
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return failure(fmt.Sprintf("unexpected status %s", resp.Status))
	}
	return Result{OK: true, Info: "ok"}
}

func failure(reason string) Result {
	return Result{OK: false, Info: truncate(reason)}
}

func truncate(s string) string {
	if len(s) > maxInfoChars {
		return s[:maxInfoChars]
	}
	return s
}
