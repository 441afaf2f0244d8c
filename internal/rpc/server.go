// Package rpc implements the line-delimited JSON-RPC 2.0 tool server that
// external callers drive over stdin/stdout. It is a thin protocol adapter:
// all behavior lives in the board store, event queue, listener registry and
// processor it wraps.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/kanbus/kanbus/internal/log"
)

const serverVersion = "0.1.0"

// Server reads one JSON-RPC request per line and writes one response per
// line. Malformed lines get a parse-error response rather than killing the
// loop.
type Server struct {
	tools  *Tools
	logger *slog.Logger
}

func NewServer(tools *Tools) *Server {
	return &Server{tools: tools, logger: log.WithComponent("rpc")}
}

// Serve blocks until r is exhausted or ctx is cancelled.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	out := bufio.NewWriter(w)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp := s.handleLine(ctx, line)
		if err := writeResponse(out, resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	return scanner.Err()
}

func (s *Server) handleLine(ctx context.Context, line []byte) Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return errorResponse(nil, CodeParseError, fmt.Sprintf("Parse error: %v", err))
	}
	return s.Handle(ctx, req)
}

// Handle dispatches a single decoded request.
func (s *Server) Handle(ctx context.Context, req Request) Response {
	switch req.Method {
	case "initialize":
		return Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]any{
				"serverInfo": map[string]string{"name": "kanbus", "version": serverVersion},
			},
		}

	case "tools/list":
		return Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  map[string]any{"tools": Schemas()},
		}

	case "tools/call":
		var params CallParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				return errorResponse(req.ID, CodeInternalError, fmt.Sprintf("Internal error: %v", err))
			}
		}
		res, err := s.tools.Call(ctx, params.Name, params.Arguments)
		if err != nil {
			s.logger.Warn("tool call failed", "tool", params.Name, "error", err)
			return errorResponse(req.ID, CodeInternalError, fmt.Sprintf("Internal error: %v", err))
		}
		return Response{JSONRPC: "2.0", ID: req.ID, Result: res}
	}

	return errorResponse(req.ID, CodeMethodNotFound, "Method not found")
}

func errorResponse(id any, code int, msg string) Response {
	return Response{JSONRPC: "2.0", ID: id, Error: &Error{Code: code, Message: msg}}
}

func writeResponse(w *bufio.Writer, resp Response) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(resp); err != nil {
		return err
	}
	return w.Flush()
}
