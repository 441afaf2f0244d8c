package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kanbus/kanbus/internal/board"
	"github.com/kanbus/kanbus/internal/events"
	"github.com/kanbus/kanbus/internal/listener"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeStoreError maps domain errors onto status codes. Validation failures
// are the caller's fault; unknown ids are 404; everything else is a 500
// with the detail kept in the log, not the response.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	var verr *board.ValidationError
	switch {
	case errors.As(err, &verr):
		s.writeError(w, http.StatusUnprocessableEntity, verr.Error())
	case errors.Is(err, board.ErrCardNotFound), errors.Is(err, events.ErrEventNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleEnsureBoard handles POST /v1/boards: get-or-create plus default
// column seeding, so a fresh board is immediately usable.
func (s *Server) handleEnsureBoard(w http.ResponseWriter, r *http.Request) {
	var req EnsureBoardRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.OwnerKey == "" {
		s.writeError(w, http.StatusBadRequest, "owner_key is required")
		return
	}

	b, err := s.store.EnsureBoard(r.Context(), req.OwnerKey, req.BoardKey)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if err := s.store.SeedDefaults(r.Context(), b.ID); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleListColumns(w http.ResponseWriter, r *http.Request) {
	cols, err := s.store.Columns(r.Context(), chi.URLParam(r, "boardID"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cols)
}

func (s *Server) handleAddColumn(w http.ResponseWriter, r *http.Request) {
	var req AddColumnRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	col, err := s.store.AddColumn(r.Context(), chi.URLParam(r, "boardID"), req.Name, req.WipLimit)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, col)
}

func (s *Server) handleListCards(w http.ResponseWriter, r *http.Request) {
	cards, err := s.store.ListCards(r.Context(), chi.URLParam(r, "boardID"), r.URL.Query().Get("column"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if cards == nil {
		cards = []board.Card{}
	}
	s.writeJSON(w, http.StatusOK, cards)
}

func (s *Server) handleAddCard(w http.ResponseWriter, r *http.Request) {
	var req AddCardRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	card, err := s.store.AddCard(r.Context(), chi.URLParam(r, "boardID"), board.NewCard{
		Title:        req.Title,
		Column:       req.Column,
		Description:  req.Description,
		Assignee:     req.Assignee,
		Priority:     req.Priority,
		ExternalType: req.ExternalType,
		ExternalID:   req.ExternalID,
	})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, card)
}

func (s *Server) handleSearchCards(w http.ResponseWriter, r *http.Request) {
	matches, err := s.store.SearchCards(r.Context(), chi.URLParam(r, "boardID"), r.URL.Query().Get("q"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if matches == nil {
		matches = []board.CardMatch{}
	}
	s.writeJSON(w, http.StatusOK, matches)
}

func (s *Server) handleMoveCard(w http.ResponseWriter, r *http.Request) {
	var req MoveCardRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := s.store.MoveCard(r.Context(),
		chi.URLParam(r, "boardID"), chi.URLParam(r, "cardID"),
		req.TargetColumn, req.BlockedBy, req.BlockedReason)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleUpdateCard(w http.ResponseWriter, r *http.Request) {
	var req UpdateCardRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	n, err := s.store.UpdateCard(r.Context(), chi.URLParam(r, "boardID"), chi.URLParam(r, "cardID"), req.Fields)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}

func (s *Server) handleListListeners(w http.ResponseWriter, r *http.Request) {
	ls, err := s.registry.List(r.Context(), chi.URLParam(r, "boardID"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if ls == nil {
		ls = []listener.Listener{}
	}
	s.writeJSON(w, http.StatusOK, ls)
}

func (s *Server) handleRegisterListener(w http.ResponseWriter, r *http.Request) {
	var req RegisterListenerRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	kind, err := listener.ParseKind(req.Kind)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	l, err := s.registry.Register(r.Context(), chi.URLParam(r, "boardID"), req.Event, kind, req.Target, req.Filter)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, l)
}

func (s *Server) handleDeactivateListener(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Deactivate(r.Context(), chi.URLParam(r, "listenerID")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"removed": 1})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	status := events.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		s.writeError(w, http.StatusBadRequest, "status must be queued, done or failed")
		return
	}

	evs, err := s.queue.List(r.Context(), chi.URLParam(r, "boardID"), status, limit)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if evs == nil {
		evs = []events.Event{}
	}
	s.writeJSON(w, http.StatusOK, evs)
}

// handleInjectEvent enqueues a test event directly, bypassing the board
// store producers.
func (s *Server) handleInjectEvent(w http.ResponseWriter, r *http.Request) {
	var req InjectEventRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Event == "" {
		s.writeError(w, http.StatusBadRequest, "event is required")
		return
	}
	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	id, err := s.queue.Enqueue(r.Context(), chi.URLParam(r, "boardID"), req.Event, payload)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"id": id, "event": req.Event})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := s.proc.ProcessQueue(r.Context(), chi.URLParam(r, "boardID"), req.Execute, req.MaxEvents)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRetryEvent(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Retry(r.Context(), chi.URLParam(r, "eventID")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"queued": 1})
}
