package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/event"
	"github.com/parleyhq/parley/internal/history"
	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/metrics"
	"github.com/parleyhq/parley/internal/session"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// sessionHandler exposes session CRUD and reconstructed history.
type sessionHandler struct {
	store   session.Store
	recon   *history.Reconstructor
	metrics *metrics.Metrics
	logger  log.Logger
}

// sessionResponse is the wire shape of one session.
type sessionResponse struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	MessageCount int            `json:"messageCount"`
	LastActivity time.Time      `json:"lastActivity"`
	Status       string         `json:"status"`
	Starred      bool           `json:"starred"`
	Tags         []string       `json:"tags,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

func toSessionResponse(s *session.Session) sessionResponse {
	return sessionResponse{
		ID:           s.ID,
		Title:        s.Title,
		MessageCount: s.MessageCount,
		LastActivity: s.LastActivity,
		Status:       string(s.Status),
		Starred:      s.Starred,
		Tags:         s.Tags,
		Metadata:     s.Metadata,
		CreatedAt:    s.CreatedAt,
	}
}

func (h *sessionHandler) list(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())

	limit := queryInt(r, "limit", defaultListLimit)
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := queryInt(r, "offset", 0)

	sessions, total, err := h.store.List(r.Context(), actor, limit, offset)
	if err != nil {
		h.logger.Error("listing sessions", "actor_id", actor, "error", err)
		writeError(w, http.StatusInternalServerError, "store_error", "failed to list sessions", h.logger)
		return
	}

	resp := struct {
		Sessions []sessionResponse `json:"sessions"`
		Total    int               `json:"total"`
	}{Sessions: make([]sessionResponse, 0, len(sessions)), Total: total}
	for _, s := range sessions {
		resp.Sessions = append(resp.Sessions, toSessionResponse(s))
	}
	writeJSON(w, http.StatusOK, resp, h.logger)
}

func (h *sessionHandler) create(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())

	// An empty body is a valid "untitled session" request.
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}

	now := time.Now().UTC()
	sess := &session.Session{
		ID:           uuid.New().String(),
		OwnerID:      actor,
		Title:        session.DeriveTitle(req.Title),
		Status:       session.StatusActive,
		LastActivity: now,
		CreatedAt:    now,
	}
	if err := h.store.Upsert(r.Context(), sess); err != nil {
		h.logger.Error("creating session", "actor_id", actor, "error", err)
		writeError(w, http.StatusInternalServerError, "store_error", "failed to create session", h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(sess), h.logger)
}

func (h *sessionHandler) get(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	id := r.PathValue("id")

	sess, err := h.store.Get(r.Context(), actor, id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "session not found", h.logger)
			return
		}
		h.logger.Error("getting session", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "store_error", "failed to load session", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess), h.logger)
}

// patchRequest is the partial-update body; absent fields stay untouched.
type patchRequest struct {
	Title   *string  `json:"title"`
	Status  *string  `json:"status"`
	Starred *bool    `json:"starred"`
	Tags    []string `json:"tags"`
}

func (h *sessionHandler) patch(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	id := r.PathValue("id")

	var req patchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}

	upd := session.Update{Title: req.Title, Starred: req.Starred, Tags: req.Tags}
	if req.Status != nil {
		status := session.Status(*req.Status)
		if status != session.StatusActive && status != session.StatusArchived {
			writeError(w, http.StatusBadRequest, "invalid_status", "status must be active or archived", h.logger)
			return
		}
		upd.Status = &status
	}

	if err := h.store.Update(r.Context(), actor, id, upd); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "session not found", h.logger)
			return
		}
		h.logger.Error("updating session", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "store_error", "failed to update session", h.logger)
		return
	}

	sess, err := h.store.Get(r.Context(), actor, id)
	if err != nil {
		h.logger.Error("reloading session after update", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "store_error", "failed to load session", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess), h.logger)
}

func (h *sessionHandler) delete(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	id := r.PathValue("id")

	if err := h.store.Delete(r.Context(), actor, id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "session not found", h.logger)
			return
		}
		h.logger.Error("deleting session", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "store_error", "failed to delete session", h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// messages returns the session's reconstructed chronological history.
// Reconstruction either succeeds fully or fails the whole request; a
// malformed event yields 502, not partial history.
func (h *sessionHandler) messages(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	id := r.PathValue("id")

	if _, err := h.store.Get(r.Context(), actor, id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "session not found", h.logger)
			return
		}
		h.logger.Error("getting session", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "store_error", "failed to load session", h.logger)
		return
	}

	start := time.Now()
	msgs, err := h.recon.Messages(r.Context(), id, actor)
	h.metrics.ReconstructDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, event.ErrMalformedEnvelope) ||
			errors.Is(err, event.ErrMissingMessage) ||
			errors.Is(err, event.ErrMalformedBlob) {
			h.logger.Error("history integrity failure", "session_id", id, "error", err)
			writeError(w, http.StatusBadGateway, "history_corrupt", "session history could not be reconstructed", h.logger)
			return
		}
		h.logger.Error("reconstructing history", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "history_error", "failed to load messages", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Messages []event.Message `json:"messages"`
	}{Messages: msgs}, h.logger)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
