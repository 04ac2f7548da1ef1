package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/parleyhq/parley/internal/event"
	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/metrics"
	"github.com/parleyhq/parley/internal/relay"
)

const maxChatBodyBytes = 1 << 20 // 1MB

// chatHandler exposes the streaming relay over SSE.
type chatHandler struct {
	relay   *relay.Relay
	metrics *metrics.Metrics
	logger  log.Logger
}

// chatRequest is the POST /api/v1/chat/stream body.
type chatRequest struct {
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message"`
}

// stream runs one chat turn and streams its events until the relay closes
// the channel. Request errors found before streaming begins are plain
// JSON; once SSE headers are out, failures arrive as error events.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "missing_message", "message is required", h.logger)
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming not supported", h.logger)
		return
	}

	actor := actorFromContext(r.Context())
	started := time.Now()
	ch, sessionID := h.relay.Stream(r.Context(), relay.Turn{
		SessionID: req.SessionID,
		ActorID:   actor,
		Text:      req.Message,
	})

	h.metrics.ActiveStreams.Inc()
	defer h.metrics.ActiveStreams.Dec()
	h.logger.Debug("stream started", "session_id", sessionID, "actor_id", actor)

	status := metrics.StatusCompleted
	for ev := range ch {
		h.metrics.StreamEventCounter.WithLabelValues(streamTypeLabel(ev.Type)).Inc()
		if ev.Type == event.StreamError {
			status = metrics.StatusError
		}
		if err := sse.writeStreamEvent(ev); err != nil {
			// Write failures mean the client hung up; drain the relay so
			// it can finalize, then stop.
			h.logger.Debug("stream write failed", "session_id", sessionID, "error", err)
			status = metrics.StatusCanceled
			for range ch {
			}
			break
		}
	}

	h.metrics.TurnCounter.WithLabelValues(status).Inc()
	h.metrics.TurnDuration.Observe(time.Since(started).Seconds())
	h.logger.Debug("stream finished",
		"session_id", sessionID, "status", status, "duration", time.Since(started))
}

func streamTypeLabel(t event.StreamType) string {
	switch t {
	case event.StreamConnected:
		return "connected"
	case event.StreamKeepAlive:
		return "keep_alive"
	case event.StreamError:
		return "error"
	case event.StreamAgent:
		return "agent"
	default:
		return "unknown"
	}
}
