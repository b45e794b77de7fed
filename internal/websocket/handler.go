// Package websocket streams live job progress to browser and CLI watchers.
package websocket

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/openmusicplayer/mediafetch/internal/download"
	apperrors "github.com/openmusicplayer/mediafetch/internal/errors"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Access is decided by the auth middleware in front of this handler
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler handles WebSocket connections.
type Handler struct {
	hub    *Hub
	source JobSource
	logger zerolog.Logger
}

// NewHandler creates a new WebSocket handler.
func NewHandler(hub *Hub, source JobSource, log zerolog.Logger) *Handler {
	return &Handler{
		hub:    hub,
		source: source,
		logger: log.With().Str("component", "websocket").Logger(),
	}
}

// ServeWS handles GET /api/v1/downloads/{id}/events. Unknown jobs are
// rejected before the upgrade.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())
	jobID := chi.URLParam(r, "id")

	if _, err := h.source.GetJob(r.Context(), jobID); err != nil {
		if errors.Is(err, download.ErrJobNotFound) {
			apperrors.WriteError(w, requestID, apperrors.JobNotFound())
			return
		}
		apperrors.WriteError(w, requestID, apperrors.QueueError("failed to load job").WithCause(err))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("job_id", jobID).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(h.hub, conn, jobID)
	if !h.hub.Register(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// GetHub returns the hub instance for external access.
func (h *Handler) GetHub() *Hub {
	return h.hub
}
