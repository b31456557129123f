package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/teamgrid/realtime-hub/internal/adapters/primary/http/middleware"
	"github.com/teamgrid/realtime-hub/internal/core/domain"
	apperrors "github.com/teamgrid/realtime-hub/internal/core/errors"
	"github.com/teamgrid/realtime-hub/internal/core/ports"
)

// EventsHandler lets internal services submit events without holding a
// websocket connection: the CRUD API posts here after a write commits and
// the hub fans the event out to connected clients.
type EventsHandler struct {
	broadcaster  ports.EventBroadcaster
	errorHandler *ErrorHandler
	logger       *slog.Logger
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(broadcaster ports.EventBroadcaster, errorHandler *ErrorHandler, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		broadcaster:  broadcaster,
		errorHandler: errorHandler,
		logger:       logger,
	}
}

// RegisterRoutes registers the producer routes
func (h *EventsHandler) RegisterRoutes(r chi.Router) {
	r.Post("/events", h.HandleSubmitEvent)
	r.Post("/notifications", h.HandleSendNotification)
}

// submitEventRequest is the producer-facing event envelope.
type submitEventRequest struct {
	Type      string          `json:"type"`
	ProjectID *uuid.UUID      `json:"projectId,omitempty"`
	ChannelID *uuid.UUID      `json:"channelId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// HandleSubmitEvent accepts a domain event for room fan-out.
func (h *EventsHandler) HandleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	identity, ok := mw.IdentityFromContext(r.Context())
	if !ok {
		h.errorHandler.Handle(w, r, apperrors.NewUnauthorizedError(apperrors.ErrMissingCredential, "Authentication required"))
		return
	}

	var req submitEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorHandler.Handle(w, r, apperrors.NewBadRequestError(err, "Invalid request body"))
		return
	}

	// The org scope comes from the caller's verified identity, mirroring
	// the websocket path.
	scope := domain.Scope{
		OrgID:     identity.OrgID,
		ProjectID: req.ProjectID,
		ChannelID: req.ChannelID,
	}

	if err := h.broadcaster.Broadcast(domain.NewEvent(domain.EventType(req.Type), scope, req.Payload)); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	WriteAccepted(w, "event accepted")
}

// sendNotificationRequest targets a single user across all their connections.
type sendNotificationRequest struct {
	TargetUserID uuid.UUID       `json:"targetUserId"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// HandleSendNotification accepts a user-targeted notification.
func (h *EventsHandler) HandleSendNotification(w http.ResponseWriter, r *http.Request) {
	identity, ok := mw.IdentityFromContext(r.Context())
	if !ok {
		h.errorHandler.Handle(w, r, apperrors.NewUnauthorizedError(apperrors.ErrMissingCredential, "Authentication required"))
		return
	}

	var req sendNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorHandler.Handle(w, r, apperrors.NewBadRequestError(err, "Invalid request body"))
		return
	}

	if req.TargetUserID == uuid.Nil {
		h.errorHandler.Handle(w, r, apperrors.NewBadRequestError(apperrors.ErrMissingTarget, "targetUserId is required"))
		return
	}

	event := domain.NewEvent(
		domain.EventNotificationReceived,
		domain.Scope{OrgID: identity.OrgID},
		req.Payload,
	)
	h.broadcaster.SendToUser(req.TargetUserID, event)

	WriteAccepted(w, "notification accepted")
}
