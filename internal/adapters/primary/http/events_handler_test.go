package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mw "github.com/teamgrid/realtime-hub/internal/adapters/primary/http/middleware"
	"github.com/teamgrid/realtime-hub/internal/core/domain"
	apperrors "github.com/teamgrid/realtime-hub/internal/core/errors"
)

// fakeBroadcaster records submissions and can be primed to fail.
type fakeBroadcaster struct {
	broadcastErr error

	events        []domain.Event
	notifications map[uuid.UUID][]domain.Event
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{notifications: make(map[uuid.UUID][]domain.Event)}
}

func (f *fakeBroadcaster) Broadcast(event domain.Event) error {
	if f.broadcastErr != nil {
		return f.broadcastErr
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeBroadcaster) SendToUser(userID uuid.UUID, event domain.Event) {
	f.notifications[userID] = append(f.notifications[userID], event)
}

func newEventsHandler(broadcaster *fakeBroadcaster) *EventsHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEventsHandler(broadcaster, NewErrorHandler(logger), logger)
}

func authedRequest(t *testing.T, method, target, body string, identity domain.Identity) *http.Request {
	t.Helper()
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	ctx := context.WithValue(r.Context(), mw.IdentityKey, identity)
	return r.WithContext(ctx)
}

func testIdentity() domain.Identity {
	return domain.Identity{
		UserID: uuid.New(),
		OrgID:  uuid.New(),
		Role:   domain.RoleMember,
	}
}

func TestHandleSubmitEvent_ScopesToCallerOrg(t *testing.T) {
	broadcaster := newFakeBroadcaster()
	handler := newEventsHandler(broadcaster)
	identity := testIdentity()
	projectID := uuid.New()

	body := `{"type":"task:created","projectId":"` + projectID.String() + `","payload":{"taskId":"t-1"}}`
	w := httptest.NewRecorder()
	handler.HandleSubmitEvent(w, authedRequest(t, http.MethodPost, "/events", body, identity))

	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, broadcaster.events, 1)

	event := broadcaster.events[0]
	assert.Equal(t, domain.EventTaskCreated, event.Type)
	assert.Equal(t, identity.OrgID, event.Scope.OrgID)
	require.NotNil(t, event.Scope.ProjectID)
	assert.Equal(t, projectID, *event.Scope.ProjectID)
}

func TestHandleSubmitEvent_Unauthenticated(t *testing.T) {
	handler := newEventsHandler(newFakeBroadcaster())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(`{"type":"task:created"}`))
	handler.HandleSubmitEvent(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandleSubmitEvent_InvalidBody(t *testing.T) {
	handler := newEventsHandler(newFakeBroadcaster())

	w := httptest.NewRecorder()
	handler.HandleSubmitEvent(w, authedRequest(t, http.MethodPost, "/events", "not json", testIdentity()))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleSubmitEvent_HubOverloaded(t *testing.T) {
	broadcaster := newFakeBroadcaster()
	broadcaster.broadcastErr = apperrors.ErrHubQueueFull
	handler := newEventsHandler(broadcaster)

	w := httptest.NewRecorder()
	handler.HandleSubmitEvent(w, authedRequest(t, http.MethodPost, "/events", `{"type":"task:created"}`, testIdentity()))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "OVERLOADED", resp.Code)
}

func TestHandleSendNotification(t *testing.T) {
	broadcaster := newFakeBroadcaster()
	handler := newEventsHandler(broadcaster)
	identity := testIdentity()
	target := uuid.New()

	body := `{"targetUserId":"` + target.String() + `","payload":{"kind":"task-assigned"}}`
	w := httptest.NewRecorder()
	handler.HandleSendNotification(w, authedRequest(t, http.MethodPost, "/notifications", body, identity))

	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, broadcaster.notifications[target], 1)

	event := broadcaster.notifications[target][0]
	assert.Equal(t, domain.EventNotificationReceived, event.Type)
	assert.Equal(t, identity.OrgID, event.Scope.OrgID)
}

func TestHandleSendNotification_MissingTarget(t *testing.T) {
	handler := newEventsHandler(newFakeBroadcaster())

	w := httptest.NewRecorder()
	handler.HandleSendNotification(w, authedRequest(t, http.MethodPost, "/notifications", `{"payload":{}}`, testIdentity()))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
