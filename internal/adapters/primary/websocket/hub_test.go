package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamgrid/realtime-hub/internal/core/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	return NewHub(Config{}, testLogger())
}

func newTestClient(t *testing.T, h *Hub, orgID uuid.UUID) *Client {
	t.Helper()
	identity := domain.Identity{
		UserID: uuid.New(),
		OrgID:  orgID,
		Role:   domain.RoleMember,
	}
	return NewClient(h, nil, identity, testLogger())
}

// recvEvent pops the next queued event or fails.
func recvEvent(t *testing.T, c *Client) domain.Event {
	t.Helper()
	select {
	case event := <-c.send:
		return event
	default:
		t.Fatal("expected a queued event")
		return domain.Event{}
	}
}

func requireNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case event := <-c.send:
		t.Fatalf("unexpected event %q", event.Type)
	default:
	}
}

// drainAdmission consumes the connection:ready ack queued at registration.
func drainAdmission(t *testing.T, c *Client) {
	t.Helper()
	event := recvEvent(t, c)
	require.Equal(t, domain.EventConnectionReady, event.Type)
}

func taskEvent(t *testing.T, orgID, projectID uuid.UUID, sender *Client) domain.Event {
	t.Helper()
	event := domain.NewEvent(
		domain.EventTaskUpdated,
		domain.Scope{OrgID: orgID, ProjectID: &projectID},
		json.RawMessage(`{"taskId":"t-1"}`),
	)
	if sender != nil {
		event.SenderConnID = sender.ID.String()
	}
	return event
}

func TestDispatch_MultiRoomDeliversOneCopy(t *testing.T) {
	h := newTestHub(t)
	orgID := uuid.New()
	projectID := uuid.New()

	member := newTestClient(t, h, orgID)
	h.handleRegister(member)
	drainAdmission(t, member)

	// Member of both the org room and the project room.
	h.handleJoin(member, domain.OrgRoom(orgID))
	h.handleJoin(member, domain.ProjectRoom(projectID))

	h.handleDispatch(taskEvent(t, orgID, projectID, nil), false)

	event := recvEvent(t, member)
	assert.Equal(t, domain.EventTaskUpdated, event.Type)
	requireNoEvent(t, member)
}

func TestJoinLeave_Idempotent(t *testing.T) {
	h := newTestHub(t)
	orgID := uuid.New()
	projectID := uuid.New()

	member := newTestClient(t, h, orgID)
	h.handleRegister(member)
	drainAdmission(t, member)

	h.handleJoin(member, domain.ProjectRoom(projectID))
	h.handleJoin(member, domain.ProjectRoom(projectID))
	assert.Equal(t, 1, h.rooms.size())
	assert.Len(t, member.rooms, 1)

	// A double join must not produce a double delivery.
	h.handleDispatch(taskEvent(t, orgID, projectID, nil), false)
	recvEvent(t, member)
	requireNoEvent(t, member)

	h.handleLeave(member, domain.ProjectRoom(projectID))
	h.handleLeave(member, domain.ProjectRoom(projectID))
	assert.Zero(t, h.rooms.size())
	assert.Empty(t, member.rooms)
}

func TestDispatch_FanoutReachesEveryMember(t *testing.T) {
	h := newTestHub(t)
	orgID := uuid.New()
	projectID := uuid.New()

	members := make([]*Client, 5)
	for i := range members {
		members[i] = newTestClient(t, h, orgID)
		h.handleRegister(members[i])
		drainAdmission(t, members[i])
		h.handleJoin(members[i], domain.ProjectRoom(projectID))
	}

	h.handleDispatch(taskEvent(t, orgID, projectID, nil), false)

	for _, member := range members {
		assert.Equal(t, domain.EventTaskUpdated, recvEvent(t, member).Type)
	}
}

func TestDispatch_OrgIsolation(t *testing.T) {
	h := newTestHub(t)
	orgA := uuid.New()
	orgB := uuid.New()
	projectID := uuid.New()

	inside := newTestClient(t, h, orgA)
	outsider := newTestClient(t, h, orgB)
	h.handleRegister(inside)
	h.handleRegister(outsider)
	drainAdmission(t, inside)
	drainAdmission(t, outsider)

	h.handleJoin(inside, domain.ProjectRoom(projectID))
	// Outsider lands in the same project room (id collision); the tenant
	// guard must still keep org A's events away from it.
	h.handleJoin(outsider, domain.ProjectRoom(projectID))

	h.handleDispatch(taskEvent(t, orgA, projectID, nil), false)

	assert.Equal(t, domain.EventTaskUpdated, recvEvent(t, inside).Type)
	requireNoEvent(t, outsider)
}

func TestDispatch_CrossOrgRoomJoinRejected(t *testing.T) {
	h := newTestHub(t)
	orgA := uuid.New()
	orgB := uuid.New()

	intruder := newTestClient(t, h, orgB)
	h.handleRegister(intruder)
	drainAdmission(t, intruder)

	h.handleJoin(intruder, domain.OrgRoom(orgA))

	assert.Empty(t, intruder.rooms)
	assert.Nil(t, h.rooms.members(domain.OrgRoom(orgA)))
}

func TestDispatch_SenderExcludedForEphemeralEvents(t *testing.T) {
	h := newTestHub(t)
	orgID := uuid.New()
	projectID := uuid.New()

	sender := newTestClient(t, h, orgID)
	peer := newTestClient(t, h, orgID)
	h.handleRegister(sender)
	h.handleRegister(peer)
	drainAdmission(t, sender)
	drainAdmission(t, peer)

	h.handleJoin(sender, domain.ProjectRoom(projectID))
	h.handleJoin(peer, domain.ProjectRoom(projectID))

	drag := domain.NewEvent(
		domain.EventCardDragging,
		domain.Scope{OrgID: orgID, ProjectID: &projectID},
		json.RawMessage(`{"cardId":"c-1"}`),
	)
	drag.SenderConnID = sender.ID.String()
	h.handleDispatch(drag, false)

	assert.Equal(t, domain.EventCardDragging, recvEvent(t, peer).Type)
	requireNoEvent(t, sender)
}

func TestDispatch_SenderIncludedForStateChanges(t *testing.T) {
	h := newTestHub(t)
	orgID := uuid.New()
	projectID := uuid.New()

	sender := newTestClient(t, h, orgID)
	h.handleRegister(sender)
	drainAdmission(t, sender)
	h.handleJoin(sender, domain.ProjectRoom(projectID))

	// State changes echo to the sender so its other tabs stay in sync.
	h.handleDispatch(taskEvent(t, orgID, projectID, sender), false)

	assert.Equal(t, domain.EventTaskUpdated, recvEvent(t, sender).Type)
}

func TestDispatch_MalformedEventDropped(t *testing.T) {
	h := newTestHub(t)
	orgID := uuid.New()

	member := newTestClient(t, h, orgID)
	h.handleRegister(member)
	drainAdmission(t, member)
	h.handleJoin(member, domain.OrgRoom(orgID))

	// task:created requires a project id.
	missingProject := domain.NewEvent(domain.EventTaskCreated, domain.Scope{OrgID: orgID}, nil)
	h.handleDispatch(missingProject, false)
	requireNoEvent(t, member)

	unknown := domain.NewEvent(domain.EventType("sprint:warp"), domain.Scope{OrgID: orgID}, nil)
	h.handleDispatch(unknown, false)
	requireNoEvent(t, member)
}

func TestDispatch_ChatScopedToChannel(t *testing.T) {
	h := newTestHub(t)
	orgID := uuid.New()
	channelID := uuid.New()

	inChannel := newTestClient(t, h, orgID)
	orgOnly := newTestClient(t, h, orgID)
	h.handleRegister(inChannel)
	h.handleRegister(orgOnly)
	drainAdmission(t, inChannel)
	drainAdmission(t, orgOnly)

	h.handleJoin(inChannel, domain.ChannelRoom(channelID))
	h.handleJoin(orgOnly, domain.OrgRoom(orgID))

	chat := domain.NewEvent(
		domain.EventChatMessage,
		domain.Scope{OrgID: orgID, ChannelID: &channelID},
		json.RawMessage(`{"body":"hello"}`),
	)
	h.handleDispatch(chat, false)

	assert.Equal(t, domain.EventChatMessage, recvEvent(t, inChannel).Type)
	requireNoEvent(t, orgOnly)
}

func TestDispatch_PerRoomOrdering(t *testing.T) {
	h := newTestHub(t)
	orgID := uuid.New()
	projectID := uuid.New()

	member := newTestClient(t, h, orgID)
	h.handleRegister(member)
	drainAdmission(t, member)
	h.handleJoin(member, domain.ProjectRoom(projectID))

	first := domain.NewEvent(domain.EventTaskCreated, domain.Scope{OrgID: orgID, ProjectID: &projectID}, json.RawMessage(`{"seq":1}`))
	second := domain.NewEvent(domain.EventTaskUpdated, domain.Scope{OrgID: orgID, ProjectID: &projectID}, json.RawMessage(`{"seq":2}`))

	h.handleDispatch(first, false)
	h.handleDispatch(second, false)

	assert.Equal(t, domain.EventTaskCreated, recvEvent(t, member).Type)
	assert.Equal(t, domain.EventTaskUpdated, recvEvent(t, member).Type)
}

func TestNotificationFanout_AllConnectionsOfUser(t *testing.T) {
	h := newTestHub(t)
	orgID := uuid.New()
	userID := uuid.New()

	identity := domain.Identity{UserID: userID, OrgID: orgID, Role: domain.RoleMember}
	tabs := make([]*Client, 3)
	for i := range tabs {
		tabs[i] = NewClient(h, nil, identity, testLogger())
		h.handleRegister(tabs[i])
		drainAdmission(t, tabs[i])
	}

	bystander := newTestClient(t, h, orgID)
	h.handleRegister(bystander)
	drainAdmission(t, bystander)

	payload, err := json.Marshal(map[string]any{
		"targetUserId": userID,
		"notification": map[string]string{"kind": "task-assigned"},
	})
	require.NoError(t, err)

	send := domain.NewEvent(domain.EventNotificationSend, domain.Scope{OrgID: orgID}, payload)
	h.handleDispatch(send, false)

	for _, tab := range tabs {
		event := recvEvent(t, tab)
		assert.Equal(t, domain.EventNotificationReceived, event.Type)
	}
	requireNoEvent(t, bystander)

	// After all connections are gone, fanout reaches nobody.
	for _, tab := range tabs {
		h.handleUnregister(tab)
	}
	h.handleDispatch(send, false)
	assert.Empty(t, h.registry.lookupByUser(userID))
}

func TestNotificationRead_SyncsOtherTabsOnly(t *testing.T) {
	h := newTestHub(t)
	orgID := uuid.New()
	identity := domain.Identity{UserID: uuid.New(), OrgID: orgID, Role: domain.RoleMember}

	reader := NewClient(h, nil, identity, testLogger())
	otherTab := NewClient(h, nil, identity, testLogger())
	h.handleRegister(reader)
	h.handleRegister(otherTab)
	drainAdmission(t, reader)
	drainAdmission(t, otherTab)

	read := domain.NewEvent(domain.EventNotificationRead, domain.Scope{OrgID: orgID}, json.RawMessage(`{"notificationId":"n-1"}`))
	read.SenderConnID = reader.ID.String()
	h.handleDispatch(read, false)

	assert.Equal(t, domain.EventNotificationRead, recvEvent(t, otherTab).Type)
	requireNoEvent(t, reader)
}

func TestDisconnect_CleansRegistryAndRooms(t *testing.T) {
	h := newTestHub(t)
	orgID := uuid.New()
	projectID := uuid.New()
	channelID := uuid.New()

	c := newTestClient(t, h, orgID)
	h.handleRegister(c)
	drainAdmission(t, c)

	h.handleJoin(c, domain.OrgRoom(orgID))
	h.handleJoin(c, domain.ProjectRoom(projectID))
	h.handleJoin(c, domain.ChannelRoom(channelID))
	require.Equal(t, 3, h.rooms.size())

	h.handleUnregister(c)

	assert.False(t, h.registry.contains(c))
	assert.Empty(t, h.registry.lookupByUser(c.Identity.UserID))
	assert.Zero(t, h.rooms.size())

	// The send channel is closed so the write pump terminates.
	_, open := <-c.send
	assert.False(t, open)
}

func TestSlowConsumer_DroppedOnOverflow(t *testing.T) {
	h := NewHub(Config{SendQueueSize: 1}, testLogger())
	orgID := uuid.New()
	projectID := uuid.New()

	slow := newTestClient(t, h, orgID)
	h.handleRegister(slow)
	drainAdmission(t, slow)
	h.handleJoin(slow, domain.ProjectRoom(projectID))

	// First dispatch fills the buffer; second overflows it and evicts the
	// connection instead of blocking the dispatch path.
	h.handleDispatch(taskEvent(t, orgID, projectID, nil), false)
	h.handleDispatch(taskEvent(t, orgID, projectID, nil), false)

	assert.False(t, h.registry.contains(slow))
	assert.Zero(t, h.rooms.size())
}

func TestSlowConsumer_CascadingEvictionKeepsDispatching(t *testing.T) {
	h := NewHub(Config{SendQueueSize: 1}, testLogger())
	orgID := uuid.New()

	// Two saturated connections of different users in the same org room.
	// Evicting the first fires its offline broadcast into the room, which
	// overflows and evicts the second mid fan-out; the outer dispatch
	// still holds both in its recipient snapshot and must survive.
	first := newTestClient(t, h, orgID)
	second := newTestClient(t, h, orgID)
	h.handleRegister(first)
	drainAdmission(t, first)
	h.handleRegister(second)
	drainAdmission(t, second)
	h.handleJoin(first, domain.OrgRoom(orgID))
	h.handleJoin(second, domain.OrgRoom(orgID))

	fill := domain.NewEvent(domain.EventBudgetUpdated, domain.Scope{OrgID: orgID}, json.RawMessage(`{"seq":1}`))
	overflow := domain.NewEvent(domain.EventBudgetUpdated, domain.Scope{OrgID: orgID}, json.RawMessage(`{"seq":2}`))

	h.handleDispatch(fill, false)
	h.handleDispatch(overflow, false)

	assert.False(t, h.registry.contains(first))
	assert.False(t, h.registry.contains(second))
	assert.Zero(t, h.rooms.size())

	// The loop remains serviceable after the cascade.
	survivor := newTestClient(t, h, orgID)
	h.handleRegister(survivor)
	drainAdmission(t, survivor)
	h.handleJoin(survivor, domain.OrgRoom(orgID))
	h.handleDispatch(fill, false)
	assert.Equal(t, domain.EventBudgetUpdated, recvEvent(t, survivor).Type)
}

func TestPresence_OnlineOfflineLifecycle(t *testing.T) {
	h := newTestHub(t)
	orgID := uuid.New()
	userID := uuid.New()
	identity := domain.Identity{UserID: userID, OrgID: orgID, Role: domain.RoleMember}

	watcher := newTestClient(t, h, orgID)
	h.handleRegister(watcher)
	drainAdmission(t, watcher)
	h.handleJoin(watcher, domain.OrgRoom(orgID))

	tab1 := NewClient(h, nil, identity, testLogger())
	h.handleRegister(tab1)
	drainAdmission(t, tab1)

	// First connection: offline -> online, broadcast to the org room.
	online := recvEvent(t, watcher)
	require.Equal(t, domain.EventUserOnline, online.Type)

	var snapshot domain.PresenceSnapshot
	require.NoError(t, json.Unmarshal(online.Payload, &snapshot))
	assert.Equal(t, userID, snapshot.UserID)
	assert.Equal(t, domain.PresenceOnline, snapshot.Status)

	// Second tab: no transition.
	tab2 := NewClient(h, nil, identity, testLogger())
	h.handleRegister(tab2)
	drainAdmission(t, tab2)
	requireNoEvent(t, watcher)

	// Closing one of two tabs keeps the user online.
	h.handleUnregister(tab1)
	requireNoEvent(t, watcher)
	assert.Equal(t, domain.PresenceOnline, h.presence.status(orgID, userID))

	// Closing the last tab fires the offline transition.
	h.handleUnregister(tab2)
	offline := recvEvent(t, watcher)
	require.Equal(t, domain.EventUserOffline, offline.Type)
	assert.Equal(t, domain.PresenceOffline, h.presence.status(orgID, userID))
}

func TestPresence_ExplicitStatusUpdate(t *testing.T) {
	h := newTestHub(t)
	orgID := uuid.New()

	watcher := newTestClient(t, h, orgID)
	h.handleRegister(watcher)
	drainAdmission(t, watcher)
	h.handleJoin(watcher, domain.OrgRoom(orgID))

	subject := newTestClient(t, h, orgID)
	h.handleRegister(subject)
	drainAdmission(t, subject)
	require.Equal(t, domain.EventUserOnline, recvEvent(t, watcher).Type)

	update := domain.NewEvent(domain.EventPresenceUpdate, domain.Scope{OrgID: orgID}, json.RawMessage(`{"status":"busy"}`))
	update.SenderConnID = subject.ID.String()
	h.handleDispatch(update, false)

	updated := recvEvent(t, watcher)
	require.Equal(t, domain.EventPresenceUpdated, updated.Type)

	var snapshot domain.PresenceSnapshot
	require.NoError(t, json.Unmarshal(updated.Payload, &snapshot))
	assert.Equal(t, domain.PresenceBusy, snapshot.Status)
	assert.Equal(t, subject.Identity.UserID, snapshot.UserID)

	// offline is derived, never client-submitted.
	bad := domain.NewEvent(domain.EventPresenceUpdate, domain.Scope{OrgID: orgID}, json.RawMessage(`{"status":"offline"}`))
	bad.SenderConnID = subject.ID.String()
	h.handleDispatch(bad, false)
	requireNoEvent(t, watcher)
}

// recordingBackplane captures relayed events for assertions.
type recordingBackplane struct {
	published chan domain.Event
}

func (b *recordingBackplane) Publish(_ context.Context, event domain.Event) error {
	b.published <- event
	return nil
}

func (b *recordingBackplane) Subscribe(context.Context, func(domain.Event)) error { return nil }

func (b *recordingBackplane) Close() error { return nil }

func TestBackplane_RelaysLocalButNotRemoteEvents(t *testing.T) {
	plane := &recordingBackplane{published: make(chan domain.Event, 1)}
	h := NewHub(Config{Backplane: plane}, testLogger())
	orgID := uuid.New()
	projectID := uuid.New()

	// Locally-originated dispatches are relayed to peers.
	h.handleDispatch(taskEvent(t, orgID, projectID, nil), false)
	select {
	case event := <-plane.published:
		assert.Equal(t, domain.EventTaskUpdated, event.Type)
	case <-time.After(time.Second):
		t.Fatal("expected local event on the backplane")
	}

	// Events that arrived over the backplane must not be republished, or
	// two instances would relay forever.
	h.handleDispatch(taskEvent(t, orgID, projectID, nil), true)
	select {
	case event := <-plane.published:
		t.Fatalf("remote event republished: %q", event.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSendToUser_RelaysOnBackplane(t *testing.T) {
	plane := &recordingBackplane{published: make(chan domain.Event, 8)}
	h := NewHub(Config{Backplane: plane}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	orgID := uuid.New()
	target := newTestClient(t, h, orgID)
	require.NoError(t, h.Register(target))
	require.Equal(t, domain.EventConnectionReady, recvTimeout(t, target).Type)

	notification := domain.NewEvent(
		domain.EventNotificationReceived,
		domain.Scope{OrgID: orgID},
		json.RawMessage(`{"kind":"task-assigned"}`),
	)
	h.SendToUser(target.Identity.UserID, notification)

	// Local connections of the target user are reached directly.
	received := recvTimeout(t, target)
	assert.Equal(t, domain.EventNotificationReceived, received.Type)
	assert.JSONEq(t, `{"kind":"task-assigned"}`, string(received.Payload))

	// The submission is also relayed so peer instances can fan it out to
	// the same user's connections on other nodes.
	deadline := time.After(time.Second)
	for {
		select {
		case event := <-plane.published:
			if event.Type != domain.EventNotificationSend {
				continue
			}
			var payload struct {
				TargetUserID uuid.UUID `json:"targetUserId"`
			}
			require.NoError(t, json.Unmarshal(event.Payload, &payload))
			assert.Equal(t, target.Identity.UserID, payload.TargetUserID)
			return
		case <-deadline:
			t.Fatal("notification never reached the backplane")
		}
	}
}

func TestHub_RunEndToEnd(t *testing.T) {
	h := newTestHub(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	orgID := uuid.New()
	projectID := uuid.New()
	c := newTestClient(t, h, orgID)

	require.NoError(t, h.Register(c))
	h.Join(c, domain.ProjectRoom(projectID))
	require.NoError(t, h.Broadcast(taskEvent(t, orgID, projectID, nil)))

	// connection:ready followed by the dispatched event, in order.
	assert.Equal(t, domain.EventConnectionReady, recvTimeout(t, c).Type)
	assert.Equal(t, domain.EventTaskUpdated, recvTimeout(t, c).Type)

	stats, err := h.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Connections)
	assert.Equal(t, 1, stats.Rooms)

	cancel()

	// Shutdown closes the client's send channel.
	require.Eventually(t, func() bool {
		select {
		case _, open := <-c.send:
			return !open
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func recvTimeout(t *testing.T, c *Client) domain.Event {
	t.Helper()
	select {
	case event := <-c.send:
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return domain.Event{}
	}
}
