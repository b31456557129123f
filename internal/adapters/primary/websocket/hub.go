package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teamgrid/realtime-hub/internal/core/domain"
	apperrors "github.com/teamgrid/realtime-hub/internal/core/errors"
	"github.com/teamgrid/realtime-hub/internal/core/ports"
	"github.com/teamgrid/realtime-hub/internal/infrastructure/metrics"
)

const backplanePublishTimeout = 5 * time.Second

// command is one unit of serialized hub work.
type command interface {
	execute(h *Hub)
}

// Hub owns the connection registry, the room indices and the presence
// tracker. All mutations and all reads used for dispatch resolution happen
// on a single goroutine draining a bounded command queue, so dispatch never
// observes a half-updated membership set and no locks are needed.
//
// Connection goroutines only perform socket I/O; everything else flows
// through the queue.
type Hub struct {
	commands chan command
	stopped  chan struct{}
	stopOnce sync.Once

	// State below is owned by the Run goroutine.
	registry *registry
	rooms    *roomIndex
	presence *presenceTracker

	backplane ports.Backplane

	sendQueueSize  int
	pingInterval   time.Duration
	pongWait       time.Duration
	maxMessageSize int64

	logger *slog.Logger
}

// Ensure Hub implements the EventBroadcaster interface.
var _ ports.EventBroadcaster = (*Hub)(nil)

// Config holds hub sizing and transport timing.
type Config struct {
	CommandQueueSize int
	SendQueueSize    int
	PingInterval     time.Duration
	PongWait         time.Duration
	MaxMessageSize   int64

	// Backplane relays dispatches between hub instances. Nil means
	// single-node.
	Backplane ports.Backplane
}

// NewHub creates a hub. Zero config fields fall back to defaults.
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	if cfg.CommandQueueSize <= 0 {
		cfg.CommandQueueSize = 1024
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = 256
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = pongWaitDefault
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 4096
	}

	backplane := cfg.Backplane
	if backplane == nil {
		backplane = ports.NoopBackplane{}
	}

	return &Hub{
		commands:       make(chan command, cfg.CommandQueueSize),
		stopped:        make(chan struct{}),
		registry:       newRegistry(),
		rooms:          newRoomIndex(),
		presence:       newPresenceTracker(),
		backplane:      backplane,
		sendQueueSize:  cfg.SendQueueSize,
		pingInterval:   cfg.PingInterval,
		pongWait:       cfg.PongWait,
		maxMessageSize: cfg.MaxMessageSize,
		logger:         logger.With("component", "hub"),
	}
}

const pongWaitDefault = 60 * time.Second

// Run drains the command queue until ctx is cancelled. This MUST be run as
// a goroutine before any connection is admitted.
func (h *Hub) Run(ctx context.Context) {
	if err := h.backplane.Subscribe(ctx, h.acceptRemote); err != nil {
		h.logger.Error("backplane subscribe failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case cmd := <-h.commands:
			cmd.execute(h)
		}
	}
}

// shutdown closes every connection's send channel so write pumps terminate,
// then marks the hub stopped.
func (h *Hub) shutdown() {
	for _, client := range h.registry.byConn {
		client.closeSend()
	}
	h.registry = newRegistry()
	h.rooms = newRoomIndex()
	h.presence = newPresenceTracker()
	h.updateGauges()

	if err := h.backplane.Close(); err != nil {
		h.logger.Warn("backplane close failed", "error", err)
	}

	h.stopOnce.Do(func() { close(h.stopped) })
	h.logger.Info("hub stopped")
}

// --- Command submission ---

// enqueue blocks until the command is queued. Used for operations that must
// not be lost (registration, disconnect reaping, room control): a full
// queue applies backpressure to that one connection goroutine without
// affecting others.
func (h *Hub) enqueue(cmd command) error {
	select {
	case h.commands <- cmd:
		return nil
	case <-h.stopped:
		return apperrors.ErrHubStopped
	}
}

// tryEnqueue sheds load instead of blocking. Used for event submission:
// under overload an ephemeral event is dropped, matching the hub's
// best-effort delivery contract.
func (h *Hub) tryEnqueue(cmd command) error {
	select {
	case h.commands <- cmd:
		return nil
	case <-h.stopped:
		return apperrors.ErrHubStopped
	default:
		return apperrors.ErrHubQueueFull
	}
}

// Register admits an authenticated connection.
func (h *Hub) Register(c *Client) error {
	return h.enqueue(registerCmd{client: c})
}

// Unregister removes a connection and cascades room leaves and the
// presence-offline evaluation. Called from the read pump on any transport
// close, graceful or not.
func (h *Hub) Unregister(c *Client) {
	if err := h.enqueue(unregisterCmd{client: c}); err != nil {
		// Hub stopped; shutdown already closed the send channel.
		c.closeSend()
	}
}

// Join adds the connection to a room. Idempotent.
func (h *Hub) Join(c *Client, room domain.Room) {
	if err := h.enqueue(joinCmd{client: c, room: room}); err != nil {
		c.logger.Warn("join dropped", "room", room.String(), "error", err)
	}
}

// Leave removes the connection from a room. Idempotent.
func (h *Hub) Leave(c *Client, room domain.Room) {
	if err := h.enqueue(leaveCmd{client: c, room: room}); err != nil {
		c.logger.Warn("leave dropped", "room", room.String(), "error", err)
	}
}

// Broadcast routes an event to its target rooms. Implements
// ports.EventBroadcaster; used by connections and internal producers alike.
func (h *Hub) Broadcast(event domain.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if err := h.tryEnqueue(dispatchCmd{event: event}); err != nil {
		h.logger.Warn("command queue full, dropping event", "event_type", event.Type)
		metrics.EventsDropped.WithLabelValues("queue_full").Inc()
		return err
	}
	return nil
}

// SendToUser delivers an event to every live connection of one user,
// regardless of room membership. The submission is folded into a
// notification:send dispatch so it takes the same path as socket-submitted
// notifications, including the backplane relay that reaches connections
// held by peer instances.
func (h *Hub) SendToUser(userID uuid.UUID, event domain.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(notificationPayload{
		TargetUserID: &userID,
		Notification: event.Payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal notification", "user_id", userID, "error", err)
		return
	}

	send := domain.Event{
		Type:      domain.EventNotificationSend,
		Scope:     event.Scope,
		Payload:   payload,
		Timestamp: event.Timestamp,
	}

	if err := h.tryEnqueue(dispatchCmd{event: send}); err != nil {
		h.logger.Warn("command queue full, dropping notification", "user_id", userID, "error", err)
		metrics.EventsDropped.WithLabelValues("queue_full").Inc()
	}
}

// acceptRemote feeds an event relayed by a peer instance into the loop.
func (h *Hub) acceptRemote(event domain.Event) {
	if err := h.tryEnqueue(dispatchCmd{event: event, remote: true}); err != nil {
		h.logger.Warn("dropping remote event", "event_type", event.Type, "error", err)
		metrics.EventsDropped.WithLabelValues("queue_full").Inc()
	}
}

// Stats is a point-in-time snapshot of hub occupancy.
type Stats struct {
	Connections int
	Rooms       int
}

// Stats reads a consistent snapshot through the command loop.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	if err := h.tryEnqueue(statsCmd{reply: reply}); err != nil {
		return Stats{}, err
	}

	select {
	case stats := <-reply:
		return stats, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	case <-h.stopped:
		return Stats{}, apperrors.ErrHubStopped
	}
}

// --- Commands ---

type registerCmd struct{ client *Client }

func (cmd registerCmd) execute(h *Hub) { h.handleRegister(cmd.client) }

type unregisterCmd struct{ client *Client }

func (cmd unregisterCmd) execute(h *Hub) { h.handleUnregister(cmd.client) }

type joinCmd struct {
	client *Client
	room   domain.Room
}

func (cmd joinCmd) execute(h *Hub) { h.handleJoin(cmd.client, cmd.room) }

type leaveCmd struct {
	client *Client
	room   domain.Room
}

func (cmd leaveCmd) execute(h *Hub) { h.handleLeave(cmd.client, cmd.room) }

type dispatchCmd struct {
	event  domain.Event
	remote bool
}

func (cmd dispatchCmd) execute(h *Hub) { h.handleDispatch(cmd.event, cmd.remote) }

type statsCmd struct{ reply chan Stats }

func (cmd statsCmd) execute(h *Hub) {
	cmd.reply <- Stats{Connections: h.registry.size(), Rooms: h.rooms.size()}
}

// --- Handlers (Run goroutine only) ---

func (h *Hub) handleRegister(c *Client) {
	h.registry.register(c)

	snapshot, cameOnline := h.presence.connectionOpened(c.Identity.OrgID, c.Identity.UserID)
	if cameOnline {
		h.broadcastPresence(domain.EventUserOnline, snapshot)
	}

	h.deliver(c, h.connectionReadyEvent(c))
	h.updateGauges()

	h.logger.Info("connection registered",
		"connection_id", c.ID,
		"user_id", c.Identity.UserID,
		"org_id", c.Identity.OrgID,
		"user_connections", h.presence.connectionCount(c.Identity.OrgID, c.Identity.UserID),
	)
}

func (h *Hub) handleUnregister(c *Client) {
	if !h.registry.remove(c) {
		return
	}

	h.rooms.leaveAll(c)

	snapshot, wentOffline := h.presence.connectionClosed(c.Identity.OrgID, c.Identity.UserID)
	if wentOffline {
		h.broadcastPresence(domain.EventUserOffline, snapshot)
	}

	c.closeSend()
	h.updateGauges()

	h.logger.Info("connection removed",
		"connection_id", c.ID,
		"user_id", c.Identity.UserID,
	)
}

func (h *Hub) handleJoin(c *Client, room domain.Room) {
	if !h.registry.contains(c) {
		return
	}

	// A connection may only join its own organization's room. Project and
	// channel joins are accepted as-is; the dispatch loop still refuses to
	// deliver cross-org events to them.
	if room.Kind == domain.RoomOrg && room.ID != c.Identity.OrgID {
		h.logger.Warn("rejected cross-org room join",
			"connection_id", c.ID,
			"org_id", c.Identity.OrgID,
			"room", room.String(),
		)
		return
	}

	h.rooms.join(c, room)
	h.updateGauges()

	h.logger.Debug("joined room", "connection_id", c.ID, "room", room.String())
}

func (h *Hub) handleLeave(c *Client, room domain.Room) {
	h.rooms.leave(c, room)
	h.updateGauges()

	h.logger.Debug("left room", "connection_id", c.ID, "room", room.String())
}

// handleDispatch resolves an event's recipients and pushes to each. Fan-out
// is synchronous and best-effort: a failed or saturated connection is
// dropped without aborting delivery to the rest.
func (h *Hub) handleDispatch(event domain.Event, remote bool) {
	switch event.Type {
	case domain.EventPresenceUpdate:
		h.handlePresenceUpdate(event)
		return
	case domain.EventNotificationSend:
		h.handleNotificationSend(event, remote)
		return
	case domain.EventNotificationRead:
		h.handleNotificationRead(event, remote)
		return
	}

	rule, rooms, err := resolveRule(event)
	if err != nil {
		h.logger.Warn("dropping malformed event", "event_type", event.Type, "error", err)
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		return
	}

	// Union the target rooms' member sets, deduped by connection: an event
	// matching both the org and project scope reaches each recipient once.
	recipients := make(map[*Client]struct{})
	for _, room := range rooms {
		for member := range h.rooms.members(room) {
			recipients[member] = struct{}{}
		}
	}

	delivered := 0
	for member := range recipients {
		// Tenant guard: never deliver across organizations, even when a
		// room id collision put a foreign connection in a target room.
		if member.Identity.OrgID != event.Scope.OrgID {
			continue
		}
		if rule.excludeSender && member.ID.String() == event.SenderConnID {
			continue
		}
		h.deliver(member, event)
		delivered++
	}

	metrics.EventsDispatched.WithLabelValues(string(event.Type)).Inc()
	h.logger.Debug("dispatched event",
		"event_type", event.Type,
		"rooms", len(rooms),
		"recipients", delivered,
	)

	h.publish(event, remote)
}

// presenceUpdatePayload is the payload of a presence:update event. UserID
// is only honored for internally-produced events; client submissions are
// bound to their own identity.
type presenceUpdatePayload struct {
	Status domain.PresenceStatus `json:"status"`
	UserID *uuid.UUID            `json:"userId,omitempty"`
}

func (h *Hub) handlePresenceUpdate(event domain.Event) {
	var payload presenceUpdatePayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		h.logger.Warn("dropping malformed presence update", "error", err)
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		return
	}

	if !domain.ValidPresenceStatus(payload.Status) {
		h.logger.Warn("dropping presence update with invalid status", "status", payload.Status)
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		return
	}

	userID, err := h.presenceSubject(event, payload)
	if err != nil {
		h.logger.Warn("dropping presence update", "error", err)
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		return
	}

	snapshot, online := h.presence.setStatus(event.Scope.OrgID, userID, payload.Status)
	if !online {
		// No live connection for the pair on this instance; nothing to
		// broadcast here.
		return
	}

	h.broadcastPresence(domain.EventPresenceUpdated, snapshot)
	metrics.EventsDispatched.WithLabelValues(string(domain.EventPresenceUpdate)).Inc()
}

// presenceSubject resolves whose presence a presence:update mutates.
func (h *Hub) presenceSubject(event domain.Event, payload presenceUpdatePayload) (uuid.UUID, error) {
	if event.SenderConnID != "" {
		connID, err := uuid.Parse(event.SenderConnID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid sender connection id: %w", err)
		}
		sender, ok := h.registry.byConn[connID]
		if !ok {
			return uuid.Nil, apperrors.ErrConnectionUnknown
		}
		return sender.Identity.UserID, nil
	}

	if payload.UserID == nil {
		return uuid.Nil, apperrors.ErrMissingTarget
	}
	return *payload.UserID, nil
}

// notificationPayload carries the target of a user-addressed notification.
type notificationPayload struct {
	TargetUserID *uuid.UUID      `json:"targetUserId,omitempty"`
	Notification json.RawMessage `json:"notification,omitempty"`
}

// handleNotificationSend resolves the target user's connections and pushes
// a notification:received to each, bypassing room membership entirely.
func (h *Hub) handleNotificationSend(event domain.Event, remote bool) {
	var payload notificationPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil || payload.TargetUserID == nil {
		h.logger.Warn("dropping notification without target", "error", err)
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		return
	}

	received := domain.NewEvent(domain.EventNotificationReceived, event.Scope, payload.Notification)
	received.Timestamp = event.Timestamp

	h.handleNotify(*payload.TargetUserID, received)
	metrics.EventsDispatched.WithLabelValues(string(domain.EventNotificationSend)).Inc()

	h.publish(event, remote)
}

// handleNotificationRead syncs a read receipt to the reader's other
// connections so every open tab clears the badge together.
func (h *Hub) handleNotificationRead(event domain.Event, remote bool) {
	userID := uuid.Nil

	if event.SenderConnID != "" {
		if connID, err := uuid.Parse(event.SenderConnID); err == nil {
			if sender, ok := h.registry.byConn[connID]; ok {
				userID = sender.Identity.UserID
			}
		}
	}
	if userID == uuid.Nil {
		var payload notificationPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil || payload.TargetUserID == nil {
			h.logger.Warn("dropping read receipt without subject", "error", err)
			metrics.EventsDropped.WithLabelValues("malformed").Inc()
			return
		}
		userID = *payload.TargetUserID
	}

	for conn := range h.registry.lookupByUser(userID) {
		if conn.ID.String() == event.SenderConnID {
			continue
		}
		h.deliver(conn, event)
	}

	metrics.EventsDispatched.WithLabelValues(string(domain.EventNotificationRead)).Inc()
	h.publish(event, remote)
}

// handleNotify pushes an event to every connection of one user.
func (h *Hub) handleNotify(userID uuid.UUID, event domain.Event) {
	conns := h.registry.lookupByUser(userID)
	if len(conns) == 0 {
		return
	}

	for conn := range conns {
		// Notifications are still tenant-scoped when the event carries an
		// org id.
		if event.Scope.OrgID != uuid.Nil && conn.Identity.OrgID != event.Scope.OrgID {
			continue
		}
		h.deliver(conn, event)
	}
}

// deliver queues one event on a connection's outbound buffer. An overflow
// means the consumer cannot keep up; the connection is dropped so it never
// stalls the shared dispatch path.
func (h *Hub) deliver(c *Client, event domain.Event) {
	// An eviction nested inside the same fan-out (a presence-offline
	// broadcast overflowing another recipient) may have removed this
	// connection and closed its send channel after the recipient set was
	// snapshotted. Sending would panic the dispatch loop.
	if !h.registry.contains(c) {
		return
	}

	select {
	case c.send <- event:
		metrics.Deliveries.Inc()
	default:
		metrics.SlowConsumerDrops.Inc()
		h.logger.Warn("send buffer full, dropping connection",
			"connection_id", c.ID,
			"user_id", c.Identity.UserID,
		)
		h.handleUnregister(c)
	}
}

// broadcastPresence fans a presence transition to the organization room.
func (h *Hub) broadcastPresence(eventType domain.EventType, snapshot domain.PresenceSnapshot) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		h.logger.Error("failed to marshal presence snapshot", "error", err)
		return
	}

	event := domain.NewEvent(eventType, domain.Scope{OrgID: snapshot.OrgID}, payload)
	h.handleDispatch(event, false)
}

// connectionReadyEvent is the admission ack carrying the connection id.
func (h *Hub) connectionReadyEvent(c *Client) domain.Event {
	payload, _ := json.Marshal(map[string]string{"connectionId": c.ID.String()})
	return domain.NewEvent(domain.EventConnectionReady, domain.Scope{OrgID: c.Identity.OrgID}, payload)
}

// publish relays a locally-originated event to peer instances. The relay
// happens off the loop goroutine; cross-instance ordering is not
// guaranteed, matching the hub's per-room (not global) ordering contract.
func (h *Hub) publish(event domain.Event, remote bool) {
	if remote {
		return
	}
	if _, isNoop := h.backplane.(ports.NoopBackplane); isNoop {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), backplanePublishTimeout)
		defer cancel()
		if err := h.backplane.Publish(ctx, event); err != nil {
			h.logger.Warn("backplane publish failed", "event_type", event.Type, "error", err)
		}
	}()
}

func (h *Hub) updateGauges() {
	metrics.ConnectionsActive.Set(float64(h.registry.size()))
	metrics.RoomsActive.Set(float64(h.rooms.size()))
}
