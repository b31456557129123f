package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/teamgrid/realtime-hub/internal/core/domain"
)

// Time allowed to write a message to the peer. Read-side deadlines and the
// ping cadence come from configuration via the hub.
const writeWait = 10 * time.Second

// Client binds one websocket connection to its authenticated identity.
//
// The rooms map is owned exclusively by the hub's command loop; client
// goroutines never touch it. The pumps only read and write the socket and
// the send channel.
type Client struct {
	// ID is the connection id, unique per socket, not per user.
	ID uuid.UUID

	// Identity derived from the credential at handshake.
	Identity domain.Identity

	// ConnectedAt is when the connection was admitted.
	ConnectedAt time.Time

	hub  *Hub
	conn *websocket.Conn

	// send is the bounded outbound buffer. The hub drops the connection
	// when it overflows rather than letting one slow consumer stall the
	// dispatch loop.
	send chan domain.Event

	// rooms this connection is a member of. Hub loop only.
	rooms map[domain.Room]struct{}

	closeOnce sync.Once
	logger    *slog.Logger
}

// NewClient creates a client for an admitted connection.
func NewClient(hub *Hub, conn *websocket.Conn, identity domain.Identity, logger *slog.Logger) *Client {
	id := uuid.New()
	return &Client{
		ID:          id,
		Identity:    identity,
		ConnectedAt: time.Now().UTC(),
		hub:         hub,
		conn:        conn,
		send:        make(chan domain.Event, hub.sendQueueSize),
		rooms:       make(map[domain.Room]struct{}),
		logger: logger.With(
			"connection_id", id.String(),
			"user_id", identity.UserID.String(),
			"org_id", identity.OrgID.String(),
		),
	}
}

// closeSend safely closes the send channel exactly once.
func (c *Client) closeSend() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// ReadPump pumps messages from the websocket connection to the hub.
// This method runs in its own goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.hub.pongWait)); err != nil {
		c.logger.Error("failed to set read deadline", "error", err)
		return
	}

	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.hub.pongWait)); err != nil {
			c.logger.Error("failed to set read deadline in pong handler", "error", err)
		}
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			}
			break
		}

		c.handleIncomingMessage(message)
	}
}

// WritePump pumps events from the hub to the websocket connection.
// This method runs in its own goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.hub.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error("failed to set write deadline", "error", err)
				return
			}

			if !ok {
				// The hub closed the channel. Send close message.
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					c.logger.Debug("failed to send close message", "error", err)
				}
				return
			}

			if err := c.writeEvent(event); err != nil {
				c.logger.Error("failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error("failed to set write deadline for ping", "error", err)
				return
			}

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
				return
			}
		}
	}
}

// wireEvent is the outbound wire shape: scope ids flattened next to the type.
type wireEvent struct {
	Type           domain.EventType `json:"type"`
	OrganizationID uuid.UUID        `json:"organizationId"`
	ProjectID      *uuid.UUID       `json:"projectId,omitempty"`
	ChannelID      *uuid.UUID       `json:"channelId,omitempty"`
	Payload        json.RawMessage  `json:"payload,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
}

// writeEvent writes a single event as a JSON text message.
func (c *Client) writeEvent(event domain.Event) error {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}

	wire := wireEvent{
		Type:           event.Type,
		OrganizationID: event.Scope.OrgID,
		ProjectID:      event.Scope.ProjectID,
		ChannelID:      event.Scope.ChannelID,
		Payload:        event.Payload,
		Timestamp:      event.Timestamp,
	}

	if err := json.NewEncoder(w).Encode(wire); err != nil {
		_ = w.Close()
		return err
	}

	return w.Close()
}

// --- Incoming Message Handling ---

// ClientMessage is the envelope for messages sent from the client.
type ClientMessage struct {
	Type           string          `json:"type"`
	OrganizationID *uuid.UUID      `json:"organizationId,omitempty"`
	ProjectID      *uuid.UUID      `json:"projectId,omitempty"`
	ChannelID      *uuid.UUID      `json:"channelId,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// Room control message types.
const (
	msgJoinOrg      = "join-org"
	msgJoinProject  = "join-project"
	msgLeaveProject = "leave-project"
	msgJoinChannel  = "join-channel"
	msgLeaveChannel = "leave-channel"
)

// handleIncomingMessage processes one message received from the client.
func (c *Client) handleIncomingMessage(message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Warn("failed to unmarshal client message", "error", err)
		return
	}

	switch msg.Type {
	case msgJoinOrg:
		c.hub.Join(c, domain.OrgRoom(c.Identity.OrgID))

	case msgJoinProject:
		if msg.ProjectID == nil {
			c.logger.Warn("join-project missing project id")
			return
		}
		c.hub.Join(c, domain.ProjectRoom(*msg.ProjectID))

	case msgLeaveProject:
		if msg.ProjectID == nil {
			c.logger.Warn("leave-project missing project id")
			return
		}
		c.hub.Leave(c, domain.ProjectRoom(*msg.ProjectID))

	case msgJoinChannel:
		if msg.ChannelID == nil {
			c.logger.Warn("join-channel missing channel id")
			return
		}
		c.hub.Join(c, domain.ChannelRoom(*msg.ChannelID))

	case msgLeaveChannel:
		if msg.ChannelID == nil {
			c.logger.Warn("leave-channel missing channel id")
			return
		}
		c.hub.Leave(c, domain.ChannelRoom(*msg.ChannelID))

	case "":
		c.logger.Debug("received message without type")

	default:
		c.submitEvent(msg)
	}
}

// hubOriginated lists the event types the hub itself produces. A client
// submitting one of these could forge another user's presence or spoof a
// notification, so they are dropped before dispatch.
var hubOriginated = map[domain.EventType]struct{}{
	domain.EventPresenceUpdated:      {},
	domain.EventUserOnline:           {},
	domain.EventUserOffline:          {},
	domain.EventNotificationReceived: {},
	domain.EventConnectionReady:      {},
}

// submitEvent turns a client envelope into a domain event and hands it to
// the hub. Scope validation happens in the dispatch loop so producers get
// one consistent policy: malformed events are dropped and logged, never
// fatal.
func (c *Client) submitEvent(msg ClientMessage) {
	if _, reserved := hubOriginated[domain.EventType(msg.Type)]; reserved {
		c.logger.Warn("dropping reserved event type", "event_type", msg.Type)
		return
	}
	scope := domain.Scope{
		// The org scope always comes from the verified identity, never
		// from the client payload. A forged organizationId cannot cross
		// a tenant boundary.
		OrgID:     c.Identity.OrgID,
		ProjectID: msg.ProjectID,
		ChannelID: msg.ChannelID,
	}

	event := domain.NewEvent(domain.EventType(msg.Type), scope, msg.Payload)
	event.SenderConnID = c.ID.String()

	if err := c.hub.Broadcast(event); err != nil {
		c.logger.Warn("event rejected", "event_type", msg.Type, "error", err)
	}
}
