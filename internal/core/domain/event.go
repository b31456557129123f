package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType defines the type of real-time event.
type EventType string

// Task lifecycle events.
const (
	EventTaskCreated           EventType = "task:created"
	EventTaskUpdated           EventType = "task:updated"
	EventTaskDeleted           EventType = "task:deleted"
	EventTaskAssigned          EventType = "task:assigned"
	EventTaskDependencyAdded   EventType = "task:dependencyAdded"
	EventTaskDependencyRemoved EventType = "task:dependencyRemoved"
	EventTaskTimeUpdated       EventType = "task:time-updated"
	EventSubtaskCreated        EventType = "subtask:created"
	EventSubtaskUpdated        EventType = "subtask:updated"
	EventSubtasksBulkCreated   EventType = "subtasks:bulk-created"
)

// Time tracking, budget and expense events.
const (
	EventTimeLogged    EventType = "time:logged"
	EventTimeUpdated   EventType = "time:updated"
	EventTimeDeleted   EventType = "time:deleted"
	EventBudgetUpdated EventType = "budget:updated"
	EventBudgetAlert   EventType = "budget:alert"
	EventExpenseLogged EventType = "expense:logged"
)

// Project and membership events.
const (
	EventProjectCreated          EventType = "project:created"
	EventProjectUpdated          EventType = "project:updated"
	EventProjectDeleted          EventType = "project:deleted"
	EventProjectSettingsUpdated  EventType = "project:settingsUpdated"
	EventMemberAdded             EventType = "member:added"
	EventMemberRemoved           EventType = "member:removed"
	EventMemberSpecializationUpd EventType = "member:specializationUpdated"
	EventTeamLeaderChanged       EventType = "teamLeader:changed"
)

// Kanban board events. Dragging signals are ephemeral and never echoed
// back to the sender, who already has optimistic local state.
const (
	EventCardMoved    EventType = "card:moved"
	EventCardDragging EventType = "card:dragging"
	EventCardDragEnd  EventType = "card:drag-end"
)

// Chat events.
const (
	EventChatMessage        EventType = "chat:message"
	EventChatMessageEdited  EventType = "chat:message-edited"
	EventChatMessageDeleted EventType = "chat:message-deleted"
	EventTypingStart        EventType = "typing:start"
	EventTypingStop         EventType = "typing:stop"
)

// Presence events. presence:update is client-submitted; the rest originate
// in the hub's presence tracker.
const (
	EventPresenceUpdate  EventType = "presence:update"
	EventPresenceUpdated EventType = "presence:updated"
	EventUserOnline      EventType = "user:online"
	EventUserOffline     EventType = "user:offline"
)

// Notification events, delivered per user rather than per room.
const (
	EventNotificationSend     EventType = "notification:send"
	EventNotificationReceived EventType = "notification:received"
	EventNotificationRead     EventType = "notification:read"
)

// EventConnectionReady is sent to a client once its connection is admitted.
const EventConnectionReady EventType = "connection:ready"

// Scope carries the ids an event uses to resolve its target rooms.
// OrgID is mandatory for every event; the rest depend on the event type.
type Scope struct {
	OrgID     uuid.UUID  `json:"organizationId"`
	ProjectID *uuid.UUID `json:"projectId,omitempty"`
	ChannelID *uuid.UUID `json:"channelId,omitempty"`
}

// Event is the unit of fan-out. Immutable once constructed; the hub never
// stores events beyond the dispatch call.
type Event struct {
	Type      EventType       `json:"type"`
	Scope     Scope           `json:"scope"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`

	// SenderConnID identifies the originating connection so the dispatch
	// rule can exclude it. Empty for events produced by internal services.
	SenderConnID string `json:"-"`
}

// NewEvent builds an event stamped with the current time.
func NewEvent(eventType EventType, scope Scope, payload json.RawMessage) Event {
	return Event{
		Type:      eventType,
		Scope:     scope,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}
