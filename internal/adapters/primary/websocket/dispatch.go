package websocket

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/teamgrid/realtime-hub/internal/core/domain"
	apperrors "github.com/teamgrid/realtime-hub/internal/core/errors"
)

// dispatchRule defines, per event type, which scope fields are mandatory,
// which rooms receive the event, and whether the sender's own connection
// is included in the fan-out.
//
// Most state-change events include the sender so other tabs of the same
// user stay in sync. Ephemeral signals (dragging, typing) exclude the
// sender, who already has optimistic local state.
type dispatchRule struct {
	requireProject bool
	requireChannel bool
	targets        func(domain.Scope) []domain.Room
	excludeSender  bool
}

// Target resolvers.

func orgOnly(s domain.Scope) []domain.Room {
	return []domain.Room{domain.OrgRoom(s.OrgID)}
}

// orgAndProject fans to both granularities: some consumers subscribe at
// org level (dashboards), others at project level (boards). Recipients in
// both rooms get exactly one copy; the fan-out dedups per connection.
func orgAndProject(s domain.Scope) []domain.Room {
	rooms := []domain.Room{domain.OrgRoom(s.OrgID)}
	if s.ProjectID != nil {
		rooms = append(rooms, domain.ProjectRoom(*s.ProjectID))
	}
	return rooms
}

func channelOnly(s domain.Scope) []domain.Room {
	if s.ChannelID == nil {
		return nil
	}
	return []domain.Room{domain.ChannelRoom(*s.ChannelID)}
}

// dispatchTable is the static routing policy. Event types not present here
// are either user-targeted (notifications, handled separately) or unknown.
var dispatchTable = map[domain.EventType]dispatchRule{
	// Task lifecycle: project-scoped, synced across the sender's tabs.
	domain.EventTaskCreated:           {requireProject: true, targets: orgAndProject},
	domain.EventTaskUpdated:           {requireProject: true, targets: orgAndProject},
	domain.EventTaskDeleted:           {requireProject: true, targets: orgAndProject},
	domain.EventTaskAssigned:          {requireProject: true, targets: orgAndProject},
	domain.EventTaskDependencyAdded:   {requireProject: true, targets: orgAndProject},
	domain.EventTaskDependencyRemoved: {requireProject: true, targets: orgAndProject},
	domain.EventTaskTimeUpdated:       {requireProject: true, targets: orgAndProject},
	domain.EventSubtaskCreated:        {requireProject: true, targets: orgAndProject},
	domain.EventSubtaskUpdated:        {requireProject: true, targets: orgAndProject},
	domain.EventSubtasksBulkCreated:   {requireProject: true, targets: orgAndProject},

	// Time tracking.
	domain.EventTimeLogged:  {requireProject: true, targets: orgAndProject},
	domain.EventTimeUpdated: {requireProject: true, targets: orgAndProject},
	domain.EventTimeDeleted: {requireProject: true, targets: orgAndProject},

	// Budget and expenses can be org-level or project-level; the project
	// room is added when the event carries a project id.
	domain.EventBudgetUpdated: {targets: orgAndProject},
	domain.EventBudgetAlert:   {targets: orgAndProject},
	domain.EventExpenseLogged: {targets: orgAndProject},

	// Project lifecycle. Creation and deletion go org-wide only: before
	// creation and after deletion there is no project room worth joining.
	domain.EventProjectCreated:         {targets: orgOnly},
	domain.EventProjectDeleted:         {targets: orgOnly},
	domain.EventProjectUpdated:         {requireProject: true, targets: orgAndProject},
	domain.EventProjectSettingsUpdated: {requireProject: true, targets: orgAndProject},

	// Membership.
	domain.EventMemberAdded:             {targets: orgAndProject},
	domain.EventMemberRemoved:           {targets: orgAndProject},
	domain.EventMemberSpecializationUpd: {targets: orgAndProject},
	domain.EventTeamLeaderChanged:       {targets: orgAndProject},

	// Kanban. Drag signals are ephemeral and never echo to the sender.
	domain.EventCardMoved:    {requireProject: true, targets: orgAndProject},
	domain.EventCardDragging: {requireProject: true, targets: orgAndProject, excludeSender: true},
	domain.EventCardDragEnd:  {requireProject: true, targets: orgAndProject, excludeSender: true},

	// Chat is channel-scoped. Typing indicators exclude the sender.
	domain.EventChatMessage:        {requireChannel: true, targets: channelOnly},
	domain.EventChatMessageEdited:  {requireChannel: true, targets: channelOnly},
	domain.EventChatMessageDeleted: {requireChannel: true, targets: channelOnly},
	domain.EventTypingStart:        {requireChannel: true, targets: channelOnly, excludeSender: true},
	domain.EventTypingStop:         {requireChannel: true, targets: channelOnly, excludeSender: true},

	// Presence broadcasts originate in the presence tracker and go
	// org-wide so members see live status without polling.
	domain.EventPresenceUpdated: {targets: orgOnly},
	domain.EventUserOnline:      {targets: orgOnly},
	domain.EventUserOffline:     {targets: orgOnly},
}

// resolveRule validates the event's scope against the table and returns the
// rule and target rooms.
func resolveRule(event domain.Event) (dispatchRule, []domain.Room, error) {
	rule, ok := dispatchTable[event.Type]
	if !ok {
		return dispatchRule{}, nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownEventType, event.Type)
	}

	if event.Scope.OrgID == uuid.Nil {
		return dispatchRule{}, nil, apperrors.ErrMissingOrgScope
	}
	if rule.requireProject && event.Scope.ProjectID == nil {
		return dispatchRule{}, nil, fmt.Errorf("%w: %q", apperrors.ErrMissingProject, event.Type)
	}
	if rule.requireChannel && event.Scope.ChannelID == nil {
		return dispatchRule{}, nil, fmt.Errorf("%w: %q", apperrors.ErrMissingChannel, event.Type)
	}

	return rule, rule.targets(event.Scope), nil
}
