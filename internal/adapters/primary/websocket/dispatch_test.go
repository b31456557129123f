package websocket

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamgrid/realtime-hub/internal/core/domain"
	apperrors "github.com/teamgrid/realtime-hub/internal/core/errors"
)

func TestResolveRule(t *testing.T) {
	orgID := uuid.New()
	projectID := uuid.New()
	channelID := uuid.New()

	tests := []struct {
		name        string
		eventType   domain.EventType
		scope       domain.Scope
		wantRooms   []domain.Room
		wantExclude bool
		wantErr     error
	}{
		{
			name:      "task event fans to org and project",
			eventType: domain.EventTaskUpdated,
			scope:     domain.Scope{OrgID: orgID, ProjectID: &projectID},
			wantRooms: []domain.Room{domain.OrgRoom(orgID), domain.ProjectRoom(projectID)},
		},
		{
			name:      "task event without project rejected",
			eventType: domain.EventTaskCreated,
			scope:     domain.Scope{OrgID: orgID},
			wantErr:   apperrors.ErrMissingProject,
		},
		{
			name:      "budget event accepts missing project",
			eventType: domain.EventBudgetUpdated,
			scope:     domain.Scope{OrgID: orgID},
			wantRooms: []domain.Room{domain.OrgRoom(orgID)},
		},
		{
			name:      "budget event with project adds project room",
			eventType: domain.EventBudgetUpdated,
			scope:     domain.Scope{OrgID: orgID, ProjectID: &projectID},
			wantRooms: []domain.Room{domain.OrgRoom(orgID), domain.ProjectRoom(projectID)},
		},
		{
			name:      "project creation is org-wide only",
			eventType: domain.EventProjectCreated,
			scope:     domain.Scope{OrgID: orgID, ProjectID: &projectID},
			wantRooms: []domain.Room{domain.OrgRoom(orgID)},
		},
		{
			name:      "chat message scoped to channel",
			eventType: domain.EventChatMessage,
			scope:     domain.Scope{OrgID: orgID, ChannelID: &channelID},
			wantRooms: []domain.Room{domain.ChannelRoom(channelID)},
		},
		{
			name:      "chat message without channel rejected",
			eventType: domain.EventChatMessage,
			scope:     domain.Scope{OrgID: orgID},
			wantErr:   apperrors.ErrMissingChannel,
		},
		{
			name:        "typing indicator excludes sender",
			eventType:   domain.EventTypingStart,
			scope:       domain.Scope{OrgID: orgID, ChannelID: &channelID},
			wantRooms:   []domain.Room{domain.ChannelRoom(channelID)},
			wantExclude: true,
		},
		{
			name:        "card dragging excludes sender",
			eventType:   domain.EventCardDragging,
			scope:       domain.Scope{OrgID: orgID, ProjectID: &projectID},
			wantRooms:   []domain.Room{domain.OrgRoom(orgID), domain.ProjectRoom(projectID)},
			wantExclude: true,
		},
		{
			name:      "card moved includes sender",
			eventType: domain.EventCardMoved,
			scope:     domain.Scope{OrgID: orgID, ProjectID: &projectID},
			wantRooms: []domain.Room{domain.OrgRoom(orgID), domain.ProjectRoom(projectID)},
		},
		{
			name:      "unknown type rejected",
			eventType: domain.EventType("galaxy:collapsed"),
			scope:     domain.Scope{OrgID: orgID},
			wantErr:   apperrors.ErrUnknownEventType,
		},
		{
			name:      "missing org scope rejected",
			eventType: domain.EventTaskUpdated,
			scope:     domain.Scope{ProjectID: &projectID},
			wantErr:   apperrors.ErrMissingOrgScope,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, rooms, err := resolveRule(domain.NewEvent(tt.eventType, tt.scope, nil))

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantRooms, rooms)
			assert.Equal(t, tt.wantExclude, rule.excludeSender)
		})
	}
}

func TestDispatchTable_EveryRuleHasTargets(t *testing.T) {
	for eventType, rule := range dispatchTable {
		assert.NotNil(t, rule.targets, "rule for %q has no target resolver", eventType)
	}
}
