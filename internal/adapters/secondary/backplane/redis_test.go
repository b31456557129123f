package backplane

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamgrid/realtime-hub/internal/core/domain"
)

func TestEnvelopeCarriesEventAcrossTheWire(t *testing.T) {
	orgID := uuid.New()
	projectID := uuid.New()

	sent := envelope{
		Origin:    uuid.NewString(),
		Type:      domain.EventTaskUpdated,
		Scope:     domain.Scope{OrgID: orgID, ProjectID: &projectID},
		Payload:   json.RawMessage(`{"taskId":"t-1"}`),
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
	}

	data, err := json.Marshal(sent)
	require.NoError(t, err)

	var received envelope
	require.NoError(t, json.Unmarshal(data, &received))
	assert.Equal(t, sent.Origin, received.Origin)

	event := received.event()
	assert.Equal(t, domain.EventTaskUpdated, event.Type)
	assert.Equal(t, orgID, event.Scope.OrgID)
	require.NotNil(t, event.Scope.ProjectID)
	assert.Equal(t, projectID, *event.Scope.ProjectID)
	assert.JSONEq(t, `{"taskId":"t-1"}`, string(event.Payload))
	assert.True(t, sent.Timestamp.Equal(event.Timestamp))

	// The sender connection id never crosses instances; exclude-sender
	// rules only apply on the originating node.
	assert.Empty(t, event.SenderConnID)
}
