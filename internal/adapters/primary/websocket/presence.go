package websocket

import (
	"time"

	"github.com/google/uuid"

	"github.com/teamgrid/realtime-hub/internal/core/domain"
)

// presenceKey scopes presence per organization: the same user can be
// online in one org and offline in another.
type presenceKey struct {
	orgID  uuid.UUID
	userID uuid.UUID
}

type presenceState struct {
	status        domain.PresenceStatus
	connections   int
	lastChangedAt time.Time
}

// presenceTracker derives per-user presence from connection counts.
// Owned by the hub's command loop.
type presenceTracker struct {
	states map[presenceKey]*presenceState
}

func newPresenceTracker() *presenceTracker {
	return &presenceTracker{
		states: make(map[presenceKey]*presenceState),
	}
}

// connectionOpened records a new connection for the pair and reports
// whether this was the user's first, i.e. an offline -> online transition.
func (pt *presenceTracker) connectionOpened(orgID, userID uuid.UUID) (domain.PresenceSnapshot, bool) {
	key := presenceKey{orgID: orgID, userID: userID}
	state, ok := pt.states[key]
	if !ok {
		state = &presenceState{status: domain.PresenceOnline, lastChangedAt: time.Now().UTC()}
		pt.states[key] = state
	}
	state.connections++

	return pt.snapshot(key, state), !ok
}

// connectionClosed records a closed connection and reports whether the
// user's last connection in the org disappeared, i.e. a transition to
// offline. The offline transition fires only at a count of zero; closing
// one of several tabs keeps the user online.
func (pt *presenceTracker) connectionClosed(orgID, userID uuid.UUID) (domain.PresenceSnapshot, bool) {
	key := presenceKey{orgID: orgID, userID: userID}
	state, ok := pt.states[key]
	if !ok {
		return domain.PresenceSnapshot{}, false
	}

	state.connections--
	if state.connections > 0 {
		return pt.snapshot(key, state), false
	}

	delete(pt.states, key)
	return domain.PresenceSnapshot{
		UserID:        userID,
		OrgID:         orgID,
		Status:        domain.PresenceOffline,
		LastChangedAt: time.Now().UTC(),
	}, true
}

// setStatus applies an explicit client-submitted status (online, away,
// busy). No transport implication: the connection count is untouched.
// Reports whether the user currently has any connection in the org.
func (pt *presenceTracker) setStatus(orgID, userID uuid.UUID, status domain.PresenceStatus) (domain.PresenceSnapshot, bool) {
	key := presenceKey{orgID: orgID, userID: userID}
	state, ok := pt.states[key]
	if !ok {
		return domain.PresenceSnapshot{}, false
	}

	state.status = status
	state.lastChangedAt = time.Now().UTC()
	return pt.snapshot(key, state), true
}

// status returns the derived status for the pair; offline when no
// connection exists.
func (pt *presenceTracker) status(orgID, userID uuid.UUID) domain.PresenceStatus {
	if state, ok := pt.states[presenceKey{orgID: orgID, userID: userID}]; ok {
		return state.status
	}
	return domain.PresenceOffline
}

// connectionCount returns the live connection count for the pair.
func (pt *presenceTracker) connectionCount(orgID, userID uuid.UUID) int {
	if state, ok := pt.states[presenceKey{orgID: orgID, userID: userID}]; ok {
		return state.connections
	}
	return 0
}

func (pt *presenceTracker) snapshot(key presenceKey, state *presenceState) domain.PresenceSnapshot {
	return domain.PresenceSnapshot{
		UserID:        key.userID,
		OrgID:         key.orgID,
		Status:        state.status,
		LastChangedAt: state.lastChangedAt,
	}
}
