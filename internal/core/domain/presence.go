package domain

import (
	"time"

	"github.com/google/uuid"
)

// PresenceStatus is a user's live status within one organization.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceBusy    PresenceStatus = "busy"
	PresenceOffline PresenceStatus = "offline"
)

// ValidPresenceStatus reports whether s is a status a client may submit.
// offline is excluded: it is derived from connection counts, never set
// explicitly.
func ValidPresenceStatus(s PresenceStatus) bool {
	switch s {
	case PresenceOnline, PresenceAway, PresenceBusy:
		return true
	}
	return false
}

// PresenceSnapshot is the payload broadcast on every presence transition.
type PresenceSnapshot struct {
	UserID        uuid.UUID      `json:"userId"`
	OrgID         uuid.UUID      `json:"organizationId"`
	Status        PresenceStatus `json:"status"`
	LastChangedAt time.Time      `json:"lastChangedAt"`
}
