package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// RoomKind identifies the scope level of a room.
type RoomKind uint8

const (
	RoomOrg RoomKind = iota + 1
	RoomProject
	RoomChannel
)

func (k RoomKind) String() string {
	switch k {
	case RoomOrg:
		return "org"
	case RoomProject:
		return "project"
	case RoomChannel:
		return "channel"
	default:
		return "unknown"
	}
}

// Room is a typed routing key. Using a comparable struct instead of a
// concatenated string keeps a typo in one call site from silently creating
// a new room and leaking events across tenants.
type Room struct {
	Kind RoomKind
	ID   uuid.UUID
}

// OrgRoom returns the room grouping every connection of an organization.
func OrgRoom(orgID uuid.UUID) Room {
	return Room{Kind: RoomOrg, ID: orgID}
}

// ProjectRoom returns the room for a single project.
func ProjectRoom(projectID uuid.UUID) Room {
	return Room{Kind: RoomProject, ID: projectID}
}

// ChannelRoom returns the room for a single chat channel.
func ChannelRoom(channelID uuid.UUID) Room {
	return Room{Kind: RoomChannel, ID: channelID}
}

// String renders the room key in the wire convention, e.g. "org:<uuid>".
// Used for logging and backplane channel names only, never parsed back
// from client input.
func (r Room) String() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.ID)
}
