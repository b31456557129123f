package domain

import "github.com/google/uuid"

// Role is the role a user holds within their organization.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleTeamLeader Role = "team_leader"
	RoleMember     Role = "member"
)

// Identity is the result of verifying a connection credential.
type Identity struct {
	UserID uuid.UUID
	OrgID  uuid.UUID
	Role   Role
}
