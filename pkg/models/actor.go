package models

import "github.com/google/uuid"

type Role string

const (
	RoleMember     Role = "member"
	RoleTreasurer  Role = "treasurer"
	RoleChairman   Role = "chairman"
	RoleCompliance Role = "compliance"
)

// Actor is the authenticated caller of an engine operation, supplied by the identity provider.
type Actor struct {
	MemberID uuid.UUID `json:"member_id"`
	Role     Role      `json:"role"`
}

func (a Actor) Is(roles ...Role) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}
