package organizations

import (
	"github.com/google/uuid"

	"github.com/deevents/backend/internal/apperr"
	"github.com/deevents/backend/internal/models"
)

// CapabilitiesFor derives the capability set of role.
func CapabilitiesFor(role models.OrgRole) models.Capabilities {
	switch role {
	case models.OrgRoleOwner, models.OrgRoleAdmin:
		return models.Capabilities{CanCreateEvents: true, CanManageTickets: true, CanManageTeam: true, CanViewAnalytics: true}
	case models.OrgRoleManager:
		return models.Capabilities{CanCreateEvents: true, CanManageTickets: true, CanViewAnalytics: true}
	}
	return models.Capabilities{}
}

// Action is an operation gated by membership.
type Action string

const (
	ActRead                Action = "read"
	ActMembers             Action = "members"
	ActMyRole              Action = "my_role"
	ActUpdate              Action = "update"
	ActInvite              Action = "invite"
	ActChangeRole          Action = "change_role"
	ActRemoveMember        Action = "remove_member"
	ActDelete              Action = "delete"
	ActRequestVerification Action = "request_verification"
)

type rule int

const (
	anyActiveMember rule = iota
	adminOrOwner
	ownerOnly
)

var policy = map[Action]rule{
	ActRead:                anyActiveMember,
	ActMembers:             anyActiveMember,
	ActMyRole:              anyActiveMember,
	ActUpdate:              adminOrOwner,
	ActInvite:              adminOrOwner,
	ActChangeRole:          adminOrOwner,
	ActRemoveMember:        adminOrOwner,
	ActDelete:              ownerOnly,
	ActRequestVerification: ownerOnly,
}

// Access is a caller's standing in one organization. Member is nil when the
// caller has never belonged to it.
type Access struct {
	UserID uuid.UUID
	Org    *models.Organization
	Member *models.OrganizationMember
}

// Can reports whether the caller may perform action.
func (a *Access) Can(action Action) bool {
	if a == nil || a.Org == nil {
		return false
	}
	r, ok := policy[action]
	if !ok {
		return false
	}
	if r == ownerOnly {
		return a.Org.OwnerID == a.UserID
	}
	if a.Member == nil || !a.Member.IsActive {
		return false
	}
	if r == adminOrOwner {
		return a.Member.Role == models.OrgRoleOwner || a.Member.Role == models.OrgRoleAdmin
	}
	return true
}

func (a *Access) require(action Action) error {
	if a.Can(action) {
		return nil
	}
	switch policy[action] {
	case ownerOnly:
		return apperr.Forbidden("Only the organization owner can do this.")
	case adminOrOwner:
		return apperr.Forbidden("Only organization owners and admins can do this.")
	}
	return apperr.Forbidden("You are not a member of this organization.")
}
