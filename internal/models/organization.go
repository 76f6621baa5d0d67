package models

import (
	"time"

	"github.com/google/uuid"
)

// OrgType distinguishes auto-provisioned personal accounts from registered businesses.
type OrgType string

const (
	OrgPersonal OrgType = "personal"
	OrgBusiness OrgType = "business"
)

// OrgStatus is the lifecycle state of an organization.
type OrgStatus string

const (
	OrgPending   OrgStatus = "pending"
	OrgActive    OrgStatus = "active"
	OrgSuspended OrgStatus = "suspended"
	OrgInactive  OrgStatus = "inactive"
)

// Organization is a tenant that owns events.
type Organization struct {
	ID                 uuid.UUID `json:"id"`
	Name               string    `json:"name"`
	Slug               string    `json:"slug"`
	OrgType            OrgType   `json:"org_type"`
	Status             OrgStatus `json:"status"`
	Email              *string   `json:"email,omitempty"`
	Phone              *string   `json:"phone,omitempty"`
	Website            *string   `json:"website,omitempty"`
	Description        *string   `json:"description,omitempty"`
	TaxID              *string   `json:"tax_id,omitempty"`
	RegistrationNumber *string   `json:"registration_number,omitempty"`
	Address            *string   `json:"address,omitempty"`
	LogoURL            *string   `json:"logo_url,omitempty"`
	MpesaPaybill       *string   `json:"mpesa_paybill,omitempty"`
	OwnerID            uuid.UUID `json:"owner_id"`
	IsVerified         bool      `json:"is_verified"`
	SuspensionReason   string    `json:"suspension_reason,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// OrgRole is a member's role within an organization.
type OrgRole string

const (
	OrgRoleOwner   OrgRole = "owner"
	OrgRoleAdmin   OrgRole = "admin"
	OrgRoleManager OrgRole = "manager"
	OrgRoleMember  OrgRole = "member"
)

// Valid reports whether r is a known role.
func (r OrgRole) Valid() bool {
	switch r {
	case OrgRoleOwner, OrgRoleAdmin, OrgRoleManager, OrgRoleMember:
		return true
	}
	return false
}

// Capabilities are derived from a role on read and never stored.
type Capabilities struct {
	CanCreateEvents  bool `json:"can_create_events"`
	CanManageTickets bool `json:"can_manage_tickets"`
	CanManageTeam    bool `json:"can_manage_team"`
	CanViewAnalytics bool `json:"can_view_analytics"`
}

// OrganizationMember links a user to an organization with a role.
type OrganizationMember struct {
	ID             uuid.UUID    `json:"id"`
	OrganizationID uuid.UUID    `json:"organization_id"`
	UserID         uuid.UUID    `json:"user_id"`
	Role           OrgRole      `json:"role"`
	Capabilities   Capabilities `json:"capabilities"`
	IsActive       bool         `json:"is_active"`
	InvitedBy      *uuid.UUID   `json:"invited_by,omitempty"`
	JoinedAt       time.Time    `json:"joined_at"`
	UpdatedAt      time.Time    `json:"updated_at"`

	// Populated by member listings.
	Email    string `json:"email,omitempty"`
	FullName string `json:"full_name,omitempty"`
}

// InviteStatus is the state of an invitation addressed to an unregistered email.
type InviteStatus string

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
)

// OrganizationInvite is a stored intent to add an email that has no account yet.
type OrganizationInvite struct {
	ID             uuid.UUID    `json:"id"`
	OrganizationID uuid.UUID    `json:"organization_id"`
	Email          string       `json:"invited_email"`
	Role           OrgRole      `json:"role"`
	InvitedBy      *uuid.UUID   `json:"invited_by,omitempty"`
	Status         InviteStatus `json:"status"`
	CreatedAt      time.Time    `json:"created_at"`
	AcceptedAt     *time.Time   `json:"accepted_at,omitempty"`
}
