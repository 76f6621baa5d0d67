// Package organizations is the tenant and membership engine: personal and
// business organizations, roles, invitations and admin lifecycle.
package organizations

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deevents/backend/internal/apperr"
	"github.com/deevents/backend/internal/mailaddr"
	"github.com/deevents/backend/internal/metrics"
	"github.com/deevents/backend/internal/models"
	"github.com/deevents/backend/internal/phone"
	"github.com/deevents/backend/pkg/database"
)

const slugAttempts = 5

// Store is the persistence the service needs.
type Store interface {
	WithTx(tx database.DBTX) Store
	TakenSlugs(ctx context.Context, base string) ([]string, error)
	Insert(ctx context.Context, o *models.Organization) (*models.Organization, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Organization, error)
	Update(ctx context.Context, id uuid.UUID, u OrgUpdate) (*models.Organization, error)
	SetStatus(ctx context.Context, id uuid.UUID, c StatusChange) (*models.Organization, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Organization, error)
	List(ctx context.Context, f Filter) ([]models.Organization, error)
	Member(ctx context.Context, orgID, userID uuid.UUID) (*models.OrganizationMember, error)
	AddMember(ctx context.Context, p MemberParams) (*models.OrganizationMember, error)
	SetRole(ctx context.Context, orgID, userID uuid.UUID, role models.OrgRole) (*models.OrganizationMember, error)
	Deactivate(ctx context.Context, orgID, userID uuid.UUID) (bool, error)
	Members(ctx context.Context, orgID uuid.UUID) ([]models.OrganizationMember, error)
	UserIDByEmail(ctx context.Context, email string) (uuid.UUID, error)
	SaveInvite(ctx context.Context, orgID uuid.UUID, email string, role models.OrgRole, invitedBy uuid.UUID) (*models.OrganizationInvite, error)
	PendingInvites(ctx context.Context, email string) ([]models.OrganizationInvite, error)
	AcceptInvite(ctx context.Context, id uuid.UUID) error
	UsersWithoutPersonalOrg(ctx context.Context, limit int) ([]models.User, error)
}

// Service implements the organization operations.
type Service struct {
	tx          database.TxRunner
	store       Store
	metrics     *metrics.Metrics
	logger      *zap.Logger
	countryCode string
}

// NewService creates the organizations service.
func NewService(tx database.TxRunner, store Store, m *metrics.Metrics, logger *zap.Logger, countryCode string) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{tx: tx, store: store, metrics: m, logger: logger, countryCode: countryCode}
}

// Resolve loads the organization and the caller's membership in it.
func (s *Service) Resolve(ctx context.Context, orgID, userID uuid.UUID) (*Access, error) {
	org, err := s.store.GetByID(ctx, orgID)
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("Organization not found.")
	}
	if err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}
	acc := &Access{UserID: userID, Org: org}
	m, err := s.store.Member(ctx, orgID, userID)
	switch {
	case err == nil:
		acc.Member = m
	case !database.IsNoRows(err):
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return acc, nil
}

// insert stores o under the first free slug derived from its name. Concurrent
// creators racing for a slug retry against the unique constraint.
func (s *Service) insert(ctx context.Context, store Store, o *models.Organization) (*models.Organization, error) {
	base := BaseSlug(o.Name)
	for attempt := 0; attempt < slugAttempts; attempt++ {
		taken, err := store.TakenSlugs(ctx, base)
		if err != nil {
			return nil, fmt.Errorf("load slugs: %w", err)
		}
		o.Slug = NextSlug(base, taken)
		created, err := store.Insert(ctx, o)
		if err == nil {
			return created, nil
		}
		if !database.IsNoRows(err) {
			return nil, fmt.Errorf("insert organization: %w", err)
		}
		s.logger.Debug("slug taken, retrying", zap.String("slug", o.Slug))
	}
	return nil, apperr.Conflict("Could not allocate a unique slug; try again.")
}

// ProvisionPersonal creates the user's personal organization and owner
// membership using tx, so it commits or rolls back with the user row.
func (s *Service) ProvisionPersonal(ctx context.Context, tx database.DBTX, user *models.User) (*models.Organization, error) {
	store := s.store.WithTx(tx)
	label := user.FirstName
	if label == "" {
		label, _, _ = strings.Cut(user.Email, "@")
	}
	email := user.Email
	org, err := s.insert(ctx, store, &models.Organization{
		Name:    label + "'s Events",
		OrgType: models.OrgPersonal,
		Status:  models.OrgActive,
		Email:   &email,
		OwnerID: user.ID,
	})
	if err != nil {
		return nil, err
	}
	if _, err := store.AddMember(ctx, MemberParams{OrgID: org.ID, UserID: user.ID, Role: models.OrgRoleOwner}); err != nil {
		return nil, fmt.Errorf("add owner: %w", err)
	}
	s.metrics.Organization("personal_provisioned")
	return org, nil
}

// RedeemInvites turns pending invitations for the user's email into memberships.
func (s *Service) RedeemInvites(ctx context.Context, tx database.DBTX, user *models.User) (int, error) {
	store := s.store.WithTx(tx)
	invites, err := store.PendingInvites(ctx, user.Email)
	if err != nil {
		return 0, fmt.Errorf("load invites: %w", err)
	}
	redeemed := 0
	for _, inv := range invites {
		_, err := store.AddMember(ctx, MemberParams{OrgID: inv.OrganizationID, UserID: user.ID, Role: inv.Role, InvitedBy: inv.InvitedBy})
		if err != nil && !database.IsNoRows(err) {
			return redeemed, fmt.Errorf("redeem invite %s: %w", inv.ID, err)
		}
		if err := store.AcceptInvite(ctx, inv.ID); err != nil {
			return redeemed, fmt.Errorf("accept invite %s: %w", inv.ID, err)
		}
		redeemed++
	}
	if redeemed > 0 {
		s.metrics.Organization("invite_redeemed")
	}
	return redeemed, nil
}

// BusinessInput is the form for a business organization.
type BusinessInput struct {
	Name               string
	Email              string
	Phone              string
	Website            string
	Description        string
	TaxID              string
	RegistrationNumber string
	Address            string
	MpesaPaybill       string
}

// CreateBusiness creates a business organization pending admin approval, owned by ownerID.
func (s *Service) CreateBusiness(ctx context.Context, ownerID uuid.UUID, in BusinessInput) (*models.Organization, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = phone.Normalize(in.Phone, s.countryCode)
	fields := map[string]string{}
	required := map[string]string{
		"name":    in.Name,
		"tax_id":  in.TaxID,
		"address": in.Address,
		"phone":   in.Phone,
		"email":   in.Email,
	}
	for field, v := range required {
		if strings.TrimSpace(v) == "" {
			fields[field] = fmt.Sprintf("%s is required for business organizations.", fieldLabel(field))
		}
	}
	if _, ok := fields["email"]; !ok {
		addr, valid := mailaddr.Normalize(in.Email)
		if !valid {
			fields["email"] = "Enter a valid email address."
		}
		in.Email = addr
	}
	if _, ok := fields["phone"]; !ok && !phone.Valid(in.Phone) {
		fields["phone"] = "Enter a valid phone number."
	}
	if len(fields) > 0 {
		return nil, apperr.Fields(fields)
	}

	draft := &models.Organization{
		Name:               strings.TrimSpace(in.Name),
		OrgType:            models.OrgBusiness,
		Status:             models.OrgPending,
		Email:              &in.Email,
		Phone:              &in.Phone,
		Website:            optional(in.Website),
		Description:        optional(in.Description),
		TaxID:              optional(in.TaxID),
		RegistrationNumber: optional(in.RegistrationNumber),
		Address:            optional(in.Address),
		MpesaPaybill:       optional(in.MpesaPaybill),
		OwnerID:            ownerID,
	}
	var org *models.Organization
	err := s.tx.InTx(ctx, func(tx database.DBTX) error {
		store := s.store.WithTx(tx)
		var err error
		if org, err = s.insert(ctx, store, draft); err != nil {
			return err
		}
		_, err = store.AddMember(ctx, MemberParams{OrgID: org.ID, UserID: ownerID, Role: models.OrgRoleOwner})
		if err != nil {
			return fmt.Errorf("add owner: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Organization("business_created")
	s.logger.Info("business organization created", zap.String("org_id", org.ID.String()), zap.String("owner_id", ownerID.String()))
	return org, nil
}

// Get returns the organization to an active member.
func (s *Service) Get(acc *Access) (*models.Organization, error) {
	if err := acc.require(ActRead); err != nil {
		return nil, err
	}
	return acc.Org, nil
}

// Mine splits the caller's organizations into owned and member-of.
type Mine struct {
	Owned    []models.Organization `json:"owned"`
	MemberOf []models.Organization `json:"member_of"`
}

// ListMine returns organizations the user owns or actively belongs to.
func (s *Service) ListMine(ctx context.Context, userID uuid.UUID) (*Mine, error) {
	orgs, err := s.store.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	out := &Mine{Owned: []models.Organization{}, MemberOf: []models.Organization{}}
	for _, o := range orgs {
		if o.OwnerID == userID {
			out.Owned = append(out.Owned, o)
		} else {
			out.MemberOf = append(out.MemberOf, o)
		}
	}
	return out, nil
}

// Members returns the active members.
func (s *Service) Members(ctx context.Context, acc *Access) ([]models.OrganizationMember, error) {
	if err := acc.require(ActMembers); err != nil {
		return nil, err
	}
	list, err := s.store.Members(ctx, acc.Org.ID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return list, nil
}

// MyRole returns the caller's membership.
func (s *Service) MyRole(acc *Access) (*models.OrganizationMember, error) {
	if err := acc.require(ActMyRole); err != nil {
		return nil, err
	}
	return acc.Member, nil
}

// Update edits the organization's profile fields.
func (s *Service) Update(ctx context.Context, acc *Access, u OrgUpdate) (*models.Organization, error) {
	if err := acc.require(ActUpdate); err != nil {
		return nil, err
	}
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name == "" {
			return nil, apperr.FieldValidation("name", "This field may not be blank.")
		}
		u.Name = &name
	}
	if u.Phone != nil {
		p := phone.Normalize(*u.Phone, s.countryCode)
		if p != "" && !phone.Valid(p) {
			return nil, apperr.FieldValidation("phone", "Enter a valid phone number.")
		}
		u.Phone = &p
	}
	if u.Email != nil {
		e := strings.TrimSpace(*u.Email)
		if e != "" {
			addr, ok := mailaddr.Normalize(e)
			if !ok {
				return nil, apperr.FieldValidation("email", "Enter a valid email address.")
			}
			e = addr
		}
		u.Email = &e
	}
	org, err := s.store.Update(ctx, acc.Org.ID, u)
	if err != nil {
		return nil, fmt.Errorf("update organization: %w", err)
	}
	return org, nil
}

// Delete removes a business organization. Personal organizations are permanent.
func (s *Service) Delete(ctx context.Context, acc *Access) error {
	if err := acc.require(ActDelete); err != nil {
		return err
	}
	if acc.Org.OrgType == models.OrgPersonal {
		return apperr.Forbidden("Personal organizations cannot be deleted.")
	}
	if err := s.store.Delete(ctx, acc.Org.ID); err != nil {
		return fmt.Errorf("delete organization: %w", err)
	}
	s.metrics.Organization("deleted")
	s.logger.Info("organization deleted", zap.String("org_id", acc.Org.ID.String()), zap.String("by", acc.UserID.String()))
	return nil
}

// RequestVerification puts a business organization back into admin review.
func (s *Service) RequestVerification(ctx context.Context, acc *Access) (*models.Organization, error) {
	if err := acc.require(ActRequestVerification); err != nil {
		return nil, err
	}
	if acc.Org.OrgType != models.OrgBusiness {
		return nil, apperr.Validation("Only business organizations can request verification.")
	}
	org, err := s.store.SetStatus(ctx, acc.Org.ID, StatusChange{
		From: []models.OrgStatus{models.OrgPending, models.OrgActive, models.OrgInactive},
		To:   models.OrgPending,
	})
	if database.IsNoRows(err) {
		return nil, apperr.Conflict("Suspended organizations cannot request verification.")
	}
	if err != nil {
		return nil, fmt.Errorf("request verification: %w", err)
	}
	s.metrics.Organization("verification_requested")
	return org, nil
}

// InviteResult holds either the created membership or the stored invitation.
type InviteResult struct {
	Member *models.OrganizationMember
	Invite *models.OrganizationInvite
}

// Invite adds the account behind email as a member. An email without an
// account is stored as a pending invitation redeemed at registration.
func (s *Service) Invite(ctx context.Context, acc *Access, email string, role models.OrgRole) (*InviteResult, error) {
	if err := acc.require(ActInvite); err != nil {
		return nil, err
	}
	if strings.TrimSpace(email) == "" {
		return nil, apperr.FieldValidation("email", "This field is required.")
	}
	email, ok := mailaddr.Normalize(email)
	if !ok {
		return nil, apperr.FieldValidation("email", "Enter a valid email address.")
	}
	if role == "" {
		role = models.OrgRoleMember
	}
	if err := assignable(role); err != nil {
		return nil, err
	}

	userID, err := s.store.UserIDByEmail(ctx, email)
	if database.IsNoRows(err) {
		inv, err := s.store.SaveInvite(ctx, acc.Org.ID, email, role, acc.UserID)
		if err != nil {
			return nil, fmt.Errorf("save invite: %w", err)
		}
		s.metrics.Organization("invite_pending")
		return &InviteResult{Invite: inv}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup invitee: %w", err)
	}
	inviter := acc.UserID
	m, err := s.store.AddMember(ctx, MemberParams{OrgID: acc.Org.ID, UserID: userID, Role: role, InvitedBy: &inviter})
	if database.IsNoRows(err) {
		return nil, apperr.Conflict("User is already a member of this organization.")
	}
	if err != nil {
		return nil, fmt.Errorf("add member: %w", err)
	}
	s.metrics.Organization("member_added")
	s.logger.Info("member added", zap.String("org_id", acc.Org.ID.String()), zap.String("user_id", userID.String()),
		zap.String("role", string(role)))
	return &InviteResult{Member: m}, nil
}

// ChangeRole sets a member's role. The owner's role cannot be changed.
func (s *Service) ChangeRole(ctx context.Context, acc *Access, target uuid.UUID, role models.OrgRole) (*models.OrganizationMember, error) {
	if err := acc.require(ActChangeRole); err != nil {
		return nil, err
	}
	if err := assignable(role); err != nil {
		return nil, err
	}
	if err := s.mutableMember(ctx, acc.Org.ID, target, "Cannot change owner's role."); err != nil {
		return nil, err
	}
	m, err := s.store.SetRole(ctx, acc.Org.ID, target, role)
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("Member not found.")
	}
	if err != nil {
		return nil, fmt.Errorf("set role: %w", err)
	}
	s.metrics.Organization("role_changed")
	return m, nil
}

// RemoveMember deactivates a member. The owner cannot be removed.
func (s *Service) RemoveMember(ctx context.Context, acc *Access, target uuid.UUID) error {
	if err := acc.require(ActRemoveMember); err != nil {
		return err
	}
	if err := s.mutableMember(ctx, acc.Org.ID, target, "Cannot remove organization owner."); err != nil {
		return err
	}
	ok, err := s.store.Deactivate(ctx, acc.Org.ID, target)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	if !ok {
		return apperr.NotFound("Member not found.")
	}
	s.metrics.Organization("member_removed")
	return nil
}

func (s *Service) mutableMember(ctx context.Context, orgID, userID uuid.UUID, ownerMsg string) error {
	m, err := s.store.Member(ctx, orgID, userID)
	if database.IsNoRows(err) || (err == nil && !m.IsActive) {
		return apperr.NotFound("Member not found.")
	}
	if err != nil {
		return fmt.Errorf("get member: %w", err)
	}
	if m.Role == models.OrgRoleOwner {
		return apperr.Forbidden(ownerMsg)
	}
	return nil
}

func assignable(role models.OrgRole) error {
	if !role.Valid() {
		return apperr.FieldValidation("role", fmt.Sprintf("%q is not a valid role.", role))
	}
	if role == models.OrgRoleOwner {
		return apperr.FieldValidation("role", "The owner role cannot be assigned.")
	}
	return nil
}

// Approve activates and verifies a pending organization.
func (s *Service) Approve(ctx context.Context, orgID, adminID uuid.UUID) (*models.Organization, error) {
	verified := true
	org, err := s.transition(ctx, orgID, StatusChange{
		From: []models.OrgStatus{models.OrgPending}, To: models.OrgActive, IsVerified: &verified,
	}, "Organization is not pending approval.")
	if err != nil {
		return nil, err
	}
	s.metrics.Organization("approved")
	s.logger.Info("organization approved", zap.String("org_id", orgID.String()), zap.String("admin_id", adminID.String()))
	return org, nil
}

// Suspend suspends an organization and records the reason.
func (s *Service) Suspend(ctx context.Context, orgID, adminID uuid.UUID, reason string) (*models.Organization, error) {
	org, err := s.transition(ctx, orgID, StatusChange{
		From:   []models.OrgStatus{models.OrgPending, models.OrgActive, models.OrgInactive},
		To:     models.OrgSuspended,
		Reason: strings.TrimSpace(reason),
	}, "Organization is already suspended.")
	if err != nil {
		return nil, err
	}
	s.metrics.Organization("suspended")
	s.logger.Info("organization suspended", zap.String("org_id", orgID.String()), zap.String("admin_id", adminID.String()),
		zap.String("reason", org.SuspensionReason))
	return org, nil
}

// Activate reactivates a suspended organization.
func (s *Service) Activate(ctx context.Context, orgID, adminID uuid.UUID) (*models.Organization, error) {
	org, err := s.transition(ctx, orgID, StatusChange{
		From: []models.OrgStatus{models.OrgSuspended}, To: models.OrgActive,
	}, "Organization is not suspended.")
	if err != nil {
		return nil, err
	}
	s.metrics.Organization("activated")
	s.logger.Info("organization activated", zap.String("org_id", orgID.String()), zap.String("admin_id", adminID.String()))
	return org, nil
}

func (s *Service) transition(ctx context.Context, orgID uuid.UUID, c StatusChange, wrongState string) (*models.Organization, error) {
	org, err := s.store.SetStatus(ctx, orgID, c)
	if err == nil {
		return org, nil
	}
	if !database.IsNoRows(err) {
		return nil, fmt.Errorf("set organization status: %w", err)
	}
	if _, err := s.store.GetByID(ctx, orgID); database.IsNoRows(err) {
		return nil, apperr.NotFound("Organization not found.")
	}
	return nil, apperr.Conflict(wrongState)
}

// ListAll returns organizations for the admin console.
func (s *Service) ListAll(ctx context.Context, f Filter) ([]models.Organization, error) {
	if f.Type != "" && f.Type != models.OrgPersonal && f.Type != models.OrgBusiness {
		return nil, apperr.FieldValidation("org_type", fmt.Sprintf("%q is not a valid type.", f.Type))
	}
	switch f.Status {
	case "", models.OrgPending, models.OrgActive, models.OrgSuspended, models.OrgInactive:
	default:
		return nil, apperr.FieldValidation("status", fmt.Sprintf("%q is not a valid status.", f.Status))
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	f.Search = strings.TrimSpace(f.Search)
	list, err := s.store.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	return list, nil
}

// ReconcilePersonalOrgs provisions a personal organization for every user
// found without one and returns how many were repaired.
func (s *Service) ReconcilePersonalOrgs(ctx context.Context, batch int) (int, error) {
	users, err := s.store.UsersWithoutPersonalOrg(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("find users without personal organization: %w", err)
	}
	repaired := 0
	for i := range users {
		u := &users[i]
		err := s.tx.InTx(ctx, func(tx database.DBTX) error {
			_, err := s.ProvisionPersonal(ctx, tx, u)
			return err
		})
		if database.IsUniqueViolation(err, "organizations_one_personal_per_owner") {
			continue
		}
		if err != nil {
			s.logger.Error("personal organization repair failed", zap.String("user_id", u.ID.String()), zap.Error(err))
			continue
		}
		repaired++
		s.logger.Info("personal organization repaired", zap.String("user_id", u.ID.String()))
	}
	s.metrics.Reconciled(repaired)
	return repaired, nil
}

func fieldLabel(field string) string {
	switch field {
	case "tax_id":
		return "Tax ID"
	case "name":
		return "Name"
	case "email":
		return "Email"
	case "phone":
		return "Phone"
	}
	return "Address"
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
