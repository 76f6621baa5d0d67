package organizations

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/deevents/backend/internal/models"
	"github.com/deevents/backend/pkg/database"
)

const orgColumns = `id, name, slug, org_type, status, email, phone, website, description, tax_id,
	registration_number, address, logo_url, mpesa_paybill, owner_id, is_verified, suspension_reason,
	created_at, updated_at`

const memberColumns = `m.id, m.organization_id, m.user_id, m.role, m.is_active, m.invited_by, m.joined_at, m.updated_at,
	u.email, TRIM(u.first_name || ' ' || u.last_name)`

// Repository handles organization, membership and invitation persistence.
type Repository struct {
	db database.DBTX
}

// NewRepository creates an organizations repository.
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *Repository) WithTx(tx database.DBTX) Store {
	return &Repository{db: tx}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrg(row scanner) (*models.Organization, error) {
	var o models.Organization
	err := row.Scan(&o.ID, &o.Name, &o.Slug, &o.OrgType, &o.Status, &o.Email, &o.Phone, &o.Website,
		&o.Description, &o.TaxID, &o.RegistrationNumber, &o.Address, &o.LogoURL, &o.MpesaPaybill,
		&o.OwnerID, &o.IsVerified, &o.SuspensionReason, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func scanMember(row scanner) (*models.OrganizationMember, error) {
	var m models.OrganizationMember
	err := row.Scan(&m.ID, &m.OrganizationID, &m.UserID, &m.Role, &m.IsActive, &m.InvitedBy, &m.JoinedAt,
		&m.UpdatedAt, &m.Email, &m.FullName)
	if err != nil {
		return nil, err
	}
	m.Capabilities = CapabilitiesFor(m.Role)
	return &m, nil
}

func collectOrgs(rows pgx.Rows) ([]models.Organization, error) {
	defer rows.Close()
	list := []models.Organization{}
	for rows.Next() {
		o, err := scanOrg(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *o)
	}
	return list, rows.Err()
}

// TakenSlugs returns existing slugs equal to base or of the form base-N.
func (r *Repository) TakenSlugs(ctx context.Context, base string) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT slug FROM organizations WHERE slug = $1 OR slug ~ ('^' || $2 || '-[0-9]+$')`,
		base, regexp.QuoteMeta(base))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var slugs []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		slugs = append(slugs, s)
	}
	return slugs, rows.Err()
}

// Insert creates an organization. A slug collision returns pgx.ErrNoRows
// without aborting the surrounding transaction.
func (r *Repository) Insert(ctx context.Context, o *models.Organization) (*models.Organization, error) {
	q := `INSERT INTO organizations (name, slug, org_type, status, email, phone, website, description, tax_id,
			registration_number, address, mpesa_paybill, owner_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT ON CONSTRAINT organizations_slug_key DO NOTHING
		RETURNING ` + orgColumns
	return scanOrg(r.db.QueryRow(ctx, q, o.Name, o.Slug, o.OrgType, o.Status, o.Email, o.Phone, o.Website,
		o.Description, o.TaxID, o.RegistrationNumber, o.Address, o.MpesaPaybill, o.OwnerID))
}

// GetByID returns an organization by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	return scanOrg(r.db.QueryRow(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id = $1`, id))
}

// OrgUpdate holds editable organization fields; nil means unchanged.
type OrgUpdate struct {
	Name               *string
	Email              *string
	Phone              *string
	Website            *string
	Description        *string
	TaxID              *string
	RegistrationNumber *string
	Address            *string
	MpesaPaybill       *string
	LogoURL            *string
}

// Update edits profile fields. Type, owner, slug and status are not touched.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, u OrgUpdate) (*models.Organization, error) {
	q := `UPDATE organizations SET
			name = COALESCE($2, name),
			email = COALESCE($3, email),
			phone = COALESCE($4, phone),
			website = COALESCE($5, website),
			description = COALESCE($6, description),
			tax_id = COALESCE($7, tax_id),
			registration_number = COALESCE($8, registration_number),
			address = COALESCE($9, address),
			mpesa_paybill = COALESCE($10, mpesa_paybill),
			logo_url = COALESCE($11, logo_url),
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + orgColumns
	return scanOrg(r.db.QueryRow(ctx, q, id, u.Name, u.Email, u.Phone, u.Website, u.Description, u.TaxID,
		u.RegistrationNumber, u.Address, u.MpesaPaybill, u.LogoURL))
}

// StatusChange moves an organization from one of From to To.
type StatusChange struct {
	From       []models.OrgStatus
	To         models.OrgStatus
	IsVerified *bool
	Reason     string
}

// SetStatus applies c when the current status is in c.From. pgx.ErrNoRows
// means the organization is absent or in another status.
func (r *Repository) SetStatus(ctx context.Context, id uuid.UUID, c StatusChange) (*models.Organization, error) {
	from := make([]string, len(c.From))
	for i, s := range c.From {
		from[i] = string(s)
	}
	q := `UPDATE organizations
		SET status = $3, is_verified = COALESCE($4, is_verified), suspension_reason = $5, updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)
		RETURNING ` + orgColumns
	return scanOrg(r.db.QueryRow(ctx, q, id, from, c.To, c.IsVerified, c.Reason))
}

// Delete removes an organization; memberships and invites cascade.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM organizations WHERE id = $1`, id)
	return err
}

// ListForUser returns organizations the user owns or actively belongs to.
func (r *Repository) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Organization, error) {
	q := `SELECT ` + orgColumns + ` FROM organizations o
		WHERE o.owner_id = $1 OR EXISTS (
			SELECT 1 FROM organization_members m
			WHERE m.organization_id = o.id AND m.user_id = $1 AND m.is_active)
		ORDER BY o.created_at DESC`
	rows, err := r.db.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	return collectOrgs(rows)
}

// Filter narrows the admin organization listing.
type Filter struct {
	Type       models.OrgType
	Status     models.OrgStatus
	IsVerified *bool
	Search     string
	Limit      int
	Offset     int
}

// List returns organizations matching f, newest first.
func (r *Repository) List(ctx context.Context, f Filter) ([]models.Organization, error) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}
	if f.Type != "" {
		add("org_type = ?", f.Type)
	}
	if f.Status != "" {
		add("status = ?", f.Status)
	}
	if f.IsVerified != nil {
		add("is_verified = ?", *f.IsVerified)
	}
	if f.Search != "" {
		add("(name ILIKE ? OR email ILIKE ? OR tax_id ILIKE ?)", "%"+f.Search+"%")
	}
	q := `SELECT ` + orgColumns + ` FROM organizations`
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	q += ` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collectOrgs(rows)
}

// Member returns the user's membership row, active or not.
func (r *Repository) Member(ctx context.Context, orgID, userID uuid.UUID) (*models.OrganizationMember, error) {
	q := `SELECT ` + memberColumns + ` FROM organization_members m JOIN users u ON u.id = m.user_id
		WHERE m.organization_id = $1 AND m.user_id = $2`
	return scanMember(r.db.QueryRow(ctx, q, orgID, userID))
}

// MemberParams describes a membership to create.
type MemberParams struct {
	OrgID     uuid.UUID
	UserID    uuid.UUID
	Role      models.OrgRole
	InvitedBy *uuid.UUID
}

// AddMember creates the membership, or reactivates a removed one with the new
// role. An existing active membership is left as is and pgx.ErrNoRows is returned.
func (r *Repository) AddMember(ctx context.Context, p MemberParams) (*models.OrganizationMember, error) {
	q := `WITH upserted AS (
			INSERT INTO organization_members (organization_id, user_id, role, invited_by)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT ON CONSTRAINT organization_members_org_user_key DO UPDATE SET
				role = EXCLUDED.role, is_active = TRUE, invited_by = EXCLUDED.invited_by,
				joined_at = NOW(), updated_at = NOW()
			WHERE organization_members.is_active = FALSE
			RETURNING *)
		SELECT ` + memberColumns + ` FROM upserted m JOIN users u ON u.id = m.user_id`
	return scanMember(r.db.QueryRow(ctx, q, p.OrgID, p.UserID, p.Role, p.InvitedBy))
}

// SetRole changes an active non-owner member's role.
func (r *Repository) SetRole(ctx context.Context, orgID, userID uuid.UUID, role models.OrgRole) (*models.OrganizationMember, error) {
	q := `WITH updated AS (
			UPDATE organization_members SET role = $3, updated_at = NOW()
			WHERE organization_id = $1 AND user_id = $2 AND is_active AND role <> 'owner'
			RETURNING *)
		SELECT ` + memberColumns + ` FROM updated m JOIN users u ON u.id = m.user_id`
	return scanMember(r.db.QueryRow(ctx, q, orgID, userID, role))
}

// Deactivate soft-deletes an active non-owner member.
func (r *Repository) Deactivate(ctx context.Context, orgID, userID uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE organization_members SET is_active = FALSE, updated_at = NOW()
		WHERE organization_id = $1 AND user_id = $2 AND is_active AND role <> 'owner'`, orgID, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Members returns the active members of an organization, owner first.
func (r *Repository) Members(ctx context.Context, orgID uuid.UUID) ([]models.OrganizationMember, error) {
	q := `SELECT ` + memberColumns + ` FROM organization_members m JOIN users u ON u.id = m.user_id
		WHERE m.organization_id = $1 AND m.is_active
		ORDER BY CASE m.role WHEN 'owner' THEN 0 WHEN 'admin' THEN 1 WHEN 'manager' THEN 2 ELSE 3 END, m.joined_at`
	rows, err := r.db.Query(ctx, q, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.OrganizationMember{}
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *m)
	}
	return list, rows.Err()
}

// UserIDByEmail resolves an account by email.
func (r *Repository) UserIDByEmail(ctx context.Context, email string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.QueryRow(ctx, `SELECT id FROM users WHERE email = $1`, email).Scan(&id)
	return id, err
}

const inviteColumns = `id, organization_id, email, role, invited_by, status, created_at, accepted_at`

func scanInvite(row scanner) (*models.OrganizationInvite, error) {
	var i models.OrganizationInvite
	err := row.Scan(&i.ID, &i.OrganizationID, &i.Email, &i.Role, &i.InvitedBy, &i.Status, &i.CreatedAt, &i.AcceptedAt)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

// SaveInvite records a pending invitation, replacing the role of an existing
// pending one for the same email.
func (r *Repository) SaveInvite(ctx context.Context, orgID uuid.UUID, email string, role models.OrgRole, invitedBy uuid.UUID) (*models.OrganizationInvite, error) {
	q := `INSERT INTO organization_invites (organization_id, email, role, invited_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (organization_id, LOWER(email)) WHERE status = 'pending'
		DO UPDATE SET role = EXCLUDED.role, invited_by = EXCLUDED.invited_by
		RETURNING ` + inviteColumns
	return scanInvite(r.db.QueryRow(ctx, q, orgID, email, role, invitedBy))
}

// PendingInvites returns pending invitations addressed to email.
func (r *Repository) PendingInvites(ctx context.Context, email string) ([]models.OrganizationInvite, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+inviteColumns+` FROM organization_invites WHERE LOWER(email) = LOWER($1) AND status = 'pending' ORDER BY created_at`,
		email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.OrganizationInvite
	for rows.Next() {
		i, err := scanInvite(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *i)
	}
	return list, rows.Err()
}

// AcceptInvite marks an invitation accepted.
func (r *Repository) AcceptInvite(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`UPDATE organization_invites SET status = 'accepted', accepted_at = NOW() WHERE id = $1 AND status = 'pending'`, id)
	return err
}

// UsersWithoutPersonalOrg returns users that have no personal organization.
func (r *Repository) UsersWithoutPersonalOrg(ctx context.Context, limit int) ([]models.User, error) {
	q := `SELECT u.id, u.email, u.first_name FROM users u
		WHERE NOT EXISTS (SELECT 1 FROM organizations o WHERE o.owner_id = u.id AND o.org_type = 'personal')
		ORDER BY u.created_at
		LIMIT $1`
	rows, err := r.db.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.FirstName); err != nil {
			return nil, err
		}
		list = append(list, u)
	}
	return list, rows.Err()
}
