package organizations

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/deevents/backend/internal/models"
	"github.com/deevents/backend/pkg/database"
)

type memberKey struct{ org, user uuid.UUID }

// memStore is an in-memory Store applying the same predicates and unique keys as the SQL.
type memStore struct {
	mu      sync.Mutex
	users   map[uuid.UUID]models.User
	orgs    map[uuid.UUID]models.Organization
	members map[memberKey]models.OrganizationMember
	invites map[uuid.UUID]models.OrganizationInvite

	// stolenSlugs are taken by a "concurrent" writer the first time they are inserted.
	stolenSlugs map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		users:       map[uuid.UUID]models.User{},
		orgs:        map[uuid.UUID]models.Organization{},
		members:     map[memberKey]models.OrganizationMember{},
		invites:     map[uuid.UUID]models.OrganizationInvite{},
		stolenSlugs: map[string]bool{},
	}
}

type memSnapshot struct {
	orgs    map[uuid.UUID]models.Organization
	members map[memberKey]models.OrganizationMember
	invites map[uuid.UUID]models.OrganizationInvite
}

func (m *memStore) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := memSnapshot{
		orgs:    map[uuid.UUID]models.Organization{},
		members: map[memberKey]models.OrganizationMember{},
		invites: map[uuid.UUID]models.OrganizationInvite{},
	}
	for k, v := range m.orgs {
		s.orgs[k] = v
	}
	for k, v := range m.members {
		s.members[k] = v
	}
	for k, v := range m.invites {
		s.invites[k] = v
	}
	return s
}

func (m *memStore) restore(s memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orgs, m.members, m.invites = s.orgs, s.members, s.invites
}

func (m *memStore) addUser(email, firstName string) models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := models.User{ID: uuid.New(), Email: email, FirstName: firstName, IsActive: true}
	m.users[u.ID] = u
	return u
}

func (m *memStore) WithTx(database.DBTX) Store { return m }

func (m *memStore) TakenSlugs(_ context.Context, base string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	re := regexp.MustCompile(`^` + regexp.QuoteMeta(base) + `(-[0-9]+)?$`)
	var out []string
	for _, o := range m.orgs {
		if re.MatchString(o.Slug) {
			out = append(out, o.Slug)
		}
	}
	return out, nil
}

func (m *memStore) Insert(_ context.Context, o *models.Organization) (*models.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stolenSlugs[o.Slug] {
		delete(m.stolenSlugs, o.Slug)
		thief := models.Organization{ID: uuid.New(), Name: "racer", Slug: o.Slug, OrgType: models.OrgBusiness,
			Status: models.OrgPending, OwnerID: uuid.New()}
		m.orgs[thief.ID] = thief
		return nil, pgx.ErrNoRows
	}
	for _, existing := range m.orgs {
		if existing.Slug == o.Slug {
			return nil, pgx.ErrNoRows
		}
		if o.OrgType == models.OrgPersonal && existing.OrgType == models.OrgPersonal && existing.OwnerID == o.OwnerID {
			return nil, &pgconn.PgError{Code: database.UniqueViolation, ConstraintName: "organizations_one_personal_per_owner"}
		}
	}
	cp := *o
	cp.ID = uuid.New()
	cp.CreatedAt, cp.UpdatedAt = time.Now(), time.Now()
	m.orgs[cp.ID] = cp
	out := cp
	return &out, nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orgs[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &o, nil
}

func (m *memStore) Update(_ context.Context, id uuid.UUID, u OrgUpdate) (*models.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orgs[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	if u.Name != nil {
		o.Name = *u.Name
	}
	set := func(dst **string, v *string) {
		if v != nil {
			s := *v
			*dst = &s
		}
	}
	set(&o.Email, u.Email)
	set(&o.Phone, u.Phone)
	set(&o.Website, u.Website)
	set(&o.Description, u.Description)
	set(&o.TaxID, u.TaxID)
	set(&o.RegistrationNumber, u.RegistrationNumber)
	set(&o.Address, u.Address)
	set(&o.MpesaPaybill, u.MpesaPaybill)
	set(&o.LogoURL, u.LogoURL)
	m.orgs[id] = o
	return &o, nil
}

func (m *memStore) SetStatus(_ context.Context, id uuid.UUID, c StatusChange) (*models.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orgs[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	allowed := false
	for _, s := range c.From {
		allowed = allowed || s == o.Status
	}
	if !allowed {
		return nil, pgx.ErrNoRows
	}
	o.Status = c.To
	if c.IsVerified != nil {
		o.IsVerified = *c.IsVerified
	}
	o.SuspensionReason = c.Reason
	m.orgs[id] = o
	return &o, nil
}

func (m *memStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.orgs, id)
	for k := range m.members {
		if k.org == id {
			delete(m.members, k)
		}
	}
	return nil
}

func (m *memStore) ListForUser(_ context.Context, userID uuid.UUID) ([]models.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Organization
	for _, o := range m.orgs {
		mem, ok := m.members[memberKey{o.ID, userID}]
		if o.OwnerID == userID || (ok && mem.IsActive) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (m *memStore) List(_ context.Context, f Filter) ([]models.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Organization{}
	for _, o := range m.orgs {
		if f.Type != "" && o.OrgType != f.Type {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.IsVerified != nil && o.IsVerified != *f.IsVerified {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(o.Name), strings.ToLower(f.Search)) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (m *memStore) withUser(mem models.OrganizationMember) *models.OrganizationMember {
	u := m.users[mem.UserID]
	mem.Email = u.Email
	mem.FullName = strings.TrimSpace(u.FirstName + " " + u.LastName)
	mem.Capabilities = CapabilitiesFor(mem.Role)
	return &mem
}

func (m *memStore) Member(_ context.Context, orgID, userID uuid.UUID) (*models.OrganizationMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.members[memberKey{orgID, userID}]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return m.withUser(mem), nil
}

func (m *memStore) AddMember(_ context.Context, p MemberParams) (*models.OrganizationMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memberKey{p.OrgID, p.UserID}
	mem, ok := m.members[key]
	if ok && mem.IsActive {
		return nil, pgx.ErrNoRows
	}
	if !ok {
		mem = models.OrganizationMember{ID: uuid.New(), OrganizationID: p.OrgID, UserID: p.UserID}
	}
	mem.Role, mem.IsActive, mem.InvitedBy, mem.JoinedAt = p.Role, true, p.InvitedBy, time.Now()
	m.members[key] = mem
	return m.withUser(mem), nil
}

func (m *memStore) SetRole(_ context.Context, orgID, userID uuid.UUID, role models.OrgRole) (*models.OrganizationMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memberKey{orgID, userID}
	mem, ok := m.members[key]
	if !ok || !mem.IsActive || mem.Role == models.OrgRoleOwner {
		return nil, pgx.ErrNoRows
	}
	mem.Role = role
	m.members[key] = mem
	return m.withUser(mem), nil
}

func (m *memStore) Deactivate(_ context.Context, orgID, userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memberKey{orgID, userID}
	mem, ok := m.members[key]
	if !ok || !mem.IsActive || mem.Role == models.OrgRoleOwner {
		return false, nil
	}
	mem.IsActive = false
	m.members[key] = mem
	return true, nil
}

func (m *memStore) Members(_ context.Context, orgID uuid.UUID) ([]models.OrganizationMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rank := map[models.OrgRole]int{models.OrgRoleOwner: 0, models.OrgRoleAdmin: 1, models.OrgRoleManager: 2, models.OrgRoleMember: 3}
	list := []models.OrganizationMember{}
	for k, mem := range m.members {
		if k.org == orgID && mem.IsActive {
			list = append(list, *m.withUser(mem))
		}
	}
	sort.Slice(list, func(i, j int) bool { return rank[list[i].Role] < rank[list[j].Role] })
	return list, nil
}

func (m *memStore) UserIDByEmail(_ context.Context, email string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u.ID, nil
		}
	}
	return uuid.Nil, pgx.ErrNoRows
}

func (m *memStore) SaveInvite(_ context.Context, orgID uuid.UUID, email string, role models.OrgRole, invitedBy uuid.UUID) (*models.OrganizationInvite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, inv := range m.invites {
		if inv.OrganizationID == orgID && inv.Email == email && inv.Status == models.InvitePending {
			inv.Role = role
			m.invites[id] = inv
			return &inv, nil
		}
	}
	inv := models.OrganizationInvite{ID: uuid.New(), OrganizationID: orgID, Email: email, Role: role,
		InvitedBy: &invitedBy, Status: models.InvitePending, CreatedAt: time.Now()}
	m.invites[inv.ID] = inv
	return &inv, nil
}

func (m *memStore) PendingInvites(_ context.Context, email string) ([]models.OrganizationInvite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.OrganizationInvite
	for _, inv := range m.invites {
		if inv.Email == email && inv.Status == models.InvitePending {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (m *memStore) AcceptInvite(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invites[id]
	if ok && inv.Status == models.InvitePending {
		now := time.Now()
		inv.Status, inv.AcceptedAt = models.InviteAccepted, &now
		m.invites[id] = inv
	}
	return nil
}

func (m *memStore) UsersWithoutPersonalOrg(_ context.Context, limit int) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.User
	for _, u := range m.users {
		has := false
		for _, o := range m.orgs {
			has = has || (o.OwnerID == u.ID && o.OrgType == models.OrgPersonal)
		}
		if !has && len(out) < limit {
			out = append(out, u)
		}
	}
	return out, nil
}

// memTx serializes transactions and rolls the store back when fn fails.
type memTx struct {
	mu    sync.Mutex
	store *memStore
}

func (t *memTx) InTx(_ context.Context, fn func(database.DBTX) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := t.store.snapshot()
	if err := fn(nil); err != nil {
		t.store.restore(snap)
		return err
	}
	return nil
}
