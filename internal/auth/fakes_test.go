package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/deevents/backend/internal/models"
	"github.com/deevents/backend/pkg/database"
	"github.com/deevents/backend/pkg/storage"
)

// memUsers is an in-memory UserStore enforcing the same unique keys as the schema.
type memUsers struct {
	mu    sync.Mutex
	users map[uuid.UUID]*models.User
}

func newMemUsers() *memUsers {
	return &memUsers{users: map[uuid.UUID]*models.User{}}
}

func (m *memUsers) WithTx(database.DBTX) UserStore { return m }

func (m *memUsers) snapshot() map[uuid.UUID]models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := make(map[uuid.UUID]models.User, len(m.users))
	for id, u := range m.users {
		snap[id] = *u
	}
	return snap
}

func (m *memUsers) restore(snap map[uuid.UUID]models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = make(map[uuid.UUID]*models.User, len(snap))
	for id, u := range snap {
		u := u
		m.users[id] = &u
	}
}

func (m *memUsers) Create(_ context.Context, p CreateUserParams) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == p.Email {
			return nil, &pgconn.PgError{Code: database.UniqueViolation, ConstraintName: "users_email_key"}
		}
		if p.Phone != nil && u.Phone != nil && *u.Phone == *p.Phone {
			return nil, &pgconn.PgError{Code: database.UniqueViolation, ConstraintName: "users_phone_key"}
		}
	}
	now := time.Now()
	u := &models.User{
		ID: uuid.New(), Email: p.Email, Phone: p.Phone, Password: p.PasswordHash,
		FirstName: p.FirstName, LastName: p.LastName, Country: p.Country, City: p.City, County: p.County,
		IsOrganizer: p.IsOrganizer, IsActive: true, CreatedAt: now, UpdatedAt: now,
	}
	m.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (m *memUsers) find(match func(*models.User) bool) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *memUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.ID == id })
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.Email == email })
}

func (m *memUsers) GetByPhone(_ context.Context, phone string) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.Phone != nil && *u.Phone == phone })
}

func (m *memUsers) mutate(id uuid.UUID, fn func(*models.User) error) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	if err := fn(u); err != nil {
		return nil, err
	}
	u.UpdatedAt = time.Now()
	cp := *u
	return &cp, nil
}

func (m *memUsers) RecordLogin(_ context.Context, id uuid.UUID) (*models.User, error) {
	return m.mutate(id, func(u *models.User) error {
		now := time.Now()
		u.LoginCount++
		u.LastLogin = &now
		return nil
	})
}

func (m *memUsers) UpdatePassword(_ context.Context, id uuid.UUID, hash string) error {
	_, err := m.mutate(id, func(u *models.User) error {
		u.Password = hash
		return nil
	})
	return err
}

func (m *memUsers) UpdateProfile(_ context.Context, id uuid.UUID, p ProfileUpdate) (*models.User, error) {
	if p.Phone != nil {
		if other, err := m.GetByPhone(context.Background(), *p.Phone); err == nil && other.ID != id {
			return nil, &pgconn.PgError{Code: database.UniqueViolation, ConstraintName: "users_phone_key"}
		}
	}
	return m.mutate(id, func(u *models.User) error {
		if p.ClearPhone {
			u.Phone = nil
		} else if p.Phone != nil {
			u.Phone = p.Phone
		}
		setString(&u.FirstName, p.FirstName)
		setString(&u.LastName, p.LastName)
		setString(&u.Bio, p.Bio)
		setString(&u.Country, p.Country)
		setString(&u.City, p.City)
		setString(&u.County, p.County)
		if p.IDNumber != nil {
			u.IDNumber = p.IDNumber
		}
		if p.MpesaNumber != nil {
			u.MpesaNumber = p.MpesaNumber
		}
		if p.DateOfBirth != nil {
			u.DateOfBirth = p.DateOfBirth
		}
		if p.IsOrganizer != nil {
			u.IsOrganizer = *p.IsOrganizer
		}
		return nil
	})
}

func (m *memUsers) SetAvatar(_ context.Context, id uuid.UUID, ref string) (*models.User, error) {
	return m.mutate(id, func(u *models.User) error {
		u.AvatarURL = &ref
		return nil
	})
}

func (m *memUsers) List(_ context.Context, limit, offset int) ([]models.UserPublic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []models.UserPublic
	for _, u := range m.users {
		list = append(list, u.ToPublic())
	}
	return list, nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// memTx rolls the user store back when fn fails.
type memTx struct {
	users *memUsers
}

func (t *memTx) InTx(_ context.Context, fn func(database.DBTX) error) error {
	snap := t.users.snapshot()
	if err := fn(nil); err != nil {
		t.users.restore(snap)
		return err
	}
	return nil
}

// mockProvisioner uses function fields so each test controls the outcome.
type mockProvisioner struct {
	ProvisionFunc func(ctx context.Context, user *models.User) (*models.Organization, error)
	RedeemFunc    func(ctx context.Context, user *models.User) (int, error)
	provisioned   []uuid.UUID
}

func (m *mockProvisioner) ProvisionPersonal(ctx context.Context, _ database.DBTX, user *models.User) (*models.Organization, error) {
	if m.ProvisionFunc != nil {
		return m.ProvisionFunc(ctx, user)
	}
	m.provisioned = append(m.provisioned, user.ID)
	return &models.Organization{ID: uuid.New(), OwnerID: user.ID, OrgType: models.OrgPersonal, Status: models.OrgActive}, nil
}

func (m *mockProvisioner) RedeemInvites(ctx context.Context, _ database.DBTX, user *models.User) (int, error) {
	if m.RedeemFunc != nil {
		return m.RedeemFunc(ctx, user)
	}
	return 0, nil
}

type mockKYC struct {
	records map[uuid.UUID]*models.KYCVerification
}

func (m *mockKYC) ForUser(_ context.Context, userID uuid.UUID) (*models.KYCVerification, error) {
	if k, ok := m.records[userID]; ok {
		return k, nil
	}
	return nil, pgx.ErrNoRows
}

type memResets struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (m *memResets) SaveResetToken(_ context.Context, token, userID string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = userID
	return nil
}

func (m *memResets) PeekResetToken(_ context.Context, token string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.tokens[token]
	return id, ok, nil
}

func (m *memResets) ConsumeResetToken(_ context.Context, token string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.tokens[token]
	delete(m.tokens, token)
	return id, ok, nil
}

func (m *memResets) only() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for t := range m.tokens {
		return t
	}
	return ""
}

type memBlobs struct {
	puts []storage.Object
}

func (m *memBlobs) Put(_ context.Context, obj storage.Object) (string, error) {
	m.puts = append(m.puts, obj)
	return "https://media.example.com/" + obj.Folder + "/" + strings.ToLower(obj.Filename), nil
}
