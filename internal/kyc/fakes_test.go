package kyc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/deevents/backend/internal/models"
	"github.com/deevents/backend/pkg/database"
	"github.com/deevents/backend/pkg/storage"
)

// memStore mirrors the repository's SQL predicates over an in-memory table.
type memStore struct {
	mu       sync.Mutex
	records  map[uuid.UUID]*models.KYCVerification // by user id
	audits   []models.KYCAuditLog
	verified map[uuid.UUID]bool
	now      func() time.Time
	failMark bool
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{
		records:  map[uuid.UUID]*models.KYCVerification{},
		verified: map[uuid.UUID]bool{},
		now:      now,
	}
}

func (m *memStore) WithTx(database.DBTX) Store { return m }

type storeSnapshot struct {
	records  map[uuid.UUID]models.KYCVerification
	audits   []models.KYCAuditLog
	verified map[uuid.UUID]bool
}

func (m *memStore) snapshot() storeSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := storeSnapshot{records: map[uuid.UUID]models.KYCVerification{}, verified: map[uuid.UUID]bool{}}
	for k, v := range m.records {
		s.records[k] = *v
	}
	for k, v := range m.verified {
		s.verified[k] = v
	}
	s.audits = append(s.audits, m.audits...)
	return s
}

func (m *memStore) restore(s storeSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = map[uuid.UUID]*models.KYCVerification{}
	for k, v := range s.records {
		v := v
		m.records[k] = &v
	}
	m.verified = s.verified
	m.audits = s.audits
}

func (m *memStore) Upsert(_ context.Context, p SubmitParams) (*models.KYCVerification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if cur, ok := m.records[p.UserID]; ok {
		replaceable := cur.Status == models.KYCRejected || cur.Status == models.KYCExpired ||
			(cur.Status == models.KYCVerified && cur.ExpiresAt != nil && !cur.ExpiresAt.After(now))
		if !replaceable {
			return nil, pgx.ErrNoRows
		}
	}
	id := uuid.New()
	if cur, ok := m.records[p.UserID]; ok {
		id = cur.ID
	}
	k := &models.KYCVerification{
		ID: id, UserID: p.UserID, DocumentType: p.DocumentType, DocumentNumber: p.DocumentNumber,
		DocumentFront: p.DocumentFront, DocumentBack: p.DocumentBack, Selfie: p.Selfie,
		Status: models.KYCPending, SubmittedAt: now, UpdatedAt: now,
	}
	m.records[p.UserID] = k
	cp := *k
	return &cp, nil
}

func (m *memStore) ForUser(_ context.Context, userID uuid.UUID) (*models.KYCVerification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.records[userID]; ok {
		cp := *k
		return &cp, nil
	}
	return nil, pgx.ErrNoRows
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.KYCVerification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.records {
		if k.ID == id {
			cp := *k
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *memStore) Decide(_ context.Context, id uuid.UUID, d Decision) (*models.KYCVerification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.records {
		if k.ID != id || k.Status != models.KYCPending {
			continue
		}
		now := m.now()
		actor := d.ActorID
		k.Status, k.VerifiedBy, k.VerifiedAt = d.Status, &actor, &now
		k.RejectionReason, k.ExpiresAt, k.UpdatedAt = d.Reason, d.ExpiresAt, now
		cp := *k
		return &cp, nil
	}
	return nil, pgx.ErrNoRows
}

func (m *memStore) MarkUserVerified(_ context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMark {
		return errors.New("connection reset")
	}
	m.verified[userID] = true
	return nil
}

func (m *memStore) AddAudit(_ context.Context, e models.KYCAuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, e)
	return nil
}

func (m *memStore) AuditTrail(_ context.Context, kycID uuid.UUID) ([]models.KYCAuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []models.KYCAuditLog
	for i := len(m.audits) - 1; i >= 0; i-- {
		if m.audits[i].KYCID == kycID {
			list = append(list, m.audits[i])
		}
	}
	return list, nil
}

func (m *memStore) List(_ context.Context, status models.KYCStatus, limit, offset int) ([]models.KYCVerification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []models.KYCVerification
	for _, k := range m.records {
		if status == "" || k.EffectiveStatus(m.now()) == status {
			list = append(list, *k)
		}
	}
	return list, nil
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

type stubUsers map[uuid.UUID]*models.User

func (s stubUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	if u, ok := s[id]; ok {
		return u, nil
	}
	return nil, pgx.ErrNoRows
}

type stubCountries struct {
	settings models.CountrySettings
}

func (s stubCountries) Settings(context.Context, string) (models.CountrySettings, error) {
	return s.settings, nil
}

type memBlobs struct {
	mu      sync.Mutex
	puts    []storage.Object
	deleted []string
	failOn  string
}

func (m *memBlobs) Put(_ context.Context, obj storage.Object) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != "" && obj.Folder == m.failOn {
		return "", errors.New("s3 unavailable")
	}
	m.puts = append(m.puts, obj)
	return "s3://deevents-kyc/" + storage.ObjectKey(obj.Folder, obj.Filename, obj.ContentType), nil
}

func (m *memBlobs) Delete(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, ref)
	return nil
}

func (m *memBlobs) PresignedURL(_ context.Context, ref string) (string, error) {
	return "https://signed.example/" + ref, nil
}
