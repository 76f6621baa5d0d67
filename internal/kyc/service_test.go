package kyc

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deevents/backend/internal/apperr"
	"github.com/deevents/backend/internal/countries"
	"github.com/deevents/backend/internal/models"
	"github.com/deevents/backend/pkg/storage"
)

type fixture struct {
	svc   *Service
	store *memStore
	blobs *memBlobs
	clock time.Time
	user  *models.User
	admin uuid.UUID
}

func newFixture() *fixture {
	f := &fixture{
		clock: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		blobs: &memBlobs{},
		user:  &models.User{ID: uuid.New(), Email: "wanjiku@example.com", Country: "KE"},
		admin: uuid.New(),
	}
	now := func() time.Time { return f.clock }
	f.store = newMemStore(now)
	f.svc = NewService(Deps{
		Tx:        &memTx{store: f.store},
		Store:     f.store,
		Users:     stubUsers{f.user.ID: f.user},
		Countries: stubCountries{settings: countries.KenyaDefaults()},
		Blobs:     f.blobs,
	})
	f.svc.now = now
	return f
}

func image(name string) *storage.Object {
	return &storage.Object{Filename: name, ContentType: "image/jpeg", Size: 1024, Body: strings.NewReader("jpeg")}
}

func nationalID(number string) SubmitInput {
	return SubmitInput{
		DocumentType:   models.DocNationalID,
		DocumentNumber: number,
		Front:          image("front.jpg"),
		Back:           image("back.jpg"),
		Selfie:         image("selfie.jpg"),
	}
}

func (f *fixture) submit(t *testing.T) *models.KYCVerification {
	t.Helper()
	k, err := f.svc.Submit(context.Background(), f.user.ID, nationalID("12345678"))
	require.NoError(t, err)
	return k
}

func TestValidateDocument(t *testing.T) {
	tests := []struct {
		name   string
		typ    models.DocumentType
		number string
		want   string
		ok     bool
	}{
		{"NationalID", models.DocNationalID, "12345678", "12345678", true},
		{"NationalIDSpaces", models.DocNationalID, " 1234 5678 ", "12345678", true},
		{"NationalIDShort", models.DocNationalID, "1234567", "", false},
		{"NationalIDLetters", models.DocNationalID, "1234567A", "", false},
		{"Passport", models.DocPassport, "ak1234567", "AK1234567", true},
		{"PassportNoLetters", models.DocPassport, "1234567", "", false},
		{"AlienID", models.DocAlienID, "123456", "123456", true},
		{"AlienIDTooLong", models.DocAlienID, "1234567890", "", false},
		{"DriverLicense", models.DocDriverLicense, "DL12345X", "DL12345X", true},
		{"UnknownType", models.DocumentType("voter_card"), "12345678", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateDocument(tt.typ, tt.number)
			if !tt.ok {
				assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()

	t.Run("CreatesPendingRecord", func(t *testing.T) {
		f := newFixture()
		k := f.submit(t)
		assert.Equal(t, models.KYCPending, k.Status)
		assert.True(t, strings.HasPrefix(k.DocumentFront, "s3://deevents-kyc/kyc/documents/"))
		assert.True(t, strings.HasPrefix(k.Selfie, "s3://deevents-kyc/kyc/selfies/"))
		require.Len(t, f.blobs.puts, 3)
		for _, p := range f.blobs.puts {
			assert.True(t, p.Private)
		}
		require.Len(t, f.store.audits, 1)
		assert.Equal(t, models.KYCActionSubmitted, f.store.audits[0].Action)
	})

	t.Run("SecondWhilePendingConflicts", func(t *testing.T) {
		f := newFixture()
		f.submit(t)
		_, err := f.svc.Submit(ctx, f.user.ID, nationalID("87654321"))
		assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
		assert.Len(t, f.blobs.puts, 3, "no upload for a blocked submission")
	})

	t.Run("ResubmitAfterRejection", func(t *testing.T) {
		f := newFixture()
		k := f.submit(t)
		_, err := f.svc.Reject(ctx, k.ID, f.admin, "Blurry photo")
		require.NoError(t, err)

		again, err := f.svc.Submit(ctx, f.user.ID, nationalID("87654321"))
		require.NoError(t, err)
		assert.Equal(t, models.KYCPending, again.Status)
		assert.Equal(t, "87654321", again.DocumentNumber)
		assert.Empty(t, again.RejectionReason)
	})

	t.Run("ValidApprovalBlocksResubmission", func(t *testing.T) {
		f := newFixture()
		k := f.submit(t)
		_, err := f.svc.Approve(ctx, k.ID, f.admin)
		require.NoError(t, err)

		_, err = f.svc.Submit(ctx, f.user.ID, nationalID("87654321"))
		assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

		f.clock = f.clock.Add(models.KYCValidity + time.Hour)
		_, err = f.svc.Submit(ctx, f.user.ID, nationalID("87654321"))
		assert.NoError(t, err, "expired approval may be renewed")
	})

	t.Run("BadDocumentNumber", func(t *testing.T) {
		f := newFixture()
		_, err := f.svc.Submit(ctx, f.user.ID, nationalID("123"))
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		assert.Empty(t, f.store.records)
	})

	t.Run("DocumentTypeNotAcceptedInCountry", func(t *testing.T) {
		f := newFixture()
		in := nationalID("")
		in.DocumentType, in.DocumentNumber = models.DocDriverLicense, "DL123456"
		_, err := f.svc.Submit(ctx, f.user.ID, in)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	})

	t.Run("MissingSelfie", func(t *testing.T) {
		f := newFixture()
		in := nationalID("12345678")
		in.Selfie = nil
		_, err := f.svc.Submit(ctx, f.user.ID, in)
		var e *apperr.Error
		require.ErrorAs(t, err, &e)
		assert.Contains(t, e.Fields, "selfie")
	})

	t.Run("UploadFailureCleansUp", func(t *testing.T) {
		f := newFixture()
		f.blobs.failOn = storage.FolderKYCSelfies
		_, err := f.svc.Submit(ctx, f.user.ID, nationalID("12345678"))
		require.Error(t, err)
		assert.Len(t, f.blobs.deleted, 2)
		assert.Empty(t, f.store.records)
	})

	t.Run("ConcurrentSubmissionsYieldOnePending", func(t *testing.T) {
		f := newFixture()
		var wg sync.WaitGroup
		var mu sync.Mutex
		ok, conflicts := 0, 0
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.svc.Submit(ctx, f.user.ID, nationalID("12345678"))
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					ok++
				} else if apperr.Is(err, apperr.KindConflict) {
					conflicts++
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, ok)
		assert.Equal(t, 4, conflicts)
		assert.Len(t, f.store.records, 1)
	})
}

func TestApprove(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	k := f.submit(t)

	approved, err := f.svc.Approve(ctx, k.ID, f.admin)
	require.NoError(t, err)
	assert.Equal(t, models.KYCVerified, approved.Status)
	assert.Equal(t, f.admin, *approved.VerifiedBy)
	assert.Equal(t, f.clock.Add(365*24*time.Hour), *approved.ExpiresAt)
	assert.True(t, approved.IsValid(f.clock))
	assert.True(t, f.store.verified[f.user.ID])

	verified, err := f.svc.IsVerified(ctx, f.user.ID)
	require.NoError(t, err)
	assert.True(t, verified)

	_, err = f.svc.Approve(ctx, k.ID, f.admin)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err), "second approval must not re-stamp")

	_, err = f.svc.Approve(ctx, uuid.New(), f.admin)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestApproveRollsBackWhenUserUpdateFails(t *testing.T) {
	f := newFixture()
	k := f.submit(t)
	f.store.failMark = true

	_, err := f.svc.Approve(context.Background(), k.ID, f.admin)
	require.Error(t, err)
	stored, _ := f.store.ForUser(context.Background(), f.user.ID)
	assert.Equal(t, models.KYCPending, stored.Status)
}

func TestReject(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	k := f.submit(t)

	_, err := f.svc.Reject(ctx, k.ID, f.admin, "   ")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	rejected, err := f.svc.Reject(ctx, k.ID, f.admin, "Document expired")
	require.NoError(t, err)
	assert.Equal(t, models.KYCRejected, rejected.Status)
	assert.Equal(t, "Document expired", rejected.RejectionReason)
	assert.NotNil(t, rejected.VerifiedAt)
	assert.False(t, f.store.verified[f.user.ID])

	_, err = f.svc.Approve(ctx, k.ID, f.admin)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestReview(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	k := f.submit(t)

	_, err := f.svc.Review(ctx, k.ID, f.admin, "escalate", "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.svc.Review(ctx, k.ID, f.admin, ActionReject, "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	msg, err := f.svc.Review(ctx, k.ID, f.admin, ActionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, "KYC approved successfully.", msg)
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	_, err := f.svc.Status(ctx, f.user.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	k := f.submit(t)
	_, err = f.svc.Approve(ctx, k.ID, f.admin)
	require.NoError(t, err)

	f.clock = f.clock.Add(models.KYCValidity)
	st, err := f.svc.Status(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.KYCExpired, st.Status, "expiry is exclusive")

	verified, err := f.svc.IsVerified(ctx, f.user.ID)
	require.NoError(t, err)
	assert.False(t, verified)

	expired, err := f.svc.List(ctx, "expired", 0, 0)
	require.NoError(t, err)
	assert.Len(t, expired, 1)

	_, err = f.svc.List(ctx, "archived", 0, 0)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestDocuments(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	k := f.submit(t)
	_, err := f.svc.Reject(ctx, k.ID, f.admin, "Selfie does not match")
	require.NoError(t, err)

	d, err := f.svc.Documents(ctx, k.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(d.DocumentFront, "https://signed.example/s3://"))
	assert.NotEmpty(t, d.DocumentBack)
	require.Len(t, d.AuditTrail, 2)
	assert.Equal(t, models.KYCActionRejected, d.AuditTrail[0].Action)
}
