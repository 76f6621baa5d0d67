// Package kyc is the identity verification engine: submission, admin review
// and validity of a user's KYC record.
package kyc

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deevents/backend/internal/apperr"
	"github.com/deevents/backend/internal/metrics"
	"github.com/deevents/backend/internal/models"
	"github.com/deevents/backend/pkg/database"
	"github.com/deevents/backend/pkg/storage"
)

// Review actions.
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

var documentFormats = map[models.DocumentType]*regexp.Regexp{
	models.DocNationalID:    regexp.MustCompile(`^\d{8}$`),
	models.DocPassport:      regexp.MustCompile(`^[A-Z]{1,2}\d{6,8}$`),
	models.DocAlienID:       regexp.MustCompile(`^\d{6,9}$`),
	models.DocDriverLicense: regexp.MustCompile(`^[A-Z0-9]{6,15}$`),
}

var documentHints = map[models.DocumentType]string{
	models.DocNationalID:    "National ID must be exactly 8 digits.",
	models.DocPassport:      "Passport number must be 1-2 letters followed by 6-8 digits.",
	models.DocAlienID:       "Alien ID must be 6-9 digits.",
	models.DocDriverLicense: "Driver's license must be 6-15 letters or digits.",
}

// Store is the KYC persistence the service needs.
type Store interface {
	WithTx(tx database.DBTX) Store
	Upsert(ctx context.Context, p SubmitParams) (*models.KYCVerification, error)
	ForUser(ctx context.Context, userID uuid.UUID) (*models.KYCVerification, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.KYCVerification, error)
	Decide(ctx context.Context, id uuid.UUID, d Decision) (*models.KYCVerification, error)
	MarkUserVerified(ctx context.Context, userID uuid.UUID) error
	AddAudit(ctx context.Context, e models.KYCAuditLog) error
	AuditTrail(ctx context.Context, kycID uuid.UUID) ([]models.KYCAuditLog, error)
	List(ctx context.Context, status models.KYCStatus, limit, offset int) ([]models.KYCVerification, error)
}

// Users resolves the submitting user.
type Users interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Countries supplies the accepted document types for a market.
type Countries interface {
	Settings(ctx context.Context, code string) (models.CountrySettings, error)
}

// BlobStore keeps document images in private storage.
type BlobStore interface {
	Put(ctx context.Context, obj storage.Object) (string, error)
	Delete(ctx context.Context, ref string) error
	PresignedURL(ctx context.Context, ref string) (string, error)
}

// Deps are the collaborators of Service.
type Deps struct {
	Tx        database.TxRunner
	Store     Store
	Users     Users
	Countries Countries
	Blobs     BlobStore
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// Service implements the KYC lifecycle.
type Service struct {
	tx        database.TxRunner
	store     Store
	users     Users
	countries Countries
	blobs     BlobStore
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates the KYC service.
func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Service{
		tx:        d.Tx,
		store:     d.Store,
		users:     d.Users,
		countries: d.Countries,
		blobs:     d.Blobs,
		metrics:   d.Metrics,
		logger:    d.Logger,
		now:       time.Now,
	}
}

// SubmitInput is a KYC submission. Back is optional.
type SubmitInput struct {
	DocumentType   models.DocumentType
	DocumentNumber string
	Front          *storage.Object
	Back           *storage.Object
	Selfie         *storage.Object
}

// ValidateDocument checks the document number format for t and returns the
// normalized number.
func ValidateDocument(t models.DocumentType, number string) (string, error) {
	re, ok := documentFormats[t]
	if !ok {
		return "", apperr.FieldValidation("document_type", fmt.Sprintf("%q is not a valid choice.", t))
	}
	n := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(number), " ", ""))
	if !re.MatchString(n) {
		return "", apperr.FieldValidation("document_number", documentHints[t])
	}
	return n, nil
}

// Submit records a submission in pending state. It fails with Conflict while
// a submission is pending or an approval is still valid.
func (s *Service) Submit(ctx context.Context, userID uuid.UUID, in SubmitInput) (*models.KYCVerification, error) {
	user, err := s.users.GetByID(ctx, userID)
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("User not found.")
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	number, err := ValidateDocument(in.DocumentType, in.DocumentNumber)
	if err != nil {
		return nil, err
	}
	settings, err := s.countries.Settings(ctx, user.Country)
	if err != nil {
		return nil, err
	}
	if !settings.Config.AcceptsDocument(in.DocumentType) {
		return nil, apperr.FieldValidation("document_type",
			fmt.Sprintf("%s is not accepted in %s.", in.DocumentType, settings.Country.Name))
	}
	if err := s.validateImages(in); err != nil {
		return nil, err
	}

	// Fail fast before uploading; Upsert re-checks under the constraint.
	existing, err := s.store.ForUser(ctx, userID)
	if err != nil && !database.IsNoRows(err) {
		return nil, fmt.Errorf("load kyc: %w", err)
	}
	if err := s.submittable(existing); err != nil {
		return nil, err
	}

	refs, err := s.upload(ctx, in)
	if err != nil {
		return nil, err
	}
	params := SubmitParams{
		UserID:         userID,
		DocumentType:   in.DocumentType,
		DocumentNumber: number,
		DocumentFront:  refs.front,
		DocumentBack:   refs.back,
		Selfie:         refs.selfie,
	}
	var record *models.KYCVerification
	err = s.tx.InTx(ctx, func(tx database.DBTX) error {
		store := s.store.WithTx(tx)
		var err error
		record, err = store.Upsert(ctx, params)
		if database.IsNoRows(err) {
			current, lookupErr := store.ForUser(ctx, userID)
			if lookupErr != nil {
				return fmt.Errorf("load kyc: %w", lookupErr)
			}
			if err := s.submittable(current); err != nil {
				return err
			}
			return apperr.Conflict("KYC submission changed concurrently; try again.")
		}
		if err != nil {
			return fmt.Errorf("save kyc: %w", err)
		}
		return store.AddAudit(ctx, models.KYCAuditLog{
			KYCID:  record.ID,
			UserID: userID,
			Action: models.KYCActionSubmitted,
			Notes:  string(in.DocumentType),
		})
	})
	if err != nil {
		s.discard(refs)
		return nil, err
	}
	s.metrics.KYC(models.KYCActionSubmitted)
	s.logger.Info("kyc submitted", zap.String("user_id", userID.String()), zap.String("kyc_id", record.ID.String()))
	return record, nil
}

// submittable reports why an existing record blocks a new submission.
func (s *Service) submittable(existing *models.KYCVerification) error {
	if existing == nil {
		return nil
	}
	switch {
	case existing.Status == models.KYCPending:
		return apperr.Conflict("You already have a pending KYC submission.")
	case existing.IsValid(s.now()):
		return apperr.Conflict("Your identity is already verified.")
	}
	return nil
}

func (s *Service) validateImages(in SubmitInput) error {
	fields := map[string]string{}
	check := func(field string, obj *storage.Object, required bool) {
		if obj == nil {
			if required {
				fields[field] = "No file was submitted."
			}
			return
		}
		if err := storage.ValidateImage(obj.ContentType, obj.Filename, obj.Size); err != nil {
			fields[field] = err.Error()
		}
	}
	check("document_front", in.Front, true)
	check("document_back", in.Back, false)
	check("selfie", in.Selfie, true)
	if len(fields) > 0 {
		return apperr.Fields(fields)
	}
	return nil
}

type uploaded struct {
	front  string
	back   *string
	selfie string
}

func (s *Service) upload(ctx context.Context, in SubmitInput) (uploaded, error) {
	var refs uploaded
	put := func(obj *storage.Object, folder string) (string, error) {
		obj.Folder = folder
		obj.Private = true
		ref, err := s.blobs.Put(ctx, *obj)
		if err != nil {
			return "", fmt.Errorf("store %s: %w", folder, err)
		}
		return ref, nil
	}
	var err error
	if refs.front, err = put(in.Front, storage.FolderKYCDocuments); err != nil {
		return refs, err
	}
	if in.Back != nil {
		back, err := put(in.Back, storage.FolderKYCDocuments)
		if err != nil {
			s.discard(refs)
			return refs, err
		}
		refs.back = &back
	}
	if refs.selfie, err = put(in.Selfie, storage.FolderKYCSelfies); err != nil {
		s.discard(refs)
		return uploaded{}, err
	}
	return refs, nil
}

// discard removes uploads of a submission that was not recorded.
func (s *Service) discard(refs uploaded) {
	all := []string{refs.front, refs.selfie}
	if refs.back != nil {
		all = append(all, *refs.back)
	}
	for _, ref := range all {
		if ref == "" {
			continue
		}
		if err := s.blobs.Delete(context.Background(), ref); err != nil {
			s.logger.Warn("orphaned kyc upload", zap.String("ref", ref), zap.Error(err))
		}
	}
}

// Status returns the user's record with its status evaluated now.
func (s *Service) Status(ctx context.Context, userID uuid.UUID) (*models.KYCVerification, error) {
	k, err := s.store.ForUser(ctx, userID)
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("No KYC submission found.")
	}
	if err != nil {
		return nil, fmt.Errorf("load kyc: %w", err)
	}
	k.Status = k.EffectiveStatus(s.now())
	return k, nil
}

// ForUser returns the stored record without evaluation.
func (s *Service) ForUser(ctx context.Context, userID uuid.UUID) (*models.KYCVerification, error) {
	return s.store.ForUser(ctx, userID)
}

// IsVerified reports whether the user holds a valid approval.
func (s *Service) IsVerified(ctx context.Context, userID uuid.UUID) (bool, error) {
	k, err := s.store.ForUser(ctx, userID)
	if database.IsNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load kyc: %w", err)
	}
	return k.IsValid(s.now()), nil
}

// Approve verifies a pending record for one year and marks the user verified.
func (s *Service) Approve(ctx context.Context, kycID, adminID uuid.UUID) (*models.KYCVerification, error) {
	expires := s.now().Add(models.KYCValidity)
	var record *models.KYCVerification
	err := s.tx.InTx(ctx, func(tx database.DBTX) error {
		store := s.store.WithTx(tx)
		var err error
		record, err = store.Decide(ctx, kycID, Decision{Status: models.KYCVerified, ActorID: adminID, ExpiresAt: &expires})
		if err != nil {
			return s.decisionError(ctx, store, kycID, err)
		}
		if err := store.MarkUserVerified(ctx, record.UserID); err != nil {
			return fmt.Errorf("mark user verified: %w", err)
		}
		return store.AddAudit(ctx, models.KYCAuditLog{
			KYCID:   record.ID,
			UserID:  record.UserID,
			Action:  models.KYCActionApproved,
			ActorID: &adminID,
		})
	})
	if err != nil {
		return nil, err
	}
	s.metrics.KYC(models.KYCActionApproved)
	s.logger.Info("kyc approved", zap.String("kyc_id", kycID.String()), zap.String("admin_id", adminID.String()))
	return record, nil
}

// Reject declines a pending record. The user's verified flag is not touched.
func (s *Service) Reject(ctx context.Context, kycID, adminID uuid.UUID, reason string) (*models.KYCVerification, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.FieldValidation("reason", "Reason is required for rejection.")
	}
	var record *models.KYCVerification
	err := s.tx.InTx(ctx, func(tx database.DBTX) error {
		store := s.store.WithTx(tx)
		var err error
		record, err = store.Decide(ctx, kycID, Decision{Status: models.KYCRejected, ActorID: adminID, Reason: reason})
		if err != nil {
			return s.decisionError(ctx, store, kycID, err)
		}
		return store.AddAudit(ctx, models.KYCAuditLog{
			KYCID:   record.ID,
			UserID:  record.UserID,
			Action:  models.KYCActionRejected,
			ActorID: &adminID,
			Notes:   reason,
		})
	})
	if err != nil {
		return nil, err
	}
	s.metrics.KYC(models.KYCActionRejected)
	s.logger.Info("kyc rejected", zap.String("kyc_id", kycID.String()), zap.String("admin_id", adminID.String()))
	return record, nil
}

// Review dispatches an admin action and returns the confirmation message.
func (s *Service) Review(ctx context.Context, kycID, adminID uuid.UUID, action, reason string) (string, error) {
	switch action {
	case ActionApprove:
		if _, err := s.Approve(ctx, kycID, adminID); err != nil {
			return "", err
		}
		return "KYC approved successfully.", nil
	case ActionReject:
		if _, err := s.Reject(ctx, kycID, adminID, reason); err != nil {
			return "", err
		}
		return "KYC rejected.", nil
	}
	return "", apperr.FieldValidation("action", "Action must be approve or reject.")
}

func (s *Service) decisionError(ctx context.Context, store Store, kycID uuid.UUID, err error) error {
	if !database.IsNoRows(err) {
		return fmt.Errorf("decide kyc: %w", err)
	}
	current, lookupErr := store.GetByID(ctx, kycID)
	if database.IsNoRows(lookupErr) {
		return apperr.NotFound("KYC submission not found.")
	}
	if lookupErr != nil {
		return fmt.Errorf("load kyc: %w", lookupErr)
	}
	return apperr.Conflict(fmt.Sprintf("KYC submission is already %s.", current.EffectiveStatus(s.now())))
}

// List returns submissions for admin review. Status may be empty.
func (s *Service) List(ctx context.Context, status string, limit, offset int) ([]models.KYCVerification, error) {
	st := models.KYCStatus(strings.ToLower(strings.TrimSpace(status)))
	switch st {
	case "", models.KYCPending, models.KYCVerified, models.KYCRejected, models.KYCExpired:
	default:
		return nil, apperr.FieldValidation("status", fmt.Sprintf("%q is not a valid status.", status))
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	list, err := s.store.List(ctx, st, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list kyc: %w", err)
	}
	now := s.now()
	for i := range list {
		list[i].Status = list[i].EffectiveStatus(now)
	}
	return list, nil
}

// Documents is the admin view of a submission with time-limited image links.
type Documents struct {
	KYC           *models.KYCVerification `json:"kyc"`
	DocumentFront string                  `json:"document_front_url"`
	DocumentBack  string                  `json:"document_back_url,omitempty"`
	Selfie        string                  `json:"selfie_url"`
	AuditTrail    []models.KYCAuditLog    `json:"audit_trail"`
}

// Documents returns presigned image links and the audit trail for kycID.
func (s *Service) Documents(ctx context.Context, kycID uuid.UUID) (*Documents, error) {
	k, err := s.store.GetByID(ctx, kycID)
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("KYC submission not found.")
	}
	if err != nil {
		return nil, fmt.Errorf("load kyc: %w", err)
	}
	k.Status = k.EffectiveStatus(s.now())
	d := &Documents{KYC: k}
	if d.DocumentFront, err = s.blobs.PresignedURL(ctx, k.DocumentFront); err != nil {
		return nil, err
	}
	if k.DocumentBack != nil {
		if d.DocumentBack, err = s.blobs.PresignedURL(ctx, *k.DocumentBack); err != nil {
			return nil, err
		}
	}
	if d.Selfie, err = s.blobs.PresignedURL(ctx, k.Selfie); err != nil {
		return nil, err
	}
	if d.AuditTrail, err = s.store.AuditTrail(ctx, k.ID); err != nil {
		return nil, fmt.Errorf("load audit trail: %w", err)
	}
	return d, nil
}
