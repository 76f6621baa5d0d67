package kyc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/deevents/backend/internal/models"
	"github.com/deevents/backend/pkg/database"
)

const kycColumns = `id, user_id, document_type, document_number, document_front, document_back, selfie,
	status, verified_by, verified_at, rejection_reason, expires_at, submitted_at, updated_at`

// Repository handles KYC persistence.
type Repository struct {
	db database.DBTX
}

// NewRepository creates a KYC repository.
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

func scanKYC(row scanner) (*models.KYCVerification, error) {
	var k models.KYCVerification
	err := row.Scan(&k.ID, &k.UserID, &k.DocumentType, &k.DocumentNumber, &k.DocumentFront, &k.DocumentBack,
		&k.Selfie, &k.Status, &k.VerifiedBy, &k.VerifiedAt, &k.RejectionReason, &k.ExpiresAt,
		&k.SubmittedAt, &k.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// SubmitParams holds a new or replacement submission.
type SubmitParams struct {
	UserID         uuid.UUID
	DocumentType   models.DocumentType
	DocumentNumber string
	DocumentFront  string
	DocumentBack   *string
	Selfie         string
}

// Upsert creates the user's record, or replaces it when the existing one is
// rejected or an expired approval. A pending or still-valid record is left
// untouched and pgx.ErrNoRows is returned; the unique user_id constraint
// serializes concurrent submissions.
func (r *Repository) Upsert(ctx context.Context, p SubmitParams) (*models.KYCVerification, error) {
	q := `INSERT INTO kyc_verifications (user_id, document_type, document_number, document_front, document_back, selfie)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT ON CONSTRAINT kyc_verifications_user_key DO UPDATE SET
			document_type = EXCLUDED.document_type,
			document_number = EXCLUDED.document_number,
			document_front = EXCLUDED.document_front,
			document_back = EXCLUDED.document_back,
			selfie = EXCLUDED.selfie,
			status = 'pending',
			verified_by = NULL,
			verified_at = NULL,
			rejection_reason = '',
			expires_at = NULL,
			submitted_at = NOW(),
			updated_at = NOW()
		WHERE kyc_verifications.status IN ('rejected', 'expired')
			OR (kyc_verifications.status = 'verified' AND kyc_verifications.expires_at <= NOW())
		RETURNING ` + kycColumns
	return scanKYC(r.db.QueryRow(ctx, q, p.UserID, p.DocumentType, p.DocumentNumber, p.DocumentFront,
		p.DocumentBack, p.Selfie))
}

// ForUser returns the user's record.
func (r *Repository) ForUser(ctx context.Context, userID uuid.UUID) (*models.KYCVerification, error) {
	return scanKYC(r.db.QueryRow(ctx, `SELECT `+kycColumns+` FROM kyc_verifications WHERE user_id = $1`, userID))
}

// GetByID returns a record by id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.KYCVerification, error) {
	return scanKYC(r.db.QueryRow(ctx, `SELECT `+kycColumns+` FROM kyc_verifications WHERE id = $1`, id))
}

// Decision is an admin outcome applied to a pending record.
type Decision struct {
	Status    models.KYCStatus
	ActorID   uuid.UUID
	Reason    string
	ExpiresAt *time.Time
}

// Decide applies d to a pending record. pgx.ErrNoRows means the record is
// absent or no longer pending.
func (r *Repository) Decide(ctx context.Context, id uuid.UUID, d Decision) (*models.KYCVerification, error) {
	q := `UPDATE kyc_verifications
		SET status = $2, verified_by = $3, verified_at = NOW(), rejection_reason = $4, expires_at = $5, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + kycColumns
	return scanKYC(r.db.QueryRow(ctx, q, id, d.Status, d.ActorID, d.Reason, d.ExpiresAt))
}

// MarkUserVerified sets the subject user's verified flag.
func (r *Repository) MarkUserVerified(ctx context.Context, userID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET is_verified = TRUE, updated_at = NOW() WHERE id = $1`, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s not found", userID)
	}
	return nil
}

// AddAudit appends an audit entry.
func (r *Repository) AddAudit(ctx context.Context, e models.KYCAuditLog) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO kyc_audit_logs (kyc_id, user_id, action, actor_id, notes) VALUES ($1, $2, $3, $4, $5)`,
		e.KYCID, e.UserID, e.Action, e.ActorID, e.Notes)
	return err
}

// AuditTrail returns the entries for a record, newest first.
func (r *Repository) AuditTrail(ctx context.Context, kycID uuid.UUID) ([]models.KYCAuditLog, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, kyc_id, user_id, action, actor_id, notes, created_at FROM kyc_audit_logs WHERE kyc_id = $1 ORDER BY created_at DESC`,
		kycID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.KYCAuditLog
	for rows.Next() {
		var e models.KYCAuditLog
		if err := rows.Scan(&e.ID, &e.KYCID, &e.UserID, &e.Action, &e.ActorID, &e.Notes, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

// List returns records ordered by submission, newest first. An empty status
// returns all; expired selects approvals past their expiry.
func (r *Repository) List(ctx context.Context, status models.KYCStatus, limit, offset int) ([]models.KYCVerification, error) {
	q := `SELECT ` + kycColumns + ` FROM kyc_verifications`
	args := []any{limit, offset}
	switch status {
	case "":
	case models.KYCExpired:
		q += ` WHERE status = 'expired' OR (status = 'verified' AND expires_at <= NOW())`
	case models.KYCVerified:
		q += ` WHERE status = 'verified' AND (expires_at IS NULL OR expires_at > NOW())`
	default:
		q += ` WHERE status = $3`
		args = append(args, status)
	}
	q += ` ORDER BY submitted_at DESC LIMIT $1 OFFSET $2`
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.KYCVerification
	for rows.Next() {
		k, err := scanKYC(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *k)
	}
	return list, rows.Err()
}
