package models

import (
	"time"

	"github.com/google/uuid"
)

// DocumentType is an identity document accepted for KYC.
type DocumentType string

const (
	DocNationalID    DocumentType = "national_id"
	DocPassport      DocumentType = "passport"
	DocAlienID       DocumentType = "alien_id"
	DocDriverLicense DocumentType = "driver_license"
)

// KYCStatus is the lifecycle state of a verification.
type KYCStatus string

const (
	KYCPending  KYCStatus = "pending"
	KYCVerified KYCStatus = "verified"
	KYCRejected KYCStatus = "rejected"
	KYCExpired  KYCStatus = "expired"
)

// KYCValidity is how long an approval stays valid.
const KYCValidity = 365 * 24 * time.Hour

// KYCVerification is a user's identity verification record. A user has at most one.
type KYCVerification struct {
	ID              uuid.UUID    `json:"id"`
	UserID          uuid.UUID    `json:"user_id"`
	DocumentType    DocumentType `json:"document_type"`
	DocumentNumber  string       `json:"document_number"`
	DocumentFront   string       `json:"document_front"`
	DocumentBack    *string      `json:"document_back,omitempty"`
	Selfie          string       `json:"selfie"`
	Status          KYCStatus    `json:"status"`
	VerifiedBy      *uuid.UUID   `json:"verified_by,omitempty"`
	VerifiedAt      *time.Time   `json:"verified_at,omitempty"`
	RejectionReason string       `json:"rejection_reason,omitempty"`
	ExpiresAt       *time.Time   `json:"expires_at,omitempty"`
	SubmittedAt     time.Time    `json:"submitted_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// IsValid is true for a verified record whose expiry is unset or still ahead of now.
func (k *KYCVerification) IsValid(now time.Time) bool {
	if k == nil || k.Status != KYCVerified {
		return false
	}
	return k.ExpiresAt == nil || k.ExpiresAt.After(now)
}

// EffectiveStatus reports expired for a verified record past its expiry.
// Expiry is never written back; it is derived on read.
func (k *KYCVerification) EffectiveStatus(now time.Time) KYCStatus {
	if k.Status == KYCVerified && !k.IsValid(now) {
		return KYCExpired
	}
	return k.Status
}

// KYCSummary is the profile view of a user's verification.
type KYCSummary struct {
	Status      KYCStatus  `json:"status"`
	SubmittedAt time.Time  `json:"submitted_at"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Summary returns the profile view with the status evaluated at now.
func (k *KYCVerification) Summary(now time.Time) *KYCSummary {
	if k == nil {
		return nil
	}
	return &KYCSummary{
		Status:      k.EffectiveStatus(now),
		SubmittedAt: k.SubmittedAt,
		VerifiedAt:  k.VerifiedAt,
		ExpiresAt:   k.ExpiresAt,
	}
}

// KYCAuditLog records one action taken on a verification.
type KYCAuditLog struct {
	ID        uuid.UUID  `json:"id"`
	KYCID     uuid.UUID  `json:"kyc_id"`
	UserID    uuid.UUID  `json:"user_id"`
	Action    string     `json:"action"`
	ActorID   *uuid.UUID `json:"actor_id,omitempty"`
	Notes     string     `json:"notes,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// KYC audit actions.
const (
	KYCActionSubmitted = "submitted"
	KYCActionApproved  = "approved"
	KYCActionRejected  = "rejected"
)
