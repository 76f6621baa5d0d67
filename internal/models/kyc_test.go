package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKYCIsValid(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name    string
		status  KYCStatus
		expires *time.Time
		want    bool
	}{
		{"VerifiedNoExpiry", KYCVerified, nil, true},
		{"VerifiedFutureExpiry", KYCVerified, &future, true},
		{"VerifiedPastExpiry", KYCVerified, &past, false},
		{"VerifiedExpiresNow", KYCVerified, &now, false},
		{"Pending", KYCPending, &future, false},
		{"Rejected", KYCRejected, nil, false},
		{"Expired", KYCExpired, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := &KYCVerification{Status: tt.status, ExpiresAt: tt.expires}
			assert.Equal(t, tt.want, k.IsValid(now))
		})
	}

	var missing *KYCVerification
	assert.False(t, missing.IsValid(now))
}

func TestKYCEffectiveStatus(t *testing.T) {
	now := time.Now()
	past := now.Add(-24 * time.Hour)

	assert.Equal(t, KYCExpired, (&KYCVerification{Status: KYCVerified, ExpiresAt: &past}).EffectiveStatus(now))
	assert.Equal(t, KYCVerified, (&KYCVerification{Status: KYCVerified}).EffectiveStatus(now))
	assert.Equal(t, KYCRejected, (&KYCVerification{Status: KYCRejected, ExpiresAt: &past}).EffectiveStatus(now))
}

func TestAcceptsDocument(t *testing.T) {
	cfg := CountryConfiguration{KYCDocumentTypes: []DocumentType{DocNationalID, DocPassport}}
	assert.True(t, cfg.AcceptsDocument(DocPassport))
	assert.False(t, cfg.AcceptsDocument(DocDriverLicense))
	assert.True(t, CountryConfiguration{}.AcceptsDocument(DocDriverLicense))
}
