package models

import "github.com/shopspring/decimal"

// Country is a market the platform operates in.
type Country struct {
	Code                 string          `json:"code"`
	Name                 string          `json:"name"`
	Currency             string          `json:"currency"`
	CurrencySymbol       string          `json:"currency_symbol"`
	PhoneCode            string          `json:"phone_code"`
	TaxRate              decimal.Decimal `json:"tax_rate"` // percent, e.g. 16.00
	TaxName              string          `json:"tax_name"`
	SupportsMpesa        bool            `json:"supports_mpesa"`
	SupportsAirtelMoney  bool            `json:"supports_airtel_money"`
	SupportsCard         bool            `json:"supports_card"`
	SupportsBankTransfer bool            `json:"supports_bank_transfer"`
	IsActive             bool            `json:"is_active"`
}

// CountryConfiguration holds per-country business rules.
type CountryConfiguration struct {
	CountryCode              string          `json:"country_code"`
	MaxTicketsPerUser        int             `json:"max_tickets_per_user"`
	MaxResalePercentage      int             `json:"max_resale_percentage"`
	PlatformFeePercentage    decimal.Decimal `json:"platform_fee_percentage"`
	MinPlatformFee           decimal.Decimal `json:"min_platform_fee"`
	MinPayoutAmount          decimal.Decimal `json:"min_payout_amount"`
	PayoutProcessingDays     int             `json:"payout_processing_days"`
	RequiresKYCForOrganizers bool            `json:"requires_kyc_for_organizers"`
	RequiresKYCForAttendees  bool            `json:"requires_kyc_for_attendees"`
	KYCDocumentTypes         []DocumentType  `json:"kyc_document_types"`
}

// CountrySettings bundles a country with its configuration.
type CountrySettings struct {
	Country Country              `json:"country"`
	Config  CountryConfiguration `json:"config"`
}

// AcceptsDocument reports whether t may be submitted for KYC. An empty list accepts every type.
func (c CountryConfiguration) AcceptsDocument(t DocumentType) bool {
	if len(c.KYCDocumentTypes) == 0 {
		return true
	}
	for _, d := range c.KYCDocumentTypes {
		if d == t {
			return true
		}
	}
	return false
}
