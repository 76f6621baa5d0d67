package countries

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deevents/backend/internal/models"
)

// Repository reads country reference data.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a countries repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get returns a country joined with its configuration.
func (r *Repository) Get(ctx context.Context, code string) (*models.CountrySettings, error) {
	const q = `SELECT c.code, c.name, c.currency, c.currency_symbol, c.phone_code, c.tax_rate, c.tax_name,
		c.supports_mpesa, c.supports_airtel_money, c.supports_card, c.supports_bank_transfer, c.is_active,
		cc.max_tickets_per_user, cc.max_resale_percentage, cc.platform_fee_percentage, cc.min_platform_fee,
		cc.min_payout_amount, cc.payout_processing_days, cc.requires_kyc_for_organizers,
		cc.requires_kyc_for_attendees, cc.kyc_document_types
		FROM countries c
		INNER JOIN country_configurations cc ON cc.country_code = c.code
		WHERE c.code = $1`
	var s models.CountrySettings
	var docTypes []string
	err := r.pool.QueryRow(ctx, q, code).Scan(
		&s.Country.Code, &s.Country.Name, &s.Country.Currency, &s.Country.CurrencySymbol, &s.Country.PhoneCode,
		&s.Country.TaxRate, &s.Country.TaxName, &s.Country.SupportsMpesa, &s.Country.SupportsAirtelMoney,
		&s.Country.SupportsCard, &s.Country.SupportsBankTransfer, &s.Country.IsActive,
		&s.Config.MaxTicketsPerUser, &s.Config.MaxResalePercentage, &s.Config.PlatformFeePercentage,
		&s.Config.MinPlatformFee, &s.Config.MinPayoutAmount, &s.Config.PayoutProcessingDays,
		&s.Config.RequiresKYCForOrganizers, &s.Config.RequiresKYCForAttendees, &docTypes,
	)
	if err != nil {
		return nil, err
	}
	s.Config.CountryCode = s.Country.Code
	for _, d := range docTypes {
		s.Config.KYCDocumentTypes = append(s.Config.KYCDocumentTypes, models.DocumentType(d))
	}
	return &s, nil
}

// ListActive returns active countries ordered by name.
func (r *Repository) ListActive(ctx context.Context) ([]models.Country, error) {
	rows, err := r.pool.Query(ctx, `SELECT code, name, currency, currency_symbol, phone_code, tax_rate, tax_name,
		supports_mpesa, supports_airtel_money, supports_card, supports_bank_transfer, is_active
		FROM countries WHERE is_active = TRUE ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Country
	for rows.Next() {
		var c models.Country
		if err := rows.Scan(&c.Code, &c.Name, &c.Currency, &c.CurrencySymbol, &c.PhoneCode, &c.TaxRate, &c.TaxName,
			&c.SupportsMpesa, &c.SupportsAirtelMoney, &c.SupportsCard, &c.SupportsBankTransfer, &c.IsActive); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}
