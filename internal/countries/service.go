// Package countries serves per-country reference data and business rules.
package countries

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/deevents/backend/internal/models"
	"github.com/deevents/backend/internal/tax"
	"github.com/deevents/backend/pkg/database"
)

// Store is the persistence the service needs.
type Store interface {
	Get(ctx context.Context, code string) (*models.CountrySettings, error)
}

// Service resolves country settings, falling back to built-in defaults when
// the default market has not been seeded.
type Service struct {
	store          Store
	defaultCountry string
	logger         *zap.Logger
}

// NewService creates a countries service.
func NewService(store Store, defaultCountry string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, defaultCountry: strings.ToUpper(defaultCountry), logger: logger}
}

// Settings returns the country and configuration for code. An empty code means the platform default.
func (s *Service) Settings(ctx context.Context, code string) (models.CountrySettings, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		code = s.defaultCountry
	}
	settings, err := s.store.Get(ctx, code)
	if err == nil {
		return *settings, nil
	}
	if !database.IsNoRows(err) {
		return models.CountrySettings{}, fmt.Errorf("load country %s: %w", code, err)
	}
	if code == "KE" {
		s.logger.Warn("country configuration not seeded, using built-in defaults", zap.String("country", code))
		return KenyaDefaults(), nil
	}
	s.logger.Warn("no configuration for country, using platform default", zap.String("country", code))
	if code != s.defaultCountry {
		return s.Settings(ctx, s.defaultCountry)
	}
	return KenyaDefaults(), nil
}

// Calculator returns a tax calculator for code.
func (s *Service) Calculator(ctx context.Context, code string) (*tax.Calculator, error) {
	settings, err := s.Settings(ctx, code)
	if err != nil {
		return nil, err
	}
	return tax.NewCalculator(settings), nil
}

// KenyaDefaults is the built-in configuration for the launch market.
func KenyaDefaults() models.CountrySettings {
	return models.CountrySettings{
		Country: models.Country{
			Code:                 "KE",
			Name:                 "Kenya",
			Currency:             "KES",
			CurrencySymbol:       "KSh",
			PhoneCode:            "+254",
			TaxRate:              decimal.RequireFromString("16.00"),
			TaxName:              "VAT",
			SupportsMpesa:        true,
			SupportsAirtelMoney:  true,
			SupportsCard:         true,
			SupportsBankTransfer: true,
			IsActive:             true,
		},
		Config: models.CountryConfiguration{
			CountryCode:              "KE",
			MaxTicketsPerUser:        10,
			MaxResalePercentage:      120,
			PlatformFeePercentage:    decimal.RequireFromString("3.00"),
			MinPlatformFee:           decimal.RequireFromString("50.00"),
			MinPayoutAmount:          decimal.RequireFromString("500.00"),
			PayoutProcessingDays:     3,
			RequiresKYCForOrganizers: true,
			KYCDocumentTypes:         []models.DocumentType{models.DocNationalID, models.DocPassport, models.DocAlienID},
		},
	}
}
