// Package payments orchestrates ticket checkout and organizer payouts over
// the tax calculator and the mobile-money gateway.
package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/deevents/backend/internal/apperr"
	"github.com/deevents/backend/internal/models"
	"github.com/deevents/backend/internal/payments/mpesa"
	"github.com/deevents/backend/internal/tax"
	"github.com/deevents/backend/pkg/database"
)

// idempotencyTTL bounds how long a reference stays claimed after a successful call.
const idempotencyTTL = 24 * time.Hour

// Gateway is the mobile-money provider.
type Gateway interface {
	Collect(ctx context.Context, phone string, amount decimal.Decimal, reference, description string) (*mpesa.ProviderResponse, error)
	Disburse(ctx context.Context, phone string, amount decimal.Decimal, remarks string) (*mpesa.ProviderResponse, error)
}

// Idempotency claims references so a repeated request cannot charge or pay twice.
type Idempotency interface {
	AcquireIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseIdempotencyKey(ctx context.Context, key string) error
}

// Countries resolves per-country rules.
type Countries interface {
	Settings(ctx context.Context, code string) (models.CountrySettings, error)
}

// Users loads accounts.
type Users interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// KYC reports whether a user holds a valid verification.
type KYC interface {
	IsVerified(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Deps are the collaborators of Service.
type Deps struct {
	Gateway        Gateway
	Idempotency    Idempotency
	Countries      Countries
	Users          Users
	KYC            KYC
	DefaultCountry string
	Logger         *zap.Logger
}

// Service implements checkout and payout.
type Service struct {
	gateway        Gateway
	idem           Idempotency
	countries      Countries
	users          Users
	kyc            KYC
	defaultCountry string
	logger         *zap.Logger
}

// NewService creates the payments service.
func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Service{
		gateway:        d.Gateway,
		idem:           d.Idempotency,
		countries:      d.Countries,
		users:          d.Users,
		kyc:            d.KYC,
		defaultCountry: d.DefaultCountry,
		logger:         d.Logger,
	}
}

// CheckoutInput is a ticket purchase to collect. References are scoped to PayerID.
type CheckoutInput struct {
	PayerID     uuid.UUID
	Phone       string
	TicketPrice decimal.Decimal
	ServiceFee  decimal.Decimal
	Reference   string
	Description string
	Country     string
}

// CheckoutResult is the receipt together with the provider acknowledgement.
type CheckoutResult struct {
	Receipt  tax.Receipt             `json:"receipt"`
	Provider *mpesa.ProviderResponse `json:"provider"`
}

// Checkout computes the receipt and asks the payer to pay its total.
func (s *Service) Checkout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	in.Reference = strings.TrimSpace(in.Reference)
	if in.Reference == "" {
		return nil, apperr.FieldValidation("reference", "This field is required.")
	}
	if !in.TicketPrice.IsPositive() {
		return nil, apperr.FieldValidation("ticket_price", "Ticket price must be greater than zero.")
	}
	if in.ServiceFee.IsNegative() {
		return nil, apperr.FieldValidation("service_fee", "Service fee cannot be negative.")
	}
	calc, err := s.calculator(ctx, in.Country)
	if err != nil {
		return nil, err
	}
	receipt := calc.ReceiptBreakdown(in.TicketPrice, in.ServiceFee)

	var resp *mpesa.ProviderResponse
	err = s.once(ctx, idempotencyKey("collect", in.PayerID, in.Reference), func() error {
		var err error
		resp, err = s.gateway.Collect(ctx, in.Phone, receipt.Total, in.Reference, in.Description)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &CheckoutResult{Receipt: receipt, Provider: resp}, nil
}

// PayoutInput is a staff-approved disbursement to an organizer. References
// are scoped to the organizer.
type PayoutInput struct {
	OrganizerID uuid.UUID
	ApprovedBy  uuid.UUID
	Amount      decimal.Decimal
	Reference   string
	Remarks     string
}

// PayoutResult is the payout breakdown together with the provider acknowledgement.
type PayoutResult struct {
	Breakdown  tax.Payout              `json:"breakdown"`
	IsResident bool                    `json:"is_resident"`
	Provider   *mpesa.ProviderResponse `json:"provider"`
}

// Payout pays an organizer the net of fees and withholding on amount. Only
// staff may approve a payout, and only active organizers receive one.
// Payouts run on the platform's rails, so its default country supplies the
// rules and residency is the organizer's country matching it.
func (s *Service) Payout(ctx context.Context, in PayoutInput) (*PayoutResult, error) {
	in.Reference = strings.TrimSpace(in.Reference)
	if in.Reference == "" {
		return nil, apperr.FieldValidation("reference", "This field is required.")
	}
	approver, err := s.user(ctx, in.ApprovedBy)
	if err != nil {
		return nil, err
	}
	if !approver.IsStaff || !approver.IsActive {
		return nil, apperr.Forbidden("Only platform staff can approve payouts.")
	}
	organizer, err := s.user(ctx, in.OrganizerID)
	if err != nil {
		return nil, err
	}
	if !organizer.IsOrganizer || !organizer.IsActive {
		return nil, apperr.Forbidden("Payouts are only made to active organizers.")
	}
	settings, err := s.settings(ctx, s.defaultCountry)
	if err != nil {
		return nil, err
	}
	if settings.Config.RequiresKYCForOrganizers {
		ok, err := s.kyc.IsVerified(ctx, organizer.ID)
		if err != nil {
			return nil, fmt.Errorf("check kyc: %w", err)
		}
		if !ok {
			return nil, apperr.Forbidden("A verified identity is required before payouts.")
		}
	}
	to := organizer.PayoutPhone()
	if to == "" {
		return nil, apperr.FieldValidation("mpesa_number", "The organizer has no M-Pesa number for payouts.")
	}
	resident := strings.EqualFold(organizer.Country, settings.Country.Code)
	breakdown, err := tax.NewCalculator(settings).PayoutBreakdown(in.Amount, resident)
	if err != nil {
		return nil, err
	}
	remarks := in.Remarks
	if remarks == "" {
		remarks = "Payout " + in.Reference
	}

	var resp *mpesa.ProviderResponse
	err = s.once(ctx, idempotencyKey("payout", organizer.ID, in.Reference), func() error {
		var err error
		resp, err = s.gateway.Disburse(ctx, to, breakdown.NetPayout, remarks)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("payout requested",
		zap.String("organizer_id", organizer.ID.String()),
		zap.String("approved_by", approver.ID.String()),
		zap.String("reference", in.Reference),
		zap.Bool("is_resident", resident),
		zap.String("net", breakdown.NetPayout.StringFixed(2)))
	return &PayoutResult{Breakdown: breakdown, IsResident: resident, Provider: resp}, nil
}

func (s *Service) user(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("User not found.")
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func idempotencyKey(op string, owner uuid.UUID, reference string) string {
	return op + ":" + owner.String() + ":" + reference
}

// once runs fn while holding key. The key is released when fn fails so the
// caller may retry, and kept when it succeeds.
func (s *Service) once(ctx context.Context, key string, fn func() error) error {
	ok, err := s.idem.AcquireIdempotencyKey(ctx, key, idempotencyTTL)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Conflict("A request with this reference is already in progress or completed.")
	}
	if err := fn(); err != nil {
		if rerr := s.idem.ReleaseIdempotencyKey(context.WithoutCancel(ctx), key); rerr != nil {
			s.logger.Error("release idempotency key", zap.String("key", key), zap.Error(rerr))
		}
		return err
	}
	return nil
}

func (s *Service) settings(ctx context.Context, country string) (models.CountrySettings, error) {
	if country == "" {
		country = s.defaultCountry
	}
	settings, err := s.countries.Settings(ctx, country)
	if err != nil {
		return models.CountrySettings{}, fmt.Errorf("load country settings: %w", err)
	}
	return settings, nil
}

func (s *Service) calculator(ctx context.Context, country string) (*tax.Calculator, error) {
	settings, err := s.settings(ctx, country)
	if err != nil {
		return nil, err
	}
	return tax.NewCalculator(settings), nil
}

// Quote returns a receipt without collecting.
func (s *Service) Quote(ctx context.Context, country string, ticketPrice, serviceFee decimal.Decimal) (tax.Receipt, error) {
	calc, err := s.calculator(ctx, country)
	if err != nil {
		return tax.Receipt{}, err
	}
	return calc.ReceiptBreakdown(ticketPrice, serviceFee), nil
}
