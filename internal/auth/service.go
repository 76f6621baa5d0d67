// Package auth is the identity store: accounts, credentials and sessions.
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deevents/backend/internal/apperr"
	"github.com/deevents/backend/internal/mailaddr"
	"github.com/deevents/backend/internal/metrics"
	"github.com/deevents/backend/internal/models"
	"github.com/deevents/backend/internal/phone"
	"github.com/deevents/backend/pkg/database"
	"github.com/deevents/backend/pkg/storage"
)

// ResetTokenTTL is how long a password reset token stays usable.
const ResetTokenTTL = 30 * time.Minute

// ResetAcknowledgement is returned for every reset request so callers cannot probe for accounts.
const ResetAcknowledgement = "If an account exists with this email, reset instructions have been sent."

// UserStore is the user persistence the service needs.
type UserStore interface {
	WithTx(tx database.DBTX) UserStore
	Create(ctx context.Context, p CreateUserParams) (*models.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByPhone(ctx context.Context, phone string) (*models.User, error)
	RecordLogin(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
	UpdateProfile(ctx context.Context, id uuid.UUID, p ProfileUpdate) (*models.User, error)
	SetAvatar(ctx context.Context, id uuid.UUID, ref string) (*models.User, error)
	List(ctx context.Context, limit, offset int) ([]models.UserPublic, error)
}

// OrgProvisioner creates the organizations every new account starts with.
type OrgProvisioner interface {
	ProvisionPersonal(ctx context.Context, tx database.DBTX, user *models.User) (*models.Organization, error)
	RedeemInvites(ctx context.Context, tx database.DBTX, user *models.User) (int, error)
}

// KYCLookup reads a user's verification for the profile summary.
type KYCLookup interface {
	ForUser(ctx context.Context, userID uuid.UUID) (*models.KYCVerification, error)
}

// ResetTokens stores single-use password reset tokens.
type ResetTokens interface {
	SaveResetToken(ctx context.Context, token, userID string, ttl time.Duration) error
	PeekResetToken(ctx context.Context, token string) (string, bool, error)
	ConsumeResetToken(ctx context.Context, token string) (string, bool, error)
}

// BlobStore stores uploaded images.
type BlobStore interface {
	Put(ctx context.Context, obj storage.Object) (string, error)
}

// Deps are the collaborators of Service.
type Deps struct {
	Tx             database.TxRunner
	Users          UserStore
	Orgs           OrgProvisioner
	KYC            KYCLookup
	Resets         ResetTokens
	Blobs          BlobStore
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
	CountryCode    string // phone prefix digits, e.g. 254
	DefaultCountry string // ISO code, e.g. KE
}

// Service implements the identity operations.
type Service struct {
	tx             database.TxRunner
	users          UserStore
	orgs           OrgProvisioner
	kyc            KYCLookup
	resets         ResetTokens
	blobs          BlobStore
	metrics        *metrics.Metrics
	logger         *zap.Logger
	countryCode    string
	defaultCountry string
	now            func() time.Time
}

// NewService creates the identity service.
func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Service{
		tx:             d.Tx,
		users:          d.Users,
		orgs:           d.Orgs,
		kyc:            d.KYC,
		resets:         d.Resets,
		blobs:          d.Blobs,
		metrics:        d.Metrics,
		logger:         d.Logger,
		countryCode:    d.CountryCode,
		defaultCountry: d.DefaultCountry,
		now:            time.Now,
	}
}

// RegisterInput is the registration form.
type RegisterInput struct {
	Email           string
	Password        string
	PasswordConfirm string
	Phone           string
	FirstName       string
	LastName        string
	Country         string
	City            string
	County          string
	IsOrganizer     bool
}

// Register creates the account, its personal organization and any pending
// memberships addressed to its email in one transaction.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	email, ok := mailaddr.Normalize(in.Email)
	fields := map[string]string{}
	if !ok {
		fields["email"] = "Enter a valid email address."
	}
	if strings.TrimSpace(in.FirstName) == "" {
		fields["first_name"] = "This field is required."
	}
	if strings.TrimSpace(in.LastName) == "" {
		fields["last_name"] = "This field is required."
	}
	country := strings.ToUpper(strings.TrimSpace(in.Country))
	if country == "" {
		country = s.defaultCountry
	}
	if len(country) != 2 {
		fields["country"] = "Use a two-letter country code."
	}
	checkLengths(fields, map[string]string{
		"email":      email,
		"first_name": strings.TrimSpace(in.FirstName),
		"last_name":  strings.TrimSpace(in.LastName),
		"city":       strings.TrimSpace(in.City),
		"county":     strings.TrimSpace(in.County),
	})
	if in.Password != in.PasswordConfirm {
		fields["password"] = "Passwords don't match."
	} else if problems := PasswordProblems(in.Password, email); len(problems) > 0 {
		fields["password"] = strings.Join(problems, " ")
	}
	phoneNumber := phone.Normalize(in.Phone, s.countryCode)
	if phoneNumber != "" && !phone.Valid(phoneNumber) {
		fields["phone"] = "Enter a valid phone number."
	}
	if len(fields) > 0 {
		return nil, apperr.Fields(fields)
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	params := CreateUserParams{
		Email:        email,
		Phone:        optional(phoneNumber),
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Country:      country,
		City:         strings.TrimSpace(in.City),
		County:       strings.TrimSpace(in.County),
		IsOrganizer:  in.IsOrganizer,
	}

	var user *models.User
	var redeemed int
	err = s.tx.InTx(ctx, func(tx database.DBTX) error {
		var err error
		user, err = s.users.WithTx(tx).Create(ctx, params)
		if err != nil {
			return err
		}
		if _, err = s.orgs.ProvisionPersonal(ctx, tx, user); err != nil {
			return fmt.Errorf("provision personal organization: %w", err)
		}
		redeemed, err = s.orgs.RedeemInvites(ctx, tx, user)
		if err != nil {
			return fmt.Errorf("redeem invitations: %w", err)
		}
		return nil
	})
	if err != nil {
		switch {
		case database.IsUniqueViolation(err, "users_email_key"):
			return nil, duplicate("email", "A user with this email already exists.")
		case database.IsUniqueViolation(err, "users_phone_key"):
			return nil, duplicate("phone", "A user with this phone number already exists.")
		}
		s.logger.Error("registration failed", zap.String("email", email), zap.Error(err))
		return nil, fmt.Errorf("register: %w", err)
	}
	s.metrics.Registration()
	s.logger.Info("user registered", zap.String("user_id", user.ID.String()), zap.Int("invites_redeemed", redeemed))
	return user, nil
}

// Authenticate resolves identifier (email or phone) and checks the password.
// Failures say which part was wrong; only password reset hides account existence.
func (s *Service) Authenticate(ctx context.Context, identifier, password string) (*models.User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, apperr.Validation("Either email or phone number is required.")
	}
	var (
		user     *models.User
		err      error
		field    = "email"
		notFound = "No user found with this email address."
	)
	if strings.Contains(identifier, "@") {
		user, err = s.users.GetByEmail(ctx, mailaddr.Lookup(identifier))
	} else {
		field, notFound = "phone", "No user found with this phone number."
		user, err = s.users.GetByPhone(ctx, phone.NormalizeLookup(identifier, s.countryCode))
	}
	if database.IsNoRows(err) {
		s.metrics.Login(metrics.LoginNotFound)
		return nil, &apperr.Error{Kind: apperr.KindNotFound, Message: notFound, Fields: map[string]string{field: notFound}}
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !CheckPassword(password, user.Password) {
		s.metrics.Login(metrics.LoginInvalidCredential)
		return nil, &apperr.Error{
			Kind:    apperr.KindInvalidCredential,
			Message: "Incorrect password.",
			Fields:  map[string]string{"password": "Incorrect password."},
		}
	}
	if !user.IsActive {
		s.metrics.Login(metrics.LoginInactive)
		return nil, apperr.AccountInactive("This account is inactive.")
	}
	user, err = s.users.RecordLogin(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("record login: %w", err)
	}
	s.metrics.Login(metrics.LoginSuccess)
	return user, nil
}

// ChangePassword replaces the password after verifying the current one.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, oldPassword, newPassword, confirm string) error {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return err
	}
	if !CheckPassword(oldPassword, user.Password) {
		return apperr.FieldValidation("old_password", "Wrong password.")
	}
	if err := checkNewPassword(newPassword, confirm, user.Email); err != nil {
		return err
	}
	if err := s.setPassword(ctx, user.ID, newPassword); err != nil {
		return err
	}
	s.logger.Info("password changed", zap.String("user_id", user.ID.String()))
	return nil
}

// Profile returns the user with a summary of their verification.
func (s *Service) Profile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.profile(ctx, user)
}

// ProfileInput holds the editable profile fields; nil means unchanged. Email
// and is_verified are not editable.
type ProfileInput struct {
	Phone       *string
	FirstName   *string
	LastName    *string
	DateOfBirth *time.Time
	Bio         *string
	Country     *string
	City        *string
	County      *string
	IDNumber    *string
	MpesaNumber *string
	IsOrganizer *bool
}

// UpdateProfile edits the caller's own profile.
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, in ProfileInput) (*models.Profile, error) {
	upd := ProfileUpdate{
		FirstName:   trimmed(in.FirstName),
		LastName:    trimmed(in.LastName),
		DateOfBirth: in.DateOfBirth,
		Bio:         in.Bio,
		City:        trimmed(in.City),
		County:      trimmed(in.County),
		IDNumber:    trimmed(in.IDNumber),
		IsOrganizer: in.IsOrganizer,
	}
	fields := map[string]string{}
	if upd.FirstName != nil && *upd.FirstName == "" {
		fields["first_name"] = "This field may not be blank."
	}
	if upd.LastName != nil && *upd.LastName == "" {
		fields["last_name"] = "This field may not be blank."
	}
	if in.Phone != nil {
		p := phone.Normalize(*in.Phone, s.countryCode)
		switch {
		case p == "":
			upd.ClearPhone = true
		case !phone.Valid(p):
			fields["phone"] = "Enter a valid phone number."
		default:
			upd.Phone = &p
		}
	}
	if in.MpesaNumber != nil {
		p := phone.Normalize(*in.MpesaNumber, s.countryCode)
		if p != "" && !phone.Valid(p) {
			fields["mpesa_number"] = "Enter a valid phone number."
		}
		upd.MpesaNumber = &p
	}
	if in.Country != nil {
		c := strings.ToUpper(strings.TrimSpace(*in.Country))
		if len(c) != 2 {
			fields["country"] = "Use a two-letter country code."
		}
		upd.Country = &c
	}
	widths := map[string]string{}
	for field, v := range map[string]*string{
		"first_name": upd.FirstName,
		"last_name":  upd.LastName,
		"city":       upd.City,
		"county":     upd.County,
		"id_number":  upd.IDNumber,
	} {
		if v != nil {
			widths[field] = *v
		}
	}
	checkLengths(fields, widths)
	if len(fields) > 0 {
		return nil, apperr.Fields(fields)
	}

	user, err := s.users.UpdateProfile(ctx, userID, upd)
	if database.IsUniqueViolation(err, "users_phone_key") {
		return nil, duplicate("phone", "A user with this phone number already exists.")
	}
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("User not found.")
	}
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return s.profile(ctx, user)
}

// UploadAvatar stores the image and records its reference on the user.
func (s *Service) UploadAvatar(ctx context.Context, userID uuid.UUID, obj storage.Object) (*models.Profile, error) {
	if err := storage.ValidateImage(obj.ContentType, obj.Filename, obj.Size); err != nil {
		return nil, apperr.FieldValidation("avatar", err.Error())
	}
	obj.Folder = storage.FolderAvatars
	obj.Private = false
	ref, err := s.blobs.Put(ctx, obj)
	if err != nil {
		return nil, fmt.Errorf("store avatar: %w", err)
	}
	user, err := s.users.SetAvatar(ctx, userID, ref)
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("User not found.")
	}
	if err != nil {
		return nil, fmt.Errorf("save avatar: %w", err)
	}
	return s.profile(ctx, user)
}

// RequestPasswordReset issues a reset token when the email belongs to an
// active account. The result is the same whether or not it does.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	email = mailaddr.Lookup(email)
	if email == "" {
		return "", apperr.FieldValidation("email", "Email is required.")
	}
	user, err := s.users.GetByEmail(ctx, email)
	if database.IsNoRows(err) {
		return ResetAcknowledgement, nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup user: %w", err)
	}
	if !user.IsActive {
		return ResetAcknowledgement, nil
	}
	token := uuid.NewString()
	if err := s.resets.SaveResetToken(ctx, token, user.ID.String(), ResetTokenTTL); err != nil {
		return "", err
	}
	s.logger.Info("password reset requested", zap.String("user_id", user.ID.String()))
	return ResetAcknowledgement, nil
}

// ConfirmPasswordReset validates the new password against the token's
// account, then consumes token and sets it. A rejected password leaves the
// token usable.
func (s *Service) ConfirmPasswordReset(ctx context.Context, token, newPassword, confirm string) error {
	if err := checkNewPassword(newPassword, confirm, ""); err != nil {
		return err
	}
	token = strings.TrimSpace(token)
	raw, ok, err := s.resets.PeekResetToken(ctx, token)
	if err != nil {
		return err
	}
	if !ok {
		return invalidResetToken()
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return invalidResetToken()
	}
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := checkNewPassword(newPassword, confirm, user.Email); err != nil {
		return err
	}
	spent, ok, err := s.resets.ConsumeResetToken(ctx, token)
	if err != nil {
		return err
	}
	// A concurrent confirm may have spent it between the two reads.
	if !ok || spent != raw {
		return invalidResetToken()
	}
	if err := s.setPassword(ctx, user.ID, newPassword); err != nil {
		return err
	}
	s.logger.Info("password reset completed", zap.String("user_id", user.ID.String()))
	return nil
}

// ListUsers returns the admin user directory.
func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]models.UserPublic, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.users.List(ctx, limit, offset)
}

func (s *Service) getUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("User not found.")
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *Service) profile(ctx context.Context, user *models.User) (*models.Profile, error) {
	p := &models.Profile{
		UserPublic:  user.ToPublic(),
		DateOfBirth: user.DateOfBirth,
		Bio:         user.Bio,
		City:        user.City,
		County:      user.County,
		IDNumber:    user.IDNumber,
		MpesaNumber: user.MpesaNumber,
		LoginCount:  user.LoginCount,
	}
	if s.kyc == nil {
		return p, nil
	}
	k, err := s.kyc.ForUser(ctx, user.ID)
	if err != nil && !database.IsNoRows(err) {
		return nil, fmt.Errorf("load kyc summary: %w", err)
	}
	p.KYCStatus = k.Summary(s.now())
	return p, nil
}

func (s *Service) setPassword(ctx context.Context, userID uuid.UUID, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func checkNewPassword(password, confirm, email string) error {
	if password != confirm {
		return apperr.FieldValidation("confirm_password", "Passwords don't match.")
	}
	if problems := PasswordProblems(password, email); len(problems) > 0 {
		return apperr.FieldValidation("new_password", strings.Join(problems, " "))
	}
	return nil
}

func duplicate(field, msg string) error {
	return &apperr.Error{Kind: apperr.KindConflict, Message: msg, Fields: map[string]string{field: msg}}
}

func invalidResetToken() error {
	return apperr.FieldValidation("token", "Invalid or expired reset token.")
}

// columnLimits are the character widths of the users columns.
var columnLimits = map[string]int{
	"email":      255,
	"first_name": 100,
	"last_name":  100,
	"city":       100,
	"county":     100,
	"id_number":  20,
}

// checkLengths records a field error for every value wider than its column,
// leaving fields that already carry an error untouched.
func checkLengths(fields map[string]string, values map[string]string) {
	for field, v := range values {
		if _, bad := fields[field]; bad {
			continue
		}
		if limit := columnLimits[field]; utf8.RuneCountInString(v) > limit {
			fields[field] = fmt.Sprintf("Ensure this field has no more than %d characters.", limit)
		}
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	return &t
}
