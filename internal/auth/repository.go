package auth

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/deevents/backend/internal/models"
	"github.com/deevents/backend/pkg/database"
)

const userColumns = `id, email, phone, password_hash, first_name, last_name, date_of_birth, avatar_url, bio,
	country, city, county, id_number, mpesa_number, is_organizer, is_verified, is_active, is_staff,
	login_count, last_login, created_at, updated_at`

// Repository handles user persistence.
type Repository struct {
	db database.DBTX
}

// NewRepository creates an auth repository.
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *Repository) WithTx(tx database.DBTX) UserStore {
	return &Repository{db: tx}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.Phone, &u.Password, &u.FirstName, &u.LastName, &u.DateOfBirth,
		&u.AvatarURL, &u.Bio, &u.Country, &u.City, &u.County, &u.IDNumber, &u.MpesaNumber,
		&u.IsOrganizer, &u.IsVerified, &u.IsActive, &u.IsStaff, &u.LoginCount, &u.LastLogin,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUserParams holds the fields written at registration.
type CreateUserParams struct {
	Email        string
	Phone        *string
	PasswordHash string
	FirstName    string
	LastName     string
	Country      string
	City         string
	County       string
	IsOrganizer  bool
}

// Create inserts a new user. Duplicate email or phone surface as unique violations.
func (r *Repository) Create(ctx context.Context, p CreateUserParams) (*models.User, error) {
	q := `INSERT INTO users (email, phone, password_hash, first_name, last_name, country, city, county, is_organizer)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + userColumns
	return scanUser(r.db.QueryRow(ctx, q, p.Email, p.Phone, p.PasswordHash, p.FirstName, p.LastName,
		p.Country, p.City, p.County, p.IsOrganizer))
}

// GetByID returns a user by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetByEmail returns a user by email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// GetByPhone returns a user by normalized phone.
func (r *Repository) GetByPhone(ctx context.Context, phone string) (*models.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE phone = $1`, phone))
}

// RecordLogin increments login_count in place and stamps last_login, so concurrent logins never lose an update.
func (r *Repository) RecordLogin(ctx context.Context, id uuid.UUID) (*models.User, error) {
	q := `UPDATE users SET login_count = login_count + 1, last_login = NOW(), updated_at = NOW()
		WHERE id = $1 RETURNING ` + userColumns
	return scanUser(r.db.QueryRow(ctx, q, id))
}

// UpdatePassword replaces the password hash.
func (r *Repository) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
	return err
}

// ProfileUpdate holds the self-editable profile fields. Nil fields are left unchanged.
type ProfileUpdate struct {
	Phone       *string
	ClearPhone  bool
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

// UpdateProfile applies the non-nil fields of p.
func (r *Repository) UpdateProfile(ctx context.Context, id uuid.UUID, p ProfileUpdate) (*models.User, error) {
	q := `UPDATE users SET
		phone = CASE WHEN $2 THEN NULL ELSE COALESCE($3, phone) END,
		first_name = COALESCE($4, first_name),
		last_name = COALESCE($5, last_name),
		date_of_birth = COALESCE($6, date_of_birth),
		bio = COALESCE($7, bio),
		country = COALESCE($8, country),
		city = COALESCE($9, city),
		county = COALESCE($10, county),
		id_number = COALESCE($11, id_number),
		mpesa_number = COALESCE($12, mpesa_number),
		is_organizer = COALESCE($13, is_organizer),
		updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns
	return scanUser(r.db.QueryRow(ctx, q, id, p.ClearPhone, p.Phone, p.FirstName, p.LastName, p.DateOfBirth,
		p.Bio, p.Country, p.City, p.County, p.IDNumber, p.MpesaNumber, p.IsOrganizer))
}

// SetAvatar stores the blob reference of the user's avatar.
func (r *Repository) SetAvatar(ctx context.Context, id uuid.UUID, ref string) (*models.User, error) {
	q := `UPDATE users SET avatar_url = $2, updated_at = NOW() WHERE id = $1 RETURNING ` + userColumns
	return scanUser(r.db.QueryRow(ctx, q, id, ref))
}

// List returns users for the admin directory, newest first.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]models.UserPublic, error) {
	rows, err := r.db.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.UserPublic
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, u.ToPublic())
	}
	return list, rows.Err()
}
