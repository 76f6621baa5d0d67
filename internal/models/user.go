package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a platform account. Email is always set; phone is optional
// and stored in international form.
type User struct {
	ID          uuid.UUID  `json:"id"`
	Email       string     `json:"email"`
	Phone       *string    `json:"phone,omitempty"`
	Password    string     `json:"-"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	AvatarURL   *string    `json:"avatar_url,omitempty"`
	Bio         string     `json:"bio"`
	Country     string     `json:"country"`
	City        string     `json:"city"`
	County      string     `json:"county"`
	IDNumber    *string    `json:"id_number,omitempty"`
	MpesaNumber *string    `json:"mpesa_number,omitempty"`
	IsOrganizer bool       `json:"is_organizer"`
	IsVerified  bool       `json:"is_verified"`
	IsActive    bool       `json:"is_active"`
	IsStaff     bool       `json:"is_staff"`
	LoginCount  int        `json:"login_count"`
	LastLogin   *time.Time `json:"last_login,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// PayoutPhone is the number disbursements go to: the M-Pesa number when set, otherwise the login phone.
func (u *User) PayoutPhone() string {
	if u.MpesaNumber != nil && *u.MpesaNumber != "" {
		return *u.MpesaNumber
	}
	if u.Phone != nil {
		return *u.Phone
	}
	return ""
}

// FullName joins first and last name.
func (u *User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// UserPublic is User without sensitive fields for API responses.
type UserPublic struct {
	ID          uuid.UUID  `json:"id"`
	Email       string     `json:"email"`
	Phone       *string    `json:"phone,omitempty"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	FullName    string     `json:"full_name"`
	AvatarURL   *string    `json:"avatar_url,omitempty"`
	Country     string     `json:"country"`
	IsOrganizer bool       `json:"is_organizer"`
	IsVerified  bool       `json:"is_verified"`
	IsStaff     bool       `json:"is_staff"`
	LastLogin   *time.Time `json:"last_login,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ToPublic converts User to UserPublic.
func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:          u.ID,
		Email:       u.Email,
		Phone:       u.Phone,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		FullName:    u.FullName(),
		AvatarURL:   u.AvatarURL,
		Country:     u.Country,
		IsOrganizer: u.IsOrganizer,
		IsVerified:  u.IsVerified,
		IsStaff:     u.IsStaff,
		LastLogin:   u.LastLogin,
		CreatedAt:   u.CreatedAt,
	}
}

// Profile is the self-service view of a user, with a KYC summary.
type Profile struct {
	UserPublic
	DateOfBirth *time.Time  `json:"date_of_birth,omitempty"`
	Bio         string      `json:"bio"`
	City        string      `json:"city"`
	County      string      `json:"county"`
	IDNumber    *string     `json:"id_number,omitempty"`
	MpesaNumber *string     `json:"mpesa_number,omitempty"`
	LoginCount  int         `json:"login_count"`
	KYCStatus   *KYCSummary `json:"kyc_status"`
}
