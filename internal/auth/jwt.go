package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/deevents/backend/internal/models"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrRevokedToken = errors.New("token has been revoked")
)

// Token types carried in the "typ" claim.
const (
	TokenAccess  = "access"
	TokenRefresh = "refresh"
)

// Claims holds JWT claims including user ID and staff flag.
type Claims struct {
	UserID  uuid.UUID `json:"user_id"`
	Email   string    `json:"email"`
	IsStaff bool      `json:"is_staff"`
	Type    string    `json:"typ"`
	jwt.RegisteredClaims
}

// TokenPair is the credential set returned at login and registration.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Blacklist revokes refresh token ids.
type Blacklist interface {
	Blacklist(ctx context.Context, jti string, ttl time.Duration) error
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
}

// SessionIssuer signs and validates access and refresh tokens.
type SessionIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	blacklist  Blacklist
	now        func() time.Time
}

// NewSessionIssuer creates a session issuer.
func NewSessionIssuer(secret string, accessTTL, refreshTTL time.Duration, blacklist Blacklist) *SessionIssuer {
	return &SessionIssuer{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		blacklist:  blacklist,
		now:        time.Now,
	}
}

// Issue creates an access and refresh token for the user.
func (s *SessionIssuer) Issue(user *models.User) (*TokenPair, error) {
	access, err := s.sign(user.ID, user.Email, user.IsStaff, TokenAccess, s.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := s.sign(user.ID, user.Email, user.IsStaff, TokenRefresh, s.refreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{Access: access, Refresh: refresh}, nil
}

// ValidateAccess parses an access token.
func (s *SessionIssuer) ValidateAccess(tokenString string) (*Claims, error) {
	return s.parse(tokenString, TokenAccess)
}

// Refresh returns a new access token for a refresh token that is valid and not revoked.
func (s *SessionIssuer) Refresh(ctx context.Context, refreshToken string) (string, error) {
	claims, err := s.parse(refreshToken, TokenRefresh)
	if err != nil {
		return "", err
	}
	revoked, err := s.blacklist.IsBlacklisted(ctx, claims.ID)
	if err != nil {
		return "", err
	}
	if revoked {
		return "", ErrRevokedToken
	}
	return s.sign(claims.UserID, claims.Email, claims.IsStaff, TokenAccess, s.accessTTL)
}

// Revoke blacklists a refresh token until it would have expired.
func (s *SessionIssuer) Revoke(ctx context.Context, refreshToken string) error {
	claims, err := s.parse(refreshToken, TokenRefresh)
	if err != nil {
		return err
	}
	ttl := claims.ExpiresAt.Time.Sub(s.now())
	if err := s.blacklist.Blacklist(ctx, claims.ID, ttl); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (s *SessionIssuer) sign(userID uuid.UUID, email string, isStaff bool, typ string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		UserID:  userID,
		Email:   email,
		IsStaff: isStaff,
		Type:    typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *SessionIssuer) parse(tokenString, typ string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Type != typ {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateSession parses an access token for request middleware.
func (s *SessionIssuer) ValidateSession(tokenString string) (uuid.UUID, bool, error) {
	claims, err := s.ValidateAccess(tokenString)
	if err != nil {
		return uuid.Nil, false, err
	}
	return claims.UserID, claims.IsStaff, nil
}
