package auth

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/deevents/backend/internal/apperr"
	"github.com/deevents/backend/internal/middleware"
	"github.com/deevents/backend/internal/models"
	"github.com/deevents/backend/pkg/response"
	"github.com/deevents/backend/pkg/storage"
)

// RegisterRequest is the body for POST /auth/register.
type RegisterRequest struct {
	Email           string `json:"email" binding:"required"`
	Password        string `json:"password" binding:"required"`
	PasswordConfirm string `json:"password_confirm" binding:"required"`
	Phone           string `json:"phone"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Country         string `json:"country"`
	City            string `json:"city"`
	County          string `json:"county"`
	IsOrganizer     bool   `json:"is_organizer"`
}

// LoginRequest is the body for POST /auth/login. Either email or phone identifies the account.
type LoginRequest struct {
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password" binding:"required"`
}

// RefreshRequest is the body for POST /auth/refresh and POST /auth/logout.
type RefreshRequest struct {
	Refresh string `json:"refresh" binding:"required"`
}

// ProfileRequest is the body for PATCH /auth/profile.
type ProfileRequest struct {
	Phone       *string `json:"phone"`
	FirstName   *string `json:"first_name"`
	LastName    *string `json:"last_name"`
	DateOfBirth *string `json:"date_of_birth"` // YYYY-MM-DD
	Bio         *string `json:"bio"`
	Country     *string `json:"country"`
	City        *string `json:"city"`
	County      *string `json:"county"`
	IDNumber    *string `json:"id_number"`
	MpesaNumber *string `json:"mpesa_number"`
	IsOrganizer *bool   `json:"is_organizer"`
}

// ChangePasswordRequest is the body for POST /auth/change-password.
type ChangePasswordRequest struct {
	OldPassword     string `json:"old_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
	ConfirmPassword string `json:"confirm_password" binding:"required"`
}

// ResetRequest is the body for POST /auth/password-reset.
type ResetRequest struct {
	Email string `json:"email"`
}

// ResetConfirmRequest is the body for POST /auth/password-reset/confirm.
type ResetConfirmRequest struct {
	Token           string `json:"token" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
	ConfirmPassword string `json:"confirm_password" binding:"required"`
}

// SessionResponse is returned by register and login.
type SessionResponse struct {
	User    models.UserPublic `json:"user"`
	Tokens  *TokenPair        `json:"tokens"`
	Message string            `json:"message,omitempty"`
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	svc      *Service
	sessions *SessionIssuer
	logger   *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(svc *Service, sessions *SessionIssuer, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, sessions: sessions, logger: logger}
}

// Register handles POST /auth/register.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	user, err := h.svc.Register(c.Request.Context(), RegisterInput{
		Email:           req.Email,
		Password:        req.Password,
		PasswordConfirm: req.PasswordConfirm,
		Phone:           req.Phone,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Country:         req.Country,
		City:            req.City,
		County:          req.County,
		IsOrganizer:     req.IsOrganizer,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	tokens, err := h.sessions.Issue(user)
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}
	response.Created(c, SessionResponse{User: user.ToPublic(), Tokens: tokens, Message: "Registration successful."})
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	identifier := req.Email
	if identifier == "" {
		identifier = req.Phone
	}
	user, err := h.svc.Authenticate(c.Request.Context(), identifier, req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}
	tokens, err := h.sessions.Issue(user)
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}
	response.OK(c, SessionResponse{User: user.ToPublic(), Tokens: tokens, Message: "Login successful."})
}

// Refresh handles POST /auth/refresh.
func (h *Handler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	access, err := h.sessions.Refresh(c.Request.Context(), req.Refresh)
	if errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrRevokedToken) {
		response.Unauthorized(c, err.Error())
		return
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"access": access})
}

// Logout handles POST /auth/logout by revoking the refresh token.
func (h *Handler) Logout(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Refresh token is required.")
		return
	}
	if err := h.sessions.Revoke(c.Request.Context(), req.Refresh); err != nil {
		if errors.Is(err, ErrInvalidToken) {
			response.BadRequest(c, "Invalid token.")
			return
		}
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"detail": "Logout successful."})
}

// Profile handles GET /auth/profile.
func (h *Handler) Profile(c *gin.Context) {
	p, err := h.svc.Profile(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, p)
}

// UpdateProfile handles PATCH /auth/profile.
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	in := ProfileInput{
		Phone:       req.Phone,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Bio:         req.Bio,
		Country:     req.Country,
		City:        req.City,
		County:      req.County,
		IDNumber:    req.IDNumber,
		MpesaNumber: req.MpesaNumber,
		IsOrganizer: req.IsOrganizer,
	}
	if req.DateOfBirth != nil && *req.DateOfBirth != "" {
		dob, err := time.Parse("2006-01-02", *req.DateOfBirth)
		if err != nil {
			response.Error(c, apperr.FieldValidation("date_of_birth", "Date has wrong format. Use YYYY-MM-DD."))
			return
		}
		in.DateOfBirth = &dob
	}
	p, err := h.svc.UpdateProfile(c.Request.Context(), middleware.UserID(c), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, p)
}

// UploadAvatar handles POST /auth/avatar (multipart field "avatar").
func (h *Handler) UploadAvatar(c *gin.Context) {
	fh, err := c.FormFile("avatar")
	if err != nil {
		response.Error(c, apperr.FieldValidation("avatar", "No file was submitted."))
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.BadRequest(c, "failed to read upload")
		return
	}
	defer f.Close()
	p, err := h.svc.UploadAvatar(c.Request.Context(), middleware.UserID(c), storage.Object{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Body:        f,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, p)
}

// ChangePassword handles POST /auth/change-password.
func (h *Handler) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.svc.ChangePassword(c.Request.Context(), middleware.UserID(c), req.OldPassword, req.NewPassword, req.ConfirmPassword); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"detail": "Password updated successfully."})
}

// RequestPasswordReset handles POST /auth/password-reset.
func (h *Handler) RequestPasswordReset(c *gin.Context) {
	var req ResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	msg, err := h.svc.RequestPasswordReset(c.Request.Context(), req.Email)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"detail": msg})
}

// ConfirmPasswordReset handles POST /auth/password-reset/confirm.
func (h *Handler) ConfirmPasswordReset(c *gin.Context) {
	var req ResetConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.svc.ConfirmPasswordReset(c.Request.Context(), req.Token, req.NewPassword, req.ConfirmPassword); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"detail": "Password has been reset."})
}

// List handles GET /users (staff only).
func (h *Handler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	list, err := h.svc.ListUsers(c.Request.Context(), limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}
