package organizations

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/deevents/backend/internal/middleware"
	"github.com/deevents/backend/internal/models"
	"github.com/deevents/backend/pkg/response"
)

// CreateRequest is the body for POST /organizations. Only business
// organizations are created explicitly; personal ones come with the account.
type CreateRequest struct {
	Name               string `json:"name"`
	Email              string `json:"email"`
	Phone              string `json:"phone"`
	Website            string `json:"website"`
	Description        string `json:"description"`
	TaxID              string `json:"tax_id"`
	RegistrationNumber string `json:"registration_number"`
	Address            string `json:"address"`
	MpesaPaybill       string `json:"mpesa_paybill"`
}

// UpdateRequest is the body for PATCH /organizations/:id.
type UpdateRequest struct {
	Name               *string `json:"name"`
	Email              *string `json:"email"`
	Phone              *string `json:"phone"`
	Website            *string `json:"website"`
	Description        *string `json:"description"`
	TaxID              *string `json:"tax_id"`
	RegistrationNumber *string `json:"registration_number"`
	Address            *string `json:"address"`
	MpesaPaybill       *string `json:"mpesa_paybill"`
	LogoURL            *string `json:"logo_url"`
}

// InviteRequest is the body for POST /organizations/:id/invite.
type InviteRequest struct {
	Email string         `json:"email" binding:"required"`
	Role  models.OrgRole `json:"role"`
}

// RoleRequest is the body for POST /organizations/:id/members/role.
type RoleRequest struct {
	UserID uuid.UUID      `json:"user_id" binding:"required"`
	Role   models.OrgRole `json:"role" binding:"required"`
}

// RemoveRequest is the body for POST /organizations/:id/members/remove.
type RemoveRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
}

// SuspendRequest is the body for POST /admin/organizations/:id/suspend.
type SuspendRequest struct {
	Reason string `json:"reason"`
}

// Handler handles organization HTTP endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates an organizations handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Create handles POST /organizations.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	org, err := h.svc.CreateBusiness(c.Request.Context(), middleware.UserID(c), BusinessInput(req))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, org)
}

// ListMine handles GET /organizations.
func (h *Handler) ListMine(c *gin.Context) {
	mine, err := h.svc.ListMine(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, mine)
}

// Get handles GET /organizations/:id.
func (h *Handler) Get(c *gin.Context) {
	org, err := h.svc.Get(AccessFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, org)
}

// Update handles PATCH /organizations/:id.
func (h *Handler) Update(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	org, err := h.svc.Update(c.Request.Context(), AccessFrom(c), OrgUpdate(req))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, org)
}

// Delete handles DELETE /organizations/:id.
func (h *Handler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), AccessFrom(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Members handles GET /organizations/:id/members.
func (h *Handler) Members(c *gin.Context) {
	list, err := h.svc.Members(c.Request.Context(), AccessFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// MyRole handles GET /organizations/:id/my-role.
func (h *Handler) MyRole(c *gin.Context) {
	m, err := h.svc.MyRole(AccessFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"role": m.Role, "capabilities": m.Capabilities})
}

// Invite handles POST /organizations/:id/invite.
func (h *Handler) Invite(c *gin.Context) {
	var req InviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.svc.Invite(c.Request.Context(), AccessFrom(c), req.Email, req.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	if res.Invite != nil {
		response.OK(c, gin.H{
			"detail":        "User not found. Invitation saved.",
			"invited_email": res.Invite.Email,
			"status":        res.Invite.Status,
		})
		return
	}
	response.Created(c, res.Member)
}

// ChangeRole handles POST /organizations/:id/members/role.
func (h *Handler) ChangeRole(c *gin.Context) {
	var req RoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	m, err := h.svc.ChangeRole(c.Request.Context(), AccessFrom(c), req.UserID, req.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, m)
}

// RemoveMember handles POST /organizations/:id/members/remove.
func (h *Handler) RemoveMember(c *gin.Context) {
	var req RemoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.svc.RemoveMember(c.Request.Context(), AccessFrom(c), req.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"detail": "Member removed."})
}

// RequestVerification handles POST /organizations/:id/request-verification.
func (h *Handler) RequestVerification(c *gin.Context) {
	org, err := h.svc.RequestVerification(c.Request.Context(), AccessFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"detail": "Verification requested.", "organization": org})
}

// AdminList handles GET /admin/organizations?org_type=&status=&is_verified=&search=.
func (h *Handler) AdminList(c *gin.Context) {
	f := Filter{
		Type:   models.OrgType(c.Query("org_type")),
		Status: models.OrgStatus(c.Query("status")),
		Search: c.Query("search"),
	}
	if v := c.Query("is_verified"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			response.BadRequest(c, "is_verified must be true or false")
			return
		}
		f.IsVerified = &b
	}
	f.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	f.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	list, err := h.svc.ListAll(c.Request.Context(), f)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// Approve handles POST /admin/organizations/:id/approve.
func (h *Handler) Approve(c *gin.Context) {
	orgID, ok := orgParam(c)
	if !ok {
		return
	}
	org, err := h.svc.Approve(c.Request.Context(), orgID, middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, org)
}

// Suspend handles POST /admin/organizations/:id/suspend.
func (h *Handler) Suspend(c *gin.Context) {
	orgID, ok := orgParam(c)
	if !ok {
		return
	}
	var req SuspendRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	org, err := h.svc.Suspend(c.Request.Context(), orgID, middleware.UserID(c), req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, org)
}

// Activate handles POST /admin/organizations/:id/activate.
func (h *Handler) Activate(c *gin.Context) {
	orgID, ok := orgParam(c)
	if !ok {
		return
	}
	org, err := h.svc.Activate(c.Request.Context(), orgID, middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, org)
}

func orgParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid organization id")
		return uuid.Nil, false
	}
	return id, true
}
