package payments

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/deevents/backend/internal/middleware"
	"github.com/deevents/backend/pkg/response"
)

// CheckoutRequest is the body for POST /payments/checkout.
type CheckoutRequest struct {
	Phone       string          `json:"phone" binding:"required"`
	TicketPrice decimal.Decimal `json:"ticket_price"`
	ServiceFee  decimal.Decimal `json:"service_fee"`
	Reference   string          `json:"reference" binding:"required"`
	Description string          `json:"description"`
	Country     string          `json:"country"`
}

// QuoteRequest is the body for POST /payments/quote.
type QuoteRequest struct {
	TicketPrice decimal.Decimal `json:"ticket_price"`
	ServiceFee  decimal.Decimal `json:"service_fee"`
	Country     string          `json:"country"`
}

// PayoutRequest is the body for POST /admin/payouts.
type PayoutRequest struct {
	OrganizerID uuid.UUID       `json:"organizer_id" binding:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Reference   string          `json:"reference" binding:"required"`
	Remarks     string          `json:"remarks"`
}

// Handler handles payment HTTP endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a payments handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Quote handles POST /payments/quote.
func (h *Handler) Quote(c *gin.Context) {
	var req QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	receipt, err := h.svc.Quote(c.Request.Context(), req.Country, req.TicketPrice, req.ServiceFee)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, receipt)
}

// Checkout handles POST /payments/checkout. The payment completes on the
// provider callback; a 202 only means the prompt was sent.
func (h *Handler) Checkout(c *gin.Context) {
	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.svc.Checkout(c.Request.Context(), CheckoutInput{
		PayerID:     middleware.UserID(c),
		Phone:       req.Phone,
		TicketPrice: req.TicketPrice,
		ServiceFee:  req.ServiceFee,
		Reference:   req.Reference,
		Description: req.Description,
		Country:     req.Country,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, res)
}

// Payout handles POST /admin/payouts: the calling staff member pays an organizer.
func (h *Handler) Payout(c *gin.Context) {
	var req PayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.svc.Payout(c.Request.Context(), PayoutInput{
		OrganizerID: req.OrganizerID,
		ApprovedBy:  middleware.UserID(c),
		Amount:      req.Amount,
		Reference:   req.Reference,
		Remarks:     req.Remarks,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, res)
}
