package kyc

import (
	"mime/multipart"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/deevents/backend/internal/middleware"
	"github.com/deevents/backend/internal/models"
	"github.com/deevents/backend/pkg/response"
	"github.com/deevents/backend/pkg/storage"
)

// ReviewRequest is the body for POST /admin/kyc/:id/review.
type ReviewRequest struct {
	Action string `json:"action" binding:"required"`
	Reason string `json:"reason"`
}

// Handler handles KYC HTTP endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a KYC handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Submit handles POST /kyc/submit (multipart: document_type, document_number,
// document_front, document_back, selfie).
func (h *Handler) Submit(c *gin.Context) {
	in := SubmitInput{
		DocumentType:   models.DocumentType(c.PostForm("document_type")),
		DocumentNumber: c.PostForm("document_number"),
	}
	var files []multipart.File
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	open := func(field string) *storage.Object {
		fh, err := c.FormFile(field)
		if err != nil {
			return nil
		}
		f, err := fh.Open()
		if err != nil {
			return nil
		}
		files = append(files, f)
		return &storage.Object{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Body:        f,
		}
	}
	in.Front = open("document_front")
	in.Back = open("document_back")
	in.Selfie = open("selfie")

	record, err := h.svc.Submit(c.Request.Context(), middleware.UserID(c), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, gin.H{
		"message": "KYC submitted successfully! It will be reviewed within 24-48 hours.",
		"kyc":     record,
	})
}

// Status handles GET /kyc/status.
func (h *Handler) Status(c *gin.Context) {
	record, err := h.svc.Status(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, record)
}

// List handles GET /admin/kyc?status=pending.
func (h *Handler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	list, err := h.svc.List(c.Request.Context(), c.Query("status"), limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// Documents handles GET /admin/kyc/:id.
func (h *Handler) Documents(c *gin.Context) {
	kycID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid kyc id")
		return
	}
	d, err := h.svc.Documents(c.Request.Context(), kycID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, d)
}

// Review handles POST /admin/kyc/:id/review.
func (h *Handler) Review(c *gin.Context) {
	kycID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid kyc id")
		return
	}
	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	msg, err := h.svc.Review(c.Request.Context(), kycID, middleware.UserID(c), req.Action, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"detail": msg})
}
