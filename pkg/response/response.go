package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/deevents/backend/internal/apperr"
)

// Body is the standard API response envelope.
type Body struct {
	Success bool              `json:"success"`
	Data    interface{}       `json:"data,omitempty"`
	Error   string            `json:"error,omitempty"`
	Code    string            `json:"code,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
	Payload json.RawMessage   `json:"provider_payload,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// Accepted sends a 202 JSON response for work completed asynchronously elsewhere.
func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, Body{Success: true, Data: data})
}

// NoContent sends 204.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// BadRequest sends 400 with error message.
func BadRequest(c *gin.Context, err string) {
	c.JSON(http.StatusBadRequest, Body{Success: false, Error: err, Code: string(apperr.KindValidation)})
}

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, err string) {
	c.JSON(http.StatusUnauthorized, Body{Success: false, Error: err, Code: string(apperr.KindInvalidCredential)})
}

// Forbidden sends 403.
func Forbidden(c *gin.Context, err string) {
	c.JSON(http.StatusForbidden, Body{Success: false, Error: err, Code: string(apperr.KindForbidden)})
}

// NotFound sends 404.
func NotFound(c *gin.Context, err string) {
	c.JSON(http.StatusNotFound, Body{Success: false, Error: err, Code: string(apperr.KindNotFound)})
}

// Internal sends 500.
func Internal(c *gin.Context, err string) {
	c.JSON(http.StatusInternalServerError, Body{Success: false, Error: err, Code: string(apperr.KindInternal)})
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden, apperr.KindAccountInactive:
		return http.StatusForbidden
	case apperr.KindInvalidCredential:
		return http.StatusUnauthorized
	case apperr.KindGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error writes a classified error. Unclassified errors become an opaque 500 and
// are attached to the gin context for the request logger.
func Error(c *gin.Context, err error) {
	_ = c.Error(err)
	var e *apperr.Error
	if !errors.As(err, &e) || e.Kind == apperr.KindInternal {
		Internal(c, "internal server error")
		return
	}
	c.JSON(StatusFor(e.Kind), Body{
		Success: false,
		Error:   e.Message,
		Code:    string(e.Kind),
		Fields:  e.Fields,
		Payload: e.Payload,
	})
}
