package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type stubSessions struct {
	userID  uuid.UUID
	isStaff bool
}

func (s stubSessions) ValidateSession(token string) (uuid.UUID, bool, error) {
	if token != "good" {
		return uuid.Nil, false, errors.New("invalid token")
	}
	return s.userID, s.isStaff, nil
}

func newRouter(sessions SessionValidator, extra ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Logger(zap.NewNop()))
	handlers := append([]gin.HandlerFunc{JWT(sessions)}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c).String())
	})
	r.GET("/me", handlers...)
	return r
}

func get(r http.Handler, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWT(t *testing.T) {
	id := uuid.New()
	r := newRouter(stubSessions{userID: id})

	assert.Equal(t, http.StatusUnauthorized, get(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "Token good").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "Bearer bad").Code)

	w := get(r, "Bearer good")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id.String(), w.Body.String())
}

func TestRequireStaff(t *testing.T) {
	assert.Equal(t, http.StatusForbidden, get(newRouter(stubSessions{userID: uuid.New()}, RequireStaff()), "Bearer good").Code)
	assert.Equal(t, http.StatusOK, get(newRouter(stubSessions{userID: uuid.New(), isStaff: true}, RequireStaff()), "Bearer good").Code)
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS("https://deevents.co.ke"))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://deevents.co.ke")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://deevents.co.ke", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
