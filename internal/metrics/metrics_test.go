package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Login(LoginSuccess)
	m.Login(LoginSuccess)
	m.Login(LoginInvalidCredential)
	m.KYC("approved")
	m.Gateway("collect", GatewayOK, 0.2)
	m.Reconciled(3)
	m.Reconciled(0)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.logins.WithLabelValues(LoginSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.logins.WithLabelValues(LoginInvalidCredential)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.kycDecisions.WithLabelValues("approved")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.gatewayRequests.WithLabelValues("collect", GatewayOK)))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.reconciled))
}

func TestNilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Login(LoginSuccess)
		m.Organization("created")
		m.Gateway("disburse", GatewayError, 1)
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.Registration()

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "deevents_auth_registrations_total 1")
}
