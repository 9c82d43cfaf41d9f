package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.GuardDecision("dashboard", "admit")
	m.GuardDecision("dashboard", "admit")
	m.GuardDecision("admin", "redirect")
	m.StaleDiscarded()
	m.SessionsChanged(3)
	m.FetchObserved(20*time.Millisecond, nil)
	m.FetchObserved(time.Second, errors.New("timeout"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.guardDecisions.WithLabelValues("dashboard", "admit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.guardDecisions.WithLabelValues("admin", "redirect")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.staleResults))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.liveSessions))
	assert.Equal(t, 2, testutil.CollectAndCount(m.fetchDuration))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.GuardDecision("dashboard", "pending")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `devmanager_guard_decisions_total{outcome="pending",region="dashboard"} 1`)
}
