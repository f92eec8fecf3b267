package obs

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCountTransitionsAndChecks(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.TransitionApplied("ESCALATED", "SYSTEM")
	m.TransitionApplied("ESCALATED", "SYSTEM")
	m.Conflict()
	m.CheckFinished("check-escalations", 10*time.Millisecond, 3, nil)
	m.CheckFinished("check-breaches", 10*time.Millisecond, 0, errors.New("store down"))

	if got := testutil.ToFloat64(m.transitions.WithLabelValues("ESCALATED", "SYSTEM")); got != 2 {
		t.Fatalf("expected 2 transitions, got %v", got)
	}
	if got := testutil.ToFloat64(m.conflicts); got != 1 {
		t.Fatalf("expected 1 conflict, got %v", got)
	}
	if got := testutil.ToFloat64(m.slaActions.WithLabelValues("check-escalations")); got != 3 {
		t.Fatalf("expected 3 escalation actions, got %v", got)
	}
	if got := testutil.ToFloat64(m.checks.WithLabelValues("check-breaches", "failure")); got != 1 {
		t.Fatalf("expected 1 failed breach check, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.TransitionApplied("RESOLVED", "AGENT")
	m.Conflict()
	m.CheckFinished("check-breaches", time.Second, 1, nil)

	h := m.Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected passthrough status, got %d", rec.Code)
	}
}

func TestInstrumentAndHandler(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	h := m.Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/disputes", nil))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `http_requests_total{method="POST",status="201"} 1`) {
		t.Fatalf("expected request counter in exposition, got:\n%s", body)
	}
}
