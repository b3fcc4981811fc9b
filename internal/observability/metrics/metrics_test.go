package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHandlerRendersHTTPAndDomainMetrics(t *testing.T) {
	ObserveHTTPRequest("/api/v1/prophecies", "POST", 201, 40*time.Second)
	ObserveHTTPRequest("/api/v1/prophecies", "POST", 502, time.Second)
	ObserveGuardOutcome("succeeded", "")
	ObserveGuardOutcome("failed", "INSUFFICIENT_FUNDS")
	ObserveSubmission("action")
	ObserveSettlement("action", "confirmed")
	ObserveReconcile("confirmed")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`prophet_http_requests_total{code="201",handler="/api/v1/prophecies",method="POST"}`,
		`prophet_http_request_errors_total{handler="/api/v1/prophecies",method="POST"}`,
		`prophet_http_request_duration_seconds_bucket{handler="/api/v1/prophecies",method="POST",le="60"}`,
		`prophet_guard_executions_total{code="INSUFFICIENT_FUNDS",outcome="failed"}`,
		`prophet_transactions_submitted_total{purpose="action"}`,
		`prophet_transactions_settled_total{outcome="confirmed",purpose="action"}`,
		`prophet_reconcile_attempts_total{result="confirmed"}`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("missing %s in:\n%s", want, text)
		}
	}
}

func TestServerErrorsCounted(t *testing.T) {
	before := testutil.ToFloat64(httpErrors.WithLabelValues("/healthz", "GET"))
	ObserveHTTPRequest("/healthz", "GET", 200, time.Millisecond)
	ObserveHTTPRequest("/healthz", "GET", 503, time.Millisecond)
	if got := testutil.ToFloat64(httpErrors.WithLabelValues("/healthz", "GET")) - before; got != 1 {
		t.Fatalf("expected one server error, got %v", got)
	}
}
