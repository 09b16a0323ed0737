package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	return string(body)
}

func TestHandlerExposesRecordedSeries(t *testing.T) {
	ObserveHTTPRequest("/api/payroll/execute", "POST", 200, 120*time.Millisecond)
	ObserveHTTPRequest("/api/payroll/execute", "POST", 500, 3*time.Second)
	ObservePayrollStep("onchain_requested", true)
	ObservePayrollStep("rail_processed", false)
	ObservePayrollOutcome("FAILED")
	ObservePaymentChallenge("payroll_execute")

	out := scrape(t)
	for _, want := range []string{
		`snowrail_http_requests_total{code="200",handler="/api/payroll/execute",method="POST"}`,
		`snowrail_http_request_errors_total{handler="/api/payroll/execute",method="POST"}`,
		`snowrail_http_request_duration_seconds_bucket{handler="/api/payroll/execute",method="POST",le="0.25"}`,
		`snowrail_payroll_steps_total{result="success",step="onchain_requested"}`,
		`snowrail_payroll_steps_total{result="failure",step="rail_processed"}`,
		`snowrail_payroll_outcomes_total{status="FAILED"}`,
		`snowrail_payment_challenges_total{resource="payroll_execute"}`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("metrics output missing %s\n%s", want, out)
		}
	}
}
