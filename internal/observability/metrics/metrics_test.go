package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestEngineCounters(t *testing.T) {
	r := New(false)
	r.ObserveOperation("delegate", "success")
	r.ObserveOperation("delegate", "success")
	r.ObserveOperation("claimRewards", "failure")
	r.ObservePersist("stored")
	r.ObserveRestore("delegate")
	r.ObserveFollowup("delivered")

	if got := testutil.ToFloat64(r.operations.WithLabelValues("delegate", "success")); got != 2 {
		t.Fatalf("expected 2 delegate successes, got %v", got)
	}
	if got := testutil.ToFloat64(r.persists.WithLabelValues("stored")); got != 1 {
		t.Fatalf("unexpected persist count %v", got)
	}
	if got := testutil.ToFloat64(r.restores.WithLabelValues("delegate")); got != 1 {
		t.Fatalf("unexpected restore count %v", got)
	}
}

func TestHandlerRendersHTTPMetrics(t *testing.T) {
	r := New(false)
	r.ObserveHTTPRequest("/api/v1/threads", "POST", 201, 30*time.Millisecond)
	r.ObserveHTTPRequest("/api/v1/threads", "POST", 500, time.Second)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`stakepilot_http_requests_total{code="201",handler="/api/v1/threads",method="POST"} 1`,
		`stakepilot_http_request_errors_total{handler="/api/v1/threads",method="POST"} 1`,
		`stakepilot_http_request_duration_seconds_count{handler="/api/v1/threads",method="POST"} 2`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, text)
		}
	}
}
