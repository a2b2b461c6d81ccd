package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/docflow/internal/core/domain"
)

func scrape(t *testing.T, handler http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape returned %d", rec.Code)
	}
	return rec.Body.String()
}

func TestRouteLabel(t *testing.T) {
	cases := map[string]string{
		"/v1/documents":                      "/v1/documents",
		"/v1/documents/import":               "/v1/documents/import",
		"/v1/documents/doc-1":                "/v1/documents/{id}",
		"/v1/documents/doc-1/transitions":    "/v1/documents/{id}/transitions",
		"/v1/users/u-1/roles":                "/v1/users/{id}/roles",
		"/v1/users/u-1/roles/editor":         "/v1/users/{id}/roles/{role}",
		"/v1/roles/reviewer/capabilities":    "/v1/roles/{role}/capabilities",
		"/healthz":                           "/healthz",
		"/wp-admin/setup.php":                "other",
		"/v1/documents/doc-1/file/../secret": "other",
	}
	for in, want := range cases {
		if got := RouteLabel(in); got != want {
			t.Fatalf("RouteLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHTTPMiddlewareCountsByRoute(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	for _, id := range []string{"a", "b"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/documents/"+id, nil))
	}
	upload := httptest.NewRequest(http.MethodPost, "/v1/documents/import", strings.NewReader("title,type,owner\n"))
	handler.ServeHTTP(httptest.NewRecorder(), upload)
	m.RecordRejected("overloaded", "/v1/documents/c")

	body := scrape(t, m.Handler())
	for _, want := range []string{
		`docflow_http_requests_total{method="GET",path="/v1/documents/{id}",service="api",status="404"} 2`,
		`docflow_http_request_body_bytes_count{path="/v1/documents/import",service="api"} 1`,
		`docflow_http_rejected_total{path="/v1/documents/{id}",reason="overloaded",service="api"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in scrape output:\n%s", want, body)
		}
	}
}

func TestWorkflowMetricsShareRegistry(t *testing.T) {
	httpMetrics := NewHTTPServerMetrics("api")
	wf := NewWorkflowMetrics("api", httpMetrics.Registerer())

	wf.ObserveTransition(domain.StatusDraft, domain.StatusPendingReview, "committed", 10*time.Millisecond)
	wf.ObserveCapabilityLookup(true)
	wf.ObserveCapabilityLookup(false)
	wf.ObserveBreakerState("nats.publish", "closed", "open")

	body := scrape(t, httpMetrics.Handler())
	for _, want := range []string{
		`docflow_workflow_transitions_total{from="DRAFT",outcome="committed",service="api",to="PENDING_REVIEW"} 1`,
		`docflow_access_capability_lookups_total{cache="hit",service="api"} 1`,
		`docflow_resilience_breaker_open{operation="nats.publish",service="api"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in scrape output:\n%s", want, body)
		}
	}
}

func TestWorkerMetricsDelivery(t *testing.T) {
	m := NewWorkerMetrics("worker")
	m.StartDelivery()
	m.FinishDelivery(nil)
	m.ObserveTask("document:expire", "done", time.Second)

	body := scrape(t, m.Handler())
	for _, want := range []string{
		`docflow_worker_notification_delivery_total{service="worker",status="success"} 1`,
		`docflow_worker_notification_delivery_in_flight{service="worker"} 0`,
		`docflow_worker_tasks_total{service="worker",status="done",task="document:expire"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in scrape output:\n%s", want, body)
		}
	}
}
