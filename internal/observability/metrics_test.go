package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	return rr.Body.String()
}

func TestMetricsHandlerExposesJobMetrics(t *testing.T) {
	metrics := NewMetrics()
	_ = metrics.Jobs().Track("soft_lock_sweep").End(nil)
	_ = metrics.Jobs().Track("approval_digest").End(errors.New("redis down"))
	metrics.Jobs().AddProcessed("soft_lock_sweep", 3)

	body := scrape(t, metrics)
	for _, want := range []string{
		`odyssey_jobs_total{job="soft_lock_sweep",status="success"} 1`,
		`odyssey_jobs_failures_total{job="approval_digest"} 1`,
		`odyssey_job_items_processed_total{job="soft_lock_sweep"} 3`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected body to contain %s, got: %s", want, body)
		}
	}
}

func TestDocumentAndApprovalEvents(t *testing.T) {
	metrics := NewMetrics()
	metrics.DocumentEvent("sales_invoice", "posted")
	metrics.DocumentEvent("sales_invoice", "posted")
	metrics.ApprovalEvent("sales_invoice", "requested")

	body := scrape(t, metrics)
	if !strings.Contains(body, `odyssey_sales_document_events_total{document="sales_invoice",event="posted"} 2`) {
		t.Fatalf("document events missing: %s", body)
	}
	if !strings.Contains(body, `odyssey_approval_events_total{module="sales_invoice",outcome="requested"} 1`) {
		t.Fatalf("approval events missing: %s", body)
	}

	var nilMetrics *Metrics
	nilMetrics.DocumentEvent("sales_invoice", "posted")
	nilMetrics.ApprovalEvent("sales_invoice", "approved")
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	metricsBody := scrape(t, metrics)
	if !strings.Contains(metricsBody, "http_requests_total{code=\"418\",route=\"/test\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", metricsBody)
	}
	if !strings.Contains(metricsBody, "http_request_duration_seconds_bucket{route=\"/test\"") {
		t.Fatalf("expected duration histogram to be present, got: %s", metricsBody)
	}
}
