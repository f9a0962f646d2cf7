package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	jobmetrics "github.com/hospital-it/helpdesk/internal/jobs"
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
	jobmetrics.NewMetrics(metrics.Registerer()).Track("tickets:assigned").End(nil)

	body := scrape(t, metrics)
	if !strings.Contains(body, "helpdesk_jobs_total") {
		t.Fatalf("expected body to contain helpdesk_jobs_total, got: %s", body)
	}
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

	body := scrape(t, metrics)
	if !strings.Contains(body, "helpdesk_http_requests_total{code=\"418\",route=\"/test\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", body)
	}
	if !strings.Contains(body, "helpdesk_http_request_duration_seconds_bucket{route=\"/test\"") {
		t.Fatalf("expected duration histogram to be present, got: %s", body)
	}
}

func TestRecordGuardDecision(t *testing.T) {
	metrics := NewMetrics()
	metrics.RecordGuardDecision("forbidden")
	metrics.RecordGuardDecision("forbidden")
	metrics.RecordGuardDecision("")

	body := scrape(t, metrics)
	if !strings.Contains(body, "helpdesk_route_guard_decisions_total{state=\"forbidden\"} 2") {
		t.Fatalf("expected two forbidden decisions, got: %s", body)
	}
	if !strings.Contains(body, "helpdesk_route_guard_decisions_total{state=\"loading\"} 0") {
		t.Fatalf("expected loading series to be initialised, got: %s", body)
	}

	var nilMetrics *Metrics
	nilMetrics.RecordGuardDecision("authorized")
}
