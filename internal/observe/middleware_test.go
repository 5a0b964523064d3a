package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// telemetryMux builds a handler shaped like the client's telemetry endpoint,
// with /readyz answering status and the correlation ID seen by the handler
// written to *cid.
func telemetryMux(t *testing.T, status int, cid *string) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	m, reader := newTestMetrics(t)
	exp := useTestTracer(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /metrics", func(http.ResponseWriter, *http.Request) {})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if cid != nil {
			*cid = CorrelationID(r.Context())
		}
		w.WriteHeader(status)
	})
	return Middleware(m)(mux), reader, exp
}

func TestMiddleware_SpanNamedByRoute(t *testing.T) {
	var cid string
	h, _, exp := telemetryMux(t, http.StatusServiceUnavailable, &cid)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))

	if len(cid) != 32 {
		t.Fatalf("correlation ID = %q, want a 32-char trace ID", cid)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != cid {
		t.Errorf("X-Correlation-ID = %q, want %q", got, cid)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "HTTP GET /readyz" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "HTTP GET /readyz")
	}
	attrs := map[string]any{}
	for _, a := range spans[0].Attributes {
		attrs[string(a.Key)] = a.Value.AsInterface()
	}
	if attrs["http.response.status_code"] != int64(503) {
		t.Errorf("status attribute = %v, want 503", attrs["http.response.status_code"])
	}
	if attrs["http.route"] != "GET /readyz" {
		t.Errorf("route attribute = %v, want GET /readyz", attrs["http.route"])
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	var cid string
	h, _, _ := telemetryMux(t, http.StatusOK, &cid)

	req := httptest.NewRequest("GET", "/readyz", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if cid != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("correlation ID = %q, want the incoming trace ID", cid)
	}
}

func TestMiddleware_DurationLabelledByRoute(t *testing.T) {
	h, reader, exp := telemetryMux(t, http.StatusOK, nil)

	for _, path := range []string{"/metrics", "/wp-login.php", "/.env"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", path, nil))
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "rolecall.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("unexpected data %T", met.Data)
	}
	counts := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		v, _ := dp.Attributes.Value("route")
		counts[v.AsString()] += dp.Count
	}
	want := map[string]uint64{"GET /metrics": 1, unmatchedRoute: 2}
	if len(counts) != len(want) {
		t.Fatalf("route labels = %v, want %v", counts, want)
	}
	for route, n := range want {
		if counts[route] != n {
			t.Errorf("count[%q] = %d, want %d", route, counts[route], n)
		}
	}

	for _, s := range exp.GetSpans() {
		if s.Name == "HTTP GET /wp-login.php" || s.Name == "HTTP GET /.env" {
			t.Errorf("unmatched request produced span %q", s.Name)
		}
	}
}
