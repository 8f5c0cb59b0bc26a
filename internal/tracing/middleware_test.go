package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// setupTestTracer installs an in-memory exporter as the global tracer
// provider for the duration of the test.
func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	t.Cleanup(func() {
		tp.Shutdown(context.Background())
		otel.SetTracerProvider(trace.NewNoopTracerProvider())
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator())
	})
	return exporter
}

func serveTraced(t *testing.T, handler http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	HTTPMiddleware(handler).ServeHTTP(rec, req)
	return rec
}

func spanAttrs(s tracetest.SpanStub) map[string]any {
	attrs := make(map[string]any, len(s.Attributes))
	for _, a := range s.Attributes {
		attrs[string(a.Key)] = a.Value.AsInterface()
	}
	return attrs
}

func TestHTTPMiddlewareRecordsServerSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	rec := serveTraced(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}, httptest.NewRequest("GET", "/v1/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "GET /v1/health" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	if spans[0].SpanKind != trace.SpanKindServer {
		t.Errorf("span kind = %v, want server", spans[0].SpanKind)
	}
	// A handler that only writes the body still reports 200.
	if got := spanAttrs(spans[0])["http.response.status_code"]; got != int64(200) {
		t.Errorf("status attribute = %v, want 200", got)
	}
}

func TestHTTPMiddlewareCapturesWrittenStatus(t *testing.T) {
	exporter := setupTestTracer(t)

	serveTraced(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, httptest.NewRequest("GET", "/missing", nil))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if got := spanAttrs(spans[0])["http.response.status_code"]; got != int64(404) {
		t.Errorf("status attribute = %v, want 404", got)
	}
	// 4xx is a client problem; the span itself is not an error.
	if spans[0].Status.Code == codes.Error {
		t.Error("4xx should not mark the span as error")
	}
}

func TestHTTPMiddlewareMarksServerErrors(t *testing.T) {
	exporter := setupTestTracer(t)

	serveTraced(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, httptest.NewRequest("POST", "/v1/optimize", nil))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("span status = %v, want error", spans[0].Status.Code)
	}
}

func TestHTTPMiddlewareContinuesIncomingTrace(t *testing.T) {
	exporter := setupTestTracer(t)

	req := httptest.NewRequest("POST", "/v1/optimize", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")

	serveTraced(t, func(w http.ResponseWriter, r *http.Request) {
		if !trace.SpanFromContext(r.Context()).SpanContext().IsValid() {
			t.Error("handler context has no span")
		}
		w.WriteHeader(http.StatusOK)
	}, req)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if got := spans[0].SpanContext.TraceID().String(); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("trace id = %s, want the one from traceparent", got)
	}
}

func TestHTTPMiddlewareEchoesTraceID(t *testing.T) {
	exporter := setupTestTracer(t)

	rec := serveTraced(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, httptest.NewRequest("GET", "/v1/health", nil))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	want := spans[0].SpanContext.TraceID().String()
	if got := rec.Header().Get(traceIDHeader); got != want {
		t.Errorf("%s = %q, want %q", traceIDHeader, got, want)
	}
}
