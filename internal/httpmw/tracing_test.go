package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newRecordingSpan(t *testing.T, name string) (context.Context, trace.Span, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), name)
	return ctx, span, sr
}

func TestTraceResponseHeaders(t *testing.T) {
	ctx, span, _ := newRecordingSpan(t, "req")
	defer span.End()

	h := TraceResponseHeaders("", "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx))

	sc := span.SpanContext()
	if rec.Header().Get("X-Trace-Id") != sc.TraceID().String() {
		t.Fatalf("trace header=%q", rec.Header().Get("X-Trace-Id"))
	}
	if rec.Header().Get("X-Span-Id") != sc.SpanID().String() {
		t.Fatalf("span header=%q", rec.Header().Get("X-Span-Id"))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("X-Trace-Id") != "" {
		t.Fatal("no span should mean no header")
	}
}

func TestAnnotateHTTPRoute_RenamesSpan(t *testing.T) {
	ctx, span, sr := newRecordingSpan(t, "GET")

	router := chi.NewRouter()
	router.Use(AnnotateHTTPRoute)
	router.Get("/api/content/tags/{slug}", func(w http.ResponseWriter, r *http.Request) {})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/content/tags/go", nil).WithContext(ctx))
	span.End()

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans=%d", len(ended))
	}
	if got := ended[0].Name(); got != "GET /api/content/tags/{slug}" {
		t.Fatalf("span name=%q", got)
	}
}

func TestAnnotateHTTPRoute_NoSpan(t *testing.T) {
	called := false
	AnnotateHTTPRoute(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
	if !called {
		t.Fatal("handler not called")
	}
}
