package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	setTracer(tp.Tracer("test"))
	t.Cleanup(func() {
		setTracer(nil)
		_ = tp.Shutdown(context.Background())
	})
	return rec
}

func TestStartSpanWithoutInitialize(t *testing.T) {
	assert.NotPanics(t, func() {
		_, span := StartSpan(context.Background(), "x")
		span.End()
	})
}

func TestInitializeDisabled(t *testing.T) {
	shutdown, err := Initialize(Config{Enabled: false}, zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestRunSpanAttributesAndFailure(t *testing.T) {
	rec := recordSpans(t)

	_, span := StartRunSpan(context.Background(), "sess-1", "what is new")
	Fail(span, errors.New("no plan"))
	Fail(span, nil)
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "research.run", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	attrs := map[string]any{}
	for _, kv := range ended[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "sess-1", attrs["research.session_id"])
	assert.Equal(t, int64(11), attrs["research.query_length"])
}

func TestTraceparentCrossesHTTP(t *testing.T) {
	rec := recordSpans(t)

	var serverTrace trace.TraceID
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serverTrace = trace.SpanFromContext(r.Context()).SpanContext().TraceID()
	}))

	ctx, client := StartSpan(context.Background(), "client")
	req := httptest.NewRequest(http.MethodGet, "/api/research", nil)
	InjectTraceparent(ctx, req)
	require.NotEmpty(t, req.Header.Get("traceparent"))

	handler.ServeHTTP(httptest.NewRecorder(), req)
	client.End()

	assert.Equal(t, client.SpanContext().TraceID(), serverTrace)
	names := []string{}
	for _, s := range rec.Ended() {
		names = append(names, s.Name())
	}
	assert.Contains(t, names, "HTTP GET /api/research")
}

func TestMiddlewareWithoutIncomingTrace(t *testing.T) {
	recordSpans(t)
	var valid bool
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		valid = trace.SpanFromContext(r.Context()).SpanContext().IsValid()
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.True(t, valid)
}
