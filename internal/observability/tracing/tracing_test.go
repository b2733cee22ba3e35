package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/smallbiznis/cardreport/internal/observability/logger"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	prev := otel.GetTracerProvider()
	sr := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(requestIDProcessor{}),
		sdktrace.WithSpanProcessor(sr),
	))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return sr
}

func attr(span sdktrace.ReadOnlySpan, key string) attribute.Value {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value
		}
	}
	return attribute.Value{}
}

func TestStartEnd(t *testing.T) {
	sr := installRecorder(t)

	ctx := logger.WithRequestID(context.Background(), "req-1")
	_, span := Start(ctx, "report.aggregate.deletion", attribute.String("report.path", "reports/daily/2025-04/08"))
	End(span, errors.New("store down"))

	_, span = Start(context.Background(), "report.dispatch.run")
	End(span, nil)

	ended := sr.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "report.aggregate.deletion", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "reports/daily/2025-04/08", attr(ended[0], "report.path").AsString())
	assert.Equal(t, "req-1", attr(ended[0], "request_id").AsString())
	assert.Equal(t, codes.Unset, ended[1].Status().Code)
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sr := installRecorder(t)

	r := gin.New()
	r.Use(logger.GinMiddleware(zap.NewNop(), logger.MiddlewareConfig{}))
	r.Use(GinMiddleware())
	r.GET("/v1/reports/daily/:date", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/v1/dispatch", func(c *gin.Context) {
		_ = c.Error(errors.New("lock backend down"))
		c.Status(http.StatusInternalServerError)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/reports/daily/2025-04-08", nil)
	req.Header.Set("X-Request-Id", "abc")
	r.ServeHTTP(httptest.NewRecorder(), req)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/dispatch", nil))

	ended := sr.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "HTTP GET /v1/reports/daily/:date", ended[0].Name())
	assert.Equal(t, int64(http.StatusOK), attr(ended[0], "http.status_code").AsInt64())
	assert.Equal(t, "abc", attr(ended[0], "request_id").AsString())

	assert.Equal(t, "HTTP POST /v1/dispatch", ended[1].Name())
	assert.Equal(t, codes.Error, ended[1].Status().Code)
}

func TestNewTracerProviderWithoutExporter(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	lc := fxtest.NewLifecycle(t)
	tp, err := NewTracerProvider(lc, Config{ServiceName: "cardreport", Environment: "test"}, zap.NewNop())
	require.NoError(t, err)
	assert.Same(t, tp, otel.GetTracerProvider())

	lc.RequireStart()
	lc.RequireStop()
}

func TestNewTracerProviderRejectsUnknownProtocol(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	_, err := NewTracerProvider(lc, Config{Endpoint: "collector:4317", Protocol: "thrift"}, zap.NewNop())
	assert.Error(t, err)
}

func TestNormalizeProtocol(t *testing.T) {
	assert.Equal(t, ProtocolGRPC, normalizeProtocol(""))
	assert.Equal(t, ProtocolHTTP, normalizeProtocol("HTTP"))
	assert.Equal(t, 1.0, sampleRatio(0))
	assert.Equal(t, 0.25, sampleRatio(0.25))
}
