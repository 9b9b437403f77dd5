package middleware

import (
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
)

// useRecorder installs a recording tracer provider for the test.
func useRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return recorder
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := useRecorder(t)

	router := gin.New()
	router.Use(Tracing("statarb-engine-test"))
	router.GET("/api/v1/signals", func(c *gin.Context) {
		AddSpanAttribute(c, "signals.count", 3)
		c.JSON(http.StatusOK, gin.H{"signals": []string{}})
	})
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/signals", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	v, ok := attrValue(spans[0].Attributes(), "signals.count")
	require.True(t, ok)
	assert.Equal(t, int64(3), v.AsInt64())
}

func TestHealthCheckTelemetryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		status int
		want   string
		code   codes.Code
	}{
		{"healthy", http.StatusOK, "healthy", codes.Ok},
		{"degraded", http.StatusServiceUnavailable, "server_error", codes.Error},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := useRecorder(t)
			router := gin.New()
			router.GET("/api/v1/health", HealthCheckTelemetryMiddleware(), func(c *gin.Context) {
				c.Status(tt.status)
			})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

			assert.Equal(t, tt.status, w.Code)
			spans := recorder.Ended()
			require.Len(t, spans, 1)
			assert.Equal(t, "Health /api/v1/health", spans[0].Name())
			assert.Equal(t, tt.code, spans[0].Status().Code)
			v, ok := attrValue(spans[0].Attributes(), "health.status")
			require.True(t, ok)
			assert.Equal(t, tt.want, v.AsString())
		})
	}
}

func TestRecordError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("recording span", func(t *testing.T) {
		recorder := useRecorder(t)
		router := gin.New()
		router.Use(Tracing("statarb-engine-test"))
		router.GET("/fail", func(c *gin.Context) {
			RecordError(c, errors.New("store down"), "lookup failed")
			c.Status(http.StatusInternalServerError)
		})

		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fail", nil))

		spans := recorder.Ended()
		require.Len(t, spans, 1)
		require.NotEmpty(t, spans[0].Events())
		assert.Equal(t, "exception", spans[0].Events()[0].Name)
	})

	t.Run("no span", func(t *testing.T) {
		router := gin.New()
		router.GET("/fail", func(c *gin.Context) {
			RecordError(c, errors.New("ignored"), "no span")
			AddSpanAttribute(c, "ignored", struct{}{})
			c.Status(http.StatusOK)
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fail", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestGetHealthStatusFromCode(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "healthy"},
		{204, "healthy"},
		{404, "client_error"},
		{503, "server_error"},
		{302, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, getHealthStatusFromCode(tt.code))
	}
}
