package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"ersha-payment-service/internal/handler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestHealthAndMetrics(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	r := SetupRoutes(
		handler.NewPaymentHandler(nil, nil, nil, logger),
		handler.NewPayoutHandler(nil, logger),
		handler.NewPaymentMethodHandler(nil, logger),
		handler.NewCallbackHandler(nil, logger),
		nil,
		logger,
	)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/payments/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_request_duration_seconds")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	entries := logs.FilterMessage("http request").All()
	require.Len(t, entries, 3)
	assert.Equal(t, "/api/v1/payments/health", entries[0].ContextMap()["path"])
	assert.EqualValues(t, http.StatusNotFound, entries[2].ContextMap()["status"])
}

func TestCORSPreflight(t *testing.T) {
	r := SetupRoutes(nil, nil, nil, nil, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/payments", nil)
	req.Header.Set("Origin", "https://market.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type, Idempotency-Key")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key")
}
