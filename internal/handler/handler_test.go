package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ersha-payment-service/internal/domain"
	"ersha-payment-service/internal/events"
	"ersha-payment-service/internal/handler"
	"ersha-payment-service/internal/provider"
	"ersha-payment-service/internal/repository/memory"
	"ersha-payment-service/internal/router"
	"ersha-payment-service/internal/usecase"
	"ersha-payment-service/pkg/cache"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubAdapter struct {
	mu        sync.Mutex
	initiated int
}

func (s *stubAdapter) Name() domain.Provider { return domain.ProviderChapa }

func (s *stubAdapter) InitiatePayment(_ context.Context, req *provider.InitiateRequest) *provider.InitiateResult {
	s.mu.Lock()
	s.initiated++
	s.mu.Unlock()
	return &provider.InitiateResult{
		Outcome:           provider.OK(),
		ProviderReference: req.Reference,
		CheckoutURL:       "https://checkout.example/" + req.Reference,
	}
}

func (s *stubAdapter) VerifyPayment(_ context.Context, ref string) *provider.VerifyResult {
	return &provider.VerifyResult{Outcome: provider.OK(), ProviderReference: ref, Status: provider.StatePending}
}

func (s *stubAdapter) RefundPayment(context.Context, string, decimal.Decimal, string) *provider.RefundResult {
	return &provider.RefundResult{Outcome: provider.Failure(provider.KindNotImplemented, "refunds are not supported")}
}

func (s *stubAdapter) MobilePayout(_ context.Context, req *provider.PayoutInstruction) *provider.PayoutResult {
	return &provider.PayoutResult{Outcome: provider.OK(), ExternalReference: "EXT-" + req.Reference}
}

func (s *stubAdapter) BankPayout(_ context.Context, req *provider.PayoutInstruction) *provider.PayoutResult {
	return &provider.PayoutResult{Outcome: provider.OK(), ExternalReference: "EXT-" + req.Reference}
}

func (s *stubAdapter) VerifyWebhook(r *http.Request, _ []byte) error {
	if r.Header.Get("X-Test-Signature") != "valid" {
		return domain.ErrInvalidSignature
	}
	return nil
}

func (s *stubAdapter) ParseWebhook(_ *http.Request, body []byte) (*provider.WebhookEvent, error) {
	var cb struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
	}
	if err := json.Unmarshal(body, &cb); err != nil || cb.Reference == "" {
		return nil, domain.ErrMalformedPayload
	}
	return &provider.WebhookEvent{
		Provider:   domain.ProviderChapa,
		Kind:       provider.EventPayment,
		Reference:  cb.Reference,
		ExternalID: "chapa-" + cb.Reference,
		Status:     provider.PaymentState(cb.Status),
		Raw:        body,
	}, nil
}

func (s *stubAdapter) Initiated() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initiated
}

type apiEnv struct {
	store   *memory.Store
	adapter *stubAdapter
	cache   *cache.MemoryCache
	server  http.Handler
}

func newAPI(t *testing.T) *apiEnv {
	t.Helper()
	logger := zap.NewNop()
	store := memory.NewStore()
	adapter := &stubAdapter{}
	registry := provider.NewRegistry(adapter)
	pub := events.NewLogPublisher(logger)

	fees := domain.FeeSchedule{
		PlatformRate: decimal.RequireFromString("0.02"),
		ProcessingRates: map[domain.Provider]decimal.Decimal{
			domain.ProviderChapa: decimal.RequireFromString("0.035"),
		},
		PayoutFees: map[domain.MethodKind]decimal.Decimal{
			domain.MethodMobileMoney: decimal.RequireFromString("5"),
			domain.MethodBank:        decimal.RequireFromString("15"),
		},
	}

	processor := usecase.NewPaymentProcessor(registry, domain.ProviderChapa, time.Second, logger)
	reconciler := usecase.NewReconciler(store, registry, pub, logger)
	paymentUC := usecase.NewPaymentUsecase(store, processor, reconciler, usecase.PaymentConfig{
		Fees:            fees,
		DefaultCurrency: "ETB",
		VerificationTTL: time.Hour,
	}, pub, logger)
	memCache := cache.NewMemoryCache()
	payoutUC := usecase.NewPayoutUsecase(store, processor, memCache, usecase.PayoutConfig{
		Fees:            fees,
		DefaultCurrency: "ETB",
		LockTTL:         time.Minute,
	}, pub, logger)

	srv := router.SetupRoutes(
		handler.NewPaymentHandler(paymentUC, usecase.NewTransactionUsecase(store, processor, pub, logger), usecase.NewEscrowUsecase(store, logger), logger),
		handler.NewPayoutHandler(payoutUC, logger),
		handler.NewPaymentMethodHandler(usecase.NewPaymentMethodUsecase(store, domain.ProviderChapa, time.Hour, logger), logger),
		handler.NewCallbackHandler(reconciler, logger),
		handler.Idempotency(memCache, time.Hour, logger),
		logger,
	)
	return &apiEnv{store: store, adapter: adapter, cache: memCache, server: srv}
}

type response struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (e *apiEnv) do(t *testing.T, method, path string, body interface{}, headers map[string]string) (*httptest.ResponseRecorder, response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)

	var resp response
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	}
	return rec, resp
}

func decodeData(t *testing.T, resp response, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(resp.Data, dst))
}

func salePayload(ref string) map[string]interface{} {
	return map[string]interface{}{
		"amount":             "500",
		"currency":           "ETB",
		"account_identifier": "0911123456",
		"provider":           "chapa",
		"reference":          ref,
		"user_id":            "buyer-1",
		"receiver_id":        "farmer-1",
		"order_id":           "order-1",
	}
}

func TestInitiatePaymentAndLookup(t *testing.T) {
	api := newAPI(t)

	rec, resp := api.do(t, http.MethodPost, "/api/v1/payments", salePayload("TXN-1"), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, resp.Success)

	var result domain.PaymentResult
	decodeData(t, resp, &result)
	assert.Equal(t, "TXN-1", result.TransactionID)
	assert.Equal(t, "https://checkout.example/TXN-1", result.CheckoutURL)

	rec, resp = api.do(t, http.MethodGet, "/api/v1/transactions/TXN-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var txn struct {
		TransactionID string          `json:"transaction_id"`
		Status        string          `json:"status"`
		TotalAmount   decimal.Decimal `json:"total_amount"`
	}
	decodeData(t, resp, &txn)
	assert.Equal(t, "pending", txn.Status)
	assert.True(t, decimal.RequireFromString("527.5").Equal(txn.TotalAmount), txn.TotalAmount.String())

	rec, resp = api.do(t, http.MethodGet, "/api/v1/transactions?user_id=buyer-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]interface{}
	decodeData(t, resp, &list)
	assert.Len(t, list, 1)

	rec, resp = api.do(t, http.MethodGet, "/api/v1/transactions/TXN-missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, resp.Success)
}

func TestInitiatePaymentErrors(t *testing.T) {
	api := newAPI(t)

	tests := []struct {
		name   string
		body   interface{}
		status int
	}{
		{"malformed json", "{", http.StatusBadRequest},
		{"empty body", "", http.StatusBadRequest},
		{"missing user", map[string]interface{}{"amount": "10", "account_identifier": "0911123456"}, http.StatusBadRequest},
		{"unknown provider", func() map[string]interface{} {
			p := salePayload("TXN-X")
			p["provider"] = "venmo"
			return p
		}(), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := api.do(t, http.MethodPost, "/api/v1/payments", tt.body, nil)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
		})
	}
	assert.Zero(t, api.adapter.Initiated())

	rec, _ := api.do(t, http.MethodPost, "/api/v1/payments", salePayload("TXN-D"), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec, _ = api.do(t, http.MethodPost, "/api/v1/payments", salePayload("TXN-D"), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 1, api.adapter.Initiated())
}

func TestIdempotencyKeyReplaysResponse(t *testing.T) {
	api := newAPI(t)
	headers := map[string]string{handler.IdempotencyHeader: "key-1"}

	first, _ := api.do(t, http.MethodPost, "/api/v1/payments", salePayload("TXN-I"), headers)
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get(handler.ReplayedHeader))

	second, _ := api.do(t, http.MethodPost, "/api/v1/payments", salePayload("TXN-I"), headers)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(handler.ReplayedHeader))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, api.adapter.Initiated())
}

func TestIdempotencyKeyInFlightRejectsDuplicate(t *testing.T) {
	api := newAPI(t)
	ctx := context.Background()

	// another request holding the key has not finished yet
	claimed, err := api.cache.ClaimIdempotent(ctx, "/api/v1/payments:key-2", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	headers := map[string]string{handler.IdempotencyHeader: "key-2"}
	rec, resp := api.do(t, http.MethodPost, "/api/v1/payments", salePayload("TXN-F"), headers)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "in progress")
	assert.Equal(t, 0, api.adapter.Initiated())

	require.NoError(t, api.cache.ReleaseIdempotent(ctx, "/api/v1/payments:key-2"))
	rec, _ = api.do(t, http.MethodPost, "/api/v1/payments", salePayload("TXN-F"), headers)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, api.adapter.Initiated())

	raw, err := api.cache.GetIdempotent(ctx, "/api/v1/payments:key-2")
	require.NoError(t, err)
	assert.NotEqual(t, cache.InFlightMarker, raw, "stored response replaces the claim")
}

func TestProviderCallback(t *testing.T) {
	api := newAPI(t)
	rec, _ := api.do(t, http.MethodPost, "/api/v1/payments", salePayload("TXN-C"), nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	signed := map[string]string{"X-Test-Signature": "valid"}
	completed := map[string]string{"reference": "TXN-C", "status": "completed"}

	rec, _ = api.do(t, http.MethodPost, "/api/v1/callbacks/chapa", completed, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, resp := api.do(t, http.MethodPost, "/api/v1/callbacks/chapa", completed, signed)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result usecase.ReconcileResult
	decodeData(t, resp, &result)
	assert.Equal(t, usecase.OutcomeApplied, result.Outcome)

	rec, resp = api.do(t, http.MethodPost, "/api/v1/callbacks/chapa", completed, signed)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, resp, &result)
	assert.Equal(t, usecase.OutcomeDuplicate, result.Outcome)

	rec, _ = api.do(t, http.MethodPost, "/api/v1/callbacks/chapa", map[string]string{"reference": "nope", "status": "completed"}, signed)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = api.do(t, http.MethodPost, "/api/v1/callbacks/chapa", "not json", signed)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = api.do(t, http.MethodPost, "/api/v1/callbacks/venmo", completed, signed)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, resp = api.do(t, http.MethodGet, "/api/v1/escrow/farmer-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view domain.EscrowAccountView
	decodeData(t, resp, &view)
	assert.True(t, decimal.RequireFromString("500").Equal(view.Balance), view.Balance.String())
	assert.True(t, view.Available.Equal(view.Balance))
}

func TestMpesaCallbackAck(t *testing.T) {
	api := newAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/callbacks/mpesa/stk/TXN-M?token=x", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	api.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var ack map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.Equal(t, "1", ack["ResultCode"])
	assert.Contains(t, ack["ResultDesc"], "not supported")
}

func TestDisputeAndCancelRoutes(t *testing.T) {
	api := newAPI(t)
	for _, ref := range []string{"TXN-A", "TXN-B"} {
		rec, _ := api.do(t, http.MethodPost, "/api/v1/payments", salePayload(ref), nil)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec, resp := api.do(t, http.MethodPost, "/api/v1/transactions/TXN-A/dispute", map[string]string{"reason": "wrong grade"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var txn struct {
		Status       string `json:"status"`
		EscrowStatus string `json:"escrow_status"`
	}
	decodeData(t, resp, &txn)
	assert.Equal(t, "disputed", txn.Status)

	rec, _ = api.do(t, http.MethodPost, "/api/v1/transactions/TXN-A/resolve", map[string]string{"resolution": "release"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "release needs a completed payment")

	rec, resp = api.do(t, http.MethodPost, "/api/v1/transactions/TXN-A/resolve", map[string]string{"resolution": "refund", "reason": "buyer rejected"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeData(t, resp, &txn)
	assert.Equal(t, "failed", txn.Status)
	assert.Equal(t, "refunded", txn.EscrowStatus)

	rec, resp = api.do(t, http.MethodPost, "/api/v1/transactions/TXN-B/cancel", map[string]string{"reason": "order withdrawn"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeData(t, resp, &txn)
	assert.Equal(t, "cancelled", txn.Status)

	rec, _ = api.do(t, http.MethodPost, "/api/v1/transactions/TXN-B/dispute", map[string]string{"reason": "late"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPaymentMethodAndPayoutFlow(t *testing.T) {
	api := newAPI(t)
	api.store.Seed(&domain.EscrowAccount{
		ID:       "esc_farmer-1",
		UserID:   "farmer-1",
		Balance:  decimal.RequireFromString("1000"),
		Currency: "ETB",
		IsActive: true,
	})

	rec, resp := api.do(t, http.MethodPost, "/api/v1/payment-methods", map[string]interface{}{
		"user_id":            "farmer-1",
		"kind":               "mobile_money",
		"provider":           "chapa",
		"account_identifier": "+251 911 123 456",
		"account_name":       "Almaz Tesfaye",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var reg usecase.RegisteredPaymentMethod
	decodeData(t, resp, &reg)
	require.NotNil(t, reg.Method)
	assert.Equal(t, "******3456", reg.Method.MaskedIdentifier)
	methodID := reg.Method.ID

	payout := map[string]interface{}{"user_id": "farmer-1", "amount": "200", "payment_method": methodID}
	rec, _ = api.do(t, http.MethodPost, "/api/v1/payouts", payout, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "unverified method")

	rec, _ = api.do(t, http.MethodPost, "/api/v1/payment-methods/"+methodID+"/verify", map[string]string{"user_id": "farmer-1", "token": "wrong"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = api.do(t, http.MethodPost, "/api/v1/payment-methods/"+methodID+"/verify", map[string]string{"user_id": "farmer-2", "token": reg.VerificationToken}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, _ = api.do(t, http.MethodPost, "/api/v1/payment-methods/"+methodID+"/verify", map[string]string{"user_id": "farmer-1", "token": reg.VerificationToken}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, resp = api.do(t, http.MethodGet, "/api/v1/payment-methods?user_id=farmer-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var methods []domain.PaymentMethod
	decodeData(t, resp, &methods)
	require.Len(t, methods, 1)
	assert.True(t, methods[0].IsVerified)
	assert.True(t, methods[0].IsDefault)

	rec, resp = api.do(t, http.MethodPost, "/api/v1/payouts", payout, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created domain.PayoutRequest
	decodeData(t, resp, &created)
	assert.Equal(t, domain.PayoutStatusPending, created.Status)
	assert.True(t, decimal.RequireFromString("195").Equal(created.NetAmount))

	rec, resp = api.do(t, http.MethodPost, "/api/v1/payouts/"+created.ID+"/process", map[string]string{"approver_id": "admin-1"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result domain.PayoutResult
	decodeData(t, resp, &result)
	assert.True(t, result.Success)
	assert.Equal(t, domain.PayoutStatusCompleted, result.Status)

	rec, _ = api.do(t, http.MethodPost, "/api/v1/payouts/"+created.ID+"/process", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, resp = api.do(t, http.MethodGet, "/api/v1/escrow/farmer-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view domain.EscrowAccountView
	decodeData(t, resp, &view)
	assert.True(t, decimal.RequireFromString("800").Equal(view.Balance), view.Balance.String())
	assert.True(t, view.ReservedBalance.IsZero())

	rec, resp = api.do(t, http.MethodGet, "/api/v1/payouts?user_id=farmer-1&status=completed", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var payouts []domain.PayoutRequest
	decodeData(t, resp, &payouts)
	assert.Len(t, payouts, 1)

	rec, _ = api.do(t, http.MethodDelete, "/api/v1/payment-methods/"+methodID+"?user_id=farmer-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, resp = api.do(t, http.MethodGet, "/api/v1/payment-methods?user_id=farmer-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, resp, &methods)
	assert.Empty(t, methods)
}

func TestRejectPayoutRoute(t *testing.T) {
	api := newAPI(t)
	api.store.Seed(&domain.EscrowAccount{
		ID: "esc_farmer-1", UserID: "farmer-1", Balance: decimal.RequireFromString("300"), Currency: "ETB", IsActive: true,
	})
	require.NoError(t, api.store.PaymentMethods().Create(context.Background(), &domain.PaymentMethod{
		ID:                "pm-1",
		UserID:            "farmer-1",
		Kind:              domain.MethodMobileMoney,
		Provider:          domain.ProviderChapa,
		AccountIdentifier: "0911123456",
		MaskedIdentifier:  "******3456",
		IsVerified:        true,
		IsActive:          true,
	}))

	rec, resp := api.do(t, http.MethodPost, "/api/v1/payouts", map[string]interface{}{"user_id": "farmer-1", "amount": "100", "payment_method": "pm-1"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created domain.PayoutRequest
	decodeData(t, resp, &created)

	rec, resp = api.do(t, http.MethodPost, "/api/v1/payouts/"+created.ID+"/reject", map[string]string{"approver_id": "admin-1", "reason": "kyc pending"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var rejected domain.PayoutRequest
	decodeData(t, resp, &rejected)
	assert.Equal(t, domain.PayoutStatusRejected, rejected.Status)

	rec, _ = api.do(t, http.MethodGet, "/api/v1/payouts/"+created.ID, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = api.do(t, http.MethodGet, "/api/v1/payouts/po_missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
