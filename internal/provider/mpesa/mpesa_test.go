package mpesa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"ersha-payment-service/config"
	"ersha-payment-service/internal/domain"
	"ersha-payment-service/internal/provider"
	"ersha-payment-service/pkg/security"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestProvider(t *testing.T, routes map[string]http.HandlerFunc) *MpesaProvider {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "ck", user)
		assert.Equal(t, "cs", pass)
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":"3599"}`))
	})
	for path, h := range routes {
		h := h
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			h(w, r)
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	p := NewMpesaProvider(config.MpesaConfig{
		BaseURL:               srv.URL,
		ConsumerKey:           "ck",
		ConsumerSecret:        "cs",
		Passkey:               "pk",
		ShortCode:             "174379",
		CallbackSecret:        "cbsecret",
		B2CShortCode:          "600000",
		B2CInitiatorName:      "testapi",
		B2CSecurityCredential: "cred",
		B2BShortCode:          "600001",
		B2BInitiatorName:      "testapi",
		B2BSecurityCredential: "cred",
	}, "https://pay.example", zap.NewNop())
	p.now = func() time.Time { return time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC) }
	return p
}

func TestSTKPush(t *testing.T) {
	p := newTestProvider(t, map[string]http.HandlerFunc{
		"/mpesa/stkpush/v1/processrequest": func(w http.ResponseWriter, r *http.Request) {
			var body STKPushRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "254712345678", body.PhoneNumber)
			assert.Equal(t, int64(1500), body.Amount)
			assert.Equal(t, "20260301103000", body.Timestamp)
			assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("174379pk20260301103000")), body.Password)

			cb, err := url.Parse(body.CallBackURL)
			require.NoError(t, err)
			assert.Equal(t, "/api/v1/callbacks/mpesa/stk/TXN-7", cb.Path)
			assert.Equal(t, security.SignHMAC("cbsecret", []byte("TXN-7")), cb.Query().Get("token"))

			_, _ = w.Write([]byte(`{"MerchantRequestID":"m-1","CheckoutRequestID":"ws_CO_1","ResponseCode":"0","ResponseDescription":"Success","CustomerMessage":"Success. Request accepted for processing"}`))
		},
	})

	res := p.InitiatePayment(context.Background(), &provider.InitiateRequest{
		Amount:    decimal.NewFromInt(1500),
		Account:   "0712 345 678",
		Reference: "TXN-7",
	})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "ws_CO_1", res.ProviderReference)
}

func TestSTKPushValidation(t *testing.T) {
	p := newTestProvider(t, nil)

	res := p.InitiatePayment(context.Background(), &provider.InitiateRequest{
		Amount: decimal.NewFromInt(10), Account: "0911123456", Reference: "TXN-1",
	})
	assert.Equal(t, provider.KindValidation, res.Kind)

	res = p.InitiatePayment(context.Background(), &provider.InitiateRequest{
		Amount: decimal.RequireFromString("10.50"), Account: "0712345678", Reference: "TXN-1",
	})
	assert.Equal(t, provider.KindValidation, res.Kind)
	assert.Contains(t, res.Error, "whole numbers")
}

func TestVerifyPaymentStates(t *testing.T) {
	var reply string
	var status int
	p := newTestProvider(t, map[string]http.HandlerFunc{
		"/mpesa/stkpushquery/v1/query": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(reply))
		},
	})

	status, reply = http.StatusOK, `{"ResponseCode":"0","ResultCode":"1032","ResultDesc":"Request cancelled by user"}`
	res := p.VerifyPayment(context.Background(), "ws_CO_1")
	require.True(t, res.Success)
	assert.Equal(t, provider.StateCancelled, res.Status)

	status, reply = http.StatusInternalServerError, `{"errorCode":"500.001.1001","errorMessage":"The transaction is being processed"}`
	res = p.VerifyPayment(context.Background(), "ws_CO_1")
	require.True(t, res.Success)
	assert.Equal(t, provider.StatePending, res.Status)

	status, reply = http.StatusBadRequest, `{"errorCode":"400.002.02","errorMessage":"Bad Request - Invalid CheckoutRequestID"}`
	res = p.VerifyPayment(context.Background(), "bogus")
	assert.False(t, res.Success)
	assert.Equal(t, provider.KindProvider, res.Kind)
}

func TestB2CIsAsync(t *testing.T) {
	p := newTestProvider(t, map[string]http.HandlerFunc{
		"/mpesa/b2c/v1/paymentrequest": func(w http.ResponseWriter, r *http.Request) {
			var body B2CRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "BusinessPayment", body.CommandID)
			assert.Equal(t, "254712345678", body.PartyB)
			assert.Contains(t, body.ResultURL, "/api/v1/callbacks/mpesa/b2c/PO-1?token=")
			assert.Contains(t, body.QueueTimeOutURL, "/api/v1/callbacks/mpesa/b2c/timeout/PO-1?token=")
			_, _ = w.Write([]byte(`{"ConversationID":"AG_1","OriginatorConversationID":"o-1","ResponseCode":"0","ResponseDescription":"Accept the service request successfully."}`))
		},
	})

	res := p.MobilePayout(context.Background(), &provider.PayoutInstruction{
		Reference: "PO-1", Amount: decimal.NewFromInt(495), Phone: "254712345678",
	})

	require.True(t, res.Success, res.Error)
	assert.True(t, res.Pending)
	assert.Equal(t, "AG_1", res.ExternalReference)
}

func TestB2BPaybill(t *testing.T) {
	p := newTestProvider(t, map[string]http.HandlerFunc{
		"/mpesa/b2b/v1/paymentrequest": func(w http.ResponseWriter, r *http.Request) {
			var body B2BRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "BusinessPayBill", body.CommandID)
			assert.Equal(t, "247247", body.PartyB)
			assert.Equal(t, "0123456789", body.AccountReference)
			assert.Equal(t, 4, body.RecieverIdentifierType)
			_, _ = w.Write([]byte(`{"ConversationID":"AG_2","ResponseCode":"0","ResponseDescription":"Accepted"}`))
		},
	})

	res := p.BankPayout(context.Background(), &provider.PayoutInstruction{
		Reference: "PO-2", Amount: decimal.NewFromInt(1000), BankCode: "247247", AccountNumber: "0123456789",
	})
	require.True(t, res.Success, res.Error)
	assert.True(t, res.Pending)
}

func TestCallbackToken(t *testing.T) {
	p := newTestProvider(t, nil)
	token := security.SignHMAC("cbsecret", []byte("TXN-7"))

	good := httptest.NewRequest(http.MethodPost, "/api/v1/callbacks/mpesa/stk/TXN-7?token="+token, nil)
	assert.NoError(t, p.VerifyWebhook(good, nil))

	forged := httptest.NewRequest(http.MethodPost, "/api/v1/callbacks/mpesa/stk/TXN-8?token="+token, nil)
	assert.ErrorIs(t, p.VerifyWebhook(forged, nil), domain.ErrInvalidSignature)

	missing := httptest.NewRequest(http.MethodPost, "/api/v1/callbacks/mpesa/stk/TXN-7", nil)
	assert.ErrorIs(t, p.VerifyWebhook(missing, nil), domain.ErrInvalidSignature)
}

func TestParseSTKCallback(t *testing.T) {
	p := newTestProvider(t, nil)
	body := []byte(`{"Body":{"stkCallback":{"MerchantRequestID":"m-1","CheckoutRequestID":"ws_CO_1","ResultCode":0,"ResultDesc":"The service request is processed successfully.","CallbackMetadata":{"Item":[{"Name":"Amount","Value":1500},{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"},{"Name":"PhoneNumber","Value":254712345678}]}}}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/callbacks/mpesa/stk/TXN-7", nil)

	event, err := p.ParseWebhook(req, body)
	require.NoError(t, err)
	assert.Equal(t, provider.EventPayment, event.Kind)
	assert.Equal(t, "ws_CO_1", event.Reference)
	assert.Equal(t, "TXN-7", event.SignedReference)
	assert.Equal(t, "NLJ7RT61SV", event.ExternalID)
	assert.Equal(t, provider.StateCompleted, event.Status)
	assert.True(t, decimal.NewFromInt(1500).Equal(event.Amount))

	failed := []byte(`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_2","ResultCode":1,"ResultDesc":"The balance is insufficient"}}}`)
	event, err = p.ParseWebhook(req, failed)
	require.NoError(t, err)
	assert.Equal(t, provider.StateFailed, event.Status)
	assert.Equal(t, "1", event.ResultCode)

	_, err = p.ParseWebhook(req, []byte(`{"Body":{}}`))
	assert.ErrorIs(t, err, domain.ErrMalformedPayload)
}

func TestParseResultAndTimeoutCallbacks(t *testing.T) {
	p := newTestProvider(t, nil)

	body := []byte(`{"Result":{"ResultType":0,"ResultCode":0,"ResultDesc":"ok","ConversationID":"AG_1","TransactionID":"NLJ41HAY6Q","ResultParameters":{"ResultParameter":[{"Key":"TransactionAmount","Value":495},{"Key":"TransactionReceipt","Value":"NLJ41HAY6Q"}]}}}`)
	event, err := p.ParseWebhook(httptest.NewRequest(http.MethodPost, "/api/v1/callbacks/mpesa/b2c/PO-1", nil), body)
	require.NoError(t, err)
	assert.Equal(t, provider.EventPayout, event.Kind)
	assert.Equal(t, "PO-1", event.Reference)
	assert.Equal(t, provider.StateCompleted, event.Status)
	assert.Equal(t, "NLJ41HAY6Q", event.ExternalID)

	event, err = p.ParseWebhook(httptest.NewRequest(http.MethodPost, "/api/v1/callbacks/mpesa/b2b/timeout/PO-2", nil), []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "PO-2", event.Reference)
	assert.Equal(t, provider.StateFailed, event.Status)
}
