package usecase

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"ersha-payment-service/internal/domain"
	"ersha-payment-service/internal/events"
	"ersha-payment-service/internal/provider"
	"ersha-payment-service/internal/repository/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type mockAdapter struct {
	mu    sync.Mutex
	name  domain.Provider
	calls map[string]int

	InitiateFunc func(ctx context.Context, req *provider.InitiateRequest) *provider.InitiateResult
	VerifyFunc   func(ctx context.Context, ref string) *provider.VerifyResult
	RefundFunc   func(ctx context.Context, ref string, amount decimal.Decimal) *provider.RefundResult
	MobileFunc   func(ctx context.Context, req *provider.PayoutInstruction) *provider.PayoutResult
	BankFunc     func(ctx context.Context, req *provider.PayoutInstruction) *provider.PayoutResult

	lastInitiate *provider.InitiateRequest
	lastPayout   *provider.PayoutInstruction
}

func newMockAdapter(name domain.Provider) *mockAdapter {
	return &mockAdapter{name: name, calls: map[string]int{}}
}

func (m *mockAdapter) record(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
}

func (m *mockAdapter) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *mockAdapter) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

func (m *mockAdapter) Name() domain.Provider { return m.name }

func (m *mockAdapter) InitiatePayment(ctx context.Context, req *provider.InitiateRequest) *provider.InitiateResult {
	m.record("initiate")
	m.mu.Lock()
	m.lastInitiate = req
	m.mu.Unlock()
	if m.InitiateFunc != nil {
		return m.InitiateFunc(ctx, req)
	}
	return &provider.InitiateResult{
		Outcome:           provider.OK(),
		ProviderReference: req.Reference,
		CheckoutURL:       "https://checkout.example/" + req.Reference,
	}
}

func (m *mockAdapter) VerifyPayment(ctx context.Context, ref string) *provider.VerifyResult {
	m.record("verify")
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, ref)
	}
	return &provider.VerifyResult{Outcome: provider.OK(), ProviderReference: ref, Status: provider.StatePending}
}

func (m *mockAdapter) RefundPayment(ctx context.Context, ref string, amount decimal.Decimal, _ string) *provider.RefundResult {
	m.record("refund")
	if m.RefundFunc != nil {
		return m.RefundFunc(ctx, ref, amount)
	}
	return &provider.RefundResult{Outcome: provider.Failure(provider.KindNotImplemented, "refunds are not supported")}
}

func (m *mockAdapter) MobilePayout(ctx context.Context, req *provider.PayoutInstruction) *provider.PayoutResult {
	m.record("mobile_payout")
	m.mu.Lock()
	m.lastPayout = req
	m.mu.Unlock()
	if m.MobileFunc != nil {
		return m.MobileFunc(ctx, req)
	}
	return &provider.PayoutResult{Outcome: provider.OK(), ExternalReference: "EXT-" + req.Reference}
}

func (m *mockAdapter) BankPayout(ctx context.Context, req *provider.PayoutInstruction) *provider.PayoutResult {
	m.record("bank_payout")
	m.mu.Lock()
	m.lastPayout = req
	m.mu.Unlock()
	if m.BankFunc != nil {
		return m.BankFunc(ctx, req)
	}
	return &provider.PayoutResult{Outcome: provider.OK(), ExternalReference: "EXT-" + req.Reference}
}

// testCallback is the wire format the mock adapter accepts as a webhook.
type testCallback struct {
	Kind       string `json:"kind"`
	Reference  string `json:"reference"`
	Status     string `json:"status"`
	ExternalID string `json:"external_id"`
	Amount     string `json:"amount"`
}

func (m *mockAdapter) VerifyWebhook(r *http.Request, _ []byte) error {
	if r.Header.Get("X-Test-Signature") != "valid" {
		return domain.ErrInvalidSignature
	}
	return nil
}

func (m *mockAdapter) ParseWebhook(_ *http.Request, body []byte) (*provider.WebhookEvent, error) {
	var cb testCallback
	if err := json.Unmarshal(body, &cb); err != nil || cb.Reference == "" {
		return nil, domain.ErrMalformedPayload
	}
	evt := &provider.WebhookEvent{
		Provider:   m.name,
		Kind:       provider.EventPayment,
		Reference:  cb.Reference,
		ExternalID: cb.ExternalID,
		Status:     provider.PaymentState(cb.Status),
		Raw:        body,
	}
	if cb.Kind == "payout" {
		evt.Kind = provider.EventPayout
	}
	if cb.Amount != "" {
		evt.Amount = dec(cb.Amount)
	}
	return evt, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evts ...events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evts...)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) Count(t events.Type) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

var testFees = domain.FeeSchedule{
	PlatformRate: dec("0.02"),
	ProcessingRates: map[domain.Provider]decimal.Decimal{
		domain.ProviderChapa: dec("0.035"),
	},
	PayoutFees: map[domain.MethodKind]decimal.Decimal{
		domain.MethodMobileMoney: dec("5"),
		domain.MethodBank:        dec("15"),
	},
}

type testEnv struct {
	store      *memory.Store
	adapter    *mockAdapter
	publisher  *recordingPublisher
	processor  *PaymentProcessor
	reconciler *Reconciler
	payments   *PaymentUsecase
	payouts    *PayoutUsecase
	txns       *TransactionUsecase
	methods    *PaymentMethodUsecase
	escrow     *EscrowUsecase
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	store := memory.NewStore()
	adapter := newMockAdapter(domain.ProviderChapa)
	registry := provider.NewRegistry(adapter)
	pub := &recordingPublisher{}

	processor := NewPaymentProcessor(registry, domain.ProviderChapa, 200*time.Millisecond, logger)
	reconciler := NewReconciler(store, registry, pub, logger)

	return &testEnv{
		store:      store,
		adapter:    adapter,
		publisher:  pub,
		processor:  processor,
		reconciler: reconciler,
		payments: NewPaymentUsecase(store, processor, reconciler, PaymentConfig{
			Fees:            testFees,
			DefaultCurrency: "ETB",
			VerificationTTL: time.Hour,
		}, pub, logger),
		payouts: NewPayoutUsecase(store, processor, nil, PayoutConfig{
			Fees:            testFees,
			DefaultCurrency: "ETB",
		}, pub, logger),
		txns:    NewTransactionUsecase(store, processor, pub, logger),
		methods: NewPaymentMethodUsecase(store, domain.ProviderChapa, time.Hour, logger),
		escrow:  NewEscrowUsecase(store, logger),
	}
}

func saleRequest(ref string) *domain.InitiatePaymentRequest {
	return &domain.InitiatePaymentRequest{
		Amount:            dec("500"),
		Currency:          "ETB",
		AccountIdentifier: "+251-911-123-456",
		Provider:          "chapa",
		Reference:         ref,
		Description:       "Teff 50kg",
		UserID:            "buyer-1",
		SenderName:        "Abebe Kebede",
		ReceiverID:        "farmer-1",
		OrderID:           "order-1",
	}
}

func (e *testEnv) initiate(t *testing.T, ref string) {
	t.Helper()
	res, err := e.payments.InitiatePayment(context.Background(), saleRequest(ref))
	require.NoError(t, err)
	require.True(t, res.Success)
}

func (e *testEnv) paymentFor(t *testing.T, ref string) (*domain.Transaction, *domain.Payment) {
	t.Helper()
	ctx := context.Background()
	txn, err := e.store.Transactions().GetByTransactionID(ctx, ref)
	require.NoError(t, err)
	payment, err := e.store.Payments().GetByTransactionID(ctx, txn.ID)
	require.NoError(t, err)
	return txn, payment
}

func (e *testEnv) addMethod(t *testing.T, m *domain.PaymentMethod) *domain.PaymentMethod {
	t.Helper()
	if m.UserID == "" {
		m.UserID = "farmer-1"
	}
	if m.Provider == "" {
		m.Provider = domain.ProviderChapa
	}
	m.IsActive = true
	m.IsVerified = true
	require.NoError(t, e.store.PaymentMethods().Create(context.Background(), m))
	return m
}

func (e *testEnv) fundEscrow(userID, balance string) {
	e.store.Seed(&domain.EscrowAccount{
		ID:       "esc_" + userID,
		UserID:   userID,
		Balance:  dec(balance),
		Currency: "ETB",
		IsActive: true,
	})
}

func (e *testEnv) balance(t *testing.T, userID string) *domain.EscrowAccount {
	t.Helper()
	acct, err := e.store.Escrow().GetByUserID(context.Background(), userID)
	require.NoError(t, err)
	return acct
}
