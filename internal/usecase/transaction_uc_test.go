package usecase

import (
	"context"
	"testing"

	"ersha-payment-service/internal/domain"
	"ersha-payment-service/internal/events"
	"ersha-payment-service/internal/provider"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *testEnv) complete(t *testing.T, ref string) {
	t.Helper()
	_, err := e.reconciler.Apply(context.Background(), &provider.WebhookEvent{
		Provider:  domain.ProviderChapa,
		Kind:      provider.EventPayment,
		Reference: ref,
		Status:    provider.StateCompleted,
	})
	require.NoError(t, err)
}

func TestGetTransactionIncludesPayment(t *testing.T) {
	env := newTestEnv(t)
	env.initiate(t, "TXN-1")

	detail, err := env.txns.GetTransaction(context.Background(), "TXN-1")
	require.NoError(t, err)
	assert.Equal(t, "TXN-1", detail.TransactionID)
	require.NotNil(t, detail.Payment)
	assert.Equal(t, domain.PaymentStatusPending, detail.Payment.Status)

	_, err = env.txns.GetTransaction(context.Background(), "TXN-404")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListTransactionsByUserAndStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.initiate(t, "TXN-1")
	env.initiate(t, "TXN-2")
	env.complete(t, "TXN-2")

	pending, err := env.txns.ListTransactions(ctx, domain.TransactionFilter{UserID: "farmer-1", Status: domain.TxStatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "TXN-1", pending[0].TransactionID)

	all, err := env.txns.ListTransactions(ctx, domain.TransactionFilter{UserID: "buyer-1"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = env.txns.ListTransactions(ctx, domain.TransactionFilter{Status: "lost"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestDisputeThenRelease(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.initiate(t, "TXN-1")

	txn, err := env.txns.Dispute(ctx, "TXN-1", "short weight")
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusDisputed, txn.Status)
	assert.Equal(t, domain.EscrowDisputed, txn.EscrowStatus)
	assert.Contains(t, *txn.Description, "short weight")
	assert.Equal(t, 1, env.publisher.Count(events.TransactionDisputed))

	// Nothing to release until the buyer's money has arrived.
	_, err = env.txns.Resolve(ctx, "TXN-1", ResolveRelease, "weights confirmed")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	env.complete(t, "TXN-1")

	txn, err = env.txns.Resolve(ctx, "TXN-1", ResolveRelease, "weights confirmed")
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusCompleted, txn.Status)
	assert.Equal(t, domain.EscrowReleased, txn.EscrowStatus)
	require.NotNil(t, txn.CompletedAt)
	assert.Equal(t, "500", env.balance(t, "farmer-1").Balance.String())

	_, err = env.txns.Dispute(ctx, "TXN-1", "again")
	assert.Error(t, err)
}

func TestResolveRefundNeedsProviderSupport(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.initiate(t, "TXN-1")
	_, err := env.txns.Dispute(ctx, "TXN-1", "never delivered")
	require.NoError(t, err)
	env.complete(t, "TXN-1")

	_, err = env.txns.Resolve(ctx, "TXN-1", ResolveRefund, "never delivered")
	require.ErrorIs(t, err, domain.ErrProviderFailed)
	assert.Contains(t, err.Error(), "manual refund required")

	txn, _ := env.paymentFor(t, "TXN-1")
	assert.Equal(t, domain.TxStatusDisputed, txn.Status)
	assert.Equal(t, domain.EscrowDisputed, txn.EscrowStatus)
}

func TestResolveRefundRecordsRefund(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	var refunded decimal.Decimal
	env.adapter.RefundFunc = func(_ context.Context, _ string, amount decimal.Decimal) *provider.RefundResult {
		refunded = amount
		return &provider.RefundResult{Outcome: provider.OK(), RefundReference: "RF-1"}
	}
	env.initiate(t, "TXN-1")
	_, err := env.txns.Dispute(ctx, "TXN-1", "never delivered")
	require.NoError(t, err)
	env.complete(t, "TXN-1")

	txn, err := env.txns.Resolve(ctx, "TXN-1", ResolveRefund, "never delivered")
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusFailed, txn.Status)
	assert.Equal(t, domain.EscrowRefunded, txn.EscrowStatus)
	assert.Equal(t, "527.5", refunded.String())

	refunds, err := env.txns.ListTransactions(ctx, domain.TransactionFilter{UserID: "buyer-1", Type: domain.TxTypeRefund})
	require.NoError(t, err)
	require.Len(t, refunds, 1)
	assert.Equal(t, "527.5", refunds[0].TotalAmount.String())
	assert.Equal(t, "RF-1", *refunds[0].ExternalReference)
	assert.Equal(t, "buyer-1", refunds[0].ReceiverID)

	// Seller was never credited.
	_, err = env.store.Escrow().GetByUserID(ctx, "farmer-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResolveRefundBeforePaymentCancelsIt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.initiate(t, "TXN-1")
	_, err := env.txns.Dispute(ctx, "TXN-1", "buyer changed mind")
	require.NoError(t, err)

	txn, err := env.txns.Resolve(ctx, "TXN-1", ResolveRefund, "buyer changed mind")
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowRefunded, txn.EscrowStatus)
	assert.Zero(t, env.adapter.Calls("refund"))

	_, payment := env.paymentFor(t, "TXN-1")
	assert.Equal(t, domain.PaymentStatusCancelled, payment.Status)
}

func TestResolveRequiresDispute(t *testing.T) {
	env := newTestEnv(t)
	env.initiate(t, "TXN-1")

	_, err := env.txns.Resolve(context.Background(), "TXN-1", ResolveRelease, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = env.txns.Resolve(context.Background(), "TXN-1", "split", "")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestCancelPendingTransaction(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.initiate(t, "TXN-1")

	txn, err := env.txns.Cancel(ctx, "TXN-1", "order withdrawn")
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusCancelled, txn.Status)

	_, payment := env.paymentFor(t, "TXN-1")
	assert.Equal(t, domain.PaymentStatusCancelled, payment.Status)

	// A late provider success cannot revive it.
	res, err := env.reconciler.Apply(ctx, &provider.WebhookEvent{
		Provider: domain.ProviderChapa, Kind: provider.EventPayment, Reference: "TXN-1", Status: provider.StateCompleted,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	assert.Equal(t, 1, env.publisher.Count(events.TransactionCancelled))
}

func TestCancelCompletedTransactionRefused(t *testing.T) {
	env := newTestEnv(t)
	env.initiate(t, "TXN-1")
	env.complete(t, "TXN-1")

	_, err := env.txns.Cancel(context.Background(), "TXN-1", "too late")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestEscrowAccountView(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.escrow.GetAccount(ctx, "farmer-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = env.escrow.GetAccount(ctx, "")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	env.initiate(t, "TXN-1")
	env.complete(t, "TXN-1")

	view, err := env.escrow.GetAccount(ctx, "farmer-1")
	require.NoError(t, err)
	assert.Equal(t, "500", view.Balance.String())
	assert.Equal(t, "500", view.Available.String())
	assert.Equal(t, "ETB", view.Currency)
}
