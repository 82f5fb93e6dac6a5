package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionStatusTransitions(t *testing.T) {
	tests := []struct {
		from TransactionStatus
		to   TransactionStatus
		ok   bool
	}{
		{TxStatusPending, TxStatusProcessing, true},
		{TxStatusPending, TxStatusCompleted, true},
		{TxStatusPending, TxStatusFailed, true},
		{TxStatusProcessing, TxStatusFailed, true},
		{TxStatusProcessing, TxStatusDisputed, true},
		{TxStatusDisputed, TxStatusCompleted, true},
		{TxStatusDisputed, TxStatusFailed, true},
		{TxStatusCompleted, TxStatusFailed, false},
		{TxStatusCompleted, TxStatusPending, false},
		{TxStatusCancelled, TxStatusProcessing, false},
		{TxStatusFailed, TxStatusCompleted, false},
		{TxStatusDisputed, TxStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestEscrowTransitions(t *testing.T) {
	assert.True(t, EscrowHolding.CanTransitionTo(EscrowReleased))
	assert.True(t, EscrowHolding.CanTransitionTo(EscrowDisputed))
	assert.True(t, EscrowDisputed.CanTransitionTo(EscrowRefunded))
	assert.False(t, EscrowHolding.CanTransitionTo(EscrowRefunded))
	assert.False(t, EscrowReleased.CanTransitionTo(EscrowHolding))
	assert.False(t, EscrowRefunded.CanTransitionTo(EscrowReleased))
}

func TestTransitionToStampsCompletedAtOnce(t *testing.T) {
	tx := &Transaction{Status: TxStatusPending}
	first := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, tx.TransitionTo(TxStatusCompleted, first))
	require.NotNil(t, tx.CompletedAt)
	assert.Equal(t, first, *tx.CompletedAt)

	// same-state call is a no-op and must not move the stamp
	require.NoError(t, tx.TransitionTo(TxStatusCompleted, first.Add(time.Hour)))
	assert.Equal(t, first, *tx.CompletedAt)

	err := tx.TransitionTo(TxStatusFailed, first.Add(2*time.Hour))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, TxStatusCompleted, tx.Status)
}

func TestMoveEscrowRejectsSkippingDispute(t *testing.T) {
	tx := &Transaction{EscrowStatus: EscrowHolding}
	err := tx.MoveEscrow(EscrowRefunded, time.Now())
	assert.ErrorIs(t, err, ErrInvalidEscrowTransition)
	assert.Equal(t, EscrowHolding, tx.EscrowStatus)

	require.NoError(t, tx.MoveEscrow(EscrowDisputed, time.Now()))
	require.NoError(t, tx.MoveEscrow(EscrowRefunded, time.Now()))
}

func TestComputeTotal(t *testing.T) {
	tx := &Transaction{
		Amount:        decimal.RequireFromString("500"),
		ProcessingFee: decimal.RequireFromString("17.50"),
		PlatformFee:   decimal.RequireFromString("10"),
	}
	tx.ComputeTotal()
	assert.True(t, tx.TotalAmount.Equal(decimal.RequireFromString("527.50")))
}

func TestPaymentResolve(t *testing.T) {
	p := &Payment{Status: PaymentStatusPending}
	now := time.Now()
	require.NoError(t, p.Resolve(PaymentStatusCompleted, now))
	assert.True(t, p.IsVerified)
	require.NotNil(t, p.CompletedAt)

	assert.ErrorIs(t, p.Resolve(PaymentStatusFailed, now), ErrInvalidTransition)
	assert.Equal(t, PaymentStatusCompleted, p.Status)
}

func TestPaymentStatusDrivesTransaction(t *testing.T) {
	assert.Equal(t, TxStatusCompleted, PaymentStatusCompleted.TransactionStatus())
	assert.Equal(t, TxStatusFailed, PaymentStatusFailed.TransactionStatus())
	assert.Equal(t, TxStatusFailed, PaymentStatusExpired.TransactionStatus())
	assert.Equal(t, TxStatusCancelled, PaymentStatusCancelled.TransactionStatus())
	assert.Equal(t, TxStatusPending, PaymentStatusPending.TransactionStatus())
}
