package usecase

import (
	"context"
	"fmt"
	"time"

	"ersha-payment-service/internal/domain"
	"ersha-payment-service/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type EscrowUsecase struct {
	store  repository.Store
	logger *zap.Logger
}

func NewEscrowUsecase(store repository.Store, logger *zap.Logger) *EscrowUsecase {
	return &EscrowUsecase{store: store, logger: logger}
}

// GetAccount returns the user's escrow balance. A user who has never sold
// anything has no account.
func (uc *EscrowUsecase) GetAccount(ctx context.Context, userID string) (*domain.EscrowAccountView, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", domain.ErrInvalidRequest)
	}
	acct, err := uc.store.Escrow().GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return acct.View(), nil
}

// ============================================
// Ledger mutations (callers hold a db tx)
// ============================================

// creditReceiver moves a completed sale into the receiver's escrow,
// opening the account on first credit.
func creditReceiver(ctx context.Context, tx repository.Store, txn *domain.Transaction, now time.Time) error {
	if !txn.CreditsReceiver() {
		return nil
	}

	acct, err := tx.Escrow().LockOrCreate(ctx, txn.ReceiverID, txn.Currency)
	if err != nil {
		return fmt.Errorf("failed to open escrow for %s: %w", txn.ReceiverID, err)
	}
	if acct.Currency != txn.Currency {
		return fmt.Errorf("%w: escrow for %s is held in %s, transaction is %s",
			domain.ErrInvalidRequest, txn.ReceiverID, acct.Currency, txn.Currency)
	}
	if !acct.IsActive {
		return fmt.Errorf("%w: user %s", domain.ErrEscrowInactive, txn.ReceiverID)
	}

	acct.Balance = acct.Balance.Add(txn.Amount)
	acct.UpdatedAt = now
	return tx.Escrow().Update(ctx, acct)
}

// reserve holds amount against the available balance.
func reserve(ctx context.Context, tx repository.Store, acct *domain.EscrowAccount, amount decimal.Decimal, now time.Time) error {
	if err := acct.CanCover(amount); err != nil {
		return err
	}
	acct.ReservedBalance = acct.ReservedBalance.Add(amount)
	acct.UpdatedAt = now
	return tx.Escrow().Update(ctx, acct)
}

// releaseReservation drops a hold and, when debit is set, takes the funds.
func releaseReservation(ctx context.Context, tx repository.Store, userID string, amount decimal.Decimal, debit bool, now time.Time) error {
	acct, err := tx.Escrow().LockByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to lock escrow for %s: %w", userID, err)
	}

	acct.ReservedBalance = acct.ReservedBalance.Sub(amount)
	if acct.ReservedBalance.IsNegative() {
		acct.ReservedBalance = decimal.Zero
	}
	if debit {
		if acct.Balance.LessThan(amount) {
			return &domain.InsufficientBalanceError{Available: acct.Balance, Requested: amount}
		}
		acct.Balance = acct.Balance.Sub(amount)
	}
	acct.UpdatedAt = now
	return tx.Escrow().Update(ctx, acct)
}
