package usecase

import (
	"context"
	"fmt"
	"time"

	"ersha-payment-service/internal/domain"
	"ersha-payment-service/internal/events"
	"ersha-payment-service/internal/provider"
	"ersha-payment-service/internal/repository"
	"ersha-payment-service/pkg/utils/id"

	"go.uber.org/zap"
)

type Resolution string

const (
	ResolveRelease Resolution = "release"
	ResolveRefund  Resolution = "refund"
)

// TransactionDetail is a transaction with its payment leg, if it has one.
type TransactionDetail struct {
	*domain.Transaction
	Payment *domain.Payment `json:"payment,omitempty"`
}

type TransactionUsecase struct {
	store     repository.Store
	processor *PaymentProcessor
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewTransactionUsecase(store repository.Store, processor *PaymentProcessor, publisher events.Publisher, logger *zap.Logger) *TransactionUsecase {
	return &TransactionUsecase{
		store:     store,
		processor: processor,
		publisher: publisher,
		logger:    logger,
		now:       utcNow,
	}
}

func (uc *TransactionUsecase) GetTransaction(ctx context.Context, transactionID string) (*TransactionDetail, error) {
	txn, err := uc.store.Transactions().GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	detail := &TransactionDetail{Transaction: txn}
	payment, err := uc.store.Payments().GetByTransactionID(ctx, txn.ID)
	switch {
	case err == nil:
		detail.Payment = payment
	case !isNotFound(err):
		return nil, err
	}
	return detail, nil
}

func (uc *TransactionUsecase) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %s", domain.ErrInvalidRequest, filter.Status)
	}
	return uc.store.Transactions().List(ctx, filter)
}

// Dispute freezes a transaction whose funds are still held.
func (uc *TransactionUsecase) Dispute(ctx context.Context, transactionID, reason string) (*domain.Transaction, error) {
	var txn *domain.Transaction
	err := uc.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		txn, err = uc.lock(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		if txn.EscrowStatus != domain.EscrowHolding {
			return &domain.TransitionError{Entity: "escrow", From: string(txn.EscrowStatus), To: string(domain.EscrowDisputed), Err: domain.ErrInvalidEscrowTransition}
		}

		now := uc.now()
		if err := txn.TransitionTo(domain.TxStatusDisputed, now); err != nil {
			return err
		}
		if err := txn.MoveEscrow(domain.EscrowDisputed, now); err != nil {
			return err
		}
		appendDescription(txn, "disputed: "+reason)
		return tx.Transactions().Update(ctx, txn)
	})
	if err != nil {
		return nil, err
	}

	uc.logger.Info("transaction disputed",
		zap.String("transaction_id", transactionID),
		zap.String("reason", reason))

	publish(ctx, uc.publisher, uc.logger, transactionEvent(events.TransactionDisputed, txn, reason))
	return txn, nil
}

// Resolve settles a disputed transaction either in the seller's favour
// (release) or the buyer's (refund).
func (uc *TransactionUsecase) Resolve(ctx context.Context, transactionID string, resolution Resolution, reason string) (*domain.Transaction, error) {
	switch resolution {
	case ResolveRelease, ResolveRefund:
	default:
		return nil, fmt.Errorf("%w: resolution must be release or refund", domain.ErrInvalidRequest)
	}

	current, err := uc.store.Transactions().GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if current.Status != domain.TxStatusDisputed {
		return nil, &domain.TransitionError{Entity: "transaction", From: string(current.Status), To: "resolved", Err: domain.ErrInvalidTransition}
	}
	payment, err := uc.store.Payments().GetByTransactionID(ctx, current.ID)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	paid := payment != nil && payment.Status == domain.PaymentStatusCompleted

	if resolution == ResolveRelease && !paid {
		return nil, fmt.Errorf("%w: payment has not completed", domain.ErrInvalidTransition)
	}

	var refundRef string
	if resolution == ResolveRefund && paid {
		res := uc.processor.Refund(ctx, string(payment.Provider), payment.ProviderTransactionID, payment.Amount, reason)
		if !res.Success {
			if res.Kind == provider.KindNotImplemented {
				res.Error = "manual refund required: " + res.Error
			}
			uc.logger.Warn("dispute refund failed",
				zap.String("transaction_id", transactionID),
				zap.String("provider", string(payment.Provider)),
				zap.String("error", res.Error))
			return nil, providerError(payment.Provider, res.Outcome)
		}
		refundRef = res.RefundReference
	}

	var txn *domain.Transaction
	err = uc.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		txn, err = uc.lock(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		if txn.Status != domain.TxStatusDisputed {
			return fmt.Errorf("%w: transaction moved to %s", domain.ErrConflict, txn.Status)
		}

		now := uc.now()
		if resolution == ResolveRelease {
			lockedPayment, err := tx.Payments().GetByTransactionID(ctx, txn.ID)
			if err != nil {
				return err
			}
			appendDescription(txn, "dispute released: "+reason)
			return resolveTransaction(ctx, tx, txn, lockedPayment, now)
		}

		if err := txn.TransitionTo(domain.TxStatusFailed, now); err != nil {
			return err
		}
		if err := txn.MoveEscrow(domain.EscrowRefunded, now); err != nil {
			return err
		}
		appendDescription(txn, "dispute refunded: "+reason)
		if err := tx.Transactions().Update(ctx, txn); err != nil {
			return err
		}

		if !paid {
			if payment != nil && !payment.Status.IsTerminal() {
				lockedPayment, err := tx.Payments().GetByTransactionID(ctx, txn.ID)
				if err != nil {
					return err
				}
				if err := lockedPayment.Resolve(domain.PaymentStatusCancelled, now); err != nil {
					return err
				}
				return tx.Payments().Update(ctx, lockedPayment)
			}
			return nil
		}

		refund := &domain.Transaction{
			ID:                id.New("txn"),
			TransactionID:     id.Reference("RFD"),
			Type:              domain.TxTypeRefund,
			Amount:            payment.Amount,
			Currency:          payment.Currency,
			Status:            domain.TxStatusCompleted,
			SenderID:          txn.ReceiverID,
			ReceiverID:        txn.SenderID,
			ReceiverName:      txn.SenderName,
			OrderID:           txn.OrderID,
			ProductID:         txn.ProductID,
			Provider:          payment.Provider,
			EscrowStatus:      domain.EscrowRefunded,
			ExternalReference: optional(refundRef),
			Description:       optional("Refund of " + txn.TransactionID),
			CreatedAt:         now,
			UpdatedAt:         now,
			CompletedAt:       &now,
		}
		refund.ComputeTotal()
		return tx.Transactions().Create(ctx, refund)
	})
	if err != nil {
		return nil, err
	}

	uc.logger.Info("dispute resolved",
		zap.String("transaction_id", transactionID),
		zap.String("resolution", string(resolution)))

	publish(ctx, uc.publisher, uc.logger, transactionEvent(events.TransactionResolved, txn, string(resolution)))
	return txn, nil
}

// Cancel abandons a transaction whose payment never completed.
func (uc *TransactionUsecase) Cancel(ctx context.Context, transactionID, reason string) (*domain.Transaction, error) {
	var txn *domain.Transaction
	err := uc.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		txn, err = uc.lock(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		if txn.Status != domain.TxStatusPending && txn.Status != domain.TxStatusProcessing {
			return &domain.TransitionError{Entity: "transaction", From: string(txn.Status), To: string(domain.TxStatusCancelled), Err: domain.ErrInvalidTransition}
		}

		now := uc.now()
		payment, err := tx.Payments().GetByTransactionID(ctx, txn.ID)
		if err != nil && !isNotFound(err) {
			return err
		}
		if payment != nil {
			payment, err = tx.Payments().LockByProviderRef(ctx, payment.Provider, payment.ProviderTransactionID)
			if err != nil {
				return err
			}
			if payment.Status == domain.PaymentStatusCompleted {
				return fmt.Errorf("%w: payment already completed", domain.ErrInvalidTransition)
			}
			if !payment.Status.IsTerminal() {
				if err := payment.Resolve(domain.PaymentStatusCancelled, now); err != nil {
					return err
				}
				if err := tx.Payments().Update(ctx, payment); err != nil {
					return err
				}
			}
		}

		if err := txn.TransitionTo(domain.TxStatusCancelled, now); err != nil {
			return err
		}
		appendDescription(txn, "cancelled: "+reason)
		return tx.Transactions().Update(ctx, txn)
	})
	if err != nil {
		return nil, err
	}

	uc.logger.Info("transaction cancelled",
		zap.String("transaction_id", transactionID),
		zap.String("reason", reason))

	publish(ctx, uc.publisher, uc.logger, transactionEvent(events.TransactionCancelled, txn, reason))
	return txn, nil
}

func (uc *TransactionUsecase) lock(ctx context.Context, tx repository.Store, transactionID string) (*domain.Transaction, error) {
	found, err := tx.Transactions().GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	return tx.Transactions().LockByID(ctx, found.ID)
}

func appendDescription(txn *domain.Transaction, line string) {
	if txn.Description == nil || *txn.Description == "" {
		txn.Description = &line
		return
	}
	joined := *txn.Description + "; " + line
	txn.Description = &joined
}

func transactionEvent(t events.Type, txn *domain.Transaction, note string) events.Event {
	return events.New(t, txn.TransactionID, map[string]interface{}{
		"transaction_id": txn.TransactionID,
		"status":         txn.Status,
		"escrow_status":  txn.EscrowStatus,
		"sender_id":      txn.SenderID,
		"receiver_id":    txn.ReceiverID,
		"order_id":       deref(txn.OrderID),
		"note":           note,
	})
}
