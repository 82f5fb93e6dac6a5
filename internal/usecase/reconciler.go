package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ersha-payment-service/internal/domain"
	"ersha-payment-service/internal/events"
	"ersha-payment-service/internal/metrics"
	"ersha-payment-service/internal/provider"
	"ersha-payment-service/internal/repository"

	"go.uber.org/zap"
)

type ReconcileOutcome string

const (
	OutcomeApplied   ReconcileOutcome = "applied"
	OutcomeDuplicate ReconcileOutcome = "duplicate"
	OutcomePending   ReconcileOutcome = "pending"
)

type ReconcileResult struct {
	Outcome   ReconcileOutcome   `json:"outcome"`
	Kind      provider.EventKind `json:"kind"`
	Reference string             `json:"reference"`
	Status    string             `json:"status"`
}

// Reconciler applies provider signals, from callbacks or verify polls, to
// payments and payouts exactly once.
type Reconciler struct {
	store     repository.Store
	registry  *provider.Registry
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewReconciler(store repository.Store, registry *provider.Registry, publisher events.Publisher, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:     store,
		registry:  registry,
		publisher: publisher,
		logger:    logger,
		now:       utcNow,
	}
}

// HandleWebhook authenticates, decodes and applies one provider callback.
func (r *Reconciler) HandleWebhook(ctx context.Context, providerName string, req *http.Request, body []byte) (*ReconcileResult, error) {
	verifier, err := r.registry.Webhooks(providerName)
	if err != nil {
		metrics.WebhooksReceived.WithLabelValues(providerName, "unsupported").Inc()
		return nil, err
	}

	if err := verifier.VerifyWebhook(req, body); err != nil {
		metrics.WebhooksReceived.WithLabelValues(providerName, "rejected").Inc()
		r.logger.Warn("webhook signature rejected",
			zap.String("provider", providerName),
			zap.Error(err))
		return nil, err
	}

	evt, err := verifier.ParseWebhook(req, body)
	if err != nil {
		metrics.WebhooksReceived.WithLabelValues(providerName, "malformed").Inc()
		r.logger.Warn("malformed webhook payload",
			zap.String("provider", providerName),
			zap.Int("payload_size", len(body)),
			zap.Error(err))
		if !errors.Is(err, domain.ErrMalformedPayload) {
			err = fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
		}
		return nil, err
	}

	res, err := r.Apply(ctx, evt)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		metrics.WebhooksReceived.WithLabelValues(providerName, "unknown_reference").Inc()
	case errors.Is(err, domain.ErrInvalidSignature):
		metrics.WebhooksReceived.WithLabelValues(providerName, "rejected").Inc()
	case err != nil:
		metrics.WebhooksReceived.WithLabelValues(providerName, "error").Inc()
	default:
		metrics.WebhooksReceived.WithLabelValues(providerName, string(res.Outcome)).Inc()
	}
	return res, err
}

// Apply routes a decoded event to the payment or payout it resolves.
func (r *Reconciler) Apply(ctx context.Context, evt *provider.WebhookEvent) (*ReconcileResult, error) {
	if evt.Reference == "" {
		return nil, domain.ErrMalformedPayload
	}
	if evt.Kind == provider.EventPayout {
		return r.applyPayout(ctx, evt)
	}
	return r.applyPayment(ctx, evt)
}

// ============================================
// Payments
// ============================================

func (r *Reconciler) applyPayment(ctx context.Context, evt *provider.WebhookEvent) (*ReconcileResult, error) {
	result := &ReconcileResult{Kind: provider.EventPayment, Reference: evt.Reference}
	var published []events.Event

	err := r.store.WithTx(ctx, func(tx repository.Store) error {
		payment, err := tx.Payments().LockByProviderRef(ctx, evt.Provider, evt.Reference)
		if err != nil {
			return err
		}
		result.Status = string(payment.Status)

		txn, err := tx.Transactions().LockByID(ctx, payment.TransactionID)
		if err != nil {
			return fmt.Errorf("failed to lock transaction for payment %s: %w", payment.ID, err)
		}
		if evt.SignedReference != "" && evt.SignedReference != txn.TransactionID {
			return fmt.Errorf("%w: callback signed for %s resolves to %s",
				domain.ErrInvalidSignature, evt.SignedReference, txn.TransactionID)
		}

		if payment.Status.IsTerminal() {
			result.Outcome = OutcomeDuplicate
			return nil
		}

		now := r.now()
		if len(evt.Raw) > 0 && json.Valid(evt.Raw) {
			payment.CallbackData = evt.Raw
		}
		if evt.ResultCode != "" {
			code := evt.ResultCode
			payment.ResultCode = &code
		}

		if !evt.Status.IsFinal() {
			result.Outcome = OutcomePending
			payment.UpdatedAt = now
			return tx.Payments().Update(ctx, payment)
		}

		status := evt.Status.PaymentStatus()
		if status == domain.PaymentStatusCompleted && evt.Amount.IsPositive() && evt.Amount.LessThan(payment.Amount) {
			r.logger.Warn("provider settled less than charged",
				zap.String("payment_id", payment.ID),
				zap.String("expected", payment.Amount.StringFixed(2)),
				zap.String("received", evt.Amount.StringFixed(2)))
			status = domain.PaymentStatusFailed
			msg := fmt.Sprintf("amount mismatch: received %s, expected %s", evt.Amount.StringFixed(2), payment.Amount.StringFixed(2))
			payment.ErrorMessage = &msg
		}

		if err := payment.Resolve(status, now); err != nil {
			return err
		}
		if evt.ExternalID != "" {
			ext := evt.ExternalID
			payment.ProviderReference = &ext
		}
		if status != domain.PaymentStatusCompleted && payment.ErrorMessage == nil && evt.Description != "" {
			desc := evt.Description
			payment.ErrorMessage = &desc
		}

		// A disputed transaction waits for an explicit resolution.
		if txn.Status != domain.TxStatusDisputed {
			if err := resolveTransaction(ctx, tx, txn, payment, now); err != nil {
				return err
			}
		}

		if err := tx.Payments().Update(ctx, payment); err != nil {
			return err
		}

		result.Outcome = OutcomeApplied
		result.Status = string(payment.Status)
		published = append(published, paymentEvent(txn, payment))
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSignature) {
			r.logger.Warn("callback reference does not match signed reference",
				zap.String("provider", string(evt.Provider)),
				zap.String("reference", evt.Reference),
				zap.String("signed_reference", evt.SignedReference))
		} else if !errors.Is(err, domain.ErrNotFound) {
			r.logger.Error("failed to reconcile payment",
				zap.String("provider", string(evt.Provider)),
				zap.String("reference", evt.Reference),
				zap.Error(err))
		}
		return nil, err
	}

	r.logger.Info("payment reconciled",
		zap.String("provider", string(evt.Provider)),
		zap.String("reference", evt.Reference),
		zap.String("outcome", string(result.Outcome)),
		zap.String("status", result.Status))

	publish(ctx, r.publisher, r.logger, published...)
	return result, nil
}

// resolveTransaction moves the transaction to the state the payment now
// drives and, on completion, releases escrow to the receiver.
func resolveTransaction(ctx context.Context, tx repository.Store, txn *domain.Transaction, payment *domain.Payment, now time.Time) error {
	if err := txn.TransitionTo(payment.Status.TransactionStatus(), now); err != nil {
		return err
	}

	if payment.Status == domain.PaymentStatusCompleted {
		if err := txn.MoveEscrow(domain.EscrowReleased, now); err != nil {
			return err
		}
		if payment.ProviderReference != nil {
			ext := *payment.ProviderReference
			txn.ExternalTransactionID = &ext
		}
		if err := creditReceiver(ctx, tx, txn, now); err != nil {
			return err
		}
	}

	return tx.Transactions().Update(ctx, txn)
}

func paymentEvent(txn *domain.Transaction, payment *domain.Payment) events.Event {
	t := events.PaymentFailed
	if payment.Status == domain.PaymentStatusCompleted {
		t = events.PaymentCompleted
	}
	return events.New(t, txn.TransactionID, map[string]interface{}{
		"transaction_id":     txn.TransactionID,
		"payment_id":         payment.ID,
		"payment_status":     payment.Status,
		"transaction_status": txn.Status,
		"escrow_status":      txn.EscrowStatus,
		"sender_id":          txn.SenderID,
		"receiver_id":        txn.ReceiverID,
		"order_id":           deref(txn.OrderID),
		"amount":             txn.Amount,
		"currency":           txn.Currency,
		"provider":           payment.Provider,
	})
}

// ============================================
// Payouts
// ============================================

func (r *Reconciler) applyPayout(ctx context.Context, evt *provider.WebhookEvent) (*ReconcileResult, error) {
	result := &ReconcileResult{Kind: provider.EventPayout, Reference: evt.Reference}
	var published []events.Event

	err := r.store.WithTx(ctx, func(tx repository.Store) error {
		found, err := tx.Payouts().GetByReference(ctx, evt.Reference)
		if err != nil {
			return err
		}
		payout, err := tx.Payouts().LockByID(ctx, found.ID)
		if err != nil {
			return err
		}
		result.Status = string(payout.Status)

		if payout.Status.IsTerminal() {
			result.Outcome = OutcomeDuplicate
			return nil
		}
		if payout.Status != domain.PayoutStatusProcessing || !evt.Status.IsFinal() {
			result.Outcome = OutcomePending
			return nil
		}

		outcome := settlement{
			success:     evt.Status == provider.StateCompleted,
			externalRef: evt.ExternalID,
			note:        evt.Description,
		}
		if outcome.externalRef == "" {
			outcome.externalRef = deref(payout.ExternalReference)
		}

		withdrawal, err := settlePayout(ctx, tx, payout, outcome, r.now())
		if err != nil {
			return err
		}

		result.Outcome = OutcomeApplied
		result.Status = string(payout.Status)
		published = append(published, payoutEvent(payout, withdrawal))
		return nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			r.logger.Error("failed to reconcile payout",
				zap.String("provider", string(evt.Provider)),
				zap.String("reference", evt.Reference),
				zap.Error(err))
		}
		return nil, err
	}

	if result.Outcome == OutcomeApplied {
		metrics.PayoutsProcessed.WithLabelValues(string(evt.Provider), result.Status).Inc()
	}

	r.logger.Info("payout reconciled",
		zap.String("provider", string(evt.Provider)),
		zap.String("reference", evt.Reference),
		zap.String("outcome", string(result.Outcome)),
		zap.String("status", result.Status))

	publish(ctx, r.publisher, r.logger, published...)
	return result, nil
}
