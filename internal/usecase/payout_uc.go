package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ersha-payment-service/internal/domain"
	"ersha-payment-service/internal/events"
	"ersha-payment-service/internal/metrics"
	"ersha-payment-service/internal/provider"
	"ersha-payment-service/internal/repository"
	"ersha-payment-service/pkg/cache"
	"ersha-payment-service/pkg/utils/id"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type PayoutUsecase struct {
	store           repository.Store
	processor       *PaymentProcessor
	locker          cache.Locker
	fees            domain.FeeSchedule
	defaultCurrency string
	lockTTL         time.Duration
	publisher       events.Publisher
	logger          *zap.Logger
	now             func() time.Time
}

type PayoutConfig struct {
	Fees            domain.FeeSchedule
	DefaultCurrency string
	LockTTL         time.Duration
}

// NewPayoutUsecase wires the payout flow. locker may be nil, in which case
// only row locks serialise payouts.
func NewPayoutUsecase(
	store repository.Store,
	processor *PaymentProcessor,
	locker cache.Locker,
	cfg PayoutConfig,
	publisher events.Publisher,
	logger *zap.Logger,
) *PayoutUsecase {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	return &PayoutUsecase{
		store:           store,
		processor:       processor,
		locker:          locker,
		fees:            cfg.Fees,
		defaultCurrency: cfg.DefaultCurrency,
		lockTTL:         cfg.LockTTL,
		publisher:       publisher,
		logger:          logger,
		now:             utcNow,
	}
}

// CreatePayout records a pending withdrawal request. Funds are not touched
// until the request is processed.
func (uc *PayoutUsecase) CreatePayout(ctx context.Context, req *domain.CreatePayoutRequest) (*domain.PayoutRequest, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	method, err := uc.store.PaymentMethods().GetByID(ctx, req.PaymentMethodID)
	if err != nil {
		return nil, fmt.Errorf("payment method %s: %w", req.PaymentMethodID, err)
	}
	if method.UserID != req.UserID {
		return nil, domain.ErrPaymentMethodNotOwned
	}
	if err := method.Usable(); err != nil {
		return nil, err
	}

	fee := uc.fees.PayoutFee(method.Kind)
	if !req.Amount.GreaterThan(fee) {
		return nil, fmt.Errorf("%w: fee is %s", domain.ErrPayoutBelowFee, fee.StringFixed(2))
	}

	currency := req.Currency
	acct, err := uc.store.Escrow().GetByUserID(ctx, req.UserID)
	switch {
	case err == nil:
		if currency == "" {
			currency = acct.Currency
		} else if currency != acct.Currency {
			return nil, fmt.Errorf("%w: escrow is held in %s", domain.ErrInvalidRequest, acct.Currency)
		}
	case errors.Is(err, domain.ErrNotFound):
	default:
		return nil, err
	}
	if currency == "" {
		currency = uc.defaultCurrency
	}

	now := uc.now()
	payout := &domain.PayoutRequest{
		ID:              id.New("po"),
		Reference:       id.Reference("PO"),
		UserID:          req.UserID,
		Amount:          req.Amount.Round(2),
		Currency:        currency,
		Status:          domain.PayoutStatusPending,
		PaymentMethodID: method.ID,
		Provider:        method.Provider,
		ProcessingFee:   fee,
		Reason:          optional(req.Reason),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	payout.ComputeNet()

	if err := uc.store.Payouts().Create(ctx, payout); err != nil {
		uc.logger.Error("failed to create payout request",
			zap.String("user_id", req.UserID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to create payout request: %w", err)
	}

	uc.logger.Info("payout requested",
		zap.String("payout_id", payout.ID),
		zap.String("user_id", payout.UserID),
		zap.String("amount", payout.Amount.StringFixed(2)),
		zap.String("net_amount", payout.NetAmount.StringFixed(2)))

	publish(ctx, uc.publisher, uc.logger, payoutEvent(payout, nil))
	return payout, nil
}

// dispatch is the provider call a validated payout resolves to.
type dispatch struct {
	provider domain.Provider
	route    payoutRoute
	instr    *provider.PayoutInstruction
}

func resolveDispatch(payout *domain.PayoutRequest, method *domain.PaymentMethod) (*dispatch, error) {
	instr := &provider.PayoutInstruction{
		Reference: payout.Reference,
		Amount:    payout.NetAmount,
		Currency:  payout.Currency,
		Remarks:   "Ersha payout " + payout.Reference,
	}
	if method.AccountName != nil {
		instr.AccountName = *method.AccountName
	}

	switch method.Kind {
	case domain.MethodMobileMoney:
		instr.Phone = method.AccountIdentifier
		return &dispatch{provider: method.Provider, route: routeMobile, instr: instr}, nil

	case domain.MethodBank:
		bank, err := domain.LookupBankCode(method.Provider, deref(method.BankName))
		if err != nil {
			return nil, err
		}
		instr.BankCode = bank.Code
		instr.AccountNumber = method.AccountIdentifier
		return &dispatch{provider: method.Provider, route: routeBank, instr: instr}, nil
	}

	return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedMethodKind, method.Kind)
}

// ProcessPayout validates the request against escrow and the payment
// method, reserves the funds and pushes the money out. A request that
// fails validation stays pending and escrow is untouched.
func (uc *PayoutUsecase) ProcessPayout(ctx context.Context, payoutID, approverID string) (*domain.PayoutResult, error) {
	current, err := uc.store.Payouts().GetByID(ctx, payoutID)
	if err != nil {
		return nil, err
	}

	if uc.locker != nil {
		lock, err := uc.locker.AcquireLock(ctx, "payout:"+current.UserID, uc.lockTTL)
		if err != nil {
			if errors.Is(err, cache.ErrLockHeld) {
				return nil, domain.ErrPayoutInProgress
			}
			return nil, fmt.Errorf("failed to acquire payout lock: %w", err)
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				uc.logger.Warn("failed to release payout lock",
					zap.String("user_id", current.UserID),
					zap.Error(err))
			}
		}()
	}

	var plan *dispatch
	err = uc.store.WithTx(ctx, func(tx repository.Store) error {
		payout, err := tx.Payouts().LockByID(ctx, payoutID)
		if err != nil {
			return err
		}
		if payout.Status != domain.PayoutStatusPending {
			return fmt.Errorf("%w: status is %s", domain.ErrPayoutNotPending, payout.Status)
		}

		acct, err := tx.Escrow().LockByUserID(ctx, payout.UserID)
		if errors.Is(err, domain.ErrNotFound) {
			return &domain.InsufficientBalanceError{Available: decimal.Zero, Requested: payout.Amount}
		}
		if err != nil {
			return err
		}
		if err := acct.CanCover(payout.Amount); err != nil {
			return err
		}

		method, err := tx.PaymentMethods().GetByID(ctx, payout.PaymentMethodID)
		if err != nil {
			return fmt.Errorf("payment method %s: %w", payout.PaymentMethodID, err)
		}
		if err := method.Usable(); err != nil {
			return err
		}

		plan, err = resolveDispatch(payout, method)
		if err != nil {
			return err
		}
		if err := uc.processor.CanPayout(string(plan.provider)); err != nil {
			return err
		}

		now := uc.now()
		if err := payout.TransitionTo(domain.PayoutStatusApproved, now); err != nil {
			return err
		}
		payout.ApprovedBy = optional(approverID)
		payout.ApprovedAt = &now
		if err := payout.TransitionTo(domain.PayoutStatusProcessing, now); err != nil {
			return err
		}
		payout.Provider = plan.provider

		if err := reserve(ctx, tx, acct, payout.Amount, now); err != nil {
			return err
		}
		return tx.Payouts().Update(ctx, payout)
	})
	if err != nil {
		uc.logger.Warn("payout validation failed",
			zap.String("payout_id", payoutID),
			zap.String("user_id", current.UserID),
			zap.Error(err))
		return nil, err
	}

	uc.logger.Info("payout dispatched",
		zap.String("payout_id", payoutID),
		zap.String("provider", string(plan.provider)),
		zap.String("route", string(plan.route)),
		zap.String("net_amount", plan.instr.Amount.StringFixed(2)))

	res := uc.processor.Payout(ctx, string(plan.provider), plan.route, plan.instr)

	result := &domain.PayoutResult{PayoutID: payoutID}
	var published []events.Event

	err = uc.store.WithTx(ctx, func(tx repository.Store) error {
		payout, err := tx.Payouts().LockByID(ctx, payoutID)
		if err != nil {
			return err
		}
		// A callback may already have settled it.
		if payout.Status != domain.PayoutStatusProcessing {
			result.Status = payout.Status
			result.Success = payout.Status == domain.PayoutStatusCompleted
			return nil
		}

		now := uc.now()
		if res.Success && res.Pending {
			if res.ExternalReference != "" {
				ext := res.ExternalReference
				payout.ExternalReference = &ext
			}
			payout.Note("awaiting provider confirmation")
			payout.UpdatedAt = now
			result.Success = true
			result.Status = payout.Status
			result.ExternalReference = res.ExternalReference
			result.Message = res.Message
			published = append(published, payoutEvent(payout, nil))
			return tx.Payouts().Update(ctx, payout)
		}

		outcome := settlement{success: res.Success, externalRef: res.ExternalReference, note: res.Error}
		withdrawal, err := settlePayout(ctx, tx, payout, outcome, now)
		if err != nil {
			return err
		}

		result.Success = res.Success
		result.Status = payout.Status
		result.ExternalReference = deref(payout.ExternalReference)
		result.Message = res.Message
		result.Error = res.Error
		if withdrawal != nil {
			result.TransactionID = withdrawal.TransactionID
		}
		published = append(published, payoutEvent(payout, withdrawal))
		return nil
	})
	if err != nil {
		// The provider has the instruction; the row stays processing for
		// the callback or an operator to settle.
		uc.logger.Error("failed to record payout outcome",
			zap.String("payout_id", payoutID),
			zap.Bool("provider_success", res.Success),
			zap.String("external_reference", res.ExternalReference),
			zap.Error(err))
		return nil, fmt.Errorf("failed to record payout outcome: %w", err)
	}

	metrics.PayoutsProcessed.WithLabelValues(string(plan.provider), string(result.Status)).Inc()
	publish(ctx, uc.publisher, uc.logger, published...)

	if !res.Success {
		uc.logger.Warn("payout failed at provider",
			zap.String("payout_id", payoutID),
			zap.String("kind", string(res.Kind)),
			zap.String("error", res.Error))
		return result, providerError(plan.provider, res.Outcome)
	}
	return result, nil
}

// settlement is a final provider answer for a processing payout.
type settlement struct {
	success     bool
	externalRef string
	note        string
}

// settlePayout finalises a processing payout. On success the reserved
// funds are debited and a withdrawal transaction is recorded; on failure
// the reservation is released and the balance is left as it was.
func settlePayout(ctx context.Context, tx repository.Store, payout *domain.PayoutRequest, s settlement, now time.Time) (*domain.Transaction, error) {
	if !s.success {
		if err := releaseReservation(ctx, tx, payout.UserID, payout.Amount, false, now); err != nil {
			return nil, err
		}
		if err := payout.TransitionTo(domain.PayoutStatusFailed, now); err != nil {
			return nil, err
		}
		note := s.note
		if note == "" {
			note = "provider rejected the payout"
		}
		payout.Note("payout failed: " + note)
		return nil, tx.Payouts().Update(ctx, payout)
	}

	if err := releaseReservation(ctx, tx, payout.UserID, payout.Amount, true, now); err != nil {
		return nil, err
	}

	withdrawal := &domain.Transaction{
		ID:                id.New("txn"),
		TransactionID:     id.Reference("WDR"),
		Type:              domain.TxTypeWithdrawal,
		Amount:            payout.NetAmount,
		Currency:          payout.Currency,
		Status:            domain.TxStatusCompleted,
		SenderID:          payout.UserID,
		PaymentMethodID:   optional(payout.PaymentMethodID),
		PayoutRequestID:   optional(payout.ID),
		Provider:          payout.Provider,
		EscrowStatus:      domain.EscrowReleased,
		ExternalReference: optional(s.externalRef),
		ProcessingFee:     payout.ProcessingFee,
		PlatformFee:       decimal.Zero,
		Description:       optional("Payout " + payout.Reference),
		CreatedAt:         now,
		UpdatedAt:         now,
		CompletedAt:       &now,
	}
	withdrawal.ComputeTotal()
	if err := tx.Transactions().Create(ctx, withdrawal); err != nil {
		return nil, fmt.Errorf("failed to record withdrawal: %w", err)
	}

	if err := payout.TransitionTo(domain.PayoutStatusCompleted, now); err != nil {
		return nil, err
	}
	payout.ProcessedAt = &now
	if s.externalRef != "" {
		ext := s.externalRef
		payout.ExternalReference = &ext
	}
	return withdrawal, tx.Payouts().Update(ctx, payout)
}

// RejectPayout closes a pending request without touching escrow.
func (uc *PayoutUsecase) RejectPayout(ctx context.Context, payoutID, approverID, reason string) (*domain.PayoutRequest, error) {
	var payout *domain.PayoutRequest
	err := uc.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		payout, err = tx.Payouts().LockByID(ctx, payoutID)
		if err != nil {
			return err
		}
		if payout.Status != domain.PayoutStatusPending {
			return fmt.Errorf("%w: status is %s", domain.ErrPayoutNotPending, payout.Status)
		}
		now := uc.now()
		if err := payout.TransitionTo(domain.PayoutStatusRejected, now); err != nil {
			return err
		}
		payout.ApprovedBy = optional(approverID)
		payout.ApprovedAt = &now
		if reason == "" {
			reason = "no reason given"
		}
		payout.Note("rejected: " + reason)
		return tx.Payouts().Update(ctx, payout)
	})
	if err != nil {
		return nil, err
	}

	uc.logger.Info("payout rejected",
		zap.String("payout_id", payoutID),
		zap.String("user_id", payout.UserID))

	publish(ctx, uc.publisher, uc.logger, payoutEvent(payout, nil))
	return payout, nil
}

func (uc *PayoutUsecase) GetPayout(ctx context.Context, payoutID string) (*domain.PayoutRequest, error) {
	return uc.store.Payouts().GetByID(ctx, payoutID)
}

func (uc *PayoutUsecase) ListPayouts(ctx context.Context, filter domain.PayoutFilter) ([]*domain.PayoutRequest, error) {
	return uc.store.Payouts().List(ctx, filter)
}

func payoutEvent(payout *domain.PayoutRequest, withdrawal *domain.Transaction) events.Event {
	var t events.Type
	switch payout.Status {
	case domain.PayoutStatusPending:
		t = events.PayoutRequested
	case domain.PayoutStatusCompleted:
		t = events.PayoutCompleted
	case domain.PayoutStatusFailed:
		t = events.PayoutFailed
	case domain.PayoutStatusRejected:
		t = events.PayoutRejected
	default:
		t = events.PayoutProcessing
	}

	data := map[string]interface{}{
		"payout_id":  payout.ID,
		"reference":  payout.Reference,
		"user_id":    payout.UserID,
		"status":     payout.Status,
		"amount":     payout.Amount,
		"net_amount": payout.NetAmount,
		"currency":   payout.Currency,
		"provider":   payout.Provider,
	}
	if withdrawal != nil {
		data["transaction_id"] = withdrawal.TransactionID
	}
	return events.New(t, payout.Reference, data)
}
