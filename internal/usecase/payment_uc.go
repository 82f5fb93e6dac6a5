package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ersha-payment-service/internal/domain"
	"ersha-payment-service/internal/events"
	"ersha-payment-service/internal/metrics"
	"ersha-payment-service/internal/provider"
	"ersha-payment-service/internal/repository"
	"ersha-payment-service/pkg/utils/id"

	"go.uber.org/zap"
)

type PaymentConfig struct {
	Fees            domain.FeeSchedule
	DefaultCurrency string
	VerificationTTL time.Duration
}

type PaymentUsecase struct {
	store           repository.Store
	processor       *PaymentProcessor
	reconciler      *Reconciler
	fees            domain.FeeSchedule
	defaultCurrency string
	verificationTTL time.Duration
	publisher       events.Publisher
	logger          *zap.Logger
	now             func() time.Time
}

func NewPaymentUsecase(
	store repository.Store,
	processor *PaymentProcessor,
	reconciler *Reconciler,
	cfg PaymentConfig,
	publisher events.Publisher,
	logger *zap.Logger,
) *PaymentUsecase {
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "ETB"
	}
	return &PaymentUsecase{
		store:           store,
		processor:       processor,
		reconciler:      reconciler,
		fees:            cfg.Fees,
		defaultCurrency: cfg.DefaultCurrency,
		verificationTTL: cfg.VerificationTTL,
		publisher:       publisher,
		logger:          logger,
		now:             utcNow,
	}
}

// InitiatePayment charges the buyer through the selected provider and, only
// once the provider has answered with a reference, persists the pending
// Transaction and Payment together.
func (uc *PaymentUsecase) InitiatePayment(ctx context.Context, req *domain.InitiatePaymentRequest) (*domain.PaymentResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	adapter, err := uc.processor.Resolve(req.Provider)
	if err != nil {
		uc.logger.Warn("payment requested for unsupported provider",
			zap.String("provider", req.Provider),
			zap.String("user_id", req.UserID))
		return &domain.PaymentResult{Success: false, Error: err.Error()}, err
	}
	providerName := adapter.Name()

	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		reference = id.Reference("TXN")
	}
	if _, err := uc.store.Transactions().GetByTransactionID(ctx, reference); err == nil {
		return nil, fmt.Errorf("%w: transaction %s already exists", domain.ErrDuplicate, reference)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = uc.defaultCurrency
	}
	txType := req.Type
	if txType == "" {
		txType = domain.TxTypeSale
	}

	amount := req.Amount.Round(2)
	processingFee, platformFee := uc.fees.PaymentFees(providerName, amount)

	now := uc.now()
	txn := &domain.Transaction{
		ID:              id.New("txn"),
		TransactionID:   reference,
		Type:            txType,
		Amount:          amount,
		Currency:        currency,
		Status:          domain.TxStatusPending,
		SenderID:        req.UserID,
		SenderName:      req.SenderName,
		ReceiverID:      req.ReceiverID,
		ReceiverName:    req.ReceiverName,
		OrderID:         optional(req.OrderID),
		ProductID:       optional(req.ProductID),
		PaymentMethodID: optional(req.PaymentMethodID),
		Provider:        providerName,
		EscrowStatus:    domain.EscrowHolding,
		ProcessingFee:   processingFee,
		PlatformFee:     platformFee,
		Description:     optional(req.Description),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	txn.ComputeTotal()

	firstName, lastName := splitName(req.SenderName)
	res := uc.processor.Initiate(ctx, string(providerName), &provider.InitiateRequest{
		Amount:      txn.TotalAmount,
		Currency:    currency,
		Account:     req.AccountIdentifier,
		Reference:   reference,
		Description: req.Description,
		Email:       req.Email,
		FirstName:   firstName,
		LastName:    lastName,
	})
	if !res.Success {
		metrics.PaymentsInitiated.WithLabelValues(string(providerName), "failed").Inc()
		return &domain.PaymentResult{
			Success:  false,
			Provider: providerName,
			Error:    res.Error,
		}, providerError(providerName, res.Outcome)
	}

	payment := &domain.Payment{
		ID:                    id.New("pay"),
		TransactionID:         txn.ID,
		Amount:                txn.TotalAmount,
		Currency:              currency,
		Status:                domain.PaymentStatusPending,
		Provider:              providerName,
		ProviderTransactionID: res.ProviderReference,
		CheckoutURL:           optional(res.CheckoutURL),
		PaymentMethodID:       optional(req.PaymentMethodID),
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if payment.ProviderTransactionID == "" {
		payment.ProviderTransactionID = reference
	}
	if uc.verificationTTL > 0 {
		code := id.Token()
		expires := now.Add(uc.verificationTTL)
		payment.VerificationCode = &code
		payment.VerificationExpiresAt = &expires
	}

	err = uc.store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.Transactions().Create(ctx, txn); err != nil {
			return err
		}
		return tx.Payments().Create(ctx, payment)
	})
	if err != nil {
		// The provider holds a live request with no local record.
		uc.logger.Error("failed to persist initiated payment",
			zap.String("transaction_id", reference),
			zap.String("provider", string(providerName)),
			zap.String("provider_reference", res.ProviderReference),
			zap.Error(err))
		metrics.PaymentsInitiated.WithLabelValues(string(providerName), "persist_failed").Inc()
		return nil, fmt.Errorf("failed to persist payment: %w", err)
	}

	metrics.PaymentsInitiated.WithLabelValues(string(providerName), "success").Inc()
	uc.logger.Info("payment initiated",
		zap.String("transaction_id", txn.TransactionID),
		zap.String("payment_id", payment.ID),
		zap.String("provider", string(providerName)),
		zap.String("provider_reference", payment.ProviderTransactionID),
		zap.String("total_amount", txn.TotalAmount.StringFixed(2)))

	publish(ctx, uc.publisher, uc.logger, events.New(events.PaymentInitiated, txn.TransactionID, map[string]interface{}{
		"transaction_id": txn.TransactionID,
		"payment_id":     payment.ID,
		"sender_id":      txn.SenderID,
		"receiver_id":    txn.ReceiverID,
		"order_id":       deref(txn.OrderID),
		"total_amount":   txn.TotalAmount,
		"currency":       txn.Currency,
		"provider":       providerName,
	}))

	message := res.Message
	if message == "" {
		message = "payment initiated"
	}
	return &domain.PaymentResult{
		Success:           true,
		TransactionID:     txn.TransactionID,
		PaymentID:         payment.ID,
		Provider:          providerName,
		ProviderReference: payment.ProviderTransactionID,
		CheckoutURL:       res.CheckoutURL,
		Message:           message,
	}, nil
}

// VerifyPayment polls the provider and applies a final answer through the
// same path as callbacks. A payment already resolved is not polled again.
func (uc *PaymentUsecase) VerifyPayment(ctx context.Context, req *domain.VerifyPaymentRequest) (*domain.PaymentVerification, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var requested domain.Provider
	if strings.TrimSpace(req.Provider) != "" {
		adapter, err := uc.processor.Resolve(req.Provider)
		if err != nil {
			return &domain.PaymentVerification{Success: false, TransactionID: req.TransactionID, Error: err.Error()}, err
		}
		requested = adapter.Name()
	}

	txn, err := uc.store.Transactions().GetByTransactionID(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}
	payment, err := uc.store.Payments().GetByTransactionID(ctx, txn.ID)
	if err != nil {
		return nil, err
	}
	if requested != "" && requested != payment.Provider {
		return nil, fmt.Errorf("%w: transaction was paid through %s", domain.ErrInvalidRequest, payment.Provider)
	}

	view := func(txn *domain.Transaction, payment *domain.Payment) *domain.PaymentVerification {
		return &domain.PaymentVerification{
			Success:           true,
			TransactionID:     txn.TransactionID,
			Provider:          payment.Provider,
			PaymentStatus:     payment.Status,
			TransactionStatus: txn.Status,
			EscrowStatus:      txn.EscrowStatus,
			Amount:            payment.Amount,
			Currency:          payment.Currency,
		}
	}

	if payment.Status.IsTerminal() {
		return view(txn, payment), nil
	}

	res := uc.processor.Verify(ctx, string(payment.Provider), payment.ProviderTransactionID)
	if !res.Success {
		out := view(txn, payment)
		out.Success = false
		out.Error = res.Error
		return out, providerError(payment.Provider, res.Outcome)
	}

	if res.Status.IsFinal() {
		_, err := uc.reconciler.Apply(ctx, &provider.WebhookEvent{
			Provider:   payment.Provider,
			Kind:       provider.EventPayment,
			Reference:  payment.ProviderTransactionID,
			ExternalID: res.ExternalID,
			Status:     res.Status,
			Amount:     res.Amount,
		})
		if err != nil {
			return nil, err
		}

		if txn, err = uc.store.Transactions().GetByID(ctx, txn.ID); err != nil {
			return nil, err
		}
		if payment, err = uc.store.Payments().GetByID(ctx, payment.ID); err != nil {
			return nil, err
		}
	}

	out := view(txn, payment)
	out.ProviderStatus = string(res.Status)
	return out, nil
}

func splitName(full string) (string, string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
