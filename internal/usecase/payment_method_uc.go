package usecase

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"ersha-payment-service/internal/domain"
	"ersha-payment-service/internal/provider"
	"ersha-payment-service/internal/repository"
	"ersha-payment-service/pkg/utils/id"

	"go.uber.org/zap"
)

// RegisteredPaymentMethod carries the verification token back to the caller
// that delivers it to the user.
type RegisteredPaymentMethod struct {
	Method            *domain.PaymentMethod `json:"payment_method"`
	VerificationToken string                `json:"verification_token"`
}

type PaymentMethodUsecase struct {
	store           repository.Store
	defaultProvider domain.Provider
	tokenTTL        time.Duration
	logger          *zap.Logger
	now             func() time.Time
}

func NewPaymentMethodUsecase(store repository.Store, defaultProvider domain.Provider, tokenTTL time.Duration, logger *zap.Logger) *PaymentMethodUsecase {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &PaymentMethodUsecase{
		store:           store,
		defaultProvider: defaultProvider,
		tokenTTL:        tokenTTL,
		logger:          logger,
		now:             utcNow,
	}
}

var mobileRules = map[domain.Provider]provider.PhoneRule{
	domain.ProviderChapa: provider.EthiopianPhone,
	domain.ProviderMpesa: provider.KenyanPhone,
}

func (uc *PaymentMethodUsecase) Register(ctx context.Context, req *domain.RegisterPaymentMethodRequest) (*RegisteredPaymentMethod, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	name := req.Provider
	if strings.TrimSpace(name) == "" {
		name = string(uc.defaultProvider)
	}
	prov, ok := domain.ParseProvider(name)
	if !ok {
		return nil, &domain.UnsupportedProviderError{Name: name}
	}

	identifier := strings.TrimSpace(req.AccountIdentifier)
	if req.Kind == domain.MethodMobileMoney {
		if rule, ok := mobileRules[prov]; ok {
			normalized, valid := rule.Normalize(identifier)
			if !valid {
				return nil, fmt.Errorf("%w: %s is not a valid %s mobile number", domain.ErrInvalidRequest, identifier, prov)
			}
			identifier = normalized
		}
	}

	now := uc.now()
	token := id.Token()
	expires := now.Add(uc.tokenTTL)
	method := &domain.PaymentMethod{
		ID:                    id.New("pm"),
		UserID:                req.UserID,
		Kind:                  req.Kind,
		Provider:              prov,
		AccountIdentifier:     identifier,
		MaskedIdentifier:      domain.MaskIdentifier(identifier),
		AccountName:           optional(req.AccountName),
		BankName:              optional(req.BankName),
		IsActive:              true,
		VerificationToken:     &token,
		VerificationExpiresAt: &expires,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	err := uc.store.WithTx(ctx, func(tx repository.Store) error {
		existing, err := tx.PaymentMethods().ListByUser(ctx, req.UserID, true)
		if err != nil {
			return err
		}
		// The first active method becomes the default.
		method.IsDefault = req.MakeDefault || len(existing) == 0
		if method.IsDefault {
			if err := tx.PaymentMethods().ClearDefault(ctx, req.UserID, method.ID); err != nil {
				return err
			}
		}
		return tx.PaymentMethods().Create(ctx, method)
	})
	if err != nil {
		uc.logger.Error("failed to register payment method",
			zap.String("user_id", req.UserID),
			zap.String("kind", string(req.Kind)),
			zap.Error(err))
		return nil, err
	}

	uc.logger.Info("payment method registered",
		zap.String("payment_method_id", method.ID),
		zap.String("user_id", method.UserID),
		zap.String("kind", string(method.Kind)),
		zap.String("provider", string(method.Provider)))

	return &RegisteredPaymentMethod{Method: method, VerificationToken: token}, nil
}

func (uc *PaymentMethodUsecase) Verify(ctx context.Context, methodID, userID, token string) (*domain.PaymentMethod, error) {
	var method *domain.PaymentMethod
	err := uc.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		method, err = uc.owned(ctx, tx, methodID, userID)
		if err != nil {
			return err
		}
		if method.IsVerified {
			return nil
		}
		if method.VerificationToken == nil ||
			subtle.ConstantTimeCompare([]byte(*method.VerificationToken), []byte(token)) != 1 {
			return domain.ErrInvalidVerificationToken
		}
		now := uc.now()
		if method.VerificationExpiresAt != nil && now.After(*method.VerificationExpiresAt) {
			return domain.ErrVerificationExpired
		}

		method.IsVerified = true
		method.VerificationToken = nil
		method.VerificationExpiresAt = nil
		method.UpdatedAt = now
		return tx.PaymentMethods().Update(ctx, method)
	})
	if err != nil {
		return nil, err
	}

	uc.logger.Info("payment method verified",
		zap.String("payment_method_id", methodID),
		zap.String("user_id", userID))
	return method, nil
}

// SetDefault makes methodID the user's only default.
func (uc *PaymentMethodUsecase) SetDefault(ctx context.Context, methodID, userID string) (*domain.PaymentMethod, error) {
	var method *domain.PaymentMethod
	err := uc.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		method, err = uc.owned(ctx, tx, methodID, userID)
		if err != nil {
			return err
		}
		if !method.IsActive {
			return domain.ErrPaymentMethodInactive
		}
		if err := tx.PaymentMethods().ClearDefault(ctx, userID, methodID); err != nil {
			return err
		}
		method.IsDefault = true
		method.UpdatedAt = uc.now()
		return tx.PaymentMethods().Update(ctx, method)
	})
	if err != nil {
		return nil, err
	}
	return method, nil
}

// Deactivate retires a method. Rows are kept for the transactions that
// reference them.
func (uc *PaymentMethodUsecase) Deactivate(ctx context.Context, methodID, userID string) error {
	return uc.store.WithTx(ctx, func(tx repository.Store) error {
		method, err := uc.owned(ctx, tx, methodID, userID)
		if err != nil {
			return err
		}
		method.IsActive = false
		method.IsDefault = false
		method.UpdatedAt = uc.now()
		return tx.PaymentMethods().Update(ctx, method)
	})
}

func (uc *PaymentMethodUsecase) List(ctx context.Context, userID string, activeOnly bool) ([]*domain.PaymentMethod, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", domain.ErrInvalidRequest)
	}
	return uc.store.PaymentMethods().ListByUser(ctx, userID, activeOnly)
}

func (uc *PaymentMethodUsecase) owned(ctx context.Context, tx repository.Store, methodID, userID string) (*domain.PaymentMethod, error) {
	method, err := tx.PaymentMethods().GetByID(ctx, methodID)
	if err != nil {
		return nil, err
	}
	if userID != "" && method.UserID != userID {
		return nil, domain.ErrPaymentMethodNotOwned
	}
	return method, nil
}
