// internal/repository/repository.go
package repository

import (
	"context"

	"ersha-payment-service/internal/domain"
)

type TransactionRepository interface {
	Create(ctx context.Context, tx *domain.Transaction) error
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*domain.Transaction, error)
	// LockByID reads the row for update. Only meaningful inside WithTx.
	LockByID(ctx context.Context, id string) (*domain.Transaction, error)
	Update(ctx context.Context, tx *domain.Transaction) error
	List(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, payment *domain.Payment) error
	GetByID(ctx context.Context, id string) (*domain.Payment, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error)
	GetByProviderRef(ctx context.Context, provider domain.Provider, providerTxID string) (*domain.Payment, error)
	LockByProviderRef(ctx context.Context, provider domain.Provider, providerTxID string) (*domain.Payment, error)
	Update(ctx context.Context, payment *domain.Payment) error
}

type EscrowRepository interface {
	GetByUserID(ctx context.Context, userID string) (*domain.EscrowAccount, error)
	LockByUserID(ctx context.Context, userID string) (*domain.EscrowAccount, error)
	// LockOrCreate returns the user's account locked for update, creating
	// an empty active one in currency when none exists.
	LockOrCreate(ctx context.Context, userID, currency string) (*domain.EscrowAccount, error)
	// Update writes balances guarded by the account version.
	// A stale version yields domain.ErrConflict.
	Update(ctx context.Context, account *domain.EscrowAccount) error
}

type PayoutRepository interface {
	Create(ctx context.Context, payout *domain.PayoutRequest) error
	GetByID(ctx context.Context, id string) (*domain.PayoutRequest, error)
	GetByReference(ctx context.Context, reference string) (*domain.PayoutRequest, error)
	LockByID(ctx context.Context, id string) (*domain.PayoutRequest, error)
	Update(ctx context.Context, payout *domain.PayoutRequest) error
	List(ctx context.Context, filter domain.PayoutFilter) ([]*domain.PayoutRequest, error)
}

type PaymentMethodRepository interface {
	Create(ctx context.Context, method *domain.PaymentMethod) error
	GetByID(ctx context.Context, id string) (*domain.PaymentMethod, error)
	Update(ctx context.Context, method *domain.PaymentMethod) error
	ListByUser(ctx context.Context, userID string, activeOnly bool) ([]*domain.PaymentMethod, error)
	// ClearDefault unsets is_default on every method of the user except keepID.
	ClearDefault(ctx context.Context, userID, keepID string) error
}

// Store groups the repositories so a unit of work can span all of them.
type Store interface {
	Transactions() TransactionRepository
	Payments() PaymentRepository
	Escrow() EscrowRepository
	Payouts() PayoutRepository
	PaymentMethods() PaymentMethodRepository

	// WithTx runs fn against a store bound to one database transaction.
	// Every write made through tx commits together or not at all.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	Ping(ctx context.Context) error
}
