// internal/domain/transaction.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string
type TransactionStatus string
type EscrowStatus string

const (
	TxTypeSale       TransactionType = "sale"
	TxTypePurchase   TransactionType = "purchase"
	TxTypeTransfer   TransactionType = "transfer"
	TxTypeWithdrawal TransactionType = "withdrawal"
	TxTypeDeposit    TransactionType = "deposit"
	TxTypeRefund     TransactionType = "refund"
	TxTypeFee        TransactionType = "fee"
)

const (
	TxStatusPending    TransactionStatus = "pending"
	TxStatusProcessing TransactionStatus = "processing"
	TxStatusCompleted  TransactionStatus = "completed"
	TxStatusFailed     TransactionStatus = "failed"
	TxStatusCancelled  TransactionStatus = "cancelled"
	TxStatusDisputed   TransactionStatus = "disputed"
)

const (
	EscrowHolding  EscrowStatus = "holding"
	EscrowReleased EscrowStatus = "released"
	EscrowDisputed EscrowStatus = "disputed"
	EscrowRefunded EscrowStatus = "refunded"
)

var transactionTransitions = map[TransactionStatus][]TransactionStatus{
	TxStatusPending:    {TxStatusProcessing, TxStatusCompleted, TxStatusFailed, TxStatusCancelled, TxStatusDisputed},
	TxStatusProcessing: {TxStatusCompleted, TxStatusFailed, TxStatusCancelled, TxStatusDisputed},
	TxStatusDisputed:   {TxStatusCompleted, TxStatusFailed},
}

var escrowTransitions = map[EscrowStatus][]EscrowStatus{
	EscrowHolding:  {EscrowReleased, EscrowDisputed},
	EscrowDisputed: {EscrowRefunded, EscrowReleased},
}

func (s TransactionStatus) IsValid() bool {
	switch s {
	case TxStatusPending, TxStatusProcessing, TxStatusCompleted,
		TxStatusFailed, TxStatusCancelled, TxStatusDisputed:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	for _, allowed := range transactionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsFinal is true for the sink states.
func (s TransactionStatus) IsFinal() bool {
	return s == TxStatusCompleted || s == TxStatusCancelled
}

func (e EscrowStatus) CanTransitionTo(next EscrowStatus) bool {
	for _, allowed := range escrowTransitions[e] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transaction is the audit record of a money movement.
type Transaction struct {
	ID            string            `json:"id" db:"id"`
	TransactionID string            `json:"transaction_id" db:"transaction_id"`
	Type          TransactionType   `json:"type" db:"type"`
	Amount        decimal.Decimal   `json:"amount" db:"amount"`
	Currency      string            `json:"currency" db:"currency"`
	Status        TransactionStatus `json:"status" db:"status"`

	SenderID     string `json:"sender_id" db:"sender_id"`
	SenderName   string `json:"sender_name,omitempty" db:"sender_name"`
	ReceiverID   string `json:"receiver_id,omitempty" db:"receiver_id"`
	ReceiverName string `json:"receiver_name,omitempty" db:"receiver_name"`

	OrderID         *string `json:"order_id,omitempty" db:"order_id"`
	ProductID       *string `json:"product_id,omitempty" db:"product_id"`
	PaymentMethodID *string `json:"payment_method_id,omitempty" db:"payment_method_id"`
	PayoutRequestID *string `json:"payout_request_id,omitempty" db:"payout_request_id"`

	Provider              Provider     `json:"provider" db:"provider"`
	EscrowStatus          EscrowStatus `json:"escrow_status" db:"escrow_status"`
	ExternalTransactionID *string      `json:"external_transaction_id,omitempty" db:"external_transaction_id"`
	ExternalReference     *string      `json:"external_reference,omitempty" db:"external_reference"`

	ProcessingFee decimal.Decimal `json:"processing_fee" db:"processing_fee"`
	PlatformFee   decimal.Decimal `json:"platform_fee" db:"platform_fee"`
	TotalAmount   decimal.Decimal `json:"total_amount" db:"total_amount"`

	Description *string `json:"description,omitempty" db:"description"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// ComputeTotal sets TotalAmount from the amount and both fees.
func (t *Transaction) ComputeTotal() {
	t.TotalAmount = t.Amount.Add(t.ProcessingFee).Add(t.PlatformFee)
}

// TransitionTo moves the transaction to next, stamping CompletedAt the
// first time the transaction completes.
func (t *Transaction) TransitionTo(next TransactionStatus, at time.Time) error {
	if t.Status == next {
		return nil
	}
	if !t.Status.CanTransitionTo(next) {
		return &TransitionError{Entity: "transaction", From: string(t.Status), To: string(next), Err: ErrInvalidTransition}
	}
	t.Status = next
	t.UpdatedAt = at
	if next == TxStatusCompleted && t.CompletedAt == nil {
		completed := at
		t.CompletedAt = &completed
	}
	return nil
}

// MoveEscrow applies an escrow sub-status change.
func (t *Transaction) MoveEscrow(next EscrowStatus, at time.Time) error {
	if t.EscrowStatus == next {
		return nil
	}
	if !t.EscrowStatus.CanTransitionTo(next) {
		return &TransitionError{Entity: "escrow", From: string(t.EscrowStatus), To: string(next), Err: ErrInvalidEscrowTransition}
	}
	t.EscrowStatus = next
	t.UpdatedAt = at
	return nil
}

// CreditsReceiver is true for movements that land in the receiver's escrow.
func (t *Transaction) CreditsReceiver() bool {
	if t.ReceiverID == "" {
		return false
	}
	switch t.Type {
	case TxTypeSale, TxTypePurchase, TxTypeTransfer, TxTypeDeposit:
		return true
	}
	return false
}

// TransactionFilter narrows list queries.
type TransactionFilter struct {
	UserID string
	Status TransactionStatus
	Type   TransactionType
	Limit  int
	Offset int
}
