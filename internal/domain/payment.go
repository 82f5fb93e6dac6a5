// internal/domain/payment.go
package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Provider string
type PaymentStatus string

const (
	ProviderChapa    Provider = "chapa"
	ProviderMpesa    Provider = "mpesa"
	ProviderMidtrans Provider = "midtrans"
)

// Providers is the closed set of rails the service can talk to.
var Providers = []Provider{ProviderChapa, ProviderMpesa, ProviderMidtrans}

// ParseProvider normalises a provider name. ok is false for unknown names.
func ParseProvider(name string) (Provider, bool) {
	p := Provider(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Providers {
		if p == known {
			return p, true
		}
	}
	return p, false
}

const (
	PaymentStatusInitiated  PaymentStatus = "initiated"
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
	PaymentStatusExpired    PaymentStatus = "expired"
)

// IsTerminal reports whether no provider signal may change the payment.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusExpired:
		return true
	}
	return false
}

// TransactionStatus is the transaction state a payment status drives.
func (s PaymentStatus) TransactionStatus() TransactionStatus {
	switch s {
	case PaymentStatusCompleted:
		return TxStatusCompleted
	case PaymentStatusFailed, PaymentStatusExpired:
		return TxStatusFailed
	case PaymentStatusCancelled:
		return TxStatusCancelled
	case PaymentStatusProcessing:
		return TxStatusProcessing
	}
	return TxStatusPending
}

// Payment is the provider-facing leg of a Transaction.
type Payment struct {
	ID                    string          `json:"id" db:"id"`
	TransactionID         string          `json:"transaction_id" db:"transaction_id"`
	Amount                decimal.Decimal `json:"amount" db:"amount"`
	Currency              string          `json:"currency" db:"currency"`
	Status                PaymentStatus   `json:"status" db:"status"`
	Provider              Provider        `json:"provider" db:"provider"`
	ProviderTransactionID string          `json:"provider_transaction_id" db:"provider_transaction_id"`
	ProviderReference     *string         `json:"provider_reference,omitempty" db:"provider_reference"`
	CheckoutURL           *string         `json:"checkout_url,omitempty" db:"checkout_url"`
	PaymentMethodID       *string         `json:"payment_method_id,omitempty" db:"payment_method_id"`

	VerificationCode      *string    `json:"-" db:"verification_code"`
	VerificationExpiresAt *time.Time `json:"-" db:"verification_expires_at"`
	IsVerified            bool       `json:"is_verified" db:"is_verified"`

	ResultCode   *string         `json:"result_code,omitempty" db:"result_code"`
	ErrorMessage *string         `json:"error_message,omitempty" db:"error_message"`
	CallbackData json.RawMessage `json:"callback_data,omitempty" db:"callback_data"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Resolve applies a terminal provider outcome to the payment.
func (p *Payment) Resolve(status PaymentStatus, at time.Time) error {
	if p.Status == status {
		return nil
	}
	if p.Status.IsTerminal() {
		return &TransitionError{Entity: "payment", From: string(p.Status), To: string(status), Err: ErrInvalidTransition}
	}
	p.Status = status
	p.UpdatedAt = at
	if status == PaymentStatusCompleted {
		p.IsVerified = true
		if p.CompletedAt == nil {
			completed := at
			p.CompletedAt = &completed
		}
	}
	return nil
}

// InitiatePaymentRequest is what the marketplace sends to start a payment.
type InitiatePaymentRequest struct {
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	AccountIdentifier string          `json:"account_identifier"`
	Provider          string          `json:"provider"`
	Description       string          `json:"description"`
	Reference         string          `json:"reference"`
	Type              TransactionType `json:"type"`

	UserID       string `json:"user_id"`
	SenderName   string `json:"sender_name"`
	ReceiverID   string `json:"receiver_id"`
	ReceiverName string `json:"receiver_name"`
	Email        string `json:"email"`

	OrderID         string `json:"order_id"`
	ProductID       string `json:"product_id"`
	PaymentMethodID string `json:"payment_method_id"`
}

func (r *InitiatePaymentRequest) Validate() error {
	if r.UserID == "" {
		return requestError("user_id is required")
	}
	if !r.Amount.IsPositive() {
		return requestError("amount must be greater than 0")
	}
	if strings.TrimSpace(r.AccountIdentifier) == "" {
		return requestError("account_identifier is required")
	}
	if r.Type != "" {
		switch r.Type {
		case TxTypeSale, TxTypePurchase, TxTypeTransfer, TxTypeDeposit:
		default:
			return requestError("type %s cannot be initiated as a payment", r.Type)
		}
	}
	return nil
}

// VerifyPaymentRequest asks the provider for the current state of a payment.
type VerifyPaymentRequest struct {
	Provider      string `json:"provider"`
	TransactionID string `json:"transaction_id"`
}

func (r *VerifyPaymentRequest) Validate() error {
	if r.TransactionID == "" {
		return requestError("transaction_id is required")
	}
	return nil
}

// PaymentResult is returned to callers of initiate.
type PaymentResult struct {
	Success           bool     `json:"success"`
	TransactionID     string   `json:"transaction_id,omitempty"`
	PaymentID         string   `json:"payment_id,omitempty"`
	Provider          Provider `json:"provider,omitempty"`
	ProviderReference string   `json:"provider_reference,omitempty"`
	CheckoutURL       string   `json:"checkout_url,omitempty"`
	Message           string   `json:"message,omitempty"`
	Error             string   `json:"error,omitempty"`
}

// PaymentVerification is the normalised state returned by a verify poll.
type PaymentVerification struct {
	Success           bool              `json:"success"`
	TransactionID     string            `json:"transaction_id"`
	Provider          Provider          `json:"provider"`
	ProviderStatus    string            `json:"provider_status,omitempty"`
	PaymentStatus     PaymentStatus     `json:"payment_status"`
	TransactionStatus TransactionStatus `json:"transaction_status"`
	EscrowStatus      EscrowStatus      `json:"escrow_status"`
	Amount            decimal.Decimal   `json:"amount"`
	Currency          string            `json:"currency"`
	Error             string            `json:"error,omitempty"`
}
