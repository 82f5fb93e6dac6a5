// internal/provider/provider.go
package provider

import (
	"context"
	"net/http"

	"ersha-payment-service/internal/domain"

	"github.com/shopspring/decimal"
)

// Adapter is the capability every payment rail implements. Implementations
// report every failure through the result and never return a nil result.
type Adapter interface {
	Name() domain.Provider

	InitiatePayment(ctx context.Context, req *InitiateRequest) *InitiateResult

	VerifyPayment(ctx context.Context, providerRef string) *VerifyResult

	RefundPayment(ctx context.Context, providerRef string, amount decimal.Decimal, reason string) *RefundResult
}

// PayoutAdapter is implemented by rails that can push money out.
type PayoutAdapter interface {
	MobilePayout(ctx context.Context, req *PayoutInstruction) *PayoutResult
	BankPayout(ctx context.Context, req *PayoutInstruction) *PayoutResult
}

// WebhookVerifier authenticates and decodes inbound provider callbacks.
type WebhookVerifier interface {
	VerifyWebhook(r *http.Request, body []byte) error
	ParseWebhook(r *http.Request, body []byte) (*WebhookEvent, error)
}

type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"
	KindProvider       ErrorKind = "provider"
	KindNetwork        ErrorKind = "network"
	KindNotImplemented ErrorKind = "not_implemented"
	KindUnsupported    ErrorKind = "unsupported"
)

// Outcome is embedded in every adapter result.
type Outcome struct {
	Success bool      `json:"success"`
	Error   string    `json:"error,omitempty"`
	Kind    ErrorKind `json:"error_kind,omitempty"`
}

func Failure(kind ErrorKind, msg string) Outcome {
	return Outcome{Success: false, Error: msg, Kind: kind}
}

func OK() Outcome {
	return Outcome{Success: true}
}

type InitiateRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Account     string // phone number or account identifier
	Reference   string
	Description string
	Email       string
	FirstName   string
	LastName    string
}

type InitiateResult struct {
	Outcome
	Provider          domain.Provider        `json:"provider"`
	ProviderReference string                 `json:"provider_reference,omitempty"`
	CheckoutURL       string                 `json:"checkout_url,omitempty"`
	Message           string                 `json:"message,omitempty"`
	Raw               map[string]interface{} `json:"-"`
}

// PaymentState is the provider status normalised across rails.
type PaymentState string

const (
	StatePending   PaymentState = "pending"
	StateCompleted PaymentState = "completed"
	StateFailed    PaymentState = "failed"
	StateCancelled PaymentState = "cancelled"
	StateExpired   PaymentState = "expired"
)

// PaymentStatus maps a normalised state onto the local payment status.
func (s PaymentState) PaymentStatus() domain.PaymentStatus {
	switch s {
	case StateCompleted:
		return domain.PaymentStatusCompleted
	case StateFailed:
		return domain.PaymentStatusFailed
	case StateCancelled:
		return domain.PaymentStatusCancelled
	case StateExpired:
		return domain.PaymentStatusExpired
	}
	return domain.PaymentStatusPending
}

func (s PaymentState) IsFinal() bool {
	return s != StatePending && s != ""
}

type VerifyResult struct {
	Outcome
	Provider          domain.Provider `json:"provider"`
	ProviderReference string          `json:"provider_reference"`
	Status            PaymentState    `json:"status,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency,omitempty"`
	ExternalID        string          `json:"external_id,omitempty"`
}

type RefundResult struct {
	Outcome
	Provider        domain.Provider `json:"provider"`
	RefundReference string          `json:"refund_reference,omitempty"`
}

type PayoutInstruction struct {
	Reference     string
	Amount        decimal.Decimal
	Currency      string
	Phone         string
	AccountNumber string
	AccountName   string
	BankCode      string
	Remarks       string
}

type PayoutResult struct {
	Outcome
	Provider          domain.Provider `json:"provider"`
	ExternalReference string          `json:"external_reference,omitempty"`
	// Pending means the rail accepted the request and will report the
	// final result through a callback.
	Pending bool   `json:"pending"`
	Message string `json:"message,omitempty"`
}

type EventKind string

const (
	EventPayment EventKind = "payment"
	EventPayout  EventKind = "payout"
)

// WebhookEvent is a decoded provider callback.
type WebhookEvent struct {
	Provider domain.Provider
	Kind     EventKind
	// Reference is the key the payment was stored under
	// (provider_transaction_id) or the payout reference.
	Reference string
	// SignedReference, when set, is the transaction reference the callback
	// was authenticated for. It must match the payment Reference resolves to.
	SignedReference string
	ExternalID      string
	Status          PaymentState
	ResultCode      string
	Description     string
	Amount          decimal.Decimal
	Raw             []byte
}
