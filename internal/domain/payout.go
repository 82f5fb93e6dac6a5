// internal/domain/payout.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusApproved   PayoutStatus = "approved"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusCompleted  PayoutStatus = "completed"
	PayoutStatusRejected   PayoutStatus = "rejected"
	PayoutStatusCancelled  PayoutStatus = "cancelled"
	PayoutStatusFailed     PayoutStatus = "failed"
)

var payoutTransitions = map[PayoutStatus][]PayoutStatus{
	PayoutStatusPending:    {PayoutStatusApproved, PayoutStatusRejected, PayoutStatusCancelled},
	PayoutStatusApproved:   {PayoutStatusProcessing, PayoutStatusCancelled},
	PayoutStatusProcessing: {PayoutStatusCompleted, PayoutStatusFailed, PayoutStatusCancelled},
}

func (s PayoutStatus) CanTransitionTo(next PayoutStatus) bool {
	for _, allowed := range payoutTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s PayoutStatus) IsTerminal() bool {
	switch s {
	case PayoutStatusCompleted, PayoutStatusRejected, PayoutStatusCancelled, PayoutStatusFailed:
		return true
	}
	return false
}

// PayoutRequest moves escrowed funds to a payment method.
type PayoutRequest struct {
	ID                string          `json:"id" db:"id"`
	Reference         string          `json:"reference" db:"reference"`
	UserID            string          `json:"user_id" db:"user_id"`
	Amount            decimal.Decimal `json:"amount" db:"amount"`
	Currency          string          `json:"currency" db:"currency"`
	Status            PayoutStatus    `json:"status" db:"status"`
	PaymentMethodID   string          `json:"payment_method_id" db:"payment_method_id"`
	Provider          Provider        `json:"provider,omitempty" db:"provider"`
	ProcessingFee     decimal.Decimal `json:"processing_fee" db:"processing_fee"`
	NetAmount         decimal.Decimal `json:"net_amount" db:"net_amount"`
	ApprovedBy        *string         `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt        *time.Time      `json:"approved_at,omitempty" db:"approved_at"`
	ProcessedAt       *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
	ExternalReference *string         `json:"external_reference,omitempty" db:"external_reference"`
	Reason            *string         `json:"reason,omitempty" db:"reason"`
	Notes             *string         `json:"notes,omitempty" db:"notes"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// ComputeNet sets NetAmount from the amount and fee.
func (p *PayoutRequest) ComputeNet() {
	p.NetAmount = p.Amount.Sub(p.ProcessingFee)
}

func (p *PayoutRequest) TransitionTo(next PayoutStatus, at time.Time) error {
	if !p.Status.CanTransitionTo(next) {
		return &TransitionError{Entity: "payout", From: string(p.Status), To: string(next), Err: ErrInvalidTransition}
	}
	p.Status = next
	p.UpdatedAt = at
	return nil
}

// Note appends a line to the payout notes.
func (p *PayoutRequest) Note(msg string) {
	if p.Notes == nil || *p.Notes == "" {
		p.Notes = &msg
		return
	}
	joined := *p.Notes + "; " + msg
	p.Notes = &joined
}

type CreatePayoutRequest struct {
	UserID          string          `json:"user_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	PaymentMethodID string          `json:"payment_method"`
	Reason          string          `json:"reason"`
}

func (r *CreatePayoutRequest) Validate() error {
	if r.UserID == "" {
		return requestError("user_id is required")
	}
	if !r.Amount.IsPositive() {
		return requestError("amount must be greater than 0")
	}
	if r.PaymentMethodID == "" {
		return requestError("payment_method is required")
	}
	return nil
}

// PayoutResult reports the outcome of processing a payout.
type PayoutResult struct {
	Success           bool         `json:"success"`
	PayoutID          string       `json:"payout_id"`
	Status            PayoutStatus `json:"status"`
	ExternalReference string       `json:"external_reference,omitempty"`
	TransactionID     string       `json:"transaction_id,omitempty"`
	Message           string       `json:"message,omitempty"`
	Error             string       `json:"error,omitempty"`
}

type PayoutFilter struct {
	UserID string
	Status PayoutStatus
	Limit  int
	Offset int
}
