// internal/domain/errors.go
package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Generic
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrDuplicate      = errors.New("duplicate record")
	ErrConflict       = errors.New("state changed concurrently")
)

// Providers / reconciliation
var (
	ErrProviderNotSupported = errors.New("provider not supported")
	ErrInvalidSignature     = errors.New("invalid webhook signature")
	ErrMalformedPayload     = errors.New("malformed callback payload")
	ErrProviderFailed       = errors.New("provider request failed")
)

// State machine
var (
	ErrInvalidTransition       = errors.New("invalid status transition")
	ErrInvalidEscrowTransition = errors.New("invalid escrow transition")
)

// Payout / escrow
var (
	ErrInsufficientBalance      = errors.New("insufficient balance")
	ErrEscrowInactive           = errors.New("escrow account inactive")
	ErrPayoutNotPending         = errors.New("payout request is not pending")
	ErrPaymentMethodNotVerified = errors.New("payment method is not verified")
	ErrPaymentMethodInactive    = errors.New("payment method is not active")
	ErrPaymentMethodNotOwned    = errors.New("payment method does not belong to user")
	ErrUnsupportedMethodKind    = errors.New("unsupported payment method kind")
	ErrBankNotMapped            = errors.New("bank has no provider code")
	ErrPayoutBelowFee           = errors.New("amount must exceed the processing fee")
	ErrPayoutInProgress         = errors.New("another payout is being processed for this user")
)

// Payment methods
var (
	ErrInvalidVerificationToken = errors.New("invalid verification token")
	ErrVerificationExpired      = errors.New("verification token expired")
)

// InsufficientBalanceError reports what was available when a debit was refused.
type InsufficientBalanceError struct {
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %s, requested %s",
		e.Available.StringFixed(2), e.Requested.StringFixed(2))
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// UnsupportedProviderError names the provider that could not be resolved.
type UnsupportedProviderError struct {
	Name string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("provider %s not supported", e.Name)
}

func (e *UnsupportedProviderError) Unwrap() error {
	return ErrProviderNotSupported
}

// TransitionError describes a refused state change.
type TransitionError struct {
	Entity string
	From   string
	To     string
	Err    error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot move from %s to %s", e.Entity, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// ProviderError carries a structured adapter failure up to the caller.
type ProviderError struct {
	Provider Provider
	Kind     string
	Msg      string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Msg)
}

func (e *ProviderError) Unwrap() error {
	return ErrProviderFailed
}
