// internal/domain/payment_method.go
package domain

import (
	"strings"
	"time"
)

type MethodKind string

const (
	MethodMobileMoney   MethodKind = "mobile_money"
	MethodBank          MethodKind = "bank"
	MethodDigitalWallet MethodKind = "digital_wallet"
	MethodCard          MethodKind = "card"
)

func (k MethodKind) IsValid() bool {
	switch k {
	case MethodMobileMoney, MethodBank, MethodDigitalWallet, MethodCard:
		return true
	}
	return false
}

// PaymentMethod is a user's registered funding or payout instrument.
type PaymentMethod struct {
	ID                    string     `json:"id" db:"id"`
	UserID                string     `json:"user_id" db:"user_id"`
	Kind                  MethodKind `json:"kind" db:"kind"`
	Provider              Provider   `json:"provider" db:"provider"`
	AccountIdentifier     string     `json:"-" db:"account_identifier"`
	MaskedIdentifier      string     `json:"masked_identifier" db:"masked_identifier"`
	AccountName           *string    `json:"account_name,omitempty" db:"account_name"`
	BankName              *string    `json:"bank_name,omitempty" db:"bank_name"`
	IsVerified            bool       `json:"is_verified" db:"is_verified"`
	IsDefault             bool       `json:"is_default" db:"is_default"`
	IsActive              bool       `json:"is_active" db:"is_active"`
	VerificationToken     *string    `json:"-" db:"verification_token"`
	VerificationExpiresAt *time.Time `json:"verification_expires_at,omitempty" db:"verification_expires_at"`
	CreatedAt             time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at" db:"updated_at"`
}

// Usable checks the method can receive a payout.
func (m *PaymentMethod) Usable() error {
	if !m.IsActive {
		return ErrPaymentMethodInactive
	}
	if !m.IsVerified {
		return ErrPaymentMethodNotVerified
	}
	return nil
}

// MaskIdentifier keeps the last four characters of an account or phone.
func MaskIdentifier(identifier string) string {
	clean := strings.TrimSpace(identifier)
	if len(clean) <= 4 {
		return strings.Repeat("*", len(clean))
	}
	return strings.Repeat("*", len(clean)-4) + clean[len(clean)-4:]
}

type RegisterPaymentMethodRequest struct {
	UserID            string     `json:"user_id"`
	Kind              MethodKind `json:"kind"`
	Provider          string     `json:"provider"`
	AccountIdentifier string     `json:"account_identifier"`
	AccountName       string     `json:"account_name"`
	BankName          string     `json:"bank_name"`
	MakeDefault       bool       `json:"make_default"`
}

func (r *RegisterPaymentMethodRequest) Validate() error {
	if r.UserID == "" {
		return requestError("user_id is required")
	}
	if !r.Kind.IsValid() {
		return requestError("invalid payment method kind: %s", r.Kind)
	}
	if strings.TrimSpace(r.AccountIdentifier) == "" {
		return requestError("account_identifier is required")
	}
	if r.Kind == MethodBank && strings.TrimSpace(r.BankName) == "" {
		return requestError("bank_name is required for bank accounts")
	}
	return nil
}
