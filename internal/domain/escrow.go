// internal/domain/escrow.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EscrowAccount holds a user's funds between sale and payout.
type EscrowAccount struct {
	ID              string          `json:"id" db:"id"`
	UserID          string          `json:"user_id" db:"user_id"`
	Balance         decimal.Decimal `json:"balance" db:"balance"`
	ReservedBalance decimal.Decimal `json:"reserved_balance" db:"reserved_balance"`
	Currency        string          `json:"currency" db:"currency"`
	IsActive        bool            `json:"is_active" db:"is_active"`
	Version         int64           `json:"version" db:"version"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// Available is the balance not held by in-flight payouts.
func (a *EscrowAccount) Available() decimal.Decimal {
	return a.Balance.Sub(a.ReservedBalance)
}

// CanCover checks a withdrawal of amount against the available balance.
func (a *EscrowAccount) CanCover(amount decimal.Decimal) error {
	if !a.IsActive {
		return ErrEscrowInactive
	}
	if a.Available().LessThan(amount) {
		return &InsufficientBalanceError{Available: a.Available(), Requested: amount}
	}
	return nil
}

// EscrowAccountView is what dashboards read.
type EscrowAccountView struct {
	UserID          string          `json:"user_id"`
	Balance         decimal.Decimal `json:"balance"`
	ReservedBalance decimal.Decimal `json:"reserved_balance"`
	Available       decimal.Decimal `json:"available_balance"`
	Currency        string          `json:"currency"`
	IsActive        bool            `json:"is_active"`
}

func (a *EscrowAccount) View() *EscrowAccountView {
	return &EscrowAccountView{
		UserID:          a.UserID,
		Balance:         a.Balance,
		ReservedBalance: a.ReservedBalance,
		Available:       a.Available(),
		Currency:        a.Currency,
		IsActive:        a.IsActive,
	}
}
