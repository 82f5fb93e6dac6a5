// internal/repository/payment_method_repo.go
package repository

import (
	"context"
	"time"

	"ersha-payment-service/internal/domain"

	"github.com/jackc/pgx/v5"
)

const paymentMethodColumns = `
	id, user_id, kind, provider, account_identifier, masked_identifier,
	account_name, bank_name, is_verified, is_default, is_active,
	verification_token, verification_expires_at, created_at, updated_at`

type paymentMethodRepo struct {
	db DBTX
}

func scanPaymentMethod(row pgx.Row) (*domain.PaymentMethod, error) {
	var m domain.PaymentMethod
	err := row.Scan(
		&m.ID,
		&m.UserID,
		&m.Kind,
		&m.Provider,
		&m.AccountIdentifier,
		&m.MaskedIdentifier,
		&m.AccountName,
		&m.BankName,
		&m.IsVerified,
		&m.IsDefault,
		&m.IsActive,
		&m.VerificationToken,
		&m.VerificationExpiresAt,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *paymentMethodRepo) Create(ctx context.Context, m *domain.PaymentMethod) error {
	query := `
		INSERT INTO payment_methods (
			id, user_id, kind, provider, account_identifier, masked_identifier,
			account_name, bank_name, is_verified, is_default, is_active,
			verification_token, verification_expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := r.db.Exec(ctx, query,
		m.ID,
		m.UserID,
		m.Kind,
		m.Provider,
		m.AccountIdentifier,
		m.MaskedIdentifier,
		m.AccountName,
		m.BankName,
		m.IsVerified,
		m.IsDefault,
		m.IsActive,
		m.VerificationToken,
		m.VerificationExpiresAt,
		m.CreatedAt,
		m.UpdatedAt,
	)
	return mapError(err, "create payment method")
}

func (r *paymentMethodRepo) GetByID(ctx context.Context, id string) (*domain.PaymentMethod, error) {
	query := `SELECT ` + paymentMethodColumns + ` FROM payment_methods WHERE id = $1`
	m, err := scanPaymentMethod(r.db.QueryRow(ctx, query, id))
	return m, mapError(err, "get payment method")
}

func (r *paymentMethodRepo) Update(ctx context.Context, m *domain.PaymentMethod) error {
	query := `
		UPDATE payment_methods
		SET
			is_verified = $1,
			is_default = $2,
			is_active = $3,
			verification_token = $4,
			verification_expires_at = $5,
			updated_at = $6
		WHERE id = $7
	`

	tag, err := r.db.Exec(ctx, query,
		m.IsVerified,
		m.IsDefault,
		m.IsActive,
		m.VerificationToken,
		m.VerificationExpiresAt,
		m.UpdatedAt,
		m.ID,
	)
	if err != nil {
		return mapError(err, "update payment method")
	}
	if tag.RowsAffected() == 0 {
		return mapError(pgx.ErrNoRows, "update payment method")
	}
	return nil
}

func (r *paymentMethodRepo) ListByUser(ctx context.Context, userID string, activeOnly bool) ([]*domain.PaymentMethod, error) {
	query := `SELECT ` + paymentMethodColumns + `
		FROM payment_methods
		WHERE user_id = $1 AND (NOT $2 OR is_active)
		ORDER BY is_default DESC, created_at DESC
	`

	rows, err := r.db.Query(ctx, query, userID, activeOnly)
	if err != nil {
		return nil, mapError(err, "list payment methods")
	}
	defer rows.Close()

	var out []*domain.PaymentMethod
	for rows.Next() {
		m, err := scanPaymentMethod(rows)
		if err != nil {
			return nil, mapError(err, "scan payment method")
		}
		out = append(out, m)
	}
	return out, mapError(rows.Err(), "list payment methods")
}

func (r *paymentMethodRepo) ClearDefault(ctx context.Context, userID, keepID string) error {
	query := `
		UPDATE payment_methods
		SET is_default = FALSE, updated_at = $3
		WHERE user_id = $1 AND id <> $2 AND is_default
	`
	_, err := r.db.Exec(ctx, query, userID, keepID, time.Now().UTC())
	return mapError(err, "clear default payment method")
}
