// internal/repository/payment_repo.go
package repository

import (
	"context"

	"ersha-payment-service/internal/domain"

	"github.com/jackc/pgx/v5"
)

const paymentColumns = `
	id, transaction_id, amount, currency, status, provider,
	provider_transaction_id, provider_reference, checkout_url, payment_method_id,
	verification_code, verification_expires_at, is_verified,
	result_code, error_message, callback_data,
	created_at, updated_at, completed_at`

type paymentRepo struct {
	db DBTX
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(
		&p.ID,
		&p.TransactionID,
		&p.Amount,
		&p.Currency,
		&p.Status,
		&p.Provider,
		&p.ProviderTransactionID,
		&p.ProviderReference,
		&p.CheckoutURL,
		&p.PaymentMethodID,
		&p.VerificationCode,
		&p.VerificationExpiresAt,
		&p.IsVerified,
		&p.ResultCode,
		&p.ErrorMessage,
		&p.CallbackData,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepo) Create(ctx context.Context, p *domain.Payment) error {
	query := `
		INSERT INTO payments (
			id, transaction_id, amount, currency, status, provider,
			provider_transaction_id, provider_reference, checkout_url, payment_method_id,
			verification_code, verification_expires_at, is_verified,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := r.db.Exec(ctx, query,
		p.ID,
		p.TransactionID,
		p.Amount,
		p.Currency,
		p.Status,
		p.Provider,
		p.ProviderTransactionID,
		p.ProviderReference,
		p.CheckoutURL,
		p.PaymentMethodID,
		p.VerificationCode,
		p.VerificationExpiresAt,
		p.IsVerified,
		p.CreatedAt,
		p.UpdatedAt,
	)
	return mapError(err, "create payment")
}

func (r *paymentRepo) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	p, err := scanPayment(r.db.QueryRow(ctx, query, id))
	return p, mapError(err, "get payment")
}

func (r *paymentRepo) GetByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE transaction_id = $1`
	p, err := scanPayment(r.db.QueryRow(ctx, query, transactionID))
	return p, mapError(err, "get payment")
}

func (r *paymentRepo) GetByProviderRef(ctx context.Context, provider domain.Provider, providerTxID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE provider = $1 AND provider_transaction_id = $2`
	p, err := scanPayment(r.db.QueryRow(ctx, query, provider, providerTxID))
	return p, mapError(err, "get payment")
}

func (r *paymentRepo) LockByProviderRef(ctx context.Context, provider domain.Provider, providerTxID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE provider = $1 AND provider_transaction_id = $2 FOR UPDATE`
	p, err := scanPayment(r.db.QueryRow(ctx, query, provider, providerTxID))
	return p, mapError(err, "lock payment")
}

func (r *paymentRepo) Update(ctx context.Context, p *domain.Payment) error {
	query := `
		UPDATE payments
		SET
			status = $1,
			provider_reference = COALESCE($2, provider_reference),
			is_verified = $3,
			result_code = COALESCE($4, result_code),
			error_message = COALESCE($5, error_message),
			callback_data = COALESCE($6, callback_data),
			completed_at = COALESCE(completed_at, $7),
			updated_at = $8
		WHERE id = $9
	`

	tag, err := r.db.Exec(ctx, query,
		p.Status,
		p.ProviderReference,
		p.IsVerified,
		p.ResultCode,
		p.ErrorMessage,
		p.CallbackData,
		p.CompletedAt,
		p.UpdatedAt,
		p.ID,
	)
	if err != nil {
		return mapError(err, "update payment")
	}
	if tag.RowsAffected() == 0 {
		return mapError(pgx.ErrNoRows, "update payment")
	}
	return nil
}
