// internal/repository/transaction_repo.go
package repository

import (
	"context"

	"ersha-payment-service/internal/domain"

	"github.com/jackc/pgx/v5"
)

const transactionColumns = `
	id, transaction_id, type, amount, currency, status,
	sender_id, sender_name, receiver_id, receiver_name,
	order_id, product_id, payment_method_id, payout_request_id,
	provider, escrow_status, external_transaction_id, external_reference,
	processing_fee, platform_fee, total_amount, description,
	created_at, updated_at, completed_at`

type transactionRepo struct {
	db DBTX
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(
		&t.ID,
		&t.TransactionID,
		&t.Type,
		&t.Amount,
		&t.Currency,
		&t.Status,
		&t.SenderID,
		&t.SenderName,
		&t.ReceiverID,
		&t.ReceiverName,
		&t.OrderID,
		&t.ProductID,
		&t.PaymentMethodID,
		&t.PayoutRequestID,
		&t.Provider,
		&t.EscrowStatus,
		&t.ExternalTransactionID,
		&t.ExternalReference,
		&t.ProcessingFee,
		&t.PlatformFee,
		&t.TotalAmount,
		&t.Description,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *transactionRepo) Create(ctx context.Context, t *domain.Transaction) error {
	query := `
		INSERT INTO transactions (
			id, transaction_id, type, amount, currency, status,
			sender_id, sender_name, receiver_id, receiver_name,
			order_id, product_id, payment_method_id, payout_request_id,
			provider, escrow_status, external_transaction_id, external_reference,
			processing_fee, platform_fee, description, created_at, updated_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
		RETURNING total_amount, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		t.ID,
		t.TransactionID,
		t.Type,
		t.Amount,
		t.Currency,
		t.Status,
		t.SenderID,
		t.SenderName,
		t.ReceiverID,
		t.ReceiverName,
		t.OrderID,
		t.ProductID,
		t.PaymentMethodID,
		t.PayoutRequestID,
		t.Provider,
		t.EscrowStatus,
		t.ExternalTransactionID,
		t.ExternalReference,
		t.ProcessingFee,
		t.PlatformFee,
		t.Description,
		t.CreatedAt,
		t.UpdatedAt,
		t.CompletedAt,
	).Scan(&t.TotalAmount, &t.CreatedAt, &t.UpdatedAt)

	return mapError(err, "create transaction")
}

func (r *transactionRepo) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	t, err := scanTransaction(r.db.QueryRow(ctx, query, id))
	return t, mapError(err, "get transaction")
}

func (r *transactionRepo) GetByTransactionID(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE transaction_id = $1`
	t, err := scanTransaction(r.db.QueryRow(ctx, query, transactionID))
	return t, mapError(err, "get transaction")
}

func (r *transactionRepo) LockByID(ctx context.Context, id string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 FOR UPDATE`
	t, err := scanTransaction(r.db.QueryRow(ctx, query, id))
	return t, mapError(err, "lock transaction")
}

// Update writes the mutable lifecycle fields. Amounts and total_amount
// are fixed at creation; completed_at is never overwritten once set.
func (r *transactionRepo) Update(ctx context.Context, t *domain.Transaction) error {
	query := `
		UPDATE transactions
		SET
			status = $1,
			escrow_status = $2,
			external_transaction_id = COALESCE($3, external_transaction_id),
			external_reference = COALESCE($4, external_reference),
			completed_at = COALESCE(completed_at, $5),
			updated_at = $6
		WHERE id = $7
		RETURNING completed_at
	`

	err := r.db.QueryRow(ctx, query,
		t.Status,
		t.EscrowStatus,
		t.ExternalTransactionID,
		t.ExternalReference,
		t.CompletedAt,
		t.UpdatedAt,
		t.ID,
	).Scan(&t.CompletedAt)

	return mapError(err, "update transaction")
}

func (r *transactionRepo) List(ctx context.Context, f domain.TransactionFilter) ([]*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE ($1::text = '' OR sender_id = $1 OR receiver_id = $1)
		AND ($2::text = '' OR status = $2)
		AND ($3::text = '' OR type = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`

	rows, err := r.db.Query(ctx, query, f.UserID, string(f.Status), string(f.Type), limitOrDefault(f.Limit), f.Offset)
	if err != nil {
		return nil, mapError(err, "list transactions")
	}
	defer rows.Close()

	var out []*domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, mapError(err, "scan transaction")
		}
		out = append(out, t)
	}
	return out, mapError(rows.Err(), "list transactions")
}
