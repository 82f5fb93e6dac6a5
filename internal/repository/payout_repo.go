// internal/repository/payout_repo.go
package repository

import (
	"context"

	"ersha-payment-service/internal/domain"

	"github.com/jackc/pgx/v5"
)

const payoutColumns = `
	id, reference, user_id, amount, currency, status, payment_method_id, provider,
	processing_fee, net_amount, approved_by, approved_at, processed_at,
	external_reference, reason, notes, created_at, updated_at`

type payoutRepo struct {
	db DBTX
}

func scanPayout(row pgx.Row) (*domain.PayoutRequest, error) {
	var p domain.PayoutRequest
	err := row.Scan(
		&p.ID,
		&p.Reference,
		&p.UserID,
		&p.Amount,
		&p.Currency,
		&p.Status,
		&p.PaymentMethodID,
		&p.Provider,
		&p.ProcessingFee,
		&p.NetAmount,
		&p.ApprovedBy,
		&p.ApprovedAt,
		&p.ProcessedAt,
		&p.ExternalReference,
		&p.Reason,
		&p.Notes,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *payoutRepo) Create(ctx context.Context, p *domain.PayoutRequest) error {
	query := `
		INSERT INTO payout_requests (
			id, reference, user_id, amount, currency, status, payment_method_id,
			provider, processing_fee, reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING net_amount
	`

	err := r.db.QueryRow(ctx, query,
		p.ID,
		p.Reference,
		p.UserID,
		p.Amount,
		p.Currency,
		p.Status,
		p.PaymentMethodID,
		p.Provider,
		p.ProcessingFee,
		p.Reason,
		p.CreatedAt,
		p.UpdatedAt,
	).Scan(&p.NetAmount)

	return mapError(err, "create payout request")
}

func (r *payoutRepo) GetByID(ctx context.Context, id string) (*domain.PayoutRequest, error) {
	query := `SELECT ` + payoutColumns + ` FROM payout_requests WHERE id = $1`
	p, err := scanPayout(r.db.QueryRow(ctx, query, id))
	return p, mapError(err, "get payout request")
}

func (r *payoutRepo) GetByReference(ctx context.Context, reference string) (*domain.PayoutRequest, error) {
	query := `SELECT ` + payoutColumns + ` FROM payout_requests WHERE reference = $1`
	p, err := scanPayout(r.db.QueryRow(ctx, query, reference))
	return p, mapError(err, "get payout request")
}

func (r *payoutRepo) LockByID(ctx context.Context, id string) (*domain.PayoutRequest, error) {
	query := `SELECT ` + payoutColumns + ` FROM payout_requests WHERE id = $1 FOR UPDATE`
	p, err := scanPayout(r.db.QueryRow(ctx, query, id))
	return p, mapError(err, "lock payout request")
}

// Update writes status and processing details. net_amount is derived by
// the database from amount and processing_fee.
func (r *payoutRepo) Update(ctx context.Context, p *domain.PayoutRequest) error {
	query := `
		UPDATE payout_requests
		SET
			status = $1,
			provider = $2,
			processing_fee = $3,
			approved_by = $4,
			approved_at = $5,
			processed_at = $6,
			external_reference = $7,
			notes = $8,
			updated_at = $9
		WHERE id = $10
		RETURNING net_amount
	`

	err := r.db.QueryRow(ctx, query,
		p.Status,
		p.Provider,
		p.ProcessingFee,
		p.ApprovedBy,
		p.ApprovedAt,
		p.ProcessedAt,
		p.ExternalReference,
		p.Notes,
		p.UpdatedAt,
		p.ID,
	).Scan(&p.NetAmount)

	return mapError(err, "update payout request")
}

func (r *payoutRepo) List(ctx context.Context, f domain.PayoutFilter) ([]*domain.PayoutRequest, error) {
	query := `SELECT ` + payoutColumns + `
		FROM payout_requests
		WHERE ($1::text = '' OR user_id = $1)
		AND ($2::text = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.Query(ctx, query, f.UserID, string(f.Status), limitOrDefault(f.Limit), f.Offset)
	if err != nil {
		return nil, mapError(err, "list payout requests")
	}
	defer rows.Close()

	var out []*domain.PayoutRequest
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, mapError(err, "scan payout request")
		}
		out = append(out, p)
	}
	return out, mapError(rows.Err(), "list payout requests")
}
