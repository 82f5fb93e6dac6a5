// internal/repository/escrow_repo.go
package repository

import (
	"context"
	"fmt"
	"time"

	"ersha-payment-service/internal/domain"
	"ersha-payment-service/pkg/utils/id"

	"github.com/jackc/pgx/v5"
)

const escrowColumns = `
	id, user_id, balance, reserved_balance, currency, is_active, version, created_at, updated_at`

type escrowRepo struct {
	db DBTX
}

func scanEscrow(row pgx.Row) (*domain.EscrowAccount, error) {
	var a domain.EscrowAccount
	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.Balance,
		&a.ReservedBalance,
		&a.Currency,
		&a.IsActive,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *escrowRepo) GetByUserID(ctx context.Context, userID string) (*domain.EscrowAccount, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrow_accounts WHERE user_id = $1`
	a, err := scanEscrow(r.db.QueryRow(ctx, query, userID))
	return a, mapError(err, "get escrow account")
}

// LockByUserID fetches the account with a pessimistic lock (SELECT FOR UPDATE).
func (r *escrowRepo) LockByUserID(ctx context.Context, userID string) (*domain.EscrowAccount, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrow_accounts WHERE user_id = $1 FOR UPDATE`
	a, err := scanEscrow(r.db.QueryRow(ctx, query, userID))
	return a, mapError(err, "lock escrow account")
}

func (r *escrowRepo) LockOrCreate(ctx context.Context, userID, currency string) (*domain.EscrowAccount, error) {
	insert := `
		INSERT INTO escrow_accounts (id, user_id, currency, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := r.db.Exec(ctx, insert, id.New("esc"), userID, currency, time.Now().UTC()); err != nil {
		return nil, mapError(err, "create escrow account")
	}
	return r.LockByUserID(ctx, userID)
}

func (r *escrowRepo) Update(ctx context.Context, a *domain.EscrowAccount) error {
	query := `
		UPDATE escrow_accounts
		SET
			balance = $1,
			reserved_balance = $2,
			is_active = $3,
			version = version + 1,
			updated_at = $4
		WHERE id = $5 AND version = $6
		RETURNING version
	`

	err := r.db.QueryRow(ctx, query,
		a.Balance,
		a.ReservedBalance,
		a.IsActive,
		a.UpdatedAt,
		a.ID,
		a.Version,
	).Scan(&a.Version)

	if err == pgx.ErrNoRows {
		return fmt.Errorf("update escrow account %s: %w", a.UserID, domain.ErrConflict)
	}
	return mapError(err, "update escrow account")
}
