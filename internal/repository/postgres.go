package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"ersha-payment-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgStore struct {
	pool *pgxpool.Pool
	db   DBTX
	inTx bool
}

func NewPostgresStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool, db: pool}
}

// Migrate applies the embedded schema. Statements are idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *pgStore) Transactions() TransactionRepository     { return &transactionRepo{db: s.db} }
func (s *pgStore) Payments() PaymentRepository             { return &paymentRepo{db: s.db} }
func (s *pgStore) Escrow() EscrowRepository                { return &escrowRepo{db: s.db} }
func (s *pgStore) Payouts() PayoutRepository               { return &payoutRepo{db: s.db} }
func (s *pgStore) PaymentMethods() PaymentMethodRepository { return &paymentMethodRepo{db: s.db} }

func (s *pgStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgStore{pool: s.pool, db: tx, inTx: true})
	})
}

func (s *pgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// mapError normalises driver errors onto the domain sentinels.
func mapError(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%s: %w", what, domain.ErrDuplicate)
		case "23514":
			// check constraint, e.g. balance >= 0
			return fmt.Errorf("%s: %w: %s", what, domain.ErrInvalidRequest, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

func limitOrDefault(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}
