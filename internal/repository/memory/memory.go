// Package memory is an in-process Store used by tests and by
// STORAGE_DRIVER=memory. It enforces the same keys and checks as the
// postgres schema; WithTx serialises writers and rolls back on error.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ersha-payment-service/internal/domain"
	"ersha-payment-service/internal/repository"
	"ersha-payment-service/pkg/utils/id"
)

type state struct {
	transactions map[string]*domain.Transaction
	payments     map[string]*domain.Payment
	escrow       map[string]*domain.EscrowAccount // by user id
	payouts      map[string]*domain.PayoutRequest
	methods      map[string]*domain.PaymentMethod
}

func newState() *state {
	return &state{
		transactions: map[string]*domain.Transaction{},
		payments:     map[string]*domain.Payment{},
		escrow:       map[string]*domain.EscrowAccount{},
		payouts:      map[string]*domain.PayoutRequest{},
		methods:      map[string]*domain.PaymentMethod{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.transactions {
		cp := *v
		c.transactions[k] = &cp
	}
	for k, v := range s.payments {
		cp := *v
		c.payments[k] = &cp
	}
	for k, v := range s.escrow {
		cp := *v
		c.escrow[k] = &cp
	}
	for k, v := range s.payouts {
		cp := *v
		c.payouts[k] = &cp
	}
	for k, v := range s.methods {
		cp := *v
		c.methods[k] = &cp
	}
	return c
}

type Store struct {
	mu   *sync.Mutex
	root **state
	inTx bool
}

func NewStore() *Store {
	st := newState()
	return &Store{mu: &sync.Mutex{}, root: &st}
}

var _ repository.Store = (*Store)(nil)

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) data() *state { return *s.root }

func (s *Store) Transactions() repository.TransactionRepository     { return &transactionRepo{s} }
func (s *Store) Payments() repository.PaymentRepository             { return &paymentRepo{s} }
func (s *Store) Escrow() repository.EscrowRepository                { return &escrowRepo{s} }
func (s *Store) Payouts() repository.PayoutRepository               { return &payoutRepo{s} }
func (s *Store) PaymentMethods() repository.PaymentMethodRepository { return &paymentMethodRepo{s} }

func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data().clone()
	if err := fn(&Store{mu: s.mu, root: s.root, inTx: true}); err != nil {
		*s.root = snapshot
		return err
	}
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func notFound(what string) error {
	return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
}

func duplicate(what string) error {
	return fmt.Errorf("%s: %w", what, domain.ErrDuplicate)
}

func limitOrDefault(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if l := limitOrDefault(limit); len(items) > l {
		items = items[:l]
	}
	return items
}

// ============================================
// TRANSACTIONS
// ============================================

type transactionRepo struct{ s *Store }

func (r *transactionRepo) Create(ctx context.Context, t *domain.Transaction) error {
	defer r.s.lock()()
	d := r.s.data()

	if _, ok := d.transactions[t.ID]; ok {
		return duplicate("create transaction")
	}
	for _, existing := range d.transactions {
		if existing.TransactionID == t.TransactionID {
			return duplicate("create transaction")
		}
	}
	t.ComputeTotal()
	cp := *t
	d.transactions[t.ID] = &cp
	return nil
}

func (r *transactionRepo) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	defer r.s.lock()()
	t, ok := r.s.data().transactions[id]
	if !ok {
		return nil, notFound("get transaction")
	}
	cp := *t
	return &cp, nil
}

func (r *transactionRepo) GetByTransactionID(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	defer r.s.lock()()
	for _, t := range r.s.data().transactions {
		if t.TransactionID == transactionID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, notFound("get transaction")
}

func (r *transactionRepo) LockByID(ctx context.Context, id string) (*domain.Transaction, error) {
	return r.GetByID(ctx, id)
}

func (r *transactionRepo) Update(ctx context.Context, t *domain.Transaction) error {
	defer r.s.lock()()
	existing, ok := r.s.data().transactions[t.ID]
	if !ok {
		return notFound("update transaction")
	}

	existing.Status = t.Status
	existing.EscrowStatus = t.EscrowStatus
	if t.ExternalTransactionID != nil {
		existing.ExternalTransactionID = t.ExternalTransactionID
	}
	if t.ExternalReference != nil {
		existing.ExternalReference = t.ExternalReference
	}
	if existing.CompletedAt == nil {
		existing.CompletedAt = t.CompletedAt
	}
	existing.UpdatedAt = t.UpdatedAt
	t.CompletedAt = existing.CompletedAt
	return nil
}

func (r *transactionRepo) List(ctx context.Context, f domain.TransactionFilter) ([]*domain.Transaction, error) {
	defer r.s.lock()()

	var out []*domain.Transaction
	for _, t := range r.s.data().transactions {
		if f.UserID != "" && t.SenderID != f.UserID && t.ReceiverID != f.UserID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, f.Limit, f.Offset), nil
}

// ============================================
// PAYMENTS
// ============================================

type paymentRepo struct{ s *Store }

func (r *paymentRepo) Create(ctx context.Context, p *domain.Payment) error {
	defer r.s.lock()()
	d := r.s.data()

	if _, ok := d.transactions[p.TransactionID]; !ok {
		return fmt.Errorf("create payment: transaction %s: %w", p.TransactionID, domain.ErrNotFound)
	}
	for _, existing := range d.payments {
		if existing.ID == p.ID || existing.TransactionID == p.TransactionID ||
			(existing.Provider == p.Provider && existing.ProviderTransactionID == p.ProviderTransactionID) {
			return duplicate("create payment")
		}
	}
	cp := *p
	d.payments[p.ID] = &cp
	return nil
}

func (r *paymentRepo) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	defer r.s.lock()()
	p, ok := r.s.data().payments[id]
	if !ok {
		return nil, notFound("get payment")
	}
	cp := *p
	return &cp, nil
}

func (r *paymentRepo) GetByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	defer r.s.lock()()
	for _, p := range r.s.data().payments {
		if p.TransactionID == transactionID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, notFound("get payment")
}

func (r *paymentRepo) GetByProviderRef(ctx context.Context, provider domain.Provider, providerTxID string) (*domain.Payment, error) {
	defer r.s.lock()()
	for _, p := range r.s.data().payments {
		if p.Provider == provider && p.ProviderTransactionID == providerTxID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, notFound("get payment")
}

func (r *paymentRepo) LockByProviderRef(ctx context.Context, provider domain.Provider, providerTxID string) (*domain.Payment, error) {
	return r.GetByProviderRef(ctx, provider, providerTxID)
}

func (r *paymentRepo) Update(ctx context.Context, p *domain.Payment) error {
	defer r.s.lock()()
	existing, ok := r.s.data().payments[p.ID]
	if !ok {
		return notFound("update payment")
	}

	existing.Status = p.Status
	existing.IsVerified = p.IsVerified
	if p.ProviderReference != nil {
		existing.ProviderReference = p.ProviderReference
	}
	if p.ResultCode != nil {
		existing.ResultCode = p.ResultCode
	}
	if p.ErrorMessage != nil {
		existing.ErrorMessage = p.ErrorMessage
	}
	if p.CallbackData != nil {
		existing.CallbackData = p.CallbackData
	}
	if existing.CompletedAt == nil {
		existing.CompletedAt = p.CompletedAt
	}
	existing.UpdatedAt = p.UpdatedAt
	return nil
}

// ============================================
// ESCROW
// ============================================

type escrowRepo struct{ s *Store }

func (r *escrowRepo) GetByUserID(ctx context.Context, userID string) (*domain.EscrowAccount, error) {
	defer r.s.lock()()
	a, ok := r.s.data().escrow[userID]
	if !ok {
		return nil, notFound("get escrow account")
	}
	cp := *a
	return &cp, nil
}

func (r *escrowRepo) LockByUserID(ctx context.Context, userID string) (*domain.EscrowAccount, error) {
	return r.GetByUserID(ctx, userID)
}

func (r *escrowRepo) LockOrCreate(ctx context.Context, userID, currency string) (*domain.EscrowAccount, error) {
	defer r.s.lock()()
	d := r.s.data()

	a, ok := d.escrow[userID]
	if !ok {
		now := time.Now().UTC()
		a = &domain.EscrowAccount{
			ID:        id.New("esc"),
			UserID:    userID,
			Currency:  currency,
			IsActive:  true,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		d.escrow[userID] = a
	}
	cp := *a
	return &cp, nil
}

func (r *escrowRepo) Update(ctx context.Context, a *domain.EscrowAccount) error {
	defer r.s.lock()()
	existing, ok := r.s.data().escrow[a.UserID]
	if !ok || existing.ID != a.ID {
		return notFound("update escrow account")
	}
	if existing.Version != a.Version {
		return fmt.Errorf("update escrow account %s: %w", a.UserID, domain.ErrConflict)
	}
	if a.Balance.IsNegative() || a.ReservedBalance.IsNegative() || a.ReservedBalance.GreaterThan(a.Balance) {
		return fmt.Errorf("update escrow account: %w: escrow_accounts_balance_check", domain.ErrInvalidRequest)
	}

	existing.Balance = a.Balance
	existing.ReservedBalance = a.ReservedBalance
	existing.IsActive = a.IsActive
	existing.Version++
	existing.UpdatedAt = a.UpdatedAt
	a.Version = existing.Version
	return nil
}

// Seed installs an account directly. Intended for tests and fixtures.
func (s *Store) Seed(account *domain.EscrowAccount) {
	defer s.lock()()
	cp := *account
	if cp.Version == 0 {
		cp.Version = 1
	}
	s.data().escrow[account.UserID] = &cp
}

// ============================================
// PAYOUTS
// ============================================

type payoutRepo struct{ s *Store }

func (r *payoutRepo) Create(ctx context.Context, p *domain.PayoutRequest) error {
	defer r.s.lock()()
	d := r.s.data()

	for _, existing := range d.payouts {
		if existing.ID == p.ID || existing.Reference == p.Reference {
			return duplicate("create payout request")
		}
	}
	if _, ok := d.methods[p.PaymentMethodID]; !ok {
		return fmt.Errorf("create payout request: payment method %s: %w", p.PaymentMethodID, domain.ErrNotFound)
	}
	p.ComputeNet()
	cp := *p
	d.payouts[p.ID] = &cp
	return nil
}

func (r *payoutRepo) GetByID(ctx context.Context, id string) (*domain.PayoutRequest, error) {
	defer r.s.lock()()
	p, ok := r.s.data().payouts[id]
	if !ok {
		return nil, notFound("get payout request")
	}
	cp := *p
	return &cp, nil
}

func (r *payoutRepo) GetByReference(ctx context.Context, reference string) (*domain.PayoutRequest, error) {
	defer r.s.lock()()
	for _, p := range r.s.data().payouts {
		if p.Reference == reference {
			cp := *p
			return &cp, nil
		}
	}
	return nil, notFound("get payout request")
}

func (r *payoutRepo) LockByID(ctx context.Context, id string) (*domain.PayoutRequest, error) {
	return r.GetByID(ctx, id)
}

func (r *payoutRepo) Update(ctx context.Context, p *domain.PayoutRequest) error {
	defer r.s.lock()()
	existing, ok := r.s.data().payouts[p.ID]
	if !ok {
		return notFound("update payout request")
	}

	existing.Status = p.Status
	existing.Provider = p.Provider
	existing.ProcessingFee = p.ProcessingFee
	existing.ApprovedBy = p.ApprovedBy
	existing.ApprovedAt = p.ApprovedAt
	existing.ProcessedAt = p.ProcessedAt
	existing.ExternalReference = p.ExternalReference
	existing.Notes = p.Notes
	existing.UpdatedAt = p.UpdatedAt
	existing.ComputeNet()
	p.NetAmount = existing.NetAmount
	return nil
}

func (r *payoutRepo) List(ctx context.Context, f domain.PayoutFilter) ([]*domain.PayoutRequest, error) {
	defer r.s.lock()()

	var out []*domain.PayoutRequest
	for _, p := range r.s.data().payouts {
		if f.UserID != "" && p.UserID != f.UserID {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, f.Limit, f.Offset), nil
}

// ============================================
// PAYMENT METHODS
// ============================================

type paymentMethodRepo struct{ s *Store }

// defaultTaken mirrors the partial unique index on active defaults.
func defaultTaken(d *state, m *domain.PaymentMethod) bool {
	if !m.IsDefault || !m.IsActive {
		return false
	}
	for _, other := range d.methods {
		if other.ID != m.ID && other.UserID == m.UserID && other.IsDefault && other.IsActive {
			return true
		}
	}
	return false
}

func (r *paymentMethodRepo) Create(ctx context.Context, m *domain.PaymentMethod) error {
	defer r.s.lock()()
	d := r.s.data()

	if _, ok := d.methods[m.ID]; ok || defaultTaken(d, m) {
		return duplicate("create payment method")
	}
	cp := *m
	d.methods[m.ID] = &cp
	return nil
}

func (r *paymentMethodRepo) GetByID(ctx context.Context, id string) (*domain.PaymentMethod, error) {
	defer r.s.lock()()
	m, ok := r.s.data().methods[id]
	if !ok {
		return nil, notFound("get payment method")
	}
	cp := *m
	return &cp, nil
}

func (r *paymentMethodRepo) Update(ctx context.Context, m *domain.PaymentMethod) error {
	defer r.s.lock()()
	d := r.s.data()

	existing, ok := d.methods[m.ID]
	if !ok {
		return notFound("update payment method")
	}
	if defaultTaken(d, m) {
		return duplicate("update payment method")
	}

	existing.IsVerified = m.IsVerified
	existing.IsDefault = m.IsDefault
	existing.IsActive = m.IsActive
	existing.VerificationToken = m.VerificationToken
	existing.VerificationExpiresAt = m.VerificationExpiresAt
	existing.UpdatedAt = m.UpdatedAt
	return nil
}

func (r *paymentMethodRepo) ListByUser(ctx context.Context, userID string, activeOnly bool) ([]*domain.PaymentMethod, error) {
	defer r.s.lock()()

	var out []*domain.PaymentMethod
	for _, m := range r.s.data().methods {
		if m.UserID != userID || (activeOnly && !m.IsActive) {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *paymentMethodRepo) ClearDefault(ctx context.Context, userID, keepID string) error {
	defer r.s.lock()()
	now := time.Now().UTC()
	for _, m := range r.s.data().methods {
		if m.UserID == userID && m.ID != keepID && m.IsDefault {
			m.IsDefault = false
			m.UpdatedAt = now
		}
	}
	return nil
}
