package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pillowpotion/backend/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory mocks for AccountStore and EntryStore. The account mock applies
// the balance check and update atomically under a mutex, the same guarantee
// the real repository gets from the row lock plus conditional UPDATE.
// ---------------------------------------------------------------------------

type mockAccounts struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*models.Account
}

func newMockAccounts(accs ...*models.Account) *mockAccounts {
	m := &mockAccounts{accounts: make(map[uuid.UUID]*models.Account)}
	for _, a := range accs {
		cp := *a
		m.accounts[a.ID] = &cp
	}
	return m
}

func (m *mockAccounts) GetAccountForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockAccounts) ApplyBalanceDelta(_ context.Context, _ pgx.Tx, id uuid.UUID, delta int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return 0, ErrAccountNotFound
	}
	if a.CreditBalance+delta < 0 {
		return 0, ErrInsufficientCredits
	}
	a.CreditBalance += delta
	return a.CreditBalance, nil
}

func (m *mockAccounts) balance(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[id].CreditBalance
}

type mockEntries struct {
	mu      sync.Mutex
	entries []*models.LedgerEntry
}

func (m *mockEntries) CreateEntryTx(_ context.Context, _ pgx.Tx, e *models.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *mockEntries) HasEntryForReferenceTx(_ context.Context, _ pgx.Tx, entryType string, refID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.EntryType == entryType && e.ReferenceID != nil && *e.ReferenceID == refID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockEntries) all() []*models.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.LedgerEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

func acct(id uuid.UUID, balance int) *models.Account {
	return &models.Account{ID: id, CreditBalance: balance}
}

// ---------------------------------------------------------------------------
// 1. Signup bonus: 0 -> 20, one entry {amount:20, balance_after:20}.
// ---------------------------------------------------------------------------

func TestAdjust_SignupBonus(t *testing.T) {
	account := uuid.New()
	accounts := newMockAccounts(acct(account, 0))
	entries := &mockEntries{}
	svc := NewService(accounts, entries)

	newBalance, err := svc.Adjust(context.Background(), nil, Adjustment{
		AccountID: account, Amount: 20, EntryType: models.EntrySignupBonus,
	})
	if err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if newBalance != 20 {
		t.Errorf("new balance: got %d, want 20", newBalance)
	}
	all := entries.all()
	if len(all) != 1 {
		t.Fatalf("entries: got %d, want 1", len(all))
	}
	if all[0].Amount != 20 || all[0].BalanceAfter != 20 {
		t.Errorf("entry: amount=%d balance_after=%d, want 20/20", all[0].Amount, all[0].BalanceAfter)
	}
	if all[0].EntryType != models.EntrySignupBonus {
		t.Errorf("entry type: got %q", all[0].EntryType)
	}
}

// ---------------------------------------------------------------------------
// 2. Insufficient credits: no balance change, no ledger entry.
// ---------------------------------------------------------------------------

func TestAdjust_InsufficientCredits(t *testing.T) {
	account := uuid.New()
	accounts := newMockAccounts(acct(account, 20))
	entries := &mockEntries{}
	svc := NewService(accounts, entries)

	balance, err := svc.Adjust(context.Background(), nil, Adjustment{
		AccountID: account, Amount: -30, EntryType: models.EntryGenerationDebit,
	})
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if balance != 20 {
		t.Errorf("reported balance: got %d, want 20", balance)
	}
	if got := accounts.balance(account); got != 20 {
		t.Errorf("stored balance: got %d, want 20", got)
	}
	if n := len(entries.all()); n != 0 {
		t.Errorf("entries written on failure: got %d, want 0", n)
	}
}

func TestAdjust_ZeroAmount(t *testing.T) {
	account := uuid.New()
	svc := NewService(newMockAccounts(acct(account, 10)), &mockEntries{})
	if _, err := svc.Adjust(context.Background(), nil, Adjustment{AccountID: account, Amount: 0, EntryType: models.EntryAdminAdjustment}); err == nil {
		t.Fatal("expected error for zero amount")
	}
}

func TestAdjust_AccountNotFound(t *testing.T) {
	svc := NewService(newMockAccounts(), &mockEntries{})
	_, err := svc.Adjust(context.Background(), nil, Adjustment{AccountID: uuid.New(), Amount: 10, EntryType: models.EntrySignupBonus})
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// 3. Debit/refund cycle keeps balance == sum(entries).
// ---------------------------------------------------------------------------

func TestAdjust_LedgerIntegrity(t *testing.T) {
	account := uuid.New()
	const initial = 50
	accounts := newMockAccounts(acct(account, initial))
	entries := &mockEntries{}
	svc := NewService(accounts, entries)
	ctx := context.Background()

	genID := uuid.New()
	if _, err := svc.Adjust(ctx, nil, Adjustment{AccountID: account, Amount: -30, EntryType: models.EntryGenerationDebit, ReferenceID: &genID}); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if _, err := svc.Adjust(ctx, nil, Adjustment{AccountID: account, Amount: +30, EntryType: models.EntryGenerationRefund, ReferenceID: &genID}); err != nil {
		t.Fatalf("refund: %v", err)
	}

	sum := 0
	prev := initial
	for _, e := range entries.all() {
		sum += e.Amount
		if e.BalanceAfter != prev+e.Amount {
			t.Errorf("entry %s breaks chain: balance_after=%d, want %d", e.ID, e.BalanceAfter, prev+e.Amount)
		}
		prev = e.BalanceAfter
	}
	if got := accounts.balance(account); got != initial+sum {
		t.Errorf("balance %d != initial %d + ledger sum %d", got, initial, sum)
	}

	ok, err := svc.HasRefundFor(ctx, nil, genID)
	if err != nil || !ok {
		t.Errorf("HasRefundFor: got (%v, %v), want (true, nil)", ok, err)
	}
	ok, _ = svc.HasRefundFor(ctx, nil, uuid.New())
	if ok {
		t.Error("HasRefundFor reported a refund for an unrelated generation")
	}
}

// ---------------------------------------------------------------------------
// 4. N concurrent debits of `a` against balance B: exactly floor(B/a) succeed.
// ---------------------------------------------------------------------------

func TestAdjust_ConcurrentDebits(t *testing.T) {
	account := uuid.New()
	const initial = 100
	const debit = 30
	const n = 10

	accounts := newMockAccounts(acct(account, initial))
	entries := &mockEntries{}
	svc := NewService(accounts, entries)

	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Adjust(context.Background(), nil, Adjustment{
				AccountID: account, Amount: -debit, EntryType: models.EntryGenerationDebit,
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded, insufficient := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrInsufficientCredits):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	want := initial / debit
	if succeeded != want {
		t.Errorf("successful debits: got %d, want %d", succeeded, want)
	}
	if insufficient != n-want {
		t.Errorf("insufficient failures: got %d, want %d", insufficient, n-want)
	}
	if got := accounts.balance(account); got != initial-debit*want {
		t.Errorf("final balance: got %d, want %d", got, initial-debit*want)
	}
	if len(entries.all()) != want {
		t.Errorf("ledger entries: got %d, want %d", len(entries.all()), want)
	}
}
