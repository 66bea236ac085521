package billing

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pillowpotion/backend/internal/ledger"
	"github.com/pillowpotion/backend/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory mocks for Store and Mutator.
// ---------------------------------------------------------------------------

type mockStore struct {
	mu       sync.Mutex
	plans    map[uuid.UUID]*models.Plan
	requests map[uuid.UUID]*models.CreditRequest
}

func newMockStore(plans ...*models.Plan) *mockStore {
	m := &mockStore{
		plans:    make(map[uuid.UUID]*models.Plan),
		requests: make(map[uuid.UUID]*models.CreditRequest),
	}
	for _, p := range plans {
		cp := *p
		m.plans[p.ID] = &cp
	}
	return m
}

func (m *mockStore) GetActivePlan(_ context.Context, id uuid.UUID) (*models.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok || !p.Active {
		return nil, ErrPlanNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockStore) LockAccountTx(_ context.Context, _ pgx.Tx, _ uuid.UUID) error {
	return nil
}

// CreateRequestTx counts and inserts under one lock, the same guarantee the
// account row lock plus single-statement insert gives in Postgres.
func (m *mockStore) CreateRequestTx(_ context.Context, _ pgx.Tx, cr *models.CreditRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pending := 0
	for _, existing := range m.requests {
		if existing.AccountID == cr.AccountID && existing.Status == models.RequestPending {
			pending++
		}
	}
	if pending >= models.MaxPendingRequests {
		return ErrTooManyPendingRequests
	}
	cp := *cr
	m.requests[cr.ID] = &cp
	return nil
}

func (m *mockStore) GetRequestForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.CreditRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cr, ok := m.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	cp := *cr
	return &cp, nil
}

func (m *mockStore) SetStatusTx(_ context.Context, _ pgx.Tx, id uuid.UUID, status string, adminID uuid.UUID, notes *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cr, ok := m.requests[id]
	if !ok {
		return ErrRequestNotFound
	}
	cr.Status = status
	cr.ReviewedBy = &adminID
	if notes != nil {
		cr.AdminNotes = notes
	}
	return nil
}

type mockMutator struct {
	mu       sync.Mutex
	balances map[uuid.UUID]int
	adjusts  []ledger.Adjustment
}

func (m *mockMutator) Adjust(_ context.Context, _ pgx.Tx, adj ledger.Adjustment) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances == nil {
		m.balances = map[uuid.UUID]int{}
	}
	m.balances[adj.AccountID] += adj.Amount
	m.adjusts = append(m.adjusts, adj)
	return m.balances[adj.AccountID], nil
}

func (m *mockMutator) balance(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[id]
}

func (m *mockMutator) credits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.adjusts)
}

func activePlan(credits, priceCents int) *models.Plan {
	return &models.Plan{ID: uuid.New(), Name: "starter", PriceCents: priceCents, Credits: credits, Active: true}
}

// submit drives the tx-scoped path the way Submit does, without a database.
func submit(svc *Service, store *mockStore, account, planID uuid.UUID) (*models.CreditRequest, error) {
	plan, err := store.GetActivePlan(context.Background(), planID)
	if err != nil {
		return nil, err
	}
	return svc.submitTx(context.Background(), nil, account, plan, "receipt", nil)
}

// ---------------------------------------------------------------------------
// 1. Submit snapshots the plan and caps pending requests at 3.
// ---------------------------------------------------------------------------

func TestSubmit_SnapshotsPlan(t *testing.T) {
	plan := activePlan(100, 999)
	store := newMockStore(plan)
	svc := NewService(store, &mockMutator{}, nil)
	account := uuid.New()

	cr, err := submit(svc, store, account, plan.ID)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if cr.Status != models.RequestPending {
		t.Errorf("status: got %q, want pending", cr.Status)
	}
	if cr.Credits != 100 || cr.AmountCents != 999 || cr.PlanName != "starter" {
		t.Errorf("plan snapshot: %+v", cr)
	}

	// Mutating the plan afterwards must not change the pending request.
	store.plans[plan.ID].Credits = 5
	again, _ := store.GetRequestForUpdate(context.Background(), nil, cr.ID)
	if again.Credits != 100 {
		t.Errorf("snapshot drifted with plan edit: got %d credits", again.Credits)
	}
}

func TestSubmit_InactivePlan(t *testing.T) {
	plan := activePlan(100, 999)
	plan.Active = false
	store := newMockStore(plan)
	svc := NewService(store, &mockMutator{}, nil)
	if _, err := submit(svc, store, uuid.New(), plan.ID); !errors.Is(err, ErrPlanNotFound) {
		t.Fatalf("expected ErrPlanNotFound, got %v", err)
	}
}

func TestSubmit_PendingFlood(t *testing.T) {
	plan := activePlan(100, 999)
	store := newMockStore(plan)
	mut := &mockMutator{}
	svc := NewService(store, mut, nil)
	account := uuid.New()
	admin := uuid.New()
	ctx := context.Background()

	var first *models.CreditRequest
	for i := 0; i < models.MaxPendingRequests; i++ {
		cr, err := submit(svc, store, account, plan.ID)
		if err != nil {
			t.Fatalf("submit %d: %v", i+1, err)
		}
		if first == nil {
			first = cr
		}
	}

	// 4th pending request is rejected.
	if _, err := submit(svc, store, account, plan.ID); !errors.Is(err, ErrTooManyPendingRequests) {
		t.Fatalf("expected ErrTooManyPendingRequests, got %v", err)
	}

	// Reviewing one frees a slot.
	if _, _, err := svc.approveTx(ctx, nil, first.ID, admin); err != nil {
		t.Fatalf("approveTx: %v", err)
	}
	if _, err := submit(svc, store, account, plan.ID); err != nil {
		t.Fatalf("submit after approval: %v", err)
	}
}

func TestSubmit_ConcurrentCap(t *testing.T) {
	plan := activePlan(100, 999)
	store := newMockStore(plan)
	svc := NewService(store, &mockMutator{}, nil)
	account := uuid.New()

	const attempts = 10
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = submit(svc, store, account, plan.ID)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrTooManyPendingRequests):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != models.MaxPendingRequests {
		t.Fatalf("successful submissions: got %d, want %d", succeeded, models.MaxPendingRequests)
	}
	pending := 0
	store.mu.Lock()
	for _, cr := range store.requests {
		if cr.AccountID == account && cr.Status == models.RequestPending {
			pending++
		}
	}
	store.mu.Unlock()
	if pending != models.MaxPendingRequests {
		t.Fatalf("pending requests: got %d, want %d", pending, models.MaxPendingRequests)
	}
}

// ---------------------------------------------------------------------------
// 2. Approve credits exactly once, even when retried.
// ---------------------------------------------------------------------------

func TestApprove_Idempotent(t *testing.T) {
	plan := activePlan(100, 999)
	store := newMockStore(plan)
	mut := &mockMutator{}
	svc := NewService(store, mut, nil)
	account := uuid.New()
	admin := uuid.New()
	ctx := context.Background()

	cr, err := submit(svc, store, account, plan.ID)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got, applied, err := svc.approveTx(ctx, nil, cr.ID, admin)
	if err != nil {
		t.Fatalf("approveTx: %v", err)
	}
	if !applied {
		t.Fatal("first approval should apply")
	}
	if got.Status != models.RequestApproved {
		t.Errorf("status: got %q", got.Status)
	}
	if mut.balance(account) != 100 {
		t.Errorf("balance: got %d, want 100", mut.balance(account))
	}
	if len(mut.adjusts) != 1 {
		t.Fatalf("ledger credits: got %d, want 1", len(mut.adjusts))
	}
	if mut.adjusts[0].EntryType != models.EntryPurchaseApproved {
		t.Errorf("entry type: got %q", mut.adjusts[0].EntryType)
	}
	if mut.adjusts[0].ReferenceID == nil || *mut.adjusts[0].ReferenceID != cr.ID {
		t.Error("credit entry should reference the request id")
	}

	// Second approval: success, no second credit.
	got, applied, err = svc.approveTx(ctx, nil, cr.ID, admin)
	if err != nil {
		t.Fatalf("second approveTx: %v", err)
	}
	if applied {
		t.Error("second approval must be a no-op")
	}
	if got.Status != models.RequestApproved {
		t.Errorf("status after retry: got %q", got.Status)
	}
	if mut.balance(account) != 100 || mut.credits() != 1 {
		t.Errorf("double credit: balance=%d entries=%d", mut.balance(account), mut.credits())
	}
}

func TestApprove_NotFound(t *testing.T) {
	svc := NewService(newMockStore(), &mockMutator{}, nil)
	if _, _, err := svc.approveTx(context.Background(), nil, uuid.New(), uuid.New()); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// 3. Reject has no balance effect and is also idempotent.
// ---------------------------------------------------------------------------

func TestReject(t *testing.T) {
	plan := activePlan(100, 999)
	store := newMockStore(plan)
	mut := &mockMutator{}
	svc := NewService(store, mut, nil)
	account := uuid.New()
	admin := uuid.New()
	notes := "payment proof unreadable"
	ctx := context.Background()

	cr, err := submit(svc, store, account, plan.ID)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got, applied, err := svc.rejectTx(ctx, nil, cr.ID, admin, &notes)
	if err != nil || !applied {
		t.Fatalf("rejectTx: applied=%v err=%v", applied, err)
	}
	if got.Status != models.RequestRejected {
		t.Errorf("status: got %q", got.Status)
	}
	if got.AdminNotes == nil || *got.AdminNotes != notes {
		t.Error("admin notes not recorded")
	}
	if mut.credits() != 0 {
		t.Error("reject must not touch the ledger")
	}

	// Approving a rejected request is a no-op, not a late credit.
	_, applied, err = svc.approveTx(ctx, nil, cr.ID, admin)
	if err != nil {
		t.Fatalf("approve after reject: %v", err)
	}
	if applied || mut.credits() != 0 {
		t.Error("approve after reject must not credit")
	}
}
