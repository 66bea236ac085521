package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pillowpotion/backend/internal/ledger"
	"github.com/pillowpotion/backend/internal/models"
)

// ErrPlanNotFound is returned when the plan does not exist or is inactive.
var ErrPlanNotFound = errors.New("plan not found")

// ErrRequestNotFound is returned when the credit request does not exist.
var ErrRequestNotFound = errors.New("credit request not found")

// ErrTooManyPendingRequests is returned when an account already has the
// maximum number of pending requests. Retry after one is reviewed.
var ErrTooManyPendingRequests = errors.New("too many pending credit requests")

// ErrAccountNotFound is returned when the submitting account does not exist.
var ErrAccountNotFound = errors.New("account not found")

// Store is the persistence surface the workflow needs.
type Store interface {
	GetActivePlan(ctx context.Context, id uuid.UUID) (*models.Plan, error)
	LockAccountTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) error
	CreateRequestTx(ctx context.Context, tx pgx.Tx, cr *models.CreditRequest) error
	GetRequestForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.CreditRequest, error)
	SetStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string, adminID uuid.UUID, notes *string) error
}

// Mutator is the slice of the balance mutator approval delegates to. The
// workflow never writes balances itself.
type Mutator interface {
	Adjust(ctx context.Context, tx pgx.Tx, adj ledger.Adjustment) (int, error)
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service manages purchase requests awaiting manual admin review.
type Service struct {
	repo Store
	mut  Mutator
	db   TxBeginner
}

func NewService(repo Store, mut Mutator, db TxBeginner) *Service {
	return &Service{repo: repo, mut: mut, db: db}
}

// Submit validates the plan and records a pending request, snapshotting the
// plan's current name, price and credits so later plan edits don't change
// what was requested. The pending cap is enforced under the account row lock,
// so concurrent submissions cannot slip past it.
func (s *Service) Submit(ctx context.Context, accountID, planID uuid.UUID, paymentProof string, notes *string) (*models.CreditRequest, error) {
	plan, err := s.repo.GetActivePlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	cr, err := s.submitTx(ctx, tx, accountID, plan, paymentProof, notes)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return cr, nil
}

func (s *Service) submitTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, plan *models.Plan, paymentProof string, notes *string) (*models.CreditRequest, error) {
	if err := s.repo.LockAccountTx(ctx, tx, accountID); err != nil {
		return nil, err
	}
	cr := &models.CreditRequest{
		ID:           uuid.New(),
		AccountID:    accountID,
		PlanID:       plan.ID,
		PlanName:     plan.Name,
		AmountCents:  plan.PriceCents,
		Credits:      plan.Credits,
		PaymentProof: paymentProof,
		Status:       models.RequestPending,
		AdminNotes:   notes,
	}
	if err := s.repo.CreateRequestTx(ctx, tx, cr); err != nil {
		return nil, err
	}
	return cr, nil
}

// Approve credits the account and marks the request approved in one
// transaction. It is idempotent: a request that is no longer pending returns
// success without a second credit, so a double-click or retried admin action
// never double-credits.
func (s *Service) Approve(ctx context.Context, requestID, adminID uuid.UUID) (*models.CreditRequest, bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	cr, applied, err := s.approveTx(ctx, tx, requestID, adminID)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return cr, applied, nil
}

func (s *Service) approveTx(ctx context.Context, tx pgx.Tx, requestID, adminID uuid.UUID) (*models.CreditRequest, bool, error) {
	cr, err := s.repo.GetRequestForUpdate(ctx, tx, requestID)
	if err != nil {
		return nil, false, err
	}
	if cr.Status != models.RequestPending {
		return cr, false, nil
	}
	desc := fmt.Sprintf("purchase of %s", cr.PlanName)
	if _, err := s.mut.Adjust(ctx, tx, ledger.Adjustment{
		AccountID:   cr.AccountID,
		Amount:      cr.Credits,
		EntryType:   models.EntryPurchaseApproved,
		ReferenceID: &cr.ID,
		Description: &desc,
	}); err != nil {
		return nil, false, err
	}
	if err := s.repo.SetStatusTx(ctx, tx, cr.ID, models.RequestApproved, adminID, nil); err != nil {
		return nil, false, err
	}
	cr.Status = models.RequestApproved
	cr.ReviewedBy = &adminID
	return cr, true, nil
}

// Reject marks the request rejected with no balance effect. Like Approve it
// is a no-op on non-pending requests.
func (s *Service) Reject(ctx context.Context, requestID, adminID uuid.UUID, notes *string) (*models.CreditRequest, bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	cr, applied, err := s.rejectTx(ctx, tx, requestID, adminID, notes)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return cr, applied, nil
}

func (s *Service) rejectTx(ctx context.Context, tx pgx.Tx, requestID, adminID uuid.UUID, notes *string) (*models.CreditRequest, bool, error) {
	cr, err := s.repo.GetRequestForUpdate(ctx, tx, requestID)
	if err != nil {
		return nil, false, err
	}
	if cr.Status != models.RequestPending {
		return cr, false, nil
	}
	if err := s.repo.SetStatusTx(ctx, tx, cr.ID, models.RequestRejected, adminID, notes); err != nil {
		return nil, false, err
	}
	cr.Status = models.RequestRejected
	cr.ReviewedBy = &adminID
	if notes != nil {
		cr.AdminNotes = notes
	}
	return cr, true, nil
}
