package billing

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pillowpotion/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *Repository) GetActivePlan(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	var p models.Plan
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, price_cents, credits, active, created_at
		FROM plans WHERE id = $1 AND active
	`, id).Scan(&p.ID, &p.Name, &p.PriceCents, &p.Credits, &p.Active, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *Repository) ListActivePlans(ctx context.Context) ([]*models.Plan, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, price_cents, credits, active, created_at
		FROM plans WHERE active ORDER BY price_cents ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Plan
	for rows.Next() {
		var p models.Plan
		if err := rows.Scan(&p.ID, &p.Name, &p.PriceCents, &p.Credits, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &p)
	}
	return list, rows.Err()
}

// LockAccountTx takes the account row lock so concurrent submissions for the
// same account serialize, keeping the pending-request cap exact.
func (r *Repository) LockAccountTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) error {
	var id uuid.UUID
	err := tx.QueryRow(ctx, `
		SELECT id FROM accounts WHERE id = $1 FOR UPDATE
	`, accountID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrAccountNotFound
	}
	return err
}

// CreateRequestTx inserts the request only while the account is under the
// pending cap; the count runs in the same statement as the insert.
func (r *Repository) CreateRequestTx(ctx context.Context, tx pgx.Tx, cr *models.CreditRequest) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO credit_requests (id, account_id, plan_id, plan_name, amount_cents, credits, payment_proof, status, admin_notes)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9
		WHERE (SELECT COUNT(*) FROM credit_requests WHERE account_id = $2 AND status = $8) < $10
		RETURNING created_at
	`, cr.ID, cr.AccountID, cr.PlanID, cr.PlanName, cr.AmountCents, cr.Credits, cr.PaymentProof, cr.Status, cr.AdminNotes,
		models.MaxPendingRequests).Scan(&cr.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrTooManyPendingRequests
	}
	return err
}

const requestColumns = `id, account_id, plan_id, plan_name, amount_cents, credits, payment_proof, status, admin_notes, reviewed_by, created_at, reviewed_at`

func scanRequest(row pgx.Row) (*models.CreditRequest, error) {
	var cr models.CreditRequest
	err := row.Scan(&cr.ID, &cr.AccountID, &cr.PlanID, &cr.PlanName, &cr.AmountCents, &cr.Credits,
		&cr.PaymentProof, &cr.Status, &cr.AdminNotes, &cr.ReviewedBy, &cr.CreatedAt, &cr.ReviewedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return &cr, nil
}

// GetRequestForUpdate locks the request row so concurrent approvals of the
// same request serialize.
func (r *Repository) GetRequestForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.CreditRequest, error) {
	return scanRequest(tx.QueryRow(ctx, `
		SELECT `+requestColumns+` FROM credit_requests WHERE id = $1 FOR UPDATE
	`, id))
}

// SetStatusTx flips the request status inside the caller's transaction, so
// the ledger credit and the approved flag commit together.
func (r *Repository) SetStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string, adminID uuid.UUID, notes *string) error {
	_, err := tx.Exec(ctx, `
		UPDATE credit_requests
		SET status = $2, reviewed_by = $3, admin_notes = COALESCE($4, admin_notes), reviewed_at = now()
		WHERE id = $1
	`, id, status, adminID, notes)
	return err
}

func (r *Repository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.CreditRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+requestColumns+` FROM credit_requests
		WHERE account_id = $1 ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.CreditRequest
	for rows.Next() {
		cr, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, cr)
	}
	return list, rows.Err()
}

func (r *Repository) ListByStatus(ctx context.Context, status string, limit, offset int) ([]*models.CreditRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+requestColumns+` FROM credit_requests
		WHERE status = $1 ORDER BY created_at ASC
		LIMIT $2 OFFSET $3
	`, status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.CreditRequest
	for rows.Next() {
		cr, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, cr)
	}
	return list, rows.Err()
}
