package ledger

import (
	"context"
	"errors"
	"time"

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

// GetAccountForUpdate locks the account row for the duration of the
// transaction. Every balance mutation starts here.
func (r *Repository) GetAccountForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error) {
	var a models.Account
	err := tx.QueryRow(ctx, `
		SELECT id, email, name, password_hash, role, credit_balance, created_at, updated_at
		FROM accounts WHERE id = $1 FOR UPDATE
	`, id).Scan(&a.ID, &a.Email, &a.Name, &a.PasswordHash, &a.Role, &a.CreditBalance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &a, nil
}

// ApplyBalanceDelta adds delta (signed) to the account balance, refusing to go
// negative. Call after GetAccountForUpdate in the same transaction. Returns
// ErrInsufficientCredits when the conditional update matches no row.
func (r *Repository) ApplyBalanceDelta(ctx context.Context, tx pgx.Tx, id uuid.UUID, delta int) (newBalance int, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE accounts SET credit_balance = credit_balance + $1, updated_at = now()
		WHERE id = $2 AND credit_balance + $1 >= 0
		RETURNING credit_balance
	`, delta, id).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrInsufficientCredits
	}
	return newBalance, err
}

// CreateEntryTx appends one ledger row inside the given transaction.
func (r *Repository) CreateEntryTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error {
	return tx.QueryRow(ctx, `
		INSERT INTO credit_ledger (id, account_id, amount, balance_after, entry_type, reference_id, model, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, e.ID, e.AccountID, e.Amount, e.BalanceAfter, e.EntryType, e.ReferenceID, e.Model, e.Description).Scan(&e.CreatedAt)
}

// HasEntryForReferenceTx reports whether an entry of the given type already
// references refID. Used to suppress double refunds.
func (r *Repository) HasEntryForReferenceTx(ctx context.Context, tx pgx.Tx, entryType string, refID uuid.UUID) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM credit_ledger WHERE entry_type = $1 AND reference_id = $2)
	`, entryType, refID).Scan(&exists)
	return exists, err
}

func (r *Repository) GetBalance(ctx context.Context, accountID uuid.UUID) (int, error) {
	var balance int
	err := r.pool.QueryRow(ctx, `
		SELECT credit_balance FROM accounts WHERE id = $1
	`, accountID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrAccountNotFound
	}
	return balance, err
}

func (r *Repository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*models.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, amount, balance_after, entry_type, reference_id, model, description, created_at
		FROM credit_ledger WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Amount, &e.BalanceAfter, &e.EntryType, &e.ReferenceID, &e.Model, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}

func (r *Repository) CountByAccount(ctx context.Context, accountID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM credit_ledger WHERE account_id = $1
	`, accountID).Scan(&n)
	return n, err
}

// CategoryStat summarizes ledger activity for one entry type.
type CategoryStat struct {
	EntryType string    `json:"entry_type"`
	Earned    int       `json:"earned"`
	Spent     int       `json:"spent"`
	Count     int       `json:"count"`
	LastAt    time.Time `json:"last_at"`
}

// StatsByAccount returns per-category earned/spent totals and entry counts.
func (r *Repository) StatsByAccount(ctx context.Context, accountID uuid.UUID) ([]*CategoryStat, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT entry_type,
			COALESCE(SUM(amount) FILTER (WHERE amount > 0), 0) AS earned,
			COALESCE(-SUM(amount) FILTER (WHERE amount < 0), 0) AS spent,
			COUNT(*),
			MAX(created_at)
		FROM credit_ledger WHERE account_id = $1
		GROUP BY entry_type ORDER BY entry_type
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var stats []*CategoryStat
	for rows.Next() {
		var s CategoryStat
		if err := rows.Scan(&s.EntryType, &s.Earned, &s.Spent, &s.Count, &s.LastAt); err != nil {
			return nil, err
		}
		stats = append(stats, &s)
	}
	return stats, rows.Err()
}
