package generation

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

const generationColumns = `id, request_uuid, account_id, tool, gen_type, model, prompt, credits_charged, status, result_url, error_message, webhook_received, created_at, completed_at`

func scanGeneration(row pgx.Row) (*models.Generation, error) {
	var g models.Generation
	err := row.Scan(&g.ID, &g.RequestUUID, &g.AccountID, &g.Tool, &g.GenType, &g.Model, &g.Prompt, &g.CreditsCharged,
		&g.Status, &g.ResultURL, &g.ErrorMessage, &g.WebhookReceived, &g.CreatedAt, &g.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &g, nil
}

// CreateTx inserts a new generation inside the caller's transaction, so the
// credit debit and the pending record commit together.
func (r *Repository) CreateTx(ctx context.Context, tx pgx.Tx, g *models.Generation) error {
	return tx.QueryRow(ctx, `
		INSERT INTO generations (id, request_uuid, account_id, tool, gen_type, model, prompt, credits_charged, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, g.ID, g.RequestUUID, g.AccountID, g.Tool, g.GenType, g.Model, g.Prompt, g.CreditsCharged, g.Status).Scan(&g.CreatedAt)
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Generation, error) {
	return scanGeneration(r.pool.QueryRow(ctx, `
		SELECT `+generationColumns+` FROM generations WHERE id = $1
	`, id))
}

func (r *Repository) GetByRequestUUID(ctx context.Context, requestUUID uuid.UUID) (*models.Generation, error) {
	return scanGeneration(r.pool.QueryRow(ctx, `
		SELECT `+generationColumns+` FROM generations WHERE request_uuid = $1
	`, requestUUID))
}

// GetByRequestUUIDForUpdate locks the generation row so two webhook deliveries
// for the same UUID cannot both observe a non-terminal status.
func (r *Repository) GetByRequestUUIDForUpdate(ctx context.Context, tx pgx.Tx, requestUUID uuid.UUID) (*models.Generation, error) {
	return scanGeneration(tx.QueryRow(ctx, `
		SELECT `+generationColumns+` FROM generations WHERE request_uuid = $1 FOR UPDATE
	`, requestUUID))
}

// SetStatusTx writes the status and optional fields. terminal additionally
// stamps completed_at and webhook_received in the same statement.
func (r *Repository) SetStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string, resultURL, errorMessage *string, terminal bool) error {
	if terminal {
		_, err := tx.Exec(ctx, `
			UPDATE generations
			SET status = $2,
				result_url = COALESCE($3, result_url),
				error_message = COALESCE($4, error_message),
				webhook_received = TRUE,
				completed_at = now()
			WHERE id = $1
		`, id, status, resultURL, errorMessage)
		return err
	}
	_, err := tx.Exec(ctx, `
		UPDATE generations
		SET status = $2,
			result_url = COALESCE($3, result_url),
			error_message = COALESCE($4, error_message)
		WHERE id = $1
	`, id, status, resultURL, errorMessage)
	return err
}

func (r *Repository) ListByAccount(ctx context.Context, accountID uuid.UUID, tool string, limit, offset int) ([]*models.Generation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+generationColumns+` FROM generations
		WHERE account_id = $1 AND ($2 = '' OR tool = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4
	`, accountID, tool, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Generation
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, g)
	}
	return list, rows.Err()
}

func (r *Repository) CountByAccount(ctx context.Context, accountID uuid.UUID, tool string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM generations WHERE account_id = $1 AND ($2 = '' OR tool = $2)
	`, accountID, tool).Scan(&n)
	return n, err
}

// AccountStats aggregates one account's generation history.
type AccountStats struct {
	Total             int            `json:"total"`
	ByStatus          map[string]int `json:"by_status"`
	ByTool            map[string]int `json:"by_tool"`
	TotalCreditsSpent int            `json:"total_credits_spent"`
}

func (r *Repository) StatsByAccount(ctx context.Context, accountID uuid.UUID) (*AccountStats, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT tool, status, COUNT(*), COALESCE(SUM(credits_charged), 0)
		FROM generations WHERE account_id = $1
		GROUP BY tool, status
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	stats := &AccountStats{ByStatus: map[string]int{}, ByTool: map[string]int{}}
	for rows.Next() {
		var tool, status string
		var count, credits int
		if err := rows.Scan(&tool, &status, &count, &credits); err != nil {
			return nil, err
		}
		stats.Total += count
		stats.ByStatus[status] += count
		stats.ByTool[tool] += count
		if status != models.GenerationFailed {
			stats.TotalCreditsSpent += credits
		}
	}
	return stats, rows.Err()
}
