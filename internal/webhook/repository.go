package webhook

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pillowpotion/backend/internal/models"
)

// ErrEventNotFound is returned when the raw event row is missing.
var ErrEventNotFound = errors.New("webhook event not found")

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// CreateTx stores the verbatim event inside the caller's transaction, so the
// raw log and the processing job enqueue commit together.
func (r *Repository) CreateTx(ctx context.Context, tx pgx.Tx, e *models.WebhookEvent) error {
	return tx.QueryRow(ctx, `
		INSERT INTO webhook_events (id, request_uuid, event_name, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, e.ID, e.RequestUUID, e.EventName, e.Payload).Scan(&e.CreatedAt)
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	var e models.WebhookEvent
	err := r.pool.QueryRow(ctx, `
		SELECT id, request_uuid, event_name, payload, processed, process_error, created_at, processed_at
		FROM webhook_events WHERE id = $1
	`, id).Scan(&e.ID, &e.RequestUUID, &e.EventName, &e.Payload, &e.Processed, &e.ProcessError, &e.CreatedAt, &e.ProcessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return &e, nil
}

// MarkProcessed stamps the event exactly once, with processErr holding the
// interpretation failure when there was one.
func (r *Repository) MarkProcessed(ctx context.Context, id uuid.UUID, processErr *string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE webhook_events SET processed = TRUE, process_error = $2, processed_at = now()
		WHERE id = $1
	`, id, processErr)
	return err
}
