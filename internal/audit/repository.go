package audit

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pillowpotion/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create appends one audit row. Rows are never updated or deleted.
func (r *Repository) Create(ctx context.Context, e *models.AuditLog) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO admin_audit_log (id, admin_id, action, target_user_id, details, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, e.ID, e.AdminID, e.Action, e.TargetUserID, e.Details, e.IPAddress).Scan(&e.CreatedAt)
}

func (r *Repository) List(ctx context.Context, limit, offset int) ([]*models.AuditLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, admin_id, action, target_user_id, details, ip_address, created_at
		FROM admin_audit_log ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.AuditLog
	for rows.Next() {
		var e models.AuditLog
		if err := rows.Scan(&e.ID, &e.AdminID, &e.Action, &e.TargetUserID, &e.Details, &e.IPAddress, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}
