package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pillowpotion/backend/internal/models"
)

// Store is the append-only sink the recorder writes to.
type Store interface {
	Create(ctx context.Context, e *models.AuditLog) error
	List(ctx context.Context, limit, offset int) ([]*models.AuditLog, error)
}

// Service records privileged actions. It is a passive observer: a failed
// audit write is logged but never fails the action it describes.
type Service struct {
	repo Store
	log  *slog.Logger
}

func NewService(repo Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, log: log}
}

// Record writes one audit row. details is marshalled to JSON; a nil details
// stores NULL.
func (s *Service) Record(ctx context.Context, adminID uuid.UUID, action string, targetUserID *uuid.UUID, details any, ip string) {
	var raw json.RawMessage
	if details != nil {
		b, err := json.Marshal(details)
		if err != nil {
			s.log.Error("audit detail marshal failed", "action", action, "error", err)
		} else {
			raw = b
		}
	}
	e := &models.AuditLog{
		ID:           uuid.New(),
		AdminID:      adminID,
		Action:       action,
		TargetUserID: targetUserID,
		Details:      raw,
		IPAddress:    ip,
	}
	if err := s.repo.Create(ctx, e); err != nil {
		s.log.Error("audit write failed", "action", action, "admin_id", adminID, "error", err)
	}
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*models.AuditLog, error) {
	return s.repo.List(ctx, limit, offset)
}
