package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pillowpotion/backend/internal/ledger"
	"github.com/pillowpotion/backend/internal/models"
)

// ErrNotFound is returned when no generation matches the id or request UUID.
var ErrNotFound = errors.New("generation not found")

// ErrInvalidTransition is returned for backward non-terminal transitions.
// Duplicate terminal transitions are NOT errors: they succeed as no-ops.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrDuplicateRequestUUID is returned when the caller reuses a request UUID.
var ErrDuplicateRequestUUID = errors.New("request uuid already exists")

// Store is the generation persistence the service needs.
type Store interface {
	CreateTx(ctx context.Context, tx pgx.Tx, g *models.Generation) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Generation, error)
	GetByRequestUUID(ctx context.Context, requestUUID uuid.UUID) (*models.Generation, error)
	GetByRequestUUIDForUpdate(ctx context.Context, tx pgx.Tx, requestUUID uuid.UUID) (*models.Generation, error)
	SetStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string, resultURL, errorMessage *string, terminal bool) error
}

// Mutator is the slice of the balance mutator the tracker orchestrates.
type Mutator interface {
	Adjust(ctx context.Context, tx pgx.Tx, adj ledger.Adjustment) (int, error)
	HasRefundFor(ctx context.Context, tx pgx.Tx, generationID uuid.UUID) (bool, error)
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// StatusUpdate carries the optional fields a status transition may set.
type StatusUpdate struct {
	ResultURL         *string
	ErrorMessage      *string
	ActualCreditsUsed *int
}

// StartParams describes a new generation request.
type StartParams struct {
	AccountID   uuid.UUID
	Tool        string
	GenType     string
	Model       string
	Prompt      *string
	Credits     int
	RequestUUID uuid.UUID
}

// Service tracks each external job through its lifecycle. Status transitions
// for one request UUID are serialized by the row lock taken in
// GetByRequestUUIDForUpdate, and the refund a failed job earns is issued in
// the same transaction as the terminal transition, so a duplicate webhook can
// neither transition twice nor refund twice.
type Service struct {
	repo Store
	mut  Mutator
	db   TxBeginner
}

func NewService(repo Store, mut Mutator, db TxBeginner) *Service {
	return &Service{repo: repo, mut: mut, db: db}
}

// Start debits the account and inserts the pending generation in one
// transaction. The ledger entry references the generation id.
func (s *Service) Start(ctx context.Context, p StartParams) (*models.Generation, error) {
	if p.Credits <= 0 {
		return nil, fmt.Errorf("credits must be positive")
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	g, err := s.startTx(ctx, tx, p)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Service) startTx(ctx context.Context, tx pgx.Tx, p StartParams) (*models.Generation, error) {
	g := &models.Generation{
		ID:             uuid.New(),
		RequestUUID:    p.RequestUUID,
		AccountID:      p.AccountID,
		Tool:           p.Tool,
		GenType:        p.GenType,
		Model:          p.Model,
		Prompt:         p.Prompt,
		CreditsCharged: p.Credits,
		Status:         models.GenerationPending,
	}
	desc := fmt.Sprintf("%s generation (%s)", p.Tool, p.Model)
	_, err := s.mut.Adjust(ctx, tx, ledger.Adjustment{
		AccountID:   p.AccountID,
		Amount:      -p.Credits,
		EntryType:   models.EntryGenerationDebit,
		ReferenceID: &g.ID,
		Model:       &p.Model,
		Description: &desc,
	})
	if err != nil {
		return nil, err
	}
	if err := s.repo.CreateTx(ctx, tx, g); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateRequestUUID
		}
		return nil, err
	}
	return g, nil
}

// Resolve applies a webhook-driven status transition, issuing the refund a
// failed (or under-consumed completed) job earns in the same transaction.
// The returned bool is false when the generation was already terminal and the
// call was a no-op.
func (s *Service) Resolve(ctx context.Context, requestUUID uuid.UUID, newStatus string, upd StatusUpdate) (*models.Generation, bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	g, applied, err := s.resolveTx(ctx, tx, requestUUID, newStatus, upd)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return g, applied, nil
}

func (s *Service) resolveTx(ctx context.Context, tx pgx.Tx, requestUUID uuid.UUID, newStatus string, upd StatusUpdate) (*models.Generation, bool, error) {
	switch newStatus {
	case models.GenerationProcessing, models.GenerationCompleted, models.GenerationFailed:
	default:
		return nil, false, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, newStatus)
	}

	g, err := s.repo.GetByRequestUUIDForUpdate(ctx, tx, requestUUID)
	if err != nil {
		return nil, false, err
	}
	if g.Terminal() {
		// Webhook retry for a settled job: succeed without touching anything.
		return g, false, nil
	}
	if newStatus == models.GenerationProcessing && g.Status != models.GenerationPending {
		return nil, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, g.Status, newStatus)
	}

	terminal := newStatus == models.GenerationCompleted || newStatus == models.GenerationFailed
	if err := s.repo.SetStatusTx(ctx, tx, g.ID, newStatus, upd.ResultURL, upd.ErrorMessage, terminal); err != nil {
		return nil, false, err
	}
	g.Status = newStatus
	if upd.ResultURL != nil {
		g.ResultURL = upd.ResultURL
	}
	if upd.ErrorMessage != nil {
		g.ErrorMessage = upd.ErrorMessage
	}
	if terminal {
		g.WebhookReceived = true
		if err := s.refundTx(ctx, tx, g, upd.ActualCreditsUsed); err != nil {
			return nil, false, err
		}
	}
	return g, true, nil
}

// refundTx returns unused credits after a terminal transition: the full charge
// (minus any reported usage) on failure, the unused difference on completion.
func (s *Service) refundTx(ctx context.Context, tx pgx.Tx, g *models.Generation, actualUsed *int) error {
	refund := 0
	switch g.Status {
	case models.GenerationFailed:
		refund = g.CreditsCharged
		if actualUsed != nil && *actualUsed > 0 && *actualUsed < g.CreditsCharged {
			refund = g.CreditsCharged - *actualUsed
		}
	case models.GenerationCompleted:
		if actualUsed != nil && *actualUsed >= 0 && *actualUsed < g.CreditsCharged {
			refund = g.CreditsCharged - *actualUsed
		}
	}
	if refund <= 0 {
		return nil
	}
	already, err := s.mut.HasRefundFor(ctx, tx, g.ID)
	if err != nil {
		return err
	}
	if already {
		return nil
	}
	desc := fmt.Sprintf("refund for %s generation", g.Status)
	_, err = s.mut.Adjust(ctx, tx, ledger.Adjustment{
		AccountID:   g.AccountID,
		Amount:      refund,
		EntryType:   models.EntryGenerationRefund,
		ReferenceID: &g.ID,
		Model:       &g.Model,
		Description: &desc,
	})
	return err
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Generation, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByRequestUUID(ctx context.Context, requestUUID uuid.UUID) (*models.Generation, error) {
	return s.repo.GetByRequestUUID(ctx, requestUUID)
}
