package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pillowpotion/backend/internal/models"
)

// ErrInsufficientCredits is returned when a debit would take the balance
// negative. The operation has no side effect in that case.
var ErrInsufficientCredits = errors.New("insufficient credits")

// ErrAccountNotFound is returned when the account id does not exist.
var ErrAccountNotFound = errors.New("account not found")

// AccountStore is the minimal account access the mutator needs.
type AccountStore interface {
	GetAccountForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error)
	ApplyBalanceDelta(ctx context.Context, tx pgx.Tx, id uuid.UUID, delta int) (int, error)
}

// EntryStore is the minimal ledger access the mutator needs.
type EntryStore interface {
	CreateEntryTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error
	HasEntryForReferenceTx(ctx context.Context, tx pgx.Tx, entryType string, refID uuid.UUID) (bool, error)
}

// Adjustment describes one signed balance change.
type Adjustment struct {
	AccountID   uuid.UUID
	Amount      int
	EntryType   string
	ReferenceID *uuid.UUID
	Model       *string
	Description *string
}

// Service is the only code path permitted to change an account balance.
// Adjust runs inside the caller's transaction: the account row lock acquired
// here serializes concurrent mutations per account, and the balance update and
// ledger append commit or roll back together with everything else in the
// transaction.
type Service struct {
	accounts AccountStore
	entries  EntryStore
}

func NewService(accounts AccountStore, entries EntryStore) *Service {
	return &Service{accounts: accounts, entries: entries}
}

// Adjust applies adj atomically and returns the new balance. The non-negative
// check happens under the row lock, after the locked read, so two concurrent
// debits can never both observe a sufficient balance.
func (s *Service) Adjust(ctx context.Context, tx pgx.Tx, adj Adjustment) (int, error) {
	if adj.Amount == 0 {
		return 0, fmt.Errorf("adjustment amount must be non-zero")
	}
	acc, err := s.accounts.GetAccountForUpdate(ctx, tx, adj.AccountID)
	if err != nil {
		return 0, err
	}
	if acc.CreditBalance+adj.Amount < 0 {
		return acc.CreditBalance, ErrInsufficientCredits
	}
	newBalance, err := s.accounts.ApplyBalanceDelta(ctx, tx, adj.AccountID, adj.Amount)
	if err != nil {
		return 0, err
	}
	entry := &models.LedgerEntry{
		ID:           uuid.New(),
		AccountID:    adj.AccountID,
		Amount:       adj.Amount,
		BalanceAfter: newBalance,
		EntryType:    adj.EntryType,
		ReferenceID:  adj.ReferenceID,
		Model:        adj.Model,
		Description:  adj.Description,
	}
	if err := s.entries.CreateEntryTx(ctx, tx, entry); err != nil {
		return 0, err
	}
	return newBalance, nil
}

// HasRefundFor reports whether a generation_refund entry already references
// the given generation. The reference check and the refund it guards must run
// in the same transaction.
func (s *Service) HasRefundFor(ctx context.Context, tx pgx.Tx, generationID uuid.UUID) (bool, error) {
	return s.entries.HasEntryForReferenceTx(ctx, tx, models.EntryGenerationRefund, generationID)
}
