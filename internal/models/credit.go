package models

import (
	"time"

	"github.com/google/uuid"
)

// Ledger entry_type enums. Amounts are signed: debits negative, credits positive.
const (
	EntrySignupBonus      = "signup_bonus"
	EntryPurchaseApproved = "purchase_approved"
	EntryGenerationDebit  = "generation_debit"
	EntryGenerationRefund = "generation_refund"
	EntryAdminAdjustment  = "admin_adjustment"
)

// LedgerEntry is an immutable, append-only record of one balance change.
// BalanceAfter is the account balance as of this write, so the full history
// forms a verifiable chain: each entry's BalanceAfter equals the previous
// entry's BalanceAfter plus Amount.
type LedgerEntry struct {
	ID           uuid.UUID  `json:"id"`
	AccountID    uuid.UUID  `json:"account_id"`
	Amount       int        `json:"amount"`
	BalanceAfter int        `json:"balance_after"`
	EntryType    string     `json:"entry_type"`
	ReferenceID  *uuid.UUID `json:"reference_id,omitempty"`
	Model        *string    `json:"model,omitempty"`
	Description  *string    `json:"description,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
