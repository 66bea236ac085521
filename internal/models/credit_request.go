package models

import (
	"time"

	"github.com/google/uuid"
)

// Credit request statuses. Approved and rejected are terminal.
const (
	RequestPending  = "pending"
	RequestApproved = "approved"
	RequestRejected = "rejected"
)

// MaxPendingRequests caps concurrently pending requests per account.
const MaxPendingRequests = 3

// CreditRequest is a purchase awaiting manual admin review. PlanName,
// AmountCents and Credits are snapshots of the plan at submission time.
type CreditRequest struct {
	ID           uuid.UUID  `json:"id"`
	AccountID    uuid.UUID  `json:"account_id"`
	PlanID       uuid.UUID  `json:"plan_id"`
	PlanName     string     `json:"plan_name"`
	AmountCents  int        `json:"amount_cents"`
	Credits      int        `json:"credits"`
	PaymentProof string     `json:"payment_proof"`
	Status       string     `json:"status"`
	AdminNotes   *string    `json:"admin_notes,omitempty"`
	ReviewedBy   *uuid.UUID `json:"reviewed_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ReviewedAt   *time.Time `json:"reviewed_at,omitempty"`
}
