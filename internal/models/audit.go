package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Audit action types written by the admin surface.
const (
	AuditApproveCreditRequest = "approve_credit_request"
	AuditRejectCreditRequest  = "reject_credit_request"
	AuditAdjustCredits        = "adjust_credits"
)

// AuditLog is an append-only record of a privileged action. Rows are never
// updated or deleted.
type AuditLog struct {
	ID           uuid.UUID       `json:"id"`
	AdminID      uuid.UUID       `json:"admin_id"`
	Action       string          `json:"action"`
	TargetUserID *uuid.UUID      `json:"target_user_id,omitempty"`
	Details      json.RawMessage `json:"details,omitempty"`
	IPAddress    string          `json:"ip_address"`
	CreatedAt    time.Time       `json:"created_at"`
}
