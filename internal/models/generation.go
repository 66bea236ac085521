package models

import (
	"time"

	"github.com/google/uuid"
)

// Generation lifecycle statuses. Completed and failed are terminal: once a
// generation reaches either, no further transition is permitted and repeated
// terminal webhooks are no-ops.
const (
	GenerationPending    = "pending"
	GenerationProcessing = "processing"
	GenerationCompleted  = "completed"
	GenerationFailed     = "failed"
)

// Generation tool types.
const (
	ToolTextToImage = "text-to-image"
	ToolTextToVideo = "text-to-video"
)

// Generation represents one external AI job. RequestUUID is chosen by the
// caller and doubles as the idempotency key for webhook deliveries.
type Generation struct {
	ID              uuid.UUID  `json:"id"`
	RequestUUID     uuid.UUID  `json:"request_uuid"`
	AccountID       uuid.UUID  `json:"account_id"`
	Tool            string     `json:"tool"`
	GenType         string     `json:"gen_type"`
	Model           string     `json:"model"`
	Prompt          *string    `json:"prompt,omitempty"`
	CreditsCharged  int        `json:"credits_charged"`
	Status          string     `json:"status"`
	ResultURL       *string    `json:"result_url,omitempty"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
	WebhookReceived bool       `json:"webhook_received"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the status admits no further transitions.
func (g *Generation) Terminal() bool {
	return g.Status == GenerationCompleted || g.Status == GenerationFailed
}
