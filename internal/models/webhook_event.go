package models

import (
	"time"

	"github.com/google/uuid"
)

// WebhookEvent is the verbatim record of one provider callback, written before
// any interpretation is attempted so malformed payloads can be replayed and
// audited. Payload is the raw request body exactly as received; it is not
// guaranteed to be valid JSON. Processed is set exactly once, with
// ProcessError holding the note when interpretation failed.
type WebhookEvent struct {
	ID           uuid.UUID  `json:"id"`
	RequestUUID  *uuid.UUID `json:"request_uuid,omitempty"`
	EventName    string     `json:"event_name"`
	Payload      []byte     `json:"payload"`
	Processed    bool       `json:"processed"`
	ProcessError *string    `json:"process_error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
}
