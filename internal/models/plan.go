package models

import (
	"time"

	"github.com/google/uuid"
)

// Plan is a purchasable credit bundle. Price and credits are snapshotted onto
// a CreditRequest at submission time, so later plan edits never change what a
// pending request is worth.
type Plan struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	PriceCents int       `json:"price_cents"`
	Credits    int       `json:"credits"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}
