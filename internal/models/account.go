package models

import (
	"time"

	"github.com/google/uuid"
)

// Account roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type Account struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	PasswordHash  string    `json:"-"`
	Role          string    `json:"role"`
	CreditBalance int       `json:"credit_balance"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (a *Account) IsAdmin() bool { return a.Role == RoleAdmin }
