package models

import (
	"time"

	"github.com/google/uuid"
)

// VerificationToken is a single-use email-verification token. It is
// consumed (deleted) on successful verification, never marked used-but-kept.
type VerificationToken struct {
	Token     string    `json:"-" db:"token"`
	TenantID  uuid.UUID `json:"tenant_id" db:"tenant_id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
