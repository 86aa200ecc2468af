package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is one row of the refresh-token ledger: a single active
// refresh-token chain for one device.
type Session struct {
	ID         uuid.UUID `json:"id" db:"id"`
	TenantID   uuid.UUID `json:"tenant_id" db:"tenant_id"`
	UserID     uuid.UUID `json:"user_id" db:"user_id"`
	Token      string    `json:"-" db:"token"` // Never return in JSON
	DeviceID   string    `json:"device_id" db:"device_id"`
	DeviceName string    `json:"device_name" db:"device_name"`
	UserAgent  string    `json:"user_agent" db:"user_agent"`
	IPAddress  string    `json:"ip_address" db:"ip_address"`
	Location   *string   `json:"location" db:"location"`
	ExpiresAt  time.Time `json:"expires_at" db:"expires_at"`
	LastUsedAt time.Time `json:"last_used_at" db:"last_used_at"`
	IsActive   bool      `json:"is_active" db:"is_active"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
