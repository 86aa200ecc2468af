package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID                      uuid.UUID  `json:"id" db:"id"`
	TenantID                uuid.UUID  `json:"tenant_id" db:"tenant_id"`
	Email                   string     `json:"email" db:"email"`
	PasswordHash            string     `json:"-" db:"password_hash"` // Never serialize in JSON
	FirstName               string     `json:"first_name" db:"first_name"`
	LastName                string     `json:"last_name" db:"last_name"`
	Role                    string     `json:"role" db:"role"`
	Status                  string     `json:"status" db:"status"`
	EmailVerified           bool       `json:"email_verified" db:"email_verified"`
	TwoFactorEnabled        bool       `json:"two_factor_enabled" db:"two_factor_enabled"`
	TwoFactorSecret         *string    `json:"-" db:"two_factor_secret"`
	TokenValidAfter         time.Time  `json:"-" db:"token_valid_after"`
	LastLoginAt             *time.Time `json:"last_login_at" db:"last_login_at"`
	LastVerificationEmailAt *time.Time `json:"-" db:"last_verification_email_at"`
	CreatedAt               time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at" db:"updated_at"`
}

// IsActive reports whether the account may authenticate.
func (u *User) IsActive() bool {
	return u.Status == "active"
}
