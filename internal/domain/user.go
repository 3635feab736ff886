package domain

import (
	"time"
)

// User represents a registered account.
type User struct {
	ID               int64     `json:"id"`
	Username         string    `json:"username"`
	Email            string    `json:"email,omitempty"`
	Phone            string    `json:"phone,omitempty"`
	PasswordHash     string    `json:"-"`
	RefreshToken     string    `json:"-"`
	MarketingConsent bool      `json:"marketing_consent,omitempty"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
