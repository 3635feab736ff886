package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// VoiceCommand is the audit record for a user-issued command.
type VoiceCommand struct {
	ID         int64     `json:"id"`
	CommandID  string    `json:"command_id"`
	UserID     int64     `json:"user_id"`
	Text       string    `json:"text"`
	IntentType string    `json:"intent_type,omitempty"`
	Processed  bool      `json:"processed"`
	CreatedAt  time.Time `json:"created_at"`
}

// MaxCommandLength bounds the accepted command text.
const MaxCommandLength = 1000

// NewCommandID builds a globally unique command identifier embedding
// the issuing user and issue time, so a stray identifier in a log can
// be traced back without a lookup.
func NewCommandID(userID int64, now time.Time) string {
	return fmt.Sprintf("cmd_%d_%d_%s", userID, now.UnixMilli(), uuid.NewString()[:8])
}
