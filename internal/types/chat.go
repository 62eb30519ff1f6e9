package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a conversation turn.
type Role string

// Conversation roles
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Confidence signals whether a chat reply is grounded in the scan.
type Confidence string

// Confidence values
const (
	ConfidenceHigh Confidence = "high"
	ConfidenceLow  Confidence = "low"
)

// ConversationTurn is one message of a conversation. ScanID is nil for
// profile-level conversations.
type ConversationTurn struct {
	ID        uuid.UUID  `json:"id"`
	Role      Role       `json:"role"`
	Text      string     `json:"text"`
	ScanID    *uuid.UUID `json:"scan_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ParseRole validates a stored role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleAssistant:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown conversation role %q", s)
	}
}
