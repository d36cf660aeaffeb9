package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a chat message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Metadata carries optional per-message annotations
type Metadata struct {
	ResponseTime     int64   `json:"responseTime,omitempty"` // milliseconds
	Model            string  `json:"model,omitempty"`
	Blocked          bool    `json:"blocked,omitempty"`
	Reason           string  `json:"reason,omitempty"`
	Warning          string  `json:"warning,omitempty"`
	Mock             bool    `json:"mock,omitempty"`
	Confidence       float64 `json:"confidence,omitempty"`
	SensitiveWarning string  `json:"sensitiveWarning,omitempty"`
}

// ChatMessage represents a single conversation turn
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Metadata  *Metadata `json:"metadata,omitempty"`
}

// NewMessageID derives a message identity from its role and creation time
func NewMessageID(role Role, ts time.Time) string {
	return fmt.Sprintf("%s-%d-%s", role, ts.UnixMilli(), uuid.NewString()[:8])
}
