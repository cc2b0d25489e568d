package chat

import "time"

// Role identifies the author of a history entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// HistoryEntry is one turn of the rolling conversation window.
type HistoryEntry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Session tracks a visitor's usage and rolling context, keyed by an opaque
// client-held identifier. The identifier is untrusted input, not a secret.
type Session struct {
	ID              string         `json:"id"`
	UsageCount      int            `json:"usageCount"`
	LinkedAccountID string         `json:"linkedAccountId,omitempty"`
	History         []HistoryEntry `json:"history,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// Linked reports whether the session has been tied to a verified account.
func (s Session) Linked() bool {
	return s.LinkedAccountID != ""
}
