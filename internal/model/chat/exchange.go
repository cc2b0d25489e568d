package chat

import "time"

// Exchange is the immutable audit record of one question/answer pair.
// Written once after a completed exchange, never mutated afterwards.
type Exchange struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	AccountID string    `json:"accountId,omitempty"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Billable  bool      `json:"billable"`
	CreatedAt time.Time `json:"createdAt"`
}
