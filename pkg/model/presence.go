package model

import "time"

// TypingWindow is how long a typing indicator stays live after its last update.
const TypingWindow = 3000 * time.Millisecond

type TypingIndicator struct {
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	IsTyping       bool      `json:"is_typing"`
	LastTyped      time.Time `json:"last_typed"`
}

// Live reports whether the indicator counts as typing at now. Rows are never
// expired in storage; every reader applies this check instead.
func (t TypingIndicator) Live(now time.Time) bool {
	return t.IsTyping && now.Sub(t.LastTyped) < TypingWindow
}

type UnreadCounter struct {
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	Count          int64     `json:"count"`
	LastRead       time.Time `json:"last_read"`
}
