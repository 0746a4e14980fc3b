package model

import (
	"fmt"
	"time"
)

type Conversation struct {
	ID                 string     `json:"id"`
	IsGroup            bool       `json:"is_group"`
	GroupName          string     `json:"group_name,omitempty"`
	Participants       []string   `json:"participants"`
	LastMessageTime    *time.Time `json:"last_message_time,omitempty"`
	LastMessagePreview *string    `json:"last_message_preview,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`

	// PairKey is set only on 1:1 conversations and is unique across the store.
	PairKey string `json:"-"`
}

// ConversationDetails is a conversation joined with the participant profiles
// that could be resolved.
type ConversationDetails struct {
	Conversation
	ParticipantDetails []User `json:"participant_details"`
}

// PairKey returns the canonical key for an unordered pair of users, so
// (a, b) and (b, a) map to the same 1:1 conversation.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("dm:%s:%s", a, b)
}

// HasParticipant reports whether userID takes part in the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// ActivityTime is the last message time in unix milliseconds, 0 when the
// conversation has no messages yet.
func (c *Conversation) ActivityTime() int64 {
	if c.LastMessageTime == nil {
		return 0
	}
	return c.LastMessageTime.UnixMilli()
}
