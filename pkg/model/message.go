package model

import "time"

const (
	// MaxContentLength is the hard limit on message content, in characters.
	MaxContentLength = 5000

	// PreviewLength is how much of the latest message a conversation keeps.
	PreviewLength = 50
)

type Message struct {
	ID             int64      `json:"id,string"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	Content        string     `json:"content"`
	IsDeleted      bool       `json:"is_deleted"`
	Reactions      []Reaction `json:"reactions"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Reaction is a single (emoji, user) fact on a message. A user holds at most
// one reaction per emoji on a given message.
type Reaction struct {
	Emoji     string    `json:"emoji"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ReactionGroup is the per-emoji view of a message's reactions.
type ReactionGroup struct {
	Emoji string   `json:"emoji"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}

// MessageWithSender joins a message with its sender's profile. Sender is nil
// when the profile no longer resolves.
type MessageWithSender struct {
	Message
	Sender         *User           `json:"sender"`
	ReactionGroups []ReactionGroup `json:"reaction_groups"`
}

// HasReaction reports whether userID reacted with emoji.
func (m *Message) HasReaction(emoji, userID string) bool {
	for _, r := range m.Reactions {
		if r.Emoji == emoji && r.UserID == userID {
			return true
		}
	}
	return false
}

// GroupReactions folds reactions by emoji, keeping first-seen emoji order.
func GroupReactions(reactions []Reaction) []ReactionGroup {
	groups := make([]ReactionGroup, 0)
	index := make(map[string]int)
	for _, r := range reactions {
		i, ok := index[r.Emoji]
		if !ok {
			i = len(groups)
			index[r.Emoji] = i
			groups = append(groups, ReactionGroup{Emoji: r.Emoji})
		}
		groups[i].Count++
		groups[i].Users = append(groups[i].Users, r.UserID)
	}
	return groups
}
