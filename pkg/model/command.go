package model

import "time"

type CommandType string

const (
	CommandSend     CommandType = "message"
	CommandTyping   CommandType = "typing"
	CommandRead     CommandType = "read"
	CommandReact    CommandType = "reaction"
	CommandDelete   CommandType = "delete"
	CommandPresence CommandType = "presence"
)

// Command is a client intent relayed by a gateway to the messaging workers.
// UserID always comes from the authenticated connection, never the client frame.
type Command struct {
	Type           CommandType `json:"type"`
	UserID         string      `json:"user_id"`
	ConversationID string      `json:"conversation_id,omitempty"`
	MessageID      int64       `json:"message_id,string,omitempty"`
	Content        string      `json:"content,omitempty"`
	Emoji          string      `json:"emoji,omitempty"`
	IsTyping       bool        `json:"is_typing,omitempty"`
	Online         bool        `json:"online,omitempty"`
	ClientRef      string      `json:"client_ref,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
}

// Key is the partition key for the command. Commands for one conversation
// land on one partition and are applied by a single worker in order.
func (c *Command) Key() string {
	if c.ConversationID != "" {
		return c.ConversationID
	}
	return c.UserID
}
