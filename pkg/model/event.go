package model

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

type EventType string

const (
	EventMessageSent         EventType = "message.sent"
	EventMessageDeleted      EventType = "message.deleted"
	EventReactionToggled     EventType = "reaction.toggled"
	EventTyping              EventType = "typing"
	EventRead                EventType = "read"
	EventConversationCreated EventType = "conversation.created"
	EventPresence            EventType = "presence"
	EventError               EventType = "error"
)

// Event is what the messaging core emits after a state change. Gateways
// deliver it to every connected client of the listed recipients.
type Event struct {
	ID             string          `json:"id"`
	Type           EventType       `json:"type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	UserID         string          `json:"user_id,omitempty"`
	Recipients     []string        `json:"recipients,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// NewEvent stamps a fresh ULID on the event and encodes payload, which may
// be nil.
func NewEvent(typ EventType, conversationID, userID string, recipients []string, payload any, at time.Time) (Event, error) {
	evt := Event{
		ID:             ulid.Make().String(),
		Type:           typ,
		ConversationID: conversationID,
		UserID:         userID,
		Recipients:     recipients,
		Timestamp:      at,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Event{}, err
		}
		evt.Payload = raw
	}
	return evt, nil
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

type TypingPayload struct {
	IsTyping bool `json:"is_typing"`
}

// MessageRefPayload points at a message without carrying it.
type MessageRefPayload struct {
	MessageID int64 `json:"message_id,string"`
}

type ReactionPayload struct {
	MessageID int64  `json:"message_id,string"`
	Emoji     string `json:"emoji"`
	Added     bool   `json:"added"`
}

type PresencePayload struct {
	Online bool `json:"online"`
}

// ErrorPayload tells a client its command failed. Content carries the unsent
// message text back so it can be offered for retry.
type ErrorPayload struct {
	Command   CommandType `json:"command"`
	ClientRef string      `json:"client_ref,omitempty"`
	Reason    string      `json:"reason"`
	Content   string      `json:"content,omitempty"`
}
