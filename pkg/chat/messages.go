package chat

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/mahaj/dupahar-chat/pkg/metrics"
	"github.com/mahaj/dupahar-chat/pkg/model"
	"github.com/mahaj/dupahar-chat/pkg/store"
)

// SendMessage appends a message and applies its side effects in one unit:
// the conversation preview and time are refreshed and every other
// participant's unread counter goes up by one. The sender's typing
// indicator is cleared in the same unit when it lives in the entity store,
// and right after the commit otherwise.
func (s *Service) SendMessage(ctx context.Context, conversationID, senderID, content string) (int64, error) {
	if n := utf8.RuneCountInString(content); n > model.MaxContentLength {
		return 0, fmt.Errorf("%w: message is %d characters, limit is %d", ErrValidation, n, model.MaxContentLength)
	}

	unlock := s.locks.Lock(conversationID)
	defer unlock()

	msg := &model.Message{
		ID:             s.ids.Generate(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Reactions:      []model.Reaction{},
		CreatedAt:      s.now(),
	}

	var participants []string
	err := s.store.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
		conv, err := tx.GetConversation(ctx, conversationID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: conversation %s", ErrNotFound, conversationID)
		}
		if err != nil {
			return err
		}
		participants = conv.Participants

		if err := tx.InsertMessage(ctx, msg); err != nil {
			return err
		}
		if err := tx.TouchConversation(ctx, conversationID, msg.CreatedAt, preview(content)); err != nil {
			return err
		}

		seen := make(map[string]bool, len(participants))
		for _, p := range participants {
			if p == senderID || seen[p] {
				continue
			}
			seen[p] = true
			if err := tx.IncrementUnread(ctx, p, conversationID); err != nil {
				return err
			}
		}
		if s.typingInStore {
			return tx.ClearTyping(ctx, senderID, conversationID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if !s.typingInStore {
		if err := s.typing.ClearTyping(ctx, senderID, conversationID); err != nil {
			s.log.Warn().Err(err).
				Str("user_id", senderID).
				Str("conversation_id", conversationID).
				Msg("failed to clear typing after send")
		}
	}

	metrics.MessagesSent.Inc()
	s.log.Debug().
		Int64("message_id", msg.ID).
		Str("conversation_id", conversationID).
		Str("sender_id", senderID).
		Msg("message sent")
	s.emit(ctx, model.EventMessageSent, conversationID, senderID, participants, msg)

	return msg.ID, nil
}

// preview is the first PreviewLength characters of content.
func preview(content string) string {
	if utf8.RuneCountInString(content) <= model.PreviewLength {
		return content
	}
	return string([]rune(content)[:model.PreviewLength])
}

// ListMessages returns the conversation's messages oldest first, each with
// its sender's profile. Deleted messages are included; hiding them is up to
// the reader.
func (s *Service) ListMessages(ctx context.Context, conversationID string) ([]model.MessageWithSender, error) {
	msgs, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	var senderIDs []string
	seen := make(map[string]bool)
	for _, m := range msgs {
		if !seen[m.SenderID] {
			seen[m.SenderID] = true
			senderIDs = append(senderIDs, m.SenderID)
		}
	}
	users, err := s.store.GetUsers(ctx, senderIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*model.User, len(users))
	for i := range users {
		byID[users[i].ID] = &users[i]
	}

	out := make([]model.MessageWithSender, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, model.MessageWithSender{
			Message:        m,
			Sender:         byID[m.SenderID],
			ReactionGroups: model.GroupReactions(m.Reactions),
		})
	}
	return out, nil
}

// GetMessage returns a single message.
func (s *Service) GetMessage(ctx context.Context, id int64) (*model.Message, error) {
	m, err := s.store.GetMessage(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: message %d", ErrNotFound, id)
	}
	return m, err
}

// DeleteMessage soft-deletes a message; the content is kept. Deleting a
// missing or already deleted message does nothing.
func (s *Service) DeleteMessage(ctx context.Context, messageID int64) error {
	m, err := s.store.GetMessage(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(m.ConversationID)
	defer unlock()

	changed := false
	err = s.store.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
		cur, err := tx.GetMessage(ctx, messageID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if cur.IsDeleted {
			return nil
		}
		changed = true
		return tx.MarkMessageDeleted(ctx, messageID)
	})
	if err != nil || !changed {
		return err
	}

	s.emit(ctx, model.EventMessageDeleted, m.ConversationID, m.SenderID, s.recipients(ctx, m.ConversationID),
		model.MessageRefPayload{MessageID: messageID})
	return nil
}

// ToggleReaction adds userID's emoji reaction to the message or takes it
// away when already there. Reactions on a missing message are ignored.
func (s *Service) ToggleReaction(ctx context.Context, messageID int64, userID, emoji string) error {
	if emoji == "" {
		return fmt.Errorf("%w: emoji is required", ErrValidation)
	}

	var added, found bool
	var conversationID string
	err := s.store.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
		m, err := tx.GetMessage(ctx, messageID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		conversationID = m.ConversationID

		added, err = tx.ToggleReaction(ctx, messageID, emoji, userID, s.now())
		if errors.Is(err, store.ErrNotFound) {
			found = false
			return nil
		}
		return err
	})
	if err != nil || !found {
		return err
	}

	result := "removed"
	if added {
		result = "added"
	}
	metrics.ReactionsToggled.WithLabelValues(result).Inc()
	s.emit(ctx, model.EventReactionToggled, conversationID, userID, s.recipients(ctx, conversationID),
		model.ReactionPayload{MessageID: messageID, Emoji: emoji, Added: added})
	return nil
}

// recipients resolves who should hear about a change in a conversation.
// A conversation that cannot be loaded yields nobody.
func (s *Service) recipients(ctx context.Context, conversationID string) []string {
	c, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("failed to load recipients")
		}
		return nil
	}
	return c.Participants
}
