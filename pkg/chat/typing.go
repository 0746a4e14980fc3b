package chat

import (
	"context"

	"github.com/mahaj/dupahar-chat/pkg/model"
)

// SetTyping records whether userID is typing in the conversation. LastTyped
// is stamped on every call, whichever way the flag goes.
func (s *Service) SetTyping(ctx context.Context, userID, conversationID string, isTyping bool) error {
	err := s.typing.SetTyping(ctx, model.TypingIndicator{
		UserID:         userID,
		ConversationID: conversationID,
		IsTyping:       isTyping,
		LastTyped:      s.now(),
	})
	if err != nil {
		return err
	}

	s.emit(ctx, model.EventTyping, conversationID, userID, s.recipients(ctx, conversationID),
		model.TypingPayload{IsTyping: isTyping})
	return nil
}

// ListTyping returns the users currently typing in the conversation, other
// than excludingUserID. Indicators older than model.TypingWindow are
// skipped; they stay in storage.
func (s *Service) ListTyping(ctx context.Context, conversationID, excludingUserID string) ([]model.User, error) {
	rows, err := s.typing.ListTyping(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var ids []string
	for _, row := range rows {
		if row.UserID == excludingUserID || !row.Live(now) {
			continue
		}
		ids = append(ids, row.UserID)
	}
	if len(ids) == 0 {
		return []model.User{}, nil
	}
	return s.store.GetUsers(ctx, ids)
}
