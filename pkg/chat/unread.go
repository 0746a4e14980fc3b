package chat

import (
	"context"

	"github.com/mahaj/dupahar-chat/pkg/model"
)

// MarkRead zeroes the user's unread counter for the conversation. Without
// an existing counter there is nothing to reset and no row is created.
func (s *Service) MarkRead(ctx context.Context, userID, conversationID string) error {
	reset, err := s.store.ResetUnread(ctx, userID, conversationID, s.now())
	if err != nil || !reset {
		return err
	}

	// only the reader's own sessions care about their counters
	s.emit(ctx, model.EventRead, conversationID, userID, []string{userID}, nil)
	return nil
}

// UnreadCounts returns the user's counters across all conversations.
func (s *Service) UnreadCounts(ctx context.Context, userID string) ([]model.UnreadCounter, error) {
	return s.store.ListUnread(ctx, userID)
}

// TotalUnread sums counters, e.g. for a badge.
func TotalUnread(counters []model.UnreadCounter) int64 {
	var total int64
	for _, c := range counters {
		total += c.Count
	}
	return total
}
