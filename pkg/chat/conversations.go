package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/mahaj/dupahar-chat/pkg/metrics"
	"github.com/mahaj/dupahar-chat/pkg/model"
	"github.com/mahaj/dupahar-chat/pkg/store"
)

// GetOrCreateConversation returns the id of the conversation for
// participantIDs. A non-group request with exactly two ids reuses the
// existing 1:1 conversation for that pair in either order; everything else
// creates a new record. The participant list is stored as given.
func (s *Service) GetOrCreateConversation(ctx context.Context, participantIDs []string, isGroup bool, groupName string) (string, error) {
	if len(participantIDs) < 2 {
		return "", fmt.Errorf("%w: a conversation needs at least 2 participants", ErrValidation)
	}

	conv := &model.Conversation{
		IsGroup:      isGroup,
		GroupName:    groupName,
		Participants: append([]string(nil), participantIDs...),
		CreatedAt:    s.now(),
	}
	if !isGroup && len(participantIDs) == 2 {
		conv.PairKey = model.PairKey(participantIDs[0], participantIDs[1])
	}

	var existing string
	err := s.store.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
		if conv.PairKey != "" {
			found, err := tx.FindConversationByPair(ctx, conv.PairKey)
			if err == nil {
				existing = found.ID
				return nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}
		return tx.CreateConversation(ctx, conv)
	})

	switch {
	case errors.Is(err, store.ErrConflict):
		// lost the race for this pair; the winner's row is the conversation
		found, ferr := s.store.FindConversationByPair(ctx, conv.PairKey)
		if ferr != nil {
			return "", fmt.Errorf("resolving conversation for %s: %w", conv.PairKey, ferr)
		}
		return found.ID, nil
	case err != nil:
		return "", err
	case existing != "":
		return existing, nil
	}

	kind := "direct"
	if conv.IsGroup {
		kind = "group"
	}
	metrics.ConversationsCreated.WithLabelValues(kind).Inc()
	s.log.Info().
		Str("conversation_id", conv.ID).
		Bool("is_group", conv.IsGroup).
		Int("participants", len(conv.Participants)).
		Msg("conversation created")
	s.emit(ctx, model.EventConversationCreated, conv.ID, "", conv.Participants, conv)

	return conv.ID, nil
}

// ListConversations returns the user's conversations, most recently active
// first. Conversations without messages sort last, newest first among
// themselves.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]model.ConversationDetails, error) {
	convs, err := s.store.ListConversationsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(convs, func(i, j int) bool {
		ti, tj := convs[i].ActivityTime(), convs[j].ActivityTime()
		if ti != tj {
			return ti > tj
		}
		return convs[i].CreatedAt.After(convs[j].CreatedAt)
	})

	out := make([]model.ConversationDetails, 0, len(convs))
	for _, c := range convs {
		users, err := s.store.GetUsers(ctx, c.Participants)
		if err != nil {
			return nil, err
		}
		out = append(out, model.ConversationDetails{Conversation: c, ParticipantDetails: users})
	}
	return out, nil
}

// GetConversation returns the conversation with the participant profiles
// that still resolve.
func (s *Service) GetConversation(ctx context.Context, id string) (*model.ConversationDetails, error) {
	c, err := s.store.GetConversation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: conversation %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	users, err := s.store.GetUsers(ctx, c.Participants)
	if err != nil {
		return nil, err
	}
	return &model.ConversationDetails{Conversation: *c, ParticipantDetails: users}, nil
}
