package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mahaj/dupahar-chat/pkg/model"
	"github.com/mahaj/dupahar-chat/pkg/store"
)

// SyncUser maps an identity-provider profile onto a stored user keyed by
// its external id. Every sync marks the user online.
func (s *Service) SyncUser(ctx context.Context, p model.Profile) (*model.User, error) {
	p.ExternalID = strings.TrimSpace(p.ExternalID)
	if p.ExternalID == "" {
		return nil, fmt.Errorf("%w: external id is required", ErrValidation)
	}
	return s.store.UpsertUser(ctx, p, s.now())
}

func (s *Service) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return u, err
}

func (s *Service) GetUserByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	u, err := s.store.GetUserByExternalID(ctx, externalID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: user with external id %s", ErrNotFound, externalID)
	}
	return u, err
}

// Users lists everyone except excludingID. A non-empty query narrows the
// list to names containing it, ignoring case.
func (s *Service) Users(ctx context.Context, query, excludingID string) ([]model.User, error) {
	var (
		users []model.User
		err   error
	)
	if query = strings.TrimSpace(query); query != "" {
		users, err = s.store.SearchUsers(ctx, query)
	} else {
		users, err = s.store.ListUsers(ctx)
	}
	if err != nil {
		return nil, err
	}

	out := users[:0]
	for _, u := range users {
		if u.ID != excludingID {
			out = append(out, u)
		}
	}
	return out, nil
}

// SetOnline flips the user's online flag and refreshes LastSeen. Unknown
// users are ignored.
func (s *Service) SetOnline(ctx context.Context, userID string, online bool) error {
	err := s.store.SetOnline(ctx, userID, online, s.now())
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	s.emit(ctx, model.EventPresence, "", userID, s.contacts(ctx, userID), model.PresencePayload{Online: online})
	return nil
}

// contacts is everyone who shares a conversation with userID, userID
// included.
func (s *Service) contacts(ctx context.Context, userID string) []string {
	convs, err := s.store.ListConversationsForUser(ctx, userID)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("failed to load contacts")
		return []string{userID}
	}
	seen := map[string]bool{userID: true}
	out := []string{userID}
	for _, c := range convs {
		for _, p := range c.Participants {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}
