package social

import (
	"context"
	"fmt"
	"strings"

	"github.com/nerrad567/karaoke-core/internal/auth"
)

// Service applies role policy on top of the friendship store.
type Service struct {
	repo Repository
}

// NewService creates a friendship service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Request sends a friend request from the caller to friendID.
func (s *Service) Request(ctx context.Context, caller auth.Identity, friendID string) error {
	if err := s.check(caller, friendID); err != nil {
		return err
	}
	return s.repo.Request(ctx, caller.UserID, friendID)
}

// Accept accepts a pending request between the caller and friendID.
func (s *Service) Accept(ctx context.Context, caller auth.Identity, friendID string) error {
	if err := s.check(caller, friendID); err != nil {
		return err
	}
	return s.repo.Accept(ctx, caller.UserID, friendID)
}

// Friends lists the caller's accepted friends.
func (s *Service) Friends(ctx context.Context, caller auth.Identity) ([]auth.PublicProfile, error) {
	return s.repo.ListFriends(ctx, caller.UserID)
}

func (s *Service) check(caller auth.Identity, friendID string) error {
	if !auth.HasPermission(caller.Role, auth.PermFriendsManage) {
		return fmt.Errorf("%w: %s accounts cannot manage friends", auth.ErrForbidden, caller.Role)
	}
	if strings.TrimSpace(friendID) == "" {
		return fmt.Errorf("%w: friend_id is required", auth.ErrInvalidInput)
	}
	if friendID == caller.UserID {
		return ErrSelfFriend
	}
	return nil
}
