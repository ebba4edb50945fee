package pairing

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"pairchat/internal/apperr"
	"pairchat/internal/models"
	"pairchat/internal/repositories"
)

// Service owns the counterpart relation between the two identities.
type Service struct {
	users repositories.UserRepository
	mu    sync.Mutex
}

func NewService(users repositories.UserRepository) *Service {
	return &Service{users: users}
}

// AttemptAutoPair pairs newID with the only other identity when that
// identity exists and is unpaired. Any other situation is a no-op.
func (s *Service) AttemptAutoPair(ctx context.Context, newID int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}
	var others []models.User
	for _, u := range users {
		if u.ID != newID {
			others = append(others, u)
		}
	}
	if len(others) != 1 || others[0].IsPaired() {
		return nil, nil
	}
	other := others[0]
	if err := s.users.Pair(ctx, newID, other.ID); err != nil {
		if errors.Is(err, apperr.ErrConflictingPairing) {
			return nil, nil
		}
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"user_id": newID, "partner_id": other.ID}).Info("users auto-paired")
	counterpart := other.Clone()
	counterpart.CounterpartID = &newID
	return &counterpart, nil
}

// LinkByUsername pairs the requester with the identity named username.
func (s *Service) LinkByUsername(ctx context.Context, requesterID int64, username string) (models.User, models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return models.User{}, models.User{}, apperr.InvalidArg("partner username is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	requester, err := s.users.Get(ctx, requesterID)
	if err != nil {
		return models.User{}, models.User{}, err
	}
	if requester.IsPaired() {
		return models.User{}, models.User{}, apperr.ErrAlreadyPaired
	}
	target, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeNotFound {
			return models.User{}, models.User{}, apperr.NotFound("partner user not found")
		}
		return models.User{}, models.User{}, err
	}
	if target.ID == requester.ID {
		return models.User{}, models.User{}, apperr.InvalidArg("you cannot link with yourself")
	}
	if target.IsPaired() && !target.PairedWith(requester.ID) {
		return models.User{}, models.User{}, apperr.ErrConflictingPairing
	}
	if err := s.users.Pair(ctx, requester.ID, target.ID); err != nil {
		return models.User{}, models.User{}, err
	}

	requester.CounterpartID = &target.ID
	target.CounterpartID = &requester.ID
	logrus.WithFields(logrus.Fields{"user_id": requester.ID, "partner_id": target.ID}).Info("users linked")
	return requester, target, nil
}

// ResolveCounterpart returns the identity paired with userID, or nil.
func (s *Service) ResolveCounterpart(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.IsPaired() {
		return nil, nil
	}
	counterpart, err := s.users.Get(ctx, *user.CounterpartID)
	if err != nil {
		return nil, err
	}
	return &counterpart, nil
}

// CounterpartID is ResolveCounterpart reduced to the id; ok is false when
// userID is unpaired or unknown.
func (s *Service) CounterpartID(ctx context.Context, userID int64) (int64, bool) {
	user, err := s.users.Get(ctx, userID)
	if err != nil || !user.IsPaired() {
		return 0, false
	}
	return *user.CounterpartID, true
}
