package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"pairchat/internal/apperr"
	"pairchat/internal/models"
	"pairchat/internal/pairing"
	"pairchat/internal/repositories"
)

const (
	// MaxIdentities caps how many accounts may ever be registered.
	MaxIdentities = 2
	// MinPasswordLength applies to registration and password changes.
	MinPasswordLength = 6
	// RecentActivityWindow marks a user online in status lookups even
	// without a live channel.
	RecentActivityWindow = 5 * time.Minute
)

type TokenService interface {
	IssueToken(userID int64) (string, error)
	ResolveToken(token string) (int64, error)
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
}

// PresenceReader reports whether a user currently holds a live channel.
type PresenceReader interface {
	Online(userID int64) bool
}

type RegisterInput struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type ProfileInput struct {
	DisplayName string  `json:"display_name"`
	Bio         *string `json:"bio"`
}

// Session is what register and login hand back to the caller.
type Session struct {
	User    models.User  `json:"user"`
	Partner *models.User `json:"partner,omitempty"`
	Token   string       `json:"token"`
}

type Service struct {
	users    repositories.UserRepository
	pairing  *pairing.Service
	tokens   TokenService
	hasher   PasswordHasher
	presence PresenceReader

	registerMu sync.Mutex
	now        func() time.Time
}

func NewService(users repositories.UserRepository, pairingSvc *pairing.Service, tokens TokenService, hasher PasswordHasher) *Service {
	return &Service{
		users:   users,
		pairing: pairingSvc,
		tokens:  tokens,
		hasher:  hasher,
		now:     time.Now,
	}
}

// SetPresence attaches the live presence view used by Status.
func (s *Service) SetPresence(p PresenceReader) {
	s.presence = p
}

// Register creates an account while fewer than MaxIdentities exist and
// auto-pairs it with the first one.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Session, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	if in.Username == "" || in.Password == "" || in.DisplayName == "" {
		return Session{}, apperr.InvalidArg("please provide all required fields")
	}
	if len(in.Password) < MinPasswordLength {
		return Session{}, apperr.InvalidArg("password must be at least 6 characters long")
	}

	s.registerMu.Lock()
	defer s.registerMu.Unlock()

	count, err := s.users.Count(ctx)
	if err != nil {
		return Session{}, err
	}
	if count >= MaxIdentities {
		logrus.WithField("username", in.Username).Warn("registration rejected: capacity reached")
		return Session{}, apperr.ErrCapacityExceeded
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return Session{}, err
	}
	user, err := s.users.Create(ctx, models.User{
		Username:     in.Username,
		DisplayName:  in.DisplayName,
		PasswordHash: hash,
	})
	if err != nil {
		return Session{}, err
	}

	partner, err := s.pairing.AttemptAutoPair(ctx, user.ID)
	if err != nil {
		// The account must not hold a capacity slot without its pairing.
		if derr := s.users.Delete(ctx, user.ID); derr != nil {
			logrus.WithError(derr).WithField("user_id", user.ID).Error("failed to roll back registration")
		}
		return Session{}, err
	}
	if partner != nil {
		user.CounterpartID = &partner.ID
	}

	token, err := s.tokens.IssueToken(user.ID)
	if err != nil {
		return Session{}, err
	}
	logrus.WithFields(logrus.Fields{"user_id": user.ID, "username": user.Username}).Info("user registered")
	return Session{User: user, Partner: partner, Token: token}, nil
}

func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return Session{}, apperr.InvalidArg("please provide username and password")
	}
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeNotFound {
			return Session{}, apperr.ErrInvalidCredentials
		}
		return Session{}, err
	}
	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil || !ok {
		return Session{}, apperr.ErrInvalidCredentials
	}

	s.Touch(ctx, user.ID)
	token, err := s.tokens.IssueToken(user.ID)
	if err != nil {
		return Session{}, err
	}
	return Session{User: user, Token: token}, nil
}

// Authenticate resolves a bearer token to an existing user and records
// activity for it.
func (s *Service) Authenticate(ctx context.Context, token string) (models.User, error) {
	userID, err := s.tokens.ResolveToken(token)
	if err != nil {
		return models.User{}, err
	}
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeNotFound {
			return models.User{}, apperr.Unauthorized("invalid token, user not found")
		}
		return models.User{}, err
	}
	s.Touch(ctx, user.ID)
	return user, nil
}

// Me returns the user together with their partner, if any.
func (s *Service) Me(ctx context.Context, userID int64) (models.User, *models.User, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return models.User{}, nil, err
	}
	partner, err := s.pairing.ResolveCounterpart(ctx, userID)
	if err != nil && apperr.CodeOf(err) != apperr.CodeNotFound {
		return models.User{}, nil, err
	}
	return user, partner, nil
}

func (s *Service) Partner(ctx context.Context, userID int64) (models.User, error) {
	partner, err := s.pairing.ResolveCounterpart(ctx, userID)
	if err != nil {
		return models.User{}, err
	}
	if partner == nil {
		return models.User{}, apperr.ErrNoCounterpart
	}
	return *partner, nil
}

func (s *Service) LinkPartner(ctx context.Context, userID int64, username string) (models.User, models.User, error) {
	return s.pairing.LinkByUsername(ctx, userID, username)
}

func (s *Service) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	if current == "" || next == "" {
		return apperr.InvalidArg("please provide current and new password")
	}
	if len(next) < MinPasswordLength {
		return apperr.ErrPasswordTooShort
	}
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return err
	}
	ok, err := s.hasher.Verify(current, user.PasswordHash)
	if err != nil || !ok {
		return apperr.ErrWrongPassword
	}
	hash, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}
	return s.users.UpdatePassword(ctx, userID, hash)
}

// UpdateProfile changes the display name when non-empty and the bio when set.
func (s *Service) UpdateProfile(ctx context.Context, userID int64, in ProfileInput) (models.User, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return models.User{}, err
	}
	displayName := user.DisplayName
	if name := strings.TrimSpace(in.DisplayName); name != "" {
		displayName = name
	}
	bio := user.Bio
	if in.Bio != nil {
		bio = *in.Bio
	}
	return s.users.UpdateProfile(ctx, userID, displayName, bio)
}

func (s *Service) UpdateProfilePicture(ctx context.Context, userID int64, url string) (models.User, error) {
	if url == "" {
		return models.User{}, apperr.InvalidArg("no image file provided")
	}
	return s.users.UpdateProfilePicture(ctx, userID, url)
}

// Touch records activity; failures are logged and otherwise ignored.
func (s *Service) Touch(ctx context.Context, userID int64) {
	if err := s.users.TouchLastActive(ctx, userID, s.now().UTC()); err != nil {
		logrus.WithError(err).WithField("user_id", userID).Warn("failed to update last active")
	}
}

// Status reports a user online when they hold a live channel or were
// active within RecentActivityWindow.
func (s *Service) Status(ctx context.Context, userID int64) (models.UserStatus, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return models.UserStatus{}, err
	}
	online := s.now().Sub(user.LastActive) < RecentActivityWindow
	if s.presence != nil && s.presence.Online(userID) {
		online = true
	}
	return models.UserStatus{UserID: user.ID, IsOnline: online, LastActive: user.LastActive}, nil
}
