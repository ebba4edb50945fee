package identity

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairchat/internal/apperr"
	"pairchat/internal/auth"
	"pairchat/internal/models"
	"pairchat/internal/pairing"
	"pairchat/internal/repositories"
)

type fakePresence map[int64]bool

func (f fakePresence) Online(userID int64) bool { return f[userID] }

// flakyPairRepo fails every Pair call while failPair is set.
type flakyPairRepo struct {
	*repositories.MemoryUserRepo
	failPair bool
}

func (r *flakyPairRepo) Pair(ctx context.Context, a, b int64) error {
	if r.failPair {
		return errors.New("db: connection reset")
	}
	return r.MemoryUserRepo.Pair(ctx, a, b)
}

func newTestService() (*Service, *repositories.MemoryUserRepo) {
	users := repositories.NewMemoryUserRepo()
	tokens := auth.NewTokenService("test-secret", "pairchat", time.Hour)
	hasher := auth.NewPasswordHasher(auth.Argon2Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 16, SaltLen: 8})
	return NewService(users, pairing.NewService(users), tokens, hasher), users
}

func register(t *testing.T, svc *Service, name string) Session {
	t.Helper()
	session, err := svc.Register(context.Background(), RegisterInput{Username: name, Password: "secret1", DisplayName: name})
	require.NoError(t, err)
	return session
}

func TestRegisterAutoPairsSecondUser(t *testing.T) {
	svc, _ := newTestService()

	first := register(t, svc, "alice")
	assert.NotEmpty(t, first.Token)
	assert.Nil(t, first.Partner)
	assert.False(t, first.User.IsPaired())

	second := register(t, svc, "bob")
	require.NotNil(t, second.Partner)
	assert.Equal(t, first.User.ID, second.Partner.ID)
	assert.True(t, second.User.PairedWith(first.User.ID))

	me, partner, err := svc.Me(context.Background(), first.User.ID)
	require.NoError(t, err)
	assert.True(t, me.PairedWith(second.User.ID))
	require.NotNil(t, partner)
	assert.Equal(t, "bob", partner.Username)
}

func TestRegisterThirdUserFailsWithCapacityExceeded(t *testing.T) {
	svc, users := newTestService()
	register(t, svc, "alice")
	register(t, svc, "bob")

	_, err := svc.Register(context.Background(), RegisterInput{Username: "carol", Password: "secret1", DisplayName: "Carol"})
	assert.ErrorIs(t, err, apperr.ErrCapacityExceeded)

	_, err = svc.Register(context.Background(), RegisterInput{Username: "alice", Password: "secret1", DisplayName: "Alice"})
	assert.ErrorIs(t, err, apperr.ErrCapacityExceeded)

	count, err := users.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRegisterCapacityIndependentOfPairing(t *testing.T) {
	svc, users := newTestService()
	ctx := context.Background()
	_, err := users.Create(ctx, models.User{Username: "x"})
	require.NoError(t, err)
	_, err = users.Create(ctx, models.User{Username: "y"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, RegisterInput{Username: "z", Password: "secret1", DisplayName: "Z"})
	assert.Equal(t, apperr.CodeCapacityExceeded, apperr.CodeOf(err))
}

func TestRegisterConcurrentNeverExceedsCapacity(t *testing.T) {
	svc, users := newTestService()
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		go func(i int) {
			_, err := svc.Register(context.Background(), RegisterInput{Username: fmt.Sprintf("u%d", i), Password: "secret1", DisplayName: "U"})
			errs <- err
		}(i)
	}
	var ok int
	for i := 0; i < 5; i++ {
		if <-errs == nil {
			ok++
		}
	}
	assert.Equal(t, 2, ok)
	count, err := users.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Register(context.Background(), RegisterInput{Username: "alice", Password: "secret1"})
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))

	_, err = svc.Register(context.Background(), RegisterInput{Username: "alice", Password: "123", DisplayName: "Alice"})
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
}

func TestLoginAndAuthenticate(t *testing.T) {
	svc, _ := newTestService()
	registered := register(t, svc, "alice")

	session, err := svc.Login(context.Background(), "alice", "secret1")
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, session.User.ID)

	user, err := svc.Authenticate(context.Background(), session.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)

	_, err = svc.Login(context.Background(), "alice", "wrong-password")
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), "nobody", "secret1")
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)

	_, err = svc.Authenticate(context.Background(), "garbage")
	assert.Equal(t, apperr.CodeUnauthenticated, apperr.CodeOf(err))
}

func TestAuthenticateUnknownUser(t *testing.T) {
	svc, _ := newTestService()
	token, err := svc.tokens.IssueToken(99)
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), token)
	assert.Equal(t, apperr.CodeUnauthenticated, apperr.CodeOf(err))
}

func TestChangePassword(t *testing.T) {
	svc, _ := newTestService()
	alice := register(t, svc, "alice")
	ctx := context.Background()

	assert.ErrorIs(t, svc.ChangePassword(ctx, alice.User.ID, "secret1", "123"), apperr.ErrPasswordTooShort)
	assert.ErrorIs(t, svc.ChangePassword(ctx, alice.User.ID, "nope", "newsecret"), apperr.ErrWrongPassword)
	require.NoError(t, svc.ChangePassword(ctx, alice.User.ID, "secret1", "newsecret"))

	_, err := svc.Login(ctx, "alice", "secret1")
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)
	_, err = svc.Login(ctx, "alice", "newsecret")
	assert.NoError(t, err)
}

func TestUpdateProfileKeepsUnsetFields(t *testing.T) {
	svc, _ := newTestService()
	alice := register(t, svc, "alice")
	bio := "hello"

	updated, err := svc.UpdateProfile(context.Background(), alice.User.ID, ProfileInput{Bio: &bio})
	require.NoError(t, err)
	assert.Equal(t, "alice", updated.DisplayName)
	assert.Equal(t, "hello", updated.Bio)

	updated, err = svc.UpdateProfile(context.Background(), alice.User.ID, ProfileInput{DisplayName: "Alice B"})
	require.NoError(t, err)
	assert.Equal(t, "Alice B", updated.DisplayName)
	assert.Equal(t, "hello", updated.Bio)
}

func TestPartnerAndStatus(t *testing.T) {
	svc, _ := newTestService()
	alice := register(t, svc, "alice")

	_, err := svc.Partner(context.Background(), alice.User.ID)
	assert.ErrorIs(t, err, apperr.ErrNoCounterpart)

	bob := register(t, svc, "bob")
	partner, err := svc.Partner(context.Background(), alice.User.ID)
	require.NoError(t, err)
	assert.Equal(t, bob.User.ID, partner.ID)

	svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	status, err := svc.Status(context.Background(), bob.User.ID)
	require.NoError(t, err)
	assert.False(t, status.IsOnline)

	svc.SetPresence(fakePresence{bob.User.ID: true})
	status, err = svc.Status(context.Background(), bob.User.ID)
	require.NoError(t, err)
	assert.True(t, status.IsOnline)

	_, err = svc.Status(context.Background(), 99)
	assert.ErrorIs(t, err, apperr.ErrUserNotFound)
}

func TestRegisterRollsBackWhenAutoPairFails(t *testing.T) {
	users := &flakyPairRepo{MemoryUserRepo: repositories.NewMemoryUserRepo()}
	tokens := auth.NewTokenService("test-secret", "pairchat", time.Hour)
	hasher := auth.NewPasswordHasher(auth.Argon2Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 16, SaltLen: 8})
	svc := NewService(users, pairing.NewService(users), tokens, hasher)
	ctx := context.Background()

	alice := register(t, svc, "alice")

	users.failPair = true
	_, err := svc.Register(ctx, RegisterInput{Username: "bob", Password: "secret1", DisplayName: "Bob"})
	require.Error(t, err)

	count, err := users.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	users.failPair = false
	bob := register(t, svc, "bob")
	require.NotNil(t, bob.Partner)
	assert.Equal(t, alice.User.ID, bob.Partner.ID)
	assert.True(t, bob.User.PairedWith(alice.User.ID))
}
