package pairing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairchat/internal/apperr"
	"pairchat/internal/models"
	"pairchat/internal/repositories"
)

func createUser(t *testing.T, repo repositories.UserRepository, name string) models.User {
	t.Helper()
	u, err := repo.Create(context.Background(), models.User{Username: name, DisplayName: name})
	require.NoError(t, err)
	return u
}

func assertSymmetric(t *testing.T, svc *Service, a, b int64) {
	t.Helper()
	ca, err := svc.ResolveCounterpart(context.Background(), a)
	require.NoError(t, err)
	cb, err := svc.ResolveCounterpart(context.Background(), b)
	require.NoError(t, err)
	require.NotNil(t, ca)
	require.NotNil(t, cb)
	assert.Equal(t, b, ca.ID)
	assert.Equal(t, a, cb.ID)
}

func TestAttemptAutoPairFirstUserIsNoop(t *testing.T) {
	repo := repositories.NewMemoryUserRepo()
	svc := NewService(repo)
	a := createUser(t, repo, "alice")

	partner, err := svc.AttemptAutoPair(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Nil(t, partner)

	counterpart, err := svc.ResolveCounterpart(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Nil(t, counterpart)
}

func TestAttemptAutoPairSecondUser(t *testing.T) {
	repo := repositories.NewMemoryUserRepo()
	svc := NewService(repo)
	a := createUser(t, repo, "alice")
	b := createUser(t, repo, "bob")

	partner, err := svc.AttemptAutoPair(context.Background(), b.ID)
	require.NoError(t, err)
	require.NotNil(t, partner)
	assert.Equal(t, a.ID, partner.ID)
	assertSymmetric(t, svc, a.ID, b.ID)

	id, ok := svc.CounterpartID(context.Background(), a.ID)
	assert.True(t, ok)
	assert.Equal(t, b.ID, id)
}

func TestLinkByUsername(t *testing.T) {
	repo := repositories.NewMemoryUserRepo()
	svc := NewService(repo)
	a := createUser(t, repo, "alice")
	b := createUser(t, repo, "bob")

	requester, target, err := svc.LinkByUsername(context.Background(), a.ID, " bob ")
	require.NoError(t, err)
	assert.True(t, requester.PairedWith(b.ID))
	assert.True(t, target.PairedWith(a.ID))
	assertSymmetric(t, svc, a.ID, b.ID)

	_, _, err = svc.LinkByUsername(context.Background(), a.ID, "bob")
	assert.ErrorIs(t, err, apperr.ErrAlreadyPaired)
}

func TestLinkByUsernameFailures(t *testing.T) {
	repo := repositories.NewMemoryUserRepo()
	svc := NewService(repo)
	a := createUser(t, repo, "alice")
	b := createUser(t, repo, "bob")
	c := createUser(t, repo, "carol")
	require.NoError(t, repo.Pair(context.Background(), b.ID, c.ID))

	_, _, err := svc.LinkByUsername(context.Background(), a.ID, "")
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))

	_, _, err = svc.LinkByUsername(context.Background(), a.ID, "alice")
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))

	_, _, err = svc.LinkByUsername(context.Background(), a.ID, "nobody")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))

	_, _, err = svc.LinkByUsername(context.Background(), a.ID, "bob")
	assert.ErrorIs(t, err, apperr.ErrConflictingPairing)

	counterpart, err := svc.ResolveCounterpart(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Nil(t, counterpart)
	assertSymmetric(t, svc, b.ID, c.ID)
}

func TestResolveCounterpartUnknownUser(t *testing.T) {
	svc := NewService(repositories.NewMemoryUserRepo())
	_, err := svc.ResolveCounterpart(context.Background(), 42)
	assert.ErrorIs(t, err, apperr.ErrUserNotFound)

	_, ok := svc.CounterpartID(context.Background(), 42)
	assert.False(t, ok)
}
