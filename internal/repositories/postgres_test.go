package repositories

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"pairchat/internal/apperr"
	"pairchat/internal/db"
	"pairchat/internal/models"
)

var (
	pgOnce      sync.Once
	pgContainer *postgres.PostgresContainer
	pgDB        *sqlx.DB
	pgErr       error
)

func TestMain(m *testing.M) {
	code := m.Run()

	if pgDB != nil {
		pgDB.Close()
	}
	if pgContainer != nil {
		if err := pgContainer.Terminate(context.Background()); err != nil {
			logrus.WithError(err).Warn("failed to terminate postgres container")
		}
	}
	os.Exit(code)
}

// testDB starts one postgres container for the package and truncates both
// tables after each test. Tests are skipped when docker is unavailable.
func testDB(t *testing.T) *sqlx.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres tests need docker")
	}

	pgOnce.Do(func() {
		ctx := context.Background()
		pgContainer, pgErr = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("pairchat"),
			postgres.WithUsername("pairchat"),
			postgres.WithPassword("password"),
			postgres.BasicWaitStrategies(),
		)
		if pgErr != nil {
			return
		}
		var dsn string
		if dsn, pgErr = pgContainer.ConnectionString(ctx, "sslmode=disable"); pgErr != nil {
			return
		}
		pgDB, pgErr = db.Connect(dsn)
	})
	if pgErr != nil {
		t.Skipf("postgres container unavailable: %v", pgErr)
	}

	t.Cleanup(func() {
		_, err := pgDB.Exec(`TRUNCATE TABLE messages, users RESTART IDENTITY CASCADE`)
		require.NoError(t, err)
	})
	return pgDB
}

func createUsers(t *testing.T, repo *UserRepo, names ...string) []models.User {
	t.Helper()
	var out []models.User
	for _, name := range names {
		u, err := repo.Create(context.Background(), models.User{Username: name, DisplayName: name, PasswordHash: "hash"})
		require.NoError(t, err)
		out = append(out, u)
	}
	return out
}

func TestPostgresCreateUser(t *testing.T) {
	repo := NewUserRepo(testDB(t))
	ctx := context.Background()

	users := createUsers(t, repo, "alice")
	assert.NotZero(t, users[0].ID)
	assert.False(t, users[0].IsPaired())
	assert.False(t, users[0].CreatedAt.IsZero())

	_, err := repo.Create(ctx, models.User{Username: "alice", DisplayName: "again", PasswordHash: "hash"})
	assert.ErrorIs(t, err, apperr.ErrUsernameTaken)

	byName, err := repo.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, users[0].ID, byName.ID)

	_, err = repo.Get(ctx, 999)
	assert.ErrorIs(t, err, apperr.ErrUserNotFound)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPostgresPairConflicts(t *testing.T) {
	repo := NewUserRepo(testDB(t))
	ctx := context.Background()
	users := createUsers(t, repo, "alice", "bob", "carol")
	a, b, c := users[0].ID, users[1].ID, users[2].ID

	require.NoError(t, repo.Pair(ctx, a, b))
	require.NoError(t, repo.Pair(ctx, b, a))

	err := repo.Pair(ctx, a, c)
	assert.ErrorIs(t, err, apperr.ErrConflictingPairing)
	err = repo.Pair(ctx, c, b)
	assert.ErrorIs(t, err, apperr.ErrConflictingPairing)
	err = repo.Pair(ctx, 999, c)
	assert.ErrorIs(t, err, apperr.ErrUserNotFound)

	// A failed pair must not leave carol half-linked.
	carol, err := repo.Get(ctx, c)
	require.NoError(t, err)
	assert.False(t, carol.IsPaired())

	alice, err := repo.Get(ctx, a)
	require.NoError(t, err)
	require.NotNil(t, alice.CounterpartID)
	assert.Equal(t, b, *alice.CounterpartID)
}

func TestPostgresDeleteUser(t *testing.T) {
	repo := NewUserRepo(testDB(t))
	ctx := context.Background()
	users := createUsers(t, repo, "alice", "bob", "carol")
	require.NoError(t, repo.Pair(ctx, users[0].ID, users[1].ID))

	assert.ErrorIs(t, repo.Delete(ctx, users[0].ID), apperr.ErrAlreadyPaired)
	require.NoError(t, repo.Delete(ctx, users[2].ID))
	assert.ErrorIs(t, repo.Delete(ctx, users[2].ID), apperr.ErrUserNotFound)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func seedConversation(t *testing.T) (*MessageRepo, int64, int64) {
	t.Helper()
	database := testDB(t)
	users := createUsers(t, NewUserRepo(database), "alice", "bob")
	require.NoError(t, NewUserRepo(database).Pair(context.Background(), users[0].ID, users[1].ID))
	return NewMessageRepo(database), users[0].ID, users[1].ID
}

func TestPostgresDeliveredAndSeenAreWriteOnce(t *testing.T) {
	repo, alice, bob := seedConversation(t)
	ctx := context.Background()

	msg, err := repo.Append(ctx, models.Message{SenderID: alice, RecipientID: bob, Kind: models.KindText, Content: "hi"})
	require.NoError(t, err)
	assert.NotZero(t, msg.ID)
	assert.False(t, msg.Delivered)
	assert.Empty(t, msg.DeletedFor)

	pending, err := repo.ListUndelivered(ctx, bob)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	first := time.Now().Add(-time.Minute).UTC()
	delivered, err := repo.MarkDelivered(ctx, msg.ID, first)
	require.NoError(t, err)
	require.NotNil(t, delivered.DeliveredAt)

	again, err := repo.MarkDelivered(ctx, msg.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, delivered.DeliveredAt.Equal(*again.DeliveredAt))

	pending, err = repo.ListUndelivered(ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, pending)

	seen, changed, err := repo.MarkSeen(ctx, msg.ID, first)
	require.NoError(t, err)
	assert.True(t, changed)
	require.NotNil(t, seen.SeenAt)

	seenAgain, changed, err := repo.MarkSeen(ctx, msg.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.True(t, seen.SeenAt.Equal(*seenAgain.SeenAt))

	_, _, err = repo.MarkSeen(ctx, 999, time.Now())
	assert.ErrorIs(t, err, apperr.ErrMessageNotFound)
}

func TestPostgresSeenBatchAndUnreadCount(t *testing.T) {
	repo, alice, bob := seedConversation(t)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		_, err := repo.Append(ctx, models.Message{SenderID: alice, RecipientID: bob, Kind: models.KindText, Content: text})
		require.NoError(t, err)
	}
	_, err := repo.Append(ctx, models.Message{SenderID: bob, RecipientID: alice, Kind: models.KindText, Content: "reply"})
	require.NoError(t, err)

	unseen, err := repo.CountUnseen(ctx, alice, bob)
	require.NoError(t, err)
	assert.Equal(t, 3, unseen)

	marked, err := repo.MarkSeenBatch(ctx, alice, bob, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 3, marked)

	unseen, err = repo.CountUnseen(ctx, alice, bob)
	require.NoError(t, err)
	assert.Zero(t, unseen)

	unseen, err = repo.CountUnseen(ctx, bob, alice)
	require.NoError(t, err)
	assert.Equal(t, 1, unseen)
}

func TestPostgresListBetweenPagesChronologically(t *testing.T) {
	repo, alice, bob := seedConversation(t)
	ctx := context.Background()

	for i, text := range []string{"m0", "m1", "m2", "m3", "m4"} {
		from, to := alice, bob
		if i%2 == 1 {
			from, to = bob, alice
		}
		_, err := repo.Append(ctx, models.Message{SenderID: from, RecipientID: to, Kind: models.KindText, Content: text})
		require.NoError(t, err)
	}

	latest, err := repo.ListBetween(ctx, alice, bob, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, latest.Total)
	require.Len(t, latest.Messages, 2)
	assert.Equal(t, "m3", latest.Messages[0].Content)
	assert.Equal(t, "m4", latest.Messages[1].Content)

	oldest, err := repo.ListBetween(ctx, bob, alice, 3, 2)
	require.NoError(t, err)
	require.Len(t, oldest.Messages, 1)
	assert.Equal(t, "m0", oldest.Messages[0].Content)
}

func TestPostgresDeleteForViewerThenTombstone(t *testing.T) {
	repo, alice, bob := seedConversation(t)
	ctx := context.Background()

	url := "/uploads/p.png"
	msg, err := repo.Append(ctx, models.Message{SenderID: alice, RecipientID: bob, Kind: models.KindImage, Content: "Image shared", MediaURL: &url})
	require.NoError(t, err)

	hidden, changed, err := repo.MarkDeletedForViewer(ctx, msg.ID, alice, false)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, hidden.IsDeleted)
	assert.Equal(t, []int64{alice}, []int64(hidden.DeletedFor))

	forAlice, err := repo.ListBetween(ctx, alice, bob, 1, 20)
	require.NoError(t, err)
	assert.Zero(t, forAlice.Total)
	forBob, err := repo.ListBetween(ctx, bob, alice, 1, 20)
	require.NoError(t, err)
	require.Len(t, forBob.Messages, 1)
	assert.Equal(t, "Image shared", forBob.Messages[0].Content)

	tombstoned, changed, err := repo.MarkDeletedForViewer(ctx, msg.ID, alice, true)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, tombstoned.IsDeleted)
	assert.Equal(t, models.Tombstone, tombstoned.Content)
	assert.Nil(t, tombstoned.MediaURL)
	assert.ElementsMatch(t, []int64{alice, bob}, []int64(tombstoned.DeletedFor))

	again, changed, err := repo.MarkDeletedForViewer(ctx, msg.ID, alice, true)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Len(t, again.DeletedFor, 2)

	stored, err := repo.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsDeleted)
	assert.Equal(t, models.Tombstone, stored.Content)

	_, _, err = repo.MarkDeletedForViewer(ctx, 999, alice, true)
	assert.ErrorIs(t, err, apperr.ErrMessageNotFound)
}
