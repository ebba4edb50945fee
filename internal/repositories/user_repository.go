package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"pairchat/internal/apperr"
	"pairchat/internal/models"
)

// UserRepository persists identities and their pairing.
type UserRepository interface {
	Create(ctx context.Context, user models.User) (models.User, error)
	Get(ctx context.Context, userID int64) (models.User, error)
	GetByUsername(ctx context.Context, username string) (models.User, error)
	List(ctx context.Context) ([]models.User, error)
	Count(ctx context.Context) (int, error)
	// Pair links a and b symmetrically. It fails with ErrConflictingPairing
	// when either side already has a different counterpart.
	Pair(ctx context.Context, a, b int64) error
	// Delete removes an unpaired user. It undoes a registration whose
	// pairing step failed.
	Delete(ctx context.Context, userID int64) error
	UpdateProfile(ctx context.Context, userID int64, displayName, bio string) (models.User, error)
	UpdateProfilePicture(ctx context.Context, userID int64, url string) (models.User, error)
	UpdatePassword(ctx context.Context, userID int64, hash string) error
	TouchLastActive(ctx context.Context, userID int64, at time.Time) error
}

const userColumns = `id, username, display_name, bio, profile_picture, password_hash, counterpart_id, last_active, created_at`

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// Create inserts a user; a duplicate username maps to ErrUsernameTaken.
func (r *UserRepo) Create(ctx context.Context, user models.User) (models.User, error) {
	var created models.User
	err := r.db.QueryRowxContext(ctx, `INSERT INTO users (username, display_name, password_hash)
        VALUES ($1, $2, $3) RETURNING `+userColumns, user.Username, user.DisplayName, user.PasswordHash).StructScan(&created)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return models.User{}, apperr.ErrUsernameTaken
	}
	return created, err
}

func (r *UserRepo) Get(ctx context.Context, userID int64) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, apperr.ErrUserNotFound
	}
	return user, err
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE username=$1`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, apperr.ErrUserNotFound
	}
	return user, err
}

func (r *UserRepo) List(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := r.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users ORDER BY id ASC`)
	return users, err
}

func (r *UserRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM users`)
	return count, err
}

// Pair updates both rows in one transaction; each update only applies when
// the row is unpaired or already paired with the other side.
func (r *UserRepo) Pair(ctx context.Context, a, b int64) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, pair := range [][2]int64{{a, b}, {b, a}} {
		var res sql.Result
		res, err = tx.ExecContext(ctx, `UPDATE users SET counterpart_id=$2
            WHERE id=$1 AND (counterpart_id IS NULL OR counterpart_id=$2)`, pair[0], pair[1])
		if err != nil {
			return err
		}
		var count int64
		if count, err = res.RowsAffected(); err != nil {
			return err
		}
		if count == 0 {
			var exists bool
			if err = tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM users WHERE id=$1)`, pair[0]); err != nil {
				return err
			}
			if !exists {
				err = apperr.ErrUserNotFound
				return err
			}
			err = apperr.ErrConflictingPairing
			return err
		}
	}

	err = tx.Commit()
	return err
}

func (r *UserRepo) Delete(ctx context.Context, userID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id=$1 AND counterpart_id IS NULL
        AND NOT EXISTS (SELECT 1 FROM users p WHERE p.counterpart_id=$1)`, userID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		var exists bool
		if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM users WHERE id=$1)`, userID); err != nil {
			return err
		}
		if exists {
			return apperr.ErrAlreadyPaired
		}
		return apperr.ErrUserNotFound
	}
	return nil
}

func (r *UserRepo) UpdateProfile(ctx context.Context, userID int64, displayName, bio string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `UPDATE users SET display_name=$2, bio=$3 WHERE id=$1 RETURNING `+userColumns, userID, displayName, bio)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, apperr.ErrUserNotFound
	}
	return user, err
}

func (r *UserRepo) UpdateProfilePicture(ctx context.Context, userID int64, url string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `UPDATE users SET profile_picture=$2 WHERE id=$1 RETURNING `+userColumns, userID, url)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, apperr.ErrUserNotFound
	}
	return user, err
}

func (r *UserRepo) UpdatePassword(ctx context.Context, userID int64, hash string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET password_hash=$2 WHERE id=$1`, userID, hash)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return apperr.ErrUserNotFound
	}
	return nil
}

// TouchLastActive moves last_active forward; older timestamps are ignored.
func (r *UserRepo) TouchLastActive(ctx context.Context, userID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET last_active=GREATEST(last_active, $2) WHERE id=$1`, userID, at)
	return err
}
