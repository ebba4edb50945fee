package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"pairchat/internal/apperr"
	"pairchat/internal/models"
)

// MessageRepository is the conversation store. Every backend must keep
// delivered_at and seen_at write-once and the deletion set grow-only.
type MessageRepository interface {
	Append(ctx context.Context, msg models.Message) (models.Message, error)
	Get(ctx context.Context, messageID int64) (models.Message, error)
	ListBetween(ctx context.Context, viewerID, counterpartID int64, page, pageSize int) (models.MessagePage, error)
	MarkDelivered(ctx context.Context, messageID int64, at time.Time) (models.Message, error)
	MarkSeen(ctx context.Context, messageID int64, at time.Time) (models.Message, bool, error)
	MarkSeenBatch(ctx context.Context, fromID, toID int64, at time.Time) (int, error)
	MarkDeletedForViewer(ctx context.Context, messageID, viewerID int64, alsoForCounterpart bool) (models.Message, bool, error)
	CountUnseen(ctx context.Context, fromID, toID int64) (int, error)
	ListUndelivered(ctx context.Context, toID int64) ([]models.Message, error)
}

const messageColumns = `id, sender_id, recipient_id, kind, content, media_url, delivered, delivered_at, seen, seen_at, deleted_for, is_deleted, created_at`

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Append stores a new message; id and created_at are assigned by the database.
func (r *MessageRepo) Append(ctx context.Context, msg models.Message) (models.Message, error) {
	var stored models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (sender_id, recipient_id, kind, content, media_url)
        VALUES ($1, $2, $3, $4, $5) RETURNING `+messageColumns,
		msg.SenderID, msg.RecipientID, msg.Kind, msg.Content, msg.MediaURL).StructScan(&stored)
	return stored, err
}

// Get retrieves a single message.
func (r *MessageRepo) Get(ctx context.Context, messageID int64) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, apperr.ErrMessageNotFound
	}
	return msg, err
}

// ListBetween returns one page of the conversation visible to viewerID, most
// recent page first, with the messages of the page in chronological order.
func (r *MessageRepo) ListBetween(ctx context.Context, viewerID, counterpartID int64, page, pageSize int) (models.MessagePage, error) {
	const filter = `WHERE ((sender_id=$1 AND recipient_id=$2) OR (sender_id=$2 AND recipient_id=$1))
        AND NOT ($1 = ANY(deleted_for))`

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM messages `+filter, viewerID, counterpartID); err != nil {
		return models.MessagePage{}, err
	}

	var msgs []models.Message
	query := `SELECT ` + messageColumns + ` FROM messages ` + filter + `
        ORDER BY created_at DESC, id DESC
        LIMIT $3 OFFSET $4`
	if err := r.db.SelectContext(ctx, &msgs, query, viewerID, counterpartID, pageSize, (page-1)*pageSize); err != nil {
		return models.MessagePage{}, err
	}
	reverse(msgs)
	return models.MessagePage{Messages: msgs, Total: total}, nil
}

// MarkDelivered sets the delivered flag once; later calls return the stored state.
func (r *MessageRepo) MarkDelivered(ctx context.Context, messageID int64, at time.Time) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `UPDATE messages SET delivered = TRUE, delivered_at = $2
        WHERE id=$1 AND delivered = FALSE RETURNING `+messageColumns, messageID, at)
	if errors.Is(err, sql.ErrNoRows) {
		return r.Get(ctx, messageID)
	}
	return msg, err
}

// MarkSeen sets the seen flag once and reports whether this call made the transition.
func (r *MessageRepo) MarkSeen(ctx context.Context, messageID int64, at time.Time) (models.Message, bool, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `UPDATE messages SET seen = TRUE, seen_at = $2
        WHERE id=$1 AND seen = FALSE RETURNING `+messageColumns, messageID, at)
	if errors.Is(err, sql.ErrNoRows) {
		msg, err = r.Get(ctx, messageID)
		return msg, false, err
	}
	if err != nil {
		return models.Message{}, false, err
	}
	return msg, true, nil
}

// MarkSeenBatch marks every unseen message from fromID to toID as seen.
func (r *MessageRepo) MarkSeenBatch(ctx context.Context, fromID, toID int64, at time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET seen = TRUE, seen_at = $3
        WHERE sender_id=$1 AND recipient_id=$2 AND seen = FALSE`, fromID, toID, at)
	if err != nil {
		return 0, err
	}
	count, err := res.RowsAffected()
	return int(count), err
}

// MarkDeletedForViewer hides a message for viewerID, and for the other
// participant too when alsoForCounterpart is set.
func (r *MessageRepo) MarkDeletedForViewer(ctx context.Context, messageID, viewerID int64, alsoForCounterpart bool) (msg models.Message, changed bool, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = tx.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1 FOR UPDATE`, messageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = apperr.ErrMessageNotFound
		}
		return models.Message{}, false, err
	}

	viewers := []int64{viewerID}
	if alsoForCounterpart {
		viewers = append(viewers, msg.Counterpart(viewerID))
	}
	if changed = msg.HideFor(viewers...); changed {
		if _, err = tx.ExecContext(ctx, `UPDATE messages SET deleted_for=$2, is_deleted=$3, content=$4, media_url=$5 WHERE id=$1`,
			msg.ID, msg.DeletedFor, msg.IsDeleted, msg.Content, msg.MediaURL); err != nil {
			return models.Message{}, false, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Message{}, false, err
	}
	return msg, changed, nil
}

// CountUnseen counts unseen messages from fromID to toID that toID can still see.
func (r *MessageRepo) CountUnseen(ctx context.Context, fromID, toID int64) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages
        WHERE sender_id=$1 AND recipient_id=$2 AND seen = FALSE AND NOT ($2 = ANY(deleted_for))`, fromID, toID)
	return count, err
}

// ListUndelivered returns pending messages addressed to toID in chronological order.
func (r *MessageRepo) ListUndelivered(ctx context.Context, toID int64) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages
        WHERE recipient_id=$1 AND delivered = FALSE AND NOT ($1 = ANY(deleted_for))
        ORDER BY created_at ASC, id ASC`, toID)
	return msgs, err
}

func reverse(msgs []models.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
