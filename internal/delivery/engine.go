package delivery

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pairchat/internal/apperr"
	"pairchat/internal/keylock"
	"pairchat/internal/models"
	"pairchat/internal/observability"
	"pairchat/internal/presence"
	"pairchat/internal/repositories"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100

	DefaultImageContent = "Image shared"
	DefaultVideoContent = "Video shared"
)

// Pusher is the presence view the engine needs.
type Pusher interface {
	Push(userID int64, event string, payload any) error
}

type CounterpartResolver interface {
	CounterpartID(ctx context.Context, userID int64) (int64, bool)
}

// Auditor records policy rejections. Optional.
type Auditor interface {
	Emit(ctx context.Context, level, text, requestID string, userID int64)
}

type Options struct {
	// PushPendingOnConnect pushes undelivered messages when the recipient
	// opens a channel instead of waiting for the next fetch.
	PushPendingOnConnect bool
}

type SendInput struct {
	Kind     models.MessageKind
	Content  string
	MediaURL string
}

type conversationKey struct {
	low, high int64
}

func keyFor(a, b int64) conversationKey {
	if a > b {
		a, b = b, a
	}
	return conversationKey{low: a, high: b}
}

// Engine drives messages through stored, delivered, seen and deleted
// states. Every transition for a conversation runs under that
// conversation's lock; pushes happen after persistence and never undo it.
type Engine struct {
	store   repositories.MessageRepository
	pairs   CounterpartResolver
	pusher  Pusher
	auditor Auditor
	opts    Options

	locks  *keylock.Map[conversationKey]
	tracer trace.Tracer
	now    func() time.Time
}

func NewEngine(store repositories.MessageRepository, pairs CounterpartResolver, pusher Pusher, auditor Auditor, opts Options) *Engine {
	return &Engine{
		store:   store,
		pairs:   pairs,
		pusher:  pusher,
		auditor: auditor,
		opts:    opts,
		locks:   keylock.New[conversationKey](),
		tracer:  observability.Tracer("delivery"),
		now:     time.Now,
	}
}

// Send stores a message from senderID to their counterpart and pushes it
// when the counterpart is live.
func (e *Engine) Send(ctx context.Context, senderID int64, in SendInput) (models.Message, error) {
	ctx, span := e.tracer.Start(ctx, "delivery.send", trace.WithAttributes(attribute.Int64("sender_id", senderID)))
	defer span.End()

	recipientID, ok := e.pairs.CounterpartID(ctx, senderID)
	if !ok {
		return models.Message{}, apperr.ErrNoCounterpart
	}
	msg, err := buildMessage(senderID, recipientID, in)
	if err != nil {
		return models.Message{}, err
	}

	unlock := e.locks.Lock(keyFor(senderID, recipientID))
	defer unlock()

	stored, err := e.store.Append(ctx, msg)
	if err != nil {
		recordError(span, err)
		return models.Message{}, err
	}
	span.SetAttributes(attribute.Int64("message_id", stored.ID))
	e.transition(ctx, "sent", stored, senderID)
	observability.IncMessageTransition("stored")

	e.pushBestEffort(senderID, models.EventMessageSent, models.MessagePayload{Message: stored})

	delivered, ok := e.deliverLocked(ctx, stored)
	if ok {
		stored = delivered
	}
	span.SetAttributes(attribute.Bool("delivered", stored.Delivered))
	return stored, nil
}

// deliverLocked pushes msg to its recipient and, only once that push has
// succeeded, marks it delivered and tells the sender. Callers hold the
// conversation lock.
func (e *Engine) deliverLocked(ctx context.Context, msg models.Message) (models.Message, bool) {
	if err := e.pusher.Push(msg.RecipientID, models.EventNewMessage, models.MessagePayload{Message: msg}); err != nil {
		if !isOffline(err) {
			logrus.WithError(err).WithField("message_id", msg.ID).Warn("recipient push failed, message left pending")
		}
		return msg, false
	}

	delivered, err := e.store.MarkDelivered(ctx, msg.ID, e.now().UTC())
	if err != nil {
		logrus.WithError(err).WithField("message_id", msg.ID).Error("failed to mark message delivered")
		return msg, false
	}
	observability.IncMessageTransition("delivered")
	e.transition(ctx, "delivered", delivered, msg.SenderID)

	e.pushBestEffort(delivered.SenderID, models.EventMessageDelivered, models.DeliveredPayload{
		MessageID:   delivered.ID,
		DeliveredAt: *delivered.DeliveredAt,
	})
	return delivered, true
}

// MarkSeen records that viewerID read messageID. Repeated calls return the
// original timestamp and notify nobody. A message the viewer has deleted is
// reported as not found.
func (e *Engine) MarkSeen(ctx context.Context, viewerID, messageID int64) (models.Message, error) {
	ctx, span := e.tracer.Start(ctx, "delivery.mark_seen", trace.WithAttributes(
		attribute.Int64("viewer_id", viewerID),
		attribute.Int64("message_id", messageID),
	))
	defer span.End()

	msg, err := e.store.Get(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.RecipientID != viewerID {
		e.audit(ctx, viewerID, "mark seen rejected: viewer is not the recipient")
		return models.Message{}, apperr.ErrNotRecipient
	}

	unlock := e.locks.Lock(keyFor(msg.SenderID, msg.RecipientID))
	defer unlock()

	// Re-read under the lock so a concurrent delete is observed.
	if msg, err = e.store.Get(ctx, messageID); err != nil {
		return models.Message{}, err
	}
	if msg.HiddenFor(viewerID) {
		return models.Message{}, apperr.ErrMessageNotFound
	}

	seen, changed, err := e.store.MarkSeen(ctx, messageID, e.now().UTC())
	if err != nil {
		recordError(span, err)
		return models.Message{}, err
	}
	if changed {
		observability.IncMessageTransition("seen")
		e.transition(ctx, "seen", seen, viewerID)
		e.pushBestEffort(seen.SenderID, models.EventMessageSeen, models.SeenPayload{
			MessageID: seen.ID,
			SeenAt:    *seen.SeenAt,
		})
	}
	return seen, nil
}

// Delete hides messageID for its sender and, when alsoForCounterpart is
// set, for the recipient too. Only the sender may delete. A delete that
// changes nothing notifies nobody.
func (e *Engine) Delete(ctx context.Context, requesterID, messageID int64, alsoForCounterpart bool) (models.Message, error) {
	ctx, span := e.tracer.Start(ctx, "delivery.delete", trace.WithAttributes(
		attribute.Int64("requester_id", requesterID),
		attribute.Int64("message_id", messageID),
		attribute.Bool("also_for_counterpart", alsoForCounterpart),
	))
	defer span.End()

	msg, err := e.store.Get(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.SenderID != requesterID {
		e.audit(ctx, requesterID, "delete rejected: requester is not the sender")
		return models.Message{}, apperr.ErrNotSender
	}

	unlock := e.locks.Lock(keyFor(msg.SenderID, msg.RecipientID))
	defer unlock()

	updated, changed, err := e.store.MarkDeletedForViewer(ctx, messageID, requesterID, alsoForCounterpart)
	if err != nil {
		recordError(span, err)
		return models.Message{}, err
	}
	if !changed {
		return updated, nil
	}
	transition := "deleted_for_sender"
	if updated.IsDeleted {
		transition = "deleted_for_both"
	}
	observability.IncMessageTransition(transition)
	e.transition(ctx, transition, updated, requesterID)

	payload := models.DeletedPayload{MessageID: updated.ID, UpdatedMessage: updated}
	e.pushBestEffort(updated.SenderID, models.EventMessageDeleted, payload)
	e.pushBestEffort(updated.RecipientID, models.EventMessageDeleted, payload)
	return updated, nil
}

// ListConversation returns one page of the viewer's conversation and then
// marks every incoming unseen message as seen.
func (e *Engine) ListConversation(ctx context.Context, viewerID int64, page, limit int) (models.MessagePage, models.Pagination, error) {
	ctx, span := e.tracer.Start(ctx, "delivery.list", trace.WithAttributes(attribute.Int64("viewer_id", viewerID)))
	defer span.End()

	counterpartID, ok := e.pairs.CounterpartID(ctx, viewerID)
	if !ok {
		return models.MessagePage{}, models.Pagination{}, apperr.ErrNoCounterpart
	}
	page, limit = NormalizePage(page, limit)

	unlock := e.locks.Lock(keyFor(viewerID, counterpartID))
	defer unlock()

	result, err := e.store.ListBetween(ctx, viewerID, counterpartID, page, limit)
	if err != nil {
		recordError(span, err)
		return models.MessagePage{}, models.Pagination{}, err
	}

	marked, err := e.store.MarkSeenBatch(ctx, counterpartID, viewerID, e.now().UTC())
	if err != nil {
		logrus.WithError(err).WithField("user_id", viewerID).Warn("fetch-time seen catch-up failed")
	} else if marked > 0 {
		logrus.WithFields(logrus.Fields{"user_id": viewerID, "count": marked}).Debug("messages marked seen on fetch")
	}

	return result, models.NewPagination(page, limit, len(result.Messages), result.Total), nil
}

// UnreadCount is the number of messages from the counterpart the viewer
// has not seen.
func (e *Engine) UnreadCount(ctx context.Context, viewerID int64) (int, error) {
	counterpartID, ok := e.pairs.CounterpartID(ctx, viewerID)
	if !ok {
		return 0, apperr.ErrNoCounterpart
	}
	return e.store.CountUnseen(ctx, counterpartID, viewerID)
}

// Typing relays a typing indicator to the counterpart if live.
func (e *Engine) Typing(ctx context.Context, userID int64, typing bool) {
	counterpartID, ok := e.pairs.CounterpartID(ctx, userID)
	if !ok {
		return
	}
	e.pushBestEffort(counterpartID, models.EventPartnerTyping, models.PartnerTypingPayload{IsTyping: typing})
}

// FlushPending pushes messages that were stored while userID was offline.
// It does nothing unless Options.PushPendingOnConnect is set and stops at
// the first failed push.
func (e *Engine) FlushPending(ctx context.Context, userID int64) (int, error) {
	if !e.opts.PushPendingOnConnect {
		return 0, nil
	}
	ctx, span := e.tracer.Start(ctx, "delivery.flush_pending", trace.WithAttributes(attribute.Int64("user_id", userID)))
	defer span.End()

	counterpartID, ok := e.pairs.CounterpartID(ctx, userID)
	if !ok {
		return 0, nil
	}

	unlock := e.locks.Lock(keyFor(userID, counterpartID))
	defer unlock()

	pending, err := e.store.ListUndelivered(ctx, userID)
	if err != nil {
		recordError(span, err)
		return 0, err
	}
	flushed := 0
	for _, msg := range pending {
		if _, ok := e.deliverLocked(ctx, msg); !ok {
			break
		}
		flushed++
	}
	span.SetAttributes(attribute.Int("flushed", flushed))
	return flushed, nil
}

// NormalizePage applies defaults and the page size cap.
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return page, limit
}

func buildMessage(senderID, recipientID int64, in SendInput) (models.Message, error) {
	kind := in.Kind
	if kind == "" {
		kind = models.KindText
	}
	if !kind.Valid() {
		return models.Message{}, apperr.InvalidArg("unsupported message kind")
	}
	msg := models.Message{
		SenderID:    senderID,
		RecipientID: recipientID,
		Kind:        kind,
		Content:     strings.TrimSpace(in.Content),
	}

	if !kind.IsMedia() {
		if msg.Content == "" {
			return models.Message{}, apperr.ErrInvalidPayload
		}
		return msg, nil
	}

	mediaURL := strings.TrimSpace(in.MediaURL)
	if !ValidMediaRef(mediaURL) {
		return models.Message{}, apperr.ErrInvalidPayload
	}
	msg.MediaURL = &mediaURL
	if msg.Content == "" {
		msg.Content = DefaultImageContent
		if kind == models.KindVideo {
			msg.Content = DefaultVideoContent
		}
	}
	return msg, nil
}

// ValidMediaRef accepts absolute http(s) URLs and paths under /uploads/.
func ValidMediaRef(ref string) bool {
	switch {
	case strings.HasPrefix(ref, "https://"), strings.HasPrefix(ref, "http://"):
		return len(ref) > len("https://") && !strings.ContainsAny(ref, " \t\n")
	case strings.HasPrefix(ref, "/uploads/"):
		return len(ref) > len("/uploads/") && !strings.Contains(ref, "..")
	}
	return false
}

func (e *Engine) pushBestEffort(userID int64, event string, payload any) {
	if err := e.pusher.Push(userID, event, payload); err != nil && !isOffline(err) {
		logrus.WithError(err).WithFields(logrus.Fields{"user_id": userID, "event": event}).Debug("notification not delivered")
	}
}

func (e *Engine) audit(ctx context.Context, userID int64, text string) {
	logrus.WithField("user_id", userID).Warn(text)
	if e.auditor != nil {
		e.auditor.Emit(ctx, "WARN", text, observability.RequestIDFromContext(ctx), userID)
	}
}

func (e *Engine) transition(ctx context.Context, name string, msg models.Message, actorID int64) {
	_ = observability.PublishEvent(ctx, observability.MessageRoutingKey(name), observability.NewEnvelope("message_events", name, map[string]any{
		"message_id":   msg.ID,
		"sender_id":    msg.SenderID,
		"recipient_id": msg.RecipientID,
		"kind":         msg.Kind,
		"actor_id":     actorID,
	}), observability.BuildHeaders(observability.RequestIDFromContext(ctx), observability.TraceIDFromContext(ctx)))
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// isOffline reports whether err only means "nobody to push to".
func isOffline(err error) bool {
	return errors.Is(err, presence.ErrOffline)
}
