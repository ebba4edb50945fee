package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"pairchat/internal/keylock"
	"pairchat/internal/models"
	"pairchat/internal/observability"
)

// ErrOffline is returned by Push when the identity has no live connection.
var ErrOffline = errors.New("identity has no live connection")

// Conn is a live channel handle owned by the transport.
type Conn interface {
	ID() string
	Send(event string, payload any) error
	Close() error
}

// CounterpartResolver maps an identity to its paired counterpart.
type CounterpartResolver interface {
	CounterpartID(ctx context.Context, userID int64) (int64, bool)
}

// Registry maps each identity to at most one live connection.
type Registry struct {
	mu       sync.RWMutex
	conns    map[int64]Conn
	identity *keylock.Map[int64]
	resolver CounterpartResolver
}

func NewRegistry(resolver CounterpartResolver) *Registry {
	return &Registry{
		conns:    make(map[int64]Conn),
		identity: keylock.New[int64](),
		resolver: resolver,
	}
}

// Register stores conn as the live handle for userID and returns the handle
// it replaced, if any. The counterpart is told about the change after the
// mapping is committed.
func (r *Registry) Register(ctx context.Context, userID int64, conn Conn) Conn {
	unlock := r.identity.Lock(userID)
	defer unlock()

	r.mu.Lock()
	prev := r.conns[userID]
	r.conns[userID] = conn
	online := len(r.conns)
	r.mu.Unlock()

	observability.SetPresenceOnline(online)
	logrus.WithFields(logrus.Fields{
		"user_id":  userID,
		"conn_id":  conn.ID(),
		"replaced": prev != nil,
	}).Info("presence registered")

	r.notifyCounterpart(ctx, userID, true)
	r.publish(ctx, userID, conn.ID(), "online")
	return prev
}

// Unregister removes the mapping for userID only while conn is still the
// registered handle. It reports whether anything was removed.
func (r *Registry) Unregister(ctx context.Context, userID int64, conn Conn) bool {
	unlock := r.identity.Lock(userID)
	defer unlock()

	r.mu.Lock()
	current, ok := r.conns[userID]
	if !ok || current.ID() != conn.ID() {
		r.mu.Unlock()
		logrus.WithFields(logrus.Fields{"user_id": userID, "conn_id": conn.ID()}).Debug("stale unregister ignored")
		return false
	}
	delete(r.conns, userID)
	online := len(r.conns)
	r.mu.Unlock()

	observability.SetPresenceOnline(online)
	logrus.WithFields(logrus.Fields{"user_id": userID, "conn_id": conn.ID()}).Info("presence unregistered")

	r.notifyCounterpart(ctx, userID, false)
	r.publish(ctx, userID, conn.ID(), "offline")
	return true
}

func (r *Registry) Lookup(userID int64) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[userID]
	return conn, ok
}

func (r *Registry) Online(userID int64) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// Push sends one event to the identity's live connection. A failed send
// closes the connection so its read loop unregisters it; the error is
// returned so callers never treat the push as delivered.
func (r *Registry) Push(userID int64, event string, payload any) error {
	conn, ok := r.Lookup(userID)
	if !ok {
		return ErrOffline
	}
	if err := conn.Send(event, payload); err != nil {
		observability.IncPushFailure(event)
		logrus.WithError(err).WithFields(logrus.Fields{
			"user_id": userID,
			"conn_id": conn.ID(),
			"event":   event,
		}).Warn("push failed, closing connection")
		_ = conn.Close()
		return fmt.Errorf("push %s to user %d: %w", event, userID, err)
	}
	observability.IncWSEvent("out", event)
	return nil
}

// PushCounterpart pushes to whoever is paired with userID.
func (r *Registry) PushCounterpart(ctx context.Context, userID int64, event string, payload any) error {
	if r.resolver == nil {
		return ErrOffline
	}
	counterpartID, ok := r.resolver.CounterpartID(ctx, userID)
	if !ok {
		return ErrOffline
	}
	return r.Push(counterpartID, event, payload)
}

func (r *Registry) notifyCounterpart(ctx context.Context, userID int64, online bool) {
	err := r.PushCounterpart(ctx, userID, models.EventPartnerStatus, models.PartnerStatusPayload{IsOnline: online})
	if err != nil && !errors.Is(err, ErrOffline) {
		logrus.WithError(err).WithField("user_id", userID).Debug("partner status not delivered")
	}
}

func (r *Registry) publish(ctx context.Context, userID int64, connID, state string) {
	_ = observability.PublishEvent(ctx, observability.RoutingKeyPresence, observability.NewEnvelope("ws_events", state, map[string]any{
		"user_id": userID,
		"conn_id": connID,
	}), observability.BuildHeaders("", observability.TraceIDFromContext(ctx)))
}
