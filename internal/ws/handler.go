package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"pairchat/internal/delivery"
	"pairchat/internal/models"
	"pairchat/internal/observability"
	"pairchat/internal/presence"
)

// Sessions authenticates the handshake and records activity.
type Sessions interface {
	Authenticate(ctx context.Context, token string) (models.User, error)
	Touch(ctx context.Context, userID int64)
}

type Presence interface {
	Register(ctx context.Context, userID int64, conn presence.Conn) presence.Conn
	Unregister(ctx context.Context, userID int64, conn presence.Conn) bool
}

// Engine is the subset of the delivery engine driven by inbound events.
type Engine interface {
	Send(ctx context.Context, senderID int64, in delivery.SendInput) (models.Message, error)
	MarkSeen(ctx context.Context, viewerID, messageID int64) (models.Message, error)
	Delete(ctx context.Context, requesterID, messageID int64, alsoForCounterpart bool) (models.Message, error)
	Typing(ctx context.Context, userID int64, typing bool)
	FlushPending(ctx context.Context, userID int64) (int, error)
}

// Handler serves the realtime channel at GET /ws.
type Handler struct {
	sessions Sessions
	presence Presence
	engine   Engine
}

func NewHandler(sessions Sessions, presence Presence, engine Engine) *Handler {
	return &Handler{sessions: sessions, presence: presence, engine: engine}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates, upgrades and registers the connection, then
// serves inbound events until the peer goes away.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := observability.Tracer("ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	user, err := h.sessions.Authenticate(ctx, observability.BearerToken(c.Request))
	if err != nil {
		observability.IncWSEvent("lifecycle", "ws_rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"error": publicError(err)})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).WithField("user_id", user.ID).Warn("websocket upgrade failed")
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      user.ID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	client := newClient(conn, info)

	// The request context ends when this handler returns.
	connCtx := observability.WithRequestID(context.WithoutCancel(ctx), info.RequestID)

	if prev := h.presence.Register(connCtx, user.ID, client); prev != nil {
		_ = prev.Close()
	}
	h.sessions.Touch(connCtx, user.ID)
	observability.IncWSActive()
	publishLifecycle(connCtx, info, "ws_connect", "")

	go client.keepAlive()
	go h.serve(connCtx, client)
}

func (h *Handler) serve(ctx context.Context, client *Client) {
	info := client.info
	var closeReason string
	defer func() {
		h.presence.Unregister(ctx, info.UserID, client)
		_ = client.Close()
		h.sessions.Touch(ctx, info.UserID)
		observability.DecWSActive()
		publishLifecycle(ctx, info, "ws_disconnect", closeReason)
	}()

	if n, err := h.engine.FlushPending(ctx, info.UserID); err != nil {
		logrus.WithError(err).WithField("user_id", info.UserID).Warn("pending flush failed")
	} else if n > 0 {
		logrus.WithFields(logrus.Fields{"user_id": info.UserID, "count": n}).Info("pending messages pushed on connect")
	}

	conn := client.conn
	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				publishLifecycle(ctx, info, "ws_error", closeReason)
			}
			return
		}
		h.dispatch(ctx, client, data)
	}
}

func (h *Handler) dispatch(ctx context.Context, client *Client, data []byte) {
	userID := client.info.UserID

	var frame models.ChannelEvent
	if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
		h.reply(client, models.EventMessageError, "invalid event frame")
		return
	}
	observability.IncWSEvent("in", frame.Event)

	switch frame.Event {
	case models.EventSendMessage:
		var req models.SendMessageRequest
		if err := decode(frame.Data, &req); err != nil {
			h.reply(client, models.EventMessageError, publicError(err))
			return
		}
		// Success is reported through message-sent by the engine.
		if _, err := h.engine.Send(ctx, userID, delivery.SendInput{Kind: req.Kind, Content: req.Content, MediaURL: req.MediaURL}); err != nil {
			h.reply(client, models.EventMessageError, publicError(err))
		}

	case models.EventTypingStart, models.EventTypingStop:
		h.engine.Typing(ctx, userID, frame.Event == models.EventTypingStart)

	case models.EventDeleteMessage:
		var req models.MessageRefRequest
		if err := decode(frame.Data, &req); err != nil {
			h.reply(client, models.EventMessageError, publicError(err))
			return
		}
		if req.MessageID <= 0 {
			h.reply(client, models.EventMessageError, "message id is required")
			return
		}
		if _, err := h.engine.Delete(ctx, userID, req.MessageID, req.DeleteForPartner); err != nil {
			h.reply(client, models.EventMessageError, publicError(err))
		}

	case models.EventMarkSeen:
		var req models.MessageRefRequest
		if err := decode(frame.Data, &req); err != nil {
			h.reply(client, models.EventSeenError, publicError(err))
			return
		}
		if req.MessageID <= 0 {
			h.reply(client, models.EventSeenError, "message id is required")
			return
		}
		if _, err := h.engine.MarkSeen(ctx, userID, req.MessageID); err != nil {
			h.reply(client, models.EventSeenError, publicError(err))
		}

	default:
		h.reply(client, models.EventMessageError, "unknown event: "+frame.Event)
	}
}

func (h *Handler) reply(client *Client, event, text string) {
	if err := client.Send(event, models.ErrorPayload{Error: text}); err != nil {
		logrus.WithError(err).WithField("conn_id", client.ID()).Debug("error reply not sent")
	}
}
