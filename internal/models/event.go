package models

import (
	"encoding/json"
	"time"
)

// Outbound channel events.
const (
	EventNewMessage       = "new-message"
	EventMessageSent      = "message-sent"
	EventMessageDelivered = "message-delivered"
	EventMessageSeen      = "message-seen"
	EventMessageDeleted   = "message-deleted"
	EventPartnerStatus    = "partner-status"
	EventPartnerTyping    = "partner-typing"
	EventMessageError     = "message-error"
	EventSeenError        = "seen-error"
)

// Inbound channel events.
const (
	EventSendMessage   = "send-message"
	EventTypingStart   = "typing-start"
	EventTypingStop    = "typing-stop"
	EventDeleteMessage = "delete-message"
	EventMarkSeen      = "mark-seen"
)

// ChannelEvent is the frame exchanged over the websocket in both directions.
type ChannelEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type MessagePayload struct {
	Message Message `json:"message"`
}

type DeliveredPayload struct {
	MessageID   int64     `json:"message_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}

type SeenPayload struct {
	MessageID int64     `json:"message_id"`
	SeenAt    time.Time `json:"seen_at"`
}

type DeletedPayload struct {
	MessageID      int64   `json:"message_id"`
	UpdatedMessage Message `json:"updated_message"`
}

type PartnerStatusPayload struct {
	IsOnline bool `json:"is_online"`
}

type PartnerTypingPayload struct {
	IsTyping bool `json:"is_typing"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// SendMessageRequest is the data of an inbound send-message event.
type SendMessageRequest struct {
	Content  string      `json:"content"`
	Kind     MessageKind `json:"kind,omitempty"`
	MediaURL string      `json:"media_url,omitempty"`
}

// MessageRefRequest is the data of inbound mark-seen and delete-message events.
type MessageRefRequest struct {
	MessageID        int64 `json:"message_id"`
	DeleteForPartner bool  `json:"delete_for_partner,omitempty"`
}
