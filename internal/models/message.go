package models

import (
	"time"

	"github.com/lib/pq"
)

// Tombstone replaces message content once a message is deleted for both participants.
const Tombstone = "This message was deleted"

type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindVideo MessageKind = "video"
)

func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindVideo:
		return true
	}
	return false
}

// IsMedia reports whether messages of this kind carry a media URL.
func (k MessageKind) IsMedia() bool {
	return k == KindImage || k == KindVideo
}

// Message represents a message exchanged between the two paired users.
type Message struct {
	ID          int64         `db:"id" json:"id"`
	SenderID    int64         `db:"sender_id" json:"sender_id"`
	RecipientID int64         `db:"recipient_id" json:"recipient_id"`
	Kind        MessageKind   `db:"kind" json:"kind"`
	Content     string        `db:"content" json:"content"`
	MediaURL    *string       `db:"media_url" json:"media_url"`
	Delivered   bool          `db:"delivered" json:"delivered"`
	DeliveredAt *time.Time    `db:"delivered_at" json:"delivered_at"`
	Seen        bool          `db:"seen" json:"seen"`
	SeenAt      *time.Time    `db:"seen_at" json:"seen_at"`
	DeletedFor  pq.Int64Array `db:"deleted_for" json:"deleted_for"`
	IsDeleted   bool          `db:"is_deleted" json:"is_deleted"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
}

// Counterpart returns the participant on the other side of the message from userID.
func (m Message) Counterpart(userID int64) int64 {
	if m.SenderID == userID {
		return m.RecipientID
	}
	return m.SenderID
}

// Clone returns a copy that shares no mutable state with m.
func (m Message) Clone() Message {
	c := m
	if m.MediaURL != nil {
		url := *m.MediaURL
		c.MediaURL = &url
	}
	if m.DeliveredAt != nil {
		at := *m.DeliveredAt
		c.DeliveredAt = &at
	}
	if m.SeenAt != nil {
		at := *m.SeenAt
		c.SeenAt = &at
	}
	c.DeletedFor = append(pq.Int64Array{}, m.DeletedFor...)
	return c
}

func (m Message) HiddenFor(userID int64) bool {
	for _, id := range m.DeletedFor {
		if id == userID {
			return true
		}
	}
	return false
}

// HideFor adds viewers to the deletion set. Once the set holds both
// participants the message is tombstoned and its media cleared; this never
// reverts. It reports whether anything changed.
func (m *Message) HideFor(viewerIDs ...int64) bool {
	changed := false
	for _, id := range viewerIDs {
		if m.HiddenFor(id) {
			continue
		}
		m.DeletedFor = append(m.DeletedFor, id)
		changed = true
	}
	if !m.IsDeleted && len(m.DeletedFor) >= 2 {
		m.IsDeleted = true
		m.Content = Tombstone
		m.MediaURL = nil
		changed = true
	}
	return changed
}

// MessagePage is one page of a conversation in chronological order.
type MessagePage struct {
	Messages []Message
	Total    int
}

// Pagination describes a MessagePage relative to the full conversation.
type Pagination struct {
	Page          int  `json:"page"`
	Limit         int  `json:"limit"`
	TotalMessages int  `json:"total_messages"`
	TotalPages    int  `json:"total_pages"`
	HasMore       bool `json:"has_more"`
}

func NewPagination(page, limit, returned, total int) Pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Pagination{
		Page:          page,
		Limit:         limit,
		TotalMessages: total,
		TotalPages:    pages,
		HasMore:       (page-1)*limit+returned < total,
	}
}
