package domain

import (
	"time"

	"github.com/google/uuid"
)

type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindFile  MessageKind = "file"
)

// MessageState drives UI rendering: a clock glyph for pending,
// an alert glyph for failed.
type MessageState string

const (
	StatePending   MessageState = "pending"
	StateConfirmed MessageState = "confirmed"
	StateFailed    MessageState = "failed"
	StateDeleted   MessageState = "deleted"
)

// Attachment describes the uploaded file behind an image or file message.
type Attachment struct {
	URL       string `json:"url"`
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	MimeType  string `json:"mime_type"`
}

type Message struct {
	ID uuid.UUID `json:"id"`
	// ProvisionalID is assigned locally before the store confirms the message.
	// It is the reconciliation key between the optimistic copy and the stored
	// copy and is never persisted.
	ProvisionalID string      `json:"provisional_id,omitempty"`
	SenderID      uuid.UUID   `json:"sender_id"`
	ReceiverID    uuid.UUID   `json:"receiver_id"`
	StudentID     *uuid.UUID  `json:"student_id,omitempty"`
	Body          string      `json:"body"`
	Kind          MessageKind `json:"kind"`
	Attachment    *Attachment `json:"attachment,omitempty"`
	// SentAt is client-assigned on the optimistic copy and replaced by the
	// server-assigned value once the store confirms the insert.
	SentAt time.Time    `json:"sent_at"`
	IsRead bool         `json:"is_read"`
	State  MessageState `json:"state"`
}

// Draft is the caller-supplied payload for a new message.
type Draft struct {
	SenderID   uuid.UUID   `json:"sender_id"`
	ReceiverID uuid.UUID   `json:"receiver_id"`
	StudentID  *uuid.UUID  `json:"student_id,omitempty"`
	Body       string      `json:"body"`
	Kind       MessageKind `json:"kind"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// Clone returns a copy safe to hand to another goroutine.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	cp := *m
	if m.StudentID != nil {
		sid := *m.StudentID
		cp.StudentID = &sid
	}
	if m.Attachment != nil {
		att := *m.Attachment
		cp.Attachment = &att
	}
	return &cp
}
