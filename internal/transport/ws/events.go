package ws

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/vedran77/klasa/internal/domain"
	"github.com/vedran77/klasa/internal/service"
)

// Event types - Client → Server
const (
	EventTypeMessageSend             = "message.send"
	EventTypeConversationSubscribe   = "conversation.subscribe"
	EventTypeConversationUnsubscribe = "conversation.unsubscribe"
	EventTypeMarkRead                = "messages.mark_read"
	EventTypeMarkAllRead             = "messages.mark_all_read"
	EventTypePing                    = "ping"
)

// Event types - Server → Client
const (
	EventTypeMessagePending   = "message.pending"
	EventTypeMessageConfirmed = "message.confirmed"
	EventTypeMessageFailed    = "message.failed"
	EventTypeMessageNew       = "message.new"
	EventTypeMessageUpdated   = "message.updated"
	EventTypeMessageDeleted   = "message.deleted"
	EventTypeBadgeUpdate      = "badge.update"
	EventTypePong             = "pong"
	EventTypeError            = "error"
)

// Event is the base envelope for all WebSocket messages.
type Event struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"ts,omitempty"`
}

// --- Client → Server payloads ---

type SendPayload struct {
	ReceiverID uuid.UUID          `json:"receiver_id"`
	StudentID  *uuid.UUID         `json:"student_id,omitempty"`
	Body       string             `json:"body"`
	Kind       domain.MessageKind `json:"kind,omitempty"`
	Attachment *domain.Attachment `json:"attachment,omitempty"`
}

type ConversationPayload struct {
	PeerID uuid.UUID `json:"peer_id"`
}

// --- Server → Client payloads ---

type MessagePayload struct {
	domain.Message
}

type ConfirmedPayload struct {
	ProvisionalID string         `json:"provisional_id"`
	Message       domain.Message `json:"message"`
}

type FailedPayload struct {
	ProvisionalID string          `json:"provisional_id"`
	Message       *domain.Message `json:"message,omitempty"`
	Error         string          `json:"error"`
}

type BadgePayload struct {
	Reason service.BadgeReason `json:"reason"`
	PeerID uuid.UUID           `json:"peer_id"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEvent creates a server→client event with the current timestamp.
func NewEvent(eventType string, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:      eventType,
		Payload:   data,
		Timestamp: time.Now().Unix(),
	}, nil
}
