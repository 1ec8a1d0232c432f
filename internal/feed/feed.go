// Package feed delivers ordered insert/update/delete notifications for
// message records, filtered by conversation participants.
package feed

import (
	"context"

	"github.com/google/uuid"

	"github.com/vedran77/klasa/internal/domain"
)

type EventType string

const (
	EventInserted EventType = "inserted"
	EventUpdated  EventType = "updated"
	EventDeleted  EventType = "deleted"
	// EventConfirmed is synthetic: injected locally when the delivery
	// coordinator reconciles an optimistic send, never produced by the feed
	// transport itself.
	EventConfirmed EventType = "confirmed"
)

type Event struct {
	Type    EventType       `json:"type"`
	Message *domain.Message `json:"message"`
}

type Status string

const (
	StatusConnecting Status = "connecting"
	StatusSubscribed Status = "subscribed"
	StatusError      Status = "error"
	StatusClosed     Status = "closed"
)

// Filter selects which changes a subscription receives. Key scopes to one
// conversation (either direction); User scopes to every change involving one
// participant. The zero Filter matches everything, which is what the badge
// watcher wants.
type Filter struct {
	Key  domain.ConversationKey
	User uuid.UUID
}

func (f Filter) matches(msg *domain.Message) bool {
	if msg == nil {
		return false
	}
	if f.User != uuid.Nil {
		return msg.SenderID == f.User || msg.ReceiverID == f.User
	}
	if f.Key != (domain.ConversationKey{}) {
		return f.Key.Matches(msg.SenderID, msg.ReceiverID)
	}
	return true
}

// Subscription is one open change-feed stream. Close is idempotent.
type Subscription interface {
	Events() <-chan Event
	Status() Status
	Close()
}

type Client interface {
	Subscribe(ctx context.Context, filter Filter) (Subscription, error)
}
