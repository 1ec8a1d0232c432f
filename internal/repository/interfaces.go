package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/klasa/internal/domain"
)

// MessageStore is the gateway to the persistent message store. Create returns
// the authoritative stored copy (server-assigned id and sent_at); callers
// reconcile it with their optimistic copy by provisional ID.
//
// Errors are classified against the errs sentinels: errs.ErrValidation,
// errs.ErrPermission, errs.ErrTransient, errs.ErrNotFound.
type MessageStore interface {
	Create(ctx context.Context, draft domain.Draft) (*domain.Message, error)

	// MarkRead flags every unread message addressed to receiverID from
	// senderID as read in a single batched update and returns the number of
	// rows touched. senderID == uuid.Nil marks messages from all peers.
	MarkRead(ctx context.Context, receiverID, senderID uuid.UUID) (int64, error)

	// Delete removes a message. Fails with errs.ErrPermission when authorID
	// is not the original sender.
	Delete(ctx context.Context, id, authorID uuid.UUID) error

	// List returns a page of a conversation ordered by sent_at ascending.
	// before, when non-zero, bounds the page to messages sent strictly earlier.
	List(ctx context.Context, key domain.ConversationKey, before time.Time, limit int) ([]domain.Message, error)

	// CountUnread returns per-peer unread counts for receiverID, used by
	// badge subscribers to re-derive their totals.
	CountUnread(ctx context.Context, receiverID uuid.UUID) (map[uuid.UUID]int64, error)
}
