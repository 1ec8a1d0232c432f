package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vedran77/klasa/internal/repository"
)

// ReadTracker marks conversations as read and fans the change out to badge
// subscribers. Mark failures are returned to the caller and never retried
// here; a missed read receipt self-heals the next time the conversation is
// opened.
type ReadTracker struct {
	store repository.MessageStore
	bus   *BadgeBus
	log   *zap.Logger
}

func NewReadTracker(store repository.MessageStore, bus *BadgeBus, log *zap.Logger) *ReadTracker {
	return &ReadTracker{store: store, bus: bus, log: log}
}

// MarkRead flags every unread message from peerID to selfID as read in one
// batched store update, then publishes messages-read on the badge bus.
func (t *ReadTracker) MarkRead(ctx context.Context, selfID, peerID uuid.UUID) (int64, error) {
	updated, err := t.store.MarkRead(ctx, selfID, peerID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}

	t.log.Debug("messages marked read",
		zap.String("self_id", selfID.String()),
		zap.String("peer_id", peerID.String()),
		zap.Int64("updated", updated),
	)
	t.bus.NotifyMessagesRead(selfID, peerID)
	return updated, nil
}

// MarkAllRead is MarkRead with the peer unconstrained; subscribers receive
// the PeerAll sentinel and clear every badge for selfID.
func (t *ReadTracker) MarkAllRead(ctx context.Context, selfID uuid.UUID) (int64, error) {
	updated, err := t.store.MarkRead(ctx, selfID, uuid.Nil)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}

	t.log.Debug("all messages marked read",
		zap.String("self_id", selfID.String()),
		zap.Int64("updated", updated),
	)
	t.bus.NotifyMessagesRead(selfID, PeerAll)
	return updated, nil
}
