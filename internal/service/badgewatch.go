package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vedran77/klasa/internal/errs"
	"github.com/vedran77/klasa/internal/feed"
)

// WatchBadges forwards raw insert events from the change feed to the badge
// bus so unread badges update even when no conversation is open. One watcher
// runs per process; it covers every user, the bus routes by receiver.
// Returns when ctx is cancelled or when the feed ends.
func WatchBadges(ctx context.Context, client feed.Client, bus *BadgeBus, log *zap.Logger) error {
	sub, err := client.Subscribe(ctx, feed.Filter{})
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrSubscription, err)
	}
	defer sub.Close()

	log.Info("badge watcher running")
	for {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%w: badge feed ended", errs.ErrSubscription)
			}
			if evt.Type != feed.EventInserted || evt.Message == nil {
				continue
			}
			bus.NotifyNewMessage(evt.Message.ReceiverID, evt.Message.SenderID)

		case <-ctx.Done():
			return nil
		}
	}
}
