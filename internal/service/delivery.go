package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/vedran77/klasa/internal/domain"
	"github.com/vedran77/klasa/internal/errs"
	"github.com/vedran77/klasa/internal/metrics"
	"github.com/vedran77/klasa/internal/repository"
	"github.com/vedran77/klasa/pkg/validator"
)

// SendCallbacks receive the lifecycle of one send. OnOptimistic fires
// synchronously before any I/O; afterwards exactly one of OnConfirmed or
// OnFailed fires, from a separate goroutine. Callbacks into an unmounted
// surface are the caller's problem to guard.
type SendCallbacks struct {
	OnOptimistic func(msg *domain.Message)
	OnConfirmed  func(provisionalID string, msg *domain.Message)
	OnFailed     func(provisionalID string, msg *domain.Message, err error)
}

// Coordinator owns the optimistic-send protocol: it hands the caller a
// provisional copy immediately, writes through the message store, and
// reconciles the provisional copy with the authoritative one or retries
// transient failures until the retry budget runs out.
type Coordinator struct {
	store repository.MessageStore
	log   *zap.Logger

	maxRetries uint64
	baseDelay  time.Duration

	mu      sync.Mutex
	pending map[string]*domain.Message
}

func NewCoordinator(store repository.MessageStore, log *zap.Logger, maxRetries int, baseDelay time.Duration) *Coordinator {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Coordinator{
		store:      store,
		log:        log,
		maxRetries: uint64(maxRetries),
		baseDelay:  baseDelay,
		pending:    make(map[string]*domain.Message),
	}
}

// Send builds the provisional message, invokes OnOptimistic before any I/O,
// and delivers in the background. A send is not cancellable once issued; the
// write completes or fails on its own even if ctx is cancelled.
func (c *Coordinator) Send(ctx context.Context, draft domain.Draft, cb SendCallbacks) {
	provID := newProvisionalID()

	msg := &domain.Message{
		ProvisionalID: provID,
		SenderID:      draft.SenderID,
		ReceiverID:    draft.ReceiverID,
		StudentID:     draft.StudentID,
		Body:          draft.Body,
		Kind:          draft.Kind,
		Attachment:    draft.Attachment,
		SentAt:        time.Now(),
		State:         domain.StatePending,
	}

	if cb.OnOptimistic != nil {
		cb.OnOptimistic(msg.Clone())
	}

	c.mu.Lock()
	c.pending[provID] = msg
	c.mu.Unlock()

	metrics.SendsTotal.Inc()

	go c.deliver(context.WithoutCancel(ctx), provID, draft, cb)
}

// IsPending reports whether provisionalID is still awaiting confirmation.
func (c *Coordinator) IsPending(provisionalID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[provisionalID]
	return ok
}

// PendingCount returns the number of unconfirmed sends.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Coordinator) deliver(ctx context.Context, provID string, draft domain.Draft, cb SendCallbacks) {
	if verrs := validator.ValidateDraft(draft); verrs.HasErrors() {
		c.fail(provID, cb, fmt.Errorf("%w: %s", errs.ErrValidation, verrs))
		return
	}

	var stored *domain.Message
	attempt := 0

	backoff := retry.WithMaxRetries(c.maxRetries, arithmeticBackoff(c.baseDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			metrics.SendRetriesTotal.Inc()
			c.log.Info("retrying send",
				zap.String("provisional_id", provID),
				zap.Int("attempt", attempt),
			)
		}

		m, err := c.store.Create(ctx, draft)
		if err != nil {
			if errs.IsTransient(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		stored = m
		return nil
	})
	if err != nil {
		c.fail(provID, cb, err)
		return
	}

	c.remove(provID)

	stored.ProvisionalID = provID
	stored.State = domain.StateConfirmed
	c.log.Debug("send confirmed",
		zap.String("provisional_id", provID),
		zap.String("id", stored.ID.String()),
		zap.Int("attempts", attempt),
	)

	if cb.OnConfirmed != nil {
		cb.OnConfirmed(provID, stored)
	}
}

// fail purges the pending entry and surfaces the terminal failed state. The
// message stays visible as failed until the user resends, which goes through
// Send again with a fresh provisional ID.
func (c *Coordinator) fail(provID string, cb SendCallbacks, err error) {
	msg := c.remove(provID)
	if msg != nil {
		msg.State = domain.StateFailed
	}

	metrics.SendFailuresTotal.Inc()
	c.log.Warn("send failed", zap.String("provisional_id", provID), zap.Error(err))

	if cb.OnFailed != nil {
		cb.OnFailed(provID, msg, err)
	}
}

func (c *Coordinator) remove(provID string) *domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := c.pending[provID]
	delete(c.pending, provID)
	return msg
}

// arithmeticBackoff waits baseDelay * attempt between attempts: 1s, 2s, 3s
// with the default base.
func arithmeticBackoff(base time.Duration) retry.Backoff {
	var attempt int64
	return retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		return base * time.Duration(attempt), false
	})
}

// newProvisionalID is unique within the process; it is only a local
// reconciliation key and is never persisted.
func newProvisionalID() string {
	return fmt.Sprintf("prov-%d-%s", time.Now().UnixNano(), uuid.NewString()[:8])
}
