package service

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vedran77/klasa/internal/metrics"
)

// BadgeReason tells subscribers why their unread state may have changed.
type BadgeReason string

const (
	ReasonNewMessage   BadgeReason = "new-message"
	ReasonMessagesRead BadgeReason = "messages-read"
)

// PeerAll is the peer sentinel for bus events affecting every conversation of
// a user; subscribers clear all badges instead of iterating known peers.
var PeerAll = uuid.Nil

// BadgeFunc receives a change notification. It carries no counts; each
// surface re-derives its own unread total, the store's copy is authoritative.
type BadgeFunc func(reason BadgeReason, peerID uuid.UUID)

// BadgeBus is the process-wide registry that keeps independent UI surfaces
// (contact-list badges, tab-bar badges, open threads) agreeing on unread
// state without sharing component state. Dispatch is synchronous, in
// registration order, from a snapshot taken before iteration so a callback
// may subscribe or unsubscribe without corrupting the walk.
type BadgeBus struct {
	log *zap.Logger

	mu   sync.Mutex
	subs map[uuid.UUID][]*badgeSub
}

type badgeSub struct {
	userID uuid.UUID
	fn     BadgeFunc
}

func NewBadgeBus(log *zap.Logger) *BadgeBus {
	return &BadgeBus{
		log:  log,
		subs: make(map[uuid.UUID][]*badgeSub),
	}
}

// Subscribe registers fn for changes affecting userID and returns an
// idempotent unsubscribe func scoped to the surface's mount lifetime.
func (b *BadgeBus) Subscribe(userID uuid.UUID, fn BadgeFunc) func() {
	sub := &badgeSub{userID: userID, fn: fn}

	b.mu.Lock()
	b.subs[userID] = append(b.subs[userID], sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(sub) })
	}
}

// NotifyNewMessage signals that an unread message from fromUserID arrived
// for toUserID.
func (b *BadgeBus) NotifyNewMessage(toUserID, fromUserID uuid.UUID) {
	b.notify(toUserID, ReasonNewMessage, fromUserID)
}

// NotifyMessagesRead signals that selfID's messages from peerID (or from
// everyone, with PeerAll) were marked read.
func (b *BadgeBus) NotifyMessagesRead(selfID, peerID uuid.UUID) {
	b.notify(selfID, ReasonMessagesRead, peerID)
}

func (b *BadgeBus) notify(userID uuid.UUID, reason BadgeReason, peerID uuid.UUID) {
	b.mu.Lock()
	snapshot := append([]*badgeSub(nil), b.subs[userID]...)
	b.mu.Unlock()

	metrics.BadgeNotificationsTotal.Inc()

	for _, sub := range snapshot {
		b.invoke(sub, reason, peerID)
	}
}

// invoke shields the dispatch loop: one panicking subscriber must not stop
// delivery to the rest.
func (b *BadgeBus) invoke(sub *badgeSub, reason BadgeReason, peerID uuid.UUID) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("badge bus: subscriber panicked",
				zap.String("user_id", sub.userID.String()),
				zap.Any("panic", r),
			)
		}
	}()
	sub.fn(reason, peerID)
}

func (b *BadgeBus) remove(target *badgeSub) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[target.userID]
	for i, sub := range subs {
		if sub == target {
			b.subs[target.userID] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[target.userID]) == 0 {
		delete(b.subs, target.userID)
	}
}
