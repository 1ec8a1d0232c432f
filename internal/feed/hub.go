package feed

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/vedran77/klasa/internal/errs"
)

const subBufSize = 256

// Hub fans change events out to per-conversation subscriptions. It is the
// in-process implementation of Client; the Postgres listener publishes into
// it so every subscriber sees the same stream.
type Hub struct {
	log *zap.Logger

	register   chan *registration
	unregister chan *hubSub
	publish    chan Event

	// subs is owned by the Run loop.
	subs map[*hubSub]struct{}

	stopped chan struct{}
}

type registration struct {
	sub *hubSub
	ack chan struct{}
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log:        log,
		register:   make(chan *registration),
		unregister: make(chan *hubSub),
		publish:    make(chan Event, subBufSize),
		subs:       make(map[*hubSub]struct{}),
		stopped:    make(chan struct{}),
	}
}

// Run starts the Hub's main event loop. Call this in a goroutine; it returns
// when ctx is cancelled, closing every open subscription.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)

	for {
		select {
		case reg := <-h.register:
			h.subs[reg.sub] = struct{}{}
			reg.sub.setStatus(StatusSubscribed)
			close(reg.ack)
			h.log.Debug("feed: subscription opened", zap.Int("total", len(h.subs)))

		case sub := <-h.unregister:
			if _, ok := h.subs[sub]; ok {
				delete(h.subs, sub)
				sub.setStatus(StatusClosed)
				close(sub.events)
				h.log.Debug("feed: subscription closed", zap.Int("total", len(h.subs)))
			}

		case evt := <-h.publish:
			for sub := range h.subs {
				if !sub.filter.matches(evt.Message) {
					continue
				}
				select {
				case sub.events <- evt:
				default:
					// Subscriber buffer full - drop the stream, owner re-opens
					delete(h.subs, sub)
					sub.setStatus(StatusError)
					close(sub.events)
					h.log.Warn("feed: dropping slow subscription")
				}
			}

		case <-ctx.Done():
			for sub := range h.subs {
				delete(h.subs, sub)
				sub.setStatus(StatusClosed)
				close(sub.events)
			}
			return
		}
	}
}

// Publish enqueues a change for fan-out.
func (h *Hub) Publish(evt Event) {
	select {
	case h.publish <- evt:
	case <-h.stopped:
	}
}

// Subscribe opens a stream of events for one conversation. It blocks until
// the hub acknowledges the registration, during which no events are delivered.
func (h *Hub) Subscribe(ctx context.Context, filter Filter) (Subscription, error) {
	sub := &hubSub{
		hub:    h,
		filter: filter,
		events: make(chan Event, subBufSize),
	}
	sub.setStatus(StatusConnecting)

	reg := &registration{sub: sub, ack: make(chan struct{})}
	select {
	case h.register <- reg:
	case <-h.stopped:
		return nil, errs.ErrSubscription
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case <-reg.ack:
	case <-h.stopped:
		return nil, errs.ErrSubscription
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return sub, nil
}

type hubSub struct {
	hub    *Hub
	filter Filter
	events chan Event
	status atomic.Int32

	closeOnce sync.Once
}

var statusNames = [...]Status{StatusConnecting, StatusSubscribed, StatusError, StatusClosed}

func statusIndex(s Status) int32 {
	for i, name := range statusNames {
		if name == s {
			return int32(i)
		}
	}
	return 0
}

func (s *hubSub) setStatus(st Status) { s.status.Store(statusIndex(st)) }

func (s *hubSub) Events() <-chan Event { return s.events }

func (s *hubSub) Status() Status { return statusNames[s.status.Load()] }

// Close is idempotent; the events channel is closed by the hub loop.
func (s *hubSub) Close() {
	s.closeOnce.Do(func() {
		select {
		case s.hub.unregister <- s:
		case <-s.hub.stopped:
		}
	})
}
