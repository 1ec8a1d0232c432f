package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/vedran77/klasa/internal/domain"
	"github.com/vedran77/klasa/internal/errs"
	"github.com/vedran77/klasa/internal/feed"
	"github.com/vedran77/klasa/internal/metrics"
)

// EventHandler receives normalized feed events for one conversation.
type EventHandler func(evt feed.Event)

// HandleState is the lifecycle of one listener registration.
type HandleState string

const (
	HandleOpening    HandleState = "opening"
	HandleSubscribed HandleState = "subscribed"
	HandleClosing    HandleState = "closing"
	HandleClosed     HandleState = "closed"
)

var handleStates = [...]HandleState{HandleOpening, HandleSubscribed, HandleClosing, HandleClosed}

const (
	stateOpening int32 = iota
	stateSubscribed
	stateClosing
	stateClosed
)

// Handle is one listener registration on a conversation. Events are forwarded
// only while subscribed; events arriving during teardown are dropped.
type Handle struct {
	mgr     *Manager
	key     domain.ConversationKey
	onEvent EventHandler
	state   atomic.Int32
}

func (h *Handle) State() HandleState { return handleStates[h.state.Load()] }

// Close is shorthand for Manager.Close(h).
func (h *Handle) Close() { h.mgr.Close(h) }

// Manager opens exactly one underlying change-feed subscription per active
// conversation and fans its events out to every registered handle. The feed
// is opened on the first handle for a key and torn down when the last one
// closes. Self-echo inserts are forwarded like any other event: consumers
// dedup by final message ID, the manager cannot assume it is the only
// observer.
type Manager struct {
	client feed.Client
	log    *zap.Logger

	mu    sync.Mutex
	convs map[domain.ConversationKey]*conversation
}

type conversation struct {
	sub     feed.Subscription
	handles []*Handle
}

func NewManager(client feed.Client, log *zap.Logger) *Manager {
	return &Manager{
		client: client,
		log:    log,
		convs:  make(map[domain.ConversationKey]*conversation),
	}
}

// Open registers onEvent for the conversation and returns its handle. The
// first open for a key suspends while the feed negotiates the subscription
// handshake; no events are delivered during that window.
func (m *Manager) Open(ctx context.Context, key domain.ConversationKey, onEvent EventHandler) (*Handle, error) {
	h := &Handle{mgr: m, key: key, onEvent: onEvent}
	h.state.Store(stateOpening)

	m.mu.Lock()
	if conv, ok := m.convs[key]; ok {
		conv.handles = append(conv.handles, h)
		h.state.Store(stateSubscribed)
		m.mu.Unlock()
		return h, nil
	}
	m.mu.Unlock()

	sub, err := m.client.Subscribe(ctx, feed.Filter{Key: key})
	if err != nil {
		h.state.Store(stateClosed)
		return nil, fmt.Errorf("%w: %v", errs.ErrSubscription, err)
	}

	m.mu.Lock()
	if conv, ok := m.convs[key]; ok {
		// Another Open for the same key won the race; keep its feed.
		conv.handles = append(conv.handles, h)
		h.state.Store(stateSubscribed)
		m.mu.Unlock()
		sub.Close()
		return h, nil
	}
	conv := &conversation{sub: sub, handles: []*Handle{h}}
	m.convs[key] = conv
	h.state.Store(stateSubscribed)
	m.mu.Unlock()

	metrics.ActiveSubscriptions.Inc()
	m.log.Debug("conversation subscription opened", zap.String("key", key.String()))
	go m.pump(key, conv)

	return h, nil
}

// Close deregisters the handle; the underlying feed is torn down when the
// last handle for the key closes. Closing twice is a no-op: UI unmount
// ordering is not guaranteed.
func (m *Manager) Close(h *Handle) {
	if !h.state.CompareAndSwap(stateSubscribed, stateClosing) {
		h.state.CompareAndSwap(stateOpening, stateClosed)
		return
	}

	var last *conversation
	m.mu.Lock()
	if conv, ok := m.convs[h.key]; ok {
		for i, other := range conv.handles {
			if other == h {
				conv.handles = append(conv.handles[:i:i], conv.handles[i+1:]...)
				break
			}
		}
		if len(conv.handles) == 0 {
			delete(m.convs, h.key)
			last = conv
		}
	}
	m.mu.Unlock()

	if last != nil {
		last.sub.Close()
		metrics.ActiveSubscriptions.Dec()
		m.log.Debug("conversation subscription closed", zap.String("key", h.key.String()))
	}
	h.state.Store(stateClosed)
}

// Broadcast injects a synthetic event (the coordinator's confirmed swap) to
// every handle of the conversation, alongside whatever the feed echoes.
func (m *Manager) Broadcast(key domain.ConversationKey, evt feed.Event) {
	m.dispatch(key, evt)
}

func (m *Manager) pump(key domain.ConversationKey, conv *conversation) {
	for evt := range conv.sub.Events() {
		metrics.FeedEventsTotal.WithLabelValues(string(evt.Type)).Inc()
		m.dispatch(key, evt)
	}

	// Feed ended underneath us (transport error or shutdown). No automatic
	// reconnect: surviving handles go closed and the owner re-opens on focus.
	m.mu.Lock()
	current, ok := m.convs[key]
	if !ok || current != conv {
		m.mu.Unlock()
		return
	}
	delete(m.convs, key)
	orphans := conv.handles
	conv.handles = nil
	m.mu.Unlock()

	metrics.ActiveSubscriptions.Dec()
	if conv.sub.Status() == feed.StatusError {
		m.log.Warn("conversation feed dropped", zap.String("key", key.String()))
	}
	for _, h := range orphans {
		h.state.Store(stateClosed)
	}
}

func (m *Manager) dispatch(key domain.ConversationKey, evt feed.Event) {
	m.mu.Lock()
	conv, ok := m.convs[key]
	if !ok {
		m.mu.Unlock()
		return
	}
	handles := append([]*Handle(nil), conv.handles...)
	m.mu.Unlock()

	for _, h := range handles {
		if h.state.Load() != stateSubscribed {
			continue
		}
		h.onEvent(evt)
	}
}
