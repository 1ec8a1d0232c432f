package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/vedran77/klasa/internal/domain"
	"github.com/vedran77/klasa/internal/feed"
	"github.com/vedran77/klasa/internal/service"
)

const (
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	markReadWait   = 10 * time.Second
	maxMessageSize = 4096
	sendBufSize    = 256
)

// Client represents a single WebSocket connection: one mounted UI surface.
// It bridges the surface onto the sync core - sends go through the delivery
// coordinator, open conversations through the subscription manager, and
// unread changes arrive via its badge bus registration.
type Client struct {
	deps   *Deps
	conn   *websocket.Conn
	userID uuid.UUID
	log    *zap.Logger

	// handles tracks this surface's open conversations.
	mu      sync.Mutex
	handles map[domain.ConversationKey]*service.Handle

	unsubscribeBadge func()

	send chan []byte
	done chan struct{}

	teardownOnce sync.Once
}

// Deps are the process-wide sync services every connection shares.
type Deps struct {
	Coordinator *service.Coordinator
	Manager     *service.Manager
	Tracker     *service.ReadTracker
	Bus         *service.BadgeBus
	Log         *zap.Logger
}

func NewClient(deps *Deps, conn *websocket.Conn, userID uuid.UUID) *Client {
	c := &Client{
		deps:    deps,
		conn:    conn,
		userID:  userID,
		log:     deps.Log.With(zap.String("user_id", userID.String())),
		handles: make(map[domain.ConversationKey]*service.Handle),
		send:    make(chan []byte, sendBufSize),
		done:    make(chan struct{}),
	}

	// Badge updates flow for the whole session, not per conversation.
	c.unsubscribeBadge = deps.Bus.Subscribe(userID, func(reason service.BadgeReason, peerID uuid.UUID) {
		evt, err := NewEvent(EventTypeBadgeUpdate, BadgePayload{Reason: reason, PeerID: peerID})
		if err != nil {
			return
		}
		c.enqueue(evt)
	})

	return c
}

// ReadPump reads events from the WebSocket and routes them to the sync core.
func (c *Client) ReadPump() {
	defer func() {
		c.teardown()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		var event Event
		err := wsjson.Read(context.Background(), c.conn, &event)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				c.log.Info("ws: client disconnected")
			} else {
				c.log.Warn("ws: read error", zap.Error(err))
			}
			return
		}

		c.handleEvent(&event)
	}
}

// WritePump writes messages from the send channel to the WebSocket.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.log.Warn("ws: write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				c.log.Warn("ws: ping error", zap.Error(err))
				return
			}

		case <-c.done:
			return
		}
	}
}

// teardown closes the surface's conversation handles and its badge
// registration. Safe to run once per connection regardless of which pump
// exits first.
func (c *Client) teardown() {
	c.teardownOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		handles := make([]*service.Handle, 0, len(c.handles))
		for _, h := range c.handles {
			handles = append(handles, h)
		}
		c.handles = make(map[domain.ConversationKey]*service.Handle)
		c.mu.Unlock()

		for _, h := range handles {
			c.deps.Manager.Close(h)
		}
		c.unsubscribeBadge()
	})
}

// handleEvent routes an incoming client event.
func (c *Client) handleEvent(event *Event) {
	switch event.Type {
	case EventTypeMessageSend:
		var p SendPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			c.sendError("INVALID_PAYLOAD", "invalid message.send payload")
			return
		}
		c.handleSend(p)

	case EventTypeConversationSubscribe:
		var p ConversationPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			c.sendError("INVALID_PAYLOAD", "invalid conversation.subscribe payload")
			return
		}
		c.handleSubscribe(p.PeerID)

	case EventTypeConversationUnsubscribe:
		var p ConversationPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			c.sendError("INVALID_PAYLOAD", "invalid conversation.unsubscribe payload")
			return
		}
		c.handleUnsubscribe(p.PeerID)

	case EventTypeMarkRead:
		var p ConversationPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			c.sendError("INVALID_PAYLOAD", "invalid messages.mark_read payload")
			return
		}
		c.handleMarkRead(p.PeerID)

	case EventTypeMarkAllRead:
		c.handleMarkAllRead()

	case EventTypePing:
		c.sendPong()

	default:
		c.sendError("UNKNOWN_EVENT", "unknown event type: "+event.Type)
	}
}

func (c *Client) handleSend(p SendPayload) {
	kind := p.Kind
	if kind == "" {
		kind = domain.KindText
	}

	draft := domain.Draft{
		SenderID:   c.userID,
		ReceiverID: p.ReceiverID,
		StudentID:  p.StudentID,
		Body:       p.Body,
		Kind:       kind,
		Attachment: p.Attachment,
	}
	key := domain.NewConversationKey(c.userID, p.ReceiverID)

	c.deps.Coordinator.Send(context.Background(), draft, service.SendCallbacks{
		OnOptimistic: func(msg *domain.Message) {
			evt, err := NewEvent(EventTypeMessagePending, MessagePayload{Message: *msg})
			if err != nil {
				return
			}
			c.enqueue(evt)
		},
		OnConfirmed: func(provisionalID string, msg *domain.Message) {
			evt, err := NewEvent(EventTypeMessageConfirmed, ConfirmedPayload{
				ProvisionalID: provisionalID,
				Message:       *msg,
			})
			if err == nil {
				c.enqueue(evt)
			}
			// Other surfaces observing this conversation get the swap too.
			c.deps.Manager.Broadcast(key, feed.Event{Type: feed.EventConfirmed, Message: msg})
		},
		OnFailed: func(provisionalID string, msg *domain.Message, sendErr error) {
			evt, err := NewEvent(EventTypeMessageFailed, FailedPayload{
				ProvisionalID: provisionalID,
				Message:       msg,
				Error:         sendErr.Error(),
			})
			if err != nil {
				return
			}
			c.enqueue(evt)
		},
	})
}

func (c *Client) handleSubscribe(peerID uuid.UUID) {
	if peerID == uuid.Nil || peerID == c.userID {
		c.sendError("INVALID_PEER", "peer_id must identify another user")
		return
	}
	key := domain.NewConversationKey(c.userID, peerID)

	c.mu.Lock()
	_, exists := c.handles[key]
	c.mu.Unlock()
	if exists {
		return
	}

	handle, err := c.deps.Manager.Open(context.Background(), key, func(evt feed.Event) {
		c.forwardFeedEvent(evt)
	})
	if err != nil {
		c.log.Warn("ws: subscribe failed", zap.Error(err))
		c.sendError("SUBSCRIBE_FAILED", "could not open conversation feed")
		return
	}

	c.mu.Lock()
	if _, exists := c.handles[key]; exists {
		c.mu.Unlock()
		c.deps.Manager.Close(handle)
		return
	}
	c.handles[key] = handle
	c.mu.Unlock()
}

func (c *Client) handleUnsubscribe(peerID uuid.UUID) {
	key := domain.NewConversationKey(c.userID, peerID)

	c.mu.Lock()
	handle, ok := c.handles[key]
	delete(c.handles, key)
	c.mu.Unlock()

	if ok {
		c.deps.Manager.Close(handle)
	}
}

// handleMarkRead is best-effort: a failed mark-as-read stays invisible to the
// user and self-heals the next time the conversation opens.
func (c *Client) handleMarkRead(peerID uuid.UUID) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), markReadWait)
		defer cancel()
		if _, err := c.deps.Tracker.MarkRead(ctx, c.userID, peerID); err != nil {
			c.log.Warn("ws: mark read failed", zap.Error(err))
		}
	}()
}

func (c *Client) handleMarkAllRead() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), markReadWait)
		defer cancel()
		if _, err := c.deps.Tracker.MarkAllRead(ctx, c.userID); err != nil {
			c.log.Warn("ws: mark all read failed", zap.Error(err))
		}
	}()
}

func (c *Client) forwardFeedEvent(evt feed.Event) {
	if evt.Message == nil {
		return
	}

	var eventType string
	switch evt.Type {
	case feed.EventInserted:
		eventType = EventTypeMessageNew
	case feed.EventUpdated:
		eventType = EventTypeMessageUpdated
	case feed.EventDeleted:
		eventType = EventTypeMessageDeleted
	case feed.EventConfirmed:
		eventType = EventTypeMessageConfirmed
	default:
		return
	}

	var out *Event
	var err error
	if evt.Type == feed.EventConfirmed {
		out, err = NewEvent(eventType, ConfirmedPayload{
			ProvisionalID: evt.Message.ProvisionalID,
			Message:       *evt.Message,
		})
	} else {
		out, err = NewEvent(eventType, MessagePayload{Message: *evt.Message})
	}
	if err != nil {
		return
	}
	c.enqueue(out)
}

// enqueue drops the event when the connection is going away or the buffer is
// full; a reconnecting surface reloads from the store anyway.
func (c *Client) enqueue(evt *Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	select {
	case <-c.done:
	default:
		select {
		case c.send <- data:
		default:
		}
	}
}

func (c *Client) sendPong() {
	data, _ := json.Marshal(Event{Type: EventTypePong})
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) sendError(code, message string) {
	evt, err := NewEvent(EventTypeError, ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	c.enqueue(evt)
}
