package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vedran77/klasa/internal/domain"
	"github.com/vedran77/klasa/internal/errs"
	"github.com/vedran77/klasa/internal/feed"
)

type fakeSub struct {
	events chan feed.Event
	once   sync.Once
	status feed.Status
	mu     sync.Mutex
}

func newFakeSub() *fakeSub {
	return &fakeSub{events: make(chan feed.Event, 16), status: feed.StatusSubscribed}
}

func (s *fakeSub) Events() <-chan feed.Event { return s.events }

func (s *fakeSub) Status() feed.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *fakeSub) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.status = feed.StatusClosed
		s.mu.Unlock()
		close(s.events)
	})
}

func (s *fakeSub) fail() {
	s.once.Do(func() {
		s.mu.Lock()
		s.status = feed.StatusError
		s.mu.Unlock()
		close(s.events)
	})
}

type fakeFeed struct {
	mu         sync.Mutex
	subs       []*fakeSub
	subscribes int
	err        error
}

var _ feed.Client = (*fakeFeed)(nil)

func (f *fakeFeed) Subscribe(_ context.Context, _ feed.Filter) (feed.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	if f.err != nil {
		return nil, f.err
	}
	sub := newFakeSub()
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeFeed) Subscribes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes
}

func (f *fakeFeed) lastSub() *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subs) == 0 {
		return nil
	}
	return f.subs[len(f.subs)-1]
}

func insertedEvent(key domain.ConversationKey) feed.Event {
	return feed.Event{
		Type: feed.EventInserted,
		Message: &domain.Message{
			ID:         uuid.New(),
			SenderID:   key.A,
			ReceiverID: key.B,
			Body:       "hej",
			Kind:       domain.KindText,
			SentAt:     time.Now(),
			State:      domain.StateConfirmed,
		},
	}
}

func TestManager_SharesOneFeedPerConversation(t *testing.T) {
	client := &fakeFeed{}
	m := NewManager(client, zap.NewNop())
	key := domain.NewConversationKey(uuid.New(), uuid.New())

	got1 := make(chan feed.Event, 1)
	got2 := make(chan feed.Event, 1)

	h1, err := m.Open(context.Background(), key, func(evt feed.Event) { got1 <- evt })
	require.NoError(t, err)
	require.Equal(t, HandleSubscribed, h1.State())

	h2, err := m.Open(context.Background(), key, func(evt feed.Event) { got2 <- evt })
	require.NoError(t, err)
	require.Equal(t, HandleSubscribed, h2.State())

	require.Equal(t, 1, client.Subscribes())

	evt := insertedEvent(key)
	client.lastSub().events <- evt

	for _, ch := range []chan feed.Event{got1, got2} {
		select {
		case e := <-ch:
			require.Equal(t, feed.EventInserted, e.Type)
			require.Equal(t, evt.Message.ID, e.Message.ID)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestManager_LastCloseTearsDownFeed(t *testing.T) {
	client := &fakeFeed{}
	m := NewManager(client, zap.NewNop())
	key := domain.NewConversationKey(uuid.New(), uuid.New())

	h1, err := m.Open(context.Background(), key, func(feed.Event) {})
	require.NoError(t, err)
	h2, err := m.Open(context.Background(), key, func(feed.Event) {})
	require.NoError(t, err)

	sub := client.lastSub()

	h1.Close()
	require.Equal(t, HandleClosed, h1.State())
	require.Equal(t, feed.StatusSubscribed, sub.Status())

	h2.Close()
	require.Equal(t, feed.StatusClosed, sub.Status())

	// Re-opening after full teardown negotiates a fresh feed.
	h3, err := m.Open(context.Background(), key, func(feed.Event) {})
	require.NoError(t, err)
	require.Equal(t, 2, client.Subscribes())
	h3.Close()
}

func TestManager_DoubleCloseIsNoop(t *testing.T) {
	client := &fakeFeed{}
	m := NewManager(client, zap.NewNop())
	key := domain.NewConversationKey(uuid.New(), uuid.New())

	h1, err := m.Open(context.Background(), key, func(feed.Event) {})
	require.NoError(t, err)
	h2, err := m.Open(context.Background(), key, func(feed.Event) {})
	require.NoError(t, err)

	h1.Close()
	h1.Close()

	// The second handle still holds the feed open.
	require.Equal(t, feed.StatusSubscribed, client.lastSub().Status())
	h2.Close()
	require.Equal(t, feed.StatusClosed, client.lastSub().Status())
}

func TestManager_NoEventsAfterClose(t *testing.T) {
	client := &fakeFeed{}
	m := NewManager(client, zap.NewNop())
	key := domain.NewConversationKey(uuid.New(), uuid.New())

	var mu sync.Mutex
	var delivered int
	h1, err := m.Open(context.Background(), key, func(feed.Event) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})
	require.NoError(t, err)

	// Keep a second handle so the feed survives the first close.
	h2, err := m.Open(context.Background(), key, func(feed.Event) {})
	require.NoError(t, err)

	h1.Close()
	m.Broadcast(key, insertedEvent(key))

	mu.Lock()
	require.Equal(t, 0, delivered)
	mu.Unlock()
	h2.Close()
}

func TestManager_BroadcastReachesHandles(t *testing.T) {
	client := &fakeFeed{}
	m := NewManager(client, zap.NewNop())
	key := domain.NewConversationKey(uuid.New(), uuid.New())

	got := make(chan feed.Event, 1)
	h, err := m.Open(context.Background(), key, func(evt feed.Event) { got <- evt })
	require.NoError(t, err)
	defer h.Close()

	evt := insertedEvent(key)
	evt.Type = feed.EventConfirmed
	m.Broadcast(key, evt)

	select {
	case e := <-got:
		require.Equal(t, feed.EventConfirmed, e.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestManager_SubscribeErrorWrapped(t *testing.T) {
	client := &fakeFeed{err: errors.New("channel limit reached")}
	m := NewManager(client, zap.NewNop())
	key := domain.NewConversationKey(uuid.New(), uuid.New())

	h, err := m.Open(context.Background(), key, func(feed.Event) {})
	require.ErrorIs(t, err, errs.ErrSubscription)
	require.Nil(t, h)
}

func TestManager_FeedDropClosesHandles(t *testing.T) {
	client := &fakeFeed{}
	m := NewManager(client, zap.NewNop())
	key := domain.NewConversationKey(uuid.New(), uuid.New())

	h, err := m.Open(context.Background(), key, func(feed.Event) {})
	require.NoError(t, err)

	client.lastSub().fail()

	require.Eventually(t, func() bool {
		return h.State() == HandleClosed
	}, time.Second, 5*time.Millisecond)

	// Re-open works and gets a new underlying feed.
	h2, err := m.Open(context.Background(), key, func(feed.Event) {})
	require.NoError(t, err)
	require.Equal(t, 2, client.Subscribes())
	h2.Close()
}
