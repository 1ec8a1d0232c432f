package service

import (
	"sort"
	"sync"

	"github.com/vedran77/klasa/internal/domain"
	"github.com/vedran77/klasa/internal/feed"
)

// Thread is a consumer's merged view of one conversation. It implements the
// merge rules every observer must follow: remove any existing entry with the
// same final ID, insert or replace, then re-sort by sent_at. The feed's
// delivery order is not sent_at order under clock skew or multi-client
// sends, so the sort runs after every merge instead of assuming append-only.
//
// The optimistic copy and the server echo of the same message only coexist
// inside the sender's own thread, keyed there by provisional ID; Confirm and
// the ID dedup in apply collapse them back to one entry regardless of which
// arrives first.
type Thread struct {
	mu       sync.Mutex
	messages []*domain.Message
}

func NewThread() *Thread {
	return &Thread{}
}

// Load seeds the thread from an initial store query.
func (t *Thread) Load(msgs []domain.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.messages = t.messages[:0]
	for i := range msgs {
		t.messages = append(t.messages, msgs[i].Clone())
	}
	t.resort()
}

// ApplyOptimistic adds the coordinator's provisional copy.
func (t *Thread) ApplyOptimistic(msg *domain.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.removeByProvisionalID(msg.ProvisionalID)
	t.messages = append(t.messages, msg.Clone())
	t.resort()
}

// Confirm swaps the provisional entry for the authoritative copy. The server
// timestamp wins over the client one, so the list re-sorts.
func (t *Thread) Confirm(provisionalID string, msg *domain.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.removeByProvisionalID(provisionalID)
	t.apply(msg, domain.StateConfirmed)
}

// Fail marks the provisional entry failed; it stays visible until the user
// resends.
func (t *Thread) Fail(provisionalID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, m := range t.messages {
		if m.ProvisionalID == provisionalID {
			m.State = domain.StateFailed
			return
		}
	}
}

// Apply merges one feed event.
func (t *Thread) Apply(evt feed.Event) {
	if evt.Message == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch evt.Type {
	case feed.EventInserted, feed.EventUpdated:
		t.apply(evt.Message, domain.StateConfirmed)
	case feed.EventConfirmed:
		t.removeByProvisionalID(evt.Message.ProvisionalID)
		t.apply(evt.Message, domain.StateConfirmed)
	case feed.EventDeleted:
		t.removeByID(evt.Message)
	}
}

// Messages returns the merged list in sent_at order.
func (t *Thread) Messages() []domain.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]domain.Message, 0, len(t.messages))
	for _, m := range t.messages {
		out = append(out, *m.Clone())
	}
	return out
}

// Len returns the number of visible entries.
func (t *Thread) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

func (t *Thread) apply(msg *domain.Message, state domain.MessageState) {
	t.removeByID(msg)
	cp := msg.Clone()
	if cp.State == "" {
		cp.State = state
	}
	t.messages = append(t.messages, cp)
	t.resort()
}

func (t *Thread) removeByID(msg *domain.Message) {
	for i, m := range t.messages {
		if m.ID == msg.ID {
			t.messages = append(t.messages[:i], t.messages[i+1:]...)
			return
		}
	}
}

func (t *Thread) removeByProvisionalID(provisionalID string) {
	if provisionalID == "" {
		return
	}
	for i, m := range t.messages {
		if m.ProvisionalID == provisionalID && m.State == domain.StatePending {
			t.messages = append(t.messages[:i], t.messages[i+1:]...)
			return
		}
	}
}

func (t *Thread) resort() {
	sort.SliceStable(t.messages, func(i, j int) bool {
		if t.messages[i].SentAt.Equal(t.messages[j].SentAt) {
			return t.messages[i].ID.String() < t.messages[j].ID.String()
		}
		return t.messages[i].SentAt.Before(t.messages[j].SentAt)
	})
}
