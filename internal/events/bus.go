package events

import (
	"slices"
	"sync"
	"sync/atomic"
)

type subscriber struct {
	ch     chan Message
	userID string
	topics []Event
}

func (s *subscriber) wants(m Message) bool {
	if s.userID != "" && m.UserID != "" && m.UserID != s.userID {
		return false
	}
	if s.userID != "" && m.UserID == "" {
		return false
	}
	return len(s.topics) == 0 || slices.Contains(s.topics, m.Topic)
}

// Bus is a lightweight pub/sub broker using channels. Publishing never
// blocks: a full subscriber buffer drops the message.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	dropped atomic.Uint64
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a listener. A non-empty userID limits delivery to that
// user's messages; no topics means all topics. The returned func unsubscribes
// and closes the channel.
func (b *Bus) Subscribe(userID string, buffer int, topics ...Event) (<-chan Message, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	s := &subscriber{ch: make(chan Message, buffer), userID: userID, topics: topics}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
			close(s.ch)
		})
	}
}

// Publish fans the message out to matching subscribers.
func (b *Bus) Publish(m Message) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if !s.wants(m) {
			continue
		}
		select {
		case s.ch <- m:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped reports how many deliveries were skipped because a buffer was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
