// Package events provides an in-process broadcaster for document changes on
// the host and state snapshots on the companion.
package events

import (
	"sync"

	"github.com/cbnote/cbnote/internal/metrics"
)

const (
	EventCreate = "create"
	EventModify = "modify"
	EventDelete = "delete"
	EventRename = "rename"
)

// Event represents a change to a file in a document directory.
type Event struct {
	Type      string `json:"type"`
	Directory string `json:"directory"`
	Name      string `json:"name"`
	Timestamp int64  `json:"timestamp"`
}

// Broadcaster fans values out to subscribers. Publish never blocks: a
// subscriber whose buffer is full misses the value.
type Broadcaster[T any] struct {
	topic  string
	buffer int

	mu          sync.RWMutex
	subscribers map[chan T]struct{}
}

// NewBroadcaster creates a broadcaster whose subscriber channels hold buffer
// values. The topic labels its metrics.
func NewBroadcaster[T any](topic string, buffer int) *Broadcaster[T] {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broadcaster[T]{
		topic:       topic,
		buffer:      buffer,
		subscribers: make(map[chan T]struct{}),
	}
}

// Subscribe adds a new subscriber and returns its channel.
// The caller must call Unsubscribe when done.
func (b *Broadcaster[T]) Subscribe() chan T {
	ch := make(chan T, b.buffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetSubscribersActive(b.topic, n)
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster[T]) Unsubscribe(ch chan T) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetSubscribersActive(b.topic, n)
}

// Publish sends a value to all subscribers.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- v:
		default:
			// Drop for slow consumer
		}
	}
	metrics.RecordEvent(b.topic)
}

// Count returns the current number of subscribers.
func (b *Broadcaster[T]) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
