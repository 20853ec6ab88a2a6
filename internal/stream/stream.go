// Package stream fan-outs verification events to live subscribers
// (ops dashboards, SSE/WebSocket clients).
package stream

import (
	"context"
	"sync"

	"passgate.org/internal/passcode"
)

// Stream delivers every audited access attempt to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan passcode.AccessAttempt
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan passcode.AccessAttempt)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan passcode.AccessAttempt {
	ch := make(chan passcode.AccessAttempt, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the attempt to all subscribers. Never blocks the verifier.
func (s *Stream) Publish(rec passcode.AccessAttempt) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- rec:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
