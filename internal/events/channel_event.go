package events

import "sync"

// ChannelEvent fans values out to subscriber channels. Sends are
// non-blocking: a subscriber whose channel is full misses that value, so
// subscribers that care should buffer their channel.
type ChannelEvent[T any] struct {
	mu         sync.Mutex
	subs       map[uint64]chan<- T
	nextID     uint64
	replayLast bool
	last       T
	notified   bool
}

// NewChannelEvent creates a ChannelEvent. With replayLast set, the most
// recent value passed to Notify is delivered to each new subscriber
// immediately, so late listeners still learn the current state.
func NewChannelEvent[T any](replayLast bool) *ChannelEvent[T] {
	return &ChannelEvent[T]{
		subs:       make(map[uint64]chan<- T),
		replayLast: replayLast,
	}
}

// Listen registers ch to receive values from Notify and returns a
// deregistration function.
func (e *ChannelEvent[T]) Listen(ch chan<- T) func() {
	if ch == nil {
		panic("events: channel cannot be nil")
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = ch
	replay := e.replayLast && e.notified
	last := e.last
	e.mu.Unlock()

	if replay {
		select {
		case ch <- last:
		default:
		}
	}

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// Notify sends value to every registered subscriber.
func (e *ChannelEvent[T]) Notify(value T) {
	e.mu.Lock()
	if e.replayLast {
		e.last = value
		e.notified = true
	}
	targets := make([]chan<- T, 0, len(e.subs))
	for _, ch := range e.subs {
		targets = append(targets, ch)
	}
	e.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- value:
		default:
		}
	}
}

// ListenerCount returns the number of registered subscribers.
func (e *ChannelEvent[T]) ListenerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}
