package pubsub

import "sync"

// Topic is a generic fan-out point for values of type T. Subscribers
// attach either a channel or a callback and get every published value.
//
// Channel delivery is non-blocking: a subscriber whose channel is full
// misses that value instead of stalling the publisher. Subscribers that
// must not miss updates should use a buffered channel and drain promptly.
//
// Callbacks run on the publisher's goroutine, outside the Topic lock,
// and must not block.
type Topic[T any] struct {
	mu        sync.RWMutex
	channels  map[uint64]chan<- T
	callbacks map[uint64]func(T)
	nextID    uint64

	// When replayLast is set, the most recent published value is handed
	// to each new subscriber at subscribe time.
	replayLast bool
	last       *T
}

// NewTopic creates a Topic. replayLast controls whether late subscribers
// receive the most recently published value immediately.
func NewTopic[T any](replayLast bool) *Topic[T] {
	return &Topic[T]{
		channels:   make(map[uint64]chan<- T),
		callbacks:  make(map[uint64]func(T)),
		replayLast: replayLast,
	}
}

// Subscribe registers ch to receive published values.
// Returns a deregistration function that removes the subscription.
func (t *Topic[T]) Subscribe(ch chan<- T) func() {
	if ch == nil {
		panic("pubsub: cannot subscribe a nil channel")
	}

	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.channels[id] = ch
	replay := t.replayLocked()
	t.mu.Unlock()

	if replay != nil {
		select {
		case ch <- *replay:
		default:
		}
	}

	return func() {
		t.mu.Lock()
		delete(t.channels, id)
		t.mu.Unlock()
	}
}

// SubscribeFunc registers fn to be called with published values.
// Returns a deregistration function that removes the subscription.
func (t *Topic[T]) SubscribeFunc(fn func(T)) func() {
	if fn == nil {
		panic("pubsub: cannot subscribe a nil callback")
	}

	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.callbacks[id] = fn
	replay := t.replayLocked()
	t.mu.Unlock()

	if replay != nil {
		fn(*replay)
	}

	return func() {
		t.mu.Lock()
		delete(t.callbacks, id)
		t.mu.Unlock()
	}
}

// replayLocked returns a copy of the last published value if replay
// applies. Must be called with mu held.
func (t *Topic[T]) replayLocked() *T {
	if !t.replayLast || t.last == nil {
		return nil
	}
	v := *t.last
	return &v
}

// Publish delivers value to every current subscriber.
func (t *Topic[T]) Publish(value T) {
	t.mu.Lock()
	if t.replayLast {
		v := value
		t.last = &v
	}
	chans := make([]chan<- T, 0, len(t.channels))
	for _, ch := range t.channels {
		chans = append(chans, ch)
	}
	fns := make([]func(T), 0, len(t.callbacks))
	for _, fn := range t.callbacks {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	// Deliver outside the lock so slow subscribers cannot block
	// Subscribe/Publish calls from other goroutines.
	for _, ch := range chans {
		select {
		case ch <- value:
		default:
		}
	}
	for _, fn := range fns {
		fn(value)
	}
}

// SubscriberCount returns the number of registered subscriptions.
func (t *Topic[T]) SubscriberCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.channels) + len(t.callbacks)
}
