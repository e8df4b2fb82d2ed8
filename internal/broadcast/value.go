// Package broadcast provides a replay-latest value stream with multicast
// delivery. Every subscriber first receives the current value, then every
// subsequent published value in publish order. Consecutive equal values are
// never published.
package broadcast

import (
	"context"
	"sync"
)

// Value holds the current value of a stream and fans out changes to
// subscribers. It is safe for concurrent use.
//
// Publishers never block on slow subscribers: each subscriber owns an
// unbounded queue drained by its own goroutine.
type Value[T any] struct {
	mu      sync.Mutex
	current T
	equal   func(a, b T) bool
	subs    map[*subscriber[T]]struct{}
	closed  bool
}

// New returns a Value holding initial. equal decides whether a published
// value repeats the current one; nil means every publish is distinct.
func New[T any](initial T, equal func(a, b T) bool) *Value[T] {
	return &Value[T]{
		current: initial,
		equal:   equal,
		subs:    make(map[*subscriber[T]]struct{}),
	}
}

// Load returns the current value.
func (v *Value[T]) Load() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Publish sets x as the current value and queues it for every subscriber.
// It reports false when x equals the current value or the stream is closed.
func (v *Value[T]) Publish(x T) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return false
	}
	if v.equal != nil && v.equal(v.current, x) {
		return false
	}
	v.current = x
	for s := range v.subs {
		s.push(x)
	}
	return true
}

// Subscribe returns a channel that yields the current value followed by every
// later publish. The channel is closed when ctx is done or the Value is closed.
func (v *Value[T]) Subscribe(ctx context.Context) <-chan T {
	s := &subscriber[T]{
		signal: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		out:    make(chan T),
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		close(s.out)
		return s.out
	}
	s.queue = append(s.queue, v.current)
	v.subs[s] = struct{}{}
	v.mu.Unlock()

	go func() {
		defer v.remove(s)
		s.run(ctx)
	}()
	return s.out
}

// Subscribers reports the number of live subscriptions.
func (v *Value[T]) Subscribers() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.subs)
}

// Close disposes all subscriptions. Later publishes are dropped.
func (v *Value[T]) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	for s := range v.subs {
		s.dispose()
	}
	clear(v.subs)
}

func (v *Value[T]) remove(s *subscriber[T]) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.subs, s)
}

type subscriber[T any] struct {
	mu       sync.Mutex
	queue    []T
	signal   chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	out      chan T
}

func (s *subscriber[T]) push(x T) {
	s.mu.Lock()
	s.queue = append(s.queue, x)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscriber[T]) dispose() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *subscriber[T]) run(ctx context.Context) {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.signal:
				continue
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
		next := s.queue[0]
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- next:
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}
