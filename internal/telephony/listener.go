package telephony

import "sync"

// Listener is the handle returned when subscribing to engine callbacks.
// Disable stops delivery; it is safe to call more than once.
type Listener struct {
	once    sync.Once
	disable func()
}

func (l *Listener) Disable() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		if l.disable != nil {
			l.disable()
		}
	})
}

// listeners is a per-engine callback registry.
type listeners[T any] struct {
	mu   sync.RWMutex
	next int
	fns  map[int]func(T)
}

func (ls *listeners[T]) add(fn func(T)) *Listener {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.fns == nil {
		ls.fns = make(map[int]func(T))
	}
	id := ls.next
	ls.next++
	ls.fns[id] = fn
	return &Listener{disable: func() {
		ls.mu.Lock()
		defer ls.mu.Unlock()
		delete(ls.fns, id)
	}}
}

func (ls *listeners[T]) emit(v T) {
	ls.mu.RLock()
	fns := make([]func(T), 0, len(ls.fns))
	for _, fn := range ls.fns {
		fns = append(fns, fn)
	}
	ls.mu.RUnlock()
	for _, fn := range fns {
		fn(v)
	}
}

func (ls *listeners[T]) len() int {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return len(ls.fns)
}
