package table

import "sync"

// Key names a keyboard key routed through a KeyBus.
type Key string

// Keys the table engine listens for.
const (
	KeyEscape Key = "Escape"
	KeyEnter  Key = "Enter"
)

// KeyBus is the view-scoped stand-in for a global key listener. Handlers are
// registered for a lifetime and removed through the returned function.
type KeyBus struct {
	mu       sync.Mutex
	next     int
	handlers map[Key]map[int]func()
}

// NewKeyBus returns an empty bus.
func NewKeyBus() *KeyBus {
	return &KeyBus{handlers: make(map[Key]map[int]func())}
}

// Subscribe registers fn for key. The returned function removes it and is
// safe to call more than once.
func (b *KeyBus) Subscribe(key Key, fn func()) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	if b.handlers[key] == nil {
		b.handlers[key] = make(map[int]func())
	}
	b.handlers[key][id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[key], id)
	}
}

// Dispatch invokes every handler registered for key and returns how many ran.
// Handlers run outside the lock so they may unsubscribe themselves.
func (b *KeyBus) Dispatch(key Key) int {
	b.mu.Lock()
	fns := make([]func(), 0, len(b.handlers[key]))
	for _, fn := range b.handlers[key] {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

// Listeners counts handlers registered for key.
func (b *KeyBus) Listeners(key Key) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[key])
}
