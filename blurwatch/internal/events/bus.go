// Package events carries the named application events and inbound commands
// a page controller reacts to. Listeners run on the emitter's goroutine;
// controllers only enqueue into their own loop from them.
package events

import (
	"sync"

	"github.com/hazyhaar/blurkit/blurwatch/mutation"
)

// Name identifies an application event.
type Name string

const (
	// SettingsLoaded carries a settings.Settings in Detail.
	SettingsLoaded Name = "settingsLoaded"
	// ToggleOnOffStatus has no detail: listeners re-read the settings they hold.
	ToggleOnOffStatus Name = "toggleOnOffStatus"
)

// Event is one emitted event.
type Event struct {
	Name   Name
	Detail any
}

// Bus dispatches named events to listeners.
type Bus struct {
	mu        sync.RWMutex
	next      int
	listeners map[Name]map[int]func(Event)
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{listeners: make(map[Name]map[int]func(Event))}
}

// Listen registers fn for name and returns a function removing it.
func (b *Bus) Listen(name Name, fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listeners[name] == nil {
		b.listeners[name] = make(map[int]func(Event))
	}
	id := b.next
	b.next++
	b.listeners[name][id] = fn
	return func() {
		b.mu.Lock()
		delete(b.listeners[name], id)
		b.mu.Unlock()
	}
}

// Emit delivers an event to every listener of name.
func (b *Bus) Emit(name Name, detail any) {
	b.mu.RLock()
	fns := make([]func(Event), 0, len(b.listeners[name]))
	for _, fn := range b.listeners[name] {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	ev := Event{Name: name, Detail: detail}
	for _, fn := range fns {
		fn(ev)
	}
}

// Inbox is the inbound command channel of one page.
type Inbox struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]func(mutation.Command)
}

// NewInbox returns an empty Inbox.
func NewInbox() *Inbox {
	return &Inbox{handlers: make(map[int]func(mutation.Command))}
}

// OnMessage registers fn and returns a function removing it.
func (in *Inbox) OnMessage(fn func(mutation.Command)) (unsubscribe func()) {
	in.mu.Lock()
	defer in.mu.Unlock()
	id := in.next
	in.next++
	in.handlers[id] = fn
	return func() {
		in.mu.Lock()
		delete(in.handlers, id)
		in.mu.Unlock()
	}
}

// Deliver hands cmd to every handler.
func (in *Inbox) Deliver(cmd mutation.Command) {
	in.mu.RLock()
	fns := make([]func(mutation.Command), 0, len(in.handlers))
	for _, fn := range in.handlers {
		fns = append(fns, fn)
	}
	in.mu.RUnlock()
	for _, fn := range fns {
		fn(cmd)
	}
}
