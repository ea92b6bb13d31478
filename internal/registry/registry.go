// Package registry maps component names to their descriptors.
//
// A Registry is an immutable snapshot built once through a Builder. Live
// wraps a snapshot that can be swapped wholesale on hot reload, notifying
// watchers of which components changed.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/hydra/internal/errors"
)

// Source resolves descriptors by name.
type Source interface {
	Get(name string) (*Descriptor, bool)
}

// Registry is a read-only set of descriptors.
type Registry struct {
	components map[string]*Descriptor
	names      []string
}

// Empty returns a registry with no components.
func Empty() *Registry {
	return &Registry{components: map[string]*Descriptor{}}
}

// Get retrieves a descriptor by name.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	d, ok := r.components[name]
	return d, ok
}

// Names returns every component name in lexical order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// All returns every descriptor in name order.
func (r *Registry) All() []*Descriptor {
	out := make([]*Descriptor, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.components[n])
	}
	return out
}

// Count returns the number of registered components.
func (r *Registry) Count() int {
	return len(r.components)
}

// Builder accumulates descriptors for a Registry.
type Builder struct {
	components map[string]*Descriptor
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{components: make(map[string]*Descriptor)}
}

// Register validates and adds d. Names must be unique.
func (b *Builder) Register(d Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if existing, ok := b.components[d.Name]; ok {
		msg := fmt.Sprintf("component %q already registered", d.Name)
		if existing.Source != "" {
			msg += " from " + existing.Source
		}
		return errors.NewRegistryError(errors.ErrCodeDuplicateComponent, msg, nil).
			WithComponent(d.Name).WithLocation(d.Source, 0, 0)
	}
	if d.Attributes != nil {
		attrs := make(map[string]string, len(d.Attributes))
		for k, v := range d.Attributes {
			attrs[k] = v
		}
		d.Attributes = attrs
	}
	b.components[d.Name] = &d
	return nil
}

// MustRegister is Register for static setup code; it panics on error.
func (b *Builder) MustRegister(d Descriptor) *Builder {
	if err := b.Register(d); err != nil {
		panic(err)
	}
	return b
}

// Build freezes the builder into a Registry. The builder may keep being
// used; later registrations do not affect the built registry.
func (b *Builder) Build() *Registry {
	r := &Registry{components: make(map[string]*Descriptor, len(b.components))}
	for name, d := range b.components {
		r.components[name] = d
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r
}

// EventType represents the type of component event.
type EventType int

const (
	EventTypeAdded EventType = iota
	EventTypeUpdated
	EventTypeRemoved
)

// String returns the event name.
func (t EventType) String() string {
	switch t {
	case EventTypeAdded:
		return "added"
	case EventTypeUpdated:
		return "updated"
	case EventTypeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event reports one component change after a swap.
type Event struct {
	Type      EventType
	Name      string
	Timestamp time.Time
}

// Live is a registry that can be replaced atomically while renders are
// reading it.
type Live struct {
	current  atomic.Pointer[Registry]
	mutex    sync.Mutex
	watchers []chan Event
}

// NewLive wraps initial, which may be nil.
func NewLive(initial *Registry) *Live {
	l := &Live{}
	if initial == nil {
		initial = Empty()
	}
	l.current.Store(initial)
	return l
}

// Snapshot returns the current registry.
func (l *Live) Snapshot() *Registry {
	return l.current.Load()
}

// Get resolves name against the current snapshot.
func (l *Live) Get(name string) (*Descriptor, bool) {
	return l.current.Load().Get(name)
}

// Swap installs next and notifies watchers of added, updated and removed
// components. Descriptors are compared by Hash.
func (l *Live) Swap(next *Registry) []Event {
	if next == nil {
		next = Empty()
	}
	prev := l.current.Swap(next)
	events := diff(prev, next, time.Now())

	l.mutex.Lock()
	defer l.mutex.Unlock()
	for _, ev := range events {
		for _, watcher := range l.watchers {
			select {
			case watcher <- ev:
			default:
				// Skip if channel is full
			}
		}
	}
	return events
}

func diff(prev, next *Registry, now time.Time) []Event {
	var events []Event
	for _, name := range next.names {
		old, ok := prev.components[name]
		switch {
		case !ok:
			events = append(events, Event{Type: EventTypeAdded, Name: name, Timestamp: now})
		case old.Hash != next.components[name].Hash || old.Hash == "":
			events = append(events, Event{Type: EventTypeUpdated, Name: name, Timestamp: now})
		}
	}
	for _, name := range prev.names {
		if _, ok := next.components[name]; !ok {
			events = append(events, Event{Type: EventTypeRemoved, Name: name, Timestamp: now})
		}
	}
	return events
}

// Watch returns a channel that receives component events.
func (l *Live) Watch() <-chan Event {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	ch := make(chan Event, 100)
	l.watchers = append(l.watchers, ch)
	return ch
}

// UnWatch removes a watcher channel and closes it.
func (l *Live) UnWatch(ch <-chan Event) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	for i, watcher := range l.watchers {
		if watcher == ch {
			close(watcher)
			l.watchers = append(l.watchers[:i], l.watchers[i+1:]...)
			break
		}
	}
}
