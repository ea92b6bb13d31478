// Package store implements the reactive key/value store of a client page.
//
// Entries are keyed by (instance id, key). Writes that are deep-equal to the
// current value are suppressed unless forced. Listeners run synchronously,
// in subscription order, before Set returns; the store lock is not held
// while they run so listeners may write back.
package store

import (
	"sort"
	"sync"

	"github.com/conneroisu/hydra/internal/value"
)

// Wildcard subscribes to every key of an instance.
const Wildcard = "*"

// Change describes one accepted write.
type Change struct {
	ID    string
	Key   string
	Value any
	Old   any
	// Forced is true when the write bypassed equality suppression.
	Forced bool
}

// Listener is notified of changes.
type Listener func(Change)

// Subscription is a registered listener. Owner identifies whoever created
// it so that bulk teardown can tell its own subscriptions from others'.
type Subscription struct {
	ID    string
	Key   string
	Owner any

	seq    uint64
	fn     Listener
	store  *Store
	active bool
}

// Active reports whether the subscription is still attached.
func (s *Subscription) Active() bool {
	if s == nil || s.store == nil {
		return false
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	return s.active
}

// Unsubscribe detaches the subscription. It is safe to call twice.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.store == nil {
		return
	}
	s.store.remove(s)
}

type subKey struct{ id, key string }

// Store is the per-page reactive table.
type Store struct {
	mu     sync.Mutex
	values map[string]map[string]any
	subs   map[subKey][]*Subscription
	seq    uint64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		values: make(map[string]map[string]any),
		subs:   make(map[subKey][]*Subscription),
	}
}

// Get returns the value of key for id.
func (s *Store) Get(id, key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[id][key]
	return v, ok
}

// Snapshot returns a copy of every entry of id.
func (s *Store) Snapshot(id string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.values[id]))
	for k, v := range s.values[id] {
		out[k] = v
	}
	return out
}

// Set writes v and notifies listeners unless v deep-equals the current
// value. It reports whether the write was accepted.
func (s *Store) Set(id, key string, v any) bool {
	return s.set(id, key, v, false)
}

// SetForce writes v and always notifies.
func (s *Store) SetForce(id, key string, v any) {
	s.set(id, key, v, true)
}

func (s *Store) set(id, key string, v any, force bool) bool {
	if n, err := value.Normalize(v); err == nil {
		v = n
	}

	s.mu.Lock()
	entries := s.values[id]
	if entries == nil {
		entries = make(map[string]any)
		s.values[id] = entries
	}
	old, existed := entries[key]
	if !force && existed && value.Equal(old, v) {
		s.mu.Unlock()
		return false
	}
	entries[key] = v
	listeners := s.listenersLocked(id, key)
	s.mu.Unlock()

	change := Change{ID: id, Key: key, Value: v, Old: old, Forced: force}
	for _, sub := range listeners {
		if sub.Active() {
			sub.fn(change)
		}
	}
	return true
}

func (s *Store) listenersLocked(id, key string) []*Subscription {
	var out []*Subscription
	out = append(out, s.subs[subKey{id, key}]...)
	if key != Wildcard {
		out = append(out, s.subs[subKey{id, Wildcard}]...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Subscribe registers fn for key of id, or every key with Wildcard. owner
// must be comparable; nil means unowned.
func (s *Store) Subscribe(id, key string, owner any, fn Listener) *Subscription {
	sub := &Subscription{ID: id, Key: key, Owner: owner, fn: fn}
	s.Attach(sub)
	return sub
}

// Attach registers a detached subscription again, possibly after being
// captured from a previous instance with the same id.
func (s *Store) Attach(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.active && sub.store == s {
		return
	}
	s.seq++
	sub.seq = s.seq
	sub.store = s
	sub.active = true
	k := subKey{sub.ID, sub.Key}
	s.subs[k] = append(s.subs[k], sub)
}

func (s *Store) remove(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(sub)
}

func (s *Store) removeLocked(sub *Subscription) {
	if !sub.active {
		return
	}
	sub.active = false
	k := subKey{sub.ID, sub.Key}
	list := s.subs[k]
	for i, x := range list {
		if x == sub {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(s.subs, k)
	} else {
		s.subs[k] = list
	}
}

// Subscriptions returns the active subscriptions on id, in order.
func (s *Store) Subscriptions(id string) []*Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Subscription
	for k, list := range s.subs {
		if k.id == id {
			out = append(out, list...)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Detach removes every subscription on id and returns them so they can be
// attached again later.
func (s *Store) Detach(id string) []*Subscription {
	subs := s.Subscriptions(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range subs {
		s.removeLocked(sub)
	}
	return subs
}

// UnsubscribeOwner removes every subscription created by owner.
func (s *Store) UnsubscribeOwner(owner any) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var victims []*Subscription
	for _, list := range s.subs {
		for _, sub := range list {
			if sub.Owner == owner {
				victims = append(victims, sub)
			}
		}
	}
	for _, sub := range victims {
		s.removeLocked(sub)
	}
	return len(victims)
}

// Delete drops every value of id. Subscriptions are untouched.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, id)
}

// Len returns the number of active subscriptions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, list := range s.subs {
		n += len(list)
	}
	return n
}
