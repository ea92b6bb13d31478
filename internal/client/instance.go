package client

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/conneroisu/hydra/internal/markup"
	"github.com/conneroisu/hydra/internal/store"
	"github.com/conneroisu/hydra/internal/value"
)

// RedrawState is the redraw protocol state of an instance.
type RedrawState int

const (
	StateIdle RedrawState = iota
	StateRequesting
	StateApplying
)

func (s RedrawState) String() string {
	switch s {
	case StateRequesting:
		return "requesting"
	case StateApplying:
		return "applying"
	default:
		return "idle"
	}
}

// Instance is a mounted component.
type Instance struct {
	rt       *Runtime
	name     string
	id       string
	node     *markup.Node
	parent   *Instance
	children []*Instance
	local    map[string]any

	refs      map[string]any
	arrayRefs map[string][]any
	bindings  []*binding
	models    []*model

	watch       *store.Subscription
	initialized bool
	ready       bool
	readySeq    uint64
	destroyed   bool
	state       RedrawState
	inflight    *Pending

	redrawHooks []func(*Instance)
	handlers    map[string][]func(from *Instance, payload any)
}

func (r *Runtime) newInstance(node *markup.Node, parent *Instance) *Instance {
	id := node.AttrOr(r.markers.ID, "")
	if id == "" {
		id = strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		node.SetAttr(r.markers.ID, id)
	}
	inst := &Instance{
		rt:       r,
		name:     node.AttrOr(r.markers.Component, ""),
		id:       id,
		node:     node,
		parent:   parent,
		local:    make(map[string]any),
		handlers: make(map[string][]func(*Instance, any)),
	}
	r.instances[node] = inst
	return inst
}

// Name is the component name.
func (i *Instance) Name() string { return i.name }

// ID is the instance id the store is keyed by.
func (i *Instance) ID() string { return i.id }

// Node is the instance root node.
func (i *Instance) Node() *markup.Node { return i.node }

// Parent is the enclosing instance, nil for top-level ones.
func (i *Instance) Parent() *Instance { return i.parent }

// Children are the directly nested instances in document order.
func (i *Instance) Children() []*Instance {
	return append([]*Instance(nil), i.children...)
}

// Child returns the first direct child named name.
func (i *Instance) Child(name string) *Instance {
	for _, c := range i.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

// FindChildren returns every descendant instance named name, depth-first.
func (i *Instance) FindChildren(name string) []*Instance {
	var out []*Instance
	for _, c := range i.children {
		if c.name == name {
			out = append(out, c)
		}
		out = append(out, c.FindChildren(name)...)
	}
	return out
}

// GetData returns a value of the instance's local data.
func (i *Instance) GetData(key string) any {
	return i.local[key]
}

// Data returns a copy of the local data.
func (i *Instance) Data() map[string]any {
	return value.Merge(i.local)
}

// Get reads key from the store.
func (i *Instance) Get(key string) (any, bool) {
	return i.rt.store.Get(i.id, key)
}

// Lookup reads a dotted path whose first segment is a store key.
func (i *Instance) Lookup(path string) (any, bool) {
	p, err := value.ParsePath(path)
	if err != nil {
		return nil, false
	}
	return p.Lookup(i.rt.store.Snapshot(i.id))
}

// Set writes key to the store and local data. It reports whether the write
// changed anything.
func (i *Instance) Set(key string, v any) bool {
	if n, err := value.Normalize(v); err == nil {
		v = n
	}
	i.local[key] = v
	return i.rt.store.Set(i.id, key, v)
}

// SetForce writes key and notifies even when the value is unchanged.
func (i *Instance) SetForce(key string, v any) {
	if n, err := value.Normalize(v); err == nil {
		v = n
	}
	i.local[key] = v
	i.rt.store.SetForce(i.id, key, v)
}

// SetPath writes a nested value: `user.name` replaces name inside the user
// entry.
func (i *Instance) SetPath(path string, v any) error {
	p, err := value.ParsePath(path)
	if err != nil {
		return err
	}
	key := p.Segments[0].Name
	if len(p.Segments) == 1 {
		i.Set(key, v)
		return nil
	}
	cur, _ := i.Get(key)
	next, err := value.Path{Raw: path, Segments: p.Segments[1:]}.Set(cur, v)
	if err != nil {
		return err
	}
	i.Set(key, next)
	return nil
}

// Subscribe listens for changes of key, or of every key with store.Wildcard.
func (i *Instance) Subscribe(key string, fn store.Listener) *store.Subscription {
	return i.rt.store.Subscribe(i.id, key, i, fn)
}

// Watch listens for changes of key on other. The subscription belongs to i
// and follows other's id across redraws of other's parent.
func (i *Instance) Watch(other *Instance, key string, fn store.Listener) *store.Subscription {
	return i.rt.store.Subscribe(other.id, key, i, fn)
}

// Ref returns the named ref: a node, or the child instance mounted on it.
func (i *Instance) Ref(name string) any {
	v, ok := i.refs[name]
	if !ok {
		i.rt.logger.Warn(i.rt.ctx(), nil, "Unknown ref", "component", i.name, "ref", name)
		return nil
	}
	return v
}

// RefNode returns the node behind a ref, unwrapping promoted instances.
func (i *Instance) RefNode(name string) *markup.Node {
	switch v := i.Ref(name).(type) {
	case *markup.Node:
		return v
	case *Instance:
		return v.node
	}
	return nil
}

// Refs returns an array ref in document order.
func (i *Instance) Refs(name string) []any {
	return append([]any(nil), i.arrayRefs[name]...)
}

// On binds fn to event on node and returns the unbind function. Bindings
// on nodes replaced by a redraw are dropped.
func (i *Instance) On(node *markup.Node, event string, fn func(Event)) func() {
	return i.rt.on(i, node, event, fn)
}

// OnEvent handles events emitted by i or its descendants.
func (i *Instance) OnEvent(name string, fn func(from *Instance, payload any)) {
	i.handlers[name] = append(i.handlers[name], fn)
}

// Emit delivers a named event to i and then each ancestor.
func (i *Instance) Emit(name string, payload any) {
	for x := i; x != nil; x = x.parent {
		for _, fn := range x.handlers[name] {
			fn(i, payload)
		}
	}
}

// OnRedraw runs fn after every completed redraw of i.
func (i *Instance) OnRedraw(fn func(*Instance)) {
	i.redrawHooks = append(i.redrawHooks, fn)
}

// IsReady reports whether the instance finished mounting and has no
// redraw in progress.
func (i *Instance) IsReady() bool { return i.ready }

// ReadySeq is the runtime-wide sequence number taken when the instance
// last became ready. A parent's is never lower than its children's.
func (i *Instance) ReadySeq() uint64 { return i.readySeq }

// Destroyed reports whether the instance was torn down.
func (i *Instance) Destroyed() bool { return i.destroyed }

// State is the redraw protocol state.
func (i *Instance) State() RedrawState { return i.state }

// Redraw re-renders the instance and waits for the result.
func (i *Instance) Redraw(ctx context.Context) error {
	return i.rt.Await(ctx, i.RequestRedraw(ctx))
}

// Destroy tears the instance down, removes its node from the tree and
// drops its store entries.
func (i *Instance) Destroy() {
	if i.destroyed {
		return
	}
	i.teardown(true)
	if i.parent != nil {
		i.parent.removeChild(i)
	} else {
		roots := i.rt.roots[:0]
		for _, r := range i.rt.roots {
			if r != i {
				roots = append(roots, r)
			}
		}
		i.rt.roots = roots
	}
	i.node.Remove()
}

func (i *Instance) removeChild(c *Instance) {
	for k, x := range i.children {
		if x == c {
			i.children = append(i.children[:k], i.children[k+1:]...)
			return
		}
	}
}

// teardown destroys i and its descendants. With purge the store entries
// and every subscription on the instance ids go too.
func (i *Instance) teardown(purge bool) {
	for _, c := range i.children {
		c.teardown(purge)
	}
	i.children = nil
	if i.inflight != nil {
		i.inflight.abort()
		i.inflight = nil
	}
	i.rt.store.UnsubscribeOwner(i)
	i.watch = nil
	i.rt.pruneListeners(i, true)
	if purge {
		i.rt.store.Detach(i.id)
		i.rt.store.Delete(i.id)
	}
	if i.rt.instances[i.node] == i {
		delete(i.rt.instances, i.node)
	}
	i.destroyed = true
	i.ready = false
}

// subtree returns i and every descendant instance.
func (i *Instance) subtree() []*Instance {
	out := []*Instance{i}
	for _, c := range i.children {
		out = append(out, c.subtree()...)
	}
	return out
}
