// Package client is the hydration runtime. It mirrors server-rendered
// component markup as a tree of live instances, each with a scoped view of
// a reactive store, declarative show/hide bindings, refs and form models,
// and redraws a single instance by re-fetching its rendered fragment.
//
// A Runtime is owned by one goroutine. Network calls run on helper
// goroutines and post their results to an inbox that the owner drains with
// Settle, Await or Run; every tree and store mutation happens on the owner.
package client

import (
	"context"
	"fmt"

	"github.com/conneroisu/hydra/internal/logging"
	"github.com/conneroisu/hydra/internal/markup"
	"github.com/conneroisu/hydra/internal/protocol"
	"github.com/conneroisu/hydra/internal/store"
)

// InitContext is passed to an initializer.
type InitContext struct {
	Context  context.Context
	Instance *Instance
	// Net reaches the render endpoint the page was configured with.
	Net Transport
	// Redraw is true when the instance was first mounted by a redraw.
	Redraw bool
}

// InitFunc is a client initializer. It runs at most once per instance.
type InitFunc func(InitContext) error

// Predicate is a named condition callable from `data-if="name(args)"`.
type Predicate func(inst *Instance, args []any) bool

// Transition is told about visibility changes made after the first
// evaluation of a binding.
type Transition func(node *markup.Node, visible bool)

const inboxSize = 64

// Runtime is one page load.
type Runtime struct {
	cfg       protocol.PageConfig
	markers   protocol.Markers
	store     *store.Store
	transport Transport
	logger    logging.Logger

	modules      map[string]InitFunc
	initializers map[string]InitFunc
	predicates   map[string]Predicate
	transition   Transition

	listeners map[*markup.Node][]*listener
	instances map[*markup.Node]*Instance
	roots     []*Instance
	page      *markup.Node

	inbox    chan func()
	pending  int
	readySeq uint64
	base     context.Context
}

type listener struct {
	owner *Instance
	node  *markup.Node
	event string
	fn    func(Event)
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithTransport sets the render transport.
func WithTransport(t Transport) Option {
	return func(r *Runtime) { r.transport = t }
}

// WithLogger sets the runtime logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Runtime) { r.logger = l.WithComponent("client") }
}

// WithStore shares an existing store.
func WithStore(s *store.Store) Option {
	return func(r *Runtime) { r.store = s }
}

// WithConfig overrides the page config. Boot still reads the page's block.
func WithConfig(cfg protocol.PageConfig) Option {
	return func(r *Runtime) { r.setConfig(cfg) }
}

// WithModule pre-links an initializer under a module reference.
func WithModule(ref string, fn InitFunc) Option {
	return func(r *Runtime) { r.modules[ref] = fn }
}

// WithPredicate registers a named predicate.
func WithPredicate(name string, fn Predicate) Option {
	return func(r *Runtime) { r.predicates[name] = fn }
}

// WithTransition sets the visibility transition hook.
func WithTransition(fn Transition) Option {
	return func(r *Runtime) { r.transition = fn }
}

// New creates a runtime.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		store:        store.New(),
		logger:       logging.NewNop(),
		modules:      make(map[string]InitFunc),
		initializers: make(map[string]InitFunc),
		predicates:   make(map[string]Predicate),
		listeners:    make(map[*markup.Node][]*listener),
		instances:    make(map[*markup.Node]*Instance),
		inbox:        make(chan func(), inboxSize),
		base:         context.Background(),
	}
	r.setConfig(protocol.DefaultPageConfig())
	for _, opt := range opts {
		opt(r)
	}
	if r.transport == nil {
		r.transport = TransportFunc(func(ctx context.Context, endpoint string, req protocol.RenderRequest) (*protocol.RenderResponse, error) {
			return nil, fmt.Errorf("no transport configured for %s", endpoint)
		})
	}
	return r
}

func (r *Runtime) setConfig(cfg protocol.PageConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = protocol.DefaultEndpoint
	}
	if cfg.Marker == "" {
		cfg.Marker = protocol.DefaultMarker
	}
	r.cfg = cfg
	r.markers = protocol.MarkersFor(cfg.Marker)
}

func (r *Runtime) ctx() context.Context { return r.base }

// Store returns the page store.
func (r *Runtime) Store() *store.Store { return r.store }

// Config returns the active page config.
func (r *Runtime) Config() protocol.PageConfig { return r.cfg }

// Markers returns the marker attribute names in use.
func (r *Runtime) Markers() protocol.Markers { return r.markers }

// Transport returns the render transport.
func (r *Runtime) Transport() Transport { return r.transport }

// Page returns the booted page root.
func (r *Runtime) Page() *markup.Node { return r.page }

// Roots returns the top-level instances in mount order.
func (r *Runtime) Roots() []*Instance {
	return append([]*Instance(nil), r.roots...)
}

// Instance returns the instance mounted on node.
func (r *Runtime) Instance(node *markup.Node) (*Instance, bool) {
	inst, ok := r.instances[node]
	return inst, ok
}

// Define registers an initializer for a component directly.
func (r *Runtime) Define(component string, fn InitFunc) {
	r.initializers[component] = fn
}

// RegisterInitializers resolves component -> module reference pairs
// against the pre-linked modules. Unknown references are skipped with a
// warning.
func (r *Runtime) RegisterInitializers(table map[string]string) {
	for name, ref := range table {
		fn, ok := r.modules[ref]
		if !ok {
			r.logger.Warn(r.ctx(), nil, "Initializer module not linked", "component", name, "module", ref)
			continue
		}
		r.initializers[name] = fn
	}
}

// Boot reads the page config block, registers its initializers, mounts
// every top-level component and settles outstanding redraws.
func (r *Runtime) Boot(ctx context.Context, page *markup.Node) error {
	r.base = ctx
	cfg, err := protocol.ReadPageConfig(page)
	if err != nil {
		return err
	}
	if cfg.Endpoint != protocol.DefaultEndpoint || cfg.Marker != protocol.DefaultMarker || len(cfg.Initializers) > 0 || cfg.Live != "" {
		merged := r.cfg
		if cfg.Endpoint != protocol.DefaultEndpoint {
			merged.Endpoint = cfg.Endpoint
		}
		if cfg.Marker != protocol.DefaultMarker {
			merged.Marker = cfg.Marker
		}
		if cfg.Live != "" {
			merged.Live = cfg.Live
		}
		merged.Initializers = cfg.Initializers
		r.setConfig(merged)
	}
	r.RegisterInitializers(cfg.Initializers)
	r.page = page

	op := logging.StartOperation(r.logger, "boot")
	for _, node := range r.markerChildren(page) {
		inst := r.newInstance(node, nil)
		r.roots = append(r.roots, inst)
		r.mount(ctx, inst, false, false)
	}
	op.End(ctx, "roots", len(r.roots))
	return r.Settle(ctx)
}

// Mount mounts node, which must carry the component marker, as a new
// top-level instance.
func (r *Runtime) Mount(ctx context.Context, node *markup.Node) (*Instance, error) {
	if !node.HasAttr(r.markers.Component) {
		return nil, fmt.Errorf("node <%s> has no %s attribute", node.Tag, r.markers.Component)
	}
	if inst, ok := r.instances[node]; ok && !inst.destroyed {
		return inst, nil
	}
	inst := r.newInstance(node, nil)
	r.roots = append(r.roots, inst)
	r.mount(ctx, inst, false, false)
	return inst, nil
}

// Dispatch delivers ev to node and then to each ancestor. Form controls
// take the event's value first and model bindings write it to the store.
func (r *Runtime) Dispatch(node *markup.Node, ev Event) {
	ev.Target = node
	applyEvent(node, ev)
	if ev.Type == "input" || ev.Type == "change" {
		if m := r.modelFor(node); m != nil {
			m.write(ev)
		}
	}
	for n := node; n != nil; n = n.Parent() {
		for _, l := range append([]*listener(nil), r.listeners[n]...) {
			if l.event == ev.Type && !l.owner.destroyed {
				l.fn(ev)
			}
		}
	}
}

func (r *Runtime) modelFor(node *markup.Node) *model {
	for n := node; n != nil; n = n.Parent() {
		if inst, ok := r.instances[n]; ok {
			for _, m := range inst.models {
				if m.node == node {
					return m
				}
			}
			return nil
		}
	}
	return nil
}

func (r *Runtime) on(owner *Instance, node *markup.Node, event string, fn func(Event)) func() {
	l := &listener{owner: owner, node: node, event: event, fn: fn}
	r.listeners[node] = append(r.listeners[node], l)
	return func() { r.removeListener(l) }
}

func (r *Runtime) removeListener(l *listener) {
	list := r.listeners[l.node]
	for i, x := range list {
		if x == l {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(r.listeners, l.node)
	} else {
		r.listeners[l.node] = list
	}
}

// pruneListeners drops owner's listeners whose node left owner's subtree.
// With all set every listener of owner goes.
func (r *Runtime) pruneListeners(owner *Instance, all bool) {
	for node, list := range r.listeners {
		keep := list[:0]
		for _, l := range list {
			if l.owner == owner && (all || !isWithin(node, owner.node)) {
				continue
			}
			keep = append(keep, l)
		}
		if len(keep) == 0 {
			delete(r.listeners, node)
		} else {
			r.listeners[node] = keep
		}
	}
}

func isWithin(n, root *markup.Node) bool {
	for x := n; x != nil; x = x.Parent() {
		if x == root {
			return true
		}
	}
	return false
}

// markerChildren returns the marker-carrying descendants of n that are not
// inside another marker node, in document order.
func (r *Runtime) markerChildren(n *markup.Node) []*markup.Node {
	var out []*markup.Node
	for _, c := range n.Children() {
		c.Walk(func(x *markup.Node) bool {
			if !x.IsElement() {
				return false
			}
			if x.HasAttr(r.markers.Component) {
				out = append(out, x)
				return false
			}
			return true
		})
	}
	return out
}

// Settle pumps the inbox until no network work is outstanding.
func (r *Runtime) Settle(ctx context.Context) error {
	for r.pending > 0 {
		select {
		case fn := <-r.inbox:
			fn()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Await pumps the inbox until p completes and returns its error.
func (r *Runtime) Await(ctx context.Context, p *Pending) error {
	for !p.settled {
		select {
		case fn := <-r.inbox:
			fn()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return p.err
}

// Run pumps the inbox until ctx is done. Use it when work arrives from
// outside, such as live reload.
func (r *Runtime) Run(ctx context.Context) error {
	for {
		select {
		case fn := <-r.inbox:
			fn()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// post queues fn for the owner goroutine.
func (r *Runtime) post(fn func()) {
	r.inbox <- fn
}
