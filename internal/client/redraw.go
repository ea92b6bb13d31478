package client

import (
	"context"
	stderrors "errors"

	"github.com/conneroisu/hydra/internal/errors"
	"github.com/conneroisu/hydra/internal/markup"
	"github.com/conneroisu/hydra/internal/protocol"
	"github.com/conneroisu/hydra/internal/store"
	"github.com/conneroisu/hydra/internal/value"
)

// Pending is an outstanding network round trip started by RequestRedraw
// or Add.
type Pending struct {
	inst    *Instance
	ctx     context.Context
	cancel  context.CancelFunc
	settled bool
	aborted bool
	applied bool
	err     error
	added   *Instance
}

// Settled reports whether the pending work completed or was discarded.
func (p *Pending) Settled() bool { return p.settled }

// Applied reports whether the response was applied to the tree.
func (p *Pending) Applied() bool { return p.applied }

// Err is the failure, if any, once settled.
func (p *Pending) Err() error { return p.err }

func (p *Pending) abort() {
	p.aborted = true
	p.cancel()
}

func (p *Pending) finish(err error) {
	p.settled = true
	p.err = err
}

// RequestRedraw starts a redraw of i. A redraw already in flight for i is
// aborted and its response discarded.
func (i *Instance) RequestRedraw(ctx context.Context) *Pending {
	r := i.rt
	if i.inflight != nil {
		i.inflight.abort()
	}
	rctx, cancel := context.WithCancel(ctx)
	p := &Pending{inst: i, ctx: ctx, cancel: cancel}
	if i.destroyed {
		cancel()
		p.finish(nil)
		return p
	}
	i.inflight = p
	i.state = StateRequesting
	i.ready = false

	attrs := value.Merge(i.local)
	attrs[r.markers.ID] = i.id
	req := protocol.RenderRequest{Component: i.name, Attributes: attrs, Unwrap: true}
	endpoint := r.cfg.Endpoint
	transport := r.transport

	r.pending++
	go func() {
		resp, err := transport.Render(rctx, endpoint, req)
		r.post(func() {
			r.pending--
			i.completeRedraw(p, resp, err)
		})
	}()
	return p
}

func (i *Instance) completeRedraw(p *Pending, resp *protocol.RenderResponse, err error) {
	r := i.rt
	defer p.cancel()

	if p.aborted || i.inflight != p || i.destroyed {
		p.finish(nil)
		return
	}
	i.inflight = nil

	switch {
	case err != nil && isAbort(err):
		i.settle()
		p.finish(nil)
		return
	case err != nil:
		r.logger.Warn(p.ctx, err, "Redraw failed", "component", i.name, "id", i.id)
		i.settle()
		p.finish(err)
		return
	case resp == nil:
		i.settle()
		p.finish(nil)
		return
	}

	frag, err := markup.Parse(resp.HTML)
	if err != nil {
		herr, ok := errors.As(err)
		if ok {
			err = herr.WithComponent(i.name)
		}
		r.logger.Warn(p.ctx, err, "Redraw response is not valid markup", "component", i.name, "id", i.id)
		i.settle()
		p.finish(err)
		return
	}

	i.state = StateApplying
	captured := i.capture()
	for _, c := range i.children {
		c.teardown(false)
	}
	i.children = nil
	i.node.ReplaceChildren(frag.Children()...)
	r.RegisterInitializers(resp.Initializers)
	for k, v := range resp.Data {
		i.local[k] = v
	}

	r.mount(p.ctx, i, true, true)
	i.reattach(captured)

	p.applied = true
	p.finish(nil)
	for _, fn := range i.redrawHooks {
		fn(i)
	}
}

// settle returns an instance to idle after a discarded or failed redraw.
func (i *Instance) settle() {
	i.state = StateIdle
	i.ready = true
}

// capture detaches the subscriptions on every descendant instance that are
// owned by something outside the descendants, keyed by instance id.
func (i *Instance) capture() map[string][]*store.Subscription {
	inside := make(map[any]bool)
	var descendants []*Instance
	for _, c := range i.children {
		for _, d := range c.subtree() {
			inside[d] = true
			descendants = append(descendants, d)
		}
	}

	out := make(map[string][]*store.Subscription)
	for _, d := range descendants {
		for _, sub := range i.rt.store.Subscriptions(d.id) {
			if sub.Owner != nil && inside[sub.Owner] {
				continue
			}
			sub.Unsubscribe()
			out[d.id] = append(out[d.id], sub)
		}
	}
	return out
}

// reattach restores captured subscriptions onto the new descendants with a
// matching id. Subscriptions whose id did not come back are dropped.
func (i *Instance) reattach(captured map[string][]*store.Subscription) {
	present := make(map[string]bool)
	for _, c := range i.children {
		for _, d := range c.subtree() {
			present[d.id] = true
		}
	}
	for id, subs := range captured {
		if !present[id] {
			continue
		}
		for _, sub := range subs {
			i.rt.store.Attach(sub)
		}
	}
}

// Add fetches a fresh render of component, appends it under target (the
// instance root when nil) and mounts it as a child of i.
func (i *Instance) Add(ctx context.Context, component string, attrs map[string]any, target *markup.Node) (*Instance, error) {
	if target == nil {
		target = i.node
	}
	r := i.rt
	rctx, cancel := context.WithCancel(ctx)
	p := &Pending{inst: i, ctx: ctx, cancel: cancel}
	req := protocol.RenderRequest{Component: component, Attributes: attrs}
	endpoint := r.cfg.Endpoint
	transport := r.transport

	r.pending++
	go func() {
		resp, err := transport.Render(rctx, endpoint, req)
		r.post(func() {
			r.pending--
			i.completeAdd(p, resp, err, target)
		})
	}()

	if err := r.Await(ctx, p); err != nil {
		return nil, err
	}
	return p.added, nil
}

func (i *Instance) completeAdd(p *Pending, resp *protocol.RenderResponse, err error, target *markup.Node) {
	r := i.rt
	defer p.cancel()

	switch {
	case err != nil:
		p.finish(err)
		return
	case resp == nil:
		p.finish(errors.NewNetworkError(errors.ErrCodeBadResponse, "empty render response", nil))
		return
	case i.destroyed:
		p.finish(nil)
		return
	}

	frag, err := markup.Parse(resp.HTML)
	if err != nil {
		p.finish(err)
		return
	}
	r.RegisterInitializers(resp.Initializers)

	nodes := r.markerChildren(frag)
	for _, c := range frag.Children() {
		target.AppendChild(c)
	}
	for _, node := range nodes {
		child := r.newInstance(node, i)
		i.children = append(i.children, child)
		r.mount(p.ctx, child, false, false)
		if p.added == nil {
			p.added = child
		}
	}
	p.applied = true
	p.finish(nil)
}

func isAbort(err error) bool {
	return stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)
}
