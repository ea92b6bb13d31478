package client

import (
	"context"
	"strings"

	"github.com/conneroisu/hydra/internal/codec"
	"github.com/conneroisu/hydra/internal/markup"
	"github.com/conneroisu/hydra/internal/protocol"
	"github.com/conneroisu/hydra/internal/store"
)

type bindingKind int

const (
	bindIf bindingKind = iota
	bindClass
)

// binding ties a condition to a node's visibility or to one class.
type binding struct {
	kind      bindingKind
	node      *markup.Node
	class     string
	cond      *Condition
	last      bool
	evaluated bool
}

// mount runs the mount procedure on inst. Children are mounted, and ready,
// before inst. keepLocal skips decoding the data attributes, for a redraw
// root whose local data was refreshed from the response.
func (r *Runtime) mount(ctx context.Context, inst *Instance, redraw, keepLocal bool) {
	inst.children = nil
	inst.refs = make(map[string]any)
	inst.arrayRefs = make(map[string][]any)
	inst.bindings = nil
	inst.models = nil
	inst.ready = false
	r.pruneListeners(inst, false)

	if !keepLocal {
		inst.local = r.decodeData(inst.node)
	}
	for k, v := range inst.local {
		r.store.Set(inst.id, k, v)
	}

	for _, node := range r.markerChildren(inst.node) {
		child := r.newInstance(node, inst)
		inst.children = append(inst.children, child)
		r.mount(ctx, child, redraw, false)
	}

	r.bind(inst)

	if !inst.initialized {
		inst.initialized = true
		if fn, ok := r.initializers[inst.name]; ok {
			err := fn(InitContext{Context: ctx, Instance: inst, Net: r.transport, Redraw: redraw})
			if err != nil {
				r.logger.Error(ctx, err, "Initializer failed", "component", inst.name, "id", inst.id)
			}
		}
	}

	inst.evaluate(false)
	if inst.watch == nil {
		inst.watch = r.store.Subscribe(inst.id, store.Wildcard, inst, func(store.Change) {
			if inst.destroyed {
				return
			}
			inst.evaluate(true)
		})
	}

	r.readySeq++
	inst.readySeq = r.readySeq
	inst.ready = true
	inst.state = StateIdle

	if inst.node.HasAttr(r.markers.Deferred) {
		inst.node.RemoveAttr(r.markers.Deferred)
		inst.RequestRedraw(ctx)
	}
}

// decodeData reads the data attributes of node into a map.
func (r *Runtime) decodeData(node *markup.Node) map[string]any {
	out := make(map[string]any)
	for _, a := range node.Attrs() {
		if r.markers.Reserved(a.Name) || a.Flag {
			continue
		}
		if pair, ok := codec.DecodeAttribute(a.Name, a.Value); ok {
			out[pair.Key] = pair.Value
		}
	}
	return out
}

// scope returns the nodes whose bindings belong to inst: its descendants,
// stopping at child component roots, which are included. A top-level
// instance also owns the bindings on its own root.
func (r *Runtime) scope(inst *Instance) []*markup.Node {
	var out []*markup.Node
	if inst.parent == nil {
		out = append(out, inst.node)
	}
	for _, c := range inst.node.Children() {
		c.Walk(func(x *markup.Node) bool {
			if !x.IsElement() {
				return false
			}
			out = append(out, x)
			return !x.HasAttr(r.markers.Component)
		})
	}
	return out
}

func (r *Runtime) bind(inst *Instance) {
	for _, node := range r.scope(inst) {
		child := r.instances[node]
		if child == inst {
			child = nil
		}

		if name, ok := node.Attr(protocol.AttrRef); ok && name != "" {
			if child != nil {
				inst.refs[name] = child
			} else {
				inst.refs[name] = node
			}
		}
		if name, ok := node.Attr(protocol.AttrArrayRef); ok && name != "" {
			if child != nil {
				inst.arrayRefs[name] = append(inst.arrayRefs[name], child)
			} else {
				inst.arrayRefs[name] = append(inst.arrayRefs[name], node)
			}
		}

		for _, a := range node.Attrs() {
			switch {
			case a.Name == protocol.AttrIf:
				inst.bindings = append(inst.bindings, r.newBinding(inst, bindIf, node, "", a.Value))
			case strings.HasPrefix(a.Name, protocol.AttrClassName) && len(a.Name) > len(protocol.AttrClassName):
				class := a.Name[len(protocol.AttrClassName):]
				inst.bindings = append(inst.bindings, r.newBinding(inst, bindClass, node, class, a.Value))
			}
		}

		if child == nil && node.HasAttr(protocol.AttrModel) {
			m, err := newModel(inst, node)
			if err != nil {
				r.logger.Error(r.ctx(), err, "Invalid model binding", "component", inst.name, "node", node.Tag)
				continue
			}
			inst.models = append(inst.models, m)
		}
	}
}

func (r *Runtime) newBinding(inst *Instance, kind bindingKind, node *markup.Node, class, expr string) *binding {
	cond, err := ParseCondition(expr)
	if err != nil {
		r.logger.Error(r.ctx(), err, "Unresolvable condition", "component", inst.name, "expr", expr)
	}
	return &binding{kind: kind, node: node, class: class, cond: cond}
}

// evaluate re-runs every binding and syncs models from the store.
func (i *Instance) evaluate(transitions bool) {
	for _, b := range i.bindings {
		result := i.test(b.cond)
		changed := !b.evaluated || result != b.last
		b.last, b.evaluated = result, true
		switch b.kind {
		case bindIf:
			if result {
				b.node.RemoveAttr(protocol.AttrHidden)
			} else {
				b.node.SetFlag(protocol.AttrHidden)
			}
			if transitions && changed && i.rt.transition != nil {
				i.rt.transition(b.node, result)
			}
		case bindClass:
			if result {
				b.node.AddClass(b.class)
			} else {
				b.node.RemoveClass(b.class)
			}
		}
	}
	for _, m := range i.models {
		m.sync()
	}
}

// test evaluates a condition against the instance store.
func (i *Instance) test(c *Condition) bool {
	if c == nil {
		return false
	}
	result, missing := c.Eval(i.Lookup, func(name string, args []any) (bool, bool) {
		fn, ok := i.rt.predicates[name]
		if !ok {
			return false, false
		}
		return fn(i, args), true
	})
	if missing {
		i.rt.logger.Warn(i.rt.ctx(), nil, "Predicate not registered", "component", i.name, "predicate", c.name)
	}
	return result
}
