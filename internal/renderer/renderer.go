// Package renderer resolves component markup on the server. A render walks
// the component index of each filled template, merging inherited, attribute
// and provided data, and writes the computed data back onto the output as
// encoded attributes the client runtime can hydrate from.
package renderer

import (
	"context"
	"fmt"
	"time"

	"github.com/conneroisu/hydra/internal/codec"
	"github.com/conneroisu/hydra/internal/errors"
	"github.com/conneroisu/hydra/internal/logging"
	"github.com/conneroisu/hydra/internal/markup"
	"github.com/conneroisu/hydra/internal/metrics"
	"github.com/conneroisu/hydra/internal/protocol"
	"github.com/conneroisu/hydra/internal/registry"
	"github.com/conneroisu/hydra/internal/validation"
	"github.com/conneroisu/hydra/internal/value"
)

// Pipeline renders components from a registry source.
type Pipeline struct {
	source   registry.Source
	compiler Compiler
	markers  protocol.Markers
	logger   logging.Logger
	metrics  *metrics.Metrics
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithCompiler replaces the default TemplateCompiler.
func WithCompiler(c Compiler) Option {
	return func(p *Pipeline) { p.compiler = c }
}

// WithMarker sets the component marker attribute.
func WithMarker(marker string) Option {
	return func(p *Pipeline) { p.markers = protocol.MarkersFor(marker) }
}

// WithLogger sets the pipeline logger.
func WithLogger(l logging.Logger) Option {
	return func(p *Pipeline) { p.logger = l.WithComponent("renderer") }
}

// WithMetrics records render timings and counts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New creates a pipeline over source.
func New(source registry.Source, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:   source,
		compiler: NewTemplateCompiler(),
		markers:  protocol.MarkersFor(protocol.DefaultMarker),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Markers returns the attribute names the pipeline writes.
func (p *Pipeline) Markers() protocol.Markers { return p.markers }

// Result is a finished render.
type Result struct {
	Node *markup.Node
	// Data is the computed data of the root component.
	Data map[string]any
	// Initializers maps every rendered component name to its initializer.
	Initializers map[string]string
}

// Render renders the named component. An unknown name yields (nil, nil).
// attributes are the component's own attributes; the reserved key
// `<marker>-id` pins the root instance id.
func (p *Pipeline) Render(ctx context.Context, name string, attributes, data map[string]any) (*markup.Node, error) {
	res, err := p.render(ctx, name, attributes, data, false)
	if err != nil || res == nil {
		return nil, err
	}
	return res.Node, nil
}

// Handle serves one render endpoint request.
func (p *Pipeline) Handle(ctx context.Context, req protocol.RenderRequest) (*protocol.RenderResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, errors.NewRenderError(errors.ErrCodeInvalidRequest, err.Error())
	}
	res, err := p.render(ctx, req.Component, req.Attributes, req.Data, req.Unwrap)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, errors.ErrComponentNotFound(req.Component)
	}

	data, err := value.NormalizeMap(res.Data)
	if err != nil {
		return nil, errors.NewTemplateError(req.Component, fmt.Errorf("computed data: %w", err))
	}
	html := res.Node.OuterHTML()
	if req.Unwrap {
		html = res.Node.InnerHTML()
	}
	return &protocol.RenderResponse{HTML: html, Initializers: res.Initializers, Data: data}, nil
}

// PageResult is a rendered page.
type PageResult struct {
	Root         *markup.Node
	HTML         string
	Initializers map[string]string
}

// RenderPage parses page markup and renders its top-level components
// against data.
func (p *Pipeline) RenderPage(ctx context.Context, src string, data map[string]any) (*PageResult, error) {
	start := time.Now()
	root, err := markup.Parse(src)
	if err != nil {
		p.metrics.IncrementRenderError(errorType(err))
		return nil, err
	}
	st := p.newState(false)
	if err := st.children(ctx, root, root, "", data, nil); err != nil {
		p.metrics.IncrementRenderError(errorType(err))
		return nil, err
	}
	markHidden(root)
	p.metrics.ObserveRender("page", start)
	return &PageResult{Root: root, HTML: root.InnerHTML(), Initializers: st.initializers}, nil
}

func (p *Pipeline) render(ctx context.Context, name string, attributes, data map[string]any, unwrap bool) (*Result, error) {
	start := time.Now()
	d, ok := p.source.Get(name)
	if !ok {
		p.unknown(ctx, name)
		return nil, nil
	}

	st := p.newState(unwrap)
	f := p.rootFrame(attributes, data)
	node, computed, err := st.instance(ctx, d, f)
	if err != nil {
		p.metrics.IncrementRenderError(errorType(err))
		p.logger.Debug(ctx, "Render failed", "component", name, "error", err)
		return nil, err
	}
	markHidden(node)
	p.metrics.ObserveRender(name, start)
	return &Result{Node: node, Data: computed, Initializers: st.initializers}, nil
}

func (p *Pipeline) unknown(ctx context.Context, tag string) {
	p.metrics.IncrementUnknown(tag)
	p.logger.Debug(ctx, "No component registered for tag", "tag", tag)
}

// frame is everything an instance render needs from its call site.
type frame struct {
	use        string
	attrs      map[string]any
	verbatim   []markup.Attribute
	hashAttrs  [][2]string
	explicitID string
	pinnedID   string
	parentID   string
	path       string
	parentData map[string]any
	callerData map[string]any
	ancestors  []*markup.Node
	root       bool
}

func (p *Pipeline) rootFrame(attributes, data map[string]any) frame {
	f := frame{attrs: make(map[string]any), parentData: data, callerData: data, root: true}
	for _, k := range value.SortedKeys(attributes) {
		v := attributes[k]
		switch k {
		case p.markers.Component, p.markers.Deferred:
			continue
		case p.markers.ID:
			f.pinnedID = value.Format(v)
			continue
		case protocol.AttrUse:
			f.use = value.Format(v)
		case protocol.AttrID:
			f.explicitID = value.Format(v)
		}
		f.hashAttrs = append(f.hashAttrs, [2]string{k, value.Format(v)})

		if a, ok := verbatimAttr(k, v); ok {
			f.verbatim = append(f.verbatim, a)
		}
		if !p.markers.Reserved(k) {
			f.attrs[k] = v
		}
	}
	return f
}

// verbatimAttr turns a scalar request attribute into the attribute a tag
// would have carried. Objects, arrays, null, false, data-* names and names
// that are not valid attribute names are not written.
func verbatimAttr(name string, v any) (markup.Attribute, bool) {
	if codec.IsDataAttribute(name) || validation.ValidateAttributeName(name) != nil {
		return markup.Attribute{}, false
	}
	switch value.KindOf(v) {
	case value.Bool:
		if value.Truthy(v) {
			return markup.Attribute{Name: name, Flag: true}, true
		}
	case value.String, value.Number:
		return markup.Attribute{Name: name, Value: value.Format(v)}, true
	}
	return markup.Attribute{}, false
}

func (p *Pipeline) tagFrame(tag *markup.Node) frame {
	f := frame{attrs: make(map[string]any)}
	for _, a := range tag.Attrs() {
		switch a.Name {
		case p.markers.Component, p.markers.ID, p.markers.Deferred:
			continue
		case protocol.AttrUse:
			f.use = a.Value
		case protocol.AttrID:
			f.explicitID = a.Value
		}
		f.hashAttrs = append(f.hashAttrs, [2]string{a.Name, a.Value})

		switch {
		case p.markers.Reserved(a.Name):
			f.verbatim = append(f.verbatim, a)
		case codec.IsDataAttribute(a.Name):
			pair, _ := codec.DecodeAttribute(a.Name, a.Value)
			f.attrs[pair.Key] = pair.Value
		default:
			f.verbatim = append(f.verbatim, a)
			if a.Flag {
				f.attrs[a.Name] = true
			} else {
				f.attrs[a.Name] = a.Value
			}
		}
	}
	return f
}

type state struct {
	p            *Pipeline
	ids          *identity
	initializers map[string]string
	unwrapRoot   bool
}

func (p *Pipeline) newState(unwrap bool) *state {
	return &state{
		p:            p,
		ids:          newIdentity(p.logger),
		initializers: make(map[string]string),
		unwrapRoot:   unwrap,
	}
}

func (st *state) instance(ctx context.Context, d *registry.Descriptor, f frame) (*markup.Node, map[string]any, error) {
	p := st.p
	out := markup.NewElement(d.RenderTag())
	for _, a := range f.verbatim {
		if a.Flag {
			out.SetFlag(a.Name)
		} else {
			out.SetAttr(a.Name, a.Value)
		}
	}
	out.SetAttr(p.markers.Component, d.Name)
	for _, kv := range d.FixedAttributes() {
		out.SetAttr(kv[0], kv[1])
	}

	id := f.pinnedID
	if id != "" {
		st.ids.reserve(id)
	} else {
		id = st.ids.allocate(ctx, d.Name, f.explicitID, f.parentID, f.path, f.hashAttrs, f.ancestors)
	}
	out.SetAttr(p.markers.ID, id)

	if d.Initializer != "" {
		st.initializers[d.Name] = d.Initializer
	}
	p.metrics.IncrementComponent(d.Name)

	inherited, err := Inherit(f.use, f.parentData)
	if err != nil {
		return nil, nil, errors.NewTemplateError(d.Name, err)
	}
	own := value.Merge(inherited, f.attrs)

	if !(f.root && st.unwrapRoot) && d.IsDeferred(own) {
		out.SetFlag(p.markers.Deferred)
		if err := export(out, own); err != nil {
			return nil, nil, errors.NewTemplateError(d.Name, err)
		}
		return out, own, nil
	}

	merged := value.Merge(inherited, f.attrs, f.callerData)
	computed := merged
	if d.Provider != nil {
		provided, err := d.Provider(ctx, registry.ProviderInput{
			Component:  d.Name,
			Inherited:  inherited,
			Attributes: f.attrs,
			Data:       f.callerData,
			Merged:     merged,
		})
		if err != nil {
			return nil, nil, errors.NewProviderError(d.Name, err)
		}
		computed = value.Merge(merged, provided)
	}

	html, err := p.compiler.Compile(ctx, d, computed)
	if err != nil {
		if herr, ok := errors.As(err); ok {
			return nil, nil, herr.WithComponent(d.Name)
		}
		return nil, nil, errors.NewTemplateError(d.Name, err)
	}
	if err := out.SetInnerHTML(html); err != nil {
		if herr, ok := errors.As(err); ok {
			return nil, nil, herr.WithComponent(d.Name).WithLocation(d.Source, herr.Line, herr.Column)
		}
		return nil, nil, err
	}

	if err := export(out, d.Export.Select(computed)); err != nil {
		return nil, nil, errors.NewTemplateError(d.Name, err)
	}

	ancestors := append(append([]*markup.Node(nil), f.ancestors...), out)
	if err := st.children(ctx, out, out, id, computed, ancestors); err != nil {
		return nil, nil, err
	}
	return out, computed, nil
}

// children renders the component index of scope. Unregistered tags pass
// through untouched and their own components render as if they sat
// directly in container.
func (st *state) children(ctx context.Context, container, scope *markup.Node, parentID string, data map[string]any, ancestors []*markup.Node) error {
	for _, tag := range scope.ComponentChildren() {
		d, ok := st.p.source.Get(tag.Tag)
		if !ok {
			st.p.unknown(ctx, tag.Tag)
			if err := st.children(ctx, container, tag, parentID, data, ancestors); err != nil {
				return err
			}
			continue
		}

		f := st.p.tagFrame(tag)
		f.parentID = parentID
		f.path = localPath(container, tag)
		f.parentData = data
		f.ancestors = ancestors

		rendered, _, err := st.instance(ctx, d, f)
		if err != nil {
			return err
		}
		if parent := tag.Parent(); parent != nil {
			parent.ReplaceChild(rendered, tag)
		}
	}
	return nil
}

// Inherit resolves a comma-separated `use` list against data. Each path
// lands under its last name segment, or under its raw text when it ends in
// an index. A lone path ending in an index yields the bare value: objects
// are merged in, anything else lands under "value".
func Inherit(use string, data map[string]any) (map[string]any, error) {
	out := make(map[string]any)
	if use == "" {
		return out, nil
	}
	paths, err := value.ParseList(use)
	if err != nil {
		return nil, fmt.Errorf("use %q: %w", use, err)
	}
	root := any(data)
	if len(paths) == 1 && paths[0].EndsInIndex() {
		v, ok := paths[0].Lookup(root)
		if !ok {
			return out, nil
		}
		if m, isMap := v.(map[string]any); isMap {
			for k, x := range m {
				out[k] = x
			}
			return out, nil
		}
		out["value"] = v
		return out, nil
	}
	for _, path := range paths {
		if v, ok := path.Lookup(root); ok {
			out[path.Key()] = v
		}
	}
	return out, nil
}

func export(n *markup.Node, data map[string]any) error {
	attrs, _, err := codec.EncodeMap(data)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	for _, kv := range attrs {
		n.SetAttr(kv[0], kv[1])
	}
	return nil
}

func markHidden(root *markup.Node) {
	if root == nil {
		return
	}
	root.Walk(func(n *markup.Node) bool {
		if n.IsElement() && n.HasAttr(protocol.AttrIf) {
			n.SetFlag(protocol.AttrHidden)
		}
		return true
	})
}

func errorType(err error) string {
	if herr, ok := errors.As(err); ok {
		return string(herr.Type)
	}
	return "internal"
}
