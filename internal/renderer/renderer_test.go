package renderer

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/hydra/internal/codec"
	"github.com/conneroisu/hydra/internal/errors"
	"github.com/conneroisu/hydra/internal/markup"
	"github.com/conneroisu/hydra/internal/metrics"
	"github.com/conneroisu/hydra/internal/protocol"
	"github.com/conneroisu/hydra/internal/registry"
)

func newPipeline(t *testing.T, ds ...registry.Descriptor) *Pipeline {
	t.Helper()
	b := registry.NewBuilder()
	for _, d := range ds {
		require.NoError(t, b.Register(d))
	}
	return New(b.Build())
}

func decoded(t *testing.T, n *markup.Node, key string) any {
	t.Helper()
	raw, ok := n.Attr(codec.AttributeName(key))
	require.True(t, ok, "missing data-%s on %s", key, n.OuterHTML())
	return codec.Decode(codec.AttributeName(key), raw).Value
}

func components(root *markup.Node, name string) []*markup.Node {
	return root.FindAll(func(n *markup.Node) bool {
		return n.AttrOr(protocol.DefaultMarker, "") == name
	})
}

func TestRenderGreetingExport(t *testing.T) {
	p := newPipeline(t, registry.Descriptor{Name: "Greeting", Template: "<p>Hello {{.name}}</p>"})

	page, err := p.RenderPage(context.Background(), `<Greeting name="Ann"/>`, nil)
	require.NoError(t, err)

	id := shortHash("Greeting", "", "0", "name=Ann")
	want := `<div name="Ann" data-component="Greeting" data-component-id="` + id +
		`" data-name="` + codec.MustEncode("name", "Ann") + `"><p>Hello Ann</p></div>`
	assert.Equal(t, want, page.HTML)

	greeting := page.Root.FirstChild()
	assert.Equal(t, "Ann", decoded(t, greeting, "name"))
}

func TestRenderUseInheritance(t *testing.T) {
	p := newPipeline(t,
		registry.Descriptor{
			Name:     "Profile",
			Template: `<section><UserAge use="user.name,user.age"/></section>`,
			Export:   registry.ExportPolicy{Mode: registry.ExportNone},
			Provider: func(ctx context.Context, in registry.ProviderInput) (map[string]any, error) {
				return map[string]any{"user": map[string]any{"name": "Ann", "age": 30}}, nil
			},
		},
		registry.Descriptor{Name: "UserAge", Tag: "span", Template: "{{.name}} is {{.age}}"},
	)

	node, err := p.Render(context.Background(), "Profile", nil, nil)
	require.NoError(t, err)
	require.NotNil(t, node)

	assert.False(t, node.HasAttr("data-user"), "export none")
	ages := components(node, "UserAge")
	require.Len(t, ages, 1)
	child := ages[0]
	assert.Equal(t, "span", child.Tag)
	assert.Equal(t, "Ann is 30", child.TextContent())
	assert.Equal(t, "Ann", decoded(t, child, "name"))
	assert.Equal(t, float64(30), decoded(t, child, "age"))
	assert.Equal(t, "user.name,user.age", child.AttrOr("use", ""))
}

func TestInherit(t *testing.T) {
	data := map[string]any{
		"user":  map[string]any{"name": "Ann", "tags": []any{"a", "b"}},
		"items": []any{map[string]any{"x": 1}, "two"},
	}

	tests := []struct {
		use  string
		want map[string]any
	}{
		{"", map[string]any{}},
		{"user.name", map[string]any{"name": "Ann"}},
		{"user.name, missing", map[string]any{"name": "Ann"}},
		{"items[0]", map[string]any{"x": float64(1)}},
		{"items[1]", map[string]any{"value": "two"}},
		{"items[1],user.name", map[string]any{"items[1]": "two", "name": "Ann"}},
		{"user.tags[1]", map[string]any{"value": "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.use, func(t *testing.T) {
			got, err := Inherit(tt.use, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Inherit("a..b", data)
	assert.Error(t, err)
}

func TestRenderErrors(t *testing.T) {
	boom := stderrors.New("boom")
	p := newPipeline(t,
		registry.Descriptor{
			Name:     "Failing",
			Template: "<p></p>",
			Provider: func(ctx context.Context, in registry.ProviderInput) (map[string]any, error) {
				return nil, boom
			},
		},
		registry.Descriptor{Name: "Outer", Template: "<div><Failing/></div>"},
		registry.Descriptor{Name: "BadTemplate", Template: "{{.x"},
		registry.Descriptor{Name: "BadExec", Template: "{{template \"nope\"}}"},
		registry.Descriptor{Name: "Mismatch", Template: "<div><span></div>"},
		registry.Descriptor{Name: "BadUse", Template: "<Failing use=\"a..b\"/>"},
	)
	ctx := context.Background()

	t.Run("provider", func(t *testing.T) {
		_, err := p.Render(ctx, "Outer", nil, nil)
		require.Error(t, err)
		assert.True(t, errors.IsProvider(err))
		assert.ErrorIs(t, err, boom)
		herr, ok := errors.As(err)
		require.True(t, ok)
		assert.Equal(t, "Failing", herr.Component)
	})

	t.Run("template parse", func(t *testing.T) {
		_, err := p.Render(ctx, "BadTemplate", nil, nil)
		assert.True(t, errors.IsTemplate(err))
	})

	t.Run("template exec", func(t *testing.T) {
		_, err := p.Render(ctx, "BadExec", nil, nil)
		assert.True(t, errors.IsTemplate(err))
	})

	t.Run("markup mismatch", func(t *testing.T) {
		_, err := p.Render(ctx, "Mismatch", nil, nil)
		require.True(t, errors.IsParse(err))
		herr, _ := errors.As(err)
		assert.Equal(t, "Mismatch", herr.Component)
		assert.Contains(t, herr.Message, "</div>")
		assert.Contains(t, herr.Message, "</span>")
	})

	t.Run("bad use path", func(t *testing.T) {
		_, err := p.Render(ctx, "BadUse", nil, nil)
		assert.True(t, errors.IsTemplate(err))
	})
}

func TestRenderUnknown(t *testing.T) {
	m := metrics.New()
	b := registry.NewBuilder().MustRegister(registry.Descriptor{Name: "Greeting", Template: "<b>{{.name}}</b>"})
	p := New(b.Build(), WithMetrics(m))
	ctx := context.Background()

	node, err := p.Render(ctx, "Missing", nil, nil)
	assert.NoError(t, err)
	assert.Nil(t, node)

	_, err = p.Handle(ctx, protocol.RenderRequest{Component: "Missing"})
	assert.True(t, errors.IsNotFound(err))

	page, err := p.RenderPage(ctx, `<Widget size="2"><Greeting name="x"/></Widget>`, nil)
	require.NoError(t, err)
	widget := page.Root.FirstChild()
	assert.Equal(t, "Widget", widget.Tag)
	assert.Equal(t, "2", widget.AttrOr("size", ""))
	require.Len(t, components(page.Root, "Greeting"), 1)
	assert.Equal(t, "x", components(page.Root, "Greeting")[0].TextContent())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.UnknownTotal.WithLabelValues("Missing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UnknownTotal.WithLabelValues("Widget")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ComponentsTotal.WithLabelValues("Greeting")))
}

func TestRenderDeferred(t *testing.T) {
	p := newPipeline(t,
		registry.Descriptor{
			Name:        "Slow",
			Template:    "<p>{{.n}} loaded</p>",
			Initializer: "slow",
			Deferred:    registry.Always,
		},
		registry.Descriptor{Name: "Host", Template: `<Slow data-n="7"/>`},
	)
	ctx := context.Background()

	node, err := p.Render(ctx, "Host", nil, nil)
	require.NoError(t, err)
	slow := components(node, "Slow")
	require.Len(t, slow, 1)
	assert.True(t, slow[0].HasAttr("data-component-deferred"))
	assert.Empty(t, slow[0].Children())
	assert.Equal(t, "7", decoded(t, slow[0], "n"))

	resp, err := p.Handle(ctx, protocol.RenderRequest{
		Component:  "Slow",
		Attributes: map[string]any{"n": "7"},
		Unwrap:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, "<p>7 loaded</p>", resp.HTML)
	assert.Equal(t, "slow", resp.Initializers["Slow"])
	assert.Equal(t, "7", resp.Data["n"])

	resp, err = p.Handle(ctx, protocol.RenderRequest{Component: "Slow"})
	require.NoError(t, err)
	root := markup.MustParse(resp.HTML).FirstChild()
	assert.True(t, root.HasAttr("data-component-deferred"), "only the unwrap root renders eagerly")
}

func TestRenderIdentity(t *testing.T) {
	p := newPipeline(t,
		registry.Descriptor{Name: "Item", Tag: "li", Template: "{{.label}}"},
		registry.Descriptor{Name: "List", Tag: "ul", Template: `<Item label="a"/><Item label="a"/><Item id="x"/><Item id="x"/>`},
	)
	ctx := context.Background()

	ids := func() []string {
		node, err := p.Render(ctx, "List", nil, nil)
		require.NoError(t, err)
		var out []string
		for _, item := range components(node, "Item") {
			out = append(out, item.AttrOr("data-component-id", ""))
		}
		return out
	}

	first := ids()
	require.Len(t, first, 4)
	seen := map[string]bool{}
	for _, id := range first {
		assert.Len(t, id, idLength)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Equal(t, first, ids(), "ids are stable across renders")
}

func TestRenderPinnedID(t *testing.T) {
	p := newPipeline(t,
		registry.Descriptor{Name: "Child", Template: "c"},
		registry.Descriptor{Name: "Parent", Template: "<Child/>"},
	)
	ctx := context.Background()

	page, err := p.RenderPage(ctx, "<Parent/>", nil)
	require.NoError(t, err)
	parent := components(page.Root, "Parent")[0]
	child := components(page.Root, "Child")[0]

	resp, err := p.Handle(ctx, protocol.RenderRequest{
		Component:  "Parent",
		Attributes: map[string]any{"data-component-id": parent.AttrOr("data-component-id", "")},
		Unwrap:     true,
	})
	require.NoError(t, err)
	redrawn := components(markup.MustParse(resp.HTML), "Child")
	require.Len(t, redrawn, 1)
	assert.Equal(t, child.AttrOr("data-component-id", ""), redrawn[0].AttrOr("data-component-id", ""))
}

func TestRenderConditionalsHidden(t *testing.T) {
	p := newPipeline(t, registry.Descriptor{
		Name:     "Toggle",
		Template: `<p data-if="open">shown</p><span>always</span>`,
	})

	resp, err := p.Handle(context.Background(), protocol.RenderRequest{Component: "Toggle", Unwrap: true})
	require.NoError(t, err)
	assert.Equal(t, `<p data-if="open" hidden>shown</p><span>always</span>`, resp.HTML)
}

func TestRenderExportPolicyAndFixedAttributes(t *testing.T) {
	p := newPipeline(t, registry.Descriptor{
		Name:       "Card",
		Tag:        "article",
		Template:   "{{.title}}",
		Export:     registry.ParseExport("title"),
		Attributes: map[string]string{"role": "note"},
	})

	node, err := p.Render(context.Background(), "Card", map[string]any{"title": "T", "secret": "s"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "article", node.Tag)
	assert.Equal(t, "note", node.AttrOr("role", ""))
	assert.Equal(t, "T", decoded(t, node, "title"))
	assert.False(t, node.HasAttr("data-secret"))
}

func TestRenderProviderInput(t *testing.T) {
	var got registry.ProviderInput
	p := newPipeline(t,
		registry.Descriptor{
			Name:     "Inner",
			Template: "{{.total}}",
			Provider: func(ctx context.Context, in registry.ProviderInput) (map[string]any, error) {
				got = in
				return map[string]any{"total": 3}, nil
			},
		},
		registry.Descriptor{Name: "Outer", Template: `<Inner use="count" boolean:data-on="1" flag/>`},
	)

	node, err := p.Render(context.Background(), "Outer", map[string]any{"count": 2}, map[string]any{"page": "home"})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"count": float64(2)}, got.Inherited)
	assert.Equal(t, map[string]any{"on": true, "flag": true}, got.Attributes)
	assert.Nil(t, got.Data)
	assert.Equal(t, "3", components(node, "Inner")[0].TextContent())
	assert.True(t, components(node, "Inner")[0].HasAttr("flag"))
}

func TestHandleResponse(t *testing.T) {
	p := newPipeline(t, registry.Descriptor{
		Name:        "Counter",
		Template:    "<b>{{.count}}</b>",
		Initializer: "counter-module",
	})
	ctx := context.Background()

	resp, err := p.Handle(ctx, protocol.RenderRequest{Component: "Counter", Attributes: map[string]any{"count": 1}})
	require.NoError(t, err)
	root := markup.MustParse(resp.HTML).FirstChild()
	assert.Equal(t, "Counter", root.AttrOr("data-component", ""))
	assert.Equal(t, "<b>1</b>", root.InnerHTML())
	assert.Equal(t, map[string]string{"Counter": "counter-module"}, resp.Initializers)
	assert.Equal(t, map[string]any{"count": float64(1)}, resp.Data)

	_, err = p.Handle(ctx, protocol.RenderRequest{})
	herr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeInvalidRequest, herr.Code)
}

func TestRenderPageParseError(t *testing.T) {
	p := newPipeline(t)
	_, err := p.RenderPage(context.Background(), "<div><span></div>", nil)
	assert.True(t, errors.IsParse(err))
}

func TestHandleRootAttributes(t *testing.T) {
	p := newPipeline(t, registry.Descriptor{Name: "Greeting", Template: "<p>Hello {{.name}}</p>"})

	resp, err := p.Handle(context.Background(), protocol.RenderRequest{
		Component: "Greeting",
		Attributes: map[string]any{
			"class":  "wide",
			"name":   "Ann",
			"open":   true,
			"closed": false,
			"meta":   map[string]any{"a": 1},
		},
	})
	require.NoError(t, err)

	root := markup.MustParse(resp.HTML).FirstChild()
	assert.Equal(t, "wide", root.AttrOr("class", ""))
	assert.Equal(t, "Ann", root.AttrOr("name", ""))
	assert.True(t, root.HasAttr("open"))
	assert.False(t, root.HasAttr("closed"))
	assert.False(t, root.HasAttr("meta"))
	assert.Equal(t, "Hello Ann", root.TextContent())
	assert.Equal(t, "Ann", decoded(t, root, "name"))
}

func TestRenderEscapesMetacharacters(t *testing.T) {
	p := newPipeline(t,
		registry.Descriptor{Name: "Echo", Template: "<span>{{.q}}</span>"},
		registry.Descriptor{Name: "Search", Template: `<p>{{.q}}</p><Echo q="{{.q}}"/>`},
	)

	tests := []struct {
		name string
		q    string
	}{
		{"less than", "a < b"},
		{"greater than", "b > a"},
		{"ampersand", "salt & pepper"},
		{"double quote", `say "hi"`},
		{"single quote", "it's"},
		{"closing script", `"></Echo></p><script>alert(1)</script>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := p.Handle(context.Background(), protocol.RenderRequest{
				Component:  "Search",
				Attributes: map[string]any{"q": tt.q},
			})
			require.NoError(t, err)
			assert.NotContains(t, resp.HTML, "<script>")

			root := markup.MustParse(resp.HTML).FirstChild()
			text := root.Find(func(n *markup.Node) bool { return n.Tag == "p" })
			require.NotNil(t, text)
			assert.Equal(t, tt.q, text.TextContent())

			echo := components(root, "Echo")
			require.Len(t, echo, 1)
			assert.Equal(t, tt.q, echo[0].TextContent())
			assert.Equal(t, tt.q, decoded(t, echo[0], "q"))
			assert.Equal(t, tt.q, resp.Data["q"])
		})
	}
}
