package client

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conneroisu/hydra/internal/markup"
	"github.com/conneroisu/hydra/internal/protocol"
	"github.com/conneroisu/hydra/internal/registry"
	"github.com/conneroisu/hydra/internal/renderer"
)

// harness wires a runtime to an in-process render pipeline.
type harness struct {
	t        *testing.T
	pipeline *renderer.Pipeline
	rt       *Runtime

	mu       sync.Mutex
	requests []protocol.RenderRequest
}

func newHarness(t *testing.T, ds []registry.Descriptor, opts ...Option) *harness {
	t.Helper()
	b := registry.NewBuilder()
	for _, d := range ds {
		require.NoError(t, b.Register(d))
	}
	h := &harness{t: t, pipeline: renderer.New(b.Build())}
	opts = append([]Option{WithTransport(TransportFunc(h.render))}, opts...)
	h.rt = New(opts...)
	return h
}

func (h *harness) render(ctx context.Context, endpoint string, req protocol.RenderRequest) (*protocol.RenderResponse, error) {
	h.mu.Lock()
	h.requests = append(h.requests, req)
	h.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.pipeline.Handle(ctx, req)
}

func (h *harness) page(src string) *renderer.PageResult {
	h.t.Helper()
	page, err := h.pipeline.RenderPage(context.Background(), src, nil)
	require.NoError(h.t, err)
	if len(page.Initializers) > 0 {
		cfg := protocol.DefaultPageConfig()
		cfg.Initializers = page.Initializers
		block, err := cfg.ConfigNode()
		require.NoError(h.t, err)
		page.Root.AppendChild(block)
	}
	return page
}

func (h *harness) boot(src string) *markup.Node {
	h.t.Helper()
	page := h.page(src)
	require.NoError(h.t, h.rt.Boot(context.Background(), page.Root))
	return page.Root
}

func (h *harness) root(i int) *Instance {
	h.t.Helper()
	roots := h.rt.Roots()
	require.Greater(h.t, len(roots), i, "root %d not mounted", i)
	return roots[i]
}

func (h *harness) sent() []protocol.RenderRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]protocol.RenderRequest(nil), h.requests...)
}
