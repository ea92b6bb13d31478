package client

import (
	"context"
	"fmt"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/conneroisu/hydra/internal/protocol"
)

// Watch subscribes to the live-reload socket at url. Every reload message
// queues a redraw of the outermost mounted instances whose component
// changed; an empty component list redraws every root. The redraws run
// when the owner pumps the inbox, typically through Run. Watch blocks
// until ctx is done or the socket closes.
func (r *Runtime) Watch(ctx context.Context, url string) error {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial live reload %s: %w", url, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	for {
		var msg protocol.LiveMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("read live reload: %w", err)
		}
		if msg.Type != protocol.LiveReload {
			continue
		}
		components := msg.Components
		select {
		case r.inbox <- func() { r.reload(ctx, components) }:
		case <-ctx.Done():
			return nil
		}
	}
}

// reload requests a redraw of each outermost instance named in components.
func (r *Runtime) reload(ctx context.Context, components []string) []*Instance {
	changed := make(map[string]bool, len(components))
	for _, name := range components {
		changed[name] = true
	}
	var targets []*Instance
	var visit func(inst *Instance)
	visit = func(inst *Instance) {
		if inst.destroyed {
			return
		}
		if len(changed) == 0 || changed[inst.name] {
			targets = append(targets, inst)
			return
		}
		for _, c := range inst.children {
			visit(c)
		}
	}
	for _, root := range r.roots {
		visit(root)
	}
	for _, inst := range targets {
		r.logger.Info(ctx, "Live reload", "component", inst.name, "id", inst.id)
		inst.RequestRedraw(ctx)
	}
	return targets
}
