package client

import (
	"strconv"
	"strings"

	"github.com/conneroisu/hydra/internal/markup"
	"github.com/conneroisu/hydra/internal/protocol"
	"github.com/conneroisu/hydra/internal/value"
)

// Event is a simulated DOM event.
type Event struct {
	Type    string
	Value   string
	Checked bool
	// Target is the node the event was dispatched on. Dispatch fills it.
	Target *markup.Node
}

type castKind int

const (
	castText castKind = iota
	castNumber
	castBoolean
	castCheckbox
	castRadio
)

// model is a two-way binding between a form control and a store path.
type model struct {
	inst     *Instance
	node     *markup.Node
	path     value.Path
	cast     castKind
	nullable bool
}

func newModel(inst *Instance, node *markup.Node) (*model, error) {
	raw, _ := node.Attr(protocol.AttrModel)
	path, err := value.ParsePath(raw)
	if err != nil {
		return nil, err
	}
	if path.Segments[0].IsIndex {
		return nil, errInvalidModelPath(raw)
	}
	return &model{
		inst:     inst,
		node:     node,
		path:     path,
		cast:     castFor(node),
		nullable: node.HasAttr(protocol.AttrModelNullable),
	}, nil
}

func castFor(node *markup.Node) castKind {
	switch strings.ToLower(node.AttrOr(protocol.AttrModelCast, "")) {
	case "number":
		return castNumber
	case "boolean":
		return castBoolean
	}
	if node.Tag != "input" {
		return castText
	}
	switch strings.ToLower(node.AttrOr("type", "text")) {
	case "number", "range":
		return castNumber
	case "checkbox":
		return castCheckbox
	case "radio":
		return castRadio
	}
	return castText
}

// Cast applies the model cast policy to an input event. write is false
// when the event must not change the store.
func (m *model) Cast(ev Event) (v any, write bool) {
	raw := ev.Value
	switch m.cast {
	case castNumber:
		s := strings.TrimSpace(raw)
		if s == "" {
			return nil, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, true
		}
		return f, true
	case castCheckbox:
		return ev.Checked, true
	case castRadio:
		if !ev.Checked {
			return nil, false
		}
		return m.node.AttrOr("value", raw), true
	case castBoolean:
		s := strings.ToLower(strings.TrimSpace(raw))
		if s == "" && m.nullable {
			return nil, true
		}
		switch s {
		case "true", "on", "1", "yes":
			return true, true
		}
		return false, true
	default:
		if raw == "" && m.nullable {
			return nil, true
		}
		return raw, true
	}
}

// write stores an event's value through the binding.
func (m *model) write(ev Event) {
	v, ok := m.Cast(ev)
	if !ok {
		return
	}
	if err := m.inst.SetPath(m.path.Raw, v); err != nil {
		m.inst.rt.logger.Warn(m.inst.rt.ctx(), err, "Model write failed",
			"component", m.inst.name, "path", m.path.Raw)
	}
}

// sync copies the store value onto the control.
func (m *model) sync() {
	v, ok := m.inst.Lookup(m.path.Raw)
	if !ok {
		return
	}
	switch m.cast {
	case castCheckbox:
		setChecked(m.node, value.Truthy(v))
	case castRadio:
		setChecked(m.node, v != nil && value.Format(v) == m.node.AttrOr("value", ""))
	default:
		s := value.Format(v)
		if m.node.Tag == "textarea" {
			if m.node.TextContent() != s {
				m.node.ReplaceChildren(markup.NewText(markup.EscapeText(s)))
			}
			return
		}
		m.node.SetAttr("value", s)
	}
}

// applyEvent mirrors the event onto the control the way a browser would
// before listeners run.
func applyEvent(node *markup.Node, ev Event) {
	if node.Tag != "input" && node.Tag != "select" && node.Tag != "textarea" {
		return
	}
	switch strings.ToLower(node.AttrOr("type", "")) {
	case "checkbox", "radio":
		setChecked(node, ev.Checked)
		return
	}
	if node.Tag == "textarea" {
		node.ReplaceChildren(markup.NewText(markup.EscapeText(ev.Value)))
		return
	}
	node.SetAttr("value", ev.Value)
}

func setChecked(node *markup.Node, checked bool) {
	if checked {
		node.SetFlag("checked")
	} else {
		node.RemoveAttr("checked")
	}
}

type errInvalidModelPath string

func (e errInvalidModelPath) Error() string {
	return "model path " + strconv.Quote(string(e)) + " must start with a key"
}
