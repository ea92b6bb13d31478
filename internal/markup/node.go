// Package markup implements the HTML tokenizer and tree model shared by the
// server render pipeline and the client runtime.
//
// Any element whose tag is not a standard HTML element is a potential
// component. The fragment root and every potential component keep an index
// of their nearest potential-component descendants so that components can be
// discovered without walking the whole tree.
package markup

import (
	"html"
	"strings"
)

// NodeType identifies what a Node holds.
type NodeType int

const (
	// FragmentNode is a parentless container, the result of Parse.
	FragmentNode NodeType = iota
	// ElementNode is a tag with attributes and children.
	ElementNode
	// TextNode is a run of character data, stored as written.
	TextNode
	// RawNode is a declaration or comment preserved verbatim.
	RawNode
)

// Attribute is one attribute of an element. Flag attributes have no value.
type Attribute struct {
	Name  string
	Value string
	Flag  bool
}

// Node is an element, text run, raw run or fragment. A node owns its
// children; the parent pointer is a back-reference only.
type Node struct {
	Type NodeType
	Tag  string
	// Data is the content of text and raw nodes.
	Data string

	attrs    []Attribute
	children []*Node
	parent   *Node

	potential   bool
	selfClosing bool
	// closedEmpty marks a non-void element written as <Tag/>.
	closedEmpty bool

	index      []*Node
	indexDirty bool
}

// NewFragment returns an empty fragment root.
func NewFragment() *Node {
	return &Node{Type: FragmentNode}
}

// NewElement returns a detached element with the given tag.
func NewElement(tag string) *Node {
	return &Node{
		Type:        ElementNode,
		Tag:         tag,
		potential:   !IsKnownElement(tag),
		selfClosing: IsVoidElement(tag),
	}
}

// NewText returns a text node. The data is serialized verbatim, so callers
// holding plain text should pass it through EscapeText first.
func NewText(data string) *Node {
	return &Node{Type: TextNode, Data: data}
}

// NewRaw returns a raw node, used for comments and declarations.
func NewRaw(data string) *Node {
	return &Node{Type: RawNode, Data: data}
}

// EscapeText escapes s for use as element content.
func EscapeText(s string) string {
	return textEscaper.Replace(s)
}

var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// IsElement reports whether n is an element.
func (n *Node) IsElement() bool { return n != nil && n.Type == ElementNode }

// IsPotentialComponent reports whether n is an element with a non-standard
// tag name.
func (n *Node) IsPotentialComponent() bool { return n != nil && n.potential }

// SelfClosing reports whether n is a void element.
func (n *Node) SelfClosing() bool { return n.selfClosing }

// ExplicitlyClosed reports whether n was written as `<Tag/>`.
func (n *Node) ExplicitlyClosed() bool { return n.closedEmpty }

// SetExplicitlyClosed marks a childless non-void element to serialize as
// `<Tag/>`. Appending children clears the mark.
func (n *Node) SetExplicitlyClosed(v bool) { n.closedEmpty = v && !n.selfClosing }

// Parent returns the parent node or nil.
func (n *Node) Parent() *Node { return n.parent }

// Root returns the topmost ancestor of n.
func (n *Node) Root() *Node {
	for n.parent != nil {
		n = n.parent
	}
	return n
}

// Attr returns the value of the named attribute. Flags read as "".
func (n *Node) Attr(name string) (string, bool) {
	for _, a := range n.attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// AttrOr returns the attribute value or def when absent.
func (n *Node) AttrOr(name, def string) string {
	if v, ok := n.Attr(name); ok {
		return v
	}
	return def
}

// HasAttr reports whether the named attribute is present.
func (n *Node) HasAttr(name string) bool {
	_, ok := n.Attr(name)
	return ok
}

// Attrs returns a copy of the attributes in document order.
func (n *Node) Attrs() []Attribute {
	out := make([]Attribute, len(n.attrs))
	copy(out, n.attrs)
	return out
}

// SetAttr sets name to value, keeping the position of an existing attribute.
func (n *Node) SetAttr(name, value string) {
	n.setAttr(Attribute{Name: name, Value: value})
}

// SetFlag sets a value-less boolean attribute.
func (n *Node) SetFlag(name string) {
	n.setAttr(Attribute{Name: name, Flag: true})
}

func (n *Node) setAttr(a Attribute) {
	for i := range n.attrs {
		if n.attrs[i].Name == a.Name {
			n.attrs[i] = a
			return
		}
	}
	n.attrs = append(n.attrs, a)
}

// RemoveAttr deletes the named attribute.
func (n *Node) RemoveAttr(name string) {
	for i, a := range n.attrs {
		if a.Name == name {
			n.attrs = append(n.attrs[:i], n.attrs[i+1:]...)
			return
		}
	}
}

// HasClass reports whether the class attribute lists cls.
func (n *Node) HasClass(cls string) bool {
	for _, c := range n.classes() {
		if c == cls {
			return true
		}
	}
	return false
}

// AddClass appends cls to the class attribute unless already present.
func (n *Node) AddClass(cls string) {
	if cls == "" || n.HasClass(cls) {
		return
	}
	n.SetAttr("class", strings.Join(append(n.classes(), cls), " "))
}

// RemoveClass removes cls from the class attribute, dropping the attribute
// once it is empty.
func (n *Node) RemoveClass(cls string) {
	var kept []string
	for _, c := range n.classes() {
		if c != cls {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		n.RemoveAttr("class")
		return
	}
	n.SetAttr("class", strings.Join(kept, " "))
}

func (n *Node) classes() []string {
	v, _ := n.Attr("class")
	return strings.Fields(v)
}

// Children returns a copy of the child list.
func (n *Node) Children() []*Node {
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// ChildElements returns the element children.
func (n *Node) ChildElements() []*Node {
	var out []*Node
	for _, c := range n.children {
		if c.Type == ElementNode {
			out = append(out, c)
		}
	}
	return out
}

// FirstChild returns the first child or nil.
func (n *Node) FirstChild() *Node {
	if len(n.children) == 0 {
		return nil
	}
	return n.children[0]
}

// AppendChild detaches c from its current parent and appends it to n.
func (n *Node) AppendChild(c *Node) {
	c.detach()
	c.parent = n
	n.children = append(n.children, c)
	n.closedEmpty = false
	n.invalidate()
}

// InsertBefore inserts c before ref. A nil or foreign ref appends.
func (n *Node) InsertBefore(c, ref *Node) {
	if c == ref {
		return
	}
	c.detach()
	i := n.indexOf(ref)
	if i < 0 {
		n.AppendChild(c)
		return
	}
	c.parent = n
	n.children = append(n.children, nil)
	copy(n.children[i+1:], n.children[i:])
	n.children[i] = c
	n.closedEmpty = false
	n.invalidate()
}

// RemoveChild detaches c from n. It reports whether c was a child.
func (n *Node) RemoveChild(c *Node) bool {
	if c == nil || c.parent != n {
		return false
	}
	c.detach()
	return true
}

// ReplaceChild swaps old for c in place.
func (n *Node) ReplaceChild(c, old *Node) bool {
	i := n.indexOf(old)
	if i < 0 {
		return false
	}
	if c == old {
		return true
	}
	c.detach()
	i = n.indexOf(old)
	old.parent = nil
	c.parent = n
	n.children[i] = c
	n.invalidate()
	return true
}

// ReplaceChildren drops every child of n and adopts cs in order.
func (n *Node) ReplaceChildren(cs ...*Node) {
	cs = append([]*Node(nil), cs...)
	for _, c := range n.children {
		c.parent = nil
	}
	n.children = nil
	for _, c := range cs {
		c.detach()
		c.parent = n
		n.children = append(n.children, c)
	}
	if len(cs) > 0 {
		n.closedEmpty = false
	}
	n.invalidate()
}

// Remove detaches n from its parent.
func (n *Node) Remove() { n.detach() }

func (n *Node) detach() {
	p := n.parent
	if p == nil {
		return
	}
	if i := p.indexOf(n); i >= 0 {
		p.children = append(p.children[:i], p.children[i+1:]...)
	}
	n.parent = nil
	p.invalidate()
}

func (n *Node) indexOf(c *Node) int {
	if c == nil {
		return -1
	}
	for i, x := range n.children {
		if x == c {
			return i
		}
	}
	return -1
}

// Walk visits n and its descendants depth-first in document order. Returning
// false from fn skips the node's children.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.Children() {
		c.Walk(fn)
	}
}

// Find returns the first descendant element (excluding n) matching pred.
func (n *Node) Find(pred func(*Node) bool) *Node {
	var found *Node
	for _, c := range n.children {
		c.Walk(func(x *Node) bool {
			if found != nil {
				return false
			}
			if x.Type == ElementNode && pred(x) {
				found = x
				return false
			}
			return true
		})
		if found != nil {
			break
		}
	}
	return found
}

// FindAll returns every descendant element (excluding n) matching pred.
func (n *Node) FindAll(pred func(*Node) bool) []*Node {
	var out []*Node
	for _, c := range n.children {
		c.Walk(func(x *Node) bool {
			if x.Type == ElementNode && pred(x) {
				out = append(out, x)
			}
			return true
		})
	}
	return out
}

// ByAttr matches elements carrying the named attribute.
func ByAttr(name string) func(*Node) bool {
	return func(n *Node) bool { return n.HasAttr(name) }
}

// ByTag matches elements with the given tag.
func ByTag(tag string) func(*Node) bool {
	return func(n *Node) bool { return n.Tag == tag }
}

// TextContent returns the unescaped text of n and its descendants.
func (n *Node) TextContent() string {
	var sb strings.Builder
	n.Walk(func(x *Node) bool {
		if x.Type == TextNode {
			sb.WriteString(x.Data)
		}
		return x.Type != RawNode
	})
	return html.UnescapeString(sb.String())
}

// Clone deep-copies n. The copy is detached.
func (n *Node) Clone() *Node {
	cp := &Node{
		Type:        n.Type,
		Tag:         n.Tag,
		Data:        n.Data,
		attrs:       n.Attrs(),
		potential:   n.potential,
		selfClosing: n.selfClosing,
		closedEmpty: n.closedEmpty,
		indexDirty:  true,
	}
	for _, c := range n.children {
		cc := c.Clone()
		cc.parent = cp
		cp.children = append(cp.children, cc)
	}
	return cp
}
