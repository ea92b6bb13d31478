package markup

import "strings"

var attrEscaper = strings.NewReplacer("&", "&amp;", `"`, "&quot;", "<", "&lt;", ">", "&gt;")

// OuterHTML serializes n including its own tag.
func (n *Node) OuterHTML() string {
	var sb strings.Builder
	n.write(&sb)
	return sb.String()
}

// InnerHTML serializes the children of n.
func (n *Node) InnerHTML() string {
	var sb strings.Builder
	for _, c := range n.children {
		c.write(&sb)
	}
	return sb.String()
}

// String is OuterHTML.
func (n *Node) String() string { return n.OuterHTML() }

func (n *Node) write(sb *strings.Builder) {
	switch n.Type {
	case TextNode, RawNode:
		sb.WriteString(n.Data)
		return
	case FragmentNode:
		for _, c := range n.children {
			c.write(sb)
		}
		return
	}

	sb.WriteByte('<')
	sb.WriteString(n.Tag)
	for _, a := range n.attrs {
		sb.WriteByte(' ')
		sb.WriteString(a.Name)
		if a.Flag {
			continue
		}
		sb.WriteString(`="`)
		sb.WriteString(attrEscaper.Replace(a.Value))
		sb.WriteByte('"')
	}

	switch {
	case n.selfClosing:
		sb.WriteByte('>')
		return
	case n.closedEmpty && len(n.children) == 0:
		sb.WriteString(" />")
		return
	}

	sb.WriteByte('>')
	for _, c := range n.children {
		c.write(sb)
	}
	sb.WriteString("</")
	sb.WriteString(n.Tag)
	sb.WriteByte('>')
}
