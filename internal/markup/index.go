package markup

// isIndexer reports whether n keeps its own potential-component index.
func (n *Node) isIndexer() bool {
	return n.Type == FragmentNode || n.potential
}

// invalidate marks the index of the nearest indexer at or above n as stale.
func (n *Node) invalidate() {
	for x := n; x != nil; x = x.parent {
		if x.isIndexer() {
			x.indexDirty = true
			return
		}
	}
}

// register records c in the index of the nearest indexer at or above n.
// Used while parsing, where the index is built incrementally.
func (n *Node) register(c *Node) {
	for x := n; x != nil; x = x.parent {
		if x.isIndexer() {
			x.index = append(x.index, c)
			return
		}
	}
}

// ComponentChildren returns the potential-component descendants of n that
// are not nested inside another potential component, in document order.
func (n *Node) ComponentChildren() []*Node {
	if !n.isIndexer() {
		return collectComponents(n, nil)
	}
	if n.indexDirty {
		n.index = collectComponents(n, n.index[:0])
		n.indexDirty = false
	}
	out := make([]*Node, len(n.index))
	copy(out, n.index)
	return out
}

func collectComponents(n *Node, out []*Node) []*Node {
	for _, c := range n.children {
		if c.Type != ElementNode {
			continue
		}
		if c.potential {
			out = append(out, c)
			continue
		}
		out = collectComponents(c, out)
	}
	return out
}
