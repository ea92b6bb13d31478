package value

import (
	"fmt"
	"strconv"
	"strings"
)

// Segment is one step of a Path: either a field name or a numeric index.
type Segment struct {
	Name    string
	Index   int
	IsIndex bool
}

// Path is a parsed dotted/bracketed key path such as `user[0].name`.
type Path struct {
	Raw      string
	Segments []Segment
}

// ParsePath parses a single path. Names are separated by dots; indices are
// written in brackets and may also be quoted keys (`a["b c"]`).
func ParsePath(raw string) (Path, error) {
	s := strings.TrimSpace(raw)
	p := Path{Raw: s}
	if s == "" {
		return p, fmt.Errorf("empty path")
	}

	i := 0
	expectName := true
	for i < len(s) {
		switch c := s[i]; {
		case c == '.':
			if expectName {
				return p, fmt.Errorf("path %q: empty segment at %d", s, i)
			}
			expectName = true
			i++
		case c == '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return p, fmt.Errorf("path %q: unterminated index at %d", s, i)
			}
			inner := strings.TrimSpace(s[i+1 : i+end])
			if seg, ok := quotedKey(inner); ok {
				p.Segments = append(p.Segments, Segment{Name: seg})
			} else {
				n, err := strconv.Atoi(inner)
				if err != nil || n < 0 {
					return p, fmt.Errorf("path %q: invalid index %q", s, inner)
				}
				p.Segments = append(p.Segments, Segment{Index: n, IsIndex: true})
			}
			expectName = false
			i += end + 1
		default:
			if !expectName {
				return p, fmt.Errorf("path %q: unexpected %q at %d", s, c, i)
			}
			j := i
			for j < len(s) && s[j] != '.' && s[j] != '[' {
				j++
			}
			p.Segments = append(p.Segments, Segment{Name: strings.TrimSpace(s[i:j])})
			expectName = false
			i = j
		}
	}
	if expectName {
		return p, fmt.Errorf("path %q: trailing dot", s)
	}
	return p, nil
}

func quotedKey(s string) (string, bool) {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1], true
	}
	return "", false
}

// ParseList splits a comma-separated list of paths, as found in a `use`
// attribute. Empty entries are skipped.
func ParseList(raw string) ([]Path, error) {
	var out []Path
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		p, err := ParsePath(part)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// EndsInIndex reports whether the last segment is numeric.
func (p Path) EndsInIndex() bool {
	return len(p.Segments) > 0 && p.Segments[len(p.Segments)-1].IsIndex
}

// Key is the name this path's value is stored under when inherited: the
// last name segment, or the raw path when it ends in an index.
func (p Path) Key() string {
	if len(p.Segments) == 0 || p.EndsInIndex() {
		return p.Raw
	}
	return p.Segments[len(p.Segments)-1].Name
}

// String returns the raw path.
func (p Path) String() string { return p.Raw }

// Lookup resolves the path against root. Root and intermediate values are
// normalized first, so structs and typed slices resolve like their JSON
// form.
func (p Path) Lookup(root any) (any, bool) {
	cur, err := Normalize(root)
	if err != nil {
		return nil, false
	}
	for _, seg := range p.Segments {
		switch node := cur.(type) {
		case map[string]any:
			if seg.IsIndex {
				v, ok := node[strconv.Itoa(seg.Index)]
				if !ok {
					return nil, false
				}
				cur = v
				continue
			}
			v, ok := node[seg.Name]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			if !seg.IsIndex || seg.Index >= len(node) {
				return nil, false
			}
			cur = node[seg.Index]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Set returns a copy of root with the value at the path replaced by v.
// Missing intermediate objects are created; arrays are extended with nulls.
func (p Path) Set(root any, v any) (any, error) {
	if len(p.Segments) == 0 {
		return v, nil
	}
	base, err := Normalize(root)
	if err != nil {
		return nil, err
	}
	return setAt(Clone(base), p.Segments, v)
}

func setAt(cur any, segs []Segment, v any) (any, error) {
	if len(segs) == 0 {
		return v, nil
	}
	seg := segs[0]
	if seg.IsIndex {
		arr, _ := cur.([]any)
		if m, ok := cur.(map[string]any); ok {
			key := strconv.Itoa(seg.Index)
			child, err := setAt(m[key], segs[1:], v)
			if err != nil {
				return nil, err
			}
			m[key] = child
			return m, nil
		}
		for len(arr) <= seg.Index {
			arr = append(arr, nil)
		}
		child, err := setAt(arr[seg.Index], segs[1:], v)
		if err != nil {
			return nil, err
		}
		arr[seg.Index] = child
		return arr, nil
	}

	m, ok := cur.(map[string]any)
	if !ok {
		if cur != nil {
			return nil, fmt.Errorf("cannot set %q on %s", seg.Name, KindOf(cur))
		}
		m = map[string]any{}
	}
	child, err := setAt(m[seg.Name], segs[1:], v)
	if err != nil {
		return nil, err
	}
	m[seg.Name] = child
	return m, nil
}
