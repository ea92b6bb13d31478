package renderer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/conneroisu/hydra/internal/logging"
	"github.com/conneroisu/hydra/internal/markup"
)

const idLength = 12

// identity is the per-render id allocator. Ids are stable across renders
// of the same markup so the client store can follow an instance through a
// redraw.
type identity struct {
	used   map[string]bool
	logger logging.Logger
}

func newIdentity(logger logging.Logger) *identity {
	return &identity{used: make(map[string]bool), logger: logger}
}

// reserve marks a pinned id as taken.
func (a *identity) reserve(id string) {
	a.used[id] = true
}

// allocate hashes the component name with either its explicit id or its
// parent id, local path and raw attributes. On collision each ancestor's
// serialized markup is folded in, innermost first, before falling back to
// a random id.
func (a *identity) allocate(ctx context.Context, name, explicit, parent, path string, attrs [][2]string, ancestors []*markup.Node) string {
	var base string
	if explicit != "" {
		base = shortHash(name, "#", explicit)
	} else {
		parts := []string{name, parent, path}
		for _, kv := range sortedPairs(attrs) {
			parts = append(parts, kv[0]+"="+kv[1])
		}
		base = shortHash(parts...)
	}
	if a.take(base) {
		return base
	}

	h := base
	for i := len(ancestors) - 1; i >= 0; i-- {
		h = shortHash(h, ancestors[i].OuterHTML())
		if a.take(h) {
			return h
		}
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:idLength]
	a.logger.Error(ctx, nil, "Instance id collision not resolved, using random id",
		"component", name, "id", id, "base", base)
	a.used[id] = true
	return id
}

func (a *identity) take(id string) bool {
	if a.used[id] {
		return false
	}
	a.used[id] = true
	return true
}

func sortedPairs(attrs [][2]string) [][2]string {
	out := make([][2]string, len(attrs))
	copy(out, attrs)
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

func shortHash(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:idLength]
}

// localPath is the element-index chain from container down to n.
func localPath(container, n *markup.Node) string {
	var idx []string
	for x := n; x != nil && x != container; x = x.Parent() {
		p := x.Parent()
		if p == nil {
			break
		}
		i := 0
		for _, c := range p.ChildElements() {
			if c == x {
				break
			}
			i++
		}
		idx = append(idx, strconv.Itoa(i))
	}
	for l, r := 0, len(idx)-1; l < r; l, r = l+1, r-1 {
		idx[l], idx[r] = idx[r], idx[l]
	}
	return strings.Join(idx, ".")
}

