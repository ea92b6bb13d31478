package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/a-h/templ"

	"github.com/conneroisu/hydra/internal/errors"
	"github.com/conneroisu/hydra/internal/markup"
)

// DefaultTag is the element a component renders as when its descriptor
// names none.
const DefaultTag = "div"

// ExportMode selects which computed fields are written back onto the DOM.
type ExportMode int

const (
	ExportAll ExportMode = iota
	ExportNone
	ExportFields
)

// ExportPolicy is an export mode plus, for ExportFields, the field list.
type ExportPolicy struct {
	Mode   ExportMode
	Fields []string
}

// ParseExport reads "all", "none" or a comma-separated field list.
func ParseExport(s string) ExportPolicy {
	switch strings.TrimSpace(s) {
	case "", "all":
		return ExportPolicy{Mode: ExportAll}
	case "none":
		return ExportPolicy{Mode: ExportNone}
	}
	var fields []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	return ExportPolicy{Mode: ExportFields, Fields: fields}
}

// Select returns the subset of data the policy exports.
func (p ExportPolicy) Select(data map[string]any) map[string]any {
	switch p.Mode {
	case ExportNone:
		return map[string]any{}
	case ExportFields:
		out := make(map[string]any, len(p.Fields))
		for _, f := range p.Fields {
			if v, ok := data[f]; ok {
				out[f] = v
			}
		}
		return out
	default:
		out := make(map[string]any, len(data))
		for k, v := range data {
			out[k] = v
		}
		return out
	}
}

// String renders the policy the way front matter writes it.
func (p ExportPolicy) String() string {
	switch p.Mode {
	case ExportNone:
		return "none"
	case ExportFields:
		return strings.Join(p.Fields, ",")
	default:
		return "all"
	}
}

// ProviderInput is what a data provider sees.
type ProviderInput struct {
	Component string
	// Inherited holds values pulled from the parent by `use`.
	Inherited map[string]any
	// Attributes are the component's own decoded attributes.
	Attributes map[string]any
	// Data is what the caller passed to the render.
	Data map[string]any
	// Merged is Inherited ∪ Attributes ∪ Data, later sources winning.
	Merged map[string]any
}

// Provider computes component data.
type Provider func(ctx context.Context, in ProviderInput) (map[string]any, error)

// DeferPredicate decides from the merged attribute data whether a component
// is rendered later by a client redraw.
type DeferPredicate func(attrs map[string]any) bool

// Always defers unconditionally.
func Always(map[string]any) bool { return true }

// View renders a component through templ instead of a text template.
type View func(data map[string]any) templ.Component

// Descriptor describes how to render one named component. Descriptors are
// immutable once registered.
type Descriptor struct {
	Name     string
	Template string
	Provider Provider
	// Initializer names a pre-linked client module.
	Initializer string
	Tag         string
	Export      ExportPolicy
	// Static descriptors serve Template verbatim.
	Static     bool
	Attributes map[string]string
	Deferred   DeferPredicate
	View       View

	Source  string
	ModTime time.Time
	Hash    string
}

// RenderTag returns the descriptor tag or DefaultTag.
func (d *Descriptor) RenderTag() string {
	if d.Tag == "" {
		return DefaultTag
	}
	return d.Tag
}

// IsDeferred evaluates the deferred predicate.
func (d *Descriptor) IsDeferred(attrs map[string]any) bool {
	return d.Deferred != nil && d.Deferred(attrs)
}

// FixedAttributes returns the extra attributes sorted by name.
func (d *Descriptor) FixedAttributes() [][2]string {
	names := make([]string, 0, len(d.Attributes))
	for k := range d.Attributes {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make([][2]string, 0, len(names))
	for _, k := range names {
		out = append(out, [2]string{k, d.Attributes[k]})
	}
	return out
}

// Validate checks the descriptor can be registered.
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return errors.NewRegistryError(errors.ErrCodeInvalidDescriptor, "component name is required", nil)
	}
	if markup.IsKnownElement(d.Name) {
		return errors.NewRegistryError(errors.ErrCodeInvalidDescriptor,
			fmt.Sprintf("component name %q collides with an HTML element", d.Name), nil).WithComponent(d.Name)
	}
	for i := 0; i < len(d.Name); i++ {
		c := d.Name[i]
		letter := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		if i == 0 && !letter {
			return errors.NewRegistryError(errors.ErrCodeInvalidDescriptor,
				fmt.Sprintf("component name %q must start with a letter", d.Name), nil).WithComponent(d.Name)
		}
		if !letter && !(c >= '0' && c <= '9') && c != '-' && c != '_' && c != '.' && c != ':' {
			return errors.NewRegistryError(errors.ErrCodeInvalidDescriptor,
				fmt.Sprintf("component name %q contains %q", d.Name, c), nil).WithComponent(d.Name)
		}
	}
	if d.Tag != "" && !markup.IsKnownElement(d.Tag) {
		return errors.NewRegistryError(errors.ErrCodeInvalidDescriptor,
			fmt.Sprintf("render tag %q is not an HTML element", d.Tag), nil).WithComponent(d.Name)
	}
	return nil
}
