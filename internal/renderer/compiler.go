package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"html/template"
	"sync"

	"github.com/conneroisu/hydra/internal/codec"
	"github.com/conneroisu/hydra/internal/errors"
	"github.com/conneroisu/hydra/internal/registry"
)

// Compiler fills a descriptor's template with computed data.
type Compiler interface {
	Compile(ctx context.Context, d *registry.Descriptor, data map[string]any) (string, error)
}

// CompilerFunc adapts a function to Compiler.
type CompilerFunc func(ctx context.Context, d *registry.Descriptor, data map[string]any) (string, error)

// Compile calls f.
func (f CompilerFunc) Compile(ctx context.Context, d *registry.Descriptor, data map[string]any) (string, error) {
	return f(ctx, d, data)
}

type cached struct {
	key  string
	tmpl *template.Template
}

// TemplateCompiler compiles descriptor templates with html/template, so
// interpolated values are escaped for the text, attribute or script context
// they land in. Parsed templates are cached per descriptor and reparsed when
// the descriptor hash or source changes. Static descriptors are served verbatim and descriptors
// with a templ view render the view.
type TemplateCompiler struct {
	mu    sync.RWMutex
	cache map[string]cached
	funcs template.FuncMap
}

// NewTemplateCompiler creates a compiler with the default helpers.
func NewTemplateCompiler() *TemplateCompiler {
	return &TemplateCompiler{
		cache: make(map[string]cached),
		funcs: template.FuncMap{
			"json":    toJSON,
			"encode":  codec.Encode,
			"default": orDefault,
		},
	}
}

// Funcs adds helpers available to every template parsed afterwards.
func (c *TemplateCompiler) Funcs(funcs template.FuncMap) *TemplateCompiler {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range funcs {
		c.funcs[k] = v
	}
	c.cache = make(map[string]cached)
	return c
}

// Compile implements Compiler.
func (c *TemplateCompiler) Compile(ctx context.Context, d *registry.Descriptor, data map[string]any) (string, error) {
	if d.Static {
		return d.Template, nil
	}
	if d.View != nil {
		var buf bytes.Buffer
		if err := d.View(data).Render(ctx, &buf); err != nil {
			return "", errors.NewTemplateError(d.Name, err)
		}
		return buf.String(), nil
	}

	tmpl, err := c.parse(d)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", errors.NewTemplateError(d.Name, err)
	}
	return buf.String(), nil
}

// Check parses the descriptor template without executing it.
func (c *TemplateCompiler) Check(d *registry.Descriptor) error {
	if d.Static || d.View != nil {
		return nil
	}
	_, err := c.parse(d)
	return err
}

func (c *TemplateCompiler) parse(d *registry.Descriptor) (*template.Template, error) {
	key := d.Hash
	if key == "" {
		key = d.Template
	}

	c.mu.RLock()
	entry, ok := c.cache[d.Name]
	c.mu.RUnlock()
	if ok && entry.key == key {
		return entry.tmpl, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	tmpl, err := template.New(d.Name).Funcs(c.funcs).Parse(d.Template)
	if err != nil {
		return nil, errors.NewTemplateError(d.Name, err).WithLocation(d.Source, 0, 0)
	}
	c.cache[d.Name] = cached{key: key, tmpl: tmpl}
	return tmpl, nil
}

func toJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func orDefault(def, v any) any {
	if v == nil || v == "" {
		return def
	}
	return v
}
