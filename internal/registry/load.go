package registry

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/hydra/internal/errors"
	"github.com/conneroisu/hydra/internal/logging"
)

// DefaultExtensions are the component file extensions scanned by default.
var DefaultExtensions = []string{".html", ".tmpl"}

// Loader builds a Registry from a directory of component files, merged with
// programmatic descriptors and host-provided behavior.
type Loader struct {
	Dir        string
	Extensions []string
	// Base descriptors are registered before any file.
	Base []Descriptor
	// Providers, Views and Deferred attach Go behavior to file components
	// by name.
	Providers map[string]Provider
	Views     map[string]View
	Deferred  map[string]DeferPredicate
	// Concurrency bounds parallel file reads. Zero means 8.
	Concurrency int
	Logger      logging.Logger
}

type frontMatter struct {
	Name        string            `yaml:"name"`
	Tag         string            `yaml:"tag"`
	Export      yaml.Node         `yaml:"export"`
	Static      bool              `yaml:"static"`
	Initializer string            `yaml:"initializer"`
	Attributes  map[string]string `yaml:"attributes"`
	Deferred    bool              `yaml:"deferred"`
}

// Load reads every component file below Dir. Files that fail to parse and
// duplicate names are added to collector and skipped. The returned error
// is non-nil only when the directory cannot be walked or ctx is done.
func (l *Loader) Load(ctx context.Context, collector *errors.Collector) (*Registry, error) {
	if collector == nil {
		collector = errors.NewCollector()
	}
	logger := l.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	op := logging.StartOperation(logger, "registry_load")

	paths, err := l.scan()
	if err != nil {
		op.EndWithError(ctx, err)
		return nil, err
	}

	descriptors := make([]*Descriptor, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	limit := l.Concurrency
	if limit <= 0 {
		limit = 8
	}
	g.SetLimit(limit)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			content, err := os.ReadFile(path)
			if err != nil {
				collector.Add(errors.NewRegistryError(errors.ErrCodeInvalidDescriptor, "read component file", err).
					WithLocation(path, 0, 0))
				return nil
			}
			d, err := ParseFile(path, content)
			if err != nil {
				collector.Add(err)
				return nil
			}
			descriptors[i] = &d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		op.EndWithError(ctx, err)
		return nil, err
	}

	b := NewBuilder()
	for _, d := range l.Base {
		collector.Add(b.Register(d))
	}
	for _, d := range descriptors {
		if d == nil {
			continue
		}
		l.attach(d)
		collector.Add(b.Register(*d))
	}

	reg := b.Build()
	op.End(ctx, "dir", l.Dir, "components", reg.Count(), "errors", collector.Len())
	return reg, nil
}

func (l *Loader) attach(d *Descriptor) {
	if p, ok := l.Providers[d.Name]; ok {
		d.Provider = p
	}
	if v, ok := l.Views[d.Name]; ok {
		d.View = v
	}
	if p, ok := l.Deferred[d.Name]; ok {
		d.Deferred = p
	}
}

func (l *Loader) scan() ([]string, error) {
	if l.Dir == "" {
		return nil, nil
	}
	exts := l.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	var paths []string
	err := filepath.WalkDir(l.Dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if path != l.Dir && strings.HasPrefix(entry.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		for _, ext := range exts {
			if strings.EqualFold(filepath.Ext(path), ext) {
				paths = append(paths, path)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan component directory %s: %w", l.Dir, err)
	}
	return paths, nil
}

// Matches reports whether path has one of the loader's extensions.
func (l *Loader) Matches(path string) bool {
	exts := l.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	for _, ext := range exts {
		if strings.EqualFold(filepath.Ext(path), ext) {
			return true
		}
	}
	return false
}

// ParseFile builds a descriptor from a component file: optional YAML front
// matter between `---` lines, then the template body.
func ParseFile(path string, content []byte) (Descriptor, error) {
	meta, body, hasMeta := SplitFrontMatter(content)

	var fm frontMatter
	if hasMeta {
		if err := yaml.Unmarshal(meta, &fm); err != nil {
			return Descriptor{}, errors.NewRegistryError(errors.ErrCodeInvalidDescriptor, "invalid front matter", err).
				WithLocation(path, 0, 0)
		}
	}

	name := fm.Name
	if name == "" {
		name = NameFromFile(path)
	}

	export, err := exportFromNode(&fm.Export)
	if err != nil {
		return Descriptor{}, errors.NewRegistryError(errors.ErrCodeInvalidDescriptor, "invalid export policy", err).
			WithComponent(name).WithLocation(path, fm.Export.Line, fm.Export.Column)
	}

	d := Descriptor{
		Name:        name,
		Template:    strings.TrimSpace(string(body)),
		Initializer: fm.Initializer,
		Tag:         fm.Tag,
		Export:      export,
		Static:      fm.Static,
		Attributes:  fm.Attributes,
		Source:      path,
		Hash:        contentHash(content),
	}
	if fm.Deferred {
		d.Deferred = Always
	}
	if info, err := os.Stat(path); err == nil {
		d.ModTime = info.ModTime()
	}
	return d, nil
}

func exportFromNode(n *yaml.Node) (ExportPolicy, error) {
	switch n.Kind {
	case 0:
		return ExportPolicy{Mode: ExportAll}, nil
	case yaml.ScalarNode:
		return ParseExport(n.Value), nil
	case yaml.SequenceNode:
		var fields []string
		if err := n.Decode(&fields); err != nil {
			return ExportPolicy{}, err
		}
		return ExportPolicy{Mode: ExportFields, Fields: fields}, nil
	default:
		return ExportPolicy{}, fmt.Errorf("export must be all, none or a field list")
	}
}

// SplitFrontMatter separates a leading `---` delimited YAML block from the
// rest of content.
func SplitFrontMatter(content []byte) (meta, body []byte, ok bool) {
	rest, found := cutLine(content, "---")
	if !found {
		return nil, content, false
	}
	for off := 0; off < len(rest); {
		end := bytes.IndexByte(rest[off:], '\n')
		var line []byte
		next := len(rest)
		if end >= 0 {
			line = rest[off : off+end]
			next = off + end + 1
		} else {
			line = rest[off:]
		}
		if string(bytes.TrimRight(line, "\r")) == "---" {
			return rest[:off], rest[next:], true
		}
		off = next
	}
	return nil, content, false
}

func cutLine(content []byte, marker string) ([]byte, bool) {
	end := bytes.IndexByte(content, '\n')
	if end < 0 {
		return nil, false
	}
	if string(bytes.TrimRight(content[:end], "\r")) != marker {
		return nil, false
	}
	return content[end+1:], true
}

// NameFromFile derives a component name from a file name:
// `user-card.html` becomes `UserCard`.
func NameFromFile(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	parts := strings.FieldsFunc(base, func(r rune) bool {
		return r == '-' || r == '_' || r == '.' || unicode.IsSpace(r)
	})
	title := cases.Title(language.Und, cases.NoLower)
	var sb strings.Builder
	for _, p := range parts {
		sb.WriteString(title.String(p))
	}
	return sb.String()
}

func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])[:16]
}
