// Package errors provides the structured error types used across hydra.
//
// Every domain failure (markup parse errors, data-provider failures, template
// errors, registry and transport problems) is an *Error carrying a type, a
// stable code and, where known, the component name and source location. The
// Collector gathers many such errors for batch reporting, as done by the
// `hydra check` command.
package errors

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Severity represents the severity of a collected error.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Entry is one collected error with its severity.
type Entry struct {
	Err      error
	Severity Severity
}

// Collector collects errors from many components.
type Collector struct {
	entries []Entry
	mutex   sync.RWMutex
}

// NewCollector creates a new error collector.
func NewCollector() *Collector {
	return &Collector{
		entries: make([]Entry, 0),
	}
}

// Add adds an error at error severity. Nil errors are ignored.
func (c *Collector) Add(err error) {
	c.add(err, SeverityError)
}

// Warn adds an error at warning severity.
func (c *Collector) Warn(err error) {
	c.add(err, SeverityWarning)
}

func (c *Collector) add(err error, severity Severity) {
	if err == nil {
		return
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.entries = append(c.entries, Entry{Err: err, Severity: severity})
}

// Entries returns a copy of all collected entries sorted by component, file
// and line.
func (c *Collector) Entries() []Entry {
	c.mutex.RLock()
	result := make([]Entry, len(c.entries))
	copy(result, c.entries)
	c.mutex.RUnlock()

	sort.SliceStable(result, func(i, j int) bool {
		a, _ := As(result[i].Err)
		b, _ := As(result[j].Err)
		if a == nil || b == nil {
			return a != nil
		}
		if a.Component != b.Component {
			return a.Component < b.Component
		}
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		return a.Line < b.Line
	})

	return result
}

// HasErrors returns true if any entry has error severity.
func (c *Collector) HasErrors() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	for _, e := range c.entries {
		if e.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Len returns the number of collected entries.
func (c *Collector) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.entries)
}

// ByComponent returns the entries raised for a specific component.
func (c *Collector) ByComponent(component string) []Entry {
	var out []Entry
	for _, e := range c.Entries() {
		if te, ok := As(e.Err); ok && te.Component == component {
			out = append(out, e)
		}
	}
	return out
}

// Clear removes all entries.
func (c *Collector) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.entries = c.entries[:0]
}

// Report renders the collected entries one per line.
func (c *Collector) Report() string {
	var sb strings.Builder
	for _, e := range c.Entries() {
		fmt.Fprintf(&sb, "%s: %v\n", e.Severity, e.Err)
	}
	return sb.String()
}
