//go:build property
// +build property

package errors

import (
	"fmt"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestCollectorProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(2468)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// Property: concurrent Add loses nothing
	properties.Property("concurrent addition is thread-safe", prop.ForAll(
		func(goroutines int, perGoroutine int) bool {
			collector := NewCollector()

			var wg sync.WaitGroup
			for g := 0; g < goroutines; g++ {
				wg.Add(1)
				go func(g int) {
					defer wg.Done()
					for e := 0; e < perGoroutine; e++ {
						collector.Add(NewTemplateError(fmt.Sprintf("C%d", g), fmt.Errorf("failure %d", e)))
					}
				}(g)
			}
			wg.Wait()

			return collector.Len() == goroutines*perGoroutine &&
				len(collector.Entries()) == goroutines*perGoroutine
		},
		gen.IntRange(1, 10),
		gen.IntRange(1, 20),
	))

	// Property: entries come back ordered by component then line
	properties.Property("entries are sorted", prop.ForAll(
		func(components []string, lines []int) bool {
			collector := NewCollector()
			for i, c := range components {
				line := 1
				if i < len(lines) {
					line = lines[i]
				}
				collector.Add(NewRegistryError(ErrCodeInvalidDescriptor, "bad", nil).
					WithComponent(c).WithLocation("c.html", line, 1))
			}

			entries := collector.Entries()
			for i := 1; i < len(entries); i++ {
				a, _ := As(entries[i-1].Err)
				b, _ := As(entries[i].Err)
				if a.Component > b.Component {
					return false
				}
				if a.Component == b.Component && a.Line > b.Line {
					return false
				}
			}
			return len(entries) == len(components)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.IntRange(1, 500)),
	))

	// Property: warnings alone never count as errors
	properties.Property("warnings are not errors", prop.ForAll(
		func(warnings int, errs int) bool {
			collector := NewCollector()
			for i := 0; i < warnings; i++ {
				collector.Warn(fmt.Errorf("warning %d", i))
			}
			for i := 0; i < errs; i++ {
				collector.Add(fmt.Errorf("error %d", i))
			}
			return collector.HasErrors() == (errs > 0) && collector.Len() == warnings+errs
		},
		gen.IntRange(0, 10),
		gen.IntRange(0, 3),
	))

	properties.TestingRun(t)
}
