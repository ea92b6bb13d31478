package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/conneroisu/hydra/internal/errors"
	"github.com/conneroisu/hydra/internal/logging"
	"github.com/conneroisu/hydra/internal/metrics"
	"github.com/conneroisu/hydra/internal/registry"
)

// Reloader rebuilds the registry from disk and installs it into Live.
//
// A load that reports any error leaves the current registry in place, so a
// half-saved component file never removes a working component from pages
// that use it.
type Reloader struct {
	Loader  *registry.Loader
	Live    *registry.Live
	Metrics *metrics.Metrics
	Logger  logging.Logger

	// OnError, when set, receives the collector of a rejected load.
	OnError func(*errors.Collector)

	mutex sync.Mutex
}

// Reload loads the component directory and swaps it in. It returns the
// component events of the swap, or the collected problems as an error when
// the load was rejected.
func (r *Reloader) Reload(ctx context.Context) ([]registry.Event, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	logger := r.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	collector := errors.NewCollector()
	next, err := r.Loader.Load(ctx, collector)
	if err != nil {
		return nil, err
	}
	if collector.HasErrors() {
		if r.OnError != nil {
			r.OnError(collector)
		}
		for _, e := range collector.Entries() {
			logger.Warn(ctx, e.Err, "Component reload rejected")
		}
		return nil, errors.NewRegistryError(errors.ErrCodeInvalidDescriptor, "component reload rejected:\n"+collector.Report(), nil)
	}

	events := r.Live.Swap(next)
	r.Metrics.ObserveReload(next.Count())
	logger.Info(ctx, "Components reloaded", "components", next.Count(), "changed", len(events))
	return events, nil
}

// Handler adapts Reload to a FileWatcher change handler.
func (r *Reloader) Handler() ChangeHandler {
	return func(ctx context.Context, events []ChangeEvent) error {
		_, err := r.Reload(ctx)
		return err
	}
}

// Watch starts a FileWatcher on the loader directory that reloads on every
// debounced batch of component file changes. Stop the returned watcher
// when done.
func (r *Reloader) Watch(ctx context.Context, debounce time.Duration) (*FileWatcher, error) {
	fw, err := NewFileWatcher(debounce, r.Logger)
	if err != nil {
		return nil, err
	}
	fw.AddFilter(NoHiddenFilter)
	fw.AddFilter(r.Loader.Matches)
	fw.AddHandler(r.Handler())
	if err := fw.AddRecursive(r.Loader.Dir); err != nil {
		_ = fw.Stop()
		return nil, err
	}
	if err := fw.Start(ctx); err != nil {
		_ = fw.Stop()
		return nil, err
	}
	return fw, nil
}
