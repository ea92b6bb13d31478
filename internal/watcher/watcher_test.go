package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeCreated, "created"},
		{EventTypeModified, "modified"},
		{EventTypeDeleted, "deleted"},
		{EventTypeRenamed, "renamed"},
		{EventType(42), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
		})
	}
}

func TestNewFileWatcher(t *testing.T) {
	watcher, err := NewFileWatcher(100*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	assert.NotNil(t, watcher.watcher)
	assert.NotNil(t, watcher.debouncer)
	assert.Empty(t, watcher.filters)
	assert.Empty(t, watcher.handlers)

	watcher.AddFilter(NoHiddenFilter)
	watcher.AddHandler(func(context.Context, []ChangeEvent) error { return nil })
	assert.Len(t, watcher.filters, 1)
	assert.Len(t, watcher.handlers, 1)
}

func TestFileWatcherAddPath(t *testing.T) {
	watcher, err := NewFileWatcher(100*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	assert.NoError(t, watcher.AddPath(t.TempDir()))
	assert.Error(t, watcher.AddPath("/non/existent/path"))
	assert.Error(t, watcher.AddPath(""))

	err = watcher.AddPath("../../../etc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "traversal")
}

func TestAddRecursive(t *testing.T) {
	watcher, err := NewFileWatcher(100*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "cards", "small"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".cache"), 0o755))

	require.NoError(t, watcher.AddRecursive(root))
	watched := watcher.watcher.WatchList()
	assert.Contains(t, watched, root)
	assert.Contains(t, watched, filepath.Join(root, "cards", "small"))
	assert.NotContains(t, watched, filepath.Join(root, ".cache"))

	assert.Error(t, watcher.AddRecursive("../../../etc"))
}

func TestFileWatcherDeliversFilteredBatches(t *testing.T) {
	watcher, err := NewFileWatcher(50*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	dir := t.TempDir()
	require.NoError(t, watcher.AddRecursive(dir))
	watcher.AddFilter(ExtensionFilter(".html"))

	var mutex sync.Mutex
	var seen []string
	watcher.AddHandler(func(_ context.Context, events []ChangeEvent) error {
		mutex.Lock()
		defer mutex.Unlock()
		for _, e := range events {
			seen = append(seen, filepath.Base(e.Path))
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, watcher.Start(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "card.html"), []byte("<b>a</b>"), 0o644))

	require.Eventually(t, func() bool {
		mutex.Lock()
		defer mutex.Unlock()
		return len(seen) > 0
	}, 5*time.Second, 20*time.Millisecond)

	mutex.Lock()
	defer mutex.Unlock()
	assert.NotContains(t, seen, "notes.txt")
	assert.Contains(t, seen, "card.html")
}

func TestFileWatcherWatchesNewDirectories(t *testing.T) {
	watcher, err := NewFileWatcher(20*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	dir := t.TempDir()
	require.NoError(t, watcher.AddRecursive(dir))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, watcher.Start(ctx))

	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.Eventually(t, func() bool {
		for _, p := range watcher.watcher.WatchList() {
			if p == sub {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
}

func TestDebouncer(t *testing.T) {
	debouncer := &Debouncer{
		delay:   30 * time.Millisecond,
		events:  make(chan ChangeEvent, 100),
		output:  make(chan []ChangeEvent, 10),
		pending: make([]ChangeEvent, 0),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go debouncer.start(ctx)

	debouncer.events <- ChangeEvent{Path: "a.html", Type: EventTypeCreated}
	debouncer.events <- ChangeEvent{Path: "b.html", Type: EventTypeModified}
	debouncer.events <- ChangeEvent{Path: "a.html", Type: EventTypeModified}

	select {
	case batch := <-debouncer.output:
		require.Len(t, batch, 2)
		assert.Equal(t, "a.html", batch[0].Path)
		assert.Equal(t, EventTypeModified, batch[0].Type, "last event per path wins")
		assert.Equal(t, "b.html", batch[1].Path)
	case <-time.After(5 * time.Second):
		t.Fatal("no batch was flushed")
	}
}

func TestFilters(t *testing.T) {
	html := ExtensionFilter(".html", ".tmpl")

	tests := []struct {
		name   string
		filter FileFilter
		path   string
		want   bool
	}{
		{"extension match", html, "components/card.html", true},
		{"extension case", html, "card.TMPL", true},
		{"extension miss", html, "card.go", false},
		{"visible file", NoHiddenFilter, "components/card.html", true},
		{"dotfile", NoHiddenFilter, "components/.card.html.swp", false},
		{"backup file", NoHiddenFilter, "card.html~", false},
		{"emacs lock", NoHiddenFilter, "#card.html#", false},
		{"vendor prefix", NoVendorFilter, "vendor/x/card.html", false},
		{"vendor nested", NoVendorFilter, "a/vendor/card.html", false},
		{"no vendor", NoVendorFilter, "a/card.html", true},
		{"git dir", NoGitFilter, "a/.git/HEAD", false},
		{"no git", NoGitFilter, "a/card.html", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter(tt.path))
		})
	}
}

func TestFileWatcherDoubleStop(t *testing.T) {
	watcher, err := NewFileWatcher(100*time.Millisecond, nil)
	require.NoError(t, err)

	assert.NoError(t, watcher.Stop())
	assert.NoError(t, watcher.Stop())
}
