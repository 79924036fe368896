package registry_test

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ad/go-telegram-tutor/internal/registry"
)

const oneFlow = `
flows:
  - id: one
    steps:
      - id: s1
        items: [{id: a, label: A}]
`

const twoFlows = oneFlow + `
  - id: two
    steps:
      - id: s1
        kind: info
`

func TestWatcherReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(oneFlow), 0o644))

	var latest atomic.Pointer[registry.Catalog]
	w, err := registry.NewWatcher(registry.WatcherConfig{
		Path:     path,
		Debounce: 10 * time.Millisecond,
		OnReload: func(c *registry.Catalog) { latest.Store(c) },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		assert.NoError(t, <-done)
	}()

	// Give the watcher time to register before writing.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("flows: [broken"), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.Nil(t, latest.Load(), "a broken file must not replace the catalog")

	require.NoError(t, os.WriteFile(path, []byte(twoFlows), 0o644))
	require.Eventually(t, func() bool {
		c := latest.Load()
		if c == nil {
			return false
		}
		_, ok := c.Flow("two")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNewWatcherValidation(t *testing.T) {
	_, err := registry.NewWatcher(registry.WatcherConfig{OnReload: func(*registry.Catalog) {}})
	assert.Error(t, err)

	_, err = registry.NewWatcher(registry.WatcherConfig{Path: "catalog.yaml"})
	assert.Error(t, err)
}
