package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, path, matchingMode string) {
	t.Helper()
	content := "[coding]\nmatching_mode = \"" + matchingMode + "\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewWatcherMissingFile(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codermill.toml")
	writeConfigFile(t, path, "ignore_case")

	watcher, err := NewWatcher(path)
	require.NoError(t, err)
	// Short debounce keeps the test fast
	watcher.debouncePeriod = 20 * time.Millisecond
	defer watcher.Stop()

	var reloads atomic.Int32
	var gotMode atomic.Value
	watcher.OnReload(func(cfg *Config) error {
		gotMode.Store(cfg.Coding.MatchingMode)
		reloads.Add(1)
		return nil
	})
	watcher.Start()

	writeConfigFile(t, path, "no_aggregation")

	require.Eventually(t, func() bool {
		return reloads.Load() > 0
	}, 3*time.Second, 10*time.Millisecond, "A write should trigger a reload")
	assert.Equal(t, "no_aggregation", gotMode.Load())
}

func TestWatcherKeepsConfigOnBrokenWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codermill.toml")
	writeConfigFile(t, path, "ignore_case")

	watcher, err := NewWatcher(path)
	require.NoError(t, err)
	watcher.debouncePeriod = 20 * time.Millisecond
	defer watcher.Stop()

	var reloads atomic.Int32
	watcher.OnReload(func(cfg *Config) error {
		reloads.Add(1)
		return nil
	})
	watcher.Start()

	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))

	// The broken file must not reach the callbacks
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(0), reloads.Load())
}
