package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "prism.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
[application]
width = 640
height = 480

[culling]
occlusion = false

[graph]
heap_granularity = 1048576
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, uint32(640), cfg.Application.Width)
	assert.Equal(t, uint32(480), cfg.Application.Height)
	assert.False(t, cfg.Culling.Occlusion)
	assert.True(t, cfg.Culling.Enabled)
	assert.Equal(t, uint64(1<<20), cfg.Graph.HeapGranularity)
	assert.Equal(t, "Prism", cfg.Application.Name)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
[culling]
occlusion_mode = "fast"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero width", func(c *Config) { c.Application.Width = 0 }},
		{"unknown backend", func(c *Config) { c.Backend.Type = "metal" }},
		{"zero granularity", func(c *Config) { c.Graph.HeapGranularity = 0 }},
		{"budget below one heap", func(c *Config) { c.Graph.MaxMemory = 1 }},
		{"non-positive near plane", func(c *Config) { c.Culling.NearPlane = 0 }},
		{"fov out of range", func(c *Config) { c.Culling.FovY = 180 }},
		{"no workers", func(c *Config) { c.Scene.Workers = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestApplyRuntimeKeepsRestartOnlySections(t *testing.T) {
	current := Default()
	next := Default()
	next.Culling.Occlusion = false
	next.Passes.Bloom = false
	next.Application.Width = 320

	merged, ignored := applyRuntime(current, next)

	assert.False(t, merged.Culling.Occlusion)
	assert.False(t, merged.Passes.Bloom)
	assert.Equal(t, current.Application.Width, merged.Application.Width)
	assert.Equal(t, []string{"application"}, ignored)
	// the published snapshot is never mutated
	assert.True(t, current.Culling.Occlusion)
}

func TestWatcherReloadsRuntimeToggles(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "[passes]\nshadows = true\n")
	initial, err := Load(path)
	require.NoError(t, err)

	reloaded := make(chan *Config, 8)
	w, err := NewWatcher(path, initial, func(c *Config) { reloaded <- c })
	require.NoError(t, err)
	defer w.Close()

	writeConfig(t, dir, "[passes]\nshadows = false\n")

	// a truncate may be observed before the final write
	deadline := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case c := <-reloaded:
			done = !c.Passes.Shadows
		case <-deadline:
			t.Fatal("config was not reloaded")
		}
	}
	assert.False(t, w.Current().Passes.Shadows)
	assert.True(t, initial.Passes.Shadows)
}

func TestWatcherCloseTwice(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "")
	w, err := NewWatcher(path, Default(), nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Error(t, w.Close())
}
