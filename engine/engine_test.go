package engine

import (
	"context"
	"os"
	"testing"

	"github.com/spaghettifunk/prism/engine/config"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/graph"
	"github.com/spaghettifunk/prism/engine/renderer/soft"
	"github.com/spaghettifunk/prism/engine/renderer/views"
	"github.com/spaghettifunk/prism/engine/scene"
	"github.com/spaghettifunk/prism/engine/systems"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Log.Level = "warn"
	cfg.Application.Width = 64
	cfg.Application.Height = 48
	cfg.Graph.HeapGranularity = 1 << 20
	cfg.Passes.ShadowMapSize = 64
	cfg.Scene.Instances = 50
	cfg.Scene.Extent = 20
	cfg.Scene.Workers = 2
	cfg.Debug.StatsInterval = 2
	return cfg
}

func testRenderers(ctx *views.FrameContext) []systems.RendererFactory {
	return []systems.RendererFactory{
		func() graph.Renderer { return views.NewSceneUploadRenderer(ctx) },
		func() graph.Renderer { return views.NewShadowRenderer(ctx) },
		func() graph.Renderer { return views.NewBasePassRenderer(ctx) },
		func() graph.Renderer { return views.NewLightingRenderer(ctx) },
		func() graph.Renderer { return views.NewBloomRenderer(ctx) },
		func() graph.Renderer { return views.NewTonemapRenderer(ctx) },
	}
}

func testGame(cfg *config.Config) *Game {
	return &Game{
		Config:    cfg,
		Renderers: testRenderers,
		FnInitialize: func(w *World) error {
			w.Camera.SetPosition(math.NewVec3(0, 5, -30))
			w.Camera.LookAt(math.NewVec3Zero())
			return scene.Generate(w.Jobs, w.Scene, scene.GeneratorConfig{
				Seed:      w.Config.Scene.Seed,
				Instances: w.Config.Scene.Instances,
				Extent:    w.Config.Scene.Extent,
				Ground:    true,
			})
		},
	}
}

func newTestEngine(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()
	e, err := New(testGame(cfg))
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	t.Cleanup(func() { assert.NoError(t, e.Shutdown()) })
	return e
}

func TestNewValidates(t *testing.T) {
	_, err := New(&Game{Config: testConfig()})
	assert.ErrorIs(t, err, ErrNoRenderers)

	cfg := testConfig()
	cfg.Application.Width = 0
	_, err = New(testGame(cfg))
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestRunHonoursFrameLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Application.FrameLimit = 3
	e := newTestEngine(t, cfg)
	assert.Equal(t, EngineStageInitialized, e.Stage())
	assert.EqualValues(t, 51, e.World().Scene.InstanceCount())

	require.NoError(t, e.Run(context.Background()))
	assert.EqualValues(t, 3, e.FrameIndex())
	assert.EqualValues(t, 3, e.Metrics().Frames())

	dev := e.Device().(*soft.Device)
	assert.EqualValues(t, 3, dev.Stats().Presents)
	require.NotNil(t, dev.Presented())
	assert.Equal(t, uint32(64), dev.Presented().Desc().Width)
}

func TestRunStopsOnCancelAndQuit(t *testing.T) {
	e := newTestEngine(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, e.Run(ctx))
	assert.Zero(t, e.FrameIndex())

	e.isRunning = true
	e.Events().Fire(core.EventContext{Type: core.EVENT_CODE_APPLICATION_QUIT})
	assert.False(t, e.isRunning)
}

func TestResize(t *testing.T) {
	e := newTestEngine(t, testConfig())
	require.NoError(t, e.RunFrame(0))

	var resized [2]uint32
	e.game.FnOnResize = func(w, h uint32) error {
		resized = [2]uint32{w, h}
		return nil
	}
	e.Events().Fire(core.EventContext{Type: core.EVENT_CODE_RESIZED, Data: &core.ResizeEvent{Width: 32, Height: 32}})
	w, h := e.FramebufferSize()
	assert.Equal(t, [2]uint32{32, 32}, [2]uint32{w, h})
	assert.Equal(t, [2]uint32{32, 32}, resized)

	require.NoError(t, e.RunFrame(0))
	out := e.Device().(*soft.Device).Presented()
	assert.Equal(t, uint32(32), out.Desc().Width)

	e.Events().Fire(core.EventContext{Type: core.EVENT_CODE_RESIZED, Data: &core.ResizeEvent{}})
	assert.True(t, e.isSuspended)
	e.Events().Fire(core.EventContext{Type: core.EVENT_CODE_RESIZED, Data: &core.ResizeEvent{Width: 48, Height: 32}})
	assert.False(t, e.isSuspended)
}

func TestConfigReloadAppliesToggles(t *testing.T) {
	e := newTestEngine(t, testConfig())
	require.NoError(t, e.RunFrame(0))
	assert.Contains(t, e.renderers.Scheduled(), "bloom")

	next := e.Config().Clone()
	next.Passes.Bloom = false
	next.Passes.Shadows = false
	e.Events().Fire(core.EventContext{Type: core.EVENT_CODE_CONFIG_RELOADED, Data: next})
	require.NoError(t, e.RunFrame(0))
	assert.Equal(t, []string{"scene", "basepass", "lighting", "tonemap"}, e.renderers.Scheduled())
}

func TestHZBDump(t *testing.T) {
	cfg := testConfig()
	cfg.Debug.DumpHZB = true
	cfg.Debug.DumpInterval = 2
	cfg.Debug.DumpDir = t.TempDir()
	e := newTestEngine(t, cfg)

	require.NoError(t, e.RunFrame(0))
	entries, err := os.ReadDir(cfg.Debug.DumpDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, e.RunFrame(0))
	entries, err = os.ReadDir(cfg.Debug.DumpDir)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestShutdownIsIdempotent(t *testing.T) {
	e, err := New(testGame(testConfig()))
	require.NoError(t, err)
	assert.NoError(t, e.Shutdown())
	require.NoError(t, e.Initialize())
	assert.NoError(t, e.Shutdown())
	assert.Equal(t, EngineStageShutdown, e.Stage())
	assert.NoError(t, e.Shutdown())
}
