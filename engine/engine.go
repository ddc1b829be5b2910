package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"github.com/spaghettifunk/prism/engine/config"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/platform"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/culling"
	"github.com/spaghettifunk/prism/engine/renderer/graph"
	"github.com/spaghettifunk/prism/engine/renderer/soft"
	"github.com/spaghettifunk/prism/engine/renderer/views"
	"github.com/spaghettifunk/prism/engine/renderer/vulkan"
	"github.com/spaghettifunk/prism/engine/scene"
	"github.com/spaghettifunk/prism/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Engine released everything it owned
	EngineStageShutdown
)

func (s Stage) String() string {
	switch s {
	case EngineStageUninitialized:
		return "uninitialized"
	case EngineStageInitializing:
		return "initializing"
	case EngineStageInitialized:
		return "initialized"
	case EngineStageRunning:
		return "running"
	case EngineStageShuttingDown:
		return "shutting down"
	default:
		return "shut down"
	}
}

var ErrNoRenderers = errors.New("no renderers registered")

type Engine struct {
	currentStage Stage
	game         *Game
	cfg          *config.Config
	watcher      *config.Watcher
	events       *core.EventBus
	session      uuid.UUID

	platform  *platform.Platform
	device    renderer.Device
	graph     *graph.RenderGraph
	jobs      *systems.JobSystem
	renderers *systems.RendererSystem
	world     *World
	frame     *views.FrameContext

	clock      *core.Clock
	metrics    *core.FrameMetrics
	lastTime   float64
	frameIndex uint64
	width      uint32
	height     uint32

	isRunning   bool
	isSuspended bool
}

func New(g *Game) (*Engine, error) {
	if g.Renderers == nil {
		return nil, ErrNoRenderers
	}
	cfg := g.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		currentStage: EngineStageUninitialized,
		game:         g,
		cfg:          cfg.Clone(),
		events:       core.NewEventBus(),
		session:      uuid.New(),
		clock:        core.NewClock(),
		metrics:      core.NewFrameMetrics(),
		width:        cfg.Application.Width,
		height:       cfg.Application.Height,
	}, nil
}

func (e *Engine) Stage() Stage { return e.currentStage }

func (e *Engine) Session() uuid.UUID { return e.session }

func (e *Engine) Events() *core.EventBus { return e.events }

func (e *Engine) Config() *config.Config { return e.cfg }

func (e *Engine) World() *World { return e.world }

func (e *Engine) Device() renderer.Device { return e.device }

func (e *Engine) Graph() *graph.RenderGraph { return e.graph }

func (e *Engine) Metrics() *core.FrameMetrics { return e.metrics }

func (e *Engine) FrameIndex() uint64 { return e.frameIndex }

func (e *Engine) FramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

func (e *Engine) Initialize() error {
	core.Assert(e.currentStage == EngineStageUninitialized, "Initialize called in stage %s", e.currentStage)
	e.currentStage = EngineStageInitializing
	core.SetLogLevel(e.cfg.Log.Level)
	log := core.Logger().With("session", e.session.String())
	log.Info("initializing", "backend", e.cfg.Backend.Type, "width", e.width, "height", e.height)

	e.events.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onQuit)
	e.events.Register(core.EVENT_CODE_RESIZED, e, e.onResized)
	e.events.Register(core.EVENT_CODE_CONFIG_RELOADED, e, e.onConfigReloaded)

	device, err := e.createDevice()
	if err != nil {
		return fmt.Errorf("failed to create %s device: %w", e.cfg.Backend.Type, err)
	}
	e.device = device
	e.graph = graph.New(device, graph.Options{
		HeapGranularity:   e.cfg.Graph.HeapGranularity,
		MinBlockSize:      e.cfg.Graph.MinBlockSize,
		MaxMemory:         e.cfg.Graph.MaxMemory,
		PlacedResourceTTL: uint64(e.cfg.Graph.PlacedResourceTTL),
		DisableAliasing:   !e.cfg.Graph.Aliasing,
	})

	jobs, err := systems.NewJobSystem(e.cfg.Scene.Workers, int(e.cfg.Scene.Instances/1024)+1)
	if err != nil {
		return err
	}
	e.jobs = jobs

	camera := scene.NewCamera(math.DegToRad(e.cfg.Culling.FovY), e.cfg.Culling.NearPlane)
	e.world = &World{Scene: scene.New(), Camera: camera, Jobs: jobs, Config: e.cfg}
	e.frame = views.NewFrameContext(e.world.Scene, camera, e.width, e.height, views.SettingsFromConfig(e.cfg))

	factories := e.game.Renderers(e.frame)
	if len(factories) == 0 {
		return ErrNoRenderers
	}
	e.renderers = systems.NewRendererSystem(device, factories...)
	if err := e.renderers.Initialize(); err != nil {
		return err
	}

	if e.game.FnInitialize != nil {
		if err := e.game.FnInitialize(e.world); err != nil {
			return err
		}
	}
	// the scene is complete before the first frame
	e.jobs.Wait()

	if e.game.FnOnResize != nil {
		if err := e.game.FnOnResize(e.width, e.height); err != nil {
			return err
		}
	}

	if e.game.ConfigPath != "" {
		w, err := config.NewWatcher(e.game.ConfigPath, e.cfg, nil)
		if err != nil {
			core.LogWarn("config hot reload disabled: %s", err)
		} else {
			e.watcher = w
			e.cfg = w.Current()
			e.world.Config = e.cfg
		}
	}

	e.currentStage = EngineStageInitialized
	log.Info("initialized", "instances", e.world.Scene.InstanceCount(), "renderers", len(factories))
	return nil
}

func (e *Engine) createDevice() (renderer.Device, error) {
	switch strings.ToLower(e.cfg.Backend.Type) {
	case config.BackendVulkan:
		e.platform = platform.New(e.events)
		app := e.cfg.Application
		if err := e.platform.Startup(app.Name, app.StartPosX, app.StartPosY, app.Width, app.Height); err != nil {
			return nil, err
		}
		e.width, e.height = e.platform.FramebufferSize()
		return vulkan.New(e.platform, vulkan.Options{
			ApplicationName: app.Name,
			Validation:      e.cfg.Backend.Validation,
			VSync:           e.cfg.Backend.VSync,
			ShaderDir:       e.cfg.Backend.ShaderDir,
			Width:           e.width,
			Height:          e.height,
		})
	default:
		opts := append(views.SoftKernels(), soft.WithWorkers(runtime.NumCPU()))
		dev := soft.NewDevice(opts...)
		if err := dev.Resize(e.width, e.height); err != nil {
			return nil, err
		}
		return dev, nil
	}
}

// RunFrame updates the game and renders one frame.
func (e *Engine) RunFrame(delta float64) error {
	core.Assert(e.currentStage == EngineStageInitialized || e.currentStage == EngineStageRunning,
		"RunFrame called in stage %s", e.currentStage)
	e.applyConfig()

	start := e.clock.Elapsed()
	e.clock.Update()

	if e.game.FnUpdate != nil {
		if err := e.game.FnUpdate(e.world, delta); err != nil {
			return fmt.Errorf("game update failed: %w", err)
		}
	}

	e.frameIndex++
	e.frame.Settings = views.SettingsFromConfig(e.cfg)
	e.frame.BeginFrame(e.frameIndex)
	if err := e.renderers.DrawFrame(e.graph); err != nil {
		return err
	}

	e.clock.Update()
	e.metrics.Update(e.clock.Elapsed() - start)
	e.logStats()
	e.dumpHZB()
	return nil
}

// Run drives frames until ctx is cancelled, the application quits or the
// configured frame limit is reached.
func (e *Engine) Run(ctx context.Context) error {
	e.currentStage = EngineStageRunning
	e.isRunning = true
	e.clock.Start()
	e.lastTime = e.clock.Elapsed()

	limit := e.cfg.Application.FrameLimit
	for e.isRunning {
		select {
		case <-ctx.Done():
			core.LogInfo("context done, stopping after %d frames", e.frameIndex)
			return nil
		default:
		}

		if e.platform != nil && !e.platform.PumpMessages() {
			e.isRunning = false
			break
		}
		if e.isSuspended {
			continue
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime
		e.lastTime = currentTime

		if err := e.RunFrame(delta); err != nil {
			core.LogError("frame %d failed: %s", e.frameIndex+1, err)
			return err
		}
		if limit > 0 && e.frameIndex >= limit {
			core.LogInfo("frame limit of %d reached", limit)
			e.isRunning = false
		}
	}
	return nil
}

func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShutdown || e.currentStage == EngineStageUninitialized {
		return nil
	}
	e.currentStage = EngineStageShuttingDown
	e.isRunning = false

	var errs []error
	if e.watcher != nil {
		errs = append(errs, e.watcher.Close())
	}
	if e.game.FnShutdown != nil {
		errs = append(errs, e.game.FnShutdown())
	}
	if e.jobs != nil {
		e.jobs.Shutdown()
	}
	if e.renderers != nil {
		errs = append(errs, e.renderers.Shutdown())
	}
	if e.graph != nil {
		e.graph.Release()
	}
	if e.device != nil {
		errs = append(errs, e.device.Destroy())
	}
	if e.platform != nil {
		errs = append(errs, e.platform.Shutdown())
	}
	e.events.Unregister(core.EVENT_CODE_APPLICATION_QUIT, e)
	e.events.Unregister(core.EVENT_CODE_RESIZED, e)
	e.events.Unregister(core.EVENT_CODE_CONFIG_RELOADED, e)

	e.currentStage = EngineStageShutdown
	core.Logger().Info("shut down", "session", e.session.String(), "frames", e.frameIndex)
	return errors.Join(errs...)
}

// applyConfig picks up a reloaded configuration at the frame boundary.
func (e *Engine) applyConfig() {
	if e.watcher == nil {
		return
	}
	if next := e.watcher.Current(); next != e.cfg {
		e.events.Fire(core.EventContext{Type: core.EVENT_CODE_CONFIG_RELOADED, Data: next})
	}
}

func (e *Engine) logStats() {
	interval := e.cfg.Debug.StatsInterval
	if interval == 0 || e.frameIndex%interval != 0 {
		return
	}
	core.Logger().Info("frame stats",
		"frame", e.frameIndex,
		"fps", e.metrics.FPS(),
		"ms", fmt.Sprintf("%.3f", e.metrics.FrameTime()),
		"graph", e.graph.Stats().String(),
	)
}

func (e *Engine) dumpHZB() {
	dbg := e.cfg.Debug
	if !dbg.DumpHZB || dbg.DumpInterval == 0 || e.frameIndex%dbg.DumpInterval != 0 {
		return
	}
	h := e.frame.Resources.HZB
	if !h.IsValid() {
		return
	}
	tex, err := e.graph.ResolveTexture(h)
	if err != nil {
		core.LogWarn("failed to resolve the HZB: %s", err)
		return
	}
	files, err := culling.DumpHZB(e.device, tex, dbg.DumpDir, e.frameIndex)
	if err != nil {
		core.LogWarn("failed to dump the HZB: %s", err)
		return
	}
	core.LogDebug("dumped %d HZB mips of frame %d", len(files), e.frameIndex)
}

func (e *Engine) onQuit(ctx core.EventContext) bool {
	core.LogInfo("quit requested, shutting down")
	e.isRunning = false
	return true
}

func (e *Engine) onResized(ctx core.EventContext) bool {
	re, ok := ctx.Data.(*core.ResizeEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", ctx.Type)
		return false
	}
	if re.Width == e.width && re.Height == e.height {
		return true
	}

	if re.Width == 0 || re.Height == 0 {
		core.LogInfo("window minimized, suspending application")
		e.isSuspended = true
		return true
	}
	if e.isSuspended {
		core.LogInfo("window restored, resuming application")
		e.isSuspended = false
	}

	core.LogDebug("resize: %dx%d", re.Width, re.Height)
	e.width, e.height = re.Width, re.Height
	if err := e.device.Resize(re.Width, re.Height); err != nil {
		core.LogError("failed to resize the device: %s", err)
	}
	// frame resources follow the new size on the next Setup
	e.frame.Resize(re.Width, re.Height)
	if e.game.FnOnResize != nil {
		if err := e.game.FnOnResize(re.Width, re.Height); err != nil {
			core.LogError(err.Error())
		}
	}
	return true
}

func (e *Engine) onConfigReloaded(ctx core.EventContext) bool {
	next, ok := ctx.Data.(*config.Config)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", ctx.Type)
		return false
	}
	if next.Log.Level != e.cfg.Log.Level {
		core.SetLogLevel(next.Log.Level)
	}
	e.cfg = next
	e.world.Config = next
	core.LogInfo("configuration reloaded: culling=%t occlusion=%t shadows=%t bloom=%t",
		next.Culling.Enabled, next.Culling.Occlusion, next.Passes.Shadows, next.Passes.Bloom)
	return true
}
