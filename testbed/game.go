package testbed

import (
	"github.com/chewxy/math32"
	"github.com/spaghettifunk/prism/engine"
	"github.com/spaghettifunk/prism/engine/config"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/scene"
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	elapsed     float64
	orbitRadius float32
	orbitSpeed  float32

	// a wide box sweeping in front of the camera, hiding and revealing the scene
	wall      uint32
	wallXform *math.Transform
	width     uint32
	height    uint32
}

func NewTestGame(cfg *config.Config, configPath string, renderers engine.RendererList) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			Config:     cfg,
			ConfigPath: configPath,
			Renderers:  renderers,
			State: &gameState{
				orbitRadius: cfg.Scene.Extent * 1.2,
				orbitSpeed:  0.1,
			},
		},
	}
	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown
	return tg
}

func (g *TestGame) Initialize(w *engine.World) error {
	core.LogDebug("TestGame Initialize fn....")
	state := g.State.(*gameState)

	if err := scene.Generate(w.Jobs, w.Scene, scene.GeneratorConfig{
		Seed:      w.Config.Scene.Seed,
		Instances: w.Config.Scene.Instances,
		Extent:    w.Config.Scene.Extent,
		Ground:    true,
	}); err != nil {
		return err
	}

	state.wallXform = math.TransformFromPosition(math.NewVec3(0, 3, 0))
	state.wallXform.SetScale(math.NewVec3(w.Config.Scene.Extent*0.4, 6, 1))
	wall, err := w.Scene.AddInstance(scene.MeshCube, state.wallTransform(0), 7)
	if err != nil {
		return err
	}
	state.wall = wall

	g.placeCamera(w.Camera, 0)
	return nil
}

func (s *gameState) wallTransform(t float64) math.Mat4 {
	x := math32.Sin(float32(t)*0.3) * s.orbitRadius * 0.5
	s.wallXform.SetPosition(math.NewVec3(x, s.wallXform.Scale.Y*0.5, 0))
	return s.wallXform.GetWorld()
}

func (g *TestGame) placeCamera(cam *scene.Camera, t float64) {
	state := g.State.(*gameState)
	angle := float32(t) * state.orbitSpeed
	r := state.orbitRadius
	cam.SetPosition(math.NewVec3(math32.Sin(angle)*r, r*0.25, -math32.Cos(angle)*r))
	cam.LookAt(math.NewVec3Zero())
}

func (g *TestGame) Update(w *engine.World, deltaTime float64) error {
	state := g.State.(*gameState)
	state.elapsed += deltaTime

	g.placeCamera(w.Camera, state.elapsed)
	w.Scene.SetTransform(state.wall, state.wallTransform(state.elapsed))
	return nil
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	state := g.State.(*gameState)
	state.width = width
	state.height = height
	return nil
}

func (g *TestGame) Shutdown() error {
	core.LogInfo("testbed shut down after %.2fs", g.State.(*gameState).elapsed)
	return nil
}
