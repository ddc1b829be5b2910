package engine

import (
	"github.com/spaghettifunk/prism/engine/config"
	"github.com/spaghettifunk/prism/engine/renderer/views"
	"github.com/spaghettifunk/prism/engine/scene"
	"github.com/spaghettifunk/prism/engine/systems"
)

/**
 * @brief What the game sees of the engine: the scene it fills, the camera it
 * drives and the worker pool used for bulk scene work.
 */
type World struct {
	Scene  *scene.Scene
	Camera *scene.Camera
	Jobs   *systems.JobSystem
	Config *config.Config
}

type Game struct {
	Config *config.Config
	// ConfigPath is watched for runtime changes when not empty.
	ConfigPath string
	// Renderers lists the frame's renderers in pass order.
	Renderers RendererList
	State     interface{}

	FnInitialize Initialize
	FnUpdate     Update
	FnOnResize   OnResize
	FnShutdown   Shutdown
}

type RendererList func(ctx *views.FrameContext) []systems.RendererFactory
type Initialize func(world *World) error
type Update func(world *World, deltaTime float64) error
type OnResize func(width uint32, height uint32) error
type Shutdown func() error
