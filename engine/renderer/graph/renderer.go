package graph

import "github.com/spaghettifunk/prism/engine/renderer"

/**
 * @brief A unit of frame work. Setup declares resources and their accesses and
 * reports whether the renderer takes part in this frame; Render records the
 * work of an active renderer, resolving the handles it declared. Resources are
 * handed to Render in the state their declared access requires and must be left
 * in that state.
 */
type Renderer interface {
	Name() string
	Initialize(device renderer.Device) error
	Setup(g *RenderGraph) bool
	Render(cmd renderer.CommandList, g *RenderGraph) error
}

// Shutdowner is implemented by renderers holding device objects of their own.
type Shutdowner interface {
	Shutdown() error
}
