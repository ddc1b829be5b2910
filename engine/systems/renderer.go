package systems

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/graph"
)

// RendererFactory builds one renderer of the frame. Factories are listed
// explicitly by the application; their order is the pass order.
type RendererFactory func() graph.Renderer

/**
 * @brief Owns the renderers of the frame and drives them through the graph:
 * schedule, compile, record, execute and present.
 */
type RendererSystem struct {
	device    renderer.Device
	renderers []graph.Renderer
	scheduled []graph.Renderer

	initialized bool
}

func NewRendererSystem(device renderer.Device, factories ...RendererFactory) *RendererSystem {
	rs := &RendererSystem{device: device}
	for _, f := range factories {
		rs.renderers = append(rs.renderers, f())
	}
	return rs
}

func (rs *RendererSystem) Initialize() error {
	for _, r := range rs.renderers {
		if err := r.Initialize(rs.device); err != nil {
			return fmt.Errorf("failed to initialize renderer %q: %w", r.Name(), err)
		}
		core.LogDebug("renderer %q initialized", r.Name())
	}
	rs.initialized = true
	return nil
}

func (rs *RendererSystem) Renderers() []graph.Renderer { return rs.renderers }

// Schedule runs Setup for every renderer in order and returns how many are
// active this frame. The graph must have been Reset.
func (rs *RendererSystem) Schedule(g *graph.RenderGraph) int {
	rs.scheduled = rs.scheduled[:0]
	for _, r := range rs.renderers {
		if g.ScheduleRenderer(r) {
			rs.scheduled = append(rs.scheduled, r)
		}
	}
	return len(rs.scheduled)
}

// Scheduled returns the names of the active renderers in pass order.
func (rs *RendererSystem) Scheduled() []string {
	names := make([]string, len(rs.scheduled))
	for i, r := range rs.scheduled {
		names[i] = r.Name()
	}
	return names
}

// Record records every scheduled pass into cmd. The graph must be compiled.
func (rs *RendererSystem) Record(cmd renderer.CommandList, g *graph.RenderGraph) error {
	for i, r := range rs.scheduled {
		if err := g.BeginPass(i, cmd); err != nil {
			return fmt.Errorf("failed to begin pass %q: %w", r.Name(), err)
		}
		err := r.Render(cmd, g)
		g.EndPass()
		if err != nil {
			return fmt.Errorf("renderer %q failed: %w", r.Name(), err)
		}
	}
	return nil
}

// DrawFrame builds, executes and presents one frame.
func (rs *RendererSystem) DrawFrame(g *graph.RenderGraph) error {
	core.Assert(rs.initialized, "DrawFrame called before Initialize")

	g.Reset()
	rs.Schedule(g)
	if err := g.Compile(); err != nil {
		return fmt.Errorf("failed to compile the render graph: %w", err)
	}

	cmd, err := rs.device.CreateCommandList()
	if err != nil {
		return err
	}
	if err := cmd.Open(); err != nil {
		return err
	}
	if err := rs.Record(cmd, g); err != nil {
		return err
	}
	if err := cmd.Close(); err != nil {
		return err
	}
	if err := rs.device.Execute(cmd); err != nil {
		return fmt.Errorf("failed to execute frame %d: %w", g.FrameIndex(), err)
	}
	if err := rs.device.WaitForIdle(); err != nil {
		return fmt.Errorf("failed to wait for frame %d: %w", g.FrameIndex(), err)
	}

	out, err := g.PresentTexture()
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return rs.device.Present(out)
}

// Shutdown releases renderer-owned device objects in reverse order.
func (rs *RendererSystem) Shutdown() error {
	if err := rs.device.WaitForIdle(); err != nil {
		return err
	}
	for i := len(rs.renderers) - 1; i >= 0; i-- {
		s, ok := rs.renderers[i].(graph.Shutdowner)
		if !ok {
			continue
		}
		if err := s.Shutdown(); err != nil {
			return fmt.Errorf("failed to shut down renderer %q: %w", rs.renderers[i].Name(), err)
		}
	}
	rs.initialized = false
	return nil
}
