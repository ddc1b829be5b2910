package views

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/culling"
	"github.com/spaghettifunk/prism/engine/renderer/graph"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/scene"
)

const (
	ShaderBasePassVert = "basepass.vert"
	ShaderBasePassFrag = "basepass.frag"
)

type basePassConstants struct {
	View           [16]float32
	ViewProjection [16]float32
	P00            float32
	P11            float32
	Near           float32
	_              uint32
}

/**
 * @brief Fills the G-buffer (albedo, normal, depth) with two-phase GPU culling:
 * draw what survives the previous frame's HZB, rebuild the HZB from that depth,
 * retest what was occluded and draw the newly visible remainder. The HZB is
 * rebuilt once more at the end for the next frame.
 */
type BasePassRenderer struct {
	ctx      *FrameContext
	culling  *culling.Pipeline
	pipeline renderer.GraphicsPipeline

	albedo        graph.TextureHandle
	normal        graph.TextureHandle
	depth         graph.TextureHandle
	hzb           graph.TextureHandle
	drawArgs      graph.BufferHandle
	drawCounts    graph.BufferHandle
	occluded      graph.BufferHandle
	occludedCount graph.BufferHandle
	res           FrameResources
	primitives    uint32
}

func NewBasePassRenderer(ctx *FrameContext) *BasePassRenderer {
	return &BasePassRenderer{ctx: ctx, culling: culling.NewPipeline()}
}

func (r *BasePassRenderer) Name() string { return "basepass" }

func (r *BasePassRenderer) Initialize(device renderer.Device) error {
	if err := r.culling.Initialize(device); err != nil {
		return err
	}
	var err error
	r.pipeline, err = device.CreateGraphicsPipeline(metadata.GraphicsPipelineDesc{
		Name:           "basepass",
		VertexShader:   ShaderBasePassVert,
		FragmentShader: ShaderBasePassFrag,
		VertexStride:   scene.VertexStride,
		ColorFormats:   []metadata.Format{metadata.FormatRGBA8Unorm, metadata.FormatRGBA16Float},
		DepthFormat:    metadata.FormatD32Float,
		DepthTest:      true,
		DepthWrite:     true,
		DepthCompare:   metadata.CompareOpGreater,
		Bindings: []metadata.BindingLayout{
			{Slot: SlotSceneInstances, Type: metadata.BindingTypeStorageBuffer},
		},
		ConstantsSize: uint32(len(renderer.EncodeConstants(basePassConstants{}))),
	})
	if err != nil {
		return fmt.Errorf("failed to create basepass pipeline: %w", err)
	}
	return nil
}

func (r *BasePassRenderer) Shutdown() error {
	r.culling.Destroy()
	if r.pipeline != nil {
		r.pipeline.Destroy()
	}
	return nil
}

func (r *BasePassRenderer) target(g *graph.RenderGraph, name string, format metadata.Format, usage metadata.TextureUsage) graph.TextureHandle {
	h := g.DeclareTexture(metadata.TextureDesc{
		Width:     r.ctx.Width,
		Height:    r.ctx.Height,
		Format:    format,
		Usage:     usage | metadata.TextureUsageSampled | metadata.TextureUsageTransferDst,
		DebugName: name,
	})
	g.WriteTexture(h)
	return h
}

func (r *BasePassRenderer) buffer(g *graph.RenderGraph, name string, size uint64, usage metadata.BufferUsage) graph.BufferHandle {
	h := g.DeclareBuffer(metadata.BufferDesc{
		Size:      size,
		Usage:     usage | metadata.BufferUsageStorage | metadata.BufferUsageTransferDst,
		DebugName: name,
	})
	g.WriteBuffer(h)
	return h
}

func (r *BasePassRenderer) Setup(g *graph.RenderGraph) bool {
	res := &r.ctx.Resources
	r.primitives = 0
	if res.Instances.IsValid() {
		r.primitives = r.ctx.Scene.InstanceCount()
	}
	n := r.primitives

	r.albedo = r.target(g, "gbuffer_albedo", metadata.FormatRGBA8Unorm, metadata.TextureUsageRenderTarget)
	r.normal = r.target(g, "gbuffer_normal", metadata.FormatRGBA16Float, metadata.TextureUsageRenderTarget)
	r.depth = r.target(g, "depth", metadata.FormatD32Float, metadata.TextureUsageDepthStencil)

	// the pyramid follows the render size; a new size re-declares it
	r.hzb = g.DeclarePersistentTexture(culling.HZBDesc(r.ctx.Width, r.ctx.Height))
	g.ReadTexture(r.hzb)
	g.WriteTexture(r.hzb)

	r.drawArgs = r.buffer(g, "draw_args", culling.DrawArgsSize(n), metadata.BufferUsageIndirectArgs)
	r.drawCounts = r.buffer(g, "draw_counts", culling.DrawCountsSize, metadata.BufferUsageIndirectArgs)
	r.occluded = r.buffer(g, "occluded", culling.OccludedSize(n), 0)
	r.occludedCount = r.buffer(g, "occluded_count", culling.OccludedCountSize, 0)

	if n > 0 {
		for _, h := range []graph.BufferHandle{res.Instances, res.Meshes, res.Vertices, res.Indices} {
			g.ReadBuffer(h)
		}
	}
	r.res = *res
	res.Albedo = r.albedo
	res.Normal = r.normal
	res.Depth = r.depth
	res.HZB = r.hzb
	return true
}

type basePassTargets struct {
	albedo, normal, depth, hzb renderer.Texture
	bufs                       culling.Buffers
	vertices, indices          renderer.Buffer
}

func (r *BasePassRenderer) resolveTargets(g *graph.RenderGraph, t *basePassTargets) error {
	textures := []*renderer.Texture{&t.albedo, &t.normal, &t.depth}
	for i, h := range []graph.TextureHandle{r.albedo, r.normal, r.depth} {
		tex, err := g.GetTexture(h, graph.AccessWrite)
		if err != nil {
			return err
		}
		*textures[i] = tex
	}
	return nil
}

func (r *BasePassRenderer) clearTargets(cmd renderer.CommandList, t *basePassTargets) {
	clearColor(cmd, t.albedo, [4]float32{})
	clearColor(cmd, t.normal, [4]float32{})
	clearDepth(cmd, t.depth)
}

func (r *BasePassRenderer) resolve(g *graph.RenderGraph) (*basePassTargets, error) {
	t := &basePassTargets{}
	if err := r.resolveTargets(g, t); err != nil {
		return nil, err
	}
	hzb, err := g.GetTexture(r.hzb, graph.AccessRead|graph.AccessWrite)
	if err != nil {
		return nil, err
	}
	t.hzb = hzb

	out, err := getBuffers(g, graph.AccessWrite, r.drawArgs, r.drawCounts, r.occluded, r.occludedCount)
	if err != nil {
		return nil, err
	}
	in, err := getBuffers(g, graph.AccessRead, r.res.Instances, r.res.Meshes, r.res.Vertices, r.res.Indices)
	if err != nil {
		return nil, err
	}
	t.bufs = culling.Buffers{
		Instances:     in[0],
		Meshes:        in[1],
		DrawArgs:      out[0],
		DrawCounts:    out[1],
		Occluded:      out[2],
		OccludedCount: out[3],
	}
	t.vertices, t.indices = in[2], in[3]
	return t, nil
}

func (r *BasePassRenderer) Render(cmd renderer.CommandList, g *graph.RenderGraph) error {
	n := r.primitives
	if n == 0 {
		// lighting still samples the g-buffer, so it must read as empty sky
		t := &basePassTargets{}
		if err := r.resolveTargets(g, t); err != nil {
			return err
		}
		r.clearTargets(cmd, t)
		return nil
	}
	t, err := r.resolve(g)
	if err != nil {
		return err
	}

	view := r.ctx.CullingView()
	flags := r.ctx.Settings.CullFlags()
	hd := t.hzb.Desc()
	constants := func(phase uint32) culling.Constants {
		return culling.NewConstants(view, n, hd.Width, hd.Height, hd.Mips(), phase, flags)
	}
	draw := &renderer.GraphicsState{
		Pipeline: r.pipeline,
		Bindings: []renderer.Binding{renderer.BindBuffer(SlotSceneInstances, t.bufs.Instances)},
		Constants: renderer.EncodeConstants(basePassConstants{
			View:           view.View.Data,
			ViewProjection: view.View.Mul(view.Projection).Data,
			P00:            view.Projection.Data[0],
			P11:            view.Projection.Data[5],
			Near:           view.Near,
		}),
		ColorTargets: []renderer.Texture{t.albedo, t.normal},
		DepthTarget:  t.depth,
		VertexBuffer: t.vertices,
		IndexBuffer:  t.indices,
	}

	// A pyramid without history would hide everything, so start from "nothing
	// drawn": depth 0 everywhere keeps every primitive visible in phase 0.
	if g.HistoryValid(r.hzb) {
		cmd.ResourceBarrier(t.hzb, metadata.ResourceStateStorageWrite, metadata.ResourceStateShaderRead)
	} else {
		cmd.ResourceBarrier(t.hzb, metadata.ResourceStateStorageWrite, metadata.ResourceStateCopyDst)
		cmd.ClearTexture(t.hzb, [4]float32{})
		cmd.ResourceBarrier(t.hzb, metadata.ResourceStateCopyDst, metadata.ResourceStateShaderRead)
	}

	r.clearTargets(cmd, t)

	r.culling.ResetCounters(cmd, t.bufs)
	for _, phase := range []uint32{culling.PhaseEarly, culling.PhaseLate} {
		cmd.BeginMarker(fmt.Sprintf("phase %d", phase))
		r.culling.Cull(cmd, t.bufs, t.hzb, constants(phase))

		toIndirect(cmd, t.bufs.DrawArgs, t.bufs.DrawCounts)
		cmd.DrawIndexedIndirectCount(draw,
			t.bufs.DrawArgs, culling.DrawArgsOffset(phase, n),
			t.bufs.DrawCounts, culling.DrawCountOffset(phase), n)
		fromIndirect(cmd, t.bufs.DrawArgs, t.bufs.DrawCounts)

		// after the early phase for the retest, after the late one for the next frame
		r.rebuildHZB(cmd, t.depth, t.hzb)
		cmd.EndMarker()
	}

	cmd.ResourceBarrier(t.hzb, metadata.ResourceStateShaderRead, metadata.ResourceStateStorageWrite)
	return nil
}

func (r *BasePassRenderer) rebuildHZB(cmd renderer.CommandList, depth, hzb renderer.Texture) {
	cmd.ResourceBarrier(depth, metadata.ResourceStateDepthWrite, metadata.ResourceStateShaderRead)
	r.culling.BuildHZB(cmd, depth, hzb)
	cmd.ResourceBarrier(depth, metadata.ResourceStateShaderRead, metadata.ResourceStateDepthWrite)
}
