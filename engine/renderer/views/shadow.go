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
	ShaderShadowVert = "shadow.vert"

	// Binding slots shared by the scene raster pipelines.
	SlotSceneInstances uint32 = 1
)

type shadowConstants struct {
	LightViewProjection [16]float32
}

/**
 * @brief Renders every instance into a directional light depth map (reversed-Z,
 * orthographic). Draws are generated on the GPU by culling.Pipeline.DrawAll.
 */
type ShadowRenderer struct {
	ctx      *FrameContext
	culling  *culling.Pipeline
	pipeline renderer.GraphicsPipeline

	shadowMap graph.TextureHandle
	args      graph.BufferHandle
	count     graph.BufferHandle
	res       FrameResources
}

func NewShadowRenderer(ctx *FrameContext) *ShadowRenderer {
	return &ShadowRenderer{ctx: ctx, culling: culling.NewPipeline()}
}

func (r *ShadowRenderer) Name() string { return "shadows" }

func (r *ShadowRenderer) Initialize(device renderer.Device) error {
	if err := r.culling.Initialize(device); err != nil {
		return err
	}
	var err error
	r.pipeline, err = device.CreateGraphicsPipeline(metadata.GraphicsPipelineDesc{
		Name:         "shadow",
		VertexShader: ShaderShadowVert,
		VertexStride: scene.VertexStride,
		DepthFormat:  metadata.FormatD32Float,
		DepthTest:    true,
		DepthWrite:   true,
		DepthCompare: metadata.CompareOpGreater,
		Bindings: []metadata.BindingLayout{
			{Slot: SlotSceneInstances, Type: metadata.BindingTypeStorageBuffer},
		},
		ConstantsSize: uint32(len(renderer.EncodeConstants(shadowConstants{}))),
	})
	if err != nil {
		return fmt.Errorf("failed to create shadow pipeline: %w", err)
	}
	return nil
}

func (r *ShadowRenderer) Shutdown() error {
	r.culling.Destroy()
	if r.pipeline != nil {
		r.pipeline.Destroy()
	}
	return nil
}

func (r *ShadowRenderer) Setup(g *graph.RenderGraph) bool {
	res := &r.ctx.Resources
	if !r.ctx.Settings.Shadows || !res.Instances.IsValid() {
		return false
	}
	n := r.ctx.Scene.InstanceCount()
	size := max(r.ctx.Settings.ShadowMapSize, 1)

	r.shadowMap = g.DeclareTexture(metadata.TextureDesc{
		Width:     size,
		Height:    size,
		Format:    metadata.FormatD32Float,
		Usage:     metadata.TextureUsageDepthStencil | metadata.TextureUsageSampled | metadata.TextureUsageTransferDst,
		DebugName: "shadow_map",
	})
	r.args = g.DeclareBuffer(metadata.BufferDesc{
		Size:      uint64(n) * metadata.DrawIndexedIndirectCommandSize,
		Stride:    metadata.DrawIndexedIndirectCommandSize,
		Usage:     metadata.BufferUsageStorage | metadata.BufferUsageIndirectArgs,
		DebugName: "shadow_draw_args",
	})
	r.count = g.DeclareBuffer(metadata.BufferDesc{
		Size:      4,
		Usage:     metadata.BufferUsageStorage | metadata.BufferUsageIndirectArgs,
		DebugName: "shadow_draw_count",
	})
	g.WriteTexture(r.shadowMap)
	g.WriteBuffer(r.args)
	g.WriteBuffer(r.count)
	for _, h := range []graph.BufferHandle{res.Instances, res.Meshes, res.Vertices, res.Indices} {
		g.ReadBuffer(h)
	}
	r.res = *res
	res.ShadowMap = r.shadowMap
	return true
}

func (r *ShadowRenderer) Render(cmd renderer.CommandList, g *graph.RenderGraph) error {
	n := r.ctx.Scene.InstanceCount()
	shadowMap, err := g.GetTexture(r.shadowMap, graph.AccessWrite)
	if err != nil {
		return err
	}
	b, err := getBuffers(g, graph.AccessRead, r.res.Instances, r.res.Meshes, r.res.Vertices, r.res.Indices)
	if err != nil {
		return err
	}
	instances, meshes, vertices, indices := b[0], b[1], b[2], b[3]
	out, err := getBuffers(g, graph.AccessWrite, r.args, r.count)
	if err != nil {
		return err
	}
	args, count := out[0], out[1]

	r.culling.DrawAll(cmd, instances, meshes, args, count, n)
	toIndirect(cmd, args, count)

	clearDepth(cmd, shadowMap)
	cmd.DrawIndexedIndirectCount(&renderer.GraphicsState{
		Pipeline:     r.pipeline,
		Bindings:     []renderer.Binding{renderer.BindBuffer(SlotSceneInstances, instances)},
		Constants:    renderer.EncodeConstants(shadowConstants{LightViewProjection: r.ctx.LightViewProjection().Data}),
		DepthTarget:  shadowMap,
		VertexBuffer: vertices,
		IndexBuffer:  indices,
	}, args, 0, count, 0, n)

	fromIndirect(cmd, args, count)
	return nil
}
