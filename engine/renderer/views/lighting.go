package views

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/graph"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

const ShaderLighting = "lighting.comp"

const LightingGroupSize = 8

// Lighting binding slots.
const (
	SlotLightingAlbedo uint32 = iota + 1
	SlotLightingNormal
	SlotLightingDepth
	SlotLightingShadow
	SlotLightingOutput
)

type lightingConstants struct {
	InverseView         [16]float32
	LightViewProjection [16]float32
	// xyz: direction towards the light in view space
	LightDirection [4]float32
	P00            float32
	P11            float32
	Near           float32
	Width          uint32
	Height         uint32
	ShadowsEnabled uint32
	_              [2]uint32
}

/**
 * @brief Deferred sun and ambient lighting of the G-buffer into an HDR target.
 * Samples the shadow map when the shadow pass ran this frame.
 */
type LightingRenderer struct {
	ctx      *FrameContext
	pipeline renderer.ComputePipeline

	hdr graph.TextureHandle
	res FrameResources
}

func NewLightingRenderer(ctx *FrameContext) *LightingRenderer {
	return &LightingRenderer{ctx: ctx}
}

func (r *LightingRenderer) Name() string { return "lighting" }

func (r *LightingRenderer) Initialize(device renderer.Device) error {
	var err error
	r.pipeline, err = device.CreateComputePipeline(metadata.ComputePipelineDesc{
		Name:   "lighting",
		Shader: ShaderLighting,
		Bindings: []metadata.BindingLayout{
			{Slot: SlotLightingAlbedo, Type: metadata.BindingTypeSampledTexture},
			{Slot: SlotLightingNormal, Type: metadata.BindingTypeSampledTexture},
			{Slot: SlotLightingDepth, Type: metadata.BindingTypeSampledTexture},
			{Slot: SlotLightingShadow, Type: metadata.BindingTypeSampledTexture},
			{Slot: SlotLightingOutput, Type: metadata.BindingTypeStorageTexture},
		},
		ConstantsSize: uint32(len(renderer.EncodeConstants(lightingConstants{}))),
	})
	if err != nil {
		return fmt.Errorf("failed to create lighting pipeline: %w", err)
	}
	return nil
}

func (r *LightingRenderer) Shutdown() error {
	if r.pipeline != nil {
		r.pipeline.Destroy()
	}
	return nil
}

func (r *LightingRenderer) Setup(g *graph.RenderGraph) bool {
	res := &r.ctx.Resources
	if !res.Albedo.IsValid() {
		return false
	}
	g.ReadTexture(res.Albedo)
	g.ReadTexture(res.Normal)
	g.ReadTexture(res.Depth)
	if res.ShadowMap.IsValid() {
		g.ReadTexture(res.ShadowMap)
	}
	r.hdr = g.DeclareTexture(metadata.TextureDesc{
		Width:     r.ctx.Width,
		Height:    r.ctx.Height,
		Format:    metadata.FormatRGBA16Float,
		Usage:     metadata.TextureUsageStorage | metadata.TextureUsageSampled,
		DebugName: "hdr",
	})
	g.WriteTexture(r.hdr)

	r.res = *res
	res.HDR = r.hdr
	return true
}

func (r *LightingRenderer) Render(cmd renderer.CommandList, g *graph.RenderGraph) error {
	var inputs [4]renderer.Texture
	for i, h := range []graph.TextureHandle{r.res.Albedo, r.res.Normal, r.res.Depth} {
		tex, err := g.GetTexture(h, graph.AccessRead)
		if err != nil {
			return err
		}
		inputs[i] = tex
	}
	shadows := r.res.ShadowMap.IsValid()
	if shadows {
		tex, err := g.GetTexture(r.res.ShadowMap, graph.AccessRead)
		if err != nil {
			return err
		}
		inputs[3] = tex
	} else {
		// any readable texture keeps the binding valid; the shader ignores it
		inputs[3] = inputs[2]
	}
	hdr, err := g.GetTexture(r.hdr, graph.AccessWrite)
	if err != nil {
		return err
	}

	view := r.ctx.CullingView()
	toLight := r.ctx.LightDirection.MulScalar(-1)
	lightView := view.View
	lightView.Data[12], lightView.Data[13], lightView.Data[14] = 0, 0, 0
	dir := toLight.Transform(lightView).Normalized()

	c := lightingConstants{
		InverseView:         view.View.Inverse().Data,
		LightViewProjection: r.ctx.LightViewProjection().Data,
		LightDirection:      [4]float32{dir.X, dir.Y, dir.Z, 0},
		P00:                 view.Projection.Data[0],
		P11:                 view.Projection.Data[5],
		Near:                view.Near,
		Width:               r.ctx.Width,
		Height:              r.ctx.Height,
	}
	if shadows {
		c.ShadowsEnabled = 1
	}
	cmd.Dispatch(&renderer.ComputeState{
		Pipeline: r.pipeline,
		Bindings: []renderer.Binding{
			renderer.BindTexture(SlotLightingAlbedo, inputs[0]),
			renderer.BindTexture(SlotLightingNormal, inputs[1]),
			renderer.BindTexture(SlotLightingDepth, inputs[2]),
			renderer.BindTexture(SlotLightingShadow, inputs[3]),
			renderer.BindStorageTexture(SlotLightingOutput, hdr, 0),
		},
		Constants: renderer.EncodeConstants(c),
	}, math.DivCeil(r.ctx.Width, LightingGroupSize), math.DivCeil(r.ctx.Height, LightingGroupSize), 1)
	return nil
}
