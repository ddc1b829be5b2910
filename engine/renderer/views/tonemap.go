package views

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/graph"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

const (
	ShaderTonemap = "tonemap.comp"

	TonemapGroupSize = 8
	bloomStrength    = 0.04
)

const (
	SlotTonemapHDR uint32 = iota + 1
	SlotTonemapBloom
	SlotTonemapOutput
)

type tonemapConstants struct {
	Exposure      float32
	BloomStrength float32
	Width         uint32
	Height        uint32
	BloomEnabled  uint32
	_             [3]uint32
}

/**
 * @brief Maps the HDR image (plus bloom) to the displayable output with an
 * exposure-scaled ACES fit. The output is persistent and marked for present.
 */
type TonemapRenderer struct {
	ctx      *FrameContext
	pipeline renderer.ComputePipeline

	output graph.TextureHandle
	res    FrameResources
}

func NewTonemapRenderer(ctx *FrameContext) *TonemapRenderer {
	return &TonemapRenderer{ctx: ctx}
}

func (r *TonemapRenderer) Name() string { return "tonemap" }

func (r *TonemapRenderer) Initialize(device renderer.Device) error {
	var err error
	r.pipeline, err = device.CreateComputePipeline(metadata.ComputePipelineDesc{
		Name:   "tonemap",
		Shader: ShaderTonemap,
		Bindings: []metadata.BindingLayout{
			{Slot: SlotTonemapHDR, Type: metadata.BindingTypeSampledTexture},
			{Slot: SlotTonemapBloom, Type: metadata.BindingTypeSampledTexture},
			{Slot: SlotTonemapOutput, Type: metadata.BindingTypeStorageTexture},
		},
		ConstantsSize: uint32(len(renderer.EncodeConstants(tonemapConstants{}))),
	})
	if err != nil {
		return fmt.Errorf("failed to create tonemap pipeline: %w", err)
	}
	return nil
}

func (r *TonemapRenderer) Shutdown() error {
	if r.pipeline != nil {
		r.pipeline.Destroy()
	}
	return nil
}

func (r *TonemapRenderer) Setup(g *graph.RenderGraph) bool {
	res := &r.ctx.Resources
	if !res.HDR.IsValid() {
		return false
	}
	g.ReadTexture(res.HDR)
	if res.Bloom.IsValid() {
		g.ReadTexture(res.Bloom)
	}
	r.output = g.DeclarePersistentTexture(metadata.TextureDesc{
		Width:     r.ctx.Width,
		Height:    r.ctx.Height,
		Format:    metadata.FormatRGBA8Unorm,
		Usage:     metadata.TextureUsageStorage | metadata.TextureUsageSampled | metadata.TextureUsageTransferSrc,
		DebugName: "output",
	})
	g.WriteTexture(r.output)
	g.SetPresentTexture(r.output)

	r.res = *res
	res.Output = r.output
	return true
}

func (r *TonemapRenderer) Render(cmd renderer.CommandList, g *graph.RenderGraph) error {
	hdr, err := g.GetTexture(r.res.HDR, graph.AccessRead)
	if err != nil {
		return err
	}
	bloom := hdr
	hasBloom := r.res.Bloom.IsValid()
	if hasBloom {
		if bloom, err = g.GetTexture(r.res.Bloom, graph.AccessRead); err != nil {
			return err
		}
	}
	output, err := g.GetTexture(r.output, graph.AccessWrite)
	if err != nil {
		return err
	}

	c := tonemapConstants{
		Exposure:      r.ctx.Settings.Exposure,
		BloomStrength: bloomStrength,
		Width:         r.ctx.Width,
		Height:        r.ctx.Height,
	}
	if hasBloom {
		c.BloomEnabled = 1
	}
	cmd.Dispatch(&renderer.ComputeState{
		Pipeline: r.pipeline,
		Bindings: []renderer.Binding{
			renderer.BindTexture(SlotTonemapHDR, hdr),
			renderer.BindTexture(SlotTonemapBloom, bloom),
			renderer.BindStorageTexture(SlotTonemapOutput, output, 0),
		},
		Constants: renderer.EncodeConstants(c),
	}, math.DivCeil(r.ctx.Width, TonemapGroupSize), math.DivCeil(r.ctx.Height, TonemapGroupSize), 1)
	return nil
}
