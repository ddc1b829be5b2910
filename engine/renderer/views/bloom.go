package views

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/graph"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

const (
	ShaderBloomDown = "bloom_down.comp"
	ShaderBloomUp   = "bloom_up.comp"

	BloomGroupSize = 8
	bloomThreshold = 1.0
)

const (
	SlotBloomSource uint32 = iota + 1
	SlotBloomTarget
)

type bloomConstants struct {
	SrcWidth  uint32
	SrcHeight uint32
	DstWidth  uint32
	DstHeight uint32
	SrcMip    uint32
	DstMip    uint32
	// 0 for the bright-pass from the HDR image, 1 for plain downsampling
	Mode      uint32
	Threshold float32
}

/**
 * @brief Bloom as a half resolution mip chain: bright-pass into mip 0,
 * 2x2 downsample down the chain, then accumulate back up.
 */
type BloomRenderer struct {
	ctx  *FrameContext
	down renderer.ComputePipeline
	up   renderer.ComputePipeline

	bloom graph.TextureHandle
	hdr   graph.TextureHandle
}

func NewBloomRenderer(ctx *FrameContext) *BloomRenderer {
	return &BloomRenderer{ctx: ctx}
}

func (r *BloomRenderer) Name() string { return "bloom" }

func (r *BloomRenderer) Initialize(device renderer.Device) error {
	bindings := []metadata.BindingLayout{
		{Slot: SlotBloomSource, Type: metadata.BindingTypeSampledTexture},
		{Slot: SlotBloomTarget, Type: metadata.BindingTypeStorageTexture},
	}
	size := uint32(len(renderer.EncodeConstants(bloomConstants{})))

	var err error
	r.down, err = device.CreateComputePipeline(metadata.ComputePipelineDesc{Name: "bloom_down", Shader: ShaderBloomDown, Bindings: bindings, ConstantsSize: size})
	if err != nil {
		return fmt.Errorf("failed to create bloom pipeline: %w", err)
	}
	r.up, err = device.CreateComputePipeline(metadata.ComputePipelineDesc{Name: "bloom_up", Shader: ShaderBloomUp, Bindings: bindings, ConstantsSize: size})
	if err != nil {
		return fmt.Errorf("failed to create bloom pipeline: %w", err)
	}
	return nil
}

func (r *BloomRenderer) Shutdown() error {
	for _, p := range []renderer.ComputePipeline{r.down, r.up} {
		if p != nil {
			p.Destroy()
		}
	}
	return nil
}

func (r *BloomRenderer) Setup(g *graph.RenderGraph) bool {
	res := &r.ctx.Resources
	if !r.ctx.Settings.Bloom || !res.HDR.IsValid() {
		return false
	}
	w, h := max(r.ctx.Width/2, 1), max(r.ctx.Height/2, 1)
	mips := math.Clamp(r.ctx.Settings.BloomMips, 1, math.MipCount(w, h))

	r.hdr = res.HDR
	g.ReadTexture(r.hdr)
	r.bloom = g.DeclareTexture(metadata.TextureDesc{
		Width:     w,
		Height:    h,
		MipLevels: mips,
		Format:    metadata.FormatRGBA16Float,
		Usage:     metadata.TextureUsageStorage | metadata.TextureUsageSampled,
		DebugName: "bloom",
	})
	g.WriteTexture(r.bloom)
	res.Bloom = r.bloom
	return true
}

func (r *BloomRenderer) Render(cmd renderer.CommandList, g *graph.RenderGraph) error {
	hdr, err := g.GetTexture(r.hdr, graph.AccessRead)
	if err != nil {
		return err
	}
	bloom, err := g.GetTexture(r.bloom, graph.AccessWrite)
	if err != nil {
		return err
	}
	bd := bloom.Desc()
	hd := hdr.Desc()

	pass := func(p renderer.ComputePipeline, src renderer.Texture, srcMip, dstMip uint32, c bloomConstants) {
		c.DstWidth, c.DstHeight = bd.MipExtent(dstMip)
		c.SrcMip, c.DstMip = srcMip, dstMip
		cmd.Dispatch(&renderer.ComputeState{
			Pipeline: p,
			Bindings: []renderer.Binding{
				renderer.BindTextureMip(SlotBloomSource, src, srcMip),
				renderer.BindStorageTexture(SlotBloomTarget, bloom, dstMip),
			},
			Constants: renderer.EncodeConstants(c),
		}, math.DivCeil(c.DstWidth, BloomGroupSize), math.DivCeil(c.DstHeight, BloomGroupSize), 1)
		cmd.ResourceBarrier(bloom, metadata.ResourceStateStorageWrite, metadata.ResourceStateStorageWrite)
	}

	pass(r.down, hdr, 0, 0, bloomConstants{SrcWidth: hd.Width, SrcHeight: hd.Height, Threshold: bloomThreshold})
	for mip := uint32(1); mip < bd.Mips(); mip++ {
		sw, sh := bd.MipExtent(mip - 1)
		pass(r.down, bloom, mip-1, mip, bloomConstants{SrcWidth: sw, SrcHeight: sh, Mode: 1})
	}
	for mip := bd.Mips() - 1; mip > 0; mip-- {
		sw, sh := bd.MipExtent(mip)
		pass(r.up, bloom, mip, mip-1, bloomConstants{SrcWidth: sw, SrcHeight: sh})
	}
	return nil
}
