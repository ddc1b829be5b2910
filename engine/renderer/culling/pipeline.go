package culling

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// Shader entry points of the culling pipeline.
const (
	ShaderCull      = "cull.comp"
	ShaderHZBInit   = "hzb_init.comp"
	ShaderHZBReduce = "hzb_reduce.comp"
	ShaderDrawAll   = "draw_all.comp"
)

const (
	CullGroupSize = 64
	HZBGroupSize  = 8
)

// Binding slots of the cull dispatch.
const (
	SlotInstances uint32 = iota + 1
	SlotMeshes
	SlotDrawArgs
	SlotDrawCounts
	SlotOccluded
	SlotOccludedCount
	SlotHZB
)

// Binding slots of the HZB dispatches.
const (
	SlotHZBSource uint32 = iota + 1
	SlotHZBTarget
)

/**
 * @brief The buffers shared by both cull phases.
 * DrawArgs holds two regions of n commands, one per phase, and DrawCounts one
 * counter per phase, so the late phase never re-issues early draws.
 */
type Buffers struct {
	Instances     renderer.Buffer
	Meshes        renderer.Buffer
	DrawArgs      renderer.Buffer
	DrawCounts    renderer.Buffer
	Occluded      renderer.Buffer
	OccludedCount renderer.Buffer
}

// Buffer sizes for n primitives; never zero so they can always be declared.
func DrawArgsSize(n uint32) uint64 {
	return 2 * uint64(max(n, 1)) * metadata.DrawIndexedIndirectCommandSize
}

func OccludedSize(n uint32) uint64 { return 4 * uint64(max(n, 1)) }

const (
	DrawCountsSize    = 8
	OccludedCountSize = 4
)

// DrawArgsOffset is where the commands of phase start.
func DrawArgsOffset(phase, n uint32) uint64 {
	return uint64(phase) * uint64(n) * metadata.DrawIndexedIndirectCommandSize
}

func DrawCountOffset(phase uint32) uint64 { return uint64(phase) * 4 }

type drawAllConstants struct {
	Count uint32
	_     [3]uint32
}

type hzbConstants struct {
	SrcWidth  uint32
	SrcHeight uint32
	DstWidth  uint32
	DstHeight uint32
	SrcMip    uint32
	_         [3]uint32
}

// HZBSize is the pyramid extent for a render target: the previous power of two.
func HZBSize(width, height uint32) (uint32, uint32) {
	return math.PreviousPow2(max(width, 1)), math.PreviousPow2(max(height, 1))
}

// HZBDesc describes the depth pyramid for a render target size.
func HZBDesc(width, height uint32) metadata.TextureDesc {
	w, h := HZBSize(width, height)
	return metadata.TextureDesc{
		Width:     w,
		Height:    h,
		MipLevels: math.MipCount(w, h),
		Format:    metadata.FormatR32Float,
		Usage:     metadata.TextureUsageSampled | metadata.TextureUsageStorage | metadata.TextureUsageTransferDst,
		DebugName: "hzb",
	}
}

/**
 * @brief The compute side of GPU-driven culling: the cull dispatch and the depth
 * pyramid build. It owns only its pipelines; every buffer and texture comes
 * from the caller.
 */
type Pipeline struct {
	cull      renderer.ComputePipeline
	hzbInit   renderer.ComputePipeline
	hzbReduce renderer.ComputePipeline
	drawAll   renderer.ComputePipeline
}

func NewPipeline() *Pipeline {
	return &Pipeline{}
}

func (p *Pipeline) Initialize(device renderer.Device) error {
	var err error
	p.cull, err = device.CreateComputePipeline(metadata.ComputePipelineDesc{
		Name:   "cull",
		Shader: ShaderCull,
		Bindings: []metadata.BindingLayout{
			{Slot: SlotInstances, Type: metadata.BindingTypeStorageBuffer},
			{Slot: SlotMeshes, Type: metadata.BindingTypeStorageBuffer},
			{Slot: SlotDrawArgs, Type: metadata.BindingTypeStorageBuffer},
			{Slot: SlotDrawCounts, Type: metadata.BindingTypeStorageBuffer},
			{Slot: SlotOccluded, Type: metadata.BindingTypeStorageBuffer},
			{Slot: SlotOccludedCount, Type: metadata.BindingTypeStorageBuffer},
			{Slot: SlotHZB, Type: metadata.BindingTypeSampledTexture},
		},
		ConstantsSize: uint32(len(renderer.EncodeConstants(Constants{}))),
	})
	if err != nil {
		return fmt.Errorf("failed to create cull pipeline: %w", err)
	}

	hzbBindings := []metadata.BindingLayout{
		{Slot: SlotHZBSource, Type: metadata.BindingTypeSampledTexture},
		{Slot: SlotHZBTarget, Type: metadata.BindingTypeStorageTexture},
	}
	hzbConstantsSize := uint32(len(renderer.EncodeConstants(hzbConstants{})))
	p.hzbInit, err = device.CreateComputePipeline(metadata.ComputePipelineDesc{
		Name:          "hzb_init",
		Shader:        ShaderHZBInit,
		Bindings:      hzbBindings,
		ConstantsSize: hzbConstantsSize,
	})
	if err != nil {
		return fmt.Errorf("failed to create hzb init pipeline: %w", err)
	}
	p.hzbReduce, err = device.CreateComputePipeline(metadata.ComputePipelineDesc{
		Name:          "hzb_reduce",
		Shader:        ShaderHZBReduce,
		Bindings:      hzbBindings,
		ConstantsSize: hzbConstantsSize,
	})
	if err != nil {
		return fmt.Errorf("failed to create hzb reduce pipeline: %w", err)
	}
	p.drawAll, err = device.CreateComputePipeline(metadata.ComputePipelineDesc{
		Name:   "draw_all",
		Shader: ShaderDrawAll,
		Bindings: []metadata.BindingLayout{
			{Slot: SlotInstances, Type: metadata.BindingTypeStorageBuffer},
			{Slot: SlotMeshes, Type: metadata.BindingTypeStorageBuffer},
			{Slot: SlotDrawArgs, Type: metadata.BindingTypeStorageBuffer},
			{Slot: SlotDrawCounts, Type: metadata.BindingTypeStorageBuffer},
		},
		ConstantsSize: uint32(len(renderer.EncodeConstants(drawAllConstants{}))),
	})
	if err != nil {
		return fmt.Errorf("failed to create draw all pipeline: %w", err)
	}
	return nil
}

func (p *Pipeline) Destroy() {
	for _, pl := range []renderer.ComputePipeline{p.cull, p.hzbInit, p.hzbReduce, p.drawAll} {
		if pl != nil {
			pl.Destroy()
		}
	}
	*p = Pipeline{}
}

/**
 * @brief Zeroes the draw counters of both phases and the occluded count.
 * The buffers are expected, and left, in the storage write state.
 */
func (p *Pipeline) ResetCounters(cmd renderer.CommandList, b Buffers) {
	for _, buf := range []renderer.Buffer{b.DrawCounts, b.OccludedCount} {
		cmd.ResourceBarrier(buf, metadata.ResourceStateStorageWrite, metadata.ResourceStateCopyDst)
		cmd.ClearBuffer(buf, 0)
		cmd.ResourceBarrier(buf, metadata.ResourceStateCopyDst, metadata.ResourceStateStorageWrite)
	}
}

/**
 * @brief Records one cull phase: ceil(n/64) groups, one thread per primitive.
 * Early phase threads test instance i; late phase threads test the i-th entry
 * of the occluded list and exit past the occluded count.
 * The hzb must be readable; buffers are expected, and left, in the storage write state.
 */
func (p *Pipeline) Cull(cmd renderer.CommandList, b Buffers, hzb renderer.Texture, c Constants) {
	if c.PrimitiveCount == 0 {
		return
	}
	cmd.Dispatch(&renderer.ComputeState{
		Pipeline: p.cull,
		Bindings: []renderer.Binding{
			renderer.BindBuffer(SlotInstances, b.Instances),
			renderer.BindBuffer(SlotMeshes, b.Meshes),
			renderer.BindBuffer(SlotDrawArgs, b.DrawArgs),
			renderer.BindBuffer(SlotDrawCounts, b.DrawCounts),
			renderer.BindBuffer(SlotOccluded, b.Occluded),
			renderer.BindBuffer(SlotOccludedCount, b.OccludedCount),
			renderer.BindTexture(SlotHZB, hzb),
		},
		Constants: renderer.EncodeConstants(c),
	}, math.DivCeil(c.PrimitiveCount, CullGroupSize), 1, 1)

	// make the appends visible to the next dispatch
	for _, buf := range []renderer.Buffer{b.DrawArgs, b.DrawCounts, b.Occluded, b.OccludedCount} {
		cmd.ResourceBarrier(buf, metadata.ResourceStateStorageWrite, metadata.ResourceStateStorageWrite)
	}
}

/**
 * @brief Writes one draw per instance, without any test, into the first n
 * commands of args and n into the first counter. For passes that see the
 * whole scene, such as shadow maps.
 * Buffers are expected, and left, in the storage write state.
 */
func (p *Pipeline) DrawAll(cmd renderer.CommandList, instances, meshes, args, counts renderer.Buffer, n uint32) {
	if n == 0 {
		return
	}
	cmd.Dispatch(&renderer.ComputeState{
		Pipeline: p.drawAll,
		Bindings: []renderer.Binding{
			renderer.BindBuffer(SlotInstances, instances),
			renderer.BindBuffer(SlotMeshes, meshes),
			renderer.BindBuffer(SlotDrawArgs, args),
			renderer.BindBuffer(SlotDrawCounts, counts),
		},
		Constants: renderer.EncodeConstants(drawAllConstants{Count: n}),
	}, math.DivCeil(n, CullGroupSize), 1, 1)
}

/**
 * @brief Rebuilds the depth pyramid from a depth buffer: clear to 0 (far),
 * write mip 0 as the min of the depth texels each HZB texel covers, then reduce
 * every further mip with a 2x2 min.
 * Both depth and hzb are expected, and left, in the shader read state.
 */
func (p *Pipeline) BuildHZB(cmd renderer.CommandList, depth, hzb renderer.Texture) {
	dd := depth.Desc()
	hd := hzb.Desc()

	cmd.BeginMarker("hzb")
	defer cmd.EndMarker()

	cmd.ResourceBarrier(hzb, metadata.ResourceStateShaderRead, metadata.ResourceStateCopyDst)
	cmd.ClearTexture(hzb, [4]float32{})
	cmd.ResourceBarrier(hzb, metadata.ResourceStateCopyDst, metadata.ResourceStateStorageWrite)

	cmd.Dispatch(&renderer.ComputeState{
		Pipeline: p.hzbInit,
		Bindings: []renderer.Binding{
			renderer.BindTexture(SlotHZBSource, depth),
			renderer.BindStorageTexture(SlotHZBTarget, hzb, 0),
		},
		Constants: renderer.EncodeConstants(hzbConstants{
			SrcWidth:  dd.Width,
			SrcHeight: dd.Height,
			DstWidth:  hd.Width,
			DstHeight: hd.Height,
		}),
	}, math.DivCeil(hd.Width, HZBGroupSize), math.DivCeil(hd.Height, HZBGroupSize), 1)

	for mip := uint32(1); mip < hd.Mips(); mip++ {
		cmd.ResourceBarrier(hzb, metadata.ResourceStateStorageWrite, metadata.ResourceStateStorageWrite)
		sw, sh := hd.MipExtent(mip - 1)
		dw, dh := hd.MipExtent(mip)
		cmd.Dispatch(&renderer.ComputeState{
			Pipeline: p.hzbReduce,
			Bindings: []renderer.Binding{
				renderer.BindTextureMip(SlotHZBSource, hzb, mip-1),
				renderer.BindStorageTexture(SlotHZBTarget, hzb, mip),
			},
			Constants: renderer.EncodeConstants(hzbConstants{
				SrcWidth:  sw,
				SrcHeight: sh,
				DstWidth:  dw,
				DstHeight: dh,
				SrcMip:    mip - 1,
			}),
		}, math.DivCeil(dw, HZBGroupSize), math.DivCeil(dh, HZBGroupSize), 1)
	}
	cmd.ResourceBarrier(hzb, metadata.ResourceStateStorageWrite, metadata.ResourceStateShaderRead)
}
