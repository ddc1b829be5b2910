package soft

import (
	"encoding/binary"
	"testing"

	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, d *Device, record func(cmd renderer.CommandList)) *CommandList {
	t.Helper()
	cmd, err := d.CreateCommandList()
	require.NoError(t, err)
	require.NoError(t, cmd.Open())
	record(cmd)
	require.NoError(t, cmd.Close())
	require.NoError(t, d.Execute(cmd))
	return cmd.(*CommandList)
}

func TestMemoryRequirements(t *testing.T) {
	d := NewDevice()

	buf, err := d.CreateBuffer(metadata.BufferDesc{Size: 300, Virtual: true})
	require.NoError(t, err)
	req, err := d.GetMemoryRequirements(buf)
	require.NoError(t, err)
	assert.Equal(t, metadata.MemoryRequirements{Size: 512, Alignment: BufferAlignment}, req)

	// 64x64 RGBA32F with 2 mips: (4096 + 1024) * 16 bytes
	tex, err := d.CreateTexture(metadata.TextureDesc{Width: 64, Height: 64, MipLevels: 2, Format: metadata.FormatRGBA32Float, Virtual: true})
	require.NoError(t, err)
	req, err = d.GetMemoryRequirements(tex)
	require.NoError(t, err)
	assert.Equal(t, uint64(81920), req.Size)
	assert.Equal(t, TextureAlignment, req.Alignment)
}

func TestPlacedResourcesShareMemory(t *testing.T) {
	d := NewDevice()
	heap, err := d.CreateHeap(metadata.HeapDesc{Size: 1 << 16})
	require.NoError(t, err)

	a, err := d.CreatePlacedBuffer(metadata.BufferDesc{Size: 64, DebugName: "a"}, heap, 256)
	require.NoError(t, err)
	b, err := d.CreatePlacedBuffer(metadata.BufferDesc{Size: 64, DebugName: "b"}, heap, 256)
	require.NoError(t, err)

	execute(t, d, func(cmd renderer.CommandList) {
		cmd.WriteBuffer(a, 0, []byte{1, 2, 3, 4})
	})
	data, err := d.ReadBuffer(b, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, data)
}

func TestPlacementErrors(t *testing.T) {
	d := NewDevice()
	heap, err := d.CreateHeap(metadata.HeapDesc{Size: 4096})
	require.NoError(t, err)

	_, err = d.CreatePlacedBuffer(metadata.BufferDesc{Size: 64}, heap, 100)
	assert.ErrorIs(t, err, ErrMisaligned)

	_, err = d.CreatePlacedBuffer(metadata.BufferDesc{Size: 4096}, heap, 256)
	assert.ErrorIs(t, err, ErrOutOfRange)

	other := NewDevice()
	_, err = other.CreatePlacedBuffer(metadata.BufferDesc{Size: 64}, heap, 0)
	assert.ErrorIs(t, err, ErrForeignObject)
}

func TestUnknownKernel(t *testing.T) {
	d := NewDevice()
	_, err := d.CreateComputePipeline(metadata.ComputePipelineDesc{Name: "missing", Shader: "missing"})
	assert.ErrorIs(t, err, ErrUnknownKernel)
}

func TestPipelineCache(t *testing.T) {
	d := NewDevice(WithKernel("noop", func(*Invocation, uint32, uint32, uint32) {}))
	desc := metadata.ComputePipelineDesc{Name: "noop", Shader: "noop"}
	a, err := d.CreateComputePipeline(desc)
	require.NoError(t, err)
	b, err := d.CreateComputePipeline(desc)
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestDispatchRunsEveryGroupConcurrently(t *testing.T) {
	d := NewDevice(WithWorkers(8), WithKernel("count", func(inv *Invocation, x, y, z uint32) {
		out := inv.Buffer(1)
		for i := 0; i < 64; i++ {
			out.AtomicAdd(0, 1)
		}
	}))
	p, err := d.CreateComputePipeline(metadata.ComputePipelineDesc{Name: "count", Shader: "count"})
	require.NoError(t, err)
	buf, err := d.CreateBuffer(metadata.BufferDesc{Size: 4, Usage: metadata.BufferUsageStorage})
	require.NoError(t, err)

	execute(t, d, func(cmd renderer.CommandList) {
		cmd.ClearBuffer(buf, 0)
		cmd.Dispatch(&renderer.ComputeState{Pipeline: p, Bindings: []renderer.Binding{renderer.BindBuffer(1, buf)}}, 10, 5, 2)
	})

	data, err := d.ReadBuffer(buf, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, uint32(100*64), binary.LittleEndian.Uint32(data))
	assert.Equal(t, uint64(1), d.Stats().Dispatches)
}

func TestDispatchIndirectReadsGroupCounts(t *testing.T) {
	d := NewDevice(WithKernel("groups", func(inv *Invocation, x, y, z uint32) {
		inv.Buffer(1).AtomicAdd(0, 1)
	}))
	p, err := d.CreateComputePipeline(metadata.ComputePipelineDesc{Name: "groups", Shader: "groups"})
	require.NoError(t, err)
	args, err := d.CreateBuffer(metadata.BufferDesc{Size: 12, Usage: metadata.BufferUsageIndirectArgs})
	require.NoError(t, err)
	out, err := d.CreateBuffer(metadata.BufferDesc{Size: 4})
	require.NoError(t, err)

	execute(t, d, func(cmd renderer.CommandList) {
		cmd.WriteBuffer(args, 0, renderer.EncodeConstants([3]uint32{3, 2, 1}))
		cmd.DispatchIndirect(&renderer.ComputeState{Pipeline: p, Bindings: []renderer.Binding{renderer.BindBuffer(1, out)}}, args, 0)
	})
	data, err := d.ReadBuffer(out, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, uint32(6), binary.LittleEndian.Uint32(data))
}

func TestDrawIndexedIndirectCountClamps(t *testing.T) {
	var seen []uint32
	d := NewDevice(WithRasterKernel("record", func(ctx *DrawContext) {
		seen = append(seen, ctx.Command.FirstInstance)
	}))
	p, err := d.CreateGraphicsPipeline(metadata.GraphicsPipelineDesc{Name: "record", VertexShader: "v", FragmentShader: "record"})
	require.NoError(t, err)

	cmds := make([]metadata.DrawIndexedIndirectCommand, 4)
	for i := range cmds {
		cmds[i] = metadata.DrawIndexedIndirectCommand{IndexCount: 3, InstanceCount: 1, FirstInstance: uint32(10 + i)}
	}
	args, err := d.CreateBuffer(metadata.BufferDesc{Size: 4 * metadata.DrawIndexedIndirectCommandSize})
	require.NoError(t, err)
	count, err := d.CreateBuffer(metadata.BufferDesc{Size: 8})
	require.NoError(t, err)

	execute(t, d, func(cmd renderer.CommandList) {
		cmd.WriteBuffer(args, 0, renderer.EncodeConstants(cmds))
		cmd.WriteBuffer(count, 0, renderer.EncodeConstants([2]uint32{0, 4}))
		state := &renderer.GraphicsState{Pipeline: p}
		cmd.DrawIndexedIndirectCount(state, args, 0, count, 4, 3)
	})
	assert.Equal(t, []uint32{10, 11, 12}, seen)
	assert.Equal(t, uint64(3), d.Stats().Draws)
}

func TestDepthTestReversedZ(t *testing.T) {
	d := NewDevice(WithRasterKernel("depth", func(ctx *DrawContext) {
		ctx.DepthTest(0, 0, 0.5)
		ctx.DepthTest(0, 0, 0.25)
	}))
	p, err := d.CreateGraphicsPipeline(metadata.GraphicsPipelineDesc{
		Name: "depth", VertexShader: "depth", DepthFormat: metadata.FormatD32Float,
		DepthTest: true, DepthWrite: true, DepthCompare: metadata.CompareOpGreater,
	})
	require.NoError(t, err)
	depth, err := d.CreateTexture(metadata.TextureDesc{Width: 2, Height: 2, Format: metadata.FormatD32Float, Usage: metadata.TextureUsageDepthStencil})
	require.NoError(t, err)

	execute(t, d, func(cmd renderer.CommandList) {
		cmd.ClearTexture(depth, [4]float32{})
		cmd.Draw(&renderer.GraphicsState{Pipeline: p, DepthTarget: depth}, 3, 1)
	})
	texels, err := d.ReadTexture(depth, 0)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0, 0, 0}, texels)
}

func TestCommandListState(t *testing.T) {
	d := NewDevice()
	cmd, err := d.CreateCommandList()
	require.NoError(t, err)

	assert.ErrorIs(t, cmd.Close(), ErrCommandState)
	require.NoError(t, cmd.Open())
	assert.ErrorIs(t, cmd.Open(), ErrCommandState)
	assert.ErrorIs(t, d.Execute(cmd), ErrCommandState)

	cmd.BeginMarker("unbalanced")
	assert.ErrorIs(t, cmd.Close(), ErrCommandState)
	cmd.EndMarker()
	require.NoError(t, cmd.Close())

	trace := cmd.(*CommandList).Commands()
	require.Len(t, trace, 2)
	assert.Equal(t, "unbalanced", trace[0].Label)
}

func TestVirtualResourcesHaveNoMemory(t *testing.T) {
	d := NewDevice()
	buf, err := d.CreateBuffer(metadata.BufferDesc{Size: 16, Virtual: true})
	require.NoError(t, err)
	_, err = d.ReadBuffer(buf, 0, 4)
	assert.ErrorIs(t, err, ErrVirtualResource)
}

func TestPresentKeepsLastTexture(t *testing.T) {
	d := NewDevice()
	tex, err := d.CreateTexture(metadata.TextureDesc{Width: 1, Height: 1, Format: metadata.FormatRGBA8Unorm})
	require.NoError(t, err)
	require.NoError(t, d.Present(tex))
	assert.Same(t, tex, d.Presented())
}
