package renderer

import "github.com/spaghettifunk/prism/engine/renderer/metadata"

type BackendType uint8

const (
	BackendSoftware BackendType = iota
	BackendVulkan
)

type Resource interface {
	Name() string
	Destroy()
}

type Texture interface {
	Resource
	Desc() metadata.TextureDesc
}

type Buffer interface {
	Resource
	Desc() metadata.BufferDesc
}

// Heap is a block of device memory placed resources are carved from.
type Heap interface {
	Size() uint64
	Destroy()
}

type ComputePipeline interface {
	Name() string
	Destroy()
}

type GraphicsPipeline interface {
	Name() string
	Destroy()
}

/**
 * @brief The hardware abstraction every backend implements. Resources created
 * from virtual descriptors are never backed by memory and only serve
 * GetMemoryRequirements.
 */
type Device interface {
	Name() string
	Type() BackendType

	CreateHeap(desc metadata.HeapDesc) (Heap, error)
	CreateTexture(desc metadata.TextureDesc) (Texture, error)
	CreateBuffer(desc metadata.BufferDesc) (Buffer, error)
	CreatePlacedTexture(desc metadata.TextureDesc, heap Heap, offset uint64) (Texture, error)
	CreatePlacedBuffer(desc metadata.BufferDesc, heap Heap, offset uint64) (Buffer, error)
	GetMemoryRequirements(res Resource) (metadata.MemoryRequirements, error)

	CreateComputePipeline(desc metadata.ComputePipelineDesc) (ComputePipeline, error)
	CreateGraphicsPipeline(desc metadata.GraphicsPipelineDesc) (GraphicsPipeline, error)

	CreateCommandList() (CommandList, error)
	Execute(cmd CommandList) error
	WaitForIdle() error

	// Present shows tex on the output surface, if the device has one.
	Present(tex Texture) error
	Resize(width, height uint32) error
	Destroy() error
}

/**
 * @brief Records GPU work. Nothing runs until the list is closed and handed to
 * Device.Execute.
 */
type CommandList interface {
	Open() error
	Close() error

	BeginMarker(name string)
	EndMarker()

	// AliasingBarrier orders the first use of after behind the last use of
	// before on the same memory. before is nil for the first occupant.
	AliasingBarrier(before, after Resource)
	ResourceBarrier(res Resource, before, after metadata.ResourceState)

	// ClearTexture fills every mip of tex with value.
	ClearTexture(tex Texture, value [4]float32)
	// ClearBuffer fills buf with the 32-bit value.
	ClearBuffer(buf Buffer, value uint32)
	WriteBuffer(buf Buffer, offset uint64, data []byte)
	CopyBuffer(dst Buffer, dstOffset uint64, src Buffer, srcOffset, size uint64)

	Dispatch(state *ComputeState, groupsX, groupsY, groupsZ uint32)
	// DispatchIndirect reads three uint32 group counts from args at offset.
	DispatchIndirect(state *ComputeState, args Buffer, offset uint64)

	Draw(state *GraphicsState, vertexCount, instanceCount uint32)
	// DrawIndexedIndirectCount draws min(count, maxDraws) DrawIndexedIndirectCommand
	// records read from args at argsOffset, count being a uint32 at countOffset.
	DrawIndexedIndirectCount(state *GraphicsState, args Buffer, argsOffset uint64, count Buffer, countOffset uint64, maxDraws uint32)
}

// Readback is implemented by devices whose memory the CPU can read directly.
type Readback interface {
	ReadBuffer(buf Buffer, offset, size uint64) ([]byte, error)
	// ReadTexture returns the mip as tightly packed float32 channels.
	ReadTexture(tex Texture, mip uint32) ([]float32, error)
}
