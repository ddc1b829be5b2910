package metadata

type TextureUsage uint32

const (
	/** @brief Sampled or loaded from shaders. */
	TextureUsageSampled TextureUsage = 1 << iota
	/** @brief Written from compute shaders (UAV). */
	TextureUsageStorage
	/** @brief Bound as a color attachment. */
	TextureUsageRenderTarget
	/** @brief Bound as the depth attachment. */
	TextureUsageDepthStencil
	TextureUsageTransferSrc
	TextureUsageTransferDst
)

func (u TextureUsage) Has(flag TextureUsage) bool {
	return u&flag == flag
}

type BufferUsage uint32

const (
	BufferUsageStorage BufferUsage = 1 << iota
	/** @brief Source of indirect draw/dispatch arguments or counts. */
	BufferUsageIndirectArgs
	BufferUsageUniform
	BufferUsageVertex
	BufferUsageIndex
	BufferUsageTransferSrc
	BufferUsageTransferDst
)

func (u BufferUsage) Has(flag BufferUsage) bool {
	return u&flag == flag
}

/**
 * @brief Describes the shape of a texture. Two descriptors with identical shape
 * fields are interchangeable regardless of their debug names.
 */
type TextureDesc struct {
	Width  uint32
	Height uint32
	// Depth for 3D textures, layer count otherwise. 0 is treated as 1.
	DepthOrArraySize uint32
	// 0 is treated as 1.
	MipLevels uint32
	Format    Format
	Usage     TextureUsage
	DebugName string
	// A virtual texture is never backed by memory; it exists to query memory requirements.
	Virtual bool
}

func (d TextureDesc) Layers() uint32 {
	return max(d.DepthOrArraySize, 1)
}

func (d TextureDesc) Mips() uint32 {
	return max(d.MipLevels, 1)
}

// MipExtent returns the size of the given mip level.
func (d TextureDesc) MipExtent(mip uint32) (uint32, uint32) {
	return max(d.Width>>mip, 1), max(d.Height>>mip, 1)
}

type BufferDesc struct {
	Size uint64
	// Element stride for structured buffers, 0 for raw buffers.
	Stride    uint32
	Usage     BufferUsage
	DebugName string
	Virtual   bool
	// Host visible buffers are mapped for CPU access and never placed in heaps.
	HostVisible bool
}

type HeapDesc struct {
	Size      uint64
	DebugName string
}

type MemoryRequirements struct {
	Size      uint64
	Alignment uint64
}
