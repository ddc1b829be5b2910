package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

const (
	// Alignment of constant blocks inside the per-list upload arena.
	constantsAlignment uint64 = 256
	// Size of one upload arena chunk. Larger requests get a chunk of their own.
	arenaChunkSize uint64 = 1 << 20

	descriptorPoolSets  uint32 = 256
	descriptorPoolCount uint32 = 1024

	// Every render pass has at most this many color attachments.
	maxColorTargets = 8
)

func toVkFormat(f metadata.Format) vk.Format {
	switch f {
	case metadata.FormatR32Float:
		return vk.FormatR32Sfloat
	case metadata.FormatRG32Float:
		return vk.FormatR32g32Sfloat
	case metadata.FormatRGBA32Float:
		return vk.FormatR32g32b32a32Sfloat
	case metadata.FormatRGBA16Float:
		return vk.FormatR16g16b16a16Sfloat
	case metadata.FormatRGBA8Unorm:
		return vk.FormatR8g8b8a8Unorm
	case metadata.FormatR32Uint:
		return vk.FormatR32Uint
	case metadata.FormatD32Float:
		return vk.FormatD32Sfloat
	default:
		return vk.FormatUndefined
	}
}

func aspectMask(f metadata.Format) vk.ImageAspectFlags {
	if f.IsDepth() {
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectColorBit)
}

// Images always allow transfers: clears, readback and presentation go through them.
func imageUsage(desc metadata.TextureDesc) vk.ImageUsageFlags {
	flags := vk.ImageUsageTransferSrcBit | vk.ImageUsageTransferDstBit
	if desc.Usage.Has(metadata.TextureUsageSampled) {
		flags |= vk.ImageUsageSampledBit
	}
	if desc.Usage.Has(metadata.TextureUsageStorage) {
		flags |= vk.ImageUsageStorageBit
	}
	if desc.Usage.Has(metadata.TextureUsageRenderTarget) {
		flags |= vk.ImageUsageColorAttachmentBit
	}
	if desc.Usage.Has(metadata.TextureUsageDepthStencil) || desc.Format.IsDepth() {
		flags |= vk.ImageUsageDepthStencilAttachmentBit
	}
	return vk.ImageUsageFlags(flags)
}

func bufferUsage(desc metadata.BufferDesc) vk.BufferUsageFlags {
	flags := vk.BufferUsageTransferSrcBit | vk.BufferUsageTransferDstBit | vk.BufferUsageStorageBufferBit
	if desc.Usage.Has(metadata.BufferUsageIndirectArgs) {
		flags |= vk.BufferUsageIndirectBufferBit
	}
	if desc.Usage.Has(metadata.BufferUsageUniform) {
		flags |= vk.BufferUsageUniformBufferBit
	}
	if desc.Usage.Has(metadata.BufferUsageVertex) {
		flags |= vk.BufferUsageVertexBufferBit
	}
	if desc.Usage.Has(metadata.BufferUsageIndex) {
		flags |= vk.BufferUsageIndexBufferBit
	}
	return vk.BufferUsageFlags(flags)
}

func descriptorType(t metadata.BindingType) vk.DescriptorType {
	switch t {
	case metadata.BindingTypeUniformBuffer:
		return vk.DescriptorTypeUniformBuffer
	case metadata.BindingTypeSampledTexture:
		return vk.DescriptorTypeCombinedImageSampler
	case metadata.BindingTypeStorageTexture:
		return vk.DescriptorTypeStorageImage
	default:
		return vk.DescriptorTypeStorageBuffer
	}
}

func compareOp(op metadata.CompareOp) vk.CompareOp {
	switch op {
	case metadata.CompareOpGreater:
		return vk.CompareOpGreater
	case metadata.CompareOpGreaterEqual:
		return vk.CompareOpGreaterOrEqual
	case metadata.CompareOpLess:
		return vk.CompareOpLess
	default:
		return vk.CompareOpAlways
	}
}

/**
 * @brief The pipeline stages and memory accesses a resource state covers.
 * Images never leave the general layout, so a state maps to masks only.
 */
type stateMask struct {
	stage  vk.PipelineStageFlagBits
	access vk.AccessFlagBits
}

const shaderStages = vk.PipelineStageVertexShaderBit | vk.PipelineStageFragmentShaderBit | vk.PipelineStageComputeShaderBit

func maskFor(s metadata.ResourceState) stateMask {
	switch s {
	case metadata.ResourceStateShaderRead:
		return stateMask{
			stage:  shaderStages | vk.PipelineStageVertexInputBit,
			access: vk.AccessShaderReadBit | vk.AccessUniformReadBit | vk.AccessVertexAttributeReadBit | vk.AccessIndexReadBit,
		}
	case metadata.ResourceStateStorageWrite:
		return stateMask{stage: shaderStages, access: vk.AccessShaderReadBit | vk.AccessShaderWriteBit}
	case metadata.ResourceStateRenderTarget:
		return stateMask{
			stage:  vk.PipelineStageColorAttachmentOutputBit,
			access: vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit,
		}
	case metadata.ResourceStateDepthWrite:
		return stateMask{
			stage:  vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit,
			access: vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit,
		}
	case metadata.ResourceStateIndirectArgs:
		return stateMask{stage: vk.PipelineStageDrawIndirectBit, access: vk.AccessIndirectCommandReadBit}
	case metadata.ResourceStateCopySrc, metadata.ResourceStatePresent:
		return stateMask{stage: vk.PipelineStageTransferBit, access: vk.AccessTransferReadBit}
	case metadata.ResourceStateCopyDst:
		return stateMask{stage: vk.PipelineStageTransferBit, access: vk.AccessTransferWriteBit}
	default:
		return stateMask{stage: vk.PipelineStageTopOfPipeBit}
	}
}
