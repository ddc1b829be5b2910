package vulkan

import (
	vk "github.com/goki/vulkan"
)

/** @brief The Vulkan objects every part of the backend needs. */
type VulkanContext struct {
	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks
	Surface   vk.Surface

	debugCallback vk.DebugReportCallback

	PhysicalDevice vk.PhysicalDevice
	LogicalDevice  vk.Device

	GraphicsQueueIndex uint32
	PresentQueueIndex  uint32
	GraphicsQueue      vk.Queue
	PresentQueue       vk.Queue

	GraphicsCommandPool vk.CommandPool

	Properties vk.PhysicalDeviceProperties
	Memory     vk.PhysicalDeviceMemoryProperties

	SwapchainSupport VulkanSwapchainSupportInfo
}

// FindMemoryIndex returns the first memory type allowed by typeFilter that has
// all of propertyFlags, or -1.
func (vc *VulkanContext) FindMemoryIndex(typeFilter uint32, propertyFlags vk.MemoryPropertyFlagBits) int32 {
	for i := uint32(0); i < vc.Memory.MemoryTypeCount; i++ {
		memoryType := vc.Memory.MemoryTypes[i]
		memoryType.Deref()
		if typeFilter&(1<<i) != 0 && vk.MemoryPropertyFlagBits(memoryType.PropertyFlags)&propertyFlags == propertyFlags {
			return int32(i)
		}
	}
	return -1
}

// uniformAlignment is the offset alignment constant blocks must respect.
func (vc *VulkanContext) uniformAlignment() uint64 {
	limits := vc.Properties.Limits
	limits.Deref()
	return max(uint64(limits.MinUniformBufferOffsetAlignment), constantsAlignment)
}
