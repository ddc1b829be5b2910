package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

type VulkanFence struct {
	Handle     vk.Fence
	IsSignaled bool
}

func NewFence(context *VulkanContext, createSignaled bool) (*VulkanFence, error) {
	fence := &VulkanFence{IsSignaled: createSignaled}

	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if fence.IsSignaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	var handle vk.Fence
	if err := check(vk.CreateFence(context.LogicalDevice, &fenceCreateInfo, context.Allocator, &handle), "vkCreateFence"); err != nil {
		return nil, err
	}
	fence.Handle = handle
	return fence, nil
}

func (vf *VulkanFence) Destroy(context *VulkanContext) {
	if vf.Handle != nil {
		vk.DestroyFence(context.LogicalDevice, vf.Handle, context.Allocator)
		vf.Handle = nil
	}
	vf.IsSignaled = false
}

// Wait blocks until the fence is signaled or timeoutNs elapses.
func (vf *VulkanFence) Wait(context *VulkanContext, timeoutNs uint64) error {
	if vf.IsSignaled {
		return nil
	}
	switch result := vk.WaitForFences(context.LogicalDevice, 1, []vk.Fence{vf.Handle}, vk.True, timeoutNs); result {
	case vk.Success:
		vf.IsSignaled = true
		return nil
	case vk.Timeout:
		return fmt.Errorf("%w: fence wait timed out after %dns", ErrVulkan, timeoutNs)
	default:
		return check(result, "vkWaitForFences")
	}
}

func (vf *VulkanFence) Reset(context *VulkanContext) error {
	if !vf.IsSignaled {
		return nil
	}
	if err := check(vk.ResetFences(context.LogicalDevice, 1, []vk.Fence{vf.Handle}), "vkResetFences"); err != nil {
		return err
	}
	vf.IsSignaled = false
	return nil
}
