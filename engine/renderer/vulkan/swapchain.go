package vulkan

import (
	"fmt"
	"math"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/core"
)

/**
 * @brief The presentation images. The engine never renders into them directly:
 * Present blits the final graph output into the acquired image.
 */
type VulkanSwapchain struct {
	ImageFormat vk.SurfaceFormat
	Handle      vk.Swapchain
	Extent      vk.Extent2D
	Images      []vk.Image
}

type VulkanSwapchainSupportInfo struct {
	Capabilities vk.SurfaceCapabilities
	Formats      []vk.SurfaceFormat
	PresentModes []vk.PresentMode
}

func querySwapchainSupport(physicalDevice vk.PhysicalDevice, surface vk.Surface) (VulkanSwapchainSupportInfo, error) {
	var info VulkanSwapchainSupportInfo
	if err := check(vk.GetPhysicalDeviceSurfaceCapabilities(physicalDevice, surface, &info.Capabilities), "vkGetPhysicalDeviceSurfaceCapabilitiesKHR"); err != nil {
		return info, err
	}
	info.Capabilities.Deref()
	info.Capabilities.CurrentExtent.Deref()
	info.Capabilities.MinImageExtent.Deref()
	info.Capabilities.MaxImageExtent.Deref()

	var formatCount uint32
	if err := check(vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, nil), "vkGetPhysicalDeviceSurfaceFormatsKHR"); err != nil {
		return info, err
	}
	if formatCount > 0 {
		info.Formats = make([]vk.SurfaceFormat, formatCount)
		if err := check(vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, info.Formats), "vkGetPhysicalDeviceSurfaceFormatsKHR"); err != nil {
			return info, err
		}
		for i := range info.Formats {
			info.Formats[i].Deref()
		}
	}

	var modeCount uint32
	if err := check(vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &modeCount, nil), "vkGetPhysicalDeviceSurfacePresentModesKHR"); err != nil {
		return info, err
	}
	if modeCount > 0 {
		info.PresentModes = make([]vk.PresentMode, modeCount)
		if err := check(vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &modeCount, info.PresentModes), "vkGetPhysicalDeviceSurfacePresentModesKHR"); err != nil {
			return info, err
		}
	}
	return info, nil
}

// choosePresentMode picks FIFO when vsync is on, otherwise the lowest latency mode available.
func choosePresentMode(modes []vk.PresentMode, vsync bool) vk.PresentMode {
	if vsync {
		return vk.PresentModeFifo
	}
	for _, preferred := range []vk.PresentMode{vk.PresentModeMailbox, vk.PresentModeImmediate} {
		for _, mode := range modes {
			if mode == preferred {
				return mode
			}
		}
	}
	return vk.PresentModeFifo
}

func chooseSurfaceFormat(formats []vk.SurfaceFormat) vk.SurfaceFormat {
	for _, format := range formats {
		if format.Format == vk.FormatB8g8r8a8Unorm && format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return format
		}
	}
	return formats[0]
}

func clampExtent(caps vk.SurfaceCapabilities, width, height uint32) vk.Extent2D {
	if caps.CurrentExtent.Width != math.MaxUint32 {
		return caps.CurrentExtent
	}
	return vk.Extent2D{
		Width:  min(max(width, caps.MinImageExtent.Width), caps.MaxImageExtent.Width),
		Height: min(max(height, caps.MinImageExtent.Height), caps.MaxImageExtent.Height),
	}
}

func createSwapchain(context *VulkanContext, width, height uint32, vsync bool, old vk.Swapchain) (*VulkanSwapchain, error) {
	support, err := querySwapchainSupport(context.PhysicalDevice, context.Surface)
	if err != nil {
		return nil, err
	}
	if len(support.Formats) == 0 || len(support.PresentModes) == 0 {
		return nil, fmt.Errorf("%w: surface has no formats or present modes", ErrVulkan)
	}
	context.SwapchainSupport = support
	caps := support.Capabilities

	swapchain := &VulkanSwapchain{
		ImageFormat: chooseSurfaceFormat(support.Formats),
		Extent:      clampExtent(caps, width, height),
	}

	imageCount := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount {
		imageCount = caps.MaxImageCount
	}

	createInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          context.Surface,
		MinImageCount:    imageCount,
		ImageFormat:      swapchain.ImageFormat.Format,
		ImageColorSpace:  swapchain.ImageFormat.ColorSpace,
		ImageExtent:      swapchain.Extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageTransferDstBit | vk.ImageUsageColorAttachmentBit),
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      choosePresentMode(support.PresentModes, vsync),
		Clipped:          vk.True,
		OldSwapchain:     old,
	}
	if context.GraphicsQueueIndex != context.PresentQueueIndex {
		createInfo.ImageSharingMode = vk.SharingModeConcurrent
		createInfo.QueueFamilyIndexCount = 2
		createInfo.PQueueFamilyIndices = []uint32{context.GraphicsQueueIndex, context.PresentQueueIndex}
	} else {
		createInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	var handle vk.Swapchain
	if err := check(vk.CreateSwapchain(context.LogicalDevice, &createInfo, context.Allocator, &handle), "vkCreateSwapchainKHR"); err != nil {
		return nil, err
	}
	swapchain.Handle = handle

	var count uint32
	if err := check(vk.GetSwapchainImages(context.LogicalDevice, handle, &count, nil), "vkGetSwapchainImagesKHR"); err != nil {
		swapchain.destroy(context)
		return nil, err
	}
	swapchain.Images = make([]vk.Image, count)
	if err := check(vk.GetSwapchainImages(context.LogicalDevice, handle, &count, swapchain.Images), "vkGetSwapchainImagesKHR"); err != nil {
		swapchain.destroy(context)
		return nil, err
	}

	core.LogInfo("Swapchain created: %dx%d, %d images.", swapchain.Extent.Width, swapchain.Extent.Height, count)
	return swapchain, nil
}

// recreate builds a replacement swapchain and retires this one.
func (vs *VulkanSwapchain) recreate(context *VulkanContext, width, height uint32, vsync bool) (*VulkanSwapchain, error) {
	vk.DeviceWaitIdle(context.LogicalDevice)
	next, err := createSwapchain(context, width, height, vsync, vs.Handle)
	vs.destroy(context)
	return next, err
}

// acquire returns the next image index. ok is false when the swapchain is
// out of date and must be recreated before presenting.
func (vs *VulkanSwapchain) acquire(context *VulkanContext, imageAvailable vk.Semaphore) (index uint32, ok bool, err error) {
	result := vk.AcquireNextImage(context.LogicalDevice, vs.Handle, vk.MaxUint64, imageAvailable, vk.NullFence, &index)
	switch result {
	case vk.Success, vk.Suboptimal:
		return index, true, nil
	case vk.ErrorOutOfDate:
		return 0, false, nil
	default:
		return 0, false, check(result, "vkAcquireNextImageKHR")
	}
}

// present queues the image. ok is false when the swapchain should be recreated.
func (vs *VulkanSwapchain) present(queue vk.Queue, renderComplete vk.Semaphore, index uint32) (ok bool, err error) {
	result := vk.QueuePresent(queue, &vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{renderComplete},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{vs.Handle},
		PImageIndices:      []uint32{index},
	})
	switch result {
	case vk.Success:
		return true, nil
	case vk.Suboptimal, vk.ErrorOutOfDate:
		return false, nil
	default:
		return false, check(result, "vkQueuePresentKHR")
	}
}

// destroy releases the swapchain. Its images belong to it and go with it.
func (vs *VulkanSwapchain) destroy(context *VulkanContext) {
	if vs.Handle != nil {
		vk.DestroySwapchain(context.LogicalDevice, vs.Handle, context.Allocator)
		vs.Handle = nil
	}
	vs.Images = nil
}
