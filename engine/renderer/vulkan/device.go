package vulkan

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/platform"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

var (
	ErrVulkan            = errors.New("vulkan")
	ErrNoSuitableDevice  = errors.New("no suitable physical device")
	ErrForeignObject     = errors.New("object belongs to another device")
	ErrInvalidDesc       = errors.New("invalid descriptor")
	ErrOutOfMemory       = errors.New("out of device memory")
	ErrMisaligned        = errors.New("misaligned placement")
	ErrOutOfRange        = errors.New("out of range")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrCommandState      = errors.New("command list in wrong state")
)

const drawIndirectCountExtension = "VK_KHR_draw_indirect_count"

type Options struct {
	ApplicationName string
	Validation      bool
	VSync           bool
	// Directory holding the compiled <name>.spv modules.
	ShaderDir string
	Width     uint32
	Height    uint32
}

type VulkanPhysicalDeviceRequirements struct {
	DiscreteGPU          bool
	DeviceExtensionNames []string
	MultiDrawIndirect    bool
}

type VulkanPhysicalDeviceQueueFamilyInfo struct {
	GraphicsFamilyIndex int32
	PresentFamilyIndex  int32
}

/**
 * @brief The Vulkan implementation of renderer.Device. Work is submitted on
 * the graphics queue and Execute waits for it, so resources recorded into a
 * list may be released as soon as Execute returns.
 */
type Device struct {
	context  *VulkanContext
	locks    *VulkanLockPool
	opts     Options
	platform *platform.Platform

	// memory type every heap is allocated from, compatible with buffers and images
	heapMemoryType uint32
	granularity    uint64
	sampler        vk.Sampler

	mu                sync.Mutex
	computePipelines  map[uint64]*ComputePipeline
	graphicsPipelines map[uint64]*GraphicsPipeline
	renderPasses      map[renderPassKey]vk.RenderPass
	shaderModules     map[string]vk.ShaderModule
	clearSources      map[clearKey]*Buffer
	lists             map[*CommandList]struct{}

	swapchain      *VulkanSwapchain
	imageAvailable vk.Semaphore
	renderComplete vk.Semaphore
	fence          *VulkanFence

	width     uint32
	height    uint32
	suspended bool
}

// New brings up Vulkan on the platform window.
func New(p *platform.Platform, opts Options) (*Device, error) {
	if err := initLoader(); err != nil {
		return nil, err
	}
	d := &Device{
		context:           &VulkanContext{},
		locks:             NewVulkanLockPool(),
		opts:              opts,
		platform:          p,
		computePipelines:  make(map[uint64]*ComputePipeline),
		graphicsPipelines: make(map[uint64]*GraphicsPipeline),
		renderPasses:      make(map[renderPassKey]vk.RenderPass),
		shaderModules:     make(map[string]vk.ShaderModule),
		clearSources:      make(map[clearKey]*Buffer),
		lists:             make(map[*CommandList]struct{}),
		width:             opts.Width,
		height:            opts.Height,
	}
	if err := d.initialize(); err != nil {
		if derr := d.Destroy(); derr != nil {
			core.LogError("cleanup after a failed initialization: %s", derr)
		}
		return nil, err
	}
	core.LogInfo("Vulkan renderer initialized successfully.")
	return d, nil
}

func (d *Device) initialize() error {
	if err := createInstance(d.context, d.opts.ApplicationName, d.platform.Window.GetRequiredInstanceExtensions(), d.opts.Validation); err != nil {
		return err
	}
	if err := createSurface(d.context, d.platform); err != nil {
		return err
	}
	if err := selectPhysicalDevice(d.context); err != nil {
		return err
	}
	if err := createLogicalDevice(d.context); err != nil {
		return err
	}
	if err := d.probeHeapMemoryType(); err != nil {
		return err
	}
	if err := d.createSampler(); err != nil {
		return err
	}

	var err error
	if d.fence, err = NewFence(d.context, false); err != nil {
		return err
	}
	if d.imageAvailable, err = d.createSemaphore(); err != nil {
		return err
	}
	if d.renderComplete, err = d.createSemaphore(); err != nil {
		return err
	}
	if d.width > 0 && d.height > 0 {
		d.swapchain, err = createSwapchain(d.context, d.width, d.height, d.opts.VSync, vk.NullSwapchain)
		return err
	}
	d.suspended = true
	return nil
}

func (d *Device) Name() string { return "vulkan" }

func (d *Device) Type() renderer.BackendType { return renderer.BackendVulkan }

func selectPhysicalDevice(context *VulkanContext) error {
	var count uint32
	if err := check(vk.EnumeratePhysicalDevices(context.Instance, &count, nil), "vkEnumeratePhysicalDevices"); err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: no devices which support Vulkan were found", ErrNoSuitableDevice)
	}
	devices := make([]vk.PhysicalDevice, count)
	if err := check(vk.EnumeratePhysicalDevices(context.Instance, &count, devices), "vkEnumeratePhysicalDevices"); err != nil {
		return err
	}

	requirements := VulkanPhysicalDeviceRequirements{
		DiscreteGPU:          runtime.GOOS != "darwin",
		DeviceExtensionNames: []string{vk.KhrSwapchainExtensionName, drawIndirectCountExtension},
		MultiDrawIndirect:    true,
	}

	// a discrete GPU wins, anything else that qualifies is the fallback
	best, bestScore := -1, -1
	var bestQueues VulkanPhysicalDeviceQueueFamilyInfo
	for i, device := range devices {
		var properties vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(device, &properties)
		properties.Deref()

		queues, ok := physicalDeviceMeetsRequirements(device, context.Surface, &properties, &requirements)
		if !ok {
			continue
		}
		score := 1
		if properties.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu {
			score = 2
		}
		if score > bestScore {
			best, bestScore, bestQueues = i, score, queues
		}
	}
	if best < 0 {
		return fmt.Errorf("%w: none of %d devices meets the requirements", ErrNoSuitableDevice, count)
	}
	if requirements.DiscreteGPU && bestScore < 2 {
		core.LogWarn("No discrete GPU found, falling back to an integrated one.")
	}

	device := devices[best]
	context.PhysicalDevice = device
	context.GraphicsQueueIndex = uint32(bestQueues.GraphicsFamilyIndex)
	context.PresentQueueIndex = uint32(bestQueues.PresentFamilyIndex)

	vk.GetPhysicalDeviceProperties(device, &context.Properties)
	context.Properties.Deref()
	context.Properties.Limits.Deref()
	vk.GetPhysicalDeviceMemoryProperties(device, &context.Memory)
	context.Memory.Deref()
	logDevice(context)
	return nil
}

func logDevice(context *VulkanContext) {
	props := context.Properties
	core.LogInfo("Selected device: '%s'.", cString(props.DeviceName[:]))
	switch props.DeviceType {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		core.LogInfo("GPU type is Integrated.")
	case vk.PhysicalDeviceTypeDiscreteGpu:
		core.LogInfo("GPU type is Discrete.")
	case vk.PhysicalDeviceTypeVirtualGpu:
		core.LogInfo("GPU type is Virtual.")
	case vk.PhysicalDeviceTypeCpu:
		core.LogInfo("GPU type is CPU.")
	default:
		core.LogInfo("GPU type is Unknown.")
	}
	core.LogInfo("GPU Driver version: %d.%d.%d",
		vk.Version(props.DriverVersion).Major(),
		vk.Version(props.DriverVersion).Minor(),
		vk.Version(props.DriverVersion).Patch())
	core.LogInfo("Vulkan API version: %d.%d.%d",
		vk.Version(props.ApiVersion).Major(),
		vk.Version(props.ApiVersion).Minor(),
		vk.Version(props.ApiVersion).Patch())

	for j := uint32(0); j < context.Memory.MemoryHeapCount; j++ {
		heap := context.Memory.MemoryHeaps[j]
		heap.Deref()
		sizeGib := float64(heap.Size) / 1024.0 / 1024.0 / 1024.0
		if vk.MemoryHeapFlagBits(heap.Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
			core.LogInfo("Local GPU memory: %.2f GiB", sizeGib)
		} else {
			core.LogInfo("Shared System memory: %.2f GiB", sizeGib)
		}
	}
}

func physicalDeviceMeetsRequirements(device vk.PhysicalDevice, surface vk.Surface, properties *vk.PhysicalDeviceProperties, requirements *VulkanPhysicalDeviceRequirements) (VulkanPhysicalDeviceQueueFamilyInfo, bool) {
	queues := VulkanPhysicalDeviceQueueFamilyInfo{GraphicsFamilyIndex: -1, PresentFamilyIndex: -1}
	name := cString(properties.DeviceName[:])

	if properties.ApiVersion < uint32(vk.MakeVersion(1, 2, 0)) {
		core.LogInfo("Device '%s' does not support Vulkan 1.2, skipping.", name)
		return queues, false
	}

	var familyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &familyCount, nil)
	families := make([]vk.QueueFamilyProperties, familyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &familyCount, families)

	// compute and graphics share one family, present prefers it too
	required := vk.QueueFlags(vk.QueueGraphicsBit | vk.QueueComputeBit)
	for i := range families {
		families[i].Deref()
		var supportsPresent vk.Bool32
		if err := check(vk.GetPhysicalDeviceSurfaceSupport(device, uint32(i), surface, &supportsPresent), "vkGetPhysicalDeviceSurfaceSupportKHR"); err != nil {
			return queues, false
		}
		graphics := families[i].QueueFlags&required == required
		if graphics && queues.GraphicsFamilyIndex < 0 {
			queues.GraphicsFamilyIndex = int32(i)
		}
		if supportsPresent == vk.True {
			if queues.PresentFamilyIndex < 0 || (graphics && int32(i) == queues.GraphicsFamilyIndex) {
				queues.PresentFamilyIndex = int32(i)
			}
		}
	}
	core.LogDebug("Device '%s': graphics family %d, present family %d", name, queues.GraphicsFamilyIndex, queues.PresentFamilyIndex)
	if queues.GraphicsFamilyIndex < 0 || queues.PresentFamilyIndex < 0 {
		core.LogInfo("Device '%s' lacks a graphics or present queue, skipping.", name)
		return queues, false
	}

	support, err := querySwapchainSupport(device, surface)
	if err != nil || len(support.Formats) == 0 || len(support.PresentModes) == 0 {
		core.LogInfo("Required swapchain support not present, skipping device.")
		return queues, false
	}

	available, err := deviceExtensions(device)
	if err != nil {
		return queues, false
	}
	for _, ext := range requirements.DeviceExtensionNames {
		if _, ok := available[ext]; !ok {
			core.LogInfo("Required extension not found: '%s', skipping device.", ext)
			return queues, false
		}
	}

	if requirements.MultiDrawIndirect {
		var features vk.PhysicalDeviceFeatures
		vk.GetPhysicalDeviceFeatures(device, &features)
		features.Deref()
		if features.MultiDrawIndirect == vk.False || features.DrawIndirectFirstInstance == vk.False {
			core.LogInfo("Device '%s' does not support multi draw indirect, skipping.", name)
			return queues, false
		}
	}
	return queues, true
}

func deviceExtensions(device vk.PhysicalDevice) (map[string]struct{}, error) {
	var count uint32
	if err := check(vk.EnumerateDeviceExtensionProperties(device, "", &count, nil), "vkEnumerateDeviceExtensionProperties"); err != nil {
		return nil, err
	}
	props := make([]vk.ExtensionProperties, count)
	if count > 0 {
		if err := check(vk.EnumerateDeviceExtensionProperties(device, "", &count, props), "vkEnumerateDeviceExtensionProperties"); err != nil {
			return nil, err
		}
	}
	out := make(map[string]struct{}, count)
	for i := range props {
		props[i].Deref()
		out[cString(props[i].ExtensionName[:])] = struct{}{}
	}
	return out, nil
}

func createLogicalDevice(context *VulkanContext) error {
	core.LogInfo("Creating logical device...")

	queueInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: context.GraphicsQueueIndex,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}}
	// no additional queue for a shared index
	if context.PresentQueueIndex != context.GraphicsQueueIndex {
		queueInfos = append(queueInfos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: context.PresentQueueIndex,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		})
	}

	available, err := deviceExtensions(context.PhysicalDevice)
	if err != nil {
		return err
	}
	extensions := []string{vk.KhrSwapchainExtensionName, drawIndirectCountExtension}
	if _, ok := available["VK_KHR_portability_subset"]; ok {
		core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
		extensions = append(extensions, "VK_KHR_portability_subset")
	}

	info := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensions),
		PEnabledFeatures: []vk.PhysicalDeviceFeatures{{
			MultiDrawIndirect:         vk.True,
			DrawIndirectFirstInstance: vk.True,
		}},
		PNext: unsafe.Pointer(&vk.PhysicalDeviceVulkan12Features{
			SType:             vk.StructureTypePhysicalDeviceVulkan12Features,
			DrawIndirectCount: vk.True,
		}),
	}
	if err := check(vk.CreateDevice(context.PhysicalDevice, &info, context.Allocator, &context.LogicalDevice), "vkCreateDevice"); err != nil {
		return err
	}
	core.LogInfo("Logical device created.")

	vk.GetDeviceQueue(context.LogicalDevice, context.GraphicsQueueIndex, 0, &context.GraphicsQueue)
	vk.GetDeviceQueue(context.LogicalDevice, context.PresentQueueIndex, 0, &context.PresentQueue)
	core.LogInfo("Queues obtained.")

	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: context.GraphicsQueueIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	if err := check(vk.CreateCommandPool(context.LogicalDevice, &poolInfo, context.Allocator, &context.GraphicsCommandPool), "vkCreateCommandPool"); err != nil {
		return err
	}
	core.LogInfo("Graphics command pool created.")
	return nil
}

// probeHeapMemoryType finds a device local memory type every placed resource
// kind accepts, so one heap can alias buffers and images.
func (d *Device) probeHeapMemoryType() error {
	bits := ^uint32(0)

	buf, err := d.createBufferHandle(metadata.BufferDesc{
		Size:      64 << 10,
		Usage:     metadata.BufferUsageStorage | metadata.BufferUsageIndirectArgs,
		DebugName: "heap_probe_buffer",
	})
	if err != nil {
		return err
	}
	bits &= d.bufferRequirements(buf).MemoryTypeBits
	vk.DestroyBuffer(d.context.LogicalDevice, buf, d.context.Allocator)

	probes := []metadata.TextureDesc{
		{Width: 64, Height: 64, Format: metadata.FormatRGBA16Float, Usage: metadata.TextureUsageSampled | metadata.TextureUsageStorage | metadata.TextureUsageRenderTarget},
		{Width: 64, Height: 64, Format: metadata.FormatD32Float, Usage: metadata.TextureUsageSampled | metadata.TextureUsageDepthStencil},
	}
	for _, desc := range probes {
		desc.DebugName = "heap_probe_image"
		img, err := d.createImageHandle(desc)
		if err != nil {
			return err
		}
		bits &= d.imageRequirements(img).MemoryTypeBits
		vk.DestroyImage(d.context.LogicalDevice, img, d.context.Allocator)
	}

	index := d.context.FindMemoryIndex(bits, vk.MemoryPropertyDeviceLocalBit)
	if index < 0 {
		return fmt.Errorf("%w: no device local memory type serves both buffers and images", ErrOutOfMemory)
	}
	d.heapMemoryType = uint32(index)
	d.granularity = uint64(d.context.Properties.Limits.BufferImageGranularity)
	core.LogDebug("heap memory type %d, buffer/image granularity %d", index, d.granularity)
	return nil
}

func (d *Device) createSampler() error {
	info := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vk.FilterNearest,
		MinFilter:               vk.FilterNearest,
		MipmapMode:              vk.SamplerMipmapModeNearest,
		AddressModeU:            vk.SamplerAddressModeClampToEdge,
		AddressModeV:            vk.SamplerAddressModeClampToEdge,
		AddressModeW:            vk.SamplerAddressModeClampToEdge,
		MaxLod:                  1000,
		BorderColor:             vk.BorderColorFloatOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
	}
	return check(vk.CreateSampler(d.context.LogicalDevice, &info, d.context.Allocator, &d.sampler), "vkCreateSampler")
}

func (d *Device) createSemaphore() (vk.Semaphore, error) {
	var sem vk.Semaphore
	err := check(vk.CreateSemaphore(d.context.LogicalDevice, &vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}, d.context.Allocator, &sem), "vkCreateSemaphore")
	return sem, err
}

// submit runs cmd on the graphics queue and waits for it to finish.
func (d *Device) submit(cmd vk.CommandBuffer, wait, signal vk.Semaphore, waitStage vk.PipelineStageFlagBits) error {
	info := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cmd},
	}
	if wait != nil {
		info.WaitSemaphoreCount = 1
		info.PWaitSemaphores = []vk.Semaphore{wait}
		info.PWaitDstStageMask = []vk.PipelineStageFlags{vk.PipelineStageFlags(waitStage)}
	}
	if signal != nil {
		info.SignalSemaphoreCount = 1
		info.PSignalSemaphores = []vk.Semaphore{signal}
	}

	if err := d.fence.Reset(d.context); err != nil {
		return err
	}
	err := d.locks.SafeQueueCall(d.context.GraphicsQueueIndex, func() error {
		return check(vk.QueueSubmit(d.context.GraphicsQueue, 1, []vk.SubmitInfo{info}, d.fence.Handle), "vkQueueSubmit")
	})
	if err != nil {
		return err
	}
	d.fence.IsSignaled = false
	return d.fence.Wait(d.context, vk.MaxUint64)
}

func (d *Device) Execute(cmd renderer.CommandList) error {
	cl, err := d.ownList(cmd)
	if err != nil {
		return err
	}
	if cl.state != commandListClosed {
		return fmt.Errorf("%w: execute needs a closed list, got %s", ErrCommandState, cl.state)
	}
	err = d.submit(cl.handle, nil, nil, 0)
	cl.retire()
	return err
}

func (d *Device) ownList(cmd renderer.CommandList) (*CommandList, error) {
	cl, ok := cmd.(*CommandList)
	if !ok || cl.device != d {
		return nil, fmt.Errorf("%w: command list %T", ErrForeignObject, cmd)
	}
	return cl, nil
}

func (d *Device) WaitForIdle() error {
	if d.context.LogicalDevice == nil {
		return nil
	}
	return check(vk.DeviceWaitIdle(d.context.LogicalDevice), "vkDeviceWaitIdle")
}

// Present blits mip 0 of tex into the next swapchain image and queues it.
func (d *Device) Present(tex renderer.Texture) error {
	if d.suspended || d.swapchain == nil {
		return nil
	}
	t, ok := tex.(*Texture)
	if !ok || t.device != d {
		return fmt.Errorf("%w: texture %T", ErrForeignObject, tex)
	}
	if t.desc.Format.IsDepth() {
		return fmt.Errorf("%w: cannot present depth texture %q", ErrUnsupportedFormat, t.desc.DebugName)
	}

	index, ok, err := d.swapchain.acquire(d.context, d.imageAvailable)
	if err != nil {
		return err
	}
	if !ok {
		return d.recreateSwapchain()
	}

	target := d.swapchain.Images[index]
	extent := d.swapchain.Extent
	err = d.singleUse(func(cmd vk.CommandBuffer) {
		vk.CmdPipelineBarrier(cmd,
			vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
			vk.PipelineStageFlags(vk.PipelineStageTransferBit),
			0, 0, nil, 0, nil, 2, []vk.ImageMemoryBarrier{
				{
					SType:               vk.StructureTypeImageMemoryBarrier,
					SrcAccessMask:       vk.AccessFlags(vk.AccessMemoryWriteBit),
					DstAccessMask:       vk.AccessFlags(vk.AccessTransferReadBit),
					OldLayout:           vk.ImageLayoutGeneral,
					NewLayout:           vk.ImageLayoutGeneral,
					SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
					DstQueueFamilyIndex: vk.QueueFamilyIgnored,
					Image:               t.handle,
					SubresourceRange:    t.subresources(),
				},
				{
					SType:               vk.StructureTypeImageMemoryBarrier,
					DstAccessMask:       vk.AccessFlags(vk.AccessTransferWriteBit),
					OldLayout:           vk.ImageLayoutUndefined,
					NewLayout:           vk.ImageLayoutTransferDstOptimal,
					SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
					DstQueueFamilyIndex: vk.QueueFamilyIgnored,
					Image:               target,
					SubresourceRange:    colorRange(),
				},
			})
		vk.CmdBlitImage(cmd, t.handle, vk.ImageLayoutGeneral, target, vk.ImageLayoutTransferDstOptimal, 1, []vk.ImageBlit{{
			SrcSubresource: colorLayers(0),
			SrcOffsets:     [2]vk.Offset3D{{}, {X: int32(t.desc.Width), Y: int32(t.desc.Height), Z: 1}},
			DstSubresource: colorLayers(0),
			DstOffsets:     [2]vk.Offset3D{{}, {X: int32(extent.Width), Y: int32(extent.Height), Z: 1}},
		}}, vk.FilterLinear)
		vk.CmdPipelineBarrier(cmd,
			vk.PipelineStageFlags(vk.PipelineStageTransferBit),
			vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit),
			0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{{
				SType:               vk.StructureTypeImageMemoryBarrier,
				SrcAccessMask:       vk.AccessFlags(vk.AccessTransferWriteBit),
				OldLayout:           vk.ImageLayoutTransferDstOptimal,
				NewLayout:           vk.ImageLayoutPresentSrc,
				SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
				DstQueueFamilyIndex: vk.QueueFamilyIgnored,
				Image:               target,
				SubresourceRange:    colorRange(),
			}})
	}, d.imageAvailable, d.renderComplete, vk.PipelineStageTransferBit)
	if err != nil {
		return err
	}

	var presented bool
	err = d.locks.SafeQueueCall(d.context.PresentQueueIndex, func() error {
		var perr error
		presented, perr = d.swapchain.present(d.context.PresentQueue, d.renderComplete, index)
		return perr
	})
	if err != nil {
		return err
	}
	if !presented {
		return d.recreateSwapchain()
	}
	return nil
}

func colorRange() vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{
		AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
		LevelCount: 1,
		LayerCount: 1,
	}
}

func colorLayers(mip uint32) vk.ImageSubresourceLayers {
	return vk.ImageSubresourceLayers{
		AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
		MipLevel:   mip,
		LayerCount: 1,
	}
}

func (d *Device) recreateSwapchain() error {
	if d.width == 0 || d.height == 0 {
		return nil
	}
	next, err := d.swapchain.recreate(d.context, d.width, d.height, d.opts.VSync)
	d.swapchain = next
	return err
}

// Resize follows the framebuffer. A zero size suspends presentation.
func (d *Device) Resize(width, height uint32) error {
	d.width, d.height = width, height
	if width == 0 || height == 0 {
		d.suspended = true
		return nil
	}
	d.suspended = false
	if d.swapchain == nil {
		var err error
		d.swapchain, err = createSwapchain(d.context, width, height, d.opts.VSync, vk.NullSwapchain)
		return err
	}
	return d.recreateSwapchain()
}

// ReadBuffer copies size bytes at offset back to the host.
func (d *Device) ReadBuffer(buf renderer.Buffer, offset, size uint64) ([]byte, error) {
	b, ok := buf.(*Buffer)
	if !ok || b.device != d {
		return nil, fmt.Errorf("%w: buffer %T", ErrForeignObject, buf)
	}
	if offset+size > b.desc.Size {
		return nil, fmt.Errorf("%w: read [%d, %d) of %q (%d bytes)", ErrOutOfRange, offset, offset+size, b.desc.DebugName, b.desc.Size)
	}
	if b.mapped != nil {
		return append([]byte(nil), b.bytes()[offset:offset+size]...), nil
	}

	staging, err := d.stagingBuffer(size, "readback_"+b.desc.DebugName)
	if err != nil {
		return nil, err
	}
	defer staging.Destroy()
	err = d.singleUse(func(cmd vk.CommandBuffer) {
		d.readbackBarrier(cmd)
		vk.CmdCopyBuffer(cmd, b.handle, staging.handle, 1, []vk.BufferCopy{{
			SrcOffset: vk.DeviceSize(offset),
			DstOffset: 0,
			Size:      vk.DeviceSize(size),
		}})
		d.hostBarrier(cmd)
	}, nil, nil, 0)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), staging.bytes()[:size]...), nil
}

// ReadTexture returns one mip as tightly packed float32 channels.
func (d *Device) ReadTexture(tex renderer.Texture, mip uint32) ([]float32, error) {
	t, ok := tex.(*Texture)
	if !ok || t.device != d {
		return nil, fmt.Errorf("%w: texture %T", ErrForeignObject, tex)
	}
	if mip >= t.desc.Mips() {
		return nil, fmt.Errorf("%w: mip %d of %q", ErrOutOfRange, mip, t.desc.DebugName)
	}
	w, h := t.desc.MipExtent(mip)
	size := uint64(w) * uint64(h) * uint64(t.desc.Layers()) * uint64(t.desc.Format.BytesPerTexel())

	staging, err := d.stagingBuffer(size, "readback_"+t.desc.DebugName)
	if err != nil {
		return nil, err
	}
	defer staging.Destroy()
	err = d.singleUse(func(cmd vk.CommandBuffer) {
		d.readbackBarrier(cmd)
		vk.CmdCopyImageToBuffer(cmd, t.handle, vk.ImageLayoutGeneral, staging.handle, 1, []vk.BufferImageCopy{{
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask: aspectMask(t.desc.Format),
				MipLevel:   mip,
				LayerCount: t.desc.Layers(),
			},
			ImageExtent: vk.Extent3D{Width: w, Height: h, Depth: 1},
		}})
		d.hostBarrier(cmd)
	}, nil, nil, 0)
	if err != nil {
		return nil, err
	}
	return decodeTexels(t.desc.Format, staging.bytes()[:size])
}

func (d *Device) stagingBuffer(size uint64, name string) (*Buffer, error) {
	buf, err := d.CreateBuffer(metadata.BufferDesc{
		Size:        size,
		Usage:       metadata.BufferUsageTransferDst,
		DebugName:   name,
		HostVisible: true,
	})
	if err != nil {
		return nil, err
	}
	return buf.(*Buffer), nil
}

func (d *Device) readbackBarrier(cmd vk.CommandBuffer) {
	memoryBarrier(cmd, vk.PipelineStageAllCommandsBit, vk.AccessMemoryWriteBit, vk.PipelineStageTransferBit, vk.AccessTransferReadBit)
}

func (d *Device) hostBarrier(cmd vk.CommandBuffer) {
	memoryBarrier(cmd, vk.PipelineStageTransferBit, vk.AccessTransferWriteBit, vk.PipelineStageHostBit, vk.AccessHostReadBit)
}

// Destroy tears the device down in reverse creation order.
func (d *Device) Destroy() error {
	ctx := d.context
	var errs []error
	if ctx.LogicalDevice != nil {
		errs = append(errs, d.WaitForIdle())

		d.mu.Lock()
		for cl := range d.lists {
			cl.release()
		}
		d.lists = nil
		for _, p := range d.computePipelines {
			p.destroy()
		}
		for _, p := range d.graphicsPipelines {
			p.destroy()
		}
		for _, rp := range d.renderPasses {
			vk.DestroyRenderPass(ctx.LogicalDevice, rp, ctx.Allocator)
		}
		for _, m := range d.shaderModules {
			vk.DestroyShaderModule(ctx.LogicalDevice, m, ctx.Allocator)
		}
		for _, b := range d.clearSources {
			b.Destroy()
		}
		d.computePipelines, d.graphicsPipelines = nil, nil
		d.renderPasses, d.shaderModules, d.clearSources = nil, nil, nil
		d.mu.Unlock()

		if d.swapchain != nil {
			d.swapchain.destroy(ctx)
			d.swapchain = nil
		}
		for _, sem := range []vk.Semaphore{d.imageAvailable, d.renderComplete} {
			if sem != nil {
				vk.DestroySemaphore(ctx.LogicalDevice, sem, ctx.Allocator)
			}
		}
		d.imageAvailable, d.renderComplete = nil, nil
		if d.fence != nil {
			d.fence.Destroy(ctx)
			d.fence = nil
		}
		if d.sampler != nil {
			vk.DestroySampler(ctx.LogicalDevice, d.sampler, ctx.Allocator)
			d.sampler = nil
		}

		core.LogInfo("Destroying command pools...")
		if ctx.GraphicsCommandPool != nil {
			vk.DestroyCommandPool(ctx.LogicalDevice, ctx.GraphicsCommandPool, ctx.Allocator)
			ctx.GraphicsCommandPool = nil
		}
		core.LogInfo("Destroying logical device...")
		vk.DestroyDevice(ctx.LogicalDevice, ctx.Allocator)
		ctx.LogicalDevice = nil
		ctx.GraphicsQueue, ctx.PresentQueue = nil, nil
	}
	ctx.PhysicalDevice = nil
	destroyInstance(ctx)
	return errors.Join(errs...)
}

var (
	_ renderer.Device      = (*Device)(nil)
	_ renderer.Readback    = (*Device)(nil)
	_ renderer.CommandList = (*CommandList)(nil)
)
