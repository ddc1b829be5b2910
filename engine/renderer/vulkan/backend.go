package vulkan

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/platform"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

func initLoader() error {
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		return fmt.Errorf("%w: GetInstanceProcAddress is nil", ErrVulkan)
	}
	vk.SetGetInstanceProcAddr(procAddr)
	return vk.Init()
}

func createInstance(context *VulkanContext, appName string, windowExtensions []string, validation bool) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 2, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(appName),
		PEngineName:        VulkanSafeString("Prism"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	extensions := append([]string{"VK_KHR_surface"}, windowExtensions...)
	if runtime.GOOS == "darwin" {
		extensions = append(extensions, "VK_KHR_portability_enumeration", "VK_KHR_get_physical_device_properties2")
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}
	if validation {
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
	}
	core.LogDebug("required instance extensions: %v", extensions)
	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(extensions)

	var layers []string
	if validation {
		found, err := hasInstanceLayer(validationLayer)
		if err != nil {
			return err
		}
		if found {
			layers = append(layers, validationLayer)
		} else {
			core.LogWarn("validation requested but %s is not installed", validationLayer)
		}
	}
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	if err := check(vk.CreateInstance(&createInfo, context.Allocator, &context.Instance), "vkCreateInstance"); err != nil {
		return err
	}
	if err := vk.InitInstance(context.Instance); err != nil {
		return err
	}
	core.LogInfo("Vulkan instance created.")

	if len(layers) > 0 {
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if err := check(vk.CreateDebugReportCallback(context.Instance, &debugCreateInfo, context.Allocator, &dbg), "vkCreateDebugReportCallback"); err != nil {
			return err
		}
		context.debugCallback = dbg
		core.LogDebug("Vulkan debugger created.")
	}
	return nil
}

func hasInstanceLayer(name string) (bool, error) {
	var count uint32
	if err := check(vk.EnumerateInstanceLayerProperties(&count, nil), "vkEnumerateInstanceLayerProperties"); err != nil {
		return false, err
	}
	layers := make([]vk.LayerProperties, count)
	if err := check(vk.EnumerateInstanceLayerProperties(&count, layers), "vkEnumerateInstanceLayerProperties"); err != nil {
		return false, err
	}
	for i := range layers {
		layers[i].Deref()
		if cString(layers[i].LayerName[:]) == name {
			return true, nil
		}
	}
	return false, nil
}

func createSurface(context *VulkanContext, p *platform.Platform) error {
	surface, err := p.Window.CreateWindowSurface(context.Instance, nil)
	if err != nil {
		return fmt.Errorf("%w: surface creation failed: %s", ErrVulkan, err)
	}
	context.Surface = vk.SurfaceFromPointer(surface)
	return nil
}

func destroyInstance(context *VulkanContext) {
	if context.Surface != nil {
		vk.DestroySurface(context.Instance, context.Surface, context.Allocator)
		context.Surface = nil
	}
	if context.debugCallback != nil {
		vk.DestroyDebugReportCallback(context.Instance, context.debugCallback, context.Allocator)
		context.debugCallback = nil
	}
	if context.Instance != nil {
		vk.DestroyInstance(context.Instance, context.Allocator)
		context.Instance = nil
	}
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
