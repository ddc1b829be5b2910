package vulkan

import (
	"fmt"
	"os"
	"path/filepath"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/core"
)

const shaderEntryPoint = "main\x00"

// shaderModule returns the cached module for name, loading <ShaderDir>/<name>.spv
// on first use. The caller holds d.mu.
func (d *Device) shaderModule(name string) (vk.ShaderModule, error) {
	if m, ok := d.shaderModules[name]; ok {
		return m, nil
	}

	path := filepath.Join(d.opts.ShaderDir, name+".spv")
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read shader module %q: %w", name, err)
	}
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, fmt.Errorf("%w: shader module %q is %d bytes, not SPIR-V", ErrInvalidDesc, path, len(code))
	}

	info := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code)),
		PCode:    spirvWords(code),
	}
	var module vk.ShaderModule
	if err := check(vk.CreateShaderModule(d.context.LogicalDevice, &info, d.context.Allocator, &module), "vkCreateShaderModule"); err != nil {
		return nil, fmt.Errorf("shader %q: %w", name, err)
	}
	core.LogDebug("loaded shader module %s", path)
	d.shaderModules[name] = module
	return module, nil
}

func (d *Device) shaderStage(name string, stage vk.ShaderStageFlagBits) (vk.PipelineShaderStageCreateInfo, error) {
	module, err := d.shaderModule(name)
	if err != nil {
		return vk.PipelineShaderStageCreateInfo{}, err
	}
	return vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  stage,
		Module: module,
		PName:  shaderEntryPoint,
	}, nil
}
