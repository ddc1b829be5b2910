package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

const (
	computeStages  = vk.ShaderStageComputeBit
	graphicsStages = vk.ShaderStageVertexBit | vk.ShaderStageFragmentBit
)

/**
 * @brief Holds a Vulkan pipeline, its layout and its descriptor set layout.
 * Pipelines are cached by descriptor hash and owned by the device, so Destroy
 * on the handle is a no-op.
 */
type VulkanPipeline struct {
	device     *Device
	name       string
	Handle     vk.Pipeline
	Layout     vk.PipelineLayout
	descriptor *descriptorLayout
}

func (p *VulkanPipeline) Name() string { return p.name }

func (p *VulkanPipeline) Destroy() {}

func (p *VulkanPipeline) destroy() {
	ctx := p.device.context
	if p.Handle != nil {
		vk.DestroyPipeline(ctx.LogicalDevice, p.Handle, ctx.Allocator)
		p.Handle = nil
	}
	if p.Layout != nil {
		vk.DestroyPipelineLayout(ctx.LogicalDevice, p.Layout, ctx.Allocator)
		p.Layout = nil
	}
	if p.descriptor != nil {
		p.descriptor.destroy(ctx)
		p.descriptor = nil
	}
}

type ComputePipeline struct {
	VulkanPipeline
	desc metadata.ComputePipelineDesc
}

type GraphicsPipeline struct {
	VulkanPipeline
	desc       metadata.GraphicsPipelineDesc
	renderPass vk.RenderPass
	passKey    renderPassKey
}

func (d *Device) createPipelineLayout(p *VulkanPipeline, bindings []metadata.BindingLayout, constantsSize uint32, stages vk.ShaderStageFlagBits) error {
	var err error
	if p.descriptor, err = d.createDescriptorLayout(p.name, bindings, constantsSize, stages); err != nil {
		return err
	}
	info := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: 1,
		PSetLayouts:    []vk.DescriptorSetLayout{p.descriptor.handle},
	}
	return d.locks.SafeCall(PipelineManagement, func() error {
		return check(vk.CreatePipelineLayout(d.context.LogicalDevice, &info, d.context.Allocator, &p.Layout), "vkCreatePipelineLayout")
	})
}

func (d *Device) CreateComputePipeline(desc metadata.ComputePipelineDesc) (renderer.ComputePipeline, error) {
	key := desc.Hash()
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.computePipelines[key]; ok {
		return p, nil
	}

	p := &ComputePipeline{VulkanPipeline: VulkanPipeline{device: d, name: desc.Name}, desc: desc}
	stage, err := d.shaderStage(desc.Shader, vk.ShaderStageComputeBit)
	if err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", desc.Name, err)
	}
	if err := d.createPipelineLayout(&p.VulkanPipeline, desc.Bindings, desc.ConstantsSize, computeStages); err != nil {
		p.destroy()
		return nil, err
	}

	pipelines := make([]vk.Pipeline, 1)
	err = d.locks.SafeCall(PipelineManagement, func() error {
		return check(vk.CreateComputePipelines(d.context.LogicalDevice, vk.PipelineCache(vk.NullHandle), 1, []vk.ComputePipelineCreateInfo{{
			SType:  vk.StructureTypeComputePipelineCreateInfo,
			Stage:  stage,
			Layout: p.Layout,
		}}, d.context.Allocator, pipelines), "vkCreateComputePipelines")
	})
	if err != nil {
		p.destroy()
		return nil, fmt.Errorf("pipeline %q: %w", desc.Name, err)
	}
	p.Handle = pipelines[0]
	d.computePipelines[key] = p
	core.LogDebug("compute pipeline %q created", desc.Name)
	return p, nil
}

func (d *Device) CreateGraphicsPipeline(desc metadata.GraphicsPipelineDesc) (renderer.GraphicsPipeline, error) {
	key := desc.Hash()
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.graphicsPipelines[key]; ok {
		return p, nil
	}

	passKey, err := newRenderPassKey(desc.ColorFormats, desc.DepthFormat)
	if err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", desc.Name, err)
	}
	rp, err := d.renderPass(passKey)
	if err != nil {
		return nil, err
	}

	stages := make([]vk.PipelineShaderStageCreateInfo, 0, 2)
	vs, err := d.shaderStage(desc.VertexShader, vk.ShaderStageVertexBit)
	if err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", desc.Name, err)
	}
	stages = append(stages, vs)
	// depth-only passes have no fragment stage
	if desc.FragmentShader != "" {
		fs, err := d.shaderStage(desc.FragmentShader, vk.ShaderStageFragmentBit)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q: %w", desc.Name, err)
		}
		stages = append(stages, fs)
	}

	p := &GraphicsPipeline{
		VulkanPipeline: VulkanPipeline{device: d, name: desc.Name},
		desc:           desc,
		renderPass:     rp,
		passKey:        passKey,
	}
	if err := d.createPipelineLayout(&p.VulkanPipeline, desc.Bindings, desc.ConstantsSize, graphicsStages); err != nil {
		p.destroy()
		return nil, err
	}

	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}
	rasterizer := vk.PipelineRasterizationStateCreateInfo{
		SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
		PolygonMode: vk.PolygonModeFill,
		CullMode:    vk.CullModeFlags(vk.CullModeNone),
		FrontFace:   vk.FrontFaceCounterClockwise,
		LineWidth:   1.0,
	}
	multisampling := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: vk.SampleCount1Bit,
		MinSampleShading:     1.0,
	}
	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:          vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthCompareOp: vk.CompareOpAlways,
	}
	if desc.DepthTest {
		depthStencil.DepthTestEnable = vk.True
		depthStencil.DepthCompareOp = compareOp(desc.DepthCompare)
	}
	if desc.DepthWrite {
		depthStencil.DepthWriteEnable = vk.True
	}

	blendAttachments := make([]vk.PipelineColorBlendAttachmentState, len(desc.ColorFormats))
	for i := range blendAttachments {
		blendAttachments[i] = vk.PipelineColorBlendAttachmentState{
			BlendEnable: vk.False,
			ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit | vk.ColorComponentGBit |
				vk.ColorComponentBBit | vk.ColorComponentABit),
		}
	}
	colorBlend := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: uint32(len(blendAttachments)),
		PAttachments:    blendAttachments,
	}

	dynamicStates := []vk.DynamicState{vk.DynamicStateViewport, vk.DynamicStateScissor}
	dynamicState := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}
	vertexInput := vertexInputState(desc.VertexStride)
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology: vk.PrimitiveTopologyTriangleList,
	}

	info := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisampling,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlend,
		PDynamicState:       &dynamicState,
		Layout:              p.Layout,
		RenderPass:          rp,
		Subpass:             0,
		BasePipelineIndex:   -1,
	}
	pipelines := make([]vk.Pipeline, 1)
	err = d.locks.SafeCall(PipelineManagement, func() error {
		return check(vk.CreateGraphicsPipelines(d.context.LogicalDevice, vk.PipelineCache(vk.NullHandle), 1,
			[]vk.GraphicsPipelineCreateInfo{info}, d.context.Allocator, pipelines), "vkCreateGraphicsPipelines")
	})
	if err != nil {
		p.destroy()
		return nil, fmt.Errorf("pipeline %q: %w", desc.Name, err)
	}
	p.Handle = pipelines[0]
	d.graphicsPipelines[key] = p
	core.LogDebug("graphics pipeline %q created", desc.Name)
	return p, nil
}
