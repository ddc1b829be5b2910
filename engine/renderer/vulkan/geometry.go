package vulkan

import (
	vk "github.com/goki/vulkan"
)

// Attribute layout of a scene vertex: position, normal, texcoord.
var vertexAttributes = []struct {
	format vk.Format
	offset uint32
}{
	{vk.FormatR32g32b32Sfloat, 0},
	{vk.FormatR32g32b32Sfloat, 12},
	{vk.FormatR32g32Sfloat, 24},
}

/**
 * @brief Builds the vertex input state for a pipeline. A zero stride means the
 * vertex shader generates its own positions and reads no vertex buffer.
 */
func vertexInputState(stride uint32) vk.PipelineVertexInputStateCreateInfo {
	info := vk.PipelineVertexInputStateCreateInfo{
		SType: vk.StructureTypePipelineVertexInputStateCreateInfo,
	}
	if stride == 0 {
		return info
	}

	attributes := make([]vk.VertexInputAttributeDescription, 0, len(vertexAttributes))
	for i, a := range vertexAttributes {
		if a.offset >= stride {
			break
		}
		attributes = append(attributes, vk.VertexInputAttributeDescription{
			Location: uint32(i),
			Binding:  0,
			Format:   a.format,
			Offset:   a.offset,
		})
	}
	info.VertexBindingDescriptionCount = 1
	info.PVertexBindingDescriptions = []vk.VertexInputBindingDescription{{
		Binding:   0,
		Stride:    stride,
		InputRate: vk.VertexInputRateVertex,
	}}
	info.VertexAttributeDescriptionCount = uint32(len(attributes))
	info.PVertexAttributeDescriptions = attributes
	return info
}
