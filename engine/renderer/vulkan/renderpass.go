package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// renderPassKey identifies a render pass by its attachment formats.
type renderPassKey struct {
	colors     [maxColorTargets]metadata.Format
	colorCount int
	depth      metadata.Format
}

func newRenderPassKey(colors []metadata.Format, depth metadata.Format) (renderPassKey, error) {
	var key renderPassKey
	if len(colors) > maxColorTargets {
		return key, fmt.Errorf("%w: %d color targets, at most %d", ErrInvalidDesc, len(colors), maxColorTargets)
	}
	copy(key.colors[:], colors)
	key.colorCount = len(colors)
	key.depth = depth
	return key, nil
}

/**
 * @brief Returns the cached render pass for the attachment formats. Every
 * attachment is loaded and stored in the general layout; clears are explicit
 * commands, never load ops. The caller holds d.mu.
 */
func (d *Device) renderPass(key renderPassKey) (vk.RenderPass, error) {
	if rp, ok := d.renderPasses[key]; ok {
		return rp, nil
	}

	attachments := make([]vk.AttachmentDescription, 0, key.colorCount+1)
	colorRefs := make([]vk.AttachmentReference, 0, key.colorCount)
	for i := 0; i < key.colorCount; i++ {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         toVkFormat(key.colors[i]),
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpLoad,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutGeneral,
			FinalLayout:    vk.ImageLayoutGeneral,
		})
		colorRefs = append(colorRefs, vk.AttachmentReference{
			Attachment: uint32(i),
			Layout:     vk.ImageLayoutGeneral,
		})
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(colorRefs)),
		PColorAttachments:    colorRefs,
	}
	if key.depth != metadata.FormatUnknown {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         toVkFormat(key.depth),
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpLoad,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutGeneral,
			FinalLayout:    vk.ImageLayoutGeneral,
		})
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: uint32(len(attachments) - 1),
			Layout:     vk.ImageLayoutGeneral,
		}
	}

	info := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
	}
	var rp vk.RenderPass
	err := d.locks.SafeCall(RenderpassManagement, func() error {
		return check(vk.CreateRenderPass(d.context.LogicalDevice, &info, d.context.Allocator, &rp), "vkCreateRenderPass")
	})
	if err != nil {
		return nil, err
	}
	d.renderPasses[key] = rp
	return rp, nil
}

func beginRenderPass(cmd vk.CommandBuffer, rp vk.RenderPass, fb vk.Framebuffer, width, height uint32) {
	vk.CmdBeginRenderPass(cmd, &vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  rp,
		Framebuffer: fb,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{Width: width, Height: height},
		},
	}, vk.SubpassContentsInline)

	// y grows upward in clip space, so the viewport is flipped
	vk.CmdSetViewport(cmd, 0, 1, []vk.Viewport{{
		X:        0,
		Y:        float32(height),
		Width:    float32(width),
		Height:   -float32(height),
		MinDepth: 0,
		MaxDepth: 1,
	}})
	vk.CmdSetScissor(cmd, 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: 0, Y: 0},
		Extent: vk.Extent2D{Width: width, Height: height},
	}})
}

func endRenderPass(cmd vk.CommandBuffer) {
	vk.CmdEndRenderPass(cmd)
}
