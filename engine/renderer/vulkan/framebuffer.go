package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

/**
 * @brief A framebuffer over a draw's attachments. Framebuffers live as long as
 * the command list that created them.
 */
type VulkanFramebuffer struct {
	Handle      vk.Framebuffer
	Attachments []vk.ImageView
	Width       uint32
	Height      uint32
}

func (d *Device) createFramebuffer(rp vk.RenderPass, colors []*Texture, depth *Texture) (*VulkanFramebuffer, error) {
	fb := &VulkanFramebuffer{}
	for _, t := range append(colors, depth) {
		if t == nil {
			continue
		}
		if fb.Width == 0 {
			fb.Width, fb.Height = t.desc.Width, t.desc.Height
		} else if t.desc.Width != fb.Width || t.desc.Height != fb.Height {
			return nil, fmt.Errorf("%w: attachment %q is %dx%d, others are %dx%d",
				ErrInvalidDesc, t.desc.DebugName, t.desc.Width, t.desc.Height, fb.Width, fb.Height)
		}
		fb.Attachments = append(fb.Attachments, t.attachmentView)
	}
	if len(fb.Attachments) == 0 {
		return nil, fmt.Errorf("%w: draw without attachments", ErrInvalidDesc)
	}

	info := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      rp,
		AttachmentCount: uint32(len(fb.Attachments)),
		PAttachments:    fb.Attachments,
		Width:           fb.Width,
		Height:          fb.Height,
		Layers:          1,
	}
	if err := check(vk.CreateFramebuffer(d.context.LogicalDevice, &info, d.context.Allocator, &fb.Handle), "vkCreateFramebuffer"); err != nil {
		return nil, err
	}
	return fb, nil
}

func (fb *VulkanFramebuffer) Destroy(context *VulkanContext) {
	if fb.Handle != nil {
		vk.DestroyFramebuffer(context.LogicalDevice, fb.Handle, context.Allocator)
		fb.Handle = nil
	}
	fb.Attachments = nil
}
