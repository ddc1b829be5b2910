package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

/**
 * @brief A 2D image and its views. Images live in the general layout for their
 * whole life; a fresh image or a new aliasing occupant is moved there from
 * undefined by the first command list that touches it.
 */
type Texture struct {
	device *Device
	desc   metadata.TextureDesc
	handle vk.Image
	memory vk.DeviceMemory
	placed bool

	view     vk.ImageView
	mipViews []vk.ImageView
	// attachment views cover mip 0 and a single layer
	attachmentView vk.ImageView

	initialized bool
}

func (t *Texture) Name() string { return t.desc.DebugName }

func (t *Texture) Desc() metadata.TextureDesc { return t.desc }

func (t *Texture) Destroy() {
	ctx := t.device.context
	for _, v := range append([]vk.ImageView{t.view, t.attachmentView}, t.mipViews...) {
		if v != nil {
			vk.DestroyImageView(ctx.LogicalDevice, v, ctx.Allocator)
		}
	}
	t.view, t.attachmentView, t.mipViews = nil, nil, nil
	if t.handle != nil {
		vk.DestroyImage(ctx.LogicalDevice, t.handle, ctx.Allocator)
		t.handle = nil
	}
	if t.memory != nil && !t.placed {
		vk.FreeMemory(ctx.LogicalDevice, t.memory, ctx.Allocator)
	}
	t.memory = nil
}

// viewFor returns the view a binding of the given mip selects.
func (t *Texture) viewFor(mip uint32) vk.ImageView {
	if mip == renderer.AllMips || int(mip) >= len(t.mipViews) {
		return t.view
	}
	return t.mipViews[mip]
}

func (t *Texture) subresources() vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{
		AspectMask:     aspectMask(t.desc.Format),
		BaseMipLevel:   0,
		LevelCount:     t.desc.Mips(),
		BaseArrayLayer: 0,
		LayerCount:     t.desc.Layers(),
	}
}

func validateTexture(desc metadata.TextureDesc) error {
	if desc.Width == 0 || desc.Height == 0 {
		return fmt.Errorf("%w: texture %q is %dx%d", ErrInvalidDesc, desc.DebugName, desc.Width, desc.Height)
	}
	if toVkFormat(desc.Format) == vk.FormatUndefined {
		return fmt.Errorf("%w: texture %q has format %s", ErrUnsupportedFormat, desc.DebugName, desc.Format)
	}
	return nil
}

func (d *Device) createImageHandle(desc metadata.TextureDesc) (vk.Image, error) {
	if err := validateTexture(desc); err != nil {
		return nil, err
	}
	info := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    toVkFormat(desc.Format),
		Extent: vk.Extent3D{
			Width:  desc.Width,
			Height: desc.Height,
			Depth:  1,
		},
		MipLevels:     desc.Mips(),
		ArrayLayers:   desc.Layers(),
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         imageUsage(desc),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	var handle vk.Image
	if err := check(vk.CreateImage(d.context.LogicalDevice, &info, d.context.Allocator, &handle), "vkCreateImage"); err != nil {
		return nil, fmt.Errorf("texture %q: %w", desc.DebugName, err)
	}
	return handle, nil
}

func (d *Device) imageRequirements(handle vk.Image) vk.MemoryRequirements {
	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.context.LogicalDevice, handle, &reqs)
	reqs.Deref()
	return reqs
}

func (d *Device) createView(t *Texture, baseMip, mips, layers uint32) (vk.ImageView, error) {
	viewType := vk.ImageViewType2d
	if layers > 1 {
		viewType = vk.ImageViewType2dArray
	}
	info := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    t.handle,
		ViewType: viewType,
		Format:   toVkFormat(t.desc.Format),
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     aspectMask(t.desc.Format),
			BaseMipLevel:   baseMip,
			LevelCount:     mips,
			BaseArrayLayer: 0,
			LayerCount:     layers,
		},
	}
	var view vk.ImageView
	if err := check(vk.CreateImageView(d.context.LogicalDevice, &info, d.context.Allocator, &view), "vkCreateImageView"); err != nil {
		return nil, fmt.Errorf("texture %q: %w", t.desc.DebugName, err)
	}
	return view, nil
}

func (d *Device) createViews(t *Texture) error {
	var err error
	if t.view, err = d.createView(t, 0, t.desc.Mips(), t.desc.Layers()); err != nil {
		return err
	}
	if t.attachmentView, err = d.createView(t, 0, 1, 1); err != nil {
		return err
	}
	if t.desc.Usage.Has(metadata.TextureUsageStorage) || t.desc.Mips() > 1 {
		t.mipViews = make([]vk.ImageView, t.desc.Mips())
		for mip := uint32(0); mip < t.desc.Mips(); mip++ {
			if t.mipViews[mip], err = d.createView(t, mip, 1, t.desc.Layers()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Device) CreateTexture(desc metadata.TextureDesc) (renderer.Texture, error) {
	handle, err := d.createImageHandle(desc)
	if err != nil {
		return nil, err
	}
	t := &Texture{device: d, desc: desc, handle: handle}
	if desc.Virtual {
		return t, nil
	}
	if t.memory, err = d.allocate(d.imageRequirements(handle), vk.MemoryPropertyDeviceLocalBit, desc.DebugName); err != nil {
		t.Destroy()
		return nil, err
	}
	if err := check(vk.BindImageMemory(d.context.LogicalDevice, handle, t.memory, 0), "vkBindImageMemory"); err != nil {
		t.Destroy()
		return nil, err
	}
	if err := d.createViews(t); err != nil {
		t.Destroy()
		return nil, err
	}
	return t, nil
}

func (d *Device) CreatePlacedTexture(desc metadata.TextureDesc, heap renderer.Heap, offset uint64) (renderer.Texture, error) {
	handle, err := d.createImageHandle(desc)
	if err != nil {
		return nil, err
	}
	t := &Texture{device: d, desc: desc, handle: handle, placed: true}
	h, err := d.place(heap, offset, d.imageRequirements(handle), desc.DebugName)
	if err != nil {
		t.Destroy()
		return nil, err
	}
	if err := check(vk.BindImageMemory(d.context.LogicalDevice, handle, h.memory, vk.DeviceSize(offset)), "vkBindImageMemory"); err != nil {
		t.Destroy()
		return nil, err
	}
	t.memory = h.memory
	if err := d.createViews(t); err != nil {
		t.Destroy()
		return nil, err
	}
	return t, nil
}
