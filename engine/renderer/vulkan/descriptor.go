package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

/**
 * @brief The single descriptor set layout of a pipeline. Slot N of the binding
 * table is binding N of set 0; the constant block, when the pipeline has one,
 * is the uniform buffer at metadata.ConstantsSlot.
 */
type descriptorLayout struct {
	handle        vk.DescriptorSetLayout
	types         map[uint32]metadata.BindingType
	constantsSize uint32
}

func (d *Device) createDescriptorLayout(name string, bindings []metadata.BindingLayout, constantsSize uint32, stages vk.ShaderStageFlagBits) (*descriptorLayout, error) {
	layout := &descriptorLayout{
		types:         make(map[uint32]metadata.BindingType, len(bindings)+1),
		constantsSize: constantsSize,
	}
	var vkBindings []vk.DescriptorSetLayoutBinding
	add := func(slot uint32, t metadata.BindingType) error {
		if _, dup := layout.types[slot]; dup {
			return fmt.Errorf("%w: pipeline %q binds slot %d twice", ErrInvalidDesc, name, slot)
		}
		layout.types[slot] = t
		vkBindings = append(vkBindings, vk.DescriptorSetLayoutBinding{
			Binding:         slot,
			DescriptorType:  descriptorType(t),
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(stages),
		})
		return nil
	}
	if constantsSize > 0 {
		if err := add(metadata.ConstantsSlot, metadata.BindingTypeUniformBuffer); err != nil {
			return nil, err
		}
	}
	for _, b := range bindings {
		if err := add(b.Slot, b.Type); err != nil {
			return nil, err
		}
	}

	info := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(vkBindings)),
		PBindings:    vkBindings,
	}
	if err := check(vk.CreateDescriptorSetLayout(d.context.LogicalDevice, &info, d.context.Allocator, &layout.handle), "vkCreateDescriptorSetLayout"); err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", name, err)
	}
	return layout, nil
}

func (l *descriptorLayout) destroy(context *VulkanContext) {
	if l.handle != nil {
		vk.DestroyDescriptorSetLayout(context.LogicalDevice, l.handle, context.Allocator)
		l.handle = nil
	}
}

// descriptorArena hands out single-use descriptor sets for one command list.
type descriptorArena struct {
	device *Device
	pools  []vk.DescriptorPool
}

func (a *descriptorArena) newPool() (vk.DescriptorPool, error) {
	sizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: descriptorPoolCount},
		{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: descriptorPoolCount},
		{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: descriptorPoolCount},
		{Type: vk.DescriptorTypeStorageImage, DescriptorCount: descriptorPoolCount},
	}
	var pool vk.DescriptorPool
	err := check(vk.CreateDescriptorPool(a.device.context.LogicalDevice, &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       descriptorPoolSets,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}, a.device.context.Allocator, &pool), "vkCreateDescriptorPool")
	if err != nil {
		return nil, err
	}
	a.pools = append(a.pools, pool)
	return pool, nil
}

func (a *descriptorArena) allocate(layout *descriptorLayout) (vk.DescriptorSet, error) {
	try := func(pool vk.DescriptorPool) (vk.DescriptorSet, vk.Result) {
		var set vk.DescriptorSet
		result := vk.AllocateDescriptorSets(a.device.context.LogicalDevice, &vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     pool,
			DescriptorSetCount: 1,
			PSetLayouts:        []vk.DescriptorSetLayout{layout.handle},
		}, &set)
		return set, result
	}

	if n := len(a.pools); n > 0 {
		set, result := try(a.pools[n-1])
		switch result {
		case vk.Success:
			return set, nil
		case vk.ErrorOutOfPoolMemory, vk.ErrorFragmentedPool:
			// full, fall through to a fresh pool
		default:
			return nil, check(result, "vkAllocateDescriptorSets")
		}
	}
	pool, err := a.newPool()
	if err != nil {
		return nil, err
	}
	set, result := try(pool)
	return set, check(result, "vkAllocateDescriptorSets")
}

func (a *descriptorArena) release() {
	for _, pool := range a.pools {
		vk.DestroyDescriptorPool(a.device.context.LogicalDevice, pool, a.device.context.Allocator)
	}
	a.pools = nil
}

// constantsRange is where a draw's constant block landed in the upload arena.
type constantsRange struct {
	buffer *Buffer
	offset uint64
	size   uint64
}

// writeDescriptors fills set from the binding table. Every slot of the
// layout must be bound.
func (d *Device) writeDescriptors(set vk.DescriptorSet, layout *descriptorLayout, bindings []renderer.Binding, constants *constantsRange) error {
	writes := make([]vk.WriteDescriptorSet, 0, len(bindings)+1)
	bound := make(map[uint32]bool, len(bindings)+1)

	if constants != nil {
		writes = append(writes, vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      metadata.ConstantsSlot,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeUniformBuffer,
			PBufferInfo: []vk.DescriptorBufferInfo{{
				Buffer: constants.buffer.handle,
				Offset: vk.DeviceSize(constants.offset),
				Range:  vk.DeviceSize(constants.size),
			}},
		})
		bound[metadata.ConstantsSlot] = true
	}

	for _, b := range bindings {
		want, ok := layout.types[b.Slot]
		if !ok {
			return fmt.Errorf("%w: slot %d is not in the pipeline layout", ErrInvalidDesc, b.Slot)
		}
		if want != b.Type {
			return fmt.Errorf("%w: slot %d bound as type %d, layout wants %d", ErrInvalidDesc, b.Slot, b.Type, want)
		}
		write := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      b.Slot,
			DescriptorCount: 1,
			DescriptorType:  descriptorType(b.Type),
		}
		switch b.Type {
		case metadata.BindingTypeStorageBuffer, metadata.BindingTypeUniformBuffer:
			buf, ok := b.Buffer.(*Buffer)
			if !ok || buf.device != d {
				return fmt.Errorf("%w: buffer at slot %d", ErrForeignObject, b.Slot)
			}
			write.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: buf.handle,
				Offset: 0,
				Range:  vk.DeviceSize(vk.WholeSize),
			}}
		case metadata.BindingTypeSampledTexture, metadata.BindingTypeStorageTexture:
			tex, ok := b.Texture.(*Texture)
			if !ok || tex.device != d {
				return fmt.Errorf("%w: texture at slot %d", ErrForeignObject, b.Slot)
			}
			info := vk.DescriptorImageInfo{
				ImageView:   tex.viewFor(b.Mip),
				ImageLayout: vk.ImageLayoutGeneral,
			}
			if b.Type == metadata.BindingTypeSampledTexture {
				info.Sampler = d.sampler
			}
			write.PImageInfo = []vk.DescriptorImageInfo{info}
		}
		writes = append(writes, write)
		bound[b.Slot] = true
	}

	for slot := range layout.types {
		if !bound[slot] {
			return fmt.Errorf("%w: slot %d is not bound", ErrInvalidDesc, slot)
		}
	}
	if len(writes) > 0 {
		vk.UpdateDescriptorSets(d.context.LogicalDevice, uint32(len(writes)), writes, 0, nil)
	}
	return nil
}
