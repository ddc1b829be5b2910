package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

/** @brief A single device-local allocation placed resources are bound into. */
type Heap struct {
	device *Device
	name   string
	memory vk.DeviceMemory
	size   uint64
}

func (h *Heap) Size() uint64 { return h.size }

func (h *Heap) Destroy() {
	if h.memory != nil {
		vk.FreeMemory(h.device.context.LogicalDevice, h.memory, h.device.context.Allocator)
		h.memory = nil
	}
}

type Buffer struct {
	device *Device
	desc   metadata.BufferDesc
	handle vk.Buffer
	// owned only by committed buffers
	memory vk.DeviceMemory
	placed bool
	mapped unsafe.Pointer
}

func (b *Buffer) Name() string { return b.desc.DebugName }

func (b *Buffer) Desc() metadata.BufferDesc { return b.desc }

// Destroy releases the buffer. Placed memory stays with its heap.
func (b *Buffer) Destroy() {
	ctx := b.device.context
	if b.mapped != nil {
		vk.UnmapMemory(ctx.LogicalDevice, b.memory)
		b.mapped = nil
	}
	if b.handle != nil {
		vk.DestroyBuffer(ctx.LogicalDevice, b.handle, ctx.Allocator)
		b.handle = nil
	}
	if b.memory != nil && !b.placed {
		vk.FreeMemory(ctx.LogicalDevice, b.memory, ctx.Allocator)
	}
	b.memory = nil
}

// bytes views the mapped memory of a host visible buffer.
func (b *Buffer) bytes() []byte {
	return unsafe.Slice((*byte)(b.mapped), b.desc.Size)
}

func (d *Device) createBufferHandle(desc metadata.BufferDesc) (vk.Buffer, error) {
	if desc.Size == 0 {
		return nil, fmt.Errorf("%w: buffer %q has zero size", ErrInvalidDesc, desc.DebugName)
	}
	info := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(math.AlignUp(desc.Size, 4)),
		Usage:       bufferUsage(desc),
		SharingMode: vk.SharingModeExclusive,
	}
	var handle vk.Buffer
	if err := check(vk.CreateBuffer(d.context.LogicalDevice, &info, d.context.Allocator, &handle), "vkCreateBuffer"); err != nil {
		return nil, fmt.Errorf("buffer %q: %w", desc.DebugName, err)
	}
	return handle, nil
}

func (d *Device) bufferRequirements(handle vk.Buffer) vk.MemoryRequirements {
	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.context.LogicalDevice, handle, &reqs)
	reqs.Deref()
	return reqs
}

// allocate makes a dedicated allocation satisfying reqs.
func (d *Device) allocate(reqs vk.MemoryRequirements, flags vk.MemoryPropertyFlagBits, name string) (vk.DeviceMemory, error) {
	index := d.context.FindMemoryIndex(reqs.MemoryTypeBits, flags)
	if index < 0 {
		return nil, fmt.Errorf("%w: no memory type for %q", ErrOutOfMemory, name)
	}
	info := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: uint32(index),
	}
	var memory vk.DeviceMemory
	if err := check(vk.AllocateMemory(d.context.LogicalDevice, &info, d.context.Allocator, &memory), "vkAllocateMemory"); err != nil {
		return nil, fmt.Errorf("%q: %w", name, err)
	}
	return memory, nil
}

func (d *Device) CreateHeap(desc metadata.HeapDesc) (renderer.Heap, error) {
	if desc.Size == 0 {
		return nil, fmt.Errorf("%w: heap %q has zero size", ErrInvalidDesc, desc.DebugName)
	}
	info := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  vk.DeviceSize(desc.Size),
		MemoryTypeIndex: d.heapMemoryType,
	}
	var memory vk.DeviceMemory
	if err := check(vk.AllocateMemory(d.context.LogicalDevice, &info, d.context.Allocator, &memory), "vkAllocateMemory"); err != nil {
		return nil, fmt.Errorf("heap %q: %w", desc.DebugName, err)
	}
	return &Heap{device: d, name: desc.DebugName, memory: memory, size: desc.Size}, nil
}

func (d *Device) CreateBuffer(desc metadata.BufferDesc) (renderer.Buffer, error) {
	handle, err := d.createBufferHandle(desc)
	if err != nil {
		return nil, err
	}
	b := &Buffer{device: d, desc: desc, handle: handle}
	if desc.Virtual {
		return b, nil
	}

	flags := vk.MemoryPropertyDeviceLocalBit
	if desc.HostVisible {
		flags = vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit
	}
	b.memory, err = d.allocate(d.bufferRequirements(handle), flags, desc.DebugName)
	if err != nil {
		b.Destroy()
		return nil, err
	}
	if err := check(vk.BindBufferMemory(d.context.LogicalDevice, handle, b.memory, 0), "vkBindBufferMemory"); err != nil {
		b.Destroy()
		return nil, err
	}
	if desc.HostVisible {
		var ptr unsafe.Pointer
		if err := check(vk.MapMemory(d.context.LogicalDevice, b.memory, 0, vk.DeviceSize(vk.WholeSize), 0, &ptr), "vkMapMemory"); err != nil {
			b.Destroy()
			return nil, err
		}
		b.mapped = ptr
	}
	return b, nil
}

func (d *Device) CreatePlacedBuffer(desc metadata.BufferDesc, heap renderer.Heap, offset uint64) (renderer.Buffer, error) {
	if desc.HostVisible {
		return nil, fmt.Errorf("%w: host visible buffer %q cannot be placed", ErrInvalidDesc, desc.DebugName)
	}
	handle, err := d.createBufferHandle(desc)
	if err != nil {
		return nil, err
	}
	b := &Buffer{device: d, desc: desc, handle: handle, placed: true}
	h, err := d.place(heap, offset, d.bufferRequirements(handle), desc.DebugName)
	if err != nil {
		b.Destroy()
		return nil, err
	}
	if err := check(vk.BindBufferMemory(d.context.LogicalDevice, handle, h.memory, vk.DeviceSize(offset)), "vkBindBufferMemory"); err != nil {
		b.Destroy()
		return nil, err
	}
	b.memory = h.memory
	return b, nil
}

func (d *Device) place(heap renderer.Heap, offset uint64, reqs vk.MemoryRequirements, name string) (*Heap, error) {
	h, ok := heap.(*Heap)
	if !ok || h.device != d {
		return nil, fmt.Errorf("%w: heap for %q", ErrForeignObject, name)
	}
	if reqs.MemoryTypeBits&(1<<d.heapMemoryType) == 0 {
		return nil, fmt.Errorf("%w: %q cannot live in heap memory", ErrInvalidDesc, name)
	}
	if offset%uint64(reqs.Alignment) != 0 {
		return nil, fmt.Errorf("%w: %q at %d needs %d byte alignment", ErrMisaligned, name, offset, reqs.Alignment)
	}
	if offset+uint64(reqs.Size) > h.size {
		return nil, fmt.Errorf("%w: %q needs [%d, %d) in a heap of %d bytes", ErrOutOfRange, name, offset, offset+uint64(reqs.Size), h.size)
	}
	return h, nil
}

func (d *Device) GetMemoryRequirements(res renderer.Resource) (metadata.MemoryRequirements, error) {
	var reqs vk.MemoryRequirements
	switch r := res.(type) {
	case *Buffer:
		reqs = d.bufferRequirements(r.handle)
	case *Texture:
		reqs = d.imageRequirements(r.handle)
	default:
		return metadata.MemoryRequirements{}, fmt.Errorf("%w: %T", ErrForeignObject, res)
	}
	// neighbours in a heap may be a buffer and an image
	alignment := max(uint64(reqs.Alignment), d.granularity)
	return metadata.MemoryRequirements{Size: math.AlignUp(uint64(reqs.Size), alignment), Alignment: alignment}, nil
}

/**
 * @brief Host visible scratch memory for one command list: constant blocks,
 * WriteBuffer payloads and readback. Chunks are released once the list has
 * executed.
 */
type hostArena struct {
	device *Device
	chunks []*Buffer
	used   uint64
}

func (a *hostArena) allocate(size, alignment uint64) (*Buffer, uint64, error) {
	if len(a.chunks) > 0 {
		last := a.chunks[len(a.chunks)-1]
		offset := math.AlignUp(a.used, alignment)
		if offset+size <= last.desc.Size {
			a.used = offset + size
			return last, offset, nil
		}
	}
	chunk, err := a.device.CreateBuffer(metadata.BufferDesc{
		Size:        max(arenaChunkSize, math.AlignUp(size, 4)),
		Usage:       metadata.BufferUsageUniform | metadata.BufferUsageTransferSrc,
		DebugName:   "upload_arena",
		HostVisible: true,
	})
	if err != nil {
		return nil, 0, err
	}
	b := chunk.(*Buffer)
	a.chunks = append(a.chunks, b)
	a.used = size
	return b, 0, nil
}

// write copies data into the arena and returns where it landed.
func (a *hostArena) write(data []byte, alignment uint64) (*Buffer, uint64, error) {
	b, offset, err := a.allocate(uint64(len(data)), alignment)
	if err != nil {
		return nil, 0, err
	}
	copy(b.bytes()[offset:], data)
	return b, offset, nil
}

func (a *hostArena) release() {
	for _, c := range a.chunks {
		c.Destroy()
	}
	a.chunks = nil
	a.used = 0
}
