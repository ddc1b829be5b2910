package vulkan

import (
	"fmt"
	"math/bits"
	"strings"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

type commandListState int

const (
	commandListNotAllocated commandListState = iota
	commandListRecording
	commandListClosed
)

func (s commandListState) String() string {
	switch s {
	case commandListNotAllocated:
		return "not-allocated"
	case commandListRecording:
		return "recording"
	case commandListClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

/**
 * @brief Records into one primary command buffer. Everything a recording needs
 * beyond the buffer itself (constant blocks, upload payloads, descriptor sets,
 * framebuffers) lives until the list has been executed.
 */
type CommandList struct {
	device *Device
	handle vk.CommandBuffer
	state  commandListState

	arena        hostArena
	descriptors  descriptorArena
	framebuffers []*VulkanFramebuffer

	markers []string
	// first recording error, reported by Close
	err error
}

func (d *Device) CreateCommandList() (renderer.CommandList, error) {
	return &CommandList{
		device:      d,
		state:       commandListNotAllocated,
		arena:       hostArena{device: d},
		descriptors: descriptorArena{device: d},
	}, nil
}

func (cl *CommandList) Open() error {
	if cl.state == commandListRecording {
		return fmt.Errorf("%w: open on a %s list", ErrCommandState, cl.state)
	}
	// a closed list that was never executed is recorded again from scratch
	if cl.state == commandListClosed {
		cl.retire()
	}
	d := cl.device
	if cl.handle == nil {
		buffers := make([]vk.CommandBuffer, 1)
		err := d.locks.SafeCall(CommandPoolManagement, func() error {
			return check(vk.AllocateCommandBuffers(d.context.LogicalDevice, &vk.CommandBufferAllocateInfo{
				SType:              vk.StructureTypeCommandBufferAllocateInfo,
				CommandPool:        d.context.GraphicsCommandPool,
				Level:              vk.CommandBufferLevelPrimary,
				CommandBufferCount: 1,
			}, buffers), "vkAllocateCommandBuffers")
		})
		if err != nil {
			return err
		}
		cl.handle = buffers[0]
	}
	if err := check(vk.BeginCommandBuffer(cl.handle, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}), "vkBeginCommandBuffer"); err != nil {
		return err
	}

	cl.state = commandListRecording
	cl.markers = cl.markers[:0]
	cl.err = nil
	d.mu.Lock()
	d.lists[cl] = struct{}{}
	d.mu.Unlock()
	return nil
}

func (cl *CommandList) Close() error {
	if cl.state != commandListRecording {
		return fmt.Errorf("%w: close on a %s list", ErrCommandState, cl.state)
	}
	if len(cl.markers) != 0 {
		return fmt.Errorf("%w: %d markers left open (%s)", ErrCommandState, len(cl.markers), strings.Join(cl.markers, "/"))
	}
	if err := check(vk.EndCommandBuffer(cl.handle), "vkEndCommandBuffer"); err != nil && cl.err == nil {
		cl.err = err
	}
	cl.state = commandListClosed
	if cl.err != nil {
		err := cl.err
		cl.retire()
		return err
	}
	return nil
}

// retire frees what the recording held and makes the list reusable.
func (cl *CommandList) retire() {
	d := cl.device
	cl.release()
	d.mu.Lock()
	delete(d.lists, cl)
	d.mu.Unlock()
	cl.state = commandListNotAllocated
}

// release frees the per-recording objects. The caller has waited for the GPU.
func (cl *CommandList) release() {
	d := cl.device
	cl.arena.release()
	cl.descriptors.release()
	for _, fb := range cl.framebuffers {
		fb.Destroy(d.context)
	}
	cl.framebuffers = nil
	if cl.handle != nil {
		_ = d.locks.SafeCall(CommandPoolManagement, func() error {
			vk.FreeCommandBuffers(d.context.LogicalDevice, d.context.GraphicsCommandPool, 1, []vk.CommandBuffer{cl.handle})
			return nil
		})
		cl.handle = nil
	}
}

func (cl *CommandList) recording(op string) {
	core.Assert(cl.state == commandListRecording, "%s recorded on a %s command list", op, cl.state)
}

func (cl *CommandList) fail(err error) {
	if err == nil || cl.err != nil {
		return
	}
	if len(cl.markers) > 0 {
		err = fmt.Errorf("%s: %w", strings.Join(cl.markers, "/"), err)
	}
	core.LogError("command list: %s", err)
	cl.err = err
}

func (cl *CommandList) BeginMarker(name string) {
	cl.recording("begin-marker")
	cl.markers = append(cl.markers, name)
}

func (cl *CommandList) EndMarker() {
	cl.recording("end-marker")
	if len(cl.markers) == 0 {
		cl.fail(fmt.Errorf("%w: end marker without a begin", ErrCommandState))
		return
	}
	cl.markers = cl.markers[:len(cl.markers)-1]
}

func (cl *CommandList) texture(tex renderer.Texture) (*Texture, error) {
	t, ok := tex.(*Texture)
	if !ok || t.device != cl.device {
		return nil, fmt.Errorf("%w: texture %T", ErrForeignObject, tex)
	}
	if t.view == nil {
		return nil, fmt.Errorf("%w: texture %q has no memory", ErrInvalidDesc, t.desc.DebugName)
	}
	return t, nil
}

func (cl *CommandList) buffer(buf renderer.Buffer) (*Buffer, error) {
	b, ok := buf.(*Buffer)
	if !ok || b.device != cl.device {
		return nil, fmt.Errorf("%w: buffer %T", ErrForeignObject, buf)
	}
	if b.memory == nil {
		return nil, fmt.Errorf("%w: buffer %q has no memory", ErrInvalidDesc, b.desc.DebugName)
	}
	return b, nil
}

// prepare moves a texture whose contents are undefined into the general layout.
func (cl *CommandList) prepare(t *Texture) {
	if t.initialized {
		return
	}
	imageBarrier(cl.handle, t, vk.ImageLayoutUndefined,
		stateMask{stage: vk.PipelineStageTopOfPipeBit},
		stateMask{stage: vk.PipelineStageAllCommandsBit, access: vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit})
	t.initialized = true
}

func (cl *CommandList) AliasingBarrier(before, after renderer.Resource) {
	cl.recording("aliasing-barrier")
	if before != nil {
		memoryBarrier(cl.handle, vk.PipelineStageAllCommandsBit, vk.AccessMemoryWriteBit,
			vk.PipelineStageAllCommandsBit, vk.AccessMemoryReadBit|vk.AccessMemoryWriteBit)
	}
	if tex, ok := after.(renderer.Texture); ok {
		t, err := cl.texture(tex)
		if err != nil {
			cl.fail(err)
			return
		}
		// the new occupant's contents are garbage
		t.initialized = false
		cl.prepare(t)
	}
}

func (cl *CommandList) ResourceBarrier(res renderer.Resource, before, after metadata.ResourceState) {
	cl.recording("resource-barrier")
	src, dst := maskFor(before), maskFor(after)
	switch r := res.(type) {
	case *Texture:
		t, err := cl.texture(r)
		if err != nil {
			cl.fail(err)
			return
		}
		layout := vk.ImageLayoutGeneral
		if !t.initialized {
			layout = vk.ImageLayoutUndefined
			t.initialized = true
		}
		imageBarrier(cl.handle, t, layout, src, dst)
	case *Buffer:
		if _, err := cl.buffer(r); err != nil {
			cl.fail(err)
			return
		}
		memoryBarrier(cl.handle, src.stage, src.access, dst.stage, dst.access)
	default:
		cl.fail(fmt.Errorf("%w: resource %T", ErrForeignObject, res))
	}
}

const minClearClass = 8

type clearKey struct {
	format metadata.Format
	value  [4]float32
	// log2 of the source size
	sizeClass int
}

// clearSource returns a host buffer of at least size bytes filled with the texel.
func (d *Device) clearSource(format metadata.Format, value [4]float32, size uint64) (*Buffer, error) {
	texel, err := encodeTexel(format, value)
	if err != nil {
		return nil, err
	}
	class := max(bits.Len64(max(size, 1)-1), minClearClass)
	key := clearKey{format: format, value: value, sizeClass: class}

	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.clearSources[key]; ok {
		return b, nil
	}
	buf, err := d.CreateBuffer(metadata.BufferDesc{
		Size:        uint64(1) << class,
		Usage:       metadata.BufferUsageTransferSrc,
		DebugName:   fmt.Sprintf("clear_%s_%d", format, class),
		HostVisible: true,
	})
	if err != nil {
		return nil, err
	}
	b := buf.(*Buffer)
	data := b.bytes()
	for i := 0; i+len(texel) <= len(data); i += len(texel) {
		copy(data[i:], texel)
	}
	d.clearSources[key] = b
	return b, nil
}

func (cl *CommandList) ClearTexture(tex renderer.Texture, value [4]float32) {
	cl.recording("clear-texture")
	t, err := cl.texture(tex)
	if err != nil {
		cl.fail(err)
		return
	}
	w, h := t.desc.MipExtent(0)
	size := uint64(w) * uint64(h) * uint64(t.desc.Format.BytesPerTexel())
	src, err := cl.device.clearSource(t.desc.Format, value, size)
	if err != nil {
		cl.fail(fmt.Errorf("clear %q: %w", t.desc.DebugName, err))
		return
	}
	cl.prepare(t)

	regions := make([]vk.BufferImageCopy, 0, t.desc.Mips()*t.desc.Layers())
	for mip := uint32(0); mip < t.desc.Mips(); mip++ {
		mw, mh := t.desc.MipExtent(mip)
		for layer := uint32(0); layer < t.desc.Layers(); layer++ {
			regions = append(regions, vk.BufferImageCopy{
				ImageSubresource: vk.ImageSubresourceLayers{
					AspectMask:     aspectMask(t.desc.Format),
					MipLevel:       mip,
					BaseArrayLayer: layer,
					LayerCount:     1,
				},
				ImageExtent: vk.Extent3D{Width: mw, Height: mh, Depth: 1},
			})
		}
	}
	vk.CmdCopyBufferToImage(cl.handle, src.handle, t.handle, vk.ImageLayoutGeneral, uint32(len(regions)), regions)
}

func (cl *CommandList) ClearBuffer(buf renderer.Buffer, value uint32) {
	cl.recording("clear-buffer")
	b, err := cl.buffer(buf)
	if err != nil {
		cl.fail(err)
		return
	}
	vk.CmdFillBuffer(cl.handle, b.handle, 0, vk.DeviceSize(vk.WholeSize), value)
}

func (cl *CommandList) WriteBuffer(buf renderer.Buffer, offset uint64, data []byte) {
	cl.recording("write-buffer")
	b, err := cl.buffer(buf)
	if err != nil {
		cl.fail(err)
		return
	}
	if offset+uint64(len(data)) > b.desc.Size {
		cl.fail(fmt.Errorf("%w: write [%d, %d) of %q (%d bytes)", ErrOutOfRange, offset, offset+uint64(len(data)), b.desc.DebugName, b.desc.Size))
		return
	}
	if len(data) == 0 {
		return
	}
	src, srcOffset, err := cl.arena.write(data, 4)
	if err != nil {
		cl.fail(err)
		return
	}
	vk.CmdCopyBuffer(cl.handle, src.handle, b.handle, 1, []vk.BufferCopy{{
		SrcOffset: vk.DeviceSize(srcOffset),
		DstOffset: vk.DeviceSize(offset),
		Size:      vk.DeviceSize(len(data)),
	}})
}

func (cl *CommandList) CopyBuffer(dst renderer.Buffer, dstOffset uint64, src renderer.Buffer, srcOffset, size uint64) {
	cl.recording("copy-buffer")
	d, err := cl.buffer(dst)
	if err != nil {
		cl.fail(err)
		return
	}
	s, err := cl.buffer(src)
	if err != nil {
		cl.fail(err)
		return
	}
	if dstOffset+size > d.desc.Size || srcOffset+size > s.desc.Size {
		cl.fail(fmt.Errorf("%w: copy of %d bytes from %q to %q", ErrOutOfRange, size, s.desc.DebugName, d.desc.DebugName))
		return
	}
	if size == 0 {
		return
	}
	vk.CmdCopyBuffer(cl.handle, s.handle, d.handle, 1, []vk.BufferCopy{{
		SrcOffset: vk.DeviceSize(srcOffset),
		DstOffset: vk.DeviceSize(dstOffset),
		Size:      vk.DeviceSize(size),
	}})
}

// bindDescriptors uploads the constant block, writes a fresh set for the
// bindings and binds it. Textures the set references are prepared first.
func (cl *CommandList) bindDescriptors(point vk.PipelineBindPoint, p *VulkanPipeline, bindings []renderer.Binding, constants []byte) error {
	layout := p.descriptor
	for _, b := range bindings {
		if b.Texture == nil {
			continue
		}
		t, err := cl.texture(b.Texture)
		if err != nil {
			return fmt.Errorf("slot %d: %w", b.Slot, err)
		}
		cl.prepare(t)
	}
	if len(layout.types) == 0 {
		return nil
	}

	var block *constantsRange
	if len(constants) > int(layout.constantsSize) {
		return fmt.Errorf("%w: %d bytes of constants for a %d byte block in %q", ErrInvalidDesc, len(constants), layout.constantsSize, p.name)
	}
	if layout.constantsSize > 0 {
		padded := make([]byte, layout.constantsSize)
		copy(padded, constants)
		buf, offset, err := cl.arena.write(padded, cl.device.context.uniformAlignment())
		if err != nil {
			return err
		}
		block = &constantsRange{buffer: buf, offset: offset, size: uint64(layout.constantsSize)}
	}

	set, err := cl.descriptors.allocate(layout)
	if err != nil {
		return err
	}
	if err := cl.device.writeDescriptors(set, layout, bindings, block); err != nil {
		return fmt.Errorf("pipeline %q: %w", p.name, err)
	}
	vk.CmdBindDescriptorSets(cl.handle, point, p.Layout, 0, 1, []vk.DescriptorSet{set}, 0, nil)
	return nil
}

func (cl *CommandList) computePipeline(state *renderer.ComputeState) (*ComputePipeline, error) {
	p, ok := state.Pipeline.(*ComputePipeline)
	if !ok || p.device != cl.device {
		return nil, fmt.Errorf("%w: pipeline %T", ErrForeignObject, state.Pipeline)
	}
	if err := cl.bindDescriptors(vk.PipelineBindPointCompute, &p.VulkanPipeline, state.Bindings, state.Constants); err != nil {
		return nil, err
	}
	vk.CmdBindPipeline(cl.handle, vk.PipelineBindPointCompute, p.Handle)
	return p, nil
}

func (cl *CommandList) Dispatch(state *renderer.ComputeState, groupsX, groupsY, groupsZ uint32) {
	cl.recording("dispatch")
	if _, err := cl.computePipeline(state); err != nil {
		cl.fail(err)
		return
	}
	vk.CmdDispatch(cl.handle, groupsX, groupsY, groupsZ)
}

func (cl *CommandList) DispatchIndirect(state *renderer.ComputeState, args renderer.Buffer, offset uint64) {
	cl.recording("dispatch-indirect")
	b, err := cl.buffer(args)
	if err != nil {
		cl.fail(err)
		return
	}
	if offset%4 != 0 || offset+12 > b.desc.Size {
		cl.fail(fmt.Errorf("%w: dispatch arguments at %d of %q", ErrOutOfRange, offset, b.desc.DebugName))
		return
	}
	if _, err := cl.computePipeline(state); err != nil {
		cl.fail(err)
		return
	}
	vk.CmdDispatchIndirect(cl.handle, b.handle, vk.DeviceSize(offset))
}

// draw wraps record in a render pass over the state's attachments.
func (cl *CommandList) draw(state *renderer.GraphicsState, record func(cmd vk.CommandBuffer)) error {
	d := cl.device
	p, ok := state.Pipeline.(*GraphicsPipeline)
	if !ok || p.device != d {
		return fmt.Errorf("%w: pipeline %T", ErrForeignObject, state.Pipeline)
	}

	colors := make([]*Texture, len(state.ColorTargets))
	formats := make([]metadata.Format, len(state.ColorTargets))
	for i, tex := range state.ColorTargets {
		t, err := cl.texture(tex)
		if err != nil {
			return fmt.Errorf("color target %d: %w", i, err)
		}
		colors[i], formats[i] = t, t.desc.Format
	}
	var depth *Texture
	depthFormat := metadata.FormatUnknown
	if state.DepthTarget != nil {
		t, err := cl.texture(state.DepthTarget)
		if err != nil {
			return fmt.Errorf("depth target: %w", err)
		}
		depth, depthFormat = t, t.desc.Format
	}
	key, err := newRenderPassKey(formats, depthFormat)
	if err != nil {
		return err
	}
	if key != p.passKey {
		return fmt.Errorf("%w: targets of %q do not match its formats", ErrInvalidDesc, p.name)
	}

	for _, t := range colors {
		cl.prepare(t)
	}
	if depth != nil {
		cl.prepare(depth)
	}
	if err := cl.bindDescriptors(vk.PipelineBindPointGraphics, &p.VulkanPipeline, state.Bindings, state.Constants); err != nil {
		return err
	}

	fb, err := d.createFramebuffer(p.renderPass, colors, depth)
	if err != nil {
		return err
	}
	cl.framebuffers = append(cl.framebuffers, fb)

	beginRenderPass(cl.handle, p.renderPass, fb.Handle, fb.Width, fb.Height)
	vk.CmdBindPipeline(cl.handle, vk.PipelineBindPointGraphics, p.Handle)
	if state.VertexBuffer != nil {
		vb, err := cl.buffer(state.VertexBuffer)
		if err != nil {
			endRenderPass(cl.handle)
			return err
		}
		vk.CmdBindVertexBuffers(cl.handle, 0, 1, []vk.Buffer{vb.handle}, []vk.DeviceSize{0})
	}
	if state.IndexBuffer != nil {
		ib, err := cl.buffer(state.IndexBuffer)
		if err != nil {
			endRenderPass(cl.handle)
			return err
		}
		vk.CmdBindIndexBuffer(cl.handle, ib.handle, 0, vk.IndexTypeUint32)
	}
	record(cl.handle)
	endRenderPass(cl.handle)
	return nil
}

func (cl *CommandList) Draw(state *renderer.GraphicsState, vertexCount, instanceCount uint32) {
	cl.recording("draw")
	cl.fail(cl.draw(state, func(cmd vk.CommandBuffer) {
		vk.CmdDraw(cmd, vertexCount, instanceCount, 0, 0)
	}))
}

func (cl *CommandList) DrawIndexedIndirectCount(state *renderer.GraphicsState, args renderer.Buffer, argsOffset uint64, count renderer.Buffer, countOffset uint64, maxDraws uint32) {
	cl.recording("draw-indexed-indirect-count")
	if state.IndexBuffer == nil {
		cl.fail(fmt.Errorf("%w: indexed draw without an index buffer", ErrInvalidDesc))
		return
	}
	a, err := cl.buffer(args)
	if err != nil {
		cl.fail(err)
		return
	}
	c, err := cl.buffer(count)
	if err != nil {
		cl.fail(err)
		return
	}
	if argsOffset+uint64(maxDraws)*metadata.DrawIndexedIndirectCommandSize > a.desc.Size || countOffset+4 > c.desc.Size {
		cl.fail(fmt.Errorf("%w: %d indirect draws from %q", ErrOutOfRange, maxDraws, a.desc.DebugName))
		return
	}
	cl.fail(cl.draw(state, func(cmd vk.CommandBuffer) {
		vk.CmdDrawIndexedIndirectCount(cmd, a.handle, vk.DeviceSize(argsOffset), c.handle, vk.DeviceSize(countOffset),
			maxDraws, metadata.DrawIndexedIndirectCommandSize)
	}))
}

func memoryBarrier(cmd vk.CommandBuffer, srcStage vk.PipelineStageFlagBits, srcAccess vk.AccessFlagBits, dstStage vk.PipelineStageFlagBits, dstAccess vk.AccessFlagBits) {
	vk.CmdPipelineBarrier(cmd, vk.PipelineStageFlags(srcStage), vk.PipelineStageFlags(dstStage), 0,
		1, []vk.MemoryBarrier{{
			SType:         vk.StructureTypeMemoryBarrier,
			SrcAccessMask: vk.AccessFlags(srcAccess),
			DstAccessMask: vk.AccessFlags(dstAccess),
		}}, 0, nil, 0, nil)
}

func imageBarrier(cmd vk.CommandBuffer, t *Texture, oldLayout vk.ImageLayout, src, dst stateMask) {
	vk.CmdPipelineBarrier(cmd, vk.PipelineStageFlags(src.stage), vk.PipelineStageFlags(dst.stage), 0,
		0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(src.access),
			DstAccessMask:       vk.AccessFlags(dst.access),
			OldLayout:           oldLayout,
			NewLayout:           vk.ImageLayoutGeneral,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               t.handle,
			SubresourceRange:    t.subresources(),
		}})
}

// singleUse records fn into a throwaway command buffer, submits it and waits.
func (d *Device) singleUse(fn func(cmd vk.CommandBuffer), wait, signal vk.Semaphore, waitStage vk.PipelineStageFlagBits) error {
	buffers := make([]vk.CommandBuffer, 1)
	err := d.locks.SafeCall(CommandPoolManagement, func() error {
		return check(vk.AllocateCommandBuffers(d.context.LogicalDevice, &vk.CommandBufferAllocateInfo{
			SType:              vk.StructureTypeCommandBufferAllocateInfo,
			CommandPool:        d.context.GraphicsCommandPool,
			Level:              vk.CommandBufferLevelPrimary,
			CommandBufferCount: 1,
		}, buffers), "vkAllocateCommandBuffers")
	})
	if err != nil {
		return err
	}
	cmd := buffers[0]
	defer d.locks.SafeCall(CommandPoolManagement, func() error {
		vk.FreeCommandBuffers(d.context.LogicalDevice, d.context.GraphicsCommandPool, 1, buffers)
		return nil
	})

	if err := check(vk.BeginCommandBuffer(cmd, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}), "vkBeginCommandBuffer"); err != nil {
		return err
	}
	fn(cmd)
	if err := check(vk.EndCommandBuffer(cmd), "vkEndCommandBuffer"); err != nil {
		return err
	}
	return d.submit(cmd, wait, signal, waitStage)
}
