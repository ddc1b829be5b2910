package soft

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// Kernel runs one workgroup of a compute shader. Workgroups of a dispatch run
// concurrently; shared writes must go through BufferView atomics or target
// disjoint texels.
type Kernel func(inv *Invocation, groupX, groupY, groupZ uint32)

// RasterKernel runs one draw. Draws run in submission order.
type RasterKernel func(ctx *DrawContext)

type resourceSet struct {
	buffers  map[uint32]*BufferView
	textures map[uint32]*TextureView
}

func resolveBindings(bindings []renderer.Binding) (resourceSet, error) {
	set := resourceSet{
		buffers:  make(map[uint32]*BufferView),
		textures: make(map[uint32]*TextureView),
	}
	for _, b := range bindings {
		switch b.Type {
		case metadata.BindingTypeStorageBuffer, metadata.BindingTypeUniformBuffer:
			buf, ok := b.Buffer.(*Buffer)
			if !ok {
				return set, fmt.Errorf("%w: binding %d holds %T", ErrForeignObject, b.Slot, b.Buffer)
			}
			if buf.mem == nil {
				return set, fmt.Errorf("%w: buffer %q at binding %d", ErrVirtualResource, buf.desc.DebugName, b.Slot)
			}
			set.buffers[b.Slot] = newBufferView(buf)
		default:
			tex, ok := b.Texture.(*Texture)
			if !ok {
				return set, fmt.Errorf("%w: binding %d holds %T", ErrForeignObject, b.Slot, b.Texture)
			}
			if tex.mem == nil {
				return set, fmt.Errorf("%w: texture %q at binding %d", ErrVirtualResource, tex.desc.DebugName, b.Slot)
			}
			set.textures[b.Slot] = &TextureView{tex: tex}
		}
	}
	return set, nil
}

func (s resourceSet) buffer(slot uint32) *BufferView {
	v, ok := s.buffers[slot]
	if !ok {
		panic(fmt.Sprintf("no buffer bound at slot %d", slot))
	}
	return v
}

func (s resourceSet) texture(slot uint32) *TextureView {
	v, ok := s.textures[slot]
	if !ok {
		panic(fmt.Sprintf("no texture bound at slot %d", slot))
	}
	return v
}

// Invocation is what a compute kernel sees of its dispatch.
type Invocation struct {
	Constants  []byte
	GroupCount [3]uint32
	resources  resourceSet
}

func (inv *Invocation) Buffer(slot uint32) *BufferView { return inv.resources.buffer(slot) }

func (inv *Invocation) Texture(slot uint32) *TextureView { return inv.resources.texture(slot) }

// DecodeConstants fills v from the dispatch's constant block.
func (inv *Invocation) DecodeConstants(v interface{}) {
	if err := renderer.DecodeConstants(inv.Constants, v); err != nil {
		panic(fmt.Sprintf("failed to decode constants: %s", err))
	}
}

// DrawContext is what a raster kernel sees of its draw.
type DrawContext struct {
	Pipeline  metadata.GraphicsPipelineDesc
	Constants []byte
	Targets   []*TextureView
	Depth     *TextureView
	Width     uint32
	Height    uint32

	// Draw
	VertexCount   uint32
	InstanceCount uint32
	// DrawIndexedIndirectCount
	Indirect  bool
	DrawIndex uint32
	Command   metadata.DrawIndexedIndirectCommand

	resources resourceSet
	vertices  *BufferView
	indices   *BufferView
}

func (c *DrawContext) Buffer(slot uint32) *BufferView { return c.resources.buffer(slot) }

func (c *DrawContext) Texture(slot uint32) *TextureView { return c.resources.texture(slot) }

func (c *DrawContext) VertexBuffer() *BufferView { return c.vertices }

func (c *DrawContext) IndexBuffer() *BufferView { return c.indices }

func (c *DrawContext) DecodeConstants(v interface{}) {
	if err := renderer.DecodeConstants(c.Constants, v); err != nil {
		panic(fmt.Sprintf("failed to decode constants: %s", err))
	}
}

// DepthTest compares depth against the bound depth target with the
// pipeline's compare op and writes it when the test passes and depth writes
// are enabled.
func (c *DrawContext) DepthTest(x, y int, depth float32) bool {
	if c.Depth == nil || !c.Pipeline.DepthTest {
		return true
	}
	stored := c.Depth.Load(0, x, y)
	pass := false
	switch c.Pipeline.DepthCompare {
	case metadata.CompareOpAlways:
		pass = true
	case metadata.CompareOpGreater:
		pass = depth > stored
	case metadata.CompareOpGreaterEqual:
		pass = depth >= stored
	case metadata.CompareOpLess:
		pass = depth < stored
	}
	if pass && c.Pipeline.DepthWrite {
		c.Depth.Store(0, x, y, depth)
	}
	return pass
}
