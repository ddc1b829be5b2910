package metadata

import (
	"encoding/binary"
	"hash/fnv"
)

type BindingType uint32

const (
	BindingTypeStorageBuffer BindingType = iota
	BindingTypeUniformBuffer
	BindingTypeSampledTexture
	BindingTypeStorageTexture
)

// ConstantsSlot is the binding slot reserved for the per-draw/dispatch constant block.
const ConstantsSlot uint32 = 0

type BindingLayout struct {
	Slot uint32
	Type BindingType
}

type CompareOp uint32

const (
	CompareOpAlways CompareOp = iota
	CompareOpGreater
	CompareOpGreaterEqual
	CompareOpLess
)

type ComputePipelineDesc struct {
	Name string
	// Shader module name, without extension.
	Shader        string
	Bindings      []BindingLayout
	ConstantsSize uint32
}

func (d *ComputePipelineDesc) Hash() uint64 {
	h := fnv.New64a()
	h.Write([]byte(d.Name))
	h.Write([]byte{0})
	h.Write([]byte(d.Shader))
	writeBindings(h, d.Bindings)
	writeU32(h, d.ConstantsSize)
	return h.Sum64()
}

type GraphicsPipelineDesc struct {
	Name           string
	VertexShader   string
	FragmentShader string
	// Bytes per vertex, 0 when the vertex shader generates its own positions.
	VertexStride  uint32
	ColorFormats  []Format
	DepthFormat   Format
	DepthTest     bool
	DepthWrite    bool
	DepthCompare  CompareOp
	Bindings      []BindingLayout
	ConstantsSize uint32
}

func (d *GraphicsPipelineDesc) Hash() uint64 {
	h := fnv.New64a()
	h.Write([]byte(d.Name))
	h.Write([]byte{0})
	h.Write([]byte(d.VertexShader))
	h.Write([]byte{0})
	h.Write([]byte(d.FragmentShader))
	writeU32(h, d.VertexStride)
	for _, f := range d.ColorFormats {
		writeU32(h, uint32(f))
	}
	writeU32(h, uint32(d.DepthFormat))
	flags := uint32(0)
	if d.DepthTest {
		flags |= 1
	}
	if d.DepthWrite {
		flags |= 2
	}
	writeU32(h, flags)
	writeU32(h, uint32(d.DepthCompare))
	writeBindings(h, d.Bindings)
	writeU32(h, d.ConstantsSize)
	return h.Sum64()
}

type hashWriter interface {
	Write(p []byte) (int, error)
}

func writeU32(h hashWriter, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	h.Write(b[:])
}

func writeBindings(h hashWriter, bindings []BindingLayout) {
	writeU32(h, uint32(len(bindings)))
	for _, b := range bindings {
		writeU32(h, b.Slot)
		writeU32(h, uint32(b.Type))
	}
}

/**
 * @brief Layout of one indexed indirect draw, matching VkDrawIndexedIndirectCommand.
 */
type DrawIndexedIndirectCommand struct {
	IndexCount    uint32
	InstanceCount uint32
	FirstIndex    uint32
	VertexOffset  int32
	FirstInstance uint32
}

// DrawIndexedIndirectCommandSize is the byte size of one DrawIndexedIndirectCommand.
const DrawIndexedIndirectCommandSize = 20
