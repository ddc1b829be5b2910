package renderer

import (
	"bytes"
	"encoding/binary"

	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// AllMips selects the whole mip chain of a texture binding.
const AllMips = ^uint32(0)

type Binding struct {
	Slot    uint32
	Type    metadata.BindingType
	Texture Texture
	Buffer  Buffer
	// Mip selects a single level for storage bindings, AllMips otherwise.
	Mip uint32
}

func BindBuffer(slot uint32, buf Buffer) Binding {
	return Binding{Slot: slot, Type: metadata.BindingTypeStorageBuffer, Buffer: buf, Mip: AllMips}
}

func BindUniform(slot uint32, buf Buffer) Binding {
	return Binding{Slot: slot, Type: metadata.BindingTypeUniformBuffer, Buffer: buf, Mip: AllMips}
}

func BindTexture(slot uint32, tex Texture) Binding {
	return Binding{Slot: slot, Type: metadata.BindingTypeSampledTexture, Texture: tex, Mip: AllMips}
}

func BindTextureMip(slot uint32, tex Texture, mip uint32) Binding {
	return Binding{Slot: slot, Type: metadata.BindingTypeSampledTexture, Texture: tex, Mip: mip}
}

func BindStorageTexture(slot uint32, tex Texture, mip uint32) Binding {
	return Binding{Slot: slot, Type: metadata.BindingTypeStorageTexture, Texture: tex, Mip: mip}
}

type ComputeState struct {
	Pipeline ComputePipeline
	Bindings []Binding
	// Constants are copied at record time into a volatile constant block
	// bound at metadata.ConstantsSlot.
	Constants []byte
}

type GraphicsState struct {
	Pipeline     GraphicsPipeline
	Bindings     []Binding
	Constants    []byte
	ColorTargets []Texture
	DepthTarget  Texture
	VertexBuffer Buffer
	IndexBuffer  Buffer
}

// EncodeConstants packs a fixed-size value (no pointers, slices or strings)
// in little-endian layout.
func EncodeConstants(v interface{}) []byte {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// DecodeConstants is the inverse of EncodeConstants.
func DecodeConstants(data []byte, v interface{}) error {
	return binary.Read(bytes.NewReader(data), binary.LittleEndian, v)
}
