package soft

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

type Heap struct {
	device *Device
	name   string
	// backed by uint64 words so every 4-byte offset is aligned for atomics
	words []uint64
	size  uint64
}

func (h *Heap) Size() uint64 { return h.size }

func (h *Heap) Destroy() {}

func (h *Heap) bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&h.words[0])), len(h.words)*8)
}

// allocate returns zeroed, 8-byte aligned memory for committed resources.
func allocate(size uint64) []byte {
	words := make([]uint64, (size+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)
}

func validateTexture(desc metadata.TextureDesc) error {
	if desc.Width == 0 || desc.Height == 0 {
		return fmt.Errorf("%w: texture %q is %dx%d", ErrInvalidDesc, desc.DebugName, desc.Width, desc.Height)
	}
	if desc.Format.Channels() == 0 {
		return fmt.Errorf("%w: texture %q has format %s", ErrInvalidDesc, desc.DebugName, desc.Format)
	}
	return nil
}

// textureByteSize stores every channel as float32 regardless of format.
func textureByteSize(desc metadata.TextureDesc) uint64 {
	total := uint64(0)
	for mip := uint32(0); mip < desc.Mips(); mip++ {
		w, h := desc.MipExtent(mip)
		total += uint64(w) * uint64(h) * uint64(desc.Layers()) * uint64(desc.Format.Channels()) * 4
	}
	return total
}

type Texture struct {
	device *Device
	desc   metadata.TextureDesc
	placed bool

	mem        []byte
	data       []float32
	mipOffsets []uint64
}

func newTexture(d *Device, desc metadata.TextureDesc) *Texture {
	t := &Texture{device: d, desc: desc}
	offset := uint64(0)
	for mip := uint32(0); mip < desc.Mips(); mip++ {
		t.mipOffsets = append(t.mipOffsets, offset)
		w, h := desc.MipExtent(mip)
		offset += uint64(w) * uint64(h) * uint64(desc.Layers()) * uint64(desc.Format.Channels())
	}
	return t
}

func (t *Texture) bind(mem []byte) {
	t.mem = mem
	t.data = unsafe.Slice((*float32)(unsafe.Pointer(&mem[0])), len(mem)/4)
}

func (t *Texture) Name() string { return t.desc.DebugName }

func (t *Texture) Desc() metadata.TextureDesc { return t.desc }

// Destroy drops the view. Placed memory stays with its heap.
func (t *Texture) Destroy() {
	t.mem = nil
	t.data = nil
}

func (t *Texture) mipData(mip uint32) []float32 {
	w, h := t.desc.MipExtent(mip)
	start := t.mipOffsets[mip]
	n := uint64(w) * uint64(h) * uint64(t.desc.Layers()) * uint64(t.desc.Format.Channels())
	return t.data[start : start+n]
}

func (t *Texture) clear(value [4]float32) {
	ch := int(t.desc.Format.Channels())
	for i := range t.data {
		t.data[i] = value[i%ch]
	}
}

type Buffer struct {
	device *Device
	desc   metadata.BufferDesc
	placed bool
	mem    []byte
}

func (b *Buffer) Name() string { return b.desc.DebugName }

func (b *Buffer) Desc() metadata.BufferDesc { return b.desc }

func (b *Buffer) Destroy() {
	b.mem = nil
}

func (b *Buffer) words() []uint32 {
	return unsafe.Slice((*uint32)(unsafe.Pointer(&b.mem[0])), len(b.mem)/4)
}

type ComputePipeline struct {
	name   string
	kernel Kernel
}

func (p *ComputePipeline) Name() string { return p.name }

func (p *ComputePipeline) Destroy() {}

type GraphicsPipeline struct {
	name   string
	desc   metadata.GraphicsPipelineDesc
	kernel RasterKernel
}

func (p *GraphicsPipeline) Name() string { return p.name }

func (p *GraphicsPipeline) Destroy() {}

// BufferView is a kernel's access to a bound buffer as 32-bit words.
type BufferView struct {
	buf   *Buffer
	words []uint32
}

func newBufferView(b *Buffer) *BufferView {
	return &BufferView{buf: b, words: b.words()}
}

// Len returns the number of 32-bit words.
func (v *BufferView) Len() int { return len(v.words) }

func (v *BufferView) Bytes() []byte { return v.buf.mem }

func (v *BufferView) Uint32(i int) uint32 { return atomic.LoadUint32(&v.words[i]) }

func (v *BufferView) SetUint32(i int, value uint32) { atomic.StoreUint32(&v.words[i], value) }

// AtomicAdd adds delta to word i and returns the previous value.
func (v *BufferView) AtomicAdd(i int, delta uint32) uint32 {
	return atomic.AddUint32(&v.words[i], delta) - delta
}

func (v *BufferView) Float32(i int) float32 {
	bits := atomic.LoadUint32(&v.words[i])
	return *(*float32)(unsafe.Pointer(&bits))
}

func (v *BufferView) SetFloat32(i int, value float32) {
	atomic.StoreUint32(&v.words[i], *(*uint32)(unsafe.Pointer(&value)))
}

// TextureView is a kernel's access to a bound texture. Loads clamp to the
// edge; stores outside the mip are dropped.
type TextureView struct {
	tex *Texture
}

func (v *TextureView) Texture() *Texture { return v.tex }

func (v *TextureView) Mips() uint32 { return v.tex.desc.Mips() }

func (v *TextureView) Size(mip uint32) (uint32, uint32) { return v.tex.desc.MipExtent(mip) }

func (v *TextureView) index(mip uint32, x, y int) int {
	w, h := v.tex.desc.MipExtent(mip)
	x = max(0, min(x, int(w)-1))
	y = max(0, min(y, int(h)-1))
	return int(v.tex.mipOffsets[mip]) + (y*int(w)+x)*int(v.tex.desc.Format.Channels())
}

func (v *TextureView) inside(mip uint32, x, y int) bool {
	w, h := v.tex.desc.MipExtent(mip)
	return x >= 0 && y >= 0 && x < int(w) && y < int(h)
}

// Load returns the first channel at (x, y).
func (v *TextureView) Load(mip uint32, x, y int) float32 {
	return v.tex.data[v.index(mip, x, y)]
}

func (v *TextureView) Load4(mip uint32, x, y int) [4]float32 {
	var out [4]float32
	i := v.index(mip, x, y)
	for c := 0; c < int(v.tex.desc.Format.Channels()); c++ {
		out[c] = v.tex.data[i+c]
	}
	return out
}

func (v *TextureView) Store(mip uint32, x, y int, value float32) {
	if v.inside(mip, x, y) {
		v.tex.data[v.index(mip, x, y)] = value
	}
}

func (v *TextureView) Store4(mip uint32, x, y int, value [4]float32) {
	if !v.inside(mip, x, y) {
		return
	}
	i := v.index(mip, x, y)
	for c := 0; c < int(v.tex.desc.Format.Channels()); c++ {
		v.tex.data[i+c] = value[c]
	}
}

// Sample reads the first channel with normalized coordinates, nearest filtering.
func (v *TextureView) Sample(mip uint32, u, w float32) float32 {
	width, height := v.tex.desc.MipExtent(mip)
	return v.Load(mip, int(u*float32(width)), int(w*float32(height)))
}

func (v *TextureView) Sample4(mip uint32, u, w float32) [4]float32 {
	width, height := v.tex.desc.MipExtent(mip)
	return v.Load4(mip, int(u*float32(width)), int(w*float32(height)))
}
