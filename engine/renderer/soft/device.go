package soft

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

var (
	ErrUnknownKernel   = errors.New("no kernel registered for shader")
	ErrOutOfRange      = errors.New("placement exceeds heap bounds")
	ErrMisaligned      = errors.New("placement offset is misaligned")
	ErrVirtualResource = errors.New("virtual resource has no memory")
	ErrForeignObject   = errors.New("object was not created by the software device")
	ErrInvalidDesc     = errors.New("invalid resource descriptor")
	ErrCommandState    = errors.New("command list in wrong state")
)

const (
	BufferAlignment  uint64 = 256
	TextureAlignment uint64 = 4096
)

type Option func(d *Device)

// WithKernel registers the Go implementation of a compute shader.
func WithKernel(shader string, k Kernel) Option {
	return func(d *Device) {
		d.kernels[shader] = k
	}
}

// WithRasterKernel registers the Go implementation of a graphics shader pair,
// keyed by fragment shader name (or vertex shader for depth-only pipelines).
func WithRasterKernel(shader string, k RasterKernel) Option {
	return func(d *Device) {
		d.rasters[shader] = k
	}
}

// WithWorkers bounds how many workgroups of one dispatch run concurrently.
func WithWorkers(n int) Option {
	return func(d *Device) {
		d.workers = n
	}
}

type DeviceStats struct {
	Heaps      int
	HeapBytes  uint64
	Executions uint64
	Dispatches uint64
	Draws      uint64
	Presents   uint64
	Waits      uint64
}

/**
 * @brief A renderer.Device executing everything on the CPU. Heaps are byte
 * arenas and placed resources are views into them, so aliased resources really
 * share memory. Compute shaders are Go kernels run concurrently per workgroup.
 */
type Device struct {
	mu      sync.Mutex
	kernels map[string]Kernel
	rasters map[string]RasterKernel
	workers int

	computeCache  map[uint64]*ComputePipeline
	graphicsCache map[uint64]*GraphicsPipeline

	width     uint32
	height    uint32
	presented renderer.Texture
	stats     DeviceStats
}

func NewDevice(opts ...Option) *Device {
	d := &Device{
		kernels:       make(map[string]Kernel),
		rasters:       make(map[string]RasterKernel),
		workers:       runtime.GOMAXPROCS(0),
		computeCache:  make(map[uint64]*ComputePipeline),
		graphicsCache: make(map[uint64]*GraphicsPipeline),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.workers < 1 {
		d.workers = 1
	}
	return d
}

// Register adds kernels after construction. Pipelines created earlier keep
// the kernel they resolved.
func (d *Device) Register(opts ...Option) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, opt := range opts {
		opt(d)
	}
}

func (d *Device) Name() string { return "software" }

func (d *Device) Type() renderer.BackendType { return renderer.BackendSoftware }

func (d *Device) CreateHeap(desc metadata.HeapDesc) (renderer.Heap, error) {
	if desc.Size == 0 {
		return nil, fmt.Errorf("%w: heap %q has zero size", ErrInvalidDesc, desc.DebugName)
	}
	h := &Heap{
		device: d,
		name:   desc.DebugName,
		words:  make([]uint64, math.DivCeil(desc.Size, 8)),
		size:   desc.Size,
	}
	d.mu.Lock()
	d.stats.Heaps++
	d.stats.HeapBytes += desc.Size
	d.mu.Unlock()
	return h, nil
}

func (d *Device) CreateTexture(desc metadata.TextureDesc) (renderer.Texture, error) {
	if err := validateTexture(desc); err != nil {
		return nil, err
	}
	t := newTexture(d, desc)
	if !desc.Virtual {
		t.bind(allocate(textureByteSize(desc)))
	}
	return t, nil
}

func (d *Device) CreateBuffer(desc metadata.BufferDesc) (renderer.Buffer, error) {
	if desc.Size == 0 {
		return nil, fmt.Errorf("%w: buffer %q has zero size", ErrInvalidDesc, desc.DebugName)
	}
	b := &Buffer{device: d, desc: desc}
	if !desc.Virtual {
		b.mem = allocate(math.AlignUp(desc.Size, 4))
	}
	return b, nil
}

func (d *Device) CreatePlacedTexture(desc metadata.TextureDesc, heap renderer.Heap, offset uint64) (renderer.Texture, error) {
	if err := validateTexture(desc); err != nil {
		return nil, err
	}
	mem, err := d.place(heap, offset, TextureAlignment, textureByteSize(desc), desc.DebugName)
	if err != nil {
		return nil, err
	}
	t := newTexture(d, desc)
	t.placed = true
	t.bind(mem)
	return t, nil
}

func (d *Device) CreatePlacedBuffer(desc metadata.BufferDesc, heap renderer.Heap, offset uint64) (renderer.Buffer, error) {
	if desc.Size == 0 {
		return nil, fmt.Errorf("%w: buffer %q has zero size", ErrInvalidDesc, desc.DebugName)
	}
	mem, err := d.place(heap, offset, BufferAlignment, math.AlignUp(desc.Size, 4), desc.DebugName)
	if err != nil {
		return nil, err
	}
	return &Buffer{device: d, desc: desc, mem: mem, placed: true}, nil
}

func (d *Device) place(heap renderer.Heap, offset, alignment, size uint64, name string) ([]byte, error) {
	h, ok := heap.(*Heap)
	if !ok || h.device != d {
		return nil, fmt.Errorf("%w: heap for %q", ErrForeignObject, name)
	}
	if offset%alignment != 0 {
		return nil, fmt.Errorf("%w: %q at %d needs %d byte alignment", ErrMisaligned, name, offset, alignment)
	}
	if offset+size > h.size {
		return nil, fmt.Errorf("%w: %q needs [%d, %d) in a heap of %d bytes", ErrOutOfRange, name, offset, offset+size, h.size)
	}
	return h.bytes()[offset : offset+size], nil
}

func (d *Device) GetMemoryRequirements(res renderer.Resource) (metadata.MemoryRequirements, error) {
	switch r := res.(type) {
	case *Texture:
		return metadata.MemoryRequirements{
			Size:      math.AlignUp(textureByteSize(r.desc), TextureAlignment),
			Alignment: TextureAlignment,
		}, nil
	case *Buffer:
		return metadata.MemoryRequirements{
			Size:      math.AlignUp(r.desc.Size, BufferAlignment),
			Alignment: BufferAlignment,
		}, nil
	default:
		return metadata.MemoryRequirements{}, fmt.Errorf("%w: %T", ErrForeignObject, res)
	}
}

func (d *Device) CreateComputePipeline(desc metadata.ComputePipelineDesc) (renderer.ComputePipeline, error) {
	key := desc.Hash()

	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.computeCache[key]; ok {
		return p, nil
	}
	k, ok := d.kernels[desc.Shader]
	if !ok {
		return nil, fmt.Errorf("compute pipeline %q: %w %q", desc.Name, ErrUnknownKernel, desc.Shader)
	}
	p := &ComputePipeline{name: desc.Name, kernel: k}
	d.computeCache[key] = p
	return p, nil
}

func (d *Device) CreateGraphicsPipeline(desc metadata.GraphicsPipelineDesc) (renderer.GraphicsPipeline, error) {
	key := desc.Hash()

	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.graphicsCache[key]; ok {
		return p, nil
	}
	shader := desc.FragmentShader
	if shader == "" {
		shader = desc.VertexShader
	}
	k, ok := d.rasters[shader]
	if !ok {
		return nil, fmt.Errorf("graphics pipeline %q: %w %q", desc.Name, ErrUnknownKernel, shader)
	}
	p := &GraphicsPipeline{name: desc.Name, desc: desc, kernel: k}
	d.graphicsCache[key] = p
	return p, nil
}

func (d *Device) CreateCommandList() (renderer.CommandList, error) {
	return &CommandList{device: d}, nil
}

// Execute runs a closed command list to completion.
func (d *Device) Execute(cmd renderer.CommandList) error {
	cl, ok := cmd.(*CommandList)
	if !ok || cl.device != d {
		return fmt.Errorf("%w: command list %T", ErrForeignObject, cmd)
	}
	if cl.open {
		return fmt.Errorf("%w: execute needs a closed list", ErrCommandState)
	}
	d.mu.Lock()
	d.stats.Executions++
	d.mu.Unlock()

	for i, op := range cl.ops {
		if err := op(); err != nil {
			return fmt.Errorf("command %d (%s): %w", i, cl.commands[i].Type, err)
		}
	}
	return nil
}

// WaitForIdle returns immediately: Execute is synchronous.
func (d *Device) WaitForIdle() error {
	d.mu.Lock()
	d.stats.Waits++
	d.mu.Unlock()
	return nil
}

func (d *Device) Present(tex renderer.Texture) error {
	if _, ok := tex.(*Texture); !ok {
		return fmt.Errorf("%w: present of %T", ErrForeignObject, tex)
	}
	d.mu.Lock()
	d.presented = tex
	d.stats.Presents++
	d.mu.Unlock()
	return nil
}

// Presented returns the texture passed to the last Present call.
func (d *Device) Presented() renderer.Texture {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.presented
}

func (d *Device) Resize(width, height uint32) error {
	d.mu.Lock()
	d.width, d.height = width, height
	d.mu.Unlock()
	core.LogDebug("software device resized to %dx%d", width, height)
	return nil
}

func (d *Device) Stats() DeviceStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func (d *Device) Destroy() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.computeCache = make(map[uint64]*ComputePipeline)
	d.graphicsCache = make(map[uint64]*GraphicsPipeline)
	d.presented = nil
	return nil
}

func (d *Device) ReadBuffer(buf renderer.Buffer, offset, size uint64) ([]byte, error) {
	b, ok := buf.(*Buffer)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrForeignObject, buf)
	}
	if b.mem == nil {
		return nil, fmt.Errorf("%w: %q", ErrVirtualResource, b.desc.DebugName)
	}
	if offset+size > b.desc.Size {
		return nil, fmt.Errorf("%w: read [%d, %d) of %q (%d bytes)", ErrOutOfRange, offset, offset+size, b.desc.DebugName, b.desc.Size)
	}
	out := make([]byte, size)
	copy(out, b.mem[offset:offset+size])
	return out, nil
}

func (d *Device) ReadTexture(tex renderer.Texture, mip uint32) ([]float32, error) {
	t, ok := tex.(*Texture)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrForeignObject, tex)
	}
	if t.mem == nil {
		return nil, fmt.Errorf("%w: %q", ErrVirtualResource, t.desc.DebugName)
	}
	if mip >= t.desc.Mips() {
		return nil, fmt.Errorf("%w: mip %d of %q", ErrOutOfRange, mip, t.desc.DebugName)
	}
	src := t.mipData(mip)
	out := make([]float32, len(src))
	copy(out, src)
	return out, nil
}

var (
	_ renderer.Device   = (*Device)(nil)
	_ renderer.Readback = (*Device)(nil)
)
