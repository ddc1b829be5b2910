package graph

import (
	"hash/fnv"
	"sync"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

type ResourceKind uint8

const (
	ResourceKindTexture ResourceKind = iota
	ResourceKindBuffer
)

func (k ResourceKind) String() string {
	if k == ResourceKindTexture {
		return "texture"
	}
	return "buffer"
}

/**
 * @brief Shape of a graph resource. Immutable once declared; the memory
 * requirements are probed on first use and cached on the descriptor.
 */
type ResourceDesc struct {
	Kind    ResourceKind
	Texture metadata.TextureDesc
	Buffer  metadata.BufferDesc

	memory *metadata.MemoryRequirements
}

func TextureResourceDesc(desc metadata.TextureDesc) ResourceDesc {
	return ResourceDesc{Kind: ResourceKindTexture, Texture: desc}
}

func BufferResourceDesc(desc metadata.BufferDesc) ResourceDesc {
	return ResourceDesc{Kind: ResourceKindBuffer, Buffer: desc}
}

func (d *ResourceDesc) Name() string {
	if d.Kind == ResourceKindTexture {
		return d.Texture.DebugName
	}
	return d.Buffer.DebugName
}

func (d *ResourceDesc) setName(name string) {
	if d.Kind == ResourceKindTexture {
		d.Texture.DebugName = name
	} else {
		d.Buffer.DebugName = name
	}
}

func (d *ResourceDesc) IsZeroSized() bool {
	if d.Kind == ResourceKindTexture {
		return d.Texture.Width == 0 || d.Texture.Height == 0 || d.Texture.Format == metadata.FormatUnknown
	}
	return d.Buffer.Size == 0
}

// hashCombine mixes v into seed the way boost::hash_combine does.
func hashCombine(seed, v uint64) uint64 {
	return seed ^ (v + 0x9e3779b97f4a7c15 + (seed << 6) + (seed >> 2))
}

/**
 * @brief Structural hash of the descriptor. The debug name and the virtual flag
 * do not take part, so equally shaped resources hash equally.
 */
func (d *ResourceDesc) ComputeHash() uint64 {
	h := fnv.New64a()
	h.Write([]byte{byte(d.Kind)})
	seed := h.Sum64()

	if d.Kind == ResourceKindTexture {
		t := &d.Texture
		seed = hashCombine(seed, uint64(t.Width))
		seed = hashCombine(seed, uint64(t.Height))
		seed = hashCombine(seed, uint64(t.Layers()))
		seed = hashCombine(seed, uint64(t.Mips()))
		seed = hashCombine(seed, uint64(t.Format))
		seed = hashCombine(seed, uint64(t.Usage))
		return seed
	}

	b := &d.Buffer
	seed = hashCombine(seed, b.Size)
	seed = hashCombine(seed, uint64(b.Stride))
	seed = hashCombine(seed, uint64(b.Usage))
	if b.HostVisible {
		seed = hashCombine(seed, 1)
	}
	return seed
}

/**
 * @brief Returns the size and alignment the device needs for this shape. The
 * first call creates a virtual probe resource, queries it and releases it.
 */
func (d *ResourceDesc) GetMemorySize(dev renderer.Device) metadata.MemoryRequirements {
	if d.memory == nil {
		req := probeMemory(dev, d)
		d.memory = &req
	}
	return *d.memory
}

func probeMemory(dev renderer.Device, d *ResourceDesc) metadata.MemoryRequirements {
	var (
		probe renderer.Resource
		err   error
	)
	if d.Kind == ResourceKindTexture {
		desc := d.Texture
		desc.Virtual = true
		probe, err = dev.CreateTexture(desc)
	} else {
		desc := d.Buffer
		desc.Virtual = true
		probe, err = dev.CreateBuffer(desc)
	}
	core.Assert(err == nil, "failed to create memory probe for %s %q: %v", d.Kind, d.Name(), err)
	defer probe.Destroy()

	req, err := dev.GetMemoryRequirements(probe)
	core.Assert(err == nil, "failed to query memory requirements of %s %q: %v", d.Kind, d.Name(), err)
	core.Assert(req.Size > 0, "device reported zero memory for %s %q", d.Kind, d.Name())
	return req
}

// memoryCache shares probe results between descriptors of the same shape.
type memoryCache struct {
	mu      sync.Mutex
	entries map[uint64]metadata.MemoryRequirements
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[uint64]metadata.MemoryRequirements)}
}

func (c *memoryCache) get(dev renderer.Device, d *ResourceDesc, hash uint64) metadata.MemoryRequirements {
	c.mu.Lock()
	defer c.mu.Unlock()
	if req, ok := c.entries[hash]; ok {
		d.memory = &req
		return req
	}
	req := d.GetMemorySize(dev)
	c.entries[hash] = req
	return req
}

func (c *memoryCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
