package graph

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// memorySlot is one heap allocation shared by transient resources whose
// lifetimes never overlap.
type memorySlot struct {
	location  HeapLocation
	kind      ResourceKind
	class     usageClass
	occupants []int
}

type usageClass uint8

const (
	usageClassBuffer usageClass = iota
	usageClassDepth
	usageClassColor
	usageClassStorage
)

// classOf groups resources that may share memory. Attachments only alias
// attachments of the same kind so the backends never need to reinterpret
// layouts across classes.
func classOf(d *ResourceDesc) usageClass {
	if d.Kind == ResourceKindBuffer {
		return usageClassBuffer
	}
	switch {
	case d.Texture.Usage.Has(metadata.TextureUsageDepthStencil):
		return usageClassDepth
	case d.Texture.Usage.Has(metadata.TextureUsageRenderTarget):
		return usageClassColor
	default:
		return usageClassStorage
	}
}

func (g *RenderGraph) allocateTransient() error {
	order := make([]int, 0, len(g.resources))
	for i, r := range g.resources {
		if !r.Persistent && r.Lifetime.IsValid() {
			order = append(order, i)
		}
	}
	// largest first so later resources find a slot big enough; ties keep
	// declaration order
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(g.resources[b].memory.Size, g.resources[a].memory.Size)
	})

	var slots []*memorySlot
	for _, idx := range order {
		r := g.resources[idx]

		if !g.opts.DisableAliasing {
			if slot := g.bestFit(slots, idx); slot != nil {
				slot.occupants = append(slot.occupants, idx)
				r.HeapIndex = slot.location.HeapIndex
				r.Offset = slot.location.Offset
				continue
			}
		}

		loc, err := g.heaps.Allocate(r.memory.Size, r.memory.Alignment)
		if err != nil {
			return fmt.Errorf("failed to allocate transient %s %q: %w", r.Desc.Kind, r.Name, err)
		}
		g.transientAllocs = append(g.transientAllocs, loc)
		slots = append(slots, &memorySlot{
			location:  loc,
			kind:      r.Desc.Kind,
			class:     classOf(&r.Desc),
			occupants: []int{idx},
		})
		r.HeapIndex = loc.HeapIndex
		r.Offset = loc.Offset
	}

	// chain the occupants of every slot in pass order
	for _, slot := range slots {
		slices.SortFunc(slot.occupants, func(a, b int) int {
			return cmp.Compare(g.resources[a].Lifetime.First, g.resources[b].Lifetime.First)
		})
		for i, idx := range slot.occupants {
			if i == 0 {
				g.resources[idx].AliasedFrom = NoAlias
			} else {
				g.resources[idx].AliasedFrom = slot.occupants[i-1]
			}
		}
	}
	return nil
}

// bestFit returns the smallest compatible slot none of whose occupants is
// alive while resource idx is.
func (g *RenderGraph) bestFit(slots []*memorySlot, idx int) *memorySlot {
	r := g.resources[idx]
	class := classOf(&r.Desc)
	alignment := max(r.memory.Alignment, 1)

	var best *memorySlot
	for _, slot := range slots {
		if slot.kind != r.Desc.Kind || slot.class != class {
			continue
		}
		if slot.location.Size < r.memory.Size || slot.location.Offset%alignment != 0 {
			continue
		}
		if best != nil && slot.location.Size >= best.location.Size {
			continue
		}
		disjoint := true
		for _, o := range slot.occupants {
			if g.resources[o].Lifetime.Overlaps(r.Lifetime) {
				disjoint = false
				break
			}
		}
		if disjoint {
			best = slot
		}
	}
	return best
}

// buildBarriers derives the aliasing and state transition entries each pass
// issues before it records.
func (g *RenderGraph) buildBarriers() {
	states := make([]metadata.ResourceState, len(g.resources))
	for i, r := range g.resources {
		if r.Persistent && !r.DeclaredThisFrame {
			states[i] = r.persistent.state
		}
	}

	for _, pass := range g.passes {
		number := pass.Index + 1
		pass.AliasBarriers = pass.AliasBarriers[:0]
		pass.Transitions = pass.Transitions[:0]

		for i, r := range g.resources {
			if !r.Persistent && r.Lifetime.First == number {
				pass.AliasBarriers = append(pass.AliasBarriers, AliasBarrierEntry{
					Resource: i,
					Kind:     r.Desc.Kind,
					Previous: r.AliasedFrom,
				})
			}

			reads := containsPass(r.Reads, pass.Index)
			writes := containsPass(r.Writes, pass.Index)
			if !reads && !writes {
				continue
			}
			needed := requiredState(r, writes)
			if states[i] != needed {
				pass.Transitions = append(pass.Transitions, TransitionEntry{
					Resource: i,
					Kind:     r.Desc.Kind,
					Before:   states[i],
					After:    needed,
				})
				states[i] = needed
			}
		}
	}

	for i, r := range g.resources {
		if r.Persistent {
			r.persistent.state = states[i]
		}
	}
}

func requiredState(r *TransientResource, writes bool) metadata.ResourceState {
	if r.Desc.Kind == ResourceKindTexture {
		usage := r.Desc.Texture.Usage
		switch {
		case !writes:
			return metadata.ResourceStateShaderRead
		case usage.Has(metadata.TextureUsageDepthStencil):
			return metadata.ResourceStateDepthWrite
		case usage.Has(metadata.TextureUsageRenderTarget) && !usage.Has(metadata.TextureUsageStorage):
			return metadata.ResourceStateRenderTarget
		default:
			return metadata.ResourceStateStorageWrite
		}
	}
	if writes {
		return metadata.ResourceStateStorageWrite
	}
	if r.Desc.Buffer.Usage.Has(metadata.BufferUsageIndirectArgs) {
		return metadata.ResourceStateIndirectArgs
	}
	return metadata.ResourceStateShaderRead
}

type placedKey struct {
	kind   ResourceKind
	hash   uint64
	heap   int
	offset uint64
}

type placedEntry struct {
	resource renderer.Resource
	lastUsed uint64
}

// placedCache keeps placed device resources alive across frames so a stable
// frame does not recreate them.
type placedCache struct {
	mu      sync.Mutex
	entries map[placedKey]*placedEntry
}

func newPlacedCache() *placedCache {
	return &placedCache{entries: make(map[placedKey]*placedEntry)}
}

func (c *placedCache) get(key placedKey, frame uint64, create func() (renderer.Resource, error)) (renderer.Resource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.lastUsed = frame
		return e.resource, nil
	}
	res, err := create()
	if err != nil {
		return nil, err
	}
	c.entries[key] = &placedEntry{resource: res, lastUsed: frame}
	return res, nil
}

// evict destroys entries unused for more than ttl frames.
func (c *placedCache) evict(frame, ttl uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for key, e := range c.entries {
		if frame-e.lastUsed > ttl {
			e.resource.Destroy()
			delete(c.entries, key)
			evicted++
		}
	}
	return evicted
}

func (c *placedCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *placedCache) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		e.resource.Destroy()
		delete(c.entries, key)
	}
}
