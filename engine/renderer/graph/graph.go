package graph

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// NoAlias marks a resource that does not continue another resource's memory.
const NoAlias = -1

type AccessMode uint8

const (
	AccessRead AccessMode = 1 << iota
	AccessWrite
)

func (m AccessMode) String() string {
	switch m {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	default:
		return "read-write"
	}
}

// TextureHandle refers to a texture declared in the current frame. The zero
// value is invalid.
type TextureHandle struct {
	index  uint32
	serial uint64
}

func (h TextureHandle) IsValid() bool { return h.serial != 0 }

type BufferHandle struct {
	index  uint32
	serial uint64
}

func (h BufferHandle) IsValid() bool { return h.serial != 0 }

// Lifetime is the inclusive range of 1-based pass numbers using a resource.
// First == 0 means the resource is never used.
type Lifetime struct {
	First int
	Last  int
}

func (l Lifetime) IsValid() bool {
	return l.First != 0
}

func (l Lifetime) Overlaps(other Lifetime) bool {
	return l.First <= other.Last && other.First <= l.Last
}

type TransientResource struct {
	Name string
	Desc ResourceDesc
	// Persistent resources keep their memory and contents across frames.
	Persistent bool
	// For persistent resources, set when the memory was (re)allocated this
	// frame and the contents are undefined.
	DeclaredThisFrame bool
	Lifetime          Lifetime
	HeapIndex         int
	Offset            uint64
	// Index of the resource that used the same memory right before this one.
	AliasedFrom int
	// Pass indices reading and writing the resource.
	Reads  []int
	Writes []int

	serial     uint64
	hash       uint64
	memory     metadata.MemoryRequirements
	persistent *persistentResource
}

func (r *TransientResource) Hash() uint64 { return r.hash }

func (r *TransientResource) Memory() metadata.MemoryRequirements { return r.memory }

type persistentResource struct {
	name      string
	hash      uint64
	allocated bool
	location  HeapLocation
	state     metadata.ResourceState

	declaredFrame uint64
	index         int
}

type AliasBarrierEntry struct {
	Resource int
	Kind     ResourceKind
	// Resource whose memory is taken over, NoAlias for the first occupant.
	Previous int
}

type TransitionEntry struct {
	Resource int
	Kind     ResourceKind
	Before   metadata.ResourceState
	After    metadata.ResourceState
}

type PassAccess struct {
	Index         int
	Name          string
	TextureReads  []TextureHandle
	TextureWrites []TextureHandle
	BufferReads   []BufferHandle
	BufferWrites  []BufferHandle

	AliasBarriers []AliasBarrierEntry
	Transitions   []TransitionEntry
}

type Options struct {
	HeapGranularity uint64
	MinBlockSize    uint64
	MaxMemory       uint64
	// Frames an unused placed resource stays cached.
	PlacedResourceTTL uint64
	DisableAliasing   bool
}

type graphState uint8

const (
	stateBuilding graphState = iota
	stateSetup
	stateCompiled
	stateRecording
)

func (s graphState) String() string {
	switch s {
	case stateBuilding:
		return "building"
	case stateSetup:
		return "setup"
	case stateCompiled:
		return "compiled"
	default:
		return "recording"
	}
}

// setupUndo holds what a tentative pass changed so it can be rolled back.
type setupUndo struct {
	resources int
	touched   map[int]accessSnapshot
	present   TextureHandle
}

type accessSnapshot struct {
	lifetime Lifetime
	reads    int
	writes   int
}

/**
 * @brief Per-frame resource graph. Passes declare transient and persistent
 * resources and their accesses; Compile derives lifetimes, aliases memory of
 * resources whose lifetimes never overlap and places everything in device heaps.
 *
 * Frame cycle: Reset, ScheduleRenderer for every renderer, Compile, then
 * BeginPass/Get*\/EndPass for every scheduled pass in order.
 */
type RenderGraph struct {
	device renderer.Device
	opts   Options
	heaps  *HeapAllocator
	memory *memoryCache
	placed *placedCache

	frame  uint64
	serial uint64
	state  graphState

	resources  []*TransientResource
	passes     []*PassAccess
	persistent map[string]*persistentResource

	setupPass *PassAccess
	undo      *setupUndo

	transientAllocs []HeapLocation
	currentPass     int
	nextPass        int
	cmd             renderer.CommandList
	present         TextureHandle

	stats Stats
}

func New(device renderer.Device, opts Options) *RenderGraph {
	if opts.HeapGranularity == 0 {
		opts.HeapGranularity = 64 << 20
	}
	return &RenderGraph{
		device: device,
		opts:   opts,
		heaps: NewHeapAllocator(device, HeapAllocatorConfig{
			Granularity:  opts.HeapGranularity,
			MinBlockSize: opts.MinBlockSize,
			MaxMemory:    opts.MaxMemory,
		}),
		memory:      newMemoryCache(),
		placed:      newPlacedCache(),
		persistent:  make(map[string]*persistentResource),
		currentPass: -1,
	}
}

func (g *RenderGraph) Device() renderer.Device { return g.device }

func (g *RenderGraph) FrameIndex() uint64 { return g.frame }

func (g *RenderGraph) Heaps() *HeapAllocator { return g.heaps }

// Reset starts a new frame: per-frame declarations are dropped and transient
// memory goes back to the allocator. Persistent resources keep their placement.
func (g *RenderGraph) Reset() {
	core.Assert(g.state == stateBuilding || g.state == stateCompiled, "Reset called while the graph is in %s state", g.state)

	for _, loc := range g.transientAllocs {
		err := g.heaps.Free(loc.HeapIndex, loc.Offset)
		core.Assert(err == nil, "failed to release transient memory: %v", err)
	}
	g.transientAllocs = g.transientAllocs[:0]

	g.resources = g.resources[:0]
	g.passes = g.passes[:0]
	g.present = TextureHandle{}
	g.currentPass = -1
	g.nextPass = 0
	g.cmd = nil
	g.frame++

	if evicted := g.placed.evict(g.frame, g.opts.PlacedResourceTTL); evicted > 0 {
		core.LogDebug("evicted %d placed resources", evicted)
	}
	g.state = stateBuilding
}

func (g *RenderGraph) DeclareTexture(desc metadata.TextureDesc) TextureHandle {
	idx := g.declare(TextureResourceDesc(desc), false)
	return TextureHandle{index: uint32(idx), serial: g.resources[idx].serial}
}

func (g *RenderGraph) DeclareBuffer(desc metadata.BufferDesc) BufferHandle {
	idx := g.declare(BufferResourceDesc(desc), false)
	return BufferHandle{index: uint32(idx), serial: g.resources[idx].serial}
}

// DeclarePersistentTexture returns the texture registered under desc.DebugName,
// creating it on first use. It is reallocated when the shape changes.
func (g *RenderGraph) DeclarePersistentTexture(desc metadata.TextureDesc) TextureHandle {
	idx := g.declare(TextureResourceDesc(desc), true)
	return TextureHandle{index: uint32(idx), serial: g.resources[idx].serial}
}

func (g *RenderGraph) DeclarePersistentBuffer(desc metadata.BufferDesc) BufferHandle {
	idx := g.declare(BufferResourceDesc(desc), true)
	return BufferHandle{index: uint32(idx), serial: g.resources[idx].serial}
}

func (g *RenderGraph) declare(desc ResourceDesc, persistent bool) int {
	core.Assert(g.state == stateBuilding || g.state == stateSetup, "resources cannot be declared in %s state", g.state)
	core.Assert(!desc.IsZeroSized(), "%s %q has a zero-sized descriptor", desc.Kind, desc.Name())
	core.Assert(desc.Kind != ResourceKindBuffer || !desc.Buffer.HostVisible, "buffer %q: host visible buffers cannot live in graph heaps", desc.Name())
	desc.Texture.Virtual = false
	desc.Buffer.Virtual = false

	var p *persistentResource
	if persistent {
		name := desc.Name()
		core.Assert(name != "", "persistent %s needs a debug name", desc.Kind)

		var ok bool
		p, ok = g.persistent[name]
		if ok && p.declaredFrame == g.frame && p.index < len(g.resources) && g.resources[p.index].persistent == p {
			existing := g.resources[p.index]
			core.Assert(existing.Desc.Kind == desc.Kind, "persistent %q redeclared as a %s", name, desc.Kind)
			core.Assert(existing.hash == desc.ComputeHash(), "persistent %q redeclared with a different shape in one frame", name)
			return p.index
		}
		if !ok {
			p = &persistentResource{name: name}
			g.persistent[name] = p
		}
		p.declaredFrame = g.frame
		p.index = len(g.resources)
	} else if desc.Name() == "" {
		desc.setName(fmt.Sprintf("%s-%s", desc.Kind, uuid.NewString()))
	}

	g.serial++
	r := &TransientResource{
		Name:              desc.Name(),
		Desc:              desc,
		Persistent:        persistent,
		DeclaredThisFrame: true,
		HeapIndex:         -1,
		AliasedFrom:       NoAlias,
		serial:            g.serial,
		hash:              desc.ComputeHash(),
		persistent:        p,
	}
	g.resources = append(g.resources, r)
	return len(g.resources) - 1
}

func (g *RenderGraph) ReadTexture(h TextureHandle) {
	idx := g.textureIndex(h)
	if g.access(idx, AccessRead) {
		g.setupPass.TextureReads = append(g.setupPass.TextureReads, h)
	}
}

func (g *RenderGraph) WriteTexture(h TextureHandle) {
	idx := g.textureIndex(h)
	if g.access(idx, AccessWrite) {
		g.setupPass.TextureWrites = append(g.setupPass.TextureWrites, h)
	}
}

func (g *RenderGraph) ReadBuffer(h BufferHandle) {
	idx := g.bufferIndex(h)
	if g.access(idx, AccessRead) {
		g.setupPass.BufferReads = append(g.setupPass.BufferReads, h)
	}
}

func (g *RenderGraph) WriteBuffer(h BufferHandle) {
	idx := g.bufferIndex(h)
	if g.access(idx, AccessWrite) {
		g.setupPass.BufferWrites = append(g.setupPass.BufferWrites, h)
	}
}

// access records the pass in the resource's access list and extends its
// lifetime. It reports false when the access was already recorded.
func (g *RenderGraph) access(idx int, mode AccessMode) bool {
	core.Assert(g.state == stateSetup, "resource accesses are only valid inside Setup, graph is in %s state", g.state)
	r := g.resources[idx]
	pass := g.setupPass.Index

	if _, ok := g.undo.touched[idx]; !ok && idx < g.undo.resources {
		g.undo.touched[idx] = accessSnapshot{lifetime: r.Lifetime, reads: len(r.Reads), writes: len(r.Writes)}
	}

	list := &r.Reads
	if mode == AccessWrite {
		list = &r.Writes
	}
	if len(*list) > 0 && (*list)[len(*list)-1] == pass {
		return false
	}
	*list = append(*list, pass)

	number := pass + 1
	if r.Lifetime.First == 0 || number < r.Lifetime.First {
		r.Lifetime.First = number
	}
	if number > r.Lifetime.Last {
		r.Lifetime.Last = number
	}
	return true
}

// ScheduleRenderer opens a pass for r and runs its Setup. When Setup reports
// false everything declared and accessed during it is rolled back.
func (g *RenderGraph) ScheduleRenderer(r Renderer) bool {
	core.Assert(g.state == stateBuilding, "ScheduleRenderer called in %s state", g.state)

	g.setupPass = &PassAccess{Index: len(g.passes), Name: r.Name()}
	g.undo = &setupUndo{
		resources: len(g.resources),
		touched:   make(map[int]accessSnapshot),
		present:   g.present,
	}
	g.state = stateSetup

	active := r.Setup(g)

	g.state = stateBuilding
	if active {
		g.passes = append(g.passes, g.setupPass)
	} else {
		g.rollback()
	}
	g.setupPass = nil
	g.undo = nil
	return active
}

func (g *RenderGraph) rollback() {
	for idx, snap := range g.undo.touched {
		r := g.resources[idx]
		r.Lifetime = snap.lifetime
		r.Reads = r.Reads[:snap.reads]
		r.Writes = r.Writes[:snap.writes]
	}
	for _, r := range g.resources[g.undo.resources:] {
		if r.persistent != nil && r.persistent.index >= g.undo.resources {
			r.persistent.declaredFrame = 0
		}
	}
	g.resources = g.resources[:g.undo.resources]
	g.present = g.undo.present
}

// Compile places every used resource. Transient resources share memory when
// their lifetimes are disjoint; persistent ones keep their own placement.
func (g *RenderGraph) Compile() error {
	core.Assert(g.state == stateBuilding, "Compile called in %s state", g.state)

	for _, r := range g.resources {
		r.memory = g.memory.get(g.device, &r.Desc, r.hash)
	}
	if err := g.allocatePersistent(); err != nil {
		return err
	}
	if err := g.allocateTransient(); err != nil {
		return err
	}
	g.buildBarriers()
	g.collectStats()
	g.state = stateCompiled
	return nil
}

func (g *RenderGraph) allocatePersistent() error {
	for _, r := range g.resources {
		if !r.Persistent {
			continue
		}
		p := r.persistent
		if p.allocated && p.hash != r.hash {
			core.LogDebug("persistent %s %q changed shape, reallocating", r.Desc.Kind, p.name)
			if err := g.heaps.Free(p.location.HeapIndex, p.location.Offset); err != nil {
				return fmt.Errorf("failed to release persistent %q: %w", p.name, err)
			}
			p.allocated = false
		}

		r.DeclaredThisFrame = !p.allocated
		// no memory until the first frame that accesses it; an existing
		// placement is kept so the contents survive idle frames
		if !p.allocated && !r.Lifetime.IsValid() {
			r.HeapIndex, r.Offset = -1, 0
			continue
		}
		if !p.allocated {
			loc, err := g.heaps.Allocate(r.memory.Size, r.memory.Alignment)
			if err != nil {
				return fmt.Errorf("failed to allocate persistent %s %q: %w", r.Desc.Kind, p.name, err)
			}
			p.location = loc
			p.allocated = true
			p.hash = r.hash
			p.state = metadata.ResourceStateUndefined
		}
		r.HeapIndex = p.location.HeapIndex
		r.Offset = p.location.Offset
	}
	return nil
}

// BeginPass makes pass index current and records its aliasing and transition
// barriers. Passes must be recorded in schedule order.
func (g *RenderGraph) BeginPass(index int, cmd renderer.CommandList) error {
	core.Assert(g.state == stateCompiled, "BeginPass called in %s state", g.state)
	core.Assert(index == g.nextPass, "pass %d recorded out of order, expected %d", index, g.nextPass)
	core.Assert(index < len(g.passes), "pass %d does not exist", index)

	pass := g.passes[index]
	g.state = stateRecording
	g.currentPass = index
	g.nextPass++
	g.cmd = cmd

	cmd.BeginMarker(pass.Name)
	for _, e := range pass.AliasBarriers {
		after, err := g.materialize(e.Resource)
		if err != nil {
			return err
		}
		var before renderer.Resource
		if e.Previous != NoAlias {
			if before, err = g.materialize(e.Previous); err != nil {
				return err
			}
		}
		cmd.AliasingBarrier(before, after)
	}
	for _, t := range pass.Transitions {
		res, err := g.materialize(t.Resource)
		if err != nil {
			return err
		}
		cmd.ResourceBarrier(res, t.Before, t.After)
	}
	return nil
}

func (g *RenderGraph) EndPass() {
	core.Assert(g.state == stateRecording, "EndPass called in %s state", g.state)
	g.cmd.EndMarker()
	g.cmd = nil
	g.currentPass = -1
	g.state = stateCompiled
}

// GetTexture resolves a handle declared by the current pass with mode access.
func (g *RenderGraph) GetTexture(h TextureHandle, mode AccessMode) (renderer.Texture, error) {
	idx := g.textureIndex(h)
	g.assertAccess(idx, mode)
	res, err := g.materialize(idx)
	if err != nil {
		return nil, err
	}
	return res.(renderer.Texture), nil
}

func (g *RenderGraph) GetBuffer(h BufferHandle, mode AccessMode) (renderer.Buffer, error) {
	idx := g.bufferIndex(h)
	g.assertAccess(idx, mode)
	res, err := g.materialize(idx)
	if err != nil {
		return nil, err
	}
	return res.(renderer.Buffer), nil
}

// HistoryValid reports whether a persistent resource kept its contents from
// the previous frame. Valid after Compile.
func (g *RenderGraph) HistoryValid(h TextureHandle) bool {
	core.Assert(g.state == stateCompiled || g.state == stateRecording, "HistoryValid called in %s state", g.state)
	r := g.resources[g.textureIndex(h)]
	return r.Persistent && !r.DeclaredThisFrame
}

func (g *RenderGraph) BufferHistoryValid(h BufferHandle) bool {
	core.Assert(g.state == stateCompiled || g.state == stateRecording, "BufferHistoryValid called in %s state", g.state)
	r := g.resources[g.bufferIndex(h)]
	return r.Persistent && !r.DeclaredThisFrame
}

func (g *RenderGraph) SetPresentTexture(h TextureHandle) {
	g.textureIndex(h)
	g.present = h
}

// PresentTexture returns the texture marked for presentation, or nil when no
// pass produced one this frame.
func (g *RenderGraph) PresentTexture() (renderer.Texture, error) {
	core.Assert(g.state == stateCompiled, "PresentTexture called in %s state", g.state)
	if !g.present.IsValid() {
		return nil, nil
	}
	idx := g.textureIndex(g.present)
	core.Assert(g.resources[idx].Lifetime.IsValid(), "present texture %q is never written", g.resources[idx].Name)
	res, err := g.materialize(idx)
	if err != nil {
		return nil, err
	}
	return res.(renderer.Texture), nil
}

// ResolveTexture returns the texture behind h once the frame has been
// recorded, for readback and debug dumps.
func (g *RenderGraph) ResolveTexture(h TextureHandle) (renderer.Texture, error) {
	core.Assert(g.state == stateCompiled, "ResolveTexture called in %s state", g.state)
	idx := g.textureIndex(h)
	core.Assert(g.resources[idx].Lifetime.IsValid(), "texture %q is never used", g.resources[idx].Name)
	res, err := g.materialize(idx)
	if err != nil {
		return nil, err
	}
	return res.(renderer.Texture), nil
}

func (g *RenderGraph) PassCount() int { return len(g.passes) }

func (g *RenderGraph) Pass(index int) *PassAccess {
	core.Assert(index >= 0 && index < len(g.passes), "pass %d does not exist", index)
	return g.passes[index]
}

func (g *RenderGraph) ResourceCount() int { return len(g.resources) }

func (g *RenderGraph) Resource(index int) *TransientResource {
	core.Assert(index >= 0 && index < len(g.resources), "resource %d does not exist", index)
	return g.resources[index]
}

func (g *RenderGraph) TextureResource(h TextureHandle) *TransientResource {
	return g.resources[g.textureIndex(h)]
}

func (g *RenderGraph) BufferResource(h BufferHandle) *TransientResource {
	return g.resources[g.bufferIndex(h)]
}

func (g *RenderGraph) textureIndex(h TextureHandle) int {
	idx := int(h.index)
	core.Assert(h.IsValid() && idx < len(g.resources) && g.resources[idx].serial == h.serial, "texture handle was not declared this frame")
	core.Assert(g.resources[idx].Desc.Kind == ResourceKindTexture, "handle %q is not a texture", g.resources[idx].Name)
	return idx
}

func (g *RenderGraph) bufferIndex(h BufferHandle) int {
	idx := int(h.index)
	core.Assert(h.IsValid() && idx < len(g.resources) && g.resources[idx].serial == h.serial, "buffer handle was not declared this frame")
	core.Assert(g.resources[idx].Desc.Kind == ResourceKindBuffer, "handle %q is not a buffer", g.resources[idx].Name)
	return idx
}

func (g *RenderGraph) assertAccess(idx int, mode AccessMode) {
	core.Assert(g.state == stateRecording, "resources can only be resolved inside a pass, graph is in %s state", g.state)
	r := g.resources[idx]
	pass := g.passes[g.currentPass]
	if mode&AccessRead != 0 {
		core.Assert(containsPass(r.Reads, g.currentPass), "pass %q did not declare read access to %q", pass.Name, r.Name)
	}
	if mode&AccessWrite != 0 {
		core.Assert(containsPass(r.Writes, g.currentPass), "pass %q did not declare write access to %q", pass.Name, r.Name)
	}
}

func containsPass(passes []int, pass int) bool {
	for _, p := range passes {
		if p == pass {
			return true
		}
	}
	return false
}

// materialize returns the placed device resource backing g.resources[idx].
func (g *RenderGraph) materialize(idx int) (renderer.Resource, error) {
	r := g.resources[idx]
	core.Assert(r.HeapIndex >= 0, "%s %q has no memory assigned", r.Desc.Kind, r.Name)

	key := placedKey{kind: r.Desc.Kind, hash: r.hash, heap: r.HeapIndex, offset: r.Offset}
	return g.placed.get(key, g.frame, func() (renderer.Resource, error) {
		heap := g.heaps.Heap(r.HeapIndex)
		if r.Desc.Kind == ResourceKindTexture {
			tex, err := g.device.CreatePlacedTexture(r.Desc.Texture, heap, r.Offset)
			if err != nil {
				return nil, fmt.Errorf("failed to create placed texture %q: %w", r.Name, err)
			}
			return tex, nil
		}
		buf, err := g.device.CreatePlacedBuffer(r.Desc.Buffer, heap, r.Offset)
		if err != nil {
			return nil, fmt.Errorf("failed to create placed buffer %q: %w", r.Name, err)
		}
		return buf, nil
	})
}

// Release destroys every placed resource and heap owned by the graph.
func (g *RenderGraph) Release() {
	g.placed.release()
	g.heaps.Release()
	g.persistent = make(map[string]*persistentResource)
	g.transientAllocs = nil
	g.resources = nil
	g.passes = nil
	g.state = stateBuilding
}
