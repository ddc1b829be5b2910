package graph

import (
	"testing"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/renderer/soft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

type testRenderer struct {
	name   string
	setup  func(g *RenderGraph) bool
	render func(cmd renderer.CommandList, g *RenderGraph) error
}

func (r *testRenderer) Name() string                     { return r.name }
func (r *testRenderer) Initialize(renderer.Device) error { return nil }
func (r *testRenderer) Setup(g *RenderGraph) bool        { return r.setup(g) }
func (r *testRenderer) Render(cmd renderer.CommandList, g *RenderGraph) error {
	if r.render == nil {
		return nil
	}
	return r.render(cmd, g)
}

func pass(name string, setup func(g *RenderGraph)) *testRenderer {
	return &testRenderer{name: name, setup: func(g *RenderGraph) bool {
		setup(g)
		return true
	}}
}

func newGraph(opts Options) (*RenderGraph, *soft.Device) {
	if opts.HeapGranularity == 0 {
		opts.HeapGranularity = 1 << 20
	}
	dev := soft.NewDevice()
	g := New(dev, opts)
	g.Reset()
	return g, dev
}

func colorTarget(name string) metadata.TextureDesc {
	return metadata.TextureDesc{
		Width: 64, Height: 64, Format: metadata.FormatR32Float,
		Usage: metadata.TextureUsageRenderTarget | metadata.TextureUsageSampled, DebugName: name,
	}
}

func storageBuffer(name string, size uint64) metadata.BufferDesc {
	return metadata.BufferDesc{Size: size, Usage: metadata.BufferUsageStorage, DebugName: name}
}

func requireContractViolation(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a contract violation")
		err, ok := r.(error)
		require.True(t, ok)
		assert.ErrorIs(t, err, core.ErrContractViolation)
	}()
	fn()
}

// record runs every scheduled pass through BeginPass/EndPass on a fresh list.
func record(t *testing.T, g *RenderGraph, dev *soft.Device, renderers ...*testRenderer) *soft.CommandList {
	t.Helper()
	cmd, err := dev.CreateCommandList()
	require.NoError(t, err)
	require.NoError(t, cmd.Open())
	for i, r := range renderers {
		require.NoError(t, g.BeginPass(i, cmd))
		require.NoError(t, r.Render(cmd, g))
		g.EndPass()
	}
	require.NoError(t, cmd.Close())
	require.NoError(t, dev.Execute(cmd))
	return cmd.(*soft.CommandList)
}

func TestLifetimes(t *testing.T) {
	g, _ := newGraph(Options{})
	var gbuffer TextureHandle
	var unused BufferHandle

	g.ScheduleRenderer(pass("geometry", func(g *RenderGraph) {
		gbuffer = g.DeclareTexture(colorTarget("gbuffer"))
		unused = g.DeclareBuffer(storageBuffer("unused", 256))
		g.WriteTexture(gbuffer)
	}))
	g.ScheduleRenderer(pass("noop", func(g *RenderGraph) {}))
	g.ScheduleRenderer(pass("lighting", func(g *RenderGraph) {
		g.ReadTexture(gbuffer)
	}))
	require.NoError(t, g.Compile())

	r := g.TextureResource(gbuffer)
	assert.Equal(t, Lifetime{First: 1, Last: 3}, r.Lifetime)
	assert.Equal(t, []int{0}, r.Writes)
	assert.Equal(t, []int{2}, r.Reads)

	u := g.BufferResource(unused)
	assert.False(t, u.Lifetime.IsValid())
	assert.Equal(t, -1, u.HeapIndex, "unused resources get no memory")
}

func TestDisjointLifetimesAlias(t *testing.T) {
	g, dev := newGraph(Options{})
	var a, b TextureHandle

	writeA := pass("write-a", func(g *RenderGraph) {
		a = g.DeclareTexture(colorTarget("a"))
		g.WriteTexture(a)
	})
	writeB := pass("write-b", func(g *RenderGraph) {
		b = g.DeclareTexture(colorTarget("b"))
		g.WriteTexture(b)
	})
	g.ScheduleRenderer(writeA)
	g.ScheduleRenderer(writeB)
	require.NoError(t, g.Compile())

	ra, rb := g.TextureResource(a), g.TextureResource(b)
	assert.Equal(t, ra.HeapIndex, rb.HeapIndex)
	assert.Equal(t, ra.Offset, rb.Offset)
	assert.Equal(t, NoAlias, ra.AliasedFrom)
	assert.Equal(t, int(a.index), rb.AliasedFrom)

	require.Len(t, g.Pass(1).AliasBarriers, 1)
	assert.Equal(t, AliasBarrierEntry{Resource: int(b.index), Kind: ResourceKindTexture, Previous: int(a.index)}, g.Pass(1).AliasBarriers[0])

	stats := g.Stats()
	assert.Equal(t, 1, stats.Aliased)
	assert.Equal(t, stats.RequestedMemory/2, stats.TransientMemory)

	trace := record(t, g, dev, writeA, writeB)
	var barriers []soft.Command
	for _, c := range trace.Commands() {
		if c.Type == soft.CommandAliasingBarrier {
			barriers = append(barriers, c)
		}
	}
	require.Len(t, barriers, 2)
	assert.Empty(t, barriers[0].Before, "the first occupant has nothing to wait for")
	assert.NotEmpty(t, barriers[1].Before)
}

func TestOverlappingLifetimesNeverAlias(t *testing.T) {
	g, _ := newGraph(Options{})
	var a, b TextureHandle

	g.ScheduleRenderer(pass("write-a", func(g *RenderGraph) {
		a = g.DeclareTexture(colorTarget("a"))
		g.WriteTexture(a)
	}))
	g.ScheduleRenderer(pass("combine", func(g *RenderGraph) {
		b = g.DeclareTexture(colorTarget("b"))
		g.ReadTexture(a)
		g.WriteTexture(b)
	}))
	require.NoError(t, g.Compile())

	ra, rb := g.TextureResource(a), g.TextureResource(b)
	assert.True(t, ra.Lifetime.Overlaps(rb.Lifetime))
	assert.False(t, ra.HeapIndex == rb.HeapIndex && ra.Offset == rb.Offset)
	assert.Equal(t, NoAlias, rb.AliasedFrom)
	assert.Zero(t, g.Stats().Aliased)
}

func TestAliasingDisabled(t *testing.T) {
	g, _ := newGraph(Options{DisableAliasing: true})
	var a, b TextureHandle
	g.ScheduleRenderer(pass("write-a", func(g *RenderGraph) {
		a = g.DeclareTexture(colorTarget("a"))
		g.WriteTexture(a)
	}))
	g.ScheduleRenderer(pass("write-b", func(g *RenderGraph) {
		b = g.DeclareTexture(colorTarget("b"))
		g.WriteTexture(b)
	}))
	require.NoError(t, g.Compile())
	assert.NotEqual(t, g.TextureResource(a).Offset, g.TextureResource(b).Offset)
}

func TestAliasingNeverMixesKindsOrClasses(t *testing.T) {
	g, _ := newGraph(Options{})
	var tex, depth TextureHandle
	var buf BufferHandle

	g.ScheduleRenderer(pass("first", func(g *RenderGraph) {
		tex = g.DeclareTexture(colorTarget("color"))
		g.WriteTexture(tex)
	}))
	g.ScheduleRenderer(pass("second", func(g *RenderGraph) {
		depth = g.DeclareTexture(metadata.TextureDesc{Width: 64, Height: 64, Format: metadata.FormatD32Float, Usage: metadata.TextureUsageDepthStencil, DebugName: "depth"})
		g.WriteTexture(depth)
	}))
	g.ScheduleRenderer(pass("third", func(g *RenderGraph) {
		buf = g.DeclareBuffer(storageBuffer("buffer", 4096))
		g.WriteBuffer(buf)
	}))
	require.NoError(t, g.Compile())

	assert.Equal(t, NoAlias, g.TextureResource(tex).AliasedFrom)
	assert.Equal(t, NoAlias, g.TextureResource(depth).AliasedFrom)
	assert.Equal(t, NoAlias, g.BufferResource(buf).AliasedFrom)
}

// Any two transient resources whose memory ranges overlap must have disjoint
// lifetimes, for arbitrary graphs.
func TestAliasingSafetyRandomGraphs(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	sizes := []uint32{16, 32, 64, 128}

	for iteration := 0; iteration < 25; iteration++ {
		g, _ := newGraph(Options{HeapGranularity: 1 << 18, MinBlockSize: 4096})

		var handles []TextureHandle
		var buffers []BufferHandle
		passes := 4 + rng.Intn(8)
		for p := 0; p < passes; p++ {
			g.ScheduleRenderer(pass("random", func(g *RenderGraph) {
				for n := rng.Intn(3); n > 0; n-- {
					s := sizes[rng.Intn(len(sizes))]
					h := g.DeclareTexture(metadata.TextureDesc{Width: s, Height: s, Format: metadata.FormatRGBA32Float, Usage: metadata.TextureUsageStorage})
					g.WriteTexture(h)
					handles = append(handles, h)
				}
				if rng.Intn(2) == 0 {
					b := g.DeclareBuffer(storageBuffer("", uint64(rng.Intn(100000)+1)))
					g.WriteBuffer(b)
					buffers = append(buffers, b)
				}
				for _, h := range handles {
					if rng.Intn(4) == 0 {
						g.ReadTexture(h)
					}
				}
				for _, b := range buffers {
					if rng.Intn(4) == 0 {
						g.ReadBuffer(b)
					}
				}
			}))
		}
		require.NoError(t, g.Compile())
		require.NoError(t, g.Heaps().Validate())

		for i := 0; i < g.ResourceCount(); i++ {
			ri := g.Resource(i)
			for j := i + 1; j < g.ResourceCount(); j++ {
				rj := g.Resource(j)
				if ri.HeapIndex != rj.HeapIndex {
					continue
				}
				memOverlap := ri.Offset < rj.Offset+rj.Memory().Size && rj.Offset < ri.Offset+ri.Memory().Size
				if memOverlap {
					assert.False(t, ri.Lifetime.Overlaps(rj.Lifetime), "iteration %d: %q and %q share memory while alive", iteration, ri.Name, rj.Name)
					assert.Equal(t, ri.Desc.Kind, rj.Desc.Kind)
				}
			}
		}
	}
}

func TestPersistentStability(t *testing.T) {
	g, _ := newGraph(Options{})
	desc := metadata.TextureDesc{Width: 32, Height: 32, MipLevels: 6, Format: metadata.FormatR32Float, Usage: metadata.TextureUsageStorage | metadata.TextureUsageSampled, DebugName: "hzb"}

	type placement struct {
		heap    int
		offset  uint64
		history bool
	}
	frame := func(d metadata.TextureDesc) placement {
		var h TextureHandle
		g.ScheduleRenderer(pass("hzb", func(g *RenderGraph) {
			h = g.DeclarePersistentTexture(d)
			// a transient competing for the same memory
			tmp := g.DeclareTexture(metadata.TextureDesc{Width: 32, Height: 32, Format: metadata.FormatR32Float, Usage: metadata.TextureUsageStorage})
			g.WriteTexture(tmp)
			g.WriteTexture(h)
		}))
		require.NoError(t, g.Compile())
		r := g.TextureResource(h)
		assert.True(t, r.Persistent)
		assert.Equal(t, NoAlias, r.AliasedFrom)
		p := placement{heap: r.HeapIndex, offset: r.Offset, history: g.HistoryValid(h)}
		g.Reset()
		return p
	}

	first := frame(desc)
	assert.False(t, first.history)
	for i := 0; i < 5; i++ {
		next := frame(desc)
		assert.Equal(t, first.heap, next.heap)
		assert.Equal(t, first.offset, next.offset)
		assert.True(t, next.history)
	}

	// a shape change reallocates and drops the history
	bigger := desc
	bigger.Width, bigger.Height = 64, 64
	resized := frame(bigger)
	assert.False(t, resized.history)
	assert.True(t, frame(bigger).history)
	require.NoError(t, g.Heaps().Validate())
}

func TestPersistentDeclaredTwiceInOneFrame(t *testing.T) {
	g, _ := newGraph(Options{})
	desc := storageBuffer("instances", 1024)
	var first, second BufferHandle
	g.ScheduleRenderer(pass("a", func(g *RenderGraph) {
		first = g.DeclarePersistentBuffer(desc)
		g.WriteBuffer(first)
	}))
	g.ScheduleRenderer(pass("b", func(g *RenderGraph) {
		second = g.DeclarePersistentBuffer(desc)
		g.ReadBuffer(second)
	}))
	require.NoError(t, g.Compile())
	assert.Equal(t, first, second)
	assert.Equal(t, Lifetime{First: 1, Last: 2}, g.BufferResource(first).Lifetime)
}

func TestUnusedPersistentGetsNoMemory(t *testing.T) {
	g, _ := newGraph(Options{})
	var history BufferHandle
	g.ScheduleRenderer(pass("declare-only", func(g *RenderGraph) {
		history = g.DeclarePersistentBuffer(storageBuffer("history", 4096))
	}))
	require.NoError(t, g.Compile())

	r := g.BufferResource(history)
	assert.False(t, r.Lifetime.IsValid())
	assert.Equal(t, -1, r.HeapIndex)
	assert.Zero(t, g.Stats().HeapUsed)

	// the first frame that writes it places it
	g.Reset()
	g.ScheduleRenderer(pass("write", func(g *RenderGraph) {
		history = g.DeclarePersistentBuffer(storageBuffer("history", 4096))
		g.WriteBuffer(history)
	}))
	require.NoError(t, g.Compile())
	r = g.BufferResource(history)
	assert.GreaterOrEqual(t, r.HeapIndex, 0)
	assert.True(t, r.DeclaredThisFrame)
	placed := r.Offset

	// an idle frame keeps the placement and the contents
	g.Reset()
	g.ScheduleRenderer(pass("idle", func(g *RenderGraph) {
		history = g.DeclarePersistentBuffer(storageBuffer("history", 4096))
	}))
	require.NoError(t, g.Compile())
	r = g.BufferResource(history)
	assert.GreaterOrEqual(t, r.HeapIndex, 0)
	assert.Equal(t, placed, r.Offset)
	assert.False(t, r.DeclaredThisFrame)
	require.NoError(t, g.Heaps().Validate())
}

func TestInactiveRendererIsRolledBack(t *testing.T) {
	g, _ := newGraph(Options{})
	var shared TextureHandle
	g.ScheduleRenderer(pass("producer", func(g *RenderGraph) {
		shared = g.DeclareTexture(colorTarget("shared"))
		g.WriteTexture(shared)
	}))

	inactive := &testRenderer{name: "bloom", setup: func(g *RenderGraph) bool {
		g.ReadTexture(shared)
		out := g.DeclareTexture(colorTarget("bloom"))
		g.WriteTexture(out)
		g.SetPresentTexture(out)
		return false
	}}
	assert.False(t, g.ScheduleRenderer(inactive))
	require.NoError(t, g.Compile())

	assert.Equal(t, 1, g.PassCount())
	assert.Equal(t, 1, g.ResourceCount())
	r := g.TextureResource(shared)
	assert.Equal(t, Lifetime{First: 1, Last: 1}, r.Lifetime)
	assert.Empty(t, r.Reads)
	tex, err := g.PresentTexture()
	require.NoError(t, err)
	assert.Nil(t, tex)
}

func TestTransitions(t *testing.T) {
	g, dev := newGraph(Options{})
	var color TextureHandle
	var args BufferHandle

	producer := pass("producer", func(g *RenderGraph) {
		color = g.DeclareTexture(colorTarget("color"))
		args = g.DeclareBuffer(metadata.BufferDesc{Size: 256, Usage: metadata.BufferUsageStorage | metadata.BufferUsageIndirectArgs, DebugName: "args"})
		g.WriteTexture(color)
		g.WriteBuffer(args)
	})
	consumer := pass("consumer", func(g *RenderGraph) {
		g.ReadTexture(color)
		g.ReadBuffer(args)
	})
	g.ScheduleRenderer(producer)
	g.ScheduleRenderer(consumer)
	require.NoError(t, g.Compile())

	assert.Equal(t, []TransitionEntry{
		{Resource: int(color.index), Kind: ResourceKindTexture, Before: metadata.ResourceStateUndefined, After: metadata.ResourceStateRenderTarget},
		{Resource: int(args.index), Kind: ResourceKindBuffer, Before: metadata.ResourceStateUndefined, After: metadata.ResourceStateStorageWrite},
	}, g.Pass(0).Transitions)
	assert.Equal(t, []TransitionEntry{
		{Resource: int(color.index), Kind: ResourceKindTexture, Before: metadata.ResourceStateRenderTarget, After: metadata.ResourceStateShaderRead},
		{Resource: int(args.index), Kind: ResourceKindBuffer, Before: metadata.ResourceStateStorageWrite, After: metadata.ResourceStateIndirectArgs},
	}, g.Pass(1).Transitions)

	trace := record(t, g, dev, producer, consumer)
	transitions := 0
	for _, c := range trace.Commands() {
		if c.Type == soft.CommandResourceBarrier {
			transitions++
		}
	}
	assert.Equal(t, 4, transitions)
}

func TestGetResourcesDuringRecording(t *testing.T) {
	g, dev := newGraph(Options{})
	var out BufferHandle
	writer := &testRenderer{
		name: "writer",
		setup: func(g *RenderGraph) bool {
			out = g.DeclareBuffer(storageBuffer("out", 16))
			g.WriteBuffer(out)
			return true
		},
		render: func(cmd renderer.CommandList, g *RenderGraph) error {
			buf, err := g.GetBuffer(out, AccessWrite)
			if err != nil {
				return err
			}
			cmd.WriteBuffer(buf, 0, []byte{9, 8, 7, 6})
			return nil
		},
	}
	require.True(t, g.ScheduleRenderer(writer))
	require.NoError(t, g.Compile())

	cmd, err := dev.CreateCommandList()
	require.NoError(t, err)
	require.NoError(t, cmd.Open())
	require.NoError(t, g.BeginPass(0, cmd))
	require.NoError(t, writer.Render(cmd, g))

	requireContractViolation(t, func() { g.GetBuffer(out, AccessRead) })

	buf, err := g.GetBuffer(out, AccessWrite)
	require.NoError(t, err)
	g.EndPass()
	require.NoError(t, cmd.Close())
	require.NoError(t, dev.Execute(cmd))

	data, err := dev.ReadBuffer(buf, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 8, 7, 6}, data)
}

func TestPlacedResourceCache(t *testing.T) {
	g, dev := newGraph(Options{PlacedResourceTTL: 1})
	var h TextureHandle
	r := &testRenderer{
		name: "cached",
		setup: func(g *RenderGraph) bool {
			h = g.DeclareTexture(colorTarget("cached"))
			g.WriteTexture(h)
			return true
		},
	}
	frame := func() renderer.Texture {
		g.ScheduleRenderer(r)
		require.NoError(t, g.Compile())
		cmd, err := dev.CreateCommandList()
		require.NoError(t, err)
		require.NoError(t, cmd.Open())
		require.NoError(t, g.BeginPass(0, cmd))
		tex, err := g.GetTexture(h, AccessWrite)
		require.NoError(t, err)
		g.EndPass()
		require.NoError(t, cmd.Close())
		g.Reset()
		return tex
	}

	first := frame()
	assert.Same(t, first, frame(), "a stable frame reuses the placed texture")

	// two idle frames exceed the TTL
	g.Reset()
	g.Reset()
	assert.Zero(t, g.Stats().PlacedResources)
	assert.NotSame(t, first, frame())
}

func TestContractViolations(t *testing.T) {
	t.Run("zero-sized descriptor", func(t *testing.T) {
		g, _ := newGraph(Options{})
		requireContractViolation(t, func() { g.DeclareBuffer(storageBuffer("empty", 0)) })
	})
	t.Run("access outside setup", func(t *testing.T) {
		g, _ := newGraph(Options{})
		h := g.DeclareTexture(colorTarget("loose"))
		requireContractViolation(t, func() { g.ReadTexture(h) })
	})
	t.Run("handle from another frame", func(t *testing.T) {
		g, _ := newGraph(Options{})
		var stale TextureHandle
		g.ScheduleRenderer(pass("old", func(g *RenderGraph) {
			stale = g.DeclareTexture(colorTarget("old"))
			g.WriteTexture(stale)
		}))
		require.NoError(t, g.Compile())
		g.Reset()
		g.ScheduleRenderer(pass("new", func(g *RenderGraph) {
			requireContractViolation(t, func() { g.ReadTexture(stale) })
		}))
	})
	t.Run("zero handle", func(t *testing.T) {
		g, _ := newGraph(Options{})
		g.ScheduleRenderer(pass("zero", func(g *RenderGraph) {
			requireContractViolation(t, func() { g.ReadBuffer(BufferHandle{}) })
		}))
	})
	t.Run("persistent without a name", func(t *testing.T) {
		g, _ := newGraph(Options{})
		requireContractViolation(t, func() { g.DeclarePersistentBuffer(storageBuffer("", 64)) })
	})
	t.Run("compile twice", func(t *testing.T) {
		g, _ := newGraph(Options{})
		require.NoError(t, g.Compile())
		requireContractViolation(t, func() { g.Compile() })
	})
	t.Run("passes out of order", func(t *testing.T) {
		g, dev := newGraph(Options{})
		g.ScheduleRenderer(pass("a", func(g *RenderGraph) {}))
		g.ScheduleRenderer(pass("b", func(g *RenderGraph) {}))
		require.NoError(t, g.Compile())
		cmd, err := dev.CreateCommandList()
		require.NoError(t, err)
		require.NoError(t, cmd.Open())
		requireContractViolation(t, func() { g.BeginPass(1, cmd) })
	})
}

func TestCompileReportsHeapExhaustion(t *testing.T) {
	g, _ := newGraph(Options{HeapGranularity: 4096, MaxMemory: 8192})
	g.ScheduleRenderer(pass("huge", func(g *RenderGraph) {
		h := g.DeclareBuffer(storageBuffer("huge", 1<<20))
		g.WriteBuffer(h)
	}))
	err := g.Compile()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHeapExhausted)
	assert.Contains(t, err.Error(), "huge")

	// the failed frame can still be reset
	assert.NotPanics(t, g.Reset)
}

func TestDescriptorHash(t *testing.T) {
	a := TextureResourceDesc(colorTarget("a"))
	b := TextureResourceDesc(colorTarget("b"))
	assert.Equal(t, a.ComputeHash(), b.ComputeHash(), "names do not take part in the hash")

	c := TextureResourceDesc(colorTarget("a"))
	c.Texture.Width = 128
	assert.NotEqual(t, a.ComputeHash(), c.ComputeHash())

	buf := BufferResourceDesc(storageBuffer("a", 64))
	assert.NotEqual(t, a.ComputeHash(), buf.ComputeHash())

	mips := TextureResourceDesc(colorTarget("a"))
	mips.Texture.MipLevels = 1
	assert.Equal(t, a.ComputeHash(), mips.ComputeHash(), "zero and one mip levels are the same shape")
}

func TestMemorySizeIsProbedOnce(t *testing.T) {
	dev := soft.NewDevice()
	d := TextureResourceDesc(colorTarget("probe"))
	req := d.GetMemorySize(dev)
	assert.Equal(t, metadata.MemoryRequirements{Size: 16384, Alignment: soft.TextureAlignment}, req)
	assert.Equal(t, req, d.GetMemorySize(dev))

	cache := newMemoryCache()
	other := TextureResourceDesc(colorTarget("other"))
	cache.get(dev, &d, d.ComputeHash())
	cache.get(dev, &other, other.ComputeHash())
	assert.Equal(t, 1, cache.len())
}

func TestStatsString(t *testing.T) {
	s := Stats{Frame: 3, Passes: 2, RequestedMemory: 2 << 20, TransientMemory: 1 << 20}
	assert.Contains(t, s.String(), "50.0% saved")
	assert.Contains(t, s.String(), "1.00MiB")
}

func TestResolveTextureAfterRecording(t *testing.T) {
	g, dev := newGraph(Options{})
	var h TextureHandle
	writer := &testRenderer{
		name: "writer",
		setup: func(g *RenderGraph) bool {
			h = g.DeclarePersistentTexture(colorTarget("history"))
			g.WriteTexture(h)
			return true
		},
		render: func(cmd renderer.CommandList, g *RenderGraph) error {
			tex, err := g.GetTexture(h, AccessWrite)
			if err != nil {
				return err
			}
			cmd.ResourceBarrier(tex, metadata.ResourceStateRenderTarget, metadata.ResourceStateCopyDst)
			cmd.ClearTexture(tex, [4]float32{0.25})
			cmd.ResourceBarrier(tex, metadata.ResourceStateCopyDst, metadata.ResourceStateRenderTarget)
			return nil
		},
	}
	require.True(t, g.ScheduleRenderer(writer))
	require.NoError(t, g.Compile())
	record(t, g, dev, writer)

	tex, err := g.ResolveTexture(h)
	require.NoError(t, err)
	pixels, err := dev.ReadTexture(tex, 0)
	require.NoError(t, err)
	assert.Equal(t, float32(0.25), pixels[0])
}
