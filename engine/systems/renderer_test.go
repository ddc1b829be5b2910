package systems

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/graph"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/renderer/soft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRenderer struct {
	name    string
	active  bool
	initErr error
	err     error
	log     *[]string

	target graph.TextureHandle
}

func (r *fakeRenderer) Name() string { return r.name }

func (r *fakeRenderer) Initialize(renderer.Device) error {
	*r.log = append(*r.log, "init "+r.name)
	return r.initErr
}

func (r *fakeRenderer) Setup(g *graph.RenderGraph) bool {
	r.target = g.DeclareTexture(metadata.TextureDesc{
		Width: 8, Height: 8, Format: metadata.FormatRGBA8Unorm,
		Usage:     metadata.TextureUsageStorage | metadata.TextureUsageTransferDst,
		DebugName: r.name,
	})
	g.WriteTexture(r.target)
	g.SetPresentTexture(r.target)
	return r.active
}

func (r *fakeRenderer) Render(cmd renderer.CommandList, g *graph.RenderGraph) error {
	*r.log = append(*r.log, "render "+r.name)
	if r.err != nil {
		return r.err
	}
	tex, err := g.GetTexture(r.target, graph.AccessWrite)
	if err != nil {
		return err
	}
	cmd.ResourceBarrier(tex, metadata.ResourceStateStorageWrite, metadata.ResourceStateCopyDst)
	cmd.ClearTexture(tex, [4]float32{1, 0, 0, 1})
	cmd.ResourceBarrier(tex, metadata.ResourceStateCopyDst, metadata.ResourceStateStorageWrite)
	return nil
}

func (r *fakeRenderer) Shutdown() error {
	*r.log = append(*r.log, "shutdown "+r.name)
	return nil
}

func newTestSystem(log *[]string, renderers ...*fakeRenderer) (*RendererSystem, *soft.Device, *graph.RenderGraph) {
	dev := soft.NewDevice()
	var factories []RendererFactory
	for _, r := range renderers {
		r.log = log
		factories = append(factories, func() graph.Renderer { return r })
	}
	return NewRendererSystem(dev, factories...), dev, graph.New(dev, graph.Options{HeapGranularity: 1 << 20})
}

func TestRendererSystemFrame(t *testing.T) {
	var log []string
	rs, dev, g := newTestSystem(&log,
		&fakeRenderer{name: "first", active: true},
		&fakeRenderer{name: "skipped"},
		&fakeRenderer{name: "last", active: true},
	)
	defer g.Release()

	require.NoError(t, rs.Initialize())
	require.NoError(t, rs.DrawFrame(g))
	assert.Equal(t, []string{"first", "last"}, rs.Scheduled())
	stats := dev.Stats()
	assert.Equal(t, uint64(1), stats.Executions)
	assert.Equal(t, uint64(1), stats.Waits, "the frame must finish before it is presented")

	out := dev.Presented()
	require.NotNil(t, out)
	assert.Equal(t, "last", out.Name())
	pixels, err := dev.ReadTexture(out, 0)
	require.NoError(t, err)
	assert.Equal(t, float32(1), pixels[0])

	require.NoError(t, rs.Shutdown())
	assert.Equal(t, []string{
		"init first", "init skipped", "init last",
		"render first", "render last",
		"shutdown last", "shutdown skipped", "shutdown first",
	}, log)
}

func TestRendererSystemErrors(t *testing.T) {
	boom := errors.New("boom")

	t.Run("initialize", func(t *testing.T) {
		var log []string
		rs, _, g := newTestSystem(&log, &fakeRenderer{name: "broken", initErr: boom})
		defer g.Release()
		err := rs.Initialize()
		assert.ErrorIs(t, err, boom)
		assert.ErrorContains(t, err, "broken")
	})

	t.Run("render", func(t *testing.T) {
		var log []string
		failing := &fakeRenderer{name: "failing", active: true, err: boom}
		rs, dev, g := newTestSystem(&log, failing)
		defer g.Release()
		require.NoError(t, rs.Initialize())
		assert.ErrorIs(t, rs.DrawFrame(g), boom)
		assert.Nil(t, dev.Presented())

		// the graph is left consistent for the next frame
		failing.err = nil
		assert.NoError(t, rs.DrawFrame(g))
		assert.NotNil(t, dev.Presented())
	})
}
