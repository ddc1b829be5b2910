package views

import (
	"testing"

	"github.com/spaghettifunk/prism/engine/config"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/graph"
	"github.com/spaghettifunk/prism/engine/renderer/soft"
	"github.com/spaghettifunk/prism/engine/scene"
	"github.com/spaghettifunk/prism/engine/systems"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWidth  = 64
	testHeight = 64
)

// Instances of the occlusion scene.
const (
	occluder uint32 = iota
	hiddenNear
	hiddenFar
	beside
)

type fixture struct {
	device *soft.Device
	graph  *graph.RenderGraph
	ctx    *FrameContext
	system *systems.RendererSystem
	scene  *scene.Scene
	// basepass draws per instance, reset every frame
	draws map[uint32]int
	frame uint64
}

func placed(center math.Vec3, scale float32) math.Mat4 {
	return math.NewMat4Scale(math.NewVec3(scale, scale, scale)).Mul(math.NewMat4Translation(center))
}

// occlusionScene puts a large sphere in front of the camera, two small ones
// behind it and one off to the side.
func occlusionScene(t *testing.T) *scene.Scene {
	s := scene.New()
	mesh := s.AddMesh(scene.GenerateUVSphere(1, 8, 12))
	for _, w := range []math.Mat4{
		placed(math.NewVec3(0, 0, 10), 4),
		placed(math.NewVec3(0, 0, 30), 1),
		placed(math.NewVec3(0.5, 0.5, 40), 1),
		placed(math.NewVec3(-8, 0, 20), 1),
	} {
		_, err := s.AddInstance(mesh, w, 1)
		require.NoError(t, err)
	}
	return s
}

func testSettings() Settings {
	return SettingsFromConfig(config.Default())
}

func newFixture(t *testing.T, s *scene.Scene, settings Settings) *fixture {
	t.Helper()
	f := &fixture{scene: s, draws: make(map[uint32]int)}

	counting := func(ctx *soft.DrawContext) {
		f.draws[ctx.Command.FirstInstance]++
		basePassKernel(ctx)
	}
	opts := append(SoftKernels(), soft.WithRasterKernel(ShaderBasePassFrag, counting))
	f.device = soft.NewDevice(opts...)
	f.graph = graph.New(f.device, graph.Options{HeapGranularity: 1 << 20})

	cam := scene.NewCamera(math.DegToRad(60), 0.1)
	f.ctx = NewFrameContext(s, cam, testWidth, testHeight, settings)
	f.system = systems.NewRendererSystem(f.device,
		func() graph.Renderer { return NewSceneUploadRenderer(f.ctx) },
		func() graph.Renderer { return NewShadowRenderer(f.ctx) },
		func() graph.Renderer { return NewBasePassRenderer(f.ctx) },
		func() graph.Renderer { return NewLightingRenderer(f.ctx) },
		func() graph.Renderer { return NewBloomRenderer(f.ctx) },
		func() graph.Renderer { return NewTonemapRenderer(f.ctx) },
	)
	require.NoError(t, f.system.Initialize())
	t.Cleanup(func() {
		assert.NoError(t, f.system.Shutdown())
		f.graph.Release()
	})
	return f
}

// run records and executes one frame and returns its command trace.
func (f *fixture) run(t *testing.T) []soft.Command {
	t.Helper()
	clear(f.draws)
	f.frame++
	f.ctx.BeginFrame(f.frame)

	f.graph.Reset()
	f.system.Schedule(f.graph)
	require.NoError(t, f.graph.Compile())

	cmd, err := f.device.CreateCommandList()
	require.NoError(t, err)
	require.NoError(t, cmd.Open())
	require.NoError(t, f.system.Record(cmd, f.graph))
	require.NoError(t, cmd.Close())
	require.NoError(t, f.device.Execute(cmd))
	return cmd.(*soft.CommandList).Commands()
}

func dispatches(commands []soft.Command, pipeline string) int {
	n := 0
	for _, c := range commands {
		if c.Type == soft.CommandDispatch && c.Label == pipeline {
			n++
		}
	}
	return n
}

func TestFullFrame(t *testing.T) {
	f := newFixture(t, occlusionScene(t), testSettings())
	require.NoError(t, f.system.DrawFrame(f.graph))
	assert.Equal(t, []string{"scene", "shadows", "basepass", "lighting", "bloom", "tonemap"}, f.system.Scheduled())

	out := f.device.Presented()
	require.NotNil(t, out)
	assert.Equal(t, "output", out.Name())
	pixels, err := f.device.ReadTexture(out, 0)
	require.NoError(t, err)
	require.Len(t, pixels, testWidth*testHeight*4)

	center := pixels[(testHeight/2*testWidth+testWidth/2)*4:]
	corner := pixels[0:4]
	assert.NotEqual(t, center[:3], corner[:3], "the occluder should differ from the sky")
	for _, v := range pixels {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.LessOrEqual(t, v, float32(1))
	}
	assert.EqualValues(t, 1, f.device.Stats().Presents)
}

func TestOcclusionAcrossFrames(t *testing.T) {
	f := newFixture(t, occlusionScene(t), testSettings())

	// no pyramid yet: everything in the frustum is drawn in the early phase
	commands := f.run(t)
	assert.Equal(t, map[uint32]int{occluder: 1, hiddenNear: 1, hiddenFar: 1, beside: 1}, f.draws)
	assert.Equal(t, 2, dispatches(commands, "cull"))

	// last frame's pyramid hides the spheres behind the occluder
	f.run(t)
	assert.Equal(t, map[uint32]int{occluder: 1, beside: 1}, f.draws)

	// a new render size drops the pyramid history
	f.ctx.Resize(testWidth/2, testHeight/2)
	f.run(t)
	assert.Len(t, f.draws, 4)
}

func TestLateInstancesAreDrawnOnce(t *testing.T) {
	f := newFixture(t, occlusionScene(t), testSettings())
	f.run(t)
	f.run(t)

	// the occluder moves away: the hidden spheres fail the stale pyramid but
	// pass the retest against this frame's depth
	f.scene.SetTransform(occluder, placed(math.NewVec3(-30, 0, 10), 4))
	f.run(t)
	assert.Equal(t, map[uint32]int{hiddenNear: 1, hiddenFar: 1, beside: 1}, f.draws)
	for instance, n := range f.draws {
		assert.Equal(t, 1, n, "instance %d", instance)
	}
}

func TestCullingToggles(t *testing.T) {
	settings := testSettings()
	settings.Occlusion = false
	f := newFixture(t, occlusionScene(t), settings)
	f.run(t)
	f.run(t)
	assert.Len(t, f.draws, 4)

	// moved outside the frustum
	f.scene.SetTransform(beside, placed(math.NewVec3(0, 0, -20), 1))
	f.run(t)
	assert.NotContains(t, f.draws, beside)

	f.ctx.Settings.Culling = false
	f.run(t)
	assert.Contains(t, f.draws, beside)
}

func TestZeroPrimitives(t *testing.T) {
	s := scene.New()
	s.AddMesh(scene.GenerateCube(1, 1, 1))
	f := newFixture(t, s, testSettings())

	commands := f.run(t)
	assert.Equal(t, []string{"basepass", "lighting", "bloom", "tonemap"}, f.system.Scheduled())
	assert.Zero(t, dispatches(commands, "cull"))
	assert.Zero(t, dispatches(commands, "hzb_reduce"))
	assert.Empty(t, f.draws)
	for _, c := range commands {
		assert.NotEqual(t, soft.CommandDrawIndexedIndirectCount, c.Type)
	}
}

func TestEmptiedSceneShowsSky(t *testing.T) {
	settings := testSettings()
	settings.Bloom = false
	f := newFixture(t, occlusionScene(t), settings)
	pixel := func() (center, corner []float32) {
		pixels, err := f.device.ReadTexture(f.device.Presented(), 0)
		require.NoError(t, err)
		return pixels[(testHeight/2*testWidth+testWidth/2)*4:][:3], pixels[0:3]
	}

	f.ctx.BeginFrame(1)
	require.NoError(t, f.system.DrawFrame(f.graph))
	center, sky := pixel()
	require.NotEqual(t, sky, center)
	sky = append([]float32(nil), sky...)

	f.scene.SetInstances(nil)
	f.ctx.BeginFrame(2)
	require.NoError(t, f.system.DrawFrame(f.graph))
	assert.Equal(t, []string{"basepass", "lighting", "tonemap"}, f.system.Scheduled())
	center, corner := pixel()
	assert.Equal(t, sky, center, "no occluder may survive from the previous frame")
	assert.Equal(t, sky, corner)
}

func TestOptionalPasses(t *testing.T) {
	settings := testSettings()
	settings.Shadows = false
	settings.Bloom = false
	f := newFixture(t, occlusionScene(t), settings)

	commands := f.run(t)
	assert.Equal(t, []string{"scene", "basepass", "lighting", "tonemap"}, f.system.Scheduled())
	assert.Zero(t, dispatches(commands, "bloom_down"))
	assert.Zero(t, dispatches(commands, "draw_all"))
	assert.Equal(t, 1, dispatches(commands, "tonemap"))

	f.ctx.Settings.Shadows = true
	f.ctx.Settings.Bloom = true
	commands = f.run(t)
	assert.Equal(t, []string{"scene", "shadows", "basepass", "lighting", "bloom", "tonemap"}, f.system.Scheduled())
	assert.Equal(t, 1, dispatches(commands, "draw_all"))
	assert.Positive(t, dispatches(commands, "bloom_down"))
}

func TestSceneUploadOnlyOnChange(t *testing.T) {
	f := newFixture(t, occlusionScene(t), testSettings())
	writes := func(commands []soft.Command) int {
		n := 0
		for _, c := range commands {
			if c.Type == soft.CommandWriteBuffer {
				n++
			}
		}
		return n
	}
	assert.Equal(t, 4, writes(f.run(t)))
	assert.Zero(t, writes(f.run(t)))

	f.scene.SetTransform(beside, placed(math.NewVec3(-8, 1, 20), 1))
	assert.Equal(t, 4, writes(f.run(t)))
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Culling.Occlusion = false
	s := SettingsFromConfig(cfg)
	assert.True(t, s.Culling)
	assert.False(t, s.Occlusion)
	assert.Equal(t, cfg.Passes.ShadowMapSize, s.ShadowMapSize)
	assert.NotZero(t, s.CullFlags())

	s.Culling = false
	assert.Zero(t, s.CullFlags())
}

func TestACES(t *testing.T) {
	assert.Zero(t, aces(0))
	assert.InDelta(t, 1, aces(100), 1e-2)
	assert.Less(t, aces(0.2), aces(0.5))
}
