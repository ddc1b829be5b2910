package culling

import (
	"encoding/binary"
	"os"
	"testing"

	"github.com/chewxy/math32"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/renderer/soft"
	"github.com/spaghettifunk/prism/engine/scene"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

const testNear = 0.1

func testView() View {
	return View{
		View:       math.NewMat4LookDir(math.NewVec3Zero(), math.NewVec3Forward(), math.NewVec3Up()),
		Projection: math.NewMat4PerspectiveReversedInfinite(math.DegToRad(90), 1, testNear),
		Near:       testNear,
	}
}

func TestConstantsLayout(t *testing.T) {
	c := NewConstants(testView(), 10, 64, 64, 7, PhaseLate, FlagFrustum|FlagOcclusion)
	b := renderer.EncodeConstants(c)
	assert.Len(t, b, 256)

	var back Constants
	require.NoError(t, renderer.DecodeConstants(b, &back))
	assert.Equal(t, c, back)
	assert.Less(t, c.P00, float32(0))
	assert.Equal(t, [4]float32{0, 0, 1, -testNear}, c.Planes[PlaneNear])
}

func TestFrustumPlanes(t *testing.T) {
	v := testView()
	planes := FrustumPlanes(v.Projection, v.Near)
	for _, p := range planes {
		assert.InDelta(t, 1, p.Normal.Length(), 1e-5)
	}

	tests := []struct {
		name    string
		center  math.Vec3
		radius  float32
		visible bool
	}{
		{"ahead", math.NewVec3(0, 0, 10), 1, true},
		{"behind", math.NewVec3(0, 0, -10), 1, false},
		{"far left", math.NewVec3(30, 0, 10), 1, false},
		{"far right", math.NewVec3(-30, 0, 10), 1, false},
		{"above", math.NewVec3(0, 30, 10), 1, false},
		{"below", math.NewVec3(0, -30, 10), 1, false},
		// 90 degree fov: the side planes are x = +-z
		{"touching left plane", math.NewVec3(10.5, 0, 10), 1, true},
		{"straddling near", math.NewVec3(0, 0, 0), 0.5, true},
		{"just behind near", math.NewVec3(0, 0, testNear-0.6), 0.5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.visible, SphereInFrustum(planes, tt.center, tt.radius))
		})
	}
}

func toUV(p math.Vec3, proj math.Mat4) (float32, float32) {
	clip := p.ToVec4(1).Transform(proj)
	return clip.X/clip.W*0.5 + 0.5, 0.5 - clip.Y/clip.W*0.5
}

func TestProjectSphereBoundsSurface(t *testing.T) {
	v := testView()
	spheres := []math.Sphere{
		{Center: math.NewVec3(0, 0, 10), Radius: 1},
		{Center: math.NewVec3(3, -2, 8), Radius: 0.5},
		{Center: math.NewVec3(-4, 3, 12), Radius: 2},
		{Center: math.NewVec3(1, 1, 3), Radius: 0.25},
	}
	for _, s := range spheres {
		box, ok := ProjectSphere(s.Center, s.Radius, v.Near, v.Projection.Data[0], v.Projection.Data[5])
		require.True(t, ok)
		require.Less(t, box.X, box.Z)
		require.Less(t, box.Y, box.W)

		lo := math.NewVec2(2, 2)
		hi := math.NewVec2(-2, -2)
		for i := 0; i < 64; i++ {
			theta := float32(i) / 63 * math.K_PI
			for j := 0; j < 128; j++ {
				phi := float32(j) / 128 * 2 * math.K_PI
				n := math.NewVec3(math32.Sin(theta)*math32.Cos(phi), math32.Cos(theta), math32.Sin(theta)*math32.Sin(phi))
				u, w := toUV(s.Center.Add(n.MulScalar(s.Radius)), v.Projection)
				lo = math.NewVec2(min(lo.X, u), min(lo.Y, w))
				hi = math.NewVec2(max(hi.X, u), max(hi.Y, w))
			}
		}
		const eps = 1e-4
		// conservative
		assert.LessOrEqual(t, box.X, lo.X+eps, "sphere %v", s)
		assert.LessOrEqual(t, box.Y, lo.Y+eps, "sphere %v", s)
		assert.GreaterOrEqual(t, box.Z, hi.X-eps, "sphere %v", s)
		assert.GreaterOrEqual(t, box.W, hi.Y-eps, "sphere %v", s)
		// and tight
		const slack = 5e-3
		assert.InDelta(t, lo.X, box.X, slack, "sphere %v", s)
		assert.InDelta(t, lo.Y, box.Y, slack, "sphere %v", s)
		assert.InDelta(t, hi.X, box.Z, slack, "sphere %v", s)
		assert.InDelta(t, hi.Y, box.W, slack, "sphere %v", s)
	}
}

func TestProjectSphereSymmetry(t *testing.T) {
	v := testView()
	p00, p11 := v.Projection.Data[0], v.Projection.Data[5]

	left, ok := ProjectSphere(math.NewVec3(2, 1, 6), 0.5, testNear, p00, p11)
	require.True(t, ok)
	right, ok := ProjectSphere(math.NewVec3(-2, 1, 6), 0.5, testNear, p00, p11)
	require.True(t, ok)

	// view +X is the camera's left
	assert.Less(t, left.Z, float32(0.5))
	assert.Greater(t, right.X, float32(0.5))
	assert.InDelta(t, left.X, 1-right.Z, 1e-5)
	assert.InDelta(t, left.Z, 1-right.X, 1e-5)
	assert.InDelta(t, left.Y, right.Y, 1e-5)
	assert.InDelta(t, left.W, right.W, 1e-5)

	up, ok := ProjectSphere(math.NewVec3(0, 2, 6), 0.5, testNear, p00, p11)
	require.True(t, ok)
	down, ok := ProjectSphere(math.NewVec3(0, -2, 6), 0.5, testNear, p00, p11)
	require.True(t, ok)
	assert.Less(t, up.W, float32(0.5))
	assert.InDelta(t, up.Y, 1-down.W, 1e-5)
}

type constDepth struct {
	w, h  uint32
	value float32
}

func (c constDepth) Load(uint32, int, int) float32 { return c.value }

func (c constDepth) Size(mip uint32) (uint32, uint32) {
	return max(c.w>>mip, 1), max(c.h>>mip, 1)
}

func TestNearPlaneStraddlingIsVisible(t *testing.T) {
	v := testView()
	c := NewConstants(v, 1, 64, 64, 7, PhaseEarly, FlagFrustum|FlagOcclusion)
	// everything is covered by occluders at the near plane
	hzb := constDepth{w: 64, h: 64, value: 1}

	for _, x := range []float32{-0.5, 0, 0.5} {
		center := math.NewVec3(x, 0, testNear+0.2)
		_, ok := ProjectSphere(center, 0.3, testNear, c.P00, c.P11)
		assert.False(t, ok, "x=%v", x)
		assert.True(t, SphereVisible(hzb, &c, center, 0.3), "x=%v", x)
	}
	// fully in front of the near plane and behind the occluder
	assert.False(t, SphereVisible(hzb, &c, math.NewVec3(0, 0, 5), 0.3))
	// nothing drawn yet: far plane everywhere
	assert.True(t, SphereVisible(constDepth{w: 64, h: 64}, &c, math.NewVec3(0, 0, 5), 0.3))
}

func TestSelectMip(t *testing.T) {
	tests := []struct {
		box  math.Vec4
		want uint32
	}{
		{math.NewVec4(0.5, 0.5, 0.5, 0.5), 0},
		{math.NewVec4(0.5, 0.5, 0.5+1.0/64, 0.5), 0},
		{math.NewVec4(0.5, 0.5, 0.5+1.5/64, 0.5), 1},
		{math.NewVec4(0.5, 0.5, 0.5+3.0/64, 0.5), 2},
		{math.NewVec4(0.5, 0.5, 0.5, 0.5+5.0/64), 3},
		{math.NewVec4(0.1, 0.1, 0.2, 0.55), 5},
		{math.NewVec4(0, 0, 1, 1), 6},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SelectMip(tt.box, 64, 64, 7), "box %v", tt.box)
	}
}

type gridDepth struct {
	w, h int
	data []float32
}

func (g gridDepth) Load(_ uint32, x, y int) float32 {
	x = max(0, min(x, g.w-1))
	y = max(0, min(y, g.h-1))
	return g.data[y*g.w+x]
}

func (g gridDepth) Size(uint32) (uint32, uint32) { return uint32(g.w), uint32(g.h) }

func TestSampleMin(t *testing.T) {
	g := gridDepth{w: 4, h: 4, data: []float32{
		0.9, 0.9, 0.9, 0.9,
		0.9, 0.5, 0.8, 0.9,
		0.9, 0.7, 0.6, 0.9,
		0.9, 0.9, 0.9, 0.2,
	}}
	// center of the grid: the 2x2 block (1,1)-(2,2)
	assert.Equal(t, float32(0.5), SampleMin(g, 0, 0.5, 0.5))
	// top-left corner clamps to texel (0,0)
	assert.Equal(t, float32(0.5), SampleMin(g, 0, 0.125, 0.125))
	assert.Equal(t, float32(0.9), SampleMin(g, 0, 0, 0))
	assert.Equal(t, float32(0.2), SampleMin(g, 0, 1, 1))
}

// fill.comp writes near-plane depth on the left half of the target, far elsewhere.
func fillLeftHalf(inv *soft.Invocation, _, _, _ uint32) {
	tex := inv.Texture(1)
	w, h := tex.Size(0)
	for y := 0; y < int(h); y++ {
		for x := 0; x < int(w); x++ {
			v := float32(0)
			if x < int(w)/2 {
				v = 1
			}
			tex.Store(0, x, y, v)
		}
	}
}

type cullFixture struct {
	device   *soft.Device
	pipeline *Pipeline
	fill     renderer.ComputePipeline
	buffers  Buffers
	depth    renderer.Texture
	hzb      renderer.Texture
	n        uint32
	meshes   []scene.MeshDraw
}

func newBuffer(t *testing.T, d *soft.Device, name string, size uint64) renderer.Buffer {
	t.Helper()
	b, err := d.CreateBuffer(metadata.BufferDesc{
		Size:      size,
		Usage:     metadata.BufferUsageStorage | metadata.BufferUsageIndirectArgs | metadata.BufferUsageTransferDst,
		DebugName: name,
	})
	require.NoError(t, err)
	return b
}

func newCullFixture(t *testing.T, instances []scene.InstanceData) *cullFixture {
	t.Helper()
	d := soft.NewDevice(append(SoftKernels(), soft.WithKernel("fill.comp", fillLeftHalf))...)
	f := &cullFixture{
		device:   d,
		pipeline: NewPipeline(),
		n:        uint32(len(instances)),
		meshes: []scene.MeshDraw{
			{IndexCount: 36, FirstIndex: 0, VertexOffset: 0, VertexCount: 24},
			{IndexCount: 600, FirstIndex: 36, VertexOffset: 24, VertexCount: 120},
		},
	}
	require.NoError(t, f.pipeline.Initialize(d))

	var err error
	f.fill, err = d.CreateComputePipeline(metadata.ComputePipelineDesc{Name: "fill", Shader: "fill.comp"})
	require.NoError(t, err)

	f.depth, err = d.CreateTexture(metadata.TextureDesc{
		Width: 64, Height: 64, Format: metadata.FormatD32Float,
		Usage: metadata.TextureUsageDepthStencil | metadata.TextureUsageSampled | metadata.TextureUsageStorage, DebugName: "depth",
	})
	require.NoError(t, err)
	f.hzb, err = d.CreateTexture(HZBDesc(64, 64))
	require.NoError(t, err)

	instanceBytes := scene.EncodeInstances(instances)
	f.buffers = Buffers{
		Instances:     newBuffer(t, d, "instances", uint64(max(len(instanceBytes), 4))),
		Meshes:        newBuffer(t, d, "meshes", uint64(len(f.meshes)*scene.MeshDrawStride)),
		DrawArgs:      newBuffer(t, d, "draw_args", DrawArgsSize(f.n)),
		DrawCounts:    newBuffer(t, d, "draw_counts", DrawCountsSize),
		Occluded:      newBuffer(t, d, "occluded", OccludedSize(f.n)),
		OccludedCount: newBuffer(t, d, "occluded_count", OccludedCountSize),
	}
	f.record(t, func(cmd renderer.CommandList) {
		if len(instanceBytes) > 0 {
			cmd.WriteBuffer(f.buffers.Instances, 0, instanceBytes)
		}
		cmd.WriteBuffer(f.buffers.Meshes, 0, scene.EncodeMeshDraws(f.meshes))
	})
	return f
}

func (f *cullFixture) record(t *testing.T, fn func(cmd renderer.CommandList)) *soft.CommandList {
	t.Helper()
	cmd, err := f.device.CreateCommandList()
	require.NoError(t, err)
	require.NoError(t, cmd.Open())
	fn(cmd)
	require.NoError(t, cmd.Close())
	require.NoError(t, f.device.Execute(cmd))
	return cmd.(*soft.CommandList)
}

func (f *cullFixture) readUints(t *testing.T, buf renderer.Buffer, offset, count uint64) []uint32 {
	t.Helper()
	b, err := f.device.ReadBuffer(buf, offset, count*4)
	require.NoError(t, err)
	out := make([]uint32, count)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return out
}

func (f *cullFixture) drawn(t *testing.T, phase, count uint32) []metadata.DrawIndexedIndirectCommand {
	t.Helper()
	words := f.readUints(t, f.buffers.DrawArgs, DrawArgsOffset(phase, f.n), uint64(count)*5)
	cmds := make([]metadata.DrawIndexedIndirectCommand, count)
	for i := range cmds {
		w := words[i*5:]
		cmds[i] = metadata.DrawIndexedIndirectCommand{
			IndexCount: w[0], InstanceCount: w[1], FirstIndex: w[2], VertexOffset: int32(w[3]), FirstInstance: w[4],
		}
	}
	return cmds
}

// runTwoPhase culls against a previous-frame pyramid occluding the left half of
// the screen, then against a pyramid built from an empty depth buffer.
func (f *cullFixture) runTwoPhase(t *testing.T, flags Flags) {
	t.Helper()
	v := testView()
	hd := f.hzb.Desc()
	f.record(t, func(cmd renderer.CommandList) {
		cmd.Dispatch(&renderer.ComputeState{
			Pipeline: f.fill,
			Bindings: []renderer.Binding{renderer.BindStorageTexture(1, f.depth, 0)},
		}, 1, 1, 1)
		f.pipeline.BuildHZB(cmd, f.depth, f.hzb)

		f.pipeline.ResetCounters(cmd, f.buffers)
		f.pipeline.Cull(cmd, f.buffers, f.hzb, NewConstants(v, f.n, hd.Width, hd.Height, hd.Mips(), PhaseEarly, flags))

		cmd.ClearTexture(f.depth, [4]float32{})
		f.pipeline.BuildHZB(cmd, f.depth, f.hzb)
		f.pipeline.Cull(cmd, f.buffers, f.hzb, NewConstants(v, f.n, hd.Width, hd.Height, hd.Mips(), PhaseLate, flags))
	})
}

type category int

const (
	visibleEarly category = iota
	visibleLate
	outside
)

// 30 spheres on the right half of the screen, 20 on the left half and 50
// behind the camera, interleaved.
func twoPhaseScene() ([]scene.InstanceData, []category) {
	var instances []scene.InstanceData
	var cats []category
	for i := 0; i < 100; i++ {
		k := float32(i % 5)
		y := float32(i%3-1) * 2
		var pos math.Vec3
		var cat category
		switch r := i % 10; {
		case r < 3:
			pos, cat = math.NewVec3(-(2 + k*0.8), y, 10), visibleEarly
		case r < 5:
			pos, cat = math.NewVec3(2+k*0.8, y, 10), visibleLate
		default:
			pos, cat = math.NewVec3(k-2, y, -10), outside
		}
		instances = append(instances, scene.InstanceData{
			World:     math.NewMat4Translation(pos),
			Bounds:    math.Sphere{Radius: 0.3},
			MeshIndex: uint32(i % 2),
		})
		cats = append(cats, cat)
	}
	return instances, cats
}

func TestTwoPhaseAccumulation(t *testing.T) {
	instances, cats := twoPhaseScene()
	f := newCullFixture(t, instances)
	f.runTwoPhase(t, FlagFrustum|FlagOcclusion)

	counts := f.readUints(t, f.buffers.DrawCounts, 0, 2)
	assert.Equal(t, []uint32{30, 20}, counts)
	assert.Equal(t, []uint32{20}, f.readUints(t, f.buffers.OccludedCount, 0, 1))

	seen := map[uint32]uint32{}
	for phase := PhaseEarly; phase <= PhaseLate; phase++ {
		for _, cmd := range f.drawn(t, phase, counts[phase]) {
			seen[cmd.FirstInstance]++
			want := visibleEarly
			if phase == PhaseLate {
				want = visibleLate
			}
			assert.Equal(t, want, cats[cmd.FirstInstance], "instance %d drawn in phase %d", cmd.FirstInstance, phase)

			mesh := f.meshes[instances[cmd.FirstInstance].MeshIndex]
			assert.Equal(t, mesh.IndexCount, cmd.IndexCount)
			assert.Equal(t, mesh.FirstIndex, cmd.FirstIndex)
			assert.Equal(t, mesh.VertexOffset, cmd.VertexOffset)
			assert.Equal(t, uint32(1), cmd.InstanceCount)
		}
	}
	// every surviving primitive is submitted exactly once
	assert.Len(t, seen, 50)
	for instance, n := range seen {
		assert.Equal(t, uint32(1), n, "instance %d", instance)
	}
}

func TestCullingToggles(t *testing.T) {
	instances, _ := twoPhaseScene()

	t.Run("frustum only", func(t *testing.T) {
		f := newCullFixture(t, instances)
		f.runTwoPhase(t, FlagFrustum)
		assert.Equal(t, []uint32{50, 0}, f.readUints(t, f.buffers.DrawCounts, 0, 2))
		assert.Equal(t, []uint32{0}, f.readUints(t, f.buffers.OccludedCount, 0, 1))
	})
	t.Run("disabled", func(t *testing.T) {
		f := newCullFixture(t, instances)
		f.runTwoPhase(t, 0)
		assert.Equal(t, []uint32{100, 0}, f.readUints(t, f.buffers.DrawCounts, 0, 2))
	})
}

func TestCullDispatchSize(t *testing.T) {
	instances, _ := twoPhaseScene()
	f := newCullFixture(t, instances)
	hd := f.hzb.Desc()

	cmd := f.record(t, func(cmd renderer.CommandList) {
		f.pipeline.ResetCounters(cmd, f.buffers)
		f.pipeline.Cull(cmd, f.buffers, f.hzb, NewConstants(testView(), f.n, hd.Width, hd.Height, hd.Mips(), PhaseEarly, FlagFrustum))
	})
	var dispatches []soft.Command
	for _, c := range cmd.Commands() {
		if c.Type == soft.CommandDispatch {
			dispatches = append(dispatches, c)
		}
	}
	require.Len(t, dispatches, 1)
	assert.Equal(t, [3]uint32{2, 1, 1}, dispatches[0].Groups)

	// the late phase is sized the same way; threads past the occluded count exit
	cmd = f.record(t, func(cmd renderer.CommandList) {
		f.pipeline.Cull(cmd, f.buffers, f.hzb, NewConstants(testView(), f.n, hd.Width, hd.Height, hd.Mips(), PhaseLate, FlagFrustum|FlagOcclusion))
	})
	var late []soft.Command
	for _, c := range cmd.Commands() {
		require.NotEqual(t, soft.CommandDispatchIndirect, c.Type)
		if c.Type == soft.CommandDispatch {
			late = append(late, c)
		}
	}
	require.Len(t, late, 1)
	assert.Equal(t, dispatches[0].Groups, late[0].Groups)

	empty := newCullFixture(t, nil)
	cmd = empty.record(t, func(cmd renderer.CommandList) {
		empty.pipeline.Cull(cmd, empty.buffers, empty.hzb, NewConstants(testView(), 0, hd.Width, hd.Height, hd.Mips(), PhaseEarly, FlagFrustum))
	})
	assert.Empty(t, cmd.Commands())
}

func TestBuildHZB(t *testing.T) {
	d := soft.NewDevice(SoftKernels()...)
	p := NewPipeline()
	require.NoError(t, p.Initialize(d))
	defer p.Destroy()

	// 100x60 depth: the pyramid is 64x32
	depth, err := d.CreateTexture(metadata.TextureDesc{Width: 100, Height: 60, Format: metadata.FormatD32Float, Usage: metadata.TextureUsageDepthStencil | metadata.TextureUsageSampled})
	require.NoError(t, err)
	hzb, err := d.CreateTexture(HZBDesc(100, 60))
	require.NoError(t, err)
	hd := hzb.Desc()
	require.Equal(t, uint32(64), hd.Width)
	require.Equal(t, uint32(32), hd.Height)
	require.Equal(t, uint32(7), hd.Mips())

	cmd, err := d.CreateCommandList()
	require.NoError(t, err)
	require.NoError(t, cmd.Open())
	cmd.ClearTexture(depth, [4]float32{0.5})
	p.BuildHZB(cmd, depth, hzb)
	require.NoError(t, cmd.Close())
	require.NoError(t, d.Execute(cmd))

	var groups [][3]uint32
	for _, c := range cmd.(*soft.CommandList).Commands() {
		if c.Type == soft.CommandDispatch {
			groups = append(groups, c.Groups)
		}
	}
	require.Len(t, groups, 7)
	assert.Equal(t, [3]uint32{8, 4, 1}, groups[0])
	assert.Equal(t, [3]uint32{1, 1, 1}, groups[6])

	for mip := uint32(0); mip < hd.Mips(); mip++ {
		data, err := d.ReadTexture(hzb, mip)
		require.NoError(t, err)
		for _, v := range data {
			require.Equal(t, float32(0.5), v, "mip %d", mip)
		}
	}
}

func TestHZBIsConservative(t *testing.T) {
	d := soft.NewDevice(append(SoftKernels(), soft.WithKernel("fill.comp", fillLeftHalf))...)
	p := NewPipeline()
	require.NoError(t, p.Initialize(d))
	fill, err := d.CreateComputePipeline(metadata.ComputePipelineDesc{Name: "fill", Shader: "fill.comp"})
	require.NoError(t, err)

	depth, err := d.CreateTexture(metadata.TextureDesc{Width: 48, Height: 40, Format: metadata.FormatD32Float, Usage: metadata.TextureUsageDepthStencil | metadata.TextureUsageSampled})
	require.NoError(t, err)
	hzb, err := d.CreateTexture(HZBDesc(48, 40))
	require.NoError(t, err)

	cmd, err := d.CreateCommandList()
	require.NoError(t, err)
	require.NoError(t, cmd.Open())
	cmd.Dispatch(&renderer.ComputeState{Pipeline: fill, Bindings: []renderer.Binding{renderer.BindStorageTexture(1, depth, 0)}}, 1, 1, 1)
	p.BuildHZB(cmd, depth, hzb)
	require.NoError(t, cmd.Close())
	require.NoError(t, d.Execute(cmd))

	// 48 -> 32: texel 15 covers depth columns 22-23 (near), texel 16 touches 24 (far)
	mip0, err := d.ReadTexture(hzb, 0)
	require.NoError(t, err)
	assert.Equal(t, float32(1), mip0[15])
	assert.Equal(t, float32(0), mip0[16])

	top, err := d.ReadTexture(hzb, hzb.Desc().Mips()-1)
	require.NoError(t, err)
	assert.Equal(t, []float32{0}, top)
}

func TestDumpHZB(t *testing.T) {
	d := soft.NewDevice(SoftKernels()...)
	hzb, err := d.CreateTexture(HZBDesc(16, 16))
	require.NoError(t, err)

	dir := t.TempDir()
	files, err := DumpHZB(d, hzb, dir, 3)
	require.NoError(t, err)
	require.Len(t, files, 5)

	f, err := os.Open(files[1])
	require.NoError(t, err)
	defer f.Close()
	img, err := bmp.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
}

func TestDrawAll(t *testing.T) {
	instances, _ := twoPhaseScene()
	f := newCullFixture(t, instances)
	f.record(t, func(cmd renderer.CommandList) {
		f.pipeline.DrawAll(cmd, f.buffers.Instances, f.buffers.Meshes, f.buffers.DrawArgs, f.buffers.DrawCounts, f.n)
	})
	assert.Equal(t, []uint32{100}, f.readUints(t, f.buffers.DrawCounts, 0, 1))
	for i, cmd := range f.drawn(t, PhaseEarly, 100) {
		assert.Equal(t, uint32(i), cmd.FirstInstance)
		assert.Equal(t, f.meshes[i%2].IndexCount, cmd.IndexCount)
	}
}
