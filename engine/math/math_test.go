package math

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
)

const tolerance = 1e-4

func TestMat4InverseRoundTrip(t *testing.T) {
	m := NewMat4Scale(NewVec3(2, 3, 4)).
		Mul(NewQuatFromAxisAngle(NewVec3Up(), 0.7, true).ToMat4()).
		Mul(NewMat4Translation(NewVec3(1, -2, 5)))

	assert.True(t, m.Mul(m.Inverse()).Compare(NewMat4Identity(), tolerance))
}

func TestMat4MulOrder(t *testing.T) {
	s := NewMat4Scale(NewVec3(2, 2, 2))
	tr := NewMat4Translation(NewVec3(1, 0, 0))

	// scale first, then translate
	p := NewVec3(1, 1, 1).Transform(s.Mul(tr))
	assert.True(t, p.Compare(NewVec3(3, 2, 2), tolerance))
}

func TestQuaternionRotation(t *testing.T) {
	q := NewQuatFromAxisAngle(NewVec3Up(), K_PI/2, true)
	p := NewVec3(1, 0, 0).Transform(q.ToMat4())
	// right-handed rotation about +Y takes +X to -Z
	assert.True(t, p.Compare(NewVec3(0, 0, -1), tolerance), "got %+v", p)
}

func TestLookAtConvention(t *testing.T) {
	view := NewMat4LookAt(NewVec3(0, 0, -10), NewVec3Zero(), NewVec3Up())

	origin := NewVec3Zero().Transform(view)
	assert.True(t, origin.Compare(NewVec3(0, 0, 10), tolerance), "got %+v", origin)

	// looking down +Z with +Y up, world +X is the camera's left
	left := NewVec3(1, 0, 0).Transform(view)
	assert.Greater(t, left.X, float32(0))
}

func TestReversedInfiniteProjection(t *testing.T) {
	near := float32(0.1)
	proj := NewMat4PerspectiveReversedInfinite(DegToRad(90), 1, near)

	nearClip := NewVec4(0, 0, near, 1).Transform(proj)
	assert.InDelta(t, 1.0, nearClip.Z/nearClip.W, tolerance)

	farClip := NewVec4(0, 0, 1e6, 1).Transform(proj)
	assert.InDelta(t, 0.0, farClip.Z/farClip.W, tolerance)

	// +X in view space is the left of the screen
	leftClip := NewVec4(1, 0, 1, 1).Transform(proj)
	assert.InDelta(t, -1.0, leftClip.X/leftClip.W, tolerance)
	assert.Less(t, proj.Data[0], float32(0))
}

func TestReversedOrthographicProjection(t *testing.T) {
	proj := NewMat4OrthographicReversed(10, 5, 40)

	near := NewVec4(10, 5, 0, 1).Transform(proj)
	assert.InDelta(t, -1.0, near.X, tolerance)
	assert.InDelta(t, 1.0, near.Y, tolerance)
	assert.InDelta(t, 1.0, near.Z, tolerance)
	assert.InDelta(t, 1.0, near.W, tolerance)

	far := NewVec4(0, 0, 40, 1).Transform(proj)
	assert.InDelta(t, 0.0, far.Z, tolerance)
}

func TestPlaneSignedDistance(t *testing.T) {
	p := NewPlane(NewVec3(0, 0, 2), -2)
	assert.InDelta(t, 4.0, p.SignedDistance(NewVec3(0, 0, 5)), tolerance)
	assert.InDelta(t, 1.0, p.Normal.Length(), tolerance)
}

func TestAlignAndPow2(t *testing.T) {
	assert.Equal(t, uint64(512), AlignUp(uint64(257), 256))
	assert.Equal(t, uint64(256), AlignUp(uint64(256), 256))
	assert.Equal(t, uint32(3), DivCeil(uint32(130), 64))
	assert.Equal(t, uint32(1024), PreviousPow2(1080))
	assert.Equal(t, uint32(512), PreviousPow2(512))
	assert.Equal(t, uint32(11), MipCount(1024, 512))
	assert.Equal(t, 5, Clamp(9, 0, 5))
}

func TestBoundingSphere(t *testing.T) {
	verts := []Vertex3D{
		{Position: NewVec3(-1, -1, -1)},
		{Position: NewVec3(1, 1, 1)},
	}
	s := GeometryBoundingSphere(verts)
	assert.True(t, s.Center.Compare(NewVec3Zero(), tolerance))
	assert.InDelta(t, math32.Sqrt(3), s.Radius, tolerance)
}

func TestTransformHierarchy(t *testing.T) {
	parent := TransformFromPosition(NewVec3(10, 0, 0))
	child := TransformFromPosition(NewVec3(0, 1, 0))
	child.SetScale(NewVec3(2, 2, 2))
	child.Parent = parent

	p := NewVec3(1, 0, 0).Transform(child.GetWorld())
	assert.True(t, p.Compare(NewVec3(12, 1, 0), tolerance), "got %v", p)

	// the cached local matrix follows later edits
	child.SetPosition(NewVec3(0, 2, 0))
	p = NewVec3Zero().Transform(child.GetWorld())
	assert.True(t, p.Compare(NewVec3(10, 2, 0), tolerance), "got %v", p)

	var none *Transform
	assert.Equal(t, NewMat4Identity(), none.GetWorld())
}
