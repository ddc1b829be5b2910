package culling

import (
	"github.com/chewxy/math32"
	"github.com/spaghettifunk/prism/engine/math"
)

// Flags select which tests the cull dispatch performs.
type Flags uint32

const (
	FlagFrustum Flags = 1 << iota
	FlagOcclusion
)

// Phase of the two-phase culling sequence.
const (
	PhaseEarly uint32 = 0
	PhaseLate  uint32 = 1
)

// Frustum plane order inside Constants.Planes.
const (
	PlaneLeft = iota
	PlaneRight
	PlaneTop
	PlaneBottom
	PlaneNear
	planeCount
)

/**
 * @brief Per-phase constants of the cull dispatch, std140 compatible (256 bytes).
 * Planes are in view space (xyz normal, w distance). Matrices use the engine's
 * row-vector layout, which a column-major GLSL mat4 reads as its transpose.
 */
type Constants struct {
	Planes         [planeCount][4]float32
	View           [16]float32
	ViewProjection [16]float32
	P00            float32
	P11            float32
	Near           float32
	PrimitiveCount uint32
	HZBWidth       uint32
	HZBHeight      uint32
	HZBMips        uint32
	Phase          uint32
	Flags          Flags
	_              [3]uint32
}

/** @brief What the camera contributes to culling. */
type View struct {
	View       math.Mat4
	Projection math.Mat4
	Near       float32
}

/**
 * @brief Builds the five view-space frustum planes of a reversed-Z infinite
 * projection. The side planes pass through the eye; the near plane keeps z >= near.
 * The sign of P00 is irrelevant here.
 */
func FrustumPlanes(projection math.Mat4, near float32) [planeCount]math.Plane {
	xScale := math32.Abs(projection.Data[0])
	yScale := math32.Abs(projection.Data[5])

	var planes [planeCount]math.Plane
	// view space +X is the camera's left
	planes[PlaneLeft] = math.NewPlane(math.NewVec3(-1, 0, 1/xScale), 0)
	planes[PlaneRight] = math.NewPlane(math.NewVec3(1, 0, 1/xScale), 0)
	planes[PlaneTop] = math.NewPlane(math.NewVec3(0, -1, 1/yScale), 0)
	planes[PlaneBottom] = math.NewPlane(math.NewVec3(0, 1, 1/yScale), 0)
	planes[PlaneNear] = math.Plane{Normal: math.NewVec3(0, 0, 1), Distance: -near}
	return planes
}

/**
 * @brief Fills the constants of one cull dispatch. A fresh value is built for
 * every phase.
 */
func NewConstants(v View, primitives uint32, hzbWidth, hzbHeight, hzbMips uint32, phase uint32, flags Flags) Constants {
	c := Constants{
		View:           v.View.Data,
		ViewProjection: v.View.Mul(v.Projection).Data,
		P00:            v.Projection.Data[0],
		P11:            v.Projection.Data[5],
		Near:           v.Near,
		PrimitiveCount: primitives,
		HZBWidth:       hzbWidth,
		HZBHeight:      hzbHeight,
		HZBMips:        hzbMips,
		Phase:          phase,
		Flags:          flags,
	}
	for i, p := range FrustumPlanes(v.Projection, v.Near) {
		c.Planes[i] = [4]float32{p.Normal.X, p.Normal.Y, p.Normal.Z, p.Distance}
	}
	return c
}

func (c *Constants) plane(i int) math.Plane {
	p := c.Planes[i]
	return math.Plane{Normal: math.NewVec3(p[0], p[1], p[2]), Distance: p[3]}
}

func (c *Constants) view() math.Mat4 {
	return math.Mat4{Data: c.View}
}
