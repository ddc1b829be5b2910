package culling

import (
	"github.com/chewxy/math32"
	"github.com/spaghettifunk/prism/engine/math"
)

// SphereInFrustum rejects a view-space sphere lying entirely behind any plane.
func SphereInFrustum(planes [planeCount]math.Plane, center math.Vec3, radius float32) bool {
	for _, p := range planes {
		if p.SignedDistance(center) < -radius {
			return false
		}
	}
	return true
}

/**
 * @brief Projects a view-space sphere to a conservative screen-space box in UV
 * space (u to the right, v down, both in [0,1]), following Mara and McGuire's
 * 2D polyhedral bounds of a perspective-projected sphere.
 * Returns false when the sphere straddles or lies behind the near plane; the
 * caller must treat it as visible.
 * @return (minU, minV, maxU, maxV)
 */
func ProjectSphere(c math.Vec3, r, near, p00, p11 float32) (math.Vec4, bool) {
	if c.Z-near < r {
		return math.Vec4{}, false
	}

	czr2 := c.Z*c.Z - r*r

	vx := math32.Sqrt(c.X*c.X + czr2)
	x0 := (vx*c.X - c.Z*r) / (vx*c.Z + c.X*r)
	x1 := (vx*c.X + c.Z*r) / (vx*c.Z - c.X*r)

	vy := math32.Sqrt(c.Y*c.Y + czr2)
	y0 := (vy*c.Y - c.Z*r) / (vy*c.Z + c.Y*r)
	y1 := (vy*c.Y + c.Z*r) / (vy*c.Z - c.Y*r)

	// P00 is negative for the x flip, so the ends may swap.
	nx0, nx1 := x0*p00, x1*p00
	ny0, ny1 := y0*p11, y1*p11
	minX := math.Clamp(min(nx0, nx1), -1, 1)
	maxX := math.Clamp(max(nx0, nx1), -1, 1)
	minY := math.Clamp(min(ny0, ny1), -1, 1)
	maxY := math.Clamp(max(ny0, ny1), -1, 1)

	return math.NewVec4(
		minX*0.5+0.5,
		0.5-maxY*0.5,
		maxX*0.5+0.5,
		0.5-minY*0.5,
	), true
}

// SelectMip picks the HZB level where the box covers at most one texel per axis.
func SelectMip(box math.Vec4, hzbWidth, hzbHeight, mips uint32) uint32 {
	w := (box.Z - box.X) * float32(hzbWidth)
	h := (box.W - box.Y) * float32(hzbHeight)
	extent := max(w, h)
	if extent <= 1 {
		return 0
	}
	level := math32.Ceil(math32.Log2(extent))
	return min(uint32(level), mips-1)
}

// DepthReader reads one texel of a depth pyramid level, clamping coordinates.
type DepthReader interface {
	Load(mip uint32, x, y int) float32
	Size(mip uint32) (uint32, uint32)
}

/**
 * @brief Returns the farthest depth (smallest, reversed-Z) of the 2x2 texels
 * around uv at the given level: what a min-reduction bilinear sampler returns.
 */
func SampleMin(hzb DepthReader, mip uint32, u, v float32) float32 {
	w, h := hzb.Size(mip)
	x := int(math32.Floor(u*float32(w) - 0.5))
	y := int(math32.Floor(v*float32(h) - 0.5))
	return min(
		hzb.Load(mip, x, y),
		hzb.Load(mip, x+1, y),
		hzb.Load(mip, x, y+1),
		hzb.Load(mip, x+1, y+1),
	)
}

/**
 * @brief Tests a view-space sphere against the depth pyramid. The sphere is
 * visible when its nearest depth is not behind the farthest occluder depth
 * of the region it covers.
 */
func SphereVisible(hzb DepthReader, c *Constants, center math.Vec3, radius float32) bool {
	box, ok := ProjectSphere(center, radius, c.Near, c.P00, c.P11)
	if !ok {
		return true
	}
	mip := SelectMip(box, c.HZBWidth, c.HZBHeight, c.HZBMips)
	occluder := SampleMin(hzb, mip, (box.X+box.Z)*0.5, (box.Y+box.W)*0.5)
	depth := c.Near / (center.Z - radius)
	return depth >= occluder
}
