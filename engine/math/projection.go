package math

import "github.com/chewxy/math32"

/**
 * @brief Creates a reversed-Z perspective projection with an infinite far plane.
 * View space looks down +Z with +X pointing to the camera's left, so the x axis
 * is flipped to keep screen-right positive. Depth is near/z: 1 at the near plane,
 * approaching 0 at infinity.
 * @param fovY The vertical field of view in radians.
 * @param aspect The aspect ratio (width / height).
 * @param near The near clipping plane distance.
 */
func NewMat4PerspectiveReversedInfinite(fovY, aspect, near float32) Mat4 {
	yScale := 1.0 / math32.Tan(fovY*0.5)
	xScale := yScale / aspect

	m := Mat4{}
	m.Data[0] = -xScale
	m.Data[5] = yScale
	m.Data[11] = 1.0
	m.Data[14] = near
	return m
}

/**
 * @brief Creates a view matrix for a camera at position looking towards target.
 * The resulting view space has +Z forward, +Y up and +X to the left.
 */
func NewMat4LookAt(position, target, up Vec3) Mat4 {
	return NewMat4LookDir(position, target.Sub(position), up)
}

func NewMat4LookDir(position, forward, up Vec3) Mat4 {
	z := forward.Normalized()
	x := up.Cross(z).Normalized()
	y := z.Cross(x)

	m := NewMat4Identity()
	m.Data[0] = x.X
	m.Data[4] = x.Y
	m.Data[8] = x.Z
	m.Data[1] = y.X
	m.Data[5] = y.Y
	m.Data[9] = y.Z
	m.Data[2] = z.X
	m.Data[6] = z.Y
	m.Data[10] = z.Z
	m.Data[12] = -x.Dot(position)
	m.Data[13] = -y.Dot(position)
	m.Data[14] = -z.Dot(position)
	return m
}

// NewPlane builds a normalized plane from an unnormalized normal and distance.
func NewPlane(normal Vec3, distance float32) Plane {
	l := normal.Length()
	if l == 0 {
		return Plane{}
	}
	return Plane{Normal: normal.MulScalar(1 / l), Distance: distance / l}
}

func (p Plane) SignedDistance(point Vec3) float32 {
	return p.Normal.Dot(point) + p.Distance
}

func (p Plane) ToVec4() Vec4 {
	return p.Normal.ToVec4(p.Distance)
}

/**
 * @brief Creates a reversed-Z orthographic projection for a view space looking
 * down +Z: x and y in [-halfWidth, halfWidth] / [-halfHeight, halfHeight] map to
 * clip space, z in [0, depth] maps to depth 1..0. The x axis is flipped like the
 * perspective projection.
 */
func NewMat4OrthographicReversed(halfWidth, halfHeight, depth float32) Mat4 {
	m := NewMat4Identity()
	m.Data[0] = -1.0 / halfWidth
	m.Data[5] = 1.0 / halfHeight
	m.Data[10] = -1.0 / depth
	m.Data[14] = 1.0
	return m
}
