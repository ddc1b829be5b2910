package math

import "github.com/chewxy/math32"

func NewQuatIdentity() Quaternion {
	return Quaternion{W: 1}
}

func (q Quaternion) Normal() float32 {
	return math32.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
}

func (q Quaternion) Normalize() Quaternion {
	n := q.Normal()
	if n == 0 {
		return NewQuatIdentity()
	}
	return Quaternion{q.X / n, q.Y / n, q.Z / n, q.W / n}
}

// Mul returns the rotation q followed by other.
func (q Quaternion) Mul(other Quaternion) Quaternion {
	a, b := other, q
	return Quaternion{
		X: a.W*b.X + a.X*b.W + a.Y*b.Z - a.Z*b.Y,
		Y: a.W*b.Y - a.X*b.Z + a.Y*b.W + a.Z*b.X,
		Z: a.W*b.Z + a.X*b.Y - a.Y*b.X + a.Z*b.W,
		W: a.W*b.W - a.X*b.X - a.Y*b.Y - a.Z*b.Z,
	}
}

/**
 * @brief Creates a rotation matrix for row vectors from the quaternion.
 */
func (q Quaternion) ToMat4() Mat4 {
	n := q.Normalize()
	m := NewMat4Identity()

	m.Data[0] = 1.0 - 2.0*(n.Y*n.Y+n.Z*n.Z)
	m.Data[1] = 2.0 * (n.X*n.Y + n.Z*n.W)
	m.Data[2] = 2.0 * (n.X*n.Z - n.Y*n.W)

	m.Data[4] = 2.0 * (n.X*n.Y - n.Z*n.W)
	m.Data[5] = 1.0 - 2.0*(n.X*n.X+n.Z*n.Z)
	m.Data[6] = 2.0 * (n.Y*n.Z + n.X*n.W)

	m.Data[8] = 2.0 * (n.X*n.Z + n.Y*n.W)
	m.Data[9] = 2.0 * (n.Y*n.Z - n.X*n.W)
	m.Data[10] = 1.0 - 2.0*(n.X*n.X+n.Y*n.Y)
	return m
}

func NewQuatFromAxisAngle(axis Vec3, angle float32, normalize bool) Quaternion {
	half := 0.5 * angle
	s := math32.Sin(half)
	c := math32.Cos(half)

	q := Quaternion{s * axis.X, s * axis.Y, s * axis.Z, c}
	if normalize {
		q = q.Normalize()
	}
	return q
}
