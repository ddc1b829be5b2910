package math

import "github.com/chewxy/math32"

const (
	K_PI float32 = 3.14159265358979323846
	// Smallest positive number where 1.0 + FLOAT_EPSILON != 0
	K_FLOAT_EPSILON float32 = 1.192092896e-07
	K_DEG2RAD_MULTIPLIER float32 = K_PI / 180.0
	K_RAD2DEG_MULTIPLIER float32 = 180.0 / K_PI
)

func DegToRad(degrees float32) float32 {
	return degrees * K_DEG2RAD_MULTIPLIER
}

func RadToDeg(radians float32) float32 {
	return radians * K_RAD2DEG_MULTIPLIER
}

func NewVec2(x, y float32) Vec2 {
	return Vec2{X: x, Y: y}
}

func (v Vec2) Compare(other Vec2, tolerance float32) bool {
	return math32.Abs(v.X-other.X) <= tolerance && math32.Abs(v.Y-other.Y) <= tolerance
}

func NewVec3(x, y, z float32) Vec3 {
	return Vec3{X: x, Y: y, Z: z}
}

func NewVec3Zero() Vec3 {
	return Vec3{}
}

func NewVec3One() Vec3 {
	return Vec3{X: 1, Y: 1, Z: 1}
}

func NewVec3Up() Vec3 {
	return Vec3{Y: 1}
}

func NewVec3Forward() Vec3 {
	return Vec3{Z: -1}
}

func (v Vec3) ToVec4(w float32) Vec4 {
	return Vec4{X: v.X, Y: v.Y, Z: v.Z, W: w}
}

func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{v.X + other.X, v.Y + other.Y, v.Z + other.Z}
}

func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{v.X - other.X, v.Y - other.Y, v.Z - other.Z}
}

func (v Vec3) Mul(other Vec3) Vec3 {
	return Vec3{v.X * other.X, v.Y * other.Y, v.Z * other.Z}
}

func (v Vec3) MulScalar(scalar float32) Vec3 {
	return Vec3{v.X * scalar, v.Y * scalar, v.Z * scalar}
}

func (v Vec3) LengthSquared() float32 {
	return v.X*v.X + v.Y*v.Y + v.Z*v.Z
}

func (v Vec3) Length() float32 {
	return math32.Sqrt(v.LengthSquared())
}

// Normalized returns a unit-length copy of v. The zero vector is returned unchanged.
func (v Vec3) Normalized() Vec3 {
	l := v.Length()
	if l == 0 {
		return v
	}
	return v.MulScalar(1.0 / l)
}

func (v Vec3) Dot(other Vec3) float32 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

func (v Vec3) Cross(other Vec3) Vec3 {
	return Vec3{
		X: v.Y*other.Z - v.Z*other.Y,
		Y: v.Z*other.X - v.X*other.Z,
		Z: v.X*other.Y - v.Y*other.X,
	}
}

func (v Vec3) Compare(other Vec3, tolerance float32) bool {
	return math32.Abs(v.X-other.X) <= tolerance &&
		math32.Abs(v.Y-other.Y) <= tolerance &&
		math32.Abs(v.Z-other.Z) <= tolerance
}

func (v Vec3) Distance(other Vec3) float32 {
	return v.Sub(other).Length()
}

/**
 * @brief Transform v by m. The vector is treated as a point (w = 1).
 */
func (v Vec3) Transform(m Mat4) Vec3 {
	return Vec3{
		X: v.X*m.Data[0] + v.Y*m.Data[4] + v.Z*m.Data[8] + m.Data[12],
		Y: v.X*m.Data[1] + v.Y*m.Data[5] + v.Z*m.Data[9] + m.Data[13],
		Z: v.X*m.Data[2] + v.Y*m.Data[6] + v.Z*m.Data[10] + m.Data[14],
	}
}

func NewVec4(x, y, z, w float32) Vec4 {
	return Vec4{X: x, Y: y, Z: z, W: w}
}

func (v Vec4) ToVec3() Vec3 {
	return Vec3{X: v.X, Y: v.Y, Z: v.Z}
}

// Transform multiplies the row vector v by m.
func (v Vec4) Transform(m Mat4) Vec4 {
	return Vec4{
		X: v.X*m.Data[0] + v.Y*m.Data[4] + v.Z*m.Data[8] + v.W*m.Data[12],
		Y: v.X*m.Data[1] + v.Y*m.Data[5] + v.Z*m.Data[9] + v.W*m.Data[13],
		Z: v.X*m.Data[2] + v.Y*m.Data[6] + v.Z*m.Data[10] + v.W*m.Data[14],
		W: v.X*m.Data[3] + v.Y*m.Data[7] + v.Z*m.Data[11] + v.W*m.Data[15],
	}
}

func (v Vec4) Compare(other Vec4, tolerance float32) bool {
	return math32.Abs(v.X-other.X) <= tolerance &&
		math32.Abs(v.Y-other.Y) <= tolerance &&
		math32.Abs(v.Z-other.Z) <= tolerance &&
		math32.Abs(v.W-other.W) <= tolerance
}
