package scene

import (
	"github.com/chewxy/math32"
	"github.com/spaghettifunk/prism/engine/math"
)

/**
 * @brief A perspective camera. Rotation is kept as Euler angles
 * (pitch around X, yaw around Y); yaw 0 looks down world +Z.
 * The view matrix is rebuilt lazily when position or rotation changed.
 */
type Camera struct {
	Position      math.Vec3
	EulerRotation math.Vec3
	// FovY is the vertical field of view in radians.
	FovY float32
	Near float32

	isDirty    bool
	viewMatrix math.Mat4
}

func NewCamera(fovY, near float32) *Camera {
	c := &Camera{FovY: fovY, Near: near}
	c.Reset()
	return c
}

func (c *Camera) Reset() {
	c.Position = math.NewVec3Zero()
	c.EulerRotation = math.NewVec3Zero()
	c.viewMatrix = math.NewMat4Identity()
	c.isDirty = true
}

func (c *Camera) SetPosition(position math.Vec3) {
	c.Position = position
	c.isDirty = true
}

func (c *Camera) SetEulerRotation(rotation math.Vec3) {
	c.EulerRotation = rotation
	c.isDirty = true
}

// LookAt points the camera at target.
func (c *Camera) LookAt(target math.Vec3) {
	dir := target.Sub(c.Position).Normalized()
	pitch := math32.Asin(math.Clamp(dir.Y, -1, 1))
	yaw := math32.Atan2(dir.X, dir.Z)
	c.SetEulerRotation(math.NewVec3(pitch, yaw, 0))
}

func (c *Camera) Forward() math.Vec3 {
	pitch, yaw := c.EulerRotation.X, c.EulerRotation.Y
	return math.NewVec3(
		math32.Sin(yaw)*math32.Cos(pitch),
		math32.Sin(pitch),
		math32.Cos(yaw)*math32.Cos(pitch),
	)
}

func (c *Camera) GetView() math.Mat4 {
	if c.isDirty {
		c.viewMatrix = math.NewMat4LookDir(c.Position, c.Forward(), math.NewVec3Up())
		c.isDirty = false
	}
	return c.viewMatrix
}

func (c *Camera) GetProjection(width, height uint32) math.Mat4 {
	aspect := float32(1)
	if height > 0 {
		aspect = float32(width) / float32(height)
	}
	return math.NewMat4PerspectiveReversedInfinite(c.FovY, aspect, c.Near)
}

func (c *Camera) MoveForward(amount float32) {
	c.SetPosition(c.Position.Add(c.Forward().MulScalar(amount)))
}

func (c *Camera) MoveUp(amount float32) {
	c.SetPosition(c.Position.Add(math.NewVec3Up().MulScalar(amount)))
}

// Yaw rotates around the world up axis.
func (c *Camera) Yaw(amount float32) {
	c.EulerRotation.Y += amount
	c.isDirty = true
}

// Pitch rotates around the camera's horizontal axis, limited to avoid gimbal lock.
func (c *Camera) Pitch(amount float32) {
	limit := math.DegToRad(89)
	c.EulerRotation.X = math.Clamp(c.EulerRotation.X+amount, -limit, limit)
	c.isDirty = true
}
