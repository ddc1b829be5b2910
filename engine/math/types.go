package math

// Vec2 represents a 2D vector
type Vec2 struct {
	X, Y float32
}

// Vec3 represents a 3D vector
type Vec3 struct {
	X, Y, Z float32
}

// Vec4 represents a 4D vector
type Vec4 struct {
	X, Y, Z, W float32
}

/** @brief A quaternion, used to represent rotational orientation. */
type Quaternion Vec4

/**
 * @brief a 4x4 matrix stored row-major and applied to row vectors (v' = v * M),
 * so a.Mul(b) applies a first and then b. Translation lives in Data[12..14].
 */
type Mat4 struct {
	Data [16]float32
}

/**
 * @brief A plane in Hessian normal form: dot(Normal, p) + Distance is the signed
 * distance of p from the plane, positive on the side the normal points to.
 */
type Plane struct {
	Normal   Vec3
	Distance float32
}

/** @brief A bounding sphere. */
type Sphere struct {
	Center Vec3
	Radius float32
}

/**
 * @brief Represents the extents of a 3d object.
 */
type Extents3D struct {
	Min Vec3
	Max Vec3
}

/**
 * @brief Represents a single vertex in 3D space.
 */
type Vertex3D struct {
	Position Vec3
	Normal   Vec3
	Texcoord Vec2
}

/**
 * @brief Represents the transform of an object in the world.
 * Transforms can have a parent whose own transform is then
 * taken into account. The properties should be changed through
 * the setters so the local matrix is regenerated.
 */
type Transform struct {
	Position Vec3
	Rotation Quaternion
	Scale    Vec3
	// Set when position, rotation or scale changed and Local must be rebuilt.
	IsDirty bool
	Local   Mat4
	// Optional parent transform.
	Parent *Transform
}
