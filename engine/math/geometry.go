package math

import "github.com/chewxy/math32"

func GeometryExtents(vertices []Vertex3D) Extents3D {
	if len(vertices) == 0 {
		return Extents3D{}
	}
	ext := Extents3D{Min: vertices[0].Position, Max: vertices[0].Position}
	for _, v := range vertices[1:] {
		ext.Min = Vec3{math32.Min(ext.Min.X, v.Position.X), math32.Min(ext.Min.Y, v.Position.Y), math32.Min(ext.Min.Z, v.Position.Z)}
		ext.Max = Vec3{math32.Max(ext.Max.X, v.Position.X), math32.Max(ext.Max.Y, v.Position.Y), math32.Max(ext.Max.Z, v.Position.Z)}
	}
	return ext
}

/**
 * @brief Computes a bounding sphere centered on the extents' center that encloses
 * every vertex.
 */
func GeometryBoundingSphere(vertices []Vertex3D) Sphere {
	ext := GeometryExtents(vertices)
	center := ext.Min.Add(ext.Max).MulScalar(0.5)
	radius := float32(0)
	for _, v := range vertices {
		radius = math32.Max(radius, v.Position.Distance(center))
	}
	return Sphere{Center: center, Radius: radius}
}
