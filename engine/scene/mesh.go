package scene

import (
	"encoding/binary"
	"fmt"

	"github.com/chewxy/math32"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
)

// VertexStride is the GPU size of one math.Vertex3D: position, normal, texcoord.
const VertexStride = 32

/** @brief Geometry that can be referenced by instances through the mesh table. */
type Mesh struct {
	Name     string
	Vertices []math.Vertex3D
	Indices  []uint32
	// Bounds is the local bounding sphere shared by every instance of the mesh.
	Bounds math.Sphere
}

func newMesh(name string, vertices []math.Vertex3D, indices []uint32) *Mesh {
	return &Mesh{
		Name:     name,
		Vertices: vertices,
		Indices:  indices,
		Bounds:   math.GeometryBoundingSphere(vertices),
	}
}

// cube faces: normal, then the two in-plane axes (u, v) with u x v == normal.
var cubeFaces = [6][3]math.Vec3{
	{{X: 0, Y: 0, Z: 1}, {X: 1, Y: 0, Z: 0}, {X: 0, Y: 1, Z: 0}},
	{{X: 0, Y: 0, Z: -1}, {X: -1, Y: 0, Z: 0}, {X: 0, Y: 1, Z: 0}},
	{{X: -1, Y: 0, Z: 0}, {X: 0, Y: 0, Z: 1}, {X: 0, Y: 1, Z: 0}},
	{{X: 1, Y: 0, Z: 0}, {X: 0, Y: 0, Z: -1}, {X: 0, Y: 1, Z: 0}},
	{{X: 0, Y: 1, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 0, Y: 0, Z: -1}},
	{{X: 0, Y: -1, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 0, Y: 0, Z: 1}},
}

/**
 * @brief Generates a box centered on the origin, 4 vertices and 6 indices per face.
 * Zero-sized dimensions default to one.
 */
func GenerateCube(width, height, depth float32) *Mesh {
	if width == 0 {
		core.LogWarn("Width must be nonzero. Defaulting to one.")
		width = 1
	}
	if height == 0 {
		core.LogWarn("Height must be nonzero. Defaulting to one.")
		height = 1
	}
	if depth == 0 {
		core.LogWarn("Depth must be nonzero. Defaulting to one.")
		depth = 1
	}
	half := math.NewVec3(width*0.5, height*0.5, depth*0.5)

	vertices := make([]math.Vertex3D, 0, 4*6)
	indices := make([]uint32, 0, 6*6)
	corners := [4]math.Vec2{{X: -1, Y: -1}, {X: 1, Y: -1}, {X: 1, Y: 1}, {X: -1, Y: 1}}
	for _, face := range cubeFaces {
		n, u, v := face[0], face[1], face[2]
		base := uint32(len(vertices))
		for _, c := range corners {
			p := n.Add(u.MulScalar(c.X)).Add(v.MulScalar(c.Y)).Mul(half)
			vertices = append(vertices, math.Vertex3D{
				Position: p,
				Normal:   n,
				Texcoord: math.NewVec2(c.X*0.5+0.5, c.Y*0.5+0.5),
			})
		}
		indices = append(indices, base, base+1, base+2, base, base+2, base+3)
	}
	return newMesh(fmt.Sprintf("cube_%gx%gx%g", width, height, depth), vertices, indices)
}

// GenerateUVSphere generates a latitude/longitude sphere.
func GenerateUVSphere(radius float32, rings, segments uint32) *Mesh {
	rings = max(rings, 2)
	segments = max(segments, 3)

	vertices := make([]math.Vertex3D, 0, (rings+1)*(segments+1))
	for r := uint32(0); r <= rings; r++ {
		v := float32(r) / float32(rings)
		theta := v * math.K_PI
		for s := uint32(0); s <= segments; s++ {
			u := float32(s) / float32(segments)
			phi := u * 2 * math.K_PI
			n := math.NewVec3(math32.Sin(theta)*math32.Cos(phi), math32.Cos(theta), math32.Sin(theta)*math32.Sin(phi))
			vertices = append(vertices, math.Vertex3D{
				Position: n.MulScalar(radius),
				Normal:   n,
				Texcoord: math.NewVec2(u, v),
			})
		}
	}

	indices := make([]uint32, 0, rings*segments*6)
	stride := segments + 1
	for r := uint32(0); r < rings; r++ {
		for s := uint32(0); s < segments; s++ {
			a := r*stride + s
			b := a + stride
			indices = append(indices, a, b, a+1, a+1, b, b+1)
		}
	}
	return newMesh(fmt.Sprintf("sphere_%g", radius), vertices, indices)
}

// GeneratePlane generates a flat grid on the XZ plane facing +Y.
func GeneratePlane(width, depth float32, xSegments, zSegments uint32) *Mesh {
	xSegments = max(xSegments, 1)
	zSegments = max(zSegments, 1)

	vertices := make([]math.Vertex3D, 0, (xSegments+1)*(zSegments+1))
	for z := uint32(0); z <= zSegments; z++ {
		for x := uint32(0); x <= xSegments; x++ {
			u := float32(x) / float32(xSegments)
			v := float32(z) / float32(zSegments)
			vertices = append(vertices, math.Vertex3D{
				Position: math.NewVec3((u-0.5)*width, 0, (v-0.5)*depth),
				Normal:   math.NewVec3Up(),
				Texcoord: math.NewVec2(u, v),
			})
		}
	}
	indices := make([]uint32, 0, xSegments*zSegments*6)
	stride := xSegments + 1
	for z := uint32(0); z < zSegments; z++ {
		for x := uint32(0); x < xSegments; x++ {
			a := z*stride + x
			b := a + stride
			indices = append(indices, a, b, a+1, a+1, b, b+1)
		}
	}
	return newMesh(fmt.Sprintf("plane_%gx%g", width, depth), vertices, indices)
}

// EncodeVertices packs vertices into their GPU layout.
func EncodeVertices(vertices []math.Vertex3D) []byte {
	out := make([]byte, len(vertices)*VertexStride)
	for i, v := range vertices {
		b := out[i*VertexStride:]
		for j, f := range [8]float32{v.Position.X, v.Position.Y, v.Position.Z, v.Normal.X, v.Normal.Y, v.Normal.Z, v.Texcoord.X, v.Texcoord.Y} {
			putFloat(b, j, f)
		}
	}
	return out
}

func EncodeIndices(indices []uint32) []byte {
	out := make([]byte, len(indices)*4)
	for i, idx := range indices {
		binary.LittleEndian.PutUint32(out[i*4:], idx)
	}
	return out
}
