package scene

import (
	"encoding/binary"

	"github.com/chewxy/math32"
	"github.com/spaghettifunk/prism/engine/math"
)

const (
	// InstanceStride is the GPU size of one InstanceData record.
	InstanceStride = 96
	// MeshDrawStride is the GPU size of one MeshDraw record.
	MeshDrawStride = 16

	instanceWords = InstanceStride / 4
	meshDrawWords = MeshDrawStride / 4
)

/**
 * @brief One drawable object. The GPU layout is
 * mat4 world | vec4 sphere (local center, radius) | uint material | uint mesh | uint pad[2].
 */
type InstanceData struct {
	World         math.Mat4
	Bounds        math.Sphere
	MaterialIndex uint32
	MeshIndex     uint32
}

// WorldSphere returns the local bounding sphere moved into world space.
func (d InstanceData) WorldSphere() math.Sphere {
	return math.Sphere{
		Center: d.Bounds.Center.Transform(d.World),
		Radius: d.Bounds.Radius * d.World.MaxScale(),
	}
}

/** @brief Where a mesh lives in the shared vertex/index buffers. */
type MeshDraw struct {
	IndexCount   uint32
	FirstIndex   uint32
	VertexOffset int32
	VertexCount  uint32
}

// WordReader is anything that exposes a GPU buffer as 32-bit words.
type WordReader interface {
	Uint32(i int) uint32
}

func putFloat(b []byte, word int, f float32) {
	binary.LittleEndian.PutUint32(b[word*4:], math32.Float32bits(f))
}

func putUint(b []byte, word int, v uint32) {
	binary.LittleEndian.PutUint32(b[word*4:], v)
}

// EncodeInstances packs instances into their GPU layout.
func EncodeInstances(instances []InstanceData) []byte {
	out := make([]byte, len(instances)*InstanceStride)
	for i, inst := range instances {
		b := out[i*InstanceStride:]
		for j, f := range inst.World.Data {
			putFloat(b, j, f)
		}
		putFloat(b, 16, inst.Bounds.Center.X)
		putFloat(b, 17, inst.Bounds.Center.Y)
		putFloat(b, 18, inst.Bounds.Center.Z)
		putFloat(b, 19, inst.Bounds.Radius)
		putUint(b, 20, inst.MaterialIndex)
		putUint(b, 21, inst.MeshIndex)
	}
	return out
}

// ReadInstance decodes the instance at index from a GPU buffer.
func ReadInstance(r WordReader, index int) InstanceData {
	base := index * instanceWords
	f := func(i int) float32 { return math32.Float32frombits(r.Uint32(base + i)) }

	var inst InstanceData
	for j := range inst.World.Data {
		inst.World.Data[j] = f(j)
	}
	inst.Bounds.Center = math.NewVec3(f(16), f(17), f(18))
	inst.Bounds.Radius = f(19)
	inst.MaterialIndex = r.Uint32(base + 20)
	inst.MeshIndex = r.Uint32(base + 21)
	return inst
}

func EncodeMeshDraws(draws []MeshDraw) []byte {
	out := make([]byte, len(draws)*MeshDrawStride)
	for i, d := range draws {
		b := out[i*MeshDrawStride:]
		putUint(b, 0, d.IndexCount)
		putUint(b, 1, d.FirstIndex)
		putUint(b, 2, uint32(d.VertexOffset))
		putUint(b, 3, d.VertexCount)
	}
	return out
}

func ReadMeshDraw(r WordReader, index int) MeshDraw {
	base := index * meshDrawWords
	return MeshDraw{
		IndexCount:   r.Uint32(base),
		FirstIndex:   r.Uint32(base + 1),
		VertexOffset: int32(r.Uint32(base + 2)),
		VertexCount:  r.Uint32(base + 3),
	}
}
