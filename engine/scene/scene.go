package scene

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/prism/engine/math"
)

/**
 * @brief The flat, GPU-ready description of what gets drawn: every mesh packed
 * into one vertex and one index stream, a mesh draw table and the instance list.
 * Renderers upload it again whenever it is marked dirty.
 */
type Scene struct {
	mu        sync.RWMutex
	meshes    []*Mesh
	draws     []MeshDraw
	vertices  []math.Vertex3D
	indices   []uint32
	instances []InstanceData
	// bumped on every change so each consumer can track its own upload
	version uint64
}

func New() *Scene {
	return &Scene{version: 1}
}

// AddMesh appends a mesh to the shared streams and returns its index.
func (s *Scene) AddMesh(m *Mesh) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.draws = append(s.draws, MeshDraw{
		IndexCount:   uint32(len(m.Indices)),
		FirstIndex:   uint32(len(s.indices)),
		VertexOffset: int32(len(s.vertices)),
		VertexCount:  uint32(len(m.Vertices)),
	})
	s.meshes = append(s.meshes, m)
	s.vertices = append(s.vertices, m.Vertices...)
	s.indices = append(s.indices, m.Indices...)
	s.version++
	return uint32(len(s.meshes) - 1)
}

// AddInstance places a mesh in the world and returns the instance index.
func (s *Scene) AddInstance(mesh uint32, world math.Mat4, material uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int(mesh) >= len(s.meshes) {
		return 0, fmt.Errorf("instance references mesh %d of %d", mesh, len(s.meshes))
	}
	s.instances = append(s.instances, InstanceData{
		World:         world,
		Bounds:        s.meshes[mesh].Bounds,
		MaterialIndex: material,
		MeshIndex:     mesh,
	})
	s.version++
	return uint32(len(s.instances) - 1), nil
}

// SetInstances replaces the whole instance list.
func (s *Scene) SetInstances(instances []InstanceData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances = instances
	s.version++
}

func (s *Scene) SetTransform(instance uint32, world math.Mat4) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[instance].World = world
	s.version++
}

func (s *Scene) Instance(i uint32) InstanceData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.instances[i]
}

func (s *Scene) InstanceCount() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint32(len(s.instances))
}

func (s *Scene) MeshCount() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint32(len(s.meshes))
}

func (s *Scene) Mesh(i uint32) *Mesh {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meshes[i]
}

func (s *Scene) MeshDraw(i uint32) MeshDraw {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.draws[i]
}

func (s *Scene) VertexCount() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint32(len(s.vertices))
}

func (s *Scene) IndexCount() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint32(len(s.indices))
}

// Version changes whenever the scene content changes.
func (s *Scene) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

/** @brief A GPU-layout snapshot of the scene. */
type Upload struct {
	Version   uint64
	Instances []byte
	MeshDraws []byte
	Vertices  []byte
	Indices   []byte
}

// Encode snapshots the scene in its GPU layout.
func (s *Scene) Encode() Upload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Upload{
		Version:   s.version,
		Instances: EncodeInstances(s.instances),
		MeshDraws: EncodeMeshDraws(s.draws),
		Vertices:  EncodeVertices(s.vertices),
		Indices:   EncodeIndices(s.indices),
	}
}

// Bounds returns the world-space extents of every instance sphere.
func (s *Scene) Bounds() math.Extents3D {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.instances) == 0 {
		return math.Extents3D{}
	}
	first := s.instances[0].WorldSphere()
	ext := math.Extents3D{Min: first.Center, Max: first.Center}
	for _, inst := range s.instances {
		sp := inst.WorldSphere()
		r := math.NewVec3(sp.Radius, sp.Radius, sp.Radius)
		lo, hi := sp.Center.Sub(r), sp.Center.Add(r)
		ext.Min = math.NewVec3(min(ext.Min.X, lo.X), min(ext.Min.Y, lo.Y), min(ext.Min.Z, lo.Z))
		ext.Max = math.NewVec3(max(ext.Max.X, hi.X), max(ext.Max.Y, hi.Y), max(ext.Max.Z, hi.Z))
	}
	return ext
}
