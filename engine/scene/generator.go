package scene

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/systems"
	"golang.org/x/exp/rand"
)

const generatorChunkSize = 1024

// Mesh indices registered by Generate.
const (
	MeshCube uint32 = iota
	MeshSphere
	MeshGround
)

type GeneratorConfig struct {
	Seed      uint64
	Instances uint32
	// Extent is the half size of the square the instances are scattered on.
	Extent float32
	Ground bool
}

var ErrEmptyExtent = errors.New("scene extent must be positive")

/**
 * @brief Fills s with a deterministic procedural scene: a cube, a sphere and a
 * ground mesh, then cfg.Instances randomly placed cubes and spheres. Chunks of
 * instances are generated on the job system, each chunk from its own seed, so the
 * output does not depend on the number of workers.
 */
func Generate(js *systems.JobSystem, s *Scene, cfg GeneratorConfig) error {
	if cfg.Extent <= 0 {
		return ErrEmptyExtent
	}

	s.AddMesh(GenerateCube(1, 1, 1))
	s.AddMesh(GenerateUVSphere(0.5, 12, 16))
	s.AddMesh(GeneratePlane(cfg.Extent*2, cfg.Extent*2, 1, 1))

	meshes := [2]*Mesh{s.Mesh(MeshCube), s.Mesh(MeshSphere)}
	instances := make([]InstanceData, cfg.Instances)

	var (
		mu   sync.Mutex
		errs []error
	)
	for start := uint32(0); start < cfg.Instances; start += generatorChunkSize {
		end := min(start+generatorChunkSize, cfg.Instances)
		chunk := start / generatorChunkSize
		js.Submit(systems.JobTask{
			Name: fmt.Sprintf("scene-chunk-%d", chunk),
			Run: func() error {
				rng := rand.New(rand.NewSource(cfg.Seed + uint64(chunk)))
				for i := start; i < end; i++ {
					instances[i] = randomInstance(rng, meshes, cfg.Extent)
				}
				return nil
			},
			OnFailure: func(err error) {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			},
		})
	}
	js.Wait()
	if err := errors.Join(errs...); err != nil {
		return err
	}

	if cfg.Ground {
		instances = append(instances, InstanceData{
			World:     math.NewMat4Identity(),
			Bounds:    s.Mesh(MeshGround).Bounds,
			MeshIndex: MeshGround,
		})
	}
	s.SetInstances(instances)
	core.LogInfo("generated scene with %d instances (seed %d)", len(instances), cfg.Seed)
	return nil
}

func randomInstance(rng *rand.Rand, meshes [2]*Mesh, extent float32) InstanceData {
	mesh := uint32(rng.Intn(len(meshes)))
	scale := 0.5 + rng.Float32()
	yaw := rng.Float32() * 2 * math.K_PI
	position := math.NewVec3(
		(rng.Float32()*2-1)*extent,
		scale*0.5+rng.Float32()*2,
		(rng.Float32()*2-1)*extent,
	)

	t := math.TransformFromPositionRotationScale(
		position,
		math.NewQuatFromAxisAngle(math.NewVec3Up(), yaw, true),
		math.NewVec3(scale, scale, scale),
	)
	return InstanceData{
		World:         t.GetWorld(),
		Bounds:        meshes[mesh].Bounds,
		MaterialIndex: uint32(rng.Intn(8)),
		MeshIndex:     mesh,
	}
}
