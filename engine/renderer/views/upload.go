package views

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/graph"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/scene"
)

/**
 * @brief Keeps the scene's GPU copy in persistent buffers: instances, mesh draw
 * table, vertices and indices. Uploads only when the scene changed or the
 * buffers were (re)allocated. Inactive for an empty scene.
 */
type SceneUploadRenderer struct {
	ctx *FrameContext

	instances graph.BufferHandle
	meshes    graph.BufferHandle
	vertices  graph.BufferHandle
	indices   graph.BufferHandle
	uploaded  uint64
}

func NewSceneUploadRenderer(ctx *FrameContext) *SceneUploadRenderer {
	return &SceneUploadRenderer{ctx: ctx}
}

func (r *SceneUploadRenderer) Name() string { return "scene" }

func (r *SceneUploadRenderer) Initialize(device renderer.Device) error { return nil }

func (r *SceneUploadRenderer) Setup(g *graph.RenderGraph) bool {
	s := r.ctx.Scene
	if s.InstanceCount() == 0 || s.MeshCount() == 0 {
		return false
	}
	declare := func(name string, size uint64, stride uint32, usage metadata.BufferUsage) graph.BufferHandle {
		h := g.DeclarePersistentBuffer(metadata.BufferDesc{
			Size:      size,
			Stride:    stride,
			Usage:     usage | metadata.BufferUsageStorage | metadata.BufferUsageTransferDst,
			DebugName: name,
		})
		g.WriteBuffer(h)
		return h
	}
	r.instances = declare("scene_instances", uint64(s.InstanceCount())*scene.InstanceStride, scene.InstanceStride, 0)
	r.meshes = declare("scene_meshes", uint64(s.MeshCount())*scene.MeshDrawStride, scene.MeshDrawStride, 0)
	r.vertices = declare("scene_vertices", uint64(s.VertexCount())*scene.VertexStride, scene.VertexStride, metadata.BufferUsageVertex)
	r.indices = declare("scene_indices", uint64(s.IndexCount())*4, 4, metadata.BufferUsageIndex)

	r.ctx.Resources.Instances = r.instances
	r.ctx.Resources.Meshes = r.meshes
	r.ctx.Resources.Vertices = r.vertices
	r.ctx.Resources.Indices = r.indices
	return true
}

func (r *SceneUploadRenderer) Render(cmd renderer.CommandList, g *graph.RenderGraph) error {
	handles := []graph.BufferHandle{r.instances, r.meshes, r.vertices, r.indices}
	fresh := false
	for _, h := range handles {
		if !g.BufferHistoryValid(h) {
			fresh = true
		}
	}
	if !fresh && r.ctx.Scene.Version() == r.uploaded {
		return nil
	}

	up := r.ctx.Scene.Encode()
	for i, data := range [][]byte{up.Instances, up.MeshDraws, up.Vertices, up.Indices} {
		buf, err := g.GetBuffer(handles[i], graph.AccessWrite)
		if err != nil {
			return err
		}
		if uint64(len(data)) > buf.Desc().Size {
			return fmt.Errorf("scene changed while uploading %q: %d bytes into %d", buf.Name(), len(data), buf.Desc().Size)
		}
		cmd.ResourceBarrier(buf, metadata.ResourceStateStorageWrite, metadata.ResourceStateCopyDst)
		cmd.WriteBuffer(buf, 0, data)
		cmd.ResourceBarrier(buf, metadata.ResourceStateCopyDst, metadata.ResourceStateStorageWrite)
	}
	r.uploaded = up.Version
	return nil
}
