package culling

import (
	"github.com/chewxy/math32"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/renderer/soft"
	"github.com/spaghettifunk/prism/engine/scene"
)

// SoftKernels registers the culling kernels with the software device.
func SoftKernels() []soft.Option {
	return []soft.Option{
		soft.WithKernel(ShaderCull, cullKernel),
		soft.WithKernel(ShaderHZBInit, hzbInitKernel),
		soft.WithKernel(ShaderHZBReduce, hzbReduceKernel),
		soft.WithKernel(ShaderDrawAll, drawAllKernel),
	}
}

type cullTargets struct {
	instances     *soft.BufferView
	meshes        *soft.BufferView
	args          *soft.BufferView
	counts        *soft.BufferView
	occluded      *soft.BufferView
	occludedCount *soft.BufferView
	hzb           *soft.TextureView
}

func cullKernel(inv *soft.Invocation, groupX, _, _ uint32) {
	var c Constants
	inv.DecodeConstants(&c)
	t := cullTargets{
		instances:     inv.Buffer(SlotInstances),
		meshes:        inv.Buffer(SlotMeshes),
		args:          inv.Buffer(SlotDrawArgs),
		counts:        inv.Buffer(SlotDrawCounts),
		occluded:      inv.Buffer(SlotOccluded),
		occludedCount: inv.Buffer(SlotOccludedCount),
		hzb:           inv.Texture(SlotHZB),
	}

	for local := uint32(0); local < CullGroupSize; local++ {
		i := groupX*CullGroupSize + local
		if i >= c.PrimitiveCount {
			return
		}
		index := i
		if c.Phase == PhaseLate {
			if i >= t.occludedCount.Uint32(0) {
				return
			}
			index = t.occluded.Uint32(int(i))
		}
		cullInstance(&c, &t, index)
	}
}

func cullInstance(c *Constants, t *cullTargets, index uint32) {
	inst := scene.ReadInstance(t.instances, int(index))
	sphere := inst.WorldSphere()
	center := sphere.Center.Transform(c.view())

	if c.Flags&FlagFrustum != 0 {
		for i := 0; i < planeCount; i++ {
			if c.plane(i).SignedDistance(center) < -sphere.Radius {
				return
			}
		}
	}
	if c.Flags&FlagOcclusion != 0 && !SphereVisible(t.hzb, c, center, sphere.Radius) {
		if c.Phase == PhaseEarly {
			slot := t.occludedCount.AtomicAdd(0, 1)
			t.occluded.SetUint32(int(slot), index)
		}
		return
	}

	mesh := scene.ReadMeshDraw(t.meshes, int(inst.MeshIndex))
	slot := t.counts.AtomicAdd(int(c.Phase), 1)
	writeCommand(t.args, int(c.Phase*c.PrimitiveCount+slot), metadata.DrawIndexedIndirectCommand{
		IndexCount:    mesh.IndexCount,
		InstanceCount: 1,
		FirstIndex:    mesh.FirstIndex,
		VertexOffset:  mesh.VertexOffset,
		FirstInstance: index,
	})
}

func writeCommand(args *soft.BufferView, at int, cmd metadata.DrawIndexedIndirectCommand) {
	base := at * int(metadata.DrawIndexedIndirectCommandSize/4)
	args.SetUint32(base, cmd.IndexCount)
	args.SetUint32(base+1, cmd.InstanceCount)
	args.SetUint32(base+2, cmd.FirstIndex)
	args.SetUint32(base+3, uint32(cmd.VertexOffset))
	args.SetUint32(base+4, cmd.FirstInstance)
}

func drawAllKernel(inv *soft.Invocation, groupX, _, _ uint32) {
	var c drawAllConstants
	inv.DecodeConstants(&c)
	instances := inv.Buffer(SlotInstances)
	meshes := inv.Buffer(SlotMeshes)
	args := inv.Buffer(SlotDrawArgs)

	if groupX == 0 {
		inv.Buffer(SlotDrawCounts).SetUint32(0, c.Count)
	}
	for local := uint32(0); local < CullGroupSize; local++ {
		i := groupX*CullGroupSize + local
		if i >= c.Count {
			return
		}
		inst := scene.ReadInstance(instances, int(i))
		mesh := scene.ReadMeshDraw(meshes, int(inst.MeshIndex))
		writeCommand(args, int(i), metadata.DrawIndexedIndirectCommand{
			IndexCount:    mesh.IndexCount,
			InstanceCount: 1,
			FirstIndex:    mesh.FirstIndex,
			VertexOffset:  mesh.VertexOffset,
			FirstInstance: i,
		})
	}
}

func hzbInitKernel(inv *soft.Invocation, groupX, groupY, _ uint32) {
	var c hzbConstants
	inv.DecodeConstants(&c)
	depth := inv.Texture(SlotHZBSource)
	target := inv.Texture(SlotHZBTarget)

	forEachTexel(groupX, groupY, c.DstWidth, c.DstHeight, func(x, y uint32) {
		// every depth texel the HZB texel touches
		x0, x1 := x*c.SrcWidth/c.DstWidth, ((x+1)*c.SrcWidth+c.DstWidth-1)/c.DstWidth
		y0, y1 := y*c.SrcHeight/c.DstHeight, ((y+1)*c.SrcHeight+c.DstHeight-1)/c.DstHeight
		v := math32.Inf(1)
		for sy := y0; sy < y1; sy++ {
			for sx := x0; sx < x1; sx++ {
				v = min(v, depth.Load(0, int(sx), int(sy)))
			}
		}
		target.Store(0, int(x), int(y), v)
	})
}

func hzbReduceKernel(inv *soft.Invocation, groupX, groupY, _ uint32) {
	var c hzbConstants
	inv.DecodeConstants(&c)
	src := inv.Texture(SlotHZBSource)
	dst := inv.Texture(SlotHZBTarget)

	forEachTexel(groupX, groupY, c.DstWidth, c.DstHeight, func(x, y uint32) {
		sx, sy := int(x*2), int(y*2)
		v := min(
			src.Load(c.SrcMip, sx, sy),
			src.Load(c.SrcMip, sx+1, sy),
			src.Load(c.SrcMip, sx, sy+1),
			src.Load(c.SrcMip, sx+1, sy+1),
		)
		// odd source extents fold their last row/column into the edge texels
		if c.SrcWidth&1 == 1 && x == c.DstWidth-1 {
			v = min(v, src.Load(c.SrcMip, sx+2, sy), src.Load(c.SrcMip, sx+2, sy+1))
		}
		if c.SrcHeight&1 == 1 && y == c.DstHeight-1 {
			v = min(v, src.Load(c.SrcMip, sx, sy+2), src.Load(c.SrcMip, sx+1, sy+2))
			if c.SrcWidth&1 == 1 && x == c.DstWidth-1 {
				v = min(v, src.Load(c.SrcMip, sx+2, sy+2))
			}
		}
		dst.Store(c.SrcMip+1, int(x), int(y), v)
	})
}

func forEachTexel(groupX, groupY, width, height uint32, fn func(x, y uint32)) {
	for ly := uint32(0); ly < HZBGroupSize; ly++ {
		y := groupY*HZBGroupSize + ly
		if y >= height {
			return
		}
		for lx := uint32(0); lx < HZBGroupSize; lx++ {
			x := groupX*HZBGroupSize + lx
			if x >= width {
				break
			}
			fn(x, y)
		}
	}
}
