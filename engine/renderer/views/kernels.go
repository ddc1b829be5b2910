package views

import (
	"github.com/chewxy/math32"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/culling"
	"github.com/spaghettifunk/prism/engine/renderer/soft"
	"github.com/spaghettifunk/prism/engine/scene"
)

// SoftKernels registers every kernel the frame needs with the software device.
func SoftKernels() []soft.Option {
	return append(culling.SoftKernels(),
		soft.WithRasterKernel(ShaderShadowVert, shadowKernel),
		soft.WithRasterKernel(ShaderBasePassFrag, basePassKernel),
		soft.WithKernel(ShaderLighting, lightingKernel),
		soft.WithKernel(ShaderBloomDown, bloomDownKernel),
		soft.WithKernel(ShaderBloomUp, bloomUpKernel),
		soft.WithKernel(ShaderTonemap, tonemapKernel),
	)
}

var palette = [8][4]float32{
	{0.80, 0.30, 0.25, 1},
	{0.25, 0.60, 0.30, 1},
	{0.25, 0.35, 0.80, 1},
	{0.85, 0.75, 0.30, 1},
	{0.60, 0.35, 0.70, 1},
	{0.30, 0.70, 0.75, 1},
	{0.75, 0.75, 0.75, 1},
	{0.45, 0.40, 0.35, 1},
}

var skyColor = [4]float32{0.05, 0.07, 0.10, 1}

// basePassKernel ray casts the instance's bounding sphere for every pixel of
// its screen rectangle.
func basePassKernel(ctx *soft.DrawContext) {
	var c basePassConstants
	ctx.DecodeConstants(&c)
	inst := scene.ReadInstance(ctx.Buffer(SlotSceneInstances), int(ctx.Command.FirstInstance))
	sphere := inst.WorldSphere()
	center := sphere.Center.Transform(math.Mat4{Data: c.View})
	r := sphere.Radius
	if center.Z+r <= c.Near {
		return
	}

	w, h := float32(ctx.Width), float32(ctx.Height)
	x0, y0, x1, y1 := 0, 0, int(ctx.Width), int(ctx.Height)
	if box, ok := culling.ProjectSphere(center, r, c.Near, c.P00, c.P11); ok {
		x0, x1 = int(math32.Floor(box.X*w)), int(math32.Ceil(box.Z*w))
		y0, y1 = int(math32.Floor(box.Y*h)), int(math32.Ceil(box.W*h))
	}
	albedo := palette[inst.MaterialIndex%uint32(len(palette))]
	cc := center.Dot(center) - r*r

	for py := max(y0, 0); py < min(y1, int(ctx.Height)); py++ {
		ndcY := 1 - (float32(py)+0.5)/h*2
		for px := max(x0, 0); px < min(x1, int(ctx.Width)); px++ {
			ndcX := (float32(px)+0.5)/w*2 - 1
			dir := math.NewVec3(ndcX/c.P00, ndcY/c.P11, 1)

			a := dir.Dot(dir)
			b := dir.Dot(center)
			disc := b*b - a*cc
			if disc < 0 {
				continue
			}
			sq := math32.Sqrt(disc)
			z := (b - sq) / a
			if z < c.Near {
				if z = (b + sq) / a; z < c.Near {
					continue
				}
			}
			if !ctx.DepthTest(px, py, c.Near/z) {
				continue
			}
			n := dir.MulScalar(z).Sub(center).Normalized()
			ctx.Targets[0].Store4(0, px, py, albedo)
			ctx.Targets[1].Store4(0, px, py, [4]float32{n.X, n.Y, n.Z, 1})
		}
	}
}

// shadowKernel splats the instance's bounding sphere into the light's
// orthographic depth map.
func shadowKernel(ctx *soft.DrawContext) {
	var c shadowConstants
	ctx.DecodeConstants(&c)
	m := math.Mat4{Data: c.LightViewProjection}
	inst := scene.ReadInstance(ctx.Buffer(SlotSceneInstances), int(ctx.Command.FirstInstance))
	sphere := inst.WorldSphere()

	p := sphere.Center.ToVec4(1).Transform(m)
	sx := math.NewVec3(m.Data[0], m.Data[4], m.Data[8]).Length()
	sy := math.NewVec3(m.Data[1], m.Data[5], m.Data[9]).Length()
	sz := math.NewVec3(m.Data[2], m.Data[6], m.Data[10]).Length()

	w, h := float32(ctx.Width), float32(ctx.Height)
	cx, cy := (p.X*0.5+0.5)*w, (0.5-p.Y*0.5)*h
	rx, ry := sphere.Radius*sx*0.5*w, sphere.Radius*sy*0.5*h
	if rx <= 0 || ry <= 0 {
		return
	}
	for py := max(int(cy-ry), 0); py <= min(int(cy+ry), int(ctx.Height)-1); py++ {
		for px := max(int(cx-rx), 0); px <= min(int(cx+rx), int(ctx.Width)-1); px++ {
			dx := (float32(px) + 0.5 - cx) / rx
			dy := (float32(py) + 0.5 - cy) / ry
			d2 := dx*dx + dy*dy
			if d2 > 1 {
				continue
			}
			ctx.DepthTest(px, py, p.Z+sphere.Radius*sz*math32.Sqrt(1-d2))
		}
	}
}

func forEachPixel(groupX, groupY, groupSize, width, height uint32, fn func(x, y int)) {
	for ly := uint32(0); ly < groupSize; ly++ {
		y := groupY*groupSize + ly
		if y >= height {
			return
		}
		for lx := uint32(0); lx < groupSize; lx++ {
			x := groupX*groupSize + lx
			if x >= width {
				break
			}
			fn(int(x), int(y))
		}
	}
}

const shadowBias = 0.002

func lightingKernel(inv *soft.Invocation, groupX, groupY, _ uint32) {
	var c lightingConstants
	inv.DecodeConstants(&c)
	albedoTex := inv.Texture(SlotLightingAlbedo)
	normalTex := inv.Texture(SlotLightingNormal)
	depthTex := inv.Texture(SlotLightingDepth)
	shadowTex := inv.Texture(SlotLightingShadow)
	out := inv.Texture(SlotLightingOutput)
	invView := math.Mat4{Data: c.InverseView}
	lightVP := math.Mat4{Data: c.LightViewProjection}
	toLight := math.NewVec3(c.LightDirection[0], c.LightDirection[1], c.LightDirection[2])

	forEachPixel(groupX, groupY, LightingGroupSize, c.Width, c.Height, func(x, y int) {
		n4 := normalTex.Load4(0, x, y)
		if n4[3] == 0 {
			out.Store4(0, x, y, skyColor)
			return
		}
		albedo := albedoTex.Load4(0, x, y)
		n := math.NewVec3(n4[0], n4[1], n4[2])
		ndl := max(n.Dot(toLight), 0)

		visibility := float32(1)
		if depth := depthTex.Load(0, x, y); c.ShadowsEnabled != 0 && depth > 0 {
			z := c.Near / depth
			ndcX := (float32(x)+0.5)/float32(c.Width)*2 - 1
			ndcY := 1 - (float32(y)+0.5)/float32(c.Height)*2
			viewPos := math.NewVec3(ndcX/c.P00*z, ndcY/c.P11*z, z)
			ls := viewPos.Transform(invView).ToVec4(1).Transform(lightVP)
			sw, sh := shadowTex.Size(0)
			u, v := ls.X*0.5+0.5, 0.5-ls.Y*0.5
			occluder := shadowTex.Load(0, int(u*float32(sw)), int(v*float32(sh)))
			if ls.Z+shadowBias < occluder {
				visibility = 0
			}
		}
		light := 0.15 + 2.5*ndl*visibility
		out.Store4(0, x, y, [4]float32{albedo[0] * light, albedo[1] * light, albedo[2] * light, 1})
	})
}

func bloomDownKernel(inv *soft.Invocation, groupX, groupY, _ uint32) {
	var c bloomConstants
	inv.DecodeConstants(&c)
	src := inv.Texture(SlotBloomSource)
	dst := inv.Texture(SlotBloomTarget)

	forEachPixel(groupX, groupY, BloomGroupSize, c.DstWidth, c.DstHeight, func(x, y int) {
		sx := x * int(c.SrcWidth) / int(c.DstWidth)
		sy := y * int(c.SrcHeight) / int(c.DstHeight)
		var sum [4]float32
		for _, o := range [4][2]int{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
			t := src.Load4(c.SrcMip, sx+o[0], sy+o[1])
			for i := 0; i < 3; i++ {
				v := t[i]
				if c.Mode == 0 {
					v = max(v-c.Threshold, 0)
				}
				sum[i] += v * 0.25
			}
		}
		sum[3] = 1
		dst.Store4(c.DstMip, x, y, sum)
	})
}

func bloomUpKernel(inv *soft.Invocation, groupX, groupY, _ uint32) {
	var c bloomConstants
	inv.DecodeConstants(&c)
	src := inv.Texture(SlotBloomSource)
	dst := inv.Texture(SlotBloomTarget)

	forEachPixel(groupX, groupY, BloomGroupSize, c.DstWidth, c.DstHeight, func(x, y int) {
		low := src.Load4(c.SrcMip, x*int(c.SrcWidth)/int(c.DstWidth), y*int(c.SrcHeight)/int(c.DstHeight))
		cur := dst.Load4(c.DstMip, x, y)
		for i := 0; i < 3; i++ {
			cur[i] += low[i]
		}
		dst.Store4(c.DstMip, x, y, cur)
	})
}

// aces is Narkowicz's fit of the ACES filmic curve.
func aces(x float32) float32 {
	return math.Clamp((x*(2.51*x+0.03))/(x*(2.43*x+0.59)+0.14), 0, 1)
}

func tonemapKernel(inv *soft.Invocation, groupX, groupY, _ uint32) {
	var c tonemapConstants
	inv.DecodeConstants(&c)
	hdr := inv.Texture(SlotTonemapHDR)
	bloom := inv.Texture(SlotTonemapBloom)
	out := inv.Texture(SlotTonemapOutput)

	forEachPixel(groupX, groupY, TonemapGroupSize, c.Width, c.Height, func(x, y int) {
		color := hdr.Load4(0, x, y)
		if c.BloomEnabled != 0 {
			u := (float32(x) + 0.5) / float32(c.Width)
			v := (float32(y) + 0.5) / float32(c.Height)
			b := bloom.Sample4(0, u, v)
			for i := 0; i < 3; i++ {
				color[i] += b[i] * c.BloomStrength
			}
		}
		for i := 0; i < 3; i++ {
			color[i] = aces(color[i] * c.Exposure)
		}
		color[3] = 1
		out.Store4(0, x, y, color)
	})
}
