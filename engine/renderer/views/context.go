package views

import (
	"github.com/chewxy/math32"
	"github.com/spaghettifunk/prism/engine/config"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/culling"
	"github.com/spaghettifunk/prism/engine/renderer/graph"
	"github.com/spaghettifunk/prism/engine/scene"
)

/** @brief Runtime switches of the frame, refreshed from configuration every frame. */
type Settings struct {
	Culling       bool
	Occlusion     bool
	Shadows       bool
	Bloom         bool
	ShadowMapSize uint32
	BloomMips     uint32
	Exposure      float32
}

func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Culling:       cfg.Culling.Enabled,
		Occlusion:     cfg.Culling.Occlusion,
		Shadows:       cfg.Passes.Shadows,
		Bloom:         cfg.Passes.Bloom,
		ShadowMapSize: cfg.Passes.ShadowMapSize,
		BloomMips:     cfg.Passes.BloomMips,
		Exposure:      cfg.Passes.Exposure,
	}
}

// CullFlags maps the culling switches to dispatch flags.
func (s Settings) CullFlags() culling.Flags {
	if !s.Culling {
		return 0
	}
	flags := culling.FlagFrustum
	if s.Occlusion {
		flags |= culling.FlagOcclusion
	}
	return flags
}

/**
 * @brief Handles published by the renderers that produced them this frame.
 * Invalid handles mean the producer was inactive.
 */
type FrameResources struct {
	Instances graph.BufferHandle
	Meshes    graph.BufferHandle
	Vertices  graph.BufferHandle
	Indices   graph.BufferHandle

	ShadowMap graph.TextureHandle
	Albedo    graph.TextureHandle
	Normal    graph.TextureHandle
	Depth     graph.TextureHandle
	HZB       graph.TextureHandle
	HDR       graph.TextureHandle
	Bloom     graph.TextureHandle
	Output    graph.TextureHandle
}

/**
 * @brief Everything the renderers know about the frame being built. One value is
 * shared by every renderer and updated by the frame driver before scheduling.
 */
type FrameContext struct {
	Scene  *scene.Scene
	Camera *scene.Camera
	Width  uint32
	Height uint32
	Frame  uint64
	// LightDirection is the world-space direction the sun light travels.
	LightDirection math.Vec3
	Settings       Settings
	Resources      FrameResources
}

func NewFrameContext(s *scene.Scene, camera *scene.Camera, width, height uint32, settings Settings) *FrameContext {
	return &FrameContext{
		Scene:          s,
		Camera:         camera,
		Width:          width,
		Height:         height,
		LightDirection: math.NewVec3(-0.4, -1, 0.3).Normalized(),
		Settings:       settings,
	}
}

// BeginFrame forgets last frame's handles.
func (c *FrameContext) BeginFrame(frame uint64) {
	c.Frame = frame
	c.Resources = FrameResources{}
}

func (c *FrameContext) Resize(width, height uint32) {
	c.Width, c.Height = width, height
}

func (c *FrameContext) CullingView() culling.View {
	return culling.View{
		View:       c.Camera.GetView(),
		Projection: c.Camera.GetProjection(c.Width, c.Height),
		Near:       c.Camera.Near,
	}
}

/**
 * @brief Builds an orthographic light matrix that covers every instance of the
 * scene, looking along the light direction.
 */
func (c *FrameContext) LightViewProjection() math.Mat4 {
	ext := c.Scene.Bounds()
	center := ext.Min.Add(ext.Max).MulScalar(0.5)
	radius := max(ext.Max.Sub(ext.Min).Length()*0.5, 1)

	up := math.NewVec3Up()
	if math32.Abs(c.LightDirection.Dot(up)) > 0.99 {
		up = math.NewVec3Forward()
	}
	eye := center.Sub(c.LightDirection.MulScalar(radius * 2))
	view := math.NewMat4LookDir(eye, c.LightDirection, up)
	return view.Mul(math.NewMat4OrthographicReversed(radius, radius, radius*4))
}
