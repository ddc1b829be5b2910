package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

var ErrInvalidConfig = errors.New("invalid configuration")

const (
	BackendSoftware = "software"
	BackendVulkan   = "vulkan"
)

type Config struct {
	Application ApplicationConfig `toml:"application"`
	Log         LogConfig         `toml:"log"`
	Backend     BackendConfig     `toml:"backend"`
	Graph       GraphConfig       `toml:"graph"`
	Culling     CullingConfig     `toml:"culling"`
	Passes      PassesConfig      `toml:"passes"`
	Scene       SceneConfig       `toml:"scene"`
	Debug       DebugConfig       `toml:"debug"`
}

type ApplicationConfig struct {
	// The application name used in windowing, if applicable.
	Name string `toml:"name"`
	// Window starting position, if applicable.
	StartPosX uint32 `toml:"start_pos_x"`
	StartPosY uint32 `toml:"start_pos_y"`
	// Render resolution. With a window this is the starting size.
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
	// Number of frames to run before exiting. 0 runs until quit.
	FrameLimit uint64 `toml:"frame_limit"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type BackendConfig struct {
	Type       string `toml:"type"`
	Validation bool   `toml:"validation"`
	VSync      bool   `toml:"vsync"`
	// Directory holding the compiled SPIR-V shaders.
	ShaderDir string `toml:"shader_dir"`
}

type GraphConfig struct {
	// Minimum size of a physical heap in bytes.
	HeapGranularity uint64 `toml:"heap_granularity"`
	// Free remainders smaller than this are absorbed into the allocation.
	MinBlockSize uint64 `toml:"min_block_size"`
	// Total heap budget in bytes. 0 means unbounded.
	MaxMemory uint64 `toml:"max_memory"`
	// Frames an unused placed resource stays cached.
	PlacedResourceTTL uint32 `toml:"placed_resource_ttl"`
	Aliasing          bool   `toml:"aliasing"`
}

type CullingConfig struct {
	Enabled   bool    `toml:"enabled"`
	Occlusion bool    `toml:"occlusion"`
	NearPlane float32 `toml:"near_plane"`
	// Vertical field of view in degrees.
	FovY float32 `toml:"fov_y"`
}

type PassesConfig struct {
	Shadows       bool    `toml:"shadows"`
	Bloom         bool    `toml:"bloom"`
	ShadowMapSize uint32  `toml:"shadow_map_size"`
	BloomMips     uint32  `toml:"bloom_mips"`
	Exposure      float32 `toml:"exposure"`
}

type SceneConfig struct {
	Seed      uint64  `toml:"seed"`
	Instances uint32  `toml:"instances"`
	Extent    float32 `toml:"extent"`
	Workers   int     `toml:"workers"`
}

type DebugConfig struct {
	// Log frame metrics and graph stats every N frames. 0 disables it.
	StatsInterval uint64 `toml:"stats_interval"`
	DumpHZB       bool   `toml:"dump_hzb"`
	DumpInterval  uint64 `toml:"dump_interval"`
	DumpDir       string `toml:"dump_dir"`
}

func Default() *Config {
	return &Config{
		Application: ApplicationConfig{
			Name:      "Prism",
			StartPosX: 100,
			StartPosY: 100,
			Width:     1280,
			Height:    720,
		},
		Log: LogConfig{Level: "info"},
		Backend: BackendConfig{
			Type:      BackendSoftware,
			VSync:     true,
			ShaderDir: "shaders/bin",
		},
		Graph: GraphConfig{
			HeapGranularity:   64 << 20,
			MinBlockSize:      64 << 10,
			PlacedResourceTTL: 4,
			Aliasing:          true,
		},
		Culling: CullingConfig{
			Enabled:   true,
			Occlusion: true,
			NearPlane: 0.1,
			FovY:      60,
		},
		Passes: PassesConfig{
			Shadows:       true,
			Bloom:         true,
			ShadowMapSize: 1024,
			BloomMips:     4,
			Exposure:      1.0,
		},
		Scene: SceneConfig{
			Seed:      1,
			Instances: 1024,
			Extent:    100,
			Workers:   4,
		},
		Debug: DebugConfig{
			StatsInterval: 120,
			DumpInterval:  60,
			DumpDir:       "hzb",
		},
	}
}

// Load reads a TOML file on top of the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := Default()
	dec := toml.NewDecoder(f).DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("%w: %s: %s", ErrInvalidConfig, path, strict.String())
		}
		return nil, fmt.Errorf("failed to decode config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidConfig}, args...)...))
		}
	}

	check(c.Application.Width > 0 && c.Application.Height > 0, "resolution must be non-zero, got %dx%d", c.Application.Width, c.Application.Height)
	switch strings.ToLower(c.Backend.Type) {
	case BackendSoftware, BackendVulkan:
	default:
		check(false, "unknown backend %q", c.Backend.Type)
	}
	check(c.Graph.HeapGranularity > 0, "graph.heap_granularity must be non-zero")
	check(c.Graph.MaxMemory == 0 || c.Graph.MaxMemory >= c.Graph.HeapGranularity, "graph.max_memory smaller than one heap")
	check(c.Culling.NearPlane > 0, "culling.near_plane must be positive, got %f", c.Culling.NearPlane)
	check(c.Culling.FovY > 0 && c.Culling.FovY < 180, "culling.fov_y out of range, got %f", c.Culling.FovY)
	check(c.Passes.ShadowMapSize > 0, "passes.shadow_map_size must be non-zero")
	check(c.Passes.BloomMips > 0, "passes.bloom_mips must be non-zero")
	check(c.Scene.Workers > 0, "scene.workers must be positive")

	return errors.Join(errs...)
}

// Clone returns a deep copy. Config holds no reference types, so a value copy suffices.
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}

// applyRuntime returns a copy of current with the hot-reloadable toggles taken
// from next. Everything else needs a restart.
func applyRuntime(current, next *Config) (*Config, []string) {
	out := current.Clone()
	out.Log.Level = next.Log.Level
	out.Culling.Enabled = next.Culling.Enabled
	out.Culling.Occlusion = next.Culling.Occlusion
	out.Passes.Shadows = next.Passes.Shadows
	out.Passes.Bloom = next.Passes.Bloom
	out.Passes.Exposure = next.Passes.Exposure
	out.Debug = next.Debug

	var ignored []string
	if *out != *next {
		if out.Application != next.Application {
			ignored = append(ignored, "application")
		}
		if out.Backend != next.Backend {
			ignored = append(ignored, "backend")
		}
		if out.Graph != next.Graph {
			ignored = append(ignored, "graph")
		}
		if out.Culling != next.Culling {
			ignored = append(ignored, "culling")
		}
		if out.Passes != next.Passes {
			ignored = append(ignored, "passes")
		}
		if out.Scene != next.Scene {
			ignored = append(ignored, "scene")
		}
	}
	return out, ignored
}
