/*
Prism renders a procedurally generated scene through the render graph with
two-phase GPU occlusion culling.
*/
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/prism/engine"
	"github.com/spaghettifunk/prism/engine/config"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/graph"
	"github.com/spaghettifunk/prism/engine/renderer/views"
	"github.com/spaghettifunk/prism/engine/systems"
	"github.com/spaghettifunk/prism/testbed"
	"github.com/spf13/cobra"
)

// renderers is the frame, in pass order.
func renderers(ctx *views.FrameContext) []systems.RendererFactory {
	return []systems.RendererFactory{
		func() graph.Renderer { return views.NewSceneUploadRenderer(ctx) },
		func() graph.Renderer { return views.NewShadowRenderer(ctx) },
		func() graph.Renderer { return views.NewBasePassRenderer(ctx) },
		func() graph.Renderer { return views.NewLightingRenderer(ctx) },
		func() graph.Renderer { return views.NewBloomRenderer(ctx) },
		func() graph.Renderer { return views.NewTonemapRenderer(ctx) },
	}
}

func main() {
	var (
		configPath string
		backend    string
		frames     uint64
	)

	root := &cobra.Command{
		Use:           "prism",
		Short:         "Render-graph driven renderer with GPU occlusion culling",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			watchPath := ""
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
				watchPath = configPath
			}
			if cmd.Flags().Changed("backend") {
				cfg.Backend.Type = backend
			}
			if cmd.Flags().Changed("frames") {
				cfg.Application.FrameLimit = frames
			}

			e, err := engine.New(testbed.NewTestGame(cfg, watchPath, renderers).Game)
			if err != nil {
				return err
			}
			if err := e.Initialize(); err != nil {
				_ = e.Shutdown()
				return err
			}

			// signal channel to capture system calls
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
			defer stop()

			runErr := e.Run(ctx)
			if err := e.Shutdown(); err != nil && runErr == nil {
				runErr = err
			}
			return runErr
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to a prism.toml configuration file")
	root.Flags().StringVarP(&backend, "backend", "b", config.BackendSoftware, "device backend: software or vulkan")
	root.Flags().Uint64VarP(&frames, "frames", "n", 0, "number of frames to render, 0 runs until quit")

	if err := root.ExecuteContext(context.Background()); err != nil {
		core.LogError("%s", err)
		os.Exit(1)
	}
}
