package views

import (
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/graph"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

func getBuffers(g *graph.RenderGraph, mode graph.AccessMode, handles ...graph.BufferHandle) ([]renderer.Buffer, error) {
	out := make([]renderer.Buffer, len(handles))
	for i, h := range handles {
		b, err := g.GetBuffer(h, mode)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// toIndirect makes buffers written by a dispatch consumable as draw arguments.
func toIndirect(cmd renderer.CommandList, bufs ...renderer.Buffer) {
	for _, b := range bufs {
		cmd.ResourceBarrier(b, metadata.ResourceStateStorageWrite, metadata.ResourceStateIndirectArgs)
	}
}

func fromIndirect(cmd renderer.CommandList, bufs ...renderer.Buffer) {
	for _, b := range bufs {
		cmd.ResourceBarrier(b, metadata.ResourceStateIndirectArgs, metadata.ResourceStateStorageWrite)
	}
}

// clearDepth resets a depth target to the far plane (0, reversed-Z).
func clearDepth(cmd renderer.CommandList, tex renderer.Texture) {
	cmd.ResourceBarrier(tex, metadata.ResourceStateDepthWrite, metadata.ResourceStateCopyDst)
	cmd.ClearTexture(tex, [4]float32{})
	cmd.ResourceBarrier(tex, metadata.ResourceStateCopyDst, metadata.ResourceStateDepthWrite)
}

func clearColor(cmd renderer.CommandList, tex renderer.Texture, value [4]float32) {
	cmd.ResourceBarrier(tex, metadata.ResourceStateRenderTarget, metadata.ResourceStateCopyDst)
	cmd.ClearTexture(tex, value)
	cmd.ResourceBarrier(tex, metadata.ResourceStateCopyDst, metadata.ResourceStateRenderTarget)
}
