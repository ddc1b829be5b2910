package soft

import (
	"encoding/binary"
	"fmt"

	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"golang.org/x/sync/errgroup"
)

type CommandType uint8

const (
	CommandBeginMarker CommandType = iota
	CommandEndMarker
	CommandAliasingBarrier
	CommandResourceBarrier
	CommandClearTexture
	CommandClearBuffer
	CommandWriteBuffer
	CommandCopyBuffer
	CommandDispatch
	CommandDispatchIndirect
	CommandDraw
	CommandDrawIndexedIndirectCount
)

func (t CommandType) String() string {
	return [...]string{
		"begin-marker", "end-marker", "aliasing-barrier", "resource-barrier",
		"clear-texture", "clear-buffer", "write-buffer", "copy-buffer",
		"dispatch", "dispatch-indirect", "draw", "draw-indexed-indirect-count",
	}[t]
}

// Command is the recorded trace of one call, kept for inspection.
type Command struct {
	Type CommandType
	// Marker, pipeline or resource name.
	Label string
	// Aliasing: resource names. Transitions: states.
	Before string
	After  string
	Groups [3]uint32
}

type CommandList struct {
	device   *Device
	open     bool
	depth    int
	ops      []func() error
	commands []Command
}

func (c *CommandList) Open() error {
	if c.open {
		return fmt.Errorf("%w: already open", ErrCommandState)
	}
	c.open = true
	c.depth = 0
	c.ops = c.ops[:0]
	c.commands = c.commands[:0]
	return nil
}

func (c *CommandList) Close() error {
	if !c.open {
		return fmt.Errorf("%w: not open", ErrCommandState)
	}
	if c.depth != 0 {
		return fmt.Errorf("%w: %d markers left open", ErrCommandState, c.depth)
	}
	c.open = false
	return nil
}

// Commands returns the trace of the last recording.
func (c *CommandList) Commands() []Command {
	return c.commands
}

func (c *CommandList) record(cmd Command, op func() error) {
	if !c.open {
		panic(fmt.Sprintf("%s recorded on a closed command list", cmd.Type))
	}
	if op == nil {
		op = func() error { return nil }
	}
	c.commands = append(c.commands, cmd)
	c.ops = append(c.ops, op)
}

func (c *CommandList) BeginMarker(name string) {
	c.depth++
	c.record(Command{Type: CommandBeginMarker, Label: name}, nil)
}

func (c *CommandList) EndMarker() {
	c.depth--
	c.record(Command{Type: CommandEndMarker}, nil)
}

func (c *CommandList) AliasingBarrier(before, after renderer.Resource) {
	cmd := Command{Type: CommandAliasingBarrier, After: after.Name()}
	if before != nil {
		cmd.Before = before.Name()
	}
	c.record(cmd, nil)
}

func (c *CommandList) ResourceBarrier(res renderer.Resource, before, after metadata.ResourceState) {
	c.record(Command{Type: CommandResourceBarrier, Label: res.Name(), Before: before.String(), After: after.String()}, nil)
}

func (c *CommandList) ClearTexture(tex renderer.Texture, value [4]float32) {
	c.record(Command{Type: CommandClearTexture, Label: tex.Name()}, func() error {
		t, err := asTexture(tex)
		if err != nil {
			return err
		}
		t.clear(value)
		return nil
	})
}

func (c *CommandList) ClearBuffer(buf renderer.Buffer, value uint32) {
	c.record(Command{Type: CommandClearBuffer, Label: buf.Name()}, func() error {
		b, err := asBuffer(buf)
		if err != nil {
			return err
		}
		words := b.words()
		for i := range words {
			words[i] = value
		}
		return nil
	})
}

func (c *CommandList) WriteBuffer(buf renderer.Buffer, offset uint64, data []byte) {
	payload := make([]byte, len(data))
	copy(payload, data)
	c.record(Command{Type: CommandWriteBuffer, Label: buf.Name()}, func() error {
		b, err := asBuffer(buf)
		if err != nil {
			return err
		}
		if offset+uint64(len(payload)) > b.desc.Size {
			return fmt.Errorf("%w: write [%d, %d) into %q (%d bytes)", ErrOutOfRange, offset, offset+uint64(len(payload)), b.desc.DebugName, b.desc.Size)
		}
		copy(b.mem[offset:], payload)
		return nil
	})
}

func (c *CommandList) CopyBuffer(dst renderer.Buffer, dstOffset uint64, src renderer.Buffer, srcOffset, size uint64) {
	c.record(Command{Type: CommandCopyBuffer, Label: dst.Name(), Before: src.Name()}, func() error {
		d, err := asBuffer(dst)
		if err != nil {
			return err
		}
		s, err := asBuffer(src)
		if err != nil {
			return err
		}
		if srcOffset+size > s.desc.Size || dstOffset+size > d.desc.Size {
			return fmt.Errorf("%w: copy of %d bytes from %q to %q", ErrOutOfRange, size, s.desc.DebugName, d.desc.DebugName)
		}
		copy(d.mem[dstOffset:dstOffset+size], s.mem[srcOffset:srcOffset+size])
		return nil
	})
}

func (c *CommandList) Dispatch(state *renderer.ComputeState, groupsX, groupsY, groupsZ uint32) {
	snapshot := snapshotCompute(state)
	c.record(Command{Type: CommandDispatch, Label: state.Pipeline.Name(), Groups: [3]uint32{groupsX, groupsY, groupsZ}}, func() error {
		return c.device.dispatch(snapshot, [3]uint32{groupsX, groupsY, groupsZ})
	})
}

func (c *CommandList) DispatchIndirect(state *renderer.ComputeState, args renderer.Buffer, offset uint64) {
	snapshot := snapshotCompute(state)
	c.record(Command{Type: CommandDispatchIndirect, Label: state.Pipeline.Name()}, func() error {
		b, err := asBuffer(args)
		if err != nil {
			return err
		}
		if offset+12 > b.desc.Size {
			return fmt.Errorf("%w: indirect dispatch arguments at %d of %q", ErrOutOfRange, offset, b.desc.DebugName)
		}
		groups := [3]uint32{
			binary.LittleEndian.Uint32(b.mem[offset:]),
			binary.LittleEndian.Uint32(b.mem[offset+4:]),
			binary.LittleEndian.Uint32(b.mem[offset+8:]),
		}
		return c.device.dispatch(snapshot, groups)
	})
}

func (c *CommandList) Draw(state *renderer.GraphicsState, vertexCount, instanceCount uint32) {
	snapshot := snapshotGraphics(state)
	c.record(Command{Type: CommandDraw, Label: state.Pipeline.Name()}, func() error {
		ctx, kernel, err := c.device.drawContext(snapshot)
		if err != nil {
			return err
		}
		ctx.VertexCount = vertexCount
		ctx.InstanceCount = instanceCount
		kernel(ctx)
		c.device.countDraws(1)
		return nil
	})
}

func (c *CommandList) DrawIndexedIndirectCount(state *renderer.GraphicsState, args renderer.Buffer, argsOffset uint64, count renderer.Buffer, countOffset uint64, maxDraws uint32) {
	snapshot := snapshotGraphics(state)
	c.record(Command{Type: CommandDrawIndexedIndirectCount, Label: state.Pipeline.Name()}, func() error {
		a, err := asBuffer(args)
		if err != nil {
			return err
		}
		cb, err := asBuffer(count)
		if err != nil {
			return err
		}
		if countOffset+4 > cb.desc.Size {
			return fmt.Errorf("%w: draw count at %d of %q", ErrOutOfRange, countOffset, cb.desc.DebugName)
		}
		n := min(binary.LittleEndian.Uint32(cb.mem[countOffset:]), maxDraws)
		if argsOffset+uint64(n)*metadata.DrawIndexedIndirectCommandSize > a.desc.Size {
			return fmt.Errorf("%w: %d indirect draws at %d of %q", ErrOutOfRange, n, argsOffset, a.desc.DebugName)
		}

		ctx, kernel, err := c.device.drawContext(snapshot)
		if err != nil {
			return err
		}
		ctx.Indirect = true
		for i := uint32(0); i < n; i++ {
			at := argsOffset + uint64(i)*metadata.DrawIndexedIndirectCommandSize
			ctx.DrawIndex = i
			ctx.Command = decodeDrawCommand(a.mem[at:])
			kernel(ctx)
		}
		c.device.countDraws(uint64(n))
		return nil
	})
}

func decodeDrawCommand(b []byte) metadata.DrawIndexedIndirectCommand {
	return metadata.DrawIndexedIndirectCommand{
		IndexCount:    binary.LittleEndian.Uint32(b[0:]),
		InstanceCount: binary.LittleEndian.Uint32(b[4:]),
		FirstIndex:    binary.LittleEndian.Uint32(b[8:]),
		VertexOffset:  int32(binary.LittleEndian.Uint32(b[12:])),
		FirstInstance: binary.LittleEndian.Uint32(b[16:]),
	}
}

func snapshotCompute(state *renderer.ComputeState) renderer.ComputeState {
	s := renderer.ComputeState{
		Pipeline:  state.Pipeline,
		Bindings:  append([]renderer.Binding(nil), state.Bindings...),
		Constants: append([]byte(nil), state.Constants...),
	}
	return s
}

func snapshotGraphics(state *renderer.GraphicsState) renderer.GraphicsState {
	s := *state
	s.Bindings = append([]renderer.Binding(nil), state.Bindings...)
	s.Constants = append([]byte(nil), state.Constants...)
	s.ColorTargets = append([]renderer.Texture(nil), state.ColorTargets...)
	return s
}

func asTexture(tex renderer.Texture) (*Texture, error) {
	t, ok := tex.(*Texture)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrForeignObject, tex)
	}
	if t.mem == nil {
		return nil, fmt.Errorf("%w: %q", ErrVirtualResource, t.desc.DebugName)
	}
	return t, nil
}

func asBuffer(buf renderer.Buffer) (*Buffer, error) {
	b, ok := buf.(*Buffer)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrForeignObject, buf)
	}
	if b.mem == nil {
		return nil, fmt.Errorf("%w: %q", ErrVirtualResource, b.desc.DebugName)
	}
	return b, nil
}

// dispatch runs every workgroup, at most d.workers at a time.
func (d *Device) dispatch(state renderer.ComputeState, groups [3]uint32) error {
	p, ok := state.Pipeline.(*ComputePipeline)
	if !ok {
		return fmt.Errorf("%w: pipeline %T", ErrForeignObject, state.Pipeline)
	}
	resources, err := resolveBindings(state.Bindings)
	if err != nil {
		return fmt.Errorf("dispatch %q: %w", p.name, err)
	}
	inv := &Invocation{Constants: state.Constants, GroupCount: groups, resources: resources}

	var eg errgroup.Group
	eg.SetLimit(d.workers)
	for z := uint32(0); z < groups[2]; z++ {
		for y := uint32(0); y < groups[1]; y++ {
			for x := uint32(0); x < groups[0]; x++ {
				eg.Go(func() error {
					p.kernel(inv, x, y, z)
					return nil
				})
			}
		}
	}
	err = eg.Wait()

	d.mu.Lock()
	d.stats.Dispatches++
	d.mu.Unlock()
	return err
}

func (d *Device) drawContext(state renderer.GraphicsState) (*DrawContext, RasterKernel, error) {
	p, ok := state.Pipeline.(*GraphicsPipeline)
	if !ok {
		return nil, nil, fmt.Errorf("%w: pipeline %T", ErrForeignObject, state.Pipeline)
	}
	resources, err := resolveBindings(state.Bindings)
	if err != nil {
		return nil, nil, fmt.Errorf("draw %q: %w", p.name, err)
	}
	ctx := &DrawContext{
		Pipeline:  p.desc,
		Constants: state.Constants,
		resources: resources,
	}
	for _, target := range state.ColorTargets {
		t, err := asTexture(target)
		if err != nil {
			return nil, nil, err
		}
		ctx.Targets = append(ctx.Targets, &TextureView{tex: t})
		ctx.Width, ctx.Height = t.desc.Width, t.desc.Height
	}
	if state.DepthTarget != nil {
		t, err := asTexture(state.DepthTarget)
		if err != nil {
			return nil, nil, err
		}
		ctx.Depth = &TextureView{tex: t}
		ctx.Width, ctx.Height = t.desc.Width, t.desc.Height
	}
	if state.VertexBuffer != nil {
		b, err := asBuffer(state.VertexBuffer)
		if err != nil {
			return nil, nil, err
		}
		ctx.vertices = newBufferView(b)
	}
	if state.IndexBuffer != nil {
		b, err := asBuffer(state.IndexBuffer)
		if err != nil {
			return nil, nil, err
		}
		ctx.indices = newBufferView(b)
	}
	return ctx, p.kernel, nil
}

func (d *Device) countDraws(n uint64) {
	d.mu.Lock()
	d.stats.Draws += n
	d.mu.Unlock()
}

var _ renderer.CommandList = (*CommandList)(nil)
