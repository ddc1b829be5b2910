package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssertPanicsWithContractViolation(t *testing.T) {
	defer func() {
		r := recover()
		err, ok := r.(error)
		if assert.True(t, ok, "panic value should be an error") {
			assert.True(t, errors.Is(err, ErrContractViolation))
			assert.Contains(t, err.Error(), "zero-sized")
		}
	}()
	Assert(false, "zero-sized %s", "texture")
}

func TestAssertPassesThrough(t *testing.T) {
	assert.NotPanics(t, func() { Assert(true, "never") })
	assert.NotPanics(t, func() { Must(nil, "never") })
	assert.Panics(t, func() { Must(ErrUnknown, "device") })
}

func TestEventBus(t *testing.T) {
	bus := NewEventBus()
	var got []uint32
	first := &struct{}{}
	second := &struct{}{}

	assert.True(t, bus.Register(EVENT_CODE_RESIZED, first, func(ctx EventContext) bool {
		got = append(got, ctx.Data.(*ResizeEvent).Width)
		return false
	}))
	assert.True(t, bus.Register(EVENT_CODE_RESIZED, second, func(ctx EventContext) bool {
		got = append(got, ctx.Data.(*ResizeEvent).Height)
		return true
	}))
	assert.False(t, bus.Register(EVENT_CODE_RESIZED, first, func(EventContext) bool { return false }))

	handled := bus.Fire(EventContext{Type: EVENT_CODE_RESIZED, Data: &ResizeEvent{Width: 640, Height: 480}})
	assert.True(t, handled)
	assert.Equal(t, []uint32{640, 480}, got)

	assert.True(t, bus.Unregister(EVENT_CODE_RESIZED, second))
	assert.False(t, bus.Unregister(EVENT_CODE_RESIZED, second))
	assert.False(t, bus.Fire(EventContext{Type: EVENT_CODE_RESIZED, Data: &ResizeEvent{}}))
	assert.False(t, bus.Fire(EventContext{Type: EVENT_CODE_APPLICATION_QUIT}))
}

func TestFrameMetrics(t *testing.T) {
	m := NewFrameMetrics()
	// 62.5ms is exact in binary floating point: 16 frames make one second.
	for i := 0; i < 40; i++ {
		m.Update(0.0625)
	}
	assert.Equal(t, 62.5, m.FrameTime())
	assert.Equal(t, float64(16), m.FPS())
	assert.Equal(t, uint64(40), m.Frames())
}

func TestClock(t *testing.T) {
	c := NewClock()
	c.Update()
	assert.Zero(t, c.Elapsed())
	c.Start()
	c.Update()
	assert.GreaterOrEqual(t, c.Elapsed(), 0.0)
	c.Stop()
	e := c.Elapsed()
	c.Update()
	assert.Equal(t, e, c.Elapsed())
}
