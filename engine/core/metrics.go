package core

import "github.com/spaghettifunk/prism/engine/containers"

const AVG_COUNT int = 30

// FrameMetrics keeps a moving average of frame times and a once-per-second
// frames-per-second counter.
type FrameMetrics struct {
	samples            *containers.RingQueue[float64]
	msAvg              float64
	frames             int32
	accumulatedFrameMS float64
	fps                float64
	total              uint64
}

func NewFrameMetrics() *FrameMetrics {
	return &FrameMetrics{
		samples: containers.NewRingQueue[float64](AVG_COUNT),
	}
}

// Update records the duration of one frame, in seconds.
func (m *FrameMetrics) Update(frameElapsedTime float64) {
	frameMS := frameElapsedTime * 1000.0
	m.samples.Push(frameMS)

	sum := 0.0
	m.samples.Each(func(v float64) { sum += v })
	m.msAvg = sum / float64(m.samples.Len())

	m.accumulatedFrameMS += frameMS
	m.frames++
	if m.accumulatedFrameMS >= 1000 {
		m.fps = float64(m.frames)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
	}
	m.total++
}

func (m *FrameMetrics) FPS() float64 {
	return m.fps
}

// FrameTime is the average frame time in milliseconds.
func (m *FrameMetrics) FrameTime() float64 {
	return m.msAvg
}

func (m *FrameMetrics) Frames() uint64 {
	return m.total
}
