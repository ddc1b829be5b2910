package core

import "time"

// Clock measures elapsed wall time in seconds between Start and the last Update.
type Clock struct {
	start   time.Time
	elapsed float64
	running bool
}

func NewClock() *Clock {
	return &Clock{}
}

// Update refreshes the elapsed time. Has no effect on stopped clocks.
func (c *Clock) Update() {
	if c.running {
		c.elapsed = time.Since(c.start).Seconds()
	}
}

// Start starts the clock and resets the elapsed time.
func (c *Clock) Start() {
	c.start = time.Now()
	c.elapsed = 0
	c.running = true
}

// Stop stops the clock without resetting the elapsed time.
func (c *Clock) Stop() {
	c.running = false
}

func (c *Clock) Elapsed() float64 {
	return c.elapsed
}
