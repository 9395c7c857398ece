// Package sink provides ready-made consumers for pipes.
//
// A sink binds to a pipe by installing its OnData/OnEnd hooks. Binding
// must happen before the pipe starts delivering, on the loop goroutine.
package sink

import (
	"sync"

	"github.com/pithecene-io/sluice/pipe"
)

// Collector accumulates every delivered byte in memory. Intended for
// tests and tooling, not production payloads.
type Collector struct {
	mu      sync.Mutex
	data    []byte
	deliver int
	ended   bool
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Bind installs the collector as p's consumer.
func (c *Collector) Bind(p *pipe.Pipe) {
	p.OnData = func(data []byte, ack *pipe.Ack) {
		c.mu.Lock()
		c.data = append(c.data, data...)
		c.deliver++
		c.mu.Unlock()
		ack.Consumed(len(data), false)
	}
	p.OnEnd = func() {
		c.mu.Lock()
		c.ended = true
		c.mu.Unlock()
	}
}

// Bytes returns a copy of everything delivered so far.
func (c *Collector) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, len(c.data))
	copy(out, c.data)
	return out
}

// Deliveries returns how many dispatches the collector has received.
func (c *Collector) Deliveries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deliver
}

// Ended reports whether the pipe's end signal fired.
func (c *Collector) Ended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}
