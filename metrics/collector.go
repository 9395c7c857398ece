// Package metrics provides per-pipe metrics collection.
//
// The Collector accumulates counters over a pipe's lifetime. It is a leaf
// package with no internal dependencies. All increment methods are
// nil-receiver safe so the pipe can record unconditionally whether or not
// the host supplied a collector.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all pipe counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Write path
	WritesAccepted int64 // writes fully consumed synchronously
	WritesBuffered int64 // writes retained in memory or on disk
	WritesRejected int64 // writes refused after End or on a failed or closed pipe
	BytesWritten   int64

	// Consumption
	Dispatches     int64
	BytesDelivered int64
	BytesConsumed  int64

	// Spill
	Spills       int64 // memory-to-file transitions
	DiskWrites   int64 // completed spill appends
	DiskReads    int64 // completed spill reads
	BytesSpilled int64
	DiskErrors   int64

	// Dimensions (informational, set at construction)
	PipeID string
}

// Collector accumulates metrics for a single pipe.
// Thread-safe via sync.Mutex.
type Collector struct {
	mu sync.Mutex

	writesAccepted int64
	writesBuffered int64
	writesRejected int64
	bytesWritten   int64

	dispatches     int64
	bytesDelivered int64
	bytesConsumed  int64

	spills       int64
	diskWrites   int64
	diskReads    int64
	bytesSpilled int64
	diskErrors   int64

	pipeID string
}

// NewCollector creates a Collector with the pipe identity dimension.
func NewCollector(pipeID string) *Collector {
	return &Collector{pipeID: pipeID}
}

// --- Write path ---

// IncWriteAccepted records a write that was fully consumed synchronously.
func (c *Collector) IncWriteAccepted(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.writesAccepted++
	c.bytesWritten += n
	c.mu.Unlock()
}

// IncWriteBuffered records a write retained in memory or on disk.
func (c *Collector) IncWriteBuffered(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.writesBuffered++
	c.bytesWritten += n
	c.mu.Unlock()
}

// IncWriteRejected records a write the pipe refused (after End, or on a
// failed or closed pipe).
func (c *Collector) IncWriteRejected() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.writesRejected++
	c.mu.Unlock()
}

// --- Consumption ---

// IncDispatch records one consumer callback invocation delivering n bytes.
func (c *Collector) IncDispatch(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.dispatches++
	c.bytesDelivered += n
	c.mu.Unlock()
}

// AddConsumed records bytes acknowledged as consumed.
func (c *Collector) AddConsumed(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.bytesConsumed += n
	c.mu.Unlock()
}

// --- Spill ---

// IncSpill records a memory-to-file residency transition.
func (c *Collector) IncSpill() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.spills++
	c.mu.Unlock()
}

// IncDiskWrite records a completed spill append of n bytes.
func (c *Collector) IncDiskWrite(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.diskWrites++
	c.bytesSpilled += n
	c.mu.Unlock()
}

// IncDiskRead records a completed spill read.
func (c *Collector) IncDiskRead() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.diskReads++
	c.mu.Unlock()
}

// IncDiskError records a fatal disk I/O failure.
func (c *Collector) IncDiskError() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.diskErrors++
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		WritesAccepted: c.writesAccepted,
		WritesBuffered: c.writesBuffered,
		WritesRejected: c.writesRejected,
		BytesWritten:   c.bytesWritten,

		Dispatches:     c.dispatches,
		BytesDelivered: c.bytesDelivered,
		BytesConsumed:  c.bytesConsumed,

		Spills:       c.spills,
		DiskWrites:   c.diskWrites,
		DiskReads:    c.diskReads,
		BytesSpilled: c.bytesSpilled,
		DiskErrors:   c.diskErrors,

		PipeID: c.pipeID,
	}
}
