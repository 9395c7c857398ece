// Package pipe implements a file-backed streaming pipe.
//
// A Pipe is a single-producer, single-consumer byte conduit. The producer
// calls Write; the consumer receives data through the OnData callback and
// reports, possibly asynchronously, how many bytes it accepted and whether
// it wants more. Bytes the consumer has not yet accepted are buffered in
// memory up to a threshold and spilled to a temporary file beyond it, so a
// slow consumer never forces the producer to hold the data itself.
//
// All pipe state lives on a single event loop (see evloop). Every public
// method must be called on the loop goroutine; callers elsewhere enter
// through Loop.Post or Loop.Run. The one exception is Ack.Consumed, which
// may be invoked from any goroutine and marshals itself onto the loop.
package pipe

import (
	"errors"

	"github.com/google/uuid"

	"github.com/pithecene-io/sluice/evloop"
	"github.com/pithecene-io/sluice/journal"
	"github.com/pithecene-io/sluice/log"
	"github.com/pithecene-io/sluice/metrics"
	"github.com/pithecene-io/sluice/spill"
	"github.com/pithecene-io/sluice/types"
)

// DefaultThreshold is the default in-memory buffering cap.
const DefaultThreshold = 8 * 1024 * 1024

// DefaultReadBlockSize is the default size of a single spill-file read.
const DefaultReadBlockSize = 64 * 1024

// DataFunc is the consumer callback. data is non-empty and borrowed: the
// consumer may read it until it invokes ack, after which the pipe reclaims
// the bytes. ack must be invoked exactly once, from any goroutine.
type DataFunc func(data []byte, ack *Ack)

// EndFunc is invoked exactly once when the pipe reaches end of stream:
// End was called and every buffered byte has been consumed.
type EndFunc func()

// ErrorFunc is invoked at most once when the pipe fails fatally.
type ErrorFunc func(err error)

// Options configures a Pipe.
type Options struct {
	// Loop is the event loop that owns the pipe's state (required).
	Loop *evloop.Loop
	// Dir is the directory for the spill file (required).
	Dir string
	// ID identifies the pipe in logs, metrics and journal records.
	// Empty means a generated UUID.
	ID string
	// Threshold is the in-memory buffering cap in bytes.
	// Zero means DefaultThreshold.
	Threshold int64
	// ReadBlockSize bounds a single spill-file read.
	// Zero means DefaultReadBlockSize.
	ReadBlockSize int
	// Logger receives structured pipe events. Nil means silent.
	Logger *log.Logger
	// Metrics receives pipe counters. Nil means none collected.
	Metrics *metrics.Collector
	// Journal receives diagnostic records. Nil means no journal.
	Journal *journal.Recorder
}

// Pipe is the file-backed streaming pipe. Not safe for concurrent use:
// all access happens on the owning event loop.
type Pipe struct {
	// OnData delivers buffered bytes to the consumer. Must be set before
	// the first Write or Start; a pipe with no OnData only buffers.
	OnData DataFunc
	// OnEnd signals end of stream. May be nil.
	OnEnd EndFunc
	// OnError surfaces a fatal disk failure. May be nil.
	OnError ErrorFunc

	loop      *evloop.Loop
	dir       string
	id        string
	logger    *log.Logger
	collector *metrics.Collector
	journal   *journal.Recorder

	threshold int64
	readBlock int

	started bool
	ending  bool
	ended   bool
	closed  bool
	err     error

	state      types.DataState
	bufferSize int64

	// memChunks holds buffered bytes in FIFO order. While the residency is
	// in_file, any chunks present here are a drained-but-unconsumed head
	// that logically precedes the file's unread region.
	memChunks [][]byte

	// fileBytes counts bytes routed to the spill file and not yet read
	// back or discarded. Updated eagerly on admission, so accounting is
	// correct while appends are still in flight to disk.
	fileBytes int64
	mgr       *spill.Manager

	// dispatch is the outstanding consumer callback, nil when none.
	dispatch *dispatch
	diskRead bool
}

// New creates a pipe bound to the given loop and spill directory.
func New(opts Options) (*Pipe, error) {
	if opts.Loop == nil {
		return nil, errors.New("pipe: Options.Loop is required")
	}
	if opts.Dir == "" {
		return nil, errors.New("pipe: Options.Dir is required")
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.ReadBlockSize <= 0 {
		opts.ReadBlockSize = DefaultReadBlockSize
	}
	return &Pipe{
		loop:      opts.Loop,
		dir:       opts.Dir,
		id:        opts.ID,
		logger:    opts.Logger,
		collector: opts.Metrics,
		journal:   opts.Journal,
		threshold: opts.Threshold,
		readBlock: opts.ReadBlockSize,
		state:     types.DataStateLive,
	}, nil
}

// ID returns the pipe identity used in logs and journal records.
func (p *Pipe) ID() string { return p.id }

// Write accepts data for transmission. Returns true iff the consumer
// synchronously acknowledged the full length without pausing; false when
// any portion was retained (in memory or on disk), when the
// acknowledgement is still pending, or when the write was refused because
// End was already called. An empty write on a healthy, not yet ended pipe
// returns true without invoking the consumer.
func (p *Pipe) Write(data []byte) bool {
	if p.err != nil || p.closed || p.ending {
		p.collector.IncWriteRejected()
		p.record(types.RecordTypeReject, int64(len(data)), false, "")
		return false
	}
	if len(data) == 0 {
		return true
	}

	// Live pass-through: nothing buffered, consumer idle, pipe started.
	if p.state == types.DataStateLive && p.started && p.dispatch == nil &&
		p.bufferSize == 0 && p.OnData != nil {
		d := &dispatch{p: p, mode: modeHead, size: len(data)}
		p.dispatch = d
		fired, consumed, done := p.deliver(d, data)
		if !fired {
			// Deferred ack: retain the whole input. The outstanding
			// dispatch drops from the logical head once acknowledged.
			p.buffer(data)
			p.collector.IncWriteBuffered(int64(len(data)))
			return false
		}
		p.dispatch = nil
		p.collector.AddConsumed(int64(consumed))
		if done {
			p.started = false
		}
		if consumed == len(data) {
			p.collector.IncWriteAccepted(int64(len(data)))
			p.record(types.RecordTypeWrite, int64(len(data)), false, "")
			// Fully consumed but the consumer paused: state changed, so
			// the caller should not treat this as a pass-through success.
			return !done
		}
		p.buffer(data[consumed:])
		p.collector.IncWriteBuffered(int64(len(data)))
		if p.started && !done {
			p.drain()
		}
		return false
	}

	p.buffer(data)
	p.collector.IncWriteBuffered(int64(len(data)))
	return false
}

// Start resumes delivery. Buffered bytes drain to the consumer; if End was
// already called and the buffer is empty, the end signal fires now.
func (p *Pipe) Start() {
	if p.err != nil || p.closed || p.started || p.ended {
		return
	}
	p.started = true
	if p.bufferSize > 0 {
		p.drain()
	}
	p.maybeFinish()
}

// Stop pauses delivery. An in-flight dispatch completes; subsequent writes
// are buffered until Start.
func (p *Pipe) Stop() {
	if p.err != nil || p.closed {
		return
	}
	p.started = false
}

// End marks the stream complete. No further writes are accepted. The end
// signal fires once the buffer fully drains while the pipe is started.
func (p *Pipe) End() {
	if p.err != nil || p.closed || p.ending {
		return
	}
	p.ending = true
	p.maybeFinish()
}

// Close releases the pipe: the spill file (if any) is closed and removed,
// and any late acknowledgements or disk completions become no-ops.
func (p *Pipe) Close() {
	if p.closed {
		return
	}
	p.closed = true
	p.started = false
	p.dispatch = nil
	p.memChunks = nil
	if p.mgr != nil {
		mgr := p.mgr
		p.mgr = nil
		mgr.CloseAndRemove(nil)
	}
}

// SetThreshold changes the in-memory buffering cap. Takes effect for
// subsequent admission decisions.
func (p *Pipe) SetThreshold(n int64) {
	if n <= 0 {
		n = DefaultThreshold
	}
	p.threshold = n
}

// BufferSize returns the total buffered byte count (memory plus file).
func (p *Pipe) BufferSize() int64 { return p.bufferSize }

// DataState reports which storage tier currently holds buffered bytes.
func (p *Pipe) DataState() types.DataState { return p.state }

// IsStarted reports whether the pipe is delivering to the consumer.
func (p *Pipe) IsStarted() bool { return p.started }

// IsEnded reports whether the end signal has fired.
func (p *Pipe) IsEnded() bool { return p.ended }

// Err returns the fatal error, or nil while the pipe is healthy.
func (p *Pipe) Err() error { return p.err }

// record writes a journal entry, dropping the journal on its first failure.
func (p *Pipe) record(rt types.RecordType, bytes int64, done bool, detail string) {
	if p.journal == nil {
		return
	}
	err := p.journal.Record(journal.Entry{
		Type:       rt,
		Bytes:      bytes,
		BufferSize: p.bufferSize,
		State:      p.state,
		Done:       done,
		Detail:     detail,
	})
	if err != nil {
		p.logger.Warn("journal write failed, disabling journal", map[string]any{
			"error": err.Error(),
		})
		p.journal = nil
	}
}
