// Package input provides input buffering for byte sources in evented programs.
//
// Wrap a Buffered around an io.Reader and provide a data handler. The
// handler is called on the event loop every time source data arrives and
// returns the number of bytes it actually consumed. If not everything was
// consumed, the handler is called again with the remaining data on the
// next tick. Pausing stops delivery and stops pulling from the source once
// the in-flight read completes; resuming picks up where delivery left off.
package input

import (
	"errors"
	"io"

	"github.com/pithecene-io/sluice/evloop"
	"github.com/pithecene-io/sluice/log"
)

// DefaultBlockSize is the default size of a single source read.
const DefaultBlockSize = 8 * 1024

// State reports where a Buffered is in its lifecycle.
type State int

const (
	// StateLive means the source is readable and delivery proceeds while
	// the input is started.
	StateLive State = iota
	// StateEndOfStream means the source reported end of stream and every
	// buffered byte was delivered.
	StateEndOfStream
	// StateReadError means a source read failed; the input is dead.
	StateReadError
	// StateClosed means Close was called.
	StateClosed
)

// DataFunc handles a slice of source data and returns how many bytes it
// consumed, within [0, len(data)].
type DataFunc func(data []byte) int

// Options configures a Buffered.
type Options struct {
	// BlockSize bounds a single source read. Zero means DefaultBlockSize.
	BlockSize int
	// Logger receives structured events. Nil means silent.
	Logger *log.Logger
}

// Buffered delivers bytes from an io.Reader to a consumer on an event
// loop, with pause/resume and re-presentation of unconsumed tails.
// All methods must be called on the loop goroutine.
type Buffered struct {
	// OnData handles arriving data. Must be set before Start.
	OnData DataFunc
	// OnEnd signals end of stream, after the last buffered byte drains.
	// May be nil.
	OnEnd func()
	// OnError surfaces a source read failure. May be nil.
	OnError func(err error)

	loop      *evloop.Loop
	src       io.Reader
	blockSize int
	logger    *log.Logger

	state       State
	paused      bool
	readPending bool
	nextTick    bool
	eof         bool
	// holdover is the unconsumed remainder of the last read. A new source
	// read is only issued once it is empty, so it never grows past one
	// block.
	holdover []byte
}

// New creates a paused Buffered around src.
func New(loop *evloop.Loop, src io.Reader, opts Options) (*Buffered, error) {
	if loop == nil {
		return nil, errors.New("input: loop is required")
	}
	if src == nil {
		return nil, errors.New("input: source is required")
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultBlockSize
	}
	return &Buffered{
		loop:      loop,
		src:       src,
		blockSize: opts.BlockSize,
		logger:    opts.Logger,
		paused:    true,
	}, nil
}

// Start resumes delivery. Held-over data is delivered on the next tick;
// otherwise a source read is issued.
func (b *Buffered) Start() {
	if b.state != StateLive || !b.paused {
		return
	}
	b.paused = false
	switch {
	case len(b.holdover) > 0:
		b.processInNextTick()
	case b.eof:
		b.maybeEnd()
	default:
		b.scheduleRead()
	}
}

// Stop pauses delivery. An in-flight source read completes and its data is
// held until Start.
func (b *Buffered) Stop() {
	if b.state != StateLive {
		return
	}
	b.paused = true
}

// IsStarted reports whether delivery is active.
func (b *Buffered) IsStarted() bool {
	return b.state == StateLive && !b.paused
}

// State reports the input lifecycle state.
func (b *Buffered) State() State {
	return b.state
}

// Close stops the input permanently. An in-flight read's result is dropped.
func (b *Buffered) Close() {
	b.state = StateClosed
	b.holdover = nil
}

// scheduleRead issues one source read on a background goroutine and posts
// its result back to the loop. At most one read is outstanding.
func (b *Buffered) scheduleRead() {
	if b.readPending || b.eof {
		return
	}
	b.readPending = true
	go func() {
		buf := make([]byte, b.blockSize)
		n, err := b.src.Read(buf)
		b.loop.Post(func() { b.onReadComplete(buf[:n], err) })
	}()
}

func (b *Buffered) onReadComplete(data []byte, err error) {
	b.readPending = false
	if b.state != StateLive {
		return
	}

	if err != nil && !errors.Is(err, io.EOF) {
		b.state = StateReadError
		b.holdover = nil
		b.logger.Error("source read failed", map[string]any{"error": err.Error()})
		if b.OnError != nil {
			b.OnError(err)
		}
		return
	}
	if errors.Is(err, io.EOF) {
		b.eof = true
	}

	if len(data) > 0 {
		b.holdover = data
		b.processBuffer()
		return
	}
	b.maybeEnd()
}

func (b *Buffered) processInNextTick() {
	if b.nextTick {
		return
	}
	b.nextTick = true
	b.loop.Post(func() {
		b.nextTick = false
		b.processBuffer()
	})
}

func (b *Buffered) processBuffer() {
	if b.state != StateLive || b.paused || len(b.holdover) == 0 {
		return
	}

	consumed := b.OnData(b.holdover)
	if b.state != StateLive {
		return
	}
	if consumed < 0 || consumed > len(b.holdover) {
		panic("input: handler consumed count outside [0, len(data)]")
	}

	if consumed == len(b.holdover) {
		b.holdover = nil
		if b.paused {
			return
		}
		if b.eof {
			b.maybeEnd()
			return
		}
		b.scheduleRead()
		return
	}

	b.holdover = b.holdover[consumed:]
	if !b.paused {
		// Consume the rest of the data in the next tick.
		b.processInNextTick()
	}
}

func (b *Buffered) maybeEnd() {
	if b.state != StateLive || b.paused || !b.eof || len(b.holdover) > 0 {
		return
	}
	b.state = StateEndOfStream
	b.logger.Debug("end of stream", nil)
	if b.OnEnd != nil {
		b.OnEnd()
	}
}
