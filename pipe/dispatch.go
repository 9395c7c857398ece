package pipe

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pithecene-io/sluice/types"
)

type dispatchMode int

const (
	// modeHead: the dispatched bytes are still part of the logical buffer
	// (the head memory chunk, or the file head if a spill overtook them
	// mid-dispatch). The ack drops consumed bytes from wherever the head
	// now resides.
	modeHead dispatchMode = iota
	// modeRead: the dispatched bytes were read out of the spill file and
	// are held by the pipe until acknowledged; an unconsumed tail is
	// pushed back as the new head memory chunk.
	modeRead
)

// dispatch is one outstanding consumer callback.
type dispatch struct {
	p       *Pipe
	mode    dispatchMode
	size    int
	readBuf []byte
}

// Ack is the one-shot handle a consumer uses to report how many dispatched
// bytes it accepted and whether it wants more. Consumed may be invoked
// from any goroutine; invoking it twice panics.
type Ack struct {
	mu         sync.Mutex
	d          *dispatch
	syncWindow bool
	fired      bool
	consumed   int
	done       bool
}

// Consumed reports that the consumer accepted the first consumed bytes of
// the dispatched slice. done=true pauses the pipe (equivalent to Stop).
// consumed must be within [0, len(dispatched)]; zero is legal and causes
// the same bytes to be re-presented on the next drain.
func (a *Ack) Consumed(consumed int, done bool) {
	a.mu.Lock()
	if a.fired {
		a.mu.Unlock()
		panic("pipe: ack invoked more than once for a single dispatch")
	}
	if consumed < 0 || consumed > a.d.size {
		size := a.d.size
		a.mu.Unlock()
		panic(fmt.Sprintf("pipe: ack reported %d consumed bytes of a %d byte dispatch", consumed, size))
	}
	a.fired = true
	a.consumed = consumed
	a.done = done
	if a.syncWindow {
		// The delivering call frame is still inside OnData; it picks the
		// result up when the callback returns.
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	d := a.d
	d.p.loop.Post(func() { d.p.handleAck(d, consumed, done) })
}

// deliver invokes the consumer callback and reports whether the ack fired
// synchronously, together with its result.
func (p *Pipe) deliver(d *dispatch, data []byte) (fired bool, consumed int, done bool) {
	p.collector.IncDispatch(int64(len(data)))
	p.record(types.RecordTypeDispatch, int64(len(data)), false, "")

	a := &Ack{d: d, syncWindow: true}
	p.OnData(data, a)

	a.mu.Lock()
	a.syncWindow = false
	fired, consumed, done = a.fired, a.consumed, a.done
	a.mu.Unlock()
	return fired, consumed, done
}

// handleAck is the loop-side entry point for acknowledgements that did not
// fire synchronously within the delivering call frame.
func (p *Pipe) handleAck(d *dispatch, consumed int, done bool) {
	if p.closed || p.err != nil || p.dispatch != d {
		return
	}
	p.applyAck(d, consumed, done)
	p.drain()
}

// applyAck performs the bookkeeping for one acknowledgement: dropping
// consumed bytes from the dispatch's source, updating accounting, and
// honouring the consumer's pause request.
func (p *Pipe) applyAck(d *dispatch, consumed int, done bool) {
	p.dispatch = nil
	p.collector.AddConsumed(int64(consumed))

	switch d.mode {
	case modeHead:
		if consumed > 0 {
			if len(p.memChunks) > 0 {
				head := p.memChunks[0]
				if consumed >= len(head) {
					p.memChunks = p.memChunks[1:]
				} else {
					p.memChunks[0] = head[consumed:]
				}
			} else {
				// The head was spilled while the dispatch was outstanding;
				// the consumed bytes sit at the file's unread head.
				p.discardFromFile(int64(consumed))
			}
		}
		p.bufferSize -= int64(consumed)
	case modeRead:
		p.bufferSize -= int64(consumed)
		if consumed < d.size {
			tail := d.readBuf[consumed:]
			p.memChunks = append([][]byte{tail}, p.memChunks...)
		}
	}

	if done {
		p.started = false
	}
	p.updateResidency()
	p.record(types.RecordTypeAck, int64(consumed), done, "")
}

// drain delivers buffered bytes to the consumer, one slice at a time,
// until the buffer empties, the consumer defers or pauses, or a disk read
// takes over. Synchronous acknowledgements keep the drain going within
// the current task; deferred ones resume it from handleAck.
func (p *Pipe) drain() {
	p.drainLoop()
	p.maybeFinish()
}

func (p *Pipe) drainLoop() {
	for {
		if p.err != nil || p.closed || !p.started || p.dispatch != nil ||
			p.diskRead || p.bufferSize == 0 || p.OnData == nil {
			return
		}
		if len(p.memChunks) > 0 {
			head := p.memChunks[0]
			d := &dispatch{p: p, mode: modeHead, size: len(head)}
			p.dispatch = d
			fired, consumed, done := p.deliver(d, head)
			if !fired {
				return
			}
			p.applyAck(d, consumed, done)
			continue
		}
		if p.fileBytes > 0 {
			p.startFileRead()
			return
		}
		return
	}
}

// startFileRead begins an asynchronous read of the next block from the
// spill file. The dispatch slot is held for the duration of the read so no
// other delivery can interleave.
func (p *Pipe) startFileRead() {
	d := &dispatch{p: p, mode: modeRead}
	p.dispatch = d
	p.diskRead = true
	p.mgr.Read(p.readBlock, func(buf []byte, err error) {
		p.diskRead = false
		if p.closed || p.dispatch != d {
			return
		}
		if err != nil {
			p.dispatch = nil
			p.fail(err)
			return
		}
		if len(buf) == 0 {
			p.dispatch = nil
			p.fail(errors.New("pipe: spill read returned no data"))
			return
		}
		p.fileBytes -= int64(len(buf))
		p.collector.IncDiskRead()
		p.record(types.RecordTypeDiskRead, int64(len(buf)), false, "")
		d.size = len(buf)
		d.readBuf = buf
		fired, consumed, done := p.deliver(d, buf)
		if !fired {
			return
		}
		p.applyAck(d, consumed, done)
		p.drain()
	})
}

// maybeFinish fires the end signal once the stream is complete: End was
// called, the buffer fully drained, no dispatch is outstanding, and the
// pipe is started (a paused pipe defers the signal until resumed).
func (p *Pipe) maybeFinish() {
	if !p.ending || p.ended || !p.started || p.err != nil || p.closed {
		return
	}
	if p.bufferSize != 0 || p.dispatch != nil {
		return
	}
	p.ended = true
	p.record(types.RecordTypeEnd, 0, false, "")
	p.logger.Debug("end of stream delivered", nil)
	if p.OnEnd != nil {
		p.OnEnd()
	}
}

// fail moves the pipe to the error-terminal state. Buffered data is
// dropped, the spill file is released best-effort, and every subsequent
// public call is a no-op. The end signal never fires after a failure.
func (p *Pipe) fail(err error) {
	if p.err != nil || p.closed {
		return
	}
	p.err = err
	p.started = false
	p.dispatch = nil
	p.diskRead = false
	p.memChunks = nil
	p.bufferSize = 0
	p.fileBytes = 0
	p.collector.IncDiskError()
	p.record(types.RecordTypeError, 0, false, err.Error())
	p.logger.Error("pipe failed", map[string]any{"error": err.Error()})
	if p.mgr != nil {
		mgr := p.mgr
		p.mgr = nil
		mgr.CloseAndRemove(nil)
	}
	if p.OnError != nil {
		p.OnError(err)
	}
}
