package pipe

import (
	"github.com/pithecene-io/sluice/spill"
	"github.com/pithecene-io/sluice/types"
)

// buffer admits data to the buffer: memory while under the threshold,
// the spill file beyond it. Admission never dispatches.
func (p *Pipe) buffer(data []byte) {
	n := int64(len(data))
	if p.state != types.DataStateInFile && p.bufferSize+n <= p.threshold {
		chunk := make([]byte, len(data))
		copy(chunk, data)
		p.memChunks = append(p.memChunks, chunk)
		p.bufferSize += n
		if p.state == types.DataStateLive {
			p.setState(types.DataStateInMemory)
		}
		p.record(types.RecordTypeWrite, n, false, "")
		return
	}
	p.toFile(data)
	p.record(types.RecordTypeWrite, n, false, "")
}

// toFile routes data to the spill file, transitioning residency first if
// needed. On transition every chunk already in memory is flushed ahead of
// data; they precede it in FIFO order and the file must hold them first.
// While the residency is already in_file, chunks in memory are a
// drained-but-unconsumed head that logically precedes the file's unread
// region, so they stay in memory untouched.
func (p *Pipe) toFile(data []byte) {
	transition := p.state != types.DataStateInFile
	if transition {
		p.setState(types.DataStateInFile)
		p.collector.IncSpill()
	}
	if p.mgr == nil {
		p.mgr = spill.NewManager(p.dir, p.loop.Post, p.logger)
	}
	flushed := int64(0)
	if transition {
		for _, chunk := range p.memChunks {
			p.appendToFile(chunk)
			flushed += int64(len(chunk))
		}
		p.memChunks = nil
	}

	chunk := make([]byte, len(data))
	copy(chunk, data)
	p.appendToFile(chunk)
	p.bufferSize += int64(len(data))
	if transition {
		p.record(types.RecordTypeSpill, flushed+int64(len(data)), false, "")
	}
}

// appendToFile hands one owned chunk to the spill manager and accounts for
// it eagerly; buffer size and file accounting are correct while the bytes
// are still in flight to disk.
func (p *Pipe) appendToFile(chunk []byte) {
	p.fileBytes += int64(len(chunk))
	p.mgr.Append(chunk, func(n int, err error) {
		if p.closed {
			return
		}
		if err != nil {
			p.fail(err)
			return
		}
		p.collector.IncDiskWrite(int64(n))
	})
}

// discardFromFile drops consumed bytes from the head of the file's unread
// region. Used when the bytes were delivered from memory before being
// spilled mid-dispatch.
func (p *Pipe) discardFromFile(n int64) {
	p.fileBytes -= n
	p.mgr.Discard(n, func(err error) {
		if p.closed {
			return
		}
		if err != nil {
			p.fail(err)
		}
	})
}

// updateResidency returns the pipe to the live state once the buffer fully
// drains, releasing the spill file.
func (p *Pipe) updateResidency() {
	if p.bufferSize != 0 || p.dispatch != nil {
		return
	}
	p.memChunks = nil
	if p.mgr != nil {
		mgr := p.mgr
		p.mgr = nil
		mgr.CloseAndRemove(func(err error) {
			if err != nil {
				p.logger.Warn("spill file release failed", map[string]any{
					"error": err.Error(),
				})
			}
		})
	}
	if p.state != types.DataStateLive {
		p.setState(types.DataStateLive)
	}
}

func (p *Pipe) setState(s types.DataState) {
	prev := p.state
	p.state = s
	p.logger.Debug("data state changed", map[string]any{
		"from": prev.String(),
		"to":   s.String(),
	})
	p.record(types.RecordTypeState, 0, false, prev.String()+"->"+s.String())
}
