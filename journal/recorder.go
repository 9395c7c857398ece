package journal

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pithecene-io/sluice/types"
)

// Entry carries the per-event fields of a record; the Recorder fills in
// identity, sequence and timestamp.
type Entry struct {
	Type       types.RecordType
	Bytes      int64
	BufferSize int64
	State      types.DataState
	Done       bool
	Detail     string
}

// Recorder writes journal records for one pipe to an underlying writer.
// Thread-safe; records carry a monotonic sequence starting at 1.
//
// The Recorder writes synchronously on the caller's goroutine. Pipes record
// from their event loop, so the sink should be fast (a file or an in-memory
// buffer, not a network hop).
type Recorder struct {
	mu     sync.Mutex
	w      io.Writer
	pipeID string
	seq    int64
}

// NewRecorder creates a Recorder for the given pipe identity.
func NewRecorder(w io.Writer, pipeID string) *Recorder {
	return &Recorder{w: w, pipeID: pipeID}
}

// Record encodes and writes one journal record.
func (r *Recorder) Record(e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	rec := &types.Record{
		FormatVersion: types.Version,
		PipeID:        r.pipeID,
		Seq:           r.seq,
		Type:          e.Type,
		Ts:            time.Now().UTC().Format(time.RFC3339Nano),
		Bytes:         e.Bytes,
		BufferSize:    e.BufferSize,
		State:         e.State.String(),
		Done:          e.Done,
		Detail:        e.Detail,
	}

	frame, err := EncodeRecord(rec)
	if err != nil {
		return err
	}
	if _, err := r.w.Write(frame); err != nil {
		return fmt.Errorf("journal: write record: %w", err)
	}
	return nil
}

// Close closes the underlying writer when it implements io.Closer.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
