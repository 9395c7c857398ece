package sink

import (
	"fmt"
	"io"
	"sync"

	"github.com/pithecene-io/sluice/pipe"
)

// Writer pumps pipe output into an io.Writer, acknowledging each delivery
// with the byte count the writer actually took. A write failure pauses the
// pipe and surfaces through Err; Done closes on end of stream or failure.
type Writer struct {
	w io.Writer

	mu   sync.Mutex
	err  error
	done chan struct{}
}

// NewWriter creates a Writer sink over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, done: make(chan struct{})}
}

// Bind installs the sink as p's consumer.
func (s *Writer) Bind(p *pipe.Pipe) {
	p.OnData = func(data []byte, ack *pipe.Ack) {
		n, err := s.w.Write(data)
		if err != nil {
			s.fail(fmt.Errorf("sink: write: %w", err))
			// Pause the pipe; the unwritten tail stays buffered so the
			// host can rebind and resume.
			ack.Consumed(n, true)
			return
		}
		ack.Consumed(n, false)
	}
	p.OnEnd = func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		select {
		case <-s.done:
		default:
			close(s.done)
		}
	}
}

func (s *Writer) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// Done closes when the stream ends or the sink fails.
func (s *Writer) Done() <-chan struct{} {
	return s.done
}

// Err returns the first write failure, or nil.
func (s *Writer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
