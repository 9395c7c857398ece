// Package spill manages a pipe's temporary overflow file.
//
// A Manager owns one lazily created file in a caller-supplied directory and
// serialises every operation against it on a dedicated worker goroutine.
// Operations execute in submission order, one at a time, so a read enqueued
// after an append always observes that append's bytes. Completions are
// handed to the event-loop bridge supplied at construction; the pipe's
// state never crosses goroutines.
//
// The file is append-only on the write side and sequential on the read
// side: Append advances the write offset, Read and Discard advance the
// read offset. The unread region is always [readOffset, writeOffset).
package spill

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/pithecene-io/sluice/iox"
	"github.com/pithecene-io/sluice/log"
)

// ErrClosed is returned for operations submitted after CloseAndRemove.
var ErrClosed = errors.New("spill: manager closed")

// PostFunc posts a completion back onto the owning event loop.
type PostFunc func(fn func())

// Manager serialises asynchronous operations against one spill file.
type Manager struct {
	dir    string
	post   PostFunc
	logger *log.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []op
	closed bool

	// Worker-owned; never touched off the worker goroutine.
	file        *os.File
	path        string
	writeOffset int64
	readOffset  int64
}

type op func()

// NewManager creates a Manager spilling into dir and starts its worker.
// Completions are delivered through post. The file itself is created
// lazily by the first Append.
func NewManager(dir string, post PostFunc, logger *log.Logger) *Manager {
	m := &Manager{
		dir:    dir,
		post:   post,
		logger: logger,
	}
	m.cond = sync.NewCond(&m.mu)
	go m.work()
	return m
}

// Append writes p at the write offset and advances it by the bytes written.
// done receives that count and the error, if any; the manager keeps
// accepting operations after a failed append.
func (m *Manager) Append(p []byte, done func(n int, err error)) {
	m.submit(func() {
		if err := m.ensureFile(); err != nil {
			m.post(func() { done(0, err) })
			return
		}
		n, err := m.file.WriteAt(p, m.writeOffset)
		if err != nil {
			err = fmt.Errorf("spill: append to %s: %w", m.path, err)
		}
		m.writeOffset += int64(n)
		m.post(func() { done(n, err) })
	}, func() { done(0, ErrClosed) })
}

// Read reads up to maxLen bytes from the read offset and advances it.
// The returned slice is freshly allocated and owned by the caller.
// Reading when no bytes are unread yields an empty slice, not an error.
func (m *Manager) Read(maxLen int, done func(p []byte, err error)) {
	m.submit(func() {
		avail := m.writeOffset - m.readOffset
		if avail <= 0 || m.file == nil {
			m.post(func() { done(nil, nil) })
			return
		}
		n := int64(maxLen)
		if n > avail {
			n = avail
		}
		buf := make([]byte, n)
		read, err := m.file.ReadAt(buf, m.readOffset)
		if err != nil {
			m.post(func() { done(nil, fmt.Errorf("spill: read from %s: %w", m.path, err)) })
			return
		}
		m.readOffset += int64(read)
		m.post(func() { done(buf[:read], nil) })
	}, func() { done(nil, ErrClosed) })
}

// Discard advances the read offset by n without reading, dropping bytes
// that were already delivered to the consumer from memory before they
// reached the file. n must not exceed the unread region.
func (m *Manager) Discard(n int64, done func(err error)) {
	m.submit(func() {
		if n > m.writeOffset-m.readOffset {
			m.post(func() {
				done(fmt.Errorf("spill: discard %d exceeds unread %d", n, m.writeOffset-m.readOffset))
			})
			return
		}
		m.readOffset += n
		m.post(func() { done(nil) })
	}, func() { done(ErrClosed) })
}

// CloseAndRemove closes the file, unlinks it, and terminates the worker
// once every previously submitted operation has completed. Subsequent
// operations fail with ErrClosed. done may be nil.
func (m *Manager) CloseAndRemove(done func(err error)) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		if done != nil {
			m.post(func() { done(ErrClosed) })
		}
		return
	}
	m.closed = true
	m.queue = append(m.queue, func() {
		err := m.release()
		if done != nil {
			m.post(func() { done(err) })
		}
	})
	m.cond.Signal()
	m.mu.Unlock()
}

// submit enqueues fn unless the manager is closed, in which case rejected
// runs instead (posted, so the caller never re-enters synchronously).
func (m *Manager) submit(fn op, rejected func()) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.post(rejected)
		return
	}
	m.queue = append(m.queue, fn)
	m.cond.Signal()
	m.mu.Unlock()
}

func (m *Manager) work() {
	for {
		m.mu.Lock()
		for len(m.queue) == 0 {
			m.cond.Wait()
		}
		fn := m.queue[0]
		m.queue = m.queue[1:]
		closed := m.closed
		remaining := len(m.queue)
		m.mu.Unlock()
		fn()
		if closed && remaining == 0 {
			return
		}
	}
}

func (m *Manager) ensureFile() error {
	if m.file != nil {
		return nil
	}
	path := filepath.Join(m.dir, "sluice-"+uuid.NewString()+".spill")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("spill: create %s: %w", path, err)
	}
	m.file = f
	m.path = path
	m.logger.Debug("spill file created", map[string]any{"path": path})
	return nil
}

func (m *Manager) release() error {
	if m.file == nil {
		return nil
	}
	err := iox.CloseRemove(m.file, m.path)
	if err != nil {
		err = fmt.Errorf("spill: release %s: %w", m.path, err)
	} else {
		m.logger.Debug("spill file removed", map[string]any{"path": m.path})
	}
	m.file = nil
	return err
}
