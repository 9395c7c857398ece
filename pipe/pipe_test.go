package pipe

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/sluice/evloop"
	"github.com/pithecene-io/sluice/types"
)

// harness mirrors a host embedding a pipe: a consumer whose behaviour is
// tuned per test (consume immediately or defer, byte budget, pause), and
// helpers that enter the loop the way a real caller would.
type harness struct {
	t    *testing.T
	loop *evloop.Loop
	p    *Pipe
	dir  string

	mu                 sync.Mutex
	consumeImmediately bool
	toConsume          int
	doneAfterConsuming bool
	callbackCount      int
	received           string
	consumed           string
	ended              bool
	errs               []error
	pending            []*Ack
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	loop := evloop.New()
	loop.Start()

	h := &harness{
		t:                  t,
		loop:               loop,
		dir:                t.TempDir(),
		consumeImmediately: true,
		toConsume:          9999,
	}

	p, err := New(Options{Loop: loop, Dir: h.dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.OnData = h.onData
	p.OnEnd = func() {
		h.mu.Lock()
		h.ended = true
		h.mu.Unlock()
	}
	p.OnError = func(err error) {
		h.mu.Lock()
		h.errs = append(h.errs, err)
		h.mu.Unlock()
	}
	h.p = p

	t.Cleanup(func() {
		loop.Run(p.Close)
		loop.Stop()
	})
	return h
}

func (h *harness) onData(data []byte, ack *Ack) {
	h.mu.Lock()
	h.callbackCount++
	if h.received != "" {
		h.received += "\n"
	}
	h.received += string(data)
	immediate := h.consumeImmediately
	toConsume := h.toConsume
	done := h.doneAfterConsuming
	if !immediate {
		h.pending = append(h.pending, ack)
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	if toConsume > len(data) {
		toConsume = len(data)
	}
	h.mu.Lock()
	h.consumed += string(data[:toConsume])
	h.mu.Unlock()
	ack.Consumed(toConsume, done)
}

func (h *harness) write(s string) bool {
	var result bool
	h.loop.Run(func() { result = h.p.Write([]byte(s)) })
	return result
}

func (h *harness) start() { h.loop.Run(h.p.Start) }
func (h *harness) stop()  { h.loop.Run(h.p.Stop) }
func (h *harness) end()   { h.loop.Run(h.p.End) }

func (h *harness) setThreshold(n int64) {
	h.loop.Run(func() { h.p.SetThreshold(n) })
}

func (h *harness) bufferSize() int64 {
	var n int64
	h.loop.Run(func() { n = h.p.BufferSize() })
	return n
}

func (h *harness) dataState() types.DataState {
	var s types.DataState
	h.loop.Run(func() { s = h.p.DataState() })
	return s
}

func (h *harness) isStarted() bool {
	var b bool
	h.loop.Run(func() { b = h.p.IsStarted() })
	return b
}

func (h *harness) isEnded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ended
}

func (h *harness) receivedData() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.received
}

func (h *harness) callbacks() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.callbackCount
}

// ackNext waits for a deferred dispatch and acknowledges it from the test
// goroutine, the way an out-of-band consumer would.
func (h *harness) ackNext(consumed int, done bool) {
	var ack *Ack
	h.waitFor("pending ack", func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		if len(h.pending) == 0 {
			return false
		}
		ack = h.pending[0]
		h.pending = h.pending[1:]
		return true
	})
	ack.Consumed(consumed, done)
	// Barrier: the acknowledgement task runs before anything posted next.
	h.loop.Run(func() {})
}

func (h *harness) waitFor(what string, cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	h.t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) waitDrained() {
	h.t.Helper()
	h.waitFor("buffer to drain", func() bool { return h.bufferSize() == 0 })
}

func TestLivePassThrough(t *testing.T) {
	h := newHarness(t)
	h.start()

	if !h.write("hello") {
		t.Error("Write = false, want true for an immediately consumed write")
	}
	if got := h.receivedData(); got != "hello" {
		t.Errorf("received = %q, want %q", got, "hello")
	}
	if n := h.bufferSize(); n != 0 {
		t.Errorf("BufferSize = %d, want 0", n)
	}
}

func TestDeferredAck(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.mu.Lock()
	h.consumeImmediately = false
	h.mu.Unlock()

	if h.write("hello") {
		t.Error("Write = true, want false when the ack is deferred")
	}
	if got := h.receivedData(); got != "hello" {
		t.Errorf("received = %q, want %q", got, "hello")
	}
	if n := h.bufferSize(); n != 5 {
		t.Errorf("BufferSize = %d, want 5", n)
	}

	h.ackNext(5, false)
	if n := h.bufferSize(); n != 0 {
		t.Errorf("BufferSize after ack = %d, want 0", n)
	}
}

func TestPauseViaDone(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.mu.Lock()
	h.doneAfterConsuming = true
	h.mu.Unlock()

	h.write("hello")
	if h.isStarted() {
		t.Error("IsStarted = true, want false after done=true")
	}
	if n := h.bufferSize(); n != 0 {
		t.Errorf("BufferSize = %d, want 0", n)
	}
}

func TestPartialConsumptionRepresentsTail(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.mu.Lock()
	h.toConsume = 3
	h.mu.Unlock()

	h.write("hello")
	if n := h.bufferSize(); n != 0 {
		t.Errorf("BufferSize = %d, want 0", n)
	}
	if got := h.receivedData(); got != "hello\nlo" {
		t.Errorf("received = %q, want %q", got, "hello\nlo")
	}
	if n := h.callbacks(); n != 2 {
		t.Errorf("callback count = %d, want 2", n)
	}
}

func TestBufferedWriteBeforeStart(t *testing.T) {
	h := newHarness(t)
	h.mu.Lock()
	h.toConsume = 3
	h.mu.Unlock()

	h.write("hello")
	if n := h.bufferSize(); n != 5 {
		t.Errorf("BufferSize = %d, want 5", n)
	}
	if got := h.receivedData(); got != "" {
		t.Errorf("received before start = %q, want empty", got)
	}
	if n := h.callbacks(); n != 0 {
		t.Errorf("callback count before start = %d, want 0", n)
	}

	h.start()
	if n := h.bufferSize(); n != 0 {
		t.Errorf("BufferSize after start = %d, want 0", n)
	}
	if n := h.callbacks(); n != 2 {
		t.Errorf("callback count = %d, want 2", n)
	}
	if got := h.receivedData(); got != "hello\nlo" {
		t.Errorf("received = %q, want %q", got, "hello\nlo")
	}
}

func TestSpillToFile(t *testing.T) {
	h := newHarness(t)
	h.setThreshold(5)

	h.write("hello")
	if n := h.bufferSize(); n != 5 {
		t.Errorf("BufferSize = %d, want 5", n)
	}
	if s := h.dataState(); s != types.DataStateInMemory {
		t.Errorf("DataState = %v, want in_memory", s)
	}

	h.write("world")
	if n := h.bufferSize(); n != 10 {
		t.Errorf("BufferSize = %d, want 10", n)
	}
	if s := h.dataState(); s != types.DataStateInFile {
		t.Errorf("DataState = %v, want in_file", s)
	}

	h.start()
	h.waitDrained()
	if got := h.receivedData(); got != "helloworld" {
		t.Errorf("received = %q, want %q", got, "helloworld")
	}
	h.waitFor("residency to return to live", func() bool {
		return h.dataState() == types.DataStateLive
	})
}

func TestSpillFileRemovedAfterDrain(t *testing.T) {
	h := newHarness(t)
	h.setThreshold(1)

	h.write("hello")
	h.waitFor("spill file to appear", func() bool {
		entries, err := os.ReadDir(h.dir)
		return err == nil && len(entries) == 1
	})

	h.start()
	h.waitDrained()
	h.waitFor("spill file to be removed", func() bool {
		entries, err := os.ReadDir(h.dir)
		return err == nil && len(entries) == 0
	})
}

func TestEndEmptyStartedPipe(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.end()

	if n := h.callbacks(); n != 0 {
		t.Errorf("callback count = %d, want 0", n)
	}
	if !h.isEnded() {
		t.Error("end signal did not fire")
	}
}

func TestEndAfterConsumedWrite(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.write("hello")
	h.end()

	if n := h.callbacks(); n != 1 {
		t.Errorf("callback count = %d, want 1", n)
	}
	if got := h.receivedData(); got != "hello" {
		t.Errorf("received = %q, want %q", got, "hello")
	}
	if !h.isEnded() {
		t.Error("end signal did not fire")
	}
}

func TestEndWithBufferedMemory(t *testing.T) {
	h := newHarness(t)
	h.mu.Lock()
	h.consumeImmediately = false
	h.mu.Unlock()
	h.start()

	h.write("hello")
	h.end()
	if s := h.dataState(); s != types.DataStateInMemory {
		t.Errorf("DataState = %v, want in_memory", s)
	}
	if h.isEnded() {
		t.Error("ended before the buffer drained")
	}

	h.ackNext(3, false)
	h.waitFor("second callback", func() bool { return h.callbacks() == 2 })
	if got := h.receivedData(); got != "hello\nlo" {
		t.Errorf("received = %q, want %q", got, "hello\nlo")
	}
	if h.isEnded() {
		t.Error("ended with bytes still buffered")
	}

	h.ackNext(2, false)
	if !h.isEnded() {
		t.Error("end signal did not fire after the final ack")
	}
}

func TestEndWithBufferedDisk(t *testing.T) {
	h := newHarness(t)
	h.mu.Lock()
	h.consumeImmediately = false
	h.mu.Unlock()
	h.setThreshold(1)
	h.start()

	h.write("hello")
	h.end()
	if s := h.dataState(); s != types.DataStateInFile {
		t.Errorf("DataState = %v, want in_file", s)
	}
	if h.isEnded() {
		t.Error("ended before the buffer drained")
	}

	h.ackNext(3, false)
	h.waitFor("second callback", func() bool { return h.callbacks() == 2 })
	if got := h.receivedData(); got != "hello\nlo" {
		t.Errorf("received = %q, want %q", got, "hello\nlo")
	}
	if h.isEnded() {
		t.Error("ended with bytes still buffered")
	}

	h.ackNext(2, false)
	h.waitFor("end signal", h.isEnded)
}

func TestWriteAfterEndFails(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.end()

	if h.write("late") {
		t.Error("Write after End = true, want false")
	}
	if n := h.bufferSize(); n != 0 {
		t.Errorf("BufferSize after rejected write = %d, want 0", n)
	}
	if n := h.callbacks(); n != 0 {
		t.Errorf("callback count = %d, want 0", n)
	}
}

func TestEmptyWriteIsNoop(t *testing.T) {
	h := newHarness(t)
	h.start()

	if !h.write("") {
		t.Error("empty Write = false, want true")
	}
	if n := h.callbacks(); n != 0 {
		t.Errorf("callback count = %d, want 0", n)
	}
}

func TestStopBuffersSubsequentWrites(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.write("one")
	h.stop()

	h.write("two")
	if n := h.bufferSize(); n != 3 {
		t.Errorf("BufferSize = %d, want 3", n)
	}
	if n := h.callbacks(); n != 1 {
		t.Errorf("callback count = %d, want 1", n)
	}

	h.start()
	if got := h.receivedData(); got != "one\ntwo" {
		t.Errorf("received = %q, want %q", got, "one\ntwo")
	}
	if n := h.bufferSize(); n != 0 {
		t.Errorf("BufferSize = %d, want 0", n)
	}
}

func TestZeroConsumedRepresentsSameBytes(t *testing.T) {
	h := newHarness(t)
	h.mu.Lock()
	h.consumeImmediately = false
	h.mu.Unlock()
	h.start()

	h.write("hello")
	h.ackNext(0, false)
	h.waitFor("re-presented dispatch", func() bool { return h.callbacks() == 2 })
	if got := h.receivedData(); got != "hello\nhello" {
		t.Errorf("received = %q, want %q", got, "hello\nhello")
	}
	if n := h.bufferSize(); n != 5 {
		t.Errorf("BufferSize = %d, want 5", n)
	}

	h.ackNext(5, false)
	if n := h.bufferSize(); n != 0 {
		t.Errorf("BufferSize = %d, want 0", n)
	}
}

func TestFIFOAcrossResidencyTransitions(t *testing.T) {
	h := newHarness(t)
	h.setThreshold(4)
	h.mu.Lock()
	h.toConsume = 3
	h.mu.Unlock()

	// Spills on the second write, then keeps appending to the file.
	h.write("abcd")
	h.write("efgh")
	h.write("ij")
	if s := h.dataState(); s != types.DataStateInFile {
		t.Errorf("DataState = %v, want in_file", s)
	}
	if n := h.bufferSize(); n != 10 {
		t.Errorf("BufferSize = %d, want 10", n)
	}

	h.start()
	h.waitDrained()

	h.mu.Lock()
	consumed := h.consumed
	h.mu.Unlock()
	if consumed != "abcdefghij" {
		t.Errorf("consumed bytes = %q, want %q", consumed, "abcdefghij")
	}
}

func TestDeferredSpilledHeadConsumedFromFile(t *testing.T) {
	// A deferred live dispatch whose bytes were admitted straight to the
	// file: the ack must drop consumed bytes from the file head, and the
	// next drain must re-read only the remainder.
	h := newHarness(t)
	h.mu.Lock()
	h.consumeImmediately = false
	h.mu.Unlock()
	h.setThreshold(1)
	h.start()

	h.write("hello")
	if s := h.dataState(); s != types.DataStateInFile {
		t.Errorf("DataState = %v, want in_file", s)
	}

	h.ackNext(3, false)
	h.waitFor("remainder dispatch", func() bool { return h.callbacks() == 2 })
	if got := h.receivedData(); got != "hello\nlo" {
		t.Errorf("received = %q, want %q", got, "hello\nlo")
	}

	h.ackNext(2, false)
	h.waitDrained()
	h.waitFor("residency to return to live", func() bool {
		return h.dataState() == types.DataStateLive
	})
}

func TestAckFromOtherGoroutineMarshalsOntoLoop(t *testing.T) {
	h := newHarness(t)
	h.mu.Lock()
	h.consumeImmediately = false
	h.mu.Unlock()
	h.start()

	h.write("hello")

	var ack *Ack
	h.waitFor("pending ack", func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		if len(h.pending) == 0 {
			return false
		}
		ack = h.pending[0]
		h.pending = h.pending[1:]
		return true
	})

	done := make(chan struct{})
	go func() {
		ack.Consumed(5, false)
		close(done)
	}()
	<-done
	h.waitDrained()
}

func TestDoubleAckPanics(t *testing.T) {
	h := newHarness(t)
	h.mu.Lock()
	h.consumeImmediately = false
	h.mu.Unlock()
	h.start()
	h.write("hello")

	var ack *Ack
	h.waitFor("pending ack", func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		if len(h.pending) == 0 {
			return false
		}
		ack = h.pending[0]
		h.pending = h.pending[1:]
		return true
	})

	ack.Consumed(5, false)
	defer func() {
		if recover() == nil {
			t.Error("second ack invocation did not panic")
		}
	}()
	ack.Consumed(0, false)
}

func TestOverconsumptionPanics(t *testing.T) {
	h := newHarness(t)
	h.mu.Lock()
	h.consumeImmediately = false
	h.mu.Unlock()
	h.start()
	h.write("hello")

	var ack *Ack
	h.waitFor("pending ack", func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		if len(h.pending) == 0 {
			return false
		}
		ack = h.pending[0]
		h.pending = h.pending[1:]
		return true
	})

	defer func() {
		if recover() == nil {
			t.Error("overconsuming ack did not panic")
		}
	}()
	ack.Consumed(6, false)
}

func TestDiskErrorIsFatal(t *testing.T) {
	loop := evloop.New()
	loop.Start()
	t.Cleanup(loop.Stop)

	p, err := New(Options{Loop: loop, Dir: "/nonexistent/sluice-test", Threshold: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	errCh := make(chan error, 1)
	ended := false
	p.OnEnd = func() { ended = true }
	p.OnError = func(err error) { errCh <- err }
	t.Cleanup(func() { loop.Run(p.Close) })

	loop.Run(func() { p.Write([]byte("spills straight to a broken dir")) })

	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("error callback did not fire")
	}

	var pipeErr error
	loop.Run(func() { pipeErr = p.Err() })
	if pipeErr == nil {
		t.Fatal("Err = nil after disk failure")
	}

	// Error state is terminal: writes are refused, end never fires.
	var accepted bool
	loop.Run(func() { accepted = p.Write([]byte("more")) })
	if accepted {
		t.Error("Write on a failed pipe = true, want false")
	}
	loop.Run(func() { p.Start(); p.End() })
	loop.Run(func() {})
	if ended {
		t.Error("end signal fired on a failed pipe")
	}
}

func TestCloseRemovesSpillFile(t *testing.T) {
	h := newHarness(t)
	h.setThreshold(1)
	h.write("hello")

	h.waitFor("spill file to appear", func() bool {
		entries, err := os.ReadDir(h.dir)
		return err == nil && len(entries) == 1
	})

	h.loop.Run(h.p.Close)
	h.waitFor("spill file to be removed", func() bool {
		entries, err := os.ReadDir(h.dir)
		return err == nil && len(entries) == 0
	})
}

func TestLateAckAfterCloseIsNoop(t *testing.T) {
	h := newHarness(t)
	h.mu.Lock()
	h.consumeImmediately = false
	h.mu.Unlock()
	h.start()
	h.write("hello")

	var ack *Ack
	h.waitFor("pending ack", func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		if len(h.pending) == 0 {
			return false
		}
		ack = h.pending[0]
		h.pending = h.pending[1:]
		return true
	})

	h.loop.Run(h.p.Close)
	ack.Consumed(5, false)
	h.loop.Run(func() {})
}

func TestNewValidatesOptions(t *testing.T) {
	loop := evloop.New()
	if _, err := New(Options{Dir: "x"}); err == nil {
		t.Error("New without Loop succeeded, want error")
	}
	if _, err := New(Options{Loop: loop}); err == nil {
		t.Error("New without Dir succeeded, want error")
	}
}

func TestThresholdAdmission(t *testing.T) {
	h := newHarness(t)
	h.setThreshold(10)

	h.write("12345")
	h.write("12345")
	if s := h.dataState(); s != types.DataStateInMemory {
		t.Errorf("DataState at exactly the threshold = %v, want in_memory", s)
	}

	h.write("x")
	if s := h.dataState(); s != types.DataStateInFile {
		t.Errorf("DataState past the threshold = %v, want in_file", s)
	}
	if n := h.bufferSize(); n != 11 {
		t.Errorf("BufferSize = %d, want 11", n)
	}
}
