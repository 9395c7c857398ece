package iox

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type spyCloser struct {
	closed bool
	err    error
}

func (s *spyCloser) Close() error {
	s.closed = true
	return s.err
}

func TestCloseRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spill")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := CloseRemove(f, path); err != nil {
		t.Fatalf("CloseRemove: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file still exists after CloseRemove: %v", err)
	}
}

func TestCloseRemove_CombinesErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing")
	c := &spyCloser{err: errors.New("close failed")}

	err := CloseRemove(c, path)
	if !c.closed {
		t.Fatal("Close was not called")
	}
	if err == nil {
		t.Fatal("CloseRemove = nil, want combined close and remove errors")
	}
}

func TestCloseFunc(t *testing.T) {
	s := &spyCloser{err: errors.New("ignored")}
	fn := CloseFunc(s)
	if s.closed {
		t.Fatal("Close called before invoking returned func")
	}
	fn()
	if !s.closed {
		t.Fatal("Close was not called")
	}
}

func TestDiscardClose(t *testing.T) {
	s := &spyCloser{err: errors.New("ignored")}
	DiscardClose(s)
	if !s.closed {
		t.Fatal("Close was not called")
	}
}
