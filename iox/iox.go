// Package iox provides I/O cleanup helpers for spill files and journals.
package iox

import (
	"io"
	"os"

	"go.uber.org/multierr"
)

// CloseRemove closes c and removes the named file, combining both errors.
// This is the release path for transient files that must not outlive their
// owner, like a pipe's spill file:
//
//	return iox.CloseRemove(m.file, m.path)
func CloseRemove(c io.Closer, path string) error {
	return multierr.Append(c.Close(), os.Remove(path))
}

// CloseFunc returns a cleanup function that closes c, discarding the
// error. Designed for t.Cleanup and b.Cleanup registration:
//
//	t.Cleanup(iox.CloseFunc(recorder))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// DiscardClose closes c and discards the error. Use in defer statements
// where close errors are unactionable, such as read-side handles:
//
//	defer iox.DiscardClose(f)
func DiscardClose(c io.Closer) { _ = c.Close() }
