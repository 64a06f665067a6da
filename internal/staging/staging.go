// Package staging manages the temporary files a save goes through between
// the editor's download URL and the object store.
//
// An Artifact is owned by exactly one operation. Release is idempotent and
// must be deferred right after New succeeds.
package staging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wuyou/docbridge/internal/errs"
)

const filePrefix = "docbridge-"

// ErrTooLarge is the cause reported when a body exceeds the Fill limit.
var ErrTooLarge = errors.New("staged content exceeds size limit")

// Artifact is a temp file holding one fetched document.
type Artifact struct {
	file     *os.File
	size     int64
	released bool
}

// New creates an empty artifact in dir, creating dir when needed. An empty
// dir means a "docbridge" directory under os.TempDir().
func New(dir string) (*Artifact, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errs.Wrap(errs.ErrKindIOFailed, "failed to create staging directory", err)
	}
	f, err := os.CreateTemp(dir, filePrefix+"*")
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindIOFailed, "failed to create staging file", err)
	}
	return &Artifact{file: f}, nil
}

// DefaultDir is where artifacts go when no directory is configured.
func DefaultDir() string {
	return filepath.Join(os.TempDir(), "docbridge")
}

// Fill copies r into the artifact. A limit > 0 caps the accepted size.
// Any read or write interruption is reported as ErrKindIOFailed.
func (a *Artifact) Fill(r io.Reader, limit int64) (int64, error) {
	if a.released {
		return 0, errs.New(errs.ErrKindIOFailed, "artifact already released")
	}

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}

	n, err := io.Copy(a.file, src)
	a.size += n
	if err != nil {
		return n, errs.Wrap(errs.ErrKindIOFailed, "failed to stage content", err)
	}
	if limit > 0 && a.size > limit {
		return n, errs.Wrap(errs.ErrKindIOFailed, fmt.Sprintf("content larger than %d bytes", limit), ErrTooLarge)
	}
	if err := a.file.Sync(); err != nil {
		return n, errs.Wrap(errs.ErrKindIOFailed, "failed to flush staging file", err)
	}
	return n, nil
}

// Reader rewinds the artifact and returns it for reading. It stays valid
// until Release.
func (a *Artifact) Reader() (io.Reader, error) {
	if a.released {
		return nil, errs.New(errs.ErrKindIOFailed, "artifact already released")
	}
	if _, err := a.file.Seek(0, io.SeekStart); err != nil {
		return nil, errs.Wrap(errs.ErrKindIOFailed, "failed to rewind staging file", err)
	}
	return a.file, nil
}

// Size is the number of bytes staged so far.
func (a *Artifact) Size() int64 {
	return a.size
}

// Path is the location of the backing file.
func (a *Artifact) Path() string {
	return a.file.Name()
}

// Release closes and removes the backing file. Safe to call more than once.
func (a *Artifact) Release() error {
	if a == nil || a.released {
		return nil
	}
	a.released = true

	closeErr := a.file.Close()
	if err := os.Remove(a.file.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errs.Wrap(errs.ErrKindIOFailed, "failed to remove staging file", err)
	}
	if closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
		return errs.Wrap(errs.ErrKindIOFailed, "failed to close staging file", closeErr)
	}
	return nil
}

// Sweep removes artifacts in dir older than maxAge. They can only be left
// behind by a crashed process. Returns how many files were removed.
func Sweep(dir string, maxAge time.Duration, now time.Time) (int, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, errs.Wrap(errs.ErrKindIOFailed, "failed to read staging directory", err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), filePrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) < maxAge {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
