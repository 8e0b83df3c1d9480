// Package diskmanager provides random access to the bytes of a database file.
// A Source is either resident in memory (a private buffer or a read-only
// mapping) or backed by an open file that is read on demand.
package diskmanager

import (
	"os"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/MikhailWahib/gravelmmdb/internal/config"
	"github.com/MikhailWahib/gravelmmdb/internal/shared"
)

// maxReadRetries bounds consecutive zero-progress reads on a file source.
const maxReadRetries = 64

// FileHandle abstracts the file operations needed by a file backed Source.
// afero.File and *os.File both satisfy it.
type FileHandle interface {
	// ReadAt reads len(b) bytes from the file starting at byte offset off.
	// It returns the number of bytes read and any error encountered.
	ReadAt(b []byte, off int64) (int, error)
	// Close closes the file handle, rendering it unusable for I/O.
	Close() error
	// Stat returns the file stat
	Stat() (os.FileInfo, error)
}

// Source is a read-only view of the database bytes.
type Source interface {
	// ReadAt returns length bytes starting at off. Resident sources return a
	// view into their buffer; file sources return a freshly read copy.
	ReadAt(off, length uint64) ([]byte, error)
	// Size returns the total number of bytes in the source.
	Size() uint64
	// Resident reports whether the whole source is held in memory.
	Resident() bool
	// Close releases the underlying buffer or file. It is safe to call twice.
	Close() error
}

// Open opens path on fs using the access strategy selected by mode.
func Open(fs afero.Fs, path string, mode config.Mode) (Source, error) {
	switch mode {
	case config.ModeFile:
		f, err := fs.Open(path)
		if err != nil {
			return nil, errors.Wrapf(shared.ErrFileOpen, "%s: %v", path, err)
		}
		src, err := NewFileSource(f)
		if err != nil {
			_ = f.Close()
			return nil, errors.Wrapf(shared.ErrFileOpen, "%s: %v", path, err)
		}
		return src, nil
	case config.ModeMmap:
		if _, ok := fs.(*afero.OsFs); ok {
			return openMapped(path)
		}
		return readAll(fs, path)
	case config.ModeMemory:
		return readAll(fs, path)
	default:
		return nil, errors.Errorf("unknown mode %d", mode)
	}
}

func readAll(fs afero.Fs, path string) (Source, error) {
	buf, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrapf(shared.ErrFileOpen, "%s: %v", path, err)
	}
	return NewBytesSource(buf), nil
}

type memorySource struct {
	buf   []byte
	unmap func([]byte) error
}

// NewBytesSource wraps buf without copying it. The caller must not modify buf afterwards.
func NewBytesSource(buf []byte) Source {
	return &memorySource{buf: buf}
}

func (s *memorySource) ReadAt(off, length uint64) ([]byte, error) {
	size := uint64(len(s.buf))
	if off > size || length > size-off {
		return nil, errors.Wrapf(shared.ErrIO, "read of %d bytes at %d past end of %d byte source", length, off, size)
	}
	return s.buf[off : off+length : off+length], nil
}

func (s *memorySource) Size() uint64 { return uint64(len(s.buf)) }

func (s *memorySource) Resident() bool { return true }

func (s *memorySource) Close() error {
	buf := s.buf
	s.buf = nil
	if s.unmap == nil || buf == nil {
		return nil
	}
	unmap := s.unmap
	s.unmap = nil
	return unmap(buf)
}

type fileSource struct {
	file FileHandle
	size uint64
}

// NewFileSource reads through fh on demand. The Source owns fh from now on.
func NewFileSource(fh FileHandle) (Source, error) {
	stat, err := fh.Stat()
	if err != nil {
		return nil, err
	}
	if stat.Size() < 0 {
		return nil, errors.Errorf("negative file size %d", stat.Size())
	}
	return &fileSource{file: fh, size: uint64(stat.Size())}, nil
}

// ReadAt loops until length bytes have been read. Short reads and interrupted
// system calls are retried; any other failure is an I/O error.
func (s *fileSource) ReadAt(off, length uint64) ([]byte, error) {
	if s.file == nil {
		return nil, errors.Wrap(shared.ErrIO, "read from closed source")
	}
	if off > s.size || length > s.size-off {
		return nil, errors.Wrapf(shared.ErrIO, "read of %d bytes at %d past end of %d byte file", length, off, s.size)
	}

	buf := make([]byte, length)
	read := uint64(0)
	stalls := 0
	for read < length {
		n, err := s.file.ReadAt(buf[read:], int64(off+read))
		read += uint64(n)
		if read == length {
			break
		}
		if n > 0 {
			stalls = 0
		} else {
			stalls++
		}
		if err != nil && !errors.Is(err, syscall.EINTR) {
			return nil, errors.Wrapf(shared.ErrIO, "reading %d bytes at %d: %v", length, off, err)
		}
		if stalls > maxReadRetries {
			return nil, errors.Wrapf(shared.ErrIO, "reading %d bytes at %d: no progress", length, off)
		}
	}
	return buf, nil
}

func (s *fileSource) Size() uint64 { return s.size }

func (s *fileSource) Resident() bool { return false }

func (s *fileSource) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.size = 0
	return err
}
