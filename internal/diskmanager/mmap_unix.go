//go:build unix

package diskmanager

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/MikhailWahib/gravelmmdb/internal/shared"
)

func openMapped(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(shared.ErrFileOpen, "%s: %v", path, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, errors.Wrapf(shared.ErrFileOpen, "%s: %v", path, err)
	}
	size := stat.Size()
	if size == 0 {
		return NewBytesSource(nil), nil
	}
	if int64(int(size)) != size {
		return nil, errors.Wrapf(shared.ErrFileOpen, "%s: file too large to map", path)
	}

	buf, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrapf(shared.ErrFileOpen, "%s: mmap: %v", path, err)
	}
	return &memorySource{buf: buf, unmap: unix.Munmap}, nil
}
