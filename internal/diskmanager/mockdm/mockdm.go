// Package mockdm provides mock file handles for exercising diskmanager sources in tests.
package mockdm

import (
	"io"
	"os"
	"syscall"
	"time"
)

// MockFile implements diskmanager.FileHandle over an in-memory buffer. It can
// be told to return short reads, interrupted reads or hard failures.
type MockFile struct {
	data []byte
	name string

	// MaxChunk caps the bytes returned by a single ReadAt. Zero means no cap.
	MaxChunk int
	// Interrupts is the number of ReadAt calls that fail with EINTR before
	// any data is returned.
	Interrupts int
	// FailAfter makes every ReadAt fail once this many calls have succeeded.
	// Zero disables the failure.
	FailAfter int

	Reads  int
	Closed int
}

// NewMockFile creates a MockFile holding data.
func NewMockFile(name string, data []byte) *MockFile {
	return &MockFile{data: data, name: name}
}

// ReadAt reads len(b) bytes from the file starting at byte offset off
func (m *MockFile) ReadAt(b []byte, off int64) (int, error) {
	m.Reads++
	if m.Interrupts > 0 {
		m.Interrupts--
		return 0, &os.PathError{Op: "read", Path: m.name, Err: syscall.EINTR}
	}
	if m.FailAfter > 0 && m.Reads > m.FailAfter {
		return 0, &os.PathError{Op: "read", Path: m.name, Err: syscall.EIO}
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}

	want := len(b)
	if m.MaxChunk > 0 && want > m.MaxChunk {
		want = m.MaxChunk
	}
	n := copy(b[:want], m.data[off:])
	if n < len(b) && off+int64(n) >= int64(len(m.data)) {
		return n, io.EOF
	}
	return n, nil
}

// Close closes the mock file
func (m *MockFile) Close() error {
	m.Closed++
	return nil
}

// Stat returns file information
func (m *MockFile) Stat() (os.FileInfo, error) {
	return &testFileInfo{size: int64(len(m.data)), name: m.name}, nil
}

type testFileInfo struct {
	size int64
	name string
}

func (m *testFileInfo) Name() string       { return m.name }
func (m *testFileInfo) Size() int64        { return m.size }
func (m *testFileInfo) Mode() os.FileMode  { return 0444 }
func (m *testFileInfo) ModTime() time.Time { return time.Time{} }
func (m *testFileInfo) IsDir() bool        { return false }
func (m *testFileInfo) Sys() any           { return nil }
