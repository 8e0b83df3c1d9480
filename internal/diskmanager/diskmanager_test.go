package diskmanager_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/MikhailWahib/gravelmmdb/internal/config"
	"github.com/MikhailWahib/gravelmmdb/internal/diskmanager"
	"github.com/MikhailWahib/gravelmmdb/internal/diskmanager/mockdm"
	"github.com/MikhailWahib/gravelmmdb/internal/shared"
)

var payload = []byte("Hello, world!\nHiii!")

func TestBytesSource_ReadAt(t *testing.T) {
	src := diskmanager.NewBytesSource(payload)
	require.True(t, src.Resident())
	require.Equal(t, uint64(len(payload)), src.Size())

	b, err := src.ReadAt(7, 5)
	require.NoError(t, err)
	require.Equal(t, "world", string(b))

	b, err = src.ReadAt(uint64(len(payload)), 0)
	require.NoError(t, err, "empty read at end is valid")
	require.Empty(t, b)

	_, err = src.ReadAt(uint64(len(payload))-1, 2)
	require.ErrorIs(t, err, shared.ErrIO)

	_, err = src.ReadAt(^uint64(0), 2)
	require.ErrorIs(t, err, shared.ErrIO, "offset overflow must not wrap")

	require.NoError(t, src.Close())
	require.NoError(t, src.Close(), "second close is a no-op")
	require.Zero(t, src.Size())
}

func TestFileSource_ShortReads(t *testing.T) {
	f := mockdm.NewMockFile("short", payload)
	f.MaxChunk = 3
	f.Interrupts = 2

	src, err := diskmanager.NewFileSource(f)
	require.NoError(t, err)
	require.False(t, src.Resident())

	b, err := src.ReadAt(0, uint64(len(payload)))
	require.NoError(t, err)
	require.Equal(t, payload, b)
	require.Greater(t, f.Reads, len(payload)/3, "expected the read to be split")
}

func TestFileSource_ReturnsCopy(t *testing.T) {
	f := mockdm.NewMockFile("copy", payload)
	src, err := diskmanager.NewFileSource(f)
	require.NoError(t, err)

	b, err := src.ReadAt(0, 5)
	require.NoError(t, err)
	b[0] = 'J'
	again, err := src.ReadAt(0, 5)
	require.NoError(t, err)
	require.Equal(t, "Hello", string(again))
}

func TestFileSource_Errors(t *testing.T) {
	f := mockdm.NewMockFile("failing", payload)
	f.FailAfter = 1
	f.MaxChunk = 4

	src, err := diskmanager.NewFileSource(f)
	require.NoError(t, err)

	_, err = src.ReadAt(0, 10)
	require.ErrorIs(t, err, shared.ErrIO)

	_, err = src.ReadAt(10, uint64(len(payload)))
	require.ErrorIs(t, err, shared.ErrIO, "reads past the end are rejected before touching the file")

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
	require.Equal(t, 1, f.Closed)

	_, err = src.ReadAt(0, 1)
	require.ErrorIs(t, err, shared.ErrIO)
}

func TestOpen_Modes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.mmdb")
	require.NoError(t, os.WriteFile(path, payload, 0644))

	for _, mode := range []config.Mode{config.ModeMmap, config.ModeMemory, config.ModeFile} {
		t.Run(mode.String(), func(t *testing.T) {
			src, err := diskmanager.Open(afero.NewOsFs(), path, mode)
			require.NoError(t, err)
			defer src.Close()

			require.Equal(t, uint64(len(payload)), src.Size())
			require.Equal(t, mode != config.ModeFile, src.Resident())

			b, err := src.ReadAt(14, 5)
			require.NoError(t, err)
			require.Equal(t, "Hiii!", string(b))
		})
	}
}

func TestOpen_MemMapFs(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/db/test.mmdb", payload, 0644))

	src, err := diskmanager.Open(fs, "/db/test.mmdb", config.ModeMmap)
	require.NoError(t, err)
	require.True(t, src.Resident(), "non-OS filesystems fall back to a buffer")
	require.NoError(t, src.Close())

	src, err = diskmanager.Open(fs, "/db/test.mmdb", config.ModeFile)
	require.NoError(t, err)
	b, err := src.ReadAt(0, 5)
	require.NoError(t, err)
	require.Equal(t, "Hello", string(b))
	require.NoError(t, src.Close())
}

func TestOpen_Missing(t *testing.T) {
	for _, mode := range []config.Mode{config.ModeMmap, config.ModeMemory, config.ModeFile} {
		_, err := diskmanager.Open(afero.NewOsFs(), filepath.Join(t.TempDir(), "nope.mmdb"), mode)
		require.Error(t, err)
		require.True(t, errors.Is(err, shared.ErrFileOpen), "mode %s: %v", mode, err)
	}
}

func TestOpen_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.mmdb")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	src, err := diskmanager.Open(afero.NewOsFs(), path, config.ModeMmap)
	require.NoError(t, err)
	require.Zero(t, src.Size())
	require.NoError(t, src.Close())
}
