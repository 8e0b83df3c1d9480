// Package metadata locates and decodes the metadata map stored at the end of
// a database file.
package metadata

import (
	"bytes"
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/MikhailWahib/gravelmmdb/internal/decoder"
	"github.com/MikhailWahib/gravelmmdb/internal/diskmanager"
	"github.com/MikhailWahib/gravelmmdb/internal/shared"
)

// Marker precedes the metadata map. The last occurrence in the file wins.
var Marker = []byte("\xAB\xCD\xEFMaxMind.com")

// SeparatorSize is the run of zero bytes between the search tree and the data section.
const SeparatorSize = 16

// SupportedMajorVersion is the only binary format major version understood.
const SupportedMajorVersion = 2

const (
	metadataPoolSize     = 32
	metadataPoolMaxBytes = 4 << 20
)

// Metadata describes a database.
type Metadata struct {
	NodeCount                uint32
	RecordSize               uint16
	IPVersion                uint16
	DatabaseType             string
	Languages                []string
	BinaryFormatMajorVersion uint16
	BinaryFormatMinorVersion uint16
	BuildEpoch               uint64
	Description              map[string]string
}

// RecordByteWidth returns the number of bytes holding both records of a node.
func (m *Metadata) RecordByteWidth() uint64 {
	return (uint64(m.RecordSize)*2 + 7) / 8
}

// SearchTreeSize returns the size of the search tree in bytes.
func (m *Metadata) SearchTreeSize() uint64 {
	return uint64(m.NodeCount) * m.RecordByteWidth()
}

// TreeDepth returns the number of address bits the search tree covers.
func (m *Metadata) TreeDepth() int {
	if m.IPVersion == 6 {
		return 128
	}
	return 32
}

// BuildTime returns the build epoch as a time. Epochs beyond the range of
// time.Unix are clamped.
func (m *Metadata) BuildTime() time.Time {
	if m.BuildEpoch > math.MaxInt64 {
		return time.Unix(math.MaxInt64, 0).UTC()
	}
	return time.Unix(int64(m.BuildEpoch), 0).UTC()
}

// Layout records where the sections of a database begin.
type Layout struct {
	// DataStart is the offset of the data section in the file.
	DataStart uint64
	// DataSize is the length of the data section, up to the metadata marker.
	DataSize uint64
	// MetadataStart is the offset of the metadata map in the file.
	MetadataStart uint64
}

// Load searches the trailing window bytes of src for the metadata marker and
// decodes the metadata that follows it. Only the window is read, so file
// backed sources keep nothing else resident.
func Load(src diskmanager.Source, window int, maxDepth int) (*Metadata, Layout, error) {
	size := src.Size()
	winLen := size
	if window > 0 && uint64(window) < winLen {
		winLen = uint64(window)
	}
	tail, err := src.ReadAt(size-winLen, winLen)
	if err != nil {
		return nil, Layout{}, err
	}

	idx := bytes.LastIndex(tail, Marker)
	if idx < 0 {
		return nil, Layout{}, errors.Wrap(shared.ErrInvalidMetadata, "metadata section marker not found")
	}
	markerStart := size - winLen + uint64(idx)
	metaStart := uint64(idx + len(Marker))

	// The metadata map is decoded as its own section so its pointers
	// resolve against the map start.
	metaSrc := diskmanager.NewBytesSource(tail)
	dec, err := decoder.New(metaSrc, metaStart, winLen-metaStart, maxDepth)
	if err != nil {
		return nil, Layout{}, fmt.Errorf("%w: %w", shared.ErrInvalidMetadata, err)
	}
	raw, err := dec.DecodeValue(0, metadataPoolSize, metadataPoolMaxBytes)
	if err != nil {
		return nil, Layout{}, fmt.Errorf("%w: %w", shared.ErrInvalidMetadata, err)
	}
	fields, ok := raw.(map[string]any)
	if !ok {
		return nil, Layout{}, errors.Wrapf(shared.ErrInvalidMetadata, "metadata is a %T, not a map", raw)
	}

	m, err := fromMap(fields)
	if err != nil {
		return nil, Layout{}, err
	}
	if err := m.validate(); err != nil {
		return nil, Layout{}, err
	}

	treeSize := m.SearchTreeSize()
	if treeSize > markerStart || markerStart-treeSize < SeparatorSize {
		return nil, Layout{}, errors.Wrapf(shared.ErrInvalidMetadata,
			"search tree of %d bytes does not fit before the metadata at %d", treeSize, markerStart)
	}

	layout := Layout{
		DataStart:     treeSize + SeparatorSize,
		DataSize:      markerStart - treeSize - SeparatorSize,
		MetadataStart: size - winLen + metaStart,
	}
	return m, layout, nil
}

func (m *Metadata) validate() error {
	if m.BinaryFormatMajorVersion != SupportedMajorVersion {
		return errors.Wrapf(shared.ErrUnknownDatabaseFormat, "binary format major version %d", m.BinaryFormatMajorVersion)
	}
	if m.NodeCount == 0 {
		return errors.Wrap(shared.ErrInvalidMetadata, "node_count is zero")
	}
	switch m.RecordSize {
	case 24, 28, 32:
	default:
		return errors.Wrapf(shared.ErrInvalidMetadata, "unsupported record_size %d", m.RecordSize)
	}
	switch m.IPVersion {
	case 4, 6:
	default:
		return errors.Wrapf(shared.ErrInvalidMetadata, "unsupported ip_version %d", m.IPVersion)
	}
	return nil
}

func fromMap(fields map[string]any) (*Metadata, error) {
	m := &Metadata{}
	var err error

	if m.NodeCount, err = required[uint32](fields, "node_count"); err != nil {
		return nil, err
	}
	if m.RecordSize, err = required[uint16](fields, "record_size"); err != nil {
		return nil, err
	}
	if m.IPVersion, err = required[uint16](fields, "ip_version"); err != nil {
		return nil, err
	}
	if m.DatabaseType, err = required[string](fields, "database_type"); err != nil {
		return nil, err
	}
	if m.BinaryFormatMajorVersion, err = required[uint16](fields, "binary_format_major_version"); err != nil {
		return nil, err
	}
	if m.BinaryFormatMinorVersion, err = required[uint16](fields, "binary_format_minor_version"); err != nil {
		return nil, err
	}
	if m.BuildEpoch, err = required[uint64](fields, "build_epoch"); err != nil {
		return nil, err
	}

	if v, ok := fields["languages"]; ok {
		list, ok := v.([]any)
		if !ok {
			return nil, errors.Wrapf(shared.ErrInvalidMetadata, "languages is a %T, not an array", v)
		}
		m.Languages = make([]string, 0, len(list))
		for _, l := range list {
			s, ok := l.(string)
			if !ok {
				return nil, errors.Wrapf(shared.ErrInvalidMetadata, "language is a %T, not a string", l)
			}
			m.Languages = append(m.Languages, s)
		}
	}

	if v, ok := fields["description"]; ok {
		desc, ok := v.(map[string]any)
		if !ok {
			return nil, errors.Wrapf(shared.ErrInvalidMetadata, "description is a %T, not a map", v)
		}
		m.Description = make(map[string]string, len(desc))
		for lang, d := range desc {
			s, ok := d.(string)
			if !ok {
				return nil, errors.Wrapf(shared.ErrInvalidMetadata, "description for %q is a %T, not a string", lang, d)
			}
			m.Description[lang] = s
		}
	}

	return m, nil
}

func required[T any](fields map[string]any, key string) (T, error) {
	var zero T
	v, ok := fields[key]
	if !ok {
		return zero, errors.Wrapf(shared.ErrInvalidMetadata, "missing required key %q", key)
	}
	t, ok := v.(T)
	if !ok {
		return zero, errors.Wrapf(shared.ErrInvalidMetadata, "%q is a %T, expected %T", key, v, zero)
	}
	return t, nil
}
