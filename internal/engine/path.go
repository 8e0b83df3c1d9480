package engine

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/MikhailWahib/gravelmmdb/internal/decoder"
	"github.com/MikhailWahib/gravelmmdb/internal/shared"
)

var errNoEntry = errors.Wrap(shared.ErrInvalidData, "entry does not belong to a database")

// walk resolves path from the element at offset without materializing
// anything. Keys that do not match are skipped with the bounded skip, so a
// deeply nested sibling still fails with invalid data.
func walk(dec *decoder.Decoder, offset uint64, path []string) (decoder.Element, bool, error) {
	elem, _, err := dec.DecodeOne(offset)
	if err != nil {
		return decoder.Element{}, false, err
	}

	for depth, seg := range path {
		var (
			next  uint64
			found bool
		)
		switch elem.Type {
		case decoder.TypeMap:
			next, found, err = findKey(dec, elem, seg, depth+1)
		case decoder.TypeArray:
			next, found, err = findIndex(dec, elem, seg, depth+1)
		default:
			return decoder.Element{}, false, nil
		}
		if err != nil || !found {
			return decoder.Element{}, false, err
		}

		elem, _, err = dec.DecodeOne(next)
		if err != nil {
			return decoder.Element{}, false, err
		}
	}
	return elem, true, nil
}

func findKey(dec *decoder.Decoder, m decoder.Element, key string, depth int) (uint64, bool, error) {
	off := m.FirstMember
	for range m.Size {
		k, valueOff, err := dec.DecodeKey(off)
		if err != nil {
			return 0, false, err
		}
		if string(k.Bytes) == key {
			return valueOff, true, nil
		}
		off, err = dec.Skip(valueOff, depth)
		if err != nil {
			return 0, false, err
		}
	}
	return 0, false, nil
}

func findIndex(dec *decoder.Decoder, a decoder.Element, seg string, depth int) (uint64, bool, error) {
	idx, err := strconv.ParseUint(seg, 10, 64)
	if err != nil {
		return 0, false, errors.Wrapf(shared.ErrInvalidLookupPath, "array index %q", seg)
	}
	if idx >= a.Size {
		return 0, false, nil
	}

	off := a.FirstMember
	for range idx {
		off, err = dec.Skip(off, depth)
		if err != nil {
			return 0, false, err
		}
	}
	return off, true, nil
}
