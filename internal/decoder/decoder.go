package decoder

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/MikhailWahib/gravelmmdb/internal/diskmanager"
	"github.com/MikhailWahib/gravelmmdb/internal/shared"
)

// Decoder decodes elements from one section of a Source. Offsets passed to
// and returned from a Decoder are relative to the start of that section, and
// pointers are resolved against it too.
type Decoder struct {
	src      diskmanager.Source
	base     uint64
	size     uint64
	maxDepth int
}

// New returns a Decoder over the size bytes of src starting at base.
func New(src diskmanager.Source, base, size uint64, maxDepth int) (*Decoder, error) {
	if base > src.Size() || size > src.Size()-base {
		return nil, errors.Wrapf(shared.ErrInvalidData, "section [%d, +%d) outside %d byte source", base, size, src.Size())
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Decoder{src: src, base: base, size: size, maxDepth: maxDepth}, nil
}

// Size returns the length of the section.
func (d *Decoder) Size() uint64 { return d.size }

// MaxDepth returns the deepest nesting the decoder will follow.
func (d *Decoder) MaxDepth() int { return d.maxDepth }

func (d *Decoder) read(offset, length uint64) ([]byte, error) {
	if offset > d.size || length > d.size-offset {
		return nil, errors.Wrapf(shared.ErrInvalidData, "%d bytes at offset %d run past the end of the %d byte section", length, offset, d.size)
	}
	return d.src.ReadAt(d.base+offset, length)
}

// DecodeOne decodes the element at offset, transparently following a
// pointer. next is where the following sibling starts: past the pointer
// itself when one was followed, past the payload for scalars, and the first
// member for an inline map or array.
func (d *Decoder) DecodeOne(offset uint64) (Element, uint64, error) {
	elem, next, err := d.decodeRaw(offset)
	if err != nil {
		return Element{}, 0, err
	}
	if elem.Type != TypePointer {
		return elem, next, nil
	}

	target, _, err := d.decodeRaw(elem.Uint)
	if err != nil {
		return Element{}, 0, err
	}
	if target.Type == TypePointer {
		return Element{}, 0, errors.Wrapf(shared.ErrInvalidData, "pointer at %d points to another pointer at %d", offset, elem.Uint)
	}
	return target, next, nil
}

// DecodeRaw decodes the element at offset without following pointers. A
// pointer element carries its target in Uint.
func (d *Decoder) DecodeRaw(offset uint64) (Element, uint64, error) {
	return d.decodeRaw(offset)
}

func (d *Decoder) decodeRaw(offset uint64) (Element, uint64, error) {
	ctrlBuf, err := d.read(offset, 1)
	if err != nil {
		return Element{}, 0, err
	}
	ctrl := ctrlBuf[0]
	off := offset + 1

	typ := Type(ctrl >> 5)
	if typ == TypePointer {
		return d.decodePointer(ctrl, offset, off)
	}

	if typ == TypeExtended {
		extBuf, err := d.read(off, 1)
		if err != nil {
			return Element{}, 0, err
		}
		off++
		ext := int(extBuf[0]) + extendedTypeBias
		if ext <= int(TypeMap) || ext > int(TypeFloat32) || ext == int(TypeContainer) || ext == int(TypeEndMarker) {
			return Element{}, 0, errors.Wrapf(shared.ErrInvalidData, "invalid extended type %d at offset %d", ext, offset)
		}
		typ = Type(ext)
	}

	size, off, err := d.sizeFromCtrl(ctrl, off)
	if err != nil {
		return Element{}, 0, err
	}

	elem := Element{Type: typ, Offset: offset, Size: size}
	next, err := d.decodePayload(&elem, off)
	if err != nil {
		return Element{}, 0, err
	}
	return elem, next, nil
}

func (d *Decoder) decodePointer(ctrl byte, offset, off uint64) (Element, uint64, error) {
	psize := uint64((ctrl>>3)&0x3) + 1
	buf, err := d.read(off, psize)
	if err != nil {
		return Element{}, 0, err
	}

	var v uint64
	if psize == 4 {
		v = uint64(binary.BigEndian.Uint32(buf))
	} else {
		v = uint64(ctrl & 0x7)
		for _, b := range buf {
			v = v<<8 | uint64(b)
		}
	}
	target := v + pointerBias[psize]
	if target >= d.size {
		return Element{}, 0, errors.Wrapf(shared.ErrInvalidData, "pointer at %d to %d is outside the %d byte section", offset, target, d.size)
	}

	return Element{Type: TypePointer, Offset: offset, Size: psize, Uint: target}, off + psize, nil
}

func (d *Decoder) sizeFromCtrl(ctrl byte, off uint64) (uint64, uint64, error) {
	size := uint64(ctrl & 0x1f)
	if size < sizeEscape1 {
		return size, off, nil
	}

	n := size - sizeEscape1 + 1
	buf, err := d.read(off, n)
	if err != nil {
		return 0, 0, err
	}
	v := uintFromBytes(buf)
	switch size {
	case sizeEscape1:
		size = sizeBias1 + v
	case sizeEscape2:
		size = sizeBias2 + v
	case sizeEscape3:
		size = sizeBias3 + v
	}
	return size, off + n, nil
}

func (d *Decoder) decodePayload(elem *Element, off uint64) (uint64, error) {
	size := elem.Size
	switch elem.Type {
	case TypeString, TypeBytes:
		buf, err := d.read(off, size)
		if err != nil {
			return 0, errors.Wrapf(err, "%s length %d", elem.Type, size)
		}
		elem.Bytes = buf
		return off + size, nil
	case TypeFloat64:
		if size != 8 {
			return 0, errors.Wrapf(shared.ErrInvalidData, "double of size %d", size)
		}
		buf, err := d.read(off, size)
		if err != nil {
			return 0, err
		}
		elem.Float64 = math.Float64frombits(binary.BigEndian.Uint64(buf))
		return off + size, nil
	case TypeFloat32:
		if size != 4 {
			return 0, errors.Wrapf(shared.ErrInvalidData, "float of size %d", size)
		}
		buf, err := d.read(off, size)
		if err != nil {
			return 0, err
		}
		elem.Float32 = math.Float32frombits(binary.BigEndian.Uint32(buf))
		return off + size, nil
	case TypeUint16, TypeUint32, TypeUint64, TypeInt32:
		if size > maxUintSize(elem.Type) {
			return 0, errors.Wrapf(shared.ErrInvalidData, "%s of size %d", elem.Type, size)
		}
		buf, err := d.read(off, size)
		if err != nil {
			return 0, err
		}
		elem.Uint = uintFromBytes(buf)
		if elem.Type == TypeInt32 {
			elem.Int = int32(uint32(elem.Uint))
			elem.Uint = 0
		}
		return off + size, nil
	case TypeUint128:
		if size > 16 {
			return 0, errors.Wrapf(shared.ErrInvalidData, "uint128 of size %d", size)
		}
		buf, err := d.read(off, size)
		if err != nil {
			return 0, err
		}
		elem.Bytes = buf
		if size <= 8 {
			elem.Uint = uintFromBytes(buf)
		}
		return off + size, nil
	case TypeBool:
		if size > 1 {
			return 0, errors.Wrapf(shared.ErrInvalidData, "boolean of size %d", size)
		}
		elem.Bool = size != 0
		return off, nil
	case TypeMap:
		if err := d.checkContainer(elem, off, minMapPairSize); err != nil {
			return 0, err
		}
		elem.FirstMember = off
		return off, nil
	case TypeArray:
		if err := d.checkContainer(elem, off, minArrayMemberSize); err != nil {
			return 0, err
		}
		elem.FirstMember = off
		return off, nil
	default:
		return 0, errors.Wrapf(shared.ErrInvalidData, "unexpected type %s at offset %d", elem.Type, elem.Offset)
	}
}

// checkContainer rejects member counts that could not fit in the rest of the
// section even if every member used its smallest encoding.
func (d *Decoder) checkContainer(elem *Element, off, minMember uint64) error {
	if off > d.size || elem.Size > (d.size-off)/minMember {
		return errors.Wrapf(shared.ErrInvalidData, "%s at offset %d claims %d members with %d bytes left", elem.Type, elem.Offset, elem.Size, d.size-min(off, d.size))
	}
	return nil
}

func maxUintSize(t Type) uint64 {
	switch t {
	case TypeUint16:
		return 2
	case TypeUint32, TypeInt32:
		return 4
	default:
		return 8
	}
}

func uintFromBytes(buf []byte) uint64 {
	var v uint64
	for _, b := range buf {
		v = v<<8 | uint64(b)
	}
	return v
}
