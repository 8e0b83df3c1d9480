// Package decoder reads the self-describing binary data section of a database.
//
// Every element starts with a control byte. Its top three bits select a type
// (zero means an extended type follows in the next byte) and its low five bits
// hold a size, escaped into one to three extra bytes for large values.
package decoder

import (
	"fmt"
	"math/big"
)

// Type identifies the kind of an encoded element.
type Type uint8

const (
	TypeExtended Type = iota
	TypePointer
	TypeString
	TypeFloat64
	TypeBytes
	TypeUint16
	TypeUint32
	TypeMap
	TypeInt32
	TypeUint64
	TypeUint128
	TypeArray
	TypeContainer
	TypeEndMarker
	TypeBool
	TypeFloat32
)

var typeNames = [...]string{
	TypeExtended:  "extended",
	TypePointer:   "pointer",
	TypeString:    "utf8_string",
	TypeFloat64:   "double",
	TypeBytes:     "bytes",
	TypeUint16:    "uint16",
	TypeUint32:    "uint32",
	TypeMap:       "map",
	TypeInt32:     "int32",
	TypeUint64:    "uint64",
	TypeUint128:   "uint128",
	TypeArray:     "array",
	TypeContainer: "container",
	TypeEndMarker: "end_marker",
	TypeBool:      "boolean",
	TypeFloat32:   "float",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Element is one decoded value. Maps and arrays are not expanded: Size holds
// the member count and FirstMember the offset of the first member.
type Element struct {
	Type Type
	// Offset is where the element's control byte lives, after following a pointer.
	Offset uint64
	// Size is the payload length for strings, bytes and numbers, and the
	// member count for maps and arrays.
	Size uint64
	// FirstMember is the offset of the first key or member of a container.
	FirstMember uint64

	// Bytes holds string, bytes and uint128 payloads. For resident sources it
	// aliases the database buffer and must not be modified.
	Bytes   []byte
	Uint    uint64
	Int     int32
	Float64 float64
	Float32 float32
	Bool    bool
}

// IsContainer reports whether e is a map or an array.
func (e Element) IsContainer() bool {
	return e.Type == TypeMap || e.Type == TypeArray
}

// String returns the string payload of a utf8_string element.
func (e Element) String() string {
	return string(e.Bytes)
}

// Uint128 returns the value of a uint128 element.
func (e Element) Uint128() *big.Int {
	return new(big.Int).SetBytes(e.Bytes)
}

// Value converts a scalar element to a Go value. Containers return their
// member count; use Materialize to expand them.
func (e Element) Value() any {
	switch e.Type {
	case TypeString:
		return string(e.Bytes)
	case TypeBytes:
		return append([]byte(nil), e.Bytes...)
	case TypeFloat64:
		return e.Float64
	case TypeFloat32:
		return e.Float32
	case TypeUint16:
		return uint16(e.Uint)
	case TypeUint32:
		return uint32(e.Uint)
	case TypeUint64:
		return e.Uint
	case TypeUint128:
		return e.Uint128()
	case TypeInt32:
		return e.Int
	case TypeBool:
		return e.Bool
	case TypeMap, TypeArray:
		return e.Size
	default:
		return nil
	}
}
