// Package testdb builds databases in memory for tests and benchmarks. It
// encodes every data type the decoder understands and can also emit
// hand-crafted, deliberately broken data.
package testdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"sort"
)

// Type codes of the data section format.
const (
	typePointer = 1
	typeString  = 2
	typeFloat64 = 3
	typeBytes   = 4
	typeUint16  = 5
	typeUint32  = 6
	typeMap     = 7
	typeInt32   = 8
	typeUint64  = 9
	typeUint128 = 10
	typeArray   = 11
	typeBool    = 14
	typeFloat32 = 15
)

// KV is one entry of an ordered Map.
type KV struct {
	Key   string
	Value any
}

// Map is a map whose keys are written in the given order.
type Map []KV

// Pointer is written as a pointer to the given data section offset.
type Pointer uint64

// Raw is written verbatim.
type Raw []byte

// DataWriter encodes values into a data section.
type DataWriter struct {
	buf bytes.Buffer
	// PointerKeys writes every repeated map key as a pointer to its first copy.
	PointerKeys bool
	keys        map[string]uint64
}

// Bytes returns the encoded section.
func (w *DataWriter) Bytes() []byte { return w.buf.Bytes() }

// Len returns the number of bytes written so far.
func (w *DataWriter) Len() uint64 { return uint64(w.buf.Len()) }

// Write encodes v and returns the offset it was written at.
func (w *DataWriter) Write(v any) uint64 {
	off := w.Len()
	w.encode(v)
	return off
}

func (w *DataWriter) encode(v any) {
	switch v := v.(type) {
	case string:
		w.ctrl(typeString, uint64(len(v)))
		w.buf.WriteString(v)
	case []byte:
		w.ctrl(typeBytes, uint64(len(v)))
		w.buf.Write(v)
	case float64:
		w.ctrl(typeFloat64, 8)
		_ = binary.Write(&w.buf, binary.BigEndian, math.Float64bits(v))
	case float32:
		w.ctrl(typeFloat32, 4)
		_ = binary.Write(&w.buf, binary.BigEndian, math.Float32bits(v))
	case uint16:
		w.uint(typeUint16, uint64(v))
	case uint32:
		w.uint(typeUint32, uint64(v))
	case uint64:
		w.uint(typeUint64, v)
	case int32:
		w.uint(typeInt32, uint64(uint32(v)))
	case *big.Int:
		b := v.Bytes()
		w.ctrl(typeUint128, uint64(len(b)))
		w.buf.Write(b)
	case bool:
		size := uint64(0)
		if v {
			size = 1
		}
		w.ctrl(typeBool, size)
	case Map:
		w.ctrl(typeMap, uint64(len(v)))
		for _, kv := range v {
			w.key(kv.Key)
			w.encode(kv.Value)
		}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		w.ctrl(typeMap, uint64(len(keys)))
		for _, k := range keys {
			w.key(k)
			w.encode(v[k])
		}
	case map[string]string:
		m := make(map[string]any, len(v))
		for k, s := range v {
			m[k] = s
		}
		w.encode(m)
	case []any:
		w.ctrl(typeArray, uint64(len(v)))
		for _, e := range v {
			w.encode(e)
		}
	case []string:
		w.ctrl(typeArray, uint64(len(v)))
		for _, e := range v {
			w.encode(e)
		}
	case Pointer:
		w.pointer(uint64(v))
	case Raw:
		w.buf.Write(v)
	default:
		panic(fmt.Sprintf("testdb: cannot encode %T", v))
	}
}

func (w *DataWriter) key(k string) {
	if !w.PointerKeys {
		w.encode(k)
		return
	}
	if w.keys == nil {
		w.keys = make(map[string]uint64)
	}
	if off, ok := w.keys[k]; ok {
		w.pointer(off)
		return
	}
	w.keys[k] = w.Len()
	w.encode(k)
}

func (w *DataWriter) uint(typ byte, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	trimmed := bytes.TrimLeft(b[:], "\x00")
	w.ctrl(typ, uint64(len(trimmed)))
	w.buf.Write(trimmed)
}

// ctrl writes a control byte, the extended type byte and any size escape bytes.
func (w *DataWriter) ctrl(typ byte, size uint64) {
	w.buf.Write(Control(typ, size))
}

// Control returns the encoded control bytes for typ and size.
func Control(typ byte, size uint64) []byte {
	var first byte
	var out []byte
	if typ <= typeMap {
		first = typ << 5
	}

	var extra []byte
	switch {
	case size < 29:
		first |= byte(size)
	case size < 285:
		first |= 29
		extra = []byte{byte(size - 29)}
	case size < 65821:
		first |= 30
		s := size - 285
		extra = []byte{byte(s >> 8), byte(s)}
	default:
		first |= 31
		s := size - 65821
		extra = []byte{byte(s >> 16), byte(s >> 8), byte(s)}
	}

	out = append(out, first)
	if typ > typeMap {
		out = append(out, typ-7)
	}
	return append(out, extra...)
}

func (w *DataWriter) pointer(p uint64) {
	w.buf.Write(EncodePointer(p))
}

// EncodePointer returns the bytes of a pointer to data section offset p.
func EncodePointer(p uint64) []byte {
	const ptr = typePointer << 5
	switch {
	case p < 2048:
		return []byte{ptr | byte(p>>8)&0x7, byte(p)}
	case p < 526336:
		v := p - 2048
		return []byte{ptr | 1<<3 | byte(v>>16)&0x7, byte(v >> 8), byte(v)}
	case p < 526336+1<<27:
		v := p - 526336
		return []byte{ptr | 2<<3 | byte(v>>24)&0x7, byte(v >> 16), byte(v >> 8), byte(v)}
	default:
		return []byte{ptr | 3<<3, byte(p >> 24), byte(p >> 16), byte(p >> 8), byte(p)}
	}
}
