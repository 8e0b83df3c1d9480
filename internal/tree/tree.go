// Package tree walks the binary search tree at the start of a database file
// to find the data record for an address by longest-prefix match.
package tree

import (
	"encoding/binary"
	"net/netip"

	"github.com/pkg/errors"

	"github.com/MikhailWahib/gravelmmdb/internal/diskmanager"
	"github.com/MikhailWahib/gravelmmdb/internal/metadata"
	"github.com/MikhailWahib/gravelmmdb/internal/shared"
)

// RecordType classifies a record by comparing it with the node count.
type RecordType int

const (
	// RecordSearchNode records hold the index of the next node.
	RecordSearchNode RecordType = iota
	// RecordEmpty records end the walk without a match.
	RecordEmpty
	// RecordData records point into the data section.
	RecordData
)

func (r RecordType) String() string {
	switch r {
	case RecordSearchNode:
		return "search_node"
	case RecordEmpty:
		return "empty"
	case RecordData:
		return "data"
	default:
		return "invalid"
	}
}

// Node is one search tree node: the record for a zero bit and for a one bit.
type Node struct {
	Left      uint64
	Right     uint64
	LeftType  RecordType
	RightType RecordType
}

// Result is the outcome of a lookup. Offset is only meaningful when Found.
type Result struct {
	Offset    uint64
	PrefixLen int
	Found     bool
}

// Tree reads nodes directly from the source on every step.
type Tree struct {
	src        diskmanager.Source
	nodeCount  uint64
	recordSize uint16
	width      uint64
	depth      int
	dataSize   uint64
}

// New returns a Tree over the search tree described by meta. dataSize bounds
// the offsets data records may point at.
func New(src diskmanager.Source, meta *metadata.Metadata, dataSize uint64) *Tree {
	return &Tree{
		src:        src,
		nodeCount:  uint64(meta.NodeCount),
		recordSize: meta.RecordSize,
		width:      meta.RecordByteWidth(),
		depth:      meta.TreeDepth(),
		dataSize:   dataSize,
	}
}

// Depth returns the number of address bits covered by the tree.
func (t *Tree) Depth() int { return t.depth }

// ReadNode returns both records of node index.
func (t *Tree) ReadNode(index uint64) (Node, error) {
	left, right, err := t.readRecords(index)
	if err != nil {
		return Node{}, err
	}
	return Node{
		Left:      left,
		Right:     right,
		LeftType:  t.classify(left),
		RightType: t.classify(right),
	}, nil
}

// DataOffset converts a data record to an offset in the data section.
func (t *Tree) DataOffset(record uint64) (uint64, error) {
	if record <= t.nodeCount {
		return 0, errors.Wrapf(shared.ErrCorruptSearchTree, "record %d is not a data record", record)
	}
	rel := record - t.nodeCount
	if rel < metadata.SeparatorSize || rel-metadata.SeparatorSize >= t.dataSize {
		return 0, errors.Wrapf(shared.ErrCorruptSearchTree, "record %d points outside the %d byte data section", record, t.dataSize)
	}
	return rel - metadata.SeparatorSize, nil
}

func (t *Tree) classify(record uint64) RecordType {
	switch {
	case record < t.nodeCount:
		return RecordSearchNode
	case record == t.nodeCount:
		return RecordEmpty
	default:
		return RecordData
	}
}

func (t *Tree) readRecords(index uint64) (uint64, uint64, error) {
	if index >= t.nodeCount {
		return 0, 0, errors.Wrapf(shared.ErrInvalidNodeNumber, "node %d of %d", index, t.nodeCount)
	}
	buf, err := t.src.ReadAt(index*t.width, t.width)
	if err != nil {
		return 0, 0, err
	}

	switch t.recordSize {
	case 24:
		left := uint64(buf[0])<<16 | uint64(buf[1])<<8 | uint64(buf[2])
		right := uint64(buf[3])<<16 | uint64(buf[4])<<8 | uint64(buf[5])
		return left, right, nil
	case 28:
		// The middle byte holds the top nibble of each record.
		left := uint64(buf[3]&0xF0)<<20 | uint64(buf[0])<<16 | uint64(buf[1])<<8 | uint64(buf[2])
		right := uint64(buf[3]&0x0F)<<24 | uint64(buf[4])<<16 | uint64(buf[5])<<8 | uint64(buf[6])
		return left, right, nil
	case 32:
		return uint64(binary.BigEndian.Uint32(buf[:4])), uint64(binary.BigEndian.Uint32(buf[4:8])), nil
	default:
		return 0, 0, errors.Wrapf(shared.ErrInvalidMetadata, "unsupported record size %d", t.recordSize)
	}
}

// Lookup walks the tree for ip, most significant bit first. IPv4 addresses
// in an IPv6 tree are looked up under the ::/96 prefix. A walk that ends in
// an empty record is a miss, not an error.
func (t *Tree) Lookup(ip netip.Addr) (Result, error) {
	if !ip.IsValid() {
		return Result{}, errors.Wrap(shared.ErrInvalidAddress, "zero address")
	}

	var key [16]byte
	if t.depth == 32 {
		if !ip.Is4() {
			return Result{}, errors.Wrapf(shared.ErrIPv6LookupInIPv4Database, "%s", ip)
		}
		a4 := ip.As4()
		copy(key[:], a4[:])
	} else if ip.Is4() {
		a4 := ip.As4()
		copy(key[12:], a4[:])
	} else {
		key = ip.As16()
	}

	bits := t.depth
	node := uint64(0)
	for depth := bits - 1; depth >= 0; depth-- {
		i := bits - 1 - depth
		bit := (key[i>>3] >> (7 - uint(i&7))) & 1

		left, right, err := t.readRecords(node)
		if err != nil {
			return Result{}, err
		}
		record := left
		if bit == 1 {
			record = right
		}

		switch t.classify(record) {
		case RecordData:
			offset, err := t.DataOffset(record)
			if err != nil {
				return Result{}, err
			}
			return Result{Offset: offset, PrefixLen: bits - depth, Found: true}, nil
		case RecordEmpty:
			return Result{PrefixLen: bits - depth}, nil
		default:
			node = record
		}
	}

	return Result{}, errors.Wrapf(shared.ErrCorruptSearchTree, "walk for %s did not terminate after %d bits", ip, bits)
}
