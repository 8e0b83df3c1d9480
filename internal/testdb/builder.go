package testdb

import (
	"bytes"
	"fmt"
	"net/netip"
)

// MetadataMarker precedes the metadata map at the end of every database.
var MetadataMarker = []byte("\xAB\xCD\xEFMaxMind.com")

const separatorSize = 16

// Builder assembles a complete database file.
type Builder struct {
	IPVersion    int
	RecordSize   int
	DatabaseType string
	Languages    []string
	Description  map[string]string
	BuildEpoch   uint64
	MajorVersion uint16
	MinorVersion uint16

	// MetadataOverride replaces metadata keys after the defaults are filled
	// in. A nil value removes the key.
	MetadataOverride map[string]any
	// Data is written before any network value. Pointers inside network
	// values may refer to offsets inside it.
	Data []any
	// PointerKeys writes repeated map keys as pointers.
	PointerKeys bool

	root      *trieNode
	inserted  []*leaf
	NodeCount int
}

type trieNode struct {
	children [2]any // nil, *trieNode or *leaf
	index    int
}

type leaf struct {
	value  any
	offset uint64
}

// New returns a Builder with sensible metadata defaults.
func New(ipVersion, recordSize int) *Builder {
	return &Builder{
		IPVersion:    ipVersion,
		RecordSize:   recordSize,
		DatabaseType: "Test",
		Languages:    []string{"en", "zh"},
		Description:  map[string]string{"en": "Test Database", "zh": "Test Database Chinese"},
		BuildEpoch:   1700000000,
		MajorVersion: 2,
		MinorVersion: 0,
		root:         &trieNode{},
	}
}

func (b *Builder) depth() int {
	if b.IPVersion == 4 {
		return 32
	}
	return 128
}

// Insert maps every address in prefix to value. A more specific prefix
// inserted later splits the covering one.
func (b *Builder) Insert(prefix netip.Prefix, value any) {
	prefix = prefix.Masked()
	addr := prefix.Addr()
	bits := prefix.Bits()
	var key [16]byte
	if b.IPVersion == 4 {
		if !addr.Is4() {
			panic(fmt.Sprintf("testdb: %s in an IPv4 database", prefix))
		}
		a4 := addr.As4()
		copy(key[:], a4[:])
	} else {
		key = addr.As16()
		if addr.Is4() {
			a4 := addr.As4()
			key = [16]byte{}
			copy(key[12:], a4[:])
			bits += 96
		}
	}

	lf := &leaf{value: value}
	b.inserted = append(b.inserted, lf)

	node := b.root
	for i := 0; i < bits; i++ {
		bit := (key[i/8] >> (7 - uint(i%8))) & 1
		if i == bits-1 {
			node.children[bit] = lf
			return
		}
		switch child := node.children[bit].(type) {
		case *trieNode:
			node = child
		case *leaf:
			split := &trieNode{children: [2]any{child, child}}
			node.children[bit] = split
			node = split
		default:
			next := &trieNode{}
			node.children[bit] = next
			node = next
		}
	}
}

// MustPrefix parses s or panics.
func MustPrefix(s string) netip.Prefix {
	return netip.MustParsePrefix(s)
}

// Build encodes the search tree, data section and metadata.
func (b *Builder) Build() []byte {
	data := &DataWriter{PointerKeys: b.PointerKeys}
	for _, v := range b.Data {
		data.Write(v)
	}
	for _, lf := range b.inserted {
		lf.offset = data.Write(lf.value)
	}

	var nodes []*trieNode
	queue := []*trieNode{b.root}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		n.index = len(nodes)
		nodes = append(nodes, n)
		for _, c := range n.children {
			if child, ok := c.(*trieNode); ok {
				queue = append(queue, child)
			}
		}
	}
	b.NodeCount = len(nodes)
	nodeCount := uint64(len(nodes))

	var tree bytes.Buffer
	for _, n := range nodes {
		var records [2]uint64
		for i, c := range n.children {
			switch child := c.(type) {
			case *trieNode:
				records[i] = uint64(child.index)
			case *leaf:
				records[i] = nodeCount + separatorSize + child.offset
			default:
				records[i] = nodeCount
			}
		}
		tree.Write(EncodeNode(b.RecordSize, records[0], records[1]))
	}

	return Assemble(tree.Bytes(), data.Bytes(), b.metadata(nodeCount))
}

func (b *Builder) metadata(nodeCount uint64) map[string]any {
	meta := map[string]any{
		"node_count":                  uint32(nodeCount),
		"record_size":                 uint16(b.RecordSize),
		"ip_version":                  uint16(b.IPVersion),
		"database_type":               b.DatabaseType,
		"languages":                   b.Languages,
		"binary_format_major_version": b.MajorVersion,
		"binary_format_minor_version": b.MinorVersion,
		"build_epoch":                 b.BuildEpoch,
		"description":                 b.Description,
	}
	for k, v := range b.MetadataOverride {
		if v == nil {
			delete(meta, k)
			continue
		}
		meta[k] = v
	}
	return meta
}

// EncodeNode packs two records of recordSize bits.
func EncodeNode(recordSize int, left, right uint64) []byte {
	switch recordSize {
	case 24:
		return []byte{
			byte(left >> 16), byte(left >> 8), byte(left),
			byte(right >> 16), byte(right >> 8), byte(right),
		}
	case 28:
		return []byte{
			byte(left >> 16), byte(left >> 8), byte(left),
			byte((left>>24)&0xF)<<4 | byte((right>>24)&0xF),
			byte(right >> 16), byte(right >> 8), byte(right),
		}
	case 32:
		return []byte{
			byte(left >> 24), byte(left >> 16), byte(left >> 8), byte(left),
			byte(right >> 24), byte(right >> 16), byte(right >> 8), byte(right),
		}
	default:
		panic(fmt.Sprintf("testdb: unsupported record size %d", recordSize))
	}
}

// Assemble lays out a database file from its encoded parts. meta is encoded
// with its own DataWriter so its pointers are relative to the metadata start.
func Assemble(tree, data []byte, meta any) []byte {
	var out bytes.Buffer
	out.Write(tree)
	out.Write(make([]byte, separatorSize))
	out.Write(data)
	out.Write(MetadataMarker)
	m := &DataWriter{}
	m.Write(meta)
	out.Write(m.Bytes())
	return out.Bytes()
}
