// Package pool provides a growable, block based allocator for building the
// linked lists produced when a decoded structure is fully materialized.
//
// Think of a Pool as an array: the order slots are allocated in is the order
// of the list returned by ToList. Blocks are appended, never reallocated, so
// a *Node handed out by Get stays valid for the life of the pool.
package pool

import (
	"math"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/MikhailWahib/gravelmmdb/internal/shared"
)

// Node is one slot of the pool and, after ToList, one link of the list.
type Node[T any] struct {
	Value T
	Next  *Node[T]
}

// Pool hands out zeroed Nodes by index. It only grows.
type Pool[T any] struct {
	blocks   [][]Node[T]
	size     int // capacity of the last block
	used     int // slots used in the last block
	total    int
	bytes    int
	maxBytes int
}

// New creates a pool with room for size nodes before its first growth.
// maxBytes caps the memory the pool may ever hold; zero means no cap.
func New[T any](size, maxBytes int) (*Pool[T], error) {
	if maxBytes <= 0 {
		maxBytes = math.MaxInt
	}
	if size <= 0 {
		return nil, errors.Wrapf(shared.ErrOutOfMemory, "invalid pool size %d", size)
	}
	elem := nodeSize[T]()
	if !canMultiply(maxBytes, size, elem) {
		return nil, errors.Wrapf(shared.ErrOutOfMemory, "pool of %d nodes exceeds %d bytes", size, maxBytes)
	}

	return &Pool[T]{
		blocks:   [][]Node[T]{make([]Node[T], size)},
		size:     size,
		bytes:    size * elem,
		maxBytes: maxBytes,
	}, nil
}

// canMultiply reports whether m*n stays at or below max.
func canMultiply(max, m, n int) bool {
	if m <= 0 || n < 0 {
		return false
	}
	return n <= max/m
}

func nodeSize[T any]() int {
	var n Node[T]
	return int(unsafe.Sizeof(n))
}

// Alloc claims the next slot and returns its index. When the current block is
// full a new block twice its size is appended.
func (p *Pool[T]) Alloc() (int, error) {
	if p.used < p.size {
		p.used++
		p.total++
		return p.total - 1, nil
	}

	if !canMultiply(math.MaxInt, p.size, 2) {
		return 0, errors.Wrapf(shared.ErrOutOfMemory, "pool block of %d nodes cannot double", p.size)
	}
	newSize := p.size * 2
	elem := nodeSize[T]()
	if !canMultiply(p.maxBytes-p.bytes, newSize, elem) {
		return 0, errors.Wrapf(shared.ErrOutOfMemory, "growing pool to %d more nodes exceeds %d bytes", newSize, p.maxBytes)
	}

	p.blocks = append(p.blocks, make([]Node[T], newSize))
	p.bytes += newSize * elem
	p.size = newSize
	p.used = 1
	p.total++
	return p.total - 1, nil
}

// Get returns the node at idx, or nil if idx was never allocated.
func (p *Pool[T]) Get(idx int) *Node[T] {
	if idx < 0 || idx >= p.total {
		return nil
	}
	for _, block := range p.blocks {
		if idx < len(block) {
			return &block[idx]
		}
		idx -= len(block)
	}
	return nil
}

// Len returns the number of allocated nodes.
func (p *Pool[T]) Len() int { return p.total }

// Blocks returns the number of blocks the pool has allocated.
func (p *Pool[T]) Blocks() int { return len(p.blocks) }

// ToList links every allocated node in allocation order and returns the
// first one, or nil when nothing was allocated. Call it once all
// allocations are done.
func (p *Pool[T]) ToList() *Node[T] {
	var head, prev *Node[T]
	remaining := p.total
	for _, block := range p.blocks {
		for i := range block {
			if remaining == 0 {
				break
			}
			remaining--
			n := &block[i]
			n.Next = nil
			if prev == nil {
				head = n
			} else {
				prev.Next = n
			}
			prev = n
		}
	}
	return head
}
