package decoder

import (
	"github.com/pkg/errors"

	"github.com/MikhailWahib/gravelmmdb/internal/pool"
	"github.com/MikhailWahib/gravelmmdb/internal/shared"
)

func (d *Decoder) checkDepth(depth int) error {
	if depth > d.maxDepth {
		return errors.Wrapf(shared.ErrInvalidData, "exceeded maximum data structure depth of %d", d.maxDepth)
	}
	return nil
}

// Skip returns the offset just past the element at offset, walking over
// every member of a map or array. Pointers are not followed: skipping a
// pointer consumes only the pointer itself.
func (d *Decoder) Skip(offset uint64, depth int) (uint64, error) {
	if err := d.checkDepth(depth); err != nil {
		return 0, err
	}
	elem, next, err := d.decodeRaw(offset)
	if err != nil {
		return 0, err
	}

	var members uint64
	switch elem.Type {
	case TypeMap:
		members = elem.Size * 2
	case TypeArray:
		members = elem.Size
	default:
		return next, nil
	}

	off := elem.FirstMember
	for range members {
		off, err = d.Skip(off, depth+1)
		if err != nil {
			return 0, err
		}
	}
	return off, nil
}

// DecodeKey decodes a map key at offset, following a pointer if present.
// Keys must be strings.
func (d *Decoder) DecodeKey(offset uint64) (Element, uint64, error) {
	key, next, err := d.DecodeOne(offset)
	if err != nil {
		return Element{}, 0, err
	}
	if key.Type != TypeString {
		return Element{}, 0, errors.Wrapf(shared.ErrInvalidData, "map key at %d is a %s, not a string", offset, key.Type)
	}
	return key, next, nil
}

// Materialize decodes the whole structure at offset into p as a pre-order
// walk: a map node is followed by key, value, key, value..., an array node
// by its members. On error the pool must be discarded.
func (d *Decoder) Materialize(offset uint64, p *pool.Pool[Element]) error {
	_, err := d.materialize(offset, p, 0)
	return err
}

func (d *Decoder) materialize(offset uint64, p *pool.Pool[Element], depth int) (uint64, error) {
	if err := d.checkDepth(depth); err != nil {
		return 0, err
	}
	elem, next, err := d.DecodeOne(offset)
	if err != nil {
		return 0, err
	}
	if err := appendNode(p, elem); err != nil {
		return 0, err
	}
	if !elem.IsContainer() {
		return next, nil
	}

	off := elem.FirstMember
	for range elem.Size {
		if elem.Type == TypeMap {
			var key Element
			key, off, err = d.DecodeKey(off)
			if err != nil {
				return 0, err
			}
			if err := appendNode(p, key); err != nil {
				return 0, err
			}
		}
		off, err = d.materialize(off, p, depth+1)
		if err != nil {
			return 0, err
		}
	}

	// A container reached through a pointer ends where the pointer ends.
	if elem.Offset != offset {
		return next, nil
	}
	return off, nil
}

func appendNode(p *pool.Pool[Element], elem Element) error {
	idx, err := p.Alloc()
	if err != nil {
		return err
	}
	p.Get(idx).Value = elem
	return nil
}

// Tree converts a materialized list back into Go values: map[string]any for
// maps, []any for arrays and Element.Value for scalars. It returns the node
// after the consumed subtree.
func Tree(node *pool.Node[Element]) (any, *pool.Node[Element], error) {
	if node == nil {
		return nil, nil, errors.Wrap(shared.ErrInvalidData, "data list ended early")
	}
	elem := node.Value
	node = node.Next

	switch elem.Type {
	case TypeMap:
		m := make(map[string]any, elem.Size)
		for range elem.Size {
			if node == nil || node.Value.Type != TypeString {
				return nil, nil, errors.Wrap(shared.ErrInvalidData, "map key missing from data list")
			}
			key := node.Value.String()
			var (
				v   any
				err error
			)
			v, node, err = Tree(node.Next)
			if err != nil {
				return nil, nil, err
			}
			m[key] = v
		}
		return m, node, nil
	case TypeArray:
		a := make([]any, 0, elem.Size)
		for range elem.Size {
			var (
				v   any
				err error
			)
			v, node, err = Tree(node)
			if err != nil {
				return nil, nil, err
			}
			a = append(a, v)
		}
		return a, node, nil
	default:
		return elem.Value(), node, nil
	}
}

// DecodeValue fully decodes the element at offset into Go values using a
// private pool.
func (d *Decoder) DecodeValue(offset uint64, poolSize, poolMaxBytes int) (any, error) {
	p, err := pool.New[Element](poolSize, poolMaxBytes)
	if err != nil {
		return nil, err
	}
	if err := d.Materialize(offset, p); err != nil {
		return nil, err
	}
	v, _, err := Tree(p.ToList())
	return v, err
}
