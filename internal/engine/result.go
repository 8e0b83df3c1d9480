package engine

import (
	"net/netip"

	"github.com/MikhailWahib/gravelmmdb/internal/decoder"
	"github.com/MikhailWahib/gravelmmdb/internal/pool"
	"github.com/MikhailWahib/gravelmmdb/internal/shared"
)

// Result is the outcome of a lookup. PrefixLen counts tree bits, so IPv4
// addresses in an IPv6 tree report 96 more than their IPv4 prefix.
type Result struct {
	Entry     Entry
	PrefixLen int
	Found     bool

	ipv6Tree bool
	addr     netip.Addr
}

// Network returns the network that decided the lookup, covering or empty.
// IPv4 addresses are reported in IPv4 terms when the prefix reaches into
// the ::/96 region.
func (r Result) Network() netip.Prefix {
	if !r.addr.IsValid() {
		return netip.Prefix{}
	}
	if r.addr.Is4() && r.ipv6Tree {
		if r.PrefixLen >= 96 {
			p, _ := r.addr.Prefix(r.PrefixLen - 96)
			return p
		}
		var k [16]byte
		p, _ := netip.AddrFrom16(k).Prefix(r.PrefixLen)
		return p
	}
	p, _ := r.addr.Prefix(r.PrefixLen)
	return p
}

// Entry points at a record in the data section.
type Entry struct {
	engine *Engine
	Offset uint64
}

// GetValue follows path through nested maps and arrays. Map segments match
// keys exactly; array segments are decimal indexes. found is false when the
// path leads nowhere, which is not an error.
func (en Entry) GetValue(path ...string) (decoder.Element, bool, error) {
	if err := en.check(); err != nil {
		return decoder.Element{}, false, err
	}
	return walk(en.engine.dec, en.Offset, path)
}

// SubEntry resolves path like GetValue and returns an Entry for the value
// found there, so it can be decoded on its own.
func (en Entry) SubEntry(path ...string) (Entry, bool, error) {
	elem, found, err := en.GetValue(path...)
	if err != nil || !found {
		return Entry{}, false, err
	}
	return Entry{engine: en.engine, Offset: elem.Offset}, true, nil
}

// DataList materializes the entry as a pre-order list of elements using a
// pool private to this call.
func (en Entry) DataList() (*pool.Node[decoder.Element], error) {
	if err := en.check(); err != nil {
		return nil, err
	}
	p, err := pool.New[decoder.Element](en.engine.cfg.PoolInitialSize, en.engine.poolMaxBytes)
	if err != nil {
		return nil, err
	}
	if err := en.engine.dec.Materialize(en.Offset, p); err != nil {
		return nil, err
	}
	return p.ToList(), nil
}

// Decode converts the whole entry into Go values: map[string]any, []any and
// scalars.
func (en Entry) Decode() (any, error) {
	list, err := en.DataList()
	if err != nil {
		return nil, err
	}
	v, _, err := decoder.Tree(list)
	return v, err
}

func (en Entry) check() error {
	if en.engine == nil {
		return errNoEntry
	}
	if en.engine.closed.Load() {
		return shared.ErrClosed
	}
	return nil
}
