// Package engine implements the database handle: it owns the byte source and
// the parsed metadata, and answers lookups, path queries and node reads.
package engine

import (
	"math"
	"net/netip"
	"sync/atomic"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/MikhailWahib/gravelmmdb/internal/config"
	"github.com/MikhailWahib/gravelmmdb/internal/decoder"
	"github.com/MikhailWahib/gravelmmdb/internal/diskmanager"
	"github.com/MikhailWahib/gravelmmdb/internal/metadata"
	"github.com/MikhailWahib/gravelmmdb/internal/metrics"
	"github.com/MikhailWahib/gravelmmdb/internal/shared"
	"github.com/MikhailWahib/gravelmmdb/internal/tree"
)

const (
	// minPoolBytes is the smallest DataList budget derived from the data section.
	minPoolBytes = 4 << 20
	// poolBytesPerDataByte scales the derived DataList budget with the data section.
	poolBytesPerDataByte = 4
)

// poolBudget returns the DataList memory cap. Pointers let a small data
// section describe an exponentially large tree, so the cap is never unbounded
// unless configured.
func poolBudget(configured int, dataSize uint64) int {
	if configured > 0 {
		return configured
	}
	if dataSize > uint64(math.MaxInt/poolBytesPerDataByte) {
		return math.MaxInt
	}
	return max(minPoolBytes, int(dataSize)*poolBytesPerDataByte)
}

// Engine is an open database. It is never mutated after Open returns, so
// any number of goroutines may use it concurrently until Close.
type Engine struct {
	cfg     config.Config
	logger  log.Logger
	name    string
	src     diskmanager.Source
	meta    *metadata.Metadata
	layout  metadata.Layout
	tree    *tree.Tree
	dec     *decoder.Decoder
	metrics *metrics.Collectors
	closed  atomic.Bool

	poolMaxBytes int
}

// Open opens the database at path on cfg.Fs. A nil cfg uses the defaults.
func Open(cfg *config.Config, path string) (*Engine, error) {
	c, err := prepare(cfg)
	if err != nil {
		return nil, err
	}
	src, err := diskmanager.Open(c.Fs, path, c.Mode)
	if err != nil {
		return nil, err
	}
	return newEngine(c, path, src)
}

// OpenBytes opens a database held in buf. buf must not be modified while the
// engine is open.
func OpenBytes(cfg *config.Config, buf []byte) (*Engine, error) {
	c, err := prepare(cfg)
	if err != nil {
		return nil, err
	}
	return newEngine(c, "<memory>", diskmanager.NewBytesSource(buf))
}

// OpenSource opens a database over an already opened source. The engine
// takes ownership of src and closes it on Close or on failure.
func OpenSource(cfg *config.Config, name string, src diskmanager.Source) (*Engine, error) {
	c, err := prepare(cfg)
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	return newEngine(c, name, src)
}

func prepare(cfg *config.Config) (config.Config, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	c := *cfg
	c.FillDefaults()
	if err := c.Validate(); err != nil {
		return config.Config{}, err
	}
	return c, nil
}

func newEngine(cfg config.Config, name string, src diskmanager.Source) (*Engine, error) {
	meta, layout, err := metadata.Load(src, cfg.MetadataSearchWindow, cfg.MaxDepth)
	if err != nil {
		_ = src.Close()
		return nil, errors.WithMessagef(err, "opening %s", name)
	}
	dec, err := decoder.New(src, layout.DataStart, layout.DataSize, cfg.MaxDepth)
	if err != nil {
		_ = src.Close()
		return nil, errors.WithMessagef(err, "opening %s", name)
	}
	m, err := metrics.New(cfg.Registerer)
	if err != nil {
		_ = src.Close()
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		logger:  log.With(cfg.Logger, "db", name),
		name:    name,
		src:     src,
		meta:    meta,
		layout:  layout,
		tree:    tree.New(src, meta, layout.DataSize),
		dec:     dec,
		metrics: m,

		poolMaxBytes: poolBudget(cfg.PoolMaxBytes, layout.DataSize),
	}
	e.metrics.Opened()

	level.Debug(e.logger).Log(
		"msg", "opened database",
		"mode", cfg.Mode,
		"resident", src.Resident(),
		"size", src.Size(),
		"node_count", meta.NodeCount,
		"record_size", meta.RecordSize,
		"ip_version", meta.IPVersion,
		"database_type", meta.DatabaseType,
		"pool_max_bytes", e.poolMaxBytes,
	)
	return e, nil
}

// Metadata returns the parsed metadata. After Close every field is zero.
func (e *Engine) Metadata() *metadata.Metadata {
	return e.meta
}

// Layout returns where the sections of the file begin.
func (e *Engine) Layout() metadata.Layout {
	return e.layout
}

// Decoder returns the data section decoder.
func (e *Engine) Decoder() *decoder.Decoder {
	return e.dec
}

// Lookup finds the data record covering ip. A miss returns a result with
// Found false and no error.
func (e *Engine) Lookup(ip netip.Addr) (Result, error) {
	if e.closed.Load() {
		return Result{}, shared.ErrClosed
	}
	res, err := e.tree.Lookup(ip)
	e.metrics.ObserveLookup(res.Found, err)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Entry:     Entry{engine: e, Offset: res.Offset},
		PrefixLen: res.PrefixLen,
		Found:     res.Found,
		ipv6Tree:  e.tree.Depth() == 128,
		addr:      ip,
	}, nil
}

// LookupString parses a textual address and looks it up. IPv6 zones are
// accepted and ignored.
func (e *Engine) LookupString(s string) (Result, error) {
	ip, err := netip.ParseAddr(s)
	if err != nil {
		e.metrics.ObserveLookup(false, err)
		return Result{}, errors.Wrapf(shared.ErrInvalidAddress, "%q: %v", s, err)
	}
	return e.Lookup(ip.WithZone(""))
}

// ReadNode returns both records of the search tree node at index.
func (e *Engine) ReadNode(index uint64) (tree.Node, error) {
	if e.closed.Load() {
		return tree.Node{}, shared.ErrClosed
	}
	return e.tree.ReadNode(index)
}

// DataOffset converts a data record from ReadNode to an entry.
func (e *Engine) DataOffset(record uint64) (Entry, error) {
	off, err := e.tree.DataOffset(record)
	if err != nil {
		return Entry{}, err
	}
	return Entry{engine: e, Offset: off}, nil
}

// Close releases the source. It is safe to call more than once; only the
// first call does anything.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	err := e.src.Close()
	*e.meta = metadata.Metadata{}
	e.metrics.Closed()
	level.Debug(e.logger).Log("msg", "closed database", "err", err)
	return err
}
