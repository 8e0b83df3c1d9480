// Package gravelmmdb reads MaxMind DB files: IP geolocation and network
// databases made of a binary search tree over address bits, a data section
// of typed values and a trailing metadata map.
//
// A DB is read-only once opened. Lookups walk the tree for an address and
// return an Entry pointing into the data section; the Entry can be queried
// by path without decoding the rest of the record, or decoded in full.
//
// Example usage:
//
//	db, err := gravelmmdb.Open("/path/to/GeoLite2-City.mmdb", nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	res, err := db.LookupString("81.2.69.160")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if !res.Found {
//		fmt.Println("no network covers this address")
//		return
//	}
//
//	elem, found, err := res.Entry.GetValue("country", "iso_code")
//	if err == nil && found {
//		fmt.Printf("country: %s\n", elem.String())
//	}
package gravelmmdb

import (
	"net"
	"net/netip"

	"github.com/pkg/errors"
	"go4.org/netipx"

	"github.com/MikhailWahib/gravelmmdb/internal/config"
	"github.com/MikhailWahib/gravelmmdb/internal/decoder"
	"github.com/MikhailWahib/gravelmmdb/internal/engine"
	"github.com/MikhailWahib/gravelmmdb/internal/metadata"
	"github.com/MikhailWahib/gravelmmdb/internal/pool"
	"github.com/MikhailWahib/gravelmmdb/internal/shared"
	"github.com/MikhailWahib/gravelmmdb/internal/tree"
)

// Config is an alias for config.Config, re-exported for user convenience.
type Config = config.Config

// DefaultConfig returns a Config struct populated with default values. Re-exported for user convenience.
var DefaultConfig = config.DefaultConfig

// Mode selects how the file is accessed.
type Mode = config.Mode

const (
	// ModeMmap maps the file read-only. It is the default.
	ModeMmap = config.ModeMmap
	// ModeMemory reads the whole file into memory.
	ModeMemory = config.ModeMemory
	// ModeFile reads through the file descriptor on demand, keeping only the
	// metadata resident.
	ModeFile = config.ModeFile
)

// Metadata describes an open database.
type Metadata = metadata.Metadata

// Element is one decoded value from the data section.
type Element = decoder.Element

// Type is the data type of an Element.
type Type = decoder.Type

// DataNode is one element of the list returned by Entry.DataList.
type DataNode = pool.Node[decoder.Element]

// Node holds the two records of a search tree node, as returned by ReadNode.
type Node = tree.Node

// RecordType classifies a record in a Node.
type RecordType = tree.RecordType

// Entry points at a record in the data section.
type Entry = engine.Entry

// Record types.
const (
	RecordSearchNode = tree.RecordSearchNode
	RecordEmpty      = tree.RecordEmpty
	RecordData       = tree.RecordData
)

// Errors returned by the package. Test for them with errors.Is.
var (
	ErrFileOpen                 = shared.ErrFileOpen
	ErrInvalidMetadata          = shared.ErrInvalidMetadata
	ErrUnknownDatabaseFormat    = shared.ErrUnknownDatabaseFormat
	ErrCorruptSearchTree        = shared.ErrCorruptSearchTree
	ErrInvalidNodeNumber        = shared.ErrInvalidNodeNumber
	ErrInvalidData              = shared.ErrInvalidData
	ErrIO                       = shared.ErrIO
	ErrOutOfMemory              = shared.ErrOutOfMemory
	ErrInvalidAddress           = shared.ErrInvalidAddress
	ErrIPv6LookupInIPv4Database = shared.ErrIPv6LookupInIPv4Database
	ErrInvalidLookupPath        = shared.ErrInvalidLookupPath
	ErrClosed                   = shared.ErrClosed
)

// DB is an open database. It is safe for concurrent use by multiple
// goroutines until Close is called.
type DB struct {
	engine *engine.Engine
}

// Result is the outcome of a lookup. When Found is false the address is not
// covered by any network in the database; that is not an error.
type Result struct {
	engine.Result
}

// Range returns the address range of Network.
func (r Result) Range() netipx.IPRange {
	return netipx.RangeOfPrefix(r.Network())
}

// Open opens the database file at path.
//
// A nil cfg uses DefaultConfig. The file is read through cfg.Fs, which
// defaults to the OS filesystem.
//
// Returns a DB instance or an error if the file is missing or not a valid database.
func Open(path string, cfg *Config) (*DB, error) {
	e, err := engine.Open(cfg, path)
	if err != nil {
		return nil, err
	}
	return &DB{engine: e}, nil
}

// OpenBytes opens a database already held in memory. buf must not be
// modified while the DB is open.
func OpenBytes(buf []byte, cfg *Config) (*DB, error) {
	e, err := engine.OpenBytes(cfg, buf)
	if err != nil {
		return nil, err
	}
	return &DB{engine: e}, nil
}

// Lookup finds the network covering ip.
func (db *DB) Lookup(ip netip.Addr) (Result, error) {
	res, err := db.engine.Lookup(ip)
	return Result{res}, err
}

// LookupString parses s as an IPv4 or IPv6 address and looks it up. An
// unparsable string returns ErrInvalidAddress.
func (db *DB) LookupString(s string) (Result, error) {
	res, err := db.engine.LookupString(s)
	return Result{res}, err
}

// LookupIP looks up a net.IP. The 16 byte form of an IPv4 address is
// treated as IPv4.
func (db *DB) LookupIP(ip net.IP) (Result, error) {
	addr, ok := netipx.FromStdIP(ip)
	if !ok {
		return Result{}, errors.Wrapf(ErrInvalidAddress, "%v", []byte(ip))
	}
	return db.Lookup(addr)
}

// LookupNetwork returns the network that decided the lookup of ip and
// whether it holds data.
func (db *DB) LookupNetwork(ip netip.Addr) (netip.Prefix, bool, error) {
	res, err := db.Lookup(ip)
	if err != nil {
		return netip.Prefix{}, false, err
	}
	return res.Network(), res.Found, nil
}

// Metadata returns the database metadata. Every field is zero after Close.
func (db *DB) Metadata() *Metadata {
	return db.engine.Metadata()
}

// ReadNode returns the records of search tree node index. Index must be
// below Metadata().NodeCount.
func (db *DB) ReadNode(index uint64) (Node, error) {
	return db.engine.ReadNode(index)
}

// EntryForRecord returns the Entry a data record from ReadNode points at.
func (db *DB) EntryForRecord(record uint64) (Entry, error) {
	return db.engine.DataOffset(record)
}

// Close releases the file. Calling Close more than once is harmless.
//
//	db, err := gravelmmdb.Open("/path/to/database.mmdb", nil)
//	if err != nil {
//		return err
//	}
//	defer db.Close()
func (db *DB) Close() error {
	return db.engine.Close()
}
