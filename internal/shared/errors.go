// Package shared provides the error taxonomy used across the database implementation.
package shared

import (
	"github.com/pkg/errors"
)

var (
	// ErrFileOpen is returned when the database file cannot be opened or read at open time.
	ErrFileOpen = errors.New("error opening the database file")
	// ErrInvalidMetadata is returned when the metadata marker is missing or the
	// metadata map cannot be decoded. The file is not a valid database.
	ErrInvalidMetadata = errors.New("the metadata section contains bad data")
	// ErrUnknownDatabaseFormat is returned for binary format major versions other than 2.
	ErrUnknownDatabaseFormat = errors.New("the database file is in a format this library does not understand")
	// ErrCorruptSearchTree is returned when traversal falls through or a record points outside the file.
	ErrCorruptSearchTree = errors.New("the database file's search tree is corrupt")
	// ErrInvalidNodeNumber is returned when a node index is not below the node count.
	ErrInvalidNodeNumber = errors.New("the node number you requested is invalid")
	// ErrInvalidData is returned when the data section contains invalid or malicious data.
	ErrInvalidData = errors.New("the data section contains bad data")
	// ErrIO is returned when a read from the underlying file fails.
	ErrIO = errors.New("an I/O error occurred while reading the database")
	// ErrOutOfMemory is returned when an allocation would overflow or exceed its budget.
	ErrOutOfMemory = errors.New("a memory allocation call failed")
	// ErrInvalidAddress is returned when a textual address cannot be parsed.
	ErrInvalidAddress = errors.New("the address is not a valid IP address")
	// ErrIPv6LookupInIPv4Database is returned when an IPv6 address is looked up in an IPv4-only tree.
	ErrIPv6LookupInIPv4Database = errors.New("you attempted to look up an IPv6 address in an IPv4-only database")
	// ErrInvalidLookupPath is returned when an array path segment is not a non-negative integer.
	ErrInvalidLookupPath = errors.New("the lookup path contained an invalid value")
	// ErrClosed is returned by operations on a closed database.
	ErrClosed = errors.New("the database is closed")
)

// Exit codes used by command line tools. Each error class maps to its own code.
const (
	ExitOK = iota
	ExitAddress
	ExitOpen
	ExitCorrupt
	ExitIO
	ExitNotFound
	ExitUsage
	ExitInternal
)

// ExitCode maps an error to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrInvalidAddress),
		errors.Is(err, ErrIPv6LookupInIPv4Database),
		errors.Is(err, ErrInvalidLookupPath):
		return ExitAddress
	case errors.Is(err, ErrFileOpen),
		errors.Is(err, ErrInvalidMetadata),
		errors.Is(err, ErrUnknownDatabaseFormat):
		return ExitOpen
	case errors.Is(err, ErrCorruptSearchTree),
		errors.Is(err, ErrInvalidNodeNumber),
		errors.Is(err, ErrInvalidData):
		return ExitCorrupt
	case errors.Is(err, ErrIO):
		return ExitIO
	default:
		return ExitInternal
	}
}
