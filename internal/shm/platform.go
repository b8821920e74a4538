// Package shm contains platform-specific helpers for shared memory buffer implementation.
package shm

import "errors"

// DefaultDir is where named regions are created on Linux.
const DefaultDir = "/dev/shm"

var (
	ErrInvalidSize = errors.New("shm: invalid region size")
	ErrNoSpace     = errors.New("shm: not enough space left on shared memory device")
)

// MappedRegion represents a memory-mapped shared region.
type MappedRegion struct {
	Addr []byte
	// Path is empty for anonymous and heap regions.
	Path string

	fd      int
	created bool
}

// MapOptions defines options for mapping shared memory.
type MapOptions struct {
	// Name selects a named region under Dir. An empty name maps an
	// anonymous shared region.
	Name   string
	Size   int
	Create bool
	// Dir overrides DefaultDir.
	Dir string
}

// Function implementations are provided in platform-specific files (platform_linux.go, platform_other.go).
