//go:build !linux

package shm

import (
	"context"
	"fmt"
)

// MapRegion allocates a process-local region. Named regions are not shared
// across processes outside Linux.
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	if opts.Size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, opts.Size)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &MappedRegion{Addr: make([]byte, opts.Size), fd: -1}, nil
}

// UnmapRegion drops the region's memory.
func UnmapRegion(ctx context.Context, region *MappedRegion) error {
	if region != nil {
		region.Addr = nil
	}
	return nil
}
