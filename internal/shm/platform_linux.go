//go:build linux

package shm

import (
	"context"
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// MapRegion maps or creates a shared memory region (Linux implementation).
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	if opts.Size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, opts.Size)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Name == "" {
		addr, err := unix.Mmap(-1, 0, opts.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
		if err != nil {
			return nil, fmt.Errorf("mmap anonymous: %w", err)
		}
		return &MappedRegion{Addr: addr, fd: -1}, nil
	}

	dir := opts.Dir
	if dir == "" {
		dir = DefaultDir
	}
	shmPath := filepath.Join(dir, opts.Name)
	flags := unix.O_RDWR | unix.O_CLOEXEC
	if opts.Create {
		if !CanCreateOnDevShm(uint64(opts.Size), shmPath) {
			return nil, fmt.Errorf("%w: path %s, size %d", ErrNoSpace, shmPath, opts.Size)
		}
		flags |= unix.O_CREAT
	}
	fd, err := unix.Open(shmPath, flags, 0600)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	cleanup := func() {
		_ = unix.Close(fd)
		if opts.Create {
			_ = unix.Unlink(shmPath)
		}
	}
	if opts.Create {
		if err := unix.Ftruncate(fd, int64(opts.Size)); err != nil {
			cleanup()
			return nil, fmt.Errorf("ftruncate: %w", err)
		}
	}
	addr, err := unix.Mmap(fd, 0, opts.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &MappedRegion{
		Addr:    addr,
		Path:    shmPath,
		fd:      fd,
		created: opts.Create,
	}, nil
}

// UnmapRegion unmaps and closes the shared memory region (Linux implementation).
// A region this process created is unlinked as well.
func UnmapRegion(ctx context.Context, region *MappedRegion) error {
	if region == nil || region.Addr == nil {
		return nil
	}
	if err := unix.Munmap(region.Addr); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	region.Addr = nil
	if region.fd >= 0 {
		if err := unix.Close(region.fd); err != nil {
			return fmt.Errorf("close fd %d: %w", region.fd, err)
		}
		region.fd = -1
	}
	if region.created && region.Path != "" {
		if err := unix.Unlink(region.Path); err != nil {
			return fmt.Errorf("unlink %s: %w", region.Path, err)
		}
	}
	return nil
}
