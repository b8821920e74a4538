package shm

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNoSpace is returned when a partition does not fit in what is left of the buffer.
var ErrNoSpace = errors.New("shm: no free space left in buffer")

// Partitioner carves disjoint views out of a Buffer, front to back.
// Views are never handed back; the partition lives as long as the buffer.
type Partitioner struct {
	mu    sync.Mutex
	buf   *Buffer
	next  int
	views []*View
}

// NewPartitioner creates a Partitioner over the whole of buf.
func NewPartitioner(buf *Buffer) *Partitioner {
	return &Partitioner{buf: buf}
}

// Carve returns the next size bytes of the buffer. A zero size yields an
// empty view at the current offset.
func (p *Partitioner) Carve(size int) (*View, error) {
	if size < 0 || size%WordSize != 0 {
		return nil, fmt.Errorf("%w: size %d", ErrUnaligned, size)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.next+size > p.buf.Size() {
		return nil, fmt.Errorf("%w: want %d, have %d", ErrNoSpace, size, p.buf.Size()-p.next)
	}
	v, err := p.buf.Slice(p.next, size)
	if err != nil {
		return nil, err
	}
	p.next += size
	p.views = append(p.views, v)
	return v, nil
}

// Views returns the views carved so far, in carve order.
func (p *Partitioner) Views() []*View {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*View, len(p.views))
	copy(out, p.views)
	return out
}

// Remaining returns the number of bytes not yet carved.
func (p *Partitioner) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Size() - p.next
}

// Partition splits buf into consecutive views of the given sizes. The views
// are pairwise disjoint and, when the sizes sum to the buffer size, cover it.
func Partition(buf *Buffer, sizes []int) ([]*View, error) {
	p := NewPartitioner(buf)
	views := make([]*View, 0, len(sizes))
	for i, size := range sizes {
		v, err := p.Carve(size)
		if err != nil {
			return nil, fmt.Errorf("partition %d: %w", i, err)
		}
		views = append(views, v)
	}
	return views, nil
}
