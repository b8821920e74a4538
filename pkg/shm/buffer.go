package shm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	internalshm "github.com/srediag/msgq-zcpy/internal/shm"
)

// WordSize is the granularity of every size and offset in a shared buffer.
const WordSize = internalshm.WordSize

// Well-known word patterns. The host seeds a buffer with SeedWord; the remote
// compute and data-transact functions overwrite it with ResultWord.
const (
	SeedWord   uint32 = 0xBEEFDEAD
	ResultWord uint32 = 0xDEADBEEF
)

var (
	ErrInvalidSize   = errors.New("shm: size must be a positive multiple of the word size")
	ErrUnaligned     = errors.New("shm: offset or length is not word aligned")
	ErrOutOfRange    = errors.New("shm: range exceeds buffer bounds")
	ErrClosed        = errors.New("shm: buffer closed")
	ErrNoRemoteBase  = errors.New("shm: remote base address not negotiated")
	ErrRemoteBaseSet = errors.New("shm: remote base address already set")
)

// Handle identifies a buffer to a remote service, much like a dma-buf fd.
type Handle uint32

var handles atomic.Uint32

// Buffer is a contiguous shared memory region mapped into the host process
// and, through its remote base address, into a remote processor.
type Buffer struct {
	region *internalshm.MappedRegion
	handle Handle
	size   int

	mu         sync.RWMutex
	remoteBase uint32
	hasRemote  bool
	closed     bool

	mapped metric.Int64UpDownCounter
}

// OpenOptions defines options for creating or opening a shared memory buffer.
type OpenOptions struct {
	// Name is the identifier for the shared memory region. Empty maps an
	// anonymous region.
	Name string
	// Size is the total buffer size in bytes, a positive multiple of WordSize.
	Size int
	// Create indicates whether to create (if not exists) or open existing.
	Create bool
	// Dir overrides the directory named regions live in.
	Dir string

	Meter  metric.Meter
	Tracer trace.Tracer
}

// Open creates or opens a shared memory buffer with the given options.
func Open(ctx context.Context, opts OpenOptions) (*Buffer, error) {
	tracer := opts.Tracer
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer("shm")
	}
	meter := opts.Meter
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter("shm")
	}
	ctx, span := tracer.Start(ctx, "shm.Open", trace.WithAttributes(
		attribute.String("shm.name", opts.Name),
		attribute.Int("shm.size", opts.Size),
	))
	defer span.End()

	if opts.Size <= 0 || opts.Size%WordSize != 0 {
		span.RecordError(ErrInvalidSize)
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, opts.Size)
	}
	region, err := internalshm.MapRegion(ctx, internalshm.MapOptions{
		Name:   opts.Name,
		Size:   opts.Size,
		Create: opts.Create,
		Dir:    opts.Dir,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !internalshm.Aligned(region.Addr) {
		_ = internalshm.UnmapRegion(ctx, region)
		return nil, ErrUnaligned
	}
	mapped, err := meter.Int64UpDownCounter("shm.mapped.bytes",
		metric.WithDescription("Bytes of shared memory currently mapped."),
		metric.WithUnit("By"))
	if err != nil {
		_ = internalshm.UnmapRegion(ctx, region)
		return nil, err
	}
	mapped.Add(ctx, int64(opts.Size))
	return &Buffer{
		region: region,
		handle: Handle(handles.Add(1)),
		size:   opts.Size,
		mapped: mapped,
	}, nil
}

// Bytes returns the process-local view of the whole buffer.
func (b *Buffer) Bytes() []byte {
	return b.region.Addr
}

// Size returns the buffer size in bytes.
func (b *Buffer) Size() int { return b.size }

// Words returns the buffer size in words.
func (b *Buffer) Words() int { return b.size / WordSize }

// Handle returns the buffer's process-unique handle.
func (b *Buffer) Handle() Handle { return b.handle }

// Path returns the backing file path, empty for anonymous buffers.
func (b *Buffer) Path() string { return b.region.Path }

// SetRemoteBase records the address the remote processor sees the buffer at.
// It may be called once.
func (b *Buffer) SetRemoteBase(addr uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hasRemote {
		return ErrRemoteBaseSet
	}
	b.remoteBase = addr
	b.hasRemote = true
	return nil
}

// RemoteBase returns the remote base address and whether it is known.
func (b *Buffer) RemoteBase() (uint32, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.remoteBase, b.hasRemote
}

// Whole returns a view covering the entire buffer.
func (b *Buffer) Whole() *View {
	return &View{buf: b, off: 0, n: b.size}
}

// Slice returns the view [offset, offset+length). Both must be word aligned
// and inside the buffer.
func (b *Buffer) Slice(offset, length int) (*View, error) {
	if b.Closed() {
		return nil, ErrClosed
	}
	if offset < 0 || length < 0 || offset+length > b.size {
		return nil, fmt.Errorf("%w: [%d, %d) of %d", ErrOutOfRange, offset, offset+length, b.size)
	}
	if offset%WordSize != 0 || length%WordSize != 0 {
		return nil, fmt.Errorf("%w: offset %d length %d", ErrUnaligned, offset, length)
	}
	return &View{buf: b, off: offset, n: length}, nil
}

// Translate maps a remote address range back to a view of this buffer.
func (b *Buffer) Translate(addr uint32, length int) (*View, error) {
	base, ok := b.RemoteBase()
	if !ok {
		return nil, ErrNoRemoteBase
	}
	if addr < base {
		return nil, fmt.Errorf("%w: address 0x%08x below base 0x%08x", ErrOutOfRange, addr, base)
	}
	return b.Slice(int(addr-base), length)
}

// Fill writes pattern into every word of the buffer.
func (b *Buffer) Fill(pattern uint32) {
	b.Whole().Fill(pattern)
}

// Verify checks every word of the buffer equals pattern.
func (b *Buffer) Verify(pattern uint32) error {
	return b.Whole().Verify(pattern)
}

// Close unmaps the buffer. Closing twice is a no-op.
func (b *Buffer) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	ctx := context.Background()
	if err := internalshm.UnmapRegion(ctx, b.region); err != nil {
		return err
	}
	b.mapped.Add(ctx, -int64(b.size))
	return nil
}

// Closed reports whether Close has been called.
func (b *Buffer) Closed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}
