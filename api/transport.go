// Package api defines the public contracts of the benchmark: messages, the
// MessageQ-style transport and the errors surfaced across package boundaries.
package api

import (
	"context"
	"time"
)

// Transport is a named, reliable, ordered point-to-point message transport
// between processors. Messages put on one queue by one sender are delivered
// in send order, without duplication or silent loss.
type Transport interface {
	Lifecycle

	// ProcID is the processor id this transport endpoint belongs to.
	ProcID() uint16
	// Create declares a receive queue. The name must not be live.
	Create(name string) (LocalQueue, error)
	// Open resolves a queue by name. It probes once and fails with a
	// not-found error when the queue does not exist yet.
	Open(ctx context.Context, name string) (RemoteQueue, error)
	// Alloc returns a message whose payload holds size zeroed bytes.
	Alloc(size int) *Message
	// Free returns a message and its payload to the heap.
	Free(msg *Message)
}

// LocalQueue is a queue owned by its creator. Only the creator may Delete it.
type LocalQueue interface {
	Name() string
	// Get blocks until a message arrives, the timeout elapses or ctx is done.
	// A zero timeout waits forever.
	Get(ctx context.Context, timeout time.Duration) (*Message, error)
	Delete() error
}

// RemoteQueue is a non-owning reference to a queue created elsewhere.
type RemoteQueue interface {
	Name() string
	// Put hands msg to the transport. Ownership of msg moves to the receiver.
	Put(msg *Message) error
	Close() error
}
