// Package api defines the public contracts of the benchmark: messages, the
// MessageQ-style transport and the errors surfaced across package boundaries.
package api

import (
	"encoding/binary"
	"fmt"

	"github.com/valyala/bytebufferpool"
)

// Order is the byte order of every payload exchanged with a remote processor.
var Order = binary.LittleEndian

// Message is a fixed-header envelope. The bulk data never travels in the
// payload; it lives in the shared buffer the payload describes.
type Message struct {
	// ID identifies the message within a sequence. The Nth message a sender
	// emits carries ID N.
	ID uint32
	// SrcProc is the processor id of the sender, stamped by the transport.
	SrcProc uint16
	// ReplyQueue names the queue the receiver should answer on, if any.
	ReplyQueue string
	// Payload is allocated from the transport's message heap.
	Payload *bytebufferpool.ByteBuffer
}

// Bytes returns the payload bytes, nil when the message has no payload.
func (m *Message) Bytes() []byte {
	if m == nil || m.Payload == nil {
		return nil
	}
	return m.Payload.B
}

// DescriptorSize is the encoded size of a Descriptor.
const DescriptorSize = 8

// Descriptor references a range of the shared buffer in the remote
// processor's address space.
type Descriptor struct {
	Addr uint32
	Size uint32
}

// Encode writes d into the first DescriptorSize bytes of b.
func (d Descriptor) Encode(b []byte) error {
	if len(b) < DescriptorSize {
		return fmt.Errorf("descriptor: payload too short (%d bytes)", len(b))
	}
	Order.PutUint32(b[0:4], d.Addr)
	Order.PutUint32(b[4:8], d.Size)
	return nil
}

// DecodeDescriptor reads a Descriptor from the first DescriptorSize bytes of b.
func DecodeDescriptor(b []byte) (Descriptor, error) {
	if len(b) < DescriptorSize {
		return Descriptor{}, fmt.Errorf("descriptor: payload too short (%d bytes)", len(b))
	}
	return Descriptor{
		Addr: Order.Uint32(b[0:4]),
		Size: Order.Uint32(b[4:8]),
	}, nil
}

func (d Descriptor) String() string {
	return fmt.Sprintf("0x%08x+%d", d.Addr, d.Size)
}
