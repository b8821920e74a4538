package shm

import (
	"fmt"

	internalshm "github.com/srediag/msgq-zcpy/internal/shm"
	"github.com/srediag/msgq-zcpy/api"
)

// View is a word-aligned sub-range of a Buffer. A worker that is handed a
// view gets the right to touch those bytes, not ownership of the memory.
type View struct {
	buf *Buffer
	off int
	n   int
}

// Buffer returns the buffer the view belongs to.
func (v *View) Buffer() *Buffer { return v.buf }

// Offset returns the byte offset of the view inside its buffer.
func (v *View) Offset() int { return v.off }

// Len returns the view length in bytes.
func (v *View) Len() int { return v.n }

// Words returns the view length in words.
func (v *View) Words() int { return v.n / WordSize }

// Bytes returns the process-local bytes of the view.
func (v *View) Bytes() []byte {
	return v.buf.Bytes()[v.off : v.off+v.n]
}

// RemoteAddr returns the address of the view's first byte as seen by the
// remote processor.
func (v *View) RemoteAddr() (uint32, error) {
	base, ok := v.buf.RemoteBase()
	if !ok {
		return 0, ErrNoRemoteBase
	}
	return base + uint32(v.off), nil
}

// Descriptor returns the (remote address, length) pair for the view.
func (v *View) Descriptor() (api.Descriptor, error) {
	addr, err := v.RemoteAddr()
	if err != nil {
		return api.Descriptor{}, err
	}
	return api.Descriptor{Addr: addr, Size: uint32(v.n)}, nil
}

// Overlaps reports whether v and o share at least one byte of the same buffer.
func (v *View) Overlaps(o *View) bool {
	if v.buf != o.buf || v.n == 0 || o.n == 0 {
		return false
	}
	return v.off < o.off+o.n && o.off < v.off+v.n
}

// Word returns the i-th word of the view.
func (v *View) Word(i int) uint32 {
	return internalshm.LoadWord(v.Bytes(), i)
}

// SetWord stores val into the i-th word of the view.
func (v *View) SetWord(i int, val uint32) {
	internalshm.StoreWord(v.Bytes(), i, val)
}

// Fill writes pattern into every word of the view.
func (v *View) Fill(pattern uint32) {
	mem := v.Bytes()
	for i := 0; i < v.Words(); i++ {
		internalshm.StoreWord(mem, i, pattern)
	}
}

// Verify checks every word of the view equals pattern and reports the first
// word that does not as a *MismatchError.
func (v *View) Verify(pattern uint32) error {
	return v.VerifyFrom(0, pattern)
}

// VerifyFrom is Verify starting at word index first.
func (v *View) VerifyFrom(first int, pattern uint32) error {
	mem := v.Bytes()
	for i := first; i < v.Words(); i++ {
		if got := internalshm.LoadWord(mem, i); got != pattern {
			return &MismatchError{Offset: v.off + i*WordSize, Got: got, Want: pattern}
		}
	}
	return nil
}

func (v *View) String() string {
	return fmt.Sprintf("[%d, %d)", v.off, v.off+v.n)
}

// MismatchError identifies the first word that did not hold the expected value.
type MismatchError struct {
	// Offset is the byte offset of the word inside the buffer.
	Offset int
	Got    uint32
	Want   uint32
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("word at offset %d: expected 0x%08x, received 0x%08x", e.Offset, e.Want, e.Got)
}
