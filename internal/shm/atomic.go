package shm

import (
	"sync/atomic"
	"unsafe"
)

// WordSize is the size in bytes of one shared memory word.
const WordSize = 4

// LoadWord loads the i-th 32-bit word of mem atomically.
// mem must be word aligned and hold at least (i+1)*WordSize bytes.
func LoadWord(mem []byte, i int) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&mem[i*WordSize])))
}

// StoreWord stores val into the i-th 32-bit word of mem atomically.
func StoreWord(mem []byte, i int, val uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&mem[i*WordSize])), val)
}

// Aligned reports whether the first byte of mem sits on a word boundary.
func Aligned(mem []byte) bool {
	if len(mem) == 0 {
		return true
	}
	return uintptr(unsafe.Pointer(&mem[0]))%WordSize == 0
}
