package shm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuffer(t *testing.T, size int) *Buffer {
	t.Helper()
	buf, err := Open(context.Background(), OpenOptions{Size: size})
	require.NoError(t, err)
	t.Cleanup(func() { _ = buf.Close() })
	return buf
}

func TestOpen_RejectsBadSizes(t *testing.T) {
	for _, size := range []int{0, -4, 6} {
		_, err := Open(context.Background(), OpenOptions{Size: size})
		assert.ErrorIs(t, err, ErrInvalidSize, "size %d", size)
	}
}

func TestOpen_NamedBufferIsShared(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	host, err := Open(ctx, OpenOptions{Name: "msgq", Size: 256, Create: true, Dir: dir})
	require.NoError(t, err)
	defer host.Close()
	peer, err := Open(ctx, OpenOptions{Name: "msgq", Size: 256, Dir: dir})
	require.NoError(t, err)
	defer peer.Close()

	assert.NotEqual(t, host.Handle(), peer.Handle())
	host.Fill(SeedWord)
	assert.NoError(t, peer.Verify(SeedWord))
}

func TestBuffer_RemoteBase(t *testing.T) {
	buf := newTestBuffer(t, 64)
	_, ok := buf.RemoteBase()
	assert.False(t, ok)

	_, err := buf.Whole().RemoteAddr()
	assert.ErrorIs(t, err, ErrNoRemoteBase)

	require.NoError(t, buf.SetRemoteBase(0xA0000000))
	assert.ErrorIs(t, buf.SetRemoteBase(0xB0000000), ErrRemoteBaseSet)

	v, err := buf.Slice(16, 32)
	require.NoError(t, err)
	addr, err := v.RemoteAddr()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xA0000010), addr)

	d, err := v.Descriptor()
	require.NoError(t, err)
	assert.Equal(t, uint32(32), d.Size)

	back, err := buf.Translate(addr, 32)
	require.NoError(t, err)
	assert.Equal(t, 16, back.Offset())

	_, err = buf.Translate(0x90000000, 4)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestBuffer_SliceBounds(t *testing.T) {
	buf := newTestBuffer(t, 64)
	_, err := buf.Slice(60, 8)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = buf.Slice(2, 4)
	assert.ErrorIs(t, err, ErrUnaligned)
	_, err = buf.Slice(4, 6)
	assert.ErrorIs(t, err, ErrUnaligned)
	v, err := buf.Slice(64, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, v.Len())
}

func TestBuffer_CloseIsIdempotent(t *testing.T) {
	buf, err := Open(context.Background(), OpenOptions{Size: 16})
	require.NoError(t, err)
	assert.NoError(t, buf.Close())
	assert.NoError(t, buf.Close())
	assert.True(t, buf.Closed())
	_, err = buf.Slice(0, 4)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestView_VerifyReportsFirstMismatch(t *testing.T) {
	buf := newTestBuffer(t, 64)
	buf.Fill(ResultWord)
	v, err := buf.Slice(16, 32)
	require.NoError(t, err)
	require.NoError(t, v.Verify(ResultWord))

	v.SetWord(3, SeedWord)
	err = v.Verify(ResultWord)
	var mismatch *MismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 16+3*WordSize, mismatch.Offset)
	assert.Equal(t, SeedWord, mismatch.Got)
	assert.Equal(t, ResultWord, mismatch.Want)

	assert.NoError(t, v.VerifyFrom(4, ResultWord))
}

func TestPartition_CoversBufferWithoutOverlap(t *testing.T) {
	sizes := []int{6300 * 16, 6300 * 16, 6300 * 16, 6300 * 16}
	total := 0
	for _, s := range sizes {
		total += s
	}
	buf := newTestBuffer(t, total)
	views, err := Partition(buf, sizes)
	require.NoError(t, err)
	require.Len(t, views, len(sizes))

	covered := 0
	for i, v := range views {
		assert.Equal(t, covered, v.Offset(), "partition %d must start where the previous ended", i)
		assert.Equal(t, sizes[i], v.Len())
		covered += v.Len()
		for j := i + 1; j < len(views); j++ {
			assert.False(t, v.Overlaps(views[j]), "partitions %d and %d overlap", i, j)
		}
	}
	assert.Equal(t, buf.Size(), covered)
}

func TestPartitioner_Exhaustion(t *testing.T) {
	buf := newTestBuffer(t, 32)
	p := NewPartitioner(buf)
	_, err := p.Carve(16)
	require.NoError(t, err)
	_, err = p.Carve(6)
	assert.ErrorIs(t, err, ErrUnaligned)
	empty, err := p.Carve(0)
	require.NoError(t, err)
	assert.Equal(t, 16, empty.Offset())
	_, err = p.Carve(20)
	assert.ErrorIs(t, err, ErrNoSpace)
	assert.Equal(t, 16, p.Remaining())
	assert.Len(t, p.Views(), 2)
}
