package espat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPacketBuffer_SingleNode(t *testing.T) {
	p := NewPacketBuffer(5)
	copy(p.Payload(), []byte("hello"))

	require.Equal(t, 5, p.Length())
	require.Equal(t, "hello", string(p.Flatten()))
}

func TestPacketBuffer_Cat(t *testing.T) {
	head := NewPacketBuffer(3)
	copy(head.Payload(), []byte("abc"))
	tail := NewPacketBuffer(3)
	copy(tail.Payload(), []byte("def"))

	head.Cat(tail)

	require.Equal(t, 6, head.Length())
	require.Equal(t, "abcdef", string(head.Flatten()))
}

func TestPacketBuffer_Take_CrossesNodeBoundary(t *testing.T) {
	head := NewPacketBuffer(3)
	copy(head.Payload(), []byte("abc"))
	tail := NewPacketBuffer(3)
	copy(tail.Payload(), []byte("def"))
	head.Cat(tail)

	dst := make([]byte, 4)
	n := head.Take(dst, 4, 2)

	require.Equal(t, 4, n)
	require.Equal(t, "cdef", string(dst))
}

func TestPacketBuffer_MemCmp(t *testing.T) {
	p := NewPacketBuffer(5)
	copy(p.Payload(), []byte("hello"))

	require.Equal(t, 0, p.MemCmp([]byte("hello"), 5, 0))
	require.Equal(t, 2, p.MemCmp([]byte("hXllo"), 5, 0)) // first mismatch at index 1 -> offset+1 == 2
	require.Equal(t, -1, p.MemCmp([]byte("toolong"), 7, 0))
}

func TestPacketBuffer_MemFind(t *testing.T) {
	p := NewPacketBuffer(11)
	copy(p.Payload(), []byte("hello world"))

	require.Equal(t, 6, p.MemFind([]byte("world"), 0))
	require.Equal(t, -1, p.MemFind([]byte("xyz"), 0))
}

func TestPacketBuffer_SetIP(t *testing.T) {
	p := NewPacketBuffer(1)
	ip, port, has := p.IP()
	require.False(t, has)
	require.Zero(t, ip)
	require.Zero(t, port)

	p.SetIP([4]byte{192, 168, 1, 1}, 8080)
	ip, port, has = p.IP()
	require.True(t, has)
	require.Equal(t, [4]byte{192, 168, 1, 1}, ip)
	require.Equal(t, uint16(8080), port)
}

func TestPacketBuffer_FreeStopsAtSharedNode(t *testing.T) {
	head := NewPacketBuffer(2)
	tail := NewPacketBuffer(2)
	head.Chain(tail) // tail ref count becomes 2

	require.Equal(t, 1, head.Free()) // only head frees; tail still referenced elsewhere
	require.Equal(t, 1, tail.Free())
}
