package atproto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSliceInputBuffer(t *testing.T) {
	buf := NewSliceInputBuffer([]byte{1, 2, 3, 4, 5})
	require.Equal(t, 5, buf.Available())
	require.Len(t, buf.Data(), 5)

	buf.Pop(2)
	require.Equal(t, 3, buf.Available())
	require.Equal(t, byte(3), buf.Data()[0])
}

func TestScratchOutput(t *testing.T) {
	scratch := NewScratchOutput()

	scratch.Output([]byte{1, 2, 3})
	require.Equal(t, 3, scratch.CurPosition())
	require.Len(t, scratch.Result(), 3)

	scratch.Output([]byte{4, 5})
	require.Equal(t, 5, scratch.CurPosition())

	scratch.Update(0, 99)
	require.Equal(t, byte(99), scratch.Result()[0])

	require.Equal(t, []byte{3, 4, 5}, scratch.DataSince(2))

	scratch.Reset()
	require.Equal(t, 0, scratch.CurPosition())
}

func TestRingBuffer(t *testing.T) {
	ring := NewRingBuffer(10)
	require.True(t, ring.IsEmpty())
	require.Equal(t, 0, ring.Available())

	written := ring.Write([]byte{1, 2, 3, 4, 5})
	require.Equal(t, 5, written)
	require.Equal(t, 5, ring.Available())

	readBuf := make([]byte, 3)
	read := ring.Read(readBuf)
	require.Equal(t, 3, read)
	require.Equal(t, []byte{1, 2, 3}, readBuf)
	require.Equal(t, 2, ring.Available())

	ring.Pop(1)
	require.Equal(t, 1, ring.Available())

	ring.Reset()
	bigData := make([]byte, 12)
	for i := range bigData {
		bigData[i] = byte(i)
	}
	written = ring.Write(bigData)
	require.Equal(t, 9, written, "capacity 10 ring accepts only 9 bytes before full")
	require.True(t, ring.Full())
}

func TestRingBufferWrapAround(t *testing.T) {
	ring := NewRingBuffer(5)

	ring.Write([]byte{1, 2, 3, 4})

	readBuf := make([]byte, 2)
	ring.Read(readBuf)

	written := ring.Write([]byte{5, 6})
	require.Equal(t, 2, written)

	allData := make([]byte, 4)
	read := ring.Read(allData)
	require.Equal(t, 4, read)
	require.Equal(t, []byte{3, 4, 5, 6}, allData)
}

func TestRingBufferLinearBlock(t *testing.T) {
	ring := NewRingBuffer(8)
	ring.Write([]byte{1, 2, 3})
	block, n := ring.LinearBlock()
	require.Equal(t, 3, n)
	require.Equal(t, []byte{1, 2, 3}, block)
}
