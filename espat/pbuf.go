package espat

import (
	"bytes"
	"sync/atomic"
)

// PacketBuffer is a reference-counted, singly-linked chain of contiguous
// payload blocks, each carrying the remote IP/port of its +IPD arrival
// (spec.md §3, "Received-data packet buffer (pbuf)"). Grounded on
// original_source/src/esp/esp_pbuf.c.
type PacketBuffer struct {
	payload []byte
	next    *PacketBuffer
	ref     atomic.Int32
	totLen  int // sum of this node's + all following nodes' payload length

	ip       [4]byte
	port     uint16
	hasIP    bool
}

// NewPacketBuffer allocates a single-node pbuf of the given payload length.
func NewPacketBuffer(length int) *PacketBuffer {
	p := &PacketBuffer{payload: make([]byte, length), totLen: length}
	p.ref.Store(1)
	return p
}

// SetIP tags this node (and is conventionally called only on the head) with
// the source address of the +IPD arrival.
func (p *PacketBuffer) SetIP(ip [4]byte, port uint16) {
	p.ip, p.port, p.hasIP = ip, port, true
}

// IP returns the tagged source address, if any.
func (p *PacketBuffer) IP() ([4]byte, uint16, bool) {
	return p.ip, p.port, p.hasIP
}

// Len returns this node's own payload length (not the chain total).
func (p *PacketBuffer) Len() int { return len(p.payload) }

// Payload returns this node's own payload bytes.
func (p *PacketBuffer) Payload() []byte { return p.payload }

// Next returns the following node in the chain, or nil.
func (p *PacketBuffer) Next() *PacketBuffer { return p.next }

// Length returns the total length of the chain starting at p.
func (p *PacketBuffer) Length() int { return p.totLen }

// Ref increments the reference count and returns p, for callers that want
// to retain a handle to a chain they don't own outright.
func (p *PacketBuffer) Ref() *PacketBuffer {
	p.ref.Add(1)
	return p
}

// Free decrements the reference count of each node starting at p and tears
// down nodes that reach zero, stopping at the first node still referenced
// elsewhere (mirrors esp_pbuf_free: a pbuf chain is freed head-first only
// as far as no one else holds the tail).
func (p *PacketBuffer) Free() int {
	freed := 0
	for n := p; n != nil; {
		next := n.next
		if n.ref.Add(-1) == 0 {
			n.payload = nil
			n = next
			freed++
		} else {
			break
		}
	}
	return freed
}

// Cat appends tail to the end of head's chain, transferring ownership of
// tail to head: after Cat the caller must not call Free on tail directly.
func (head *PacketBuffer) Cat(tail *PacketBuffer) {
	last := head
	for last.next != nil {
		last = last.next
	}
	last.next = tail
	recomputeTotLen(head)
}

// Chain is like Cat but additionally adds a reference to tail so the
// caller retains an independent handle to it.
func (head *PacketBuffer) Chain(tail *PacketBuffer) {
	tail.Ref()
	head.Cat(tail)
}

func recomputeTotLen(head *PacketBuffer) {
	// Walk from the tail backwards isn't possible on a singly-linked list,
	// so collect the nodes into a slice and walk that backwards with a
	// running suffix sum (chains are short: one per +IPD / follow-on).
	var nodes []*PacketBuffer
	for n := head; n != nil; n = n.next {
		nodes = append(nodes, n)
	}
	sum := 0
	for i := len(nodes) - 1; i >= 0; i-- {
		sum += len(nodes[i].payload)
		nodes[i].totLen = sum
	}
}

// Take copies up to len bytes starting at offset (across node boundaries)
// into dst, returning the number of bytes copied.
func (p *PacketBuffer) Take(dst []byte, length, offset int) int {
	node, off := pbufSkip(p, offset)
	if node == nil {
		return 0
	}
	copied := 0
	for node != nil && copied < length {
		avail := len(node.payload) - off
		want := length - copied
		if want > avail {
			want = avail
		}
		copy(dst[copied:copied+want], node.payload[off:off+want])
		copied += want
		off = 0
		node = node.next
	}
	return copied
}

// CopyAt is an alias of Take kept for symmetry with the spec's
// "copy-at-offset" naming (spec.md §3 pbuf operations list).
func (p *PacketBuffer) CopyAt(dst []byte, length, offset int) int {
	return p.Take(dst, length, offset)
}

func pbufSkip(p *PacketBuffer, off int) (*PacketBuffer, int) {
	if p == nil || p.totLen < off {
		return nil, 0
	}
	for p != nil && len(p.payload) <= off {
		off -= len(p.payload)
		p = p.next
	}
	return p, off
}

// MemFind returns the offset of the first occurrence of needle within the
// chain starting at offset off, or -1 if not found.
func (p *PacketBuffer) MemFind(needle []byte, off int) int {
	flat := p.Flatten()
	if off > len(flat) {
		return -1
	}
	idx := bytes.Index(flat[off:], needle)
	if idx < 0 {
		return -1
	}
	return idx + off
}

// MemCmp compares length bytes of the chain (from offset) against data,
// returning 0 on exact match, the 1-based offset of the first mismatch
// otherwise, or -1 if the range exceeds the chain length (spec.md §8,
// "pbuf.memcmp returns 0 on exact match, else the offset+1 of first
// difference, else SIZE_MAX on range error" — we use -1 as Go's SIZE_MAX
// analogue since Go has no dedicated "maximum size_t" sentinel).
func (p *PacketBuffer) MemCmp(data []byte, length, offset int) int {
	buf := make([]byte, length)
	n := p.Take(buf, length, offset)
	if n < length {
		return -1
	}
	for i := 0; i < length; i++ {
		if buf[i] != data[i] {
			return i + 1
		}
	}
	return 0
}

// Flatten copies the entire chain into one contiguous slice. Intended for
// tests and diagnostics, not the hot IPD path.
func (p *PacketBuffer) Flatten() []byte {
	out := make([]byte, 0, p.totLen)
	for n := p; n != nil; n = n.next {
		out = append(out, n.payload...)
	}
	return out
}
