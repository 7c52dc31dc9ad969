package pm4

import "encoding/binary"

// RingBuffer is a wrapping read cursor over a window of guest memory holding
// big-endian 32-bit command words. The primary ring has a power-of-two
// capacity; indirect buffers reuse the same cursor over an exact-length
// window, where an equal read and write offset means the whole window is
// still unread (the driver loop runs at least once).
//
// The cursor is a value type so a caller can save and restore it around an
// indirect buffer with a plain assignment.
type RingBuffer struct {
	data        []byte // host-visible backing bytes, len == capacity
	guestBase   uint32 // guest physical address of data[0]
	readOffset  uint32
	writeOffset uint32
}

// NewRingBuffer creates a cursor over the given backing bytes, which live at
// guestBase in the guest physical address space.
func NewRingBuffer(data []byte, guestBase uint32) RingBuffer {
	return RingBuffer{data: data, guestBase: guestBase}
}

// Capacity returns the size of the window in bytes.
func (r *RingBuffer) Capacity() uint32 {
	return uint32(len(r.data))
}

// ReadOffset returns the current read cursor in bytes.
func (r *RingBuffer) ReadOffset() uint32 {
	return r.readOffset
}

// SetReadOffset moves the read cursor.
func (r *RingBuffer) SetReadOffset(offset uint32) {
	r.readOffset = offset % r.Capacity()
}

// WriteOffset returns the current write cursor in bytes.
func (r *RingBuffer) WriteOffset() uint32 {
	return r.writeOffset
}

// SetWriteOffset moves the write cursor. The guest advances it as it appends
// command words.
func (r *RingBuffer) SetWriteOffset(offset uint32) {
	r.writeOffset = offset % r.Capacity()
}

// ReadCount returns the number of bytes available to read.
func (r *RingBuffer) ReadCount() uint32 {
	if r.readOffset <= r.writeOffset {
		return r.writeOffset - r.readOffset
	}
	return r.Capacity() - r.readOffset + r.writeOffset
}

// ReadGuestAddr returns the guest physical address of the next byte to read.
func (r *RingBuffer) ReadGuestAddr() uint32 {
	return r.guestBase + r.readOffset
}

// ReadAndSwap32 reads the 32-bit big-endian word at the read cursor,
// advances by 4 bytes and returns the word in host order. The caller checks
// availability via ReadCount first.
func (r *RingBuffer) ReadAndSwap32() uint32 {
	capacity := r.Capacity()
	offset := r.readOffset
	var value uint32
	if offset+4 <= capacity {
		value = binary.BigEndian.Uint32(r.data[offset:])
	} else {
		// The word straddles the end of the window.
		var w [4]byte
		for i := uint32(0); i < 4; i++ {
			w[i] = r.data[(offset+i)%capacity]
		}
		value = binary.BigEndian.Uint32(w[:])
	}
	r.readOffset = (offset + 4) % capacity
	return value
}

// ReadBytes copies n bytes from the read cursor, advancing past them.
// Wrapping is handled; the returned slice is always contiguous.
func (r *RingBuffer) ReadBytes(n uint32) []byte {
	capacity := r.Capacity()
	out := make([]byte, n)
	offset := r.readOffset
	if offset+n <= capacity {
		copy(out, r.data[offset:offset+n])
	} else {
		head := capacity - offset
		copy(out, r.data[offset:])
		copy(out[head:], r.data[:n-head])
	}
	r.readOffset = (offset + n) % capacity
	return out
}

// AdvanceRead moves the read cursor forward by n bytes.
func (r *RingBuffer) AdvanceRead(n uint32) {
	r.readOffset = (r.readOffset + n) % r.Capacity()
}

// BeginPrefetchedRead hints that the next n bytes are about to be read.
// Go exposes no portable prefetch, so this is a documented no-op kept so
// call sites mirror the access pattern they would want prefetched.
func (r *RingBuffer) BeginPrefetchedRead(n uint32) {
	_ = n
}
