// Package buf implements the packet buffer passed between protocol layers.
package buf

import (
	"fmt"

	"firestige.xyz/ministack/internal/core"
)

// DefaultHeadroom leaves room for Ethernet + IPv4 (with options) + UDP headers
// so that outbound packets rarely need to reallocate while headers are prepended.
const DefaultHeadroom = 128

// Buffer is a byte slice window [start, end) over a larger backing array.
//
// Headers are prepended by moving start backwards and stripped by moving it
// forward. Stripping does not clear anything: a later AddHeader of the same
// size exposes the original header bytes again.
type Buffer struct {
	data  []byte
	start int
	end   int
}

// New returns a zeroed buffer of n bytes with DefaultHeadroom in front.
func New(n int) *Buffer {
	if n < 0 {
		n = 0
	}
	return &Buffer{
		data:  make([]byte, DefaultHeadroom+n),
		start: DefaultHeadroom,
		end:   DefaultHeadroom + n,
	}
}

// FromBytes copies p into a new buffer with DefaultHeadroom.
func FromBytes(p []byte) *Buffer {
	b := New(len(p))
	copy(b.Bytes(), p)
	return b
}

// Wrap uses p as the backing array without copying. The buffer has no headroom.
func Wrap(p []byte) *Buffer {
	return &Buffer{data: p, start: 0, end: len(p)}
}

// Window uses p as the backing array with the window set to p[start:end].
// The bytes before start serve as headroom.
func Window(p []byte, start, end int) *Buffer {
	if start < 0 || end < start || end > len(p) {
		panic(fmt.Sprintf("buf: window [%d:%d] out of range for %d bytes", start, end, len(p)))
	}
	return &Buffer{data: p, start: start, end: end}
}

// Bytes returns the current window. The slice aliases the buffer.
func (b *Buffer) Bytes() []byte {
	return b.data[b.start:b.end]
}

// Len returns the window length.
func (b *Buffer) Len() int {
	return b.end - b.start
}

// Headroom returns the number of bytes available in front of the window.
func (b *Buffer) Headroom() int {
	return b.start
}

// AddHeader grows the window by n bytes at the front.
func (b *Buffer) AddHeader(n int) {
	if n <= 0 {
		return
	}
	if b.start < n {
		b.grow(n - b.start + DefaultHeadroom)
	}
	b.start -= n
}

// RemoveHeader shrinks the window by n bytes at the front.
func (b *Buffer) RemoveHeader(n int) error {
	if n < 0 || n > b.Len() {
		return fmt.Errorf("%w: remove header %d from %d bytes", core.ErrBufferUnderflow, n, b.Len())
	}
	b.start += n
	return nil
}

// AddPadding appends n zero bytes to the window.
func (b *Buffer) AddPadding(n int) {
	if n <= 0 {
		return
	}
	if b.end+n > len(b.data) {
		grown := make([]byte, b.end+n)
		copy(grown, b.data[:b.end])
		b.data = grown
	}
	clear(b.data[b.end : b.end+n])
	b.end += n
}

// RemovePadding shrinks the window by n bytes at the tail.
func (b *Buffer) RemovePadding(n int) error {
	if n < 0 || n > b.Len() {
		return fmt.Errorf("%w: remove padding %d from %d bytes", core.ErrBufferUnderflow, n, b.Len())
	}
	b.end -= n
	return nil
}

// Clone copies the window into an independent buffer with default headroom.
func (b *Buffer) Clone() *Buffer {
	return FromBytes(b.Bytes())
}

// grow inserts extra zero bytes in front of the backing array.
func (b *Buffer) grow(extra int) {
	grown := make([]byte, extra+len(b.data))
	copy(grown[extra:], b.data)
	b.data = grown
	b.start += extra
	b.end += extra
}
