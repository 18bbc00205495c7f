package frame

import (
	"errors"
	"fmt"
	"io"
	"iter"
)

// Size is the fixed wire frame length agreed with the device: 56*4 bytes of
// AES-CBC ciphertext, back to back, with no length or type field.
const Size = 224

var (
	ErrShortFrame = errors.New("frame: short frame")
	ErrFrameSize  = errors.New("frame: invalid frame size")
)

// Buffer accumulates stream chunks and cuts fixed-size frames off the head.
// It is not safe for concurrent use; the session drive loop is its only owner.
type Buffer struct {
	size int
	buf  []byte
	head int
}

func NewBuffer(size int) *Buffer {
	if size <= 0 {
		panic(fmt.Sprintf("frame: buffer size must be positive, got %d", size))
	}
	return &Buffer{size: size}
}

func (b *Buffer) Size() int {
	return b.size
}

// Len reports buffered bytes not yet emitted as a frame.
func (b *Buffer) Len() int {
	return len(b.buf) - b.head
}

// Append copies p onto the tail.
func (b *Buffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	if b.head > 0 && b.head >= len(b.buf)/2 {
		b.compact()
	}
	b.buf = append(b.buf, p...)
}

// Frames drains complete frames in arrival order. Each yielded slice is a
// fresh copy. Stopping the range early keeps the rest buffered.
func (b *Buffer) Frames() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for b.Len() >= b.size {
			f := make([]byte, b.size)
			copy(f, b.buf[b.head:b.head+b.size])
			b.head += b.size
			if b.head == len(b.buf) {
				b.buf = b.buf[:0]
				b.head = 0
			}
			if !yield(f) {
				return
			}
		}
	}
}

func (b *Buffer) Reset() {
	b.buf = b.buf[:0]
	b.head = 0
}

func (b *Buffer) compact() {
	n := copy(b.buf, b.buf[b.head:])
	b.buf = b.buf[:n]
	b.head = 0
}

// ReadFrame reads exactly one frame of the given size from a byte stream.
func ReadFrame(r io.Reader, size int) ([]byte, error) {
	if size <= 0 {
		return nil, ErrFrameSize
	}
	f := make([]byte, size)
	if _, err := io.ReadFull(r, f); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortFrame
		}
		return nil, err
	}
	return f, nil
}

// WriteFrame writes one frame, rejecting anything that is not exactly size bytes.
func WriteFrame(w io.Writer, f []byte, size int) error {
	if len(f) != size {
		return fmt.Errorf("%w: got %d want %d", ErrFrameSize, len(f), size)
	}
	_, err := w.Write(f)
	return err
}
