package frame

import (
	"bytes"
	"errors"
	"math/rand"
	"slices"
	"testing"
)

func patterned(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i*7 + i/251)
	}
	return out
}

func drainAll(b *Buffer) [][]byte {
	var out [][]byte
	for f := range b.Frames() {
		out = append(out, f)
	}
	return out
}

func TestBufferAppend500YieldsTwoFrames(t *testing.T) {
	b := NewBuffer(Size)
	in := patterned(500)
	b.Append(in)

	frames := drainAll(b)
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	for i, f := range frames {
		if len(f) != Size {
			t.Fatalf("frame %d has %d bytes", i, len(f))
		}
		if !bytes.Equal(f, in[i*Size:(i+1)*Size]) {
			t.Fatalf("frame %d content mismatch", i)
		}
	}
	if b.Len() != 52 {
		t.Fatalf("expected 52 residual bytes, got %d", b.Len())
	}
}

func TestBufferEmptyAppendIsNoop(t *testing.T) {
	b := NewBuffer(Size)
	b.Append(nil)
	b.Append([]byte{})
	if b.Len() != 0 {
		t.Fatalf("expected empty buffer, got %d", b.Len())
	}
	if frames := drainAll(b); len(frames) != 0 {
		t.Fatalf("expected no frames, got %d", len(frames))
	}
}

func TestBufferPartialFrameWaitsForMore(t *testing.T) {
	b := NewBuffer(Size)
	in := patterned(Size)
	b.Append(in[:Size-1])
	if frames := drainAll(b); len(frames) != 0 {
		t.Fatalf("expected no frames before completion, got %d", len(frames))
	}
	b.Append(in[Size-1:])
	frames := drainAll(b)
	if len(frames) != 1 || !bytes.Equal(frames[0], in) {
		t.Fatalf("expected one complete frame")
	}
	if b.Len() != 0 {
		t.Fatalf("expected no residual, got %d", b.Len())
	}
}

func TestBufferSplitIndependence(t *testing.T) {
	in := patterned(Size*9 + 101)

	whole := NewBuffer(Size)
	whole.Append(in)
	want := drainAll(whole)

	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		b := NewBuffer(Size)
		var got [][]byte
		rest := in
		for len(rest) > 0 {
			n := rng.Intn(2 * Size)
			if n > len(rest) {
				n = len(rest)
			}
			b.Append(rest[:n])
			rest = rest[n:]
			if rng.Intn(3) == 0 {
				got = append(got, drainAll(b)...)
			}
		}
		got = append(got, drainAll(b)...)

		if len(got) != len(want) {
			t.Fatalf("round %d: frame count mismatch got=%d want=%d", round, len(got), len(want))
		}
		for i := range want {
			if !bytes.Equal(got[i], want[i]) {
				t.Fatalf("round %d: frame %d mismatch", round, i)
			}
		}
		if b.Len() != whole.Len() {
			t.Fatalf("round %d: residual mismatch got=%d want=%d", round, b.Len(), whole.Len())
		}
	}
}

func TestBufferNoLossOrDuplication(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	b := NewBuffer(Size)
	var appended, emitted []byte
	for i := 0; i < 400; i++ {
		chunk := make([]byte, rng.Intn(600))
		rng.Read(chunk)
		appended = append(appended, chunk...)
		b.Append(chunk)
		for f := range b.Frames() {
			emitted = append(emitted, f...)
		}
	}
	cut := len(appended) - len(appended)%Size
	if !bytes.Equal(emitted, appended[:cut]) {
		t.Fatalf("emitted stream differs from appended stream truncated to %d bytes", cut)
	}
	if b.Len() != len(appended)%Size {
		t.Fatalf("unexpected residual: got=%d want=%d", b.Len(), len(appended)%Size)
	}
}

func TestBufferFramesStopEarlyKeepsRemainder(t *testing.T) {
	b := NewBuffer(Size)
	in := patterned(Size * 3)
	b.Append(in)

	for f := range b.Frames() {
		if !bytes.Equal(f, in[:Size]) {
			t.Fatalf("first frame mismatch")
		}
		break
	}
	if b.Len() != 2*Size {
		t.Fatalf("expected two frames still buffered, got %d bytes", b.Len())
	}
	frames := drainAll(b)
	if len(frames) != 2 || !bytes.Equal(slices.Concat(frames...), in[Size:]) {
		t.Fatalf("remaining frames mismatch")
	}
}

func TestBufferFramesAreCopies(t *testing.T) {
	b := NewBuffer(4)
	b.Append([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	frames := drainAll(b)
	frames[0][0] = 99
	if frames[1][0] != 5 {
		t.Fatalf("frames share backing storage")
	}
}

func TestBufferReset(t *testing.T) {
	b := NewBuffer(Size)
	b.Append(patterned(100))
	b.Reset()
	if b.Len() != 0 {
		t.Fatalf("expected empty buffer after reset, got %d", b.Len())
	}
}

func TestNewBufferPanicsOnNonPositiveSize(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	NewBuffer(0)
}

func TestReadWriteFrame(t *testing.T) {
	var buf bytes.Buffer
	in := patterned(Size)
	if err := WriteFrame(&buf, in, Size); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	out, err := ReadFrame(&buf, Size)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if !bytes.Equal(in, out) {
		t.Fatalf("frame mismatch")
	}
}

func TestReadFrameShortIsDeterministic(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(patterned(10)), Size)
	if !errors.Is(err, ErrShortFrame) {
		t.Fatalf("expected ErrShortFrame, got %v", err)
	}
}

func TestWriteFrameRejectsWrongSize(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, patterned(Size-1), Size)
	if !errors.Is(err, ErrFrameSize) {
		t.Fatalf("expected ErrFrameSize, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected nothing written")
	}
}
