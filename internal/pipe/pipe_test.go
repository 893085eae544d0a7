package pipe

import (
	"testing"

	"github.com/cmelnulabs/riscvkern/internal/defs"
	"github.com/cmelnulabs/riscvkern/internal/fdops"
)

func TestWriteThenReadRoundTrip(t *testing.T) {
	p := NewPipe()
	w := p.NewWriteEnd()
	r := p.NewReadEnd()

	src := fdops.NewKernelUio([]byte("hello"))
	n, err := w.Write(src)
	if err != 0 || n != 5 {
		t.Fatalf("write: n=%d err=%d", n, err)
	}

	dst := fdops.NewKernelUio(make([]byte, 5))
	n, err = r.Read(dst)
	if err != 0 || n != 5 {
		t.Fatalf("read: n=%d err=%d", n, err)
	}
	if string(dst.Buf) != "hello" {
		t.Fatalf("expected hello, got %q", dst.Buf)
	}
}

func TestReadEmptyWithWriterOpenReturnsEAGAIN(t *testing.T) {
	p := NewPipe()
	r := p.NewReadEnd()
	_, err := r.Read(fdops.NewKernelUio(make([]byte, 1)))
	if err != defs.EAGAIN {
		t.Fatalf("expected EAGAIN, got %d", err)
	}
}

func TestReadEmptyAfterWriterCloseReturnsEOF(t *testing.T) {
	p := NewPipe()
	r := p.NewReadEnd()
	w := p.NewWriteEnd()
	w.Close()
	n, err := r.Read(fdops.NewKernelUio(make([]byte, 1)))
	if err != 0 || n != 0 {
		t.Fatalf("expected EOF (0,0), got n=%d err=%d", n, err)
	}
}

func TestWriteAfterReaderCloseReturnsEPIPE(t *testing.T) {
	p := NewPipe()
	r := p.NewReadEnd()
	w := p.NewWriteEnd()
	r.Close()
	_, err := w.Write(fdops.NewKernelUio([]byte("x")))
	if err != defs.EPIPE {
		t.Fatalf("expected EPIPE, got %d", err)
	}
}

func TestWriteFullReturnsEAGAIN(t *testing.T) {
	p := NewPipe()
	w := p.NewWriteEnd()
	big := make([]byte, Bufsz)
	if _, err := w.Write(fdops.NewKernelUio(big)); err != 0 {
		t.Fatalf("expected fill to succeed, got err=%d", err)
	}
	_, err := w.Write(fdops.NewKernelUio([]byte("x")))
	if err != defs.EAGAIN {
		t.Fatalf("expected EAGAIN on full pipe, got %d", err)
	}
}

func TestWraparoundRoundTrip(t *testing.T) {
	p := NewPipe()
	w := p.NewWriteEnd()
	r := p.NewReadEnd()

	chunk := make([]byte, Bufsz-10)
	w.Write(fdops.NewKernelUio(chunk))
	r.Read(fdops.NewKernelUio(make([]byte, Bufsz-10)))

	payload := []byte("wraparound-test-bytes")
	if _, err := w.Write(fdops.NewKernelUio(payload)); err != 0 {
		t.Fatalf("wraparound write failed: %d", err)
	}
	out := make([]byte, len(payload))
	dst := fdops.NewKernelUio(out)
	n, err := r.Read(dst)
	if err != 0 || n != len(payload) {
		t.Fatalf("wraparound read: n=%d err=%d", n, err)
	}
	if string(out) != string(payload) {
		t.Fatalf("expected %q, got %q", payload, out)
	}
}
