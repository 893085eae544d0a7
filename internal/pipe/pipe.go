// Package pipe implements the anonymous-pipe IPC primitive (spec.md §3
// "Pipe", §4.H): a 4 KiB circular buffer with refcounted read/write ends
// and non-blocking EAGAIN/EPIPE/EOF semantics.
//
// Grounded on the teacher's circbuf.Circbuf_t wraparound-aware
// Copyin/Copyout, generalized from its page-allocator-backed storage (this
// model has no identity-mapped page to back the buffer with) to a plain
// []byte, and wrapped with the refcounted-ends bookkeeping and
// non-blocking error semantics spec.md §4.H and §8 scenario S6 specify.
package pipe

import (
	"sync"

	"github.com/cmelnulabs/riscvkern/internal/defs"
	"github.com/cmelnulabs/riscvkern/internal/fdops"
)

const Bufsz = 4096

// circbuf is the wraparound-aware byte ring, carried in spirit from
// circbuf.Circbuf_t.
type circbuf struct {
	buf        []uint8
	head, tail int
}

func (cb *circbuf) full() bool  { return cb.head-cb.tail == len(cb.buf) }
func (cb *circbuf) empty() bool { return cb.head == cb.tail }
func (cb *circbuf) used() int   { return cb.head - cb.tail }
func (cb *circbuf) left() int   { return len(cb.buf) - cb.used() }

func (cb *circbuf) copyin(src fdops.Userio_i) (int, defs.Err_t) {
	if cb.full() {
		return 0, 0
	}
	hi := cb.head % len(cb.buf)
	ti := cb.tail % len(cb.buf)
	c := 0
	if ti <= hi {
		dst := cb.buf[hi:]
		wrote, err := src.Uioread(dst)
		if err != 0 {
			return 0, err
		}
		c += wrote
		cb.head += wrote
		if wrote != len(dst) {
			return c, 0
		}
		hi = cb.head % len(cb.buf)
	}
	if hi > ti {
		return c, 0
	}
	dst := cb.buf[hi:ti]
	wrote, err := src.Uioread(dst)
	c += wrote
	cb.head += wrote
	if err != 0 {
		return c, err
	}
	return c, 0
}

func (cb *circbuf) copyout(dst fdops.Userio_i) (int, defs.Err_t) {
	if cb.empty() {
		return 0, 0
	}
	hi := cb.head % len(cb.buf)
	ti := cb.tail % len(cb.buf)
	c := 0
	if hi <= ti {
		src := cb.buf[ti:]
		wrote, err := dst.Uiowrite(src)
		if err != 0 {
			return 0, err
		}
		c += wrote
		cb.tail += wrote
		if wrote != len(src) {
			return c, 0
		}
		ti = cb.tail % len(cb.buf)
	}
	if ti > hi {
		return c, 0
	}
	src := cb.buf[ti:hi]
	wrote, err := dst.Uiowrite(src)
	c += wrote
	cb.tail += wrote
	if err != 0 {
		return c, err
	}
	return c, 0
}

// Pipe_t is a shared pipe buffer referenced by a read end and a write end.
type Pipe_t struct {
	sync.Mutex
	cb       circbuf
	readers  int
	writers  int
}

// NewPipe allocates a fresh pipe buffer with one reader and one writer
// reference outstanding (matching the two ends pipe(2) returns).
func NewPipe() *Pipe_t {
	return &Pipe_t{cb: circbuf{buf: make([]uint8, Bufsz)}, readers: 1, writers: 1}
}

// ReadEnd and WriteEnd are the two fdops.Fdops_i-implementing descriptors
// pipe(2) installs into the caller's fd table.
type ReadEnd struct{ p *Pipe_t }
type WriteEnd struct{ p *Pipe_t }

func (p *Pipe_t) NewReadEnd() *ReadEnd   { return &ReadEnd{p} }
func (p *Pipe_t) NewWriteEnd() *WriteEnd { return &WriteEnd{p} }

// Read drains up to the buffer's available bytes into dst. Returns EAGAIN
// if empty and at least one writer remains open, or (0, 0) — EOF — once
// all writers have closed and the buffer is drained.
func (r *ReadEnd) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	r.p.Lock()
	defer r.p.Unlock()
	if r.p.cb.empty() {
		if r.p.writers == 0 {
			return 0, 0 // EOF
		}
		return 0, defs.EAGAIN
	}
	return r.p.cb.copyout(dst)
}

func (r *ReadEnd) Write(fdops.Userio_i) (int, defs.Err_t) { return 0, defs.EINVAL }

func (r *ReadEnd) Close() defs.Err_t {
	r.p.Lock()
	defer r.p.Unlock()
	r.p.readers--
	return 0
}

func (r *ReadEnd) Reopen() defs.Err_t {
	r.p.Lock()
	defer r.p.Unlock()
	r.p.readers++
	return 0
}

func (r *ReadEnd) Lseek(int, int) (int, defs.Err_t)   { return 0, defs.EINVAL }
func (r *ReadEnd) Fstat([]byte) defs.Err_t            { return 0 }
func (r *ReadEnd) Pathi() (int, bool)                 { return 0, false }

// Write appends src to the pipe buffer. Returns EPIPE if no reader remains
// open, or EAGAIN if the buffer is currently full.
func (w *WriteEnd) Write(src fdops.Userio_i) (int, defs.Err_t) {
	w.p.Lock()
	defer w.p.Unlock()
	if w.p.readers == 0 {
		return 0, defs.EPIPE
	}
	if w.p.cb.full() {
		return 0, defs.EAGAIN
	}
	return w.p.cb.copyin(src)
}

func (w *WriteEnd) Read(fdops.Userio_i) (int, defs.Err_t) { return 0, defs.EINVAL }

func (w *WriteEnd) Close() defs.Err_t {
	w.p.Lock()
	defer w.p.Unlock()
	w.p.writers--
	return 0
}

func (w *WriteEnd) Reopen() defs.Err_t {
	w.p.Lock()
	defer w.p.Unlock()
	w.p.writers++
	return 0
}

func (w *WriteEnd) Lseek(int, int) (int, defs.Err_t) { return 0, defs.EINVAL }
func (w *WriteEnd) Fstat([]byte) defs.Err_t          { return 0 }
func (w *WriteEnd) Pathi() (int, bool)               { return 0, false }
