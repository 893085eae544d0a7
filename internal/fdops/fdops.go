// Package fdops defines the interfaces every open file description (TTY,
// pipe end, ext2 file/dir) implements so internal/fs can dispatch read,
// write, close, and stat through a single vtable-shaped call, independent
// of the concrete backing kind.
//
// The teacher references fdops.Fdops_i and fdops.Userio_i pervasively
// across vm, fd, and circbuf, but its own fdops package in the retrieval
// pack is an empty go.mod stub — the method set here is reconstructed
// purely from those call sites: circbuf.Copyin/Copyout call
// Userio_i.Uioread/Uiowrite; fd.Copyfd calls Fdops_i.Reopen;
// fd.Close_panic calls Fdops_i.Close.
package fdops

import "github.com/cmelnulabs/riscvkern/internal/defs"

// Userio_i abstracts a caller-supplied buffer a lower layer (a pipe's
// circular buffer, a TTY line buffer) copies into or out of, without that
// layer needing to know whether the buffer lives in kernel or user memory.
type Userio_i interface {
	// Uioread copies from the source into dst, returning the number of
	// bytes copied.
	Uioread(dst []uint8) (int, defs.Err_t)
	// Uiowrite copies src into the destination, returning the number of
	// bytes copied.
	Uiowrite(src []uint8) (int, defs.Err_t)
	// Remain reports how many bytes of room/data remain in the buffer.
	Remain() int
	// Totalsz reports the buffer's total capacity.
	Totalsz() int
}

// Fdops_i is the operation set every open file description implements.
type Fdops_i interface {
	Read(dst Userio_i) (int, defs.Err_t)
	Write(src Userio_i) (int, defs.Err_t)
	Close() defs.Err_t
	Reopen() defs.Err_t
	Lseek(off int, whence int) (int, defs.Err_t)
	Fstat(statBuf []uint8) defs.Err_t
	// Pathi returns the backing inode identity for descriptors FS-backed
	// file descriptors carry, or ok=false for TTY/pipe descriptors.
	Pathi() (int, bool)
}

// KernelUio adapts a plain kernel-memory []byte into a Userio_i, used
// wherever the kernel itself is the source/sink of a copy rather than a
// user process — e.g. mkfs writing inode data, or a test harness.
type KernelUio struct {
	Buf []uint8
	off int
}

func NewKernelUio(buf []uint8) *KernelUio { return &KernelUio{Buf: buf} }

func (k *KernelUio) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, k.Buf[k.off:])
	k.off += n
	return n, 0
}

func (k *KernelUio) Uiowrite(src []uint8) (int, defs.Err_t) {
	n := copy(k.Buf[k.off:], src)
	k.off += n
	return n, 0
}

func (k *KernelUio) Remain() int   { return len(k.Buf) - k.off }
func (k *KernelUio) Totalsz() int  { return len(k.Buf) }
