package ext2

import (
	"github.com/cmelnulabs/riscvkern/internal/defs"
	"github.com/cmelnulabs/riscvkern/internal/fdops"
	"github.com/cmelnulabs/riscvkern/internal/stat"
)

// File adapts an open inode to internal/fdops.Fdops_i, the interface
// every kernel-visible file description implements regardless of
// whether it's backed by a TTY, a pipe, or (here) an ext2 inode.
type File struct {
	fs  *Ext2
	ino int
	off int
}

// OpenFile returns a cursor over ino's contents, positioned at offset 0.
func (e *Ext2) OpenFile(ino int) *File {
	return &File{fs: e, ino: ino, off: 0}
}

func (f *File) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	buf := make([]byte, dst.Remain())
	n, err := f.fs.ReadFile(f.ino, f.off, buf)
	if err != 0 {
		return 0, err
	}
	wrote, werr := dst.Uiowrite(buf[:n])
	if werr != 0 {
		return wrote, werr
	}
	f.off += wrote
	return wrote, 0
}

func (f *File) Write(src fdops.Userio_i) (int, defs.Err_t) {
	buf := make([]byte, src.Remain())
	got, rerr := src.Uioread(buf)
	if rerr != 0 {
		return 0, rerr
	}
	n, err := f.fs.WriteFile(f.ino, f.off, buf[:got])
	f.off += n
	if err != 0 {
		return n, err
	}
	return n, 0
}

func (f *File) Close() defs.Err_t { return 0 }

func (f *File) Reopen() defs.Err_t { return 0 }

// Lseek repositions the file cursor. whence follows the usual
// SEEK_SET(0)/SEEK_CUR(1)/SEEK_END(2) convention.
func (f *File) Lseek(off, whence int) (int, defs.Err_t) {
	in, err := f.fs.ReadInode(f.ino)
	if err != 0 {
		return 0, err
	}
	switch whence {
	case 0:
		f.off = off
	case 1:
		f.off += off
	case 2:
		f.off = int(in.Size) + off
	default:
		return 0, defs.EINVAL
	}
	if f.off < 0 {
		f.off = 0
		return 0, defs.EINVAL
	}
	return f.off, 0
}

func (f *File) Fstat(statBuf []byte) defs.Err_t {
	in, err := f.fs.ReadInode(f.ino)
	if err != 0 {
		return err
	}
	var st stat.Stat_t
	mode := uint(stat.S_IFREG)
	if in.Mode&IFDIR != 0 {
		mode = stat.S_IFDIR
	}
	st.Wmode(mode)
	st.Wsize(uint(in.Size))
	st.Wino(uint(f.ino))
	copy(statBuf, st.Bytes())
	return 0
}

func (f *File) Pathi() (int, bool) { return f.ino, true }
