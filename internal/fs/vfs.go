// Package fs is the VFS shim (spec.md §4.I): path resolution over
// internal/ext2's inode tree, open-file-descriptor construction
// dispatching to internal/uart (the console), internal/pipe (pipe ends
// are installed directly by the pipe syscall and never pass through
// here), or internal/ext2's File, all behind internal/fdops.Fdops_i.
//
// The teacher's real path-resolution and fd-dispatch logic lives in its
// monolithic syscall.go, which exceeded the retrieval pack's per-file size
// cap and isn't present; this package is built fresh from the surviving
// fs/blk.go and fs/super.go call-site shapes, fd.Fd_t's Fops field, and
// spec.md §4.D/§4.I's named operations (open/read/write/mkdir/unlink/
// rmdir/getdents), not copied from a teacher fs.go that doesn't exist in
// the pack.
package fs

import (
	"strings"

	"github.com/cmelnulabs/riscvkern/internal/defs"
	"github.com/cmelnulabs/riscvkern/internal/ext2"
	"github.com/cmelnulabs/riscvkern/internal/fd"
	"github.com/cmelnulabs/riscvkern/internal/fdops"
	"github.com/cmelnulabs/riscvkern/internal/stat"
	"github.com/cmelnulabs/riscvkern/internal/uart"
	"github.com/cmelnulabs/riscvkern/internal/ustr"
)

// FS is a mounted filesystem plus the console device fd 0/1/2 dispatch to.
type FS struct {
	root *ext2.Ext2
	tty  *uart.UART
}

// New binds a VFS shim to an already-formatted ext2 volume and a console.
func New(root *ext2.Ext2, tty *uart.UART) *FS {
	return &FS{root: root, tty: tty}
}

// TTYFd returns a fresh console file descriptor (fd 0/1/2 all point at one
// of these in a freshly forked process).
func (f *FS) TTYFd(perms int) *fd.Fd_t {
	return &fd.Fd_t{Fops: &ttyFile{u: f.tty}, Perms: perms}
}

func splitPath(p string) []string {
	var out []string
	for _, c := range strings.Split(p, "/") {
		if c != "" && c != "." {
			out = append(out, c)
		}
	}
	return out
}

// resolve walks path's components from the filesystem root, returning the
// final inode number and its directory type (ext2's dtReg/dtDir, exposed
// to callers only as the file-vs-directory distinction they need).
func (f *FS) resolve(path ustr.Ustr) (ino int, isDir bool, err defs.Err_t) {
	cur := ext2.RootIno
	isDir = true
	comps := splitPath(path.String())
	for i, c := range comps {
		if c == ".." {
			// the root's ".." entry already points back at itself; every
			// other directory's ".." was written by ext2.Mkdir.
			parent, _, lerr := f.root.Lookup(cur, "..")
			if lerr != 0 {
				return 0, false, lerr
			}
			cur = parent
			continue
		}
		next, ftype, lerr := f.root.Lookup(cur, c)
		if lerr != 0 {
			return 0, false, lerr
		}
		cur = next
		isDir = ftype == ext2.DTDir
		if !isDir && i != len(comps)-1 {
			return 0, false, defs.ENOTDIR
		}
	}
	return cur, isDir, 0
}

// dirOf resolves every component of path but the last, returning the
// containing directory's inode and the final component's name.
func (f *FS) dirOf(path ustr.Ustr) (dirIno int, name string, err defs.Err_t) {
	comps := splitPath(path.String())
	if len(comps) == 0 {
		return 0, "", defs.EINVAL
	}
	parentPath := ustr.MkUstrRoot()
	if len(comps) > 1 {
		parentPath = ustr.Ustr("/" + strings.Join(comps[:len(comps)-1], "/"))
	}
	dirIno, _, err = f.resolve(parentPath)
	if err != 0 {
		return 0, "", err
	}
	return dirIno, comps[len(comps)-1], 0
}

// Open resolves path and returns an open file descriptor. With O_CREAT set
// a missing regular file is created; O_CREAT on an existing path just
// opens it, and O_EXCL is not checked.
func (f *FS) Open(path ustr.Ustr, flags int) (*fd.Fd_t, defs.Err_t) {
	ino, isDir, err := f.resolve(path)
	if err == defs.ENOENT && flags&defs.O_CREAT != 0 {
		dirIno, name, derr := f.dirOf(path)
		if derr != 0 {
			return nil, derr
		}
		newIno, cerr := f.root.Create(dirIno, name)
		if cerr != 0 {
			return nil, cerr
		}
		ino, isDir = newIno, false
		err = 0
	}
	if err != 0 {
		return nil, err
	}
	if isDir {
		return &fd.Fd_t{Fops: &dirFile{fs: f.root, ino: ino}, Perms: fd.FD_READ}, 0
	}
	perms := fd.FD_READ
	if flags&defs.O_WRONLY != 0 || flags&defs.O_RDWR != 0 {
		perms |= fd.FD_WRITE
	}
	return &fd.Fd_t{Fops: f.root.OpenFile(ino), Perms: perms}, 0
}

// Mkdir creates a new directory at path.
func (f *FS) Mkdir(path ustr.Ustr) defs.Err_t {
	dirIno, name, err := f.dirOf(path)
	if err != 0 {
		return err
	}
	_, cerr := f.root.Mkdir(dirIno, name)
	return cerr
}

// Unlink removes the regular file at path.
func (f *FS) Unlink(path ustr.Ustr) defs.Err_t {
	dirIno, name, err := f.dirOf(path)
	if err != 0 {
		return err
	}
	return f.root.Unlink(dirIno, name)
}

// Rmdir removes the empty directory at path.
func (f *FS) Rmdir(path ustr.Ustr) defs.Err_t {
	dirIno, name, err := f.dirOf(path)
	if err != 0 {
		return err
	}
	return f.root.Rmdir(dirIno, name)
}

// Getdents lists the entries of the directory at path.
func (f *FS) Getdents(path ustr.Ustr) ([]ext2.Dirent, defs.Err_t) {
	ino, isDir, err := f.resolve(path)
	if err != 0 {
		return nil, err
	}
	if !isDir {
		return nil, defs.ENOTDIR
	}
	return f.root.Getdents(ino)
}

// GetdentsIno lists the entries of the directory identified directly by
// inode number, for SYS_GETDENTS callers that already hold an open
// directory fd (and so already paid for path resolution at open time).
func (f *FS) GetdentsIno(ino int) ([]ext2.Dirent, defs.Err_t) {
	return f.root.Getdents(ino)
}

// ttyFile adapts internal/uart.UART to fdops.Fdops_i for fd 0/1/2.
type ttyFile struct{ u *uart.UART }

func (t *ttyFile) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	buf := make([]byte, dst.Remain())
	n, err := t.u.Read(buf)
	if err != 0 {
		return 0, err
	}
	wrote, werr := dst.Uiowrite(buf[:n])
	return wrote, werr
}

func (t *ttyFile) Write(src fdops.Userio_i) (int, defs.Err_t) {
	buf := make([]byte, src.Remain())
	n, err := src.Uioread(buf)
	if err != 0 {
		return 0, err
	}
	return t.u.Write(buf[:n])
}

func (t *ttyFile) Close() defs.Err_t              { return 0 }
func (t *ttyFile) Reopen() defs.Err_t             { return 0 }
func (t *ttyFile) Lseek(int, int) (int, defs.Err_t) { return 0, defs.ESPIPE }
func (t *ttyFile) Fstat(statBuf []byte) defs.Err_t {
	var st stat.Stat_t
	st.Wmode(stat.S_IFCHR)
	copy(statBuf, st.Bytes())
	return 0
}
func (t *ttyFile) Pathi() (int, bool) { return 0, false }

// dirFile is the Fdops_i view of an open directory: reads aren't
// supported directly (use FS.Getdents), but the fd still needs to exist
// so chdir/fchdir and close() have something to operate on.
type dirFile struct {
	fs  *ext2.Ext2
	ino int
}

func (d *dirFile) Read(fdops.Userio_i) (int, defs.Err_t)  { return 0, defs.EISDIR }
func (d *dirFile) Write(fdops.Userio_i) (int, defs.Err_t) { return 0, defs.EISDIR }
func (d *dirFile) Close() defs.Err_t                      { return 0 }
func (d *dirFile) Reopen() defs.Err_t                     { return 0 }
func (d *dirFile) Lseek(int, int) (int, defs.Err_t) { return 0, defs.EISDIR }
func (d *dirFile) Fstat(statBuf []byte) defs.Err_t {
	var st stat.Stat_t
	st.Wmode(stat.S_IFDIR)
	st.Wino(uint(d.ino))
	copy(statBuf, st.Bytes())
	return 0
}
func (d *dirFile) Pathi() (int, bool) { return d.ino, true }
