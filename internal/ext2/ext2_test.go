package ext2

import (
	"bytes"
	"testing"

	"github.com/cmelnulabs/riscvkern/internal/blk"
	"github.com/cmelnulabs/riscvkern/internal/defs"
	"github.com/cmelnulabs/riscvkern/internal/virtio"
)

func mkfs(t *testing.T) *Ext2 {
	t.Helper()
	disk := virtio.New(64)
	e, err := Mkfs(disk, 64, 32)
	if err != 0 {
		t.Fatalf("mkfs: %d", err)
	}
	return e
}

func TestMkfsThenMountRoundTrip(t *testing.T) {
	disk := virtio.New(64)
	if _, err := Mkfs(disk, 64, 32); err != 0 {
		t.Fatalf("mkfs: %d", err)
	}
	e, err := Mount(disk)
	if err != 0 {
		t.Fatalf("mount: %d", err)
	}
	in, err := e.ReadInode(RootIno)
	if err != 0 {
		t.Fatalf("read root inode: %d", err)
	}
	if in.Mode&IFDIR == 0 {
		t.Fatal("root inode is not a directory")
	}
}

func TestRootDirHasDotAndDotDot(t *testing.T) {
	e := mkfs(t)
	ents, err := e.Getdents(RootIno)
	if err != 0 {
		t.Fatalf("getdents: %d", err)
	}
	if len(ents) != 2 || ents[0].Name != "." || ents[1].Name != ".." {
		t.Fatalf("unexpected root entries: %+v", ents)
	}
}

func TestCreateWriteReadFile(t *testing.T) {
	e := mkfs(t)
	ino, err := e.Create(RootIno, "hello.txt")
	if err != 0 {
		t.Fatalf("create: %d", err)
	}
	payload := []byte("hello, ext2")
	n, err := e.WriteFile(ino, 0, payload)
	if err != 0 || n != len(payload) {
		t.Fatalf("write: n=%d err=%d", n, err)
	}
	buf := make([]byte, len(payload))
	n, err = e.ReadFile(ino, 0, buf)
	if err != 0 || n != len(payload) {
		t.Fatalf("read: n=%d err=%d", n, err)
	}
	if !bytes.Equal(buf, payload) {
		t.Fatalf("round trip mismatch: got %q want %q", buf, payload)
	}
}

func TestWriteAcrossMultipleBlocks(t *testing.T) {
	e := mkfs(t)
	ino, err := e.Create(RootIno, "big.txt")
	if err != 0 {
		t.Fatalf("create: %d", err)
	}
	payload := bytes.Repeat([]byte("x"), blk.BSIZE+100)
	n, err := e.WriteFile(ino, 0, payload)
	if err != 0 || n != len(payload) {
		t.Fatalf("write: n=%d err=%d", n, err)
	}
	buf := make([]byte, len(payload))
	n, err = e.ReadFile(ino, 0, buf)
	if err != 0 || n != len(payload) {
		t.Fatalf("read: n=%d err=%d", n, err)
	}
	if !bytes.Equal(buf, payload) {
		t.Fatal("multi-block round trip mismatch")
	}
}

func TestLookupFindsCreatedFile(t *testing.T) {
	e := mkfs(t)
	ino, err := e.Create(RootIno, "a")
	if err != 0 {
		t.Fatalf("create: %d", err)
	}
	got, ftype, err := e.Lookup(RootIno, "a")
	if err != 0 || got != ino || ftype != dtReg {
		t.Fatalf("lookup mismatch: got=%d ftype=%d err=%d", got, ftype, err)
	}
}

func TestLookupMissingReturnsENOENT(t *testing.T) {
	e := mkfs(t)
	if _, _, err := e.Lookup(RootIno, "nope"); err != defs.ENOENT {
		t.Fatalf("expected ENOENT, got %d", err)
	}
}

func TestCreateDuplicateReturnsEEXIST(t *testing.T) {
	e := mkfs(t)
	if _, err := e.Create(RootIno, "dup"); err != 0 {
		t.Fatalf("create: %d", err)
	}
	if _, err := e.Create(RootIno, "dup"); err != defs.EEXIST {
		t.Fatalf("expected EEXIST, got %d", err)
	}
}

func TestMkdirThenListAndRemove(t *testing.T) {
	e := mkfs(t)
	sub, err := e.Mkdir(RootIno, "sub")
	if err != 0 {
		t.Fatalf("mkdir: %d", err)
	}
	ents, err := e.Getdents(sub)
	if err != 0 || len(ents) != 2 {
		t.Fatalf("new dir should have . and ..: %+v err=%d", ents, err)
	}
	if err := e.Rmdir(RootIno, "sub"); err != 0 {
		t.Fatalf("rmdir: %d", err)
	}
	if _, _, err := e.Lookup(RootIno, "sub"); err != defs.ENOENT {
		t.Fatalf("expected removed dir to be gone, err=%d", err)
	}
}

func TestRmdirNonEmptyFails(t *testing.T) {
	e := mkfs(t)
	sub, err := e.Mkdir(RootIno, "sub")
	if err != 0 {
		t.Fatalf("mkdir: %d", err)
	}
	if _, err := e.Create(sub, "f"); err != 0 {
		t.Fatalf("create: %d", err)
	}
	if err := e.Rmdir(RootIno, "sub"); err != defs.ENOTEMPTY {
		t.Fatalf("expected ENOTEMPTY, got %d", err)
	}
}

func TestUnlinkRemovesFileAndFreesInode(t *testing.T) {
	e := mkfs(t)
	ino, err := e.Create(RootIno, "f")
	if err != 0 {
		t.Fatalf("create: %d", err)
	}
	if err := e.Unlink(RootIno, "f"); err != 0 {
		t.Fatalf("unlink: %d", err)
	}
	if _, _, err := e.Lookup(RootIno, "f"); err != defs.ENOENT {
		t.Fatalf("expected removed file to be gone, err=%d", err)
	}
	// the freed inode number should be reusable.
	ino2, err := e.Create(RootIno, "g")
	if err != 0 {
		t.Fatalf("create after unlink: %d", err)
	}
	if ino2 != ino {
		t.Fatalf("expected reused inode %d, got %d", ino, ino2)
	}
}

func TestUnlinkOnDirectoryReturnsEISDIR(t *testing.T) {
	e := mkfs(t)
	if _, err := e.Mkdir(RootIno, "d"); err != 0 {
		t.Fatalf("mkdir: %d", err)
	}
	if err := e.Unlink(RootIno, "d"); err != defs.EISDIR {
		t.Fatalf("expected EISDIR, got %d", err)
	}
}
