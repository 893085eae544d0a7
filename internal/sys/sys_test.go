package sys

import (
	"testing"

	"github.com/cmelnulabs/riscvkern/internal/defs"
	"github.com/cmelnulabs/riscvkern/internal/ext2"
	"github.com/cmelnulabs/riscvkern/internal/fd"
	"github.com/cmelnulabs/riscvkern/internal/fs"
	"github.com/cmelnulabs/riscvkern/internal/kconfig"
	"github.com/cmelnulabs/riscvkern/internal/pmm"
	"github.com/cmelnulabs/riscvkern/internal/proc"
	"github.com/cmelnulabs/riscvkern/internal/trap"
	"github.com/cmelnulabs/riscvkern/internal/uart"
	"github.com/cmelnulabs/riscvkern/internal/virtio"
	"github.com/cmelnulabs/riscvkern/internal/vm"
)

// harness wires a Sys over a freshly-formatted ext2 volume and a fresh
// process, the same plumbing internal/kernel assembles for real.
func harness(t *testing.T) (*Sys, *proc.Pcb) {
	t.Helper()
	disk := virtio.New(64)
	root, err := ext2.Mkfs(disk, 64, 32)
	if err != 0 {
		t.Fatalf("mkfs: %d", err)
	}
	vfs := fs.New(root, uart.New())

	pm := pmm.New(0x80000000, 4096)
	e := vm.NewEngine(pm)
	procs := proc.NewTable(e)
	p := procs.InitProc("init")
	p.Cwd = fd.MkRootCwd(vfs.TTYFd(fd.FD_READ | fd.FD_WRITE))
	p.State = proc.RUNNING

	return New(procs, vfs, kconfig.Default()), p
}

func frame(a0, a1, a2, a3, a7 uint64) *trap.TrapFrame {
	tf := &trap.TrapFrame{}
	tf.SetA(0, a0)
	tf.SetA(1, a1)
	tf.SetA(2, a2)
	tf.SetA(3, a3)
	tf.SetA(7, a7)
	return tf
}

func TestGetpidReturnsProcessPid(t *testing.T) {
	s, p := harness(t)
	got := s.Dispatch(p, frame(0, 0, 0, 0, uint64(defs.SYS_GETPID)))
	if got != uint64(p.Pid) {
		t.Fatalf("SYS_GETPID = %d, want %d", got, p.Pid)
	}
}

func TestUnknownSyscallReturnsEnosys(t *testing.T) {
	s, p := harness(t)
	got := s.Dispatch(p, frame(0, 0, 0, 0, 0xffff))
	want := encode(0, defs.ENOSYS)
	if got != want {
		t.Fatalf("unknown syscall = %#x, want %#x (ENOSYS)", got, want)
	}
}

func TestMkdirThenGetdentsSeesNewEntry(t *testing.T) {
	s, p := harness(t)
	e := s.Procs.Engine()

	name := uintptr(0x1000)
	if _, err := e.MapAnon(p.Root, name, vm.PTE_R|vm.PTE_W|vm.PTE_U); err != nil {
		t.Fatalf("map path buffer: %v", err)
	}
	if err := e.Userwriten(p.Root, name, append([]byte("/sub"), 0)); err != nil {
		t.Fatalf("write path: %v", err)
	}

	got := s.Dispatch(p, frame(uint64(name), 0, 0, 0, uint64(defs.SYS_MKDIR)))
	if got != 0 {
		t.Fatalf("SYS_MKDIR = %d, want 0", int64(got))
	}

	ents, derr := s.VFS.Getdents(p.Cwd.Path)
	if derr != 0 {
		t.Fatalf("getdents on root: %d", derr)
	}
	found := false
	for _, d := range ents {
		if d.Name == "sub" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a \"sub\" entry in root after mkdir, got %+v", ents)
	}
}

func TestSbrkGrowsThenShrinksWithoutOverlap(t *testing.T) {
	s, p := harness(t)
	p.HeapStart = 0x20000000
	p.HeapEnd = p.HeapStart

	grow1 := s.Dispatch(p, frame(uint64(int64(100)), 0, 0, 0, uint64(defs.SYS_SBRK)))
	if grow1 != uint64(p.HeapStart) {
		t.Fatalf("first sbrk old break = %d, want %d", grow1, p.HeapStart)
	}
	if p.HeapEnd != p.HeapStart+100 {
		t.Fatalf("heap end after first growth = %#x, want %#x", p.HeapEnd, p.HeapStart+100)
	}

	oldBreak := p.HeapEnd
	grow2 := s.Dispatch(p, frame(uint64(int64(5000)), 0, 0, 0, uint64(defs.SYS_SBRK)))
	if grow2 != uint64(oldBreak) {
		t.Fatalf("second sbrk old break = %d, want %d", grow2, oldBreak)
	}
	if p.HeapEnd != oldBreak+5000 {
		t.Fatalf("heap end after second growth = %#x, want %#x", p.HeapEnd, oldBreak+5000)
	}

	areas := p.Vmas.All()
	if len(areas) != 1 {
		t.Fatalf("expected exactly one heap VMA after two growths, got %d: %+v", len(areas), areas)
	}
}

func TestPipeThenReadWriteRoundTrip(t *testing.T) {
	s, p := harness(t)
	e := s.Procs.Engine()

	fdsVa := uintptr(0x2000)
	if _, err := e.MapAnon(p.Root, fdsVa, vm.PTE_R|vm.PTE_W|vm.PTE_U); err != nil {
		t.Fatalf("map fds buffer: %v", err)
	}
	got := s.Dispatch(p, frame(uint64(fdsVa), 0, 0, 0, uint64(defs.SYS_PIPE)))
	if got != 0 {
		t.Fatalf("SYS_PIPE = %d, want 0", int64(got))
	}
	raw, err := e.Userreadn(p.Root, fdsVa, 16)
	if err != nil {
		t.Fatalf("read back fds: %v", err)
	}
	rfd := int(raw[0]) | int(raw[1])<<8
	wfd := int(raw[8]) | int(raw[9])<<8

	msgVa := uintptr(0x3000)
	if _, err := e.MapAnon(p.Root, msgVa, vm.PTE_R|vm.PTE_W|vm.PTE_U); err != nil {
		t.Fatalf("map message buffer: %v", err)
	}
	msg := []byte("hello")
	if err := e.Userwriten(p.Root, msgVa, msg); err != nil {
		t.Fatalf("write message: %v", err)
	}

	wrote := s.Dispatch(p, frame(uint64(wfd), uint64(msgVa), uint64(len(msg)), 0, uint64(defs.SYS_WRITE)))
	if wrote != uint64(len(msg)) {
		t.Fatalf("SYS_WRITE = %d, want %d", wrote, len(msg))
	}

	readBackVa := uintptr(0x4000)
	if _, err := e.MapAnon(p.Root, readBackVa, vm.PTE_R|vm.PTE_W|vm.PTE_U); err != nil {
		t.Fatalf("map read-back buffer: %v", err)
	}
	readGot := s.Dispatch(p, frame(uint64(rfd), uint64(readBackVa), uint64(len(msg)), 0, uint64(defs.SYS_READ)))
	if readGot != uint64(len(msg)) {
		t.Fatalf("SYS_READ = %d, want %d", readGot, len(msg))
	}
	back, err := e.Userreadn(p.Root, readBackVa, len(msg))
	if err != nil {
		t.Fatalf("read back message: %v", err)
	}
	if string(back) != "hello" {
		t.Fatalf("round-tripped pipe message = %q, want %q", back, "hello")
	}
}

func TestKillUnknownPidReturnsEsrch(t *testing.T) {
	s, p := harness(t)
	got := s.Dispatch(p, frame(999, uint64(defs.SIGTERM), 0, 0, uint64(defs.SYS_KILL)))
	want := encode(0, defs.ESRCH)
	if got != want {
		t.Fatalf("SYS_KILL on unknown pid = %#x, want %#x (ESRCH)", got, want)
	}
}

func TestSignalInstallsUserHandler(t *testing.T) {
	s, p := harness(t)
	entry := uint64(0x10000)
	got := s.Dispatch(p, frame(uint64(defs.SIGHUP), entry, 0, 0, uint64(defs.SYS_SIGNAL)))
	if got != 0 {
		t.Fatalf("SYS_SIGNAL = %d, want 0", int64(got))
	}
	h := p.Sig.Handlers[defs.SIGHUP]
	if h.Entry != uintptr(entry) {
		t.Fatalf("installed handler entry = %#x, want %#x", h.Entry, entry)
	}
}

func TestSignalRejectsSigkill(t *testing.T) {
	s, p := harness(t)
	got := s.Dispatch(p, frame(uint64(defs.SIGKILL), 0x10000, 0, 0, uint64(defs.SYS_SIGNAL)))
	want := encode(0, defs.EINVAL)
	if got != want {
		t.Fatalf("SYS_SIGNAL(SIGKILL) = %#x, want %#x (EINVAL)", got, want)
	}
}
