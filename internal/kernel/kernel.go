// Package kernel assembles every subsystem into the single handle
// cmd/kernel boots and cmd/shell drives: PMM feeds KHEAP and the VM
// engine, the VM engine backs the process table, the process table and
// VFS back the syscall dispatcher, and the trap core's four callbacks
// (syscall/timer/page-fault/illegal-instruction) are wired directly to
// that dispatcher and the scheduler.
//
// No single teacher file plays this role — biscuit's own wiring lived in
// main.go/sys_init, neither of which survive the pack's size filter — so
// the constructor order here is grounded on the dependency order each
// subsystem's own package doc already documents (PMM before KHEAP/VM,
// VM before PROC, PROC+FS before SYS).
package kernel

import (
	"github.com/cmelnulabs/riscvkern/internal/clint"
	"github.com/cmelnulabs/riscvkern/internal/defs"
	"github.com/cmelnulabs/riscvkern/internal/ext2"
	"github.com/cmelnulabs/riscvkern/internal/fd"
	"github.com/cmelnulabs/riscvkern/internal/fs"
	"github.com/cmelnulabs/riscvkern/internal/kconfig"
	"github.com/cmelnulabs/riscvkern/internal/kheap"
	"github.com/cmelnulabs/riscvkern/internal/kstats"
	"github.com/cmelnulabs/riscvkern/internal/plic"
	"github.com/cmelnulabs/riscvkern/internal/pmm"
	"github.com/cmelnulabs/riscvkern/internal/proc"
	"github.com/cmelnulabs/riscvkern/internal/sig"
	"github.com/cmelnulabs/riscvkern/internal/sys"
	"github.com/cmelnulabs/riscvkern/internal/trap"
	"github.com/cmelnulabs/riscvkern/internal/uart"
	"github.com/cmelnulabs/riscvkern/internal/virtio"
	"github.com/cmelnulabs/riscvkern/internal/vm"
)

// Kernel is every live subsystem, wired together and ready to take traps.
type Kernel struct {
	Cfg   *kconfig.Config
	PMM   *pmm.PMM
	KHeap *kheap.KHEAP
	VM    *vm.Engine
	Hart  *trap.Hart
	Procs *proc.Table
	Disk  *virtio.Disk
	Root  *ext2.Ext2
	TTY   *uart.UART
	VFS   *fs.FS
	Sys   *sys.Sys
	Clint *clint.CLINT
	Plic  *plic.PLIC
	Stats *kstats.Device
}

// New builds a kernel over the given architectural constants: an empty
// ext2 volume (64 blocks, 32 inodes — enough for the shell/test corpus
// this model drives), a console, and every subsystem stacked in their
// dependency order.
func New(cfg *kconfig.Config) (*Kernel, defs.Err_t) {
	p := pmm.New(pmm.Pa_t(cfg.RAMStart), cfg.RAMSize/pmm.PGSIZE)
	e := vm.NewEngine(p)
	kh := kheap.New(p)
	procs := proc.NewTable(e)

	disk := virtio.New(64)
	root, err := ext2.Mkfs(disk, 64, 32)
	if err != 0 {
		return nil, err
	}
	tty := uart.New()
	vfs := fs.New(root, tty)

	k := &Kernel{
		Cfg:   cfg,
		PMM:   p,
		KHeap: kh,
		VM:    e,
		Hart:  &trap.Hart{},
		Procs: procs,
		Disk:  disk,
		Root:  root,
		TTY:   tty,
		VFS:   vfs,
		Sys:   sys.New(procs, vfs, cfg),
		Clint: clint.New(),
		Plic:  plic.New(),
	}
	k.Stats = kstats.New(procs, kh)
	return k, 0
}

// Spawn creates a fresh process with fds 0/1/2 bound to the console and
// its cwd at the filesystem root, the shape every S1-S6 scenario starts
// from before issuing its own syscalls.
func (k *Kernel) Spawn(name string) *proc.Pcb {
	p := k.Procs.InitProc(name)
	ttyFd := k.VFS.TTYFd(fd.FD_READ | fd.FD_WRITE)
	p.Cwd = fd.MkRootCwd(ttyFd)
	p.AddFd(ttyFd)                                  // fd 0: stdin
	p.AddFd(k.VFS.TTYFd(fd.FD_READ | fd.FD_WRITE))  // fd 1: stdout
	p.AddFd(k.VFS.TTYFd(fd.FD_READ | fd.FD_WRITE))  // fd 2: stderr
	k.Procs.Enqueue(p)
	k.Procs.PickNext()
	return p
}

// deliverOrKill raises signo on p: if p has installed a user handler the
// trap frame is redirected into it (sigreturn will restore tf), otherwise
// the default disposition for every signal this kernel synthesizes
// (SIGSEGV, SIGILL) is termination, matching spec.md §8 S4.
func (k *Kernel) deliverOrKill(p *proc.Pcb, signo defs.Sig_t, tf *trap.TrapFrame) {
	p.Sig.Raise(signo)
	s, ok := p.Sig.Deliverable()
	if !ok || s != signo {
		return
	}
	if p.Sig.Handlers[signo].Kind == sig.User {
		p.Sig.Deliver(signo, tf)
		return
	}
	k.Procs.Exit(p, 0, true, signo)
}

// Handlers builds the trap.Handlers callback set this kernel's single
// hart dispatches every trap through.
func (k *Kernel) Handlers() trap.Handlers {
	return trap.Handlers{
		Syscall: func(fr *trap.TrapFrame) uint64 {
			p := k.Procs.Running()
			if p == nil {
				return uint64(int64(defs.ESRCH))
			}
			return k.Sys.Dispatch(p, fr)
		},
		Timer: func() {
			k.Clint.Tick()
			k.Procs.Tick()
		},
		PageFault: func(fr *trap.TrapFrame, va uintptr, write bool) defs.Err_t {
			p := k.Procs.Running()
			if p == nil {
				return defs.EFAULT
			}
			k.deliverOrKill(p, defs.SIGSEGV, fr)
			return defs.EFAULT
		},
		Illegal: func(fr *trap.TrapFrame, text []byte) {
			p := k.Procs.Running()
			if p == nil {
				return
			}
			k.deliverOrKill(p, defs.SIGILL, fr)
		},
	}
}
