// Package shell implements the minimal userland CLI of spec.md §6
// (`ps ls cat echo mkdir rmdir rm cd pwd uname poweroff reboot exec`),
// built directly against the syscall-shaped Go API internal/sys exposes:
// every command builds a trap.TrapFrame and real user-memory buffers the
// same way internal/kernel's own acceptance tests do, and dispatches it
// through internal/kernel.Handlers().Syscall rather than a shortcut call
// into internal/fs or internal/proc directly. The exceptions are echo,
// which makes no syscall, ps, which reads proc.Table.Snapshot, and ls,
// which reads entries through fs.GetdentsIno (see ls). There is no real hart to
// trap an ecall into in this model, so this is the in-process stand-in
// for a libc-linked shell binary, grounded on the teacher's own absence
// of one (biscuit's userland programs didn't survive the pack's size
// filter) — the command set and behavior instead come straight from
// spec.md §6.
package shell

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/cmelnulabs/riscvkern/internal/defs"
	"github.com/cmelnulabs/riscvkern/internal/kernel"
	"github.com/cmelnulabs/riscvkern/internal/proc"
	"github.com/cmelnulabs/riscvkern/internal/trap"
	"github.com/cmelnulabs/riscvkern/internal/vm"
)

// scratchBase is a fixed low address range this shell reserves for its
// own argument/reply buffers, well clear of the heap/stack regions
// internal/sys's sbrk and execve hand out.
const scratchBase = uintptr(0x09000000)

// Shell is one running instance of the CLI, bound to a single process
// in the kernel's process table (its stdin/stdout/cwd).
type Shell struct {
	K   *kernel.Kernel
	P   *proc.Pcb
	hdl trap.Handlers
}

// New wraps an already-spawned process (k.Spawn's fd 0/1/2 and cwd are
// exactly what the shell inherits) as an interactive command loop.
func New(k *kernel.Kernel, p *proc.Pcb) *Shell {
	return &Shell{K: k, P: p, hdl: k.Handlers()}
}

func (sh *Shell) frame(a0, a1, a2, a3, a7 uint64) *trap.TrapFrame {
	tf := &trap.TrapFrame{}
	tf.SetA(0, a0)
	tf.SetA(1, a1)
	tf.SetA(2, a2)
	tf.SetA(3, a3)
	tf.SetA(7, a7)
	return tf
}

// putString maps (if needed) and writes s plus a trailing NUL at
// scratchBase+off, returning its virtual address.
func (sh *Shell) putString(off uintptr, s string) (uintptr, error) {
	return sh.putBytes(off, append([]byte(s), 0))
}

func (sh *Shell) putBytes(off uintptr, b []byte) (uintptr, error) {
	va := scratchBase + off
	e := sh.K.VM
	if _, err := e.MapAnon(sh.P.Root, va, vm.PTE_R|vm.PTE_W|vm.PTE_U); err != nil {
		return 0, err
	}
	if err := e.Userwriten(sh.P.Root, va, b); err != nil {
		return 0, err
	}
	return va, nil
}

func (sh *Shell) readBytes(off uintptr, n int) ([]byte, error) {
	va := scratchBase + off
	if _, err := sh.K.VM.MapAnon(sh.P.Root, va, vm.PTE_R|vm.PTE_W|vm.PTE_U); err != nil {
		return nil, err
	}
	return sh.K.VM.Userreadn(sh.P.Root, va, n)
}

// Run drives the REPL: one line per prompt, until in reaches EOF or the
// process issues poweroff/reboot.
func (sh *Shell) Run(in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "$ ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd, args := fields[0], fields[1:]
		if halt := sh.dispatch(cmd, args, out); halt {
			return
		}
	}
}

// dispatch runs one parsed command line, returning true once the shell
// should stop (poweroff/reboot).
func (sh *Shell) dispatch(cmd string, args []string, out io.Writer) bool {
	switch cmd {
	case "ps":
		sh.ps(out)
	case "ls":
		sh.ls(out, args)
	case "cat":
		sh.cat(out, args)
	case "echo":
		fmt.Fprintln(out, strings.Join(args, " "))
	case "mkdir":
		sh.simplePathOp(out, defs.SYS_MKDIR, args)
	case "rmdir":
		sh.simplePathOp(out, defs.SYS_RMDIR, args)
	case "rm":
		sh.simplePathOp(out, defs.SYS_UNLINK, args)
	case "cd":
		sh.simplePathOp(out, defs.SYS_CHDIR, args)
	case "pwd":
		sh.pwd(out)
	case "uname":
		sh.uname(out)
	case "exec":
		sh.exec(out, args)
	case "poweroff", "reboot":
		sh.hdl.Syscall(sh.frame(0, 0, 0, 0, uint64(sysnoFor(cmd))))
		fmt.Fprintf(out, "%s: done\n", cmd)
		return true
	default:
		fmt.Fprintf(out, "%s: command not found\n", cmd)
	}
	return false
}

func sysnoFor(cmd string) int {
	if cmd == "reboot" {
		return defs.SYS_REBOOT
	}
	return defs.SYS_POWEROFF
}

func (sh *Shell) ps(out io.Writer) {
	rows := sh.K.Procs.Snapshot()
	sort.Slice(rows, func(i, j int) bool { return rows[i].Pid < rows[j].Pid })
	fmt.Fprintln(out, "PID\tPPID\tSTATE\tNAME")
	for _, r := range rows {
		fmt.Fprintf(out, "%d\t%d\t%v\t%s\n", r.Pid, r.Ppid, r.State, r.Name)
	}
}

func (sh *Shell) simplePathOp(out io.Writer, sysno int, args []string) {
	if len(args) != 1 {
		fmt.Fprintf(out, "usage: <path>\n")
		return
	}
	va, err := sh.putString(0, args[0])
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	ret := sh.hdl.Syscall(sh.frame(uint64(va), 0, 0, 0, uint64(sysno)))
	if errno := int64(ret); errno < 0 {
		fmt.Fprintf(out, "error: %d\n", errno)
	}
}

func (sh *Shell) pwd(out io.Writer) {
	va, _ := sh.putBytes(0, make([]byte, 256))
	ret := sh.hdl.Syscall(sh.frame(uint64(va), 0, 0, 0, uint64(defs.SYS_GETCWD)))
	if errno := int64(ret); errno < 0 {
		fmt.Fprintf(out, "error: %d\n", errno)
		return
	}
	b, err := sh.readBytes(0, int(ret))
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	fmt.Fprintln(out, string(b))
}

func (sh *Shell) uname(out io.Writer) {
	va, _ := sh.putBytes(0, make([]byte, 65))
	sh.hdl.Syscall(sh.frame(uint64(va), 0, 0, 0, uint64(defs.SYS_UNAME)))
	b, err := sh.readBytes(0, 65)
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	fmt.Fprintln(out, strings.TrimRight(string(b), "\x00"))
}

// ls opens dirPath through the normal SYS_OPEN path (so permission and
// ENOTDIR checks still apply) but then reads its entries through
// internal/fs.GetdentsIno directly rather than through SYS_GETDENTS:
// that syscall's wire format packs variable-length names back to back
// with no length prefix, fine for a single-entry probe but not a
// general multi-entry reader, so ls sidesteps it the same way ps
// sidesteps the SYS_GETPROCS stub.
func (sh *Shell) ls(out io.Writer, args []string) {
	dirPath := "."
	if len(args) == 1 {
		dirPath = args[0]
	}
	va, err := sh.putString(0, dirPath)
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	fdRet := sh.hdl.Syscall(sh.frame(uint64(va), uint64(defs.O_RDONLY), 0, 0, uint64(defs.SYS_OPEN)))
	if errno := int64(fdRet); errno < 0 {
		fmt.Fprintf(out, "error: %d\n", errno)
		return
	}
	fdNo := int(fdRet)

	f, gerr := sh.P.GetFd(fdNo)
	if gerr != 0 {
		fmt.Fprintf(out, "error: %d\n", gerr)
		sh.hdl.Syscall(sh.frame(uint64(fdNo), 0, 0, 0, uint64(defs.SYS_CLOSE)))
		return
	}
	ino, isDir := f.Fops.Pathi()
	if !isDir {
		fmt.Fprintf(out, "error: %d\n", defs.ENOTDIR)
		sh.hdl.Syscall(sh.frame(uint64(fdNo), 0, 0, 0, uint64(defs.SYS_CLOSE)))
		return
	}
	ents, derr := sh.K.VFS.GetdentsIno(ino)
	if derr != 0 {
		fmt.Fprintf(out, "error: %d\n", derr)
	} else {
		for _, d := range ents {
			fmt.Fprintln(out, d.Name)
		}
	}
	sh.hdl.Syscall(sh.frame(uint64(fdNo), 0, 0, 0, uint64(defs.SYS_CLOSE)))
}

func (sh *Shell) cat(out io.Writer, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(out, "usage: cat <path>")
		return
	}
	va, err := sh.putString(0, args[0])
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	fdRet := sh.hdl.Syscall(sh.frame(uint64(va), uint64(defs.O_RDONLY), 0, 0, uint64(defs.SYS_OPEN)))
	if errno := int64(fdRet); errno < 0 {
		fmt.Fprintf(out, "error: %d\n", errno)
		return
	}
	fdNo := int64(fdRet)
	bufVa, _ := sh.putBytes(4096, make([]byte, 4096))
	for {
		got := sh.hdl.Syscall(sh.frame(uint64(fdNo), uint64(bufVa), 4096, 0, uint64(defs.SYS_READ)))
		n := int64(got)
		if n <= 0 {
			break
		}
		raw, rerr := sh.readBytes(4096, int(n))
		if rerr != nil {
			break
		}
		out.Write(raw)
	}
	sh.hdl.Syscall(sh.frame(uint64(fdNo), 0, 0, 0, uint64(defs.SYS_CLOSE)))
}

// exec replaces the shell process's own image, per spec.md §6's
// `exec <path>` — since this model never links and installs a second
// real ELF binary onto the volume, this mostly demonstrates the syscall
// plumbing (SYS_EXECVE resolves and loads whatever cmd/mkfs populated
// the volume with), not a full fork-exec-wait pipeline.
func (sh *Shell) exec(out io.Writer, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(out, "usage: exec <path> [args...]")
		return
	}
	va, err := sh.putString(0, args[0])
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	ret := sh.hdl.Syscall(sh.frame(uint64(va), 0, 0, 0, uint64(defs.SYS_EXECVE)))
	if errno := int64(ret); errno < 0 {
		fmt.Fprintf(out, "exec %s: error %d\n", args[0], errno)
	}
}
