// Package trap implements the single-hart trap entry/exit contract
// (spec.md §4.E): the trap frame layout, the sscratch kernel/user state
// machine, and scause-keyed dispatch to the syscall, timer-interrupt, and
// exception handlers internal/sys and internal/proc register.
//
// Grounded on the teacher's tinfo.Tnote_t for the per-thread
// killed/doomed state a trapped-into-the-kernel thread carries, re-hosted
// here as Hart.Killed/Hart.Doomed since tinfo.Current/SetCurrent depend on
// runtime.Gptr/Setgptr, API added by the teacher's own forked Go runtime
// (src/runtime) to stash a per-goroutine thread-note pointer — this spec
// runs on an unmodified toolchain, so the "current thread" pointer is
// passed explicitly as a *Hart argument instead of fished out of runtime
// goroutine state.
package trap

import (
	"fmt"
	"unsafe"

	"golang.org/x/arch/riscv64/riscv64asm"

	"github.com/cmelnulabs/riscvkern/internal/defs"
)

// Scause values this kernel distinguishes (RISC-V privileged spec,
// interrupt bit is bit 63 of the real register; modeled here as a
// separate bool since Go has no 1-bit-steal convenience over a uint64
// without losing readability at call sites).
type Scause struct {
	Interrupt bool
	Code      uint64
}

const (
	ExcInstrMisaligned = 0
	ExcInstrFault      = 1
	ExcIllegalInstr    = 2
	ExcBreakpoint      = 3
	ExcLoadFault       = 5
	ExcStoreFault      = 7
	ExcEcallU          = 8
	ExcEcallS          = 9
	ExcPageFaultInstr  = 12
	ExcPageFaultLoad   = 13
	ExcPageFaultStore  = 15

	IntTimer    = 5
	IntSoftware = 1
	IntExternal = 9
)

// TrapFrame is the saved register state across a trap into the kernel: the
// 31 general-purpose registers (x1-x31; x0 is hardwired zero and never
// saved) plus four CSR slots (sepc, sstatus, scause, stval) the trap
// handler itself needs to make a dispatch decision and to resume the
// interrupted context afterward.
type TrapFrame struct {
	Regs    [31]uint64 // x1 (ra) .. x31 (t6)
	Sepc    uint64
	Sstatus uint64
	Scause  uint64
	Stval   uint64 // faulting address, valid on a page-fault exception
}

const trapFrameSize = 280

func init() {
	if unsafe.Sizeof(TrapFrame{}) != trapFrameSize {
		panic(fmt.Sprintf("trap: TrapFrame is %d bytes, want %d", unsafe.Sizeof(TrapFrame{}), trapFrameSize))
	}
}

// register indices into TrapFrame.Regs for the ABI names sys and proc read
// arguments/return values through (x10-x17 = a0-a7, x1 = ra).
const (
	RegRA = 0
	RegSP = 1
	RegA0 = 9
	RegA1 = 10
	RegA2 = 11
	RegA3 = 12
	RegA4 = 13
	RegA5 = 14
	RegA6 = 15
	RegA7 = 16 // syscall number, per the RISC-V Linux syscall ABI
)

func (tf *TrapFrame) A(n int) uint64    { return tf.Regs[RegA0+n] }
func (tf *TrapFrame) SetA(n int, v uint64) { tf.Regs[RegA0+n] = v }
func (tf *TrapFrame) SyscallNo() uint64 { return tf.Regs[RegA7] }

// decodeScause splits the raw scause CSR value into interrupt flag and
// exception/interrupt code.
func decodeScause(raw uint64) Scause {
	return Scause{Interrupt: raw>>63 != 0, Code: raw &^ (1 << 63)}
}

// Mode tracks whether the hart is currently executing kernel or user code,
// mirroring what sscratch's swap protocol (zero in the kernel, the user
// trap frame pointer in user mode) establishes on real hardware; this
// model keeps the same two-state invariant without an actual CSR.
type Mode int

const (
	ModeUser Mode = iota
	ModeKernel
)

// Hart is the single-hart trap/dispatch context: which mode it's in, the
// frame most recently trapped in, the per-thread kill/doom flags the
// teacher's Tnote_t carries for a thread that must unwind out of the
// kernel instead of resuming, and the sscratch mirror below.
type Hart struct {
	Mode    Mode
	Frame   *TrapFrame
	Killed  bool
	Doomed  bool

	// Sscratch mirrors the sscratch CSR's kernel/user swap protocol on
	// real hardware: zero while Mode == ModeKernel (so a nested trap from
	// kernel context can tell it's already on the kernel stack), and the
	// interrupted process's kernel-stack-top while Mode == ModeUser (so
	// trap entry can swap it into sp before anything else runs). Dispatch
	// maintains this invariant across every mode transition.
	Sscratch uint64
}

// Handlers is the set of callbacks Dispatch routes a trap to, registered
// by internal/kernel once every subsystem exists.
type Handlers struct {
	Syscall  func(fr *TrapFrame) uint64
	Timer    func()
	PageFault func(fr *TrapFrame, va uintptr, write bool) defs.Err_t
	Illegal  func(fr *TrapFrame, text []byte)
}

// Dispatch routes a trap by its scause, entering kernel mode for the
// duration of the call and restoring user mode on return. The caller is
// responsible for having copied the faulting hart's CSRs into fr.Scause
// before calling. kstackTop is the trapped process's kernel-stack-top,
// the value sscratch is restored to once control returns to user mode.
func (h *Hart) Dispatch(fr *TrapFrame, hdl Handlers, instrBytes []byte, kstackTop uint64) {
	h.Mode = ModeKernel
	h.Frame = fr
	h.Sscratch = 0
	defer func() {
		h.Mode = ModeUser
		h.Sscratch = kstackTop
	}()

	sc := decodeScause(fr.Scause)
	switch {
	case sc.Interrupt && sc.Code == IntTimer:
		if hdl.Timer != nil {
			hdl.Timer()
		}
	case !sc.Interrupt && sc.Code == ExcEcallU:
		if hdl.Syscall != nil {
			ret := hdl.Syscall(fr)
			fr.SetA(0, ret)
		}
		fr.Sepc += 4 // skip past the ecall instruction on return
	case !sc.Interrupt && (sc.Code == ExcPageFaultLoad || sc.Code == ExcPageFaultStore || sc.Code == ExcPageFaultInstr):
		if hdl.PageFault != nil {
			write := sc.Code == ExcPageFaultStore
			hdl.PageFault(fr, uintptr(fr.Stval), write)
		}
	case !sc.Interrupt && sc.Code == ExcIllegalInstr:
		if hdl.Illegal != nil {
			hdl.Illegal(fr, instrBytes)
		}
	}
}

// DecodeFault renders the instruction at the fault site for a panic/SIGILL
// diagnostic dump, using golang.org/x/arch/riscv64/riscv64asm the way a
// debugger would disassemble the faulting word.
func DecodeFault(instrBytes []byte) string {
	inst, err := riscv64asm.Decode(instrBytes)
	if err != nil {
		return fmt.Sprintf("<undecodable: % x>", instrBytes)
	}
	return inst.String()
}
