// Package sig implements per-process signal state (spec.md §4.G): the
// pending/blocked bitsets, the 64-entry handler table, and sigframe
// push/pop around a user handler invocation.
//
// No teacher package in the pack implements POSIX-style signal delivery
// (biscuit's surviving files are silent on sigaction/sigreturn), so this
// is built fresh against spec.md's bitset/handler-table shape, in the
// terse, struct-of-fixed-arrays idiom the teacher uses elsewhere (compare
// tinfo.Tnote_t's plain bool fields rather than a state machine type).
// Handler-entry-point dispatch "pushes" the interrupted TrapFrame onto a
// per-process LIFO (State.saved) instead of onto the user stack the real
// biscuit ABI would use: this kernel model has no user-mode execution to
// fault into, so the simulated push/pop preserves the same invariant
// (sigreturn restores exactly the frame sigreturn's caller was entered
// with) without requiring a real stack-pointer ABI.
package sig

import (
	"github.com/cmelnulabs/riscvkern/internal/defs"
	"github.com/cmelnulabs/riscvkern/internal/trap"
)

// Disposition is what a process has asked to happen when a signal arrives.
type Disposition int

const (
	Default Disposition = iota
	Ignore
	User
)

// Handler is one entry of the 64-slot handler table.
type Handler struct {
	Kind  Disposition
	Entry uintptr // user entry point, valid only when Kind == User
	Mask  uint64  // sa_mask: signals blocked for the duration of the handler
	Flags uint32  // sa_flags, opaque to this package
}

// State is one process's signal state: which signals are pending,
// which are currently blocked, and how each of the 64 signals is
// disposed of. SIGKILL and SIGSTOP are neither blockable nor catchable,
// enforced at every mutation point rather than trusted to callers.
type State struct {
	Pending  uint64
	Blocked  uint64
	Handlers [65]Handler // index by Sig_t (1..64); index 0 unused
	saved    []trap.TrapFrame
	savedBlocked []uint64 // Blocked at each Deliver, popped by Return
}

func bit(s defs.Sig_t) uint64 { return 1 << uint(s-1) }

func isUncatchable(s defs.Sig_t) bool {
	return s == defs.SIGKILL || s == defs.SIGSTOP
}

// SetHandler installs disp for signal s, refusing SIGKILL/SIGSTOP.
func (st *State) SetHandler(s defs.Sig_t, disp Disposition, entry uintptr, mask uint64, flags uint32) defs.Err_t {
	if s < 1 || s > defs.NSIG {
		return defs.EINVAL
	}
	if isUncatchable(s) && disp != Default {
		return defs.EINVAL
	}
	st.Handlers[s] = Handler{Kind: disp, Entry: entry, Mask: mask, Flags: flags}
	return 0
}

// Block adds mask to the blocked set, masking off SIGKILL/SIGSTOP's bits
// so they stay deliverable regardless of what the caller asked to block.
func (st *State) Block(mask uint64) {
	st.Blocked |= mask &^ (bit(defs.SIGKILL) | bit(defs.SIGSTOP))
}

// Unblock clears mask from the blocked set.
func (st *State) Unblock(mask uint64) {
	st.Blocked &^= mask
}

// Raise marks s pending on st, unless its disposition is Ignore — SIGKILL
// and SIGSTOP always get marked, since "ignored" isn't a legal
// disposition for them and Raise is the only gate before delivery.
func (st *State) Raise(s defs.Sig_t) defs.Err_t {
	if s < 1 || s > defs.NSIG {
		return defs.EINVAL
	}
	if !isUncatchable(s) && st.Handlers[s].Kind == Ignore {
		return 0
	}
	st.Pending |= bit(s)
	return 0
}

// Clear removes s from the pending set (sigreturn, or handler completion
// under SA_RESETHAND-equivalent bookkeeping done by the caller).
func (st *State) Clear(s defs.Sig_t) {
	st.Pending &^= bit(s)
}

// Deliverable reports whether a pending, unblocked signal is waiting, and
// if so which one (lowest-numbered first, matching the teacher's
// lowest-index-wins convention elsewhere, e.g. hashtable bucket scan
// order). SIGKILL and SIGSTOP short-circuit any blocked bit.
func (st *State) Deliverable() (defs.Sig_t, bool) {
	ready := st.Pending &^ st.Blocked
	ready |= st.Pending & (bit(defs.SIGKILL) | bit(defs.SIGSTOP))
	if ready == 0 {
		return 0, false
	}
	for s := defs.Sig_t(1); s <= defs.NSIG; s++ {
		if ready&bit(s) != 0 {
			return s, true
		}
	}
	return 0, false
}

// Deliver begins handling signal s against the interrupted frame tf: it
// saves a copy of tf for sigreturn to restore, clears s from pending,
// applies the handler's sa_mask to Blocked for the handler's duration,
// and redirects tf to the handler entry point with a0 = signal number.
// Callers must have already checked st.Handlers[s].Kind == User; Default
// and Ignore dispositions are handled by the caller (internal/kernel's
// deliverOrKill), which terminates/stops/ignores without ever calling
// Deliver.
func (st *State) Deliver(s defs.Sig_t, tf *trap.TrapFrame) {
	st.saved = append(st.saved, *tf)
	st.savedBlocked = append(st.savedBlocked, st.Blocked)
	st.Clear(s)
	st.Block(st.Handlers[s].Mask)

	tf.Sepc = uint64(st.Handlers[s].Entry)
	tf.SetA(0, uint64(s))
}

// Return pops the most recently saved frame back into tf for the
// sigreturn syscall, restoring the blocked mask to what it was before
// Deliver ran. It reports ok=false if no handler invocation is in
// progress (a stray sigreturn call).
func (st *State) Return(tf *trap.TrapFrame) bool {
	n := len(st.saved)
	if n == 0 {
		return false
	}
	*tf = st.saved[n-1]
	st.saved = st.saved[:n-1]
	st.Blocked = st.savedBlocked[n-1]
	st.savedBlocked = st.savedBlocked[:n-1]
	return true
}

// InHandler reports whether a signal handler invocation is currently
// pushed (unreturned), for diagnostics and tests.
func (st *State) InHandler() bool {
	return len(st.saved) > 0
}
