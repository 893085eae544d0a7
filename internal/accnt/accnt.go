// Package accnt implements per-process CPU-time accounting, carried from
// the teacher's accnt package, and backs the SYS_GETRUSAGE supplemented
// feature (SPEC_FULL.md §12).
package accnt

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cmelnulabs/riscvkern/internal/util"
)

// Accnt_t accumulates user and system CPU time, in nanoseconds, for a
// single process.
type Accnt_t struct {
	Userns int64
	Sysns  int64
	sync.Mutex
}

// Utadd adds delta nanoseconds of user time.
func (a *Accnt_t) Utadd(delta int64) {
	atomic.AddInt64(&a.Userns, delta)
}

// Systadd adds delta nanoseconds of system time.
func (a *Accnt_t) Systadd(delta int64) {
	atomic.AddInt64(&a.Sysns, delta)
}

// Now returns the current time in nanoseconds, the clock source every
// accounting call anchors to.
func (a *Accnt_t) Now() int64 {
	return time.Now().UnixNano()
}

// Finish adds the elapsed time since inttime to the system-time counter,
// called when a syscall handler returns to the trap dispatcher.
func (a *Accnt_t) Finish(inttime int64) {
	a.Systadd(a.Now() - inttime)
}

// Add merges n's counters into a.
func (a *Accnt_t) Add(n *Accnt_t) {
	a.Lock()
	defer a.Unlock()
	a.Userns += atomic.LoadInt64(&n.Userns)
	a.Sysns += atomic.LoadInt64(&n.Sysns)
}

// ToRusage encodes the accounting record as a getrusage(2)-shaped byte
// buffer: two timeval pairs (user, then system), {sec int64, usec int64}
// each, matching the teacher's To_rusage layout.
func (a *Accnt_t) ToRusage() []byte {
	a.Lock()
	userns, sysns := a.Userns, a.Sysns
	a.Unlock()

	ret := make([]byte, 4*8)
	totv := func(nano int64) (int, int) {
		return int(nano / 1e9), int((nano % 1e9) / 1000)
	}
	off := 0
	s, us := totv(userns)
	util.Writen(ret, 8, off, s)
	off += 8
	util.Writen(ret, 8, off, us)
	off += 8
	s, us = totv(sysns)
	util.Writen(ret, 8, off, s)
	off += 8
	util.Writen(ret, 8, off, us)
	return ret
}
