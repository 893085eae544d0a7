// Package caller provides call-stack diagnostics used when a trap or
// syscall handler hits an unrecoverable condition, carried from the
// teacher's caller package.
package caller

import (
	"fmt"
	"runtime"
	"sync"
)

// Dump formats the call stack starting at the given skip depth, for
// inclusion in a panic/SIGSEGV diagnostic dump (SPEC_FULL.md §12).
func Dump(skip int) string {
	i := skip
	s := ""
	for {
		_, f, l, ok := runtime.Caller(i)
		if !ok {
			break
		}
		i++
		if s == "" {
			s = fmt.Sprintf("%s:%d\n", f, l)
		} else {
			s += fmt.Sprintf("\t<-%s:%d\n", f, l)
		}
	}
	return s
}

// DistinctCaller tracks whether a given call chain has been reported
// before, so a hot trap path (e.g. a repeated SIGSEGV from the same
// instruction) logs once instead of flooding the console.
type DistinctCaller struct {
	sync.Mutex
	Enabled bool
	seen    map[uintptr]bool
}

func (dc *DistinctCaller) hash(pcs []uintptr) uintptr {
	var ret uintptr
	for _, pc := range pcs {
		pc = pc*1103515245 + 12345
		ret ^= pc
	}
	return ret
}

// Seen returns the stack trace the first time a call chain is observed,
// and "", false on every subsequent occurrence of the same chain.
func (dc *DistinctCaller) Seen() (string, bool) {
	dc.Lock()
	defer dc.Unlock()
	if !dc.Enabled {
		return "", false
	}
	if dc.seen == nil {
		dc.seen = make(map[uintptr]bool)
	}
	pcs := make([]uintptr, 30)
	got := runtime.Callers(3, pcs)
	if got == 0 {
		return "", false
	}
	pcs = pcs[:got]
	h := dc.hash(pcs)
	if dc.seen[h] {
		return "", false
	}
	dc.seen[h] = true
	frames := runtime.CallersFrames(pcs)
	out := ""
	for {
		fr, more := frames.Next()
		if out == "" {
			out = fmt.Sprintf("%s (%s:%d)\n", fr.Function, fr.File, fr.Line)
		} else {
			out += fmt.Sprintf("\t%s (%s:%d)\n", fr.Function, fr.File, fr.Line)
		}
		if !more || fr.Function == "runtime.goexit" {
			break
		}
	}
	return out, true
}

// Count reports how many distinct call chains have been recorded.
func (dc *DistinctCaller) Count() int {
	dc.Lock()
	defer dc.Unlock()
	return len(dc.seen)
}
