// Package kstats implements the profiling pseudo-device behind
// defs.D_PROF: a read-only fd that serializes scheduler tick histograms
// and kernel-heap allocation counts as a pprof profile, so the numbers
// this kernel already tracks internally (internal/proc's per-pid tick
// counters, internal/kheap's live-allocation count) are inspectable with
// the same `go tool pprof` a Go server operator already reaches for
// against /debug/pprof.
//
// No teacher file implements this — biscuit's defs.device.go carries the
// D_PROF constant but the distillation never wired it to a concrete
// device — so the fdops.Fdops_i shape here is grounded on internal/fs's
// ttyFile/dirFile pattern (a fixed-identity pseudo-file, not a real
// inode) rather than on any teacher profiling code.
package kstats

import (
	"bytes"
	"sort"

	"github.com/cmelnulabs/riscvkern/internal/defs"
	"github.com/cmelnulabs/riscvkern/internal/fdops"
	"github.com/cmelnulabs/riscvkern/internal/kheap"
	"github.com/cmelnulabs/riscvkern/internal/proc"
	"github.com/cmelnulabs/riscvkern/internal/stat"
	"github.com/google/pprof/profile"
)

// Device is the D_PROF pseudo-device: opening it and reading produces a
// fresh gzip-encoded pprof snapshot of the kernel's internal counters.
type Device struct {
	procs *proc.Table
	heap  *kheap.KHEAP
}

// New binds a profiling device to the subsystems it reports on.
func New(procs *proc.Table, heap *kheap.KHEAP) *Device {
	return &Device{procs: procs, heap: heap}
}

// Snapshot builds a pprof profile.Profile out of the current tick
// histogram and kheap allocation count. Every sample carries zero
// Locations: there is no call-stack symbolication in this model, only
// the two labeled counters spec.md §12 calls for.
func (d *Device) Snapshot() *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "ticks", Unit: "count"},
			{Type: "kheap_allocs", Unit: "count"},
		},
		PeriodType: &profile.ValueType{Type: "ticks", Unit: "count"},
		Period:     1,
	}

	hist := d.procs.TickHistogram()
	pids := make([]defs.Pid_t, 0, len(hist))
	for pid := range hist {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })

	for _, pid := range pids {
		p.Sample = append(p.Sample, &profile.Sample{
			Value: []int64{int64(hist[pid]), 0},
			Label: map[string][]string{"pid": {pidLabel(pid)}},
		})
	}

	p.Sample = append(p.Sample, &profile.Sample{
		Value: []int64{0, int64(d.heap.AllocCount())},
		Label: map[string][]string{"kind": {"kheap"}},
	})

	return p
}

func pidLabel(pid defs.Pid_t) string {
	// avoids pulling in strconv solely for this; spec.md's pid range
	// (0..MaxProcs) never exceeds a handful of decimal digits.
	if pid == 0 {
		return "0"
	}
	neg := pid < 0
	if neg {
		pid = -pid
	}
	var buf [20]byte
	i := len(buf)
	for pid > 0 {
		i--
		buf[i] = byte('0' + pid%10)
		pid /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Read serializes a fresh snapshot into dst, ignoring any offset state —
// every read of this pseudo-file returns a brand new snapshot from
// scratch, matching /debug/pprof's "each GET is a fresh profile"
// semantics rather than a seekable byte stream.
func (d *Device) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	var buf bytes.Buffer
	if err := d.Snapshot().Write(&buf); err != nil {
		return 0, defs.EFAULT
	}
	n, werr := dst.Uiowrite(buf.Bytes())
	return n, werr
}

func (d *Device) Write(fdops.Userio_i) (int, defs.Err_t) { return 0, defs.EBADF }
func (d *Device) Close() defs.Err_t                      { return 0 }
func (d *Device) Reopen() defs.Err_t                      { return 0 }
func (d *Device) Lseek(int, int) (int, defs.Err_t)        { return 0, defs.ESPIPE }

func (d *Device) Fstat(statBuf []byte) defs.Err_t {
	var st stat.Stat_t
	st.Wmode(stat.S_IFCHR)
	copy(statBuf, st.Bytes())
	return 0
}

func (d *Device) Pathi() (int, bool) { return defs.D_PROF, false }
