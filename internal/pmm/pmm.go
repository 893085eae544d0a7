// Package pmm is the physical memory manager: a bitmap allocator handing
// out F=4096-byte frames from a fixed RAM window (spec.md §3, §4.A).
//
// Grounded on the teacher's mem.Physmem_t, which instead keeps a
// refcounted free-list per page because biscuit supports copy-on-write
// fork; this spec's Non-goals exclude COW, so refcounting is dropped in
// favor of the plain one-bit-per-frame bitmap spec.md §3 calls for, while
// keeping the teacher's locking discipline (one embedded mutex, panics on
// invariant violation) and Pa_t/PGSHIFT/PGSIZE naming.
package pmm

import (
	"fmt"
	"sync"
)

// Pa_t represents a physical address.
type Pa_t uintptr

const (
	PGSHIFT uint  = 12
	PGSIZE  int   = 1 << PGSHIFT
	PGOFFSET Pa_t = 0xfff
	PGMASK   Pa_t = ^PGOFFSET
)

// PMM is the bitmap frame allocator over [start, start+n*PGSIZE).
type PMM struct {
	sync.Mutex
	start   Pa_t
	nframes int
	used    []uint64 // one bit per frame; 1 = used
	free    int
	backing []byte // frame contents, indexed by frame offset from start
}

// New constructs a PMM managing nframes frames of physical memory starting
// at start, which must be frame-aligned.
func New(start Pa_t, nframes int) *PMM {
	if start&PGOFFSET != 0 {
		panic("pmm: unaligned RAM start")
	}
	words := (nframes + 63) / 64
	p := &PMM{
		start:   start,
		nframes: nframes,
		used:    make([]uint64, words),
		free:    nframes,
		backing: make([]byte, nframes*PGSIZE),
	}
	return p
}

// Dmap returns the byte slice backing the frame at pa, analogous to the
// teacher's Physmem_t.Dmap direct-map helper: this module has no real MMU to
// map physical frames into a kernel virtual address, so frame content is
// addressed directly by physical identity instead.
func (p *PMM) Dmap(pa Pa_t) []byte {
	idx := p.frameIdx(pa)
	off := idx * PGSIZE
	return p.backing[off : off+PGSIZE]
}

// MarkUsed marks the frame at pa (and, with MarkRangeUsed, a run) as used at
// init time — for pre-marking the kernel image/BSS per spec.md §3.
func (p *PMM) MarkUsed(pa Pa_t) {
	p.Lock()
	defer p.Unlock()
	idx := p.frameIdx(pa)
	if !p.testBit(idx) {
		p.setBit(idx)
		p.free--
	}
}

// MarkRangeUsed marks n consecutive frames starting at pa as used.
func (p *PMM) MarkRangeUsed(pa Pa_t, n int) {
	for i := 0; i < n; i++ {
		p.MarkUsed(pa + Pa_t(i*PGSIZE))
	}
}

func (p *PMM) frameIdx(pa Pa_t) int {
	if pa < p.start {
		panic("pmm: address below managed window")
	}
	idx := int((pa - p.start) >> PGSHIFT)
	if idx >= p.nframes {
		panic("pmm: address above managed window")
	}
	return idx
}

func (p *PMM) testBit(idx int) bool {
	return p.used[idx/64]&(1<<uint(idx%64)) != 0
}

func (p *PMM) setBit(idx int) {
	p.used[idx/64] |= 1 << uint(idx%64)
}

func (p *PMM) clearBit(idx int) {
	p.used[idx/64] &^= 1 << uint(idx%64)
}

// AllocFrame hands out a single free frame, or ok=false if none remain.
func (p *PMM) AllocFrame() (pa Pa_t, ok bool) {
	p.Lock()
	defer p.Unlock()
	idx, found := p.firstFreeRun(1)
	if !found {
		return 0, false
	}
	p.setBit(idx)
	p.free--
	p.zero(idx, 1)
	return p.start + Pa_t(idx)<<PGSHIFT, true
}

// AllocFrames hands out n contiguous frames, or ok=false if no run of that
// length exists.
func (p *PMM) AllocFrames(n int) (pa Pa_t, ok bool) {
	if n <= 0 {
		panic("pmm: non-positive frame count")
	}
	p.Lock()
	defer p.Unlock()
	idx, found := p.firstFreeRun(n)
	if !found {
		return 0, false
	}
	for i := 0; i < n; i++ {
		p.setBit(idx + i)
	}
	p.free -= n
	p.zero(idx, n)
	return p.start + Pa_t(idx)<<PGSHIFT, true
}

func (p *PMM) zero(idx, n int) {
	off := idx * PGSIZE
	for i := range p.backing[off : off+n*PGSIZE] {
		p.backing[off+i] = 0
	}
}

// firstFreeRun scans for the first run of n consecutive zero bits.
// Linear first-fit, as spec.md §4.A requires.
func (p *PMM) firstFreeRun(n int) (int, bool) {
	run := 0
	start := -1
	for i := 0; i < p.nframes; i++ {
		if p.testBit(i) {
			run = 0
			start = -1
			continue
		}
		if start == -1 {
			start = i
		}
		run++
		if run == n {
			return start, true
		}
	}
	return 0, false
}

// FreeFrame releases a single frame back to the pool. O(1).
func (p *PMM) FreeFrame(pa Pa_t) {
	p.Lock()
	defer p.Unlock()
	idx := p.frameIdx(pa)
	if !p.testBit(idx) {
		panic("pmm: double free")
	}
	p.clearBit(idx)
	p.free++
}

// FreeFrames releases n contiguous frames starting at pa. O(n).
func (p *PMM) FreeFrames(pa Pa_t, n int) {
	for i := 0; i < n; i++ {
		p.FreeFrame(pa + Pa_t(i*PGSIZE))
	}
}

// Stats reports (total, free) frame counts.
func (p *PMM) Stats() (int, int) {
	p.Lock()
	defer p.Unlock()
	return p.nframes, p.free
}

func (p *PMM) String() string {
	total, free := p.Stats()
	return fmt.Sprintf("pmm: %d/%d frames free", free, total)
}
