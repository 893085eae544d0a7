// Package kheap implements the kernel's variable-size allocator: a
// header-tagged run of physical frames obtained from internal/pmm
// (spec.md §3 "Kernel allocation block", §4.B).
//
// Since this module models a single-hart kernel rather than a linked
// freestanding binary, "physical frames" and "kernel virtual addresses" are
// the same flat Go-heap-backed address space: internal/pmm hands out frame
// identities, and kheap keeps the bytes for each live allocation in a map
// keyed by that identity, matching the teacher's frame-header-pointer idiom
// without requiring an actual identity-mapped address space simulation.
package kheap

import (
	"fmt"
	"sync"

	"github.com/cmelnulabs/riscvkern/internal/pmm"
)

const headerSize = 24
const magic = 0xDEADBEEF

// header mirrors spec.md §3's 24-byte kernel allocation block header.
type header struct {
	size   int
	frames int
	magic  uint32
}

// KHEAP is a kernel heap built on a PMM frame source.
type KHEAP struct {
	sync.Mutex
	pmm    *pmm.PMM
	blocks map[pmm.Pa_t]*block
}

type block struct {
	hdr  header
	data []byte
}

// New constructs a kernel heap drawing frames from p.
func New(p *pmm.PMM) *KHEAP {
	return &KHEAP{pmm: p, blocks: make(map[pmm.Pa_t]*block)}
}

// VA is the kernel's notion of a pointer returned by Kmalloc: the base
// physical frame of the allocation, offset past the header exactly as
// spec.md §4.B describes ("the returned pointer is header_base + 24").
type VA struct {
	base pmm.Pa_t
	kh   *KHEAP
}

// Valid reports whether va names a live allocation.
func (va VA) Valid() bool { return va.kh != nil }

// Bytes returns the slice backing this allocation's usable region (the
// portion after the header).
func (va VA) Bytes() []byte {
	va.kh.Lock()
	defer va.kh.Unlock()
	b, ok := va.kh.blocks[va.base]
	if !ok {
		panic("kheap: use after free")
	}
	return b.data[headerSize:]
}

// Kmalloc allocates size usable bytes, rounding up to whole frames.
// Returns the zero VA (Valid()==false) on allocation failure or when size
// is zero, per spec.md §4.B ("Zero-size allocations return null").
func (h *KHEAP) Kmalloc(size int) VA {
	if size <= 0 {
		return VA{}
	}
	total := size + headerSize
	frames := (total + pmm.PGSIZE - 1) / pmm.PGSIZE
	base, ok := h.pmm.AllocFrames(frames)
	if !ok {
		return VA{}
	}
	h.Lock()
	defer h.Unlock()
	b := &block{
		hdr:  header{size: size, frames: frames, magic: magic},
		data: make([]byte, frames*pmm.PGSIZE),
	}
	h.blocks[base] = b
	return VA{base: base, kh: h}
}

// KmallocAligned allocates size bytes aligned to align, which must divide
// pmm.PGSIZE evenly; larger alignments are rejected with an invalid VA, per
// spec.md §4.B.
func (h *KHEAP) KmallocAligned(size, align int) VA {
	if align > pmm.PGSIZE || pmm.PGSIZE%align != 0 {
		return VA{}
	}
	// every allocation here already starts on a frame boundary, which
	// satisfies any alignment that divides the frame size.
	return h.Kmalloc(size)
}

// Kfree releases an allocation. A zero VA is a documented no-op. A
// corrupted magic number is fatal: spec.md §4.B and §8 (property 2) both
// require this to trip the fatal path rather than silently corrupt memory.
func (h *KHEAP) Kfree(va VA) {
	if !va.Valid() {
		return
	}
	h.Lock()
	b, ok := h.blocks[va.base]
	if !ok {
		h.Unlock()
		panic("kheap: free of unknown block")
	}
	if b.hdr.magic != magic {
		h.Unlock()
		panic(fmt.Sprintf("kheap: corrupted header magic %#x at %#x", b.hdr.magic, va.base))
	}
	frames := b.hdr.frames
	delete(h.blocks, va.base)
	h.Unlock()
	h.pmm.FreeFrames(va.base, frames)
}

// CorruptMagic is a test hook exposing the header-integrity check of
// spec.md §8 property 2: mutating the magic and then calling Kfree must
// trip the fatal path.
func (h *KHEAP) CorruptMagic(va VA) {
	h.Lock()
	defer h.Unlock()
	b, ok := h.blocks[va.base]
	if !ok {
		panic("kheap: corrupt of unknown block")
	}
	b.hdr.magic = 0
}

// AllocCount reports the number of currently-live allocations, for
// internal/kstats' profiling device.
func (h *KHEAP) AllocCount() int {
	h.Lock()
	defer h.Unlock()
	return len(h.blocks)
}

// HeaderFields exposes the header contents for the header-integrity
// invariant test (spec.md §8 property 2): {requested_size, frame_count,
// magic}.
func (h *KHEAP) HeaderFields(va VA) (size, frames int, mag uint32) {
	h.Lock()
	defer h.Unlock()
	b, ok := h.blocks[va.base]
	if !ok {
		panic("kheap: header of unknown block")
	}
	return b.hdr.size, b.hdr.frames, b.hdr.magic
}
