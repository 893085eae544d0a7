// Package vm implements the Sv39 page-table engine (spec.md §3, §4.C): per-
// process address spaces, the kernel/user half split at top-level indices
// {0,1} (user) / {2..511} (kernel), page-table lifecycle with the
// shared-kernel-entry discipline, and the user-pointer access helpers SYS
// needs for the trust boundary.
//
// Grounded on the teacher's vm.Vm_t (amd64, 4-level, COW-aware): the walk/
// map/unmap skeleton, the Userdmap8/Userstr/Userreadn/Userwriten/K2user/
// User2k helpers, and the page-fault-adjacent locking discipline
// (Lock_pmap/Unlock_pmap/Lockassert_pmap) are carried over in spirit, but
// re-leveled from 4 levels to Sv39's 3, with COW, shared-file mappings, and
// multi-CPU TLB shootdown removed per this spec's Non-goals (COW, SMP).
package vm

import (
	"unsafe"

	"github.com/cmelnulabs/riscvkern/internal/pmm"
)

// PTE is a single Sv39 page-table entry.
type PTE = uint64

// Page-table entry flag bits (RV64 Sv39).
const (
	PTE_V PTE = 1 << 0
	PTE_R PTE = 1 << 1
	PTE_W PTE = 1 << 2
	PTE_X PTE = 1 << 3
	PTE_U PTE = 1 << 4
	PTE_G PTE = 1 << 5
	PTE_A PTE = 1 << 6
	PTE_D PTE = 1 << 7

	ppnShift = 10
)

// KERNEL_VIRT_BASE is the architectural boundary between user and kernel
// virtual addresses (spec.md §6 "Memory map").
const KERNEL_VIRT_BASE uintptr = 0x80000000

// Root identifies a process's (or the kernel's) top-level Sv39 page table
// by the physical frame holding it.
type Root pmm.Pa_t

// ErrKind enumerates the VM failure taxonomy of spec.md §4.C.
type ErrKind int

const (
	ErrNone ErrKind = iota
	ErrOOM
	ErrAlreadyMapped
	ErrNotMapped
	ErrMisaligned
)

func (e ErrKind) Error() string {
	switch e {
	case ErrOOM:
		return "vm: out of memory for page table"
	case ErrAlreadyMapped:
		return "vm: address already mapped"
	case ErrNotMapped:
		return "vm: address not mapped"
	case ErrMisaligned:
		return "vm: misaligned address"
	default:
		return "vm: no error"
	}
}

// Engine owns the physical frame source and the single global kernel root
// whose upper-half entries every process root borrows by reference.
type Engine struct {
	pmm        *pmm.PMM
	kernelRoot Root
	active     Root
	flushes    int // count of TLB-affecting operations, for test observation
}

func pageView(b []byte) *[512]PTE {
	return (*[512]PTE)(unsafe.Pointer(&b[0]))
}

func ppnEncode(pa pmm.Pa_t) PTE {
	return PTE(pa>>pmm.PGSHIFT) << ppnShift
}

func ppnDecode(pte PTE) pmm.Pa_t {
	return pmm.Pa_t(pte>>ppnShift) << pmm.PGSHIFT
}

func vpn(va uintptr, level int) int {
	shift := 12 + 9*level
	return int((va >> uint(shift)) & 0x1ff)
}

// NewEngine constructs the VM engine and its single global kernel root.
func NewEngine(p *pmm.PMM) *Engine {
	kr, ok := p.AllocFrames(1)
	if !ok {
		panic("vm: cannot allocate kernel root page table")
	}
	return &Engine{pmm: p, kernelRoot: Root(kr)}
}

// KernelRoot returns the single shared kernel root.
func (e *Engine) KernelRoot() Root {
	return e.kernelRoot
}

// MapKernel installs a mapping in the shared kernel half (top-level indices
// 2-511), visible to every process root that borrows it by reference — used
// at boot to identity-map the kernel image and the MMIO windows spec.md §6
// requires stay reachable after any process root is activated.
func (e *Engine) MapKernel(va uintptr, pa pmm.Pa_t, flags PTE) error {
	if vpn(va, 2) < 2 {
		panic("vm: MapKernel called with a user-half address")
	}
	return e.mapIn(e.kernelRoot, va, pa, flags)
}

// CreateUserRoot allocates a fresh root page table, leaving the user half
// (indices 0-1) zeroed and pointer-copying the kernel half (indices 2-511)
// from the global kernel root, per spec.md §4.C.
func (e *Engine) CreateUserRoot() Root {
	rp, ok := e.pmm.AllocFrames(1)
	if !ok {
		panic("vm: out of memory creating user root")
	}
	nt := pageView(e.pmm.Dmap(rp))
	kt := pageView(e.pmm.Dmap(pmm.Pa_t(e.kernelRoot)))
	for i := 2; i < 512; i++ {
		nt[i] = kt[i]
	}
	return Root(rp)
}

// FreeUserRoot recursively frees every intermediate and leaf table rooted
// at indices 0-1 of root, and then the root page itself. It never descends
// into indices 2-511: this is, per spec.md §4.C/§9, the single most
// important correctness invariant of this subsystem.
func (e *Engine) FreeUserRoot(root Root) {
	rt := pageView(e.pmm.Dmap(pmm.Pa_t(root)))
	for i := 0; i < 2; i++ {
		ent := rt[i]
		if ent&PTE_V == 0 {
			continue
		}
		l1 := ppnDecode(ent)
		e.freeLevel1(l1)
		e.pmm.FreeFrame(l1)
		rt[i] = 0
	}
	e.pmm.FreeFrame(pmm.Pa_t(root))
}

func (e *Engine) freeLevel1(l1pa pmm.Pa_t) {
	l1 := pageView(e.pmm.Dmap(l1pa))
	for j := 0; j < 512; j++ {
		ent := l1[j]
		if ent&PTE_V == 0 {
			continue
		}
		l0 := ppnDecode(ent)
		e.freeLevel0(l0)
		e.pmm.FreeFrame(l0)
	}
}

func (e *Engine) freeLevel0(l0pa pmm.Pa_t) {
	l0 := pageView(e.pmm.Dmap(l0pa))
	for k := 0; k < 512; k++ {
		ent := l0[k]
		if ent&PTE_V == 0 {
			continue
		}
		leaf := ppnDecode(ent)
		e.pmm.FreeFrame(leaf)
	}
}

// walk descends the three Sv39 levels, allocating intermediate tables
// (V=1, R=W=X=0) on the way down when alloc is true and an entry is
// absent, and returns a pointer to the level-0 (leaf) entry for va.
func (e *Engine) walk(root Root, va uintptr, alloc bool) (*PTE, error) {
	if va&0xfff != 0 {
		return nil, ErrMisaligned
	}
	cur := pmm.Pa_t(root)
	for level := 2; level > 0; level-- {
		table := pageView(e.pmm.Dmap(cur))
		idx := vpn(va, level)
		ent := &table[idx]
		if *ent&PTE_V == 0 {
			if !alloc {
				return nil, ErrNotMapped
			}
			np, ok := e.pmm.AllocFrames(1)
			if !ok {
				return nil, ErrOOM
			}
			*ent = ppnEncode(np) | PTE_V
		}
		cur = ppnDecode(*ent)
	}
	table := pageView(e.pmm.Dmap(cur))
	idx := vpn(va, 0)
	return &table[idx], nil
}

func (e *Engine) mapIn(root Root, va uintptr, pa pmm.Pa_t, flags PTE) error {
	if pa&0xfff != 0 {
		return ErrMisaligned
	}
	pte, err := e.walk(root, va, true)
	if err != nil {
		return err
	}
	if *pte&PTE_V != 0 {
		return ErrAlreadyMapped
	}
	*pte = ppnEncode(pa) | flags | PTE_V
	e.flushVA(va)
	return nil
}

// Map installs pa at va in root with the given leaf flags (which must
// include at least one of R/W/X). A leaf already present at va is refused:
// spec.md §4.C requires a prior Unmap for idempotent re-mapping.
func (e *Engine) Map(root Root, va uintptr, pa pmm.Pa_t, flags PTE) error {
	if flags&(PTE_R|PTE_W|PTE_X) == 0 {
		panic("vm: leaf mapping must carry at least one of R/W/X")
	}
	return e.mapIn(root, va, pa, flags)
}

// MapAnon allocates a fresh zeroed frame from the engine's PMM and maps it
// at va, for anonymous mappings: process heap/stack growth and a fresh
// PT_LOAD segment's backing pages during exec.
func (e *Engine) MapAnon(root Root, va uintptr, flags PTE) (pmm.Pa_t, error) {
	pa, ok := e.pmm.AllocFrames(1)
	if !ok {
		return 0, ErrOOM
	}
	if err := e.Map(root, va, pa, flags); err != nil {
		e.pmm.FreeFrame(pa)
		return 0, err
	}
	return pa, nil
}

// Populate copies data into the physical frame backing va, bypassing the
// write-permission check Userwriten enforces — used by internal/elfload to
// fill a freshly mapped PT_LOAD segment before the process's first
// instruction runs, including into read-only (.text/.rodata) segments that
// carry no PTE_W bit.
func (e *Engine) Populate(root Root, va uintptr, data []byte) error {
	pa, err := e.Translate(root, va)
	if err != nil {
		return err
	}
	frame := e.pmm.Dmap(pa)
	off := int(va % uintptr(pmm.PGSIZE))
	copy(frame[off:], data)
	return nil
}

// Unmap removes the mapping at va in root.
func (e *Engine) Unmap(root Root, va uintptr) error {
	pte, err := e.walk(root, va, false)
	if err != nil {
		return err
	}
	if *pte&PTE_V == 0 {
		return ErrNotMapped
	}
	*pte = 0
	e.flushVA(va)
	return nil
}

// UnmapAnon is Unmap plus freeing the backing frame back to the PMM, the
// counterpart to MapAnon — used by munmap and by a failed multi-page
// MapAnon loop (e.g. exec's PT_LOAD mapping) unwinding pages it already
// installed.
func (e *Engine) UnmapAnon(root Root, va uintptr) error {
	pa, err := e.Translate(root, va)
	if err != nil {
		return err
	}
	if err := e.Unmap(root, va); err != nil {
		return err
	}
	e.pmm.FreeFrame(pa)
	return nil
}

// Translate resolves va to its mapped physical address under root.
func (e *Engine) Translate(root Root, va uintptr) (pmm.Pa_t, error) {
	pte, err := e.walk(root, va&^0xfff, false)
	if err != nil {
		return 0, err
	}
	if *pte&PTE_V == 0 {
		return 0, ErrNotMapped
	}
	off := pmm.Pa_t(va & 0xfff)
	return ppnDecode(*pte) + off, nil
}

// LeafFlags returns the permission bits (plus V) of the leaf mapped at va,
// for spec.md §8 property 3 ("the leaf carries exactly the requested
// permission bits plus V").
func (e *Engine) LeafFlags(root Root, va uintptr) (PTE, error) {
	pte, err := e.walk(root, va, false)
	if err != nil {
		return 0, err
	}
	if *pte&PTE_V == 0 {
		return 0, ErrNotMapped
	}
	return *pte &^ (PTE(ppnMask)), nil
}

const ppnMask = ^uint64(0x3ff) // cleared to isolate flag bits below PPN

// TlbFlush invalidates va (ALL=true flushes everything). There is no real
// MMU behind this model, so this records the operation for the "TLB is
// flushed after every structural mutation" invariant (spec.md §3, §5)
// rather than issuing a hardware sfence.vma.
func (e *Engine) TlbFlush(all bool) {
	e.flushes++
}

func (e *Engine) flushVA(va uintptr) {
	e.flushes++
}

// Flushes reports how many TLB-affecting operations have occurred, for
// tests asserting the "flush after every mutation" invariant.
func (e *Engine) Flushes() int {
	return e.flushes
}

// Activate installs root as the currently active address space and issues
// a global TLB flush, per spec.md §4.C.
func (e *Engine) Activate(root Root) {
	e.active = root
	e.TlbFlush(true)
}

// Active returns the currently activated root.
func (e *Engine) Active() Root {
	return e.active
}

// KernelHalfBytes returns a snapshot of the shared kernel-half entries
// (indices 2-511) of root, for the "kernel-half sharing" invariant
// (spec.md §8 property 4: byte-equal before and after FreeUserRoot).
func (e *Engine) KernelHalfBytes(root Root) []PTE {
	t := pageView(e.pmm.Dmap(pmm.Pa_t(root)))
	out := make([]PTE, 510)
	copy(out, t[2:])
	return out
}
