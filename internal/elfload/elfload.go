// Package elfload implements the static-ELF loader execve uses to build a
// fresh process image (spec.md §4.F): validate the header, map each
// PT_LOAD segment as its own VMA, and copy in its file-backed bytes.
//
// Grounded on the teacher's chentry.go (kernel/chentry.go), the one ELF-
// aware file surviving in the pack, which validates an ELF64 little-endian
// EM_X86_64 executable header before patching its entry point; this
// package reuses that same validation shape (magic, class, machine, type)
// but checks for EM_RISCV instead of EM_X86_64, and extends it from a
// header-only rewrite into full PT_LOAD segment mapping, since chentry's
// job is a one-field patch and this loader's job is bringing an entire
// address space into existence.
package elfload

import (
	"debug/elf"
	"io"

	"github.com/cmelnulabs/riscvkern/internal/defs"
	"github.com/cmelnulabs/riscvkern/internal/pmm"
	"github.com/cmelnulabs/riscvkern/internal/vm"
)

// Image describes the address-space layout execve should install in the
// process control block after a successful load.
type Image struct {
	Entry    uintptr
	BrkStart uintptr // first byte past the highest PT_LOAD segment, page-aligned
}

func alignDown(v uintptr) uintptr { return v &^ uintptr(pmm.PGSIZE-1) }
func alignUp(v uintptr) uintptr   { return alignDown(v+uintptr(pmm.PGSIZE)-1) }

func permFlags(p elf.ProgFlag) vm.PTE {
	var f vm.PTE = vm.PTE_U
	if p&elf.PF_R != 0 {
		f |= vm.PTE_R
	}
	if p&elf.PF_W != 0 {
		f |= vm.PTE_W
	}
	if p&elf.PF_X != 0 {
		f |= vm.PTE_X
	}
	return f
}

// Load validates r as a static RV64 executable and maps its PT_LOAD
// segments into root through e, returning the entry point and the address
// execve should start the heap at.
func Load(e *vm.Engine, root vm.Root, r io.ReaderAt) (*Image, defs.Err_t) {
	f, ferr := elf.NewFile(r)
	if ferr != nil {
		return nil, defs.EELF_MAGIC
	}
	if f.Class != elf.ELFCLASS64 {
		return nil, defs.EELF_CLASS
	}
	if f.Machine != elf.EM_RISCV {
		return nil, defs.EELF_MACH
	}
	if f.Type != elf.ET_EXEC {
		return nil, defs.EELF_TYPE
	}

	var brk uintptr
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		flags := permFlags(prog.Flags)
		start := alignDown(uintptr(prog.Vaddr))
		end := alignUp(uintptr(prog.Vaddr) + uintptr(prog.Memsz))

		seg := make([]byte, prog.Memsz)
		if prog.Filesz > 0 {
			if _, err := io.ReadFull(io.NewSectionReader(r, int64(prog.Off), int64(prog.Filesz)), seg[:prog.Filesz]); err != nil {
				return nil, defs.EELF_TYPE
			}
		}

		for va := start; va < end; va += uintptr(pmm.PGSIZE) {
			if _, err := e.MapAnon(root, va, flags); err != nil {
				return nil, defs.ENOMEM
			}
			// writeAt handles a Vaddr that isn't itself page-aligned: the
			// segment's first byte belongs partway into this page.
			writeAt := 0
			segOff := int64(va) - int64(prog.Vaddr)
			if segOff < 0 {
				writeAt = int(-segOff)
				segOff = 0
			}
			if segOff >= int64(len(seg)) {
				continue
			}
			segEnd := segOff + int64(pmm.PGSIZE-writeAt)
			if segEnd > int64(len(seg)) {
				segEnd = int64(len(seg))
			}
			if segEnd <= segOff {
				continue
			}
			if err := e.Populate(root, va+uintptr(writeAt), seg[segOff:segEnd]); err != nil {
				return nil, defs.EFAULT
			}
		}
		if end > brk {
			brk = end
		}
	}
	return &Image{Entry: uintptr(f.Entry), BrkStart: brk}, 0
}
