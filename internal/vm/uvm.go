package vm

import (
	"github.com/cmelnulabs/riscvkern/internal/bounds"
	"github.com/cmelnulabs/riscvkern/internal/defs"
	"github.com/cmelnulabs/riscvkern/internal/res"
)

// user-pointer helpers, grounded on the teacher's vm.Userdmap8_inner /
// Userstr / Userreadn / Userwriten / K2user_inner / User2k_inner: these are
// the only sanctioned crossing points of the kernel/user trust boundary,
// copying a page at a time through a page-table walk plus Dmap
// (Userdmap8) rather than trusting a
// raw user virtual address.

const maxUstrLen = 4096

// Userdmap8 translates one page of user virtual memory at va (rounded down
// to the containing page) under root and returns the live backing bytes —
// analogous to Userdmap8_inner, which maps a single user page into the
// kernel's direct map.
func (e *Engine) Userdmap8(root Root, va uintptr, write bool) ([]byte, error) {
	base := va &^ 0xfff
	pte, err := e.walk(root, base, false)
	if err != nil {
		return nil, err
	}
	if *pte&PTE_V == 0 || *pte&PTE_U == 0 {
		return nil, ErrNotMapped
	}
	if write && *pte&PTE_W == 0 {
		return nil, defs.EFAULT
	}
	pa := ppnDecode(*pte)
	return e.pmm.Dmap(pa), nil
}

// Userreadn copies n bytes starting at user address va (under root) into a
// freshly returned kernel byte slice, page by page, reserving kheap
// headroom per page via bounds/res before each page's copy — the same
// resource-reservation guard the teacher's Userreadn uses around
// Resadd_noblock/Resdel.
func (e *Engine) Userreadn(root Root, va uintptr, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		if !res.Resadd_noblock(bounds.Bounds(bounds.B_ASPACE_T_USER2K_INNER)) {
			return nil, defs.ENOHEAP
		}
		page, err := e.Userdmap8(root, va, false)
		res.Resdel(bounds.Bounds(bounds.B_ASPACE_T_USER2K_INNER))
		if err != nil {
			return nil, err
		}
		off := int(va & 0xfff)
		take := len(page) - off
		if take > n-len(out) {
			take = n - len(out)
		}
		out = append(out, page[off:off+take]...)
		va += uintptr(take)
	}
	return out, nil
}

// Userwriten copies src into user memory at va (under root), page by page,
// under the same reservation discipline as Userreadn.
func (e *Engine) Userwriten(root Root, va uintptr, src []byte) error {
	written := 0
	for written < len(src) {
		if !res.Resadd_noblock(bounds.Bounds(bounds.B_ASPACE_T_K2USER_INNER)) {
			return defs.ENOHEAP
		}
		page, err := e.Userdmap8(root, va, true)
		res.Resdel(bounds.Bounds(bounds.B_ASPACE_T_K2USER_INNER))
		if err != nil {
			return err
		}
		off := int(va & 0xfff)
		take := len(page) - off
		if take > len(src)-written {
			take = len(src) - written
		}
		copy(page[off:off+take], src[written:written+take])
		written += take
		va += uintptr(take)
	}
	return nil
}

// Userstr copies a NUL-terminated string of at most maxUstrLen bytes
// (exclusive of the NUL) starting at va, returning ENAMETOOLONG if no NUL
// is found within that bound — mirroring the teacher's Userstr.
func (e *Engine) Userstr(root Root, va uintptr) ([]byte, error) {
	out := make([]byte, 0, 64)
	for len(out) < maxUstrLen {
		page, err := e.Userdmap8(root, va, false)
		if err != nil {
			return nil, err
		}
		off := int(va & 0xfff)
		for _, b := range page[off:] {
			if b == 0 {
				return out, nil
			}
			out = append(out, b)
			if len(out) >= maxUstrLen {
				return nil, defs.ENAMETOOLONG
			}
		}
		va += uintptr(len(page) - off)
	}
	return nil, defs.ENAMETOOLONG
}

// K2user copies src from kernel memory into user memory at va under root —
// the kernel-to-user direction of the teacher's K2user_inner, used to
// deliver a sigframe or a syscall's output buffer.
func (e *Engine) K2user(root Root, va uintptr, src []byte) error {
	return e.Userwriten(root, va, src)
}

// User2k copies len(dst) bytes of user memory at va under root into dst,
// the user-to-kernel direction of the teacher's User2k_inner.
func (e *Engine) User2k(root Root, va uintptr, dst []byte) error {
	got, err := e.Userreadn(root, va, len(dst))
	if err != nil {
		return err
	}
	copy(dst, got)
	return nil
}
