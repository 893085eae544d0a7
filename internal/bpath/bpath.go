// Package bpath canonicalizes paths built from a process's cwd and a
// user-supplied path component. The teacher's own bpath package in the
// retrieval pack is an empty module (go.mod only) — it is referenced from
// fd.Cwd_t.Canonicalpath, which is the grounding for the behavior
// reconstructed here: collapse ".", "..", and repeated "/" the way any
// POSIX-ish path resolver does, without touching the filesystem (symlinks
// are out of scope for this kernel).
package bpath

import "github.com/cmelnulabs/riscvkern/internal/ustr"

// Canonicalize collapses "." and ".." components and repeated slashes in an
// absolute path, returning a new Ustr rooted at "/".
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	parts := split(p)
	var stack []ustr.Ustr
	for _, part := range parts {
		switch {
		case len(part) == 0:
			continue
		case ustr.Ustr(part).Isdot():
			continue
		case ustr.Ustr(part).Isdotdot():
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, part)
		}
	}
	if len(stack) == 0 {
		return ustr.MkUstrRoot()
	}
	ret := ustr.Ustr{}
	for _, part := range stack {
		ret = append(ret, '/')
		ret = append(ret, part...)
	}
	return ret
}

func split(p ustr.Ustr) []ustr.Ustr {
	var parts []ustr.Ustr
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			if i > start {
				parts = append(parts, p[start:i])
			}
			start = i + 1
		}
	}
	return parts
}

// Sanitize validates a path read from user memory against the maximum
// length the syscall surface accepts (spec.md §4.E: MAX_PATH = 4096).
func Sanitize(p ustr.Ustr, maxPath int) bool {
	return len(p) <= maxPath
}
