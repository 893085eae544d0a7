// Package uart models the fixed-address 16550-alike console UART
// (spec.md §6, KERNEL_VIRT_BASE-relative MMIO window), FIFO-buffered for
// both directions. internal/fs dispatches fd 0/1/2 here.
//
// The line discipline runs incoming bytes through golang.org/x/text's
// UTF-8 decoder with unsupported-sequence replacement so a `cat`/`echo` of
// arbitrary byte content can never panic on an invalid rune — the teacher
// has no console UTF-8 handling of its own (its console I/O is raw bytes
// only), so this concern is grounded on the x/text stack itself rather
// than a teacher call site, per SPEC_FULL.md §11's domain-dependency
// wiring table.
package uart

import (
	"sync"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/cmelnulabs/riscvkern/internal/defs"
)

var sanitizer = encoding.ReplaceUnsupported(unicode.UTF8)

// SanitizeUTF8 repairs an arbitrary byte stream into valid UTF-8,
// replacing any invalid sequence with the Unicode replacement character
// rather than erroring or panicking.
func SanitizeUTF8(b []byte) []byte {
	out, _, err := transform.Bytes(sanitizer.NewDecoder(), b)
	if err != nil {
		// ReplaceUnsupported already repairs invalid input; a non-nil err
		// here means truncated multi-byte input at the end of the buffer,
		// which the caller will see more of on the next write.
		return b
	}
	return out
}

const fifoSize = 256

// UART is the console device: a write-side FIFO (kernel/user -> physical
// console) and a read-side FIFO (keyboard/host input -> kernel).
type UART struct {
	mu       sync.Mutex
	rx       []byte // bytes available to be read by the kernel
	txlog    []byte // bytes written out, retained for test observation
}

// New constructs an empty UART.
func New() *UART {
	return &UART{}
}

// Write sends src to the console, sanitizing it to valid UTF-8 first.
func (u *UART) Write(src []byte) (int, defs.Err_t) {
	u.mu.Lock()
	defer u.mu.Unlock()
	clean := SanitizeUTF8(src)
	u.txlog = append(u.txlog, clean...)
	return len(src), 0
}

// Read drains up to len(dst) bytes of pending input into dst. Returns
// EAGAIN if no input is currently queued, matching this kernel's
// non-blocking console read contract.
func (u *UART) Read(dst []byte) (int, defs.Err_t) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.rx) == 0 {
		return 0, defs.EAGAIN
	}
	n := copy(dst, u.rx)
	u.rx = u.rx[n:]
	return n, 0
}

// Feed injects bytes as if typed at the host console, for tests and for
// cmd/shell's interactive loop.
func (u *UART) Feed(b []byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.rx)+len(b) > fifoSize {
		b = b[:fifoSize-len(u.rx)]
	}
	u.rx = append(u.rx, b...)
}

// Output returns everything written to the console so far, for tests.
func (u *UART) Output() []byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]byte, len(u.txlog))
	copy(out, u.txlog)
	return out
}
