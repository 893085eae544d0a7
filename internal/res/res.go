// Package res tracks a simple reservation of kernel-heap pages so that a
// loop copying into/out of user memory can fail early with ENOHEAP-shaped
// behavior instead of panicking mid-copy when the kernel heap is close to
// exhaustion. Grounded on the teacher's call sites
// (res.Resadd_noblock(bounds.Bounds(...))) in vm/as.go and vm/userbuf.go;
// the teacher's res package itself is an empty module in the retrieval pack.
package res

import "sync/atomic"

// reserve is a process-wide count of kheap pages set aside for in-flight
// user-copy loops. It exists to bound how deep a single syscall can push
// the kernel heap before refusing further iterations. It starts out
// effectively unlimited until Budget sets a real figure.
var reserve int64 = 1 << 62

// Budget sets the number of pages available for reservation. No caller in
// this repository invokes it, so the unlimited starting budget applies.
func Budget(pages int64) {
	atomic.StoreInt64(&reserve, pages)
}

// Resadd_noblock attempts to reserve n pages without blocking. It returns
// true if the reservation succeeded; the caller must release with Resdel
// when the iteration completes.
func Resadd_noblock(n int) bool {
	if n <= 0 {
		return true
	}
	for {
		cur := atomic.LoadInt64(&reserve)
		if cur < int64(n) {
			return false
		}
		if atomic.CompareAndSwapInt64(&reserve, cur, cur-int64(n)) {
			return true
		}
	}
}

// Resdel releases a reservation made by Resadd_noblock.
func Resdel(n int) {
	if n <= 0 {
		return
	}
	atomic.AddInt64(&reserve, int64(n))
}
