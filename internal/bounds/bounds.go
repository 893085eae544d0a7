// Package bounds names the call sites that must reserve kernel resources
// before looping over user memory. The teacher's own bounds package in the
// retrieval pack is an empty module — its call sites in vm/as.go and
// vm/userbuf.go ("gimme := bounds.Bounds(bounds.B_ASPACE_T_K2USER_INNER)")
// are the grounding for the tag enumeration reconstructed here.
package bounds

// Tag identifies a call site that reserves kernel resources per loop
// iteration, so a reservation failure can be attributed to a specific path
// when diagnosing kheap exhaustion.
type Tag int

const (
	B_ASPACE_T_K2USER_INNER Tag = iota
	B_ASPACE_T_USER2K_INNER
	B_USERBUF_T__TX
	B_USERIOVEC_T_IOV_INIT
	B_USERIOVEC_T__TX
)

// reservation is the number of kheap pages a single iteration under this
// tag may need in the worst case: one page for the destination mapping, one
// for an intermediate page-table allocation if the walk must extend.
const reservation = 2

// Bounds returns the page reservation required per iteration for the call
// site identified by tag.
func Bounds(tag Tag) int {
	return reservation
}
