// Package stat implements the kernel's stat(2) record, carried from the
// teacher's stat package.
package stat

import "unsafe"

// Stat_t mirrors the fields of a file's stat information that spec.md's
// SYS_STAT surface exposes.
type Stat_t struct {
	dev    uint
	ino    uint
	mode   uint
	size   uint
	rdev   uint
	mtime  uint
	blocks uint
}

func (st *Stat_t) Wdev(v uint)   { st.dev = v }
func (st *Stat_t) Wino(v uint)   { st.ino = v }
func (st *Stat_t) Wmode(v uint)  { st.mode = v }
func (st *Stat_t) Wsize(v uint)  { st.size = v }
func (st *Stat_t) Wrdev(v uint)  { st.rdev = v }
func (st *Stat_t) Wmtime(v uint) { st.mtime = v }

func (st *Stat_t) Dev() uint   { return st.dev }
func (st *Stat_t) Ino() uint   { return st.ino }
func (st *Stat_t) Mode() uint  { return st.mode }
func (st *Stat_t) Size() uint  { return st.size }
func (st *Stat_t) Rdev() uint  { return st.rdev }
func (st *Stat_t) Mtime() uint { return st.mtime }

// File type bits packed into the high byte of Mode, matching the subset of
// POSIX S_IF* this kernel distinguishes.
const (
	S_IFREG = 0x8000
	S_IFDIR = 0x4000
	S_IFCHR = 0x2000
)

// Bytes exposes the raw wire form of the structure for copying out to user
// memory via vm.K2user.
func (st *Stat_t) Bytes() []uint8 {
	const sz = unsafe.Sizeof(*st)
	sl := (*[sz]uint8)(unsafe.Pointer(st))
	out := make([]uint8, sz)
	copy(out, sl[:])
	return out
}
