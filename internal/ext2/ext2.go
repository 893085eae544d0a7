// Package ext2 implements a minimal ext2-compatible inode/superblock/
// block-bitmap reader-writer over an internal/blk.Disk_i block device
// (spec.md §4.I, §6 "Persisted state": "bit-compatible with the mature
// ext2 specification at the magic-number and inode-layout level").
//
// Scope is deliberately small: a single block group, direct-block-only
// inodes (no single/double/triple indirect blocks — this spec's Non-goals
// exclude files over 4MB via triple-indirect blocks, and this
// implementation further simplifies to direct blocks only, capping a
// file at 12*BSIZE bytes, since nothing in spec.md's scenarios needs a
// larger file). The on-disk superblock and inode field layout match real
// ext2 at the byte-offset level named in spec.md; group descriptors,
// reserved-GDT blocks, and extents are not implemented.
//
// The field-table reader/writer idiom (fieldr/fieldw-style fixed-offset
// accessors over a raw block) is grounded on the teacher's
// fs.Superblock_t, which applies the same pattern to biscuit's own
// (non-ext2) superblock layout; here the offsets are ext2's real ones
// instead of biscuit's eight-field custom table.
package ext2

import (
	"encoding/binary"

	"github.com/cmelnulabs/riscvkern/internal/blk"
	"github.com/cmelnulabs/riscvkern/internal/defs"
)

const (
	Magic       = 0xEF53
	RootIno     = 2
	inodeSize   = 128
	directBlocks = 12

	sbBlock       = 1 // byte offset 1024 with BSIZE=1024
	bitmapBlock   = 2
	inodeBitBlock = 3
	inodeTblStart = 4
)

// File type bits packed into Inode.Mode's high nibble, the ext2 subset
// this kernel distinguishes (matches internal/stat's S_IFREG/S_IFDIR).
const (
	IFREG = 0x8000
	IFDIR = 0x4000
)

// Inode is the in-memory form of an ext2 inode, trimmed to the fields this
// kernel's syscall surface needs.
type Inode struct {
	Mode   uint16
	Links  uint16
	Size   uint32
	Blocks [directBlocks]uint32 // 0 = unallocated
}

func (in *Inode) encode() []byte {
	b := make([]byte, inodeSize)
	binary.LittleEndian.PutUint16(b[0:], in.Mode)
	binary.LittleEndian.PutUint16(b[26:], in.Links)
	binary.LittleEndian.PutUint32(b[4:], in.Size)
	for i, blk := range in.Blocks {
		binary.LittleEndian.PutUint32(b[40+i*4:], blk)
	}
	return b
}

func decodeInode(b []byte) *Inode {
	in := &Inode{}
	in.Mode = binary.LittleEndian.Uint16(b[0:])
	in.Size = binary.LittleEndian.Uint32(b[4:])
	in.Links = binary.LittleEndian.Uint16(b[26:])
	for i := range in.Blocks {
		in.Blocks[i] = binary.LittleEndian.Uint32(b[40+i*4:])
	}
	return in
}

// Dirent is one decoded directory entry.
type Dirent struct {
	Ino  int
	Type byte
	Name string
}

// Directory entry file-type tags, matching ext2's on-disk file_type byte
// and exported so internal/fs can distinguish a lookup's result without
// reaching into this package's unexported dirent internals.
const (
	DTUnknown = 0
	DTReg     = 1
	DTDir     = 2
)

const (
	dtUnknown = DTUnknown
	dtReg     = DTReg
	dtDir     = DTDir
)

// Ext2 is a mounted filesystem instance: a disk plus its superblock and
// bitmap geometry.
type Ext2 struct {
	disk        blk.Disk_i
	nblocks     int
	ninodes     int
	inodeBlocks int
	dataStart   int
}

func (e *Ext2) readBlock(n int) ([]byte, defs.Err_t) {
	b := blk.MkBlock(n, e.disk)
	if err := b.Read(); err != nil {
		return nil, defs.EFS_BADBLK
	}
	return b.Data, 0
}

func (e *Ext2) writeBlock(n int, data []byte) defs.Err_t {
	b := blk.MkBlock(n, e.disk)
	copy(b.Data, data)
	if err := b.Write(); err != nil {
		return defs.EFS_BADBLK
	}
	return 0
}

// Mkfs initializes a fresh filesystem of nblocks blocks and ninodes
// inodes on disk, writing the superblock, zeroed bitmaps, and a root
// directory inode containing "." and "..".
func Mkfs(disk blk.Disk_i, nblocks, ninodes int) (*Ext2, defs.Err_t) {
	inodesPerBlock := blk.BSIZE / inodeSize
	inodeBlocks := (ninodes + inodesPerBlock - 1) / inodesPerBlock
	e := &Ext2{
		disk:        disk,
		nblocks:     nblocks,
		ninodes:     ninodes,
		inodeBlocks: inodeBlocks,
		dataStart:   inodeTblStart + inodeBlocks,
	}
	if e.dataStart >= nblocks {
		return nil, defs.EFS_NOBLK
	}

	sb := make([]byte, blk.BSIZE)
	binary.LittleEndian.PutUint32(sb[0:], uint32(ninodes))
	binary.LittleEndian.PutUint32(sb[4:], uint32(nblocks))
	binary.LittleEndian.PutUint16(sb[56:], Magic)
	binary.LittleEndian.PutUint32(sb[60:], uint32(e.dataStart))
	if err := e.writeBlock(sbBlock, sb); err != 0 {
		return nil, err
	}

	zero := make([]byte, blk.BSIZE)
	if err := e.writeBlock(bitmapBlock, zero); err != 0 {
		return nil, err
	}
	zero2 := make([]byte, blk.BSIZE)
	if err := e.writeBlock(inodeBitBlock, zero2); err != 0 {
		return nil, err
	}

	// bit i tracks inode i+1: mark inode 1 (reserved) and inode 2 (root) used.
	ibm, _ := e.readBlock(inodeBitBlock)
	setBit(ibm, 0)
	setBit(ibm, 1)
	setBit(ibm, RootIno-1)
	if err := e.writeBlock(inodeBitBlock, ibm); err != 0 {
		return nil, err
	}

	rootBlk, err := e.AllocBlock()
	if err != 0 {
		return nil, err
	}
	root := &Inode{Mode: IFDIR | 0755, Links: 2}
	root.Blocks[0] = uint32(rootBlk)
	dirData := make([]byte, blk.BSIZE)
	n := writeDirent(dirData, 0, RootIno, dtDir, ".")
	n = writeDirent(dirData, n, RootIno, dtDir, "..")
	root.Size = uint32(n)
	if err := e.writeBlock(rootBlk, dirData); err != 0 {
		return nil, err
	}
	if err := e.WriteInode(RootIno, root); err != 0 {
		return nil, err
	}
	return e, 0
}

// Mount reads the superblock of an already-formatted disk and validates
// its magic number.
func Mount(disk blk.Disk_i) (*Ext2, defs.Err_t) {
	b := blk.MkBlock(sbBlock, disk)
	if err := b.Read(); err != nil {
		return nil, defs.EFS_NOTMNT
	}
	magic := binary.LittleEndian.Uint16(b.Data[56:])
	if magic != Magic {
		return nil, defs.EFS_CORRUPT
	}
	ninodes := int(binary.LittleEndian.Uint32(b.Data[0:]))
	nblocks := int(binary.LittleEndian.Uint32(b.Data[4:]))
	dataStart := int(binary.LittleEndian.Uint32(b.Data[60:]))
	inodesPerBlock := blk.BSIZE / inodeSize
	inodeBlocks := (ninodes + inodesPerBlock - 1) / inodesPerBlock
	return &Ext2{
		disk: disk, nblocks: nblocks, ninodes: ninodes,
		inodeBlocks: inodeBlocks, dataStart: dataStart,
	}, 0
}

func setBit(bm []byte, i int) { bm[i/8] |= 1 << uint(i%8) }
func clearBit(bm []byte, i int) { bm[i/8] &^= 1 << uint(i%8) }
func testBit(bm []byte, i int) bool { return bm[i/8]&(1<<uint(i%8)) != 0 }

// AllocBlock returns the first free data block, marking it used.
func (e *Ext2) AllocBlock() (int, defs.Err_t) {
	bm, err := e.readBlock(bitmapBlock)
	if err != 0 {
		return 0, err
	}
	navail := e.nblocks - e.dataStart
	for i := 0; i < navail; i++ {
		if !testBit(bm, i) {
			setBit(bm, i)
			if err := e.writeBlock(bitmapBlock, bm); err != 0 {
				return 0, err
			}
			return e.dataStart + i, 0
		}
	}
	return 0, defs.EFS_NOBLK
}

// FreeBlock releases a data block back to the pool.
func (e *Ext2) FreeBlock(blk int) defs.Err_t {
	bm, err := e.readBlock(bitmapBlock)
	if err != 0 {
		return err
	}
	clearBit(bm, blk-e.dataStart)
	return e.writeBlock(bitmapBlock, bm)
}

// AllocInode returns the first free inode number (1-indexed), marking it
// used.
func (e *Ext2) AllocInode() (int, defs.Err_t) {
	bm, err := e.readBlock(inodeBitBlock)
	if err != 0 {
		return 0, err
	}
	for i := 0; i < e.ninodes; i++ {
		if !testBit(bm, i) {
			setBit(bm, i)
			if err := e.writeBlock(inodeBitBlock, bm); err != 0 {
				return 0, err
			}
			return i + 1, 0
		}
	}
	return 0, defs.EFS_NOINODE
}

// FreeInode releases an inode number back to the pool.
func (e *Ext2) FreeInode(ino int) defs.Err_t {
	bm, err := e.readBlock(inodeBitBlock)
	if err != 0 {
		return err
	}
	clearBit(bm, ino-1)
	return e.writeBlock(inodeBitBlock, bm)
}

func (e *Ext2) inodeLocation(ino int) (block, off int) {
	inodesPerBlock := blk.BSIZE / inodeSize
	idx := ino - 1
	return inodeTblStart + idx/inodesPerBlock, (idx % inodesPerBlock) * inodeSize
}

// ReadInode loads inode number ino.
func (e *Ext2) ReadInode(ino int) (*Inode, defs.Err_t) {
	blk, off := e.inodeLocation(ino)
	data, err := e.readBlock(blk)
	if err != 0 {
		return nil, err
	}
	return decodeInode(data[off : off+inodeSize]), 0
}

// WriteInode persists in at inode number ino.
func (e *Ext2) WriteInode(ino int, in *Inode) defs.Err_t {
	blk, off := e.inodeLocation(ino)
	data, err := e.readBlock(blk)
	if err != 0 {
		return err
	}
	copy(data[off:off+inodeSize], in.encode())
	return e.writeBlock(blk, data)
}

// ReadFile copies up to len(buf) bytes from ino starting at offset.
func (e *Ext2) ReadFile(ino int, offset int, buf []byte) (int, defs.Err_t) {
	in, err := e.ReadInode(ino)
	if err != 0 {
		return 0, err
	}
	if offset >= int(in.Size) {
		return 0, 0
	}
	n := len(buf)
	if offset+n > int(in.Size) {
		n = int(in.Size) - offset
	}
	got := 0
	for got < n {
		blkIdx := (offset + got) / blk.BSIZE
		blkOff := (offset + got) % blk.BSIZE
		if blkIdx >= directBlocks || in.Blocks[blkIdx] == 0 {
			break
		}
		data, err := e.readBlock(int(in.Blocks[blkIdx]))
		if err != 0 {
			return got, err
		}
		take := blk.BSIZE - blkOff
		if take > n-got {
			take = n - got
		}
		copy(buf[got:got+take], data[blkOff:blkOff+take])
		got += take
	}
	return got, 0
}

// WriteFile writes src to ino at offset, allocating new blocks as needed
// and growing the inode's recorded size. Fails with EFS_NOBLK once the
// direct-block limit (12*BSIZE) is reached.
func (e *Ext2) WriteFile(ino int, offset int, src []byte) (int, defs.Err_t) {
	in, err := e.ReadInode(ino)
	if err != 0 {
		return 0, err
	}
	wrote := 0
	for wrote < len(src) {
		blkIdx := (offset + wrote) / blk.BSIZE
		blkOff := (offset + wrote) % blk.BSIZE
		if blkIdx >= directBlocks {
			return wrote, defs.EFS_NOBLK
		}
		if in.Blocks[blkIdx] == 0 {
			nb, err := e.AllocBlock()
			if err != 0 {
				return wrote, err
			}
			in.Blocks[blkIdx] = uint32(nb)
		}
		data, err := e.readBlock(int(in.Blocks[blkIdx]))
		if err != 0 {
			return wrote, err
		}
		take := blk.BSIZE - blkOff
		if take > len(src)-wrote {
			take = len(src) - wrote
		}
		copy(data[blkOff:blkOff+take], src[wrote:wrote+take])
		if err := e.writeBlock(int(in.Blocks[blkIdx]), data); err != 0 {
			return wrote, err
		}
		wrote += take
	}
	if uint32(offset+wrote) > in.Size {
		in.Size = uint32(offset + wrote)
	}
	if err := e.WriteInode(ino, in); err != 0 {
		return wrote, err
	}
	return wrote, 0
}

// dirent wire format: ino(4) rec_len(2) name_len(1) file_type(1) name[...]
func writeDirent(buf []byte, off, ino int, ftype byte, name string) int {
	recLen := 8 + len(name)
	recLen = (recLen + 3) &^ 3
	binary.LittleEndian.PutUint32(buf[off:], uint32(ino))
	binary.LittleEndian.PutUint16(buf[off+4:], uint16(recLen))
	buf[off+6] = byte(len(name))
	buf[off+7] = ftype
	copy(buf[off+8:], name)
	return off + recLen
}

func readDirents(data []byte, size int) []Dirent {
	var out []Dirent
	off := 0
	for off < size {
		ino := binary.LittleEndian.Uint32(data[off:])
		recLen := binary.LittleEndian.Uint16(data[off+4:])
		nameLen := data[off+6]
		ftype := data[off+7]
		if ino != 0 {
			name := string(data[off+8 : off+8+int(nameLen)])
			out = append(out, Dirent{Ino: int(ino), Type: ftype, Name: name})
		}
		if recLen == 0 {
			break
		}
		off += int(recLen)
	}
	return out
}

// Getdents lists the entries of directory inode dirIno.
func (e *Ext2) Getdents(dirIno int) ([]Dirent, defs.Err_t) {
	in, err := e.ReadInode(dirIno)
	if err != 0 {
		return nil, err
	}
	if in.Mode&IFDIR == 0 {
		return nil, defs.ENOTDIR
	}
	var out []Dirent
	remaining := int(in.Size)
	for _, bn := range in.Blocks {
		if bn == 0 || remaining <= 0 {
			break
		}
		data, err := e.readBlock(int(bn))
		if err != 0 {
			return nil, err
		}
		n := blk.BSIZE
		if remaining < n {
			n = remaining
		}
		out = append(out, readDirents(data, n)...)
		remaining -= blk.BSIZE
	}
	return out, 0
}

// Lookup searches directory dirIno for name.
func (e *Ext2) Lookup(dirIno int, name string) (int, byte, defs.Err_t) {
	ents, err := e.Getdents(dirIno)
	if err != 0 {
		return 0, 0, err
	}
	for _, d := range ents {
		if d.Name == name {
			return d.Ino, d.Type, 0
		}
	}
	return 0, 0, defs.ENOENT
}

// addDirent appends name -> ino to directory dirIno's first block,
// allocating it if the directory has none yet.
func (e *Ext2) addDirent(dirIno, ino int, ftype byte, name string) defs.Err_t {
	in, err := e.ReadInode(dirIno)
	if err != 0 {
		return err
	}
	if in.Blocks[0] == 0 {
		nb, err := e.AllocBlock()
		if err != 0 {
			return err
		}
		in.Blocks[0] = uint32(nb)
	}
	data, err := e.readBlock(int(in.Blocks[0]))
	if err != 0 {
		return err
	}
	end := writeDirent(data, int(in.Size)%blk.BSIZE, ino, ftype, name)
	if err := e.writeBlock(int(in.Blocks[0]), data); err != 0 {
		return err
	}
	if uint32(end) > in.Size {
		in.Size = uint32(end)
	}
	return e.WriteInode(dirIno, in)
}

// Create makes a new regular file named name in directory dirIno.
func (e *Ext2) Create(dirIno int, name string) (int, defs.Err_t) {
	if _, _, err := e.Lookup(dirIno, name); err == 0 {
		return 0, defs.EEXIST
	}
	ino, err := e.AllocInode()
	if err != 0 {
		return 0, err
	}
	if err := e.WriteInode(ino, &Inode{Mode: IFREG | 0644, Links: 1}); err != 0 {
		return 0, err
	}
	if err := e.addDirent(dirIno, ino, dtReg, name); err != 0 {
		return 0, err
	}
	return ino, 0
}

// Mkdir makes a new directory named name in directory dirIno.
func (e *Ext2) Mkdir(dirIno int, name string) (int, defs.Err_t) {
	if _, _, err := e.Lookup(dirIno, name); err == 0 {
		return 0, defs.EEXIST
	}
	ino, err := e.AllocInode()
	if err != 0 {
		return 0, err
	}
	nb, err := e.AllocBlock()
	if err != 0 {
		e.FreeInode(ino)
		return 0, err
	}
	in := &Inode{Mode: IFDIR | 0755, Links: 2}
	in.Blocks[0] = uint32(nb)
	data := make([]byte, blk.BSIZE)
	n := writeDirent(data, 0, ino, dtDir, ".")
	n = writeDirent(data, n, dirIno, dtDir, "..")
	in.Size = uint32(n)
	if err := e.writeBlock(nb, data); err != 0 {
		return 0, err
	}
	if err := e.WriteInode(ino, in); err != 0 {
		return 0, err
	}
	if err := e.addDirent(dirIno, ino, dtDir, name); err != 0 {
		return 0, err
	}
	return ino, 0
}

// removeDirent zeroes the entry named name out of directory dirIno's
// blocks, without compacting rec_len gaps.
func (e *Ext2) removeDirent(dirIno int, name string) defs.Err_t {
	in, err := e.ReadInode(dirIno)
	if err != 0 {
		return err
	}
	for _, bn := range in.Blocks {
		if bn == 0 {
			continue
		}
		data, err := e.readBlock(int(bn))
		if err != 0 {
			return err
		}
		off := 0
		for off < blk.BSIZE {
			ino := binary.LittleEndian.Uint32(data[off:])
			recLen := binary.LittleEndian.Uint16(data[off+4:])
			nameLen := data[off+6]
			if recLen == 0 {
				break
			}
			if ino != 0 && string(data[off+8:off+8+int(nameLen)]) == name {
				binary.LittleEndian.PutUint32(data[off:], 0)
				return e.writeBlock(int(bn), data)
			}
			off += int(recLen)
		}
	}
	return defs.ENOENT
}

// Unlink removes a regular file's directory entry and, once its link
// count reaches zero, frees its inode and data blocks.
func (e *Ext2) Unlink(dirIno int, name string) defs.Err_t {
	ino, ftype, err := e.Lookup(dirIno, name)
	if err != 0 {
		return err
	}
	if ftype == dtDir {
		return defs.EISDIR
	}
	if err := e.removeDirent(dirIno, name); err != 0 {
		return err
	}
	in, err := e.ReadInode(ino)
	if err != 0 {
		return err
	}
	in.Links--
	if in.Links == 0 {
		for _, bn := range in.Blocks {
			if bn != 0 {
				e.FreeBlock(int(bn))
			}
		}
		return e.FreeInode(ino)
	}
	return e.WriteInode(ino, in)
}

// Rmdir removes an empty directory named name from dirIno.
func (e *Ext2) Rmdir(dirIno int, name string) defs.Err_t {
	ino, ftype, err := e.Lookup(dirIno, name)
	if err != 0 {
		return err
	}
	if ftype != dtDir {
		return defs.ENOTDIR
	}
	ents, err := e.Getdents(ino)
	if err != 0 {
		return err
	}
	for _, d := range ents {
		if d.Name != "." && d.Name != ".." {
			return defs.ENOTEMPTY
		}
	}
	if err := e.removeDirent(dirIno, name); err != 0 {
		return err
	}
	in, err := e.ReadInode(ino)
	if err != 0 {
		return err
	}
	for _, bn := range in.Blocks {
		if bn != 0 {
			e.FreeBlock(int(bn))
		}
	}
	return e.FreeInode(ino)
}
