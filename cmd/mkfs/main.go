// Command mkfs builds a bootable ext2 disk image for this kernel: an
// empty volume of the requested size, populated with the contents of a
// host skeleton directory, written out as a flat image cmd/kernel's
// virtio-blk-mmio device loads directly.
//
// Grounded on the teacher's mkfs/mkfs.go (addfiles' WalkDir-over-skeldir
// shape is carried over verbatim in spirit), re-targeted from
// ufs.Ufs_t/MkDisk's custom on-disk format to internal/ext2's
// ext2-compatible one and from a three-part (bootimage, kernel image,
// skeleton) image to a filesystem-only image, since this spec's boot
// path has no separate bootloader stage to stitch in.
package main

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cmelnulabs/riscvkern/internal/defs"
	"github.com/cmelnulabs/riscvkern/internal/ext2"
	"github.com/cmelnulabs/riscvkern/internal/virtio"
)

const (
	defaultBlocks = 4096
	defaultInodes = 1024
	maxFileBytes  = 12 * 1024 // ext2's directBlocks * BSIZE, this volume's single-file cap
)

func usage(me string) {
	fmt.Fprintf(os.Stderr, "%s <output image> <skel dir> [nblocks] [ninodes]\n", me)
	os.Exit(1)
}

func main() {
	if len(os.Args) < 3 {
		usage(os.Args[0])
	}
	outPath := os.Args[1]
	skelDir := os.Args[2]

	nblocks := defaultBlocks
	ninodes := defaultInodes
	if len(os.Args) > 3 {
		n, err := strconv.Atoi(os.Args[3])
		if err != nil {
			fmt.Fprintf(os.Stderr, "bad nblocks %q: %v\n", os.Args[3], err)
			os.Exit(1)
		}
		nblocks = n
	}
	if len(os.Args) > 4 {
		n, err := strconv.Atoi(os.Args[4])
		if err != nil {
			fmt.Fprintf(os.Stderr, "bad ninodes %q: %v\n", os.Args[4], err)
			os.Exit(1)
		}
		ninodes = n
	}

	disk := virtio.New(nblocks)
	vol, err := ext2.Mkfs(disk, nblocks, ninodes)
	if err != 0 {
		fmt.Fprintf(os.Stderr, "mkfs: %d\n", err)
		os.Exit(1)
	}

	if _, statErr := os.Stat(skelDir); statErr == nil {
		if walkErr := addfiles(vol, skelDir); walkErr != nil {
			fmt.Fprintf(os.Stderr, "addfiles: %v\n", walkErr)
			os.Exit(1)
		}
	}

	out, oerr := os.Create(outPath)
	if oerr != nil {
		fmt.Fprintf(os.Stderr, "create %s: %v\n", outPath, oerr)
		os.Exit(1)
	}
	defer out.Close()
	if _, werr := disk.WriteTo(out); werr != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", outPath, werr)
		os.Exit(1)
	}
	fmt.Printf("wrote %s: %d blocks, %d inodes, skeleton %s\n", outPath, nblocks, ninodes, skelDir)
}

// addfiles walks skelDir on the host and replicates its directory tree
// and file contents into vol, rooted at ext2.RootIno.
func addfiles(vol *ext2.Ext2, skelDir string) error {
	return filepath.WalkDir(skelDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(p, skelDir)
		rel = strings.TrimPrefix(rel, string(filepath.Separator))
		if rel == "" {
			return nil
		}
		dirIno, name, derr := resolveParent(vol, rel)
		if derr != 0 {
			return fmt.Errorf("resolve parent of %s: %d", rel, derr)
		}

		if d.IsDir() {
			if _, merr := vol.Mkdir(dirIno, name); merr != 0 {
				return fmt.Errorf("mkdir %s: %d", rel, merr)
			}
			return nil
		}

		data, rerr := os.ReadFile(p)
		if rerr != nil {
			return rerr
		}
		if len(data) > maxFileBytes {
			return fmt.Errorf("%s is %d bytes, over this volume's %d-byte single-file cap", rel, len(data), maxFileBytes)
		}
		ino, cerr := vol.Create(dirIno, name)
		if cerr != 0 {
			return fmt.Errorf("create %s: %d", rel, cerr)
		}
		if _, werr := vol.WriteFile(ino, 0, data); werr != 0 {
			return fmt.Errorf("write %s: %d", rel, werr)
		}
		return nil
	})
}

// resolveParent walks rel's directory components from the root, creating
// nothing, and returns the inode of its containing directory plus its
// base name — every ancestor must already have been visited by
// filepath.WalkDir's pre-order traversal before a deeper entry is.
func resolveParent(vol *ext2.Ext2, rel string) (int, string, defs.Err_t) {
	dir, name := path.Split(filepath.ToSlash(rel))
	dir = strings.Trim(dir, "/")
	ino := ext2.RootIno
	if dir != "" {
		for _, part := range strings.Split(dir, "/") {
			found, _, err := vol.Lookup(ino, part)
			if err != 0 {
				return 0, "", err
			}
			ino = found
		}
	}
	return ino, name, 0
}
