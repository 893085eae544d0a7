package elfload

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/cmelnulabs/riscvkern/internal/defs"
	"github.com/cmelnulabs/riscvkern/internal/pmm"
	"github.com/cmelnulabs/riscvkern/internal/vm"
)

const (
	etExec   = 2
	emRiscv  = 243
	ptLoad   = 1
	pfX      = 1
	pfW      = 2
	pfR      = 4
	elfClass = 2
	elfData  = 1
)

// buildELF assembles a minimal ELF64 RISC-V executable with a single
// PT_LOAD segment carrying code at vaddr, and entry == vaddr.
func buildELF(vaddr uint64, code []byte, flags uint32) []byte {
	const ehsize = 64
	const phsize = 56
	phoff := uint64(ehsize)
	dataOff := ehsize + phsize

	buf := new(bytes.Buffer)
	ident := [16]byte{0x7f, 'E', 'L', 'F', elfClass, elfData, 1}
	buf.Write(ident[:])
	binary.Write(buf, binary.LittleEndian, uint16(etExec))
	binary.Write(buf, binary.LittleEndian, uint16(emRiscv))
	binary.Write(buf, binary.LittleEndian, uint32(1)) // e_version
	binary.Write(buf, binary.LittleEndian, uint64(vaddr))
	binary.Write(buf, binary.LittleEndian, uint64(phoff))
	binary.Write(buf, binary.LittleEndian, uint64(0)) // e_shoff
	binary.Write(buf, binary.LittleEndian, uint32(0)) // e_flags
	binary.Write(buf, binary.LittleEndian, uint16(ehsize))
	binary.Write(buf, binary.LittleEndian, uint16(phsize))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // e_phnum
	binary.Write(buf, binary.LittleEndian, uint16(0))
	binary.Write(buf, binary.LittleEndian, uint16(0))
	binary.Write(buf, binary.LittleEndian, uint16(0))

	binary.Write(buf, binary.LittleEndian, uint32(ptLoad))
	binary.Write(buf, binary.LittleEndian, uint32(flags))
	binary.Write(buf, binary.LittleEndian, uint64(dataOff))
	binary.Write(buf, binary.LittleEndian, uint64(vaddr))
	binary.Write(buf, binary.LittleEndian, uint64(vaddr))
	binary.Write(buf, binary.LittleEndian, uint64(len(code)))
	binary.Write(buf, binary.LittleEndian, uint64(len(code)))
	binary.Write(buf, binary.LittleEndian, uint64(4096))

	buf.Write(code)
	return buf.Bytes()
}

func newEngine(t *testing.T) (*vm.Engine, *pmm.PMM) {
	t.Helper()
	p := pmm.New(0x80000000, 256)
	e := vm.NewEngine(p)
	return e, p
}

func TestLoadMapsEntryAndCode(t *testing.T) {
	e, _ := newEngine(t)
	root := e.CreateUserRoot()
	code := []byte{0x13, 0x00, 0x00, 0x00} // addi x0,x0,0 (nop), padding
	const vaddr = 0x1000
	img, err := Load(e, root, bytes.NewReader(buildELF(vaddr, code, pfR|pfX)))
	if err != 0 {
		t.Fatalf("load: %d", err)
	}
	if img.Entry != vaddr {
		t.Fatalf("entry = %#x, want %#x", img.Entry, vaddr)
	}
	pa, terr := e.Translate(root, vaddr)
	if terr != nil {
		t.Fatalf("translate: %v", terr)
	}
	_ = pa
	if img.BrkStart <= vaddr {
		t.Fatalf("brk %#x should be past the loaded segment", img.BrkStart)
	}
}

func TestLoadRejectsWrongMachine(t *testing.T) {
	e, _ := newEngine(t)
	root := e.CreateUserRoot()
	raw := buildELF(0x1000, []byte{0}, pfR|pfX)
	// corrupt e_machine (bytes 18-19) to something that isn't EM_RISCV.
	raw[18] = 0x02
	raw[19] = 0x00
	if _, err := Load(e, root, bytes.NewReader(raw)); err != defs.EELF_MACH {
		t.Fatalf("expected EELF_MACH, got %d", err)
	}
}

func TestLoadRejectsBadMagic(t *testing.T) {
	e, _ := newEngine(t)
	root := e.CreateUserRoot()
	raw := buildELF(0x1000, []byte{0}, pfR|pfX)
	raw[0] = 0x00
	if _, err := Load(e, root, bytes.NewReader(raw)); err != defs.EELF_MAGIC {
		t.Fatalf("expected EELF_MAGIC, got %d", err)
	}
}
