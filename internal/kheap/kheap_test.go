package kheap

import (
	"testing"

	"github.com/cmelnulabs/riscvkern/internal/pmm"
)

func newHeap(nframes int) *KHEAP {
	return New(pmm.New(0x80000000, nframes))
}

func TestHeaderIntegrity(t *testing.T) {
	h := newHeap(16)
	va := h.Kmalloc(100)
	if !va.Valid() {
		t.Fatal("kmalloc failed")
	}
	size, frames, mag := h.HeaderFields(va)
	if size != 100 {
		t.Fatalf("expected size 100, got %d", size)
	}
	wantFrames := (100 + headerSize + pmm.PGSIZE - 1) / pmm.PGSIZE
	if frames != wantFrames {
		t.Fatalf("expected %d frames, got %d", wantFrames, frames)
	}
	if mag != magic {
		t.Fatalf("expected magic %#x, got %#x", magic, mag)
	}
}

func TestCorruptMagicTripsFatalFree(t *testing.T) {
	h := newHeap(16)
	va := h.Kmalloc(64)
	h.CorruptMagic(va)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on corrupted magic free")
		}
	}()
	h.Kfree(va)
}

func TestFreeNilIsNoop(t *testing.T) {
	h := newHeap(16)
	h.Kfree(VA{})
}

func TestZeroSizeReturnsInvalid(t *testing.T) {
	h := newHeap(16)
	va := h.Kmalloc(0)
	if va.Valid() {
		t.Fatal("expected invalid VA for zero-size allocation")
	}
}

func TestAllocFreeReturnsFramesToPMM(t *testing.T) {
	h := newHeap(16)
	_, free0 := h.pmm.Stats()
	va := h.Kmalloc(4000)
	h.Kfree(va)
	_, free1 := h.pmm.Stats()
	if free0 != free1 {
		t.Fatalf("frames not returned: before=%d after=%d", free0, free1)
	}
}

func TestBytesUsableRegion(t *testing.T) {
	h := newHeap(16)
	va := h.Kmalloc(32)
	b := va.Bytes()
	if len(b) < 32 {
		t.Fatalf("expected at least 32 usable bytes, got %d", len(b))
	}
	b[0] = 0x42
	if va.Bytes()[0] != 0x42 {
		t.Fatal("write did not persist")
	}
}
