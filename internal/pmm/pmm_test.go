package pmm

import "testing"

func TestAllocFreeRoundTrip(t *testing.T) {
	p := New(0x80000000, 64)
	_, free0 := p.Stats()

	var got []Pa_t
	for i := 0; i < 10; i++ {
		pa, ok := p.AllocFrame()
		if !ok {
			t.Fatalf("alloc %d failed unexpectedly", i)
		}
		if pa&PGOFFSET != 0 {
			t.Fatalf("frame %#x not page-aligned", pa)
		}
		if pa < 0x80000000 || pa >= 0x80000000+64*Pa_t(PGSIZE) {
			t.Fatalf("frame %#x out of managed range", pa)
		}
		got = append(got, pa)
	}
	for _, pa := range got {
		p.FreeFrame(pa)
	}
	_, free1 := p.Stats()
	if free0 != free1 {
		t.Fatalf("free count mismatch: before=%d after=%d", free0, free1)
	}
}

func TestAllocFramesContiguous(t *testing.T) {
	p := New(0x80000000, 16)
	pa, ok := p.AllocFrames(4)
	if !ok {
		t.Fatal("expected contiguous run of 4")
	}
	for i := 0; i < 4; i++ {
		idx := p.frameIdx(pa + Pa_t(i*PGSIZE))
		if !p.testBit(idx) {
			t.Fatalf("frame %d of run not marked used", i)
		}
	}
	p.FreeFrames(pa, 4)
	_, free := p.Stats()
	if free != 16 {
		t.Fatalf("expected all frames free, got %d", free)
	}
}

func TestAllocExhaustion(t *testing.T) {
	p := New(0x80000000, 2)
	if _, ok := p.AllocFrame(); !ok {
		t.Fatal("expected first alloc to succeed")
	}
	if _, ok := p.AllocFrame(); !ok {
		t.Fatal("expected second alloc to succeed")
	}
	if _, ok := p.AllocFrame(); ok {
		t.Fatal("expected third alloc to fail, not panic")
	}
}

func TestMarkUsedAtInit(t *testing.T) {
	p := New(0x80000000, 8)
	p.MarkRangeUsed(0x80000000, 3)
	total, free := p.Stats()
	if total != 8 || free != 5 {
		t.Fatalf("expected 5 free of 8, got %d/%d", free, total)
	}
	pa, ok := p.AllocFrame()
	if !ok {
		t.Fatal("alloc failed")
	}
	if pa != 0x80000000+3*Pa_t(PGSIZE) {
		t.Fatalf("expected first free frame to skip pre-marked range, got %#x", pa)
	}
}

func TestDoubleFreePanics(t *testing.T) {
	p := New(0x80000000, 4)
	pa, _ := p.AllocFrame()
	p.FreeFrame(pa)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double free")
		}
	}()
	p.FreeFrame(pa)
}
