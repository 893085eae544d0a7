package hashtable

import (
	"testing"

	"github.com/cmelnulabs/riscvkern/internal/ustr"
)

func TestSetGetDel(t *testing.T) {
	ht := MkHash(8)
	key := ustr.Ustr("/bin/sh")
	if _, ok := ht.Get(key); ok {
		t.Fatal("expected miss before insert")
	}
	if _, inserted := ht.Set(key, 7); !inserted {
		t.Fatal("expected first insert to succeed")
	}
	v, ok := ht.Get(key)
	if !ok || v.(int) != 7 {
		t.Fatalf("expected hit with value 7, got %v ok=%v", v, ok)
	}
	ht.Del(key)
	if _, ok := ht.Get(key); ok {
		t.Fatal("expected miss after delete")
	}
}

func TestSetRefusesDuplicate(t *testing.T) {
	ht := MkHash(4)
	ht.Set("a", 1)
	_, inserted := ht.Set("a", 2)
	if inserted {
		t.Fatal("expected duplicate Set to report not-inserted")
	}
	v, _ := ht.Get("a")
	if v.(int) != 1 {
		t.Fatalf("expected original value 1 preserved, got %v", v)
	}
}

func TestSizeAndElems(t *testing.T) {
	ht := MkHash(4)
	ht.Set(1, "one")
	ht.Set(2, "two")
	ht.Set(3, "three")
	if ht.Size() != 3 {
		t.Fatalf("expected size 3, got %d", ht.Size())
	}
	if len(ht.Elems()) != 3 {
		t.Fatalf("expected 3 elems, got %d", len(ht.Elems()))
	}
}

func TestDelMissingPanics(t *testing.T) {
	ht := MkHash(4)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic deleting a missing key")
		}
	}()
	ht.Del("missing")
}
