package accnt

import (
	"testing"

	"github.com/cmelnulabs/riscvkern/internal/util"
)

func TestToRusageEncodesBothCounters(t *testing.T) {
	var a Accnt_t
	a.Utadd(2_000_000_000)  // 2s user
	a.Systadd(1_500_000_000) // 1.5s system
	buf := a.ToRusage()
	if len(buf) != 32 {
		t.Fatalf("expected 32-byte rusage encoding, got %d", len(buf))
	}
	userSec := util.Readn(buf, 8, 0)
	sysSec := util.Readn(buf, 8, 16)
	if userSec != 2 {
		t.Fatalf("expected 2 user seconds, got %d", userSec)
	}
	if sysSec != 1 {
		t.Fatalf("expected 1 system second, got %d", sysSec)
	}
}

func TestAddMergesCounters(t *testing.T) {
	var a, b Accnt_t
	a.Utadd(100)
	b.Utadd(200)
	a.Add(&b)
	if a.Userns != 300 {
		t.Fatalf("expected merged Userns 300, got %d", a.Userns)
	}
}
