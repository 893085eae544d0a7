package sig

import (
	"testing"

	"github.com/cmelnulabs/riscvkern/internal/defs"
	"github.com/cmelnulabs/riscvkern/internal/trap"
)

func TestRaiseThenDeliverable(t *testing.T) {
	var st State
	st.Raise(defs.SIGTERM)
	s, ok := st.Deliverable()
	if !ok || s != defs.SIGTERM {
		t.Fatalf("Deliverable() = (%d, %v), want (SIGTERM, true)", s, ok)
	}
}

func TestBlockedSignalIsNotDeliverable(t *testing.T) {
	var st State
	st.Block(1 << uint(defs.SIGTERM-1))
	st.Raise(defs.SIGTERM)
	if _, ok := st.Deliverable(); ok {
		t.Fatal("blocked signal should not be deliverable")
	}
}

func TestSigkillIgnoresBlocked(t *testing.T) {
	var st State
	st.Block(^uint64(0)) // try to block everything, including KILL/STOP
	st.Raise(defs.SIGKILL)
	s, ok := st.Deliverable()
	if !ok || s != defs.SIGKILL {
		t.Fatalf("SIGKILL must be deliverable even with everything blocked, got (%d, %v)", s, ok)
	}
}

func TestSetHandlerRejectsSigkill(t *testing.T) {
	var st State
	if err := st.SetHandler(defs.SIGKILL, User, 0x1000, 0, 0); err != defs.EINVAL {
		t.Fatalf("SetHandler(SIGKILL, User) = %d, want EINVAL", err)
	}
	if err := st.SetHandler(defs.SIGKILL, Default, 0, 0, 0); err != 0 {
		t.Fatalf("SetHandler(SIGKILL, Default) = %d, want 0", err)
	}
}

func TestIgnoredSignalNeverGoesPending(t *testing.T) {
	var st State
	st.SetHandler(defs.SIGPIPE, Ignore, 0, 0, 0)
	st.Raise(defs.SIGPIPE)
	if st.Pending != 0 {
		t.Fatal("raising an ignored signal must not set pending")
	}
}

func TestDeliverAndReturnRoundTrip(t *testing.T) {
	var st State
	st.SetHandler(defs.SIGTERM, User, 0x4000, 0, 0)
	st.Raise(defs.SIGTERM)

	var tf trap.TrapFrame
	tf.Sepc = 0x1000
	tf.SetA(0, 99)

	s, ok := st.Deliverable()
	if !ok || s != defs.SIGTERM {
		t.Fatal("expected SIGTERM deliverable")
	}
	st.Deliver(s, &tf)
	if tf.Sepc != 0x4000 {
		t.Fatalf("sepc after Deliver = %#x, want %#x", tf.Sepc, 0x4000)
	}
	if tf.A(0) != uint64(defs.SIGTERM) {
		t.Fatalf("a0 after Deliver = %d, want signal number", tf.A(0))
	}
	if !st.InHandler() {
		t.Fatal("InHandler() should report true mid-handler")
	}

	if ok := st.Return(&tf); !ok {
		t.Fatal("Return() should succeed with a pushed frame")
	}
	if tf.Sepc != 0x1000 {
		t.Fatalf("sepc after Return = %#x, want restored %#x", tf.Sepc, 0x1000)
	}
	if tf.A(0) != 99 {
		t.Fatalf("a0 after Return = %d, want restored 99", tf.A(0))
	}
	if st.InHandler() {
		t.Fatal("InHandler() should report false after Return")
	}
}

func TestReturnWithoutDeliverFails(t *testing.T) {
	var st State
	var tf trap.TrapFrame
	if ok := st.Return(&tf); ok {
		t.Fatal("Return() with no saved frame must fail")
	}
}

func TestSigstopCannotBeIgnoredOrHandled(t *testing.T) {
	var st State
	if err := st.SetHandler(defs.SIGSTOP, Ignore, 0, 0, 0); err != defs.EINVAL {
		t.Fatalf("SetHandler(SIGSTOP, Ignore) = %d, want EINVAL", err)
	}
}
