package uart

import (
	"testing"

	"github.com/cmelnulabs/riscvkern/internal/defs"
)

func TestWriteThenOutput(t *testing.T) {
	u := New()
	n, err := u.Write([]byte("hello\n"))
	if err != 0 || n != 6 {
		t.Fatalf("write: n=%d err=%d", n, err)
	}
	if string(u.Output()) != "hello\n" {
		t.Fatalf("unexpected output %q", u.Output())
	}
}

func TestWriteSanitizesInvalidUTF8(t *testing.T) {
	u := New()
	u.Write([]byte{'o', 'k', 0xff, 0xfe})
	out := u.Output()
	if len(out) == 0 {
		t.Fatal("expected sanitized output, got nothing")
	}
	if out[0] != 'o' || out[1] != 'k' {
		t.Fatalf("expected leading valid bytes preserved, got %q", out)
	}
}

func TestReadEmptyReturnsEAGAIN(t *testing.T) {
	u := New()
	_, err := u.Read(make([]byte, 1))
	if err != defs.EAGAIN {
		t.Fatalf("expected EAGAIN, got %d", err)
	}
}

func TestFeedThenRead(t *testing.T) {
	u := New()
	u.Feed([]byte("ls\n"))
	buf := make([]byte, 16)
	n, err := u.Read(buf)
	if err != 0 {
		t.Fatalf("read: %d", err)
	}
	if string(buf[:n]) != "ls\n" {
		t.Fatalf("expected ls\\n, got %q", buf[:n])
	}
}
