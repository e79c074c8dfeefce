package ringbuffer

import "testing"

func TestWriteReadRoundTrip(t *testing.T) {
	rb := New(8)
	n, err := rb.Write([]byte{1, 2, 3})
	if err != nil || n != 3 {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	if got := rb.Len(); got != 3 {
		t.Fatalf("len = %d, want 3", got)
	}
	out := make([]byte, 3)
	n, _ = rb.Read(out)
	if n != 3 || out[0] != 1 || out[1] != 2 || out[2] != 3 {
		t.Fatalf("read back %v", out[:n])
	}
	if rb.Len() != 0 {
		t.Fatalf("expected empty after drain")
	}
}

func TestOverwriteOldestOnOverflow(t *testing.T) {
	rb := New(4)
	rb.Write([]byte{1, 2, 3, 4})
	rb.Write([]byte{5, 6})

	out := make([]byte, 4)
	n, _ := rb.Read(out)
	if n != 4 {
		t.Fatalf("n = %d, want 4", n)
	}
	want := []byte{3, 4, 5, 6}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out = %v, want %v", out, want)
		}
	}
	if rb.Dropped() != 2 {
		t.Fatalf("dropped = %d, want 2", rb.Dropped())
	}
}

func TestWriteLargerThanCapacityKeepsTail(t *testing.T) {
	rb := New(3)
	rb.Write([]byte{1, 2, 3, 4, 5})
	out := make([]byte, 3)
	n, _ := rb.Read(out)
	if n != 3 || out[0] != 3 || out[1] != 4 || out[2] != 5 {
		t.Fatalf("out = %v", out[:n])
	}
}

func TestReadPartialLeavesRemainder(t *testing.T) {
	rb := New(8)
	rb.Write([]byte{1, 2, 3, 4})
	out := make([]byte, 2)
	rb.Read(out)
	if rb.Len() != 2 {
		t.Fatalf("len = %d, want 2", rb.Len())
	}
	rb.Read(out)
	if out[0] != 3 || out[1] != 4 {
		t.Fatalf("out = %v", out)
	}
}

func TestResetClearsContent(t *testing.T) {
	rb := New(4)
	rb.Write([]byte{1, 2})
	rb.Reset()
	if rb.Len() != 0 {
		t.Fatalf("expected len 0 after reset")
	}
}
