package idtracker

import "testing"

func TestMarkAndPopAscending(t *testing.T) {
	tr := New()
	tr.Mark(5)
	tr.Mark(1)
	tr.Mark(3)

	if tr.Size() != 3 {
		t.Fatalf("Size = %d, want 3", tr.Size())
	}

	for _, want := range []int64{1, 3, 5} {
		if got := tr.Pop(); got != want {
			t.Fatalf("Pop() = %d, want %d", got, want)
		}
	}
	if got := tr.Pop(); got != Sentinel {
		t.Fatalf("Pop() on empty tracker = %d, want Sentinel", got)
	}
}

func TestMarkIsIdempotent(t *testing.T) {
	tr := New()
	tr.Mark(7)
	tr.Mark(7)
	tr.Mark(7)
	if tr.Size() != 1 {
		t.Fatalf("Size = %d, want 1 after marking the same id three times", tr.Size())
	}
	if tr.Pop() != 7 {
		t.Fatalf("Pop() did not return the single marked id")
	}
	if tr.Pop() != Sentinel {
		t.Fatalf("tracker should be empty after draining the single id")
	}
}

func TestIsMarked(t *testing.T) {
	tr := New()
	if tr.IsMarked(42) {
		t.Fatalf("IsMarked(42) = true before marking")
	}
	tr.Mark(42)
	if !tr.IsMarked(42) {
		t.Fatalf("IsMarked(42) = false after marking")
	}
	tr.Pop()
	if tr.IsMarked(42) {
		t.Fatalf("IsMarked(42) = true after popping")
	}
}

func TestMarkAfterPopIsTrackedAgain(t *testing.T) {
	tr := New()
	tr.Mark(1)
	tr.Pop()
	tr.Mark(1)
	if tr.Size() != 1 {
		t.Fatalf("Size = %d, want 1 after re-marking a drained id", tr.Size())
	}
	if got := tr.Pop(); got != 1 {
		t.Fatalf("Pop() = %d, want 1", got)
	}
}

func TestSizeTracksOutstandingCount(t *testing.T) {
	tr := New()
	for i := int64(0); i < 10; i++ {
		tr.Mark(i)
	}
	if tr.Size() != 10 {
		t.Fatalf("Size = %d, want 10", tr.Size())
	}
	tr.Pop()
	tr.Pop()
	if tr.Size() != 8 {
		t.Fatalf("Size = %d, want 8 after two pops", tr.Size())
	}
}
