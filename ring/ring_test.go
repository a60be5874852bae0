package ring

import "testing"

func TestInitEmpty(t *testing.T) {
	r := Init(8)
	if !r.IsFull() {
		t.Fatal("fresh ring should be full (all slots acquirable)")
	}
	if r.IsEmpty() {
		t.Fatal("fresh ring should not be empty")
	}
	if r.Rem() != 8 {
		t.Fatalf("rem = %d, want 8", r.Rem())
	}
}

func TestInitPanicsOnNonPow2(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for non-power-of-two size")
		}
	}()
	Init(6)
}

func TestAcquireReleaseSymmetry(t *testing.T) {
	r := Init(4)
	for n := uint32(0); n < 100; n++ {
		idx := r.Acquire1()
		if idx != n%4 {
			t.Fatalf("acquire %d: idx = %d, want %d", n, idx, n%4)
		}
		r.ReleaseN(1)
		if r.Rem() != 4 {
			t.Fatalf("after acquire+release rem = %d, want 4", r.Rem())
		}
	}
}

func TestConservationInvariant(t *testing.T) {
	// For all times t: rem + dropped == size (spec §8).
	r := Init(16)
	dropped := uint32(0)
	ops := []uint32{3, 5, 2, 1, 4}
	for _, n := range ops {
		if n > r.Rem() {
			continue
		}
		r.AcquireN(n)
		dropped += n
		if r.Rem()+dropped != 16 {
			t.Fatalf("rem(%d) + dropped(%d) != size(16)", r.Rem(), dropped)
		}
	}
	// Now release it all back and check conservation holds throughout.
	for dropped > 0 {
		n := uint32(2)
		if n > dropped {
			n = dropped
		}
		r.ReleaseN(n)
		dropped -= n
		if r.Rem()+dropped != 16 {
			t.Fatalf("rem(%d) + dropped(%d) != size(16) during release", r.Rem(), dropped)
		}
	}
	if !r.IsFull() {
		t.Fatal("ring should be full after releasing everything")
	}
}

func TestAcquirePanicsOnUnderflow(t *testing.T) {
	r := Init(2)
	r.AcquireN(2)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic acquiring from empty ring")
		}
	}()
	r.Acquire1()
}

func TestReleasePanicsOnOverflow(t *testing.T) {
	r := Init(4)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic releasing more than outstanding")
		}
	}()
	r.ReleaseN(1)
}

func TestHeadNowrapTailNowrap(t *testing.T) {
	r := Init(8)
	r.AcquireN(6) // head at 6, rem 2
	if got := r.HeadNowrap(); got != 2 {
		t.Fatalf("head_nowrap = %d, want 2 (8-6)", got)
	}
	r.ReleaseN(4) // tail at 0->4, rem 6: slots 4 and 5 still outstanding
	if got := r.TailNowrap(); got != 2 {
		t.Fatalf("tail_nowrap = %d, want 2 (outstanding slots 4,5)", got)
	}
}

func TestRingWrapAround(t *testing.T) {
	r := Init(4)
	r.AcquireN(4)
	r.ReleaseN(4)
	// head/tail are now both at 4 (unmodded); acquiring should wrap cleanly.
	idx := r.Acquire1()
	if idx != 0 {
		t.Fatalf("idx after full wrap = %d, want 0", idx)
	}
}

func TestNextAcquire1(t *testing.T) {
	n := InitNext(4)
	for i := uint32(0); i < 10; i++ {
		idx := n.Acquire1()
		if idx != i%4 {
			t.Fatalf("acquire1 %d: idx = %d, want %d", i, idx, i%4)
		}
	}
}

func TestNextAcquire2Invariant(t *testing.T) {
	// For all calls: the returned index i satisfies i+1 < size (spec §8).
	n := InitNext(4)
	for i := 0; i < 50; i++ {
		idx := n.Acquire2()
		if idx+1 >= n.Size() {
			t.Fatalf("acquire2 returned idx=%d, size=%d: i+1 >= size", idx, n.Size())
		}
	}
}

func TestNextAcquire2WastesSlotAtWrapBoundary(t *testing.T) {
	n := InitNext(4)
	n.Acquire1() // head = 1
	n.Acquire1() // head = 2
	// head masked = 2, acquiring 2 gives {2,3} cleanly, no waste.
	idx := n.Acquire2()
	if idx != 2 {
		t.Fatalf("idx = %d, want 2", idx)
	}
	// head is now 4 (masked 0). Acquire1 to land on idx=3 (the last slot).
	n2 := InitNext(4)
	n2.Acquire1()
	n2.Acquire1()
	n2.Acquire1() // head = 3, masked idx 3: one slot left before wrap.
	idx2 := n2.Acquire2()
	if idx2 != 0 {
		t.Fatalf("idx2 = %d, want 0 (slot 3 wasted)", idx2)
	}
}
