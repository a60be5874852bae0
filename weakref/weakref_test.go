package weakref

import "testing"

func TestFreshWeakrefInvalid(t *testing.T) {
	c := NewCounter()
	var wr Weakref
	if c.IsValid(&wr) {
		t.Fatal("zero-value weakref must not be valid against epoch 1")
	}
}

func TestInitThenGetIndexReuse(t *testing.T) {
	// "after init(w, idx) and without an intervening epoch bump,
	// get_index(w) yields idx" (spec §8 law).
	c := NewCounter()
	var wr Weakref
	c.Init(&wr, 42)
	idx, ok := c.GetIndex(&wr)
	if !ok || idx != 42 {
		t.Fatalf("GetIndex = (%d, %v), want (42, true)", idx, ok)
	}
}

func TestIncrementInvalidatesAll(t *testing.T) {
	c := NewCounter()
	var a, b Weakref
	c.Init(&a, 1)
	c.Init(&b, 2)

	c.Increment()

	if _, ok := c.GetIndex(&a); ok {
		t.Fatal("weakref a should be invalid after epoch bump")
	}
	if _, ok := c.GetIndex(&b); ok {
		t.Fatal("weakref b should be invalid after epoch bump")
	}
}

func TestEpochStrictlyIncreases(t *testing.T) {
	c := NewCounter()
	prev := c.Current()
	for i := 0; i < 5; i++ {
		c.Increment()
		if c.Current() <= prev {
			t.Fatalf("epoch did not strictly increase: %d -> %d", prev, c.Current())
		}
		prev = c.Current()
	}
}

func TestGetIndexQuantifiedInvariant(t *testing.T) {
	// "for all weakrefs w: get_index(w) returns true => w.epoch ==
	// current_epoch" (spec §8).
	c := NewCounter()
	var wr Weakref
	c.Init(&wr, 7)
	if idx, ok := c.GetIndex(&wr); ok && wr.epoch != c.Current() {
		t.Fatalf("GetIndex returned true (idx=%d) but epoch mismatch", idx)
	}
	c.Increment()
	if _, ok := c.GetIndex(&wr); ok {
		t.Fatal("GetIndex should report false once epoch has moved on")
	}
}
