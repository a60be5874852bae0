package handle

import (
	"testing"

	"github.com/gogpu/spinel/ring"
)

// newTestPool builds a Pool with only the free-ring/refcount bookkeeping
// populated — no device, scheduler or reclaim rings — since
// RetainHost/ReleaseHost/RetainDevice never touch the reclaim rings as
// long as a release doesn't bring a handle's refcount fully to zero.
func newTestPool(capacity uint32) *Pool {
	p := &Pool{
		free:      ring.Init(capacity),
		freeSlots: make([]Handle, capacity),
		refcounts: make([]refcount, capacity),
		kinds:     make([]Kind, capacity),
	}
	for i := range p.freeSlots {
		p.freeSlots[i] = Handle(i)
	}
	return p
}

func acquireDirect(p *Pool, kind Kind) Handle {
	idx := p.free.Acquire1()
	h := p.freeSlots[idx]
	p.refcounts[h] = packRefcount(1, 1)
	p.kinds[h] = kind
	return h
}

func TestRetainReleaseHostSymmetry(t *testing.T) {
	p := newTestPool(4)
	h := acquireDirect(p, KindPath)

	if err := p.RetainHost([]Handle{h, h, h}); err != nil {
		t.Fatal(err)
	}
	if got := p.refcounts[h].host(); got != 4 {
		t.Fatalf("host refcount = %d, want 4", got)
	}
	if err := p.ReleaseHost([]Handle{h, h, h}); err != nil {
		t.Fatal(err)
	}
	if got := p.refcounts[h].host(); got != 1 {
		t.Fatalf("host refcount after release = %d, want 1", got)
	}
}

func TestReleaseHostInvalidHandleOutOfRange(t *testing.T) {
	p := newTestPool(4)
	if err := p.ReleaseHost([]Handle{99}); err == nil {
		t.Fatal("expected error releasing out-of-range handle")
	}
}

func TestReleaseHostZeroCountRejected(t *testing.T) {
	p := newTestPool(4)
	h := acquireDirect(p, KindPath)
	if err := p.ReleaseHost([]Handle{h}); err != nil {
		t.Fatal(err)
	}
	// host half is now 0 (but device half is still 1, so h did not reclaim).
	if err := p.ReleaseHost([]Handle{h}); err == nil {
		t.Fatal("expected error releasing a handle with host refcount already 0")
	}
}

func TestRetainHostOverflowRejected(t *testing.T) {
	p := newTestPool(4)
	h := acquireDirect(p, KindPath)
	p.refcounts[h] = packRefcount(refcountMax-1, 1)
	if err := p.RetainHost([]Handle{h}); err == nil {
		t.Fatal("expected overflow error")
	}
}

func TestRetainHostAllOrNothing(t *testing.T) {
	p := newTestPool(4)
	h1 := acquireDirect(p, KindPath)
	h2 := acquireDirect(p, KindPath)
	before1 := p.refcounts[h1]
	before2 := p.refcounts[h2]

	// h1 valid, out-of-range handle invalid: nothing should mutate.
	if err := p.RetainHost([]Handle{h1, 99}); err == nil {
		t.Fatal("expected error")
	}
	if p.refcounts[h1] != before1 || p.refcounts[h2] != before2 {
		t.Fatal("partial mutation occurred despite validation failure")
	}
}

func TestRetainReleaseDeviceSymmetry(t *testing.T) {
	p := newTestPool(4)
	h := acquireDirect(p, KindPath)
	if err := p.RetainDevice([]Handle{h, h}); err != nil {
		t.Fatal(err)
	}
	if got := p.refcounts[h].device(); got != 3 {
		t.Fatalf("device refcount = %d, want 3", got)
	}
	p.ReleaseDevice([]Handle{h, h})
	if got := p.refcounts[h].device(); got != 1 {
		t.Fatalf("device refcount after release = %d, want 1", got)
	}
}

func TestReleaseDeviceUnderflowPanics(t *testing.T) {
	p := newTestPool(4)
	h := acquireDirect(p, KindPath)
	p.refcounts[h] = packRefcount(1, 0)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic releasing device refcount already at 0")
		}
	}()
	p.ReleaseDevice([]Handle{h})
}

func TestPushFreeRestoresFreeSlots(t *testing.T) {
	p := newTestPool(4)
	// Drain the free ring down to 1 remaining slot.
	acquireDirect(p, KindPath)
	acquireDirect(p, KindPath)
	acquireDirect(p, KindPath)
	if p.free.Rem() != 1 {
		t.Fatalf("Rem() = %d, want 1", p.free.Rem())
	}
	p.pushFree([]Handle{10, 11, 12})
	if p.free.Rem() != 4 {
		t.Fatalf("Rem() after pushFree = %d, want 4", p.free.Rem())
	}
}
