package raster

import (
	"errors"
	"testing"

	"github.com/gogpu/spinel/config"
	"github.com/gogpu/spinel/deps"
	"github.com/gogpu/spinel/handle"
	"github.com/gogpu/spinel/ring"
	"github.com/gogpu/spinel/spinelerr"
	"github.com/gogpu/spinel/weakref"
)

// newTestBuilder builds a Builder with only the ring/dispatch bookkeeping
// populated, paired with fakeScheduler/fakeHandlePool — no device,
// allocator or arenas — the same stripped-down construction
// deps/scheduler_test.go and handle/pool_test.go use for their own
// concrete types. acquireNextDispatch skips arena carving entirely since
// b.arenas is left nil (len 0), so no real Vulkan buffer is ever touched.
func newTestBuilder(t *testing.T, cfg config.TargetConfig) (*Builder, *fakeScheduler, *fakeHandlePool) {
	t.Helper()
	sched := newFakeScheduler()
	pool := newFakeHandlePool()
	b := &Builder{
		cfg:           cfg,
		handles:       pool,
		sched:         sched,
		cf:            ring.Init(cfg.Ring),
		cfBytes:       make([]byte, uint64(cfg.Ring)*fillWordSize),
		pathRing:      make([]handle.Handle, cfg.Ring),
		tc:            ring.InitNext(cfg.TCRingSize()),
		tcBytes:       make([]byte, uint64(cfg.TCRingSize())*tcQuadSize),
		rc:            ring.Init(cfg.RCRingSize()),
		rcBytes:       make([]byte, uint64(cfg.RCRingSize())*4),
		rasterRing:    make([]handle.Handle, cfg.RCRingSize()),
		rasterRingU32: make([]uint32, cfg.RCRingSize()),
		dispatches:    make([]dispatchRecord, cfg.Dispatches),
		dispatchRing:  ring.Init(cfg.Dispatches),
		epoch:         weakref.NewCounter(),
	}
	if err := b.acquireNextDispatch(); err != nil {
		t.Fatalf("acquireNextDispatch: %v", err)
	}
	return b, sched, pool
}

func scenarioConfig() config.TargetConfig {
	// spec §8's end-to-end scenario shape: ring=16, cohort=4, eager=2,
	// dispatches=2.
	return config.TargetConfig{Ring: 16, Cohort: 4, Eager: 2, Dispatches: 2}
}

// addOnePath appends a single path/transform/clip triple. tw/cw are
// updated in place so a caller can pass the same pointer across calls
// and observe whether Add reused the weakref or minted a fresh index.
func addOnePath(t *testing.T, b *Builder, pool *fakeHandlePool, tw *weakref.Weakref, transform Transform, cw *weakref.Weakref, clip Clip) {
	t.Helper()
	path := pool.acquirePath()
	tws := []weakref.Weakref{*tw}
	cws := []weakref.Weakref{*cw}
	if err := b.Add([]handle.Handle{path}, tws, []Transform{transform}, cws, []Clip{clip}, 1); err != nil {
		t.Fatalf("Add: %v", err)
	}
	*tw = tws[0]
	*cw = cws[0]
}

// Scenario 1: a single raster made of a single path neither fills the
// cohort nor crosses the eager threshold, so End doesn't trigger a flush.
func TestSingleRasterSinglePath(t *testing.T) {
	b, sched, pool := newTestBuilder(t, scenarioConfig())

	if err := b.Begin(); err != nil {
		t.Fatal(err)
	}
	path := pool.acquirePath()
	var tw, cw weakref.Weakref
	transform := Transform{1, 0, 0, 0, 1, 0, 0, 0}
	clip := Clip{0, 0, 100, 100}
	if err := b.Add([]handle.Handle{path}, []weakref.Weakref{tw}, []Transform{transform}, []weakref.Weakref{cw}, []Clip{clip}, 1); err != nil {
		t.Fatal(err)
	}

	var out handle.Raster
	if err := b.End(&out); err != nil {
		t.Fatal(err)
	}

	if got := b.current().rcSpan; got != 1 {
		t.Fatalf("rcSpan = %d, want 1 (cohort=4, should not have auto-flushed)", got)
	}
	if len(sched.completionOrder) != 0 {
		t.Fatalf("expected no flush yet, got %d flushed dispatches", len(sched.completionOrder))
	}
	if got := b.cf.Rem(); got != 15 {
		t.Fatalf("cf.Rem() = %d, want 15 (ring=16, one slot acquired)", got)
	}
}

// Scenario 2/3: a transform weakref is reused across Add calls within the
// same epoch (no new tc slots consumed), then invalidated by the epoch
// bump a flush causes (the next Add for the same weakref must mint a
// fresh tc slot). The raster is committed with End before flushing: a
// Flush with no committed raster is a no-op and does not bump the epoch.
func TestTransformWeakrefReuseAndEpochInvalidation(t *testing.T) {
	b, _, pool := newTestBuilder(t, scenarioConfig())

	if err := b.Begin(); err != nil {
		t.Fatal(err)
	}
	var tw, cw weakref.Weakref
	transform := Transform{1, 0, 0, 0, 1, 0, 0, 0}
	clip := Clip{0, 0, 100, 100}

	headBefore := b.tc.Head()
	addOnePath(t, b, pool, &tw, transform, &cw, clip)
	headAfterFirst := b.tc.Head()
	if headAfterFirst == headBefore {
		t.Fatal("first add should have minted fresh tc slots")
	}

	addOnePath(t, b, pool, &tw, transform, &cw, clip)
	if got := b.tc.Head(); got != headAfterFirst {
		t.Fatalf("second add reused a valid weakref but tc.Head() advanced: %d -> %d", headAfterFirst, got)
	}

	// End commits the raster; its cf span of 2 reaches eager=2, so End
	// already flushes and the explicit Flush below finds an empty dispatch.
	var out handle.Raster
	if err := b.End(&out); err != nil {
		t.Fatal(err)
	}
	if err := b.Flush(); err != nil {
		t.Fatal(err)
	}

	addOnePath(t, b, pool, &tw, transform, &cw, clip)
	if got := b.tc.Head(); got == headAfterFirst {
		t.Fatal("add after flush should have minted new tc slots (weakref invalidated by epoch bump)")
	}
}

// Scenario 4: End auto-flushes once the cohort fills. Eager is raised to
// the ring size so only the cohort limit can trigger the flush.
func TestCohortAutoFlush(t *testing.T) {
	cfg := scenarioConfig()
	cfg.Eager = cfg.Ring
	b, sched, pool := newTestBuilder(t, cfg)

	transform := Transform{1, 0, 0, 0, 1, 0, 0, 0}
	clip := Clip{0, 0, 100, 100}

	for i := uint32(0); i < cfg.Cohort; i++ {
		if err := b.Begin(); err != nil {
			t.Fatal(err)
		}
		var tw, cw weakref.Weakref
		addOnePath(t, b, pool, &tw, transform, &cw, clip)
		var out handle.Raster
		if err := b.End(&out); err != nil {
			t.Fatalf("End #%d: %v", i, err)
		}
	}

	if len(sched.completionOrder) != 1 {
		t.Fatalf("expected exactly one flush once the cohort filled, got %d", len(sched.completionOrder))
	}
	if got := b.current().rcSpan; got != 0 {
		t.Fatalf("new dispatch's rcSpan = %d, want 0 (fresh dispatch after flush)", got)
	}
}

// Scenario 5: a single Add whose count alone can never fit the ring is
// rejected cleanly and leaves the builder READY; a raster whose
// accumulated wip only overflows once combined with a prior Add is
// unrecoverable (LOST).
func TestAddTooManyPathsAndLost(t *testing.T) {
	cfg := scenarioConfig()

	t.Run("single add exceeding ring size", func(t *testing.T) {
		b, _, pool := newTestBuilder(t, cfg)
		if err := b.Begin(); err != nil {
			t.Fatal(err)
		}
		n := int(cfg.Ring) + 1
		paths := make([]handle.Handle, n)
		tws := make([]weakref.Weakref, n)
		cws := make([]weakref.Weakref, n)
		transforms := make([]Transform, n)
		clips := make([]Clip, n)
		for i := range paths {
			paths[i] = pool.acquirePath()
		}
		err := b.Add(paths, tws, transforms, cws, clips, uint32(n))
		if !errors.Is(err, spinelerr.ErrBuilderTooManyPaths) {
			t.Fatalf("err = %v, want ErrBuilderTooManyPaths", err)
		}
		if b.lost {
			t.Fatal("builder should remain READY, not LOST, for a single oversized add")
		}
		if err := b.Begin(); err != nil {
			t.Fatalf("builder should still accept Begin after a clean reject: %v", err)
		}
	})

	t.Run("wip overflow across add calls is unrecoverable", func(t *testing.T) {
		b, _, pool := newTestBuilder(t, cfg)
		if err := b.Begin(); err != nil {
			t.Fatal(err)
		}
		var tw, cw weakref.Weakref
		transform := Transform{1, 0, 0, 0, 1, 0, 0, 0}
		clip := Clip{0, 0, 100, 100}

		half := int(cfg.Ring) / 2
		paths := make([]handle.Handle, half)
		tws := make([]weakref.Weakref, half)
		cws := make([]weakref.Weakref, half)
		transforms := make([]Transform, half)
		clips := make([]Clip, half)
		for i := range paths {
			paths[i] = pool.acquirePath()
			tws[i] = tw
			cws[i] = cw
			transforms[i] = transform
			clips[i] = clip
		}
		if err := b.Add(paths, tws, transforms, cws, clips, uint32(half)); err != nil {
			t.Fatalf("first add: %v", err)
		}

		// A second add of more than half the ring overflows wipCfSpan,
		// even though it alone would have fit.
		n := half + 1
		paths2 := make([]handle.Handle, n)
		tws2 := make([]weakref.Weakref, n)
		cws2 := make([]weakref.Weakref, n)
		transforms2 := make([]Transform, n)
		clips2 := make([]Clip, n)
		for i := range paths2 {
			paths2[i] = pool.acquirePath()
			tws2[i] = tw
			cws2[i] = cw
			transforms2[i] = transform
			clips2[i] = clip
		}
		err := b.Add(paths2, tws2, transforms2, cws2, clips2, uint32(n))
		if !errors.Is(err, spinelerr.ErrBuilderLost) {
			t.Fatalf("err = %v, want ErrBuilderLost", err)
		}
		if !b.lost {
			t.Fatal("builder should be LOST after wip overflow across add calls")
		}
		if err := b.Begin(); !errors.Is(err, spinelerr.ErrBuilderLost) {
			t.Fatalf("every operation should return ErrBuilderLost once lost, got %v", err)
		}
	})
}

// Scenario 6: dispatch completions can arrive out of order, but the cf
// ring's tail only ever advances in submission order — a dispatch
// completing early just marks itself Complete and waits for the tail
// walk to reach it.
func TestOutOfOrderDispatchCompletionTailWalk(t *testing.T) {
	cfg := config.TargetConfig{Ring: 8, Cohort: 1, Eager: 100, Dispatches: 4}
	b, sched, pool := newTestBuilder(t, cfg)

	transform := Transform{1, 0, 0, 0, 1, 0, 0, 0}
	clip := Clip{0, 0, 100, 100}

	for i := 0; i < 3; i++ {
		if err := b.Begin(); err != nil {
			t.Fatal(err)
		}
		var tw, cw weakref.Weakref
		addOnePath(t, b, pool, &tw, transform, &cw, clip)
		var out handle.Raster
		if err := b.End(&out); err != nil {
			t.Fatalf("End #%d: %v", i, err)
		}
	}

	if len(sched.completionOrder) != 3 {
		t.Fatalf("expected 3 flushed dispatches, got %d", len(sched.completionOrder))
	}
	// All 4 slots are now spoken for: dispatch0-2 pending completion,
	// dispatch3 is the freshly acquired Recording slot from the third
	// Flush's acquireNextDispatch.
	if got := b.dispatchRing.Rem(); got != 0 {
		t.Fatalf("dispatchRing.Rem() = %d, want 0 (4 slots, all in flight or recording)", got)
	}

	// Submission order was [dispatch0, dispatch1, dispatch2]; reorder
	// completion to [dispatch2, dispatch0, dispatch1].
	d0, d1, d2 := sched.completionOrder[0], sched.completionOrder[1], sched.completionOrder[2]
	sched.completionOrder = []deps.Semaphore{d2, d0, d1}

	// Complete dispatch2 first: it is not the tail, so nothing releases.
	progressed, err := sched.Drain1()
	if err != nil || !progressed {
		t.Fatalf("Drain1 #1: progressed=%v err=%v", progressed, err)
	}
	if got := b.dispatchRing.Rem(); got != 0 {
		t.Fatalf("after completing the non-tail dispatch, Rem() = %d, want unchanged 0", got)
	}

	// Complete dispatch0: it is the tail, so it alone releases.
	progressed, err = sched.Drain1()
	if err != nil || !progressed {
		t.Fatalf("Drain1 #2: progressed=%v err=%v", progressed, err)
	}
	if got := b.dispatchRing.Rem(); got != 1 {
		t.Fatalf("after completing the tail dispatch, Rem() = %d, want 1", got)
	}

	// Complete dispatch1: it is now the tail, and releasing it cascades
	// into the already-Complete dispatch2 right behind it.
	progressed, err = sched.Drain1()
	if err != nil || !progressed {
		t.Fatalf("Drain1 #3: progressed=%v err=%v", progressed, err)
	}
	if got := b.dispatchRing.Rem(); got != 3 {
		t.Fatalf("after the cascade, Rem() = %d, want 3 (dispatch0-2 released, dispatch3 still recording)", got)
	}
}
