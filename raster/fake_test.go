package raster

import (
	"github.com/gogpu/spinel/deps"
	"github.com/gogpu/spinel/handle"
	"github.com/gogpu/spinel/spinelerr"
)

// fakeDispatch is one flushed-but-not-yet-completed delayed submission
// recorded by fakeScheduler.
type fakeDispatch struct {
	submit     deps.RecordFunc
	completion deps.CompletionFunc
	flushed    bool
	done       bool
	wait       []uint32
}

// fakeScheduler is a bookkeeping-only double for *deps.Scheduler, the same
// way deps/scheduler_test.go's newTestScheduler strips the real type down
// to its pure map state. It never calls a flushed entry's RecordFunc —
// exercising the GPU command recording itself needs a real device, out of
// scope for raster.Builder's own orchestration tests — but it tracks
// every flush's wait list so tests can assert on it, and lets a test
// complete dispatches in any order via completionOrder.
type fakeScheduler struct {
	next    uint64
	delayed map[deps.Semaphore]*fakeDispatch
	attach  map[uint32]map[deps.Semaphore]struct{}

	// completionOrder is the FIFO of flushed-but-incomplete semaphores;
	// Drain1 completes the front entry. A test can reorder this slice
	// directly between flushes to simulate out-of-order GPU completion.
	completionOrder []deps.Semaphore
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{
		delayed: make(map[deps.Semaphore]*fakeDispatch),
		attach:  make(map[uint32]map[deps.Semaphore]struct{}),
	}
}

func (f *fakeScheduler) ImmediateSubmit(record deps.RecordFunc, wait deps.WaitSet, completion deps.CompletionFunc) (deps.Semaphore, error) {
	f.next++
	if completion != nil {
		completion()
	}
	return deps.Semaphore(f.next), nil
}

func (f *fakeScheduler) DelayedAcquire(submit deps.RecordFunc, completion deps.CompletionFunc) deps.Semaphore {
	f.next++
	d := deps.Semaphore(f.next)
	f.delayed[d] = &fakeDispatch{submit: submit, completion: completion}
	return d
}

func (f *fakeScheduler) DelayedAttach(h uint32, d deps.Semaphore) {
	set := f.attach[h]
	if set == nil {
		set = make(map[deps.Semaphore]struct{})
		f.attach[h] = set
	}
	set[d] = struct{}{}
}

func (f *fakeScheduler) DelayedDetach(handles []uint32) {
	for _, h := range handles {
		delete(f.attach, h)
	}
}

func (f *fakeScheduler) DelayedDetachRing(handles []uint32, size, head, span uint32) {
	if span == 0 || size == 0 {
		return
	}
	start := head % size
	first := size - start
	if first > span {
		first = span
	}
	f.DelayedDetach(handles[start : start+first])
	remaining := span - first
	if remaining > 0 {
		f.DelayedDetach(handles[:remaining])
	}
}

func (f *fakeScheduler) DelayedFlushWithWait(d deps.Semaphore, waitHandles []uint32) error {
	entry, ok := f.delayed[d]
	if !ok || entry.flushed {
		return nil
	}
	entry.flushed = true
	entry.wait = waitHandles
	f.completionOrder = append(f.completionOrder, d)
	return nil
}

func (f *fakeScheduler) Drain1() (bool, error) {
	for i, d := range f.completionOrder {
		entry := f.delayed[d]
		if entry == nil || entry.done {
			continue
		}
		entry.done = true
		f.completionOrder = append(f.completionOrder[:i:i], f.completionOrder[i+1:]...)
		if entry.completion != nil {
			entry.completion()
		}
		return true, nil
	}
	return false, nil
}

func (f *fakeScheduler) DrainAll() error {
	for {
		progressed, err := f.Drain1()
		if err != nil {
			return err
		}
		if !progressed {
			return nil
		}
	}
}

var _ Scheduler = (*fakeScheduler)(nil)

// fakeHandlePool is a bookkeeping-only double for *handle.Pool, mirroring
// handle/pool_test.go's newTestPool: it keeps device refcounts but skips
// the free-ring, host-side accounting and reclaim rings entirely, since
// raster.Builder never touches those.
type fakeHandlePool struct {
	nextPath   uint32
	nextRaster uint32
	deviceRefs map[handle.Handle]uint32
}

func newFakeHandlePool() *fakeHandlePool {
	return &fakeHandlePool{
		deviceRefs: make(map[handle.Handle]uint32),
		nextRaster: 1 << 16,
	}
}

// acquirePath mints a fresh path handle with device refcount 1, the way
// handle.Pool.Acquire does. Tests use this to build the []handle.Handle
// slice a real caller would already have validated paths from.
func (f *fakeHandlePool) acquirePath() handle.Handle {
	h := handle.Handle(f.nextPath)
	f.nextPath++
	f.deviceRefs[h] = 1
	return h
}

func (f *fakeHandlePool) Acquire(kind handle.Kind) (handle.Handle, error) {
	if kind == handle.KindRaster {
		h := handle.Handle(f.nextRaster)
		f.nextRaster++
		f.deviceRefs[h] = 1
		return h, nil
	}
	return f.acquirePath(), nil
}

func (f *fakeHandlePool) ValidateDevice(handles []handle.Handle) error {
	for _, h := range handles {
		if f.deviceRefs[h] == 0 {
			return spinelerr.NewHandleError("validate_device", uint32(h), spinelerr.ErrInvalidHandle)
		}
	}
	return nil
}

func (f *fakeHandlePool) RetainDevice(handles []handle.Handle) error {
	for _, h := range handles {
		f.deviceRefs[h]++
	}
	return nil
}

func (f *fakeHandlePool) ReleaseDevice(handles []handle.Handle) {
	for _, h := range handles {
		f.deviceRefs[h]--
	}
}

func (f *fakeHandlePool) ReleaseRing(handles []handle.Handle, size, head, span uint32) {
	if span == 0 || size == 0 {
		return
	}
	start := head % size
	first := size - start
	if first > span {
		first = span
	}
	f.ReleaseDevice(handles[start : start+first])
	remaining := span - first
	if remaining > 0 {
		f.ReleaseDevice(handles[:remaining])
	}
}

var _ HandlePool = (*fakeHandlePool)(nil)
