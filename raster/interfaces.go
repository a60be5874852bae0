package raster

import (
	"github.com/gogpu/spinel/deps"
	"github.com/gogpu/spinel/handle"
)

// Scheduler is the slice of deps.Scheduler the raster builder depends on,
// narrowed to an interface the way the teacher depends on hal.Device/
// hal.Queue rather than a concrete backend (grounded on the teacher's own
// collaborator-boundary style). *deps.Scheduler satisfies it; tests
// substitute a fake that never touches Vulkan.
type Scheduler interface {
	ImmediateSubmit(record deps.RecordFunc, wait deps.WaitSet, completion deps.CompletionFunc) (deps.Semaphore, error)
	DelayedAcquire(submit deps.RecordFunc, completion deps.CompletionFunc) deps.Semaphore
	DelayedAttach(h uint32, d deps.Semaphore)
	DelayedDetach(handles []uint32)
	DelayedDetachRing(handles []uint32, size, head, span uint32)
	DelayedFlushWithWait(d deps.Semaphore, waitHandles []uint32) error
	Drain1() (bool, error)
	DrainAll() error
}

// HandlePool is the slice of handle.Pool the raster builder depends on.
type HandlePool interface {
	Acquire(kind handle.Kind) (handle.Handle, error)
	ValidateDevice(handles []handle.Handle) error
	RetainDevice(handles []handle.Handle) error
	ReleaseDevice(handles []handle.Handle)
	ReleaseRing(handles []handle.Handle, size, head, span uint32)
}

var (
	_ Scheduler  = (*deps.Scheduler)(nil)
	_ HandlePool = (*handle.Pool)(nil)
)
