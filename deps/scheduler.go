// Package deps implements Spinel's ring/dispatch scheduler (spec §4D):
// immediate and delayed semaphores backed by a single timeline counter, a
// handle-to-delayed-semaphore multimap for dependency-triggered flushing,
// and the drain_1/drain_all suspension points every blocking operation in
// the raster builder and handle pool funnels through.
//
// Grounded on the teacher's hal/vulkan/fence_pool.go: fencePool's
// active/free-list split and maintain/wait/waitForLatest methods map onto
// Scheduler's pendingList bookkeeping and Drain1/DrainAll, but
// generalized from recyclable binary fences to a single gpu.Timeline whose
// monotonic counter value doubles as the "semaphore handle" the spec
// describes. Queue submission shape grounded on hal/vulkan/queue.go.
package deps

import (
	"fmt"
	"sort"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"

	"github.com/gogpu/spinel/gpu"
)

// unsafePointerOf is a tiny named wrapper kept in one place so every pNext
// chain construction in this package goes through the same call site.
func unsafePointerOf[T any](v *T) unsafe.Pointer {
	return unsafe.Pointer(v)
}

// Semaphore is a timeline counter value, doubling as both immediate and
// delayed semaphore handles (spec §4D: "semaphores backed by timeline
// counters").
type Semaphore uint64

// RecordFunc records device work into rec. Used for both immediate
// submissions (record_pfn) and delayed submission actions (submission_pfn).
type RecordFunc func(rec gpu.Recorder) error

// CompletionFunc runs on the caller thread inside a drain_* call once the
// GPU has confirmed completion of the submission it was registered for.
type CompletionFunc func()

// ExternalWait names a non-timeline binary semaphore wait (e.g. a
// swapchain image-acquire semaphore) — out of the builder's own scope
// but part of the scheduler's wait-set contract (spec §4D:
// "wait={immediates, delayed-handles, external}").
type ExternalWait struct {
	Semaphore vk.Semaphore
	Stage     vk.PipelineStageFlagBits
}

// WaitSet is the dependency list an ImmediateSubmit declares.
type WaitSet struct {
	Immediates     []Semaphore
	DelayedHandles []uint32
	External       []ExternalWait
}

type delayedEntry struct {
	submit     RecordFunc
	completion CompletionFunc
	flushed    bool
}

type pending struct {
	value      uint64
	completion CompletionFunc
}

// Scheduler is Spinel's deps scheduler (spec §4D). It is single-threaded
// cooperative: every method must be called from the one caller thread that
// owns the builder (spec §5, "Scheduling model").
type Scheduler struct {
	device  *gpu.Device
	timeline *gpu.Timeline
	cmdPool vk.CommandPool

	maxImmediateFanIn uint32

	delayed map[uint64]*delayedEntry
	// attach maps an opaque handle value (a path or raster handle, kept
	// generic here to avoid an import cycle with package handle) to the
	// set of delayed semaphore values attached to it.
	attach map[uint32]map[uint64]struct{}

	pendingList []pending
}

// NewScheduler creates a Scheduler bound to device, recording command
// buffers out of cmdPool (caller-owned, created against the same queue
// family as device.QueueFamily).
func NewScheduler(device *gpu.Device, cmdPool vk.CommandPool, maxImmediateFanIn uint32) (*Scheduler, error) {
	tl, err := gpu.NewTimeline(device.Handle)
	if err != nil {
		return nil, err
	}
	if maxImmediateFanIn == 0 {
		maxImmediateFanIn = 33
	}
	return &Scheduler{
		device:            device,
		timeline:          tl,
		cmdPool:           cmdPool,
		maxImmediateFanIn: maxImmediateFanIn,
		delayed:           make(map[uint64]*delayedEntry),
		attach:            make(map[uint32]map[uint64]struct{}),
	}, nil
}

func (s *Scheduler) allocCommandBuffer() (vk.CommandBuffer, error) {
	info := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        s.cmdPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	cbs := make([]vk.CommandBuffer, 1)
	if r := vk.AllocateCommandBuffers(s.device.Handle, &info, cbs); r != vk.Success {
		return nil, fmt.Errorf("deps: vkAllocateCommandBuffers failed: %d", r)
	}
	return cbs[0], nil
}

// ImmediateSubmit records work via record, submits it waiting on wait's
// dependencies (flushing any attached-but-unflushed delayed semaphores
// first), and registers completion to run once the submission completes
// (spec §4D: "immediate_submit(...) → immediate_semaphore").
func (s *Scheduler) ImmediateSubmit(record RecordFunc, wait WaitSet, completion CompletionFunc) (Semaphore, error) {
	if uint32(len(wait.Immediates)) > s.maxImmediateFanIn {
		return 0, fmt.Errorf("deps: wait set has %d immediates, exceeds MaxImmediateFanIn=%d", len(wait.Immediates), s.maxImmediateFanIn)
	}

	waitValues := append([]uint64(nil), toUint64(wait.Immediates)...)
	for _, h := range wait.DelayedHandles {
		for v := range s.attach[h] {
			if err := s.flushValue(v, nil); err != nil {
				return 0, err
			}
			waitValues = append(waitValues, v)
		}
	}

	cb, err := s.allocCommandBuffer()
	if err != nil {
		return 0, err
	}
	rec := gpu.Recorder{CB: cb}
	if err := rec.Begin(); err != nil {
		return 0, err
	}
	if err := record(rec); err != nil {
		return 0, err
	}
	if err := rec.End(); err != nil {
		return 0, err
	}

	signalValue := s.timeline.NextSignalValue()
	if err := s.submit(cb, waitValues, wait.External, signalValue); err != nil {
		return 0, err
	}

	if completion != nil {
		s.pendingList = append(s.pendingList, pending{value: signalValue, completion: completion})
	}
	return Semaphore(signalValue), nil
}

// DelayedAcquire reserves a future timeline value and stores submit to run
// later, when something forces a flush (spec §4D: "delayed_acquire(...) →
// delayed_semaphore"). completion, if non-nil, runs once this delayed
// submission's value is confirmed complete by a later drain_* call — the
// same completion-on-drain contract ImmediateSubmit offers, extended to
// the delayed path so a raster dispatch's completion callback (spec §4G)
// has somewhere to run.
func (s *Scheduler) DelayedAcquire(submit RecordFunc, completion CompletionFunc) Semaphore {
	value := s.timeline.NextSignalValue()
	s.delayed[value] = &delayedEntry{submit: submit, completion: completion}
	return Semaphore(value)
}

// DelayedAttach attaches a delayed semaphore to an opaque handle value, so
// any later ImmediateSubmit listing that handle in DelayedHandles flushes
// it first (spec §4D: "delayed_attach(handle, delayed)").
func (s *Scheduler) DelayedAttach(h uint32, d Semaphore) {
	set, ok := s.attach[h]
	if !ok {
		set = make(map[uint64]struct{})
		s.attach[h] = set
	}
	set[uint64(d)] = struct{}{}
}

// DelayedDetach removes every delayed-semaphore attachment for the given
// handles (spec §4D: "delayed_detach(handles, n)").
func (s *Scheduler) DelayedDetach(handles []uint32) {
	for _, h := range handles {
		delete(s.attach, h)
	}
}

// DelayedDetachRing detaches across up to two contiguous slices of a
// circular extent — the same shape as handle.Pool.ReleaseRing (spec §4D:
// "delayed_detach_ring(handles, size, head, span)").
func (s *Scheduler) DelayedDetachRing(handles []uint32, size, head, span uint32) {
	if span == 0 || size == 0 {
		return
	}
	start := head % size
	first := size - start
	if first > span {
		first = span
	}
	s.DelayedDetach(handles[start : start+first])
	remaining := span - first
	if remaining > 0 {
		s.DelayedDetach(handles[:remaining])
	}
}

// DelayedFlush triggers delayed's submission action immediately (spec §4D:
// "delayed_flush(delayed)"), with no additional wait dependencies beyond
// what record itself establishes via resource barriers.
func (s *Scheduler) DelayedFlush(d Semaphore) error {
	return s.flushValue(uint64(d), nil)
}

// DelayedFlushWithWait triggers delayed's submission action immediately,
// additionally waiting on every delayed semaphore currently attached to
// waitHandles (flushing each first if it hasn't fired yet). This is the
// path the raster builder uses: its submission action must wait on the
// delayed semaphores attached to every path handle referenced by its cf
// span (spec §4G: "materialization of those paths").
func (s *Scheduler) DelayedFlushWithWait(d Semaphore, waitHandles []uint32) error {
	return s.flushValue(uint64(d), waitHandles)
}

func (s *Scheduler) flushValue(value uint64, waitHandles []uint32) error {
	entry, ok := s.delayed[value]
	if !ok || entry.flushed {
		return nil
	}
	entry.flushed = true

	var waitValues []uint64
	for _, h := range waitHandles {
		for v := range s.attach[h] {
			if v == value {
				continue
			}
			if err := s.flushValue(v, nil); err != nil {
				return err
			}
			waitValues = append(waitValues, v)
		}
	}

	cb, err := s.allocCommandBuffer()
	if err != nil {
		return err
	}
	rec := gpu.Recorder{CB: cb}
	if err := rec.Begin(); err != nil {
		return err
	}
	if err := entry.submit(rec); err != nil {
		return err
	}
	if err := rec.End(); err != nil {
		return err
	}
	if err := s.submit(cb, waitValues, nil, value); err != nil {
		return err
	}
	if entry.completion != nil {
		s.pendingList = append(s.pendingList, pending{value: value, completion: entry.completion})
	}
	return nil
}

func (s *Scheduler) submit(cb vk.CommandBuffer, waitValues []uint64, external []ExternalWait, signalValue uint64) error {
	waitSemaphores := make([]vk.Semaphore, 0, len(waitValues)+len(external))
	waitStages := make([]vk.PipelineStageFlags, 0, len(waitValues)+len(external))
	timelineWaitValues := make([]uint64, 0, len(waitValues)+len(external))
	for range waitValues {
		waitSemaphores = append(waitSemaphores, s.timeline.Semaphore())
		waitStages = append(waitStages, vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit))
	}
	timelineWaitValues = append(timelineWaitValues, waitValues...)
	for _, ext := range external {
		waitSemaphores = append(waitSemaphores, ext.Semaphore)
		waitStages = append(waitStages, vk.PipelineStageFlags(ext.Stage))
		timelineWaitValues = append(timelineWaitValues, 0) // binary semaphores ignore the value array slot
	}

	signalSemaphores := []vk.Semaphore{s.timeline.Semaphore()}
	signalValues := []uint64{signalValue}

	timelineInfo := vk.TimelineSemaphoreSubmitInfo{
		SType:                     vk.StructureTypeTimelineSemaphoreSubmitInfo,
		WaitSemaphoreValueCount:   uint32(len(timelineWaitValues)),
		SignalSemaphoreValueCount: uint32(len(signalValues)),
	}
	if len(timelineWaitValues) > 0 {
		timelineInfo.PWaitSemaphoreValues = &timelineWaitValues[0]
	}
	timelineInfo.PSignalSemaphoreValues = &signalValues[0]

	info := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		PNext:              unsafePointerOf(&timelineInfo),
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cb},
	}
	if len(waitSemaphores) > 0 {
		info.WaitSemaphoreCount = uint32(len(waitSemaphores))
		info.PWaitSemaphores = waitSemaphores
		info.PWaitDstStageMask = waitStages
	}
	info.SignalSemaphoreCount = 1
	info.PSignalSemaphores = signalSemaphores

	if r := vk.QueueSubmit(s.device.Queue, 1, []vk.SubmitInfo{info}, vk.Fence(0)); r != vk.Success {
		if r == vk.ErrorDeviceLost {
			return gpu.ErrDeviceLost
		}
		return fmt.Errorf("deps: vkQueueSubmit failed: %d", r)
	}
	return nil
}

// Drain1 blocks until at least one completion callback has fired, or
// returns false if nothing is pending (spec §4D: "drain_1() — block until
// at least one completion callback has fired... returns whether progress
// occurred").
func (s *Scheduler) Drain1() (bool, error) {
	if len(s.pendingList) == 0 {
		return false, nil
	}

	sort.Slice(s.pendingList, func(i, j int) bool { return s.pendingList[i].value < s.pendingList[j].value })
	target := s.pendingList[0].value
	if err := s.timeline.Wait(s.device.Handle, target, ^uint64(0)); err != nil {
		return false, err
	}

	completed, err := s.timeline.CompletedValue(s.device.Handle)
	if err != nil {
		return false, err
	}

	fired := false
	remaining := s.pendingList[:0]
	for _, p := range s.pendingList {
		if p.value <= completed {
			fired = true
			if p.completion != nil {
				p.completion()
			}
			delete(s.delayed, p.value)
		} else {
			remaining = append(remaining, p)
		}
	}
	s.pendingList = remaining
	return fired, nil
}

// DrainAll blocks until all pending submissions have completed and their
// completion callbacks have run (spec §4D: "drain_all()").
func (s *Scheduler) DrainAll() error {
	for {
		progressed, err := s.Drain1()
		if err != nil {
			return err
		}
		if !progressed {
			return nil
		}
	}
}

// Destroy destroys the underlying timeline semaphore. Must be called only
// after DrainAll has quiesced all outstanding work.
func (s *Scheduler) Destroy() {
	s.timeline.Destroy(s.device.Handle)
}

func toUint64(sems []Semaphore) []uint64 {
	out := make([]uint64, len(sems))
	for i, s := range sems {
		out[i] = uint64(s)
	}
	return out
}
