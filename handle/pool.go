package handle

import (
	"fmt"

	"github.com/gogpu/spinel/deps"
	"github.com/gogpu/spinel/gpu"
	"github.com/gogpu/spinel/memorypool"
	"github.com/gogpu/spinel/ring"
	"github.com/gogpu/spinel/spinelerr"
)

// Stats reports a snapshot of pool occupancy, supplemented beyond spec
// §4C for observability (telemetry/metrics are a carried ambient concern,
// per SPEC_FULL.md's ambient stack).
type Stats struct {
	Capacity       uint32
	Free           uint32
	PendingPaths   uint32
	PendingRasters uint32
}

// Pool is Spinel's refcounted handle pool (spec §3, §4C): a free-slot
// ring populated with [0, H), a parallel packed host/device refcount
// array, and two batched, shader-driven reclaim rings.
//
// Grounded on core/id.go's packed index+epoch RawID record (generalized
// here to independent host/device refcount halves instead of a single
// epoch) and core/identity.go's free-list allocator shape; the reclaim
// rings' dispatch/flush/drain pattern is grounded on
// hal/vulkan/fence_pool.go's active/free split (see reclaim.go).
type Pool struct {
	sched *deps.Scheduler

	free      ring.Ring
	freeSlots []Handle
	refcounts []refcount
	kinds     []Kind

	paths   *reclaimRing
	rasters *reclaimRing
}

// NewPool creates a handle pool of capacity (which must be a power of
// two — an implementation choice that lets the free ring reuse
// ring.Ring rather than a general-purpose queue) with reclaim ring
// extents of reclaimSize slots each, flushing a reclaim ring once its
// in-progress span reaches eager entries.
func NewPool(device *gpu.Device, alloc *memorypool.Allocator, sched *deps.Scheduler,
	capacity uint32, reclaimSize uint32, eager uint32, pathShader, rasterShader ReclaimShader) (*Pool, error) {
	if capacity == 0 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("handle: pool capacity must be a power of two, got %d", capacity)
	}

	p := &Pool{
		sched:     sched,
		free:      ring.Init(capacity),
		freeSlots: make([]Handle, capacity),
		refcounts: make([]refcount, capacity),
		kinds:     make([]Kind, capacity),
	}
	for i := range p.freeSlots {
		p.freeSlots[i] = Handle(i)
	}

	paths, err := newReclaimRing(KindPath, device, sched, alloc, pathShader, reclaimSize, eager, p.onPathsReclaimed)
	if err != nil {
		return nil, err
	}
	rasters, err := newReclaimRing(KindRaster, device, sched, alloc, rasterShader, reclaimSize, eager, p.onRastersReclaimed)
	if err != nil {
		paths.Destroy()
		return nil, err
	}
	p.paths = paths
	p.rasters = rasters
	return p, nil
}

func (p *Pool) onPathsReclaimed(handles []Handle)   { p.pushFree(handles) }
func (p *Pool) onRastersReclaimed(handles []Handle) { p.pushFree(handles) }

func (p *Pool) pushFree(handles []Handle) {
	size := p.free.Size()
	tail := p.free.Tail()
	for i, h := range handles {
		p.freeSlots[(tail+uint32(i))&(size-1)] = h
	}
	p.free.ReleaseN(uint32(len(handles)))
}

func (p *Pool) validateRange(h Handle) error {
	if uint32(h) >= uint32(len(p.refcounts)) {
		return spinelerr.NewHandleError("validate", uint32(h), spinelerr.ErrInvalidHandle)
	}
	return nil
}

func (p *Pool) reclaimRingFor(kind Kind) *reclaimRing {
	if kind == KindRaster {
		return p.rasters
	}
	return p.paths
}

// Acquire pops a free slot, draining and flushing in-flight reclamation
// as needed to make room (spec §4C: "acquire() → Handle"). kind records
// which reclaim ring this handle's eventual release routes to.
func (p *Pool) Acquire(kind Kind) (Handle, error) {
	if p.free.IsEmpty() {
		gpu.Logger().Warn("handle: acquire found no free slot, draining before proceeding", "kind", kind)
		if err := p.sched.DrainAll(); err != nil {
			return 0, err
		}
	}
	for p.free.IsEmpty() {
		pathsPending := p.paths.HasPendingWork()
		rastersPending := p.rasters.HasPendingWork()
		if !pathsPending && !rastersPending {
			gpu.Logger().Error("handle: acquire found both reclaim rings empty with no free slots, escalating to device-lost")
			return 0, spinelerr.ErrDeviceLost
		}
		if pathsPending {
			if err := p.paths.Flush(); err != nil {
				return 0, err
			}
		}
		if rastersPending {
			if err := p.rasters.Flush(); err != nil {
				return 0, err
			}
		}
		progressed, err := p.sched.Drain1()
		if err != nil {
			return 0, err
		}
		if !progressed && p.free.IsEmpty() {
			gpu.Logger().Error("handle: acquire stalled with no drain progress and no free slot, escalating to device-lost")
			return 0, spinelerr.ErrDeviceLost
		}
	}

	idx := p.free.Acquire1()
	h := p.freeSlots[idx]
	p.refcounts[h] = packRefcount(1, 1)
	p.kinds[h] = kind
	return h, nil
}

// RetainHost increments the host half of every handle's refcount,
// validating the whole batch before mutating any of it (spec §4C:
// "validate... all handles before mutating any").
func (p *Pool) RetainHost(handles []Handle) error {
	for _, h := range handles {
		if err := p.validateRange(h); err != nil {
			return err
		}
		if p.refcounts[h].host() >= refcountMax-1 {
			return spinelerr.NewHandleError("retain_host", uint32(h), spinelerr.ErrHandleOverflow)
		}
	}
	for _, h := range handles {
		rc := p.refcounts[h]
		p.refcounts[h] = packRefcount(rc.host()+1, rc.device())
	}
	return nil
}

// ReleaseHost decrements the host half of every handle's refcount,
// validating the whole batch first, and enqueues any handle that reaches
// zero on both halves into its reclaim ring.
func (p *Pool) ReleaseHost(handles []Handle) error {
	for _, h := range handles {
		if err := p.validateRange(h); err != nil {
			return err
		}
		if p.refcounts[h].host() == 0 {
			return spinelerr.NewHandleError("release_host", uint32(h), spinelerr.ErrInvalidHandle)
		}
	}

	var deadPaths, deadRasters []Handle
	for _, h := range handles {
		rc := p.refcounts[h]
		nrc := packRefcount(rc.host()-1, rc.device())
		p.refcounts[h] = nrc
		if nrc.isDead() {
			if p.kinds[h] == KindRaster {
				deadRasters = append(deadRasters, h)
			} else {
				deadPaths = append(deadPaths, h)
			}
		}
	}
	if len(deadPaths) > 0 {
		if err := p.paths.Append(deadPaths); err != nil {
			return err
		}
	}
	if len(deadRasters) > 0 {
		if err := p.rasters.Append(deadRasters); err != nil {
			return err
		}
	}
	return nil
}

// RetainDevice increments the device half of every handle's refcount.
// Unlike RetainHost this path is exercised by the raster builder on the
// caller's behalf with handles it already validated, but retains the
// same overflow check since device overflow is a distinct, reportable
// error kind (spec §3).
func (p *Pool) RetainDevice(handles []Handle) error {
	for _, h := range handles {
		if err := p.validateRange(h); err != nil {
			return err
		}
		if p.refcounts[h].device() >= refcountMax-1 {
			return spinelerr.NewHandleError("retain_device", uint32(h), spinelerr.ErrHandleOverflow)
		}
	}
	for _, h := range handles {
		rc := p.refcounts[h]
		p.refcounts[h] = packRefcount(rc.host(), rc.device()+1)
	}
	return nil
}

// ValidateDevice checks that every handle is in range and currently
// device-retained, without mutating anything. The raster builder uses
// this to confirm a caller-supplied path handle is still live before
// referencing it in a fill command (spec §4G step: "validate device
// refcounts for all paths[]; any failure aborts the whole add with no
// mutation").
func (p *Pool) ValidateDevice(handles []Handle) error {
	for _, h := range handles {
		if err := p.validateRange(h); err != nil {
			return err
		}
		if p.refcounts[h].device() == 0 {
			return spinelerr.NewHandleError("validate_device", uint32(h), spinelerr.ErrInvalidHandle)
		}
	}
	return nil
}

// ReleaseDevice decrements the device half of every handle's refcount
// without validation (spec §4C: "release_device never validates — the
// device side is trusted"). An already-zero device half is a fatal
// implementation bug, not a reportable error — mirrors ring.Ring's
// underflow contract.
func (p *Pool) ReleaseDevice(handles []Handle) {
	var deadPaths, deadRasters []Handle
	for _, h := range handles {
		rc := p.refcounts[h]
		if rc.device() == 0 {
			panic(fmt.Sprintf("handle: release_device on handle %d with device refcount already 0", h))
		}
		nrc := packRefcount(rc.host(), rc.device()-1)
		p.refcounts[h] = nrc
		if nrc.isDead() {
			if p.kinds[h] == KindRaster {
				deadRasters = append(deadRasters, h)
			} else {
				deadPaths = append(deadPaths, h)
			}
		}
	}
	if len(deadPaths) > 0 {
		if err := p.paths.Append(deadPaths); err != nil {
			panic(fmt.Sprintf("handle: reclaim append failed during release_device: %v", err))
		}
	}
	if len(deadRasters) > 0 {
		if err := p.rasters.Append(deadRasters); err != nil {
			panic(fmt.Sprintf("handle: reclaim append failed during release_device: %v", err))
		}
	}
}

// ReleaseRing releases device refcounts across up to two contiguous
// slices of a circular extent (spec §4C: "release_ring(handles, size,
// head, span)").
func (p *Pool) ReleaseRing(handles []Handle, size, head, span uint32) {
	if span == 0 || size == 0 {
		return
	}
	start := head % size
	first := size - start
	if first > span {
		first = span
	}
	p.ReleaseDevice(handles[start : start+first])
	remaining := span - first
	if remaining > 0 {
		p.ReleaseDevice(handles[:remaining])
	}
}

// Stats reports current pool occupancy.
func (p *Pool) Stats() Stats {
	return Stats{
		Capacity:       p.free.Size(),
		Free:           p.free.Rem(),
		PendingPaths:   uint32(len(p.paths.pending)) + boolToUint32(p.paths.wipSpan > 0),
		PendingRasters: uint32(len(p.rasters.pending)) + boolToUint32(p.rasters.wipSpan > 0),
	}
}

func boolToUint32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// Destroy tears down both reclaim rings. Must only be called once the
// scheduler has drained all pending work.
func (p *Pool) Destroy() {
	p.paths.Destroy()
	p.rasters.Destroy()
}
