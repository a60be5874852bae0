package handle

import (
	"encoding/binary"
	"fmt"

	vk "github.com/vulkan-go/vulkan"

	"github.com/gogpu/spinel/config"
	"github.com/gogpu/spinel/deps"
	"github.com/gogpu/spinel/gpu"
	"github.com/gogpu/spinel/memorypool"
	"github.com/gogpu/spinel/ring"
	"github.com/gogpu/spinel/spinelerr"
)

// Kind distinguishes which of the two reclaim rings a dead handle belongs
// to (spec §4C: "two reclaim rings (one for paths, one for rasters)").
type Kind uint8

const (
	KindPath Kind = iota
	KindRaster
)

// ReclaimShader names the compute pipeline a reclaim flush dispatches.
// The shader itself is an out-of-scope collaborator (spec §1); this is
// only the binding Spinel's own dispatch code needs.
type ReclaimShader struct {
	Pipeline vk.Pipeline
	Layout   vk.PipelineLayout
	Group    config.GroupSize
}

type reclaimPushConstants struct {
	Head uint32
	Span uint32
}

func (p reclaimPushConstants) bytes() []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], p.Head)
	binary.LittleEndian.PutUint32(buf[4:8], p.Span)
	return buf
}

type reclaimDispatch struct {
	handles []Handle
	done    bool
}

// reclaimRing is one of the handle pool's two batched, shader-driven
// reclaim rings (spec §4C). Each has its own host-mapped slot extent
// (staged), its own capacity accounting (cap, mirroring how many
// appended-but-not-yet-completed entries it currently holds) and a FIFO
// of in-flight dispatches that must be resolved tail-first even though
// completions may arrive out of order.
type reclaimRing struct {
	kind   Kind
	device *gpu.Device
	sched  *deps.Scheduler
	shader ReclaimShader
	staged *memorypool.StagedBuffer

	cap   ring.Ring
	eager uint32

	// scratch/appending implement spec §9's queued-work answer to
	// reentrant reclamation: a completion callback fired from inside
	// Append's own flush may call Append again. Rather than re-deriving a
	// mutable "work in progress" cursor across that reentry, further
	// appends are queued into scratch and drained by the outermost call.
	scratch   []Handle
	appending bool

	wipHead   uint32
	wipSpan   uint32
	wipValues []Handle

	pending []*reclaimDispatch

	onReclaimed func([]Handle)
}

func newReclaimRing(kind Kind, device *gpu.Device, sched *deps.Scheduler, alloc *memorypool.Allocator,
	shader ReclaimShader, size uint32, eager uint32, onReclaimed func([]Handle)) (*reclaimRing, error) {
	staged, err := memorypool.NewStagedBuffer(alloc, size, 4, vk.BufferUsageFlagBits(vk.BufferUsageStorageBufferBit))
	if err != nil {
		return nil, fmt.Errorf("handle: reclaim ring staging buffer: %w", err)
	}
	return &reclaimRing{
		kind:        kind,
		device:      device,
		sched:       sched,
		shader:      shader,
		staged:      staged,
		cap:         ring.Init(size),
		eager:       eager,
		onReclaimed: onReclaimed,
	}, nil
}

// HasPendingWork reports whether this ring has anything accumulated or
// in flight that a flush/drain could still make progress on — the
// per-ring half of Pool.Acquire's "both reclaim rings full (no pending
// reclamations)" device-lost check.
func (r *reclaimRing) HasPendingWork() bool {
	return r.wipSpan > 0 || len(r.pending) > 0
}

// Append queues handles for reclamation, flushing automatically once the
// in-progress span reaches the eager threshold or the ring runs out of
// capacity to buffer more (spec §4C: "A flush is triggered when the
// in-progress span reaches the 'eager' threshold").
func (r *reclaimRing) Append(handles []Handle) error {
	r.scratch = append(r.scratch, handles...)
	if r.appending {
		return nil
	}
	r.appending = true
	defer func() { r.appending = false }()

	for len(r.scratch) > 0 {
		batch := r.scratch
		r.scratch = nil
		for _, h := range batch {
			for r.cap.Rem() == 0 {
				if r.wipSpan > 0 {
					if err := r.flushLocked(); err != nil {
						return err
					}
					continue
				}
				progressed, err := r.sched.Drain1()
				if err != nil {
					return err
				}
				if !progressed {
					return spinelerr.ErrDeviceLost
				}
			}
			r.cap.Acquire1() // consumes capacity; the actual slot is derived from wipHead+wipSpan below
			buf := r.staged.Host.Bytes()
			slot := (r.wipHead + r.wipSpan) % r.cap.Size()
			binary.LittleEndian.PutUint32(buf[slot*4:slot*4+4], uint32(h))
			r.wipValues = append(r.wipValues, h)
			r.wipSpan++
			if r.wipSpan >= r.eager {
				gpu.Logger().Debug("handle: reclaim ring eager flush", "kind", r.kind, "span", r.wipSpan)
				if err := r.flushLocked(); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Flush forces the in-progress span to dispatch immediately, regardless
// of the eager threshold.
func (r *reclaimRing) Flush() error {
	return r.flushLocked()
}

func (r *reclaimRing) flushLocked() error {
	if r.wipSpan == 0 {
		return nil
	}

	if err := r.staged.FlushHostWrites(r.device, r.wipHead, r.wipSpan); err != nil {
		return err
	}

	values := r.wipValues
	head := r.wipHead
	span := r.wipSpan
	regions := r.staged.Regions(head, span, uint64(head))

	dispatch := &reclaimDispatch{handles: values}
	r.pending = append(r.pending, dispatch)

	groupSize := r.shader.Group.Subgroup() * r.shader.Group.Workgroup
	if groupSize == 0 {
		groupSize = 1
	}
	workgroups := (span + groupSize - 1) / groupSize

	record := func(rec gpu.Recorder) error {
		if len(regions) > 0 {
			rec.CopyBuffer(r.staged.Host.Handle, r.staged.Device.Handle, regions)
			rec.PipelineBarrier(vk.PipelineStageTransferBit, vk.PipelineStageComputeShaderBit,
				vk.AccessTransferWriteBit, vk.AccessShaderReadBit)
		}
		rec.BindComputePipeline(r.shader.Pipeline)
		rec.PushConstants(r.shader.Layout, reclaimPushConstants{Head: head, Span: span}.bytes())
		rec.Dispatch(workgroups, 1, 1)
		return nil
	}

	completion := func() {
		dispatch.done = true
		r.drainCompletedPrefix()
	}

	if _, err := r.sched.ImmediateSubmit(record, deps.WaitSet{}, completion); err != nil {
		r.pending = r.pending[:len(r.pending)-1]
		return err
	}

	r.wipHead = (r.wipHead + r.wipSpan) % r.cap.Size()
	r.wipSpan = 0
	r.wipValues = nil
	return nil
}

// drainCompletedPrefix releases dispatches back to the free-handle ring
// in submission order (tail-first), stopping at the first not-yet-done
// dispatch even if later ones already completed (spec §4C: "The
// completion callback copies handles back into the free-handle ring in
// tail-first order (completions may arrive out of order)").
func (r *reclaimRing) drainCompletedPrefix() {
	for len(r.pending) > 0 && r.pending[0].done {
		d := r.pending[0]
		r.pending = r.pending[1:]
		r.cap.ReleaseN(uint32(len(d.handles)))
		if r.onReclaimed != nil {
			r.onReclaimed(d.handles)
		}
	}
}

// Destroy releases the reclaim ring's staging buffer. Must only be
// called once every pending dispatch has completed.
func (r *reclaimRing) Destroy() {
	r.staged.Destroy(r.device)
}
