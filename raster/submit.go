package raster

import (
	"encoding/binary"

	vk "github.com/vulkan-go/vulkan"

	"github.com/gogpu/spinel/gpu"
)

// blockPoolPushConstants carries bp_mask to the rasterize shaders (spec
// §6: "Block pool: provides device addresses {ids, blocks, host_map}
// and bp_mask"). The three buffers themselves are bound once by the
// embedding application's descriptor-set layout, the same way the
// rasterize pipelines' descriptor sets are out-of-scope shader
// plumbing (spec §1) — only bp_mask is builder-known state that needs
// to reach the shader per dispatch.
type blockPoolPushConstants struct {
	Mask uint32
}

func (p blockPoolPushConstants) bytes() []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf[0:4], p.Mask)
	return buf
}

func ceilDiv(n, d uint32) uint32 {
	if d == 0 {
		return 0
	}
	return (n + d - 1) / d
}

// recordSubmission records the flush's single command buffer (spec §4G
// "Submission action"). It is the RecordFunc registered with the
// scheduler when the dispatch was acquired; the scheduler invokes it only
// when the dispatch is actually flushed.
func (b *Builder) recordSubmission(rec gpu.Recorder, d *dispatchRecord, dispatchIdx uint32) error {
	cfSpan := d.cfSpan
	tcSpan := b.tc.Head() - d.tcHead
	rcSpan := d.rcSpan
	arena := b.arenas[dispatchIdx]

	// Step 1: fill-zero the raster-cohort-meta tail of ttrks, its
	// count_dispatch field, and fill_scan's counts extent.
	rec.FillBuffer(arena.Buffer.Handle, d.extents.ttrks.Offset, d.extents.ttrks.Size, 0)
	rec.FillBuffer(arena.Buffer.Handle, d.extents.fillScanCounts.Offset, d.extents.fillScanCounts.Size, 0)

	// Step 2: stage the three rings' current spans, if this device needs
	// staging (spec §4G step 2; memorypool.StagedBuffer.Regions returns
	// nil when the device aliases host/device memory).
	rec.CopyBuffer(b.cfStaged.Host.Handle, b.cfStaged.Device.Handle, b.cfStaged.Regions(d.cfHead, cfSpan, 0))
	rec.CopyBuffer(b.tcStaged.Host.Handle, b.tcStaged.Device.Handle, b.tcStaged.Regions(d.tcHead, tcSpan, 0))
	rec.CopyBuffer(b.rcStaged.Host.Handle, b.rcStaged.Device.Handle, b.rcStaged.Regions(d.rcHead, rcSpan, 0))

	// Step 3: transfer -> compute barrier.
	rec.PipelineBarrier(vk.PipelineStageTransferBit, vk.PipelineStageComputeShaderBit,
		vk.AccessTransferWriteBit, vk.AccessShaderReadBit)

	// Step 4: fill_scan.
	rec.BindComputePipeline(b.pipelines.FillScan)
	fillScanWG := b.cfg.GroupSizes.FillScan.Workgroup * b.cfg.FillScanRows
	rec.Dispatch(ceilDiv(cfSpan, fillScanWG), 1, 1)

	// Step 5: compute -> compute barrier.
	computeBarrier(rec)

	// Step 6: fill_dispatch seeds the 8 indirect-dispatch triples.
	rec.BindComputePipeline(b.pipelines.FillDispatch)
	rec.Dispatch(1, 1, 1)

	// Step 7: compute -> compute barrier.
	computeBarrier(rec)

	// Step 8: fill_expand.
	rec.BindComputePipeline(b.pipelines.FillExpand)
	expandPer := b.cfg.GroupSizes.FillExpand.Workgroup / b.cfg.GroupSizes.FillExpand.Subgroup()
	rec.Dispatch(ceilDiv(cfSpan, expandPer), 1, 1)

	// Step 9: compute -> indirect|compute barrier.
	rec.PipelineBarrier(vk.PipelineStageComputeShaderBit, vk.PipelineStageDrawIndirectBit|vk.PipelineStageComputeShaderBit,
		vk.AccessShaderWriteBit, vk.AccessIndirectCommandReadBit|vk.AccessShaderReadBit)

	// Step 10: one indirect rasterize dispatch per primitive type. Each
	// push constant carries bp_mask so the shader can address into the
	// block pool's ids/blocks/host_map buffers (spec §6); those buffers
	// are bound once via the embedding application's descriptor sets,
	// not per-dispatch, since Spinel itself never reads or writes them.
	bpConstants := blockPoolPushConstants{Mask: b.blocks.Mask()}.bytes()
	for i, pipeline := range b.pipelines.Rasterize {
		rec.BindComputePipeline(pipeline)
		rec.PushConstants(b.pipelines.Layout, bpConstants)
		rec.DispatchIndirect(arena.Buffer.Handle, d.extents.fillScanCounts.Offset+uint64(i)*12)
	}

	// Step 11: compute -> indirect|compute barrier.
	rec.PipelineBarrier(vk.PipelineStageComputeShaderBit, vk.PipelineStageDrawIndirectBit|vk.PipelineStageComputeShaderBit,
		vk.AccessShaderWriteBit, vk.AccessIndirectCommandReadBit|vk.AccessShaderReadBit)

	// Step 12: indirect radix sort over the TTRK keyvals. The device-side
	// sort itself is an out-of-scope external library (spec §1, §6); this
	// only records the indirect-dispatch contract against the
	// precomputed memory-requirements triple.
	rec.DispatchIndirect(arena.Buffer.Handle, d.extents.ttrks.Offset)

	// Step 13: compute -> compute barrier.
	computeBarrier(rec)

	// Step 14: ttrks_segment_dispatch seeds the segmenter's indirect triple.
	rec.BindComputePipeline(b.pipelines.TTRKSegment)
	rec.Dispatch(1, 1, 1)

	// Step 15: compute -> indirect|compute barrier.
	rec.PipelineBarrier(vk.PipelineStageComputeShaderBit, vk.PipelineStageDrawIndirectBit|vk.PipelineStageComputeShaderBit,
		vk.AccessShaderWriteBit, vk.AccessIndirectCommandReadBit|vk.AccessShaderReadBit)

	// Step 16: ttrks_segment, indirect.
	rec.DispatchIndirect(arena.Buffer.Handle, d.extents.segmentIndirect.Offset)

	// Step 17: compute -> compute barrier.
	computeBarrier(rec)

	// Step 18: rasters_alloc.
	rec.BindComputePipeline(b.pipelines.RastersAlloc)
	rec.Dispatch(ceilDiv(rcSpan, b.cfg.GroupSizes.RastersAlloc.Workgroup), 1, 1)

	// Step 19: compute -> compute barrier.
	computeBarrier(rec)

	// Step 20: rasters_prefix.
	rec.BindComputePipeline(b.pipelines.RastersPrefix)
	prefixPer := b.cfg.GroupSizes.RastersPrefix.Workgroup / b.cfg.GroupSizes.RastersPrefix.Subgroup()
	rec.Dispatch(ceilDiv(rcSpan, prefixPer), 1, 1)

	// The TTRK-count copyback stays a transfer per the open-question
	// decision recorded in DESIGN.md; log the hot path rather than guess
	// at a compute-shader alternative.
	rec.PipelineBarrier(vk.PipelineStageComputeShaderBit, vk.PipelineStageTransferBit,
		vk.AccessShaderWriteBit, vk.AccessTransferReadBit)
	rec.CopyBuffer(arena.Buffer.Handle, b.copyback.Handle, []vk.BufferCopy{{
		SrcOffset: vk.DeviceSize(d.extents.ttrks.Offset),
		DstOffset: vk.DeviceSize(dispatchIdx) * 4,
		Size:      4,
	}})
	gpu.Logger().Debug("raster: ttrk count copyback recorded", "dispatch", dispatchIdx)

	return nil
}

func computeBarrier(rec gpu.Recorder) {
	rec.PipelineBarrier(vk.PipelineStageComputeShaderBit, vk.PipelineStageComputeShaderBit,
		vk.AccessShaderWriteBit, vk.AccessShaderReadBit)
}

// onDispatchComplete is the dispatch's completion callback (spec §4G
// "Completion callback"). It runs synchronously inside a drain_* call
// once the scheduler confirms this dispatch's timeline value has
// completed.
func (b *Builder) onDispatchComplete(d *dispatchRecord, dispatchIdx uint32) {
	b.sched.DelayedDetachRing(b.rasterRingU32, b.rc.Size(), d.rcHead, d.rcSpan)

	b.handles.ReleaseRing(b.pathRing, b.cf.Size(), d.cfHead, d.cfSpan)
	b.handles.ReleaseRing(b.rasterRing, b.rc.Size(), d.rcHead, d.rcSpan)

	d.state = dispatchComplete
	b.drainCompletedPrefix()
}

// drainCompletedPrefix walks the dispatch ring from its tail, releasing
// every consecutive Complete dispatch's cf span and one dispatch-ring
// slot, stopping at the first dispatch that is not yet Complete (spec
// §4G: "Out-of-order completion is handled by the tail walk; the cf
// ring's tail therefore always advances in submission order").
func (b *Builder) drainCompletedPrefix() {
	for b.dispatchRing.Size() != b.dispatchRing.Rem() {
		tailIdx := b.dispatchRing.Tail() & (b.dispatchRing.Size() - 1)
		d := &b.dispatches[tailIdx]
		if d.state != dispatchComplete {
			break
		}
		b.cf.ReleaseN(d.cfSpan)
		b.dispatchRing.ReleaseN(1)
		*d = dispatchRecord{}
	}
}
