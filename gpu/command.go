package gpu

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"
)

// Recorder wraps a single VkCommandBuffer being built by the raster
// builder's submission action (spec §4G). It is a thin sequencing helper,
// not a general command-buffer abstraction: every method maps to exactly
// one Vulkan call, named after the Vulkan call it wraps so the submission
// action reads like the spec's 20-step list.
type Recorder struct {
	CB vk.CommandBuffer
}

// Begin starts one-time-submit recording.
func (r Recorder) Begin() error {
	info := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := vk.BeginCommandBuffer(r.CB, &info); res != vk.Success {
		return fmt.Errorf("gpu: vkBeginCommandBuffer failed: %d", res)
	}
	return nil
}

// End finishes recording.
func (r Recorder) End() error {
	if res := vk.EndCommandBuffer(r.CB); res != vk.Success {
		return fmt.Errorf("gpu: vkEndCommandBuffer failed: %d", res)
	}
	return nil
}

// FillBuffer fills [offset, offset+size) of buf with the 32-bit word data
// (pass 0 to zero the range).
func (r Recorder) FillBuffer(buf vk.Buffer, offset, size uint64, data uint32) {
	vk.CmdFillBuffer(r.CB, buf, vk.DeviceSize(offset), vk.DeviceSize(size), data)
}

// CopyBuffer issues vkCmdCopyBuffer with the given regions.
func (r Recorder) CopyBuffer(src, dst vk.Buffer, regions []vk.BufferCopy) {
	if len(regions) == 0 {
		return
	}
	vk.CmdCopyBuffer(r.CB, src, dst, uint32(len(regions)), regions)
}

// PipelineBarrier issues a single global memory barrier between src and
// dst pipeline stages. The raster builder's submission action (spec §4G)
// uses only global barriers — fill/sort/segment phases all read the
// previous phase's entire output, so per-resource barriers would not
// narrow the dependency.
func (r Recorder) PipelineBarrier(src, dst vk.PipelineStageFlagBits, srcAccess, dstAccess vk.AccessFlagBits) {
	barrier := vk.MemoryBarrier{
		SType:         vk.StructureTypeMemoryBarrier,
		SrcAccessMask: vk.AccessFlags(srcAccess),
		DstAccessMask: vk.AccessFlags(dstAccess),
	}
	vk.CmdPipelineBarrier(r.CB,
		vk.PipelineStageFlags(src), vk.PipelineStageFlags(dst),
		0, 1, []vk.MemoryBarrier{barrier}, 0, nil, 0, nil)
}

// BindComputePipeline binds a compute pipeline by handle.
func (r Recorder) BindComputePipeline(pipeline vk.Pipeline) {
	vk.CmdBindPipeline(r.CB, vk.PipelineBindPointCompute, pipeline)
}

// PushConstants uploads push-constant bytes visible to compute stages.
func (r Recorder) PushConstants(layout vk.PipelineLayout, data []byte) {
	vk.CmdPushConstants(r.CB, layout, vk.ShaderStageFlags(vk.ShaderStageComputeBit), 0, uint32(len(data)), unsafePointer(&data[0]))
}

// Dispatch issues vkCmdDispatch with the given workgroup counts.
func (r Recorder) Dispatch(x, y, z uint32) {
	vk.CmdDispatch(r.CB, x, y, z)
}

// DispatchIndirect issues vkCmdDispatchIndirect reading the workgroup
// counts from buf at offset — used for every rasterize-per-primitive-type
// dispatch and the ttrks_segment dispatch (spec §4G steps 10, 16).
func (r Recorder) DispatchIndirect(buf vk.Buffer, offset uint64) {
	vk.CmdDispatchIndirect(r.CB, buf, vk.DeviceSize(offset))
}
