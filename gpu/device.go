// Package gpu wraps the thin slice of Vulkan (via github.com/vulkan-go/vulkan)
// that memorypool, handle, deps and raster need: device-memory allocation,
// mapped-buffer access with non-coherent-atom-aware flush/invalidate, and
// timeline-semaphore-based submission. It intentionally does not attempt to
// be a general-purpose HAL — device/queue/surface/swapchain plumbing is an
// explicit out-of-scope collaborator per spec §1/§6; Spinel only needs a
// device to allocate from and a queue to submit to.
package gpu

import (
	"fmt"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

// Device is the narrow device handle Spinel's components depend on. It is
// supplied by the embedding application (spec §6: "device/queue/memory
// allocator plumbing" is a collaborator, not something Spinel constructs).
type Device struct {
	Handle      vk.Device
	Physical    vk.PhysicalDevice
	Queue       vk.Queue
	QueueFamily uint32
	MemProps    vk.PhysicalDeviceMemoryProperties

	NonCoherentAtom            uint64 // VkPhysicalDeviceLimits.nonCoherentAtomSize
	HasHostCoherentDeviceLocal bool
}

// RoundOutToAtom rounds [offset, offset+size) outward to the non-coherent
// atom boundary, returning the new (offset, size). Spec §9 calls out this
// exact rounding-direction bug class by name: the reclaim-flush path must
// round the flushed range *outward*, never truncate it inward.
func RoundOutToAtom(offset, size, atom uint64) (roundedOffset, roundedSize uint64) {
	if atom <= 1 {
		return offset, size
	}
	end := offset + size
	roundedOffset = (offset / atom) * atom
	roundedEnd := ((end + atom - 1) / atom) * atom
	return roundedOffset, roundedEnd - roundedOffset
}

// MemoryTypeIndex finds a memory type index satisfying both the
// type-bits mask (from VkMemoryRequirements.memoryTypeBits) and the
// required property flags. Mirrors the teacher's
// hal/vulkan/memory.MemoryTypeSelector.
func (d *Device) MemoryTypeIndex(typeBits uint32, required vk.MemoryPropertyFlagBits) (uint32, bool) {
	for i := uint32(0); i < d.MemProps.MemoryTypeCount; i++ {
		if typeBits&(1<<i) == 0 {
			continue
		}
		flags := vk.MemoryPropertyFlagBits(d.MemProps.MemoryTypes[i].PropertyFlags)
		if flags&required == required {
			return i, true
		}
	}
	return 0, false
}

// AllocateMemory wraps vkAllocateMemory.
func (d *Device) AllocateMemory(size uint64, memTypeIndex uint32) (vk.DeviceMemory, error) {
	info := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  vk.DeviceSize(size),
		MemoryTypeIndex: memTypeIndex,
	}
	var mem vk.DeviceMemory
	if r := vk.AllocateMemory(d.Handle, &info, nil, &mem); r != vk.Success {
		return 0, fmt.Errorf("gpu: vkAllocateMemory failed: %d", r)
	}
	return mem, nil
}

// FreeMemory wraps vkFreeMemory.
func (d *Device) FreeMemory(mem vk.DeviceMemory) {
	vk.FreeMemory(d.Handle, mem, nil)
}

// MapMemory wraps vkMapMemory, returning a byte slice aliasing the mapped
// range. The caller must not retain the slice past Unmap.
func (d *Device) MapMemory(mem vk.DeviceMemory, offset, size uint64) ([]byte, error) {
	var ptr unsafe.Pointer
	if r := vk.MapMemory(d.Handle, mem, vk.DeviceSize(offset), vk.DeviceSize(size), 0, &ptr); r != vk.Success {
		return nil, fmt.Errorf("gpu: vkMapMemory failed: %d", r)
	}
	return unsafe.Slice((*byte)(ptr), int(size)), nil
}

// UnmapMemory wraps vkUnmapMemory.
func (d *Device) UnmapMemory(mem vk.DeviceMemory) {
	vk.UnmapMemory(d.Handle, mem)
}

// FlushMappedRange flushes [offset, offset+size) of mem to the device,
// rounded outward to the non-coherent atom boundary. No-op (and
// unnecessary) on HOST_COHERENT memory; callers should only invoke this
// when the allocation is known non-coherent.
func (d *Device) FlushMappedRange(mem vk.DeviceMemory, offset, size uint64) error {
	ro, rs := RoundOutToAtom(offset, size, d.NonCoherentAtom)
	rng := vk.MappedMemoryRange{
		SType:  vk.StructureTypeMappedMemoryRange,
		Memory: mem,
		Offset: vk.DeviceSize(ro),
		Size:   vk.DeviceSize(rs),
	}
	if r := vk.FlushMappedMemoryRanges(d.Handle, 1, &rng); r != vk.Success {
		return fmt.Errorf("gpu: vkFlushMappedMemoryRanges failed: %d", r)
	}
	return nil
}

// InvalidateMappedRange invalidates [offset, offset+size) of mem before a
// host read, rounded outward to the non-coherent atom boundary. Used for
// the copyback extent (spec §5: "host-read, device-written... invalidated
// on non-coherent devices before read").
func (d *Device) InvalidateMappedRange(mem vk.DeviceMemory, offset, size uint64) error {
	ro, rs := RoundOutToAtom(offset, size, d.NonCoherentAtom)
	rng := vk.MappedMemoryRange{
		SType:  vk.StructureTypeMappedMemoryRange,
		Memory: mem,
		Offset: vk.DeviceSize(ro),
		Size:   vk.DeviceSize(rs),
	}
	if r := vk.InvalidateMappedMemoryRanges(d.Handle, 1, &rng); r != vk.Success {
		return fmt.Errorf("gpu: vkInvalidateMappedMemoryRanges failed: %d", r)
	}
	return nil
}
