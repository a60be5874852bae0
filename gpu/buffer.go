package gpu

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"
)

// Buffer is a VkBuffer bound to a dedicated VkDeviceMemory allocation, with
// an optional persistent host mapping. Spinel never suballocates multiple
// logical buffers out of one VkBuffer below this layer — that's
// memorypool's job (component C); Buffer is the unit memorypool allocates.
type Buffer struct {
	Handle vk.Buffer
	Memory vk.DeviceMemory
	Size   uint64

	mapped []byte // non-nil if persistently mapped
}

// CreateBuffer creates a VkBuffer of the given size/usage and binds it to
// freshly allocated memory satisfying requiredProps.
func CreateBuffer(d *Device, size uint64, usage vk.BufferUsageFlagBits, requiredProps vk.MemoryPropertyFlagBits) (*Buffer, error) {
	info := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vk.BufferUsageFlags(usage),
		SharingMode: vk.SharingModeExclusive,
	}
	var handle vk.Buffer
	if r := vk.CreateBuffer(d.Handle, &info, nil, &handle); r != vk.Success {
		return nil, fmt.Errorf("gpu: vkCreateBuffer failed: %d", r)
	}

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.Handle, handle, &reqs)

	typeIndex, ok := d.MemoryTypeIndex(reqs.MemoryTypeBits, requiredProps)
	if !ok {
		vk.DestroyBuffer(d.Handle, handle, nil)
		return nil, fmt.Errorf("gpu: no memory type satisfies buffer requirements (bits=%#x, props=%#x)",
			reqs.MemoryTypeBits, requiredProps)
	}

	mem, err := d.AllocateMemory(uint64(reqs.Size), typeIndex)
	if err != nil {
		vk.DestroyBuffer(d.Handle, handle, nil)
		return nil, err
	}

	if r := vk.BindBufferMemory(d.Handle, handle, mem, 0); r != vk.Success {
		d.FreeMemory(mem)
		vk.DestroyBuffer(d.Handle, handle, nil)
		return nil, fmt.Errorf("gpu: vkBindBufferMemory failed: %d", r)
	}

	return &Buffer{Handle: handle, Memory: mem, Size: uint64(reqs.Size)}, nil
}

// Map persistently maps the buffer's full extent. Spinel's host-mapped
// rings stay mapped for the builder's entire lifetime (spec §5); there is
// no per-flush map/unmap cycle.
func (b *Buffer) Map(d *Device) error {
	if b.mapped != nil {
		return nil
	}
	data, err := d.MapMemory(b.Memory, 0, b.Size)
	if err != nil {
		return err
	}
	b.mapped = data
	return nil
}

// Bytes returns the mapped byte slice. Panics if the buffer is not mapped.
func (b *Buffer) Bytes() []byte {
	if b.mapped == nil {
		panic("gpu: buffer is not mapped")
	}
	return b.mapped
}

// Unmap releases the persistent mapping.
func (b *Buffer) Unmap(d *Device) {
	if b.mapped == nil {
		return
	}
	d.UnmapMemory(b.Memory)
	b.mapped = nil
}

// Destroy destroys the buffer and frees its memory. The buffer must be
// unmapped first if it was mapped.
func (b *Buffer) Destroy(d *Device) {
	if b.mapped != nil {
		b.Unmap(d)
	}
	vk.DestroyBuffer(d.Handle, b.Handle, nil)
	d.FreeMemory(b.Memory)
}

// CopyRegions builds up to two VkBufferCopy regions describing a circular
// span [head, head+span) of a size-element extent — one region for the
// contiguous run up to the wrap point, a second if the span wraps. Used by
// StagedBuffer (memorypool) and by the reclaim/rc/cf ring copy-in paths
// (spec §4G step 2: "using up to two BufferCopy regions per ring to handle
// wraparound").
func CopyRegions(head, span, size uint32, elemSize uint64, dstBase uint64) []vk.BufferCopy {
	if span == 0 {
		return nil
	}
	start := head % size
	first := size - start
	if first > span {
		first = span
	}
	regions := []vk.BufferCopy{{
		SrcOffset: vk.DeviceSize(uint64(start) * elemSize),
		DstOffset: vk.DeviceSize(dstBase),
		Size:      vk.DeviceSize(uint64(first) * elemSize),
	}}
	remaining := span - first
	if remaining > 0 {
		regions = append(regions, vk.BufferCopy{
			SrcOffset: 0,
			DstOffset: vk.DeviceSize(dstBase + uint64(first)*elemSize),
			Size:      vk.DeviceSize(uint64(remaining) * elemSize),
		})
	}
	return regions
}
