// Package memorypool implements Spinel's host allocator (spec §4C):
// selection between coherent host-visible, staged host->device, and
// device-local memory depending on what the device actually offers, plus
// the per-dispatch device arena suballocator spec §9 recommends in place
// of dynamic per-flush sub-allocation.
//
// Grounded on hal/vulkan/memory's GpuAllocator (pooled-vs-dedicated memory
// type selection) and BuddyAllocator (sub-range suballocation), adapted
// from a general-purpose Vulkan memory allocator into Spinel's narrower
// three-kind model.
package memorypool

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"

	"github.com/gogpu/spinel/gpu"
)

// Kind names the three memory roles spec §4C/§6 distinguish.
type Kind int

const (
	// KindHostCoherent is mapped, host-visible, host-coherent memory read
	// directly by the device — used when the device exposes a
	// HOST_COHERENT | DEVICE_LOCAL type (spec §6:
	// "has_host_coherent_device_local").
	KindHostCoherent Kind = iota
	// KindStaging is mapped, host-visible staging memory that must be
	// copied to a KindDeviceLocal buffer before device use.
	KindStaging
	// KindDeviceLocal is device-local memory with no host access.
	KindDeviceLocal
)

func (k Kind) String() string {
	switch k {
	case KindHostCoherent:
		return "host-coherent"
	case KindStaging:
		return "staging"
	case KindDeviceLocal:
		return "device-local"
	default:
		return "unknown"
	}
}

// Allocator selects memory-type flags per Kind and hands out gpu.Buffers,
// the way hal/vulkan/memory.GpuAllocator picks a pool or falls back to a
// dedicated allocation. Spinel has no pooled-suballocation-of-buffers
// concern below the buffer level (component C only suballocates *within*
// a device arena, via buddyAllocator) so Allocator's job is solely memory
// type selection plus the staging decision.
type Allocator struct {
	device *gpu.Device
	// noStaging forces the coherent-or-fail path even on devices with
	// HasHostCoherentDeviceLocal == false, per config.TargetConfig.NoStaging.
	noStaging bool
}

// NewAllocator constructs an Allocator bound to device.
func NewAllocator(device *gpu.Device, noStaging bool) *Allocator {
	return &Allocator{device: device, noStaging: noStaging}
}

// UsesStaging reports whether buffers requiring device-local + host
// write (rings, uniforms) need a staging buffer, per spec §6's
// has_host_coherent_device_local knob.
func (a *Allocator) UsesStaging() bool {
	return !a.device.HasHostCoherentDeviceLocal && !a.noStaging
}

// AllocateHostWritable allocates a buffer the host writes and the device
// reads. If the device exposes host-coherent device-local memory (or
// NoStaging is set), this returns a single such buffer; otherwise it
// returns a host-visible staging buffer and the caller is responsible for
// pairing it with a device-local buffer via AllocateDeviceLocal and a
// StagedBuffer.
func (a *Allocator) AllocateHostWritable(size uint64, usage vk.BufferUsageFlagBits) (*gpu.Buffer, Kind, error) {
	if !a.UsesStaging() {
		buf, err := gpu.CreateBuffer(a.device, size, usage,
			vk.MemoryPropertyFlagBits(vk.MemoryPropertyHostCoherentBit|vk.MemoryPropertyDeviceLocalBit))
		if err == nil {
			return buf, KindHostCoherent, nil
		}
		if a.noStaging {
			return nil, 0, fmt.Errorf("memorypool: no host-coherent device-local memory type and staging disabled: %w", err)
		}
		gpu.Logger().Debug("memorypool: host-coherent device-local allocation failed, falling back to staging", "size", size, "err", err)
	}
	buf, err := gpu.CreateBuffer(a.device, size, vk.BufferUsageFlagBits(uint32(usage)|uint32(vk.BufferUsageTransferSrcBit)),
		vk.MemoryPropertyFlagBits(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		return nil, 0, fmt.Errorf("memorypool: staging allocation failed: %w", err)
	}
	return buf, KindStaging, nil
}

// AllocateDeviceLocal allocates a device-local-only buffer — the
// destination side of a staged pair, or any buffer the host never
// touches (e.g. the ttrks/dispatch-record scratch extents).
func (a *Allocator) AllocateDeviceLocal(size uint64, usage vk.BufferUsageFlagBits) (*gpu.Buffer, error) {
	buf, err := gpu.CreateBuffer(a.device, size, vk.BufferUsageFlagBits(uint32(usage)|uint32(vk.BufferUsageTransferDstBit)),
		vk.MemoryPropertyFlagBits(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		return nil, fmt.Errorf("memorypool: device-local allocation failed: %w", err)
	}
	return buf, nil
}

// AllocateReadback allocates a buffer the device writes and the host
// reads back (the raster builder's per-dispatch TTRK-count copyback
// extent, spec §5).
func (a *Allocator) AllocateReadback(size uint64, usage vk.BufferUsageFlagBits) (*gpu.Buffer, error) {
	buf, err := gpu.CreateBuffer(a.device, size, vk.BufferUsageFlagBits(uint32(usage)|uint32(vk.BufferUsageTransferDstBit)),
		vk.MemoryPropertyFlagBits(vk.MemoryPropertyHostVisibleBit))
	if err != nil {
		return nil, fmt.Errorf("memorypool: readback allocation failed: %w", err)
	}
	return buf, nil
}

// Arena is a per-dispatch device-local extent suballocated with a buddy
// allocator, per spec §9's preferred strategy: "pre-size one arena per
// in-flight dispatch at builder creation... rather than dynamically
// sub-allocating per flush." One Arena backs one in-flight dispatch slot
// (config.TargetConfig.Dispatches of them exist per builder) and is
// Reset() as a whole each time that slot is acquired for a new dispatch,
// instead of freeing its sub-ranges individually.
type Arena struct {
	Buffer *gpu.Buffer
	buddy  *buddyAllocator
}

// Extent is a sub-range of an Arena's backing buffer.
type Extent struct {
	Offset uint64
	Size   uint64

	block buddyBlock
}

// NewArena allocates a device-local buffer of totalSize and prepares it
// for suballocation in minBlockSize-granular chunks (both must be powers
// of two). usage should be the union of every pipeline-buffer usage the
// arena will ever carve a sub-range for (scan scratch, TTRK keys,
// rasterization commands, ...).
func NewArena(a *Allocator, totalSize, minBlockSize uint64, usage vk.BufferUsageFlagBits) (*Arena, error) {
	buf, err := a.AllocateDeviceLocal(totalSize, usage)
	if err != nil {
		return nil, err
	}
	bd, err := newBuddyAllocator(totalSize, minBlockSize)
	if err != nil {
		return nil, fmt.Errorf("memorypool: arena suballocator: %w", err)
	}
	return &Arena{Buffer: buf, buddy: bd}, nil
}

// Alloc carves a sub-range of at least size bytes out of the arena.
func (ar *Arena) Alloc(size uint64) (Extent, error) {
	blk, err := ar.buddy.alloc(size)
	if err != nil {
		return Extent{}, err
	}
	return Extent{Offset: blk.Offset, Size: blk.Size, block: blk}, nil
}

// Free releases a previously allocated Extent back to the arena.
// Call sites that reset the whole arena per dispatch (the common case)
// don't need this; it exists for sub-ranges with a shorter lifetime than
// the dispatch itself.
func (ar *Arena) Free(e Extent) error {
	return ar.buddy.free(e.block)
}

// Reset discards all outstanding suballocations at once. The raster
// builder calls it when it acquires the arena's dispatch slot for a new
// dispatch, which happens only after the slot's previous dispatch has
// completed and been released.
func (ar *Arena) Reset() {
	bd, _ := newBuddyAllocator(ar.buddy.totalSize, ar.buddy.minBlockSize)
	ar.buddy = bd
}

// Destroy frees the arena's backing buffer.
func (ar *Arena) Destroy(d *gpu.Device) {
	ar.Buffer.Destroy(d)
}
