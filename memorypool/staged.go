package memorypool

import (
	vk "github.com/vulkan-go/vulkan"

	"github.com/gogpu/spinel/gpu"
)

// StagedBuffer pairs a host-mapped buffer with a device-local buffer of
// identical layout, emitting copy regions only when the two are actually
// distinct (spec §9: "StagedBuffer... emits 0 or 2 BufferCopy regions per
// ring at flush time depending on whether the device aliases host and
// device memory"). When the allocator decided KindHostCoherent for this
// buffer, Host and Device alias the same gpu.Buffer and Regions always
// returns nil: there is nothing to copy, only a barrier.
type StagedBuffer struct {
	Host   *gpu.Buffer
	Device *gpu.Buffer
	Kind   Kind

	elemSize uint64
	size     uint32 // element count of the ring this buffer backs
}

// NewStagedBuffer allocates a host-writable buffer of size*elemSize bytes
// via a, pairing it with a device-local twin only if the allocator had to
// fall back to staging.
func NewStagedBuffer(a *Allocator, size uint32, elemSize uint64, usage vk.BufferUsageFlagBits) (*StagedBuffer, error) {
	total := uint64(size) * elemSize
	host, kind, err := a.AllocateHostWritable(total, usage)
	if err != nil {
		return nil, err
	}
	if err := host.Map(a.device); err != nil {
		host.Destroy(a.device)
		return nil, err
	}

	sb := &StagedBuffer{Host: host, Kind: kind, elemSize: elemSize, size: size}
	if kind == KindHostCoherent {
		sb.Device = host
		return sb, nil
	}

	dev, err := a.AllocateDeviceLocal(total, usage)
	if err != nil {
		host.Unmap(a.device)
		host.Destroy(a.device)
		return nil, err
	}
	sb.Device = dev
	return sb, nil
}

// IsAliased reports whether Host and Device are the same buffer (the
// HasHostCoherentDeviceLocal fast path), in which case no copy is ever
// needed — only a host-write-visible-to-device barrier.
func (sb *StagedBuffer) IsAliased() bool {
	return sb.Kind == KindHostCoherent
}

// Regions returns up to two BufferCopy regions copying the circular span
// [head, head+span) of the ring from Host to Device, or nil if the
// buffer is aliased (spec §4G step 2). dstElemOffset is the element
// offset into Device the span should land at — normally 0 for a ring
// copied in full, but non-zero for the reclaim rings' into-scratch copy.
func (sb *StagedBuffer) Regions(head, span uint32, dstElemOffset uint64) []vk.BufferCopy {
	if sb.IsAliased() || span == 0 {
		return nil
	}
	return gpu.CopyRegions(head, span, sb.size, sb.elemSize, dstElemOffset*sb.elemSize)
}

// FlushHostWrites makes the host's writes to [head, head+span) visible to
// the device: a no-op when the device's non-coherent atom is at most 1,
// an explicit flush rounded outward to the non-coherent atom otherwise
// (spec §9's rounding-direction bug class). The decision depends only on
// the atom size, not on whether this buffer's memory is host-coherent; a
// span that wraps flushes the whole ring.
func (sb *StagedBuffer) FlushHostWrites(d *gpu.Device, head, span uint32) error {
	if span == 0 {
		return nil
	}
	start := uint64(head%sb.size) * sb.elemSize
	run := uint64(span) * sb.elemSize
	wrapped := uint64(head%sb.size) + uint64(span) > uint64(sb.size)
	if wrapped {
		start = 0
		run = uint64(sb.size) * sb.elemSize
	}
	if d.NonCoherentAtom <= 1 {
		return nil
	}
	return d.FlushMappedRange(sb.Host.Memory, start, run)
}

// Destroy destroys both the host and (if distinct) device buffers.
func (sb *StagedBuffer) Destroy(d *gpu.Device) {
	sb.Host.Unmap(d)
	sb.Host.Destroy(d)
	if sb.Device != sb.Host {
		sb.Device.Destroy(d)
	}
}
