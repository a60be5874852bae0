// Package blockpool defines Spinel's block-pool collaborator contract
// (spec §6: "Block pool: provides device addresses {ids, blocks,
// host_map} and bp_mask. The raster builder writes only through the
// shaders it invokes."). Allocation of the pool itself is out of scope
// (spec §1: "device/queue/memory-allocator plumbing"); the raster
// builder only needs the addresses and mask to bind as shader inputs.
package blockpool

import vk "github.com/vulkan-go/vulkan"

// Pool is the narrow device-address surface the raster builder binds
// into its compute dispatches. Nothing in Spinel allocates or frees
// blocks directly — block (de)allocation happens inside the shaders
// themselves, which are out of scope.
type Pool interface {
	// IDs returns the device buffer holding block-id indirection.
	IDs() vk.Buffer
	// Blocks returns the device buffer holding the block storage itself.
	Blocks() vk.Buffer
	// HostMap returns the host-visible mapping buffer, when the pool
	// exposes one (may be the zero value if none is mapped).
	HostMap() vk.Buffer
	// Mask returns bp_mask: the block-pool's addressing mask, used by
	// shaders to compute block offsets from block-pool-relative indices.
	Mask() uint32
}
