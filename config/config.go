// Package config defines Spinel's TargetConfig (spec §6) — the
// device/pipeline-specific tuning surface the raster builder and handle
// pool are parameterized by. Loading a TargetConfig from a particular
// target's configuration file is explicitly out of scope (spec §1); this
// package only defines the struct, its defaults and validation, the way
// the teacher's hal/vulkan/memory.AllocatorConfig validates before use.
package config

import "fmt"

// GroupSize is the workgroup/subgroup shape for a single named compute
// pipeline (spec §6: "group_sizes.named.<pipeline>.{workgroup,
// subgroup_log2}").
type GroupSize struct {
	Workgroup    uint32
	SubgroupLog2 uint32
}

// Subgroup returns 2^SubgroupLog2.
func (g GroupSize) Subgroup() uint32 {
	return 1 << g.SubgroupLog2
}

// PipelineGroupSizes names the group sizes spec §4G's submission action
// needs to compute dispatch extents for each pipeline it invokes.
type PipelineGroupSizes struct {
	FillScan     GroupSize
	FillDispatch GroupSize
	FillExpand   GroupSize
	Rasterize    GroupSize
	RastersAlloc GroupSize
	RastersPrefix GroupSize
	TTRKSegment  GroupSize
}

// MemoryTypeRequest names a memory-type selection policy (spec §6:
// "allocator.device.{hw_dr,hrw_dr,drw,...}.{properties, usage}").
type MemoryTypeRequest struct {
	// Properties is a human-readable tag (e.g. "host-visible,
	// host-coherent, device-local") resolved against the device's actual
	// VkPhysicalDeviceMemoryProperties at allocation time.
	Properties string
	Usage      string
}

// TargetConfig enumerates every tunable named in spec §6.
type TargetConfig struct {
	// Ring is the cf ring size. Must be a power of two.
	Ring uint32

	// Cohort is the maximum number of rasters per flush.
	Cohort uint32

	// Eager is the command count at which End auto-flushes.
	Eager uint32

	// Dispatches is the maximum number of in-flight dispatches.
	Dispatches uint32

	// TTRKs is the conservative per-dispatch TTRK key capacity.
	TTRKs uint32

	// Cmds is the conservative per-dispatch rasterization-command
	// capacity.
	Cmds uint32

	// FillScanRows is the number of rows processed per workgroup by the
	// fill_scan pipeline.
	FillScanRows uint32

	GroupSizes PipelineGroupSizes

	AllocatorDevice map[string]MemoryTypeRequest

	// NoStaging disables host->device staging even when the device is
	// discrete without HOST_COHERENT DEVICE_LOCAL memory.
	NoStaging bool

	// MaxImmediateFanIn bounds how many other immediate semaphores a
	// single ImmediateSubmit may wait on (spec §4D: "bounded fan-in, ≈
	// 33"). Supplemented knob, defaults to 33.
	MaxImmediateFanIn uint32
}

// Default returns a TargetConfig with the same conservative shape as the
// end-to-end scenarios in spec §8 (ring=16, cohort=4, eager=2,
// dispatches=2) generalized to slightly larger production defaults.
func Default() TargetConfig {
	return TargetConfig{
		Ring:              1024,
		Cohort:            256,
		Eager:             512,
		Dispatches:        4,
		TTRKs:             1 << 20,
		Cmds:              1 << 16,
		FillScanRows:      4,
		MaxImmediateFanIn: 33,
		GroupSizes: PipelineGroupSizes{
			FillScan:      GroupSize{Workgroup: 256, SubgroupLog2: 5},
			FillDispatch:  GroupSize{Workgroup: 64, SubgroupLog2: 5},
			FillExpand:    GroupSize{Workgroup: 256, SubgroupLog2: 5},
			Rasterize:     GroupSize{Workgroup: 256, SubgroupLog2: 5},
			RastersAlloc:  GroupSize{Workgroup: 256, SubgroupLog2: 5},
			RastersPrefix: GroupSize{Workgroup: 256, SubgroupLog2: 5},
			TTRKSegment:   GroupSize{Workgroup: 256, SubgroupLog2: 5},
		},
	}
}

// isPow2 reports whether v is a non-zero power of two.
func isPow2(v uint32) bool { return v != 0 && v&(v-1) == 0 }

// nextPow2U64 returns the smallest power of two >= v (1 if v == 0).
func nextPow2U64(v uint64) uint64 {
	if v == 0 {
		return 1
	}
	p := uint64(1)
	for p < v {
		p <<= 1
	}
	return p
}

// Validate checks the invariants the raster builder and handle pool rely
// on: ring sizes must be powers of two, and the derived tc-ring size
// (rounded up from 3*ring+1, spec §3/§4G — see TCRingSize) must not
// overflow uint32.
func (c *TargetConfig) Validate() error {
	if !isPow2(c.Ring) {
		return fmt.Errorf("config: Ring must be a power of two, got %d", c.Ring)
	}
	if c.Cohort == 0 {
		return fmt.Errorf("config: Cohort must be > 0")
	}
	if c.Eager == 0 || c.Eager > c.Ring {
		return fmt.Errorf("config: Eager must be in (0, Ring], got %d (Ring=%d)", c.Eager, c.Ring)
	}
	if !isPow2(c.Dispatches) {
		return fmt.Errorf("config: Dispatches must be a power of two, got %d", c.Dispatches)
	}
	if tc := nextPow2U64(uint64(c.Ring)*3 + 1); tc > (1<<32 - 1) {
		return fmt.Errorf("config: TCRingSize() overflows uint32 (got %d)", tc)
	}
	if rc := c.Cohort * c.Dispatches; !isPow2(rc) {
		return fmt.Errorf("config: Cohort*Dispatches (rc ring size) must be a power of two, got %d", rc)
	}
	if c.MaxImmediateFanIn == 0 {
		return fmt.Errorf("config: MaxImmediateFanIn must be > 0")
	}
	return nil
}

// TCRingSize returns the tc ring size: the smallest power of two able to
// hold 3*Ring+1 slots, the capacity Next.Acquire2's wasted-slot behavior
// forces (spec §3). 3*Ring+1 is itself never a power of two for any
// valid (power-of-two) Ring — 3*2^k is even for k>=1 so 3*2^k+1 is odd,
// and no odd number greater than 1 is a power of two — but ring.Next
// (spec §3's own data model) requires a power-of-two extent, so the
// literal spec arithmetic is rounded up rather than relaxing ring.Next's
// masking to true modulo. Recorded as an Open Question resolution in
// DESIGN.md.
func (c *TargetConfig) TCRingSize() uint32 {
	return uint32(nextPow2U64(uint64(c.Ring)*3 + 1))
}

// RCRingSize returns the rc ring size (cohort * max_in_flight).
func (c *TargetConfig) RCRingSize() uint32 {
	return c.Cohort * c.Dispatches
}
