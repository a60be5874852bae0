// Package spinel is a GPU-resident 2D path rasterizer over a single
// Vulkan-shaped device contract.
//
// Spinel batches paths into a raster builder (package raster), which
// turns each cohort of rasters into one compute-pipeline submission:
// fill-command expansion, TTRK key generation and radix sort, segment
// detection, and per-raster allocation/prefix-sum. It depends on, but
// does not own, a device/queue/allocator — callers supply those through
// the package gpu, memorypool and deps collaborators.
//
// # Package layout
//
//	ring        mod-power-of-two ring/cursor accounting
//	weakref     epoch-stamped transform/clip index interning
//	memorypool  host/staged/device-local allocation, per-dispatch arenas
//	handle      path/raster handle pool with device refcounts and reclaim rings
//	deps        immediate and delayed GPU submission scheduling
//	raster      the builder: Begin/Add/End/Flush/Release
//	pathbuilder, compose, styling, render, blockpool, sort
//	            narrow collaborator contracts this module depends on but does not implement
//	config      TargetConfig, the device/pipeline tuning surface
//	spinelerr   error kinds
//	gpu         Vulkan device/queue/buffer primitives shared by the packages above
//
// # Lifecycle
//
// A raster.Builder is not safe for concurrent use: spec'd as a
// single-threaded cooperative model, the same way deps.Scheduler and
// handle.Pool are. Call Release before Destroy to ensure every
// in-flight dispatch has completed before its buffers are freed.
package spinel
